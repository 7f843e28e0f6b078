package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/vango-go/vai-live/pkg/live/protocol"
	"github.com/vango-go/vai-live/pkg/live/session"
)

// controller is the orchestrator surface the console drives.
type controller interface {
	Start()
	Stop()
	Toggle()
	ToggleScreen()
	SetMuted(bool)
	SetGain(float64)
	SelectPersona(string)
	CyclePersona()
	SelectAgent(string)
	RefreshLocation()
	ClearLogs()
	Snapshot() session.Snapshot
}

const helpText = `commands:
  start | stop | toggle     open or close the live session
  screen                    toggle screen capture
  mute | unmute             microphone mute
  gain <0-2>                microphone gain
  theme [id]                select a persona, or cycle without an id
  agent <id>                task an agent by hand
  locate                    refresh the location fix
  status                    session and device status
  agents                    list agents
  transcript                recent transcript
  sources                   grounding sources for this session
  logs                      full system log
  clear                     clear the system log
  quit                      exit`

type console struct {
	mu          sync.Mutex
	out         io.Writer
	interactive bool
	ctl         controller
	seq         uint64
}

func newConsole(out io.Writer, interactive bool) *console {
	return &console{out: out, interactive: interactive}
}

// update prints log lines not yet shown. It runs on the orchestrator loop.
func (c *console) update(s session.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, line := range s.NewLogs(c.seq) {
		fmt.Fprintln(c.out, line)
	}
	c.seq = s.LogSeq
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// run reads commands until quit, EOF or ctx ends.
func (c *console) run(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		if c.interactive {
			c.printf("> ")
		}
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if c.exec(line) {
				return
			}
		}
	}
}

// exec runs one command line and reports whether the console should exit.
func (c *console) exec(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "start":
		c.ctl.Start()
	case "stop":
		c.ctl.Stop()
	case "toggle":
		c.ctl.Toggle()
	case "screen":
		c.ctl.ToggleScreen()
	case "mute":
		c.ctl.SetMuted(true)
	case "unmute":
		c.ctl.SetMuted(false)
	case "gain":
		if len(args) != 1 {
			c.printf("usage: gain <0-2>\n")
			return false
		}
		v, err := strconv.ParseFloat(args[0], 64)
		if err != nil || v < 0 || v > 2 {
			c.printf("usage: gain <0-2>\n")
			return false
		}
		c.ctl.SetGain(v)
	case "theme":
		if len(args) == 0 {
			c.ctl.CyclePersona()
		} else {
			c.ctl.SelectPersona(args[0])
		}
	case "agent":
		if len(args) != 1 {
			c.printf("usage: agent <id>\n")
			return false
		}
		c.ctl.SelectAgent(strings.ToLower(args[0]))
	case "locate":
		c.ctl.RefreshLocation()
	case "status":
		c.printStatus(c.ctl.Snapshot())
	case "agents":
		c.printAgents(c.ctl.Snapshot())
	case "transcript":
		c.printTranscript(c.ctl.Snapshot())
	case "sources":
		c.printSources(c.ctl.Snapshot())
	case "logs":
		snap := c.ctl.Snapshot()
		c.printf("%s\n", strings.Join(snap.Logs, "\n"))
	case "clear":
		c.ctl.ClearLogs()
	case "help", "?":
		c.printf("%s\n", helpText)
	case "quit", "exit":
		return true
	default:
		c.printf("unknown command %q (try help)\n", cmd)
	}
	return false
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func (c *console) printStatus(s session.Snapshot) {
	var b strings.Builder
	fmt.Fprintf(&b, "session: %s", s.Phase)
	if s.SessionID != "" {
		fmt.Fprintf(&b, " (%s)", s.SessionID)
	}
	fmt.Fprintf(&b, "\npersona: %s (%s, voice %s)\n", s.Persona.SystemName, s.Persona.Label, s.Persona.Voice)
	fmt.Fprintf(&b, "agent: %s  speaking: %s  muted: %s  gain: %.2f\n", s.ActiveAgent, yesNo(s.Speaking), yesNo(s.Muted), s.Gain)
	gps := string(s.GPS)
	if s.Location != nil {
		gps += " (" + s.Location.String() + ")"
	}
	optic := "offline"
	if s.ScreenSharing {
		optic = "streaming"
	}
	diag := "idle"
	if s.Diagnostics {
		diag = "running"
	}
	fmt.Fprintf(&b, "gps: %s  optic: %s  diagnostics: %s\n", gps, optic, diag)
	c.printf("%s", b.String())
}

func (c *console) printAgents(s session.Snapshot) {
	var b strings.Builder
	for _, a := range s.Agents {
		marker := " "
		if a.ID == s.ActiveAgent {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %s\n", marker, a.String())
	}
	c.printf("%s", b.String())
}

func (c *console) printTranscript(s session.Snapshot) {
	if len(s.Transcripts) == 0 {
		c.printf("(no transcript)\n")
		return
	}
	var b strings.Builder
	for _, t := range s.Transcripts {
		prefix := "##"
		if t.Role == protocol.RoleUser {
			prefix = ">>"
		}
		fmt.Fprintf(&b, "%s %s\n", prefix, t.Text)
	}
	c.printf("%s", b.String())
}

func (c *console) printSources(s session.Snapshot) {
	if len(s.Sources) == 0 {
		c.printf("(no sources)\n")
		return
	}
	var b strings.Builder
	for _, src := range s.Sources {
		title := src.Title
		if title == "" {
			title = src.URI
		}
		fmt.Fprintf(&b, "[%s] %s %s\n", src.Kind, title, src.URI)
	}
	c.printf("%s", b.String())
}

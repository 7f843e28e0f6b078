package tools

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vango-go/vai-live/pkg/live/agents"
	"github.com/vango-go/vai-live/pkg/live/clock"
	"github.com/vango-go/vai-live/pkg/live/persona"
	"github.com/vango-go/vai-live/pkg/live/protocol"
)

const (
	ResultFailed             = "Operation Failed"
	ResultFeedbackAccepted   = "Self-correction synchronized."
	DefaultDiagnosticsDelay  = 2 * time.Second
	DefaultDiagnosticsLinger = 3 * time.Second
)

// State is the session context a command may read and mutate. It is always
// accessed on the session loop.
type State interface {
	SetPersona(id string)
	Agents() *agents.Registry
	SetActiveAgent(id string)
	SetDiagnostics(running bool)
	LocationLocked() bool
	ScreenSharing() bool
	Log(line string)
}

// Outcome reports how a command finished, for metrics.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
)

type Dependencies struct {
	Clock  clock.Clock
	Post   func(func())
	Logger *slog.Logger

	// Observe is called once per invocation after its reply.
	Observe func(action string, outcome Outcome)
}

type Config struct {
	DiagnosticsDelay  time.Duration
	DiagnosticsLinger time.Duration
}

type Dispatcher struct {
	deps Dependencies
	cfg  Config
}

func NewDispatcher(deps Dependencies, cfg Config) *Dispatcher {
	if deps.Clock == nil {
		deps.Clock = clock.NewReal()
	}
	if deps.Post == nil {
		deps.Post = func(fn func()) { fn() }
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.DiagnosticsDelay <= 0 {
		cfg.DiagnosticsDelay = DefaultDiagnosticsDelay
	}
	if cfg.DiagnosticsLinger <= 0 {
		cfg.DiagnosticsLinger = DefaultDiagnosticsLinger
	}
	return &Dispatcher{deps: deps, cfg: cfg}
}

// Handle executes inv against st and calls reply exactly once with a response
// carrying inv's id. Diagnostics reply later, through Post.
func (d *Dispatcher) Handle(st State, inv protocol.ToolInvocation, reply func(protocol.ToolResponse)) {
	cmd := Parse(inv)
	respond := func(result string, outcome Outcome) {
		reply(protocol.ToolResponse{InvocationID: inv.ID, Name: inv.Name, Result: result})
		if d.deps.Observe != nil {
			d.deps.Observe(cmd.Action(), outcome)
		}
	}

	switch c := cmd.(type) {
	case SwitchTheme:
		p := persona.Resolve(c.Target)
		st.SetPersona(p.ID)
		st.Log("THEME: Recalibrated.")
		target := c.Target
		if target == "" {
			target = p.ID
		}
		respond(fmt.Sprintf("Success: Migrated to %s.", target), OutcomeOK)

	case ActivateAgent:
		if !st.Agents().Has(c.Target) {
			respond(fmt.Sprintf("Error: Agent %q unknown.", c.Target), OutcomeRejected)
			return
		}
		st.SetActiveAgent(c.Target)
		st.Agents().SetStatus(c.Target, agents.StatusWorking)
		st.Log(fmt.Sprintf("ROUTING: %s engaged.", strings.ToUpper(c.Target)))
		respond(fmt.Sprintf("Success: Agent %s engaged.", c.Target), OutcomeOK)

	case AgentFeedback:
		st.Agents().SetStatus(c.Target, agents.StatusReady)
		line := "FEEDBACK "
		if c.Status != "" {
			line += "[" + strings.ToUpper(c.Status) + "] "
		}
		line += "[" + strings.ToUpper(c.Target) + "]: " + c.Message
		st.Log(line)
		respond(ResultFeedbackAccepted, OutcomeOK)

	case RunDiagnostics:
		st.SetDiagnostics(true)
		st.Log("DIAGNOSTIC: Sensory sweep...")
		d.deps.Clock.AfterFunc(d.cfg.DiagnosticsDelay, func() {
			d.deps.Post(func() {
				respond(diagnosticsReport(st), OutcomeOK)
				st.Log("DIAGNOSTIC: Nominal.")
				d.deps.Clock.AfterFunc(d.cfg.DiagnosticsLinger, func() {
					d.deps.Post(func() { st.SetDiagnostics(false) })
				})
			})
		})

	case Malformed:
		d.deps.Logger.Debug("malformed tool invocation", "id", inv.ID, "action", c.Name, "reason", c.Reason)
		respond(ResultFailed, OutcomeFailed)

	default:
		d.deps.Logger.Debug("unknown tool invocation", "id", inv.ID, "function", inv.Name, "action", cmd.Action())
		respond(ResultFailed, OutcomeFailed)
	}
}

func diagnosticsReport(st State) string {
	gps := "Standby"
	if st.LocationLocked() {
		gps = "Locked"
	}
	optic := "Offline"
	if st.ScreenSharing() {
		optic = "Streaming"
	}
	return fmt.Sprintf("Status: Nominal. GPS: %s. Optic: %s.", gps, optic)
}

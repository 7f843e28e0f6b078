package session

import (
	"slices"
	"time"

	"github.com/vango-go/vai-live/pkg/live/agents"
	"github.com/vango-go/vai-live/pkg/live/location"
	"github.com/vango-go/vai-live/pkg/live/persona"
	"github.com/vango-go/vai-live/pkg/live/protocol"
)

const (
	DefaultMaxLogLines   = 50
	DefaultMaxTranscript = 50
)

// Phase is the lifecycle position of the (at most one) live session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseActive
	PhaseClosing
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseActive:
		return "active"
	case PhaseClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// State is the mutable application context. It is owned by the
// orchestrator loop and handed by pointer to the tool dispatcher; nothing
// else may touch it.
type State struct {
	now func() time.Time

	maxLogs        int
	maxTranscripts int

	phase       Phase
	sessionID   string
	persona     string
	agents      *agents.Registry
	activeAgent string
	diagnostics bool
	gps         location.GPSStatus
	location    *location.Location
	screen      bool
	speaking    bool
	muted       bool
	gain        float64
	transcripts []protocol.Transcript
	sources     []protocol.Source
	logs        []string
	logSeq      uint64
}

func newState(now func() time.Time, personaID string, gain float64, muted bool, maxLogs, maxTranscripts int) *State {
	return &State{
		now:            now,
		maxLogs:        maxLogs,
		maxTranscripts: maxTranscripts,
		persona:        persona.Resolve(personaID).ID,
		agents:         agents.NewRegistry(),
		activeAgent:    agents.Default,
		gps:            location.GPSStandby,
		gain:           gain,
		muted:          muted,
	}
}

func (s *State) SetPersona(id string) { s.persona = persona.Resolve(id).ID }

func (s *State) Agents() *agents.Registry { return s.agents }

func (s *State) SetActiveAgent(id string) { s.activeAgent = id }

func (s *State) SetDiagnostics(running bool) { s.diagnostics = running }

func (s *State) LocationLocked() bool { return s.location != nil }

func (s *State) ScreenSharing() bool { return s.screen }

// Log appends a timestamped line, evicting the oldest beyond the cap.
func (s *State) Log(line string) {
	s.logSeq++
	s.logs = appendCapped(s.logs, "["+s.now().Format(time.TimeOnly)+"] "+line, s.maxLogs)
}

func (s *State) clearLogs() {
	s.logs = s.logs[:0]
	s.Log("System log cache cleared.")
}

func (s *State) addTranscript(t protocol.Transcript) {
	s.transcripts = appendCapped(s.transcripts, t, s.maxTranscripts)
}

// addSources appends sources not already known by URI and reports whether
// any of the new ones came from maps grounding.
func (s *State) addSources(in []protocol.Source) (added int, maps bool) {
	for _, src := range in {
		if src.Kind == protocol.SourceMaps {
			maps = true
		}
		if slices.ContainsFunc(s.sources, func(have protocol.Source) bool { return have.URI == src.URI }) {
			continue
		}
		s.sources = append(s.sources, src)
		added++
	}
	return added, maps
}

func appendCapped[T any](list []T, v T, limit int) []T {
	list = append(list, v)
	if limit > 0 && len(list) > limit {
		list = slices.Delete(list, 0, len(list)-limit)
	}
	return list
}

// Snapshot is an immutable copy of State for readers outside the loop.
type Snapshot struct {
	Phase         Phase
	SessionID     string
	SessionActive bool
	Persona       persona.Persona
	Agents        []agents.Record
	ActiveAgent   string
	Diagnostics   bool
	GPS           location.GPSStatus
	Location      *location.Location
	ScreenSharing bool
	Speaking      bool
	Muted         bool
	Gain          float64
	Transcripts   []protocol.Transcript
	Sources       []protocol.Source
	Logs          []string
	// LogSeq counts every line ever logged, so a reader can tell which of
	// Logs it has not seen yet.
	LogSeq uint64
}

func (s *State) snapshot() *Snapshot {
	snap := &Snapshot{
		Phase:         s.phase,
		SessionID:     s.sessionID,
		SessionActive: s.phase == PhaseActive,
		Persona:       persona.Resolve(s.persona),
		Agents:        s.agents.List(),
		ActiveAgent:   s.activeAgent,
		Diagnostics:   s.diagnostics,
		GPS:           s.gps,
		ScreenSharing: s.screen,
		Speaking:      s.speaking,
		Muted:         s.muted,
		Gain:          s.gain,
		Transcripts:   slices.Clone(s.transcripts),
		Sources:       slices.Clone(s.sources),
		Logs:          slices.Clone(s.logs),
		LogSeq:        s.logSeq,
	}
	if s.location != nil {
		loc := *s.location
		snap.Location = &loc
	}
	return snap
}

// NewLogs returns the lines logged after seq, oldest first.
func (s Snapshot) NewLogs(seq uint64) []string {
	if seq >= s.LogSeq {
		return nil
	}
	n := min(int(s.LogSeq-seq), len(s.Logs))
	return s.Logs[len(s.Logs)-n:]
}

// Agent returns the record for id.
func (s Snapshot) Agent(id string) (agents.Record, bool) {
	for _, rec := range s.Agents {
		if rec.ID == id {
			return rec, true
		}
	}
	return agents.Record{}, false
}

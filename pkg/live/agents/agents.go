// Package agents is the fixed registry of local agent slots. Agents are
// bookkeeping for the console, not separate workers.
package agents

import "fmt"

type Status string

const (
	StatusIdle    Status = "idle"
	StatusWorking Status = "working"
	StatusReady   Status = "ready"
)

func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusWorking, StatusReady:
		return true
	default:
		return false
	}
}

const (
	Orchestrator = "orch"
	Vision       = "vision"
	Navigator    = "nav"
	WebReader    = "web"
	Coding       = "code"
	Research     = "research"
	Security     = "security"

	// Default is the agent selected when no other agent is tasked.
	Default = Orchestrator
)

type Record struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Status      Status `json:"status"`
}

func defaults() []Record {
	return []Record{
		{ID: Orchestrator, Name: "Orchestrator", Description: "Central Brain & Routing", Icon: "🧠", Status: StatusIdle},
		{ID: Vision, Name: "Vision Agent", Description: "Real-time Screen Processing", Icon: "👁️", Status: StatusIdle},
		{ID: Navigator, Name: "Navigator", Description: "Spatial & Mapping Data", Icon: "🗺️", Status: StatusIdle},
		{ID: WebReader, Name: "Web Reader", Description: "Real-time Info Extraction", Icon: "🌐", Status: StatusReady},
		{ID: Coding, Name: "Coding Agent", Description: "Logic & Automation", Icon: "💻", Status: StatusIdle},
		{ID: Research, Name: "Research Agent", Description: "Deep Analysis", Icon: "🔍", Status: StatusIdle},
		{ID: Security, Name: "Security Agent", Description: "Safety Protocols", Icon: "🛡️", Status: StatusReady},
	}
}

// Registry holds the agent records in display order. The set of ids is fixed
// at construction; only statuses change. Not safe for concurrent use.
type Registry struct {
	records []Record
	index   map[string]int
}

func NewRegistry() *Registry {
	return newRegistry(defaults())
}

func newRegistry(records []Record) *Registry {
	r := &Registry{records: records, index: make(map[string]int, len(records))}
	for i, rec := range records {
		r.index[rec.ID] = i
	}
	return r
}

func (r *Registry) Has(id string) bool {
	_, ok := r.index[id]
	return ok
}

func (r *Registry) Get(id string) (Record, bool) {
	i, ok := r.index[id]
	if !ok {
		return Record{}, false
	}
	return r.records[i], true
}

// SetStatus updates a known agent. Unknown ids are ignored and reported false.
func (r *Registry) SetStatus(id string, status Status) bool {
	i, ok := r.index[id]
	if !ok || !status.Valid() {
		return false
	}
	r.records[i].Status = status
	return true
}

// List returns a copy of all records in display order.
func (r *Registry) List() []Record {
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

func (r *Registry) Clone() *Registry {
	return newRegistry(r.List())
}

func (r *Registry) IDs() []string {
	ids := make([]string, len(r.records))
	for i, rec := range r.records {
		ids[i] = rec.ID
	}
	return ids
}

func (rec Record) String() string {
	return fmt.Sprintf("%s %-15s %-8s %s", rec.Icon, rec.Name, rec.Status, rec.Description)
}

// Package tools turns remote function calls into local commands and answers
// every call with exactly one correlated response.
package tools

import (
	"strings"

	"github.com/vango-go/vai-live/pkg/live/protocol"
)

// FunctionName is the single function advertised to the peer.
const FunctionName = "control_system"

const (
	ActionSwitchTheme    = "switch_theme"
	ActionActivateAgent  = "activate_agent"
	ActionAgentFeedback  = "agent_feedback"
	ActionRunDiagnostics = "run_diagnostics"
)

// Command is one parsed invocation. The concrete types below are the only
// implementations.
type Command interface {
	Action() string
}

type SwitchTheme struct {
	Target string
}

type ActivateAgent struct {
	Target string
}

type AgentFeedback struct {
	Target  string
	Status  string
	Message string
}

type RunDiagnostics struct{}

// Malformed is a recognised action missing a required field.
type Malformed struct {
	Name   string
	Reason string
}

// Unknown is an unrecognised action or function.
type Unknown struct {
	Function string
	Name     string
}

func (SwitchTheme) Action() string { return ActionSwitchTheme }
func (ActivateAgent) Action() string { return ActionActivateAgent }
func (AgentFeedback) Action() string { return ActionAgentFeedback }
func (RunDiagnostics) Action() string { return ActionRunDiagnostics }
func (m Malformed) Action() string { return m.Name }
func (u Unknown) Action() string {
	if u.Name == "" {
		return "unknown"
	}
	return u.Name
}

// Parse maps an invocation onto a Command. It never fails: anything it cannot
// interpret becomes Malformed or Unknown.
func Parse(inv protocol.ToolInvocation) Command {
	if inv.Name != FunctionName {
		return Unknown{Function: inv.Name, Name: inv.Action}
	}
	action := strings.ToLower(strings.TrimSpace(inv.Action))
	switch action {
	case ActionSwitchTheme:
		return SwitchTheme{Target: inv.Target}
	case ActionActivateAgent:
		return ActivateAgent{Target: inv.Target}
	case ActionAgentFeedback:
		if inv.Target == "" || inv.Message == "" {
			return Malformed{Name: action, Reason: "target and message are required"}
		}
		return AgentFeedback{Target: inv.Target, Status: inv.Status, Message: inv.Message}
	case ActionRunDiagnostics:
		return RunDiagnostics{}
	case "":
		return Malformed{Name: "", Reason: "action is required"}
	default:
		return Unknown{Function: inv.Name, Name: action}
	}
}

// ControlSystemSchema is the function declaration advertised at setup.
func ControlSystemSchema() protocol.FunctionSpec {
	return protocol.FunctionSpec{
		Name:        FunctionName,
		Description: "Execute high-level system commands to modify the interface, manage sub-agents, or perform deep hardware diagnostics.",
		Parameters: map[string]protocol.ParamSpec{
			"action":  {Description: `The operational command: "switch_theme", "activate_agent", "run_diagnostics", "agent_feedback"`},
			"target":  {Description: `Target parameter. For "switch_theme": "jarvis", "friday", "ultron". For agents: "nav", "web", "info_reader", "code", "vision", etc.`},
			"status":  {Description: `Status of the task for "agent_feedback": "success", "failure", "warning".`},
			"message": {Description: "Detailed execution report, error message, or result data for self-correction and performance optimization."},
		},
		Required: []string{"action"},
	}
}

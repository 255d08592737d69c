package state

import "encoding/json"

// SideEffect classifies whether invoking a tool can mutate the store.
type SideEffect string

const (
	SideEffectRead  SideEffect = "read"
	SideEffectWrite SideEffect = "write"
)

// ToolDescriptor is the typed, registered shape of a tool. Agents reference
// tools by name only; cross-agent exposure is declared here as data, not
// code.
type ToolDescriptor struct {
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	ParameterSchema json.RawMessage `json:"parameter_schema"`
	SideEffect      SideEffect      `json:"side_effects"`
	OwningAgents    []AgentName     `json:"owning_agents"`
	Idempotent      bool            `json:"idempotent"`
}

// OwnedBy reports whether the given agent may invoke this tool.
func (d ToolDescriptor) OwnedBy(agent AgentName) bool {
	for _, a := range d.OwningAgents {
		if a == agent {
			return true
		}
	}
	return false
}

// ToolResultKind enumerates the failure kinds a tool invocation can report
// without raising an error (see ToolError in pkg/state/errors.go).
type ToolResultKind string

const (
	ToolResultInvalidArgument ToolResultKind = "InvalidArgument"
	ToolResultInternal        ToolResultKind = "Internal"
	ToolResultDeadlineExceeded ToolResultKind = "DeadlineExceeded"
	ToolResultUnavailable     ToolResultKind = "Unavailable"
)

// ToolResult is the outcome of one tool invocation as seen by the agent
// loop: either a JSON value on success, or a structured, non-fatal error
// that is passed back to the LLM as a tool message rather than raised.
type ToolResult struct {
	OK    bool            `json:"ok"`
	Value json.RawMessage `json:"value,omitempty"`
	Error *ToolResultError `json:"error,omitempty"`
}

// ToolResultError is the {kind, message} pair carried by a failed ToolResult.
type ToolResultError struct {
	Kind    ToolResultKind `json:"kind"`
	Message string         `json:"message"`
}

// Failure builds a {ok:false} ToolResult.
func Failure(kind ToolResultKind, message string) ToolResult {
	return ToolResult{OK: false, Error: &ToolResultError{Kind: kind, Message: message}}
}

// Success builds a {ok:true} ToolResult from any JSON-marshalable value.
func Success(value any) ToolResult {
	data, err := json.Marshal(value)
	if err != nil {
		return Failure(ToolResultInternal, "failed to marshal tool result: "+err.Error())
	}
	return ToolResult{OK: true, Value: data}
}

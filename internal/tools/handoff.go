package tools

import (
	"context"
	"encoding/json"

	"github.com/kestrel-labs/assistant-orchestrator/internal/toolregistry"
	"github.com/kestrel-labs/assistant-orchestrator/pkg/state"
)

const RequestHandoffSchema = `{
	"type": "object",
	"properties": {
		"target_agent": {"type": "string"},
		"reason": {"type": "string"}
	},
	"required": ["target_agent"]
}`

type requestHandoffArgs struct {
	TargetAgent string `json:"target_agent"`
	Reason      string `json:"reason"`
}

// RequestHandoff registers the request_handoff handler, the explicit-path
// tool every agent may call to hand off to another agent. The handler
// itself does nothing but validate; the agent loop inspects this tool's
// name and arguments directly to set the handoff decision.
func RequestHandoff(registered func(state.AgentName) bool) toolregistry.Handler {
	return func(ctx context.Context, arguments json.RawMessage) (state.ToolResult, error) {
		var args requestHandoffArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return state.Failure(state.ToolResultInvalidArgument, "malformed arguments: "+err.Error()), nil
		}
		if args.TargetAgent == "" || !registered(state.AgentName(args.TargetAgent)) {
			return state.Failure(state.ToolResultInvalidArgument, "unknown target agent: "+args.TargetAgent), nil
		}
		return state.Success(map[string]string{"status": "handoff requested", "target_agent": args.TargetAgent}), nil
	}
}

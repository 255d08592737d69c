package graph

import "github.com/kestrel-labs/assistant-orchestrator/pkg/state"

// Prune bounds the working message window: if the message log exceeds max,
// retain index 0 (the anchoring system/context message, if present) plus the
// last max-1 messages, extending the window backward whenever the boundary
// would split an assistant-with-tool-calls message from its tool result
// messages.
func Prune(messages []state.Message, max int) []state.Message {
	if max <= 0 || len(messages) <= max {
		return messages
	}

	start := len(messages) - (max - 1)
	if start < 1 {
		start = 1
	}
	for start > 1 && messages[start].Role == state.RoleTool {
		start--
	}

	pruned := make([]state.Message, 0, 1+len(messages)-start)
	pruned = append(pruned, messages[0])
	pruned = append(pruned, messages[start:]...)
	return pruned
}

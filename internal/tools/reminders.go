package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/kestrel-labs/assistant-orchestrator/internal/store"
	"github.com/kestrel-labs/assistant-orchestrator/internal/toolregistry"
	"github.com/kestrel-labs/assistant-orchestrator/pkg/state"
)

const CreateReminderSchema = `{
	"type": "object",
	"properties": {
		"content": {"type": "string"},
		"fire_at": {"type": "string"}
	},
	"required": ["content", "fire_at"]
}`

type createReminderArgs struct {
	Content string `json:"content"`
	FireAt  string `json:"fire_at"`
}

// CreateReminder registers the create_reminder handler.
func CreateReminder(s *store.Store) toolregistry.Handler {
	return func(ctx context.Context, arguments json.RawMessage) (state.ToolResult, error) {
		var args createReminderArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return state.Failure(state.ToolResultInvalidArgument, "malformed arguments: "+err.Error()), nil
		}
		ic, ok := toolregistry.InvocationContextFrom(ctx)
		if !ok {
			return state.Failure(state.ToolResultInternal, "missing invocation context"), nil
		}

		fireAt, err := time.Parse(time.RFC3339, args.FireAt)
		if err != nil {
			return state.Failure(state.ToolResultInvalidArgument, "invalid fire_at: "+err.Error()), nil
		}

		reminder := &store.Reminder{
			ID:        uuid.NewString(),
			UserID:    ic.UserID,
			Workspace: ic.Workspace,
			Content:   args.Content,
			FireAt:    fireAt,
			Salience:  1.0,
			CreatedAt: time.Now(),
		}
		if err := s.CreateReminder(ctx, reminder); err != nil {
			return state.Failure(state.ToolResultUnavailable, err.Error()), nil
		}
		return state.Success(map[string]string{"id": reminder.ID, "status": "created"}), nil
	}
}

const SearchMemorySchema = `{
	"type": "object",
	"properties": {
		"limit": {"type": "integer"}
	}
}`

type searchMemoryArgs struct {
	Limit int `json:"limit"`
}

// SearchMemory registers the search_memory handler. Each returned row has
// its access_count incremented by the store as part of the query.
func SearchMemory(s *store.Store) toolregistry.Handler {
	return func(ctx context.Context, arguments json.RawMessage) (state.ToolResult, error) {
		var args searchMemoryArgs
		if len(arguments) > 0 {
			if err := json.Unmarshal(arguments, &args); err != nil {
				return state.Failure(state.ToolResultInvalidArgument, "malformed arguments: "+err.Error()), nil
			}
		}
		ic, ok := toolregistry.InvocationContextFrom(ctx)
		if !ok {
			return state.Failure(state.ToolResultInternal, "missing invocation context"), nil
		}

		reminders, err := s.SearchMemory(ctx, ic.UserID, ic.Workspace, store.SearchMemoryOptions{Limit: args.Limit})
		if err != nil {
			return state.Failure(state.ToolResultUnavailable, err.Error()), nil
		}
		return state.Success(reminders), nil
	}
}

package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/kestrel-labs/assistant-orchestrator/internal/store"
	"github.com/kestrel-labs/assistant-orchestrator/internal/toolregistry"
	"github.com/kestrel-labs/assistant-orchestrator/pkg/state"
)

const CreateTaskSchema = `{
	"type": "object",
	"properties": {
		"title": {"type": "string"},
		"notes": {"type": "string"},
		"due_at": {"type": "string"},
		"priority": {"type": "integer"},
		"recurrence": {"type": "string"}
	},
	"required": ["title"]
}`

type createTaskArgs struct {
	Title      string `json:"title"`
	Notes      string `json:"notes"`
	DueAt      string `json:"due_at"`
	Priority   int    `json:"priority"`
	Recurrence string `json:"recurrence"`
}

// CreateTask registers the create_task handler.
func CreateTask(s *store.Store) toolregistry.Handler {
	return func(ctx context.Context, arguments json.RawMessage) (state.ToolResult, error) {
		var args createTaskArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return state.Failure(state.ToolResultInvalidArgument, "malformed arguments: "+err.Error()), nil
		}
		ic, ok := toolregistry.InvocationContextFrom(ctx)
		if !ok {
			return state.Failure(state.ToolResultInternal, "missing invocation context"), nil
		}

		if args.Recurrence != "" {
			if _, err := store.ParseRecurrence(args.Recurrence); err != nil {
				return state.Failure(state.ToolResultInvalidArgument, "invalid recurrence: "+err.Error()), nil
			}
		}

		var dueAt sql.NullTime
		if args.DueAt != "" {
			parsed, err := time.Parse(time.RFC3339, args.DueAt)
			if err != nil {
				return state.Failure(state.ToolResultInvalidArgument, "invalid due_at: "+err.Error()), nil
			}
			dueAt = sql.NullTime{Time: parsed, Valid: true}
		}

		now := time.Now()
		task := &store.Task{
			ID:         uuid.NewString(),
			UserID:     ic.UserID,
			Workspace:  ic.Workspace,
			Title:      args.Title,
			Notes:      args.Notes,
			DueAt:      dueAt,
			Priority:   args.Priority,
			Recurrence: args.Recurrence,
			Status:     store.TaskStatusOpen,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.CreateTask(ctx, task); err != nil {
			return state.Failure(state.ToolResultUnavailable, err.Error()), nil
		}
		return state.Success(map[string]string{"id": task.ID, "status": "created"}), nil
	}
}

const SearchTasksSchema = `{
	"type": "object",
	"properties": {
		"status": {"type": "string"},
		"limit": {"type": "integer"}
	}
}`

type searchTasksArgs struct {
	Status string `json:"status"`
	Limit  int    `json:"limit"`
}

// SearchTasks registers the search_tasks handler.
func SearchTasks(s *store.Store) toolregistry.Handler {
	return func(ctx context.Context, arguments json.RawMessage) (state.ToolResult, error) {
		var args searchTasksArgs
		if len(arguments) > 0 {
			if err := json.Unmarshal(arguments, &args); err != nil {
				return state.Failure(state.ToolResultInvalidArgument, "malformed arguments: "+err.Error()), nil
			}
		}
		ic, ok := toolregistry.InvocationContextFrom(ctx)
		if !ok {
			return state.Failure(state.ToolResultInternal, "missing invocation context"), nil
		}

		tasks, err := s.SearchTasks(ctx, ic.UserID, ic.Workspace, store.SearchTasksOptions{
			Status: store.TaskStatus(args.Status),
			Limit:  args.Limit,
		})
		if err != nil {
			return state.Failure(state.ToolResultUnavailable, err.Error()), nil
		}
		return state.Success(tasks), nil
	}
}

const CompleteTaskSchema = `{
	"type": "object",
	"properties": {"id": {"type": "string"}},
	"required": ["id"]
}`

type completeTaskArgs struct {
	ID string `json:"id"`
}

// CompleteTask registers the complete_task handler.
func CompleteTask(s *store.Store) toolregistry.Handler {
	return func(ctx context.Context, arguments json.RawMessage) (state.ToolResult, error) {
		var args completeTaskArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return state.Failure(state.ToolResultInvalidArgument, "malformed arguments: "+err.Error()), nil
		}
		ic, ok := toolregistry.InvocationContextFrom(ctx)
		if !ok {
			return state.Failure(state.ToolResultInternal, "missing invocation context"), nil
		}

		completed, err := s.CompleteTask(ctx, ic.UserID, ic.Workspace, args.ID, time.Now())
		if err != nil {
			return state.Failure(state.ToolResultUnavailable, err.Error()), nil
		}
		if !completed {
			return state.Failure(state.ToolResultInvalidArgument, "no matching task"), nil
		}
		return state.Success(map[string]string{"status": "completed"}), nil
	}
}

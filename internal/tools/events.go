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

const CreateEventSchema = `{
	"type": "object",
	"properties": {
		"title": {"type": "string"},
		"starts_at": {"type": "string"},
		"ends_at": {"type": "string"},
		"recurrence": {"type": "string"}
	},
	"required": ["title", "starts_at", "ends_at"]
}`

type createEventArgs struct {
	Title      string `json:"title"`
	StartsAt   string `json:"starts_at"`
	EndsAt     string `json:"ends_at"`
	Recurrence string `json:"recurrence"`
}

// CreateEvent registers the create_event handler.
func CreateEvent(s *store.Store) toolregistry.Handler {
	return func(ctx context.Context, arguments json.RawMessage) (state.ToolResult, error) {
		var args createEventArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return state.Failure(state.ToolResultInvalidArgument, "malformed arguments: "+err.Error()), nil
		}
		ic, ok := toolregistry.InvocationContextFrom(ctx)
		if !ok {
			return state.Failure(state.ToolResultInternal, "missing invocation context"), nil
		}

		startsAt, err := time.Parse(time.RFC3339, args.StartsAt)
		if err != nil {
			return state.Failure(state.ToolResultInvalidArgument, "invalid starts_at: "+err.Error()), nil
		}
		endsAt, err := time.Parse(time.RFC3339, args.EndsAt)
		if err != nil {
			return state.Failure(state.ToolResultInvalidArgument, "invalid ends_at: "+err.Error()), nil
		}
		if !endsAt.After(startsAt) {
			return state.Failure(state.ToolResultInvalidArgument, "ends_at must be after starts_at"), nil
		}
		if args.Recurrence != "" {
			if _, err := store.ParseRecurrence(args.Recurrence); err != nil {
				return state.Failure(state.ToolResultInvalidArgument, "invalid recurrence: "+err.Error()), nil
			}
		}

		event := &store.Event{
			ID:         uuid.NewString(),
			UserID:     ic.UserID,
			Workspace:  ic.Workspace,
			Title:      args.Title,
			StartsAt:   startsAt,
			EndsAt:     endsAt,
			Recurrence: args.Recurrence,
			CreatedAt:  time.Now(),
		}
		if err := s.CreateEvent(ctx, event); err != nil {
			return state.Failure(state.ToolResultUnavailable, err.Error()), nil
		}
		return state.Success(map[string]string{"id": event.ID, "status": "created"}), nil
	}
}

const SearchEventsSchema = `{
	"type": "object",
	"properties": {
		"from": {"type": "string"},
		"to": {"type": "string"},
		"limit": {"type": "integer"}
	}
}`

type searchEventsArgs struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Limit int    `json:"limit"`
}

// SearchEvents registers the search_events handler.
func SearchEvents(s *store.Store) toolregistry.Handler {
	return func(ctx context.Context, arguments json.RawMessage) (state.ToolResult, error) {
		var args searchEventsArgs
		if len(arguments) > 0 {
			if err := json.Unmarshal(arguments, &args); err != nil {
				return state.Failure(state.ToolResultInvalidArgument, "malformed arguments: "+err.Error()), nil
			}
		}
		ic, ok := toolregistry.InvocationContextFrom(ctx)
		if !ok {
			return state.Failure(state.ToolResultInternal, "missing invocation context"), nil
		}

		opts := store.SearchEventsOptions{Limit: args.Limit}
		if args.From != "" {
			from, err := time.Parse(time.RFC3339, args.From)
			if err != nil {
				return state.Failure(state.ToolResultInvalidArgument, "invalid from: "+err.Error()), nil
			}
			opts.From = from
		}
		if args.To != "" {
			to, err := time.Parse(time.RFC3339, args.To)
			if err != nil {
				return state.Failure(state.ToolResultInvalidArgument, "invalid to: "+err.Error()), nil
			}
			opts.To = to
		}

		events, err := s.SearchEvents(ctx, ic.UserID, ic.Workspace, opts)
		if err != nil {
			return state.Failure(state.ToolResultUnavailable, err.Error()), nil
		}
		return state.Success(events), nil
	}
}

const CancelEventSchema = `{
	"type": "object",
	"properties": {"id": {"type": "string"}},
	"required": ["id"]
}`

type cancelEventArgs struct {
	ID string `json:"id"`
}

// CancelEvent registers the cancel_event handler.
func CancelEvent(s *store.Store) toolregistry.Handler {
	return func(ctx context.Context, arguments json.RawMessage) (state.ToolResult, error) {
		var args cancelEventArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return state.Failure(state.ToolResultInvalidArgument, "malformed arguments: "+err.Error()), nil
		}
		ic, ok := toolregistry.InvocationContextFrom(ctx)
		if !ok {
			return state.Failure(state.ToolResultInternal, "missing invocation context"), nil
		}

		cancelled, err := s.CancelEvent(ctx, ic.UserID, ic.Workspace, args.ID)
		if err != nil {
			return state.Failure(state.ToolResultUnavailable, err.Error()), nil
		}
		if !cancelled {
			return state.Failure(state.ToolResultInvalidArgument, "no matching event"), nil
		}
		return state.Success(map[string]string{"status": "cancelled"}), nil
	}
}

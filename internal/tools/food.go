// Package tools implements the concrete tool handlers against internal/store,
// each satisfying the toolregistry.Handler contract: a thin closure over a
// store that validates its own typed arguments and returns a
// state.ToolResult rather than a raw error for any domain-level failure.
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

const LogFoodSchema = `{
	"type": "object",
	"properties": {
		"description": {"type": "string"},
		"meal": {"type": "string"}
	},
	"required": ["description"]
}`

type logFoodArgs struct {
	Description string `json:"description"`
	Meal        string `json:"meal"`
}

// LogFood registers the log_food handler.
func LogFood(s *store.Store) toolregistry.Handler {
	return func(ctx context.Context, arguments json.RawMessage) (state.ToolResult, error) {
		var args logFoodArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return state.Failure(state.ToolResultInvalidArgument, "malformed arguments: "+err.Error()), nil
		}
		ic, ok := toolregistry.InvocationContextFrom(ctx)
		if !ok {
			return state.Failure(state.ToolResultInternal, "missing invocation context"), nil
		}

		now := time.Now()
		entry := &store.FoodEntry{
			ID:          uuid.NewString(),
			UserID:      ic.UserID,
			Workspace:   ic.Workspace,
			Description: args.Description,
			Meal:        args.Meal,
			LoggedAt:    now,
			CreatedAt:   now,
		}
		if err := s.LogFood(ctx, entry); err != nil {
			return state.Failure(state.ToolResultUnavailable, err.Error()), nil
		}
		return state.Success(map[string]string{"id": entry.ID, "status": "logged"}), nil
	}
}

const SearchFoodLogSchema = `{
	"type": "object",
	"properties": {
		"meal": {"type": "string"},
		"limit": {"type": "integer"}
	}
}`

type searchFoodLogArgs struct {
	Meal  string `json:"meal"`
	Limit int    `json:"limit"`
}

// SearchFoodLog registers the search_food_log handler.
func SearchFoodLog(s *store.Store) toolregistry.Handler {
	return func(ctx context.Context, arguments json.RawMessage) (state.ToolResult, error) {
		var args searchFoodLogArgs
		if len(arguments) > 0 {
			if err := json.Unmarshal(arguments, &args); err != nil {
				return state.Failure(state.ToolResultInvalidArgument, "malformed arguments: "+err.Error()), nil
			}
		}
		ic, ok := toolregistry.InvocationContextFrom(ctx)
		if !ok {
			return state.Failure(state.ToolResultInternal, "missing invocation context"), nil
		}

		entries, err := s.SearchFoodLog(ctx, ic.UserID, ic.Workspace, store.SearchFoodLogOptions{Meal: args.Meal, Limit: args.Limit})
		if err != nil {
			return state.Failure(state.ToolResultUnavailable, err.Error()), nil
		}
		return state.Success(entries), nil
	}
}

const DeleteFoodEntrySchema = `{
	"type": "object",
	"properties": {"id": {"type": "string"}},
	"required": ["id"]
}`

type deleteFoodEntryArgs struct {
	ID string `json:"id"`
}

// DeleteFoodEntry registers the delete_food_entry handler.
func DeleteFoodEntry(s *store.Store) toolregistry.Handler {
	return func(ctx context.Context, arguments json.RawMessage) (state.ToolResult, error) {
		var args deleteFoodEntryArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return state.Failure(state.ToolResultInvalidArgument, "malformed arguments: "+err.Error()), nil
		}
		ic, ok := toolregistry.InvocationContextFrom(ctx)
		if !ok {
			return state.Failure(state.ToolResultInternal, "missing invocation context"), nil
		}

		deleted, err := s.DeleteFoodEntry(ctx, ic.UserID, ic.Workspace, args.ID)
		if err != nil {
			return state.Failure(state.ToolResultUnavailable, err.Error()), nil
		}
		if !deleted {
			return state.Failure(state.ToolResultInvalidArgument, "no matching food entry"), nil
		}
		return state.Success(map[string]string{"status": "deleted"}), nil
	}
}

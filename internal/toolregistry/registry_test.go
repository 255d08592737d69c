package toolregistry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/kestrel-labs/assistant-orchestrator/pkg/state"
)

const logFoodSchema = `{
	"type": "object",
	"properties": {"item": {"type": "string"}},
	"required": ["item"]
}`

func TestRegisterAndInvoke_Success(t *testing.T) {
	r := New()
	err := r.Register(state.ToolDescriptor{
		Name:         "log_food",
		ParameterSchema: json.RawMessage(logFoodSchema),
		SideEffect:   state.SideEffectWrite,
		OwningAgents: []state.AgentName{"food"},
	}, func(ctx context.Context, args json.RawMessage) (state.ToolResult, error) {
		return state.Success(map[string]string{"status": "logged"}), nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	result := r.Invoke(context.Background(), "log_food", json.RawMessage(`{"item":"oatmeal"}`))
	if !result.OK {
		t.Fatalf("expected ok result, got error: %+v", result.Error)
	}
}

func TestInvoke_InvalidArgumentsRejectedBeforeHandler(t *testing.T) {
	r := New()
	handlerCalled := false
	r.Register(state.ToolDescriptor{
		Name:            "log_food",
		ParameterSchema: json.RawMessage(logFoodSchema),
		OwningAgents:    []state.AgentName{"food"},
	}, func(ctx context.Context, args json.RawMessage) (state.ToolResult, error) {
		handlerCalled = true
		return state.Success(nil), nil
	})

	result := r.Invoke(context.Background(), "log_food", json.RawMessage(`{}`))
	if result.OK {
		t.Fatal("expected failure for missing required field")
	}
	if result.Error.Kind != state.ToolResultInvalidArgument {
		t.Errorf("expected InvalidArgument, got %s", result.Error.Kind)
	}
	if handlerCalled {
		t.Error("handler must not run when arguments fail schema validation")
	}
}

func TestInvoke_UnknownToolReturnsInvalidArgument(t *testing.T) {
	r := New()
	result := r.Invoke(context.Background(), "does_not_exist", json.RawMessage(`{}`))
	if result.OK || result.Error.Kind != state.ToolResultInvalidArgument {
		t.Fatalf("expected InvalidArgument failure, got %+v", result)
	}
}

func TestInvoke_HandlerPanicBecomesInternalFailure(t *testing.T) {
	r := New()
	r.Register(state.ToolDescriptor{Name: "boom", OwningAgents: []state.AgentName{"food"}},
		func(ctx context.Context, args json.RawMessage) (state.ToolResult, error) {
			panic("kaboom")
		})

	result := r.Invoke(context.Background(), "boom", json.RawMessage(`{}`))
	if result.OK || result.Error.Kind != state.ToolResultInternal {
		t.Fatalf("expected Internal failure from recovered panic, got %+v", result)
	}
}

func TestInvoke_DeadlineExceeded(t *testing.T) {
	r := New()
	r.Register(state.ToolDescriptor{Name: "slow", OwningAgents: []state.AgentName{"food"}},
		func(ctx context.Context, args json.RawMessage) (state.ToolResult, error) {
			time.Sleep(50 * time.Millisecond)
			return state.Success(nil), nil
		})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	result := r.Invoke(ctx, "slow", json.RawMessage(`{}`))
	if result.OK || result.Error.Kind != state.ToolResultDeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded, got %+v", result)
	}
}

func TestInvoke_HandlerErrorBecomesInternalFailure(t *testing.T) {
	r := New()
	r.Register(state.ToolDescriptor{Name: "fails", OwningAgents: []state.AgentName{"food"}},
		func(ctx context.Context, args json.RawMessage) (state.ToolResult, error) {
			return state.ToolResult{}, errors.New("datastore unavailable")
		})

	result := r.Invoke(context.Background(), "fails", json.RawMessage(`{}`))
	if result.OK || result.Error.Kind != state.ToolResultInternal {
		t.Fatalf("expected Internal failure, got %+v", result)
	}
}

func TestToolsFor_FiltersByOwningAgent(t *testing.T) {
	r := New()
	r.Register(state.ToolDescriptor{Name: "log_food", OwningAgents: []state.AgentName{"food"}}, nopHandler)
	r.Register(state.ToolDescriptor{Name: "create_task", OwningAgents: []state.AgentName{"task"}}, nopHandler)
	r.Register(state.ToolDescriptor{Name: "request_handoff", OwningAgents: []state.AgentName{"food", "task", "event"}}, nopHandler)

	foodTools := r.ToolsFor("food")
	if len(foodTools) != 2 {
		t.Fatalf("expected 2 tools visible to food, got %d", len(foodTools))
	}
}

func TestIsIdempotent(t *testing.T) {
	r := New()
	r.Register(state.ToolDescriptor{Name: "search_tasks", Idempotent: true, OwningAgents: []state.AgentName{"task"}}, nopHandler)
	r.Register(state.ToolDescriptor{Name: "create_task", Idempotent: false, OwningAgents: []state.AgentName{"task"}}, nopHandler)

	if !r.IsIdempotent("search_tasks") {
		t.Error("expected search_tasks to be idempotent")
	}
	if r.IsIdempotent("create_task") {
		t.Error("expected create_task to not be idempotent")
	}
}

func nopHandler(ctx context.Context, args json.RawMessage) (state.ToolResult, error) {
	return state.Success(nil), nil
}

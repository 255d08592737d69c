package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/kestrel-labs/assistant-orchestrator/pkg/state"
)

const testSchema = `{
	"type": "object",
	"properties": {
		"agent": {"type": "string"},
		"confidence": {"type": "number"}
	},
	"required": ["agent", "confidence"]
}`

func TestCompleteWithSchemaRetry_SucceedsFirstTry(t *testing.T) {
	calls := 0
	result, err := completeWithSchemaRetry(context.Background(), "fake", 2, CompletionOptions{ResponseSchema: []byte(testSchema)},
		func(ctx context.Context) (*CompletionResult, error) {
			calls++
			return &CompletionResult{Message: Message{Content: `{"agent":"food","confidence":0.9}`}}, nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if result.Message.Content == "" {
		t.Errorf("expected content")
	}
}

func TestCompleteWithSchemaRetry_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	_, err := completeWithSchemaRetry(context.Background(), "fake", 2, CompletionOptions{ResponseSchema: []byte(testSchema)},
		func(ctx context.Context) (*CompletionResult, error) {
			calls++
			if calls < 2 {
				return &CompletionResult{Message: Message{Content: `not json`}}, nil
			}
			return &CompletionResult{Message: Message{Content: `{"agent":"task","confidence":0.5}`}}, nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestCompleteWithSchemaRetry_ExhaustsAndSurfacesSchemaViolation(t *testing.T) {
	calls := 0
	_, err := completeWithSchemaRetry(context.Background(), "fake", 2, CompletionOptions{ResponseSchema: []byte(testSchema)},
		func(ctx context.Context) (*CompletionResult, error) {
			calls++
			return &CompletionResult{Message: Message{Content: `{"agent":"food"}`}}, nil // missing confidence
		})
	if err == nil {
		t.Fatal("expected error")
	}
	var lerr *state.LLMError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected *state.LLMError, got %T: %v", err, err)
	}
	if lerr.Kind != state.LLMSchemaViolation {
		t.Errorf("expected SchemaViolation, got %s", lerr.Kind)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", calls)
	}
}

func TestCompleteWithSchemaRetry_SkipsValidationWithoutSchema(t *testing.T) {
	calls := 0
	_, err := completeWithSchemaRetry(context.Background(), "fake", 2, CompletionOptions{},
		func(ctx context.Context) (*CompletionResult, error) {
			calls++
			return &CompletionResult{Message: Message{Content: "plain text reply"}}, nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 call when no schema is set, got %d", calls)
	}
}

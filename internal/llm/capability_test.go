package llm

import (
	"context"
	"testing"
)

type fakeCapability struct{ id int }

func (f *fakeCapability) Complete(ctx context.Context, messages []Message, opts CompletionOptions) (*CompletionResult, error) {
	return &CompletionResult{Message: Message{Content: "ok"}}, nil
}

func (f *fakeCapability) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}

func TestCachedCapability_SameKeyReusesInstance(t *testing.T) {
	built := 0
	cache := NewCachedCapability(func(model string, temperature float64) (Capability, error) {
		built++
		return &fakeCapability{id: built}, nil
	})

	a, err := cache.For("claude-3-5-haiku-latest", 0.1)
	if err != nil {
		t.Fatal(err)
	}
	b, err := cache.For("claude-3-5-haiku-latest", 0.1)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("expected same cached instance for identical (model, temperature)")
	}
	if built != 1 {
		t.Errorf("expected factory called once, got %d", built)
	}
}

func TestCachedCapability_DifferentTemperatureNeverShares(t *testing.T) {
	built := 0
	cache := NewCachedCapability(func(model string, temperature float64) (Capability, error) {
		built++
		return &fakeCapability{id: built}, nil
	})

	routing, err := cache.For("claude-3-5-haiku-latest", 0.1)
	if err != nil {
		t.Fatal(err)
	}
	agentCap, err := cache.For("claude-3-5-haiku-latest", 0.7)
	if err != nil {
		t.Fatal(err)
	}
	if routing == agentCap {
		t.Errorf("routing and agent call sites must not share a capability instance despite sharing a model")
	}
	if built != 2 {
		t.Errorf("expected factory called twice, got %d", built)
	}
}

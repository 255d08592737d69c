package llm

import (
	"context"

	"github.com/kestrel-labs/assistant-orchestrator/internal/observability"
)

// TracedCapability wraps a Capability with a span per Complete/Embed call,
// so every provider round trip shows up in the same trace as the turn that
// triggered it regardless of which provider backs it.
type TracedCapability struct {
	inner    Capability
	tracer   *observability.Tracer
	provider string
	model    string
}

// NewTracedCapability wraps inner. tracer may be nil, in which case calls
// pass through untraced.
func NewTracedCapability(inner Capability, tracer *observability.Tracer, provider, model string) *TracedCapability {
	return &TracedCapability{inner: inner, tracer: tracer, provider: provider, model: model}
}

// Complete implements Capability.
func (c *TracedCapability) Complete(ctx context.Context, messages []Message, opts CompletionOptions) (*CompletionResult, error) {
	if c.tracer == nil {
		return c.inner.Complete(ctx, messages, opts)
	}
	ctx, span := c.tracer.TraceLLMRequest(ctx, c.provider, c.model)
	defer span.End()

	result, err := c.inner.Complete(ctx, messages, opts)
	if err != nil {
		c.tracer.RecordError(span, err)
		return nil, err
	}
	c.tracer.SetAttributes(span,
		"llm.prompt_tokens", result.Usage.PromptTokens,
		"llm.completion_tokens", result.Usage.CompletionTokens,
	)
	return result, nil
}

// Embed implements Capability.
func (c *TracedCapability) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c.tracer == nil {
		return c.inner.Embed(ctx, texts)
	}
	ctx, span := c.tracer.TraceLLMRequest(ctx, c.provider, c.model)
	defer span.End()

	vectors, err := c.inner.Embed(ctx, texts)
	if err != nil {
		c.tracer.RecordError(span, err)
		return nil, err
	}
	return vectors, nil
}

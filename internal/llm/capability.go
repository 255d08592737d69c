// Package llm provides the LLM Capability abstraction: a single synchronous
// round-trip completion call plus embeddings, with no streaming visible
// outside this package. Concrete capabilities wrap a specific provider SDK;
// CachedCapability keys a shared instance by {model, temperature} so the
// router's low-temperature call site never shares a client with an agent's
// higher-temperature one.
package llm

import (
	"context"
	"sync"
	"time"

	"github.com/kestrel-labs/assistant-orchestrator/pkg/state"
)

// Message is the provider-agnostic input/output unit for a completion call.
// It mirrors pkg/state.Message but stays decoupled from session storage
// concerns (no timestamps, no agent attribution).
type Message struct {
	Role       state.Role
	Content    string
	ToolCalls  []state.ToolCall
	ToolCallID string
}

// ToolSpec describes one callable tool offered to the model for this call.
type ToolSpec struct {
	Name        string
	Description string
	Schema      []byte // JSON schema for the tool's arguments
}

// Usage reports token accounting for a single completion call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// CompletionOptions configures one Complete call.
type CompletionOptions struct {
	Model          string
	Temperature    float64
	MaxTokens      int
	Tools          []ToolSpec
	ResponseSchema []byte // when set, Content must validate against this JSON schema
}

// CompletionResult is the outcome of a successful Complete call.
type CompletionResult struct {
	Message Message
	Usage   Usage
}

// Capability is the contract every LLM provider wrapper implements. A single
// call is one synchronous round trip; retries (schema validation, transient
// errors) happen inside the implementation and are reflected in the returned
// *state.LLMError's Attempts field on failure.
type Capability interface {
	// Complete performs one chat completion call. When opts.ResponseSchema is
	// set, the implementation validates Content against it and retries up to
	// a bounded number of times before returning an *state.LLMError with
	// Kind == state.LLMSchemaViolation.
	Complete(ctx context.Context, messages []Message, opts CompletionOptions) (*CompletionResult, error)

	// Embed returns one vector per input text. Implementations that cannot
	// embed return an *state.LLMError with Kind == state.LLMUnavailable.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// cacheKey identifies a cached capability instance. Two call sites that
// differ only by temperature must never share an instance — the router's
// low-temperature routing call and an agent's higher-temperature reasoning
// call key to distinct instances even when they share a model.
type cacheKey struct {
	model       string
	temperature float64
}

// CachedCapability wraps a factory so repeated calls with the same
// {model, temperature} reuse one underlying Capability instance, while
// distinct temperatures never collide.
type CachedCapability struct {
	factory func(model string, temperature float64) (Capability, error)
	mu      sync.Mutex
	cache   map[cacheKey]Capability
}

// NewCachedCapability builds a CachedCapability around factory.
func NewCachedCapability(factory func(model string, temperature float64) (Capability, error)) *CachedCapability {
	return &CachedCapability{
		factory: factory,
		cache:   make(map[cacheKey]Capability),
	}
}

// For returns the capability instance for the given model/temperature pair,
// building and caching one on first use. Safe for concurrent use by multiple
// goroutines, since one process-wide instance is shared across every HTTP
// request the orchestrator serves.
func (c *CachedCapability) For(model string, temperature float64) (Capability, error) {
	key := cacheKey{model: model, temperature: temperature}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cap, ok := c.cache[key]; ok {
		return cap, nil
	}
	cap, err := c.factory(model, temperature)
	if err != nil {
		return nil, err
	}
	c.cache[key] = cap
	return cap, nil
}

// deadlineOr returns ctx unchanged if it already carries a deadline, else a
// new context bounded by d.
func deadlineOr(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

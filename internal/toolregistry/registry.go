// Package toolregistry implements the Tool Registry contract: startup-only
// registration of typed tool descriptors and handlers, per-agent visibility,
// JSON-schema argument validation, and a bounded, cancellable invoke call.
package toolregistry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kestrel-labs/assistant-orchestrator/internal/observability"
	"github.com/kestrel-labs/assistant-orchestrator/pkg/state"
)

// InvocationContext carries the identifiers every handler needs to scope its
// side effects to the calling user and session.
type InvocationContext struct {
	UserID    string
	SessionID string
	Workspace string
}

type invocationContextKey struct{}

// WithInvocationContext attaches ic to ctx for handlers to read back via
// InvocationContextFrom.
func WithInvocationContext(ctx context.Context, ic InvocationContext) context.Context {
	return context.WithValue(ctx, invocationContextKey{}, ic)
}

// InvocationContextFrom reads back the InvocationContext attached by
// WithInvocationContext.
func InvocationContextFrom(ctx context.Context) (InvocationContext, bool) {
	ic, ok := ctx.Value(invocationContextKey{}).(InvocationContext)
	return ic, ok
}

// Handler executes one tool invocation. It must honor ctx cancellation and
// deadline; a panic is recovered by the registry and converted to an
// Internal ToolResult.
type Handler func(ctx context.Context, arguments json.RawMessage) (state.ToolResult, error)

type registration struct {
	descriptor state.ToolDescriptor
	handler    Handler
	schema     *jsonschema.Schema
}

// Registry holds every tool registered at process startup. Registration is
// not safe to call concurrently with Invoke; the orchestrator registers all
// tools before serving any turn.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*registration
	tracer *observability.Tracer
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{tools: make(map[string]*registration)}
}

// SetTracer wires t into the registry so Invoke spans each tool execution. A
// nil tracer (the default) leaves Invoke untraced.
func (r *Registry) SetTracer(t *observability.Tracer) {
	r.tracer = t
}

// Register adds descriptor/handler at startup. Calling Register twice for the
// same name replaces the prior registration.
func (r *Registry) Register(descriptor state.ToolDescriptor, handler Handler) error {
	var schema *jsonschema.Schema
	if len(descriptor.ParameterSchema) > 0 {
		compiler := jsonschema.NewCompiler()
		name := descriptor.Name + ".schema.json"
		if err := compiler.AddResource(name, bytes.NewReader(descriptor.ParameterSchema)); err != nil {
			return fmt.Errorf("register %s: add schema resource: %w", descriptor.Name, err)
		}
		compiled, err := compiler.Compile(name)
		if err != nil {
			return fmt.Errorf("register %s: compile schema: %w", descriptor.Name, err)
		}
		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[descriptor.Name] = &registration{descriptor: descriptor, handler: handler, schema: schema}
	return nil
}

// ToolsFor returns the descriptors an agent may call, per OwningAgents.
func (r *Registry) ToolsFor(agent state.AgentName) []state.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []state.ToolDescriptor
	for _, reg := range r.tools {
		if reg.descriptor.OwnedBy(agent) {
			out = append(out, reg.descriptor)
		}
	}
	return out
}

// Descriptor returns the registered descriptor for name, if any.
func (r *Registry) Descriptor(name string) (state.ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	if !ok {
		return state.ToolDescriptor{}, false
	}
	return reg.descriptor, true
}

// Invoke validates arguments against the registered parameter schema, then
// runs the handler under the deadline carried by ctx (the caller is
// responsible for applying the per-tool deadline before calling Invoke). A
// handler panic is recovered and reported as a ToolResultInternal failure; a
// handler that does not return before ctx is done is reported as
// ToolResultDeadlineExceeded.
func (r *Registry) Invoke(ctx context.Context, name string, arguments json.RawMessage) state.ToolResult {
	r.mu.RLock()
	reg, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return state.Failure(state.ToolResultInvalidArgument, fmt.Sprintf("tool not found: %s", name))
	}

	if reg.schema != nil {
		var doc any
		if err := json.Unmarshal(arguments, &doc); err != nil {
			return state.Failure(state.ToolResultInvalidArgument, fmt.Sprintf("invalid arguments json: %v", err))
		}
		if err := reg.schema.Validate(doc); err != nil {
			return state.Failure(state.ToolResultInvalidArgument, fmt.Sprintf("arguments do not match schema: %v", err))
		}
	}

	if r.tracer == nil {
		return r.invokeWithRecovery(ctx, reg, arguments)
	}
	ctx, span := r.tracer.TraceToolExecution(ctx, name)
	defer span.End()
	result := r.invokeWithRecovery(ctx, reg, arguments)
	if !result.OK && result.Error != nil {
		r.tracer.RecordError(span, fmt.Errorf("%s: %s", result.Error.Kind, result.Error.Message))
	}
	return result
}

func (r *Registry) invokeWithRecovery(ctx context.Context, reg *registration, arguments json.RawMessage) state.ToolResult {
	type outcome struct {
		result state.ToolResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{result: state.Failure(state.ToolResultInternal,
					fmt.Sprintf("tool panic: %v\n%s", rec, debug.Stack()))}
			}
		}()
		result, err := reg.handler(ctx, arguments)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return state.Failure(state.ToolResultInternal, out.err.Error())
		}
		return out.result
	case <-ctx.Done():
		return state.Failure(state.ToolResultDeadlineExceeded, fmt.Sprintf("tool %s exceeded deadline", reg.descriptor.Name))
	}
}

// IsIdempotent reports whether name's descriptor declares itself safe to
// retry on failure. The Agent Loop consults this before retrying a failed
// invocation.
func (r *Registry) IsIdempotent(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	return ok && reg.descriptor.Idempotent
}

// WithDeadline is a small helper so call sites apply the configured per-tool
// deadline consistently before calling Invoke.
func WithDeadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}

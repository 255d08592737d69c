// Package orchestrator implements the turn-handler facade: load-or-fresh
// state, append the user message, run the graph runtime to termination,
// extract the reply, and checkpoint with at-least-once semantics.
// Concurrency is bounded by per-session locking and admission backpressure.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/kestrel-labs/assistant-orchestrator/internal/checkpoint"
	"github.com/kestrel-labs/assistant-orchestrator/internal/observability"
	"github.com/kestrel-labs/assistant-orchestrator/internal/toolregistry"
	"github.com/kestrel-labs/assistant-orchestrator/pkg/state"
)

// GraphRunner executes one turn's Router -> Agent -> Continue? state
// machine to termination, mutating s in place. Implemented by
// *internal/graph.Graph; declared here as an interface so the facade can be
// tested against a fake without constructing a real router/loop/catalog.
type GraphRunner interface {
	Run(ctx context.Context, s *state.SessionState) error
}

// Config bounds the facade's concurrency and timeouts.
type Config struct {
	TurnBudget  time.Duration
	TTL         time.Duration
	MaxInFlight int
}

// Orchestrator is the process-global, long-lived turn handler.
type Orchestrator struct {
	checkpointer checkpoint.Checkpointer
	graph        GraphRunner
	locker       *sessionLocker
	admission    *admission
	turnBudget   time.Duration
	ttl          time.Duration
	logger       *slog.Logger
	events       *observability.EventRecorder
	metrics      *observability.Metrics
	tracer       *observability.Tracer
}

// New builds an Orchestrator. events, metrics, and tracer may all be nil:
// turn events are then not recorded to a timeline, turn metrics are not
// exported, and turns are not traced.
func New(checkpointer checkpoint.Checkpointer, g GraphRunner, cfg Config, logger *slog.Logger, events *observability.EventRecorder, metrics *observability.Metrics, tracer *observability.Tracer) *Orchestrator {
	if cfg.TurnBudget <= 0 {
		cfg.TurnBudget = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		checkpointer: checkpointer,
		graph:        g,
		locker:       newSessionLocker(),
		admission:    newAdmission(cfg.MaxInFlight),
		turnBudget:   cfg.TurnBudget,
		ttl:          cfg.TTL,
		logger:       logger.With("component", "orchestrator"),
		events:       events,
		metrics:      metrics,
		tracer:       tracer,
	}
}

// TurnInput is the facade's request shape.
type TurnInput struct {
	SessionID   string
	UserID      string
	Workspace   string
	UserMessage string
}

// TurnResult is the facade's response shape.
type TurnResult struct {
	Reply     string
	Agent     state.AgentName
	TurnCount int
	SessionID string
	Timestamp time.Time
}

// HandleTurn runs one client turn to completion. It is not idempotent:
// re-submitting the same user message appends another turn.
func (o *Orchestrator) HandleTurn(ctx context.Context, in TurnInput) (*TurnResult, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	release, ok := o.admission.tryEnter()
	if !ok {
		o.recordTurn("", 0, "overloaded")
		return nil, o.admission.overloaded()
	}
	defer release()

	if !o.locker.tryAcquire(in.SessionID) {
		o.recordTurn("", 0, "concurrent")
		return nil, &state.ConcurrentTurnError{SessionID: in.SessionID}
	}
	defer o.locker.release(in.SessionID)

	if o.metrics != nil {
		o.metrics.TurnStarted()
		defer o.metrics.TurnEnded()
	}

	ctx, cancel := context.WithTimeout(ctx, o.turnBudget)
	defer cancel()

	ctx = toolregistry.WithInvocationContext(ctx, toolregistry.InvocationContext{
		UserID:    in.UserID,
		SessionID: in.SessionID,
		Workspace: in.Workspace,
	})

	turnID := NewSessionID()
	ctx = observability.AddTurnID(ctx, turnID)
	ctx = observability.AddSessionID(ctx, in.SessionID)

	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.TraceTurn(ctx, in.UserID, in.SessionID)
		defer span.End()
	}

	turnStarted := time.Now()
	if o.events != nil {
		o.events.RecordTurnStart(ctx, turnID, map[string]interface{}{"user_id": in.UserID})
	}

	s, err := o.loadOrFresh(ctx, in)
	if err != nil {
		if o.events != nil {
			o.events.RecordTurnEnd(ctx, time.Since(turnStarted), err)
		}
		o.recordTurn("", time.Since(turnStarted), "error")
		return nil, err
	}

	now := time.Now()
	s.AppendMessage(state.Message{
		Role:      state.RoleUser,
		Content:   in.UserMessage,
		Timestamp: now,
	})
	s.TurnCount++
	s.UpdatedAt = now

	if err := o.graph.Run(ctx, s); err != nil {
		if o.tracer != nil {
			if span := observability.SpanFromContext(ctx); span.IsRecording() {
				o.tracer.RecordError(span, err)
			}
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			o.persistBestEffort(context.Background(), s)
			s.AppendMessage(state.Message{Role: state.RoleAssistant, Content: "The request timed out.", Timestamp: time.Now()})
			timeoutErr := &state.TurnTimeoutError{SessionID: in.SessionID, Budget: o.turnBudget.String()}
			if o.events != nil {
				o.events.RecordTurnEnd(ctx, time.Since(turnStarted), timeoutErr)
			}
			o.recordTurn(s.CurrentAgent, time.Since(turnStarted), "timeout")
			return nil, timeoutErr
		}
		if o.events != nil {
			o.events.RecordTurnEnd(ctx, time.Since(turnStarted), err)
		}
		o.recordTurn(s.CurrentAgent, time.Since(turnStarted), "error")
		return nil, err
	}

	ctx = observability.AddAgent(ctx, string(s.CurrentAgent))
	if o.tracer != nil {
		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			o.tracer.SetAttributes(span, "agent", string(s.CurrentAgent))
		}
	}

	reply := lastAssistantMessage(s)

	if err := o.checkpointer.Save(ctx, s); err != nil {
		o.logger.Warn("checkpoint save failed, returning reply anyway", "session_id", in.SessionID, "error", err)
	}

	if o.events != nil {
		o.events.RecordTurnEnd(ctx, time.Since(turnStarted), nil)
	}
	o.recordTurn(s.CurrentAgent, time.Since(turnStarted), "success")

	return &TurnResult{
		Reply:     reply,
		Agent:     s.CurrentAgent,
		TurnCount: s.TurnCount,
		SessionID: s.SessionID,
		Timestamp: time.Now(),
	}, nil
}

// loadOrFresh starts a brand-new SessionState when the checkpoint is missing,
// TTL-expired, or corrupt, rather than surfacing an error. A corrupt
// checkpoint is logged: the other two are expected steady-state conditions,
// but corruption means something wrote a bad blob and operators should know.
// An unavailable checkpointer (the store itself is down) is not covered by
// either case and is returned to the caller as a hard error.
func (o *Orchestrator) loadOrFresh(ctx context.Context, in TurnInput) (*state.SessionState, error) {
	s, err := o.checkpointer.Load(ctx, in.SessionID)
	if err == nil {
		return s, nil
	}
	if checkpoint.NotFoundAsFresh(err) {
		return state.NewSessionState(in.SessionID, in.UserID, in.Workspace, time.Now()), nil
	}
	var cerr *state.CheckpointError
	if errors.As(err, &cerr) && cerr.Kind == state.CheckpointCorrupt {
		o.logger.Warn("checkpoint corrupt, starting fresh session state", "session_id", in.SessionID, "error", err)
		return state.NewSessionState(in.SessionID, in.UserID, in.Workspace, time.Now()), nil
	}
	return nil, err
}

// persistBestEffort saves whatever state the graph produced before a turn
// timeout. Failures are logged, never surfaced: the timeout error is what
// the caller sees.
func (o *Orchestrator) persistBestEffort(ctx context.Context, s *state.SessionState) {
	if err := o.checkpointer.Save(ctx, s); err != nil {
		o.logger.Warn("checkpoint save failed after turn timeout", "session_id", s.SessionID, "error", err)
	}
}

// recordTurn is a no-op when no Metrics instance was wired in. agent may be
// the empty AgentName for turns that never reached a router decision
// (admission rejection, concurrent-turn rejection, load failure).
func (o *Orchestrator) recordTurn(agent state.AgentName, duration time.Duration, outcome string) {
	if o.metrics == nil {
		return
	}
	o.metrics.RecordTurn(string(agent), outcome, duration.Seconds())
}

func lastAssistantMessage(s *state.SessionState) string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == state.RoleAssistant {
			return s.Messages[i].Content
		}
	}
	return ""
}

func validate(in TurnInput) error {
	if in.SessionID == "" {
		return &state.ValidationError{Field: "session_id", Message: "required"}
	}
	if in.UserID == "" {
		return &state.ValidationError{Field: "user_id", Message: "required"}
	}
	if in.Workspace == "" {
		return &state.ValidationError{Field: "workspace", Message: "required"}
	}
	if in.UserMessage == "" {
		return &state.ValidationError{Field: "user_message", Message: "required"}
	}
	return nil
}

// NewSessionID generates a session identifier for callers that don't
// already have one (e.g. a chat surface's first message).
func NewSessionID() string {
	return uuid.NewString()
}

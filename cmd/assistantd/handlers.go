package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/kestrel-labs/assistant-orchestrator/internal/checkpoint"
	"github.com/kestrel-labs/assistant-orchestrator/internal/observability"
	"github.com/kestrel-labs/assistant-orchestrator/internal/orchestrator"
	"github.com/kestrel-labs/assistant-orchestrator/internal/scheduler"
	"github.com/kestrel-labs/assistant-orchestrator/internal/store"
	"github.com/kestrel-labs/assistant-orchestrator/pkg/state"
)

// chatServer holds the wired dependencies behind the HTTP chat surface.
type chatServer struct {
	orch         *orchestrator.Orchestrator
	checkpointer checkpoint.Checkpointer
	store        *store.Store
	scheduler    *scheduler.Scheduler
	metrics      *observability.Metrics
	tracer       *observability.Tracer
	events       *observability.MemoryEventStore
	logger       *observability.Logger
}

// newHTTPServer builds the *http.Server for the chat surface, routed with
// Go's method-prefixed ServeMux patterns.
func newHTTPServer(addr string, orch *orchestrator.Orchestrator, checkpointer checkpoint.Checkpointer, st *store.Store, sched *scheduler.Scheduler, metrics *observability.Metrics, tracer *observability.Tracer, events *observability.MemoryEventStore, logger *observability.Logger) *http.Server {
	cs := &chatServer{
		orch:         orch,
		checkpointer: checkpointer,
		store:        st,
		scheduler:    sched,
		metrics:      metrics,
		tracer:       tracer,
		events:       events,
		logger:       logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", cs.withObservability(cs.handleChat))
	mux.HandleFunc("GET /session/{id}", cs.withObservability(cs.handleGetSession))
	mux.HandleFunc("DELETE /session/{id}", cs.withObservability(cs.handleDeleteSession))
	mux.HandleFunc("GET /health", cs.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	var handler http.Handler = mux
	if cs.logger != nil {
		handler = cs.logger.LogMiddleware(handler)
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// withObservability wraps h with a trace span and HTTP request metrics.
func (cs *chatServer) withObservability(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		var span trace.Span
		if cs.tracer != nil {
			ctx, span = cs.tracer.TraceHTTPRequest(ctx, r.Method, r.Pattern)
			defer span.End()
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r.WithContext(ctx))

		if span != nil && rec.status >= 400 {
			cs.tracer.RecordError(span, fmt.Errorf("http status %d", rec.status))
		}

		duration := time.Since(start).Seconds()
		status := statusClass(rec.status)
		if cs.metrics != nil {
			cs.metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.Pattern, status).Observe(duration)
			cs.metrics.HTTPRequestCounter.WithLabelValues(r.Method, r.Pattern, status).Inc()
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}

type chatRequest struct {
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id"`
	Workspace   string `json:"workspace"`
	UserMessage string `json:"message"`
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	Agent     string `json:"agent"`
	Reply     string `json:"reply"`
	TurnCount int    `json:"turn_count"`
}

func (cs *chatServer) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		req.SessionID = orchestrator.NewSessionID()
	}

	result, err := cs.orch.HandleTurn(r.Context(), orchestrator.TurnInput{
		SessionID:   req.SessionID,
		UserID:      req.UserID,
		Workspace:   req.Workspace,
		UserMessage: req.UserMessage,
	})
	if err != nil {
		cs.writeTurnError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		SessionID: result.SessionID,
		Agent:     string(result.Agent),
		Reply:     result.Reply,
		TurnCount: result.TurnCount,
	})
}

func (cs *chatServer) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s, err := cs.checkpointer.Load(r.Context(), id)
	if err != nil {
		if checkpoint.NotFoundAsFresh(err) {
			writeJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (cs *chatServer) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := cs.checkpointer.Delete(r.Context(), id); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type healthResponse struct {
	Status       string            `json:"status"`
	Checkpointer string            `json:"checkpointer"`
	Scheduler    map[string]string `json:"scheduler,omitempty"`
}

func (cs *chatServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Checkpointer: "ok"}
	status := http.StatusOK

	if err := cs.checkpointer.Health(ctx); err != nil {
		resp.Status = "degraded"
		resp.Checkpointer = err.Error()
		status = http.StatusServiceUnavailable
	}
	if cs.scheduler != nil {
		resp.Scheduler = cs.scheduler.Health()
	}

	writeJSON(w, status, resp)
}

func (cs *chatServer) writeTurnError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch err.(type) {
	case *state.OverloadedError:
		status = http.StatusTooManyRequests
	case *state.ConcurrentTurnError:
		status = http.StatusConflict
	case *state.TurnTimeoutError:
		status = http.StatusGatewayTimeout
	case *state.ValidationError:
		status = http.StatusBadRequest
	}
	writeJSONError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is a centralized interface for collecting Prometheus metrics
// across the turn-handling facade, the LLM capability layer, the tool
// registry, the datastore, and the background scheduler.
type Metrics struct {
	// TurnCounter tracks orchestrator turns by agent and outcome.
	// Labels: agent, outcome (success|error|timeout|overloaded|concurrent)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures turn-handler latency in seconds.
	// Labels: agent
	TurnDuration *prometheus.HistogramVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider, model, and status.
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption by provider, model, and type.
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations by tool name and status.
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by component and error type.
	ErrorCounter *prometheus.CounterVec

	// ActiveSessions is a gauge tracking current in-flight turns.
	ActiveSessions prometheus.Gauge

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	HTTPRequestCounter *prometheus.CounterVec

	// DatabaseQueryDuration measures database query latency.
	// Labels: operation, table
	DatabaseQueryDuration *prometheus.HistogramVec

	// DatabaseQueryCounter counts database queries.
	DatabaseQueryCounter *prometheus.CounterVec

	// SchedulerJobDuration measures scheduler job run latency.
	// Labels: job
	SchedulerJobDuration *prometheus.HistogramVec

	// SchedulerJobCounter counts scheduler job runs by job and status.
	SchedulerJobCounter *prometheus.CounterVec

	// WebhookDeliveryCounter counts reminder webhook deliveries by status.
	WebhookDeliveryCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with the default
// registry. Call once at process startup.
func NewMetrics() *Metrics {
	return &Metrics{
		TurnCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_turns_total",
				Help: "Total number of turns handled by agent and outcome",
			},
			[]string{"agent", "outcome"},
		),
		TurnDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assistant_turn_duration_seconds",
				Help:    "Duration of a turn-handler call in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"agent"},
		),
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assistant_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assistant_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 15},
			},
			[]string{"tool_name"},
		),
		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "assistant_active_turns",
				Help: "Current number of in-flight turns",
			},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assistant_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		DatabaseQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assistant_database_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "table"},
		),
		DatabaseQueryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_database_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"operation", "table", "status"},
		),
		SchedulerJobDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assistant_scheduler_job_duration_seconds",
				Help:    "Duration of a scheduler job run in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"job"},
		),
		SchedulerJobCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_scheduler_job_runs_total",
				Help: "Total number of scheduler job runs by job and status",
			},
			[]string{"job", "status"},
		),
		WebhookDeliveryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_reminder_webhook_deliveries_total",
				Help: "Total number of reminder webhook deliveries by status",
			},
			[]string{"status"},
		),
	}
}

// RecordTurn records the outcome and duration of one orchestrator turn.
func (m *Metrics) RecordTurn(agent, outcome string, durationSeconds float64) {
	m.TurnCounter.WithLabelValues(agent, outcome).Inc()
	m.TurnDuration.WithLabelValues(agent).Observe(durationSeconds)
}

// RecordLLMRequest records metrics for an LLM API request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter for a given component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// TurnStarted/TurnEnded track in-flight turn concurrency.
func (m *Metrics) TurnStarted() { m.ActiveSessions.Inc() }
func (m *Metrics) TurnEnded()   { m.ActiveSessions.Dec() }

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// RecordDatabaseQuery records metrics for a database query.
func (m *Metrics) RecordDatabaseQuery(operation, table, status string, durationSeconds float64) {
	m.DatabaseQueryCounter.WithLabelValues(operation, table, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(durationSeconds)
}

// RecordSchedulerJob records metrics for one scheduler job run.
func (m *Metrics) RecordSchedulerJob(job, status string, durationSeconds float64) {
	m.SchedulerJobCounter.WithLabelValues(job, status).Inc()
	m.SchedulerJobDuration.WithLabelValues(job).Observe(durationSeconds)
}

// RecordWebhookDelivery records a reminder webhook delivery attempt.
func (m *Metrics) RecordWebhookDelivery(status string) {
	m.WebhookDeliveryCounter.WithLabelValues(status).Inc()
}

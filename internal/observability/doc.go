// Package observability provides metrics, structured logging, and
// distributed tracing for the orchestrator: the turn-handling facade, the
// LLM capability layer, the tool registry, the datastore, and the
// background scheduler.
//
// # Metrics
//
// Metrics are implemented using Prometheus client libraries and track:
//   - Turns by agent and outcome
//   - LLM API request latency and token usage
//   - Tool execution performance
//   - Scheduler job runs and reminder webhook deliveries
//   - Error rates by component and type
//   - HTTP request/response metrics
//   - Database query performance
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	metrics.TurnStarted()
//	defer metrics.TurnEnded()
//
//	start := time.Now()
//	// ... make LLM request ...
//	metrics.RecordLLMRequest("anthropic", "claude-3-opus", "success",
//	    time.Since(start).Seconds(), promptTokens, completionTokens)
//
//	start = time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("create_task", "success", time.Since(start).Seconds())
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic request ID correlation from context
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//   - Configurable log levels
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    AddSource: true,
//	})
//
//	ctx := observability.AddRequestID(ctx, requestID)
//	ctx = observability.AddSessionID(ctx, sessionID)
//
//	logger.Info(ctx, "processing turn",
//	    "agent", agentName,
//	    "user_id", userID,
//	)
//
//	logger.Error(ctx, "LLM request failed",
//	    "error", err,
//	    "provider", "anthropic",
//	    "api_key", apiKey, // Automatically redacted
//	)
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry to track a turn across the router,
// the agent loop, tool execution, and the datastore:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "assistant-orchestrator",
//	    ServiceVersion: "1.0.0",
//	    Environment:    "production",
//	    Endpoint:       "localhost:4317", // OTLP collector
//	    SamplingRate:   0.1,
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.TraceTurn(ctx, userID, sessionID)
//	defer span.End()
//	// ... router picks an agent ...
//	tracer.SetAttributes(span, "agent", agentName)
//
//	ctx, llmSpan := tracer.TraceLLMRequest(ctx, "anthropic", "claude-3-opus")
//	defer llmSpan.End()
//	tracer.SetAttributes(llmSpan, "prompt_tokens", 100, "completion_tokens", 500)
//
//	ctx, toolSpan := tracer.TraceToolExecution(ctx, "create_task")
//	defer toolSpan.End()
//	if err != nil {
//	    tracer.RecordError(toolSpan, err)
//	}
//
// # Context Propagation
//
//	ctx = observability.AddRequestID(ctx, "req-123")
//	ctx = observability.AddSessionID(ctx, "sess-456")
//	ctx = observability.AddUserID(ctx, "user-789")
//
//	logger.Info(ctx, "processing") // includes request_id, session_id, etc.
//
// # Security Considerations
//
// The logging component automatically redacts:
//   - API keys (Anthropic, OpenAI, generic)
//   - Passwords and secrets
//   - JWT tokens
//   - Bearer tokens
//   - Custom patterns via configuration
//
// Sensitive fields in maps are also redacted:
//   - password, passwd, pwd
//   - secret, api_key, apikey
//   - token, auth, authorization
//   - private_key, privatekey
//
// # Monitoring Dashboard
//
//	# Turn throughput
//	rate(assistant_turns_total[5m])
//
//	# LLM request latency (95th percentile)
//	histogram_quantile(0.95, rate(assistant_llm_request_duration_seconds_bucket[5m]))
//
//	# Error rate
//	rate(assistant_errors_total[5m])
//
//	# In-flight turns
//	assistant_active_turns
//
//	# Scheduler job failure rate
//	rate(assistant_scheduler_job_runs_total{status="error"}[15m])
package observability

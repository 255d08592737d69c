package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kestrel-labs/assistant-orchestrator/internal/agentcatalog"
	"github.com/kestrel-labs/assistant-orchestrator/internal/agentloop"
	"github.com/kestrel-labs/assistant-orchestrator/internal/checkpoint"
	"github.com/kestrel-labs/assistant-orchestrator/internal/config"
	"github.com/kestrel-labs/assistant-orchestrator/internal/graph"
	"github.com/kestrel-labs/assistant-orchestrator/internal/llm"
	"github.com/kestrel-labs/assistant-orchestrator/internal/observability"
	"github.com/kestrel-labs/assistant-orchestrator/internal/orchestrator"
	"github.com/kestrel-labs/assistant-orchestrator/internal/router"
	"github.com/kestrel-labs/assistant-orchestrator/internal/scheduler"
	"github.com/kestrel-labs/assistant-orchestrator/internal/store"
	"github.com/kestrel-labs/assistant-orchestrator/internal/toolregistry"
	"github.com/kestrel-labs/assistant-orchestrator/pkg/state"
)

func buildServeCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator's HTTP chat surface and background scheduler",
		Example: "  assistantd serve --config config.yaml\n" +
			"  assistantd serve -c config.yaml -d",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging regardless of configured level")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: observability.LogLevelFromString(cfg.Logging.Level),
	}))
	obsLogger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: "json",
		Output: os.Stderr,
	})
	metrics := observability.NewMetrics()

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName: "assistant-orchestrator",
		Environment: os.Getenv("ASSISTANTD_ENVIRONMENT"),
		Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	})
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	st, err := store.Open(store.Config{
		Driver:          store.Driver(cfg.Database.Driver),
		DSN:             cfg.DataSourceName(),
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	checkpointer, closeCheckpointer, err := buildCheckpointer(cfg)
	if err != nil {
		return fmt.Errorf("build checkpointer: %w", err)
	}
	if closeCheckpointer != nil {
		defer closeCheckpointer()
	}

	capabilities := llm.NewCachedCapability(func(model string, temperature float64) (llm.Capability, error) {
		var (
			capImpl  llm.Capability
			provider string
			err      error
		)
		switch cfg.LLM.Provider {
		case "openai":
			provider = "openai"
			capImpl = llm.NewOpenAICapability(llm.OpenAIConfig{
				APIKey:         cfg.LLM.OpenAIAPIKey,
				EmbeddingModel: cfg.LLM.OpenAIEmbeddingModel,
			}, cfg.LLM.MaxSchemaRetries)
		case "bedrock":
			provider = "bedrock"
			capImpl, err = llm.NewBedrockCapability(llm.BedrockConfig{
				Region:         cfg.LLM.BedrockRegion,
				EmbeddingModel: cfg.LLM.BedrockEmbeddingModel,
			}, cfg.LLM.MaxSchemaRetries)
		case "google":
			provider = "google"
			capImpl, err = llm.NewGoogleCapability(llm.GoogleConfig{
				APIKey:         cfg.LLM.GoogleAPIKey,
				EmbeddingModel: cfg.LLM.GoogleEmbeddingModel,
			}, cfg.LLM.MaxSchemaRetries)
		default:
			provider = "anthropic"
			capImpl = llm.NewAnthropicCapability(llm.AnthropicConfig{
				APIKey: cfg.LLM.AnthropicAPIKey,
			}, cfg.LLM.MaxSchemaRetries)
		}
		if err != nil {
			return nil, err
		}
		return llm.NewTracedCapability(capImpl, tracer, provider, model), nil
	})

	defaultModel := cfg.LLM.AnthropicModel
	switch cfg.LLM.Provider {
	case "openai":
		defaultModel = cfg.LLM.OpenAIModel
	case "bedrock":
		defaultModel = cfg.LLM.BedrockModel
	case "google":
		defaultModel = cfg.LLM.GoogleModel
	}

	registry := toolregistry.New()
	registry.SetTracer(tracer)

	catalog, err := agentcatalog.New(agentcatalog.Config{
		ReminderEnabled:    cfg.Agents.ReminderEnabled,
		Model:              defaultModel,
		AgentTemperature:   cfg.Router.AgentTemperature,
		HandoffTemperature: cfg.Router.RoutingTemperature,
		DefaultAgent:       state.AgentName(cfg.Router.DefaultAgent),
		Capabilities:       capabilities,
	}, registry, agentcatalog.Handlers{Store: st})
	if err != nil {
		return fmt.Errorf("build agent catalog: %w", err)
	}

	routingCapability, err := capabilities.For(defaultModel, cfg.Router.RoutingTemperature)
	if err != nil {
		return fmt.Errorf("build routing capability: %w", err)
	}
	rtr := router.New(catalog, routingCapability, defaultModel, cfg.Router.RoutingTemperature, cfg.Router.ConfidenceFloor)

	loop := agentloop.New(registry, agentloop.Config{
		MaxToolRounds: cfg.Loop.MaxToolRounds,
		ToolDeadline:  cfg.ToolDeadline(),
		LLMDeadline:   cfg.LLMDeadline(),
	})

	g := graph.New(rtr, loop, catalog, graph.Config{
		MaxMessages: cfg.State.MaxMessages,
		MaxHandoffs: cfg.Turn.MaxHandoffs,
	})

	eventStore := observability.NewMemoryEventStore(4096)
	events := observability.NewEventRecorder(eventStore, obsLogger)

	orch := orchestrator.New(checkpointer, g, orchestrator.Config{
		TurnBudget:  cfg.TurnBudget(),
		TTL:         cfg.StateTTL(),
		MaxInFlight: cfg.Admission.MaxInFlight,
	}, logger, events, metrics, tracer)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = buildScheduler(cfg, st, capabilities, defaultModel, logger)
		if err != nil {
			return fmt.Errorf("build scheduler: %w", err)
		}
		sched.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Scheduler.ShutdownGraceSeconds)*time.Second)
			defer cancel()
			if err := sched.Stop(shutdownCtx); err != nil {
				logger.Warn("scheduler shutdown", "error", err)
			}
		}()
	}

	srv := newHTTPServer(cfg.Server.Addr, orch, checkpointer, st, sched, metrics, tracer, eventStore, obsLogger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.Addr, err)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("serving", "addr", cfg.Server.Addr)
		serveErr <- srv.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildCheckpointer selects the session checkpointer for cfg.Database.Driver.
// There is no sqlite-backed Checkpointer: local/dev deployments checkpoint
// in-process memory, while the domain rows (food/task/event/reminder) still
// persist to the sqlite-backed Store.
func buildCheckpointer(cfg *config.Config) (checkpoint.Checkpointer, func(), error) {
	if cfg.Database.Driver != "postgres" {
		return checkpoint.NewMemoryCheckpointer(cfg.StateTTL()), nil, nil
	}

	pc, err := checkpoint.NewPostgresCheckpointer(checkpoint.PostgresConfig{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
		TTL:             cfg.StateTTL(),
	})
	if err != nil {
		return nil, nil, err
	}
	return pc, func() { pc.Close() }, nil
}

func buildScheduler(cfg *config.Config, st *store.Store, capabilities *llm.CachedCapability, defaultModel string, logger *slog.Logger) (*scheduler.Scheduler, error) {
	notifier := scheduler.NewWebhookSink(cfg.Scheduler.ReminderWebhookURL, 30*time.Second)

	healthCap, err := capabilities.For(defaultModel, cfg.Router.AgentTemperature)
	if err != nil {
		return nil, fmt.Errorf("build health-probe capability: %w", err)
	}
	vaultCap, err := capabilities.For(defaultModel, cfg.Router.AgentTemperature)
	if err != nil {
		return nil, fmt.Errorf("build vault-sync capability: %w", err)
	}

	var externalSource scheduler.ExternalSource
	if cfg.Scheduler.ExternalSyncEnabled && cfg.Scheduler.ExternalSyncURL != "" {
		externalSource = newHTTPExternalSource(cfg.Scheduler.ExternalSyncURL, 30*time.Second)
	}

	var vaultConfig scheduler.VaultConfig
	if cfg.Scheduler.VaultSyncEnabled && cfg.Scheduler.VaultPath != "" {
		vaultConfig = scheduler.VaultConfig{
			FS:        os.DirFS(cfg.Scheduler.VaultPath),
			Root:      ".",
			UserID:    "system",
			Workspace: "vault",
		}
	}

	return scheduler.New(scheduler.Config{
		FireRemindersEnabled:   cfg.Scheduler.FireRemindersEnabled,
		ExpandRecurringEnabled: cfg.Scheduler.ExpandRecurringEnabled,
		CleanupEnabled:         cfg.Scheduler.CleanupEnabled,
		HealthProbeEnabled:     cfg.Scheduler.HealthProbeEnabled,
		VaultSyncEnabled:       cfg.Scheduler.VaultSyncEnabled,
		ExternalSyncEnabled:    cfg.Scheduler.ExternalSyncEnabled,
		ShutdownGrace:          time.Duration(cfg.Scheduler.ShutdownGraceSeconds) * time.Second,
		Vault:                  vaultConfig,
	}, st, notifier, healthCap, vaultCap, externalSource, logger)
}

// httpExternalSource is a thin JSON-over-HTTP scheduler.ExternalSource for
// deployments that reconcile tasks/events against a third-party system; it
// speaks a plain two-endpoint contract (GET to list, POST to push) rather
// than assuming any particular external vendor's API.
type httpExternalSource struct {
	baseURL string
	client  *http.Client
}

func newHTTPExternalSource(baseURL string, timeout time.Duration) *httpExternalSource {
	return &httpExternalSource{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

func (h *httpExternalSource) Fetch(ctx context.Context) ([]scheduler.ExternalRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/records", nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("external source fetch: status %d", resp.StatusCode)
	}
	var records []scheduler.ExternalRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode external records: %w", err)
	}
	return records, nil
}

func (h *httpExternalSource) Push(ctx context.Context, records []scheduler.ExternalRecord) ([]string, error) {
	body, err := json.Marshal(records)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/records", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("external source push: status %d", resp.StatusCode)
	}
	var ids []string
	if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil {
		return nil, fmt.Errorf("decode pushed ids: %w", err)
	}
	return ids, nil
}

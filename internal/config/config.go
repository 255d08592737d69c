// Package config loads and sanitizes the orchestrator's YAML configuration:
// a single tagged Config struct populated via gopkg.in/yaml.v3 with
// os.ExpandEnv applied before parse.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the single top-level configuration record for the orchestrator
// process.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	State     StateConfig     `yaml:"state"`
	Loop      LoopConfig      `yaml:"loop"`
	Router    RouterConfig    `yaml:"router"`
	Turn      TurnConfig      `yaml:"turn"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Agents    AgentsConfig    `yaml:"agents"`
	Database  DatabaseConfig  `yaml:"database"`
	LLM       LLMConfig       `yaml:"llm"`
	Admission AdmissionConfig `yaml:"admission"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP chat surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// StateConfig governs message retention and checkpoint lifetime.
type StateConfig struct {
	MaxMessages int `yaml:"state_max_messages"`
	TTLSeconds  int `yaml:"state_ttl_seconds"`
}

// LoopConfig governs the reason/act loop bound.
type LoopConfig struct {
	MaxToolRounds int `yaml:"max_tool_rounds"`
}

// RouterConfig governs routing thresholds and the default agent.
type RouterConfig struct {
	ConfidenceFloor    float64 `yaml:"router_confidence_floor"`
	DefaultAgent       string  `yaml:"default_agent"`
	RoutingTemperature float64 `yaml:"routing_llm_temperature"`
	AgentTemperature   float64 `yaml:"agent_llm_temperature"`
}

// TurnConfig governs per-turn and per-suspension-point deadlines.
type TurnConfig struct {
	MaxHandoffs         int `yaml:"max_handoffs"`
	TurnBudgetSeconds   int `yaml:"turn_budget_seconds"`
	ToolDeadlineSeconds int `yaml:"tool_deadline_seconds"`
	LLMDeadlineSeconds  int `yaml:"llm_deadline_seconds"`
}

// SchedulerConfig enables/disables the scheduler and individual jobs.
type SchedulerConfig struct {
	Enabled                bool   `yaml:"scheduler_enabled"`
	FireRemindersEnabled   bool   `yaml:"fire_reminders_enabled"`
	ExpandRecurringEnabled bool   `yaml:"expand_recurring_tasks_enabled"`
	CleanupEnabled         bool   `yaml:"cleanup_old_data_enabled"`
	HealthProbeEnabled     bool   `yaml:"health_probe_enabled"`
	VaultSyncEnabled       bool   `yaml:"vault_sync_enabled"`
	ExternalSyncEnabled    bool   `yaml:"external_sync_enabled"`
	ShutdownGraceSeconds   int    `yaml:"shutdown_grace_seconds"`
	VaultPath              string `yaml:"vault_path"`
	ExternalSyncURL        string `yaml:"external_sync_url"`
	ReminderWebhookURL     string `yaml:"reminder_webhook_url"`
}

// AgentsConfig toggles optional agents.
type AgentsConfig struct {
	ReminderEnabled bool `yaml:"reminder_agent_enabled"`
}

// DatabaseConfig configures the datastore/checkpointer backing store. DSN is
// used as-is for the sqlite driver (a file path, or ":memory:"); for the
// postgres driver the Host/Port/User/Password/Database/SSLMode fields are
// used instead, since the checkpointer's Postgres connection needs them
// broken out rather than as one connection string.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // "postgres" or "sqlite"
	DSN             string        `yaml:"dsn"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// LLMConfig selects and configures the LLM capability providers.
type LLMConfig struct {
	Provider             string `yaml:"provider"` // "anthropic", "openai", "bedrock", or "google"
	AnthropicAPIKey      string `yaml:"anthropic_api_key"`
	AnthropicModel       string `yaml:"anthropic_model"`
	OpenAIAPIKey         string `yaml:"openai_api_key"`
	OpenAIModel          string `yaml:"openai_model"`
	OpenAIEmbeddingModel string `yaml:"openai_embedding_model"`
	BedrockRegion        string `yaml:"bedrock_region"`
	BedrockModel         string `yaml:"bedrock_model"`
	BedrockEmbeddingModel string `yaml:"bedrock_embedding_model"`
	GoogleAPIKey         string `yaml:"google_api_key"`
	GoogleModel          string `yaml:"google_model"`
	GoogleEmbeddingModel string `yaml:"google_embedding_model"`
	MaxSchemaRetries     int    `yaml:"max_schema_retries"`
}

// AdmissionConfig bounds the turn-handler admission queue.
type AdmissionConfig struct {
	MaxInFlight int `yaml:"max_in_flight"`
	QueueDepth  int `yaml:"queue_depth"`
}

// LoggingConfig configures the slog JSON handler.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Load reads path, expands ${VAR} references against the process
// environment before parsing, decodes strict YAML, and applies defaults for
// zero-valued fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("parse config: expected a single document")
	}

	Sanitize(&cfg)
	return &cfg, nil
}

// Sanitize fills zero-valued fields with their documented defaults rather
// than leaving zero-value surprises live.
func Sanitize(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.State.MaxMessages == 0 {
		cfg.State.MaxMessages = 20
	}
	if cfg.State.TTLSeconds == 0 {
		cfg.State.TTLSeconds = 86400
	}
	if cfg.Loop.MaxToolRounds == 0 {
		cfg.Loop.MaxToolRounds = 6
	}
	if cfg.Router.ConfidenceFloor == 0 {
		cfg.Router.ConfidenceFloor = 0.3
	}
	if cfg.Router.DefaultAgent == "" {
		cfg.Router.DefaultAgent = "food"
	}
	if cfg.Router.RoutingTemperature == 0 {
		cfg.Router.RoutingTemperature = 0.1
	}
	if cfg.Router.AgentTemperature == 0 {
		cfg.Router.AgentTemperature = 0.7
	}
	if cfg.Turn.MaxHandoffs == 0 {
		cfg.Turn.MaxHandoffs = 3
	}
	if cfg.Turn.TurnBudgetSeconds == 0 {
		cfg.Turn.TurnBudgetSeconds = 60
	}
	if cfg.Turn.ToolDeadlineSeconds == 0 {
		cfg.Turn.ToolDeadlineSeconds = 15
	}
	if cfg.Turn.LLMDeadlineSeconds == 0 {
		cfg.Turn.LLMDeadlineSeconds = 30
	}
	if cfg.Scheduler.ShutdownGraceSeconds == 0 {
		cfg.Scheduler.ShutdownGraceSeconds = 10
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Database.ConnectTimeout == 0 {
		cfg.Database.ConnectTimeout = 10 * time.Second
	}
	if cfg.Database.Driver == "postgres" && cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.Driver == "postgres" && cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.DSN == "" {
		cfg.Database.DSN = "assistant.db"
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.LLM.AnthropicModel == "" {
		cfg.LLM.AnthropicModel = "claude-3-5-haiku-latest"
	}
	if cfg.LLM.OpenAIModel == "" {
		cfg.LLM.OpenAIModel = "gpt-4o-mini"
	}
	if cfg.LLM.OpenAIEmbeddingModel == "" {
		cfg.LLM.OpenAIEmbeddingModel = "text-embedding-3-small"
	}
	if cfg.LLM.BedrockRegion == "" {
		cfg.LLM.BedrockRegion = "us-east-1"
	}
	if cfg.LLM.BedrockModel == "" {
		cfg.LLM.BedrockModel = "anthropic.claude-3-5-haiku-20241022-v1:0"
	}
	if cfg.LLM.BedrockEmbeddingModel == "" {
		cfg.LLM.BedrockEmbeddingModel = "amazon.titan-embed-text-v1"
	}
	if cfg.LLM.GoogleModel == "" {
		cfg.LLM.GoogleModel = "gemini-2.0-flash"
	}
	if cfg.LLM.GoogleEmbeddingModel == "" {
		cfg.LLM.GoogleEmbeddingModel = "text-embedding-004"
	}
	if cfg.LLM.MaxSchemaRetries == 0 {
		cfg.LLM.MaxSchemaRetries = 2
	}
	if cfg.Admission.MaxInFlight == 0 {
		cfg.Admission.MaxInFlight = 64
	}
	if cfg.Admission.QueueDepth == 0 {
		cfg.Admission.QueueDepth = 128
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// StateTTL returns the checkpoint lifetime as a time.Duration.
func (c *Config) StateTTL() time.Duration {
	return time.Duration(c.State.TTLSeconds) * time.Second
}

// TurnBudget returns the per-turn wall-clock budget.
func (c *Config) TurnBudget() time.Duration {
	return time.Duration(c.Turn.TurnBudgetSeconds) * time.Second
}

// ToolDeadline returns the per-tool invocation deadline.
func (c *Config) ToolDeadline() time.Duration {
	return time.Duration(c.Turn.ToolDeadlineSeconds) * time.Second
}

// LLMDeadline returns the per-LLM-call deadline.
func (c *Config) LLMDeadline() time.Duration {
	return time.Duration(c.Turn.LLMDeadlineSeconds) * time.Second
}

// DataSourceName builds the connection string store.Open expects: the raw
// DSN field for sqlite, or a keyword/value Postgres string assembled from
// the broken-out connection fields.
func (c *Config) DataSourceName() string {
	if c.Database.Driver != "postgres" {
		return c.Database.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password,
		c.Database.Database, c.Database.SSLMode, int(c.Database.ConnectTimeout.Seconds()),
	)
}

// Package scheduler runs six background jobs on robfig/cron/v3 triggers:
// fire_reminders, expand_recurring_tasks, cleanup_old_data, health_probe,
// vault_sync, and external_sync. Uses cron.SkipIfStillRunning per job for
// the no-overlap guarantee rather than a hand-rolled running-flag.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kestrel-labs/assistant-orchestrator/internal/llm"
	"github.com/kestrel-labs/assistant-orchestrator/internal/store"
)

// Config selects which jobs run and on what cadence. Every cadence is fixed
// except external_sync's, which is configurable since it's optional.
type Config struct {
	FireRemindersEnabled   bool
	ExpandRecurringEnabled bool
	CleanupEnabled         bool
	HealthProbeEnabled     bool
	VaultSyncEnabled       bool
	ExternalSyncEnabled    bool

	ExternalSyncCron string // defaults to "*/15 * * * *"
	Retention         time.Duration
	ShutdownGrace     time.Duration
	Vault             VaultConfig
}

// Scheduler wraps a *cron.Cron configured with recover-and-skip-if-running
// middleware, so a panicking or overrunning job never corrupts state or
// blocks its next sibling tick.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	store    *store.Store
	notifier NotificationSink

	healthCapability llm.Capability
	vaultCapability  llm.Capability
	vaultConfig      VaultConfig

	externalSource ExternalSource

	retention     time.Duration
	shutdownGrace time.Duration

	mu         sync.Mutex
	lastHealth map[string]string
}

// New builds a Scheduler and registers every job enabled by cfg. healthCap is
// used for the cheap completion ping in health_probe; vaultCap is used to
// embed vault_sync documents; either may be nil if the corresponding job is
// disabled.
func New(cfg Config, st *store.Store, notifier NotificationSink, healthCap, vaultCap llm.Capability, externalSource ExternalSource, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 90 * 24 * time.Hour
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	if cfg.ExternalSyncCron == "" {
		cfg.ExternalSyncCron = "*/15 * * * *"
	}

	logger = logger.With("component", "scheduler")
	c := cron.New(cron.WithChain(
		cron.Recover(slogCronLogger{logger: logger}),
		cron.SkipIfStillRunning(slogCronLogger{logger: logger}),
	))

	s := &Scheduler{
		cron:             c,
		logger:           logger,
		store:            st,
		notifier:         notifier,
		healthCapability: healthCap,
		vaultCapability:  vaultCap,
		vaultConfig:      cfg.Vault,
		externalSource:   externalSource,
		retention:        cfg.Retention,
		shutdownGrace:    cfg.ShutdownGrace,
	}

	jobs := []struct {
		enabled bool
		spec    string
		name    string
		fn      func(context.Context)
	}{
		{cfg.FireRemindersEnabled, "*/5 * * * *", "fire_reminders", s.fireReminders},
		{cfg.ExpandRecurringEnabled, "0 0 * * *", "expand_recurring_tasks", s.expandRecurringTasks},
		{cfg.CleanupEnabled, "0 3 * * 0", "cleanup_old_data", s.cleanupOldData},
		{cfg.HealthProbeEnabled, "*/5 * * * *", "health_probe", s.healthProbe},
		{cfg.VaultSyncEnabled, "0 */12 * * *", "vault_sync", s.vaultSyncJob},
		{cfg.ExternalSyncEnabled, cfg.ExternalSyncCron, "external_sync", s.externalSyncJob},
	}

	for _, j := range jobs {
		if !j.enabled {
			continue
		}
		jobName := j.name
		fn := j.fn
		if _, err := c.AddFunc(j.spec, func() {
			ctx := context.Background()
			s.logger.Debug("job starting", "job", jobName)
			fn(ctx)
		}); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Start launches the cron scheduler; job ticks begin firing in background
// goroutines managed by the underlying cron.Cron.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop requests a graceful shutdown, waiting up to the configured shutdown
// grace period for any in-flight job to finish before returning.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()

	grace, cancel := context.WithTimeout(ctx, s.shutdownGrace)
	defer cancel()

	select {
	case <-stopCtx.Done():
		return nil
	case <-grace.Done():
		s.logger.Warn("scheduler shutdown grace period elapsed with jobs still running")
		return grace.Err()
	}
}

// Health returns the component-status snapshot recorded by the most recent
// health_probe run.
func (s *Scheduler) Health() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.lastHealth))
	for k, v := range s.lastHealth {
		out[k] = v
	}
	return out
}

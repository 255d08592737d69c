package scheduler

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/kestrel-labs/assistant-orchestrator/internal/llm"
	"github.com/kestrel-labs/assistant-orchestrator/internal/store"
	"github.com/kestrel-labs/assistant-orchestrator/pkg/state"
)

func sqlTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}

// fireReminders delivers every reminder due at or before now. Notification
// and the fired-flag flip happen atomically inside store.FireDueReminders.
func (s *Scheduler) fireReminders(ctx context.Context) {
	fired, err := s.store.FireDueReminders(ctx, time.Now(), 200, func(r *store.Reminder) error {
		return s.notifier.Notify(ctx, r)
	})
	if err != nil {
		s.logger.Error("fire_reminders failed", "error", err)
		return
	}
	s.logger.Info("fire_reminders completed", "fired", fired)
}

// expandRecurringTasks materializes the next occurrence of every recurring
// task whose due date has passed: insert a new task row at recurrence.Next
// carrying the recurrence forward, then clear the matched row's recurrence
// field so it becomes a closed historical record and isn't matched again.
func (s *Scheduler) expandRecurringTasks(ctx context.Context) {
	now := time.Now()
	due, err := s.store.RecurringTasksNeedingExpansion(ctx, now, 200)
	if err != nil {
		s.logger.Error("expand_recurring_tasks query failed", "error", err)
		return
	}

	expanded := 0
	for _, t := range due {
		rec, err := store.ParseRecurrence(t.Recurrence)
		if err != nil {
			s.logger.Warn("skipping task with unparseable recurrence", "task_id", t.ID, "recurrence", t.Recurrence, "error", err)
			continue
		}

		nextDue := rec.Next(t.DueAt.Time)
		next := &store.Task{
			ID:         uuid.NewString(),
			UserID:     t.UserID,
			Workspace:  t.Workspace,
			Title:      t.Title,
			Notes:      t.Notes,
			DueAt:      sqlTime(nextDue),
			Priority:   t.Priority,
			Recurrence: t.Recurrence,
			Status:     store.TaskStatusOpen,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.store.CreateTask(ctx, next); err != nil {
			s.logger.Error("expand_recurring_tasks insert failed", "task_id", t.ID, "error", err)
			continue
		}
		if _, err := s.store.CompleteTask(ctx, t.UserID, t.Workspace, t.ID, now); err != nil {
			s.logger.Error("expand_recurring_tasks close-out failed", "task_id", t.ID, "error", err)
			continue
		}
		expanded++
	}
	s.logger.Info("expand_recurring_tasks completed", "expanded", expanded)
}

// cleanupOldData archives completed tasks, deletes ended events, and decays
// reminder salience, all past the configured retention cutoff.
func (s *Scheduler) cleanupOldData(ctx context.Context) {
	cutoff := time.Now().Add(-s.retention)

	archivedTasks, err := s.store.ArchiveCompletedTasksBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("cleanup_old_data: archive tasks failed", "error", err)
	}
	deletedEvents, err := s.store.DeleteEventsEndedBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("cleanup_old_data: delete events failed", "error", err)
	}
	decayed, err := s.store.DecaySalience(ctx, cutoff, 0.5)
	if err != nil {
		s.logger.Error("cleanup_old_data: decay salience failed", "error", err)
	}
	s.logger.Info("cleanup_old_data completed",
		"archived_tasks", archivedTasks, "deleted_events", deletedEvents, "decayed_reminders", decayed)
}

// healthProbe pings the datastore and performs one cheap, low-token
// completion call against the configured LLM capability, recording a
// component-status snapshot used by the GET /health surface.
func (s *Scheduler) healthProbe(ctx context.Context) {
	status := make(map[string]string, 2)

	if err := s.store.DB().PingContext(ctx); err != nil {
		status["datastore"] = "down: " + err.Error()
	} else {
		status["datastore"] = "ok"
	}

	if s.healthCapability != nil {
		_, err := s.healthCapability.Complete(ctx, []llm.Message{{Role: state.RoleUser, Content: "ping"}}, llm.CompletionOptions{MaxTokens: 1})
		if err != nil {
			status["llm"] = "down: " + err.Error()
		} else {
			status["llm"] = "ok"
		}
	}

	s.mu.Lock()
	s.lastHealth = status
	s.mu.Unlock()
	s.logger.Info("health_probe completed", "status", status)
}

// vaultSyncJob reconciles the configured notes directory into memory rows.
func (s *Scheduler) vaultSyncJob(ctx context.Context) {
	if s.vaultCapability == nil {
		return
	}
	synced, err := vaultSync(ctx, s.vaultConfig, s.vaultCapability, s.store, time.Now())
	if err != nil {
		s.logger.Error("vault_sync failed", "error", err)
		return
	}
	s.logger.Info("vault_sync completed", "synced", synced)
}

// externalSyncJob fetches the external system's current state, reconciles it
// against the local tasks/events snapshot with the external-wins/local-wins
// policy, pushes local-only records, and logs what would be applied locally
// (applying a reconciled record is a task/event store write decided by
// Title, callers with stronger identity mapping can extend this).
func (s *Scheduler) externalSyncJob(ctx context.Context) {
	if s.externalSource == nil {
		return
	}

	local, err := s.localExternalSnapshot(ctx)
	if err != nil {
		s.logger.Error("external_sync: local snapshot failed", "error", err)
		return
	}

	external, err := s.externalSource.Fetch(ctx)
	if err != nil {
		s.logger.Error("external_sync: fetch failed", "error", err)
		return
	}

	toPush, toApplyLocally := reconcile(local, external)

	if len(toPush) > 0 {
		if _, err := s.externalSource.Push(ctx, toPush); err != nil {
			s.logger.Error("external_sync: push failed", "error", err)
		}
	}

	s.logger.Info("external_sync completed", "pushed", len(toPush), "applied_locally", len(toApplyLocally))
}

// localExternalSnapshot maps open tasks into the narrow ExternalRecord shape
// reconcile operates on.
func (s *Scheduler) localExternalSnapshot(ctx context.Context) ([]ExternalRecord, error) {
	tasks, err := s.store.AllOpenTasks(ctx, 1000)
	if err != nil {
		return nil, err
	}
	records := make([]ExternalRecord, 0, len(tasks))
	for _, t := range tasks {
		records = append(records, ExternalRecord{
			LocalID:   t.ID,
			Title:     t.Title,
			DueAt:     t.DueAt.Time,
			UpdatedAt: t.UpdatedAt,
		})
	}
	return records, nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// TaskStatus enumerates the lifecycle of a task row.
type TaskStatus string

const (
	TaskStatusOpen      TaskStatus = "open"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusArchived  TaskStatus = "archived"
)

// Task is one task/todo row.
type Task struct {
	ID          string
	UserID      string
	Workspace   string
	Title       string
	Notes       string
	DueAt       sql.NullTime
	Priority    int
	Recurrence  string
	Status      TaskStatus
	CompletedAt sql.NullTime
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateTask inserts a new open task.
func (s *Store) CreateTask(ctx context.Context, t *Task) error {
	if t.ID == "" || t.UserID == "" || t.Workspace == "" {
		return fmt.Errorf("id, user_id, and workspace are required")
	}
	if t.Status == "" {
		t.Status = TaskStatusOpen
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, user_id, workspace, title, notes, due_at, priority, recurrence, status, completed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, t.ID, t.UserID, t.Workspace, t.Title, t.Notes, t.DueAt, t.Priority, t.Recurrence, t.Status, t.CompletedAt, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// SearchTasksOptions bounds a task query.
type SearchTasksOptions struct {
	Status TaskStatus
	Limit  int
}

// SearchTasks returns matching tasks for one user's workspace.
func (s *Store) SearchTasks(ctx context.Context, userID, workspace string, opts SearchTasksOptions) ([]*Task, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, user_id, workspace, title, notes, due_at, priority, recurrence, status, completed_at, created_at, updated_at
		FROM tasks
		WHERE user_id = $1 AND workspace = $2
	`
	args := []any{userID, workspace}
	argPos := 3
	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, opts.Status)
		argPos++
	}
	query += fmt.Sprintf(" ORDER BY due_at ASC, priority DESC LIMIT $%d", argPos)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t := &Task{}
		if err := rows.Scan(&t.ID, &t.UserID, &t.Workspace, &t.Title, &t.Notes, &t.DueAt, &t.Priority, &t.Recurrence, &t.Status, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

// CompleteTask marks a task completed, scoped to its owner.
func (s *Store) CompleteTask(ctx context.Context, userID, workspace, id string, completedAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = $1, completed_at = $2, updated_at = $2
		WHERE id = $3 AND user_id = $4 AND workspace = $5
	`, TaskStatusCompleted, completedAt, id, userID, workspace)
	if err != nil {
		return false, fmt.Errorf("complete task: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows > 0, nil
}

// RecurringTasksNeedingExpansion returns open tasks with a recurrence set
// whose due date has passed, used by the expand_recurring_tasks job.
func (s *Store) RecurringTasksNeedingExpansion(ctx context.Context, before time.Time, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, workspace, title, notes, due_at, priority, recurrence, status, completed_at, created_at, updated_at
		FROM tasks
		WHERE recurrence IS NOT NULL AND recurrence != '' AND status = $1 AND due_at IS NOT NULL AND due_at <= $2
		LIMIT $3
	`, TaskStatusOpen, before, limit)
	if err != nil {
		return nil, fmt.Errorf("query recurring tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t := &Task{}
		if err := rows.Scan(&t.ID, &t.UserID, &t.Workspace, &t.Title, &t.Notes, &t.DueAt, &t.Priority, &t.Recurrence, &t.Status, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan recurring task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// AllOpenTasks returns every open task across all owners, for the
// external_sync job's reconciliation snapshot (external_sync is a
// deployment-global integration, not scoped to one user/workspace the way
// the tool handlers are).
func (s *Store) AllOpenTasks(ctx context.Context, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, workspace, title, notes, due_at, priority, recurrence, status, completed_at, created_at, updated_at
		FROM tasks
		WHERE status = $1
		LIMIT $2
	`, TaskStatusOpen, limit)
	if err != nil {
		return nil, fmt.Errorf("query all open tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t := &Task{}
		if err := rows.Scan(&t.ID, &t.UserID, &t.Workspace, &t.Title, &t.Notes, &t.DueAt, &t.Priority, &t.Recurrence, &t.Status, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan open task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ArchiveCompletedTasksBefore archives tasks completed before the cutoff.
func (s *Store) ArchiveCompletedTasksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = $1 WHERE status = $2 AND completed_at IS NOT NULL AND completed_at < $3
	`, TaskStatusArchived, TaskStatusCompleted, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive completed tasks: %w", err)
	}
	return result.RowsAffected()
}

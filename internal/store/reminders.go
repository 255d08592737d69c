package store

import (
	"context"
	"fmt"
	"time"
)

// Reminder is one standalone reminder/memory row.
type Reminder struct {
	ID          string
	UserID      string
	Workspace   string
	Content     string
	FireAt      time.Time
	Fired       bool
	AccessCount int
	Salience    float64
	CreatedAt   time.Time
}

// CreateReminder inserts a new reminder.
func (s *Store) CreateReminder(ctx context.Context, r *Reminder) error {
	if r.ID == "" || r.UserID == "" || r.Workspace == "" {
		return fmt.Errorf("id, user_id, and workspace are required")
	}
	if r.Salience == 0 {
		r.Salience = 1.0
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders (id, user_id, workspace, content, fire_at, fired, access_count, salience, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.ID, r.UserID, r.Workspace, r.Content, r.FireAt, r.Fired, r.AccessCount, r.Salience, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("create reminder: %w", err)
	}
	return nil
}

// DueUnfiredReminders returns reminders due at or before now that have not
// yet fired, for the fire_reminders job.
func (s *Store) DueUnfiredReminders(ctx context.Context, now time.Time, limit int) ([]*Reminder, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, workspace, content, fire_at, fired, access_count, salience, created_at
		FROM reminders
		WHERE fire_at <= $1 AND fired = $2
		LIMIT $3
	`, now, false, limit)
	if err != nil {
		return nil, fmt.Errorf("query due reminders: %w", err)
	}
	defer rows.Close()

	var reminders []*Reminder
	for rows.Next() {
		r := &Reminder{}
		if err := rows.Scan(&r.ID, &r.UserID, &r.Workspace, &r.Content, &r.FireAt, &r.Fired, &r.AccessCount, &r.Salience, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

// MarkReminderFired flips the fired flag; callers pair this with sending the
// notification in the same transaction.
func (s *Store) MarkReminderFired(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE reminders SET fired = $1 WHERE id = $2`, true, id)
	if err != nil {
		return fmt.Errorf("mark reminder fired: %w", err)
	}
	return nil
}

// FireDueReminders atomically marks each due reminder fired and invokes
// notify for it within one transaction; if notify fails for a row, that
// row's fired flag is rolled back so the next tick retries it.
func (s *Store) FireDueReminders(ctx context.Context, now time.Time, limit int, notify func(*Reminder) error) (int, error) {
	due, err := s.DueUnfiredReminders(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	fired := 0
	for _, r := range due {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fired, fmt.Errorf("begin reminder tx: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE reminders SET fired = $1 WHERE id = $2`, true, r.ID); err != nil {
			tx.Rollback()
			return fired, fmt.Errorf("mark reminder fired: %w", err)
		}

		if err := notify(r); err != nil {
			tx.Rollback()
			continue
		}

		if err := tx.Commit(); err != nil {
			return fired, fmt.Errorf("commit reminder fire: %w", err)
		}
		fired++
	}
	return fired, nil
}

// SearchMemoryOptions bounds a salience-weighted memory recall query.
type SearchMemoryOptions struct {
	Limit int
}

// SearchMemory returns the highest-salience reminders for one user's
// workspace and increments each returned row's access_count as part of the
// search itself, rather than leaving that bookkeeping to the tool handler.
func (s *Store) SearchMemory(ctx context.Context, userID, workspace string, opts SearchMemoryOptions) ([]*Reminder, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, workspace, content, fire_at, fired, access_count, salience, created_at
		FROM reminders
		WHERE user_id = $1 AND workspace = $2
		ORDER BY salience DESC
		LIMIT $3
	`, userID, workspace, limit)
	if err != nil {
		return nil, fmt.Errorf("search memory: %w", err)
	}

	var reminders []*Reminder
	for rows.Next() {
		r := &Reminder{}
		if err := rows.Scan(&r.ID, &r.UserID, &r.Workspace, &r.Content, &r.FireAt, &r.Fired, &r.AccessCount, &r.Salience, &r.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		reminders = append(reminders, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate memory: %w", err)
	}
	rows.Close()

	for _, r := range reminders {
		if _, err := s.db.ExecContext(ctx, `UPDATE reminders SET access_count = access_count + 1 WHERE id = $1`, r.ID); err != nil {
			return nil, fmt.Errorf("increment access count: %w", err)
		}
		r.AccessCount++
	}
	return reminders, nil
}

// DecaySalience multiplies the salience of reminders not accessed (by
// creation time, as a simple proxy absent a last-accessed column) since
// before cutoff by factor, for the cleanup_old_data job.
func (s *Store) DecaySalience(ctx context.Context, cutoff time.Time, factor float64) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reminders SET salience = salience * $1 WHERE created_at < $2
	`, factor, cutoff)
	if err != nil {
		return 0, fmt.Errorf("decay salience: %w", err)
	}
	return result.RowsAffected()
}

// UpsertMemoryEmbedding stores a content-hash-keyed reminder row produced by
// the vault_sync job, skipping unchanged files via ON CONFLICT on the hash.
func (s *Store) UpsertMemoryEmbedding(ctx context.Context, id, userID, workspace, content string, createdAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders (id, user_id, workspace, content, fire_at, fired, access_count, salience, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content
	`, id, userID, workspace, content, createdAt, true, 0, 1.0, createdAt)
	if err != nil {
		return fmt.Errorf("upsert memory embedding: %w", err)
	}
	return nil
}

package store

import "context"

// ddl is the bootstrap schema for the four toolbelt tables. Types are kept
// to a lowest-common-denominator subset that
// both lib/pq (Postgres/CockroachDB) and modernc.org/sqlite accept: TEXT,
// TIMESTAMP, BOOLEAN, DOUBLE PRECISION/INTEGER, all understood by SQLite's
// type-affinity rules even though it has no strict type enforcement.
var ddl = []string{
	`CREATE TABLE IF NOT EXISTS food_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		workspace TEXT NOT NULL,
		description TEXT NOT NULL,
		meal TEXT,
		logged_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		workspace TEXT NOT NULL,
		title TEXT NOT NULL,
		notes TEXT,
		due_at TIMESTAMP,
		priority INTEGER NOT NULL DEFAULT 0,
		recurrence TEXT,
		status TEXT NOT NULL DEFAULT 'open',
		completed_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		workspace TEXT NOT NULL,
		title TEXT NOT NULL,
		starts_at TIMESTAMP NOT NULL,
		ends_at TIMESTAMP NOT NULL,
		recurrence TEXT,
		last_expanded_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reminders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		workspace TEXT NOT NULL,
		content TEXT NOT NULL,
		fire_at TIMESTAMP NOT NULL,
		fired BOOLEAN NOT NULL DEFAULT FALSE,
		access_count INTEGER NOT NULL DEFAULT 0,
		salience DOUBLE PRECISION NOT NULL DEFAULT 1.0,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_food_entries_owner ON food_entries (user_id, workspace)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks (user_id, workspace)`,
	`CREATE INDEX IF NOT EXISTS idx_events_owner ON events (user_id, workspace)`,
	`CREATE INDEX IF NOT EXISTS idx_reminders_owner ON reminders (user_id, workspace)`,
}

// EnsureSchema creates the toolbelt tables and their owner-scoped indexes if
// they don't already exist. Safe to call on every process start.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Event is one calendar event row.
type Event struct {
	ID             string
	UserID         string
	Workspace      string
	Title          string
	StartsAt       time.Time
	EndsAt         time.Time
	Recurrence     string
	LastExpandedAt sql.NullTime
	CreatedAt      time.Time
}

// CreateEvent inserts a new event.
func (s *Store) CreateEvent(ctx context.Context, e *Event) error {
	if e.ID == "" || e.UserID == "" || e.Workspace == "" {
		return fmt.Errorf("id, user_id, and workspace are required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, user_id, workspace, title, starts_at, ends_at, recurrence, last_expanded_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.UserID, e.Workspace, e.Title, e.StartsAt, e.EndsAt, e.Recurrence, e.LastExpandedAt, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

// SearchEventsOptions bounds an event query.
type SearchEventsOptions struct {
	From  time.Time
	To    time.Time
	Limit int
}

// SearchEvents returns events overlapping [From, To) for one user's workspace.
func (s *Store) SearchEvents(ctx context.Context, userID, workspace string, opts SearchEventsOptions) ([]*Event, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, user_id, workspace, title, starts_at, ends_at, recurrence, last_expanded_at, created_at
		FROM events
		WHERE user_id = $1 AND workspace = $2
	`
	args := []any{userID, workspace}
	argPos := 3
	if !opts.From.IsZero() {
		query += fmt.Sprintf(" AND ends_at >= $%d", argPos)
		args = append(args, opts.From)
		argPos++
	}
	if !opts.To.IsZero() {
		query += fmt.Sprintf(" AND starts_at <= $%d", argPos)
		args = append(args, opts.To)
		argPos++
	}
	query += fmt.Sprintf(" ORDER BY starts_at ASC LIMIT $%d", argPos)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.Workspace, &e.Title, &e.StartsAt, &e.EndsAt, &e.Recurrence, &e.LastExpandedAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CancelEvent deletes an event, scoped to its owner.
func (s *Store) CancelEvent(ctx context.Context, userID, workspace, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM events WHERE id = $1 AND user_id = $2 AND workspace = $3
	`, id, userID, workspace)
	if err != nil {
		return false, fmt.Errorf("cancel event: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows > 0, nil
}

// RecurringEventsNeedingExpansion returns events with a recurrence set that
// have not been expanded since before the given time.
func (s *Store) RecurringEventsNeedingExpansion(ctx context.Context, before time.Time, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, workspace, title, starts_at, ends_at, recurrence, last_expanded_at, created_at
		FROM events
		WHERE recurrence IS NOT NULL AND recurrence != ''
		  AND (last_expanded_at IS NULL OR last_expanded_at < $1)
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("query recurring events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.Workspace, &e.Title, &e.StartsAt, &e.EndsAt, &e.Recurrence, &e.LastExpandedAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recurring event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkEventExpanded records that an event's recurrence was materialized up
// to the given time, and archives events completed (ended) before cutoff.
func (s *Store) MarkEventExpanded(ctx context.Context, id string, expandedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE events SET last_expanded_at = $1 WHERE id = $2`, expandedAt, id)
	if err != nil {
		return fmt.Errorf("mark event expanded: %w", err)
	}
	return nil
}

// DeleteEventsEndedBefore removes events that ended before cutoff, the
// events half of cleanup_old_data's archival sweep (events have no status
// column to archive in place, unlike tasks).
func (s *Store) DeleteEventsEndedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE ends_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old events: %w", err)
	}
	return result.RowsAffected()
}

package store

import (
	"context"
	"fmt"
	"time"
)

// FoodEntry is one logged meal.
type FoodEntry struct {
	ID          string
	UserID      string
	Workspace   string
	Description string
	Meal        string
	LoggedAt    time.Time
	CreatedAt   time.Time
}

// LogFood inserts a new food entry.
func (s *Store) LogFood(ctx context.Context, e *FoodEntry) error {
	if e.ID == "" || e.UserID == "" || e.Workspace == "" {
		return fmt.Errorf("id, user_id, and workspace are required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO food_entries (id, user_id, workspace, description, meal, logged_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.UserID, e.Workspace, e.Description, e.Meal, e.LoggedAt, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("log food entry: %w", err)
	}
	return nil
}

// SearchFoodLogOptions bounds a food-log query.
type SearchFoodLogOptions struct {
	Meal  string
	Since time.Time
	Limit int
}

// SearchFoodLog returns matching entries for one user's workspace, most
// recent first.
func (s *Store) SearchFoodLog(ctx context.Context, userID, workspace string, opts SearchFoodLogOptions) ([]*FoodEntry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, user_id, workspace, description, meal, logged_at, created_at
		FROM food_entries
		WHERE user_id = $1 AND workspace = $2
	`
	args := []any{userID, workspace}
	argPos := 3

	if opts.Meal != "" {
		query += fmt.Sprintf(" AND meal = $%d", argPos)
		args = append(args, opts.Meal)
		argPos++
	}
	if !opts.Since.IsZero() {
		query += fmt.Sprintf(" AND logged_at >= $%d", argPos)
		args = append(args, opts.Since)
		argPos++
	}
	query += fmt.Sprintf(" ORDER BY logged_at DESC LIMIT $%d", argPos)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search food log: %w", err)
	}
	defer rows.Close()

	var entries []*FoodEntry
	for rows.Next() {
		e := &FoodEntry{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.Workspace, &e.Description, &e.Meal, &e.LoggedAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan food entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate food log: %w", err)
	}
	return entries, nil
}

// DeleteFoodEntry removes one entry, scoped to its owner, returning whether a
// row was actually deleted.
func (s *Store) DeleteFoodEntry(ctx context.Context, userID, workspace, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM food_entries WHERE id = $1 AND user_id = $2 AND workspace = $3
	`, id, userID, workspace)
	if err != nil {
		return false, fmt.Errorf("delete food entry: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows > 0, nil
}

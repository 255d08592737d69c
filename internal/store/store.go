// Package store implements the Toolbelt datastore: four tables
// (food_entries, tasks, events, reminders) scoped by user_id and workspace,
// backed by database/sql with either a Postgres/CockroachDB driver for
// production or a pure-Go sqlite driver for local development and tests.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Driver selects which database/sql driver backs a Store.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

// Config configures a Store's underlying connection pool.
type Config struct {
	Driver          Driver
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// Store is the single datastore handle shared by every tool handler and
// scheduler job that touches food/task/event/reminder rows.
type Store struct {
	db     *sql.DB
	driver Driver
}

// Open opens a connection pool and verifies connectivity.
func Open(cfg Config) (*Store, error) {
	driverName := "postgres"
	if cfg.Driver == DriverSQLite {
		driverName = "sqlite"
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping store database: %w", err)
	}

	return &Store{db: db, driver: cfg.Driver}, nil
}

// NewFromDB wraps an already-open *sql.DB, used by tests with go-sqlmock.
func NewFromDB(db *sql.DB, driver Driver) *Store {
	return &Store{db: db, driver: driver}
}

// DB exposes the underlying handle for the scheduler's health probe.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

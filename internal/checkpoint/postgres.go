package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/kestrel-labs/assistant-orchestrator/pkg/state"
)

// PostgresConfig configures a connection to either Postgres or CockroachDB;
// the wire protocol the two databases share makes lib/pq equally at home
// against either.
type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
	TTL             time.Duration
}

func (c PostgresConfig) dsn() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode, int(c.ConnectTimeout.Seconds()),
	)
}

// PostgresCheckpointer persists SessionState as a single JSONB blob per
// session row, keyed by session id, with prepared statements reused across
// calls.
type PostgresCheckpointer struct {
	db  *sql.DB
	ttl time.Duration

	stmtLoad   *sql.Stmt
	stmtUpsert *sql.Stmt
	stmtDelete *sql.Stmt
}

// NewPostgresCheckpointer opens a pooled connection and prepares statements.
func NewPostgresCheckpointer(cfg PostgresConfig) (*PostgresCheckpointer, error) {
	db, err := sql.Open("postgres", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("open checkpoint database: %w", err)
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
		return nil, fmt.Errorf("ping checkpoint database: %w", err)
	}

	c := &PostgresCheckpointer{db: db, ttl: cfg.TTL}
	if err := c.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *PostgresCheckpointer) prepareStatements() error {
	var err error

	c.stmtLoad, err = c.db.Prepare(`SELECT body, updated_at FROM session_checkpoints WHERE session_id = $1`)
	if err != nil {
		return fmt.Errorf("prepare load checkpoint: %w", err)
	}

	c.stmtUpsert, err = c.db.Prepare(`
		INSERT INTO session_checkpoints (session_id, body, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare save checkpoint: %w", err)
	}

	c.stmtDelete, err = c.db.Prepare(`DELETE FROM session_checkpoints WHERE session_id = $1`)
	if err != nil {
		return fmt.Errorf("prepare delete checkpoint: %w", err)
	}

	return nil
}

func (c *PostgresCheckpointer) Load(ctx context.Context, sessionID string) (*state.SessionState, error) {
	var body []byte
	var updatedAt time.Time
	err := c.stmtLoad.QueryRowContext(ctx, sessionID).Scan(&body, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, state.ErrSessionNotFound
	}
	if err != nil {
		return nil, state.NewCheckpointError(state.CheckpointUnavailable, sessionID, err)
	}
	if expired(updatedAt, c.ttl) {
		return nil, state.NewCheckpointError(state.CheckpointTTLExpired, sessionID, nil)
	}

	var s state.SessionState
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, state.NewCheckpointError(state.CheckpointCorrupt, sessionID, err)
	}
	return &s, nil
}

func (c *PostgresCheckpointer) Save(ctx context.Context, s *state.SessionState) error {
	if s == nil || s.SessionID == "" {
		return state.NewCheckpointError(state.CheckpointCorrupt, "", fmt.Errorf("missing session id"))
	}
	body, err := json.Marshal(s)
	if err != nil {
		return state.NewCheckpointError(state.CheckpointCorrupt, s.SessionID, err)
	}
	if _, err := c.stmtUpsert.ExecContext(ctx, s.SessionID, body, s.UpdatedAt); err != nil {
		return state.NewCheckpointError(state.CheckpointUnavailable, s.SessionID, err)
	}
	return nil
}

func (c *PostgresCheckpointer) Delete(ctx context.Context, sessionID string) error {
	if _, err := c.stmtDelete.ExecContext(ctx, sessionID); err != nil {
		return state.NewCheckpointError(state.CheckpointUnavailable, sessionID, err)
	}
	return nil
}

func (c *PostgresCheckpointer) Health(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return state.NewCheckpointError(state.CheckpointUnavailable, "", err)
	}
	return nil
}

// Close releases prepared statements and the pool.
func (c *PostgresCheckpointer) Close() error {
	if c.stmtLoad != nil {
		c.stmtLoad.Close()
	}
	if c.stmtUpsert != nil {
		c.stmtUpsert.Close()
	}
	if c.stmtDelete != nil {
		c.stmtDelete.Close()
	}
	return c.db.Close()
}

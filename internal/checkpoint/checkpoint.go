// Package checkpoint implements the Checkpointer contract: load/save/delete/
// health over a single serialized SessionState per session id, with a TTL
// that expires old sessions as not-found. Uses prepared statements and maps
// sql.ErrNoRows to a typed error, collapsed to one JSON blob column since
// SessionState is the single unit of persistence per turn.
package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/kestrel-labs/assistant-orchestrator/pkg/state"
)

// Checkpointer persists and retrieves SessionState by session id.
type Checkpointer interface {
	Load(ctx context.Context, sessionID string) (*state.SessionState, error)
	Save(ctx context.Context, s *state.SessionState) error
	Delete(ctx context.Context, sessionID string) error
	Health(ctx context.Context) error
}

// NotFoundAsFresh reports whether err represents an absent or TTL-expired
// checkpoint, the two conditions the orchestrator treats identically: start
// a brand-new SessionState rather than surfacing an error to the caller.
func NotFoundAsFresh(err error) bool {
	if errors.Is(err, state.ErrSessionNotFound) {
		return true
	}
	var cerr *state.CheckpointError
	if errors.As(err, &cerr) {
		return cerr.Kind == state.CheckpointTTLExpired
	}
	return false
}

// expired reports whether a checkpoint's last update falls outside ttl. A
// zero ttl disables expiry.
func expired(updatedAt time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return time.Since(updatedAt) > ttl
}

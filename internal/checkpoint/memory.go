package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/kestrel-labs/assistant-orchestrator/pkg/state"
)

// MemoryCheckpointer is an in-process Checkpointer backed by a map, used in
// tests and single-process deployments without a configured database.
type MemoryCheckpointer struct {
	mu    sync.RWMutex
	ttl   time.Duration
	store map[string]*state.SessionState
}

// NewMemoryCheckpointer builds a MemoryCheckpointer. ttl <= 0 disables expiry.
func NewMemoryCheckpointer(ttl time.Duration) *MemoryCheckpointer {
	return &MemoryCheckpointer{ttl: ttl, store: make(map[string]*state.SessionState)}
}

func (m *MemoryCheckpointer) Load(ctx context.Context, sessionID string) (*state.SessionState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.store[sessionID]
	if !ok {
		return nil, state.ErrSessionNotFound
	}
	if expired(s.UpdatedAt, m.ttl) {
		return nil, state.NewCheckpointError(state.CheckpointTTLExpired, sessionID, nil)
	}
	return s.Clone(), nil
}

func (m *MemoryCheckpointer) Save(ctx context.Context, s *state.SessionState) error {
	if s == nil || s.SessionID == "" {
		return state.NewCheckpointError(state.CheckpointCorrupt, "", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[s.SessionID] = s.Clone()
	return nil
}

func (m *MemoryCheckpointer) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, sessionID)
	return nil
}

func (m *MemoryCheckpointer) Health(ctx context.Context) error {
	return nil
}

package orchestrator

import "sync"

// sessionLocker provides a per-session, best-effort advisory lock: two
// concurrent turns for the same session_id are a client error (ConcurrentTurn),
// not something the facade queues or blocks on. Uses a fail-fast TryLock
// rather than blocking-with-timeout since same-session contention should be
// rejected, not serialized.
type sessionLocker struct {
	mu    sync.Mutex
	held  map[string]struct{}
}

func newSessionLocker() *sessionLocker {
	return &sessionLocker{held: make(map[string]struct{})}
}

// tryAcquire reports whether the lock for sessionID was free and is now
// held by the caller.
func (l *sessionLocker) tryAcquire(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[sessionID]; busy {
		return false
	}
	l.held[sessionID] = struct{}{}
	return true
}

func (l *sessionLocker) release(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, sessionID)
}

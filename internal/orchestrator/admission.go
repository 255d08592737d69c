package orchestrator

import "github.com/kestrel-labs/assistant-orchestrator/pkg/state"

// admission is a bounded in-flight limiter: a fixed-size channel used as a
// semaphore. Turns beyond the admitted concurrency are rejected immediately
// with Overloaded rather than queued, since backpressure must apply before
// any resource is acquired.
type admission struct {
	slots chan struct{}
}

func newAdmission(maxInFlight int) *admission {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &admission{slots: make(chan struct{}, maxInFlight)}
}

// tryEnter reports whether a slot was free and is now held by the caller.
// release must be called exactly once on success.
func (a *admission) tryEnter() (release func(), ok bool) {
	select {
	case a.slots <- struct{}{}:
		return func() { <-a.slots }, true
	default:
		return nil, false
	}
}

func (a *admission) overloaded() error {
	return &state.OverloadedError{QueueDepth: cap(a.slots)}
}

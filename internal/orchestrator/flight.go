package orchestrator

import (
	"context"
	"errors"
	"time"
)

// flight is a single-flight group: exactly one load is ever in flight per
// model id, and every caller attached to the flight receives the same
// outcome. err is written once, before done is closed.
type flight struct {
	modelID string
	done    chan struct{}
	err     error
	waiters int
}

// errFlightStale signals that a flight resolved successfully but the model
// was already gone again by the time the waiter looked; the waiter restarts
// its acquire from scratch.
var errFlightStale = errors.New("flight result no longer resident")

// awaitFlight blocks a waiter on an in-flight load. The wait is bounded by
// the load timeout and by the caller's context; either way of leaving early
// detaches only this waiter and never cancels the shared load. A reference
// is taken only once the waiter actually observes the ready entry, so a
// cancelled waiter can never leave a dangling reference.
func (o *Orchestrator) awaitFlight(ctx context.Context, f *flight) (*Handle, error) {
	timer := time.NewTimer(o.loadTimeout)
	defer timer.Stop()
	select {
	case <-f.done:
	case <-ctx.Done():
		o.detach(f)
		return nil, ctx.Err()
	case <-timer.C:
		o.detach(f)
		return nil, timeoutError{modelID: f.modelID, wait: o.loadTimeout}
	}
	o.detach(f)
	if f.err != nil {
		return nil, f.err
	}
	o.mu.Lock()
	e, ok := o.entries[f.modelID]
	if !ok || e.state != StateReady {
		o.mu.Unlock()
		return nil, errFlightStale
	}
	e.refCount++
	e.lastUsed = time.Now()
	o.mu.Unlock()
	return newHandle(f.modelID), nil
}

// detach removes one waiter from the flight's count. Bookkeeping only; the
// flight itself keeps running for the remaining waiters.
func (o *Orchestrator) detach(f *flight) {
	o.mu.Lock()
	f.waiters--
	o.mu.Unlock()
}

// completeFlight publishes the outcome to all waiters and retires the group.
// On success the entry is marked ready under the same lock hold that wakes
// the waiters, so a waking waiter always observes a consistent table.
func (o *Orchestrator) completeFlight(f *flight, err error) {
	o.mu.Lock()
	if err == nil {
		if e := o.entries[f.modelID]; e != nil {
			now := time.Now()
			e.state = StateReady
			e.loadedAt = now
			e.lastUsed = now
		}
	}
	f.err = err
	delete(o.flights, f.modelID)
	close(f.done)
	o.mu.Unlock()
}

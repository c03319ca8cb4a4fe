package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Orchestrator owns the residency table and the memory budget. All mutation
// passes through its mutex, which is held only for in-memory bookkeeping and
// never across backend I/O.
type Orchestrator struct {
	mu      sync.Mutex
	entries map[string]*entry
	flights map[string]*flight
	used    int64
	total   int64
	closed  bool

	pinned map[string]bool
	policy Policy
	specs  SpecSource

	backend      Backend
	loadSlots    *semaphore.Weighted
	loadTimeout  time.Duration
	maxRetries   int
	retryBackoff time.Duration

	stats     statsCollector
	publisher EventPublisher
	log       zerolog.Logger
	startTime time.Time

	// wg tracks in-flight loads so Close can drain them.
	wg sync.WaitGroup
}

// isPinned reports whether the model may never be evicted, either via its
// spec or via the configured pinned set.
func (o *Orchestrator) isPinned(id string) bool {
	if o.pinned[id] {
		return true
	}
	if s, ok := o.specs.Resolve(id); ok && s.Pinned {
		return true
	}
	return false
}

// Ready reports whether the orchestrator accepts new acquires.
func (o *Orchestrator) Ready() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.closed
}

// Close rejects new acquires, drains in-flight loads, then releases the
// backend client. Safe to call more than once.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()
	o.publish(Event{Name: "shutdown"})
	o.log.Info().Msg("orchestrator shutting down, draining loads")

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		o.log.Warn().Err(ctx.Err()).Msg("shutdown drain interrupted")
		return ctx.Err()
	}
	return o.backend.Close()
}

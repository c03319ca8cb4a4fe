package orchestrator

import (
	"context"
	"sync"
	"time"

	"modelpool/pkg/types"
)

// BackendState mirrors the inference engine's view of a model.
type BackendState string

const (
	BackendLoading BackendState = "loading"
	BackendReady   BackendState = "ready"
	BackendAbsent  BackendState = "absent"
)

// Backend performs the actual load/unload/status calls against the inference
// engine. All calls are treated as potentially slow and potentially failing;
// the orchestrator owns retry and backoff, the backend must not retry
// internally.
type Backend interface {
	// Load makes a base model resident in the engine.
	Load(ctx context.Context, spec types.ModelSpec) error
	// Attach applies adapter weights to an already-resident base.
	Attach(ctx context.Context, adapter, base types.ModelSpec) error
	// Unload removes a model from the engine. Best-effort on eviction.
	Unload(ctx context.Context, modelID string) error
	// Status reports the engine's view of a model.
	Status(ctx context.Context, modelID string) (BackendState, error)
	// Close releases resources associated with the client.
	Close() error
}

// withRetry runs fn up to maxRetries+1 times with exponential backoff,
// bounding each attempt by the load timeout. Only transient backend failures
// are retried here; the caller maps the final error to a load failure.
func (o *Orchestrator) withRetry(ctx context.Context, modelID string, fn func(context.Context) error) error {
	backoff := o.retryBackoff
	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
			backoff *= 2
		}
		attemptCtx, cancel := context.WithTimeout(ctx, o.loadTimeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		o.log.Warn().Str("model", modelID).Int("attempt", attempt+1).Err(err).Msg("backend call failed")
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

// StubBackend acknowledges every call after a fixed delay. Used for local
// and dev runs when no engine endpoint is configured.
type StubBackend struct {
	delay time.Duration

	mu       sync.Mutex
	resident map[string]bool
}

// NewStubBackend returns a stub that sleeps delay per load/attach.
func NewStubBackend(delay time.Duration) *StubBackend {
	return &StubBackend{delay: delay, resident: make(map[string]bool)}
}

func (b *StubBackend) sleep(ctx context.Context) error {
	if b.delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(b.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *StubBackend) Load(ctx context.Context, spec types.ModelSpec) error {
	if err := b.sleep(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	b.resident[spec.ID] = true
	b.mu.Unlock()
	return nil
}

func (b *StubBackend) Attach(ctx context.Context, adapter, _ types.ModelSpec) error {
	if err := b.sleep(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	b.resident[adapter.ID] = true
	b.mu.Unlock()
	return nil
}

func (b *StubBackend) Unload(_ context.Context, modelID string) error {
	b.mu.Lock()
	delete(b.resident, modelID)
	b.mu.Unlock()
	return nil
}

func (b *StubBackend) Status(_ context.Context, modelID string) (BackendState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.resident[modelID] {
		return BackendReady, nil
	}
	return BackendAbsent, nil
}

func (b *StubBackend) Close() error { return nil }

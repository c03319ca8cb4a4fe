package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"modelpool/internal/registry"
	"modelpool/pkg/types"
)

const (
	gb = int64(1 << 30)
	mb = int64(1 << 20)
)

func baseSpec(id string, size int64) types.ModelSpec {
	return types.ModelSpec{ID: id, Kind: types.KindBase, Path: "/models/" + id, SizeBytes: size}
}

func pinnedSpec(id string, size int64) types.ModelSpec {
	s := baseSpec(id, size)
	s.Pinned = true
	return s
}

func adapterSpec(id, baseID string, size int64) types.ModelSpec {
	return types.ModelSpec{ID: id, Kind: types.KindAdapter, BaseID: baseID, Path: "/adapters/" + id, SizeBytes: size}
}

// fakeBackend is a lightweight in-memory backend used for tests. It counts
// calls per model and can be told to delay or fail loads.
type fakeBackend struct {
	mu          sync.Mutex
	loadCalls   map[string]int
	attachCalls map[string]int
	unloadCalls map[string]int

	loadDelay time.Duration
	// failUntil[id] makes the first N load/attach calls for id fail.
	failUntil map[string]int
	failErr   error
	closed    bool
}

var errBackendDown = errors.New("backend unavailable")

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		loadCalls:   make(map[string]int),
		attachCalls: make(map[string]int),
		unloadCalls: make(map[string]int),
		failUntil:   make(map[string]int),
		failErr:     errBackendDown,
	}
}

func (b *fakeBackend) sleep(ctx context.Context) error {
	if b.loadDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(b.loadDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *fakeBackend) maybeFail(id string) error {
	if b.failUntil[id] > 0 {
		b.failUntil[id]--
		return b.failErr
	}
	return nil
}

func (b *fakeBackend) Load(ctx context.Context, spec types.ModelSpec) error {
	if err := b.sleep(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loadCalls[spec.ID]++
	return b.maybeFail(spec.ID)
}

func (b *fakeBackend) Attach(ctx context.Context, adapter, _ types.ModelSpec) error {
	if err := b.sleep(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attachCalls[adapter.ID]++
	return b.maybeFail(adapter.ID)
}

func (b *fakeBackend) Unload(_ context.Context, modelID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unloadCalls[modelID]++
	return nil
}

func (b *fakeBackend) Status(context.Context, string) (BackendState, error) {
	return BackendReady, nil
}

func (b *fakeBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBackend) loads(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loadCalls[id]
}

func (b *fakeBackend) attaches(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attachCalls[id]
}

func (b *fakeBackend) unloads(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unloadCalls[id]
}

// newTestOrch builds an orchestrator over a fake backend and an in-memory
// registry. Callers mutate cfg via the optional tweak.
func newTestOrch(t *testing.T, total int64, specs []types.ModelSpec, tweak func(*Config)) (*Orchestrator, *fakeBackend) {
	t.Helper()
	reg, err := registry.FromSpecs(specs)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	fb := newFakeBackend()
	cfg := Config{
		TotalBytes:     total,
		Specs:          reg,
		Backend:        fb,
		LoadTimeout:    2 * time.Second,
		MaxLoadRetries: 0,
		RetryBackoff:   time.Millisecond,
		Logger:         zerolog.Nop(),
	}
	if tweak != nil {
		tweak(&cfg)
	}
	o, err := New(cfg)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return o, fb
}

// mustAcquire acquires or fails the test.
func mustAcquire(t *testing.T, o *Orchestrator, spec types.ModelSpec) *Handle {
	t.Helper()
	h, err := o.Acquire(context.Background(), spec)
	if err != nil {
		t.Fatalf("acquire %s: %v", spec.ID, err)
	}
	return h
}

// mustRelease releases or fails the test.
func mustRelease(t *testing.T, o *Orchestrator, h *Handle) {
	t.Helper()
	if err := o.Release(h); err != nil {
		t.Fatalf("release %s: %v", h.ModelID(), err)
	}
}

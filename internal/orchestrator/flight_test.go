package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"modelpool/pkg/types"
)

func TestConcurrentAcquiresShareOneLoad(t *testing.T) {
	a := baseSpec("a", gb)
	o, fb := newTestOrch(t, 10*gb, []types.ModelSpec{a}, nil)
	fb.loadDelay = 50 * time.Millisecond

	const n = 8
	var wg sync.WaitGroup
	handles := make([]*Handle, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = o.Acquire(context.Background(), a)
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, fb.loads("a"), "concurrent misses must coalesce into one backend load")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, handles[i])
	}

	st := o.Status()
	require.Len(t, st.Entries, 1)
	require.Equal(t, n, st.Entries[0].RefCount)

	for _, h := range handles {
		mustRelease(t, o, h)
	}
	require.Zero(t, o.Status().Entries[0].RefCount)

	// The coalesced load counts as a single miss; attached waiters are part
	// of that miss, not hits.
	s := o.Stats()
	require.Equal(t, uint64(1), s.Misses)
	require.Zero(t, s.Hits)
}

func TestFlightFailurePropagatesToAllWaiters(t *testing.T) {
	a := baseSpec("a", gb)
	o, fb := newTestOrch(t, 10*gb, []types.ModelSpec{a}, nil)
	fb.loadDelay = 50 * time.Millisecond
	fb.failUntil["a"] = 1

	const n = 4
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = o.Acquire(context.Background(), a)
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, fb.loads("a"))
	for i := 0; i < n; i++ {
		require.Error(t, errs[i])
		require.True(t, IsLoadError(errs[i]), "waiter %d got %v", i, errs[i])
	}
	require.Empty(t, o.Status().Entries)
}

func TestWaiterCancelDoesNotAbortSharedLoad(t *testing.T) {
	a := baseSpec("a", gb)
	o, fb := newTestOrch(t, 10*gb, []types.ModelSpec{a}, nil)
	fb.loadDelay = 80 * time.Millisecond

	ownerDone := make(chan error, 1)
	go func() {
		h, err := o.Acquire(context.Background(), a)
		if err == nil {
			err = o.Release(h)
		}
		ownerDone <- err
	}()

	// Let the owner claim the flight before the waiter attaches.
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	waiterDone := make(chan error, 1)
	go func() {
		_, err := o.Acquire(ctx, a)
		waiterDone <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	require.ErrorIs(t, <-waiterDone, context.Canceled)
	require.NoError(t, <-ownerDone)

	// The load completed for the owner despite the waiter bailing out.
	require.Equal(t, 1, fb.loads("a"))
	st := o.Status()
	require.Len(t, st.Entries, 1)
	require.Zero(t, st.Entries[0].RefCount, "cancelled waiter must not leave a reference")
}

func TestWaiterTimeoutOnlyFailsThatWaiter(t *testing.T) {
	a := baseSpec("a", gb)
	o, fb := newTestOrch(t, 10*gb, []types.ModelSpec{a}, func(c *Config) {
		c.LoadTimeout = 60 * time.Millisecond
	})
	fb.loadDelay = 40 * time.Millisecond

	ownerDone := make(chan error, 1)
	go func() {
		h, err := o.Acquire(context.Background(), a)
		if err == nil {
			defer o.Release(h)
		}
		ownerDone <- err
	}()
	time.Sleep(5 * time.Millisecond)

	// This waiter's own deadline is tighter than the flight's remaining time.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := o.Acquire(ctx, a)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, <-ownerDone)
	require.Equal(t, 1, fb.loads("a"))
}

func TestDistinctModelsLoadIndependently(t *testing.T) {
	a := baseSpec("a", gb)
	b := baseSpec("b", gb)
	o, fb := newTestOrch(t, 10*gb, []types.ModelSpec{a, b}, func(c *Config) {
		c.MaxConcurrentLoads = 2
	})
	fb.loadDelay = 30 * time.Millisecond

	var wg sync.WaitGroup
	start := time.Now()
	for _, s := range []types.ModelSpec{a, b} {
		wg.Add(1)
		go func(s types.ModelSpec) {
			defer wg.Done()
			h := mustAcquire(t, o, s)
			mustRelease(t, o, h)
		}(s)
	}
	wg.Wait()

	require.Equal(t, 1, fb.loads("a"))
	require.Equal(t, 1, fb.loads("b"))
	// Two slots, so the loads overlapped rather than serialized.
	require.Less(t, time.Since(start), 2*fb.loadDelay)
}

func TestLoadSlotLimitSerializesLoads(t *testing.T) {
	a := baseSpec("a", gb)
	b := baseSpec("b", gb)
	o, fb := newTestOrch(t, 10*gb, []types.ModelSpec{a, b}, func(c *Config) {
		c.MaxConcurrentLoads = 1
	})
	fb.loadDelay = 30 * time.Millisecond

	var wg sync.WaitGroup
	start := time.Now()
	for _, s := range []types.ModelSpec{a, b} {
		wg.Add(1)
		go func(s types.ModelSpec) {
			defer wg.Done()
			h := mustAcquire(t, o, s)
			mustRelease(t, o, h)
		}(s)
	}
	wg.Wait()

	require.GreaterOrEqual(t, time.Since(start), 2*fb.loadDelay)
}

func TestSlotWaitTimeoutIsTimeoutError(t *testing.T) {
	a := baseSpec("a", gb)
	b := baseSpec("b", gb)
	o, fb := newTestOrch(t, 10*gb, []types.ModelSpec{a, b}, func(c *Config) {
		c.MaxConcurrentLoads = 1
		c.LoadTimeout = 30 * time.Millisecond
		c.MaxLoadRetries = 3
		c.RetryBackoff = 50 * time.Millisecond
	})
	// Every attempt runs into the per-attempt deadline, so the load for a
	// holds the only slot through retries and backoff, far past b's bound.
	fb.loadDelay = 200 * time.Millisecond

	ownerDone := make(chan error, 1)
	go func() {
		_, err := o.Acquire(context.Background(), a)
		ownerDone <- err
	}()
	time.Sleep(10 * time.Millisecond)

	// b cannot get the single load slot before the timeout elapses.
	_, err := o.Acquire(context.Background(), b)
	require.True(t, IsTimeout(err), "got %v", err)

	require.True(t, IsTimeout(<-ownerDone))

	// Both flights roll back; draining proves neither left an entry behind.
	require.NoError(t, o.Close(context.Background()))
	require.Empty(t, o.Status().Entries)
}

func TestOwnerCancelDoesNotAbortSharedLoad(t *testing.T) {
	a := baseSpec("a", gb)
	o, fb := newTestOrch(t, 10*gb, []types.ModelSpec{a}, nil)
	fb.loadDelay = 100 * time.Millisecond

	ownerCtx, cancelOwner := context.WithCancel(context.Background())
	ownerDone := make(chan error, 1)
	go func() {
		_, err := o.Acquire(ownerCtx, a)
		ownerDone <- err
	}()
	time.Sleep(10 * time.Millisecond)

	var wh *Handle
	waiterDone := make(chan error, 1)
	go func() {
		h, err := o.Acquire(context.Background(), a)
		wh = h
		waiterDone <- err
	}()
	time.Sleep(10 * time.Millisecond)

	// Cancelling the caller that started the load detaches only that caller.
	cancelOwner()
	require.ErrorIs(t, <-ownerDone, context.Canceled)

	require.NoError(t, <-waiterDone)
	require.Equal(t, 1, fb.loads("a"))
	require.Equal(t, 1, o.Status().Entries[0].RefCount)
	mustRelease(t, o, wh)
}

func TestCancelledCallerLeavesLoadRunning(t *testing.T) {
	a := baseSpec("a", gb)
	o, fb := newTestOrch(t, 10*gb, []types.ModelSpec{a}, nil)
	fb.loadDelay = 30 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Acquire(ctx, a)
	require.ErrorIs(t, err, context.Canceled)

	// The load runs to completion detached from the caller; draining shows
	// the model ended up warm with no dangling reference.
	require.NoError(t, o.Close(context.Background()))
	st := o.Status()
	require.Len(t, st.Entries, 1)
	require.Equal(t, "a", st.Entries[0].ModelID)
	require.Zero(t, st.Entries[0].RefCount)
	require.Equal(t, 1, fb.loads("a"))
}

func TestStatusCountsFlightWaiters(t *testing.T) {
	a := baseSpec("a", gb)
	o, fb := newTestOrch(t, 10*gb, []types.ModelSpec{a}, nil)
	fb.loadDelay = 60 * time.Millisecond

	res := make(chan error, 1)
	go func() {
		h, err := o.Acquire(context.Background(), a)
		if err == nil {
			err = o.Release(h)
		}
		res <- err
	}()
	time.Sleep(15 * time.Millisecond)

	st := o.Status()
	require.Equal(t, 1, st.LoadsInFlight)
	require.GreaterOrEqual(t, st.LoadWaiters, 1)

	require.NoError(t, <-res)
	st = o.Status()
	require.Zero(t, st.LoadsInFlight)
	require.Zero(t, st.LoadWaiters)
}

func TestAcquireAfterFailureStartsFreshFlight(t *testing.T) {
	a := baseSpec("a", gb)
	o, fb := newTestOrch(t, 10*gb, []types.ModelSpec{a}, nil)
	fb.failUntil["a"] = 1

	_, err := o.Acquire(context.Background(), a)
	require.True(t, IsLoadError(err))

	// The failed flight was retired; a new acquire gets a new flight.
	h := mustAcquire(t, o, a)
	mustRelease(t, o, h)
	require.Equal(t, 2, fb.loads("a"))
}

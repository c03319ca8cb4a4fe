package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"modelpool/pkg/types"
)

// Acquire returns a handle on a resident model, loading it first if needed.
// On a hit the reference count is bumped and the handle returns immediately.
// On a miss the caller starts the load for the missing id or attaches to the
// load already in flight for it; all attached callers share the outcome. The
// load itself runs on a context detached from every caller, so cancelling a
// caller only detaches that caller and never aborts the shared load.
func (o *Orchestrator) Acquire(ctx context.Context, spec types.ModelSpec) (*Handle, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return o.acquire(ctx, spec)
}

func (o *Orchestrator) acquire(ctx context.Context, spec types.ModelSpec) (*Handle, error) {
	for {
		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			return nil, closedError{}
		}
		if e, ok := o.entries[spec.ID]; ok && e.state == StateReady {
			e.refCount++
			e.lastUsed = time.Now()
			o.mu.Unlock()
			o.stats.hit()
			metricHits.Inc()
			h := newHandle(spec.ID)
			o.publish(Event{Name: "acquire_hit", ModelID: spec.ID, Fields: map[string]any{"handle": h.id}})
			return h, nil
		}
		f, attached := o.flights[spec.ID]
		if !attached {
			// We own the miss. The load runs detached from our context; we
			// then wait on the flight like any other caller.
			f = &flight{modelID: spec.ID, done: make(chan struct{})}
			o.flights[spec.ID] = f
			o.wg.Add(1)
			go o.runLoad(context.WithoutCancel(ctx), spec, f)
		}
		f.waiters++
		o.mu.Unlock()
		if !attached {
			o.stats.miss()
			metricMisses.Inc()
			o.publish(Event{Name: "acquire_miss", ModelID: spec.ID})
		}
		h, err := o.awaitFlight(ctx, f)
		if errors.Is(err, errFlightStale) {
			continue
		}
		return h, err
	}
}

// runLoad drives the miss path in the background and resolves the flight with
// whatever doLoad produced. The caller that started it waits on the flight
// alongside everyone else.
func (o *Orchestrator) runLoad(ctx context.Context, spec types.ModelSpec, f *flight) {
	defer o.wg.Done()
	o.completeFlight(f, o.doLoad(ctx, spec))
}

// doLoad performs reservation, eviction, and the backend load or attach.
// The budget lock is never held across any of the backend calls. On success
// the entry is left in state Loading; completeFlight marks it ready together
// with retiring the flight.
func (o *Orchestrator) doLoad(ctx context.Context, spec types.ModelSpec) error {
	start := time.Now()
	o.publish(Event{Name: "load_start", ModelID: spec.ID})
	o.log.Info().Str("model", spec.ID).Str("kind", string(spec.Kind)).Msg("load start")

	// Adapter fast path: hold the base resident before attaching. The base
	// reference lives in the adapter's entry until the entry is removed.
	var baseHandle *Handle
	var baseSpec types.ModelSpec
	if spec.IsAdapter() {
		bs, ok := o.specs.Resolve(spec.BaseID)
		if !ok {
			return fmt.Errorf("adapter %q: unknown base %q", spec.ID, spec.BaseID)
		}
		baseSpec = bs
		bh, err := o.acquire(ctx, bs)
		if err != nil {
			return err
		}
		baseHandle = bh
	}

	if err := o.reserve(spec, baseHandle); err != nil {
		if baseHandle != nil {
			_ = o.Release(baseHandle)
		}
		return err
	}
	// From here the entry owns baseHandle; failRollback releases it.

	failRollback := func(err error) error {
		if bh := o.rollback(spec.ID); bh != nil {
			_ = o.Release(bh)
		}
		return err
	}

	// Bound the number of concurrent backend loads.
	metricLoadsInFlight.Inc()
	defer metricLoadsInFlight.Dec()
	slotCtx, cancel := context.WithTimeout(ctx, o.loadTimeout)
	err := o.loadSlots.Acquire(slotCtx, 1)
	cancel()
	if err != nil {
		return failRollback(timeoutError{modelID: spec.ID, wait: o.loadTimeout})
	}
	defer o.loadSlots.Release(1)

	loadFn := func(c context.Context) error { return o.backend.Load(c, spec) }
	if spec.IsAdapter() {
		loadFn = func(c context.Context) error { return o.backend.Attach(c, spec, baseSpec) }
	}
	if err := o.withRetry(ctx, spec.ID, loadFn); err != nil {
		metricLoadFailures.Inc()
		o.publish(Event{Name: "load_fail", ModelID: spec.ID, Fields: map[string]any{"error": err.Error()}})
		o.log.Error().Str("model", spec.ID).Err(err).Msg("load failed")
		return failRollback(loadError{modelID: spec.ID, err: err})
	}

	dur := time.Since(start)
	o.stats.observeLoad(dur)
	metricLoads.Inc()
	metricLoadDuration.Observe(dur.Seconds())
	o.publish(Event{Name: "load_ready", ModelID: spec.ID, Fields: map[string]any{"dur_ms": dur.Milliseconds()}})
	o.log.Info().Str("model", spec.ID).Dur("dur", dur).Msg("load ready")
	return nil
}

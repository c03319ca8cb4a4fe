package orchestrator

import (
	"context"
	"errors"
	"time"

	"modelpool/pkg/types"
)

// reserve enters the Reserving region: holding the budget lock just long
// enough to decide the eviction set and account the freed+required bytes
// atomically. The slow backend unload calls for evicted models happen after
// the lock is released.
//
// On success the new entry is installed in state Loading and owns baseHandle;
// a later rollback returns that handle to the caller for release.
func (o *Orchestrator) reserve(spec types.ModelSpec, baseHandle *Handle) error {
	need := spec.SizeBytes
	excluded := make(map[string]bool)
	var toUnload []types.ModelSpec

	o.mu.Lock()
	// Full feasibility is decided here, before any eviction executes: an
	// unsatisfiable request must refuse without sacrificing warm state.
	if maxFree := o.freeableBytesLocked(excluded); o.used-maxFree+need > o.total {
		available := o.total - o.used + maxFree
		o.mu.Unlock()
		return budgetExceededError{modelID: spec.ID, required: need, available: available}
	}
	for o.used+need > o.total {
		gap := o.used + need - o.total
		cands := o.evictionCandidatesLocked(excluded)
		ids, ok := o.policy.Plan(cands, gap, time.Now())
		if !ok && len(ids) == 0 && o.hasCascadableLocked(excluded) {
			// Evicting an idle adapter releases its hidden base reference,
			// which can unlock the base as a further candidate. Evict the
			// adapters the plan could see, then replan.
			ids = o.idleAdapterIdsLocked(excluded)
		}
		if len(ids) == 0 {
			// Unreachable while the feasibility check above holds; kept so a
			// policy that plans less than it promised cannot loop forever.
			free := o.total - o.used
			for _, c := range cands {
				free += c.SizeBytes
			}
			o.mu.Unlock()
			o.finishEvictions(toUnload)
			return budgetExceededError{modelID: spec.ID, required: need, available: free}
		}
		if err := o.executePlanLocked(ids, &toUnload); err != nil {
			var ce evictionConflictError
			if errors.As(err, &ce) {
				excluded[ce.modelID] = true
				o.log.Debug().Str("model", ce.modelID).Msg("eviction candidate gained a reference, replanning")
				continue
			}
			o.mu.Unlock()
			o.finishEvictions(toUnload)
			return err
		}
	}
	o.entries[spec.ID] = &entry{
		spec:       spec,
		state:      StateLoading,
		lastUsed:   time.Now(),
		baseHandle: baseHandle,
	}
	o.used += need
	o.assertAccountingLocked()
	o.updateGaugesLocked()
	o.mu.Unlock()

	o.finishEvictions(toUnload)
	return nil
}

// rollback discards a reservation after a failed or abandoned load and
// returns the base handle the entry owned, if any, for the caller to release.
func (o *Orchestrator) rollback(modelID string) *Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[modelID]
	if !ok {
		return nil
	}
	delete(o.entries, modelID)
	o.used -= e.spec.SizeBytes
	o.assertAccountingLocked()
	o.updateGaugesLocked()
	return e.baseHandle
}

// evictionCandidatesLocked projects the evictable subset of the residency
// table: zero references, not pinned, ready, not excluded by a prior
// conflict.
func (o *Orchestrator) evictionCandidatesLocked(excluded map[string]bool) []EvictionCandidate {
	var out []EvictionCandidate
	for id, e := range o.entries {
		if excluded[id] || e.refCount > 0 || e.state != StateReady || o.isPinned(id) {
			continue
		}
		out = append(out, EvictionCandidate{
			ModelID:   id,
			Kind:      e.spec.Kind,
			SizeBytes: e.spec.SizeBytes,
			LastUsed:  e.lastUsed,
		})
	}
	return out
}

// executePlanLocked removes the planned entries from the table. Each
// candidate is re-checked; one that gained a reference since planning yields
// an evictionConflictError so the caller can replan without it. An evicted
// adapter's hidden base reference is dropped inline, under the same lock
// hold, so the base becomes a candidate on the caller's next planning pass.
func (o *Orchestrator) executePlanLocked(ids []string, toUnload *[]types.ModelSpec) error {
	for _, id := range ids {
		e, ok := o.entries[id]
		if !ok || e.state != StateReady || e.refCount > 0 || o.isPinned(id) {
			return evictionConflictError{modelID: id}
		}
		e.state = StateEvicting
		delete(o.entries, id)
		o.used -= e.spec.SizeBytes
		o.stats.evict()
		metricEvictions.Inc()
		*toUnload = append(*toUnload, e.spec)
		if e.baseHandle != nil {
			e.baseHandle.invalidate()
			if be := o.entries[e.baseHandle.modelID]; be != nil && be.refCount > 0 {
				be.refCount--
			}
		}
	}
	o.assertAccountingLocked()
	o.updateGaugesLocked()
	return nil
}

// freeableBytesLocked returns the most memory eviction could possibly free:
// every idle ready unpinned entry, plus bases whose remaining references are
// all hidden ones held by such adapters (the cascade frees those too).
func (o *Orchestrator) freeableBytesLocked(excluded map[string]bool) int64 {
	hidden := make(map[string]int)
	var sum int64
	for id, e := range o.entries {
		if excluded[id] || e.refCount > 0 || e.state != StateReady || o.isPinned(id) {
			continue
		}
		sum += e.spec.SizeBytes
		if e.baseHandle != nil {
			hidden[e.baseHandle.modelID]++
		}
	}
	for id, e := range o.entries {
		if excluded[id] || e.refCount == 0 || e.state != StateReady || o.isPinned(id) {
			continue
		}
		if e.refCount == hidden[id] {
			sum += e.spec.SizeBytes
		}
	}
	return sum
}

// hasCascadableLocked reports whether any idle adapter still holds a base
// reference, meaning eviction could free more than the plan could see.
func (o *Orchestrator) hasCascadableLocked(excluded map[string]bool) bool {
	for id, e := range o.entries {
		if excluded[id] || e.refCount > 0 || e.state != StateReady || o.isPinned(id) {
			continue
		}
		if e.baseHandle != nil {
			return true
		}
	}
	return false
}

// idleAdapterIdsLocked returns every currently evictable adapter.
func (o *Orchestrator) idleAdapterIdsLocked(excluded map[string]bool) []string {
	var out []string
	for id, e := range o.entries {
		if excluded[id] || e.refCount > 0 || e.state != StateReady || o.isPinned(id) {
			continue
		}
		if e.spec.IsAdapter() {
			out = append(out, id)
		}
	}
	return out
}

// finishEvictions performs the slow half of eviction outside the lock:
// best-effort backend unloads in eviction order, adapters ahead of the bases
// they were attached to.
func (o *Orchestrator) finishEvictions(toUnload []types.ModelSpec) {
	for _, s := range toUnload {
		ctx, cancel := context.WithTimeout(context.Background(), o.loadTimeout)
		if err := o.backend.Unload(ctx, s.ID); err != nil {
			o.log.Warn().Str("model", s.ID).Err(err).Msg("backend unload failed")
		}
		cancel()
		o.publish(Event{Name: "evict", ModelID: s.ID, Fields: map[string]any{"size_bytes": s.SizeBytes}})
		o.log.Info().Str("model", s.ID).Int64("size_bytes", s.SizeBytes).Msg("evicted")
	}
}

// assertAccountingLocked checks the budget invariant after a mutation:
// used equals the sum of resident sizes and never exceeds the total.
func (o *Orchestrator) assertAccountingLocked() {
	var sum int64
	for _, e := range o.entries {
		sum += e.spec.SizeBytes
	}
	if sum != o.used || o.used > o.total || o.used < 0 {
		o.log.Error().
			Int64("used", o.used).
			Int64("sum", sum).
			Int64("total", o.total).
			Msg("budget accounting invariant violated")
	}
}

func (o *Orchestrator) updateGaugesLocked() {
	metricUsedBytes.Set(float64(o.used))
	metricResidentModels.Set(float64(len(o.entries)))
}

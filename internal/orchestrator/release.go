package orchestrator

import "time"

// Release returns a handle. The model stays warm with its reference count
// decremented; it becomes evictable once the count reaches zero. Releasing a
// handle twice, or a nil handle, is a caller bug and is rejected without
// touching the reference count.
func (o *Orchestrator) Release(h *Handle) error {
	if h == nil {
		return releaseUnderflowError{}
	}
	if !h.invalidate() {
		o.log.Error().Str("model", h.modelID).Str("handle", h.id).Msg("handle released more than once")
		return releaseUnderflowError{modelID: h.modelID}
	}
	o.mu.Lock()
	e, ok := o.entries[h.modelID]
	if !ok || e.refCount <= 0 {
		o.mu.Unlock()
		o.log.Error().Str("model", h.modelID).Str("handle", h.id).Msg("release without matching acquire")
		return releaseUnderflowError{modelID: h.modelID}
	}
	e.refCount--
	e.lastUsed = time.Now()
	o.mu.Unlock()
	o.publish(Event{Name: "release", ModelID: h.modelID, Fields: map[string]any{"handle": h.id}})
	return nil
}

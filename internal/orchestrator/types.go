package orchestrator

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"modelpool/pkg/types"
)

// EntryState represents the lifecycle state of a resident model.
type EntryState string

const (
	StateLoading  EntryState = "loading"
	StateReady    EntryState = "ready"
	StateEvicting EntryState = "evicting"
)

// entry is one row of the residency table. All fields are guarded by the
// orchestrator mutex.
type entry struct {
	spec     types.ModelSpec
	state    EntryState
	refCount int
	lastUsed time.Time
	loadedAt time.Time
	// baseHandle holds a reference on the base model for the full duration of
	// an adapter's residency, so the base can never be evicted underneath it.
	// Nil for base entries.
	baseHandle *Handle
}

// Handle is the caller's proof of an outstanding reference on a resident
// model. Each handle may be released exactly once.
type Handle struct {
	id       string
	modelID  string
	released atomic.Bool
}

func newHandle(modelID string) *Handle {
	return &Handle{id: uuid.NewString(), modelID: modelID}
}

// ModelID returns the id of the model this handle references.
func (h *Handle) ModelID() string { return h.modelID }

// invalidate marks the handle released. Returns false if it already was,
// which callers must treat as an over-release.
func (h *Handle) invalidate() bool {
	return h.released.CompareAndSwap(false, true)
}

package orchestrator

import (
	"errors"
	"fmt"
	"time"
)

// loadError signals that the backend load or attach failed after exhausting
// retries. Every waiter on the single-flight group receives the same value.
type loadError struct {
	modelID string
	err     error
}

func (e loadError) Error() string { return fmt.Sprintf("load %s: %v", e.modelID, e.err) }
func (e loadError) Unwrap() error { return e.err }

// IsLoadError reports whether err indicates a failed backend load.
func IsLoadError(err error) bool {
	var le loadError
	return errors.As(err, &le)
}

// budgetExceededError signals that even maximal eviction cannot free enough
// space. Surfaced immediately; the caller must shed load.
type budgetExceededError struct {
	modelID   string
	required  int64
	available int64
}

func (e budgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: %s requires %d bytes, at most %d freeable", e.modelID, e.required, e.available)
}

// IsBudgetExceeded reports whether err indicates unsatisfiable memory demand.
func IsBudgetExceeded(err error) bool {
	var be budgetExceededError
	return errors.As(err, &be)
}

// timeoutError signals that a waiter exceeded the configured bound waiting on
// an in-flight load or a load slot. Only the timed-out waiter fails.
type timeoutError struct {
	modelID string
	wait    time.Duration
}

func (e timeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s", e.wait, e.modelID)
}

// IsTimeout reports whether err indicates a bounded wait expired.
func IsTimeout(err error) bool {
	var te timeoutError
	return errors.As(err, &te)
}

// releaseUnderflowError signals a handle released more times than acquired.
// Rejected, never allowed to corrupt the reference count.
type releaseUnderflowError struct{ modelID string }

func (e releaseUnderflowError) Error() string {
	if e.modelID == "" {
		return "release underflow: nil handle"
	}
	return "release underflow: " + e.modelID
}

// IsReleaseUnderflow reports whether err indicates an over-release.
func IsReleaseUnderflow(err error) bool {
	var re releaseUnderflowError
	return errors.As(err, &re)
}

// evictionConflictError is internal: a selected candidate gained a reference
// before eviction executed. The plan is re-run with the candidate excluded.
type evictionConflictError struct{ modelID string }

func (e evictionConflictError) Error() string { return "eviction conflict: " + e.modelID }

// IsEvictionConflict reports whether err indicates a stale eviction pick.
func IsEvictionConflict(err error) bool {
	var ce evictionConflictError
	return errors.As(err, &ce)
}

// closedError signals the orchestrator is shutting down.
type closedError struct{}

func (closedError) Error() string { return "orchestrator is closed" }

// IsClosed reports whether err indicates the orchestrator has shut down.
func IsClosed(err error) bool {
	var ce closedError
	return errors.As(err, &ce)
}

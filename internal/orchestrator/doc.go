// Package orchestrator decides which models and adapter weights are resident
// in the shared accelerator and brokers concurrent access to that decision.
// It is structured into small files by concern:
//
//   - orchestrator.go: core Orchestrator type, constructor, Close.
//   - config.go: Config and package defaults; New applies defaults.
//   - types.go: internal state types (EntryState, entry, Handle).
//   - errors.go: error types and helpers (IsLoadError, IsBudgetExceeded, ...).
//   - acquire.go: Acquire hit/miss paths and the load lifecycle.
//   - flight.go: per-model single-flight groups and waiter handling.
//   - budget.go: budget reservation, rollback, and accounting checks.
//   - evict.go: pure eviction planning (lru, lru-cost-weighted policies).
//   - release.go: Release and reference-count underflow protection.
//   - backend.go: Backend interface, retry/backoff, stub backend.
//   - backend_http.go: HTTP client for a remote inference engine.
//   - stats.go: hit/miss/eviction/load-latency counters.
//   - metrics.go: Prometheus collectors.
//   - events.go: EventPublisher plumbing.
//   - snapshot.go: Status/Stats read-only projections.
//
// External packages should treat this package as the residency layer and use
// public methods only (New, Acquire, Release, Status, Stats, Close). Internal
// types are subject to change.
package orchestrator

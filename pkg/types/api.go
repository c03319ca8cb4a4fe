package types

// ModelsResponse wraps the list of known model specs returned by GET /models.
type ModelsResponse struct {
	Models []ModelSpec `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	Error string `json:"error"`
	// HTTP status code.
	Code int `json:"code"`
}

// ResidencyStatus summarizes one resident model for GET /status.
type ResidencyStatus struct {
	// ID of the resident model.
	ModelID string `json:"model_id"`
	// Current lifecycle state (loading, ready, evicting).
	State string `json:"state"`
	// Number of outstanding handles.
	RefCount int `json:"ref_count"`
	// Memory occupied by this model.
	SizeBytes int64 `json:"size_bytes"`
	// Last time a handle was acquired or released (unix seconds).
	LastUsed int64 `json:"last_used_unix"`
	// Time the model became ready (unix seconds, 0 while loading).
	LoadedAt int64 `json:"loaded_at_unix,omitempty"`
	// Whether the model is pinned and immune to eviction.
	Pinned bool `json:"pinned,omitempty"`
}

// StatusResponse is returned by GET /status. Passive export only; nothing in
// this payload is a control surface.
type StatusResponse struct {
	// Resident models, sorted by id.
	Entries []ResidencyStatus `json:"entries"`
	// Total accelerator memory budget in bytes.
	TotalBytes int64 `json:"total_bytes"`
	// Bytes currently reserved by resident models.
	UsedBytes int64 `json:"used_bytes"`
	// Number of loads currently in flight.
	LoadsInFlight int `json:"loads_in_flight"`
	// Callers currently waiting on in-flight loads.
	LoadWaiters int `json:"load_waiters"`
	// Overall orchestrator state (ready, closed).
	State string `json:"state"`
	// Uptime of the orchestrator in seconds.
	UptimeSeconds int64 `json:"uptime_seconds"`
	// Server time in unix seconds.
	ServerTimeUnix int64 `json:"server_time_unix"`
}

// StatsResponse is returned by GET /stats and by Orchestrator.Stats().
type StatsResponse struct {
	// Acquire calls satisfied from the residency table.
	Hits uint64 `json:"hits"`
	// Acquire calls that required a load.
	Misses uint64 `json:"misses"`
	// Models evicted to make room.
	Evictions uint64 `json:"evictions"`
	// Mean backend load latency in milliseconds, 0 when no loads completed.
	AvgLoadMs float64 `json:"avg_load_ms"`
	// Current memory accounting, duplicated here for dashboards that only
	// scrape one endpoint.
	UsedBytes  int64 `json:"used_bytes"`
	TotalBytes int64 `json:"total_bytes"`
}

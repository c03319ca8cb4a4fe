package orchestrator

import (
	"sort"
	"time"

	"modelpool/pkg/types"
)

// Status builds a read-only residency snapshot for diagnostics.
func (o *Orchestrator) Status() types.StatusResponse {
	o.mu.Lock()
	defer o.mu.Unlock()
	resp := types.StatusResponse{
		TotalBytes:     o.total,
		UsedBytes:      o.used,
		LoadsInFlight:  len(o.flights),
		State:          "ready",
		UptimeSeconds:  int64(time.Since(o.startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
	if o.closed {
		resp.State = "closed"
	}
	for _, f := range o.flights {
		resp.LoadWaiters += f.waiters
	}
	resp.Entries = make([]types.ResidencyStatus, 0, len(o.entries))
	for id, e := range o.entries {
		st := types.ResidencyStatus{
			ModelID:   id,
			State:     string(e.state),
			RefCount:  e.refCount,
			SizeBytes: e.spec.SizeBytes,
			LastUsed:  e.lastUsed.Unix(),
			Pinned:    o.isPinned(id),
		}
		if !e.loadedAt.IsZero() {
			st.LoadedAt = e.loadedAt.Unix()
		}
		resp.Entries = append(resp.Entries, st)
	}
	sort.Slice(resp.Entries, func(i, j int) bool {
		return resp.Entries[i].ModelID < resp.Entries[j].ModelID
	})
	return resp
}

// Stats returns the usage counters.
func (o *Orchestrator) Stats() types.StatsResponse {
	o.mu.Lock()
	used, total := o.used, o.total
	o.mu.Unlock()
	return types.StatsResponse{
		Hits:       o.stats.hits.Load(),
		Misses:     o.stats.misses.Load(),
		Evictions:  o.stats.evictions.Load(),
		AvgLoadMs:  o.stats.avgLoadMs(),
		UsedBytes:  used,
		TotalBytes: total,
	}
}

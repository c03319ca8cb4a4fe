package orchestrator

import (
	"sync/atomic"
	"time"
)

// statsCollector records hits, misses, eviction events, and load latencies.
// Observability only; nothing reads these counters to make decisions.
type statsCollector struct {
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64

	loadCount   atomic.Uint64
	loadNanosum atomic.Int64
}

func (s *statsCollector) hit()   { s.hits.Add(1) }
func (s *statsCollector) miss()  { s.misses.Add(1) }
func (s *statsCollector) evict() { s.evictions.Add(1) }

func (s *statsCollector) observeLoad(d time.Duration) {
	s.loadCount.Add(1)
	s.loadNanosum.Add(int64(d))
}

// avgLoadMs returns the mean load latency in milliseconds, 0 before the
// first completed load.
func (s *statsCollector) avgLoadMs() float64 {
	n := s.loadCount.Load()
	if n == 0 {
		return 0
	}
	return float64(s.loadNanosum.Load()) / float64(n) / float64(time.Millisecond)
}

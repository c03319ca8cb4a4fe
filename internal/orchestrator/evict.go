package orchestrator

import (
	"fmt"
	"sort"
	"time"

	"modelpool/pkg/types"
)

// Policy names accepted by PolicyByName.
const (
	PolicyNameLRU             = "lru"
	PolicyNameLRUCostWeighted = "lru-cost-weighted"
)

// EvictionCandidate is a transient projection of one evictable entry:
// zero references, not pinned, state ready.
type EvictionCandidate struct {
	ModelID   string
	Kind      types.ModelKind
	SizeBytes int64
	LastUsed  time.Time
}

// Policy selects models to evict. Plan returns ids in eviction order such
// that removing all of them frees at least required bytes; ok is false when
// even evicting every candidate falls short. Plan must be a pure function of
// its arguments.
type Policy interface {
	Plan(candidates []EvictionCandidate, required int64, now time.Time) (ids []string, ok bool)
}

// PolicyByName maps a configured policy name to an implementation.
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", PolicyNameLRUCostWeighted:
		return CostWeightedPolicy(), nil
	case PolicyNameLRU:
		return LRUPolicy(), nil
	default:
		return nil, fmt.Errorf("unknown eviction policy %q", name)
	}
}

// LRUPolicy evicts strictly least-recently-used first, regardless of kind.
func LRUPolicy() Policy { return lruPolicy{} }

type lruPolicy struct{}

func (lruPolicy) Plan(candidates []EvictionCandidate, required int64, _ time.Time) ([]string, bool) {
	cands := append([]EvictionCandidate(nil), candidates...)
	sort.Slice(cands, func(i, j int) bool {
		return cands[i].LastUsed.Before(cands[j].LastUsed)
	})
	var ids []string
	var freed int64
	for _, c := range cands {
		if freed >= required {
			break
		}
		ids = append(ids, c.ModelID)
		freed += c.SizeBytes
	}
	if freed < required {
		return nil, false
	}
	return ids, true
}

// CostWeightedPolicy prefers evicting adapters before bases: an adapter is
// near-free to reload while its base stays resident, a base pays the full
// load. Within a cost class, least-recently-used goes first. The greedy pick
// is then pruned to a minimal set, so a lone stale base that covers the
// requirement is evicted instead of the base plus redundant adapters.
func CostWeightedPolicy() Policy { return costWeightedPolicy{} }

type costWeightedPolicy struct{}

func reloadCostClass(k types.ModelKind) int {
	if k == types.KindAdapter {
		return 0
	}
	return 1
}

func (costWeightedPolicy) Plan(candidates []EvictionCandidate, required int64, _ time.Time) ([]string, bool) {
	cands := append([]EvictionCandidate(nil), candidates...)
	sort.Slice(cands, func(i, j int) bool {
		ci, cj := reloadCostClass(cands[i].Kind), reloadCostClass(cands[j].Kind)
		if ci != cj {
			return ci < cj
		}
		return cands[i].LastUsed.Before(cands[j].LastUsed)
	})
	var sel []EvictionCandidate
	var freed int64
	for _, c := range cands {
		if freed >= required {
			break
		}
		sel = append(sel, c)
		freed += c.SizeBytes
	}
	if freed < required {
		return nil, false
	}
	// Minimality prune, freshest picks first, so cheap-but-redundant
	// selections drop out once an expensive one had to be taken anyway.
	for i := len(sel) - 1; i >= 0; i-- {
		if freed-sel[i].SizeBytes >= required {
			freed -= sel[i].SizeBytes
			sel = append(sel[:i], sel[i+1:]...)
		}
	}
	ids := make([]string, len(sel))
	for i, c := range sel {
		ids[i] = c.ModelID
	}
	return ids, true
}

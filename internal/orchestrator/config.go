package orchestrator

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"modelpool/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxConcurrentLoads = 2
	defaultLoadTimeout        = 30 * time.Second
	defaultRetryBackoff       = 100 * time.Millisecond
)

// SpecSource resolves model ids to specs; the registry implements it. The
// orchestrator needs it to resolve an adapter's base on the recursive
// acquire path.
type SpecSource interface {
	Resolve(id string) (types.ModelSpec, bool)
}

// Config encapsulates all tunables for Orchestrator construction.
type Config struct {
	// TotalBytes is the accelerator memory budget. Required.
	TotalBytes int64
	// PinnedModelIDs are excluded from eviction in addition to any spec
	// flagged pinned in the registry.
	PinnedModelIDs []string
	// Policy plans evictions. Nil selects the cost-weighted default.
	Policy Policy
	// Specs resolves adapter base ids. Required.
	Specs SpecSource
	// Backend performs the actual load/attach/unload calls. Required.
	Backend Backend

	MaxConcurrentLoads int
	LoadTimeout        time.Duration
	// MaxLoadRetries is the number of retries after a failed load attempt.
	// Zero (the zero value) means a single attempt; negative is clamped to
	// zero. The daemon's config layer owns the "unset means default" rule.
	MaxLoadRetries int
	RetryBackoff   time.Duration

	Logger zerolog.Logger
	Events EventPublisher
}

// New constructs an Orchestrator from Config, applying defaults.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.TotalBytes <= 0 {
		return nil, fmt.Errorf("orchestrator: total bytes must be positive, got %d", cfg.TotalBytes)
	}
	if cfg.Backend == nil {
		return nil, fmt.Errorf("orchestrator: backend is required")
	}
	if cfg.Specs == nil {
		return nil, fmt.Errorf("orchestrator: spec source is required")
	}
	o := &Orchestrator{
		entries:   make(map[string]*entry),
		flights:   make(map[string]*flight),
		total:     cfg.TotalBytes,
		pinned:    make(map[string]bool, len(cfg.PinnedModelIDs)),
		policy:    cfg.Policy,
		specs:     cfg.Specs,
		backend:   cfg.Backend,
		publisher: cfg.Events,
		log:       cfg.Logger,
		startTime: time.Now(),
	}
	for _, id := range cfg.PinnedModelIDs {
		o.pinned[id] = true
	}
	if o.policy == nil {
		o.policy = CostWeightedPolicy()
	}
	if o.publisher == nil {
		o.publisher = noopPublisher{}
	}
	// Apply defaults if unset
	slots := cfg.MaxConcurrentLoads
	if slots <= 0 {
		slots = defaultMaxConcurrentLoads
	}
	o.loadSlots = semaphore.NewWeighted(int64(slots))
	if cfg.LoadTimeout <= 0 {
		o.loadTimeout = defaultLoadTimeout
	} else {
		o.loadTimeout = cfg.LoadTimeout
	}
	if cfg.MaxLoadRetries > 0 {
		o.maxRetries = cfg.MaxLoadRetries
	}
	if cfg.RetryBackoff <= 0 {
		o.retryBackoff = defaultRetryBackoff
	} else {
		o.retryBackoff = cfg.RetryBackoff
	}
	metricTotalBytes.Set(float64(o.total))
	return o, nil
}

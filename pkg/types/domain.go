package types

import "fmt"

// ModelKind distinguishes full base models from per-tenant adapter weights.
type ModelKind string

const (
	KindBase    ModelKind = "base"
	KindAdapter ModelKind = "adapter"
)

// ModelSpec describes a loadable model or adapter. Specs are immutable once
// constructed; the orchestrator never mutates them.
type ModelSpec struct {
	// Stable identifier for the model.
	ID string `json:"id" yaml:"id"`
	// Kind is either "base" or "adapter".
	Kind ModelKind `json:"kind" yaml:"kind"`
	// BaseID names the base model an adapter applies to. Empty for bases.
	BaseID string `json:"base_id,omitempty" yaml:"base_id,omitempty"`
	// Absolute path to the weights on disk; passed through to the backend.
	Path string `json:"path" yaml:"path"`
	// SizeBytes is the accelerator memory the model occupies once resident.
	SizeBytes int64 `json:"size_bytes" yaml:"size_bytes"`
	// Pinned models must always remain resident and are excluded from eviction.
	Pinned bool `json:"pinned,omitempty" yaml:"pinned,omitempty"`
}

// Validate checks the structural invariants of a single spec. Referential
// checks (an adapter's base resolving to a base spec) belong to the registry.
func (s ModelSpec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("model spec: empty id")
	}
	switch s.Kind {
	case KindBase:
		if s.BaseID != "" {
			return fmt.Errorf("model spec %q: base must not reference a base_id", s.ID)
		}
	case KindAdapter:
		if s.BaseID == "" {
			return fmt.Errorf("model spec %q: adapter requires base_id", s.ID)
		}
		if s.BaseID == s.ID {
			return fmt.Errorf("model spec %q: adapter cannot be its own base", s.ID)
		}
	default:
		return fmt.Errorf("model spec %q: unknown kind %q", s.ID, s.Kind)
	}
	if s.SizeBytes <= 0 {
		return fmt.Errorf("model spec %q: size_bytes must be positive", s.ID)
	}
	return nil
}

// IsAdapter reports whether the spec describes adapter weights.
func (s ModelSpec) IsAdapter() bool { return s.Kind == KindAdapter }

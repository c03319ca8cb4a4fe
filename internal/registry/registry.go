// Package registry holds the static catalog of model specs the orchestrator
// may be asked to make resident. The catalog is loaded once from a manifest
// file and is immutable afterwards.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"modelpool/pkg/types"
)

// manifest is the on-disk shape of a model catalog.
type manifest struct {
	Models []types.ModelSpec `yaml:"models"`
}

// Registry is a read-only catalog of model specs keyed by id.
type Registry struct {
	specs map[string]types.ModelSpec
	order []string
}

// Load reads a YAML manifest from path and validates it.
func Load(path string) (*Registry, error) {
	base, err := expandHome(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(base)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return FromSpecs(m.Models)
}

// FromSpecs builds a registry from an in-memory spec list, enforcing the
// structural and referential invariants of the catalog.
func FromSpecs(specs []types.ModelSpec) (*Registry, error) {
	r := &Registry{specs: make(map[string]types.ModelSpec, len(specs))}
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.specs[s.ID]; dup {
			return nil, fmt.Errorf("duplicate model id %q", s.ID)
		}
		r.specs[s.ID] = s
		r.order = append(r.order, s.ID)
	}
	// Referential pass: every adapter's base must exist and be a base.
	for _, s := range r.specs {
		if !s.IsAdapter() {
			continue
		}
		base, ok := r.specs[s.BaseID]
		if !ok {
			return nil, fmt.Errorf("adapter %q references unknown base %q", s.ID, s.BaseID)
		}
		if base.Kind != types.KindBase {
			return nil, fmt.Errorf("adapter %q references %q which is not a base", s.ID, s.BaseID)
		}
		if s.SizeBytes >= base.SizeBytes {
			return nil, fmt.Errorf("adapter %q (%d bytes) is not smaller than its base %q (%d bytes)",
				s.ID, s.SizeBytes, base.ID, base.SizeBytes)
		}
	}
	return r, nil
}

// Resolve returns the spec registered under id.
func (r *Registry) Resolve(id string) (types.ModelSpec, bool) {
	s, ok := r.specs[id]
	return s, ok
}

// List returns the specs in manifest order.
// Returns a copy to avoid external mutation.
func (r *Registry) List() []types.ModelSpec {
	out := make([]types.ModelSpec, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.specs[id])
	}
	return out
}

// Pinned returns the ids of all specs flagged pinned in the manifest.
func (r *Registry) Pinned() []string {
	var out []string
	for _, id := range r.order {
		if r.specs[id].Pinned {
			out = append(out, id)
		}
	}
	return out
}

// expandHome expands a leading '~' to the user's home directory.
func expandHome(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}

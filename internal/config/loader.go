package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Recognized eviction policy names.
const (
	PolicyLRU             = "lru"
	PolicyLRUCostWeighted = "lru-cost-weighted"
)

// Defaults applied by Validate when the corresponding field is unset.
const (
	DefaultAddr               = ":8090"
	DefaultEvictionPolicy     = PolicyLRUCostWeighted
	DefaultMaxConcurrentLoads = 2
	DefaultLoadTimeoutMs      = 30_000
	DefaultMaxLoadRetries     = 2
	DefaultRetryBackoffMs     = 100
)

// CORS holds opt-in cross-origin settings for the observability surface.
type CORS struct {
	Enabled        bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
	AllowedMethods []string `json:"allowed_methods" yaml:"allowed_methods" toml:"allowed_methods"`
	AllowedHeaders []string `json:"allowed_headers" yaml:"allowed_headers" toml:"allowed_headers"`
}

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and are replaced by defaults in Validate.
type Config struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr"`
	RegistryPath string `json:"registry_path" yaml:"registry_path" toml:"registry_path"`
	// BackendURL is the inference engine endpoint. Empty selects the stub
	// backend (local/dev runs).
	BackendURL string `json:"backend_url" yaml:"backend_url" toml:"backend_url"`
	LogLevel   string `json:"log_level" yaml:"log_level" toml:"log_level"`

	TotalMemoryBytes   int64    `json:"total_memory_bytes" yaml:"total_memory_bytes" toml:"total_memory_bytes"`
	PinnedModelIDs     []string `json:"pinned_model_ids" yaml:"pinned_model_ids" toml:"pinned_model_ids"`
	EvictionPolicy     string   `json:"eviction_policy" yaml:"eviction_policy" toml:"eviction_policy"`
	MaxConcurrentLoads int      `json:"max_concurrent_loads" yaml:"max_concurrent_loads" toml:"max_concurrent_loads"`
	LoadTimeoutMs      int      `json:"load_timeout_ms" yaml:"load_timeout_ms" toml:"load_timeout_ms"`
	// MaxLoadRetries is a pointer so an explicit 0 (no retries) is
	// distinguishable from an absent key; nil takes the default.
	MaxLoadRetries *int `json:"max_load_retries" yaml:"max_load_retries" toml:"max_load_retries"`
	RetryBackoffMs int  `json:"retry_backoff_ms" yaml:"retry_backoff_ms" toml:"retry_backoff_ms"`

	CORS CORS `json:"cors" yaml:"cors" toml:"cors"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Validate fills defaults and rejects values the orchestrator cannot run with.
func (c *Config) Validate() error {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.TotalMemoryBytes <= 0 {
		return fmt.Errorf("total_memory_bytes must be positive, got %d", c.TotalMemoryBytes)
	}
	switch c.EvictionPolicy {
	case "":
		c.EvictionPolicy = DefaultEvictionPolicy
	case PolicyLRU, PolicyLRUCostWeighted:
	default:
		return fmt.Errorf("unknown eviction_policy %q", c.EvictionPolicy)
	}
	if c.MaxConcurrentLoads < 0 {
		return fmt.Errorf("max_concurrent_loads must be >= 0, got %d", c.MaxConcurrentLoads)
	}
	if c.MaxConcurrentLoads == 0 {
		c.MaxConcurrentLoads = DefaultMaxConcurrentLoads
	}
	if c.LoadTimeoutMs <= 0 {
		c.LoadTimeoutMs = DefaultLoadTimeoutMs
	}
	if c.MaxLoadRetries == nil {
		v := DefaultMaxLoadRetries
		c.MaxLoadRetries = &v
	} else if *c.MaxLoadRetries < 0 {
		return fmt.Errorf("max_load_retries must be >= 0, got %d", *c.MaxLoadRetries)
	}
	if c.RetryBackoffMs <= 0 {
		c.RetryBackoffMs = DefaultRetryBackoffMs
	}
	return nil
}

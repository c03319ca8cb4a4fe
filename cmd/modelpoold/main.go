package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"modelpool/internal/config"
	"modelpool/internal/httpapi"
	"modelpool/internal/orchestrator"
	"modelpool/internal/registry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgPath      string
		addr         string
		registryPath string
		backendURL   string
		logLevel     string
		policy       string
		totalBytes   int64
		pinned       []string
		maxLoads     int
		loadTimeout  int
		maxRetries   int
		backoffMs    int
	)
	cmd := &cobra.Command{
		Use:           "modelpoold",
		Short:         "Model residency orchestrator for a shared accelerator",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cfg config.Config
			if cfgPath != "" {
				loaded, err := config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				cfg = loaded
			}
			// Flags override file values only when set explicitly.
			fl := cmd.Flags()
			if fl.Changed("addr") {
				cfg.Addr = addr
			}
			if fl.Changed("registry") {
				cfg.RegistryPath = registryPath
			}
			if fl.Changed("backend-url") {
				cfg.BackendURL = backendURL
			}
			if fl.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if fl.Changed("eviction-policy") {
				cfg.EvictionPolicy = policy
			}
			if fl.Changed("total-memory-bytes") {
				cfg.TotalMemoryBytes = totalBytes
			}
			if fl.Changed("pinned") {
				cfg.PinnedModelIDs = pinned
			}
			if fl.Changed("max-concurrent-loads") {
				cfg.MaxConcurrentLoads = maxLoads
			}
			if fl.Changed("load-timeout-ms") {
				cfg.LoadTimeoutMs = loadTimeout
			}
			if fl.Changed("max-load-retries") {
				cfg.MaxLoadRetries = &maxRetries
			}
			if fl.Changed("retry-backoff-ms") {
				cfg.RetryBackoffMs = backoffMs
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cfg)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "Config file (.yaml, .json, .toml)")
	cmd.Flags().StringVar(&addr, "addr", config.DefaultAddr, "HTTP listen address")
	cmd.Flags().StringVar(&registryPath, "registry", "", "Model manifest path")
	cmd.Flags().StringVar(&backendURL, "backend-url", "", "Inference engine URL (empty = stub backend)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (trace..error)")
	cmd.Flags().StringVar(&policy, "eviction-policy", config.DefaultEvictionPolicy, "Eviction policy (lru, lru-cost-weighted)")
	cmd.Flags().Int64Var(&totalBytes, "total-memory-bytes", 0, "Accelerator memory budget in bytes")
	cmd.Flags().StringSliceVar(&pinned, "pinned", nil, "Model ids that must always stay resident")
	cmd.Flags().IntVar(&maxLoads, "max-concurrent-loads", config.DefaultMaxConcurrentLoads, "Maximum concurrent backend loads")
	cmd.Flags().IntVar(&loadTimeout, "load-timeout-ms", config.DefaultLoadTimeoutMs, "Bound on waiting for a load or load slot")
	cmd.Flags().IntVar(&maxRetries, "max-load-retries", config.DefaultMaxLoadRetries, "Backend load retries before giving up")
	cmd.Flags().IntVar(&backoffMs, "retry-backoff-ms", config.DefaultRetryBackoffMs, "Initial retry backoff, doubled per attempt")
	return cmd
}

func run(cfg config.Config) error {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	if cfg.RegistryPath == "" {
		return fmt.Errorf("registry_path is required")
	}
	reg, err := registry.Load(cfg.RegistryPath)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	var backend orchestrator.Backend
	if cfg.BackendURL == "" {
		logger.Warn().Msg("no backend_url configured, using stub backend")
		backend = orchestrator.NewStubBackend(10 * time.Millisecond)
	} else {
		hb, err := orchestrator.NewHTTPBackend(cfg.BackendURL, logger)
		if err != nil {
			return err
		}
		backend = hb
	}

	pol, err := orchestrator.PolicyByName(cfg.EvictionPolicy)
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(orchestrator.Config{
		TotalBytes:         cfg.TotalMemoryBytes,
		PinnedModelIDs:     cfg.PinnedModelIDs,
		Policy:             pol,
		Specs:              reg,
		Backend:            backend,
		MaxConcurrentLoads: cfg.MaxConcurrentLoads,
		LoadTimeout:        time.Duration(cfg.LoadTimeoutMs) * time.Millisecond,
		MaxLoadRetries:     *cfg.MaxLoadRetries,
		RetryBackoff:       time.Duration(cfg.RetryBackoffMs) * time.Millisecond,
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	if err := warmPinned(logger, reg, orch, backend, cfg.PinnedModelIDs); err != nil {
		return err
	}

	httpapi.SetLogger(logger)
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.AllowedOrigins, cfg.CORS.AllowedMethods, cfg.CORS.AllowedHeaders)
	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(orch, reg)}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("registry", cfg.RegistryPath).Msg("modelpoold listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-stop:
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	return orch.Close(ctx)
}

// warmPinned makes every pinned model resident before the daemon starts
// serving, then cross-checks the engine's view of each.
func warmPinned(logger zerolog.Logger, reg *registry.Registry, orch *orchestrator.Orchestrator, backend orchestrator.Backend, extra []string) error {
	ids := reg.Pinned()
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	for _, id := range extra {
		if !seen[id] {
			ids = append(ids, id)
			seen[id] = true
		}
	}
	ctx := context.Background()
	for _, id := range ids {
		spec, ok := reg.Resolve(id)
		if !ok {
			return fmt.Errorf("pinned model %q not in registry", id)
		}
		h, err := orch.Acquire(ctx, spec)
		if err != nil {
			return fmt.Errorf("warm pinned %q: %w", id, err)
		}
		if err := orch.Release(h); err != nil {
			return err
		}
		if st, err := backend.Status(ctx, id); err != nil {
			logger.Warn().Str("model", id).Err(err).Msg("backend status check failed")
		} else if st != orchestrator.BackendReady {
			logger.Warn().Str("model", id).Str("state", string(st)).Msg("pinned model not ready on backend")
		} else {
			logger.Info().Str("model", id).Msg("pinned model warm")
		}
	}
	return nil
}

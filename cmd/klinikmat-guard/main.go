// Package main implements the entry point for the KLINIK-MAT protection
// gateway. The gateway fronts the platform's API with a composed request
// pipeline: rate limiting, idempotency for payment operations, and a
// read-through content cache with a distributed backend when available.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/cache"
	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/config"
	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/idempotency"
	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/metric"
	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/payment"
	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/pipeline"
	"github.com/santiagopinoortega-eng/KLINIK-MAT-sub000/ratelimit"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "klinikmat-guard"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()
	deps, cleanup, err := setupInfrastructure(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	return runWithSignalHandling(ctx, deps, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting KLINIK-MAT protection gateway",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// loadConfig loads configuration from path, or defaults when path is empty
func loadConfig(path string) (config.Config, error) {
	if path == "" {
		slog.Info("No config file provided, using defaults")
		return config.Default(), nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// setupInfrastructure wires every protection-layer component and returns the
// assembled dependencies plus a cleanup function for deferred teardown.
func setupInfrastructure(
	ctx context.Context,
	cfg config.Config,
	logger *slog.Logger,
) (*dependencies, func(), error) {
	registry := metric.NewMetricsRegistry()
	metrics := registry.CoreMetrics()

	contentCache, err := cache.New[contentDoc](ctx, cfg.Cache,
		cache.WithMetrics[contentDoc](registry, "content_cache"),
		cache.WithBackendGauge[contentDoc](metrics.CacheBackendLocal),
		cache.WithLogger[contentDoc](logger.With("component", "cache")),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create content cache: %w", err)
	}

	limiter, err := ratelimit.NewLimiter(ctx,
		ratelimit.WithMetrics(registry),
		ratelimit.WithSweepInterval(cfg.RateLimit.SweepInterval),
	)
	if err != nil {
		_ = contentCache.Close()
		return nil, nil, fmt.Errorf("create rate limiter: %w", err)
	}

	store, err := setupIdempotencyStore(ctx, cfg, logger)
	if err != nil {
		_ = contentCache.Close()
		_ = limiter.Close()
		return nil, nil, err
	}

	guard := idempotency.NewGuard(store,
		idempotency.WithRecordTTL(cfg.Idempotency.RecordTTL),
		idempotency.WithPendingWait(cfg.Idempotency.PendingWait, 100*time.Millisecond),
		idempotency.WithGuardLogger(logger.With("component", "idempotency")),
		idempotency.WithReplayCounter(metrics.IdempotentReplays),
	)

	payments := payment.NewService(payment.NewMemoryLedger(), nil, 5*time.Second)

	deps := &dependencies{
		cfg:          cfg,
		logger:       logger,
		registry:     registry,
		metrics:      metrics,
		contentCache: contentCache,
		limiter:      limiter,
		guard:        guard,
		payments:     payments,
		auth:         setupAuthenticator(logger),
	}

	cleanup := func() {
		_ = store.Close()
		_ = limiter.Close()
		_ = contentCache.Close()
	}

	return deps, cleanup, nil
}

// setupIdempotencyStore picks the idempotency store. Redis is required for
// multi-instance at-most-once guarantees; the in-process store only covers
// single-instance development.
func setupIdempotencyStore(
	ctx context.Context,
	cfg config.Config,
	logger *slog.Logger,
) (idempotency.Store, error) {
	if cfg.Idempotency.Redis.Addr != "" {
		store, err := idempotency.NewRedisStore(ctx, cfg.Idempotency.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect idempotency store: %w", err)
		}
		slog.Info("Idempotency store connected", "backend", "redis", "addr", cfg.Idempotency.Redis.Addr)
		return store, nil
	}

	logger.Warn("No idempotency store configured, using in-process store",
		"warning", "unsafe for multi-instance deployment")
	return idempotency.NewMemoryStore(ctx), nil
}

// setupAuthenticator builds the development authenticator. The token comes
// from KLINIKMAT_GUARD_DEV_TOKEN or is generated and logged at startup.
func setupAuthenticator(logger *slog.Logger) pipeline.Authenticator {
	token := os.Getenv("KLINIKMAT_GUARD_DEV_TOKEN")
	if token == "" {
		token = uuid.NewString()
		logger.Info("Generated development bearer token", "token", token)
	}

	return &staticAuthenticator{
		users: map[string]*pipeline.User{
			token: {
				ID:    "dev-user",
				Email: "dev@klinik-mat.local",
				Roles: []string{"student"},
			},
		},
	}
}

// runWithSignalHandling starts the gateway and metrics servers and blocks
// until a shutdown signal arrives or either server fails.
func runWithSignalHandling(ctx context.Context, deps *dependencies, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	gateway := &http.Server{
		Addr:              deps.cfg.Server.Addr,
		Handler:           buildRoutes(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var metricsServer *metric.Server
	g, gCtx := errgroup.WithContext(signalCtx)

	g.Go(func() error {
		slog.Info("Gateway listening", "addr", gateway.Addr)
		if err := gateway.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway server: %w", err)
		}
		return nil
	})

	if deps.cfg.Server.MetricsPort > 0 {
		metricsServer = metric.NewServer(deps.cfg.Server.MetricsPort, "/metrics", deps.registry)
		g.Go(func() error {
			slog.Info("Metrics server listening", "addr", metricsServer.Address())
			if err := metricsServer.Start(); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("Received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := gateway.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("gateway shutdown: %w", err)
		}
		if metricsServer != nil {
			if err := metricsServer.Stop(); err != nil {
				return fmt.Errorf("metrics shutdown: %w", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("Shutdown complete")
	return nil
}

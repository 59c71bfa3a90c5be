// Package main is the entry point for the gatehoused authorization server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hostelops/gatehouse/internal/authz"
	"github.com/hostelops/gatehouse/internal/catalog"
	"github.com/hostelops/gatehouse/internal/config"
	"github.com/hostelops/gatehouse/internal/navigation"
	"github.com/hostelops/gatehouse/internal/observability"
	"github.com/hostelops/gatehouse/internal/override"
	"github.com/hostelops/gatehouse/internal/transport"
	"github.com/hostelops/gatehouse/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "gatehoused", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Load catalog fragments, validate, build registry.
	loader := catalog.NewLoader()
	frags, err := loader.LoadAll(cfg.Catalog.Directories)
	if err != nil {
		logger.Error("catalog loading failed", zap.Error(err))
		return 1
	}

	validator := catalog.NewValidator()
	if verrs := validator.Validate(frags); len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("catalog validation error", zap.String("error", ve.Error()))
		}
		logger.Error("catalog validation failed", zap.Int("errors", len(verrs)))
		return 1
	}

	registry, err := catalog.NewRegistry(frags)
	if err != nil {
		logger.Error("catalog registry build failed", zap.Error(err))
		return 1
	}
	publishCatalogGauges(registry, metrics)

	// Step 5: Initialize the override store.
	store, storeCloser, err := buildOverrideStore(ctx, cfg.Overrides, registry, logger)
	if err != nil {
		logger.Error("override store initialization failed", zap.Error(err))
		return 1
	}

	// Step 6: Initialize the idempotency store (optional).
	idemStore, idemCloser, err := buildIdempotencyStore(cfg.Idempotency, logger)
	if err != nil {
		logger.Error("idempotency store initialization failed", zap.Error(err))
		return 1
	}

	// Step 7: Load the user-to-role directory.
	directory, err := authz.NewStaticDirectory(cfg.Directory.File)
	if err != nil {
		logger.Error("directory loading failed", zap.Error(err))
		return 1
	}

	// Step 8: Build the authorization service.
	resolver := authz.NewResolver(registry, store, cfg.Authz.Cache.TTL)
	resolver.Hit = metrics.RecordEffectiveCacheHit
	resolver.Miss = metrics.RecordEffectiveCacheMiss
	resolver.Merged = func(d time.Duration, anomalies []model.Anomaly) {
		metrics.RecordMerge(d)
		for _, a := range anomalies {
			metrics.RecordMergeAnomaly(a.Dimension, string(a.Kind))
		}
	}

	svc := authz.NewService(registry, store, resolver, directory, logger)
	if idemStore != nil {
		svc = svc.WithIdempotency(idemStore, cfg.Idempotency.Store.DefaultTTL)
	}
	svc.OnUpdate = metrics.RecordOverrideUpdate
	svc.OnReset = metrics.RecordOverrideReset
	svc.OnReject = metrics.RecordOverrideRejection
	svc.OnReplay = metrics.RecordIdempotentReplay
	svc.OnIdemConflict = metrics.RecordIdempotencyConflict

	menu := navigation.NewMenuProvider(registry)

	// Step 9: Build the HTTP router.
	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL)

	readinessChecks := observability.ReadinessChecks{
		CatalogLoaded: func() bool { return len(registry.Snapshot().Roles()) > 0 },
	}
	if p, ok := store.(observability.Pinger); ok {
		readinessChecks.OverrideStore = p
	}
	if p, ok := idemStore.(observability.Pinger); ok {
		readinessChecks.IdempotencyStore = p
	}

	deps := transport.Dependencies{
		Config:       cfg,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
		Service:      svc,
		Registry:     registry,
		Menu:         menu,
		Health:       observability.HandleHealth(),
		Ready:        observability.HandleReady(readinessChecks),
		Measure:      metrics.MetricsMiddleware,
		OnDenial:     metrics.RecordPermissionDenial,
	}
	if cfg.Observability.Metrics.Enabled {
		deps.Metrics = observability.Handler()
	}
	if cfg.Observability.Tracing.Enabled {
		deps.Tracing = observability.TracingMiddleware
	}
	router := transport.NewRouter(deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 10: Start background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	go runCatalogReloader(bgCtx, loader, validator, registry, metrics, cfg.Catalog.Directories, logger)

	// Step 11: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("catalog_version", registry.Snapshot().Version()),
		zap.String("catalog_checksum", registry.Snapshot().Checksum()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Cancel background tasks.
	bgCancel()

	// Close stores.
	if storeCloser != nil {
		storeCloser()
	}
	if idemCloser != nil {
		idemCloser()
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildOverrideStore creates the override store based on config. defs is the
// live registry, not a snapshot, so constraint writes validate against the
// catalog in effect at write time even after a reload.
func buildOverrideStore(ctx context.Context, cfg config.OverridesConfig, defs override.Definitions, logger *zap.Logger) (override.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory override store")
		return override.NewMemoryStore(defs), nil, nil
	case "postgres", "":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			logger.Warn("override store DSN not configured, using in-memory store",
				zap.String("env", cfg.DSNEnv))
			return override.NewMemoryStore(defs), nil, nil
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("override store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("override store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("override store: ping: %w", err)
		}

		return override.NewPgStore(pool, defs), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported override store driver: %q", cfg.Driver)
	}
}

// buildIdempotencyStore creates the idempotency store based on config.
// Returns a nil store if idempotent writes are disabled.
func buildIdempotencyStore(cfg config.IdempotencyConfig, logger *zap.Logger) (authz.IdempotencyStore, func(), error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}

	switch cfg.Store.Driver {
	case "memory", "":
		logger.Info("using in-memory idempotency store")
		return authz.NewMemoryIdempotencyStore(), nil, nil
	case "redis":
		addr := os.Getenv(cfg.Store.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("idempotency store: %s environment variable not set", cfg.Store.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   cfg.Store.DB,
		})
		closer := func() { client.Close() }
		return authz.NewRedisIdempotencyStore(client), closer, nil
	default:
		return nil, nil, fmt.Errorf("unsupported idempotency store driver: %q", cfg.Store.Driver)
	}
}

// publishCatalogGauges exports the loaded catalog entry counts.
func publishCatalogGauges(registry *catalog.Registry, metrics *observability.Metrics) {
	snap := registry.Snapshot()
	metrics.SetCatalogEntries("routes", float64(len(snap.Routes())))
	metrics.SetCatalogEntries("capabilities", float64(len(snap.Capabilities())))
	metrics.SetCatalogEntries("constraints", float64(len(snap.Constraints())))
	metrics.SetCatalogEntries("roles", float64(len(snap.Roles())))
}

// runCatalogReloader swaps in a fresh catalog snapshot on SIGHUP. A reload
// that fails to load or validate leaves the current snapshot serving.
func runCatalogReloader(ctx context.Context, loader *catalog.Loader, validator *catalog.Validator, registry *catalog.Registry, metrics *observability.Metrics, dirs []string, logger *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			frags, err := loader.LoadAll(dirs)
			if err != nil {
				logger.Error("catalog reload failed", zap.Error(err))
				metrics.RecordCatalogReload("error")
				continue
			}
			if verrs := validator.Validate(frags); len(verrs) > 0 {
				for _, ve := range verrs {
					logger.Error("catalog validation error", zap.String("error", ve.Error()))
				}
				metrics.RecordCatalogReload("error")
				continue
			}
			if err := registry.Replace(frags); err != nil {
				logger.Error("catalog swap failed", zap.Error(err))
				metrics.RecordCatalogReload("error")
				continue
			}
			metrics.RecordCatalogReload("success")
			publishCatalogGauges(registry, metrics)
			logger.Info("catalog reloaded",
				zap.String("catalog_version", registry.Snapshot().Version()),
				zap.String("catalog_checksum", registry.Snapshot().Checksum()),
			)
		}
	}
}

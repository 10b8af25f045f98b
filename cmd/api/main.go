package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Ayoub94x/esa-forecast-manager/internal/api/rest"
	"github.com/Ayoub94x/esa-forecast-manager/internal/api/websocket"
	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/forecast"
	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/cache"
	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/config"
	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/database"
	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/repository"
	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/telemetry"
	"github.com/Ayoub94x/esa-forecast-manager/internal/metrics"
	"github.com/Ayoub94x/esa-forecast-manager/internal/service/filtereddata"
	"github.com/Ayoub94x/esa-forecast-manager/internal/service/filterstate"
	"github.com/Ayoub94x/esa-forecast-manager/internal/service/performance"
)

func main() {
	configPath := flag.String("config", config.DefaultFile, "Path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "efm-api: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.Initialize(ctx, cfg.Telemetry, cfg.Environment)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shutdown telemetry", zap.Error(err))
		}
	}()

	promReg, err := newPrometheusRegistry(cfg)
	if err != nil {
		return fmt.Errorf("failed to register runtime metrics: %w", err)
	}
	registry, err := metrics.NewRegistry(provider.MeterProvider)
	if err != nil {
		return fmt.Errorf("failed to create metrics registry: %w", err)
	}

	var health []rest.HealthChecker

	seed, err := loadSeed(cfg.Pipeline.SeedFile)
	if err != nil {
		return err
	}
	local := repository.NewLocalCollection(seed, logger.Named("local"))

	var source interface {
		filtereddata.RemoteSource
		repository.Loader
	}
	switch cfg.Pipeline.Backend {
	case config.BackendPostgres:
		pool, err := database.NewConnectionPool(ctx, &cfg.Database, logger.Named("database"))
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pool.Close()
		health = append(health, rest.CheckFunc{CheckName: "database", Fn: pool.Ping})

		pg, err := repository.NewPostgresSource(pool.Pool(), pool.Breaker(), logger.Named("postgres"))
		if err != nil {
			return err
		}
		source = pg
	default:
		source = repository.NewMemorySource(seed, logger.Named("memory"))
	}

	if err := local.Refresh(ctx, source); err != nil {
		logger.Warn("keeping seed data in the local collection", zap.Error(err))
	}

	var shared cache.SharedStore
	if cfg.Cache.Shared {
		store, err := cache.NewRedisSharedStore(&cfg.Redis, cfg.Cache.Expiry, logger.Named("redis"))
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer store.Close()
		shared = store
		health = append(health, rest.CheckFunc{CheckName: "redis", Fn: store.Ping})
	}
	results := cache.NewTiered(cache.NewResultCache(cache.ResultConfig{
		Expiry:  cfg.Cache.Expiry,
		MaxSize: cfg.Cache.MaxSize,
	}, logger.Named("cache")), shared)

	monitor, err := performance.NewMonitor(performance.Config{
		Enabled: cfg.Monitor.Enabled,
		Thresholds: performance.Thresholds{
			RenderTime:   cfg.Monitor.Thresholds.RenderTime,
			FilterTime:   cfg.Monitor.Thresholds.FilterTime,
			QueryTime:    cfg.Monitor.Thresholds.QueryTime,
			CacheHitRate: cfg.Monitor.Thresholds.CacheHitRate,
			MemoryMB:     cfg.Monitor.Thresholds.MemoryMB,
		},
		MaxAlerts:      cfg.Monitor.MaxAlerts,
		SampleSize:     cfg.Monitor.SampleSize,
		MemoryInterval: cfg.Monitor.MemoryInterval,
		Registerer:     promReg,
	}, logger.Named("performance"))
	if err != nil {
		return fmt.Errorf("failed to create performance monitor: %w", err)
	}
	monitor.Start()
	defer monitor.Stop()

	service, err := filtereddata.NewService(filtereddata.Dependencies{
		Store:   filterstate.NewStore(logger.Named("filters")),
		Cache:   results,
		Remote:  repository.NewThrottled(source, cfg.Remote, logger.Named("remote")),
		Local:   local,
		Monitor: monitor,
		Metrics: registry,
	}, filtereddata.Config{
		Debounce:          cfg.Pipeline.Debounce,
		ServerSide:        cfg.Pipeline.ServerSide,
		StatisticsEnabled: cfg.Pipeline.StatisticsEnabled,
		LazyLoad:          cfg.LazyLoad.Enabled,
		PageSize:          cfg.LazyLoad.PageSize,
		LoadLatency:       cfg.LazyLoad.Latency,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create filtered data service: %w", err)
	}
	service.Start()
	defer service.Close()

	hub, err := websocket.NewHub(service, registry, logger)
	if err != nil {
		return err
	}
	go hub.Run(ctx)
	defer hub.Stop()

	handler, err := rest.NewRouter(rest.RouterConfig{
		Service:   service,
		Logger:    logger,
		Version:   cfg.Version,
		RateLimit: cfg.Server.RateLimit,
		Registry:  promReg,
		Gatherer:  promReg,
		Metrics:   registry,
		Health:    health,
		Stream:    hub,
	})
	if err != nil {
		return fmt.Errorf("failed to create router: %w", err)
	}

	server, err := rest.NewServer(cfg.Server, handler, logger)
	if err != nil {
		return err
	}

	logger.Info("forecast manager starting",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Environment),
		zap.String("backend", cfg.Pipeline.Backend),
		zap.Bool("server_side", cfg.Pipeline.ServerSide),
		zap.Bool("shared_cache", cfg.Cache.Shared),
		zap.Int("records", local.Len()),
	)
	if err := server.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func loadSeed(path string) ([]forecast.Record, error) {
	if path == "" {
		return nil, nil
	}
	records, err := repository.LoadSeedFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load seed data: %w", err)
	}
	return records, nil
}

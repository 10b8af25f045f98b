package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/config"
	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/database"
	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/repository"
	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/telemetry"
)

// Supported actions
const (
	actionUp      = "up"
	actionDown    = "down"
	actionVersion = "version"
	actionSeed    = "seed"
)

type options struct {
	configPath string
	action     string
	steps      int
	seedFile   string
}

func parseOptions(args []string, output io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.configPath, "config", config.DefaultFile, "Path to configuration file")
	fs.StringVar(&opts.action, "action", actionUp, "Migration action: up, down, version, seed")
	fs.IntVar(&opts.steps, "steps", 0, "Number of migrations to apply or revert (0 = all)")
	fs.StringVar(&opts.seedFile, "seed", "", "JSON seed file for the seed action (defaults to pipeline.seed_file)")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	switch opts.action {
	case actionUp, actionDown, actionVersion, actionSeed:
	default:
		return options{}, fmt.Errorf("unknown action %q", opts.action)
	}
	if opts.steps < 0 {
		return options{}, fmt.Errorf("steps must not be negative")
	}
	return opts, nil
}

func main() {
	opts, err := parseOptions(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}

	cfg, err := config.LoadFile(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "efm-migrate: failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "efm-migrate: failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, cfg, logger); err != nil {
		logger.Error("migration failed", zap.String("action", opts.action), zap.Error(err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, cfg *config.Config, logger *zap.Logger) error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}

	pool, err := database.NewConnectionPool(ctx, &cfg.Database, logger.Named("database"))
	if err != nil {
		return err
	}
	defer pool.Close()

	if opts.action == actionSeed {
		return seed(ctx, pool, opts.seedFile, cfg.Pipeline.SeedFile, logger)
	}

	db := pool.DB()
	defer db.Close()

	migrator, err := database.NewMigrator(db, logger.Named("migrate"))
	if err != nil {
		return err
	}

	switch opts.action {
	case actionUp:
		return migrator.Up(opts.steps)
	case actionDown:
		return migrator.Down(opts.steps)
	default:
		version, dirty, err := migrator.Version()
		if err != nil {
			return fmt.Errorf("reading migration version: %w", err)
		}
		logger.Info("schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		return nil
	}
}

func seed(ctx context.Context, pool *database.ConnectionPool, path, fallback string, logger *zap.Logger) error {
	if path == "" {
		path = fallback
	}
	if path == "" {
		return fmt.Errorf("no seed file given")
	}

	records, err := repository.LoadSeedFile(path)
	if err != nil {
		return err
	}
	src, err := repository.NewPostgresSource(pool.Pool(), pool.Breaker(), logger.Named("postgres"))
	if err != nil {
		return err
	}
	if err := pool.Transaction(ctx, func(tx pgx.Tx) error {
		return src.Insert(ctx, tx, records)
	}); err != nil {
		return fmt.Errorf("seeding %s: %w", path, err)
	}

	logger.Info("seed data loaded", zap.String("file", path), zap.Int("records", len(records)))
	return nil
}

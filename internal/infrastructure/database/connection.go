package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/config"
)

// ConnectionPool is a pgx pool guarded by a circuit breaker and a background
// health check.
type ConnectionPool struct {
	primary         *pgxpool.Pool
	config          *config.DatabaseConfig
	logger          *zap.Logger
	healthCheckStop chan struct{}
	closeOnce       sync.Once
	circuitBreaker  *CircuitBreaker
}

// NewConnectionPool creates a pool for cfg and verifies it with a ping
func NewConnectionPool(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*ConnectionPool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	pool := &ConnectionPool{
		config:          cfg,
		logger:          logger,
		healthCheckStop: make(chan struct{}),
		circuitBreaker:  NewCircuitBreaker(DefaultBreakerThreshold, DefaultBreakerTimeout, nil),
	}

	primaryConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse primary database URL: %w", err)
	}
	pool.configurePgxPool(primaryConfig)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool.primary, err = pgxpool.NewWithConfig(ctx, primaryConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create primary connection pool: %w", err)
	}

	if err := pool.primary.Ping(ctx); err != nil {
		pool.primary.Close()
		return nil, fmt.Errorf("failed to ping primary database: %w", err)
	}

	go pool.healthCheckRoutine()

	logger.Info("database connection pool initialized",
		zap.Int("max_connections", int(primaryConfig.MaxConns)))

	return pool, nil
}

func (p *ConnectionPool) configurePgxPool(config *pgxpool.Config) {
	if p.config.MaxOpenConns > 0 {
		config.MaxConns = int32(p.config.MaxOpenConns)
	} else {
		config.MaxConns = 25
	}
	if p.config.MaxIdleConns > 0 {
		config.MinConns = int32(p.config.MaxIdleConns)
	}
	if p.config.ConnMaxLifetime > 0 {
		config.MaxConnLifetime = p.config.ConnMaxLifetime
	} else {
		config.MaxConnLifetime = 30 * time.Minute
	}
	config.MaxConnIdleTime = 10 * time.Minute
	config.HealthCheckPeriod = time.Minute

	config.ConnConfig.ConnectTimeout = 5 * time.Second
	config.ConnConfig.RuntimeParams["application_name"] = "esa_forecast_manager"
	config.ConnConfig.RuntimeParams["timezone"] = "UTC"
	config.ConnConfig.RuntimeParams["statement_timeout"] = "30s"

	config.BeforeConnect = func(ctx context.Context, cc *pgx.ConnConfig) error {
		p.logger.Debug("establishing database connection",
			zap.String("host", cc.Host),
			zap.Uint16("port", cc.Port))
		return nil
	}
}

// Pool returns the underlying pgx pool
func (p *ConnectionPool) Pool() *pgxpool.Pool {
	return p.primary
}

// Breaker returns the circuit breaker guarding this pool
func (p *ConnectionPool) Breaker() *CircuitBreaker {
	return p.circuitBreaker
}

// Ping checks connectivity
func (p *ConnectionPool) Ping(ctx context.Context) error {
	return p.primary.Ping(ctx)
}

// Transaction executes fn within a transaction
func (p *ConnectionPool) Transaction(ctx context.Context, fn func(pgx.Tx) error) error {
	err := pgx.BeginTxFunc(ctx, p.primary, pgx.TxOptions{}, fn)
	p.circuitBreaker.Record(err)
	return err
}

// DB returns a database/sql handle backed by the pool, for tools that need one
func (p *ConnectionPool) DB() *sql.DB {
	return stdlib.OpenDBFromPool(p.primary)
}

func (p *ConnectionPool) healthCheckRoutine() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.performHealthCheck()
		case <-p.healthCheckStop:
			return
		}
	}
}

func (p *ConnectionPool) performHealthCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.primary.Ping(ctx); err != nil {
		p.logger.Error("primary database health check failed", zap.Error(err))
		p.circuitBreaker.RecordFailure()
		return
	}

	stats := p.primary.Stat()
	p.logger.Debug("database pool stats",
		zap.Int32("acquired", stats.AcquiredConns()),
		zap.Int32("idle", stats.IdleConns()),
		zap.Int64("max_lifetime_closures", stats.MaxLifetimeDestroyCount()))
}

// Close stops the health check and closes the pool
func (p *ConnectionPool) Close() error {
	p.closeOnce.Do(func() {
		close(p.healthCheckStop)
		p.primary.Close()
		p.logger.Info("database connection pool closed")
	})
	return nil
}

package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/filter"
	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/forecast"
	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/config"
	"github.com/Ayoub94x/esa-forecast-manager/internal/service/filtereddata"
)

// Throttled limits the call rate into a remote source. Callers block until a
// token is available or their context ends.
type Throttled struct {
	next    filtereddata.RemoteSource
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewThrottled wraps next with a token bucket sized by cfg
func NewThrottled(next filtereddata.RemoteSource, cfg config.RemoteConfig, logger *zap.Logger) *Throttled {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Throttled{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:  logger,
	}
}

// ExecuteQuery waits for a token then delegates
func (t *Throttled) ExecuteQuery(ctx context.Context, q *filter.Query) filtereddata.Result[filtereddata.QueryResult] {
	if err := t.wait(ctx); err != nil {
		return filtereddata.Fail[filtereddata.QueryResult](err)
	}
	return t.next.ExecuteQuery(ctx, q)
}

// ComputeStatistics waits for a token then delegates
func (t *Throttled) ComputeStatistics(ctx context.Context, q *filter.Query) filtereddata.Result[*forecast.Statistics] {
	if err := t.wait(ctx); err != nil {
		return filtereddata.Fail[*forecast.Statistics](err)
	}
	return t.next.ComputeStatistics(ctx, q)
}

func (t *Throttled) wait(ctx context.Context) error {
	if err := t.limiter.Wait(ctx); err != nil {
		t.logger.Debug("remote call throttled", zap.Error(err))
		return fmt.Errorf("remote rate limit: %w", err)
	}
	return nil
}

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/filter"
	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/forecast"
	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/config"
	"github.com/Ayoub94x/esa-forecast-manager/internal/service/filtereddata"
	"github.com/Ayoub94x/esa-forecast-manager/internal/testutil/mocks"
)

func TestThrottled_DelegatesWithinBudget(t *testing.T) {
	remote := &mocks.RemoteSource{}
	q := filter.Merge(nil)
	page := filtereddata.QueryResult{MatchedCount: 3, TotalCount: 10}
	stats := &forecast.Statistics{RecordCount: 3}

	remote.On("ExecuteQuery", mock.Anything, q).Return(filtereddata.Ok(page)).Once()
	remote.On("ComputeStatistics", mock.Anything, q).Return(filtereddata.Ok(stats)).Once()

	throttled := NewThrottled(remote, config.RemoteConfig{RequestsPerSecond: 100, Burst: 2}, zaptest.NewLogger(t))

	res := throttled.ExecuteQuery(context.Background(), q)
	require.True(t, res.IsOK())
	assert.Equal(t, page, res.Value)

	sres := throttled.ComputeStatistics(context.Background(), q)
	require.True(t, sres.IsOK())
	assert.Same(t, stats, sres.Value)

	remote.AssertExpectations(t)
}

func TestThrottled_FailsWhenContextEndsBeforeToken(t *testing.T) {
	remote := &mocks.RemoteSource{}
	q := filter.Merge(nil)
	remote.On("ExecuteQuery", mock.Anything, q).Return(filtereddata.Ok(filtereddata.QueryResult{})).Once()

	// one token, refilled every 100s
	throttled := NewThrottled(remote, config.RemoteConfig{RequestsPerSecond: 0.01, Burst: 1}, zaptest.NewLogger(t))

	require.True(t, throttled.ExecuteQuery(context.Background(), q).IsOK())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res := throttled.ExecuteQuery(ctx, q)
	assert.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "remote rate limit")

	sres := throttled.ComputeStatistics(ctx, q)
	assert.Error(t, sres.Err)

	remote.AssertNumberOfCalls(t, "ExecuteQuery", 1)
	remote.AssertNotCalled(t, "ComputeStatistics", mock.Anything, mock.Anything)
}

package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/filter"
	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/forecast"
	"github.com/Ayoub94x/esa-forecast-manager/internal/service/filtereddata"
)

// RemoteSource mock
type RemoteSource struct {
	mock.Mock
}

func (m *RemoteSource) ExecuteQuery(ctx context.Context, q *filter.Query) filtereddata.Result[filtereddata.QueryResult] {
	args := m.Called(ctx, q)
	return args.Get(0).(filtereddata.Result[filtereddata.QueryResult])
}

func (m *RemoteSource) ComputeStatistics(ctx context.Context, q *filter.Query) filtereddata.Result[*forecast.Statistics] {
	args := m.Called(ctx, q)
	return args.Get(0).(filtereddata.Result[*forecast.Statistics])
}

// Loader mock
type Loader struct {
	mock.Mock
}

func (m *Loader) LoadAll(ctx context.Context) ([]forecast.Record, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]forecast.Record), args.Error(1)
}

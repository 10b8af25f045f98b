package filtereddata

import (
	"context"

	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/filter"
	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/forecast"
)

// Result is either a value or the error that prevented producing it
type Result[T any] struct {
	Value T
	Err   error
}

// Ok wraps a successful value
func Ok[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Fail wraps an error
func Fail[T any](err error) Result[T] {
	return Result[T]{Err: err}
}

// IsOK reports whether the result carries a value
func (r Result[T]) IsOK() bool {
	return r.Err == nil
}

// Unwrap returns the value and error in the usual Go form
func (r Result[T]) Unwrap() (T, error) {
	return r.Value, r.Err
}

// QueryResult is one page of records for a query plan
type QueryResult struct {
	Records []forecast.Record `json:"records"`
	// MatchedCount is the number of rows matching the plan before pagination
	MatchedCount int `json:"matched_count"`
	// TotalCount is the size of the unfiltered collection
	TotalCount int `json:"total_count"`
}

// RemoteSource executes query plans against the system of record
type RemoteSource interface {
	ExecuteQuery(ctx context.Context, q *filter.Query) Result[QueryResult]
	ComputeStatistics(ctx context.Context, q *filter.Query) Result[*forecast.Statistics]
}

// LocalSource is the locally held collection used when the remote path is
// disabled or fails
type LocalSource interface {
	Records() []forecast.Record
}

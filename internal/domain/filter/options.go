package filter

import (
	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/forecast"
)

// Option mutates one dimension of a query. Options are applied in order on top
// of a copy of the current state, which gives shallow-merge semantics.
type Option func(*Query)

// WithDateRange sets or, with nil, clears the date range
func WithDateRange(r *DateRange) Option {
	return func(q *Query) {
		if r == nil {
			q.DateRange = nil
			return
		}
		dr := *r
		q.DateRange = &dr
	}
}

func WithBusinessUnitIDs(ids ...int64) Option {
	return func(q *Query) { q.BusinessUnitIDs = cloneSlice(ids) }
}

func WithClientIDs(ids ...int64) Option {
	return func(q *Query) { q.ClientIDs = cloneSlice(ids) }
}

func WithUserIDs(ids ...int64) Option {
	return func(q *Query) { q.UserIDs = cloneSlice(ids) }
}

func WithStatuses(statuses ...forecast.Status) Option {
	return func(q *Query) { q.Statuses = cloneSlice(statuses) }
}

func WithCountries(countries ...string) Option {
	return func(q *Query) { q.Countries = cloneSlice(countries) }
}

func WithBudgetRange(r *NumericRange) Option {
	return func(q *Query) { q.BudgetRange = r.clone() }
}

func WithForecastRange(r *NumericRange) Option {
	return func(q *Query) { q.ForecastRange = r.clone() }
}

func WithDeclaredBudgetRange(r *NumericRange) Option {
	return func(q *Query) { q.DeclaredBudgetRange = r.clone() }
}

func WithTextSearch(term string) Option {
	return func(q *Query) { q.TextSearch = term }
}

func WithLimit(limit int) Option {
	return func(q *Query) { q.Limit = limit }
}

// WithOffset is the only option that keeps the pagination cursor from being reset
func WithOffset(offset int) Option {
	return func(q *Query) { q.Offset = offset }
}

func WithOrder(column string, direction Direction) Option {
	return func(q *Query) {
		q.OrderBy = column
		q.OrderDirection = direction
	}
}

// Merge returns a copy of base with opts applied. Unless one of opts sets the
// offset, the copy's offset is reset to zero: a changed filter invalidates the
// current page.
func Merge(base *Query, opts ...Option) *Query {
	next := base.Clone()
	if next == nil {
		q := DefaultQuery()
		next = &q
	}
	next.Offset = 0
	for _, opt := range opts {
		if opt != nil {
			opt(next)
		}
	}
	return next
}

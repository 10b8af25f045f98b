// Package filterstate is the single source of truth for the active filter
// query and the data-type selection shared by every filter control.
package filterstate

import (
	"sync"

	"go.uber.org/zap"

	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/filter"
	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/forecast"
)

// Listener receives the new query each time its content changes
type Listener func(q *filter.Query)

// Store holds the current filter state. The *filter.Query it hands out is a
// frozen snapshot: callers must not mutate it, and it keeps its identity for as
// long as its content is unchanged.
type Store struct {
	logger *zap.Logger

	mu          sync.RWMutex
	query       *filter.Query
	fingerprint string
	selection   filter.DataTypeSelection

	listenersMu sync.Mutex
	listeners   map[int]Listener
	nextID      int
}

// NewStore creates a store in the reset state
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	q := filter.DefaultQuery()
	return &Store{
		logger:      logger,
		query:       &q,
		fingerprint: filter.Fingerprint(&q),
		selection:   filter.DefaultSelection(),
		listeners:   make(map[int]Listener),
	}
}

// BuildQuery returns the current query snapshot
func (s *Store) BuildQuery() *filter.Query {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.query
}

// Update shallow-merges opts into the current query. The offset is reset to 0
// unless opts include WithOffset. It reports whether the query changed.
func (s *Store) Update(opts ...filter.Option) bool {
	return s.replace(func(current *filter.Query) *filter.Query {
		return filter.Merge(current, opts...)
	})
}

// Reset restores the default query
func (s *Store) Reset() bool {
	return s.replace(func(*filter.Query) *filter.Query {
		q := filter.DefaultQuery()
		return &q
	})
}

func (s *Store) replace(next func(current *filter.Query) *filter.Query) bool {
	s.mu.Lock()
	candidate := next(s.query)
	fp := filter.Fingerprint(candidate)
	if fp == s.fingerprint {
		s.mu.Unlock()
		return false
	}
	s.query = candidate
	s.fingerprint = fp
	s.mu.Unlock()

	s.logger.Debug("filter state changed", zap.String("fingerprint", fp))
	s.notify(candidate)
	return true
}

func (s *Store) SetDateRange(r *filter.DateRange) bool {
	return s.Update(filter.WithDateRange(r))
}

func (s *Store) SetBusinessUnitIDs(ids ...int64) bool {
	return s.Update(filter.WithBusinessUnitIDs(ids...))
}

func (s *Store) SetClientIDs(ids ...int64) bool {
	return s.Update(filter.WithClientIDs(ids...))
}

func (s *Store) SetUserIDs(ids ...int64) bool {
	return s.Update(filter.WithUserIDs(ids...))
}

func (s *Store) SetStatuses(statuses ...forecast.Status) bool {
	return s.Update(filter.WithStatuses(statuses...))
}

func (s *Store) SetCountries(countries ...string) bool {
	return s.Update(filter.WithCountries(countries...))
}

func (s *Store) SetBudgetRange(r *filter.NumericRange) bool {
	return s.Update(filter.WithBudgetRange(r))
}

func (s *Store) SetForecastRange(r *filter.NumericRange) bool {
	return s.Update(filter.WithForecastRange(r))
}

func (s *Store) SetDeclaredBudgetRange(r *filter.NumericRange) bool {
	return s.Update(filter.WithDeclaredBudgetRange(r))
}

func (s *Store) SetTextSearch(term string) bool {
	return s.Update(filter.WithTextSearch(term))
}

// SetPagination moves the page cursor; it is the one setter that keeps offset
func (s *Store) SetPagination(limit, offset int) bool {
	return s.Update(filter.WithLimit(limit), filter.WithOffset(offset))
}

func (s *Store) SetOrder(column string, direction filter.Direction) bool {
	return s.Update(filter.WithOrder(column, direction))
}

// DataTypeSelection returns the current series selection
func (s *Store) DataTypeSelection() filter.DataTypeSelection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selection
}

// SetDataTypeSelection replaces the selection wholesale. It never touches the
// query, so subscribers are not notified.
func (s *Store) SetDataTypeSelection(sel filter.DataTypeSelection) {
	s.mu.Lock()
	s.selection = sel
	s.mu.Unlock()
}

// Subscribe registers l and returns a function that removes it
func (s *Store) Subscribe(l Listener) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *Store) notify(q *filter.Query) {
	s.listenersMu.Lock()
	ls := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.listenersMu.Unlock()

	for _, l := range ls {
		l(q)
	}
}

package filter

import (
	"strings"

	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/forecast"
)

// Matches reports whether r satisfies every active dimension of q. It is the
// local interpreter of a query plan and must agree with what remote sources
// return for the same plan. Pagination and ordering are not part of inclusion.
func Matches(r forecast.Record, q *Query) bool {
	if q == nil {
		return true
	}

	if q.DateRange != nil {
		start, next := r.Period()
		// Overlap of [start, next) with [range.Start, range.End]
		if start.After(q.DateRange.End) || !next.After(q.DateRange.Start) {
			return false
		}
	}

	if len(q.BusinessUnitIDs) > 0 && !contains(q.BusinessUnitIDs, r.BusinessUnitID) {
		return false
	}
	if len(q.ClientIDs) > 0 && !contains(q.ClientIDs, r.ClientID) {
		return false
	}
	if len(q.UserIDs) > 0 && !contains(q.UserIDs, r.UserID) {
		return false
	}
	if len(q.Statuses) > 0 && !contains(q.Statuses, r.Status) {
		return false
	}
	if len(q.Countries) > 0 && !contains(q.Countries, r.Country) {
		return false
	}

	if !q.BudgetRange.Contains(r.BudgetValue()) {
		return false
	}
	if !q.ForecastRange.Contains(r.ForecastValue()) {
		return false
	}
	if !q.DeclaredBudgetRange.Contains(r.DeclaredBudgetValue()) {
		return false
	}

	if term := q.SearchTerm(); term != "" && !matchesText(r, term) {
		return false
	}

	return true
}

// Select returns the records matching q, preserving input order. The result
// never aliases records.
func Select(records []forecast.Record, q *Query) []forecast.Record {
	out := make([]forecast.Record, 0, len(records))
	for _, r := range records {
		if Matches(r, q) {
			out = append(out, r)
		}
	}
	return out
}

// Execute runs a plan fully in memory: selection, ordering, then the page
// window. It returns the page and the number of matching records.
func Execute(records []forecast.Record, q *Query) ([]forecast.Record, int) {
	matched := Select(records, q)
	if q == nil {
		return matched, len(matched)
	}
	Sort(matched, q.OrderBy, q.OrderDirection)
	return Page(matched, q.Offset, q.Limit), len(matched)
}

func matchesText(r forecast.Record, term string) bool {
	needle := strings.ToLower(term)
	for _, field := range r.SearchableFields() {
		if field != "" && strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

func contains[T comparable](set []T, v T) bool {
	for _, candidate := range set {
		if candidate == v {
			return true
		}
	}
	return false
}

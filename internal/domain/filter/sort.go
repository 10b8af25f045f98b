package filter

import (
	"sort"
	"strings"

	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/forecast"
)

// SortColumns lists the columns a query may order by
var SortColumns = []string{
	"id",
	"last_modified",
	"period",
	"budget",
	"forecast",
	"declared_budget",
	"client_name",
	"business_unit_name",
	"user_name",
	"status",
	"country",
}

// IsSortColumn reports whether column is orderable
func IsSortColumn(column string) bool {
	for _, c := range SortColumns {
		if c == column {
			return true
		}
	}
	return false
}

// Sort orders records in place by column, breaking ties by id in the same
// direction. Unknown columns fall back to last_modified.
func Sort(records []forecast.Record, column string, direction Direction) {
	cmp := comparator(column)
	desc := direction == Desc
	sort.SliceStable(records, func(i, j int) bool {
		c := cmp(records[i], records[j])
		if c == 0 {
			c = compareInt64(records[i].ID, records[j].ID)
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

// Page returns the window [offset, offset+limit) of records. A non-positive
// limit means no upper bound.
func Page(records []forecast.Record, offset, limit int) []forecast.Record {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(records) {
		return []forecast.Record{}
	}
	end := len(records)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]forecast.Record, end-offset)
	copy(out, records[offset:end])
	return out
}

func comparator(column string) func(a, b forecast.Record) int {
	switch column {
	case "id":
		return func(a, b forecast.Record) int { return compareInt64(a.ID, b.ID) }
	case "period":
		return func(a, b forecast.Record) int {
			if c := compareInt64(int64(a.Year), int64(b.Year)); c != 0 {
				return c
			}
			return compareInt64(int64(a.Month), int64(b.Month))
		}
	case "budget":
		return func(a, b forecast.Record) int { return a.BudgetValue().Cmp(b.BudgetValue()) }
	case "forecast":
		return func(a, b forecast.Record) int { return a.ForecastValue().Cmp(b.ForecastValue()) }
	case "declared_budget":
		return func(a, b forecast.Record) int { return a.DeclaredBudgetValue().Cmp(b.DeclaredBudgetValue()) }
	case "client_name":
		return func(a, b forecast.Record) int { return strings.Compare(a.ClientName, b.ClientName) }
	case "business_unit_name":
		return func(a, b forecast.Record) int { return strings.Compare(a.BusinessUnitName, b.BusinessUnitName) }
	case "user_name":
		return func(a, b forecast.Record) int { return strings.Compare(a.UserName, b.UserName) }
	case "status":
		return func(a, b forecast.Record) int { return strings.Compare(string(a.Status), string(b.Status)) }
	case "country":
		return func(a, b forecast.Record) int { return strings.Compare(a.Country, b.Country) }
	default:
		return func(a, b forecast.Record) int { return a.LastModified.Compare(b.LastModified) }
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

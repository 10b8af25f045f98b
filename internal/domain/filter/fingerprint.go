package filter

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Fingerprint serializes q into a canonical string: object keys are sorted
// lexicographically at every level (encoding/json sorts map keys), unset and
// zero-valued dimensions are omitted so that "absent" and "empty" produce the
// same text, and set-valued dimensions are sorted. Two queries with equal
// field values always share a fingerprint; any semantic difference changes it.
func Fingerprint(q *Query) string {
	data, err := json.Marshal(canonical(q))
	if err != nil {
		// Only plain maps, strings, numbers and slices reach Marshal.
		return "{}"
	}
	return string(data)
}

// Key hashes the fingerprint into a fixed-length cache key
func Key(q *Query) string {
	sum := sha256.Sum256([]byte(Fingerprint(q)))
	return hex.EncodeToString(sum[:])
}

func canonical(q *Query) map[string]any {
	out := make(map[string]any)
	if q == nil {
		return out
	}

	if q.DateRange != nil {
		out["dateRange"] = map[string]any{
			"start": canonicalTime(q.DateRange.Start),
			"end":   canonicalTime(q.DateRange.End),
		}
	}
	if ids := sortedInts(q.BusinessUnitIDs); len(ids) > 0 {
		out["businessUnitIds"] = ids
	}
	if ids := sortedInts(q.ClientIDs); len(ids) > 0 {
		out["clientIds"] = ids
	}
	if ids := sortedInts(q.UserIDs); len(ids) > 0 {
		out["userIds"] = ids
	}
	if len(q.Statuses) > 0 {
		statuses := make([]string, len(q.Statuses))
		for i, s := range q.Statuses {
			statuses[i] = string(s)
		}
		out["statuses"] = sortedStrings(statuses)
	}
	if len(q.Countries) > 0 {
		out["countries"] = sortedStrings(q.Countries)
	}
	if r := canonicalRange(q.BudgetRange); r != nil {
		out["budgetRange"] = r
	}
	if r := canonicalRange(q.ForecastRange); r != nil {
		out["forecastRange"] = r
	}
	if r := canonicalRange(q.DeclaredBudgetRange); r != nil {
		out["declaredBudgetRange"] = r
	}
	if q.TextSearch != "" {
		out["textSearch"] = q.TextSearch
	}
	if q.Limit != 0 {
		out["limit"] = q.Limit
	}
	if q.Offset != 0 {
		out["offset"] = q.Offset
	}
	if q.OrderBy != "" {
		out["orderBy"] = q.OrderBy
	}
	if q.OrderDirection != "" {
		out["orderDirection"] = string(q.OrderDirection)
	}
	return out
}

func canonicalTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func canonicalRange(r *NumericRange) map[string]any {
	if r.IsZero() {
		return nil
	}
	out := make(map[string]any, 2)
	if r.Min != nil {
		out["min"] = canonicalDecimal(*r.Min)
	}
	if r.Max != nil {
		out["max"] = canonicalDecimal(*r.Max)
	}
	return out
}

// canonicalDecimal drops trailing zeros so 100 and 100.00 agree
func canonicalDecimal(d decimal.Decimal) string {
	return d.String()
}

func sortedInts(in []int64) []int64 {
	if len(in) == 0 {
		return nil
	}
	out := make([]int64, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

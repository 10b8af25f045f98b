package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/filter"
	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/forecast"
	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/querybuilder"
	"github.com/Ayoub94x/esa-forecast-manager/internal/service/filtereddata"
)

// MemorySource executes query plans against an in-process record set. It runs
// the same querybuilder plan a database would receive, interpreting the
// conditions, ordering and window instead of rendering them to SQL.
type MemorySource struct {
	mu      sync.RWMutex
	records []forecast.Record
	logger  *zap.Logger
}

// NewMemorySource creates a MemorySource over a copy of records
func NewMemorySource(records []forecast.Record, logger *zap.Logger) *MemorySource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemorySource{
		records: copyRecords(records),
		logger:  logger,
	}
}

// Replace swaps the record set
func (s *MemorySource) Replace(records []forecast.Record) {
	s.mu.Lock()
	s.records = copyRecords(records)
	s.mu.Unlock()
}

// LoadAll returns a copy of every record
func (s *MemorySource) LoadAll(ctx context.Context) ([]forecast.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyRecords(s.records), nil
}

// ExecuteQuery returns the page of records selected by q
func (s *MemorySource) ExecuteQuery(ctx context.Context, q *filter.Query) filtereddata.Result[filtereddata.QueryResult] {
	if err := ctx.Err(); err != nil {
		return filtereddata.Fail[filtereddata.QueryResult](err)
	}

	plan := querybuilder.RecordPlan(q)

	s.mu.RLock()
	total := len(s.records)
	matched, err := selectRows(s.records, plan.Conditions())
	s.mu.RUnlock()
	if err != nil {
		return filtereddata.Fail[filtereddata.QueryResult](fmt.Errorf("failed to execute query: %w", err))
	}

	orderRows(matched, plan.Ordering())

	limit, hasLimit, offset, _ := plan.Window()
	if !hasLimit {
		limit = 0
	}
	page := filter.Page(matched, offset, limit)

	s.logger.Debug("memory query executed",
		zap.Int("matched", len(matched)),
		zap.Int("returned", len(page)))

	return filtereddata.Ok(filtereddata.QueryResult{
		Records:      page,
		MatchedCount: len(matched),
		TotalCount:   total,
	})
}

// ComputeStatistics rolls up every record matching q, ignoring pagination
func (s *MemorySource) ComputeStatistics(ctx context.Context, q *filter.Query) filtereddata.Result[*forecast.Statistics] {
	if err := ctx.Err(); err != nil {
		return filtereddata.Fail[*forecast.Statistics](err)
	}

	s.mu.RLock()
	matched, err := selectRows(s.records, querybuilder.CountPlan(q).Conditions())
	s.mu.RUnlock()
	if err != nil {
		return filtereddata.Fail[*forecast.Statistics](fmt.Errorf("failed to compute statistics: %w", err))
	}

	stats := forecast.ComputeStatistics(matched)
	return filtereddata.Ok(&stats)
}

func selectRows(records []forecast.Record, conditions []querybuilder.Condition) ([]forecast.Record, error) {
	out := make([]forecast.Record, 0, len(records))
	for _, r := range records {
		ok, err := evalConditions(r, conditions)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// evalConditions folds conditions left to right with their logical operators,
// AND binding tighter than OR as in SQL.
func evalConditions(r forecast.Record, conditions []querybuilder.Condition) (bool, error) {
	result := false
	term := true
	for i, c := range conditions {
		ok, err := evalCondition(r, c)
		if err != nil {
			return false, err
		}
		if i > 0 && c.Logical == querybuilder.Or {
			result = result || term
			term = ok
			continue
		}
		term = term && ok
	}
	return result || term, nil
}

func evalCondition(r forecast.Record, c querybuilder.Condition) (bool, error) {
	if len(c.Group) > 0 {
		for _, member := range c.Group {
			ok, err := evalCondition(r, member)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}

	value, ok := columnValue(r, c.Column)
	if !ok {
		return false, fmt.Errorf("unknown column %q", c.Column)
	}

	switch c.Operator {
	case querybuilder.IsNull:
		return value == nil, nil
	case querybuilder.IsNotNull:
		return value != nil, nil
	case querybuilder.In:
		values, ok := c.Value.([]interface{})
		if !ok {
			return false, fmt.Errorf("IN condition on %s requires a value list", c.Column)
		}
		for _, candidate := range values {
			cmp, err := compareValues(value, candidate)
			if err != nil {
				return false, err
			}
			if cmp == 0 {
				return true, nil
			}
		}
		return false, nil
	case querybuilder.ILike:
		s, ok := value.(string)
		pattern, pok := c.Value.(string)
		if !ok || !pok {
			return false, fmt.Errorf("ILIKE on %s requires text operands", c.Column)
		}
		return likeMatch(strings.ToLower(s), strings.ToLower(pattern)), nil
	}

	if value == nil {
		return false, nil
	}
	cmp, err := compareValues(value, c.Value)
	if err != nil {
		return false, err
	}
	switch c.Operator {
	case querybuilder.Equal:
		return cmp == 0, nil
	case querybuilder.NotEqual:
		return cmp != 0, nil
	case querybuilder.GreaterThan:
		return cmp > 0, nil
	case querybuilder.GreaterThanOrEqual:
		return cmp >= 0, nil
	case querybuilder.LessThan:
		return cmp < 0, nil
	case querybuilder.LessThanOrEqual:
		return cmp <= 0, nil
	default:
		return false, fmt.Errorf("unsupported operator %d on %s", c.Operator, c.Column)
	}
}

// columnValue maps a view column to the record field backing it. Nullable raw
// amounts yield nil when unset; the *_value columns coalesce to zero.
func columnValue(r forecast.Record, column string) (interface{}, bool) {
	switch column {
	case querybuilder.ColID:
		return r.ID, true
	case querybuilder.ColYear:
		return int64(r.Year), true
	case querybuilder.ColMonth:
		return int64(r.Month), true
	case querybuilder.ColPeriodStart:
		start, _ := r.Period()
		return start, true
	case querybuilder.ColPeriodNext:
		_, next := r.Period()
		return next, true
	case querybuilder.ColBusinessUnitID:
		return r.BusinessUnitID, true
	case querybuilder.ColBusinessUnitName:
		return r.BusinessUnitName, true
	case querybuilder.ColClientID:
		return r.ClientID, true
	case querybuilder.ColClientName:
		return r.ClientName, true
	case querybuilder.ColUserID:
		return r.UserID, true
	case querybuilder.ColUserName:
		return r.UserName, true
	case querybuilder.ColStatus:
		return string(r.Status), true
	case querybuilder.ColCountry:
		return r.Country, true
	case querybuilder.ColBudget:
		return nullable(r.Budget), true
	case querybuilder.ColForecast:
		return nullable(r.Forecast), true
	case querybuilder.ColDeclaredBudget:
		return nullable(r.DeclaredBudget), true
	case querybuilder.ColBudgetValue:
		return r.BudgetValue(), true
	case querybuilder.ColForecastValue:
		return r.ForecastValue(), true
	case querybuilder.ColDeclaredBudgetValue:
		return r.DeclaredBudgetValue(), true
	case querybuilder.ColDescription:
		return r.Description, true
	case querybuilder.ColLastModified:
		return r.LastModified, true
	default:
		return nil, false
	}
}

func nullable(v decimal.NullDecimal) interface{} {
	if !v.Valid {
		return nil
	}
	return v.Decimal
}

func compareValues(a, b interface{}) (int, error) {
	switch av := a.(type) {
	case int64:
		bv, ok := toInt64(b)
		if !ok {
			break
		}
		switch {
		case av < bv:
			return -1, nil
		case av > bv:
			return 1, nil
		}
		return 0, nil
	case string:
		bv, ok := b.(string)
		if !ok {
			break
		}
		return strings.Compare(av, bv), nil
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			break
		}
		return av.Compare(bv), nil
	case decimal.Decimal:
		switch bv := b.(type) {
		case decimal.Decimal:
			return av.Cmp(bv), nil
		default:
			if n, ok := toInt64(b); ok {
				return av.Cmp(decimal.NewFromInt(n)), nil
			}
		}
	}
	return 0, fmt.Errorf("cannot compare %T with %T", a, b)
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	default:
		return 0, false
	}
}

// likeMatch reports whether s matches a LIKE pattern with backslash escapes
func likeMatch(s, pattern string) bool {
	str, pat := []rune(s), []rune(pattern)

	// Iterative wildcard matching with single-star backtracking
	si, pi := 0, 0
	starPi, starSi := -1, 0
	for si < len(str) {
		if pi < len(pat) {
			switch p := pat[pi]; {
			case p == '%':
				starPi, starSi = pi, si
				pi++
				continue
			case p == '_':
				si++
				pi++
				continue
			case p == '\\' && pi+1 < len(pat):
				if pat[pi+1] == str[si] {
					si++
					pi += 2
					continue
				}
			case p == str[si]:
				si++
				pi++
				continue
			}
		}
		if starPi < 0 {
			return false
		}
		starSi++
		si = starSi
		pi = starPi + 1
	}
	for pi < len(pat) && pat[pi] == '%' {
		pi++
	}
	return pi == len(pat)
}

func orderRows(records []forecast.Record, ordering []querybuilder.OrderBy) {
	if len(ordering) == 0 {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		for _, o := range ordering {
			a, _ := columnValue(records[i], o.Column)
			b, _ := columnValue(records[j], o.Column)
			cmp, err := compareValues(a, b)
			if err != nil || cmp == 0 {
				continue
			}
			if o.Direction == querybuilder.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

func copyRecords(records []forecast.Record) []forecast.Record {
	out := make([]forecast.Record, len(records))
	copy(out, records)
	return out
}

// Package filter holds the canonical filter query for forecast records along
// with everything that interprets it locally: fingerprinting, the in-memory
// evaluator, sorting and pagination.
package filter

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/forecast"
)

// Direction is a sort direction
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Default pagination and ordering
const (
	DefaultLimit          = 100
	DefaultOrderBy        = "last_modified"
	DefaultOrderDirection = Desc
)

// Query is the canonical multi-dimensional filter state. Every dimension left
// empty or nil is a no-op: it never excludes a record.
//
// A *Query handed out by the state store is a frozen snapshot and doubles as the
// query plan given to remote sources.
type Query struct {
	DateRange *DateRange `json:"date_range,omitempty"`

	BusinessUnitIDs []int64           `json:"business_unit_ids,omitempty" validate:"omitempty,dive,gt=0"`
	ClientIDs       []int64           `json:"client_ids,omitempty" validate:"omitempty,dive,gt=0"`
	UserIDs         []int64           `json:"user_ids,omitempty" validate:"omitempty,dive,gt=0"`
	Statuses        []forecast.Status `json:"statuses,omitempty" validate:"omitempty,dive,oneof=Draft Approved"`
	Countries       []string          `json:"countries,omitempty" validate:"omitempty,dive,len=2,uppercase"`

	BudgetRange         *NumericRange `json:"budget_range,omitempty"`
	ForecastRange       *NumericRange `json:"forecast_range,omitempty"`
	DeclaredBudgetRange *NumericRange `json:"declared_budget_range,omitempty"`

	TextSearch string `json:"text_search,omitempty" validate:"max=200"`

	Limit          int       `json:"limit" validate:"gte=1,lte=1000"`
	Offset         int       `json:"offset" validate:"gte=0"`
	OrderBy        string    `json:"order_by" validate:"sortcolumn"`
	OrderDirection Direction `json:"order_direction" validate:"oneof=asc desc"`
}

// DateRange is a closed interval of instants
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NumericRange is a closed interval whose bounds are independently optional
type NumericRange struct {
	Min *decimal.Decimal `json:"min,omitempty"`
	Max *decimal.Decimal `json:"max,omitempty"`
}

// IsZero reports whether neither bound is set
func (r *NumericRange) IsZero() bool {
	return r == nil || (r.Min == nil && r.Max == nil)
}

// Contains reports whether v satisfies every bound that is set
func (r *NumericRange) Contains(v decimal.Decimal) bool {
	if r == nil {
		return true
	}
	if r.Min != nil && v.LessThan(*r.Min) {
		return false
	}
	if r.Max != nil && v.GreaterThan(*r.Max) {
		return false
	}
	return true
}

// Between builds a range with both bounds set
func Between(min, max int64) *NumericRange {
	lo, hi := decimal.NewFromInt(min), decimal.NewFromInt(max)
	return &NumericRange{Min: &lo, Max: &hi}
}

// AtLeast builds a range with only a lower bound
func AtLeast(min int64) *NumericRange {
	lo := decimal.NewFromInt(min)
	return &NumericRange{Min: &lo}
}

// AtMost builds a range with only an upper bound
func AtMost(max int64) *NumericRange {
	hi := decimal.NewFromInt(max)
	return &NumericRange{Max: &hi}
}

// DefaultQuery returns the reset state of the filters
func DefaultQuery() Query {
	return Query{
		Limit:          DefaultLimit,
		Offset:         0,
		OrderBy:        DefaultOrderBy,
		OrderDirection: DefaultOrderDirection,
	}
}

// SearchTerm returns the effective free-text term; blank input means no search
func (q *Query) SearchTerm() string {
	if q == nil {
		return ""
	}
	return strings.TrimSpace(q.TextSearch)
}

// Clone returns a deep copy so the result shares no slices or ranges with q
func (q *Query) Clone() *Query {
	if q == nil {
		return nil
	}
	c := *q
	if q.DateRange != nil {
		dr := *q.DateRange
		c.DateRange = &dr
	}
	c.BusinessUnitIDs = cloneSlice(q.BusinessUnitIDs)
	c.ClientIDs = cloneSlice(q.ClientIDs)
	c.UserIDs = cloneSlice(q.UserIDs)
	c.Statuses = cloneSlice(q.Statuses)
	c.Countries = cloneSlice(q.Countries)
	c.BudgetRange = q.BudgetRange.clone()
	c.ForecastRange = q.ForecastRange.clone()
	c.DeclaredBudgetRange = q.DeclaredBudgetRange.clone()
	return &c
}

func (r *NumericRange) clone() *NumericRange {
	if r == nil {
		return nil
	}
	c := &NumericRange{}
	if r.Min != nil {
		v := *r.Min
		c.Min = &v
	}
	if r.Max != nil {
		v := *r.Max
		c.Max = &v
	}
	return c
}

func cloneSlice[T any](in []T) []T {
	if len(in) == 0 {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

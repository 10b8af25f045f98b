package forecast

import (
	"time"

	"github.com/shopspring/decimal"
)

// Record is one monthly budget/forecast entry for a client within a business unit.
type Record struct {
	ID    int64 `json:"id"`
	Year  int   `json:"year"`
	Month int   `json:"month"`

	BusinessUnitID   int64  `json:"business_unit_id"`
	BusinessUnitName string `json:"business_unit_name"`
	ClientID         int64  `json:"client_id"`
	ClientName       string `json:"client_name"`
	UserID           int64  `json:"user_id"`
	UserName         string `json:"user_name"`

	Status  Status `json:"status"`
	Country string `json:"country"`

	// Value series; a missing value counts as zero for filtering and totals
	Budget         decimal.NullDecimal `json:"budget"`
	Forecast       decimal.NullDecimal `json:"forecast"`
	DeclaredBudget decimal.NullDecimal `json:"declared_budget"`

	Description  string    `json:"description"`
	LastModified time.Time `json:"last_modified"`
}

// Status is the lifecycle state of a forecast entry
type Status string

const (
	StatusDraft    Status = "Draft"
	StatusApproved Status = "Approved"
)

// Statuses lists every known lifecycle state
var Statuses = []Status{StatusDraft, StatusApproved}

func (s Status) String() string {
	return string(s)
}

// IsValid reports whether s is a known lifecycle state
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusApproved:
		return true
	default:
		return false
	}
}

// Period returns the first instant of the record's month and the first
// instant of the following month. Records cover [start, next).
func (r Record) Period() (start, next time.Time) {
	start = time.Date(r.Year, time.Month(r.Month), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// BudgetValue returns the budget or zero when unset
func (r Record) BudgetValue() decimal.Decimal {
	return valueOrZero(r.Budget)
}

// ForecastValue returns the forecast or zero when unset
func (r Record) ForecastValue() decimal.Decimal {
	return valueOrZero(r.Forecast)
}

// DeclaredBudgetValue returns the declared budget or zero when unset
func (r Record) DeclaredBudgetValue() decimal.Decimal {
	return valueOrZero(r.DeclaredBudget)
}

// SearchableFields is the canonical list of human-readable fields matched by
// free-text search. Both the in-memory evaluator and the remote query plan use
// this exact list.
func (r Record) SearchableFields() []string {
	return []string{r.ClientName, r.BusinessUnitName, r.UserName, r.Description, string(r.Status)}
}

// SearchColumns names the columns backing SearchableFields, in the same order
var SearchColumns = []string{"client_name", "business_unit_name", "user_name", "description", "status"}

func valueOrZero(v decimal.NullDecimal) decimal.Decimal {
	if !v.Valid {
		return decimal.Zero
	}
	return v.Decimal
}

// Amount is a convenience for building a set value series
func Amount(v int64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromInt(v))
}

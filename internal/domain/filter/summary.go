package filter

// Summary describes which dimensions of a query are active
type Summary struct {
	ActiveDimensions int      `json:"active_dimensions"`
	Dimensions       []string `json:"dimensions"`
	HasDateRange     bool     `json:"has_date_range"`
	HasNumericRange  bool     `json:"has_numeric_range"`
	HasTextSearch    bool     `json:"has_text_search"`
}

// Summarize inspects q. A nil query, which can occur before the first filter
// state is published, yields the zero summary.
func Summarize(q *Query) Summary {
	s := Summary{Dimensions: []string{}}
	if q == nil {
		return s
	}

	add := func(name string, active bool) {
		if active {
			s.Dimensions = append(s.Dimensions, name)
		}
	}
	add("date_range", q.DateRange != nil)
	add("business_unit_ids", len(q.BusinessUnitIDs) > 0)
	add("client_ids", len(q.ClientIDs) > 0)
	add("user_ids", len(q.UserIDs) > 0)
	add("statuses", len(q.Statuses) > 0)
	add("countries", len(q.Countries) > 0)
	add("budget_range", !q.BudgetRange.IsZero())
	add("forecast_range", !q.ForecastRange.IsZero())
	add("declared_budget_range", !q.DeclaredBudgetRange.IsZero())
	add("text_search", q.SearchTerm() != "")

	s.ActiveDimensions = len(s.Dimensions)
	s.HasDateRange = q.DateRange != nil
	s.HasNumericRange = !q.BudgetRange.IsZero() || !q.ForecastRange.IsZero() || !q.DeclaredBudgetRange.IsZero()
	s.HasTextSearch = q.SearchTerm() != ""
	return s
}

// Series names a value series of a record
type Series string

const (
	SeriesBudget         Series = "budget"
	SeriesForecast       Series = "forecast"
	SeriesDeclaredBudget Series = "declared_budget"
)

// DataTypeSelection chooses which value series views render. It never
// excludes records.
type DataTypeSelection struct {
	Budget         bool `json:"budget"`
	Forecast       bool `json:"forecast"`
	DeclaredBudget bool `json:"declared_budget"`
}

// DefaultSelection shows every series
func DefaultSelection() DataTypeSelection {
	return DataTypeSelection{Budget: true, Forecast: true, DeclaredBudget: true}
}

// Series returns the selected series in display order
func (s DataTypeSelection) Series() []Series {
	out := make([]Series, 0, 3)
	if s.Budget {
		out = append(out, SeriesBudget)
	}
	if s.Forecast {
		out = append(out, SeriesForecast)
	}
	if s.DeclaredBudget {
		out = append(out, SeriesDeclaredBudget)
	}
	return out
}

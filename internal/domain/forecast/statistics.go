package forecast

import (
	"sort"
	"strconv"

	"github.com/shopspring/decimal"
)

// Statistics are aggregate rollups over a result set
type Statistics struct {
	RecordCount         int             `json:"record_count"`
	TotalBudget         decimal.Decimal `json:"total_budget"`
	TotalForecast       decimal.Decimal `json:"total_forecast"`
	TotalDeclaredBudget decimal.Decimal `json:"total_declared_budget"`

	ByBusinessUnit []Breakdown    `json:"by_business_unit"`
	ByClient       []Breakdown    `json:"by_client"`
	ByStatus       []Breakdown    `json:"by_status"`
	ByCountry      []Breakdown    `json:"by_country"`
	MonthlyTrend   []MonthlyPoint `json:"monthly_trend"`
}

// Breakdown is one group of a per-dimension rollup
type Breakdown struct {
	Key            string          `json:"key"`
	Label          string          `json:"label"`
	Count          int             `json:"count"`
	Budget         decimal.Decimal `json:"budget"`
	Forecast       decimal.Decimal `json:"forecast"`
	DeclaredBudget decimal.Decimal `json:"declared_budget"`
}

// MonthlyPoint is one month of the trend series
type MonthlyPoint struct {
	Year           int             `json:"year"`
	Month          int             `json:"month"`
	Count          int             `json:"count"`
	Budget         decimal.Decimal `json:"budget"`
	Forecast       decimal.Decimal `json:"forecast"`
	DeclaredBudget decimal.Decimal `json:"declared_budget"`
}

// Variance is forecast minus budget over the whole set
func (s Statistics) Variance() decimal.Decimal {
	return s.TotalForecast.Sub(s.TotalBudget)
}

// ComputeStatistics rolls up records in memory. A nil or empty slice yields
// zeroed statistics with empty (non-nil) breakdowns.
func ComputeStatistics(records []Record) Statistics {
	stats := Statistics{
		TotalBudget:         decimal.Zero,
		TotalForecast:       decimal.Zero,
		TotalDeclaredBudget: decimal.Zero,
		ByBusinessUnit:      []Breakdown{},
		ByClient:            []Breakdown{},
		ByStatus:            []Breakdown{},
		ByCountry:           []Breakdown{},
		MonthlyTrend:        []MonthlyPoint{},
	}

	businessUnits := make(map[string]*Breakdown)
	clients := make(map[string]*Breakdown)
	statuses := make(map[string]*Breakdown)
	countries := make(map[string]*Breakdown)
	months := make(map[[2]int]*MonthlyPoint)

	for _, r := range records {
		budget, fc, declared := r.BudgetValue(), r.ForecastValue(), r.DeclaredBudgetValue()

		stats.RecordCount++
		stats.TotalBudget = stats.TotalBudget.Add(budget)
		stats.TotalForecast = stats.TotalForecast.Add(fc)
		stats.TotalDeclaredBudget = stats.TotalDeclaredBudget.Add(declared)

		accumulate(businessUnits, strconv.FormatInt(r.BusinessUnitID, 10), r.BusinessUnitName, budget, fc, declared)
		accumulate(clients, strconv.FormatInt(r.ClientID, 10), r.ClientName, budget, fc, declared)
		accumulate(statuses, string(r.Status), string(r.Status), budget, fc, declared)
		accumulate(countries, r.Country, r.Country, budget, fc, declared)

		key := [2]int{r.Year, r.Month}
		point, ok := months[key]
		if !ok {
			point = &MonthlyPoint{Year: r.Year, Month: r.Month}
			months[key] = point
		}
		point.Count++
		point.Budget = point.Budget.Add(budget)
		point.Forecast = point.Forecast.Add(fc)
		point.DeclaredBudget = point.DeclaredBudget.Add(declared)
	}

	stats.ByBusinessUnit = flatten(businessUnits)
	stats.ByClient = flatten(clients)
	stats.ByStatus = flatten(statuses)
	stats.ByCountry = flatten(countries)

	for _, point := range months {
		stats.MonthlyTrend = append(stats.MonthlyTrend, *point)
	}
	SortTrend(stats.MonthlyTrend)

	return stats
}

// SortBreakdowns orders groups by key so rollups from different sources compare equal
func SortBreakdowns(groups []Breakdown) {
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Key < groups[j].Key
	})
}

// SortTrend orders the monthly series chronologically
func SortTrend(points []MonthlyPoint) {
	sort.Slice(points, func(i, j int) bool {
		if points[i].Year != points[j].Year {
			return points[i].Year < points[j].Year
		}
		return points[i].Month < points[j].Month
	})
}

func accumulate(groups map[string]*Breakdown, key, label string, budget, fc, declared decimal.Decimal) {
	group, ok := groups[key]
	if !ok {
		group = &Breakdown{Key: key, Label: label}
		groups[key] = group
	}
	group.Count++
	group.Budget = group.Budget.Add(budget)
	group.Forecast = group.Forecast.Add(fc)
	group.DeclaredBudget = group.DeclaredBudget.Add(declared)
}

func flatten(groups map[string]*Breakdown) []Breakdown {
	out := make([]Breakdown, 0, len(groups))
	for _, group := range groups {
		out = append(out, *group)
	}
	SortBreakdowns(out)
	return out
}

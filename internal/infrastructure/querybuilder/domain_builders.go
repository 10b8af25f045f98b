package querybuilder

import (
	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/filter"
	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/forecast"
)

// ForecastView is the read model every forecast query runs against. It joins
// the reference tables, exposes month bounds as period_start/period_next and
// the *_value columns with missing amounts coalesced to zero.
const ForecastView = "forecast_records"

// ForecastTable is the write table for forecast rows
const ForecastTable = "forecasts"

// Columns of ForecastView
const (
	ColID                  = "id"
	ColYear                = "year"
	ColMonth               = "month"
	ColPeriodStart         = "period_start"
	ColPeriodNext          = "period_next"
	ColBusinessUnitID      = "business_unit_id"
	ColBusinessUnitName    = "business_unit_name"
	ColClientID            = "client_id"
	ColClientName          = "client_name"
	ColUserID              = "user_id"
	ColUserName            = "user_name"
	ColStatus              = "status"
	ColCountry             = "country"
	ColBudget              = "budget"
	ColForecast            = "forecast"
	ColDeclaredBudget      = "declared_budget"
	ColBudgetValue         = "budget_value"
	ColForecastValue       = "forecast_value"
	ColDeclaredBudgetValue = "declared_budget_value"
	ColDescription         = "description"
	ColLastModified        = "last_modified"
)

// RecordColumns is the projection scanned into forecast.Record, in scan order
var RecordColumns = []string{
	ColID, ColYear, ColMonth,
	ColBusinessUnitID, ColBusinessUnitName,
	ColClientID, ColClientName,
	ColUserID, ColUserName,
	ColStatus, ColCountry,
	ColBudget, ColForecast, ColDeclaredBudget,
	ColDescription, ColLastModified,
}

// textCollation makes name ordering bytewise, matching strings.Compare
const textCollation = "C"

// sortColumns maps filter sort columns to view columns
var sortColumns = map[string]string{
	"id":                 ColID,
	"last_modified":      ColLastModified,
	"period":             ColPeriodStart,
	"budget":             ColBudgetValue,
	"forecast":           ColForecastValue,
	"declared_budget":    ColDeclaredBudgetValue,
	"client_name":        ColClientName,
	"business_unit_name": ColBusinessUnitName,
	"user_name":          ColUserName,
	"status":             ColStatus,
	"country":            ColCountry,
}

var textSortColumns = map[string]bool{
	ColClientName:       true,
	ColBusinessUnitName: true,
	ColUserName:         true,
	ColStatus:           true,
	ColCountry:          true,
}

// ForecastQueryBuilder translates a filter query into SQL over ForecastView
type ForecastQueryBuilder struct {
	*QueryBuilder
}

// NewForecastQuery creates a new ForecastQueryBuilder
func NewForecastQuery() *ForecastQueryBuilder {
	return &ForecastQueryBuilder{
		QueryBuilder: New(),
	}
}

// SelectRecords starts a SELECT of full records
func (fqb *ForecastQueryBuilder) SelectRecords() *ForecastQueryBuilder {
	fqb.Select(RecordColumns...).From(ForecastView)
	return fqb
}

// SelectCount starts a SELECT COUNT(*)
func (fqb *ForecastQueryBuilder) SelectCount() *ForecastQueryBuilder {
	fqb.Select("COUNT(*)").From(ForecastView)
	return fqb
}

// SelectTotals selects the count and the three series sums over the set
func (fqb *ForecastQueryBuilder) SelectTotals(groupColumns ...string) *ForecastQueryBuilder {
	columns := append([]string{}, groupColumns...)
	columns = append(columns,
		"COUNT(*)",
		"COALESCE(SUM("+ColBudgetValue+"), 0)",
		"COALESCE(SUM("+ColForecastValue+"), 0)",
		"COALESCE(SUM("+ColDeclaredBudgetValue+"), 0)",
	)
	fqb.Select(columns...).From(ForecastView)
	if len(groupColumns) > 0 {
		fqb.GroupBy(groupColumns...)
	}
	return fqb
}

// WhereFilter adds one condition per active dimension of q. Empty dimensions
// add nothing, so an empty query selects every row.
func (fqb *ForecastQueryBuilder) WhereFilter(q *filter.Query) *ForecastQueryBuilder {
	if q == nil {
		return fqb
	}

	if q.DateRange != nil {
		fqb.Where(ColPeriodStart, LessThanOrEqual, q.DateRange.End)
		fqb.Where(ColPeriodNext, GreaterThan, q.DateRange.Start)
	}

	if len(q.BusinessUnitIDs) > 0 {
		fqb.WhereIn(ColBusinessUnitID, toValues(q.BusinessUnitIDs))
	}
	if len(q.ClientIDs) > 0 {
		fqb.WhereIn(ColClientID, toValues(q.ClientIDs))
	}
	if len(q.UserIDs) > 0 {
		fqb.WhereIn(ColUserID, toValues(q.UserIDs))
	}
	if len(q.Statuses) > 0 {
		statuses := make([]string, len(q.Statuses))
		for i, s := range q.Statuses {
			statuses[i] = string(s)
		}
		fqb.WhereIn(ColStatus, toValues(statuses))
	}
	if len(q.Countries) > 0 {
		fqb.WhereIn(ColCountry, toValues(q.Countries))
	}

	fqb.whereRange(ColBudgetValue, q.BudgetRange)
	fqb.whereRange(ColForecastValue, q.ForecastRange)
	fqb.whereRange(ColDeclaredBudgetValue, q.DeclaredBudgetRange)

	if term := q.SearchTerm(); term != "" {
		pattern := ContainsPattern(term)
		members := make([]Condition, len(forecast.SearchColumns))
		for i, column := range forecast.SearchColumns {
			members[i] = Condition{Column: column, Operator: ILike, Value: pattern}
		}
		fqb.WhereAny(members...)
	}

	return fqb
}

func (fqb *ForecastQueryBuilder) whereRange(column string, r *filter.NumericRange) {
	if r.IsZero() {
		return
	}
	if r.Min != nil {
		fqb.Where(column, GreaterThanOrEqual, *r.Min)
	}
	if r.Max != nil {
		fqb.Where(column, LessThanOrEqual, *r.Max)
	}
}

// OrderByFilter applies q's ordering with an id tie-breaker in the same direction
func (fqb *ForecastQueryBuilder) OrderByFilter(q *filter.Query) *ForecastQueryBuilder {
	column, direction := filter.DefaultOrderBy, filter.DefaultOrderDirection
	if q != nil {
		if q.OrderBy != "" {
			column = q.OrderBy
		}
		if q.OrderDirection != "" {
			direction = q.OrderDirection
		}
	}

	viewColumn, ok := sortColumns[column]
	if !ok {
		viewColumn = ColLastModified
	}
	dir := Asc
	if direction == filter.Desc {
		dir = Desc
	}

	if textSortColumns[viewColumn] {
		fqb.OrderByCollate(viewColumn, dir, textCollation)
	} else {
		fqb.OrderBy(viewColumn, dir)
	}
	if viewColumn != ColID {
		fqb.OrderBy(ColID, dir)
	}
	return fqb
}

// PageFilter applies q's limit and offset
func (fqb *ForecastQueryBuilder) PageFilter(q *filter.Query) *ForecastQueryBuilder {
	if q == nil {
		return fqb
	}
	if q.Limit > 0 {
		fqb.Limit(q.Limit)
	}
	if q.Offset > 0 {
		fqb.Offset(q.Offset)
	}
	return fqb
}

// RecordPlan is the full page query for q
func RecordPlan(q *filter.Query) *ForecastQueryBuilder {
	return NewForecastQuery().SelectRecords().WhereFilter(q).OrderByFilter(q).PageFilter(q)
}

// CountPlan counts every row matching q, ignoring pagination
func CountPlan(q *filter.Query) *ForecastQueryBuilder {
	return NewForecastQuery().SelectCount().WhereFilter(q)
}

// StatisticsDimension is one GROUP BY rollup of the statistics
type StatisticsDimension struct {
	Name    string
	Columns []string
}

// StatisticsDimensions lists the rollups in the order statistics are assembled
var StatisticsDimensions = []StatisticsDimension{
	{Name: "business_unit", Columns: []string{ColBusinessUnitID, ColBusinessUnitName}},
	{Name: "client", Columns: []string{ColClientID, ColClientName}},
	{Name: "status", Columns: []string{ColStatus}},
	{Name: "country", Columns: []string{ColCountry}},
	{Name: "month", Columns: []string{ColYear, ColMonth}},
}

// TotalsPlan sums the series over every row matching q
func TotalsPlan(q *filter.Query) *ForecastQueryBuilder {
	return NewForecastQuery().SelectTotals().WhereFilter(q)
}

// BreakdownPlan rolls the rows matching q up by dimension d
func BreakdownPlan(q *filter.Query, d StatisticsDimension) *ForecastQueryBuilder {
	return NewForecastQuery().SelectTotals(d.Columns...).WhereFilter(q)
}

// InsertRecord builds an idempotent insert of r into ForecastTable
func InsertRecord(r forecast.Record) *QueryBuilder {
	return New().Insert(ForecastTable).
		Set(ColID, r.ID).
		Set(ColYear, r.Year).
		Set(ColMonth, r.Month).
		Set(ColBusinessUnitID, r.BusinessUnitID).
		Set(ColClientID, r.ClientID).
		Set(ColUserID, r.UserID).
		Set(ColStatus, string(r.Status)).
		Set(ColCountry, r.Country).
		Set(ColBudget, r.Budget).
		Set(ColForecast, r.Forecast).
		Set(ColDeclaredBudget, r.DeclaredBudget).
		Set(ColDescription, r.Description).
		Set(ColLastModified, r.LastModified).
		OnConflict([]string{ColID}, DoNothing)
}

// InsertReference builds an idempotent insert of a named reference row
// (business unit, client or user)
func InsertReference(table string, id int64, name string) *QueryBuilder {
	return New().Insert(table).
		Set(ColID, id).
		Set("name", name).
		OnConflict([]string{ColID}, DoNothing)
}

// Reference tables joined into ForecastView
const (
	BusinessUnitsTable = "business_units"
	ClientsTable       = "clients"
	UsersTable         = "users"
)

func toValues[T any](in []T) []interface{} {
	out := make([]interface{}, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

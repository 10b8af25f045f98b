package fixtures

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/filter"
	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/forecast"
)

// RecordBuilder builds test forecast records
type RecordBuilder struct {
	t      *testing.T
	record forecast.Record
}

// NewRecordBuilder creates a RecordBuilder with a Draft record for January 2024
func NewRecordBuilder(t *testing.T) *RecordBuilder {
	t.Helper()
	return &RecordBuilder{
		t: t,
		record: forecast.Record{
			ID:               1,
			Year:             2024,
			Month:            1,
			BusinessUnitID:   1,
			BusinessUnitName: "Space Systems",
			ClientID:         1,
			ClientName:       "European Space Agency",
			UserID:           1,
			UserName:         "Maria Rossi",
			Status:           forecast.StatusDraft,
			Country:          "IT",
			LastModified:     time.Date(2024, time.January, 15, 9, 0, 0, 0, time.UTC),
		},
	}
}

// WithID sets the record ID
func (b *RecordBuilder) WithID(id int64) *RecordBuilder {
	b.record.ID = id
	return b
}

// WithPeriod sets the record month
func (b *RecordBuilder) WithPeriod(year, month int) *RecordBuilder {
	b.record.Year = year
	b.record.Month = month
	return b
}

// WithBusinessUnit sets the business unit
func (b *RecordBuilder) WithBusinessUnit(id int64, name string) *RecordBuilder {
	b.record.BusinessUnitID = id
	b.record.BusinessUnitName = name
	return b
}

// WithClient sets the client and its country
func (b *RecordBuilder) WithClient(id int64, name, country string) *RecordBuilder {
	b.record.ClientID = id
	b.record.ClientName = name
	b.record.Country = country
	return b
}

// WithUser sets the owning user
func (b *RecordBuilder) WithUser(id int64, name string) *RecordBuilder {
	b.record.UserID = id
	b.record.UserName = name
	return b
}

// WithStatus sets the lifecycle state
func (b *RecordBuilder) WithStatus(status forecast.Status) *RecordBuilder {
	b.record.Status = status
	return b
}

// WithAmounts sets budget, forecast and declared budget
func (b *RecordBuilder) WithAmounts(budget, fc, declared int64) *RecordBuilder {
	b.record.Budget = forecast.Amount(budget)
	b.record.Forecast = forecast.Amount(fc)
	b.record.DeclaredBudget = forecast.Amount(declared)
	return b
}

// WithBudget sets only the budget
func (b *RecordBuilder) WithBudget(budget int64) *RecordBuilder {
	b.record.Budget = forecast.Amount(budget)
	return b
}

// WithDescription sets the free-text description
func (b *RecordBuilder) WithDescription(description string) *RecordBuilder {
	b.record.Description = description
	return b
}

// WithLastModified sets the modification time
func (b *RecordBuilder) WithLastModified(t time.Time) *RecordBuilder {
	b.record.LastModified = t
	return b
}

// Build returns the record
func (b *RecordBuilder) Build() forecast.Record {
	return b.record
}

// SampleRecords returns a small realistic data set spanning two business units
func SampleRecords(t *testing.T) []forecast.Record {
	t.Helper()
	base := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	return []forecast.Record{
		NewRecordBuilder(t).WithID(1).WithPeriod(2024, 1).WithAmounts(500, 450, 0).
			WithDescription("Launcher study").WithLastModified(base).Build(),
		NewRecordBuilder(t).WithID(2).WithPeriod(2024, 1).WithBusinessUnit(2, "Defense").
			WithClient(2, "Thales Alenia", "FR").WithUser(2, "Jean Martin").
			WithStatus(forecast.StatusApproved).WithAmounts(1500, 1600, 1400).
			WithLastModified(base.Add(time.Hour)).Build(),
		NewRecordBuilder(t).WithID(3).WithPeriod(2024, 2).WithClient(3, "Airbus DS", "DE").
			WithStatus(forecast.StatusApproved).WithAmounts(800, 900, 850).
			WithDescription("Ground segment").WithLastModified(base.Add(2 * time.Hour)).Build(),
		NewRecordBuilder(t).WithID(4).WithPeriod(2024, 3).WithBusinessUnit(2, "Defense").
			WithUser(2, "Jean Martin").WithBudget(100).
			WithLastModified(base.Add(3 * time.Hour)).Build(),
	}
}

var (
	randomNames     = []string{"Orbit", "Nova", "Helios", "Vega", "Ariane", "Galileo", ""}
	randomCountries = []string{"IT", "FR", "DE", "ES", "NL"}
	randomTerms     = []string{"or", "NOVA", "gal", "draft", "appr", "x", " helios "}
)

// RandomRecords generates n records with ids 1..n whose dimensions overlap
// enough that random queries hit both sides of every clause.
func RandomRecords(rng *rand.Rand, n int) []forecast.Record {
	records := make([]forecast.Record, n)
	for i := range records {
		r := forecast.Record{
			ID:               int64(i + 1),
			Year:             2023 + rng.Intn(2),
			Month:            1 + rng.Intn(12),
			BusinessUnitID:   int64(1 + rng.Intn(4)),
			ClientID:         int64(1 + rng.Intn(6)),
			UserID:           int64(1 + rng.Intn(3)),
			Country:          randomCountries[rng.Intn(len(randomCountries))],
			ClientName:       randomNames[rng.Intn(len(randomNames))],
			BusinessUnitName: randomNames[rng.Intn(len(randomNames))],
			UserName:         randomNames[rng.Intn(len(randomNames))],
			LastModified:     time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(rng.Intn(10000)) * time.Minute),
		}
		if rng.Intn(2) == 0 {
			r.Status = forecast.StatusDraft
		} else {
			r.Status = forecast.StatusApproved
		}
		if rng.Intn(3) > 0 {
			r.Budget = forecast.Amount(int64(rng.Intn(2000)))
		}
		if rng.Intn(3) > 0 {
			r.Forecast = forecast.Amount(int64(rng.Intn(2000)))
		}
		if rng.Intn(3) > 0 {
			r.DeclaredBudget = decimal.NewNullDecimal(decimal.New(int64(rng.Intn(200000)), -2))
		}
		if rng.Intn(2) == 0 {
			r.Description = fmt.Sprintf("%s phase %d", randomNames[rng.Intn(len(randomNames))], rng.Intn(5))
		}
		records[i] = r
	}
	return records
}

// RandomQuery generates a valid query where each dimension is independently
// left empty or set to a random value.
func RandomQuery(rng *rand.Rand) *filter.Query {
	q := filter.DefaultQuery()
	q.Limit = 1000
	q.OrderBy = filter.SortColumns[rng.Intn(len(filter.SortColumns))]
	if rng.Intn(2) == 0 {
		q.OrderDirection = filter.Asc
	}

	if rng.Intn(3) == 0 {
		start := time.Date(2023, time.Month(1+rng.Intn(12)), 1+rng.Intn(28), rng.Intn(24), 0, 0, 0, time.UTC)
		end := start.Add(time.Duration(rng.Intn(24*200)) * time.Hour)
		q.DateRange = &filter.DateRange{Start: start, End: end}
	}
	if rng.Intn(3) == 0 {
		q.BusinessUnitIDs = randomIDs(rng, 4)
	}
	if rng.Intn(3) == 0 {
		q.ClientIDs = randomIDs(rng, 6)
	}
	if rng.Intn(4) == 0 {
		q.UserIDs = randomIDs(rng, 3)
	}
	if rng.Intn(3) == 0 {
		q.Statuses = []forecast.Status{forecast.Statuses[rng.Intn(len(forecast.Statuses))]}
	}
	if rng.Intn(3) == 0 {
		q.Countries = []string{randomCountries[rng.Intn(len(randomCountries))], randomCountries[rng.Intn(len(randomCountries))]}
	}
	q.BudgetRange = randomRange(rng)
	q.ForecastRange = randomRange(rng)
	q.DeclaredBudgetRange = randomRange(rng)
	if rng.Intn(3) == 0 {
		q.TextSearch = randomTerms[rng.Intn(len(randomTerms))]
	}
	return &q
}

func randomIDs(rng *rand.Rand, max int) []int64 {
	n := 1 + rng.Intn(2)
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(1 + rng.Intn(max))
	}
	return ids
}

func randomRange(rng *rand.Rand) *filter.NumericRange {
	switch rng.Intn(5) {
	case 0:
		lo := int64(rng.Intn(1000))
		return filter.Between(lo, lo+int64(rng.Intn(1000)))
	case 1:
		return filter.AtLeast(int64(rng.Intn(1500)))
	case 2:
		return filter.AtMost(int64(rng.Intn(1500)))
	default:
		return nil
	}
}

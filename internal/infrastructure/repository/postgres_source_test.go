package repository

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	apperrors "github.com/Ayoub94x/esa-forecast-manager/internal/domain/errors"
	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/filter"
	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/forecast"
	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/config"
	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/database"
	"github.com/Ayoub94x/esa-forecast-manager/internal/testutil/containers"
	"github.com/Ayoub94x/esa-forecast-manager/internal/testutil/fixtures"
)

func TestNewPostgresSource_Validation(t *testing.T) {
	_, err := NewPostgresSource(nil, nil, zaptest.NewLogger(t))
	assert.EqualError(t, err, "database is required")
}

// normalize gives every id a single name so the data fits the reference tables
func normalize(records []forecast.Record) []forecast.Record {
	names := []string{"Orbit", "Nova", "Helios", "Vega", "Ariane", "Galileo"}
	out := make([]forecast.Record, len(records))
	for i, r := range records {
		r.BusinessUnitName = names[int(r.BusinessUnitID)%len(names)]
		r.ClientName = names[int(r.ClientID+1)%len(names)]
		r.UserName = names[int(r.UserID+2)%len(names)]
		out[i] = r
	}
	return out
}

func TestPostgresSource_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	pg, err := containers.NewPostgresContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	pool, err := database.NewConnectionPool(ctx, &config.DatabaseConfig{URL: pg.ConnectionString, MaxOpenConns: 5}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	db := pool.DB()
	t.Cleanup(func() { _ = db.Close() })
	migrator, err := database.NewMigrator(db, logger)
	require.NoError(t, err)
	require.NoError(t, migrator.Up(0))

	version, dirty, err := migrator.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	rng := rand.New(rand.NewSource(42))
	records := normalize(fixtures.RandomRecords(rng, 120))

	src, err := NewPostgresSource(pool.Pool(), pool.Breaker(), logger)
	require.NoError(t, err)
	require.NoError(t, pool.Transaction(ctx, func(tx pgx.Tx) error {
		return src.Insert(ctx, tx, records)
	}))

	memory := NewMemorySource(records, logger)

	t.Run("duplicate inserts leave the breaker closed", func(t *testing.T) {
		for i := 0; i < database.DefaultBreakerThreshold+1; i++ {
			err := pool.Transaction(ctx, func(tx pgx.Tx) error {
				return src.Insert(ctx, tx, records[:1])
			})
			require.Error(t, err)
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))
		}
		assert.Equal(t, database.CircuitClosed, pool.Breaker().State())
	})

	t.Run("LoadAll", func(t *testing.T) {
		all, err := src.LoadAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, recordIDs(records), recordIDs(all))
	})

	for i := 0; i < 40; i++ {
		q := fixtures.RandomQuery(rng)
		q.Limit = 1 + rng.Intn(50)
		q.Offset = rng.Intn(20)

		t.Run(fmt.Sprintf("query %d", i), func(t *testing.T) {
			got := src.ExecuteQuery(ctx, q)
			require.NoError(t, got.Err)
			want := memory.ExecuteQuery(ctx, q)
			require.NoError(t, want.Err)

			assert.Equal(t, want.Value.MatchedCount, got.Value.MatchedCount, filter.Fingerprint(q))
			assert.Equal(t, want.Value.TotalCount, got.Value.TotalCount)
			assert.Equal(t, recordIDs(want.Value.Records), recordIDs(got.Value.Records), filter.Fingerprint(q))

			gotStats := src.ComputeStatistics(ctx, q)
			require.NoError(t, gotStats.Err)
			wantStats := memory.ComputeStatistics(ctx, q)
			assertStatisticsEqual(t, wantStats.Value, gotStats.Value)
		})
	}
}

func assertStatisticsEqual(t *testing.T, want, got *forecast.Statistics) {
	t.Helper()
	assert.Equal(t, want.RecordCount, got.RecordCount)
	assert.True(t, want.TotalBudget.Equal(got.TotalBudget), "budget %s != %s", want.TotalBudget, got.TotalBudget)
	assert.True(t, want.TotalForecast.Equal(got.TotalForecast))
	assert.True(t, want.TotalDeclaredBudget.Equal(got.TotalDeclaredBudget))

	groups := map[string][2][]forecast.Breakdown{
		"business unit": {want.ByBusinessUnit, got.ByBusinessUnit},
		"client":        {want.ByClient, got.ByClient},
		"status":        {want.ByStatus, got.ByStatus},
		"country":       {want.ByCountry, got.ByCountry},
	}
	for name, pair := range groups {
		require.Len(t, pair[1], len(pair[0]), name)
		for i := range pair[0] {
			w, g := pair[0][i], pair[1][i]
			assert.Equal(t, w.Key, g.Key, name)
			assert.Equal(t, w.Label, g.Label, name)
			assert.Equal(t, w.Count, g.Count, name)
			assert.True(t, w.Budget.Equal(g.Budget), name)
			assert.True(t, w.DeclaredBudget.Equal(g.DeclaredBudget), name)
		}
	}

	require.Len(t, got.MonthlyTrend, len(want.MonthlyTrend))
	for i := range want.MonthlyTrend {
		assert.Equal(t, want.MonthlyTrend[i].Year, got.MonthlyTrend[i].Year)
		assert.Equal(t, want.MonthlyTrend[i].Month, got.MonthlyTrend[i].Month)
		assert.Equal(t, want.MonthlyTrend[i].Count, got.MonthlyTrend[i].Count)
		assert.True(t, want.MonthlyTrend[i].Forecast.Equal(got.MonthlyTrend[i].Forecast))
	}
}

func TestPgArgs(t *testing.T) {
	args := pgArgs([]interface{}{
		int64(1),
		decimal.RequireFromString("10.50"),
		forecast.Amount(7),
		decimal.NullDecimal{},
		"Draft",
	})
	assert.Equal(t, []interface{}{int64(1), "10.5", "7", nil, "Draft"}, args)
}

package repository

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	apperrors "github.com/Ayoub94x/esa-forecast-manager/internal/domain/errors"
	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/filter"
	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/forecast"
	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/database"
	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/querybuilder"
	"github.com/Ayoub94x/esa-forecast-manager/internal/service/filtereddata"
)

// Querier is the subset of pgxpool.Pool used by PostgresSource
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresSource executes query plans against the forecast_records view
type PostgresSource struct {
	db      Querier
	breaker *database.CircuitBreaker
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewPostgresSource creates a PostgresSource. breaker may be nil.
func NewPostgresSource(db Querier, breaker *database.CircuitBreaker, logger *zap.Logger) (*PostgresSource, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &PostgresSource{
		db:      db,
		breaker: breaker,
		logger:  logger,
		tracer:  otel.Tracer("repository.postgres"),
	}, nil
}

// ExecuteQuery returns the page of records selected by q with its counts
func (s *PostgresSource) ExecuteQuery(ctx context.Context, q *filter.Query) filtereddata.Result[filtereddata.QueryResult] {
	ctx, span := s.tracer.Start(ctx, "PostgresSource.ExecuteQuery")
	defer span.End()

	result, err := guarded(s, func() (filtereddata.QueryResult, error) {
		records, err := s.selectRecords(ctx, q)
		if err != nil {
			return filtereddata.QueryResult{}, err
		}
		matched, err := s.count(ctx, q)
		if err != nil {
			return filtereddata.QueryResult{}, err
		}
		total, err := s.count(ctx, nil)
		if err != nil {
			return filtereddata.QueryResult{}, err
		}
		return filtereddata.QueryResult{Records: records, MatchedCount: matched, TotalCount: total}, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return filtereddata.Fail[filtereddata.QueryResult](err)
	}

	span.SetAttributes(
		attribute.Int("records.returned", len(result.Records)),
		attribute.Int("records.matched", result.MatchedCount),
	)
	return filtereddata.Ok(result)
}

// ComputeStatistics rolls up every row matching q in the database
func (s *PostgresSource) ComputeStatistics(ctx context.Context, q *filter.Query) filtereddata.Result[*forecast.Statistics] {
	ctx, span := s.tracer.Start(ctx, "PostgresSource.ComputeStatistics")
	defer span.End()

	stats, err := guarded(s, func() (*forecast.Statistics, error) {
		return s.statistics(ctx, q)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return filtereddata.Fail[*forecast.Statistics](err)
	}
	return filtereddata.Ok(stats)
}

// LoadAll returns every record in id order
func (s *PostgresSource) LoadAll(ctx context.Context) ([]forecast.Record, error) {
	qb := querybuilder.NewForecastQuery().SelectRecords()
	qb.OrderByAsc(querybuilder.ColID)
	return s.queryRecords(ctx, qb.QueryBuilder)
}

// Insert writes records and their reference rows in one transaction
func (s *PostgresSource) Insert(ctx context.Context, tx pgx.Tx, records []forecast.Record) error {
	for _, r := range records {
		statements := []*querybuilder.QueryBuilder{
			querybuilder.InsertReference(querybuilder.BusinessUnitsTable, r.BusinessUnitID, r.BusinessUnitName),
			querybuilder.InsertReference(querybuilder.ClientsTable, r.ClientID, r.ClientName),
			querybuilder.InsertReference(querybuilder.UsersTable, r.UserID, r.UserName),
			querybuilder.InsertRecord(r),
		}
		for _, stmt := range statements {
			sql, args, err := stmt.ToSQL()
			if err != nil {
				return fmt.Errorf("failed to build insert: %w", err)
			}
			if _, err := tx.Exec(ctx, sql, pgArgs(args)...); err != nil {
				if isDuplicateKey(err) {
					return apperrors.NewConflictError("DUPLICATE_FORECAST",
						fmt.Sprintf("forecast %d already exists", r.ID)).WithCause(err)
				}
				return fmt.Errorf("failed to insert forecast %d: %w", r.ID, err)
			}
		}
	}
	return nil
}

func guarded[T any](s *PostgresSource, fn func() (T, error)) (T, error) {
	var zero T
	if s.breaker != nil && !s.breaker.Allow() {
		return zero, apperrors.NewExternalError("postgres", "circuit open").WithCause(database.ErrCircuitOpen)
	}

	v, err := fn()
	if s.breaker != nil {
		s.breaker.Record(err)
	}
	if err != nil {
		transient := database.IsTransient(err)
		s.logger.Warn("postgres query failed", zap.Bool("transient", transient), zap.Error(err))
		appErr := apperrors.NewExternalError("postgres", "query failed").WithCause(err)
		appErr.Retryable = transient
		return zero, appErr
	}
	return v, nil
}

func (s *PostgresSource) selectRecords(ctx context.Context, q *filter.Query) ([]forecast.Record, error) {
	return s.queryRecords(ctx, querybuilder.RecordPlan(q).QueryBuilder)
}

func (s *PostgresSource) queryRecords(ctx context.Context, qb *querybuilder.QueryBuilder) ([]forecast.Record, error) {
	sql, args, err := qb.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build record query: %w", err)
	}

	rows, err := s.db.Query(ctx, sql, pgArgs(args)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}

	records, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("failed to scan records: %w", err)
	}
	return records, nil
}

func scanRecord(row pgx.CollectableRow) (forecast.Record, error) {
	var r forecast.Record
	var status string
	err := row.Scan(
		&r.ID, &r.Year, &r.Month,
		&r.BusinessUnitID, &r.BusinessUnitName,
		&r.ClientID, &r.ClientName,
		&r.UserID, &r.UserName,
		&status, &r.Country,
		&r.Budget, &r.Forecast, &r.DeclaredBudget,
		&r.Description, &r.LastModified,
	)
	r.Status = forecast.Status(status)
	r.LastModified = r.LastModified.UTC()
	return r, err
}

func (s *PostgresSource) count(ctx context.Context, q *filter.Query) (int, error) {
	sql, args, err := querybuilder.CountPlan(q).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to build count query: %w", err)
	}
	var n int64
	if err := s.db.QueryRow(ctx, sql, pgArgs(args)...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return int(n), nil
}

type totals struct {
	count          int
	budget         decimal.Decimal
	forecast       decimal.Decimal
	declaredBudget decimal.Decimal
}

func (s *PostgresSource) statistics(ctx context.Context, q *filter.Query) (*forecast.Statistics, error) {
	sql, args, err := querybuilder.TotalsPlan(q).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build totals query: %w", err)
	}

	var t totals
	var n int64
	if err := s.db.QueryRow(ctx, sql, pgArgs(args)...).Scan(&n, &t.budget, &t.forecast, &t.declaredBudget); err != nil {
		return nil, fmt.Errorf("failed to compute totals: %w", err)
	}
	t.count = int(n)

	stats := &forecast.Statistics{
		RecordCount:         t.count,
		TotalBudget:         t.budget,
		TotalForecast:       t.forecast,
		TotalDeclaredBudget: t.declaredBudget,
		ByBusinessUnit:      []forecast.Breakdown{},
		ByClient:            []forecast.Breakdown{},
		ByStatus:            []forecast.Breakdown{},
		ByCountry:           []forecast.Breakdown{},
		MonthlyTrend:        []forecast.MonthlyPoint{},
	}

	for _, dim := range querybuilder.StatisticsDimensions {
		if err := s.breakdown(ctx, q, dim, stats); err != nil {
			return nil, err
		}
	}

	forecast.SortBreakdowns(stats.ByBusinessUnit)
	forecast.SortBreakdowns(stats.ByClient)
	forecast.SortBreakdowns(stats.ByStatus)
	forecast.SortBreakdowns(stats.ByCountry)
	forecast.SortTrend(stats.MonthlyTrend)

	return stats, nil
}

func (s *PostgresSource) breakdown(ctx context.Context, q *filter.Query, dim querybuilder.StatisticsDimension, stats *forecast.Statistics) error {
	sql, args, err := querybuilder.BreakdownPlan(q, dim).ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build %s breakdown: %w", dim.Name, err)
	}

	rows, err := s.db.Query(ctx, sql, pgArgs(args)...)
	if err != nil {
		return fmt.Errorf("failed to query %s breakdown: %w", dim.Name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var t totals
		var n int64
		switch dim.Name {
		case "business_unit", "client":
			var id int64
			var name string
			if err := rows.Scan(&id, &name, &n, &t.budget, &t.forecast, &t.declaredBudget); err != nil {
				return fmt.Errorf("failed to scan %s breakdown: %w", dim.Name, err)
			}
			b := breakdownOf(strconv.FormatInt(id, 10), name, int(n), t)
			if dim.Name == "business_unit" {
				stats.ByBusinessUnit = append(stats.ByBusinessUnit, b)
			} else {
				stats.ByClient = append(stats.ByClient, b)
			}
		case "status", "country":
			var key string
			if err := rows.Scan(&key, &n, &t.budget, &t.forecast, &t.declaredBudget); err != nil {
				return fmt.Errorf("failed to scan %s breakdown: %w", dim.Name, err)
			}
			b := breakdownOf(key, key, int(n), t)
			if dim.Name == "status" {
				stats.ByStatus = append(stats.ByStatus, b)
			} else {
				stats.ByCountry = append(stats.ByCountry, b)
			}
		case "month":
			var year, month int
			if err := rows.Scan(&year, &month, &n, &t.budget, &t.forecast, &t.declaredBudget); err != nil {
				return fmt.Errorf("failed to scan %s breakdown: %w", dim.Name, err)
			}
			stats.MonthlyTrend = append(stats.MonthlyTrend, forecast.MonthlyPoint{
				Year: year, Month: month, Count: int(n),
				Budget: t.budget, Forecast: t.forecast, DeclaredBudget: t.declaredBudget,
			})
		default:
			return fmt.Errorf("unknown statistics dimension %q", dim.Name)
		}
	}
	return rows.Err()
}

// pgArgs sends decimals as text so the server parses them as numeric
func pgArgs(args []interface{}) []interface{} {
	out := make([]interface{}, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case decimal.Decimal:
			out[i] = v.String()
		case decimal.NullDecimal:
			if v.Valid {
				out[i] = v.Decimal.String()
			} else {
				out[i] = nil
			}
		default:
			out[i] = arg
		}
	}
	return out
}

func breakdownOf(key, label string, count int, t totals) forecast.Breakdown {
	return forecast.Breakdown{
		Key:            key,
		Label:          label,
		Count:          count,
		Budget:         t.budget,
		Forecast:       t.forecast,
		DeclaredBudget: t.declaredBudget,
	}
}

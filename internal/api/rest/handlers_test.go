package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap/zaptest"

	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/filter"
	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/forecast"
	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/cache"
	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/config"
	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/repository"
	"github.com/Ayoub94x/esa-forecast-manager/internal/metrics"
	"github.com/Ayoub94x/esa-forecast-manager/internal/service/filtereddata"
	"github.com/Ayoub94x/esa-forecast-manager/internal/service/filterstate"
	"github.com/Ayoub94x/esa-forecast-manager/internal/service/performance"
	"github.com/Ayoub94x/esa-forecast-manager/internal/testutil/fixtures"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *ErrorResponse  `json:"error"`
	Meta    ResponseMeta    `json:"meta"`
}

type testAPI struct {
	handler http.Handler
	service *filtereddata.Service
}

func newTestAPI(t *testing.T, rl config.RateLimitConfig, health ...HealthChecker) *testAPI {
	t.Helper()
	logger := zaptest.NewLogger(t)

	monitor, err := performance.NewMonitor(performance.DefaultConfig(), logger)
	require.NoError(t, err)
	reg, err := metrics.NewRegistry(metricnoop.NewMeterProvider())
	require.NoError(t, err)

	svc, err := filtereddata.NewService(filtereddata.Dependencies{
		Store:   filterstate.NewStore(logger),
		Cache:   cache.NewTiered(cache.NewResultCache(cache.ResultConfig{Expiry: time.Minute, MaxSize: 10}, logger), nil),
		Local:   repository.NewLocalCollection(fixtures.SampleRecords(t), logger),
		Monitor: monitor,
		Metrics: reg,
	}, filtereddata.Config{
		StatisticsEnabled: true,
		LazyLoad:          true,
		PageSize:          2,
	}, logger)
	require.NoError(t, err)
	svc.Start()
	t.Cleanup(svc.Close)

	promReg := prometheus.NewRegistry()
	handler, err := NewRouter(RouterConfig{
		Service:   svc,
		Logger:    logger,
		Version:   "test",
		RateLimit: rl,
		Registry:  promReg,
		Gatherer:  promReg,
		Metrics:   reg,
		Health:    health,
	})
	require.NoError(t, err)

	return &testAPI{handler: handler, service: svc}
}

func (a *testAPI) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func TestNewRouter_Validation(t *testing.T) {
	_, err := NewRouter(RouterConfig{})
	assert.EqualError(t, err, "logger is required")

	_, err = NewRouter(RouterConfig{Logger: zaptest.NewLogger(t)})
	assert.EqualError(t, err, "filtered data service is required")
}

func TestFilters(t *testing.T) {
	api := newTestAPI(t, config.RateLimitConfig{})

	t.Run("defaults", func(t *testing.T) {
		rec, env := api.do(t, http.MethodGet, "/api/v1/filters", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, env.Success)
		assert.NotEmpty(t, env.Meta.RequestID)
		assert.Equal(t, APIVersion, env.Meta.Version)

		got := decodeData[FiltersResponse](t, env)
		assert.Equal(t, filter.DefaultLimit, got.Query.Limit)
		assert.Equal(t, filter.DefaultOrderBy, got.Query.OrderBy)
		assert.Zero(t, got.Summary.ActiveDimensions)
		assert.Equal(t, filter.DefaultSelection(), got.DataTypes)
	})

	tests := []struct {
		name     string
		body     string
		status   int
		code     string
		validate func(t *testing.T, got FiltersResponse)
	}{
		{
			name:   "explicit offset",
			body:   `{"offset": 50}`,
			status: http.StatusOK,
			validate: func(t *testing.T, got FiltersResponse) {
				assert.Equal(t, 50, got.Query.Offset)
			},
		},
		{
			name:   "dimension change",
			body:   `{"business_unit_ids": [1], "budget_range": {"min": "0", "max": "1000"}}`,
			status: http.StatusOK,
			validate: func(t *testing.T, got FiltersResponse) {
				assert.Equal(t, []int64{1}, got.Query.BusinessUnitIDs)
				assert.Zero(t, got.Query.Offset)
				assert.Equal(t, 2, got.Summary.ActiveDimensions)
			},
		},
		{name: "unknown field", body: `{"colour": "red"}`, status: http.StatusBadRequest, code: "INVALID_PATCH"},
		{name: "malformed", body: `{"limit":`, status: http.StatusBadRequest, code: "INVALID_PATCH"},
		{name: "invalid value", body: `{"limit": 5000}`, status: http.StatusBadRequest, code: "INVALID_FILTER"},
		{name: "unknown sort column", body: `{"order_by": "password"}`, status: http.StatusBadRequest, code: "INVALID_FILTER"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := api.service.Store().BuildQuery()
			rec, env := api.do(t, http.MethodPatch, "/api/v1/filters", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			if tt.code != "" {
				require.NotNil(t, env.Error)
				assert.False(t, env.Success)
				assert.Equal(t, tt.code, env.Error.Code)
				assert.Same(t, before, api.service.Store().BuildQuery(), "a rejected patch must not change state")
				return
			}
			tt.validate(t, decodeData[FiltersResponse](t, env))
		})
	}

	t.Run("reset", func(t *testing.T) {
		rec, env := api.do(t, http.MethodPost, "/api/v1/filters/reset", "")
		require.Equal(t, http.StatusOK, rec.Code)
		got := decodeData[FiltersResponse](t, env)
		assert.Empty(t, got.Query.BusinessUnitIDs)
		assert.Nil(t, got.Query.BudgetRange)
	})
}

func TestPutDataTypes(t *testing.T) {
	api := newTestAPI(t, config.RateLimitConfig{})

	rec, env := api.do(t, http.MethodPut, "/api/v1/filters/data-types", `{"budget": true}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_BODY", env.Error.Code)
	assert.Contains(t, env.Error.Details, "Forecast")

	rec, env = api.do(t, http.MethodPut, "/api/v1/filters/data-types", `{"budget": true, "forecast": false, "declared_budget": false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeData[FiltersResponse](t, env)
	assert.Equal(t, filter.DataTypeSelection{Budget: true}, got.DataTypes)

	rec, _ = api.do(t, http.MethodPut, "/api/v1/filters/data-types", `{"budget": true, "forecast": true, "declared_budget": true, "extra": 1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestData(t *testing.T) {
	api := newTestAPI(t, config.RateLimitConfig{})

	rec, env := api.do(t, http.MethodGet, "/api/v1/data?wait=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decodeData[filtereddata.Snapshot](t, env)
	assert.False(t, snap.Loading)
	assert.Equal(t, 4, snap.TotalCount)
	assert.Equal(t, 4, snap.FilteredCount)
	assert.Len(t, snap.Data, 2)
	assert.True(t, snap.HasMore)
	require.NotNil(t, snap.Statistics)

	rec, env = api.do(t, http.MethodPost, "/api/v1/data/load-more", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, env.Success)

	rec, _ = api.do(t, http.MethodPatch, "/api/v1/filters", `{"statuses": ["Approved"], "countries": ["FR"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	_, env = api.do(t, http.MethodGet, "/api/v1/data?wait=1", "")
	snap = decodeData[filtereddata.Snapshot](t, env)
	require.Len(t, snap.Data, 1)
	assert.Equal(t, int64(2), snap.Data[0].ID)
	assert.Equal(t, forecast.StatusApproved, snap.Data[0].Status)
	assert.False(t, snap.HasMore)

	rec, env = api.do(t, http.MethodPost, "/api/v1/data/load-more", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "NOTHING_TO_LOAD", env.Error.Code)

	rec, env = api.do(t, http.MethodGet, "/api/v1/data?wait=maybe", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_PARAMETER", env.Error.Code)
}

func TestClearCache(t *testing.T) {
	api := newTestAPI(t, config.RateLimitConfig{})
	api.do(t, http.MethodGet, "/api/v1/data?wait=true", "")

	rec, env := api.do(t, http.MethodDelete, "/api/v1/cache?refresh=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeData[map[string]bool](t, env)
	assert.True(t, got["cleared"])
	assert.True(t, got["refreshing"])

	_, env = api.do(t, http.MethodGet, "/api/v1/data?wait=true", "")
	assert.Equal(t, 4, decodeData[filtereddata.Snapshot](t, env).TotalCount)
}

func TestPerformance(t *testing.T) {
	api := newTestAPI(t, config.RateLimitConfig{})
	api.do(t, http.MethodGet, "/api/v1/data?wait=true", "")

	rec, env := api.do(t, http.MethodGet, "/api/v1/performance", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeData[PerformanceResponse](t, env)
	assert.True(t, got.Enabled)
	assert.Equal(t, 4, got.Metrics.TotalItems)
	require.NotNil(t, got.Aggregate)

	// the first lookup is a miss, so the instantaneous hit rate breaches its threshold
	rec, env = api.do(t, http.MethodGet, "/api/v1/performance/alerts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	alerts := decodeData[[]performance.Alert](t, env)
	require.NotEmpty(t, alerts)

	rec, _ = api.do(t, http.MethodDelete, "/api/v1/performance/alerts", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, api.service.Monitor().Alerts())
}

func TestHealth(t *testing.T) {
	ok := CheckFunc{CheckName: "memory", Fn: func(context.Context) error { return nil }}
	failing := CheckFunc{CheckName: "postgres", Fn: func(context.Context) error { return errors.New("connection refused") }}

	tests := []struct {
		name     string
		checkers []HealthChecker
		status   int
		overall  HealthStatus
	}{
		{"all pass", []HealthChecker{ok}, http.StatusOK, HealthStatusPass},
		{"one failing", []HealthChecker{ok, failing}, http.StatusServiceUnavailable, HealthStatusFail},
		{"no checkers", nil, http.StatusOK, HealthStatusPass},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(t, config.RateLimitConfig{}, tt.checkers...)
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			rec := httptest.NewRecorder()
			api.handler.ServeHTTP(rec, req)

			require.Equal(t, tt.status, rec.Code)
			var resp HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.overall, resp.Status)
			assert.Equal(t, "test", resp.Version)
			assert.Len(t, resp.Checks, len(tt.checkers))
			if tt.overall == HealthStatusFail {
				assert.Equal(t, "connection refused", resp.Checks["postgres"].Error)
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	api := newTestAPI(t, config.RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	rec, _ := api.do(t, http.MethodGet, "/api/v1/filters", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := api.do(t, http.MethodGet, "/api/v1/filters", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", env.Error.Code)
	assert.True(t, env.Error.Retryable)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// another client has its own budget
	req := httptest.NewRequest(http.MethodGet, "/api/v1/filters", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t, config.RateLimitConfig{})
	api.do(t, http.MethodGet, "/api/v1/filters", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `efm_http_requests_total{method="GET",path="GET /api/v1/filters",status="200"} 1`)
}

func TestMiddleware(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("recovery", func(t *testing.T) {
		h := NewMiddlewareChain(RequestIDMiddleware(), RecoveryMiddleware(logger)).Then(
			http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }),
		)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		var env envelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		assert.Equal(t, "INTERNAL_ERROR", env.Error.Code)
		assert.Equal(t, rec.Header().Get("X-Request-ID"), env.Meta.RequestID)
	})

	t.Run("request id is propagated", func(t *testing.T) {
		var seen string
		h := RequestIDMiddleware()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			seen = RequestIDFromContext(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "req-42")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, "req-42", seen)
		assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	})

	t.Run("chain order", func(t *testing.T) {
		var order bytes.Buffer
		mark := func(s string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order.WriteString(s)
					next.ServeHTTP(w, r)
				})
			}
		}
		h := NewMiddlewareChain(mark("a"), mark("b"), mark("c")).Then(http.NotFoundHandler())
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, "abc", order.String())
	})
}

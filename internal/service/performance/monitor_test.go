package performance

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/clock"
)

func newTestMonitor(t *testing.T, mutate func(*Config)) (*Monitor, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))
	cfg := DefaultConfig()
	cfg.Clock = clk
	cfg.MemorySampler = func() (float64, bool) { return 42, true }
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewMonitor(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return m, clk
}

func TestNewMonitor_Validation(t *testing.T) {
	_, err := NewMonitor(DefaultConfig(), nil)
	assert.ErrorContains(t, err, "logger is required")

	cfg := DefaultConfig()
	cfg.MaxAlerts = 0
	_, err = NewMonitor(cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestMonitor_FilterThresholdEmitsOneWarning(t *testing.T) {
	m, clk := newTestMonitor(t, nil)

	m.StartFilterMeasure()
	clk.Advance(150 * time.Millisecond)
	m.EndFilterMeasure(1000, 10)

	alerts := m.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertWarning, alerts[0].Type)
	assert.Equal(t, MetricFilterTime, alerts[0].Metric)
	assert.Equal(t, float64(150), alerts[0].Value)
	assert.Equal(t, float64(100), alerts[0].Threshold)

	metrics := m.Metrics()
	assert.Equal(t, float64(150), metrics.FilterTimeMS)
	assert.Equal(t, 1000, metrics.TotalItems)
	assert.Equal(t, 10, metrics.FilteredItems)
}

func TestMonitor_WithinThresholdNoAlert(t *testing.T) {
	m, clk := newTestMonitor(t, nil)

	m.StartQueryMeasure()
	clk.Advance(200 * time.Millisecond)
	m.EndQueryMeasure()

	m.StartRenderMeasure()
	clk.Advance(5 * time.Millisecond)
	m.EndRenderMeasure()

	assert.Empty(t, m.Alerts())
	assert.Equal(t, float64(200), m.Metrics().QueryTimeMS)
	assert.Equal(t, float64(5), m.Metrics().RenderTimeMS)
}

func TestMonitor_EndWithoutStartIsNoOp(t *testing.T) {
	m, clk := newTestMonitor(t, nil)

	m.EndRenderMeasure()
	m.EndFilterMeasure(10, 5)
	m.EndQueryMeasure()

	_, ok := m.AggregateStats()
	assert.False(t, ok)
	assert.Equal(t, Metrics{}, m.Metrics())

	m.StartQueryMeasure()
	clk.Advance(time.Millisecond)
	m.EndQueryMeasure()
	m.EndQueryMeasure()

	stats, ok := m.AggregateStats()
	require.True(t, ok)
	assert.Equal(t, 1, stats.Samples)
}

func TestMonitor_CacheHitRateIsInstantaneous(t *testing.T) {
	m, _ := newTestMonitor(t, nil)

	m.UpdateCacheMetrics(1, 1)
	assert.Equal(t, float64(100), m.Metrics().CacheHitRate)

	// Not a running ratio: one miss restates the rate as 0
	m.UpdateCacheMetrics(0, 1)
	assert.Equal(t, float64(0), m.Metrics().CacheHitRate)

	m.UpdateCacheMetrics(3, 4)
	assert.Equal(t, float64(75), m.Metrics().CacheHitRate)

	m.UpdateCacheMetrics(0, 0)
	assert.Equal(t, float64(0), m.Metrics().CacheHitRate)

	alerts := m.Alerts()
	require.Len(t, alerts, 2)
	for _, a := range alerts {
		assert.Equal(t, MetricCacheHitRate, a.Metric)
		assert.Equal(t, AlertWarning, a.Type)
	}
}

func TestMonitor_AlertsCapped(t *testing.T) {
	m, clk := newTestMonitor(t, nil)

	for i := 0; i < 15; i++ {
		m.StartRenderMeasure()
		clk.Advance(time.Duration(20+i) * time.Millisecond)
		m.EndRenderMeasure()
	}

	alerts := m.Alerts()
	require.Len(t, alerts, 10)
	assert.Equal(t, float64(25), alerts[0].Value, "oldest alerts are dropped first")
	assert.Equal(t, float64(34), alerts[9].Value)

	m.ClearAlerts()
	assert.Empty(t, m.Alerts())
}

func TestMonitor_HistoryAndAggregates(t *testing.T) {
	m, clk := newTestMonitor(t, func(c *Config) { c.SampleSize = 3 })

	for _, d := range []time.Duration{10, 20, 30, 40} {
		m.StartQueryMeasure()
		clk.Advance(d * time.Millisecond)
		m.EndQueryMeasure()
	}

	stats, ok := m.AggregateStats()
	require.True(t, ok)
	assert.Equal(t, 3, stats.Samples)
	assert.Equal(t, Summary{Avg: 30, Min: 20, Max: 40}, stats.QueryTimeMS)
	assert.Equal(t, Summary{}, stats.RenderTimeMS)
}

func TestMonitor_MemorySampling(t *testing.T) {
	usage := 50.0
	m, clk := newTestMonitor(t, func(c *Config) {
		c.MemorySampler = func() (float64, bool) { return usage, true }
	})

	m.Start()
	defer m.Stop()

	clk.Advance(4 * time.Second)
	assert.Zero(t, m.Metrics().MemoryUsageMB)

	clk.Advance(time.Second)
	assert.Equal(t, float64(50), m.Metrics().MemoryUsageMB)
	assert.Empty(t, m.Alerts())

	usage = 150
	clk.Advance(5 * time.Second)
	alerts := m.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertError, alerts[0].Type)
	assert.Equal(t, MetricMemoryUsage, alerts[0].Metric)

	m.Stop()
	usage = 10
	clk.Advance(time.Minute)
	assert.Equal(t, float64(150), m.Metrics().MemoryUsageMB)
}

func TestMonitor_UnavailableMemoryIsSkipped(t *testing.T) {
	m, _ := newTestMonitor(t, func(c *Config) {
		c.MemorySampler = func() (float64, bool) { return 0, false }
	})

	m.SampleMemory()
	_, ok := m.AggregateStats()
	assert.False(t, ok)
}

func TestMonitor_DisabledIsInert(t *testing.T) {
	m, clk := newTestMonitor(t, func(c *Config) { c.Enabled = false })

	m.Start()
	defer m.Stop()

	m.StartFilterMeasure()
	clk.Advance(time.Second)
	m.EndFilterMeasure(10, 1)
	m.UpdateCacheMetrics(0, 10)
	clk.Advance(time.Minute)

	assert.Equal(t, Metrics{}, m.Metrics())
	assert.Empty(t, m.Alerts())
	_, ok := m.AggregateStats()
	assert.False(t, ok)

	m.SetEnabled(true)
	m.EndFilterMeasure(10, 1)
	assert.Equal(t, Metrics{}, m.Metrics(), "a span opened while disabled must not close")
}

func TestMonitor_PrometheusExport(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, clk := newTestMonitor(t, func(c *Config) { c.Registerer = reg })

	m.UpdateCacheMetrics(1, 2)
	m.StartFilterMeasure()
	clk.Advance(300 * time.Millisecond)
	m.EndFilterMeasure(5, 2)

	assert.Equal(t, float64(50), testutil.ToFloat64(m.prom.cacheHitRate))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.prom.itemsShown))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.prom.alerts.WithLabelValues(MetricFilterTime, "warning")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.prom.alerts.WithLabelValues(MetricCacheHitRate, "warning")))

	count, err := testutil.GatherAndCount(reg, "efm_monitor_filter_time_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// Package performance instruments the filtering pipeline: timing spans per
// category, cache hit rate, heap sampling, threshold alerts and a rolling
// history for aggregate reporting. A disabled monitor does nothing.
package performance

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/clock"
)

type category int

const (
	categoryRender category = iota
	categoryFilter
	categoryQuery
	categoryCount
)

// Monitor measures pipeline performance
type Monitor struct {
	logger *zap.Logger
	config Config
	clock  clock.Clock
	sample MemorySampler
	prom   *monitorMetrics

	enabled atomic.Bool

	mu      sync.Mutex
	starts  [categoryCount]time.Time
	current Metrics
	history []Metrics
	alerts  []Alert

	samplerMu sync.Mutex
	sampler   clock.Timer
	running   bool
}

type monitorMetrics struct {
	renderTime   prometheus.Histogram
	filterTime   prometheus.Histogram
	queryTime    prometheus.Histogram
	cacheHitRate prometheus.Gauge
	memoryUsage  prometheus.Gauge
	itemsTotal   prometheus.Gauge
	itemsShown   prometheus.Gauge
	alerts       *prometheus.CounterVec
}

// NewMonitor creates a monitor. Memory sampling starts with Start.
func NewMonitor(cfg Config, logger *zap.Logger) (*Monitor, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.MaxAlerts <= 0 {
		return nil, fmt.Errorf("max alerts must be positive")
	}
	if cfg.SampleSize <= 0 {
		return nil, fmt.Errorf("sample size must be positive")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.MemorySampler == nil {
		cfg.MemorySampler = RuntimeMemory
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.NewRegistry()
	}

	m := &Monitor{
		logger:  logger,
		config:  cfg,
		clock:   cfg.Clock,
		sample:  cfg.MemorySampler,
		prom:    createMonitorMetrics(cfg.Registerer),
		history: make([]Metrics, 0, cfg.SampleSize),
		alerts:  make([]Alert, 0, cfg.MaxAlerts),
	}
	m.enabled.Store(cfg.Enabled)
	return m, nil
}

func createMonitorMetrics(reg prometheus.Registerer) *monitorMetrics {
	factory := promauto.With(reg)
	return &monitorMetrics{
		renderTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "efm_monitor_render_time_seconds",
			Help:    "Render measurement distribution",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		filterTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "efm_monitor_filter_time_seconds",
			Help:    "Filter pipeline duration distribution",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		queryTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "efm_monitor_query_time_seconds",
			Help:    "Remote query duration distribution",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		cacheHitRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "efm_monitor_cache_hit_rate_percent",
			Help: "Cache hit rate of the latest lookup",
		}),
		memoryUsage: factory.NewGauge(prometheus.GaugeOpts{
			Name: "efm_monitor_memory_usage_megabytes",
			Help: "Sampled heap usage",
		}),
		itemsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "efm_monitor_items_total",
			Help: "Records considered by the latest filter run",
		}),
		itemsShown: factory.NewGauge(prometheus.GaugeOpts{
			Name: "efm_monitor_items_filtered",
			Help: "Records kept by the latest filter run",
		}),
		alerts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "efm_monitor_alerts_total",
			Help: "Threshold breaches by metric",
		}, []string{"metric", "type"}),
	}
}

// Enabled reports whether measurements are recorded
func (m *Monitor) Enabled() bool {
	return m.enabled.Load()
}

// SetEnabled toggles the monitor. Disabling drops any open measurement.
func (m *Monitor) SetEnabled(enabled bool) {
	m.enabled.Store(enabled)
	if !enabled {
		m.mu.Lock()
		m.starts = [categoryCount]time.Time{}
		m.mu.Unlock()
	}
}

func (m *Monitor) StartRenderMeasure() { m.start(categoryRender) }
func (m *Monitor) StartFilterMeasure() { m.start(categoryFilter) }
func (m *Monitor) StartQueryMeasure()  { m.start(categoryQuery) }

// EndRenderMeasure closes the open render measurement, if any
func (m *Monitor) EndRenderMeasure() {
	elapsed, ok := m.end(categoryRender)
	if !ok {
		return
	}
	m.prom.renderTime.Observe(elapsed.Seconds())
	ms := millis(elapsed)
	m.record(MetricRenderTime, ms, func(x *Metrics) { x.RenderTimeMS = ms })
}

// EndFilterMeasure closes the open filter measurement and records how many
// records went in and how many survived
func (m *Monitor) EndFilterMeasure(total, filtered int) {
	elapsed, ok := m.end(categoryFilter)
	if !ok {
		return
	}
	m.prom.filterTime.Observe(elapsed.Seconds())
	m.prom.itemsTotal.Set(float64(total))
	m.prom.itemsShown.Set(float64(filtered))
	ms := millis(elapsed)
	m.record(MetricFilterTime, ms, func(x *Metrics) {
		x.FilterTimeMS = ms
		x.TotalItems = total
		x.FilteredItems = filtered
	})
}

// EndQueryMeasure closes the open query measurement, if any
func (m *Monitor) EndQueryMeasure() {
	elapsed, ok := m.end(categoryQuery)
	if !ok {
		return
	}
	m.prom.queryTime.Observe(elapsed.Seconds())
	ms := millis(elapsed)
	m.record(MetricQueryTime, ms, func(x *Metrics) { x.QueryTimeMS = ms })
}

// UpdateCacheMetrics restates the hit rate from the latest lookup attempt.
// It is not a running ratio: each call replaces the previous value.
func (m *Monitor) UpdateCacheMetrics(hits, total int) {
	if !m.enabled.Load() {
		return
	}
	rate := 0.0
	if total > 0 {
		rate = float64(hits) / float64(total) * 100
	}
	m.prom.cacheHitRate.Set(rate)
	m.record(MetricCacheHitRate, rate, func(x *Metrics) { x.CacheHitRate = rate })
}

// SampleMemory reads heap usage once and runs it through threshold checks
func (m *Monitor) SampleMemory() {
	if !m.enabled.Load() {
		return
	}
	mb, ok := m.sample()
	if !ok {
		return
	}
	m.prom.memoryUsage.Set(mb)
	m.record(MetricMemoryUsage, mb, func(x *Metrics) { x.MemoryUsageMB = mb })
}

// Start begins periodic memory sampling
func (m *Monitor) Start() {
	m.samplerMu.Lock()
	defer m.samplerMu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.scheduleSample()
	m.logger.Info("performance monitor started",
		zap.Bool("enabled", m.enabled.Load()),
		zap.Duration("memory_interval", m.config.MemoryInterval))
}

// Stop halts memory sampling
func (m *Monitor) Stop() {
	m.samplerMu.Lock()
	defer m.samplerMu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	if m.sampler != nil {
		m.sampler.Stop()
		m.sampler = nil
	}
}

// scheduleSample must be called with samplerMu held
func (m *Monitor) scheduleSample() {
	if m.config.MemoryInterval <= 0 {
		return
	}
	m.sampler = m.clock.AfterFunc(m.config.MemoryInterval, func() {
		m.SampleMemory()

		m.samplerMu.Lock()
		defer m.samplerMu.Unlock()
		if m.running {
			m.scheduleSample()
		}
	})
}

// Metrics returns the latest snapshot
func (m *Monitor) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Alerts returns the retained alerts, oldest first
func (m *Monitor) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// ClearAlerts drops every retained alert
func (m *Monitor) ClearAlerts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = m.alerts[:0]
}

// AggregateStats summarizes the history. It reports false when no
// measurement has been recorded yet.
func (m *Monitor) AggregateStats() (AggregateStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) == 0 {
		return AggregateStats{}, false
	}

	pick := func(f func(Metrics) float64) Summary {
		s := Summary{Min: math.Inf(1), Max: math.Inf(-1)}
		sum := 0.0
		for _, h := range m.history {
			v := f(h)
			sum += v
			s.Min = math.Min(s.Min, v)
			s.Max = math.Max(s.Max, v)
		}
		s.Avg = sum / float64(len(m.history))
		return s
	}

	return AggregateStats{
		Samples:       len(m.history),
		RenderTimeMS:  pick(func(x Metrics) float64 { return x.RenderTimeMS }),
		FilterTimeMS:  pick(func(x Metrics) float64 { return x.FilterTimeMS }),
		QueryTimeMS:   pick(func(x Metrics) float64 { return x.QueryTimeMS }),
		CacheHitRate:  pick(func(x Metrics) float64 { return x.CacheHitRate }),
		MemoryUsageMB: pick(func(x Metrics) float64 { return x.MemoryUsageMB }),
	}, true
}

func (m *Monitor) start(c category) {
	if !m.enabled.Load() {
		return
	}
	now := m.clock.Now()
	m.mu.Lock()
	m.starts[c] = now
	m.mu.Unlock()
}

func (m *Monitor) end(c category) (time.Duration, bool) {
	if !m.enabled.Load() {
		return 0, false
	}
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	started := m.starts[c]
	if started.IsZero() {
		return 0, false
	}
	m.starts[c] = time.Time{}
	return now.Sub(started), true
}

func (m *Monitor) record(metric string, value float64, update func(*Metrics)) {
	m.mu.Lock()
	update(&m.current)

	if len(m.history) == m.config.SampleSize {
		copy(m.history, m.history[1:])
		m.history = m.history[:len(m.history)-1]
	}
	m.history = append(m.history, m.current)

	alert, breached := m.check(metric, value)
	if breached {
		if len(m.alerts) == m.config.MaxAlerts {
			copy(m.alerts, m.alerts[1:])
			m.alerts = m.alerts[:len(m.alerts)-1]
		}
		m.alerts = append(m.alerts, alert)
	}
	m.mu.Unlock()

	if breached {
		m.prom.alerts.WithLabelValues(alert.Metric, string(alert.Type)).Inc()
		m.logger.Warn("performance threshold breached",
			zap.String("metric", alert.Metric),
			zap.Float64("value", alert.Value),
			zap.Float64("threshold", alert.Threshold))
	}
}

func (m *Monitor) check(metric string, value float64) (Alert, bool) {
	t := m.config.Thresholds
	var (
		threshold float64
		breached  bool
		kind      = AlertWarning
		message   string
	)

	switch metric {
	case MetricRenderTime:
		threshold = millis(t.RenderTime)
		breached = t.RenderTime > 0 && value > threshold
		message = fmt.Sprintf("render took %.1fms, above %.1fms", value, threshold)
	case MetricFilterTime:
		threshold = millis(t.FilterTime)
		breached = t.FilterTime > 0 && value > threshold
		message = fmt.Sprintf("filtering took %.1fms, above %.1fms", value, threshold)
	case MetricQueryTime:
		threshold = millis(t.QueryTime)
		breached = t.QueryTime > 0 && value > threshold
		message = fmt.Sprintf("query took %.1fms, above %.1fms", value, threshold)
	case MetricCacheHitRate:
		threshold = t.CacheHitRate
		breached = value < threshold
		message = fmt.Sprintf("cache hit rate %.1f%% is below %.1f%%", value, threshold)
	case MetricMemoryUsage:
		threshold = t.MemoryMB
		breached = t.MemoryMB > 0 && value > threshold
		kind = AlertError
		message = fmt.Sprintf("heap usage %.1fMB is above %.1fMB", value, threshold)
	}

	if !breached {
		return Alert{}, false
	}
	return Alert{
		ID:        uuid.New(),
		Type:      kind,
		Message:   message,
		Metric:    metric,
		Value:     value,
		Threshold: threshold,
		Timestamp: m.clock.Now(),
	}, true
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

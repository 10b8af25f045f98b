package performance

import (
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/clock"
)

// Metric names as they appear on alerts
const (
	MetricRenderTime   = "renderTime"
	MetricFilterTime   = "filterTime"
	MetricQueryTime    = "queryTime"
	MetricCacheHitRate = "cacheHitRate"
	MetricMemoryUsage  = "memoryUsage"
)

// Metrics is the latest measured value of every metric. Each measurement
// overwrites its own field.
type Metrics struct {
	RenderTimeMS  float64 `json:"render_time_ms"`
	FilterTimeMS  float64 `json:"filter_time_ms"`
	QueryTimeMS   float64 `json:"query_time_ms"`
	CacheHitRate  float64 `json:"cache_hit_rate"`
	MemoryUsageMB float64 `json:"memory_usage_mb"`
	TotalItems    int     `json:"total_items"`
	FilteredItems int     `json:"filtered_items"`
}

// AlertType is the severity of an alert
type AlertType string

const (
	AlertWarning AlertType = "warning"
	AlertError   AlertType = "error"
)

// Alert records one threshold breach. Alerts are never modified once created.
type Alert struct {
	ID        uuid.UUID `json:"id"`
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// Thresholds trigger alerts. Times and memory alert when exceeded, the cache
// hit rate when it falls below its threshold.
type Thresholds struct {
	RenderTime   time.Duration
	FilterTime   time.Duration
	QueryTime    time.Duration
	CacheHitRate float64
	MemoryMB     float64
}

// DefaultThresholds returns the stock thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{
		RenderTime:   16 * time.Millisecond,
		FilterTime:   100 * time.Millisecond,
		QueryTime:    time.Second,
		CacheHitRate: 70,
		MemoryMB:     100,
	}
}

// MemorySampler reports heap usage in megabytes; ok is false when the value
// is unavailable.
type MemorySampler func() (mb float64, ok bool)

// RuntimeMemory samples the Go heap
func RuntimeMemory() (float64, bool) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.HeapAlloc) / (1024 * 1024), true
}

// Config configures a Monitor
type Config struct {
	Enabled        bool
	Thresholds     Thresholds
	MaxAlerts      int
	SampleSize     int
	MemoryInterval time.Duration

	Clock         clock.Clock
	MemorySampler MemorySampler
	// Registerer receives the monitor's Prometheus collectors. A private
	// registry is used when nil.
	Registerer prometheus.Registerer
}

// DefaultConfig returns an enabled monitor configuration
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		Thresholds:     DefaultThresholds(),
		MaxAlerts:      10,
		SampleSize:     100,
		MemoryInterval: 5 * time.Second,
	}
}

// Summary is the spread of one metric across the retained history
type Summary struct {
	Avg float64 `json:"avg"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// AggregateStats summarizes the rolling history
type AggregateStats struct {
	Samples       int     `json:"samples"`
	RenderTimeMS  Summary `json:"render_time_ms"`
	FilterTimeMS  Summary `json:"filter_time_ms"`
	QueryTimeMS   Summary `json:"query_time_ms"`
	CacheHitRate  Summary `json:"cache_hit_rate"`
	MemoryUsageMB Summary `json:"memory_usage_mb"`
}

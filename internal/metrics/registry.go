package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName scopes every instrument in the registry
const MeterName = "github.com/Ayoub94x/esa-forecast-manager/pipeline"

// Query sources
const (
	SourceRemote = "remote"
	SourceLocal  = "local"
)

// Registry holds the pipeline metrics
type Registry struct {
	meter metric.Meter

	// Pipeline metrics
	CacheLookupCounter metric.Int64Counter
	FallbackCounter    metric.Int64Counter
	SupersededCounter  metric.Int64Counter
	QueryDuration      metric.Float64Histogram
	CacheEntries       metric.Int64ObservableGauge

	// API metrics
	APIRequestDuration metric.Float64Histogram
	APIRequestCounter  metric.Int64Counter
	ActiveStreams      metric.Int64ObservableGauge

	// State for observable metrics
	mu            sync.RWMutex
	cacheEntries  int64
	activeStreams int64
}

// NewRegistry creates the registry on provider, or on the global provider
// when provider is nil.
func NewRegistry(provider metric.MeterProvider) (*Registry, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	r := &Registry{meter: provider.Meter(MeterName)}

	if err := r.initPipelineMetrics(); err != nil {
		return nil, err
	}
	if err := r.initAPIMetrics(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) initPipelineMetrics() error {
	var err error

	r.CacheLookupCounter, err = r.meter.Int64Counter(
		"efm.cache.lookup_total",
		metric.WithDescription("Result cache lookups by outcome"),
	)
	if err != nil {
		return err
	}

	r.FallbackCounter, err = r.meter.Int64Counter(
		"efm.pipeline.fallback_total",
		metric.WithDescription("Queries answered by the local evaluator instead of the remote source"),
	)
	if err != nil {
		return err
	}

	r.SupersededCounter, err = r.meter.Int64Counter(
		"efm.pipeline.superseded_total",
		metric.WithDescription("Fetches discarded because a newer filter was requested"),
	)
	if err != nil {
		return err
	}

	r.QueryDuration, err = r.meter.Float64Histogram(
		"efm.pipeline.query_duration",
		metric.WithDescription("Duration of a filtered-data fetch in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 250, 500, 1000, 5000),
	)
	if err != nil {
		return err
	}

	r.CacheEntries, err = r.meter.Int64ObservableGauge(
		"efm.cache.entries",
		metric.WithDescription("Entries held by the local result cache"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.cacheEntries)
			return nil
		}),
	)
	return err
}

func (r *Registry) initAPIMetrics() error {
	var err error

	r.APIRequestDuration, err = r.meter.Float64Histogram(
		"efm.api.request_duration",
		metric.WithDescription("API request duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 500, 1000, 5000),
	)
	if err != nil {
		return err
	}

	r.APIRequestCounter, err = r.meter.Int64Counter(
		"efm.api.request_total",
		metric.WithDescription("Total number of API requests"),
	)
	if err != nil {
		return err
	}

	r.ActiveStreams, err = r.meter.Int64ObservableGauge(
		"efm.api.active_streams",
		metric.WithDescription("Connected snapshot stream clients"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.activeStreams)
			return nil
		}),
	)
	return err
}

// SetCacheEntries sets the observed cache size
func (r *Registry) SetCacheEntries(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cacheEntries = int64(n)
}

// UpdateActiveStreams adjusts the connected stream count
func (r *Registry) UpdateActiveStreams(delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeStreams += delta
}

// RecordCacheLookup counts one cache lookup
func (r *Registry) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.CacheLookupCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordFallback counts a fetch served locally
func (r *Registry) RecordFallback(ctx context.Context, reason string) {
	r.FallbackCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordSuperseded counts a discarded fetch
func (r *Registry) RecordSuperseded(ctx context.Context) {
	r.SupersededCounter.Add(ctx, 1)
}

// RecordQuery records how long a fetch took on source
func (r *Registry) RecordQuery(ctx context.Context, source string, d time.Duration, success bool) {
	r.QueryDuration.Record(ctx, float64(d.Microseconds())/1000, metric.WithAttributes(
		attribute.String("source", source),
		attribute.Bool("success", success),
	))
}

// RecordAPIRequest records API request metrics
func (r *Registry) RecordAPIRequest(ctx context.Context, duration float64, method, path string, statusCode int) {
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status_code", statusCode),
	}

	r.APIRequestDuration.Record(ctx, duration, metric.WithAttributes(attrs...))
	r.APIRequestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

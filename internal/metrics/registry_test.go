package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumFor(t *testing.T, m metricdata.Metrics, key, value string) int64 {
	t.Helper()

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "%s is not an int64 sum", m.Name)
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	return 0
}

func TestRegistry_PipelineCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	r, err := NewRegistry(provider)
	require.NoError(t, err)

	ctx := context.Background()
	r.RecordCacheLookup(ctx, true)
	r.RecordCacheLookup(ctx, false)
	r.RecordCacheLookup(ctx, false)
	r.RecordFallback(ctx, "remote_error")
	r.RecordSuperseded(ctx)
	r.RecordQuery(ctx, SourceRemote, 25*time.Millisecond, true)

	got := collect(t, reader)

	assert.Equal(t, int64(1), sumFor(t, got["efm.cache.lookup_total"], "result", "hit"))
	assert.Equal(t, int64(2), sumFor(t, got["efm.cache.lookup_total"], "result", "miss"))
	assert.Equal(t, int64(1), sumFor(t, got["efm.pipeline.fallback_total"], "reason", "remote_error"))
	assert.Equal(t, int64(1), sumFor(t, got["efm.pipeline.superseded_total"], "", ""))

	hist, ok := got["efm.pipeline.query_duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.InDelta(t, 25.0, hist.DataPoints[0].Sum, 0.001)
}

func TestRegistry_ObservableGauges(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	r, err := NewRegistry(provider)
	require.NoError(t, err)

	r.SetCacheEntries(7)
	r.UpdateActiveStreams(2)
	r.UpdateActiveStreams(-1)

	got := collect(t, reader)

	entries, ok := got["efm.cache.entries"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, entries.DataPoints, 1)
	assert.Equal(t, int64(7), entries.DataPoints[0].Value)

	streams, ok := got["efm.api.active_streams"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, streams.DataPoints, 1)
	assert.Equal(t, int64(1), streams.DataPoints[0].Value)
}

func TestRegistry_APIRequests(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	r, err := NewRegistry(provider)
	require.NoError(t, err)

	r.RecordAPIRequest(context.Background(), 12.5, "GET", "/api/v1/data", 200)

	got := collect(t, reader)
	assert.Equal(t, int64(1), sumFor(t, got["efm.api.request_total"], "path", "/api/v1/data"))
}

func TestNewRegistry_GlobalProvider(t *testing.T) {
	r, err := NewRegistry(nil)
	require.NoError(t, err)
	assert.NotPanics(t, func() { r.RecordSuperseded(context.Background()) })
}

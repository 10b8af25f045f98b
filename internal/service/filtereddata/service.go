// Package filtereddata decides how each filter state is satisfied: from the
// result cache, from the remote source, or by evaluating the local collection.
package filtereddata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/filter"
	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/forecast"
	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/cache"
	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/clock"
	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/scheduler"
	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/telemetry"
	"github.com/Ayoub94x/esa-forecast-manager/internal/metrics"
	"github.com/Ayoub94x/esa-forecast-manager/internal/service/filterstate"
	"github.com/Ayoub94x/esa-forecast-manager/internal/service/lazyload"
	"github.com/Ayoub94x/esa-forecast-manager/internal/service/performance"
)

// Fallback reasons
const (
	FallbackDisabled    = "server_side_disabled"
	FallbackRemoteError = "remote_error"
)

// Config controls how filter changes are served
type Config struct {
	Debounce          time.Duration
	ServerSide        bool
	StatisticsEnabled bool
	LazyLoad          bool
	PageSize          int
	LoadLatency       time.Duration
	Clock             clock.Clock
}

// DefaultConfig returns the settings used by the API server out of the box
func DefaultConfig() Config {
	return Config{
		Debounce:          300 * time.Millisecond,
		ServerSide:        true,
		StatisticsEnabled: true,
		LazyLoad:          true,
		PageSize:          50,
		LoadLatency:       100 * time.Millisecond,
	}
}

// Dependencies are the collaborators a Service orchestrates
type Dependencies struct {
	Store   *filterstate.Store
	Cache   *cache.Tiered
	Remote  RemoteSource
	Local   LocalSource
	Monitor *performance.Monitor
	Metrics *metrics.Registry
}

// Snapshot is the published view of the pipeline
type Snapshot struct {
	Data          []forecast.Record    `json:"data"`
	Loading       bool                 `json:"loading"`
	LoadingMore   bool                 `json:"loading_more"`
	Error         string               `json:"error,omitempty"`
	Statistics    *forecast.Statistics `json:"statistics,omitempty"`
	TotalCount    int                  `json:"total_count"`
	FilteredCount int                  `json:"filtered_count"`
	HasMore       bool                 `json:"has_more"`
	Fingerprint   string               `json:"fingerprint"`
	Series        []filter.Series      `json:"series"`
	Metrics       performance.Metrics  `json:"performance_metrics"`
	Alerts        []performance.Alert  `json:"performance_alerts"`
}

// Subscriber receives every published snapshot
type Subscriber func(Snapshot)

// Service is the filtered-data orchestrator. Each filter change is
// fingerprinted, debounced, then answered from the cache, the remote source
// or the local evaluator. Only the most recently requested fingerprint may
// commit its result.
type Service struct {
	logger  *zap.Logger
	config  Config
	tracer  trace.Tracer
	store   *filterstate.Store
	cache   *cache.Tiered
	remote  RemoteSource
	local   LocalSource
	monitor *performance.Monitor
	metrics *metrics.Registry

	debouncer *scheduler.Debouncer
	pager     *lazyload.Paginator[forecast.Record]

	ctx    context.Context
	cancel context.CancelFunc
	stop   func()

	mu         sync.Mutex
	requested  string
	generation uint64
	current    result
	loading    bool
	subs       map[int]Subscriber
	nextSub    int

	publishMu sync.Mutex
	inflight  sync.WaitGroup
}

// result is what a completed fetch commits
type result struct {
	entry       cache.Entry
	err         string
	fingerprint string
	key         string
}

// NewService wires a Service. Remote may be nil when server-side filtering
// is disabled.
func NewService(deps Dependencies, cfg Config, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("filter store is required")
	}
	if deps.Cache == nil {
		return nil, fmt.Errorf("result cache is required")
	}
	if deps.Local == nil {
		return nil, fmt.Errorf("local source is required")
	}
	if deps.Monitor == nil {
		return nil, fmt.Errorf("performance monitor is required")
	}
	if deps.Metrics == nil {
		return nil, fmt.Errorf("metrics registry is required")
	}
	if cfg.ServerSide && deps.Remote == nil {
		return nil, fmt.Errorf("remote source is required for server-side filtering")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		logger:    logger.Named("filtereddata"),
		config:    cfg,
		tracer:    otel.Tracer("filtereddata.service"),
		store:     deps.Store,
		cache:     deps.Cache,
		remote:    deps.Remote,
		local:     deps.Local,
		monitor:   deps.Monitor,
		metrics:   deps.Metrics,
		debouncer: scheduler.NewDebouncer(cfg.Clock, cfg.Debounce),
		pager:     lazyload.NewPaginator[forecast.Record](cfg.Clock, cfg.PageSize, cfg.LoadLatency),
		ctx:       ctx,
		cancel:    cancel,
		subs:      make(map[int]Subscriber),
	}
	s.pager.OnPage(s.publish)
	return s, nil
}

// Start follows the filter store and schedules the initial fetch
func (s *Service) Start() {
	s.stop = s.store.Subscribe(s.OnFilterChanged)
	s.OnFilterChanged(s.store.BuildQuery())
}

// Close stops following the store, drops any pending fetch and waits for
// fetches in flight to finish.
func (s *Service) Close() {
	if s.stop != nil {
		s.stop()
	}
	s.debouncer.Cancel()
	s.cancel()
	s.inflight.Wait()
}

// Wait blocks until every fetch started so far has resolved or been discarded
func (s *Service) Wait() {
	s.inflight.Wait()
}

// OnFilterChanged schedules a fetch for q. A query whose fingerprint equals
// the most recently requested one is ignored.
func (s *Service) OnFilterChanged(q *filter.Query) {
	s.schedule(q, false)
}

// Refresh refetches the current filter state from the source even if it has
// not changed. The cached result for it is skipped and then replaced.
func (s *Service) Refresh() {
	s.schedule(s.store.BuildQuery(), true)
}

func (s *Service) schedule(q *filter.Query, bypassCache bool) {
	fp := filter.Fingerprint(q)

	s.mu.Lock()
	if fp == s.requested && !bypassCache {
		s.mu.Unlock()
		return
	}
	s.requested = fp
	s.loading = true
	s.mu.Unlock()

	s.publish()
	s.debouncer.Trigger(func() { s.dispatch(q, fp, bypassCache) })
}

func (s *Service) dispatch(q *filter.Query, fp string, bypassCache bool) {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.fetch(s.ctx, q, fp, gen, bypassCache)
	}()
}

func (s *Service) fetch(ctx context.Context, q *filter.Query, fp string, gen uint64, bypassCache bool) {
	key := filter.Key(q)
	ctx, span := s.tracer.Start(ctx, "Service.fetch", trace.WithAttributes(
		attribute.String("cache.key", key),
		attribute.Int64("generation", int64(gen)),
		attribute.Bool("cache.bypass", bypassCache),
	))
	defer span.End()
	logger := telemetry.WithTrace(ctx, s.logger)

	if !bypassCache {
		if entry, ok := s.cache.Get(ctx, key); ok {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			s.metrics.RecordCacheLookup(ctx, true)
			s.monitor.UpdateCacheMetrics(1, 1)
			s.onFetchResolved(ctx, gen, result{entry: entry, fingerprint: fp, key: key}, false)
			return
		}
		span.SetAttributes(attribute.Bool("cache.hit", false))
		s.metrics.RecordCacheLookup(ctx, false)
		s.monitor.UpdateCacheMetrics(0, 1)
	}
	s.monitor.StartFilterMeasure()

	var (
		entry  cache.Entry
		errMsg string
		ok     bool
	)
	if s.config.ServerSide {
		entry, ok, errMsg = s.fromRemote(ctx, q, logger)
		if !ok {
			s.metrics.RecordFallback(ctx, FallbackRemoteError)
		}
	} else {
		s.metrics.RecordFallback(ctx, FallbackDisabled)
	}
	if !ok {
		entry = s.fromLocal(ctx, q)
	}
	// Both tiers address entries by key; the shared tier checks it on read
	entry.QueryHash = key

	if s.onFetchResolved(ctx, gen, result{entry: entry, err: errMsg, fingerprint: fp, key: key}, true) {
		s.monitor.EndFilterMeasure(entry.TotalCount, entry.MatchedCount)
	}
}

// fromRemote runs the query plan and the statistics request on the remote
// source. A failure of either reports ok false with the error text.
func (s *Service) fromRemote(ctx context.Context, q *filter.Query, logger *zap.Logger) (cache.Entry, bool, string) {
	ctx, span := s.tracer.Start(ctx, "Service.fromRemote")
	defer span.End()

	started := s.config.Clock.Now()
	s.monitor.StartQueryMeasure()
	res := s.remote.ExecuteQuery(ctx, q)
	var stats Result[*forecast.Statistics]
	if res.IsOK() && s.config.StatisticsEnabled {
		stats = s.remote.ComputeStatistics(ctx, q)
	}
	s.monitor.EndQueryMeasure()

	err := errors.Join(res.Err, stats.Err)
	s.metrics.RecordQuery(ctx, metrics.SourceRemote, s.config.Clock.Now().Sub(started), err == nil)
	if err != nil {
		telemetry.RecordError(span, err)
		logger.Warn("remote query failed, falling back to local evaluation", zap.Error(err))
		return cache.Entry{}, false, err.Error()
	}

	// The remote may leave part of the predicate to us; applying it again is
	// a no-op when it did not.
	records := filter.Select(res.Value.Records, q)
	matched := res.Value.MatchedCount - (len(res.Value.Records) - len(records))
	if matched < len(records) {
		matched = len(records)
	}

	return cache.Entry{
		Data:         records,
		Statistics:   stats.Value,
		MatchedCount: matched,
		TotalCount:   res.Value.TotalCount,
	}, true, ""
}

func (s *Service) fromLocal(ctx context.Context, q *filter.Query) cache.Entry {
	_, span := s.tracer.Start(ctx, "Service.fromLocal")
	defer span.End()

	started := s.config.Clock.Now()
	all := s.local.Records()
	page, matched := filter.Execute(all, q)

	entry := cache.Entry{
		Data:         page,
		MatchedCount: matched,
		TotalCount:   len(all),
	}
	if s.config.StatisticsEnabled {
		stats := forecast.ComputeStatistics(filter.Select(all, q))
		entry.Statistics = &stats
	}
	s.metrics.RecordQuery(ctx, metrics.SourceLocal, s.config.Clock.Now().Sub(started), true)
	return entry
}

// onFetchResolved commits r if gen is still the newest fetch for the most
// recently requested fingerprint, and reports whether it did. store controls
// whether the entry is written to the cache.
func (s *Service) onFetchResolved(ctx context.Context, gen uint64, r result, store bool) bool {
	s.mu.Lock()
	if gen != s.generation || r.fingerprint != s.requested {
		s.mu.Unlock()
		s.onFetchSuperseded(ctx, gen, r.fingerprint)
		return false
	}
	s.current = r
	s.loading = false
	s.mu.Unlock()

	// The shared tier is a network round trip; s.mu must not be held across it
	if store {
		s.cache.Set(ctx, r.key, r.entry)
	}

	if s.config.LazyLoad {
		s.pager.SetItems(r.entry.Data)
	}
	s.metrics.SetCacheEntries(s.cache.Size())
	s.publish()
	return true
}

// onFetchSuperseded discards the result of a fetch a newer one replaced
func (s *Service) onFetchSuperseded(ctx context.Context, gen uint64, fp string) {
	s.metrics.RecordSuperseded(ctx)
	s.logger.Debug("discarding superseded fetch", zap.Uint64("generation", gen), zap.String("fingerprint", fp))
}

// Subscribe registers fn for every published snapshot and returns a function
// that removes it. fn must not call back into the service.
func (s *Service) Subscribe(fn Subscriber) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Snapshot returns the current view
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Service) snapshotLocked() Snapshot {
	snap := Snapshot{
		Loading:       s.loading,
		Error:         s.current.err,
		Statistics:    s.current.entry.Statistics,
		TotalCount:    s.current.entry.TotalCount,
		FilteredCount: s.current.entry.MatchedCount,
		Fingerprint:   s.current.fingerprint,
		Series:        s.store.DataTypeSelection().Series(),
		Metrics:       s.monitor.Metrics(),
		Alerts:        s.monitor.Alerts(),
	}
	if s.config.LazyLoad {
		snap.Data = s.pager.Visible()
		snap.HasMore = s.pager.HasMore()
		snap.LoadingMore = s.pager.Loading()
	} else {
		snap.Data = append([]forecast.Record(nil), s.current.entry.Data...)
	}
	if snap.Data == nil {
		snap.Data = []forecast.Record{}
	}
	return snap
}

func (s *Service) publish() {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.mu.Lock()
	snap := s.snapshotLocked()
	subs := make([]Subscriber, 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

// LoadMore reveals the next page of the current result. It reports false when
// lazy loading is off, a load is already in flight, or nothing is hidden.
func (s *Service) LoadMore() bool {
	if !s.config.LazyLoad {
		return false
	}
	if !s.pager.LoadMore() {
		return false
	}
	s.publish()
	return true
}

// HasMore reports whether LoadMore would reveal anything
func (s *Service) HasMore() bool {
	return s.config.LazyLoad && s.pager.HasMore()
}

// ClearCache drops every cached result. The next change or Refresh fetches
// from the source again.
func (s *Service) ClearCache(ctx context.Context) {
	s.cache.Clear(ctx)
	s.metrics.SetCacheEntries(0)
	s.logger.Info("result cache cleared")
}

// SetDataTypeSelection changes which series views render and republishes.
// Record inclusion is unaffected, so nothing is refetched.
func (s *Service) SetDataTypeSelection(sel filter.DataTypeSelection) {
	s.store.SetDataTypeSelection(sel)
	s.publish()
}

// Store returns the filter state the service follows
func (s *Service) Store() *filterstate.Store {
	return s.store
}

// Monitor returns the performance monitor the service reports to
func (s *Service) Monitor() *performance.Monitor {
	return s.monitor
}

package rest

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/config"
	"github.com/Ayoub94x/esa-forecast-manager/internal/metrics"
	"github.com/Ayoub94x/esa-forecast-manager/internal/service/filtereddata"
)

// RouterConfig holds everything the API router mounts
type RouterConfig struct {
	Service   *filtereddata.Service
	Logger    *zap.Logger
	Version   string
	RateLimit config.RateLimitConfig

	// Registry receives HTTP metrics and Gatherer serves /metrics. Both
	// default to a private Prometheus registry.
	Registry prometheus.Registerer
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Registry

	Health []HealthChecker
	// Stream serves GET /api/v1/stream when set
	Stream http.Handler
}

// NewRouter builds the API handler
func NewRouter(cfg RouterConfig) (http.Handler, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	handlers, err := NewHandlers(cfg.Service, cfg.Logger)
	if err != nil {
		return nil, err
	}
	if cfg.Registry == nil || cfg.Gatherer == nil {
		reg := prometheus.NewRegistry()
		cfg.Registry, cfg.Gatherer = reg, reg
	}

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux)
	mux.Handle("GET /health", NewHealthHandler(cfg.Version, 0, cfg.Health...))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	if cfg.Stream != nil {
		mux.Handle("GET /api/v1/stream", cfg.Stream)
	}

	middlewares := []Middleware{
		RecoveryMiddleware(cfg.Logger),
		SecurityHeadersMiddleware(),
		RequestIDMiddleware(),
		RequestLoggingMiddleware(cfg.Logger),
		TracingMiddleware(otel.Tracer("api.rest")),
	}
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limiter := NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.BurstSize)
		middlewares = append(middlewares, limiter.Middleware())
	}
	// innermost so the mux's matched pattern is visible on the same request
	middlewares = append(middlewares, MetricsMiddleware(cfg.Registry, cfg.Metrics))

	return NewMiddlewareChain(middlewares...).Then(mux), nil
}

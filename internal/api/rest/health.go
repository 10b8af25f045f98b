package rest

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// HealthStatus represents the health status
type HealthStatus string

const (
	HealthStatusPass HealthStatus = "pass"
	HealthStatusFail HealthStatus = "fail"
)

// HealthChecker checks the health of a dependency
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckFunc adapts a ping function to HealthChecker
type CheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context) error
}

func (c CheckFunc) Name() string                    { return c.CheckName }
func (c CheckFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

// HealthCheckResult represents the result of a health check
type HealthCheckResult struct {
	Status       HealthStatus `json:"status"`
	Error        string       `json:"error,omitempty"`
	ResponseTime string       `json:"response_time"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status  HealthStatus                 `json:"status"`
	Version string                       `json:"version"`
	Uptime  string                       `json:"uptime"`
	Checks  map[string]HealthCheckResult `json:"checks"`
}

// HealthHandler runs every checker concurrently and reports 503 when any fails
type HealthHandler struct {
	checkers  []HealthChecker
	timeout   time.Duration
	version   string
	startTime time.Time
}

// NewHealthHandler creates a health endpoint
func NewHealthHandler(version string, timeout time.Duration, checkers ...HealthChecker) *HealthHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthHandler{checkers: checkers, timeout: timeout, version: version, startTime: time.Now()}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := HealthResponse{
		Status:  HealthStatusPass,
		Version: h.version,
		Uptime:  time.Since(h.startTime).Round(time.Second).String(),
		Checks:  make(map[string]HealthCheckResult, len(h.checkers)),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, c := range h.checkers {
		wg.Add(1)
		go func(c HealthChecker) {
			defer wg.Done()
			start := time.Now()
			err := c.Check(ctx)

			result := HealthCheckResult{Status: HealthStatusPass, ResponseTime: time.Since(start).String()}
			if err != nil {
				result.Status = HealthStatusFail
				result.Error = err.Error()
			}

			mu.Lock()
			resp.Checks[c.Name()] = result
			if err != nil {
				resp.Status = HealthStatusFail
			}
			mu.Unlock()
		}(c)
	}
	wg.Wait()

	status := http.StatusOK
	if resp.Status == HealthStatusFail {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

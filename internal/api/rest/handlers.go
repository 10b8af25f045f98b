package rest

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	apperrors "github.com/Ayoub94x/esa-forecast-manager/internal/domain/errors"
	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/filter"
	"github.com/Ayoub94x/esa-forecast-manager/internal/service/filtereddata"
	"github.com/Ayoub94x/esa-forecast-manager/internal/service/performance"
)

// maxWait bounds how long GET /api/v1/data?wait=true holds a request
const maxWait = 10 * time.Second

// Handlers serves the filter, data and performance endpoints
type Handlers struct {
	service   *filtereddata.Service
	validator *validator.Validate
	logger    *zap.Logger
}

// NewHandlers creates the handlers for service
func NewHandlers(service *filtereddata.Service, logger *zap.Logger) (*Handlers, error) {
	if service == nil {
		return nil, fmt.Errorf("filtered data service is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Handlers{
		service:   service,
		validator: validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
	}, nil
}

// RegisterRoutes mounts every endpoint on mux
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/filters", h.GetFilters)
	mux.HandleFunc("PATCH /api/v1/filters", h.PatchFilters)
	mux.HandleFunc("POST /api/v1/filters/reset", h.ResetFilters)
	mux.HandleFunc("PUT /api/v1/filters/data-types", h.PutDataTypes)

	mux.HandleFunc("GET /api/v1/data", h.GetData)
	mux.HandleFunc("POST /api/v1/data/load-more", h.LoadMore)
	mux.HandleFunc("DELETE /api/v1/cache", h.ClearCache)

	mux.HandleFunc("GET /api/v1/performance", h.GetPerformance)
	mux.HandleFunc("GET /api/v1/performance/alerts", h.GetAlerts)
	mux.HandleFunc("DELETE /api/v1/performance/alerts", h.ClearAlerts)
}

// FiltersResponse describes the current filter state
type FiltersResponse struct {
	Query       *filter.Query            `json:"query"`
	Fingerprint string                   `json:"fingerprint"`
	Summary     filter.Summary           `json:"summary"`
	DataTypes   filter.DataTypeSelection `json:"data_types"`
}

func (h *Handlers) filters() FiltersResponse {
	store := h.service.Store()
	q := store.BuildQuery()
	return FiltersResponse{
		Query:       q,
		Fingerprint: filter.Fingerprint(q),
		Summary:     filter.Summarize(q),
		DataTypes:   store.DataTypeSelection(),
	}
}

func (h *Handlers) GetFilters(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, r, http.StatusOK, h.filters())
}

// PatchFilters merges a partial query into the filter state. The merged query
// is validated before anything is applied.
func (h *Handlers) PatchFilters(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	opts, err := filter.ParsePatch(body)
	if err != nil {
		writeError(w, r, apperrors.NewValidationError("INVALID_PATCH", "filter patch could not be decoded").
			WithDetails(map[string]interface{}{"reason": err.Error()}))
		return
	}

	store := h.service.Store()
	if err := filter.Validate(filter.Merge(store.BuildQuery(), opts...)); err != nil {
		writeError(w, r, err)
		return
	}

	if store.Update(opts...) {
		h.logger.Debug("filters updated", zap.String("request_id", RequestIDFromContext(r.Context())))
	}
	writeSuccess(w, r, http.StatusOK, h.filters())
}

func (h *Handlers) ResetFilters(w http.ResponseWriter, r *http.Request) {
	h.service.Store().Reset()
	writeSuccess(w, r, http.StatusOK, h.filters())
}

// DataTypesRequest selects the rendered series. Every flag must be present.
type DataTypesRequest struct {
	Budget         *bool `json:"budget" validate:"required"`
	Forecast       *bool `json:"forecast" validate:"required"`
	DeclaredBudget *bool `json:"declared_budget" validate:"required"`
}

func (h *Handlers) PutDataTypes(w http.ResponseWriter, r *http.Request) {
	var req DataTypesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, r, validationError(err))
		return
	}

	h.service.SetDataTypeSelection(filter.DataTypeSelection{
		Budget:         *req.Budget,
		Forecast:       *req.Forecast,
		DeclaredBudget: *req.DeclaredBudget,
	})
	writeSuccess(w, r, http.StatusOK, h.filters())
}

// GetData returns the current snapshot. With wait=true the request is held
// until the pending fetch resolves or the request context ends.
func (h *Handlers) GetData(w http.ResponseWriter, r *http.Request) {
	wait := false
	if raw := r.URL.Query().Get("wait"); raw != "" {
		var err error
		if wait, err = strconv.ParseBool(raw); err != nil {
			writeError(w, r, apperrors.NewValidationError("INVALID_PARAMETER", "wait must be a boolean"))
			return
		}
	}

	if !wait {
		writeSuccess(w, r, http.StatusOK, h.service.Snapshot())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), maxWait)
	defer cancel()
	writeSuccess(w, r, http.StatusOK, h.awaitSettled(ctx))
}

func (h *Handlers) awaitSettled(ctx context.Context) filtereddata.Snapshot {
	settled := make(chan filtereddata.Snapshot, 1)
	unsubscribe := h.service.Subscribe(func(s filtereddata.Snapshot) {
		if s.Loading {
			return
		}
		select {
		case settled <- s:
		default:
		}
	})
	defer unsubscribe()

	if snap := h.service.Snapshot(); !snap.Loading {
		return snap
	}
	select {
	case snap := <-settled:
		return snap
	case <-ctx.Done():
		return h.service.Snapshot()
	}
}

func (h *Handlers) LoadMore(w http.ResponseWriter, r *http.Request) {
	if !h.service.HasMore() {
		writeError(w, r, apperrors.NewConflictError("NOTHING_TO_LOAD", "no more records to load"))
		return
	}
	started := h.service.LoadMore()
	writeSuccess(w, r, http.StatusAccepted, map[string]interface{}{
		"started":  started,
		"snapshot": h.service.Snapshot(),
	})
}

// ClearCache drops cached results. With refresh=true the current filter is
// refetched right away.
func (h *Handlers) ClearCache(w http.ResponseWriter, r *http.Request) {
	h.service.ClearCache(r.Context())
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	if refresh {
		h.service.Refresh()
	}
	writeSuccess(w, r, http.StatusOK, map[string]interface{}{"cleared": true, "refreshing": refresh})
}

// PerformanceResponse is the monitor's current state
type PerformanceResponse struct {
	Enabled   bool                        `json:"enabled"`
	Metrics   performance.Metrics         `json:"metrics"`
	Aggregate *performance.AggregateStats `json:"aggregate,omitempty"`
	Alerts    int                         `json:"alerts"`
}

func (h *Handlers) GetPerformance(w http.ResponseWriter, r *http.Request) {
	monitor := h.service.Monitor()
	resp := PerformanceResponse{
		Enabled: monitor.Enabled(),
		Metrics: monitor.Metrics(),
		Alerts:  len(monitor.Alerts()),
	}
	if agg, ok := monitor.AggregateStats(); ok {
		resp.Aggregate = &agg
	}
	writeSuccess(w, r, http.StatusOK, resp)
}

func (h *Handlers) GetAlerts(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, r, http.StatusOK, h.service.Monitor().Alerts())
}

func (h *Handlers) ClearAlerts(w http.ResponseWriter, r *http.Request) {
	h.service.Monitor().ClearAlerts()
	w.WriteHeader(http.StatusNoContent)
}

func validationError(err error) error {
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperrors.NewValidationError("INVALID_BODY", "request body is invalid").WithCause(err)
	}
	details := make(map[string]interface{}, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = fe.Tag()
	}
	return apperrors.NewValidationError("INVALID_BODY", "request body is invalid").WithDetails(details)
}

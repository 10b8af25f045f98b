package rest

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/Ayoub94x/esa-forecast-manager/internal/domain/errors"
)

// APIVersion is reported in every response envelope
const APIVersion = "v1"

const maxBodySize = 1 << 20

// ResponseEnvelope wraps all API responses
type ResponseEnvelope struct {
	Success bool           `json:"success"`
	Data    interface{}    `json:"data,omitempty"`
	Error   *ErrorResponse `json:"error,omitempty"`
	Meta    ResponseMeta   `json:"meta"`
}

// ResponseMeta contains response metadata
type ResponseMeta struct {
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// ErrorResponse provides detailed error information
type ErrorResponse struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

func meta(r *http.Request) ResponseMeta {
	return ResponseMeta{
		RequestID: RequestIDFromContext(r.Context()),
		Timestamp: time.Now().UTC(),
		Version:   APIVersion,
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeSuccess(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	writeJSON(w, status, ResponseEnvelope{Success: true, Data: data, Meta: meta(r)})
}

// writeError maps err onto an HTTP status. Application errors carry their own
// status and code; anything else is an opaque 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := &ErrorResponse{Code: "INTERNAL_ERROR", Message: "an internal error occurred"}
	status := http.StatusInternalServerError

	if appErr, ok := apperrors.As(err); ok {
		status = appErr.StatusCode
		resp.Code = appErr.Code
		resp.Message = appErr.Message
		resp.Details = appErr.Details
		resp.Retryable = appErr.Retryable
	}
	if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
		resp.TraceID = sc.TraceID().String()
	}

	writeJSON(w, status, ResponseEnvelope{Success: false, Error: resp, Meta: meta(r)})
}

// decodeJSON reads a single JSON document, rejecting unknown fields
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.NewValidationError("INVALID_BODY", "request body is not valid JSON for this endpoint").WithCause(err)
	}
	return nil
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, apperrors.NewValidationError("INVALID_BODY", "request body could not be read").WithCause(err)
	}
	return body, nil
}

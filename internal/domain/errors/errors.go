// Package errors defines the structured error returned across the pipeline
// and the HTTP surface. Each error carries the status it maps to and whether
// the caller may retry.
package errors

import (
	"errors"
	"fmt"
	"maps"
	"net/http"
)

type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeExternal   ErrorType = "external"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeConflict   ErrorType = "conflict"
)

// AppError is a classified error with an API code
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code"`
}

func newAppError(t ErrorType, code, message string, status int, retryable bool) *AppError {
	return &AppError{Type: t, Code: code, Message: message, StatusCode: status, Retryable: retryable}
}

func (e *AppError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *AppError) Unwrap() error { return e.Cause }

// WithDetails merges details into the error's existing details
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{}, len(details))
	}
	maps.Copy(e.Details, details)
	return e
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// NewValidationError rejects caller input; code names the rule that failed
func NewValidationError(code, message string) *AppError {
	return newAppError(ErrorTypeValidation, code, message, http.StatusBadRequest, false)
}

func NewInternalError(message string) *AppError {
	return newAppError(ErrorTypeInternal, "INTERNAL_ERROR", message, http.StatusInternalServerError, false)
}

// NewExternalError reports a failure of a remote collaborator such as the
// hosted query backend. These are recoverable by the fallback path.
func NewExternalError(service, message string) *AppError {
	return newAppError(ErrorTypeExternal, "EXTERNAL_SERVICE_ERROR",
		fmt.Sprintf("%s: %s", service, message), http.StatusBadGateway, true).
		WithDetails(map[string]interface{}{"service": service})
}

func NewRateLimitError(message string) *AppError {
	return newAppError(ErrorTypeRateLimit, "RATE_LIMIT_EXCEEDED", message, http.StatusTooManyRequests, true)
}

// NewConflictError reports a request that cannot run in the current state
func NewConflictError(code, message string) *AppError {
	return newAppError(ErrorTypeConflict, code, message, http.StatusConflict, false)
}

// As returns the AppError in err's chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType reports whether err wraps an AppError of type t
func IsType(err error, t ErrorType) bool {
	appErr, ok := As(err)
	return ok && appErr.Type == t
}

// StatusCode returns the HTTP status for err; 500 when err is unclassified
func StatusCode(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// Package errors provides the error taxonomy shared by the orchestrator
// components and its mapping onto HTTP status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for common failure modes.
var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrIncompletePlan = errors.New("incomplete answers")
	ErrNotFound       = errors.New("resource not found")
	ErrPersistence    = errors.New("persistence failure")
	ErrUpstream       = errors.New("upstream partial failure")
	ErrTimeout        = errors.New("operation timed out")
	ErrRateLimit      = errors.New("rate limit exceeded")
	ErrUnavailable    = errors.New("service unavailable")
)

// APIError represents an error from an external API call.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s API error (status %d): %s: %v", e.Service, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError creates a new API error.
func NewAPIError(service string, statusCode int, message string) *APIError {
	return &APIError{Service: service, StatusCode: statusCode, Message: message}
}

// InvalidInput returns an error wrapping ErrInvalidInput with a caller facing message.
func InvalidInput(format string, args ...any) error {
	return &kindError{kind: ErrInvalidInput, msg: fmt.Sprintf(format, args...)}
}

// NotFound returns an error wrapping ErrNotFound, e.g. NotFound("Session").
func NotFound(resource string) error {
	return &kindError{kind: ErrNotFound, msg: resource + " not found"}
}

// IncompletePlan returns an error wrapping ErrIncompletePlan.
func IncompletePlan(format string, args ...any) error {
	return &kindError{kind: ErrIncompletePlan, msg: fmt.Sprintf(format, args...)}
}

// Persistence wraps a store failure for the named operation.
func Persistence(op string, err error) error {
	return &kindError{kind: ErrPersistence, msg: op, err: err}
}

// kindError carries a taxonomy sentinel together with a message that is
// safe to return to callers. The wrapped cause is kept for logs.
type kindError struct {
	kind error
	msg  string
	err  error
}

func (e *kindError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *kindError) Is(target error) bool { return target == e.kind }

func (e *kindError) Unwrap() error { return e.err }

// Message returns the caller facing message for err. Persistence and
// unclassified failures collapse to a generic message.
func Message(err error) string {
	var ke *kindError
	if errors.As(err, &ke) && ke.kind != ErrPersistence {
		return ke.msg
	}
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrNotFound), errors.Is(err, ErrIncompletePlan):
		return err.Error()
	case errors.Is(err, ErrRateLimit):
		return "Rate limit exceeded. Please try again later."
	}
	return "Internal server error"
}

// HTTPStatus maps err onto the status code the API boundary reports.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrIncompletePlan):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRateLimit):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// IsRetryable returns true if the error is likely transient and worth retrying.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimit) || errors.Is(err, ErrUnavailable)
}

// Package errors defines the gateway's error taxonomy as sentinel values and an
// AppError type that carries an HTTP status alongside the wrapped sentinel.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrConfiguration          = errors.New("configuration error")
	ErrSubgraphUnreachable    = errors.New("subgraph unreachable")
	ErrCompositionConflict    = errors.New("composition conflict")
	ErrCompositionUnavailable = errors.New("composition unavailable")
	ErrPartialExecution       = errors.New("partial execution failure")
	ErrFatalStartup           = errors.New("fatal startup error")
	ErrServiceDegraded        = errors.New("service degraded")
	ErrInvalidInput           = errors.New("invalid input")
	ErrRateLimited            = errors.New("rate limit exceeded")
	ErrTimeout                = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Is reports whether any error in err's chain matches target. It mirrors the
// standard library so callers need a single errors import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrServiceDegraded), errors.Is(err, ErrCompositionUnavailable),
		errors.Is(err, ErrSubgraphUnreachable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

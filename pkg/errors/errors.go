// Package errors defines the sentinel errors of the linkage engine and an
// AppError wrapper that carries an HTTP status for the serving layer.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrMissingColumn  = errors.New("configured column not present in table")
	ErrSourceNotFound = errors.New("reference source not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrInvalidJoin    = errors.New("unsupported join kind")
	ErrTimeout        = errors.New("operation timed out")
	ErrInternal       = errors.New("internal error")
)

// AppError wraps a sentinel with a human-readable message and an explicit
// HTTP status code.
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

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// HTTPStatusCode maps an error to the HTTP status the handlers should return.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrMissingColumn), errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidJoin):
		return http.StatusBadRequest
	case errors.Is(err, ErrSourceNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

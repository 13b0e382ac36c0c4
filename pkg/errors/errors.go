// Package errors defines the sentinel errors shared by the producer and the
// worker, the AppError wrapper used at the HTTP boundary, and the single
// transient/permanent classification that drives message acknowledgment.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// Transport: the broker or storage could not be reached.
	ErrBrokerUnavailable  = errors.New("message broker unavailable")
	ErrStorageUnavailable = errors.New("storage unavailable")

	// Extraction service failures.
	ErrServiceUnavailable = errors.New("extraction service unavailable")
	ErrRateLimited        = errors.New("extraction service rate limited")
	ErrInvalidResponse    = errors.New("invalid extraction response")
	ErrMissingField       = errors.New("missing required field")

	// Validation: malformed payloads and rejected records.
	ErrValidation   = errors.New("validation failed")
	ErrInvalidInput = errors.New("invalid input")

	ErrInternal = errors.New("internal error")
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

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// HTTPStatusCode maps an error to the status returned by the submission
// endpoint. Only broker unavailability is reported as retryable.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrBrokerUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Outcome is the per-delivery result that selects the acknowledgment.
type Outcome int

const (
	Success Outcome = iota
	TransientFailure
	PermanentFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case TransientFailure:
		return "transient"
	case PermanentFailure:
		return "permanent"
	default:
		return "unknown"
	}
}

// Classify reduces a handler error to an Outcome. Errors that match none of
// the transient sentinels are permanent: redelivering a message whose
// failure we cannot explain would only loop.
func Classify(err error) Outcome {
	if err == nil {
		return Success
	}
	if IsTransient(err) {
		return TransientFailure
	}
	return PermanentFailure
}

// IsTransient reports whether err is expected to clear on redelivery.
func IsTransient(err error) bool {
	switch {
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrStorageUnavailable),
		errors.Is(err, ErrBrokerUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return true
	}
	return false
}

// Wrap annotates cause with a sentinel so errors.Is matches both.
func Wrap(sentinel error, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}

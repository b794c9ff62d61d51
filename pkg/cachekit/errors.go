// Package cachekit implements a client-side REST data cache and
// synchronization engine.
package cachekit

import (
	"errors"
	"fmt"
)

// Resilience errors for circuit breaker, bulkhead, and rate limiting.
var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrBulkheadFull is returned when the bulkhead has no available slots.
	ErrBulkheadFull = errors.New("bulkhead is full")
	// ErrRateLimited is returned when the rate limiter rejects a request.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Error codes surfaced to callers.
const (
	CodeHTTP      = "http"      // non-2xx response from the server
	CodeTransport = "transport" // the fetch function itself failed
	CodeHook      = "hook"      // a user-supplied propagation hook panicked/errored
	CodeUsage     = "usage"     // caller misused the API (bad options, etc.)
)

// Error is a structured error with a kind, message, and optional HTTP detail.
// It carries the "status + statusText" shape error responses minimally need.
type Error struct {
	Code       string
	Message    string
	StatusText string
	HTTPStatus int
	Retryable  bool
	Cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusText != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.StatusText)
	}
	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrHTTP creates an error for a non-2xx HTTP response.
func ErrHTTP(status int, statusText string) *Error {
	return &Error{
		Code:       CodeHTTP,
		Message:    fmt.Sprintf("request failed with status %d", status),
		StatusText: statusText,
		HTTPStatus: status,
	}
}

// ErrTransport creates an error for a failure of the pluggable fetch function.
func ErrTransport(cause error) *Error {
	return &Error{
		Code:      CodeTransport,
		Message:   "transport error",
		Retryable: true,
		Cause:     cause,
	}
}

// ErrHook creates an error for a propagation hook that failed. Hook errors
// are logged and treated as "mark expired" rather than surfaced to callers.
func ErrHook(cause error) *Error {
	return &Error{
		Code:    CodeHook,
		Message: "propagation hook error",
		Cause:   cause,
	}
}

// ErrUsage creates a usage error for caller misconfiguration.
func ErrUsage(msg string) *Error {
	return &Error{Code: CodeUsage, Message: msg}
}

// AsError attempts to convert an error to an *Error.
// If the error is not an *Error, it wraps it in a transport error.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: CodeTransport, Message: err.Error(), Cause: err}
}

// BatchError is returned by insertMultiple/updateMultiple/deleteMultiple
// when one or more objects fail. Results and Errors are aligned with the
// input slice: Results[i] is nil if Errors[i] is non-nil.
type BatchError struct {
	Results []any
	Errors  []error
	// First is the first non-nil error encountered, surfaced as Error().
	First error
}

func (b *BatchError) Error() string {
	if b.First != nil {
		return b.First.Error()
	}
	return "batch operation failed"
}

func (b *BatchError) Unwrap() error {
	return b.First
}

// Package errors defines the typed errors used across the ConsultEase core.
package errors

import (
	"errors"
	"fmt"
)

// Error types
const (
	// ErrValidation is returned for malformed input (bad MAC, out-of-range
	// id, oversize payload). Never retried.
	ErrValidation = "validation"

	// ErrTransient is returned for recoverable I/O failures (network hiccup,
	// transient persistence error). Callers retry with backoff.
	ErrTransient = "transient"

	// ErrConflict is returned when an optimistic update lost against a
	// concurrent writer, or a uniqueness constraint was violated.
	ErrConflict = "conflict"

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = "not_found"

	// ErrInvalidTransition is returned when a consultation state change
	// violates the state machine. No state is changed.
	ErrInvalidTransition = "invalid_transition"

	// ErrDegraded is returned when persistence is unhealthy and the
	// operation was deferred rather than applied.
	ErrDegraded = "degraded"

	// ErrFatal is returned when a service exhausted its restart budget and
	// the failure must propagate to the process supervisor.
	ErrFatal = "fatal"
)

// Error represents an error in the application
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string, cause error) *Error {
	return NewError(ErrValidation, message, cause)
}

// NewTransientError creates a new transient error
func NewTransientError(message string, cause error) *Error {
	return NewError(ErrTransient, message, cause)
}

// NewConflictError creates a new conflict error
func NewConflictError(message string, cause error) *Error {
	return NewError(ErrConflict, message, cause)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, cause error) *Error {
	return NewError(ErrNotFound, message, cause)
}

// NewInvalidTransitionError creates a new invalid transition error
func NewInvalidTransitionError(message string, cause error) *Error {
	return NewError(ErrInvalidTransition, message, cause)
}

// NewDegradedError creates a new degraded error
func NewDegradedError(message string, cause error) *Error {
	return NewError(ErrDegraded, message, cause)
}

// NewFatalError creates a new fatal error
func NewFatalError(message string, cause error) *Error {
	return NewError(ErrFatal, message, cause)
}

// isType checks whether err (or any error it wraps) is an *Error of the
// given type.
func isType(err error, errorType string) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == errorType
}

// IsValidation checks if the error is a validation error
func IsValidation(err error) bool {
	return isType(err, ErrValidation)
}

// IsTransient checks if the error is a transient error
func IsTransient(err error) bool {
	return isType(err, ErrTransient)
}

// IsConflict checks if the error is a conflict error
func IsConflict(err error) bool {
	return isType(err, ErrConflict)
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return isType(err, ErrNotFound)
}

// IsInvalidTransition checks if the error is an invalid transition error
func IsInvalidTransition(err error) bool {
	return isType(err, ErrInvalidTransition)
}

// IsDegraded checks if the error is a degraded error
func IsDegraded(err error) bool {
	return isType(err, ErrDegraded)
}

// IsFatal checks if the error is a fatal error
func IsFatal(err error) bool {
	return isType(err, ErrFatal)
}

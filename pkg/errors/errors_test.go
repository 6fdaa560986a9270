package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "error with cause",
			err: &Error{
				Type:    ErrValidation,
				Message: "test message",
				Cause:   errors.New("underlying error"),
			},
			want: "validation: test message: underlying error",
		},
		{
			name: "error without cause",
			err: &Error{
				Type:    ErrTransient,
				Message: "test message",
				Cause:   nil,
			},
			want: "transient: test message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if got != tt.want {
				t.Errorf("Error.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := &Error{
		Type:    ErrFatal,
		Message: "test message",
		Cause:   cause,
	}

	if got := err.Unwrap(); got != cause {
		t.Errorf("Error.Unwrap() = %v, want %v", got, cause)
	}

	errNoCause := &Error{
		Type:    ErrFatal,
		Message: "test message",
		Cause:   nil,
	}

	if got := errNoCause.Unwrap(); got != nil {
		t.Errorf("Error.Unwrap() = %v, want nil", got)
	}
}

func TestNewError(t *testing.T) {
	cause := errors.New("underlying error")
	err := NewError(ErrValidation, "test message", cause)

	if err.Type != ErrValidation {
		t.Errorf("NewError().Type = %v, want %v", err.Type, ErrValidation)
	}
	if err.Message != "test message" {
		t.Errorf("NewError().Message = %v, want %v", err.Message, "test message")
	}
	if err.Cause != cause {
		t.Errorf("NewError().Cause = %v, want %v", err.Cause, cause)
	}
}

func TestCheckers(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		checker func(error) bool
		want    bool
	}{
		{"validation matches", NewValidationError("bad mac", nil), IsValidation, true},
		{"transient matches", NewTransientError("db hiccup", nil), IsTransient, true},
		{"conflict matches", NewConflictError("stale version", nil), IsConflict, true},
		{"not found matches", NewNotFoundError("no faculty", nil), IsNotFound, true},
		{"invalid transition matches", NewInvalidTransitionError("completed is terminal", nil), IsInvalidTransition, true},
		{"degraded matches", NewDegradedError("persistence unhealthy", nil), IsDegraded, true},
		{"fatal matches", NewFatalError("restart budget exhausted", nil), IsFatal, true},
		{"kind mismatch", NewValidationError("bad mac", nil), IsTransient, false},
		{"plain error", errors.New("plain"), IsValidation, false},
		{"nil error", nil, IsNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.checker(tt.err); got != tt.want {
				t.Errorf("checker(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestCheckersMatchWrappedErrors(t *testing.T) {
	inner := NewNotFoundError("faculty 42", nil)
	wrapped := fmt.Errorf("handling status update: %w", inner)

	if !IsNotFound(wrapped) {
		t.Errorf("IsNotFound(wrapped) = false, want true")
	}
	if IsTransient(wrapped) {
		t.Errorf("IsTransient(wrapped) = true, want false")
	}
}

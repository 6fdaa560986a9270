package models

import (
	"strings"
	"time"
	"unicode"

	"github.com/consultease/consultease/pkg/errors"
)

// MaxMessageLength caps the consultation message body after sanitization.
const MaxMessageLength = 512

// ConsultationStatus tracks a consultation through its lifecycle.
type ConsultationStatus string

const (
	// StatusPending means the request was created and routed to the desk
	// unit; no response has arrived yet.
	StatusPending ConsultationStatus = "PENDING"
	// StatusAccepted means the faculty member acknowledged the request.
	StatusAccepted ConsultationStatus = "ACCEPTED"
	// StatusBusy means the faculty member declined as busy.
	StatusBusy ConsultationStatus = "BUSY"
	// StatusCompleted means an accepted consultation finished.
	StatusCompleted ConsultationStatus = "COMPLETED"
	// StatusCancelled means an administrator withdrew the request.
	StatusCancelled ConsultationStatus = "CANCELLED"
	// StatusExpired means the request went unanswered past the expiry window.
	StatusExpired ConsultationStatus = "EXPIRED"
)

// ParseConsultationStatus maps a string onto a known status. Returns false
// for values outside the recognized set.
func ParseConsultationStatus(s string) (ConsultationStatus, bool) {
	switch ConsultationStatus(strings.ToUpper(s)) {
	case StatusPending, StatusAccepted, StatusBusy, StatusCompleted, StatusCancelled, StatusExpired:
		return ConsultationStatus(strings.ToUpper(s)), true
	default:
		return "", false
	}
}

// CanTransitionTo reports whether moving from s to next is a legal edge of
// the consultation state machine:
//
//	PENDING  -> ACCEPTED | BUSY | CANCELLED | EXPIRED
//	ACCEPTED -> COMPLETED
//
// Everything else, including any move out of a terminal state, is invalid.
func (s ConsultationStatus) CanTransitionTo(next ConsultationStatus) bool {
	switch s {
	case StatusPending:
		switch next {
		case StatusAccepted, StatusBusy, StatusCancelled, StatusExpired:
			return true
		}
	case StatusAccepted:
		return next == StatusCompleted
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s ConsultationStatus) IsTerminal() bool {
	switch s {
	case StatusBusy, StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Consultation represents one student request routed to a faculty desk unit.
type Consultation struct {
	// ID is the unique consultation identifier.
	ID int64 `json:"id"`
	// StudentID references the requesting student.
	StudentID int64 `json:"student_id"`
	// FacultyID references the target faculty member.
	FacultyID int64 `json:"faculty_id"`
	// CourseCode is the course the request concerns.
	CourseCode string `json:"course_code"`
	// Message is the sanitized request body.
	Message string `json:"message"`
	// MessageID correlates desk-unit responses with this request.
	MessageID string `json:"message_id"`
	// Status is the current lifecycle state.
	Status ConsultationStatus `json:"status"`
	// RequestedAt is when the request was submitted.
	RequestedAt time.Time `json:"requested_at"`
	// AcceptedAt is set when the faculty member acknowledges.
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	// CompletedAt is set when an accepted consultation finishes.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SanitizeMessage strips control characters from a consultation message,
// trims surrounding whitespace, and enforces the length cap. Newlines
// survive so multi-line requests stay readable on the desk display.
func SanitizeMessage(raw string) (string, error) {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r == '\n' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}

	msg := strings.TrimSpace(b.String())
	if msg == "" {
		return "", errors.NewValidationError("consultation message is empty", nil)
	}
	if n := len([]rune(msg)); n > MaxMessageLength {
		return "", errors.NewValidationError("consultation message exceeds 512 characters", nil)
	}
	return msg, nil
}

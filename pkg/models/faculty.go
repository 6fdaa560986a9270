// Package models defines the core value types shared across the ConsultEase
// service: faculty, students, consultations, administrators, and the
// transient records used while persistence is degraded.
//
// Every type here is a plain value snapshot. Stores return copies, never
// live row handles, so holding one of these after a session closes is safe.
package models

import "time"

// NTPSyncStatus reports the clock synchronization state a desk unit last
// advertised for its faculty member.
type NTPSyncStatus string

const (
	// NTPSynced indicates the desk unit clock is synchronized.
	NTPSynced NTPSyncStatus = "SYNCED"
	// NTPPending indicates synchronization is still in progress.
	NTPPending NTPSyncStatus = "PENDING"
	// NTPFailed indicates the desk unit could not synchronize its clock.
	NTPFailed NTPSyncStatus = "FAILED"
)

// ParseNTPSyncStatus maps a wire string onto a known sync status.
// Returns false for values outside the recognized set.
func ParseNTPSyncStatus(s string) (NTPSyncStatus, bool) {
	switch NTPSyncStatus(s) {
	case NTPSynced, NTPPending, NTPFailed:
		return NTPSyncStatus(s), true
	default:
		return "", false
	}
}

// Faculty represents one faculty member tracked by the presence pipeline.
type Faculty struct {
	// ID is the unique faculty identifier.
	ID int64 `json:"id"`
	// Name is the display name.
	Name string `json:"name"`
	// Department is the organizational unit.
	Department string `json:"department"`
	// Email is optional contact information.
	Email string `json:"email,omitempty"`
	// BeaconMAC is the canonical uppercase colon-separated MAC of the BLE
	// beacon carried by this faculty member. Unique across all faculty.
	BeaconMAC string `json:"beacon_mac"`
	// AlwaysAvailable forces Present to true regardless of desk reports.
	AlwaysAvailable bool `json:"always_available"`
	// Present is the most recently committed presence state.
	Present bool `json:"present"`
	// LastSeen is the timestamp of the last committed presence update.
	LastSeen *time.Time `json:"last_seen,omitempty"`
	// NTPSyncStatus is the clock state last reported by the desk unit.
	NTPSyncStatus NTPSyncStatus `json:"ntp_sync_status"`
	// InGracePeriod records the desk-side debounce flag. The core never
	// derives Present from it.
	InGracePeriod bool `json:"in_grace_period"`
	// Version increases by one with every committed update and orders
	// concurrent writers.
	Version int64 `json:"version"`
	// CreatedAt is when the record was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the record was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusChange is the post-commit event delivered to presence subscribers.
type StatusChange struct {
	// FacultyID identifies the faculty member that changed.
	FacultyID int64 `json:"faculty_id"`
	// Name is the faculty display name at commit time.
	Name string `json:"name"`
	// Present is the committed presence state.
	Present bool `json:"present"`
	// Timestamp is when the change was committed.
	Timestamp time.Time `json:"timestamp"`
}

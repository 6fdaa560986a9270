package models

import "time"

// PendingStalenessWindow bounds how long a deferred presence update stays
// replayable after receipt.
const PendingStalenessWindow = 5 * time.Minute

// PendingStatusUpdate is an in-memory record of a presence change received
// while persistence was unhealthy. It is replayed in receipt order once
// persistence recovers and discarded after the staleness window.
type PendingStatusUpdate struct {
	// FacultyID identifies the faculty member the update targets.
	FacultyID int64
	// Present is the desired presence state.
	Present bool
	// ReceivedAt is when the update arrived.
	ReceivedAt time.Time
	// Source tags where the update came from ("mqtt", "mac_status", ...).
	Source string
}

// Stale reports whether the update is older than the staleness window at
// the given instant.
func (p PendingStatusUpdate) Stale(now time.Time) bool {
	return now.Sub(p.ReceivedAt) > PendingStalenessWindow
}

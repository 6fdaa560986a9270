// Package storage defines the persistence contracts for ConsultEase.
//
// A Store hands out snapshots, never live rows. Multi-statement work runs
// through WithSession, which scopes every operation inside the callback to
// one transaction: commit on normal return, rollback on error, release on
// every exit path.
package storage

import (
	"context"
	"time"

	"github.com/consultease/consultease/pkg/models"
)

// Store is the top-level persistence surface.
type Store interface {
	// Faculty returns the faculty accessor bound to the autocommit pool.
	Faculty() FacultyStore
	// Students returns the student accessor bound to the autocommit pool.
	Students() StudentStore
	// Consultations returns the consultation accessor bound to the autocommit pool.
	Consultations() ConsultationStore
	// Admins returns the administrator accessor bound to the autocommit pool.
	Admins() AdminStore

	// WithSession runs fn inside a single transaction. The accessors reached
	// through the Session see uncommitted writes from earlier in the same fn.
	WithSession(ctx context.Context, fn func(s Session) error) error

	// Ping probes liveness with a lightweight query.
	Ping(ctx context.Context) error
	// Restart drains active connections, disposes the pool, and rebuilds it.
	Restart(ctx context.Context) error
	// Close releases the pool and any instance locks.
	Close() error
}

// Session exposes the same accessors as Store, scoped to one transaction.
type Session interface {
	Faculty() FacultyStore
	Students() StudentStore
	Consultations() ConsultationStore
	Admins() AdminStore
}

// FacultyStore manages faculty rows.
type FacultyStore interface {
	// Create inserts a new faculty member and returns the stored snapshot.
	Create(ctx context.Context, f models.Faculty) (models.Faculty, error)
	// Get retrieves a faculty member by id.
	Get(ctx context.Context, id int64) (models.Faculty, error)
	// GetByBeaconMAC retrieves a faculty member by canonical beacon MAC.
	GetByBeaconMAC(ctx context.Context, mac string) (models.Faculty, error)
	// List returns all faculty matching the filter, ordered by name.
	List(ctx context.Context, filter FacultyFilter) ([]models.Faculty, error)
	// Update rewrites the identity fields (name, department, email,
	// beacon MAC, always-available) of an existing faculty member.
	Update(ctx context.Context, f models.Faculty) (models.Faculty, error)
	// ApplyPresence commits one presence update guarded by the expected
	// version; the stored version increments by exactly one on success.
	ApplyPresence(ctx context.Context, u PresenceUpdate) (models.Faculty, error)
	// SetAlwaysAvailable flips the always-available override.
	SetAlwaysAvailable(ctx context.Context, id int64, on bool) (models.Faculty, error)
	// Delete removes a faculty member.
	Delete(ctx context.Context, id int64) error
}

// PresenceUpdate carries one version-guarded presence mutation.
type PresenceUpdate struct {
	// FacultyID identifies the row to mutate.
	FacultyID int64
	// ExpectedVersion is the version the caller read; the update applies
	// only if the stored version still matches.
	ExpectedVersion int64
	// Present is the new presence state.
	Present bool
	// LastSeen is the observation timestamp recorded with the update.
	LastSeen time.Time
	// InGracePeriod, when non-nil, updates the desk-side debounce flag.
	InGracePeriod *bool
	// NTPSyncStatus, when non-nil, updates the reported clock state.
	NTPSyncStatus *models.NTPSyncStatus
	// BeaconMAC, when non-empty, reconciles the stored beacon identifier.
	BeaconMAC string
}

// FacultyFilter configures filtering for faculty List operations.
type FacultyFilter struct {
	// Department filters by organizational unit. Empty matches all.
	Department string
	// Present filters by presence state. Nil matches all.
	Present *bool
}

// StudentStore manages student rows.
type StudentStore interface {
	// Upsert inserts a student or, when the RFID UID already exists,
	// updates the existing row. Returns the stored snapshot.
	Upsert(ctx context.Context, s models.Student) (models.Student, error)
	// Get retrieves a student by id.
	Get(ctx context.Context, id int64) (models.Student, error)
	// GetByRFID retrieves a student by normalized badge UID.
	GetByRFID(ctx context.Context, uid string) (models.Student, error)
	// List returns all students ordered by name.
	List(ctx context.Context) ([]models.Student, error)
	// Delete removes a student.
	Delete(ctx context.Context, id int64) error
}

// ConsultationStore manages consultation rows.
type ConsultationStore interface {
	// Create inserts a new PENDING consultation and returns the snapshot.
	Create(ctx context.Context, c models.Consultation) (models.Consultation, error)
	// Get retrieves a consultation by id.
	Get(ctx context.Context, id int64) (models.Consultation, error)
	// GetByMessageID retrieves a consultation by its correlation id.
	GetByMessageID(ctx context.Context, messageID string) (models.Consultation, error)
	// List returns consultations matching the filter, newest first.
	List(ctx context.Context, filter ConsultationFilter) ([]models.Consultation, error)
	// Transition moves a consultation from one status to another, stamping
	// acceptedAt or completedAt as appropriate. The update applies only if
	// the stored status still equals from.
	Transition(ctx context.Context, id int64, from, to models.ConsultationStatus, at time.Time) (models.Consultation, error)
	// ListStalePending returns PENDING consultations requested at or
	// before the cutoff, oldest first.
	ListStalePending(ctx context.Context, cutoff time.Time) ([]models.Consultation, error)
}

// ConsultationFilter configures filtering for consultation List operations.
type ConsultationFilter struct {
	// StudentID filters by requesting student. Zero matches all.
	StudentID int64
	// FacultyID filters by target faculty. Zero matches all.
	FacultyID int64
	// Status filters by lifecycle state. Empty matches all.
	Status models.ConsultationStatus
	// Limit caps the number of rows returned. Zero means no cap.
	Limit int
}

// AdminStore manages administrator accounts.
type AdminStore interface {
	// Create inserts a new administrator with a pre-hashed credential.
	Create(ctx context.Context, username, passwordHash string) (models.Admin, error)
	// GetByUsername retrieves an administrator by login name.
	GetByUsername(ctx context.Context, username string) (models.Admin, error)
	// List returns all administrators ordered by username.
	List(ctx context.Context) ([]models.Admin, error)
}

// Package presence implements the faculty presence engine: serialized
// per-faculty status updates, MAC reconciliation, deferral while
// persistence is degraded, and post-commit change broadcast.
package presence

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/consultease/consultease/pkg/cache"
	cerrors "github.com/consultease/consultease/pkg/errors"
	"github.com/consultease/consultease/pkg/events"
	"github.com/consultease/consultease/pkg/logger"
	"github.com/consultease/consultease/pkg/models"
	"github.com/consultease/consultease/pkg/storage"
)

const (
	// healthRetryWait is how long the engine waits before re-checking the
	// persistence-health flag on a first unhealthy sighting.
	healthRetryWait = 2 * time.Second
	// maxTransientAttempts caps retries of a transient persistence error.
	maxTransientAttempts = 5
	// maxConflictRetries caps retries after an optimistic version conflict.
	maxConflictRetries = 3
	// retryInitialInterval seeds the retry backoff.
	retryInitialInterval = 100 * time.Millisecond
	// retryMaxInterval caps the retry backoff.
	retryMaxInterval = 10 * time.Second
)

// HealthChecker reports the process-wide persistence-health flag owned by
// the system coordinator.
type HealthChecker interface {
	PersistenceHealthy() bool
}

// PendingSink buffers updates that could not be applied while persistence
// was unhealthy.
type PendingSink interface {
	Defer(update models.PendingStatusUpdate)
}

// Update carries one presence mutation through the engine.
type Update struct {
	// FacultyID identifies the faculty member.
	FacultyID int64
	// Present is the reported presence state. AlwaysAvailable overrides it
	// at apply time.
	Present bool
	// Source tags the origin ("status", "mac_status", "legacy", "replay").
	Source string
	// InGracePeriod, when non-nil, records the desk-side debounce flag.
	InGracePeriod *bool
	// NTPSyncStatus, when non-nil, records the reported clock state.
	NTPSyncStatus *models.NTPSyncStatus
	// BeaconMAC, when non-empty, reconciles the stored beacon identifier.
	// Must already be in canonical form.
	BeaconMAC string
	// ReceivedAt is when the update first arrived. Zero means now; replays
	// preserve the original receipt time.
	ReceivedAt time.Time
}

// Engine applies presence updates. All dependencies are injected; create
// with New.
type Engine struct {
	store   storage.Store
	caches  *cache.Coordinator
	bus     *events.Bus
	health  HealthChecker
	pending PendingSink
	locks   *lockMap

	// seams for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a presence engine.
func New(store storage.Store, caches *cache.Coordinator, bus *events.Bus, health HealthChecker, pending PendingSink) *Engine {
	return &Engine{
		store:   store,
		caches:  caches,
		bus:     bus,
		health:  health,
		pending: pending,
		locks:   newLockMap(),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterCallback subscribes fn to post-commit status changes. The
// callback receives a plain snapshot after the transaction has committed
// and the cache entry has been invalidated.
func (e *Engine) RegisterCallback(fn func(change models.StatusChange)) events.Subscription {
	return e.bus.Subscribe(events.KindFacultyStatus, func(event any) {
		if change, ok := event.(models.StatusChange); ok {
			fn(change)
		}
	})
}

// HandleStatusUpdate applies an incoming presence update from a desk-unit
// status report.
func (e *Engine) HandleStatusUpdate(ctx context.Context, facultyID int64, present bool, source string) UpdateOutcome {
	return e.Apply(ctx, Update{FacultyID: facultyID, Present: present, Source: source})
}

// HandleMacStatus applies a presence update from a detailed MAC sighting,
// reconciling the stored beacon identifier when the reported MAC validates.
func (e *Engine) HandleMacStatus(ctx context.Context, facultyID int64, mac string, present bool) UpdateOutcome {
	canonical, err := models.NormalizeMAC(mac)
	if err != nil {
		return Failed(err)
	}
	return e.Apply(ctx, Update{
		FacultyID: facultyID,
		Present:   present,
		Source:    "mac_status",
		BeaconMAC: canonical,
	})
}

// Replay re-applies a deferred update, preserving its original receipt
// time. If persistence is unhealthy again the update is re-deferred.
func (e *Engine) Replay(ctx context.Context, p models.PendingStatusUpdate) UpdateOutcome {
	return e.Apply(ctx, Update{
		FacultyID:  p.FacultyID,
		Present:    p.Present,
		Source:     p.Source,
		ReceivedAt: p.ReceivedAt,
	})
}

// Apply runs the full update algorithm: per-faculty serialization, the
// persistence-health gate, a single-transaction apply with the
// always-available override, then post-commit cache invalidation and
// fan-out.
func (e *Engine) Apply(ctx context.Context, up Update) UpdateOutcome {
	if up.FacultyID <= 0 {
		return Failed(cerrors.NewValidationError("faculty id must be positive", nil))
	}
	receivedAt := up.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = e.now()
	}

	lock := e.locks.Get(up.FacultyID)
	lock.Lock()
	defer lock.Unlock()

	if !e.health.PersistenceHealthy() {
		if err := e.sleep(ctx, healthRetryWait); err != nil {
			return Failed(cerrors.NewTransientError("cancelled while waiting for persistence", err))
		}
		if !e.health.PersistenceHealthy() {
			e.pending.Defer(models.PendingStatusUpdate{
				FacultyID:  up.FacultyID,
				Present:    up.Present,
				ReceivedAt: receivedAt,
				Source:     up.Source,
			})
			logger.Infow("deferred presence update", "faculty_id", up.FacultyID, "source", up.Source)
			return Deferred("persistence unhealthy")
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxInterval = retryMaxInterval

	var lastErr error
	conflicts := 0
	for attempt := 0; attempt < maxTransientAttempts; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, bo.NextBackOff()); err != nil {
				return Failed(cerrors.NewTransientError("cancelled while retrying", err))
			}
		}

		snapshot, err := e.applyOnce(ctx, up)
		if err == nil {
			e.afterCommit(snapshot)
			return Applied(snapshot)
		}
		lastErr = err

		switch {
		case cerrors.IsConflict(err):
			conflicts++
			if conflicts > maxConflictRetries {
				return Failed(err)
			}
		case cerrors.IsTransient(err):
			// retry with backoff
		default:
			return Failed(err)
		}
	}
	return Failed(cerrors.NewTransientError("presence update retries exhausted", lastErr))
}

// applyOnce runs one transactional apply and returns the committed
// snapshot.
func (e *Engine) applyOnce(ctx context.Context, up Update) (models.Faculty, error) {
	var snapshot models.Faculty
	err := e.store.WithSession(ctx, func(s storage.Session) error {
		current, err := s.Faculty().Get(ctx, up.FacultyID)
		if err != nil {
			return err
		}

		present := up.Present
		if current.AlwaysAvailable {
			// The override blocks desk-reported absence at apply time.
			present = true
		}

		mac := ""
		if up.BeaconMAC != "" && up.BeaconMAC != current.BeaconMAC {
			mac = up.BeaconMAC
		}

		snapshot, err = s.Faculty().ApplyPresence(ctx, storage.PresenceUpdate{
			FacultyID:       up.FacultyID,
			ExpectedVersion: current.Version,
			Present:         present,
			LastSeen:        e.now(),
			InGracePeriod:   up.InGracePeriod,
			NTPSyncStatus:   up.NTPSyncStatus,
			BeaconMAC:       mac,
		})
		return err
	})
	return snapshot, err
}

// afterCommit invalidates the cache entry and fans the change out. Runs
// strictly after the transaction has returned.
func (e *Engine) afterCommit(snapshot models.Faculty) {
	e.caches.InvalidateFaculty(snapshot.ID)
	e.caches.SetFaculty(snapshot)

	timestamp := snapshot.UpdatedAt
	if snapshot.LastSeen != nil {
		timestamp = *snapshot.LastSeen
	}
	e.bus.Publish(events.KindFacultyStatus, models.StatusChange{
		FacultyID: snapshot.ID,
		Name:      snapshot.Name,
		Present:   snapshot.Present,
		Timestamp: timestamp,
	})
}

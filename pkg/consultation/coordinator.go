// Package consultation implements the consultation coordinator: request
// submission, routing to the target desk unit, response correlation, the
// status state machine, and expiry of unanswered requests.
package consultation

import (
	"context"
	"time"

	cerrors "github.com/consultease/consultease/pkg/errors"
	"github.com/consultease/consultease/pkg/events"
	"github.com/consultease/consultease/pkg/logger"
	"github.com/consultease/consultease/pkg/models"
	"github.com/consultease/consultease/pkg/storage"
	"github.com/consultease/consultease/pkg/transport"
	"github.com/consultease/consultease/pkg/wire"
)

const (
	// DefaultExpiry is how long a PENDING consultation waits for a desk
	// response before the sweep expires it.
	DefaultExpiry = 5 * time.Minute
	// DefaultSweepInterval is how often the expiry sweep runs.
	DefaultSweepInterval = 60 * time.Second
	// lookupRetryDelay is the wait before the single response-lookup retry;
	// a response can land before its submission is visible to readers.
	lookupRetryDelay = 100 * time.Millisecond
)

// Config tunes the coordinator timers.
type Config struct {
	// Expiry is the PENDING staleness window.
	Expiry time.Duration
	// SweepInterval is the gap between expiry sweeps.
	SweepInterval time.Duration
}

// DefaultConfig returns the standard timers.
func DefaultConfig() Config {
	return Config{Expiry: DefaultExpiry, SweepInterval: DefaultSweepInterval}
}

// Coordinator owns the consultation lifecycle. Create with New.
type Coordinator struct {
	cfg       Config
	store     storage.Store
	publisher transport.Publisher
	bus       *events.Bus
	msgIDs    *messageIDGenerator

	// seams for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a coordinator.
func New(cfg Config, store storage.Store, publisher transport.Publisher, bus *events.Bus) *Coordinator {
	if cfg.Expiry <= 0 {
		cfg.Expiry = DefaultExpiry
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	return &Coordinator{
		cfg:       cfg,
		store:     store,
		publisher: publisher,
		bus:       bus,
		msgIDs:    newMessageIDGenerator(time.Now()),
		now:       time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-time.After(d):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

// Submit creates a PENDING consultation, routes it to the target desk
// unit, and returns the stored snapshot.
func (c *Coordinator) Submit(ctx context.Context, studentID, facultyID int64, course, message string) (models.Consultation, error) {
	if studentID <= 0 || facultyID <= 0 {
		return models.Consultation{}, cerrors.NewValidationError("student and faculty ids must be positive", nil)
	}
	if course == "" {
		return models.Consultation{}, cerrors.NewValidationError("course code is required", nil)
	}
	sanitized, err := models.SanitizeMessage(message)
	if err != nil {
		return models.Consultation{}, err
	}

	messageID := c.msgIDs.Next()
	var snapshot models.Consultation
	var studentName string
	err = c.store.WithSession(ctx, func(s storage.Session) error {
		student, err := s.Students().Get(ctx, studentID)
		if err != nil {
			return err
		}
		studentName = student.Name
		if _, err := s.Faculty().Get(ctx, facultyID); err != nil {
			return err
		}
		snapshot, err = s.Consultations().Create(ctx, models.Consultation{
			StudentID:   studentID,
			FacultyID:   facultyID,
			CourseCode:  course,
			Message:     sanitized,
			MessageID:   messageID,
			Status:      models.StatusPending,
			RequestedAt: c.now(),
		})
		return err
	})
	if err != nil {
		return models.Consultation{}, err
	}

	c.routeToDesk(snapshot, studentName)
	c.bus.Publish(events.KindConsultation, snapshot)
	return snapshot, nil
}

// routeToDesk publishes the request payload to the faculty desk topic.
// Delivery is asynchronous; a broker outage queues the message offline.
func (c *Coordinator) routeToDesk(snapshot models.Consultation, studentName string) {
	payload, err := wire.Encode(wire.ConsultationRequest{
		MessageID:      snapshot.MessageID,
		StudentName:    studentName,
		CourseCode:     snapshot.CourseCode,
		RequestMessage: snapshot.Message,
		Timestamp:      snapshot.RequestedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		logger.Errorw("encoding consultation request", "message_id", snapshot.MessageID, "error", err)
		return
	}
	if err := c.publisher.Publish(transport.Message{
		Topic:    wire.FacultyRequestsTopic(snapshot.FacultyID),
		Payload:  payload,
		QoS:      1,
		Critical: true,
	}); err != nil {
		logger.Warnw("publishing consultation request", "message_id", snapshot.MessageID, "error", err)
	}
}

// OnResponse processes an ACKNOWLEDGE or BUSY desk-unit response for the
// given message id. Replayed responses for a consultation already in the
// target state are no-ops that emit no second notification.
func (c *Coordinator) OnResponse(ctx context.Context, facultyID int64, messageID, kind string) error {
	var target models.ConsultationStatus
	switch kind {
	case wire.ResponseAcknowledge:
		target = models.StatusAccepted
	case wire.ResponseBusy:
		target = models.StatusBusy
	default:
		return cerrors.NewValidationError("unknown response type: "+kind, nil)
	}

	existing, err := c.lookupByMessageID(ctx, messageID)
	if err != nil {
		return err
	}
	if existing.FacultyID != facultyID {
		return cerrors.NewValidationError("response faculty does not match the consultation", nil)
	}
	if existing.Status == target {
		// idempotent replay
		return nil
	}
	if !existing.Status.CanTransitionTo(target) {
		return cerrors.NewInvalidTransitionError(
			"consultation cannot move from "+string(existing.Status)+" to "+string(target), nil)
	}

	var snapshot models.Consultation
	err = c.store.WithSession(ctx, func(s storage.Session) error {
		snapshot, err = s.Consultations().Transition(ctx, existing.ID, existing.Status, target, c.now())
		return err
	})
	if err != nil {
		if cerrors.IsConflict(err) {
			// A concurrent writer got there first. Re-read: if it reached
			// the target state this replay is a no-op.
			current, lookupErr := c.lookupByMessageID(ctx, messageID)
			if lookupErr == nil && current.Status == target {
				return nil
			}
		}
		return err
	}

	c.bus.Publish(events.KindConsultation, snapshot)
	return nil
}

// lookupByMessageID fetches a consultation by correlation id, retrying
// once after a short delay before declaring the id unknown.
func (c *Coordinator) lookupByMessageID(ctx context.Context, messageID string) (models.Consultation, error) {
	existing, err := c.store.Consultations().GetByMessageID(ctx, messageID)
	if err == nil {
		return existing, nil
	}
	if !cerrors.IsNotFound(err) {
		return models.Consultation{}, err
	}
	if err := c.sleep(ctx, lookupRetryDelay); err != nil {
		return models.Consultation{}, cerrors.NewTransientError("cancelled during response lookup", err)
	}
	return c.store.Consultations().GetByMessageID(ctx, messageID)
}

// Complete moves an accepted consultation to COMPLETED.
func (c *Coordinator) Complete(ctx context.Context, id int64) (models.Consultation, error) {
	return c.transitionByID(ctx, id, models.StatusCompleted)
}

// Cancel withdraws a pending consultation on administrator action.
func (c *Coordinator) Cancel(ctx context.Context, id int64) (models.Consultation, error) {
	snapshot, err := c.transitionByID(ctx, id, models.StatusCancelled)
	if err != nil {
		return models.Consultation{}, err
	}
	c.notifyCancellation(snapshot, "cancelled by administrator")
	return snapshot, nil
}

// transitionByID applies one state-machine edge to a consultation.
func (c *Coordinator) transitionByID(ctx context.Context, id int64, target models.ConsultationStatus) (models.Consultation, error) {
	var snapshot models.Consultation
	err := c.store.WithSession(ctx, func(s storage.Session) error {
		existing, err := s.Consultations().Get(ctx, id)
		if err != nil {
			return err
		}
		if !existing.Status.CanTransitionTo(target) {
			return cerrors.NewInvalidTransitionError(
				"consultation cannot move from "+string(existing.Status)+" to "+string(target), nil)
		}
		snapshot, err = s.Consultations().Transition(ctx, id, existing.Status, target, c.now())
		return err
	})
	if err != nil {
		return models.Consultation{}, err
	}
	c.bus.Publish(events.KindConsultation, snapshot)
	return snapshot, nil
}

// ExpireStale moves PENDING consultations older than the expiry window to
// EXPIRED and notifies the desk units. Returns how many expired.
func (c *Coordinator) ExpireStale(ctx context.Context) (int, error) {
	cutoff := c.now().Add(-c.cfg.Expiry)
	stale, err := c.store.Consultations().ListStalePending(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, item := range stale {
		var snapshot models.Consultation
		err := c.store.WithSession(ctx, func(s storage.Session) error {
			var err error
			snapshot, err = s.Consultations().Transition(ctx, item.ID, models.StatusPending, models.StatusExpired, c.now())
			return err
		})
		if err != nil {
			// A response may have landed between the list and the sweep;
			// that consultation is no longer stale.
			if cerrors.IsConflict(err) || cerrors.IsNotFound(err) {
				continue
			}
			return expired, err
		}
		expired++
		c.notifyCancellation(snapshot, "expired unanswered")
		c.bus.Publish(events.KindConsultation, snapshot)
	}
	return expired, nil
}

// notifyCancellation tells the desk unit and the operator channel that a
// consultation is no longer live.
func (c *Coordinator) notifyCancellation(snapshot models.Consultation, detail string) {
	note := wire.Notification{
		Kind:      wire.NotificationConsultationCancelled,
		MessageID: snapshot.MessageID,
		FacultyID: snapshot.FacultyID,
		Detail:    detail,
		Timestamp: c.now().UTC().Format(time.RFC3339),
	}
	payload, err := wire.Encode(note)
	if err != nil {
		logger.Errorw("encoding cancellation notification", "message_id", snapshot.MessageID, "error", err)
		return
	}

	if err := c.publisher.Publish(transport.Message{
		Topic:    wire.FacultyRequestsTopic(snapshot.FacultyID),
		Payload:  payload,
		QoS:      1,
		Critical: true,
	}); err != nil {
		logger.Warnw("publishing desk cancellation", "message_id", snapshot.MessageID, "error", err)
	}
	if err := c.publisher.Publish(transport.Message{
		Topic:   wire.SystemNotificationsTopic,
		Payload: payload,
		QoS:     1,
	}); err != nil {
		logger.Warnw("publishing system cancellation", "message_id", snapshot.MessageID, "error", err)
	}
	c.bus.Publish(events.KindSystemNotification, note)
}

// SweepLoop runs ExpireStale on the configured interval until ctx is
// cancelled.
func (c *Coordinator) SweepLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := c.ExpireStale(ctx); err != nil {
				logger.Warnw("expiry sweep failed", "error", err)
			} else if n > 0 {
				logger.Infow("expired stale consultations", "count", n)
			}
		}
	}
}

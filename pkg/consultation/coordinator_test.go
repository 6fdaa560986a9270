package consultation

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/consultease/consultease/pkg/errors"
	"github.com/consultease/consultease/pkg/events"
	"github.com/consultease/consultease/pkg/models"
	"github.com/consultease/consultease/pkg/storage"
	"github.com/consultease/consultease/pkg/transport"
	"github.com/consultease/consultease/pkg/wire"
)

// memStore is an in-memory storage.Store covering the operations the
// coordinator exercises.
type memStore struct {
	mu            sync.Mutex
	students      map[int64]models.Student
	faculty       map[int64]models.Faculty
	consultations map[int64]models.Consultation
	nextID        int64
}

func newMemStore() *memStore {
	return &memStore{
		students:      map[int64]models.Student{7: {ID: 7, Name: "Ana Lim", RFIDUID: "04AABB"}},
		faculty:       map[int64]models.Faculty{1: {ID: 1, Name: "Dr. Reyes"}},
		consultations: make(map[int64]models.Consultation),
	}
}

func (s *memStore) Faculty() storage.FacultyStore           { return &memFaculty{s} }
func (s *memStore) Students() storage.StudentStore          { return &memStudents{s} }
func (s *memStore) Consultations() storage.ConsultationStore { return &memConsultations{s} }
func (*memStore) Admins() storage.AdminStore                { return nil }
func (*memStore) Ping(context.Context) error                { return nil }
func (*memStore) Restart(context.Context) error             { return nil }
func (*memStore) Close() error                              { return nil }

func (s *memStore) WithSession(_ context.Context, fn func(storage.Session) error) error {
	return fn(&memSession{s})
}

type memSession struct{ s *memStore }

func (m *memSession) Faculty() storage.FacultyStore            { return &memFaculty{m.s} }
func (m *memSession) Students() storage.StudentStore           { return &memStudents{m.s} }
func (m *memSession) Consultations() storage.ConsultationStore { return &memConsultations{m.s} }
func (*memSession) Admins() storage.AdminStore                 { return nil }

type memStudents struct{ s *memStore }

func (m *memStudents) Get(_ context.Context, id int64) (models.Student, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	student, ok := m.s.students[id]
	if !ok {
		return models.Student{}, cerrors.NewNotFoundError("student not found", nil)
	}
	return student, nil
}

func (*memStudents) Upsert(context.Context, models.Student) (models.Student, error) {
	return models.Student{}, nil
}
func (*memStudents) GetByRFID(context.Context, string) (models.Student, error) {
	return models.Student{}, nil
}
func (*memStudents) List(context.Context) ([]models.Student, error) { return nil, nil }
func (*memStudents) Delete(context.Context, int64) error            { return nil }

type memFaculty struct{ s *memStore }

func (m *memFaculty) Get(_ context.Context, id int64) (models.Faculty, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	f, ok := m.s.faculty[id]
	if !ok {
		return models.Faculty{}, cerrors.NewNotFoundError("faculty not found", nil)
	}
	return f, nil
}

func (*memFaculty) Create(context.Context, models.Faculty) (models.Faculty, error) {
	return models.Faculty{}, nil
}
func (*memFaculty) GetByBeaconMAC(context.Context, string) (models.Faculty, error) {
	return models.Faculty{}, nil
}
func (*memFaculty) List(context.Context, storage.FacultyFilter) ([]models.Faculty, error) {
	return nil, nil
}
func (*memFaculty) Update(context.Context, models.Faculty) (models.Faculty, error) {
	return models.Faculty{}, nil
}
func (*memFaculty) ApplyPresence(context.Context, storage.PresenceUpdate) (models.Faculty, error) {
	return models.Faculty{}, nil
}
func (*memFaculty) SetAlwaysAvailable(context.Context, int64, bool) (models.Faculty, error) {
	return models.Faculty{}, nil
}
func (*memFaculty) Delete(context.Context, int64) error { return nil }

type memConsultations struct{ s *memStore }

func (m *memConsultations) Create(_ context.Context, c models.Consultation) (models.Consultation, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.nextID++
	c.ID = m.s.nextID
	m.s.consultations[c.ID] = c
	return c, nil
}

func (m *memConsultations) Get(_ context.Context, id int64) (models.Consultation, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c, ok := m.s.consultations[id]
	if !ok {
		return models.Consultation{}, cerrors.NewNotFoundError("consultation not found", nil)
	}
	return c, nil
}

func (m *memConsultations) GetByMessageID(_ context.Context, messageID string) (models.Consultation, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, c := range m.s.consultations {
		if c.MessageID == messageID {
			return c, nil
		}
	}
	return models.Consultation{}, cerrors.NewNotFoundError("consultation not found", nil)
}

func (*memConsultations) List(context.Context, storage.ConsultationFilter) ([]models.Consultation, error) {
	return nil, nil
}

func (m *memConsultations) Transition(_ context.Context, id int64, from, to models.ConsultationStatus, at time.Time) (models.Consultation, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c, ok := m.s.consultations[id]
	if !ok {
		return models.Consultation{}, cerrors.NewNotFoundError("consultation not found", nil)
	}
	if c.Status != from {
		return models.Consultation{}, cerrors.NewConflictError("status changed concurrently", nil)
	}
	c.Status = to
	switch to {
	case models.StatusAccepted:
		c.AcceptedAt = &at
	case models.StatusCompleted:
		c.CompletedAt = &at
	}
	m.s.consultations[id] = c
	return c, nil
}

func (m *memConsultations) ListStalePending(_ context.Context, cutoff time.Time) ([]models.Consultation, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []models.Consultation
	for _, c := range m.s.consultations {
		if c.Status == models.StatusPending && !c.RequestedAt.After(cutoff) {
			out = append(out, c)
		}
	}
	return out, nil
}

// fakePublisher records published messages.
type fakePublisher struct {
	mu       sync.Mutex
	messages []transport.Message
}

func (p *fakePublisher) Publish(msg transport.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

func (p *fakePublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	topics := make([]string, len(p.messages))
	for i, m := range p.messages {
		topics[i] = m.Topic
	}
	return topics
}

func newTestCoordinator(store *memStore) (*Coordinator, *fakePublisher, *events.Bus) {
	publisher := &fakePublisher{}
	bus := events.New()
	coord := New(DefaultConfig(), store, publisher, bus)
	coord.sleep = func(context.Context, time.Duration) error { return nil }
	return coord, publisher, bus
}

func TestSubmitCreatesPendingAndRoutes(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	coord, publisher, _ := newTestCoordinator(store)

	snapshot, err := coord.Submit(t.Context(), 7, 1, "CS101", "help with recursion")
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, snapshot.Status)
	assert.NotEmpty(t, snapshot.MessageID)
	assert.Equal(t, "help with recursion", snapshot.Message)

	topics := publisher.topics()
	require.Len(t, topics, 1)
	assert.Equal(t, wire.FacultyRequestsTopic(1), topics[0])

	var req wire.ConsultationRequest
	require.NoError(t, wire.Decode(publisher.messages[0].Payload, &req))
	assert.Equal(t, snapshot.MessageID, req.MessageID)
	assert.Equal(t, "Ana Lim", req.StudentName)
	assert.Equal(t, "CS101", req.CourseCode)
	assert.True(t, publisher.messages[0].Critical)
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	coord, _, _ := newTestCoordinator(store)

	_, err := coord.Submit(t.Context(), 0, 1, "CS101", "help")
	assert.True(t, cerrors.IsValidation(err))

	_, err = coord.Submit(t.Context(), 7, 1, "", "help")
	assert.True(t, cerrors.IsValidation(err))

	_, err = coord.Submit(t.Context(), 7, 1, "CS101", strings.Repeat("x", 600))
	assert.True(t, cerrors.IsValidation(err))

	_, err = coord.Submit(t.Context(), 99, 1, "CS101", "help")
	assert.True(t, cerrors.IsNotFound(err))
}

func TestAcknowledgeTransitionsToAccepted(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	coord, _, bus := newTestCoordinator(store)

	var notified []models.Consultation
	bus.Subscribe(events.KindConsultation, func(event any) {
		notified = append(notified, event.(models.Consultation))
	})

	snapshot, err := coord.Submit(t.Context(), 7, 1, "CS101", "help")
	require.NoError(t, err)

	require.NoError(t, coord.OnResponse(t.Context(), 1, snapshot.MessageID, wire.ResponseAcknowledge))

	updated, err := store.Consultations().Get(t.Context(), snapshot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, updated.Status)
	require.NotNil(t, updated.AcceptedAt)

	// submit + accept
	assert.Len(t, notified, 2)
}

func TestBusyTransition(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	coord, _, _ := newTestCoordinator(store)

	snapshot, err := coord.Submit(t.Context(), 7, 1, "CS101", "help")
	require.NoError(t, err)

	require.NoError(t, coord.OnResponse(t.Context(), 1, snapshot.MessageID, wire.ResponseBusy))

	updated, err := store.Consultations().Get(t.Context(), snapshot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBusy, updated.Status)
	assert.Nil(t, updated.AcceptedAt)
}

func TestResponseIdempotentReplay(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	coord, _, bus := newTestCoordinator(store)

	notifications := 0
	bus.Subscribe(events.KindConsultation, func(any) { notifications++ })

	snapshot, err := coord.Submit(t.Context(), 7, 1, "CS101", "help")
	require.NoError(t, err)

	require.NoError(t, coord.OnResponse(t.Context(), 1, snapshot.MessageID, wire.ResponseAcknowledge))
	afterFirst := notifications

	// Replay: same id, same kind. Safe no-op, no second notification.
	require.NoError(t, coord.OnResponse(t.Context(), 1, snapshot.MessageID, wire.ResponseAcknowledge))
	assert.Equal(t, afterFirst, notifications)

	updated, err := store.Consultations().Get(t.Context(), snapshot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, updated.Status)
}

func TestResponseFromTerminalStateIsInvalid(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	coord, _, _ := newTestCoordinator(store)

	snapshot, err := coord.Submit(t.Context(), 7, 1, "CS101", "help")
	require.NoError(t, err)
	require.NoError(t, coord.OnResponse(t.Context(), 1, snapshot.MessageID, wire.ResponseBusy))

	err = coord.OnResponse(t.Context(), 1, snapshot.MessageID, wire.ResponseAcknowledge)
	assert.True(t, cerrors.IsInvalidTransition(err))
}

func TestResponseUnknownMessageID(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	coord, _, _ := newTestCoordinator(store)

	retries := 0
	coord.sleep = func(context.Context, time.Duration) error {
		retries++
		return nil
	}

	err := coord.OnResponse(t.Context(), 1, "does-not-exist", wire.ResponseAcknowledge)
	assert.True(t, cerrors.IsNotFound(err))
	assert.Equal(t, 1, retries, "lookup retries exactly once")
}

func TestResponseVisibleOnRetry(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	coord, _, _ := newTestCoordinator(store)

	// The consultation appears between the first lookup and the retry.
	coord.sleep = func(context.Context, time.Duration) error {
		_, err := store.Consultations().Create(context.Background(), models.Consultation{
			StudentID: 7, FacultyID: 1, MessageID: "late-1",
			Status: models.StatusPending, RequestedAt: time.Now(),
		})
		return err
	}

	require.NoError(t, coord.OnResponse(t.Context(), 1, "late-1", wire.ResponseAcknowledge))
}

func TestCompleteOnlyFromAccepted(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	coord, _, _ := newTestCoordinator(store)

	snapshot, err := coord.Submit(t.Context(), 7, 1, "CS101", "help")
	require.NoError(t, err)

	_, err = coord.Complete(t.Context(), snapshot.ID)
	assert.True(t, cerrors.IsInvalidTransition(err), "PENDING cannot complete directly")

	require.NoError(t, coord.OnResponse(t.Context(), 1, snapshot.MessageID, wire.ResponseAcknowledge))
	done, err := coord.Complete(t.Context(), snapshot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
}

func TestExpireStale(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	coord, publisher, _ := newTestCoordinator(store)

	snapshot, err := coord.Submit(t.Context(), 7, 1, "CS101", "help")
	require.NoError(t, err)

	// Advance the clock past the expiry window.
	coord.now = func() time.Time { return time.Now().Add(6 * time.Minute) }

	expired, err := coord.ExpireStale(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	updated, err := store.Consultations().Get(t.Context(), snapshot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, updated.Status)

	// Desk cancellation plus system notification follow the original route.
	topics := publisher.topics()
	assert.Contains(t, topics, wire.FacultyRequestsTopic(1))
	assert.Contains(t, topics, wire.SystemNotificationsTopic)
}

func TestExpireAtExactBoundary(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	coord, _, _ := newTestCoordinator(store)

	base := time.Now()
	coord.now = func() time.Time { return base }
	snapshot, err := coord.Submit(t.Context(), 7, 1, "CS101", "help")
	require.NoError(t, err)

	// Exactly expiry_sec old: still PENDING, expires on the next sweep.
	coord.now = func() time.Time { return base.Add(DefaultExpiry) }
	expired, err := coord.ExpireStale(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	updated, err := store.Consultations().Get(t.Context(), snapshot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, updated.Status)
}

func TestMessageIDsMonotonic(t *testing.T) {
	t.Parallel()

	gen := newMessageIDGenerator(time.Now())
	first := gen.Next()
	second := gen.Next()
	assert.NotEqual(t, first, second)
	assert.True(t, strings.HasPrefix(first, strings.Split(second, "-")[0]))
}

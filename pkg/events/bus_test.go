package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultease/consultease/pkg/models"
)

func TestBusDeliversToAllSubscribers(t *testing.T) {
	t.Parallel()

	bus := New()
	var got []int64
	var mu sync.Mutex
	for range 3 {
		bus.Subscribe(KindFacultyStatus, func(event any) {
			change, ok := event.(models.StatusChange)
			require.True(t, ok)
			mu.Lock()
			got = append(got, change.FacultyID)
			mu.Unlock()
		})
	}

	bus.Publish(KindFacultyStatus, models.StatusChange{FacultyID: 7, Present: true})

	assert.Equal(t, []int64{7, 7, 7}, got)
}

func TestBusPanicInOneSubscriberDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	bus := New()
	bus.Subscribe(KindConsultation, func(any) { panic("boom") })
	fired := 0
	bus.Subscribe(KindConsultation, func(any) { fired++ })

	assert.NotPanics(t, func() {
		bus.Publish(KindConsultation, models.Consultation{ID: 1})
	})
	assert.Equal(t, 1, fired)
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	bus := New()
	fired := 0
	sub := bus.Subscribe(KindSystemNotification, func(any) { fired++ })

	bus.Publish(KindSystemNotification, "one")
	bus.Unsubscribe(sub)
	bus.Publish(KindSystemNotification, "two")

	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, bus.SubscriberCount(KindSystemNotification))
}

func TestBusKindsAreIsolated(t *testing.T) {
	t.Parallel()

	bus := New()
	fired := 0
	bus.Subscribe(KindFacultyStatus, func(any) { fired++ })

	bus.Publish(KindConsultation, models.Consultation{ID: 1})

	assert.Equal(t, 0, fired)
}

func TestBusConcurrentSubscribePublish(t *testing.T) {
	t.Parallel()

	bus := New()
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			bus.Subscribe(KindFacultyStatus, func(any) {})
		}()
		go func() {
			defer wg.Done()
			bus.Publish(KindFacultyStatus, models.StatusChange{FacultyID: 1})
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, bus.SubscriberCount(KindFacultyStatus))
}

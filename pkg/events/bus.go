// Package events implements the subscriber fan-out registry that delivers
// status and consultation events to external collaborators (operator UI,
// logging sinks, notification bridges).
//
// Dispatch is synchronous to the publisher, but the subscriber list is
// copied and the registry lock released before any callback runs, so
// callbacks may block without holding up registration. A panic in one
// callback is recovered and logged; the remaining callbacks still fire.
package events

import (
	"sync"

	"github.com/consultease/consultease/pkg/logger"
)

// Kind names an event stream subscribers can attach to.
type Kind string

const (
	// KindFacultyStatus carries models.StatusChange snapshots after each
	// committed presence update.
	KindFacultyStatus Kind = "faculty_status"
	// KindConsultation carries models.Consultation snapshots after each
	// lifecycle transition.
	KindConsultation Kind = "consultation"
	// KindSystemNotification carries wire.Notification values mirrored to
	// the system MQTT channel.
	KindSystemNotification Kind = "system_notification"
)

// Callback receives one immutable event snapshot.
type Callback func(event any)

// Subscription identifies a registered callback for later removal.
type Subscription struct {
	kind Kind
	id   int64
}

// Bus is the callback registry. The zero value is not usable; use New.
type Bus struct {
	mu     sync.RWMutex
	nextID int64
	subs   map[Kind]map[int64]Callback
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[Kind]map[int64]Callback)}
}

// Subscribe registers fn for events of the given kind.
func (b *Bus) Subscribe(kind Kind, fn Callback) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	if b.subs[kind] == nil {
		b.subs[kind] = make(map[int64]Callback)
	}
	b.subs[kind][b.nextID] = fn
	return Subscription{kind: kind, id: b.nextID}
}

// Unsubscribe removes a previously registered callback. Unknown
// subscriptions are ignored.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if m := b.subs[sub.kind]; m != nil {
		delete(m, sub.id)
	}
}

// Publish delivers event to every subscriber of kind; delivery order is
// not guaranteed. The event must be a plain value snapshot; subscribers
// may retain it indefinitely.
func (b *Bus) Publish(kind Kind, event any) {
	b.mu.RLock()
	callbacks := make([]Callback, 0, len(b.subs[kind]))
	for _, fn := range b.subs[kind] {
		callbacks = append(callbacks, fn)
	}
	b.mu.RUnlock()

	for _, fn := range callbacks {
		dispatch(kind, fn, event)
	}
}

// dispatch runs one callback with panic isolation.
func dispatch(kind Kind, fn Callback, event any) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("event subscriber panicked", "kind", string(kind), "panic", r)
		}
	}()
	fn(event)
}

// SubscriberCount returns the number of callbacks registered for kind.
func (b *Bus) SubscriberCount(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[kind])
}

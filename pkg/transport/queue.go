package transport

import "sync"

// offlineQueue is a bounded FIFO buffer for messages that could not reach
// the broker. When full, pushing evicts the oldest entry so recent traffic
// survives an extended outage.
type offlineQueue struct {
	mu       sync.Mutex
	capacity int
	items    []Message
}

func newOfflineQueue(capacity int) *offlineQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &offlineQueue{capacity: capacity}
}

// Push appends msg. If the queue was full it evicts and returns the oldest
// entry with ok=true.
func (q *offlineQueue) Push(msg Message) (evicted Message, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		evicted, ok = q.items[0], true
		q.items = q.items[1:]
	}
	q.items = append(q.items, msg)
	return evicted, ok
}

// Pop removes and returns the oldest entry.
func (q *offlineQueue) Pop() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Message{}, false
	}
	msg := q.items[0]
	q.items = q.items[1:]
	return msg, true
}

// Len returns the number of queued messages.
func (q *offlineQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

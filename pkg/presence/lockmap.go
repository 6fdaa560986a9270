package presence

import "sync"

// lockMap hands out one mutex per faculty id so updates for a single
// faculty serialize while different faculty proceed in parallel.
//
// Lock creation uses the double-checked pattern: the read path is a shared
// RLock, and the write path re-checks under the exclusive lock so two
// concurrent first-time accesses never produce two mutexes for one id.
type lockMap struct {
	mu    sync.RWMutex
	locks map[int64]*sync.Mutex
}

func newLockMap() *lockMap {
	return &lockMap{locks: make(map[int64]*sync.Mutex)}
}

// Get returns the mutex for id, creating it on first access.
func (m *lockMap) Get(id int64) *sync.Mutex {
	m.mu.RLock()
	lock, ok := m.locks[id]
	m.mu.RUnlock()
	if ok {
		return lock
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if lock, ok = m.locks[id]; ok {
		return lock
	}
	lock = &sync.Mutex{}
	m.locks[id] = lock
	return lock
}

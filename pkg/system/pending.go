package system

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/consultease/consultease/pkg/logger"
	"github.com/consultease/consultease/pkg/models"
)

// ReplayFunc re-applies one deferred presence update. A nil error means
// the update was consumed (applied or re-deferred); an error drops it.
type ReplayFunc func(ctx context.Context, update models.PendingStatusUpdate) error

// pendingBuffer holds deferred presence updates in receipt order.
type pendingBuffer struct {
	mu      sync.Mutex
	updates []models.PendingStatusUpdate
}

func newPendingBuffer() *pendingBuffer {
	return &pendingBuffer{}
}

func (b *pendingBuffer) push(u models.PendingStatusUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates = append(b.updates, u)
}

// drain removes and returns all buffered updates in receipt order.
func (b *pendingBuffer) drain() []models.PendingStatusUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.updates
	b.updates = nil
	return out
}

func (b *pendingBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.updates)
}

// DegradedMode couples the process-wide persistence-health flag with the
// pending-update buffer. It satisfies the presence engine's HealthChecker
// and PendingSink contracts and the storage monitor's HealthSink.
type DegradedMode struct {
	healthy atomic.Bool
	buffer  *pendingBuffer
	replay  ReplayFunc

	mu sync.Mutex

	now func() time.Time
}

// NewDegradedMode creates the flag-and-buffer pair. The flag starts true;
// the storage monitor flips it on its first failed probe.
func NewDegradedMode() *DegradedMode {
	d := &DegradedMode{buffer: newPendingBuffer(), now: time.Now}
	d.healthy.Store(true)
	return d
}

// SetReplayFunc installs the function used to re-apply buffered updates
// when persistence recovers. Must be set before the first recovery.
func (d *DegradedMode) SetReplayFunc(fn ReplayFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.replay = fn
}

// PersistenceHealthy reports the process-wide persistence-health flag.
func (d *DegradedMode) PersistenceHealthy() bool {
	return d.healthy.Load()
}

// SetPersistenceHealthy records a health transition. A recovery replays
// the pending buffer in receipt order, discarding stale entries.
func (d *DegradedMode) SetPersistenceHealthy(healthy bool) {
	was := d.healthy.Swap(healthy)
	if was == healthy {
		return
	}
	if !healthy {
		logger.Warn("persistence marked unhealthy; presence updates will defer")
		return
	}
	logger.Info("persistence recovered; replaying pending updates")
	go d.replayPending(context.Background())
}

// Defer buffers one presence update received while persistence was
// unhealthy.
func (d *DegradedMode) Defer(update models.PendingStatusUpdate) {
	d.buffer.push(update)
}

// PendingCount returns the number of buffered updates.
func (d *DegradedMode) PendingCount() int {
	return d.buffer.len()
}

// replayPending drains the buffer, dropping entries older than the
// staleness window and re-applying the rest in receipt order.
func (d *DegradedMode) replayPending(ctx context.Context) {
	d.mu.Lock()
	replay := d.replay
	d.mu.Unlock()
	if replay == nil {
		return
	}

	updates := d.buffer.drain()
	applied, discarded := 0, 0
	for _, update := range updates {
		if update.Stale(d.now()) {
			discarded++
			continue
		}
		if err := replay(ctx, update); err != nil {
			logger.Warnw("replay of deferred update failed",
				"faculty_id", update.FacultyID, "error", err)
			continue
		}
		applied++
	}
	if applied > 0 || discarded > 0 {
		logger.Infow("pending update replay finished", "applied", applied, "discarded", discarded)
	}
}

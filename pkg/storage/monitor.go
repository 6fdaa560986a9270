package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/consultease/consultease/pkg/logger"
)

// Default health monitor policy.
const (
	// DefaultProbeInterval is how often the monitor probes liveness.
	DefaultProbeInterval = 120 * time.Second
	// DefaultProbeTimeout bounds a single liveness probe.
	DefaultProbeTimeout = 5 * time.Second
	// DefaultFailureThreshold is the consecutive-failure count required
	// before a restart is considered.
	DefaultFailureThreshold = 5
	// DefaultRestartCooldown is the minimum gap between restarts.
	DefaultRestartCooldown = 10 * time.Minute
	// DefaultSuccessGrace is the minimum time since the last successful
	// probe before a restart is considered.
	DefaultSuccessGrace = 5 * time.Minute
)

// HealthSink receives transitions of the persistence-health flag.
type HealthSink interface {
	// SetPersistenceHealthy is called on every health transition. It must
	// not block; the monitor invokes it from its probe loop.
	SetPersistenceHealthy(healthy bool)
}

// MonitorConfig tunes the health monitor policy.
type MonitorConfig struct {
	// ProbeInterval is how often to probe. Must be > 0.
	ProbeInterval time.Duration
	// ProbeTimeout bounds each probe. Must be > 0.
	ProbeTimeout time.Duration
	// FailureThreshold is the consecutive-failure count that arms a restart.
	FailureThreshold int
	// RestartCooldown is the minimum gap between restart attempts.
	RestartCooldown time.Duration
	// SuccessGrace is the minimum time since the last successful probe
	// before a restart fires.
	SuccessGrace time.Duration
}

// DefaultMonitorConfig returns the standard probe and restart policy.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		ProbeInterval:    DefaultProbeInterval,
		ProbeTimeout:     DefaultProbeTimeout,
		FailureThreshold: DefaultFailureThreshold,
		RestartCooldown:  DefaultRestartCooldown,
		SuccessGrace:     DefaultSuccessGrace,
	}
}

// MonitorStatus is a snapshot of the monitor's view of the store.
type MonitorStatus struct {
	// Healthy is true when the most recent probe succeeded.
	Healthy bool `json:"healthy"`
	// ConsecutiveFailures counts probes failed since the last success.
	ConsecutiveFailures int `json:"consecutive_failures"`
	// LastSuccess is when a probe last succeeded. Zero if never.
	LastSuccess time.Time `json:"last_success,omitempty"`
	// LastRestart is when the store was last restarted. Zero if never.
	LastRestart time.Time `json:"last_restart,omitempty"`
	// Restarts counts restarts performed over the monitor's lifetime.
	Restarts int `json:"restarts"`
}

// Monitor probes store liveness in the background and restarts the store
// when the failure policy is met. A restart fires only when the consecutive
// failure count reaches the threshold, the cooldown since the previous
// restart has elapsed, and no probe has succeeded within the grace window.
type Monitor struct {
	store Store
	cfg   MonitorConfig
	sink  HealthSink

	// now is a clock seam for tests.
	now func() time.Time

	mu                  sync.Mutex
	healthy             bool
	consecutiveFailures int
	lastSuccess         time.Time
	lastRestart         time.Time
	restarts            int
	started             bool
	stopped             bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a health monitor for the given store. The sink may be
// nil when no component needs health transitions.
func NewMonitor(store Store, cfg MonitorConfig, sink HealthSink) (*Monitor, error) {
	if cfg.ProbeInterval <= 0 {
		return nil, fmt.Errorf("probe interval must be > 0, got %v", cfg.ProbeInterval)
	}
	if cfg.ProbeTimeout <= 0 {
		return nil, fmt.Errorf("probe timeout must be > 0, got %v", cfg.ProbeTimeout)
	}
	if cfg.FailureThreshold < 1 {
		return nil, fmt.Errorf("failure threshold must be >= 1, got %d", cfg.FailureThreshold)
	}
	return &Monitor{
		store: store,
		cfg:   cfg,
		sink:  sink,
		now:   time.Now,
		// The store starts healthy; the first probe corrects this if not.
		healthy: true,
	}, nil
}

// Start begins probing in the background. The monitor respects the parent
// context: cancelling it stops the probe loop. A stopped monitor cannot be
// restarted; create a new one.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return fmt.Errorf("monitor has been stopped and cannot be restarted")
	}
	if m.started {
		return fmt.Errorf("monitor already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.started = true

	logger.Infow("starting persistence health monitor",
		"interval", m.cfg.ProbeInterval,
		"failure_threshold", m.cfg.FailureThreshold)

	m.wg.Add(1)
	go m.run(loopCtx)

	return nil
}

// Stop halts probing and waits for the loop to exit.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return fmt.Errorf("monitor not started")
	}
	m.cancel()
	m.started = false
	m.stopped = true
	m.mu.Unlock()

	m.wg.Wait()
	logger.Info("persistence health monitor stopped")
	return nil
}

// Healthy reports whether the most recent probe succeeded.
func (m *Monitor) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

// Status returns a snapshot of the monitor state.
func (m *Monitor) Status() MonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MonitorStatus{
		Healthy:             m.healthy,
		ConsecutiveFailures: m.consecutiveFailures,
		LastSuccess:         m.lastSuccess,
		LastRestart:         m.lastRestart,
		Restarts:            m.restarts,
	}
}

// run is the probe loop. It probes once immediately, then on the interval.
func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	m.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Probe performs a single liveness check and applies the restart policy.
// Exported so tests and administrative tooling can force a check without
// waiting for the interval.
func (m *Monitor) Probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	err := m.store.Ping(probeCtx)
	cancel()

	if err == nil {
		m.recordSuccess()
		return
	}
	if ctx.Err() != nil {
		// Shutdown in progress; do not count the aborted probe.
		return
	}
	m.recordFailure(ctx, err)
}

func (m *Monitor) recordSuccess() {
	m.mu.Lock()
	m.consecutiveFailures = 0
	m.lastSuccess = m.now()
	recovered := !m.healthy
	m.healthy = true
	m.mu.Unlock()

	if recovered {
		logger.Info("persistence probe succeeded, store healthy again")
		m.notify(true)
	}
}

func (m *Monitor) recordFailure(ctx context.Context, err error) {
	now := m.now()

	m.mu.Lock()
	m.consecutiveFailures++
	failures := m.consecutiveFailures
	degraded := m.healthy
	m.healthy = false

	restart := failures >= m.cfg.FailureThreshold &&
		now.Sub(m.lastRestart) >= m.cfg.RestartCooldown &&
		now.Sub(m.lastSuccess) >= m.cfg.SuccessGrace
	if restart {
		m.lastRestart = now
		m.restarts++
	}
	m.mu.Unlock()

	logger.Warnw("persistence probe failed",
		"error", err,
		"consecutive_failures", failures)

	if degraded {
		m.notify(false)
	}
	if !restart {
		return
	}

	logger.Warnw("restarting persistence store", "consecutive_failures", failures)
	if err := m.store.Restart(ctx); err != nil {
		logger.Errorw("persistence restart failed", "error", err)
		return
	}

	m.mu.Lock()
	m.consecutiveFailures = 0
	m.mu.Unlock()
	logger.Info("persistence store restarted")

	// Verify the rebuilt pool right away rather than waiting a full
	// interval to clear the degraded flag.
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()
	if err := m.store.Ping(probeCtx); err == nil {
		m.recordSuccess()
	}
}

func (m *Monitor) notify(healthy bool) {
	if m.sink != nil {
		m.sink.SetPersistenceHealthy(healthy)
	}
}

// Package system implements the service coordinator: dependency-ordered
// startup and shutdown, periodic health probing with bounded restarts,
// and the process-wide persistence-health flag with its pending-update
// buffer for degraded operation.
package system

import (
	"context"
	"sort"
	"sync"
	"time"

	cerrors "github.com/consultease/consultease/pkg/errors"
	"github.com/consultease/consultease/pkg/logger"
)

// Default health and restart policy.
const (
	// DefaultProbeInterval is how often service health is probed.
	DefaultProbeInterval = 30 * time.Second
	// DefaultRestartBudget caps restarts per service.
	DefaultRestartBudget = 3
	// restartCooldownBase seeds the exponential restart cooldown.
	restartCooldownBase = 5 * time.Second
	// stopTimeout bounds one service Stop call during shutdown.
	stopTimeout = 30 * time.Second
)

// Service is one managed component of the process.
type Service interface {
	// Name identifies the service; must be unique within the coordinator.
	Name() string
	// Start brings the service up. It must return once the service is
	// serving or with an error.
	Start(ctx context.Context) error
	// Stop shuts the service down, letting in-flight work complete.
	Stop(ctx context.Context) error
	// Healthy returns nil when the service is functioning.
	Healthy(ctx context.Context) error
}

// State is the coordinator's view of one service.
type State string

const (
	// StateStopped means the service has not started or was shut down.
	StateStopped State = "stopped"
	// StateRunning means the service started and its last probe passed.
	StateRunning State = "running"
	// StateDegraded means a probe failed and a restart is pending or a
	// dependency is down.
	StateDegraded State = "degraded"
	// StateFailed means the restart budget is exhausted; the service
	// stays stopped.
	StateFailed State = "failed"
)

// ServiceStatus is a snapshot of one managed service.
type ServiceStatus struct {
	Name     string `json:"name"`
	State    State  `json:"state"`
	Restarts int    `json:"restarts"`
	// LastError is the most recent probe or restart error, if any.
	LastError string `json:"last_error,omitempty"`
}

// managed is the per-service bookkeeping record.
type managed struct {
	service   Service
	deps      []string
	state     State
	restarts  int
	lastError error
	// cooldownUntil blocks restart attempts until it passes.
	cooldownUntil time.Time
}

// Config tunes the coordinator.
type Config struct {
	// ProbeInterval is the gap between health sweeps.
	ProbeInterval time.Duration
	// RestartBudget caps restarts per service; exceeding it is fatal for
	// that service.
	RestartBudget int
}

// DefaultConfig returns the standard policy.
func DefaultConfig() Config {
	return Config{ProbeInterval: DefaultProbeInterval, RestartBudget: DefaultRestartBudget}
}

// Coordinator owns service lifecycle. Create with New, Register services,
// then Start.
type Coordinator struct {
	cfg Config

	mu       sync.Mutex
	services map[string]*managed
	order    []string // topological start order, computed by Start
	started  bool

	probeCancel context.CancelFunc
	probeDone   chan struct{}

	now func() time.Time
}

// New creates a coordinator.
func New(cfg Config) *Coordinator {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}
	if cfg.RestartBudget <= 0 {
		cfg.RestartBudget = DefaultRestartBudget
	}
	return &Coordinator{
		cfg:      cfg,
		services: make(map[string]*managed),
		now:      time.Now,
	}
}

// Register adds a service with its dependencies. All dependencies must be
// registered before Start runs; registration after Start is an error.
func (c *Coordinator) Register(svc Service, deps ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return cerrors.NewFatalError("cannot register after start", nil)
	}
	name := svc.Name()
	if _, exists := c.services[name]; exists {
		return cerrors.NewValidationError("service already registered: "+name, nil)
	}
	c.services[name] = &managed{service: svc, deps: deps, state: StateStopped}
	return nil
}

// Start computes the dependency order and starts every service, leaves
// first. A start failure stops the already-started services in reverse
// and returns the error.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return cerrors.NewFatalError("coordinator already started", nil)
	}
	order, err := c.topoOrder()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.order = order
	c.started = true
	c.mu.Unlock()

	var startedNames []string
	for _, name := range order {
		entry := c.entry(name)
		logger.Infow("starting service", "service", name)
		if err := entry.service.Start(ctx); err != nil {
			logger.Errorw("service failed to start", "service", name, "error", err)
			c.stopServices(ctx, startedNames)
			c.mu.Lock()
			c.started = false
			c.mu.Unlock()
			return cerrors.NewFatalError("starting service "+name, err)
		}
		c.mu.Lock()
		entry.state = StateRunning
		c.mu.Unlock()
		startedNames = append(startedNames, name)
	}

	probeCtx, cancel := context.WithCancel(context.Background())
	c.probeCancel = cancel
	c.probeDone = make(chan struct{})
	go c.probeLoop(probeCtx)
	return nil
}

// Stop shuts every service down in reverse start order.
func (c *Coordinator) Stop(ctx context.Context) {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	order := c.order
	c.mu.Unlock()

	if c.probeCancel != nil {
		c.probeCancel()
		<-c.probeDone
	}
	c.stopServices(ctx, order)
}

// stopServices stops the named services in reverse order.
func (c *Coordinator) stopServices(ctx context.Context, names []string) {
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		entry := c.entry(name)
		stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
		if err := entry.service.Stop(stopCtx); err != nil {
			logger.Warnw("service stop failed", "service", name, "error", err)
		}
		cancel()
		c.mu.Lock()
		entry.state = StateStopped
		c.mu.Unlock()
		logger.Infow("stopped service", "service", name)
	}
}

// entry looks a managed record up; callers pass names that exist.
func (c *Coordinator) entry(name string) *managed {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.services[name]
}

// topoOrder computes a Kahn topological ordering of the dependency graph.
// Callers hold c.mu. Ties break alphabetically so the order is stable.
func (c *Coordinator) topoOrder() ([]string, error) {
	indegree := make(map[string]int, len(c.services))
	dependents := make(map[string][]string, len(c.services))
	for name, entry := range c.services {
		if _, ok := indegree[name]; !ok {
			indegree[name] = 0
		}
		for _, dep := range entry.deps {
			if _, ok := c.services[dep]; !ok {
				return nil, cerrors.NewValidationError("unknown dependency "+dep+" of service "+name, nil)
			}
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		changed := false
		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
				changed = true
			}
		}
		if changed {
			sort.Strings(ready)
		}
	}
	if len(order) != len(c.services) {
		return nil, cerrors.NewValidationError("service dependency cycle detected", nil)
	}
	return order, nil
}

// probeLoop runs the periodic health sweep.
func (c *Coordinator) probeLoop(ctx context.Context) {
	defer close(c.probeDone)
	ticker := time.NewTicker(c.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.ProbeOnce(ctx)
		}
	}
}

// ProbeOnce probes every running service and restarts failures within
// policy. Exposed for tests and the ops status endpoint.
func (c *Coordinator) ProbeOnce(ctx context.Context) {
	c.mu.Lock()
	order := c.order
	c.mu.Unlock()

	for _, name := range order {
		entry := c.entry(name)
		c.mu.Lock()
		state := entry.state
		c.mu.Unlock()
		if state == StateFailed || state == StateStopped {
			continue
		}

		err := entry.service.Healthy(ctx)
		if err == nil {
			c.mu.Lock()
			entry.state = StateRunning
			entry.lastError = nil
			c.mu.Unlock()
			continue
		}

		logger.Warnw("service unhealthy", "service", name, "error", err)
		c.mu.Lock()
		entry.state = StateDegraded
		entry.lastError = err
		restartDue := c.now().After(entry.cooldownUntil)
		budgetLeft := entry.restarts < c.cfg.RestartBudget
		c.mu.Unlock()

		if !restartDue {
			continue
		}
		if !budgetLeft {
			c.failService(name, entry, err)
			continue
		}
		c.restartService(ctx, name, entry)
	}
}

// restartService bounces one service and advances its cooldown window.
func (c *Coordinator) restartService(ctx context.Context, name string, entry *managed) {
	c.mu.Lock()
	entry.restarts++
	attempt := entry.restarts
	// Exponential cooldown: base doubled per attempt.
	cooldown := restartCooldownBase << (attempt - 1)
	entry.cooldownUntil = c.now().Add(cooldown)
	c.mu.Unlock()

	logger.Infow("restarting service", "service", name, "attempt", attempt, "cooldown", cooldown)
	stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
	if err := entry.service.Stop(stopCtx); err != nil {
		logger.Warnw("stop during restart failed", "service", name, "error", err)
	}
	cancel()

	if err := entry.service.Start(ctx); err != nil {
		logger.Errorw("restart failed", "service", name, "error", err)
		c.mu.Lock()
		entry.lastError = err
		c.mu.Unlock()
		return
	}
	c.mu.Lock()
	entry.state = StateRunning
	entry.lastError = nil
	c.mu.Unlock()
}

// failService marks a service out of budget and degrades its dependents.
func (c *Coordinator) failService(name string, entry *managed, cause error) {
	c.mu.Lock()
	entry.state = StateFailed
	entry.lastError = cerrors.NewFatalError("restart budget exhausted for "+name, cause)
	var degraded []string
	for depName, dep := range c.services {
		for _, d := range dep.deps {
			if d == name && dep.state == StateRunning {
				dep.state = StateDegraded
				degraded = append(degraded, depName)
			}
		}
	}
	c.mu.Unlock()

	logger.Errorw("service failed permanently", "service", name, "degraded_dependents", degraded)
}

// Status returns a snapshot of every managed service, in start order.
func (c *Coordinator) Status() []ServiceStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := c.order
	if names == nil {
		names = make([]string, 0, len(c.services))
		for name := range c.services {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	out := make([]ServiceStatus, 0, len(names))
	for _, name := range names {
		entry := c.services[name]
		status := ServiceStatus{Name: name, State: entry.state, Restarts: entry.restarts}
		if entry.lastError != nil {
			status.LastError = entry.lastError.Error()
		}
		out = append(out, status)
	}
	return out
}

// Healthy reports whether every managed service is running.
func (c *Coordinator) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.services {
		if entry.state != StateRunning {
			return false
		}
	}
	return true
}

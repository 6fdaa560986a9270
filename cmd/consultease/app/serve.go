package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/consultease/consultease/pkg/api"
	"github.com/consultease/consultease/pkg/cache"
	"github.com/consultease/consultease/pkg/config"
	"github.com/consultease/consultease/pkg/consultation"
	cerrors "github.com/consultease/consultease/pkg/errors"
	"github.com/consultease/consultease/pkg/events"
	"github.com/consultease/consultease/pkg/logger"
	"github.com/consultease/consultease/pkg/models"
	"github.com/consultease/consultease/pkg/presence"
	"github.com/consultease/consultease/pkg/router"
	"github.com/consultease/consultease/pkg/storage"
	"github.com/consultease/consultease/pkg/storage/sqlite"
	"github.com/consultease/consultease/pkg/system"
	"github.com/consultease/consultease/pkg/transport"
	"github.com/consultease/consultease/pkg/versions"
	"github.com/consultease/consultease/pkg/wire"
)

// shutdownTimeout bounds the orderly stop of all services.
const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ConsultEase central coordinator",
		Long: `Run the ConsultEase central coordinator.

serve connects to the MQTT broker, subscribes to the desk-unit topics,
and processes presence updates and consultation traffic until it receives
SIGINT or SIGTERM. State lives in the SQLite database named by db.url;
only one serve process may own it at a time.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Infow("starting consultease core", "version", versions.GetVersionInfo().Version)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store, err := sqlite.NewStore(ctx, sqlite.Config{Path: cfg.DB.URL})
	if err != nil {
		return exitWith(exitPersistence, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warnw("closing store", "error", err)
		}
	}()

	degraded := system.NewDegradedMode()

	mcfg := storage.DefaultMonitorConfig()
	mcfg.ProbeInterval = cfg.DB.HealthInterval()
	mcfg.RestartCooldown = cfg.DB.RestartCooldown()
	monitor, err := storage.NewMonitor(store, mcfg, degraded)
	if err != nil {
		return exitWith(exitPersistence, err)
	}

	caches := cache.New()
	bus := events.New()

	// The router is created before the transport so the inbound handler
	// can close over it; routes are added once the engine and coordinator
	// exist, before the transport starts.
	rtr := router.New(router.NewMetrics(reg))
	tr := transport.New(cfg.MQTT, deskSubscriptions(), func(topic string, payload []byte) {
		rtr.Route(ctx, topic, payload)
	}, transport.NewMetrics(reg))

	engine := presence.New(store, caches, bus, degraded, degraded)
	degraded.SetReplayFunc(func(ctx context.Context, update models.PendingStatusUpdate) error {
		out := engine.Replay(ctx, update)
		if out.Kind == presence.OutcomeFailed {
			return out.Err
		}
		return nil
	})

	coord := consultation.New(consultation.Config{
		Expiry:        cfg.Consultation.Expiry(),
		SweepInterval: cfg.Consultation.SweepInterval(),
	}, store, tr, bus)

	addRoutes(rtr, store, engine, coord, bus)

	bus.Subscribe(events.KindFacultyStatus, func(event any) {
		if change, ok := event.(models.StatusChange); ok {
			logger.Infow("faculty status changed",
				"faculty_id", change.FacultyID,
				"name", change.Name,
				"present", change.Present,
			)
		}
	})

	sys := system.New(system.Config{RestartBudget: cfg.Service.RestartBudget})
	if err := registerServices(sys, cfg, store, monitor, tr, coord, degraded, reg); err != nil {
		return err
	}

	// Service adapters wrap their startup failures with the right exit
	// code; the wrapping survives the coordinator's Fatal envelope.
	if err := sys.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	sys.Stop(shutdownCtx)
	return nil
}

// deskSubscriptions lists every broker subscription the core holds,
// including the first-generation firmware topics.
func deskSubscriptions() []transport.Subscription {
	return []transport.Subscription{
		{Pattern: wire.FacultyStatusPattern, QoS: 1},
		{Pattern: wire.FacultyMacStatusPattern, QoS: 1},
		{Pattern: wire.FacultyResponsesPattern, QoS: 1},
		{Pattern: wire.FacultyHeartbeatPattern, QoS: 0},
		{Pattern: wire.LegacyStatusTopic, QoS: 1},
		{Pattern: wire.LegacyMessagesTopic, QoS: 0},
	}
}

func registerServices(
	sys *system.Coordinator,
	cfg *config.Config,
	store *sqlite.Store,
	monitor *storage.Monitor,
	tr *transport.Transport,
	coord *consultation.Coordinator,
	degraded *system.DegradedMode,
	reg *prometheus.Registry,
) error {
	if err := sys.Register(&storageService{store: store, monitor: monitor}); err != nil {
		return err
	}
	if err := sys.Register(&transportService{tr: tr}); err != nil {
		return err
	}
	if err := sys.Register(newSweeperService(coord), "storage", "transport"); err != nil {
		return err
	}
	if cfg.API.Address != "" {
		apiSrv := api.NewServer(cfg.API.Address, &readinessView{degraded: degraded, tr: tr}, sys, reg)
		if err := sys.Register(apiSrv, "storage"); err != nil {
			return err
		}
	}
	return nil
}

// readinessView joins the persistence-health flag and the broker link
// state for the readyz endpoint.
type readinessView struct {
	degraded *system.DegradedMode
	tr       *transport.Transport
}

func (r *readinessView) PersistenceHealthy() bool { return r.degraded.PersistenceHealthy() }
func (r *readinessView) TransportConnected() bool { return r.tr.Connected() }

// storageService manages the database health monitor as one unit of the
// service lifecycle. The store itself is opened before registration and
// closed after shutdown.
type storageService struct {
	store   *sqlite.Store
	monitor *storage.Monitor
}

func (*storageService) Name() string { return "storage" }

func (s *storageService) Start(ctx context.Context) error {
	if err := s.monitor.Start(ctx); err != nil {
		return exitWith(exitPersistence, err)
	}
	return nil
}

func (s *storageService) Stop(context.Context) error {
	return s.monitor.Stop()
}

func (s *storageService) Healthy(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// transportService adapts the MQTT transport to the service contract.
type transportService struct {
	tr *transport.Transport
}

func (*transportService) Name() string { return "transport" }

func (s *transportService) Start(context.Context) error {
	if err := s.tr.Start(); err != nil {
		return exitWith(exitTransport, err)
	}
	return nil
}

func (s *transportService) Stop(context.Context) error {
	s.tr.Stop()
	return nil
}

// Healthy always reports healthy: the paho client owns reconnection, and
// a coordinator-driven restart would tear down a link that is already
// repairing itself. Broker connectivity surfaces through readyz instead.
func (*transportService) Healthy(context.Context) error { return nil }

// sweeperService runs the consultation expiry sweep loop.
type sweeperService struct {
	coord  *consultation.Coordinator
	cancel context.CancelFunc
	group  *errgroup.Group
}

func newSweeperService(coord *consultation.Coordinator) *sweeperService {
	return &sweeperService{coord: coord}
}

func (*sweeperService) Name() string { return "sweeper" }

func (s *sweeperService) Start(context.Context) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.group = &errgroup.Group{}
	s.group.Go(func() error {
		s.coord.SweepLoop(loopCtx)
		return nil
	})
	return nil
}

func (s *sweeperService) Stop(context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	return s.group.Wait()
}

func (s *sweeperService) Healthy(context.Context) error {
	if s.cancel == nil {
		return cerrors.NewDegradedError("sweep loop not started", nil)
	}
	return nil
}

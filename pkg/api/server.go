// Package api serves the operational HTTP endpoints: liveness, readiness,
// service status, and prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/consultease/consultease/pkg/logger"
	"github.com/consultease/consultease/pkg/system"
)

const (
	readHeaderTimeout = 10 * time.Second
	requestTimeout    = 30 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Readiness reports whether the core can do useful work right now.
type Readiness interface {
	// PersistenceHealthy reports the process-wide persistence flag.
	PersistenceHealthy() bool
	// TransportConnected reports whether the broker link is up.
	TransportConnected() bool
}

// StatusSource exposes the coordinator's service view.
type StatusSource interface {
	Status() []system.ServiceStatus
	Healthy() bool
}

// Server is the ops HTTP server. Create with NewServer, then Start.
type Server struct {
	address string
	httpSrv *http.Server
}

// NewServer builds the server and its routes.
func NewServer(address string, readiness Readiness, status StatusSource, gatherer prometheus.Gatherer) *Server {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(requestTimeout),
	)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !readiness.PersistenceHealthy() {
			http.Error(w, "persistence unhealthy", http.StatusServiceUnavailable)
			return
		}
		if !readiness.TransportConnected() {
			http.Error(w, "broker disconnected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Get("/v1/status", func(w http.ResponseWriter, _ *http.Request) {
		services := status.Status()
		w.Header().Set("Content-Type", "application/json")
		if !status.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(map[string]any{
			"healthy":  status.Healthy(),
			"services": services,
		}); err != nil {
			logger.Warnw("encoding status response", "error", err)
		}
	})

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &Server{
		address: address,
		httpSrv: &http.Server{
			Addr:              address,
			Handler:           r,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
}

// Name implements system.Service.
func (*Server) Name() string { return "api" }

// Start begins serving in a background goroutine.
func (s *Server) Start(_ context.Context) error {
	go func() {
		logger.Infow("ops API listening", "address", s.address)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("ops API server exited", "error", err)
		}
	}()
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// Healthy implements system.Service; the listener is healthy while the
// process runs.
func (*Server) Healthy(context.Context) error { return nil }

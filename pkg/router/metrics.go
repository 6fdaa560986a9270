package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts router traffic. Register one instance per process.
type Metrics struct {
	// Dispatched counts messages handed to a handler.
	Dispatched prometheus.Counter
	// Rejected counts messages failing topic, size, or JSON validation.
	Rejected prometheus.Counter
	// RateLimited counts messages dropped by a rule's token bucket.
	RateLimited prometheus.Counter
	// Unmatched counts messages no rule claimed.
	Unmatched prometheus.Counter
}

// NewMetrics creates and registers the router counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Dispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "consultease_router_dispatched_total",
			Help: "Messages dispatched to a handler.",
		}),
		Rejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "consultease_router_rejected_total",
			Help: "Messages failing topic, size, or JSON validation.",
		}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "consultease_router_rate_limited_total",
			Help: "Messages dropped by a per-rule token bucket.",
		}),
		Unmatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "consultease_router_unmatched_total",
			Help: "Messages no rule matched.",
		}),
	}
}

// NopMetrics returns unregistered counters for tests.
func NopMetrics() *Metrics {
	return &Metrics{
		Dispatched:  prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_dispatched"}),
		Rejected:    prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_rejected"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_rate_limited"}),
		Unmatched:   prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_unmatched"}),
	}
}

package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts transport traffic. Register one instance per process.
type Metrics struct {
	// Published counts messages acknowledged by the broker.
	Published prometheus.Counter
	// Received counts inbound messages.
	Received prometheus.Counter
	// Batched counts non-critical messages flushed through a batch.
	Batched prometheus.Counter
	// Dropped counts messages lost to queue saturation, eviction, or the
	// retry cap.
	Dropped prometheus.Counter
	// Retries counts publish re-attempts after a failed acknowledgment.
	Retries prometheus.Counter
	// Reconnects counts broker (re)connections.
	Reconnects prometheus.Counter
}

// NewMetrics creates and registers the transport counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Published: factory.NewCounter(prometheus.CounterOpts{
			Name: "consultease_mqtt_published_total",
			Help: "Messages acknowledged by the broker.",
		}),
		Received: factory.NewCounter(prometheus.CounterOpts{
			Name: "consultease_mqtt_received_total",
			Help: "Inbound messages received from the broker.",
		}),
		Batched: factory.NewCounter(prometheus.CounterOpts{
			Name: "consultease_mqtt_batched_total",
			Help: "Non-critical messages delivered through a batch flush.",
		}),
		Dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "consultease_mqtt_dropped_total",
			Help: "Messages dropped by queue saturation, eviction, or retry cap.",
		}),
		Retries: factory.NewCounter(prometheus.CounterOpts{
			Name: "consultease_mqtt_publish_retries_total",
			Help: "Publish re-attempts after a failed acknowledgment.",
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "consultease_mqtt_reconnects_total",
			Help: "Broker connections established, including reconnects.",
		}),
	}
}

// NopMetrics returns unregistered counters for tests and tools that do not
// scrape.
func NopMetrics() *Metrics {
	return &Metrics{
		Published:  prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_published"}),
		Received:   prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_received"}),
		Batched:    prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_batched"}),
		Dropped:    prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_dropped"}),
		Retries:    prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_retries"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_reconnects"}),
	}
}

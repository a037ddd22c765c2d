package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the hookrelay metric instruments.
type Metrics struct {
	EventsIngestedTotal   prometheus.Counter
	JobsEnqueuedTotal     prometheus.Counter
	DeliveriesTotal       *prometheus.CounterVec
	DeliveryLatency       prometheus.Histogram
	TerminalFailuresTotal *prometheus.CounterVec
	PendingJobs           prometheus.Gauge
}

// NewMetrics creates the instruments and registers them with reg.
// A nil reg creates unregistered instruments.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsIngestedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "hookrelay_events_ingested_total",
			Help: "Events accepted for delivery.",
		}),
		JobsEnqueuedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "hookrelay_jobs_enqueued_total",
			Help: "Delivery jobs admitted to the queue, including manual retries.",
		}),
		DeliveriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hookrelay_deliveries_total",
			Help: "Delivery attempts by result.",
		}, []string{"status"}),
		DeliveryLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hookrelay_delivery_latency_seconds",
			Help:    "Outbound webhook request latency.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5},
		}),
		TerminalFailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hookrelay_terminal_failures_total",
			Help: "Job lineages that failed for good, by reason.",
		}, []string{"reason"}),
		PendingJobs: f.NewGauge(prometheus.GaugeOpts{
			Name: "hookrelay_pending_jobs",
			Help: "Jobs currently in the queue.",
		}),
	}
}

// RecordDelivery records a delivery attempt with the given status and latency.
func (m *Metrics) RecordDelivery(status string, latencySeconds float64) {
	m.DeliveriesTotal.WithLabelValues(status).Inc()
	m.DeliveryLatency.Observe(latencySeconds)
}

// Package metrics exposes the medtrack Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medtrack"

var fastBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1}

// Metrics groups the collectors of one process. Its helper methods are
// no-ops on a nil *Metrics.
type Metrics struct {
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	PrescriptionChanges *prometheus.CounterVec
	LogTransitions      *prometheus.CounterVec

	ActivePrescriptions   prometheus.Gauge
	SnapshotHits          prometheus.Counter
	SnapshotLoads         prometheus.Counter
	SnapshotInvalidations *prometheus.CounterVec
	SnapshotLoadDuration  prometheus.Histogram

	EventsProduced      prometheus.Counter
	EventsConsumed      prometheus.Counter
	OutboxPending       prometheus.Gauge
	CircuitBreakerState *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New registers the collectors with reg. A nil reg means the default
// registry, which is also what Handler then serves.
func New(reg prometheus.Registerer) *Metrics {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	f := promauto.With(reg)

	return &Metrics{
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "Served requests by method, chi route and status code.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "Request latency by method and chi route.",
			Buckets: fastBuckets,
		}, []string{"method", "route"}),

		PrescriptionChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "prescriptions", Name: "changes_total",
			Help: "Prescription lifecycle events by type.",
		}, []string{"event"}),
		LogTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "logs", Name: "writes_total",
			Help: "Medication log writes by resulting status.",
		}, []string{"status"}),

		ActivePrescriptions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "schedule", Name: "active_prescriptions",
			Help: "Active prescriptions in the most recently loaded snapshot.",
		}),
		SnapshotHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "schedule", Name: "snapshot_hits_total",
			Help: "Schedule reads answered from the cached snapshot.",
		}),
		SnapshotLoads: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "schedule", Name: "snapshot_loads_total",
			Help: "Snapshot rebuilds from the store.",
		}),
		SnapshotInvalidations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "schedule", Name: "snapshot_invalidations_total",
			Help: "Snapshot invalidations by source (local write or broker event).",
		}, []string{"source"}),
		SnapshotLoadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "schedule", Name: "snapshot_load_duration_seconds",
			Help:    "Time spent rebuilding the snapshot.",
			Buckets: fastBuckets,
		}),

		EventsProduced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "events", Name: "produced_total",
			Help: "Domain events acknowledged by the broker.",
		}),
		EventsConsumed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "events", Name: "consumed_total",
			Help: "Domain events handled by this process.",
		}),
		OutboxPending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "outbox", Name: "pending",
			Help: "Outbox entries not yet delivered or dead-lettered.",
		}),
		CircuitBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "breaker", Name: "state",
			Help: "Breaker state: 0 closed, 1 half-open, 2 open.",
		}, []string{"name"}),

		gatherer: gatherer,
	}
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// PrescriptionChanged counts a lifecycle event.
func (m *Metrics) PrescriptionChanged(event string) {
	if m == nil {
		return
	}
	m.PrescriptionChanges.WithLabelValues(event).Inc()
}

// LogTransition counts a log write ending in status.
func (m *Metrics) LogTransition(status string) {
	if m == nil {
		return
	}
	m.LogTransitions.WithLabelValues(status).Inc()
}

// Handler serves the registry New registered with.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Package metrics exposes Prometheus instruments for event processing.
//
// Every Metrics value owns its registry, so tests and multiple coordinators
// in one process never collide on registration. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for processed events.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Metrics holds the coordinator's instruments.
type Metrics struct {
	registry *prometheus.Registry

	eventsTotal    *prometheus.CounterVec
	eventDuration  *prometheus.HistogramVec
	classified     *prometheus.CounterVec
	stableMerges   prometheus.Counter
	affectedPerEvt prometheus.Histogram
	queueDepth     prometheus.Gauge
}

// New creates instruments registered on a fresh registry together with the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		eventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stableid_events_total",
			Help: "Ingestion events processed by kind and outcome",
		}, []string{"kind", "outcome"}),
		eventDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stableid_event_duration_seconds",
			Help:    "Event processing duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		}, []string{"kind"}),
		classified: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stableid_classified_entities_total",
			Help: "Entity classifications by status",
		}, []string{"status"}),
		stableMerges: f.NewCounter(prometheus.CounterOpts{
			Name: "stableid_stable_id_merges_total",
			Help: "Upserts that merged more than one stable id",
		}),
		affectedPerEvt: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stableid_affected_entities",
			Help:    "Affected entity ids reported per event",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20, 50},
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "stableid_queue_depth",
			Help: "Events waiting in the coordinator queue",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveEvent records one processed event.
func (m *Metrics) ObserveEvent(kind, outcome string, affected int, d time.Duration) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(kind, outcome).Inc()
	m.eventDuration.WithLabelValues(kind).Observe(d.Seconds())
	if outcome == OutcomeOK {
		m.affectedPerEvt.Observe(float64(affected))
	}
}

// ObserveStatus records one entity classification.
func (m *Metrics) ObserveStatus(status string) {
	if m == nil {
		return
	}
	m.classified.WithLabelValues(status).Inc()
}

// ObserveMerge records a stable id merge.
func (m *Metrics) ObserveMerge() {
	if m == nil {
		return
	}
	m.stableMerges.Inc()
}

// SetQueueDepth records the current queue length.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

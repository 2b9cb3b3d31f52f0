package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the event pipeline, the search
// path and score reconciliation. A nil *Metrics records nothing.
type Metrics struct {
	queueDepth        prometheus.Gauge
	eventsEnqueued    *prometheus.CounterVec
	eventsProcessed   *prometheus.CounterVec
	eventsFailed      prometheus.Counter
	eventLatency      prometheus.Histogram
	searchRequests    *prometheus.CounterVec
	searchLatency     prometheus.Histogram
	impressions       prometheus.Counter
	reconcileDuration prometheus.Histogram
	breakerState      *prometheus.GaugeVec
	healthStatus      *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "event_queue_depth",
			Help: "Number of events waiting for the worker",
		}),
		eventsEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "events_enqueued_total",
			Help: "Events accepted into the queue by type",
		}, []string{"event_type"}),
		eventsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "events_processed_total",
			Help: "Events taken off the queue by type, including failures",
		}, []string{"event_type"}),
		eventsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "events_failed_total",
			Help: "Events dropped after a processing error",
		}),
		eventLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "event_processing_seconds",
			Help:    "Time spent persisting and applying one event",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),
		searchRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "search_requests_total",
			Help: "Search requests by outcome",
		}, []string{"status"}),
		searchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "search_latency_seconds",
			Help:    "Search request latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		}),
		impressions: factory.NewCounter(prometheus.CounterOpts{
			Name: "search_impressions_total",
			Help: "Product impressions recorded by the search path",
		}),
		reconcileDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "score_reconciliation_seconds",
			Help:    "Duration of full behavior score reconciliation passes",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"name"}),
		healthStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "health_check_status",
			Help: "Health check status (1 = healthy, 0 = unhealthy)",
		}, []string{"service"}),
	}
}

func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) ObserveEnqueued(eventType string) {
	if m == nil {
		return
	}
	m.eventsEnqueued.WithLabelValues(eventType).Inc()
}

func (m *Metrics) ObserveProcessed(eventType string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.eventsProcessed.WithLabelValues(eventType).Inc()
	m.eventLatency.Observe(elapsed.Seconds())
	if err != nil {
		m.eventsFailed.Inc()
	}
}

func (m *Metrics) ObserveSearch(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.searchRequests.WithLabelValues(status).Inc()
	m.searchLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveImpression() {
	if m == nil {
		return
	}
	m.impressions.Inc()
}

func (m *Metrics) ObserveReconciliation(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.reconcileDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(float64(state))
}

func (m *Metrics) SetHealth(service string, healthy bool) {
	if m == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1
	}
	m.healthStatus.WithLabelValues(service).Set(v)
}

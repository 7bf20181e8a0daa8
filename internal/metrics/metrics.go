package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its registry so several instances can coexist in tests.
// All recording methods are safe on a nil receiver.
type Metrics struct {
	Registry *prometheus.Registry

	SessionTransitions  *prometheus.CounterVec
	Escalations         *prometheus.CounterVec
	Assignments         *prometheus.CounterVec
	CapacityRejections  prometheus.Counter
	QueueDepth          prometheus.Gauge
	SweepDuration       prometheus.Histogram
	SweepEscalations    prometheus.Counter
	NotificationsFailed prometheus.Counter
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		SessionTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "engage_session_transitions_total",
			Help: "Session state transitions by source and target status",
		}, []string{"from", "to"}),
		Escalations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "engage_escalations_total",
			Help: "Escalations by trigger",
		}, []string{"trigger"}),
		Assignments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "engage_assignments_total",
			Help: "Assignment attempts by outcome",
		}, []string{"outcome"}),
		CapacityRejections: f.NewCounter(prometheus.CounterOpts{
			Name: "engage_capacity_rejections_total",
			Help: "Assignments rejected because the agent had no free slot",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "engage_queue_waiting",
			Help: "Sessions waiting for an agent, as of the last drain",
		}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "engage_sweep_duration_seconds",
			Help:    "Time taken by one timeout sweep",
			Buckets: prometheus.DefBuckets,
		}),
		SweepEscalations: f.NewCounter(prometheus.CounterOpts{
			Name: "engage_sweep_escalations_total",
			Help: "Sessions escalated by the timeout sweep",
		}),
		NotificationsFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "engage_notifications_failed_total",
			Help: "Agent notifications that could not be delivered",
		}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "engage_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveTransition counts a session status change.
func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.SessionTransitions.WithLabelValues(from, to).Inc()
}

// IncEscalation counts a hand-off by trigger.
func (m *Metrics) IncEscalation(trigger string) {
	if m == nil {
		return
	}
	m.Escalations.WithLabelValues(trigger).Inc()
}

// IncAssignment counts an assignment attempt by outcome.
func (m *Metrics) IncAssignment(outcome string) {
	if m == nil {
		return
	}
	m.Assignments.WithLabelValues(outcome).Inc()
}

// IncCapacityRejection counts assignments refused for a full agent.
func (m *Metrics) IncCapacityRejection() {
	if m == nil {
		return
	}
	m.CapacityRejections.Inc()
}

// SetQueueDepth records how many sessions are waiting.
func (m *Metrics) SetQueueDepth(n int64) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// ObserveSweep records the duration and escalations of one sweep.
func (m *Metrics) ObserveSweep(d time.Duration, escalated int) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(d.Seconds())
	m.SweepEscalations.Add(float64(escalated))
}

// IncNotificationFailure counts failed agent notifications.
func (m *Metrics) IncNotificationFailure() {
	if m == nil {
		return
	}
	m.NotificationsFailed.Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
}

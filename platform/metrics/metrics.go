// Package metrics bundles the Prometheus collectors shared by the API and
// scheduler processes. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sitevisit"

// Metrics holds every collector the service exports.
type Metrics struct {
	gatherer prometheus.Gatherer

	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	inFlight      prometheus.Gauge
	sends         *prometheus.CounterVec
	webhookEvents *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	sweepItems    *prometheus.CounterVec
	sweepDuration *prometheus.HistogramVec
	assignments   *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers the collectors on reg and serves them from g.
func NewWithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	m := &Metrics{
		gatherer: g,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests received.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of request durations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_inflight_requests",
			Help:      "Number of requests currently being handled.",
		}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_sends_total",
			Help:      "Outbound gateway sends by purpose and result.",
		}, []string{"purpose", "result"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Inbound webhook events by outcome.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_transitions_total",
			Help:      "Applied conversation transitions by target step.",
		}, []string{"step"}),
		sweepItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_items_total",
			Help:      "Visits handled by scheduler sweeps.",
		}, []string{"sweep", "result"}),
		sweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of scheduler sweeps.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sweep"}),
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignments_total",
			Help:      "Technician assignment attempts by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.requests, m.duration, m.inFlight,
		m.sends, m.webhookEvents, m.transitions,
		m.sweepItems, m.sweepDuration, m.assignments,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Instrument records request counts and latencies. Routes are labelled by
// their registered pattern to keep cardinality bounded.
func (m *Metrics) Instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		labels := []string{c.Request.Method, route, strconv.Itoa(c.Writer.Status())}
		m.requests.WithLabelValues(labels...).Inc()
		m.duration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	}
}

// Send counts one gateway send.
func (m *Metrics) Send(purpose string, err error) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(purpose, result(err)).Inc()
}

// WebhookEvent counts one inbound event outcome.
func (m *Metrics) WebhookEvent(outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(outcome).Inc()
}

// Transition counts one applied conversation transition.
func (m *Metrics) Transition(step string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(step).Inc()
}

// SweepItem counts one visit handled by a sweep.
func (m *Metrics) SweepItem(sweep string, err error) {
	if m == nil {
		return
	}
	m.sweepItems.WithLabelValues(sweep, result(err)).Inc()
}

// ObserveSweep records how long a sweep took.
func (m *Metrics) ObserveSweep(sweep string, started time.Time) {
	if m == nil {
		return
	}
	m.sweepDuration.WithLabelValues(sweep).Observe(time.Since(started).Seconds())
}

// Assignment counts one assignment attempt.
func (m *Metrics) Assignment(outcome string) {
	if m == nil {
		return
	}
	m.assignments.WithLabelValues(outcome).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

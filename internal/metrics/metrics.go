// Package metrics holds the Prometheus collectors exported by crib-server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes of an automatic lifecycle event.
const (
	OutcomeApplied = "applied"
	OutcomeIgnored = "ignored"
	OutcomeUnknown = "unknown_subject"
)

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	events        *prometheus.CounterVec
	interventions *prometheus.CounterVec
	awakenings    prometheus.Counter
	sleepMinutes  prometheus.Histogram
	activeSleep   prometheus.Gauge
}

// New creates collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crib_lifecycle_events_total",
			Help: "Automatic lifecycle events received, by type and outcome.",
		}, []string{"type", "outcome"}),
		interventions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crib_interventions_total",
			Help: "Caregiver interventions applied, by action.",
		}, []string{"action"}),
		awakenings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crib_awakenings_recorded_total",
			Help: "Awakening events persisted.",
		}),
		sleepMinutes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crib_sleep_duration_minutes",
			Help:    "Duration of completed sleep sessions.",
			Buckets: []float64{5, 15, 30, 60, 90, 120, 180, 240, 360, 480, 720},
		}),
		activeSleep: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crib_active_sessions",
			Help: "Subjects currently tracked as asleep.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.events,
		m.interventions,
		m.awakenings,
		m.sleepMinutes,
		m.activeSleep,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Event(eventType, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) Intervention(action string) {
	if m == nil {
		return
	}
	m.interventions.WithLabelValues(action).Inc()
}

// Awakening records a persisted awakening of the given duration.
func (m *Metrics) Awakening(minutes float64) {
	if m == nil {
		return
	}
	m.awakenings.Inc()
	m.sleepMinutes.Observe(minutes)
}

func (m *Metrics) ActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSleep.Set(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Middleware counts requests by route template and status.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		route := "unmatched"
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

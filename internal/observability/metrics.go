// Package observability exposes Prometheus metrics for the portal.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	guardDecisions  *prometheus.CounterVec
	backendCalls    *prometheus.CounterVec
	sessionEvents   *prometheus.CounterVec
}

// NewMetrics initialises the registry and the portal collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "famis_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "famis_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	guard := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "famis_guard_decisions_total",
		Help: "Route guard outcomes by route and decision.",
	}, []string{"route", "decision"})
	backend := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "famis_backend_calls_total",
		Help: "Calls to the FAMIS API by operation and outcome.",
	}, []string{"op", "outcome"})
	sessions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "famis_session_events_total",
		Help: "Identity session transitions such as login, logout and stale discards.",
	}, []string{"event"})
	registry.MustRegister(requests, duration, guard, backend, sessions)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		guardDecisions:  guard,
		backendCalls:    backend,
		sessionEvents:   sessions,
	}
}

// Handler returns the http.Handler serving /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveGuard counts a route guard decision.
func (m *Metrics) ObserveGuard(route, decision string) {
	if m == nil {
		return
	}
	m.guardDecisions.WithLabelValues(route, decision).Inc()
}

// ObserveBackend counts a backend call outcome.
func (m *Metrics) ObserveBackend(op, outcome string) {
	if m == nil {
		return
	}
	m.backendCalls.WithLabelValues(op, outcome).Inc()
}

// ObserveSession counts an identity session transition.
func (m *Metrics) ObserveSession(event string) {
	if m == nil {
		return
	}
	m.sessionEvents.WithLabelValues(event).Inc()
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}

package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
	queueWaitBuckets       = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30}
)

// Metrics holds all Prometheus metric instruments for the bot.
type Metrics struct {
	// Ops HTTP server
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Event routing
	EventsTotal         *prometheus.CounterVec
	EventsRejectedTotal *prometheus.CounterVec
	PublishTotal        *prometheus.CounterVec

	// Backend
	BackendRequestsTotal   *prometheus.CounterVec
	BackendRequestDuration *prometheus.HistogramVec

	// Scheduler
	ScheduledRunsTotal *prometheus.CounterVec

	// Dispatch
	DispatchWorkers   prometheus.Gauge
	DispatchQueueWait prometheus.Histogram

	// Sessions
	SessionsClearedTotal *prometheus.CounterVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quill_http_requests_total",
			Help: "Total number of ops HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quill_http_request_duration_seconds",
			Help:    "Ops HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quill_events_total",
			Help: "Total number of handled inbound events.",
		}, []string{"kind", "workflow"}),
		EventsRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quill_events_rejected_total",
			Help: "Total number of inbound events refused before routing.",
		}, []string{"reason"}),
		PublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quill_publish_total",
			Help: "Total number of publish attempts.",
		}, []string{"flow", "outcome"}),

		BackendRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quill_backend_requests_total",
			Help: "Total number of content backend requests.",
		}, []string{"operation", "status"}),
		BackendRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quill_backend_request_duration_seconds",
			Help:    "Content backend request duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"operation"}),

		ScheduledRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quill_scheduled_runs_total",
			Help: "Total number of scheduled job runs.",
		}, []string{"job", "outcome"}),

		DispatchWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quill_dispatch_workers",
			Help: "Number of live per-chat workers.",
		}),
		DispatchQueueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quill_dispatch_queue_wait_seconds",
			Help:    "Time an event waited in its chat queue before handling.",
			Buckets: queueWaitBuckets,
		}),

		SessionsClearedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quill_sessions_cleared_total",
			Help: "Total number of sessions cleared.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.EventsTotal,
		m.EventsRejectedTotal,
		m.PublishTotal,
		m.BackendRequestsTotal,
		m.BackendRequestDuration,
		m.ScheduledRunsTotal,
		m.DispatchWorkers,
		m.DispatchQueueWait,
		m.SessionsClearedTotal,
	)

	return m
}

// --- Recording helpers ---
//
// All helpers are safe on a nil *Metrics so components can run without
// instrumentation in tests.

// RecordHTTPRequest records ops HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// RecordEvent records a routed event.
func (m *Metrics) RecordEvent(kind, workflow string) {
	if m == nil {
		return
	}
	if workflow == "" {
		workflow = "none"
	}
	m.EventsTotal.WithLabelValues(kind, workflow).Inc()
}

// RecordRejected records an event refused before routing.
func (m *Metrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.EventsRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordPublish records the outcome of a publish attempt.
// flow is manual, ai_draft or daily_pick. outcome is ok, failed or
// broadcast_failed.
func (m *Metrics) RecordPublish(flow, outcome string) {
	if m == nil {
		return
	}
	m.PublishTotal.WithLabelValues(flow, outcome).Inc()
}

// RecordBackendRequest records a content backend request. A status of 0
// means the request never got a response.
func (m *Metrics) RecordBackendRequest(operation string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	statusStr := strconv.Itoa(status)
	if status == 0 {
		statusStr = "error"
	}
	m.BackendRequestsTotal.WithLabelValues(operation, statusStr).Inc()
	m.BackendRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordScheduledRun records one firing of a scheduled job.
func (m *Metrics) RecordScheduledRun(job, outcome string) {
	if m == nil {
		return
	}
	m.ScheduledRunsTotal.WithLabelValues(job, outcome).Inc()
}

// SetDispatchWorkers sets the number of live per-chat workers.
func (m *Metrics) SetDispatchWorkers(n int) {
	if m == nil {
		return
	}
	m.DispatchWorkers.Set(float64(n))
}

// ObserveQueueWait records how long an event waited before handling.
func (m *Metrics) ObserveQueueWait(d time.Duration) {
	if m == nil {
		return
	}
	m.DispatchQueueWait.Observe(d.Seconds())
}

// RecordSessionCleared records a session being cleared.
// reason is finished, cancelled, expired or corrupt.
func (m *Metrics) RecordSessionCleared(reason string) {
	if m == nil {
		return
	}
	m.SessionsClearedTotal.WithLabelValues(reason).Inc()
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern rather than the raw URL path.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start))
	})
}

// Handler returns the Prometheus HTTP handler for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.TrimSuffix(strings.Join(rctx.RoutePatterns, ""), "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}

package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. All recording methods are safe to call
// on a nil *Metrics, which is how components run when metrics are disabled.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Upstream (GitHub) metrics
	UpstreamRequestsTotal   *prometheus.CounterVec
	UpstreamRequestDuration *prometheus.HistogramVec

	// Membership cache metrics
	CacheLookupsTotal *prometheus.CounterVec
	CacheWritesTotal  *prometheus.CounterVec

	// Decision metrics
	AuthDecisionsTotal *prometheus.CounterVec
	RateLimitedTotal   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghauth_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ghauth_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		UpstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghauth_upstream_requests_total",
				Help: "Total number of requests sent to GitHub",
			},
			[]string{"operation", "status"},
		),
		UpstreamRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ghauth_upstream_request_duration_seconds",
				Help:    "GitHub request duration in seconds",
				Buckets: []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),

		CacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghauth_membership_cache_lookups_total",
				Help: "Membership cache lookups by result (hit, miss, stale, error)",
			},
			[]string{"backend", "result"},
		),
		CacheWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghauth_membership_cache_writes_total",
				Help: "Membership cache writes by status",
			},
			[]string{"backend", "status"},
		),

		AuthDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghauth_auth_decisions_total",
				Help: "Authentication and access decisions by outcome (granted, denied, error)",
			},
			[]string{"operation", "outcome"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghauth_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"route"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.UpstreamRequestsTotal,
		m.UpstreamRequestDuration,
		m.CacheLookupsTotal,
		m.CacheWritesTotal,
		m.AuthDecisionsTotal,
		m.RateLimitedTotal,
	)

	return m
}

// ObserveUpstream records one GitHub call. statusCode 0 means the call failed
// before a response was received.
func (m *Metrics) ObserveUpstream(operation string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	status := "error"
	if statusCode != 0 {
		status = strconv.Itoa(statusCode)
	}
	m.UpstreamRequestsTotal.WithLabelValues(operation, status).Inc()
	m.UpstreamRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveCacheLookup records a membership cache lookup result
func (m *Metrics) ObserveCacheLookup(backend, result string) {
	if m == nil {
		return
	}
	m.CacheLookupsTotal.WithLabelValues(backend, result).Inc()
}

// ObserveCacheWrite records a membership cache write
func (m *Metrics) ObserveCacheWrite(backend string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.CacheWritesTotal.WithLabelValues(backend, status).Inc()
}

// ObserveDecision records the outcome of an authenticate or allow_access call
func (m *Metrics) ObserveDecision(operation, outcome string) {
	if m == nil {
		return
	}
	m.AuthDecisionsTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveRateLimited records a request rejected by the rate limiter
func (m *Metrics) ObserveRateLimited(route string) {
	if m == nil {
		return
	}
	m.RateLimitedTotal.WithLabelValues(route).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled with the mux route template to bound cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeTemplate(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
		if prefix, err := route.GetPathRegexp(); err == nil {
			return prefix
		}
	}
	return "unmatched"
}

// MetricsHandler returns the /metrics handler for the registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

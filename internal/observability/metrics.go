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
	httpDurationBuckets     = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	scenarioDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	bodySizeBuckets         = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the harness and the
// reference service. All recording helpers are safe on a nil receiver.
type Metrics struct {
	// Controller layer
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Transport client
	ClientRequestsTotal   *prometheus.CounterVec
	ClientRequestDuration *prometheus.HistogramVec

	// Scenario runner
	ScenarioRunsTotal      *prometheus.CounterVec
	ScenarioDuration       *prometheus.HistogramVec
	AssertionFailuresTotal *prometheus.CounterVec
	InterceptedCallsTotal  *prometheus.CounterVec

	// Reference service
	RegistrationsTotal *prometheus.CounterVec
	LoginsTotal        *prometheus.CounterVec
	CheckoutsTotal     *prometheus.CounterVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parity_http_requests_total",
			Help: "Total number of HTTP requests served by the controller layer.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parity_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parity_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parity_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		ClientRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parity_client_requests_total",
			Help: "Total number of requests sent by the transport client.",
		}, []string{"transport", "operation", "status"}),
		ClientRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parity_client_request_duration_seconds",
			Help:    "Transport client request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"transport", "operation"}),

		ScenarioRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parity_scenario_runs_total",
			Help: "Total number of scenario runs by outcome.",
		}, []string{"transport", "isolation", "result"}),
		ScenarioDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parity_scenario_duration_seconds",
			Help:    "Scenario duration in seconds, arrange through assert.",
			Buckets: scenarioDurationBuckets,
		}, []string{"transport"}),
		AssertionFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parity_assertion_failures_total",
			Help: "Total number of failed assertion clauses.",
		}, []string{"clause"}),
		InterceptedCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parity_intercepted_calls_total",
			Help: "Total number of calls observed by service interceptors.",
		}, []string{"operation", "outcome"}),

		RegistrationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_registrations_total",
			Help: "Total number of user registrations.",
		}, []string{"status"}),
		LoginsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_logins_total",
			Help: "Total number of login attempts.",
		}, []string{"status"}),
		CheckoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_checkouts_total",
			Help: "Total number of checkouts.",
		}, []string{"payment_method", "status"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		m.ClientRequestsTotal,
		m.ClientRequestDuration,
		m.ScenarioRunsTotal,
		m.ScenarioDuration,
		m.AssertionFailuresTotal,
		m.InterceptedCallsTotal,
		m.RegistrationsTotal,
		m.LoginsTotal,
		m.CheckoutsTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	if m == nil {
		return
	}
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordClientRequest records one transport client round trip. A status of
// zero means the request never produced a response.
func (m *Metrics) RecordClientRequest(transport, operation string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	statusStr := "error"
	if status > 0 {
		statusStr = strconv.Itoa(status)
	}
	m.ClientRequestsTotal.WithLabelValues(transport, operation, statusStr).Inc()
	m.ClientRequestDuration.WithLabelValues(transport, operation).Observe(duration.Seconds())
}

// RecordScenario records a finished scenario.
func (m *Metrics) RecordScenario(transport, isolation string, passed bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "failed"
	if passed {
		result = "passed"
	}
	m.ScenarioRunsTotal.WithLabelValues(transport, isolation, result).Inc()
	m.ScenarioDuration.WithLabelValues(transport).Observe(duration.Seconds())
}

// RecordAssertionFailure records a failed assertion clause.
func (m *Metrics) RecordAssertionFailure(clause string) {
	if m == nil {
		return
	}
	m.AssertionFailuresTotal.WithLabelValues(clause).Inc()
}

// RecordInterceptedCall records a call seen by an interceptor. Outcome is
// one of passthrough, forced_return, forced_error.
func (m *Metrics) RecordInterceptedCall(operation, outcome string) {
	if m == nil {
		return
	}
	m.InterceptedCallsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordRegistration records a registration attempt.
func (m *Metrics) RecordRegistration(status string) {
	if m == nil {
		return
	}
	m.RegistrationsTotal.WithLabelValues(status).Inc()
}

// RecordLogin records a login attempt.
func (m *Metrics) RecordLogin(status string) {
	if m == nil {
		return
	}
	m.LoginsTotal.WithLabelValues(status).Inc()
}

// RecordCheckout records a checkout attempt.
func (m *Metrics) RecordCheckout(paymentMethod, status string) {
	if m == nil {
		return
	}
	m.CheckoutsTotal.WithLabelValues(paymentMethod, status).Inc()
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
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
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

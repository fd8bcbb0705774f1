package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)
	return m, reg
}

func TestInitMetrics_registersAllMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)
	if m == nil {
		t.Fatal("InitMetrics returned nil")
	}

	m.RecordHTTPRequest("POST", "/checkout", 200, time.Millisecond, 10, 100)
	m.RecordClientRequest("rest", "checkout", 200, time.Millisecond)
	m.RecordScenario("graphql", "end-to-end", true, time.Millisecond)
	m.RecordAssertionFailure("status")
	m.RecordInterceptedCall("checkout.checkout", "forced_error")
	m.RecordRegistration("success")
	m.RecordLogin("success")
	m.RecordCheckout("boleto", "success")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	expected := []string{
		"parity_http_requests_total",
		"parity_http_request_duration_seconds",
		"parity_http_request_size_bytes",
		"parity_http_response_size_bytes",
		"parity_client_requests_total",
		"parity_client_request_duration_seconds",
		"parity_scenario_runs_total",
		"parity_scenario_duration_seconds",
		"parity_assertion_failures_total",
		"parity_intercepted_calls_total",
		"checkout_registrations_total",
		"checkout_logins_total",
		"checkout_checkouts_total",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordHTTPRequest("POST", "/users/login", 200, 50*time.Millisecond, 64, 256)
	m.RecordHTTPRequest("POST", "/users/login", 200, 100*time.Millisecond, 64, 256)
	m.RecordHTTPRequest("POST", "/checkout", 401, 20*time.Millisecond, 128, 32)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/users/login", "200"))
	if val != 2 {
		t.Errorf("login requests = %v, want 2", val)
	}
	val = testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/checkout", "401"))
	if val != 1 {
		t.Errorf("checkout 401 requests = %v, want 1", val)
	}
}

func TestRecordClientRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordClientRequest("graphql", "login", 200, 10*time.Millisecond)
	m.RecordClientRequest("rest", "login", 0, 10*time.Millisecond)

	if v := testutil.ToFloat64(m.ClientRequestsTotal.WithLabelValues("graphql", "login", "200")); v != 1 {
		t.Errorf("graphql login = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.ClientRequestsTotal.WithLabelValues("rest", "login", "error")); v != 1 {
		t.Errorf("rest login transport errors = %v, want 1", v)
	}
}

func TestRecordScenario(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordScenario("rest", "end-to-end", true, time.Second)
	m.RecordScenario("rest", "controller-isolated", false, time.Second)

	if v := testutil.ToFloat64(m.ScenarioRunsTotal.WithLabelValues("rest", "end-to-end", "passed")); v != 1 {
		t.Errorf("passed = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.ScenarioRunsTotal.WithLabelValues("rest", "controller-isolated", "failed")); v != 1 {
		t.Errorf("failed = %v, want 1", v)
	}
	if testutil.CollectAndCount(m.ScenarioDuration) == 0 {
		t.Error("expected scenario duration histogram to have observations")
	}
}

func TestRecordInterceptedCall(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordInterceptedCall("users.login", "passthrough")
	m.RecordInterceptedCall("users.login", "passthrough")

	if v := testutil.ToFloat64(m.InterceptedCallsTotal.WithLabelValues("users.login", "passthrough")); v != 2 {
		t.Errorf("intercepted = %v, want 2", v)
	}
}

func TestRecordCheckout(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordCheckout("credit_card", "success")
	m.RecordCheckout("credit_card", "validation")

	if v := testutil.ToFloat64(m.CheckoutsTotal.WithLabelValues("credit_card", "success")); v != 1 {
		t.Errorf("success = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.CheckoutsTotal.WithLabelValues("credit_card", "validation")); v != 1 {
		t.Errorf("validation = %v, want 1", v)
	}
}

func TestMetrics_nilReceiver(t *testing.T) {
	var m *Metrics
	m.RecordHTTPRequest("GET", "/", 200, 0, 0, 0)
	m.RecordClientRequest("rest", "login", 200, 0)
	m.RecordScenario("rest", "end-to-end", true, 0)
	m.RecordAssertionFailure("status")
	m.RecordInterceptedCall("users.login", "passthrough")
	m.RecordRegistration("success")
	m.RecordLogin("success")
	m.RecordCheckout("boleto", "success")
}

func TestMetricsMiddleware_recordsRoutePattern(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/products/{productId}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	req := httptest.NewRequest(http.MethodGet, "/products/42", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/products/{productId}", "200"))
	if val != 1 {
		t.Errorf("requests total = %v, want 1", val)
	}
	if testutil.CollectAndCount(m.HTTPResponseSizeBytes) == 0 {
		t.Error("expected response size histogram to have observations")
	}
}

func TestMetricsMiddleware_capturesStatusCode(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Post("/checkout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	req := httptest.NewRequest(http.MethodPost, "/checkout", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/checkout", "400"))
	if val != 1 {
		t.Errorf("400 requests = %v, want 1", val)
	}
}

func TestMetricsMiddleware_fallsBackToPath(t *testing.T) {
	m, _ := newTestMetrics(t)

	handler := m.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/raw/path", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/raw/path", "200"))
	if val != 1 {
		t.Errorf("raw path requests = %v, want 1", val)
	}
}

func TestHandler_servesRegisteredMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.RecordLogin("success")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "checkout_logins_total") {
		t.Error("metrics response should contain checkout_logins_total")
	}
}

func TestHistogramBuckets_sorted(t *testing.T) {
	for name, buckets := range map[string][]float64{
		"http":     httpDurationBuckets,
		"scenario": scenarioDurationBuckets,
		"size":     bodySizeBuckets,
	} {
		for i := 1; i < len(buckets); i++ {
			if buckets[i] <= buckets[i-1] {
				t.Errorf("%s buckets not sorted at index %d", name, i)
			}
		}
	}
}

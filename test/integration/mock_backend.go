package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/http/httputil"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/pitabwire/checkoutparity/internal/client"
)

// MockBackend sits between the harness client and the service under test.
// Requests are recorded per catalogue operation and forwarded to the
// upstream unless a canned response is configured, which lets tests make a
// transport drift and check that the harness notices.
type MockBackend struct {
	kind     client.Kind
	server   *httptest.Server
	upstream *httputil.ReverseProxy

	mu           sync.RWMutex
	operations   map[string]*operationConfig
	receivedByOp map[string][]*RecordedRequest
}

// RecordedRequest captures the details of a request received by the backend.
type RecordedRequest struct {
	Method     string
	Path       string
	Headers    http.Header
	Body       map[string]any
	RawBody    []byte
	ReceivedAt time.Time
}

// operationConfig holds the canned responses for a single operation.
type operationConfig struct {
	mu        sync.Mutex
	responses []*mockResponse
	current   int
}

type mockResponse struct {
	status    int
	body      any
	raw       []byte
	delay     time.Duration
	connError bool
}

// OperationMock is a builder for configuring responses for one operation.
type OperationMock struct {
	backend *MockBackend
	opName  string
}

func newMockBackend(t *testing.T, kind client.Kind, upstreamURL string) *MockBackend {
	t.Helper()

	target, err := url.Parse(upstreamURL)
	if err != nil {
		t.Fatalf("parse upstream %q: %v", upstreamURL, err)
	}

	mb := &MockBackend{
		kind:         kind,
		upstream:     httputil.NewSingleHostReverseProxy(target),
		operations:   make(map[string]*operationConfig),
		receivedByOp: make(map[string][]*RecordedRequest),
	}
	mb.server = httptest.NewServer(http.HandlerFunc(mb.serve))
	t.Cleanup(mb.server.Close)
	return mb
}

// URL returns the base URL the harness client talks to.
func (mb *MockBackend) URL() string {
	return mb.server.URL
}

// OnOperation returns a builder for canned responses of a catalogue
// operation such as "checkout".
func (mb *MockBackend) OnOperation(name string) *OperationMock {
	return &OperationMock{backend: mb, opName: name}
}

// RespondWith answers with status and a JSON body instead of forwarding.
func (om *OperationMock) RespondWith(status int, body any) *OperationMock {
	om.backend.addResponse(om.opName, &mockResponse{status: status, body: body})
	return om
}

// RespondWithRaw answers with status and body bytes as-is.
func (om *OperationMock) RespondWithRaw(status int, raw string) *OperationMock {
	om.backend.addResponse(om.opName, &mockResponse{status: status, raw: []byte(raw)})
	return om
}

// RespondWithDelay forwards to the upstream after delay.
func (om *OperationMock) RespondWithDelay(delay time.Duration) *OperationMock {
	om.backend.addResponse(om.opName, &mockResponse{delay: delay})
	return om
}

// RespondWithConnectionError closes the connection without answering.
func (om *OperationMock) RespondWithConnectionError() *OperationMock {
	om.backend.addResponse(om.opName, &mockResponse{connError: true})
	return om
}

func (mb *MockBackend) addResponse(name string, resp *mockResponse) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	cfg, ok := mb.operations[name]
	if !ok {
		cfg = &operationConfig{}
		mb.operations[name] = cfg
	}
	cfg.responses = append(cfg.responses, resp)
}

func (mb *MockBackend) serve(w http.ResponseWriter, r *http.Request) {
	rec := &RecordedRequest{
		Method:     r.Method,
		Path:       r.URL.Path,
		Headers:    r.Header.Clone(),
		ReceivedAt: time.Now(),
	}
	if r.Body != nil {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))
		rec.RawBody = body
		if len(body) > 0 {
			var parsed map[string]any
			if err := json.Unmarshal(body, &parsed); err == nil {
				rec.Body = parsed
			}
		}
	}

	name := mb.operationOf(rec)
	mb.mu.Lock()
	mb.receivedByOp[name] = append(mb.receivedByOp[name], rec)
	mb.mu.Unlock()

	resp := mb.getNextResponse(name)
	switch {
	case resp == nil:
		mb.upstream.ServeHTTP(w, r)
	case resp.connError:
		if hj, ok := w.(http.Hijacker); ok {
			conn, _, _ := hj.Hijack()
			if conn != nil {
				conn.Close()
			}
		}
	case resp.status == 0:
		select {
		case <-time.After(resp.delay):
			mb.upstream.ServeHTTP(w, r)
		case <-r.Context().Done():
		}
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.status)
		if resp.raw != nil {
			w.Write(resp.raw)
		} else if resp.body != nil {
			json.NewEncoder(w).Encode(resp.body)
		}
	}
}

// operationOf maps a request back to its catalogue operation: by route for
// REST and by query document for GraphQL. Unknown requests are keyed by
// method and path.
func (mb *MockBackend) operationOf(rec *RecordedRequest) string {
	query, _ := rec.Body["query"].(string)
	for _, name := range client.OperationNames() {
		op, _ := client.LookupOperation(name)
		if mb.kind == client.GraphQL && query != "" && query == op.Query {
			return op.Name
		}
		// login_with_user shares the REST route with login.
		if mb.kind == client.REST && name != client.LoginWithUser.Name &&
			rec.Method == op.Method && rec.Path == op.Path {
			return op.Name
		}
	}
	return fmt.Sprintf("%s %s", rec.Method, rec.Path)
}

func (mb *MockBackend) getNextResponse(name string) *mockResponse {
	mb.mu.RLock()
	cfg, ok := mb.operations[name]
	mb.mu.RUnlock()
	if !ok {
		return nil
	}

	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	if len(cfg.responses) == 0 {
		return nil
	}

	idx := cfg.current
	if idx >= len(cfg.responses) {
		// Repeat the last response for subsequent calls.
		idx = len(cfg.responses) - 1
	} else {
		cfg.current++
	}
	return cfg.responses[idx]
}

// AssertCalled verifies that the operation was received the expected number
// of times.
func (mb *MockBackend) AssertCalled(t *testing.T, name string, expectedCount int) {
	t.Helper()
	mb.mu.RLock()
	actual := len(mb.receivedByOp[name])
	mb.mu.RUnlock()
	if actual != expectedCount {
		t.Errorf("%s backend: operation %q received %d times, want %d", mb.kind, name, actual, expectedCount)
	}
}

// LastRequest returns the last request received for the operation, or nil.
func (mb *MockBackend) LastRequest(name string) *RecordedRequest {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	reqs := mb.receivedByOp[name]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

// Reset clears recorded requests and canned responses.
func (mb *MockBackend) Reset() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.operations = make(map[string]*operationConfig)
	mb.receivedByOp = make(map[string][]*RecordedRequest)
}

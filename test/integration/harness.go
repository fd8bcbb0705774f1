// Package integration runs the checkout contract suite over REST and
// GraphQL. By default it serves the reference service in-process; setting
// BASE_URL_REST and BASE_URL_GRAPHQL points the suite at a deployed service,
// in which case tests that need the service's internals are skipped.
package integration

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pitabwire/checkoutparity/internal/auth"
	"github.com/pitabwire/checkoutparity/internal/client"
	"github.com/pitabwire/checkoutparity/internal/config"
	"github.com/pitabwire/checkoutparity/internal/equivalence"
	"github.com/pitabwire/checkoutparity/internal/fixture"
	"github.com/pitabwire/checkoutparity/internal/intercept"
	"github.com/pitabwire/checkoutparity/internal/scenario"
	"github.com/pitabwire/checkoutparity/internal/transport"
	"github.com/pitabwire/checkoutparity/internal/twin"
)

// TestHarness wires a client to the service under test through a recording
// backend per transport.
type TestHarness struct {
	t        *testing.T
	cfg      *config.Config
	issuer   *tokenIssuer
	backends map[client.Kind]*MockBackend
	external bool

	Client   *client.Client
	Session  *auth.Session
	Fixtures *fixture.Store

	// Twin is the in-process reference service; nil against external
	// targets.
	Twin *twin.Twin
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	inProcess       bool
	clientTimeout   time.Duration
	scenarioTimeout time.Duration
}

// WithInProcess ignores configured targets and always serves the reference
// service locally.
func WithInProcess() HarnessOption {
	return func(c *harnessConfig) { c.inProcess = true }
}

// WithClientTimeout bounds each request.
func WithClientTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) { c.clientTimeout = d }
}

// WithScenarioTimeout bounds each scenario run through Runner.
func WithScenarioTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) { c.scenarioTimeout = d }
}

// NewTestHarness builds the harness. Servers are closed when the test ends.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		clientTimeout:   10 * time.Second,
		scenarioTimeout: 20 * time.Second,
	}
	for _, opt := range opts {
		opt(hc)
	}

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Client.Timeout = hc.clientTimeout
	cfg.Suite.ScenarioTimeout = hc.scenarioTimeout
	cfg.Server.ShutdownTimeout = 2 * time.Second

	fixtures, err := fixture.Embedded()
	if err != nil {
		t.Fatalf("load fixtures: %v", err)
	}

	h := &TestHarness{
		t:        t,
		cfg:      cfg,
		backends: make(map[client.Kind]*MockBackend),
		Fixtures: fixtures,
	}

	restURL, graphqlURL := cfg.Targets.RESTBaseURL, cfg.Targets.GraphQLBaseURL
	h.external = !hc.inProcess && cfg.RequireTargets() == nil
	if !h.external {
		h.issuer = newTokenIssuer(t, cfg.Identity)
		tokens := twin.NewTokenIssuerWithKey(cfg.Identity, h.issuer.privateKey)
		h.Twin = twin.Assemble(twin.NewMemoryStore(), tokens, nil, nil, twin.WithBcryptCost(bcrypt.MinCost))

		router, err := transport.NewRouter(transport.Dependencies{
			Config:    cfg,
			Services:  h.Twin.Services(),
			UserStore: h.Twin.Store,
			JWKS:      h.Twin.Tokens.JWKS,
		})
		if err != nil {
			t.Fatalf("build router: %v", err)
		}
		srv := httptest.NewServer(router)
		t.Cleanup(srv.Close)
		restURL, graphqlURL = srv.URL, srv.URL
	}

	h.backends[client.REST] = newMockBackend(t, client.REST, restURL)
	h.backends[client.GraphQL] = newMockBackend(t, client.GraphQL, graphqlURL)

	h.Client = client.New(h.backends[client.REST].URL(), h.backends[client.GraphQL].URL(),
		client.WithTimeout(cfg.Client.Timeout),
		client.WithGraphQLPath(cfg.Targets.GraphQLPath),
	)
	h.Session = auth.NewSession(h.Client)
	return h
}

// External reports whether the harness targets a deployed service.
func (h *TestHarness) External() bool {
	return h.external
}

// RequireInProcess skips t when the harness targets a deployed service.
func (h *TestHarness) RequireInProcess(t *testing.T) {
	t.Helper()
	if h.external {
		t.Skip("needs the in-process reference service")
	}
}

// Backend returns the recording backend in front of kind's target.
func (h *TestHarness) Backend(kind client.Kind) *MockBackend {
	return h.backends[kind]
}

// Tokens returns the forger for session tokens signed with the service's
// key. In-process only.
func (h *TestHarness) Tokens(t *testing.T) *tokenIssuer {
	t.Helper()
	h.RequireInProcess(t)
	return h.issuer
}

// Runner returns a scenario runner over the harness client. In-process it
// can also run controller-isolated scenarios.
func (h *TestHarness) Runner(t *testing.T) *scenario.Runner {
	t.Helper()
	var opts []scenario.Option
	if h.Twin != nil {
		opts = append(opts, scenario.WithServices(h.Twin.Services()))
	}
	r, err := scenario.New(h.cfg, h.Client, h.Fixtures, opts...)
	if err != nil {
		t.Fatalf("build runner: %v", err)
	}
	return r
}

// --- Requests ---

// Send performs one catalogue operation. An empty token sends no
// Authorization header.
func (h *TestHarness) Send(t *testing.T, kind client.Kind, op client.Operation, payload map[string]any, token string) *client.Response {
	t.Helper()
	return send(t, h.Client, kind, op, payload, token)
}

func send(t *testing.T, c *client.Client, kind client.Kind, op client.Operation, payload map[string]any, token string) *client.Response {
	t.Helper()
	var headers http.Header
	if token != "" {
		headers = client.WithBearer(nil, token)
	}
	resp, err := c.Send(context.Background(), kind, op, payload, headers)
	if err != nil {
		t.Fatalf("%s %s: %v", kind, op.Name, err)
	}
	return resp
}

// Request loads a request fixture with id's placeholders filled in.
func (h *TestHarness) Request(t *testing.T, name string, id auth.Identity) map[string]any {
	t.Helper()
	return h.fixture(t, fixture.Requests, name, id)
}

// Response loads a response fixture with id's placeholders filled in.
func (h *TestHarness) Response(t *testing.T, name string, id auth.Identity) map[string]any {
	t.Helper()
	return h.fixture(t, fixture.Responses, name, id)
}

func (h *TestHarness) fixture(t *testing.T, ns fixture.Namespace, name string, id auth.Identity) map[string]any {
	t.Helper()
	doc, err := h.Fixtures.Get(ns, name)
	if err != nil {
		t.Fatalf("fixture: %v", err)
	}
	out, err := scenario.Render(doc, id.Vars())
	if err != nil {
		t.Fatalf("fixture %s/%s: %v", ns, name, err)
	}
	return out
}

// --- Assertions ---

// document is the response as comparable JSON: the body, or {"error": msg}
// for a GraphQL failure so error fixtures fit both transports.
func document(resp *client.Response) any {
	if resp.Kind == client.GraphQL && resp.Failed() {
		return map[string]any{"error": resp.ErrorMessage()}
	}
	return resp.Body
}

// AssertFixture compares the response with a rendered response fixture,
// ignoring the excluded dotted paths.
func (h *TestHarness) AssertFixture(t *testing.T, resp *client.Response, expected map[string]any, exclude ...string) {
	t.Helper()
	if res := equivalence.Compare(document(resp), expected, exclude...); !res.Match {
		t.Errorf("%s %s: %s\nraw: %s", resp.Kind, resp.Operation, res, resp.Raw)
	}
}

// AssertSuccess checks that the request succeeded on its transport.
func AssertSuccess(t *testing.T, resp *client.Response) {
	t.Helper()
	if resp.Failed() {
		t.Fatalf("%s %s failed: status %d, error %q\nraw: %s",
			resp.Kind, resp.Operation, resp.Status, resp.ErrorMessage(), resp.Raw)
	}
	if resp.Kind == client.REST && resp.Status != http.StatusOK && resp.Status != http.StatusCreated {
		t.Fatalf("%s %s: status %d\nraw: %s", resp.Kind, resp.Operation, resp.Status, resp.Raw)
	}
}

// AssertError checks a domain error the way each transport reports it:
// restStatus and body.error over REST, status 200 and errors[0].message
// over GraphQL.
func AssertError(t *testing.T, resp *client.Response, restStatus int, message string) {
	t.Helper()
	wantStatus := restStatus
	if resp.Kind == client.GraphQL {
		wantStatus = http.StatusOK
	}
	if resp.Status != wantStatus {
		t.Errorf("%s %s: status = %d, want %d\nraw: %s", resp.Kind, resp.Operation, resp.Status, wantStatus, resp.Raw)
	}
	if !resp.Failed() {
		t.Fatalf("%s %s: expected error %q, request succeeded\nraw: %s", resp.Kind, resp.Operation, message, resp.Raw)
	}
	if got := resp.ErrorMessage(); got != message {
		t.Errorf("%s %s: error = %q, want %q", resp.Kind, resp.Operation, got, message)
	}
}

// --- Groups ---

// Group is one identity registered for a set of subtests, the way a
// suite-level setup hook shares an account. Subtests log in for their own
// token.
type Group struct {
	h        *TestHarness
	Kind     client.Kind
	Identity auth.Identity
}

// NewGroup registers a fresh identity over kind.
func (h *TestHarness) NewGroup(t *testing.T, kind client.Kind) *Group {
	t.Helper()
	id := auth.NewIdentity("group")
	if err := h.Session.Register(context.Background(), kind, id); err != nil {
		t.Fatalf("group setup: %v", err)
	}
	return &Group{h: h, Kind: kind, Identity: id}
}

// Login returns a fresh session token for the group's identity.
func (g *Group) Login(t *testing.T) string {
	t.Helper()
	token, err := g.h.Session.Login(context.Background(), g.Kind, g.Identity.Credentials())
	if err != nil {
		t.Fatalf("group login: %v", err)
	}
	return token
}

// --- Controller isolation ---

// Isolated serves the controllers over an interceptor wrapping the
// reference services.
type Isolated struct {
	Interceptor *intercept.Interceptor
	Client      *client.Client
}

// Isolate starts a controller-isolated host. Interceptions are restored when
// the test ends.
func (h *TestHarness) Isolate(t *testing.T) *Isolated {
	t.Helper()
	h.RequireInProcess(t)

	ic := intercept.New(h.Twin.Services())
	router, err := transport.NewRouter(transport.Dependencies{Config: h.cfg, Services: ic.Services()})
	if err != nil {
		t.Fatalf("build isolated router: %v", err)
	}
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	t.Cleanup(ic.RestoreAll)

	return &Isolated{Interceptor: ic, Client: h.Client.WithTargets(srv.URL, srv.URL)}
}

// Send performs one operation against the isolated host.
func (iso *Isolated) Send(t *testing.T, kind client.Kind, op client.Operation, payload map[string]any, token string) *client.Response {
	t.Helper()
	return send(t, iso.Client, kind, op, payload, token)
}

// --- Helpers ---

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

// sharedKey returns one RSA key per test binary; key generation dominates
// harness start-up otherwise.
func sharedKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		testKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic("generate RSA key: " + err.Error())
		}
	})
	return testKey
}

// testdataDir returns the absolute path to the testdata directory.
func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

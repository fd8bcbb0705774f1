package scenario

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pitabwire/checkoutparity/internal/client"
	"github.com/pitabwire/checkoutparity/internal/config"
	"github.com/pitabwire/checkoutparity/internal/fixture"
	"github.com/pitabwire/checkoutparity/internal/transport"
	"github.com/pitabwire/checkoutparity/internal/twin"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func newTestTwin(t *testing.T) *twin.Twin {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		testKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic("generate RSA key: " + err.Error())
		}
	})
	tokens := twin.NewTokenIssuerWithKey(config.Defaults().Identity, testKey)
	return twin.Assemble(twin.NewMemoryStore(), tokens, nil, nil, twin.WithBcryptCost(bcrypt.MinCost))
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Suite.ScenarioTimeout = 10 * time.Second
	cfg.Server.ShutdownTimeout = 2 * time.Second
	return cfg
}

// newTestRunner serves a fresh twin over httptest and returns a runner
// pointed at it that can also run controller-isolated scenarios.
func newTestRunner(t *testing.T, opts ...Option) (*Runner, *twin.Twin) {
	t.Helper()
	tw := newTestTwin(t)
	cfg := testConfig()

	router, err := transport.NewRouter(transport.Dependencies{Config: cfg, Services: tw.Services()})
	require.NoError(t, err)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	fixtures, err := fixture.Embedded()
	require.NoError(t, err)

	opts = append([]Option{WithServices(tw.Services())}, opts...)
	r, err := New(cfg, client.New(srv.URL, srv.URL), fixtures, opts...)
	require.NoError(t, err)
	return r, tw
}

func intPtr(n int) *int { return &n }

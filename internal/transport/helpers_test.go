package transport

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pitabwire/checkoutparity/internal/config"
	"github.com/pitabwire/checkoutparity/internal/twin"
	"github.com/pitabwire/checkoutparity/model"
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

func testDeps(t *testing.T, services model.Services) Dependencies {
	t.Helper()
	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = 5 * time.Second
	return Dependencies{Config: cfg, Services: services}
}

func newTestRouter(t *testing.T) (http.Handler, *twin.Twin) {
	t.Helper()
	tw := newTestTwin(t)
	r, err := NewRouter(testDeps(t, tw.Services()))
	if err != nil {
		t.Fatalf("NewRouter error: %v", err)
	}
	return r, tw
}

func do(t *testing.T, h http.Handler, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v (status %d)", err, w.Code)
	}
	return body
}

func julianaBody() map[string]any {
	return map[string]any{"name": "Juliana Samesima", "email": "julianagraphql@email.com", "password": "123456"}
}

func boletoBody() map[string]any {
	return map[string]any{
		"items":         []map[string]any{{"productId": 1, "quantity": 2}},
		"freight":       20,
		"paymentMethod": "boleto",
	}
}

// loginREST registers Juliana and returns a token.
func loginREST(t *testing.T, h http.Handler) string {
	t.Helper()
	if w := do(t, h, "/users/register", julianaBody(), ""); w.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body = %s", w.Code, w.Body.String())
	}
	w := do(t, h, "/users/login", map[string]any{"email": "julianagraphql@email.com", "password": "123456"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", w.Code, w.Body.String())
	}
	token, _ := decode(t, w)["token"].(string)
	if token == "" {
		t.Fatal("empty token")
	}
	return token
}

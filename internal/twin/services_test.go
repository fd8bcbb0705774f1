package twin

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pitabwire/checkoutparity/internal/config"
	"github.com/pitabwire/checkoutparity/internal/observability"
	"github.com/pitabwire/checkoutparity/model"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func signingKey(t *testing.T) *rsa.PrivateKey {
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

func identityConfig() config.IdentityConfig {
	return config.Defaults().Identity
}

func newTestTwin(t *testing.T, metrics *observability.Metrics) *Twin {
	t.Helper()
	tokens := NewTokenIssuerWithKey(identityConfig(), signingKey(t))
	return Assemble(NewMemoryStore(), tokens, metrics, nil, WithBcryptCost(bcrypt.MinCost))
}

func juliana() model.RegisterInput {
	return model.RegisterInput{Name: "Juliana Samesima", Email: "julianagraphql@email.com", Password: "123456"}
}

func registered(t *testing.T, tw *Twin) (*model.User, string) {
	t.Helper()
	ctx := context.Background()
	user, err := tw.Users.Register(ctx, juliana())
	require.NoError(t, err)
	res, err := tw.Users.Login(ctx, model.Credentials{Email: juliana().Email, Password: "123456"})
	require.NoError(t, err)
	return user, res.Token
}

// --- tokens ---

func TestTokenIssuer_roundTrip(t *testing.T) {
	ti := NewTokenIssuerWithKey(identityConfig(), signingKey(t))
	raw, err := ti.Issue("u1", "ana@email.com")
	require.NoError(t, err)

	claims, err := ti.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "ana@email.com", claims.Email)
}

func TestTokenIssuer_rejects(t *testing.T) {
	ti := NewTokenIssuerWithKey(identityConfig(), signingKey(t))

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	foreign, err := NewTokenIssuerWithKey(identityConfig(), other).Issue("u1", "a@b.c")
	require.NoError(t, err)

	wrongAud := NewTokenIssuerWithKey(config.IdentityConfig{Issuer: "checkout-twin", Audience: "other"}, signingKey(t))
	wrongAudToken, err := wrongAud.Issue("u1", "a@b.c")
	require.NoError(t, err)

	expiredIssuer := NewTokenIssuerWithKey(identityConfig(), signingKey(t))
	expiredIssuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := expiredIssuer.Issue("u1", "a@b.c")
	require.NoError(t, err)

	hs := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1"})
	hsToken, err := hs.SignedString([]byte("secret"))
	require.NoError(t, err)

	noSubject, err := ti.Issue("", "a@b.c")
	require.NoError(t, err)

	tests := map[string]string{
		"garbage":        "tokeninvalido",
		"empty":          "",
		"foreign key":    foreign,
		"wrong audience": wrongAudToken,
		"expired":        expired,
		"hmac":           hsToken,
		"no subject":     noSubject,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ti.Verify(raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidToken))
		})
	}
}

func TestTokenIssuer_JWKS(t *testing.T) {
	key := signingKey(t)
	ti := NewTokenIssuerWithKey(identityConfig(), key)

	keys, ok := ti.JWKS()["keys"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, keys, 1)
	assert.Equal(t, "RS256", keys[0]["alg"])
	assert.Equal(t, signingKeyID, keys[0]["kid"])
	assert.NotEmpty(t, keys[0]["n"])
	assert.Equal(t, "AQAB", keys[0]["e"])
}

// --- users ---

func TestUserService_Register(t *testing.T) {
	m := observability.InitMetrics(prometheus.NewRegistry())
	tw := newTestTwin(t, m)

	user, err := tw.Users.Register(context.Background(), juliana())
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, model.PublicUser{Name: "Juliana Samesima", Email: "julianagraphql@email.com"}, user.Public())
	assert.NotEqual(t, "123456", user.PasswordHash)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RegistrationsTotal.WithLabelValues("created")))
}

func TestUserService_Register_duplicate(t *testing.T) {
	m := observability.InitMetrics(prometheus.NewRegistry())
	tw := newTestTwin(t, m)
	ctx := context.Background()

	_, err := tw.Users.Register(ctx, juliana())
	require.NoError(t, err)
	_, err = tw.Users.Register(ctx, juliana())
	require.Error(t, err)

	kind, ok := model.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, model.KindConflict, kind)
	assert.Equal(t, model.MsgEmailTaken, err.Error())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RegistrationsTotal.WithLabelValues("conflict")))
}

func TestUserService_Register_validation(t *testing.T) {
	tw := newTestTwin(t, nil)

	tests := []struct {
		name   string
		in     model.RegisterInput
		fields string
	}{
		{name: "missing name", in: model.RegisterInput{Email: "a@b.com", Password: "x"}, fields: "name"},
		{name: "bad email", in: model.RegisterInput{Name: "A", Email: "not-an-email", Password: "x"}, fields: "email"},
		{name: "all missing", in: model.RegisterInput{}, fields: "email, name, password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tw.Users.Register(context.Background(), tt.in)
			kind, ok := model.KindOf(err)
			require.True(t, ok, "err = %v", err)
			assert.Equal(t, model.KindValidation, kind)
			assert.Equal(t, MsgInvalidFields+": "+tt.fields, err.Error())
		})
	}
}

func TestUserService_Login(t *testing.T) {
	tw := newTestTwin(t, nil)
	user, token := registered(t, tw)
	assert.NotEmpty(t, token)

	claims, err := tw.Tokens.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.Subject)
}

func TestUserService_Login_invalidCredentials(t *testing.T) {
	m := observability.InitMetrics(prometheus.NewRegistry())
	tw := newTestTwin(t, m)
	registered(t, tw)

	tests := map[string]model.Credentials{
		"wrong password": {Email: "julianagraphql@email.com", Password: "654321"},
		"unknown email":  {Email: "outra@email.com", Password: "123456"},
		"empty":          {},
	}
	for name, creds := range tests {
		t.Run(name, func(t *testing.T) {
			res, err := tw.Users.Login(context.Background(), creds)
			assert.Nil(t, res)
			kind, ok := model.KindOf(err)
			require.True(t, ok)
			assert.Equal(t, model.KindAuth, kind)
			assert.Equal(t, model.MsgInvalidCredentials, err.Error())
		})
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.LoginsTotal.WithLabelValues("rejected")))
}

func TestUserService_Authenticate(t *testing.T) {
	tw := newTestTwin(t, nil)
	user, token := registered(t, tw)

	got, err := tw.Users.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	for _, bad := range []string{"tokeninvalido", "", token + "x"} {
		_, err := tw.Users.Authenticate(context.Background(), bad)
		require.Error(t, err)
		assert.Equal(t, model.MsgInvalidToken, err.Error())
	}
}

func TestUserService_Authenticate_unknownSubject(t *testing.T) {
	tw := newTestTwin(t, nil)
	token, err := tw.Tokens.Issue("ghost", "ghost@email.com")
	require.NoError(t, err)

	_, err = tw.Users.Authenticate(context.Background(), token)
	kind, _ := model.KindOf(err)
	assert.Equal(t, model.KindAuth, kind)
}

// --- checkout ---

func TestCheckoutService_pricing(t *testing.T) {
	card := &model.CardData{Number: "4111111111111111", Name: "Juliana Samesima", Expiry: "12/30", CVV: "123"}

	tests := []struct {
		name  string
		in    model.CheckoutInput
		valor float64
	}{
		{
			name:  "boleto",
			in:    model.CheckoutInput{Items: []model.CheckoutItem{{ProductID: 1, Quantity: 2}}, Freight: 20, PaymentMethod: "boleto"},
			valor: 220,
		},
		{
			name: "credit card discount",
			in: model.CheckoutInput{Items: []model.CheckoutItem{{ProductID: 1, Quantity: 1}, {ProductID: 2, Quantity: 1}},
				Freight: 10, PaymentMethod: "credit_card", CardData: card},
			valor: 295,
		},
		{
			name:  "discount excludes freight",
			in:    model.CheckoutInput{Items: []model.CheckoutItem{{ProductID: 2, Quantity: 3}}, Freight: 100, PaymentMethod: "credit_card", CardData: card},
			valor: 670,
		},
		{
			name:  "zero freight",
			in:    model.CheckoutInput{Items: []model.CheckoutItem{{ProductID: 1, Quantity: 1}}, PaymentMethod: "boleto"},
			valor: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tw := newTestTwin(t, nil)
			user := &model.User{ID: "u1"}

			sum, err := tw.Checkout.Checkout(context.Background(), user, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.valor, sum.ValorFinal)
			assert.Equal(t, "u1", sum.UserID)
			assert.Equal(t, tt.in.Items, sum.Items)
			assert.Equal(t, tt.in.Freight, sum.Freight)
			assert.Equal(t, tt.in.PaymentMethod, sum.PaymentMethod)

			orders, err := tw.Checkout.Orders(context.Background(), "u1")
			require.NoError(t, err)
			assert.Len(t, orders, 1)
		})
	}
}

func TestCheckoutService_errors(t *testing.T) {
	tests := []struct {
		name string
		in   model.CheckoutInput
		kind model.Kind
		msg  string
	}{
		{
			name: "card data required",
			in:   model.CheckoutInput{Items: []model.CheckoutItem{{ProductID: 1, Quantity: 1}}, Freight: 10, PaymentMethod: "credit_card"},
			kind: model.KindValidation,
			msg:  model.MsgCardDataRequired,
		},
		{
			name: "unknown product",
			in:   model.CheckoutInput{Items: []model.CheckoutItem{{ProductID: 999, Quantity: 1}}, Freight: 10, PaymentMethod: "boleto"},
			kind: model.KindNotFound,
			msg:  model.MsgProductNotFound,
		},
		{
			name: "unknown product before card data",
			in:   model.CheckoutInput{Items: []model.CheckoutItem{{ProductID: 999, Quantity: 1}}, PaymentMethod: "credit_card"},
			kind: model.KindNotFound,
			msg:  model.MsgProductNotFound,
		},
		{
			name: "bad payment method",
			in:   model.CheckoutInput{Items: []model.CheckoutItem{{ProductID: 1, Quantity: 1}}, PaymentMethod: "pix"},
			kind: model.KindValidation,
			msg:  MsgInvalidPaymentMethod,
		},
		{
			name: "no items",
			in:   model.CheckoutInput{PaymentMethod: "boleto"},
			kind: model.KindValidation,
			msg:  MsgInvalidFields + ": items",
		},
		{
			name: "zero quantity",
			in:   model.CheckoutInput{Items: []model.CheckoutItem{{ProductID: 1}}, PaymentMethod: "boleto"},
			kind: model.KindValidation,
			msg:  MsgInvalidFields + ": items[0].quantity",
		},
		{
			name: "incomplete card",
			in: model.CheckoutInput{Items: []model.CheckoutItem{{ProductID: 1, Quantity: 1}}, PaymentMethod: "credit_card",
				CardData: &model.CardData{Number: "4111"}},
			kind: model.KindValidation,
			msg:  MsgInvalidFields + ": cardData.cvv, cardData.expiry, cardData.name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := observability.InitMetrics(prometheus.NewRegistry())
			tw := newTestTwin(t, m)

			sum, err := tw.Checkout.Checkout(context.Background(), &model.User{ID: "u1"}, tt.in)
			assert.Nil(t, sum)
			kind, ok := model.KindOf(err)
			require.True(t, ok, "err = %v", err)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.msg, err.Error())
			assert.Equal(t, 1.0, testutil.ToFloat64(m.CheckoutsTotal.WithLabelValues(tt.in.PaymentMethod, "rejected")))

			orders, _ := tw.Checkout.Orders(context.Background(), "u1")
			assert.Empty(t, orders)
		})
	}
}

func TestCheckoutService_nilUser(t *testing.T) {
	tw := newTestTwin(t, nil)
	_, err := tw.Checkout.Checkout(context.Background(), nil, model.CheckoutInput{})
	require.Error(t, err)
	assert.Equal(t, model.MsgInvalidToken, err.Error())
}

func TestNew_fromConfig(t *testing.T) {
	cfg := config.Defaults()
	tw, err := New(cfg, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, tw.Store)
	assert.NoError(t, tw.Users.HealthCheck(context.Background()))

	svc := tw.Services()
	assert.NotNil(t, svc.Users)
	assert.NotNil(t, svc.Checkout)
}

package fixture

import (
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/checkoutparity/model"
)

func TestEmbedded_loadsBothNamespaces(t *testing.T) {
	s, err := Embedded()
	require.NoError(t, err)

	assert.Contains(t, s.Names(Requests), "checkout-boleto")
	assert.Contains(t, s.Names(Requests), "register")
	assert.Contains(t, s.Names(Responses), "checkout-boleto-summary")
	assert.Contains(t, s.Names(Responses), "error-product-not-found")
}

func TestEmbedded_isShared(t *testing.T) {
	a, err := Embedded()
	require.NoError(t, err)
	b, err := Embedded()
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestGet_returnsFreshCopy(t *testing.T) {
	s, err := Embedded()
	require.NoError(t, err)

	first, err := s.Request("checkout-boleto")
	require.NoError(t, err)
	first["paymentMethod"] = "credit_card"
	first["items"].([]any)[0].(map[string]any)["quantity"] = 99.0

	second, err := s.Request("checkout-boleto")
	require.NoError(t, err)
	assert.Equal(t, "boleto", second["paymentMethod"])
	assert.Equal(t, 2.0, second["items"].([]any)[0].(map[string]any)["quantity"])
}

func TestGet_unknown(t *testing.T) {
	s, err := Embedded()
	require.NoError(t, err)

	_, err = s.Response("does-not-exist")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "responses/does-not-exist")
}

func TestErrorFixtures_useCanonicalMessages(t *testing.T) {
	s, err := Embedded()
	require.NoError(t, err)

	tests := map[string]string{
		"error-invalid-token":       model.MsgInvalidToken,
		"error-invalid-credentials": model.MsgInvalidCredentials,
		"error-card-data-required":  model.MsgCardDataRequired,
		"error-product-not-found":   model.MsgProductNotFound,
		"error-email-taken":         model.MsgEmailTaken,
	}
	for name, want := range tests {
		doc, err := s.Response(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, doc["error"], name)
	}
}

func TestDecode_typed(t *testing.T) {
	s, err := Embedded()
	require.NoError(t, err)

	var in model.CheckoutInput
	require.NoError(t, s.Decode(Requests, "checkout-credit-card", &in))
	assert.Equal(t, model.PaymentCreditCard, in.PaymentMethod)
	require.NotNil(t, in.CardData)
	assert.Len(t, in.Items, 2)

	var missing model.CheckoutInput
	require.NoError(t, s.Decode(Requests, "checkout-credit-card-missing-card", &missing))
	assert.Nil(t, missing.CardData)
}

func TestLoad_rejectsNonObject(t *testing.T) {
	fsys := fstest.MapFS{
		"requests/list.json": {Data: []byte(`[1, 2]`)},
	}
	_, err := Load(fsys)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requests/list.json")
}

func TestLoad_ignoresOtherFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"requests/a.json":    {Data: []byte(`{"a": 1}`)},
		"requests/README.md": {Data: []byte(`notes`)},
		"responses/b.json":   {Data: []byte(`{"b": true}`)},
		"responses/nested/c": {Data: []byte(`{}`)},
	}
	s, err := Load(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, s.Names(Requests))
	assert.Equal(t, []string{"b"}, s.Names(Responses))
	assert.True(t, s.Has(Requests, "a"))
	assert.False(t, s.Has(Responses, "a"))
}

func TestLoad_missingNamespace(t *testing.T) {
	s, err := Load(fstest.MapFS{"requests/a.json": {Data: []byte(`{}`)}})
	require.NoError(t, err)
	assert.Empty(t, s.Names(Responses))
}

func TestOpen_missingDir(t *testing.T) {
	_, err := Open(t.TempDir() + "/nope")
	assert.Error(t, err)
}

func TestOpenOrEmbedded(t *testing.T) {
	s, err := OpenOrEmbedded("")
	require.NoError(t, err)
	assert.True(t, s.Has(Requests, "login"))
}

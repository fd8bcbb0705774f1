package integration

import (
	"crypto/rand"
	"crypto/rsa"
	"maps"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pitabwire/checkoutparity/internal/config"
)

const forgedKeyID = "twin-key-1"

// TestClaims holds the configurable claims for forging session tokens.
type TestClaims struct {
	SubjectID string
	Email     string
	Extra     map[string]any
}

// tokenIssuer owns the RSA key the in-process service signs with, so tests
// can mint tokens the service would never hand out.
type tokenIssuer struct {
	privateKey *rsa.PrivateKey
	issuer     string
	audience   string
}

func newTokenIssuer(t *testing.T, cfg config.IdentityConfig) *tokenIssuer {
	t.Helper()
	return &tokenIssuer{
		privateKey: sharedKey(t),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
	}
}

// GenerateToken signs a token the service accepts, provided the subject
// exists.
func (ti *tokenIssuer) GenerateToken(claims TestClaims) string {
	now := time.Now()
	return ti.sign(ti.privateKey, ti.claims(claims, now.Add(-time.Minute), now.Add(time.Hour)))
}

// GenerateExpiredToken signs a token that expired an hour ago.
func (ti *tokenIssuer) GenerateExpiredToken(claims TestClaims) string {
	now := time.Now()
	return ti.sign(ti.privateKey, ti.claims(claims, now.Add(-2*time.Hour), now.Add(-time.Hour)))
}

// GenerateForeignToken signs otherwise valid claims with a key the service
// does not know.
func (ti *tokenIssuer) GenerateForeignToken(t *testing.T, claims TestClaims) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	now := time.Now()
	return ti.sign(key, ti.claims(claims, now, now.Add(time.Hour)))
}

// GenerateUnsignedToken returns an alg=none token.
func (ti *tokenIssuer) GenerateUnsignedToken(claims TestClaims) string {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodNone, ti.claims(claims, now, now.Add(time.Hour)))
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		panic("sign JWT: " + err.Error())
	}
	return signed
}

func (ti *tokenIssuer) claims(claims TestClaims, issuedAt, expiresAt time.Time) jwt.MapClaims {
	mapClaims := jwt.MapClaims{
		"iss":   ti.issuer,
		"aud":   ti.audience,
		"iat":   jwt.NewNumericDate(issuedAt),
		"exp":   jwt.NewNumericDate(expiresAt),
		"sub":   claims.SubjectID,
		"email": claims.Email,
	}
	maps.Copy(mapClaims, claims.Extra)
	return mapClaims
}

func (ti *tokenIssuer) sign(key *rsa.PrivateKey, claims jwt.MapClaims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = forgedKeyID

	signed, err := token.SignedString(key)
	if err != nil {
		panic("sign JWT: " + err.Error())
	}
	return signed
}

package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/checkoutparity/internal/client"
	"github.com/pitabwire/checkoutparity/model"
)

type sentRequest struct {
	kind    client.Kind
	op      string
	payload map[string]any
}

// stubSender answers from a queue of responses and records what was sent.
type stubSender struct {
	responses []*client.Response
	err       error
	sent      []sentRequest
}

func (s *stubSender) Send(_ context.Context, kind client.Kind, op client.Operation, payload map[string]any, _ http.Header) (*client.Response, error) {
	s.sent = append(s.sent, sentRequest{kind: kind, op: op.Name, payload: payload})
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return nil, errors.New("stub: no response queued")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func creds() model.Credentials {
	return model.Credentials{Email: "ana@email.com", Password: "123456"}
}

func TestLogin_success(t *testing.T) {
	for _, kind := range client.Kinds {
		t.Run(string(kind), func(t *testing.T) {
			stub := &stubSender{responses: []*client.Response{
				{Kind: kind, Status: http.StatusOK, Body: map[string]any{"token": "tok-1"}},
			}}
			token, err := NewSession(stub).Login(context.Background(), kind, creds())
			require.NoError(t, err)
			assert.Equal(t, "tok-1", token)

			require.Len(t, stub.sent, 1, "exactly one login request")
			assert.Equal(t, "login", stub.sent[0].op)
			assert.Equal(t, kind, stub.sent[0].kind)
			assert.Equal(t, "ana@email.com", stub.sent[0].payload["email"])
		})
	}
}

func TestLogin_failures(t *testing.T) {
	tests := []struct {
		name    string
		resp    *client.Response
		wantMsg string
	}{
		{
			name:    "rest 401",
			resp:    &client.Response{Kind: client.REST, Status: 401, Body: map[string]any{"error": model.MsgInvalidCredentials}},
			wantMsg: model.MsgInvalidCredentials,
		},
		{
			name: "graphql errors",
			resp: &client.Response{Kind: client.GraphQL, Status: 200,
				Errors: []client.GraphQLError{{Message: model.MsgInvalidCredentials}}},
			wantMsg: model.MsgInvalidCredentials,
		},
		{
			name:    "empty token",
			resp:    &client.Response{Kind: client.REST, Status: 200, Body: map[string]any{"token": ""}},
			wantMsg: "empty token",
		},
		{
			name:    "missing body",
			resp:    &client.Response{Kind: client.GraphQL, Status: 200},
			wantMsg: "empty token",
		},
		{
			name:    "rest 500 without message",
			resp:    &client.Response{Kind: client.REST, Status: 500},
			wantMsg: "status 500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubSender{responses: []*client.Response{tt.resp}}
			token, err := NewSession(stub).Login(context.Background(), tt.resp.Kind, creds())
			require.Error(t, err)
			assert.Empty(t, token)
			assert.True(t, errors.Is(err, ErrAuthenticationFailed))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLogin_transportError(t *testing.T) {
	boom := errors.New("connection refused")
	stub := &stubSender{err: boom}

	_, err := NewSession(stub).Login(context.Background(), client.REST, creds())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuthenticationFailed))
	assert.True(t, errors.Is(err, boom))
}

func TestLogin_noCaching(t *testing.T) {
	stub := &stubSender{responses: []*client.Response{
		{Kind: client.REST, Status: 200, Body: map[string]any{"token": "a"}},
		{Kind: client.REST, Status: 200, Body: map[string]any{"token": "b"}},
	}}
	s := NewSession(stub)

	first, err := s.Login(context.Background(), client.REST, creds())
	require.NoError(t, err)
	second, err := s.Login(context.Background(), client.REST, creds())
	require.NoError(t, err)

	assert.Equal(t, "a", first)
	assert.Equal(t, "b", second)
	assert.Len(t, stub.sent, 2)
}

func TestRegisterAndLogin(t *testing.T) {
	id := NewIdentity("test")
	stub := &stubSender{responses: []*client.Response{
		{Kind: client.GraphQL, Status: 200, Body: map[string]any{"name": id.Name, "email": id.Email}},
		{Kind: client.GraphQL, Status: 200, Body: map[string]any{"token": "tok"}},
	}}

	token, err := NewSession(stub).RegisterAndLogin(context.Background(), client.GraphQL, id)
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
	require.Len(t, stub.sent, 2)
	assert.Equal(t, "register", stub.sent[0].op)
	assert.Equal(t, id.RegisterPayload(), stub.sent[0].payload)
}

func TestRegister_conflict(t *testing.T) {
	stub := &stubSender{responses: []*client.Response{
		{Kind: client.REST, Status: 400, Body: map[string]any{"error": model.MsgEmailTaken}},
	}}
	err := NewSession(stub).Register(context.Background(), client.REST, NewIdentity(""))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRegistrationFailed))
	assert.Contains(t, err.Error(), model.MsgEmailTaken)
}

func TestNewIdentity_unique(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		id := NewIdentity("parity")
		assert.False(t, seen[id.Email], "duplicate email %s", id.Email)
		seen[id.Email] = true
		assert.True(t, strings.HasPrefix(id.Email, "parity+"))
		assert.True(t, strings.HasSuffix(id.Email, "@email.com"))
		assert.NotEmpty(t, id.Name)
		assert.Equal(t, DefaultPassword, id.Password)
	}
}

func TestIdentity_Vars(t *testing.T) {
	id := NewIdentity("x")
	vars := id.Vars()
	assert.Equal(t, id.Email, vars["identity.email"])
	assert.Equal(t, id.Name, vars["identity.name"])
	assert.Equal(t, id.Password, vars["identity.password"])
	assert.Equal(t, id.ID, vars["identity.id"])
}

// Package auth obtains bearer tokens for scenarios and produces fresh
// per-scenario identities.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/pitabwire/checkoutparity/internal/client"
	"github.com/pitabwire/checkoutparity/model"
)

// ErrAuthenticationFailed is returned when login does not yield a token.
var ErrAuthenticationFailed = errors.New("auth: authentication failed")

// ErrRegistrationFailed is returned when registering an identity fails.
var ErrRegistrationFailed = errors.New("auth: registration failed")

// Sender is the part of the transport client a Session needs.
type Sender interface {
	Send(ctx context.Context, kind client.Kind, op client.Operation, payload map[string]any, headers http.Header) (*client.Response, error)
}

// Session logs in through the transport client. It holds no token state:
// every Login performs a new request.
type Session struct {
	client Sender
}

// NewSession creates a Session that sends through c.
func NewSession(c Sender) *Session {
	return &Session{client: c}
}

// Login performs exactly one login request and returns the token. A non-2xx
// status, a GraphQL error or an empty token yield ErrAuthenticationFailed
// wrapped with the service's message.
func (s *Session) Login(ctx context.Context, kind client.Kind, creds model.Credentials) (string, error) {
	payload := map[string]any{"email": creds.Email, "password": creds.Password}

	resp, err := s.client.Send(ctx, kind, client.Login, payload, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}
	if resp.Failed() {
		msg := resp.ErrorMessage()
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.Status)
		}
		return "", fmt.Errorf("%w: %s", ErrAuthenticationFailed, msg)
	}

	token, _ := resp.BodyMap()["token"].(string)
	if token == "" {
		return "", fmt.Errorf("%w: empty token", ErrAuthenticationFailed)
	}
	return token, nil
}

// Register creates the identity's account. It is a setup helper; scenarios
// that assert on registration send the request themselves.
func (s *Session) Register(ctx context.Context, kind client.Kind, id Identity) error {
	resp, err := s.client.Send(ctx, kind, client.Register, id.RegisterPayload(), nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRegistrationFailed, err)
	}
	if resp.Failed() {
		return fmt.Errorf("%w: %s", ErrRegistrationFailed, resp.ErrorMessage())
	}
	return nil
}

// RegisterAndLogin registers id and logs it in.
func (s *Session) RegisterAndLogin(ctx context.Context, kind client.Kind, id Identity) (string, error) {
	if err := s.Register(ctx, kind, id); err != nil {
		return "", err
	}
	return s.Login(ctx, kind, id.Credentials())
}

// Identity is a generated account, unique per scenario.
type Identity struct {
	ID       string
	Name     string
	Email    string
	Password string
}

// DefaultPassword is used for generated identities.
const DefaultPassword = "123456"

// NewIdentity returns fresh credentials whose email embeds a random UUID so
// scenarios never share an account. prefix defaults to "parity".
func NewIdentity(prefix string) Identity {
	if prefix == "" {
		prefix = "parity"
	}
	id := uuid.NewString()
	short := strings.SplitN(id, "-", 2)[0]
	return Identity{
		ID:       id,
		Name:     "Parity " + short,
		Email:    fmt.Sprintf("%s+%s@email.com", prefix, id),
		Password: DefaultPassword,
	}
}

// Credentials returns the login payload for the identity.
func (id Identity) Credentials() model.Credentials {
	return model.Credentials{Email: id.Email, Password: id.Password}
}

// RegisterPayload returns the registration payload for the identity.
func (id Identity) RegisterPayload() map[string]any {
	return map[string]any{"name": id.Name, "email": id.Email, "password": id.Password}
}

// Vars exposes the identity as template variables identity.id,
// identity.name, identity.email and identity.password.
func (id Identity) Vars() map[string]string {
	return map[string]string{
		"identity.id":       id.ID,
		"identity.name":     id.Name,
		"identity.email":    id.Email,
		"identity.password": id.Password,
	}
}

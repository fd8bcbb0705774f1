package twin

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/pitabwire/checkoutparity/internal/config"
	"github.com/pitabwire/checkoutparity/internal/observability"
	"github.com/pitabwire/checkoutparity/model"
)

// Twin bundles the reference services over one store.
type Twin struct {
	Store    Store
	Tokens   *TokenIssuer
	Users    *UserService
	Checkout *CheckoutService
}

// Services returns the twin as the capability set the controllers take.
func (t *Twin) Services() model.Services {
	return model.Services{Users: t.Users, Checkout: t.Checkout}
}

// New builds the twin from configuration. metrics may be nil.
func New(cfg *config.Config, metrics *observability.Metrics, logger *zap.Logger) (*Twin, error) {
	store, err := NewStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("user store: %w", err)
	}
	tokens, err := NewTokenIssuer(cfg.Identity)
	if err != nil {
		return nil, err
	}
	return Assemble(store, tokens, metrics, logger), nil
}

// Assemble wires the services over an existing store and issuer.
func Assemble(store Store, tokens *TokenIssuer, metrics *observability.Metrics, logger *zap.Logger, userOpts ...UserOption) *Twin {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := append([]UserOption{WithUserMetrics(metrics), WithUserLogger(logger)}, userOpts...)
	return &Twin{
		Store:    store,
		Tokens:   tokens,
		Users:    NewUserService(store, tokens, opts...),
		Checkout: NewCheckoutService(store, WithCheckoutMetrics(metrics), WithCheckoutLogger(logger)),
	}
}

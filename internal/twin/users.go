// Package twin is the reference implementation of the user and checkout
// services. The controller layer serves it in-process so suites can run
// without an external deployment, and controller-isolated scenarios wrap it
// with interceptors.
package twin

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/pitabwire/checkoutparity/internal/observability"
	"github.com/pitabwire/checkoutparity/model"
)

// UserService registers accounts, logs them in and resolves tokens.
type UserService struct {
	store      Store
	tokens     *TokenIssuer
	validate   *validator.Validate
	bcryptCost int
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// UserOption configures a UserService.
type UserOption func(*UserService)

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) UserOption {
	return func(s *UserService) { s.bcryptCost = cost }
}

// WithUserMetrics counts registrations and logins.
func WithUserMetrics(m *observability.Metrics) UserOption {
	return func(s *UserService) { s.metrics = m }
}

// WithUserLogger sets the logger.
func WithUserLogger(l *zap.Logger) UserOption {
	return func(s *UserService) { s.logger = l }
}

// NewUserService creates a UserService over store and tokens.
func NewUserService(store Store, tokens *TokenIssuer, opts ...UserOption) *UserService {
	s := &UserService{
		store:      store,
		tokens:     tokens,
		validate:   newValidator(),
		bcryptCost: bcrypt.DefaultCost,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates an account. A duplicate email is a conflict.
func (s *UserService) Register(ctx context.Context, in model.RegisterInput) (*model.User, error) {
	if err := validate(s.validate, in); err != nil {
		s.metrics.RecordRegistration("invalid")
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Email:        normalizeEmail(in.Email),
		PasswordHash: string(hash),
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			s.metrics.RecordRegistration("conflict")
			return nil, model.ErrEmailTaken()
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.metrics.RecordRegistration("created")
	observability.RequestLogger(ctx, s.logger).Info("user registered", zap.String("user_id", user.ID))
	return user, nil
}

// Login checks credentials and issues a token. Unknown email and wrong
// password are indistinguishable to the caller.
func (s *UserService) Login(ctx context.Context, creds model.Credentials) (*model.LoginResult, error) {
	if err := validate(s.validate, creds); err != nil {
		s.metrics.RecordLogin("invalid")
		return nil, model.ErrInvalidCredentials()
	}

	user, err := s.store.UserByEmail(ctx, creds.Email)
	if errors.Is(err, ErrUserNotFound) {
		s.metrics.RecordLogin("rejected")
		return nil, model.ErrInvalidCredentials()
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)); err != nil {
		s.metrics.RecordLogin("rejected")
		return nil, model.ErrInvalidCredentials()
	}

	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordLogin("success")
	return &model.LoginResult{Token: token, User: user}, nil
}

// Authenticate resolves a bearer token to its user. Every failure, store
// errors included, is reported as Token inválido.
func (s *UserService) Authenticate(ctx context.Context, token string) (*model.User, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		observability.RequestLogger(ctx, s.logger).Debug("token rejected", zap.Error(err))
		return nil, model.ErrInvalidToken()
	}

	user, err := s.store.UserByID(ctx, claims.Subject)
	if err != nil {
		observability.RequestLogger(ctx, s.logger).Debug("token subject not found",
			zap.String("subject", claims.Subject), zap.Error(err))
		return nil, model.ErrInvalidToken()
	}
	return user, nil
}

// HealthCheck reports the store's health.
func (s *UserService) HealthCheck(ctx context.Context) error {
	return s.store.HealthCheck(ctx)
}

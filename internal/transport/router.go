package transport

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/checkoutparity/internal/config"
	"github.com/pitabwire/checkoutparity/internal/observability"
	"github.com/pitabwire/checkoutparity/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config   *config.Config
	Services model.Services
	Logger   *zap.Logger

	// Optional.
	Metrics   *observability.Metrics
	Gatherer  prometheus.Gatherer
	UserStore observability.HealthChecker
	JWKS      func() map[string]any
}

type handlers struct {
	services model.Services
}

// NewRouter creates a chi.Router with the middleware pipeline, the REST
// routes and the GraphQL endpoint. Health, readiness, metrics and JWKS
// endpoints bypass authentication.
func NewRouter(deps Dependencies) (chi.Router, error) {
	if deps.Services.Users == nil || deps.Services.Checkout == nil {
		return nil, errors.New("transport: user and checkout services are required")
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Defaults()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	schema, err := NewSchema(deps.Services)
	if err != nil {
		return nil, fmt.Errorf("parse graphql schema: %w", err)
	}

	r := chi.NewRouter()

	r.Use(Recovery(logger))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(observability.TracingMiddleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(observability.ReadinessChecks{
		SchemaLoaded: func() bool { return schema != nil },
		UserStore:    deps.UserStore,
	}))
	if deps.Gatherer != nil && cfg.Observability.Metrics.Enabled && cfg.Observability.Metrics.Path != "" {
		r.Method(http.MethodGet, cfg.Observability.Metrics.Path, observability.Handler(deps.Gatherer))
	}
	if deps.JWKS != nil {
		r.Get("/.well-known/jwks.json", func(w http.ResponseWriter, _ *http.Request) {
			WriteJSON(w, http.StatusOK, deps.JWKS())
		})
	}

	h := &handlers{services: deps.Services}

	r.Group(func(r chi.Router) {
		r.Use(RequestLogging(logger))
		r.Use(HandlerTimeout(cfg.Server.HandlerTimeout))

		r.Post("/users/register", h.register)
		r.Post("/users/login", h.login)
		r.With(Authenticate(deps.Services.Users)).Post("/checkout", h.checkout)

		gqlPath := cfg.Targets.GraphQLPath
		if gqlPath == "" {
			gqlPath = "/graphql"
		}
		r.Method(http.MethodPost, gqlPath, NewGraphQLHandler(schema, logger))
	})

	return r, nil
}

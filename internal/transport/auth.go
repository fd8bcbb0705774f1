package transport

import (
	"context"
	"net/http"
	"strings"

	"github.com/pitabwire/checkoutparity/model"
)

type bearerKey struct{}

// BearerToken returns the token of an "Authorization: Bearer <token>"
// header. The scheme is case-insensitive; anything else yields "".
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// withBearer stores the raw bearer token for GraphQL resolvers, which
// authenticate per field instead of per route.
func withBearer(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerKey{}, token)
}

func bearerFrom(ctx context.Context) string {
	token, _ := ctx.Value(bearerKey{}).(string)
	return token
}

// authenticate resolves token through the user service and returns a
// context carrying the caller. A missing token is an invalid token.
func authenticate(ctx context.Context, users model.UserService, token string) (context.Context, *model.User, error) {
	if token == "" {
		return ctx, nil, model.ErrInvalidToken()
	}
	user, err := users.Authenticate(ctx, token)
	if err != nil {
		return ctx, nil, err
	}

	rctx := &model.RequestContext{User: user, Token: token}
	if prev := model.RequestContextFrom(ctx); prev != nil {
		rctx.CorrelationID = prev.CorrelationID
		rctx.TraceID = prev.TraceID
	}
	return model.WithRequestContext(ctx, rctx), user, nil
}

// Authenticate returns middleware that rejects requests without a valid
// bearer token with 401 {"error": "Token inválido"}.
func Authenticate(users model.UserService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, _, err := authenticate(r.Context(), users, BearerToken(r))
			if err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

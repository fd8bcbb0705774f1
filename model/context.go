package model

import (
	"context"
	"errors"
)

// RequestContext carries the authenticated caller and tracing information for
// the lifetime of a request. It is immutable after construction and safe for
// concurrent reads.
type RequestContext struct {
	User          *User
	Token         string
	CorrelationID string
	TraceID       string
}

// Validate checks that the request is bound to a user.
func (rc *RequestContext) Validate() error {
	if rc.User == nil {
		return errors.New("User is required")
	}
	if rc.User.ID == "" {
		return errors.New("User.ID is required")
	}
	return nil
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to the given context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from the context, or returns nil
// if not present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}

// UserFrom returns the authenticated user, or nil.
func UserFrom(ctx context.Context) *User {
	rctx := RequestContextFrom(ctx)
	if rctx == nil {
		return nil
	}
	return rctx.User
}

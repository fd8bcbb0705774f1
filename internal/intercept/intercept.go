// Package intercept wraps the user and checkout services with recording
// stand-ins for controller-isolated scenarios.
//
// The controller layer receives the wrappers from Services. Until an
// operation is intercepted its wrapper passes straight through to the real
// implementation. An intercepted operation records every call and can be
// told to return a fixed value or fail with a fixed error. RestoreAll drops
// every interception; callers defer it so it runs on every exit path.
package intercept

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pitabwire/checkoutparity/internal/observability"
	"github.com/pitabwire/checkoutparity/model"
)

// ErrUnknownOperation is returned for a service/operation pair that cannot
// be intercepted.
var ErrUnknownOperation = errors.New("intercept: unknown operation")

// Operation names accepted by Intercept, as service.operation.
const (
	UsersRegister     = "users.register"
	UsersLogin        = "users.login"
	UsersAuthenticate = "users.authenticate"
	CheckoutCheckout  = "checkout.checkout"
)

var known = map[string]bool{
	UsersRegister:     true,
	UsersLogin:        true,
	UsersAuthenticate: true,
	CheckoutCheckout:  true,
}

// Operations returns the sorted interceptable operation names.
func Operations() []string {
	out := make([]string, 0, len(known))
	for k := range known {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Interceptor owns the handles of one scenario. Safe for concurrent use.
type Interceptor struct {
	real    model.Services
	metrics *observability.Metrics

	mu      sync.Mutex
	handles map[string]*Handle
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithMetrics counts intercepted calls by outcome.
func WithMetrics(m *observability.Metrics) Option {
	return func(i *Interceptor) { i.metrics = m }
}

// New wraps the real services.
func New(real model.Services, opts ...Option) *Interceptor {
	i := &Interceptor{
		real:    real,
		handles: make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Services returns the wrapped capability set to inject into the
// controller layer.
func (i *Interceptor) Services() model.Services {
	return model.Services{
		Users:    &users{i: i},
		Checkout: &checkout{i: i},
	}
}

// Intercept starts recording service.operation and returns its handle.
// Intercepting an operation twice returns the same handle.
func (i *Interceptor) Intercept(service, operation string) (*Handle, error) {
	name := service + "." + operation
	if !known[name] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if h, ok := i.handles[name]; ok {
		return h, nil
	}
	h := &Handle{name: name}
	i.handles[name] = h
	return h, nil
}

// InterceptName is Intercept for a dotted service.operation name.
func (i *Interceptor) InterceptName(name string) (*Handle, error) {
	svc, op, _ := strings.Cut(name, ".")
	return i.Intercept(svc, op)
}

// RestoreAll drops every interception. Wrappers pass through to the real
// services afterwards and handles obtained earlier stop recording.
func (i *Interceptor) RestoreAll() {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, h := range i.handles {
		h.detach()
	}
	i.handles = make(map[string]*Handle)
}

// Active returns the names of the operations currently intercepted.
func (i *Interceptor) Active() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]string, 0, len(i.handles))
	for k := range i.handles {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (i *Interceptor) handle(name string) *Handle {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.handles[name]
}

type outcome int

const (
	passthrough outcome = iota
	forcedReturn
	forcedError
)

func (o outcome) String() string {
	switch o {
	case forcedReturn:
		return "forced_return"
	case forcedError:
		return "forced_error"
	default:
		return "passthrough"
	}
}

// Handle records the calls of one intercepted operation and holds its
// forced outcome.
type Handle struct {
	name string

	mu       sync.Mutex
	detached bool
	calls    [][]any
	outcome  outcome
	value    any
	err      error
}

// Name returns the service.operation name.
func (h *Handle) Name() string { return h.name }

// ForceReturn makes every following call return v without reaching the
// real service. v may be the operation's result type or any value whose
// JSON form decodes into it.
func (h *Handle) ForceReturn(v any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outcome, h.value, h.err = forcedReturn, v, nil
}

// ForceThrow makes every following call fail with a plain error carrying
// message.
func (h *Handle) ForceThrow(message string) {
	h.ForceError(errors.New(message))
}

// ForceError makes every following call fail with err.
func (h *Handle) ForceError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outcome, h.value, h.err = forcedError, nil, err
}

// CallCount returns how many calls were recorded.
func (h *Handle) CallCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

// LastArguments returns the arguments of the latest call, excluding the
// context, or nil when there was none.
func (h *Handle) LastArguments() []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.calls) == 0 {
		return nil
	}
	return append([]any(nil), h.calls[len(h.calls)-1]...)
}

// Calls returns the arguments of every recorded call in order.
func (h *Handle) Calls() [][]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]any, len(h.calls))
	for i, c := range h.calls {
		out[i] = append([]any(nil), c...)
	}
	return out
}

func (h *Handle) detach() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detached = true
	h.outcome, h.value, h.err = passthrough, nil, nil
}

// record stores args and returns the outcome to apply.
func (h *Handle) record(args []any) (outcome, any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.detached {
		return passthrough, nil, nil
	}
	h.calls = append(h.calls, args)
	return h.outcome, h.value, h.err
}

// call routes one service call through the handle for op, if any.
func call[T any](ctx context.Context, i *Interceptor, op string, args []any, real func(context.Context) (T, error)) (T, error) {
	h := i.handle(op)
	if h == nil {
		return real(ctx)
	}

	out, v, err := h.record(args)
	i.metrics.RecordInterceptedCall(op, out.String())

	switch out {
	case forcedError:
		var zero T
		return zero, err
	case forcedReturn:
		return convert[T](v)
	default:
		return real(ctx)
	}
}

// convert returns v as T, going through JSON when v is a generic document.
func convert[T any](v any) (T, error) {
	if t, ok := v.(T); ok {
		return t, nil
	}
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("intercept: encoding forced return: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("intercept: forced return does not fit %T: %w", out, err)
	}
	return out, nil
}

type users struct{ i *Interceptor }

func (u *users) Register(ctx context.Context, in model.RegisterInput) (*model.User, error) {
	return call(ctx, u.i, UsersRegister, []any{in}, func(ctx context.Context) (*model.User, error) {
		return u.i.real.Users.Register(ctx, in)
	})
}

func (u *users) Login(ctx context.Context, creds model.Credentials) (*model.LoginResult, error) {
	return call(ctx, u.i, UsersLogin, []any{creds}, func(ctx context.Context) (*model.LoginResult, error) {
		return u.i.real.Users.Login(ctx, creds)
	})
}

func (u *users) Authenticate(ctx context.Context, token string) (*model.User, error) {
	return call(ctx, u.i, UsersAuthenticate, []any{token}, func(ctx context.Context) (*model.User, error) {
		return u.i.real.Users.Authenticate(ctx, token)
	})
}

type checkout struct{ i *Interceptor }

func (c *checkout) Checkout(ctx context.Context, user *model.User, in model.CheckoutInput) (*model.CheckoutSummary, error) {
	return call(ctx, c.i, CheckoutCheckout, []any{user, in}, func(ctx context.Context) (*model.CheckoutSummary, error) {
		return c.i.real.Checkout.Checkout(ctx, user, in)
	})
}

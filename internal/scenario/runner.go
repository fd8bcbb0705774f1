package scenario

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pitabwire/checkoutparity/internal/auth"
	"github.com/pitabwire/checkoutparity/internal/client"
	"github.com/pitabwire/checkoutparity/internal/config"
	"github.com/pitabwire/checkoutparity/internal/contract"
	"github.com/pitabwire/checkoutparity/internal/fixture"
	"github.com/pitabwire/checkoutparity/internal/intercept"
	"github.com/pitabwire/checkoutparity/internal/observability"
	"github.com/pitabwire/checkoutparity/internal/transport"
	"github.com/pitabwire/checkoutparity/model"
)

// State is a scenario's position in its lifecycle.
type State string

const (
	Idle     State = "idle"
	Arranged State = "arranged"
	Acted    State = "acted"
	Asserted State = "asserted"
	Passed   State = "passed"
	Failed   State = "failed"
)

var transitions = map[State][]State{
	Idle:     {Arranged, Failed},
	Arranged: {Acted, Failed},
	Acted:    {Asserted, Failed},
	Asserted: {Passed, Failed},
}

// Failure clauses outside the expectation block.
const (
	ClauseArrange = "arrange"
	ClauseAct     = "act"
	ClausePanic   = "panic"
)

// maxRawBytes bounds the raw response kept in a failed Result.
const maxRawBytes = 4096

// ErrNoServices is reported for a controller-isolated scenario when the
// runner has no in-process services to intercept.
var ErrNoServices = errors.New("scenario: controller-isolated scenarios need in-process services")

// Result is the outcome of one scenario.
type Result struct {
	Scenario  string        `json:"scenario"`
	Transport string        `json:"transport"`
	Isolation string        `json:"isolation"`
	State     State         `json:"state"`
	Clause    string        `json:"clause,omitempty"`
	Message   string        `json:"message,omitempty"`
	Status    int           `json:"status,omitempty"`
	Raw       string        `json:"raw,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
}

// Passed reports whether the scenario ended in the Passed state.
func (r Result) Passed() bool { return r.State == Passed }

// Runner executes scenarios. Safe for concurrent use; every scenario owns
// its identity, token, interceptor and host.
type Runner struct {
	cfg      *config.Config
	client   *client.Client
	fixtures *fixture.Store
	contract *contract.Index
	services *model.Services
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithServices enables controller-isolated scenarios over s.
func WithServices(s model.Services) Option {
	return func(r *Runner) { r.services = &s }
}

// WithContract replaces the embedded OpenAPI contract.
func WithContract(idx *contract.Index) Option {
	return func(r *Runner) { r.contract = idx }
}

// WithMetrics records scenario outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithLogger sets the runner's logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// New creates a Runner that sends through c and reads fixtures from
// fixtures. The embedded OpenAPI contract is loaded unless WithContract is
// given.
func New(cfg *config.Config, c *client.Client, fixtures *fixture.Store, opts ...Option) (*Runner, error) {
	if cfg == nil {
		cfg = config.Defaults()
	}
	r := &Runner{
		cfg:      cfg,
		client:   c,
		fixtures: fixtures,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.contract == nil {
		idx, err := contract.Default()
		if err != nil {
			return nil, err
		}
		r.contract = idx
	}
	return r, nil
}

// RunSuite runs the sequential scenarios in order, then the parallel ones
// concurrently, at most suite.parallelism at a time. Scenarios with
// transport "both" are expanded first. Results keep the expanded order.
func (r *Runner) RunSuite(ctx context.Context, scenarios []Scenario) *Report {
	start := time.Now()
	scenarios = Expand(scenarios)
	results := make([]Result, len(scenarios))

	var parallel []int
	for i, s := range scenarios {
		if s.Parallel {
			parallel = append(parallel, i)
			continue
		}
		results[i] = r.Run(ctx, s)
	}

	var g errgroup.Group
	g.SetLimit(max(1, r.cfg.Suite.Parallelism))
	for _, i := range parallel {
		g.Go(func() error {
			results[i] = r.Run(ctx, scenarios[i])
			return nil
		})
	}
	_ = g.Wait()

	return NewReport(results, time.Since(start))
}

// Run executes one scenario to a terminal state. It never panics: a panic
// in any phase fails the scenario. Interceptor restoration and host
// shutdown run on every exit path.
func (r *Runner) Run(ctx context.Context, s Scenario) (res Result) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "scenario.run",
		observability.AttrScenario.String(s.Name),
		observability.AttrTransport.String(s.Transport),
		observability.AttrIsolation.String(s.IsolationMode()),
	)
	if d := r.cfg.Suite.ScenarioTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	ex := &execution{runner: r, scenario: s, state: Idle, client: r.client}
	logger := r.logger.With(
		zap.String("scenario", s.Name),
		zap.String("transport", s.Transport),
		zap.String("isolation", s.IsolationMode()),
	)

	defer func() {
		if p := recover(); p != nil {
			ex.failure = &failure{clause: ClausePanic, message: fmt.Sprint(p)}
			ex.state = Failed
		}
		res = ex.result()
		res.Duration = time.Since(start)

		r.metrics.RecordScenario(s.Transport, s.IsolationMode(), res.Passed(), res.Duration)
		var spanErr error
		if !res.Passed() {
			r.metrics.RecordAssertionFailure(res.Clause)
			span.SetAttributes(observability.AttrClause.String(res.Clause))
			spanErr = errors.New(res.Message)
			logger.Warn("scenario failed",
				zap.String("clause", res.Clause),
				zap.String("message", res.Message),
				zap.Int("status", res.Status),
				zap.Duration("duration", res.Duration),
			)
		} else {
			logger.Info("scenario passed", zap.Duration("duration", res.Duration))
		}
		observability.EndSpanWithError(span, spanErr)
	}()
	defer ex.teardown(ctx, logger)

	logger.Debug("scenario started")
	if f := ex.arrange(ctx); f != nil {
		ex.fail(f)
		return
	}
	ex.advance(Arranged)

	if f := ex.act(ctx, logger); f != nil {
		ex.fail(f)
		return
	}
	ex.advance(Acted)

	f := ex.assert()
	ex.advance(Asserted)
	if f != nil {
		ex.fail(f)
		return
	}
	ex.advance(Passed)
	return
}

type failure struct {
	clause  string
	message string
	resp    *client.Response
}

func failf(clause string, resp *client.Response, format string, args ...any) *failure {
	return &failure{clause: clause, message: fmt.Sprintf(format, args...), resp: resp}
}

// execution is the mutable state of one scenario run.
type execution struct {
	runner   *Runner
	scenario Scenario
	state    State
	failure  *failure

	client   *client.Client
	identity auth.Identity
	vars     map[string]string
	token    string

	interceptor *intercept.Interceptor
	handles     map[string]*intercept.Handle
	host        *transport.Host

	op   client.Operation
	resp *client.Response
}

func (ex *execution) advance(to State) {
	for _, allowed := range transitions[ex.state] {
		if allowed == to {
			ex.state = to
			return
		}
	}
	panic(fmt.Sprintf("scenario: invalid transition %s -> %s", ex.state, to))
}

func (ex *execution) fail(f *failure) {
	ex.failure = f
	ex.advance(Failed)
}

func (ex *execution) result() Result {
	res := Result{
		Scenario:  ex.scenario.Name,
		Transport: ex.scenario.Transport,
		Isolation: ex.scenario.IsolationMode(),
		State:     ex.state,
	}
	if ex.resp != nil {
		res.Status = ex.resp.Status
	}
	if ex.failure != nil {
		res.Clause = ex.failure.clause
		res.Message = ex.failure.message
		resp := ex.failure.resp
		if resp == nil {
			resp = ex.resp
		}
		if resp != nil {
			res.Status = resp.Status
			raw := resp.Raw
			if len(raw) > maxRawBytes {
				raw = raw[:maxRawBytes]
			}
			res.Raw = string(raw)
		}
	}
	return res
}

// teardown restores interceptions and stops the host. It uses a context
// detached from ctx so it still runs after cancellation.
func (ex *execution) teardown(ctx context.Context, logger *zap.Logger) {
	if ex.interceptor != nil {
		ex.interceptor.RestoreAll()
	}
	if ex.host != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ex.runner.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := ex.host.Close(shutdownCtx); err != nil {
			logger.Warn("controller host shutdown failed", zap.Error(err))
		}
	}
}

func (ex *execution) arrange(ctx context.Context) *failure {
	r := ex.runner
	s := ex.scenario
	kind := s.Kind()

	ex.identity = auth.NewIdentity(r.cfg.Suite.IdentityPrefix)
	ex.vars = ex.identity.Vars()

	if s.IsolationMode() == ControllerIsolated {
		if f := ex.startHost(); f != nil {
			return f
		}
	}

	session := auth.NewSession(ex.client)
	for i, step := range s.Setup {
		switch step.Do {
		case StepRegister:
			if err := session.Register(ctx, kind, ex.identity); err != nil {
				return failf(ClauseArrange, nil, "setup[%d] register: %v", i, err)
			}
		case StepLogin:
			token, err := session.Login(ctx, kind, ex.identity.Credentials())
			if err != nil {
				return failf(ClauseArrange, nil, "setup[%d] login: %v", i, err)
			}
			ex.token = token
		case StepSend:
			op, err := client.LookupOperation(step.Operation)
			if err != nil {
				return failf(ClauseArrange, nil, "setup[%d]: %v", i, err)
			}
			payload, err := ex.payload(step.Request, step.Payload)
			if err != nil {
				return failf(ClauseArrange, nil, "setup[%d]: %v", i, err)
			}
			var headers http.Header
			if ex.token != "" {
				headers = client.WithBearer(nil, ex.token)
			}
			resp, err := ex.client.Send(ctx, kind, op, payload, headers)
			if err != nil {
				return failf(ClauseArrange, resp, "setup[%d] %s: %v", i, op.Name, err)
			}
			if resp.Failed() && !step.AllowFailure {
				return failf(ClauseArrange, resp, "setup[%d] %s failed: %s", i, op.Name, resp.ErrorMessage())
			}
		default:
			return failf(ClauseArrange, nil, "setup[%d]: unknown step %q", i, step.Do)
		}
	}

	if s.Auth != nil {
		switch {
		case s.Auth.Login:
			token, err := session.Login(ctx, kind, ex.identity.Credentials())
			if err != nil {
				return failf(ClauseArrange, nil, "auth login: %v", err)
			}
			ex.token = token
		case s.Auth.Token != "":
			token, err := expandString(s.Auth.Token, ex.vars)
			if err != nil {
				return failf(ClauseArrange, nil, "auth token: %v", err)
			}
			ex.token = token
		}
	}

	return ex.applyInterceptions()
}

// startHost serves the controller layer over intercepted services on a
// loopback port and points the scenario's client at it.
func (ex *execution) startHost() *failure {
	r := ex.runner
	if r.services == nil {
		return failf(ClauseArrange, nil, "%v", ErrNoServices)
	}
	ex.interceptor = intercept.New(*r.services, intercept.WithMetrics(r.metrics))
	ex.handles = make(map[string]*intercept.Handle)

	router, err := transport.NewRouter(transport.Dependencies{
		Config:   r.cfg,
		Services: ex.interceptor.Services(),
		Logger:   r.logger,
		Metrics:  r.metrics,
	})
	if err != nil {
		return failf(ClauseArrange, nil, "controller router: %v", err)
	}
	host, err := transport.StartHost("127.0.0.1:0", router, r.logger)
	if err != nil {
		return failf(ClauseArrange, nil, "controller host: %v", err)
	}
	ex.host = host
	ex.client = ex.client.WithTargets(host.URL(), host.URL())
	return nil
}

// applyInterceptions runs after setup and auth so call records only see
// the primary request.
func (ex *execution) applyInterceptions() *failure {
	if len(ex.scenario.Intercept) > 0 && ex.interceptor == nil {
		return failf(ClauseArrange, nil, "interceptions need isolation %s", ControllerIsolated)
	}
	for i, spec := range ex.scenario.Intercept {
		h, err := ex.interceptor.InterceptName(spec.Operation)
		if err != nil {
			return failf(ClauseArrange, nil, "intercept[%d]: %v", i, err)
		}
		ex.handles[spec.Operation] = h

		switch {
		case spec.Return != nil:
			v, err := expand(spec.Return, ex.vars)
			if err != nil {
				return failf(ClauseArrange, nil, "intercept[%d] return: %v", i, err)
			}
			h.ForceReturn(v)
		case spec.Throw != "":
			h.ForceThrow(spec.Throw)
		case spec.Error != nil:
			h.ForceError(&model.DomainError{Kind: model.Kind(spec.Error.Kind), Message: spec.Error.Message})
		}
	}
	return nil
}

func (ex *execution) act(ctx context.Context, logger *zap.Logger) *failure {
	a := ex.scenario.Action
	op, err := client.LookupOperation(a.Operation)
	if err != nil {
		return failf(ClauseAct, nil, "%v", err)
	}
	ex.op = op

	payload, err := ex.payload(a.Request, a.Payload)
	if err != nil {
		return failf(ClauseAct, nil, "%v", err)
	}

	headers := make(http.Header)
	for k, v := range a.Headers {
		ev, err := expandString(v, ex.vars)
		if err != nil {
			return failf(ClauseAct, nil, "header %s: %v", k, err)
		}
		headers.Set(k, ev)
	}
	if ex.token != "" {
		headers = client.WithBearer(headers, ex.token)
	}

	logger.Debug("sending primary request",
		zap.String("operation", op.Name),
		zap.Any("payload", observability.RedactBody(payload)),
	)
	resp, err := ex.client.Send(ctx, ex.scenario.Kind(), op, payload, headers)
	if err != nil {
		return failf(ClauseAct, resp, "%v", err)
	}
	ex.resp = resp
	return nil
}

// payload builds a request from the named fixture overlaid with inline
// entries, then expands identity placeholders.
func (ex *execution) payload(request string, inline map[string]any) (map[string]any, error) {
	doc := make(map[string]any)
	if request != "" {
		fx, err := ex.runner.fixtures.Request(request)
		if err != nil {
			return nil, err
		}
		doc = fx
	}
	for k, v := range inline {
		doc[k] = v
	}
	return expandMap(doc, ex.vars)
}

// Package client sends checkout operations over REST or GraphQL and
// normalizes the responses so both transports can be asserted the same way.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/checkoutparity/internal/observability"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 10 << 20

// ErrMalformedResponse is returned when a response body cannot be decoded.
var ErrMalformedResponse = errors.New("client: malformed response")

// GraphQLError is one entry of a GraphQL errors list.
type GraphQLError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Response is the normalized result of one request.
//
// For REST, Body is the decoded JSON body. For GraphQL, Body is
// data.<rootField> and Errors holds the top-level errors list, so the same
// response fixture fits either transport.
type Response struct {
	Kind      Kind
	Operation string
	Status    int
	Headers   http.Header
	Body      any
	Errors    []GraphQLError
	Raw       []byte
}

// Failed reports whether the response carries a domain error: a non-2xx
// REST status, or a non-empty GraphQL errors list.
func (r *Response) Failed() bool {
	if r.Kind == GraphQL {
		return len(r.Errors) > 0
	}
	return r.Status < 200 || r.Status > 299
}

// ErrorMessage returns the canonical error text: body.error for REST and
// errors[0].message for GraphQL. Empty when there is none.
func (r *Response) ErrorMessage() string {
	if r.Kind == GraphQL {
		if len(r.Errors) == 0 {
			return ""
		}
		return r.Errors[0].Message
	}
	if m, ok := r.Body.(map[string]any); ok {
		if s, ok := m["error"].(string); ok {
			return s
		}
	}
	return ""
}

// BodyMap returns Body as an object, or nil.
func (r *Response) BodyMap() map[string]any {
	m, _ := r.Body.(map[string]any)
	return m
}

// TransportError is returned when a request produced no usable response.
// It names the operation and carries the redacted payload for diagnosis.
type TransportError struct {
	Kind      Kind
	Operation string
	Payload   map[string]any
	Raw       []byte
	Err       error
}

func (e *TransportError) Error() string {
	payload, _ := json.Marshal(e.Payload)
	msg := fmt.Sprintf("client: %s %s failed: %v (payload %s)", e.Kind, e.Operation, e.Err, payload)
	if len(e.Raw) > 0 {
		msg += fmt.Sprintf(" (raw response %q)", truncate(e.Raw, 512))
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client issues single-attempt requests against the configured targets.
// Safe for concurrent use.
type Client struct {
	http        *http.Client
	restBase    string
	graphqlBase string
	graphqlPath string
	metrics     *observability.Metrics
	logger      *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds each request, in addition to the context deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d, Transport: c.http.Transport}
		}
	}
}

// WithGraphQLPath overrides the GraphQL endpoint path (default /graphql).
func WithGraphQLPath(p string) Option {
	return func(c *Client) {
		if p != "" {
			c.graphqlPath = p
		}
	}
}

// WithMetrics records request counts and durations.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger logs redacted request and response bodies at debug level.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the given REST and GraphQL base URLs.
func New(restBaseURL, graphqlBaseURL string, opts ...Option) *Client {
	c := &Client{
		http:        &http.Client{},
		restBase:    strings.TrimRight(restBaseURL, "/"),
		graphqlBase: strings.TrimRight(graphqlBaseURL, "/"),
		graphqlPath: "/graphql",
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithTargets returns a copy of the client pointed at different base URLs.
func (c *Client) WithTargets(restBaseURL, graphqlBaseURL string) *Client {
	cp := *c
	cp.restBase = strings.TrimRight(restBaseURL, "/")
	cp.graphqlBase = strings.TrimRight(graphqlBaseURL, "/")
	return &cp
}

// Targets returns the REST and GraphQL base URLs.
func (c *Client) Targets() (rest, graphql string) {
	return c.restBase, c.graphqlBase
}

// WithBearer returns a copy of headers with Authorization set to
// "Bearer <token>". The token is forwarded verbatim, malformed or not.
func WithBearer(headers http.Header, token string) http.Header {
	h := headers.Clone()
	if h == nil {
		h = make(http.Header)
	}
	h.Set("Authorization", "Bearer "+token)
	return h
}

// Send performs exactly one request for op over kind. A non-nil error means
// no usable response was obtained; domain errors are reported through the
// Response, never as an error.
func (c *Client) Send(ctx context.Context, kind Kind, op Operation, payload map[string]any, headers http.Header) (*Response, error) {
	ctx, span := observability.StartClientSpan(ctx, "client."+op.Name,
		observability.AttrTransport.String(string(kind)),
		observability.AttrOperation.String(op.Name),
	)

	start := time.Now()
	resp, err := c.send(ctx, kind, op, payload, headers)

	status := 0
	if resp != nil {
		status = resp.Status
	}
	c.metrics.RecordClientRequest(string(kind), op.Name, status, time.Since(start))
	observability.EndSpanWithError(span, err)

	if err != nil {
		var raw []byte
		if resp != nil {
			raw = resp.Raw
		}
		return resp, &TransportError{
			Kind:      kind,
			Operation: op.Name,
			Payload:   observability.RedactBody(payload),
			Raw:       raw,
			Err:       err,
		}
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, kind Kind, op Operation, payload map[string]any, headers http.Header) (*Response, error) {
	var (
		reqURL string
		body   any
	)
	switch kind {
	case REST:
		reqURL = c.restBase + op.Path
		body = payload
		if body == nil {
			body = map[string]any{}
		}
	case GraphQL:
		reqURL = c.graphqlBase + c.graphqlPath
		vars := payload
		if vars == nil {
			vars = map[string]any{}
		}
		body = map[string]any{"query": op.Query, "variables": vars}
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	method := op.Method
	if kind == GraphQL || method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	observability.InjectTraceHeaders(ctx, req.Header)

	c.logger.Debug("client request",
		zap.String("transport", string(kind)),
		zap.String("operation", op.Name),
		zap.String("url", reqURL),
		zap.Any("payload", observability.RedactBody(payload)),
	)

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	resp := &Response{
		Kind:      kind,
		Operation: op.Name,
		Status:    httpResp.StatusCode,
		Headers:   httpResp.Header,
		Raw:       raw,
	}

	if kind == REST {
		err = decodeREST(resp)
	} else {
		err = decodeGraphQL(resp, op.RootField)
	}
	if err != nil {
		return resp, err
	}

	c.logger.Debug("client response",
		zap.String("transport", string(kind)),
		zap.String("operation", op.Name),
		zap.Int("status", resp.Status),
		zap.Int("errors", len(resp.Errors)),
	)
	return resp, nil
}

func decodeREST(resp *Response) error {
	if len(bytes.TrimSpace(resp.Raw)) == 0 {
		return nil
	}
	var body any
	if err := json.Unmarshal(resp.Raw, &body); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	resp.Body = body
	return nil
}

func decodeGraphQL(resp *Response, rootField string) error {
	var envelope struct {
		Data   map[string]any `json:"data"`
		Errors []GraphQLError `json:"errors"`
	}
	if err := json.Unmarshal(resp.Raw, &envelope); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	resp.Errors = envelope.Errors
	if envelope.Data != nil {
		resp.Body = envelope.Data[rootField]
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

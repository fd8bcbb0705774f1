package scenario

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/pitabwire/checkoutparity/internal/client"
	"github.com/pitabwire/checkoutparity/internal/equivalence"
)

// Assertion clauses in evaluation order.
const (
	ClauseTransport    = "transport"
	ClauseStatus       = "status"
	ClauseErrorMessage = "error_message"
	ClauseFixture      = "fixture"
	ClauseBody         = "body"
	ClauseNonEmpty     = "non_empty"
	ClauseCalls        = "calls"
	ClauseSchema       = "schema"
	ClauseNoErrors     = "no_errors"
)

type clause struct {
	name  string
	check func(ex *execution) *failure
}

var clauses = []clause{
	{ClauseTransport, checkTransport},
	{ClauseStatus, checkStatus},
	{ClauseErrorMessage, checkErrorMessage},
	{ClauseFixture, checkFixture},
	{ClauseBody, checkBody},
	{ClauseNonEmpty, checkNonEmpty},
	{ClauseCalls, checkCalls},
	{ClauseSchema, checkSchema},
	{ClauseNoErrors, checkNoErrors},
}

// Clauses returns the assertion clause names in evaluation order.
func Clauses() []string {
	out := make([]string, len(clauses))
	for i, c := range clauses {
		out[i] = c.name
	}
	return out
}

// assert evaluates every clause and returns the first failure.
func (ex *execution) assert() *failure {
	for _, c := range clauses {
		if f := c.check(ex); f != nil {
			return f
		}
	}
	return nil
}

func (ex *execution) reject(clause, format string, args ...any) *failure {
	return failf(clause, ex.resp, format, args...)
}

// document is the response as assertions see it: the REST body, the
// GraphQL root field, or {"error": message} for a GraphQL error, so one
// error fixture fits both transports.
func (ex *execution) document() any {
	if ex.resp.Kind == client.GraphQL && ex.resp.Failed() {
		return map[string]any{"error": ex.resp.ErrorMessage()}
	}
	return ex.resp.Body
}

func checkTransport(ex *execution) *failure {
	if ex.resp.Kind == client.GraphQL && ex.resp.Status != http.StatusOK {
		return ex.reject(ClauseTransport, "graphql status %d, want 200", ex.resp.Status)
	}
	return nil
}

func checkStatus(ex *execution) *failure {
	want := ex.scenario.Expect.Status
	if want == 0 || ex.resp.Kind != client.REST {
		return nil
	}
	if ex.resp.Status != want {
		return ex.reject(ClauseStatus, "status %d, want %d", ex.resp.Status, want)
	}
	return nil
}

func checkErrorMessage(ex *execution) *failure {
	want := ex.scenario.Expect.ErrorMessage
	if want == "" {
		return nil
	}
	if !ex.resp.Failed() {
		return ex.reject(ClauseErrorMessage, "expected error %q, request succeeded", want)
	}
	if got := ex.resp.ErrorMessage(); got != want {
		return ex.reject(ClauseErrorMessage, "error %q, want %q", got, want)
	}
	return nil
}

func checkFixture(ex *execution) *failure {
	name := ex.scenario.Expect.Fixture
	if name == "" {
		return nil
	}
	doc, err := ex.runner.fixtures.Response(name)
	if err != nil {
		return ex.reject(ClauseFixture, "%v", err)
	}
	expected, err := expand(doc, ex.vars)
	if err != nil {
		return ex.reject(ClauseFixture, "fixture %s: %v", name, err)
	}
	if res := equivalence.Compare(ex.document(), expected, ex.scenario.Expect.Exclude...); !res.Match {
		return ex.reject(ClauseFixture, "fixture %s: %s", name, res)
	}
	return nil
}

func checkBody(ex *execution) *failure {
	if ex.scenario.Expect.Body == nil {
		return nil
	}
	expected, err := expand(ex.scenario.Expect.Body, ex.vars)
	if err != nil {
		return ex.reject(ClauseBody, "%v", err)
	}
	if res := equivalence.Compare(ex.document(), expected, ex.scenario.Expect.Exclude...); !res.Match {
		return ex.reject(ClauseBody, "%s", res)
	}
	return nil
}

func checkNonEmpty(ex *execution) *failure {
	doc := ex.document()
	for _, path := range ex.scenario.Expect.NonEmpty {
		v, ok := valueAt(doc, path)
		if !ok {
			return ex.reject(ClauseNonEmpty, "%s: missing", path)
		}
		if s, _ := v.(string); s == "" {
			return ex.reject(ClauseNonEmpty, "%s: want a non-empty string, got %#v", path, v)
		}
	}
	return nil
}

func checkCalls(ex *execution) *failure {
	for _, c := range ex.scenario.Expect.Calls {
		h, ok := ex.handles[c.Operation]
		if !ok {
			return ex.reject(ClauseCalls, "%s is not intercepted", c.Operation)
		}
		if c.Count != nil && h.CallCount() != *c.Count {
			return ex.reject(ClauseCalls, "%s called %d times, want %d", c.Operation, h.CallCount(), *c.Count)
		}
		if len(c.Args) == 0 {
			continue
		}
		last := h.LastArguments()
		if last == nil {
			return ex.reject(ClauseCalls, "%s was never called", c.Operation)
		}
		for i, want := range c.Args {
			if want == nil {
				continue
			}
			if i >= len(last) {
				return ex.reject(ClauseCalls, "%s: argument %d missing", c.Operation, i)
			}
			expected, err := expand(want, ex.vars)
			if err != nil {
				return ex.reject(ClauseCalls, "%s: argument %d: %v", c.Operation, i, err)
			}
			if res := equivalence.Compare(last[i], expected, c.Exclude...); !res.Match {
				return ex.reject(ClauseCalls, "%s: argument %d: %s", c.Operation, i, res)
			}
		}
	}
	return nil
}

func checkSchema(ex *execution) *failure {
	if !ex.scenario.Expect.Schema || ex.resp.Kind != client.REST {
		return nil
	}
	errs := ex.runner.contract.ValidateResponse(ex.op.Method, ex.op.Path, ex.resp.Status, ex.resp.Body)
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.String()
	}
	return ex.reject(ClauseSchema, "%s %s %d: %s", ex.op.Method, ex.op.Path, ex.resp.Status, strings.Join(msgs, "; "))
}

func checkNoErrors(ex *execution) *failure {
	if !ex.scenario.Expect.NoErrors {
		return nil
	}
	if ex.resp.Failed() {
		return ex.reject(ClauseNoErrors, "unexpected error (status %d): %s", ex.resp.Status, ex.resp.ErrorMessage())
	}
	return nil
}

// valueAt resolves a dot path such as items.0.productId in a decoded JSON
// document.
func valueAt(doc any, path string) (any, bool) {
	cur := doc
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Package scenario loads contract scenarios from YAML suite files and runs
// them against the checkout service over REST or GraphQL.
//
// A scenario moves through Idle, Arranged, Acted and Asserted before it
// ends Passed or Failed. Arrange generates a fresh identity, runs setup steps,
// acquires a token and, for controller-isolated scenarios, starts an
// in-process controller host over intercepted services. Act sends exactly one
// request. Assert evaluates the expectation clauses in a fixed order and
// reports the first one that fails.
package scenario

import (
	"fmt"

	"github.com/pitabwire/checkoutparity/internal/client"
)

// Isolation modes.
const (
	EndToEnd           = "end-to-end"
	ControllerIsolated = "controller-isolated"
)

// TransportBoth expands a scenario into one run per transport.
const TransportBoth = "both"

// Setup step kinds.
const (
	StepRegister = "register"
	StepLogin    = "login"
	StepSend     = "send"
)

// Suite is the top-level document of a suite file.
type Suite struct {
	Name      string     `yaml:"name"`
	Scenarios []Scenario `yaml:"scenarios"`

	// Checksum is the SHA-256 of the source file.
	Checksum   string `yaml:"-"`
	SourceFile string `yaml:"-"`
}

// Scenario is one contract test case.
type Scenario struct {
	Name      string         `yaml:"name"`
	Transport string         `yaml:"transport"`
	Isolation string         `yaml:"isolation,omitempty"`
	Parallel  bool           `yaml:"parallel,omitempty"`
	Setup     []Step         `yaml:"setup,omitempty"`
	Auth      *AuthSpec      `yaml:"auth,omitempty"`
	Intercept []Interception `yaml:"intercept,omitempty"`
	Action    Action         `yaml:"action"`
	Expect    Expectation    `yaml:"expect"`
}

// Kind returns the scenario's transport. Only valid after Expand.
func (s Scenario) Kind() client.Kind {
	return client.Kind(s.Transport)
}

// IsolationMode returns the isolation mode, defaulting to end-to-end.
func (s Scenario) IsolationMode() string {
	if s.Isolation == "" {
		return EndToEnd
	}
	return s.Isolation
}

// Step is a setup action run before the primary request.
//
// register creates the scenario identity's account, login acquires a token
// for it, and send issues an operation that must succeed unless
// AllowFailure is set.
type Step struct {
	Do           string         `yaml:"do"`
	Operation    string         `yaml:"operation,omitempty"`
	Request      string         `yaml:"request,omitempty"`
	Payload      map[string]any `yaml:"payload,omitempty"`
	AllowFailure bool           `yaml:"allow_failure,omitempty"`
}

// AuthSpec selects the bearer token of the primary request. Login logs the
// scenario identity in; Token is sent verbatim.
type AuthSpec struct {
	Login bool   `yaml:"login,omitempty"`
	Token string `yaml:"token,omitempty"`
}

// Interception configures one intercepted service operation. At most one
// of Return, Throw or Error may be set; none means record only.
type Interception struct {
	Operation string       `yaml:"operation"`
	Return    any          `yaml:"return,omitempty"`
	Throw     string       `yaml:"throw,omitempty"`
	Error     *ForcedError `yaml:"error,omitempty"`
}

// ForcedError is a domain error an interception fails with.
type ForcedError struct {
	Kind    string `yaml:"kind"`
	Message string `yaml:"message"`
}

// Action is the primary request. Payload entries override the request
// fixture's top-level keys.
type Action struct {
	Operation string            `yaml:"operation"`
	Request   string            `yaml:"request,omitempty"`
	Payload   map[string]any    `yaml:"payload,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
}

// Expectation holds the assertion clauses. Unset clauses are skipped.
type Expectation struct {
	// Status is the literal REST status. Ignored for GraphQL, where the
	// transport clause requires 200.
	Status       int             `yaml:"status,omitempty"`
	ErrorMessage string          `yaml:"error_message,omitempty"`
	Fixture      string          `yaml:"fixture,omitempty"`
	Exclude      []string        `yaml:"exclude,omitempty"`
	Body         any             `yaml:"body,omitempty"`
	NonEmpty     []string        `yaml:"non_empty,omitempty"`
	Calls        []CallAssertion `yaml:"calls,omitempty"`

	// Schema validates a REST body against the OpenAPI contract.
	Schema   bool `yaml:"schema,omitempty"`
	NoErrors bool `yaml:"no_errors,omitempty"`
}

// CallAssertion checks what an intercepted operation received. Args are
// compared positionally against the last call; a null entry matches
// anything.
type CallAssertion struct {
	Operation string   `yaml:"operation"`
	Count     *int     `yaml:"count,omitempty"`
	Args      []any    `yaml:"args,omitempty"`
	Exclude   []string `yaml:"exclude,omitempty"`
}

// Expand returns the scenarios with transport "both" split into a REST and
// a GraphQL run named "<name> [rest]" and "<name> [graphql]".
func Expand(scenarios []Scenario) []Scenario {
	out := make([]Scenario, 0, len(scenarios))
	for _, s := range scenarios {
		if s.Transport != TransportBoth {
			out = append(out, s)
			continue
		}
		for _, kind := range client.Kinds {
			cp := s
			cp.Transport = string(kind)
			cp.Name = fmt.Sprintf("%s [%s]", s.Name, kind)
			out = append(out, cp)
		}
	}
	return out
}

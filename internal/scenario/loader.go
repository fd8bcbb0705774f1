package scenario

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/checkoutparity/internal/client"
	"github.com/pitabwire/checkoutparity/internal/fixture"
	"github.com/pitabwire/checkoutparity/internal/intercept"
	"github.com/pitabwire/checkoutparity/model"
)

// LoadFile reads and strictly decodes a suite file. Unknown keys are errors.
func LoadFile(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	suite, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	suite.SourceFile = path
	return suite, nil
}

// LoadAll loads every *.yaml and *.yml suite file under dir.
func LoadAll(dir string) ([]*Suite, error) {
	var suites []*Suite
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		s, err := LoadFile(path)
		if err != nil {
			return err
		}
		suites = append(suites, s)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
	}
	return suites, nil
}

// Parse strictly decodes a suite document and records its checksum.
func Parse(data []byte) (*Suite, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var suite Suite
	if err := dec.Decode(&suite); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty suite document")
		}
		return nil, err
	}
	suite.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	return &suite, nil
}

// VError describes a single validation error in a suite.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors aggregates every problem found in a suite.
type ValidationErrors []VError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return "invalid suite:\n  " + strings.Join(msgs, "\n  ")
}

// Validate checks a suite structurally and, when fixtures is non-nil,
// referentially against the fixture store. It returns nil for a valid suite.
func Validate(suite *Suite, fixtures *fixture.Store) error {
	var errs ValidationErrors
	if len(suite.Scenarios) == 0 {
		errs = append(errs, VError{Path: "scenarios", Code: "REQUIRED", Message: "at least one scenario is required"})
	}

	names := make(map[string]bool)
	for i, s := range suite.Scenarios {
		prefix := fmt.Sprintf("scenarios[%d]", i)
		if s.Name != "" {
			if names[s.Name] {
				errs = append(errs, VError{Path: prefix + ".name", Code: "DUPLICATE", Message: fmt.Sprintf("duplicate scenario name %q", s.Name)})
			}
			names[s.Name] = true
		}
		errs = append(errs, validateScenario(prefix, s, fixtures)...)
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

func validateScenario(prefix string, s Scenario, fixtures *fixture.Store) []VError {
	var errs []VError
	add := func(path, code, format string, args ...any) {
		errs = append(errs, VError{Path: prefix + path, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	if s.Name == "" {
		add(".name", "REQUIRED", "name is required")
	}
	if s.Transport != TransportBoth {
		if _, err := client.ParseKind(s.Transport); err != nil {
			add(".transport", "INVALID", "transport must be rest, graphql or both, got %q", s.Transport)
		}
	}
	isolated := false
	switch s.Isolation {
	case "", EndToEnd:
	case ControllerIsolated:
		isolated = true
	default:
		add(".isolation", "INVALID", "isolation must be %s or %s, got %q", EndToEnd, ControllerIsolated, s.Isolation)
	}

	for i, step := range s.Setup {
		p := fmt.Sprintf(".setup[%d]", i)
		switch step.Do {
		case StepRegister, StepLogin:
		case StepSend:
			if _, err := client.LookupOperation(step.Operation); err != nil {
				add(p+".operation", "INVALID", "unknown operation %q", step.Operation)
			}
			if step.Request != "" && fixtures != nil && !fixtures.Has(fixture.Requests, step.Request) {
				add(p+".request", "NOT_FOUND", "request fixture %q not found", step.Request)
			}
		default:
			add(p+".do", "INVALID", "step must be register, login or send, got %q", step.Do)
		}
	}

	if s.Auth != nil && s.Auth.Login && s.Auth.Token != "" {
		add(".auth", "CONFLICT", "auth.login and auth.token are mutually exclusive")
	}

	intercepted := make(map[string]bool)
	for i, ic := range s.Intercept {
		p := fmt.Sprintf(".intercept[%d]", i)
		if !isolated {
			add(p, "INVALID", "interceptions need isolation %s", ControllerIsolated)
		}
		if !slices.Contains(intercept.Operations(), ic.Operation) {
			add(p+".operation", "INVALID", "unknown operation %q (%s)", ic.Operation, strings.Join(intercept.Operations(), ", "))
		}
		intercepted[ic.Operation] = true

		forced := 0
		if ic.Return != nil {
			forced++
		}
		if ic.Throw != "" {
			forced++
		}
		if ic.Error != nil {
			forced++
			switch model.Kind(ic.Error.Kind) {
			case model.KindValidation, model.KindNotFound, model.KindAuth, model.KindConflict:
			default:
				add(p+".error.kind", "INVALID", "unknown error kind %q", ic.Error.Kind)
			}
			if ic.Error.Message == "" {
				add(p+".error.message", "REQUIRED", "error message is required")
			}
		}
		if forced > 1 {
			add(p, "CONFLICT", "return, throw and error are mutually exclusive")
		}
	}

	if s.Action.Operation == "" {
		add(".action.operation", "REQUIRED", "operation is required")
	} else if _, err := client.LookupOperation(s.Action.Operation); err != nil {
		add(".action.operation", "INVALID", "unknown operation %q (%s)", s.Action.Operation, strings.Join(client.OperationNames(), ", "))
	}
	if s.Action.Request != "" && fixtures != nil && !fixtures.Has(fixture.Requests, s.Action.Request) {
		add(".action.request", "NOT_FOUND", "request fixture %q not found", s.Action.Request)
	}

	e := s.Expect
	if e.Status == 0 && e.ErrorMessage == "" && e.Fixture == "" && e.Body == nil &&
		len(e.NonEmpty) == 0 && len(e.Calls) == 0 && !e.Schema && !e.NoErrors {
		add(".expect", "REQUIRED", "at least one expectation clause is required")
	}
	if e.Fixture != "" && fixtures != nil && !fixtures.Has(fixture.Responses, e.Fixture) {
		add(".expect.fixture", "NOT_FOUND", "response fixture %q not found", e.Fixture)
	}
	if len(e.Exclude) > 0 && e.Fixture == "" && e.Body == nil {
		add(".expect.exclude", "INVALID", "exclude needs a fixture or body clause")
	}
	if e.Schema && s.Transport == string(client.GraphQL) {
		add(".expect.schema", "INVALID", "schema applies to rest scenarios only")
	}
	for i, c := range e.Calls {
		if !intercepted[c.Operation] {
			add(fmt.Sprintf(".expect.calls[%d].operation", i), "INVALID", "operation %q is not intercepted", c.Operation)
		}
	}

	return errs
}

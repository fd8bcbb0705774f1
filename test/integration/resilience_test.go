package integration

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/pitabwire/checkoutparity/internal/client"
	"github.com/pitabwire/checkoutparity/internal/scenario"
)

// The harness must fail loudly when the service under test drifts or
// misbehaves. These tests make the backend lie and check the report.

func checkoutScenario(transport string) scenario.Scenario {
	return scenario.Scenario{
		Name:      "checkout via boleto",
		Transport: transport,
		Setup:     []scenario.Step{{Do: scenario.StepRegister}},
		Auth:      &scenario.AuthSpec{Login: true},
		Action:    scenario.Action{Operation: "checkout", Request: "checkout-boleto"},
		Expect: scenario.Expectation{
			Fixture: "checkout-boleto-summary",
			Exclude: []string{"userId"},
		},
	}
}

func TestResilience_BaselinePasses(t *testing.T) {
	h := NewTestHarness(t)
	runner := h.Runner(t)

	for _, kind := range client.Kinds {
		res := runner.Run(context.Background(), checkoutScenario(string(kind)))
		if !res.Passed() {
			t.Errorf("%s: %s: %s\nraw: %s", kind, res.Clause, res.Message, res.Raw)
		}
	}
}

func TestResilience_DriftedTotalIsReported(t *testing.T) {
	h := NewTestHarness(t)
	runner := h.Runner(t)

	h.Backend(client.REST).OnOperation("checkout").RespondWith(http.StatusOK, map[string]any{
		"items":         []any{map[string]any{"productId": 1, "quantity": 2}},
		"freight":       20,
		"paymentMethod": "boleto",
		"userId":        "someone",
		"valorFinal":    209,
	})

	res := runner.Run(context.Background(), checkoutScenario("rest"))
	if res.Passed() {
		t.Fatal("drifted total passed")
	}
	if res.Clause != scenario.ClauseFixture {
		t.Errorf("clause = %q, want %q", res.Clause, scenario.ClauseFixture)
	}
	if !strings.Contains(res.Message, "valorFinal") {
		t.Errorf("message %q does not name valorFinal", res.Message)
	}

	// The GraphQL target was not touched.
	if gql := runner.Run(context.Background(), checkoutScenario("graphql")); !gql.Passed() {
		t.Errorf("graphql: %s: %s", gql.Clause, gql.Message)
	}
}

func TestResilience_GraphQLStatusDriftIsReported(t *testing.T) {
	h := NewTestHarness(t)
	runner := h.Runner(t)

	h.Backend(client.GraphQL).OnOperation("checkout").RespondWith(http.StatusBadRequest, map[string]any{
		"errors": []any{map[string]any{"message": "Produto não encontrado"}},
	})

	s := checkoutScenario("graphql")
	s.Expect = scenario.Expectation{ErrorMessage: "Produto não encontrado"}
	res := runner.Run(context.Background(), s)
	if res.Clause != scenario.ClauseTransport {
		t.Errorf("clause = %q, want %q (message %q)", res.Clause, scenario.ClauseTransport, res.Message)
	}
	if res.Status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", res.Status)
	}
}

func TestResilience_MalformedResponseKeepsRawBody(t *testing.T) {
	h := NewTestHarness(t)
	runner := h.Runner(t)

	h.Backend(client.GraphQL).OnOperation("register").RespondWithRaw(http.StatusBadGateway, "<html>upstream down</html>")

	res := runner.Run(context.Background(), scenario.Scenario{
		Name:      "register",
		Transport: "graphql",
		Action:    scenario.Action{Operation: "register", Request: "register"},
		Expect:    scenario.Expectation{Fixture: "register-success"},
	})
	if res.Clause != scenario.ClauseAct {
		t.Fatalf("clause = %q, want %q (message %q)", res.Clause, scenario.ClauseAct, res.Message)
	}
	if !strings.Contains(res.Message, "register") || !strings.Contains(res.Message, "malformed") {
		t.Errorf("message %q should name the operation and the decode failure", res.Message)
	}
	if res.Raw != "<html>upstream down</html>" {
		t.Errorf("raw = %q", res.Raw)
	}
}

func TestResilience_ConnectionDropDuringSetup(t *testing.T) {
	h := NewTestHarness(t)
	runner := h.Runner(t)

	h.Backend(client.REST).OnOperation("login").RespondWithConnectionError()

	res := runner.Run(context.Background(), checkoutScenario("rest"))
	if res.Clause != scenario.ClauseArrange {
		t.Fatalf("clause = %q, want %q (message %q)", res.Clause, scenario.ClauseArrange, res.Message)
	}
	h.Backend(client.REST).AssertCalled(t, "login", 1)
	h.Backend(client.REST).AssertCalled(t, "checkout", 0)
}

func TestResilience_SlowResponseFailsWithoutRetry(t *testing.T) {
	h := NewTestHarness(t, WithScenarioTimeout(500*time.Millisecond))
	runner := h.Runner(t)

	h.Backend(client.REST).OnOperation("register").RespondWithDelay(5 * time.Second)

	start := time.Now()
	res := runner.Run(context.Background(), scenario.Scenario{
		Name:      "slow register",
		Transport: "rest",
		Action:    scenario.Action{Operation: "register", Request: "register"},
		Expect:    scenario.Expectation{Status: http.StatusCreated},
	})
	if res.Passed() {
		t.Fatal("slow scenario passed")
	}
	if res.Clause != scenario.ClauseAct {
		t.Errorf("clause = %q, want %q", res.Clause, scenario.ClauseAct)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("scenario took %s, timeout not applied", elapsed)
	}
	h.Backend(client.REST).AssertCalled(t, "register", 1)
}

func TestResilience_ClientErrorsAreTyped(t *testing.T) {
	h := NewTestHarness(t)

	h.Backend(client.REST).OnOperation("register").RespondWithConnectionError()
	_, err := h.Client.Send(context.Background(), client.REST, client.Register, map[string]any{"name": "x"}, nil)

	var terr *client.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("error = %v, want *client.TransportError", err)
	}
	if terr.Operation != "register" || terr.Kind != client.REST {
		t.Errorf("transport error names %s %s", terr.Kind, terr.Operation)
	}
}

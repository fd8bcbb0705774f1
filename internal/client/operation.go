package client

import (
	"fmt"
	"net/http"
	"sort"
)

// Kind selects the transport a request travels over.
type Kind string

const (
	REST    Kind = "rest"
	GraphQL Kind = "graphql"
)

// Kinds lists both transports in a stable order.
var Kinds = []Kind{REST, GraphQL}

// ParseKind validates a transport name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case REST, GraphQL:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("client: unknown transport %q (rest, graphql)", s)
	}
}

// Operation describes one call on the service under test in both transport
// shapes. The payload map is the REST JSON body and the GraphQL variables.
type Operation struct {
	Name string

	Method string
	Path   string

	Query     string
	RootField string

	// Authenticated operations need a bearer token.
	Authenticated bool
}

const registerMutation = `mutation Register($name: String!, $email: String!, $password: String!) {
  register(name: $name, email: $email, password: $password) {
    name
    email
  }
}`

const loginMutation = `mutation Login($email: String!, $password: String!) {
  login(email: $email, password: $password) {
    token
  }
}`

const loginWithUserMutation = `mutation Login($email: String!, $password: String!) {
  login(email: $email, password: $password) {
    token
    user { name email }
  }
}`

const checkoutMutation = `mutation Checkout($items: [CheckoutItemInput!]!, $freight: Float!, $paymentMethod: String!, $cardData: CardDataInput) {
  checkout(items: $items, freight: $freight, paymentMethod: $paymentMethod, cardData: $cardData) {
    freight
    items {
      productId
      quantity
    }
    paymentMethod
    userId
    valorFinal
  }
}`

// The operation catalogue.
var (
	Register = Operation{
		Name:      "register",
		Method:    http.MethodPost,
		Path:      "/users/register",
		Query:     registerMutation,
		RootField: "register",
	}
	Login = Operation{
		Name:      "login",
		Method:    http.MethodPost,
		Path:      "/users/login",
		Query:     loginMutation,
		RootField: "login",
	}
	// LoginWithUser selects the nested user next to the token. REST has no
	// selection sets, so it is the plain login there.
	LoginWithUser = Operation{
		Name:      "login_with_user",
		Method:    http.MethodPost,
		Path:      "/users/login",
		Query:     loginWithUserMutation,
		RootField: "login",
	}
	Checkout = Operation{
		Name:          "checkout",
		Method:        http.MethodPost,
		Path:          "/checkout",
		Query:         checkoutMutation,
		RootField:     "checkout",
		Authenticated: true,
	}
)

var operations = map[string]Operation{
	Register.Name:      Register,
	Login.Name:         Login,
	LoginWithUser.Name: LoginWithUser,
	Checkout.Name:      Checkout,
}

// LookupOperation returns the named catalogue entry.
func LookupOperation(name string) (Operation, error) {
	op, ok := operations[name]
	if !ok {
		return Operation{}, fmt.Errorf("client: unknown operation %q", name)
	}
	return op, nil
}

// OperationNames returns the sorted catalogue names.
func OperationNames() []string {
	names := make([]string, 0, len(operations))
	for name := range operations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

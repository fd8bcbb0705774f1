package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	graphql "github.com/graph-gophers/graphql-go"
	"go.uber.org/zap"

	"github.com/pitabwire/checkoutparity/internal/observability"
	"github.com/pitabwire/checkoutparity/model"
)

// MsgLoginUserUnavailable is the error reported when a login selection asks
// for the nested user. The field is declared but never resolves; clients
// depend on the error.
const MsgLoginUserUnavailable = "Não foi possível carregar o usuário do login"

// Schema is the GraphQL schema served at /graphql.
const Schema = `
schema {
  query: Query
  mutation: Mutation
}

type Query {
  health: String!
}

type Mutation {
  register(name: String!, email: String!, password: String!): User!
  login(email: String!, password: String!): LoginPayload!
  checkout(items: [CheckoutItemInput!]!, freight: Float!, paymentMethod: String!, cardData: CardDataInput): CheckoutSummary!
}

type User {
  name: String!
  email: String!
}

type LoginPayload {
  token: String!
  user: User
}

input CheckoutItemInput {
  productId: Int!
  quantity: Int!
}

input CardDataInput {
  number: String!
  name: String!
  expiry: String!
  cvv: String!
}

type CheckoutItem {
  productId: Int!
  quantity: Int!
}

type CheckoutSummary {
  userId: String!
  items: [CheckoutItem!]!
  freight: Float!
  paymentMethod: String!
  valorFinal: Float!
}
`

// NewSchema parses Schema over the given services.
func NewSchema(services model.Services) (*graphql.Schema, error) {
	return graphql.ParseSchema(Schema, &rootResolver{services: services}, graphql.MaxDepth(8))
}

type rootResolver struct {
	services model.Services
}

func (r *rootResolver) Health() string { return "ok" }

type registerArgs struct {
	Name     string
	Email    string
	Password string
}

func (r *rootResolver) Register(ctx context.Context, args registerArgs) (*userResolver, error) {
	user, err := r.services.Users.Register(ctx, model.RegisterInput{
		Name:     args.Name,
		Email:    args.Email,
		Password: args.Password,
	})
	if err != nil {
		return nil, err
	}
	return &userResolver{user: user}, nil
}

type loginArgs struct {
	Email    string
	Password string
}

func (r *rootResolver) Login(ctx context.Context, args loginArgs) (*loginResolver, error) {
	res, err := r.services.Users.Login(ctx, model.Credentials{Email: args.Email, Password: args.Password})
	if err != nil {
		return nil, err
	}
	return &loginResolver{result: res}, nil
}

type checkoutItemInput struct {
	ProductID int32
	Quantity  int32
}

type cardDataInput struct {
	Number string
	Name   string
	Expiry string
	Cvv    string
}

type checkoutArgs struct {
	Items         []checkoutItemInput
	Freight       float64
	PaymentMethod string
	CardData      *cardDataInput
}

func (a checkoutArgs) input() model.CheckoutInput {
	in := model.CheckoutInput{
		Items:         make([]model.CheckoutItem, len(a.Items)),
		Freight:       a.Freight,
		PaymentMethod: a.PaymentMethod,
	}
	for i, item := range a.Items {
		in.Items[i] = model.CheckoutItem{ProductID: int(item.ProductID), Quantity: int(item.Quantity)}
	}
	if a.CardData != nil {
		in.CardData = &model.CardData{
			Number: a.CardData.Number,
			Name:   a.CardData.Name,
			Expiry: a.CardData.Expiry,
			CVV:    a.CardData.Cvv,
		}
	}
	return in
}

// Checkout authenticates the bearer token from the HTTP request before
// calling the checkout service.
func (r *rootResolver) Checkout(ctx context.Context, args checkoutArgs) (*summaryResolver, error) {
	ctx, user, err := authenticate(ctx, r.services.Users, bearerFrom(ctx))
	if err != nil {
		return nil, err
	}
	summary, err := r.services.Checkout.Checkout(ctx, user, args.input())
	if err != nil {
		return nil, err
	}
	return &summaryResolver{summary: summary}, nil
}

type userResolver struct {
	user *model.User
}

func (u *userResolver) Name() string  { return u.user.Name }
func (u *userResolver) Email() string { return u.user.Email }

type loginResolver struct {
	result *model.LoginResult
}

func (l *loginResolver) Token() string { return l.result.Token }

func (l *loginResolver) User() (*userResolver, error) {
	return nil, errors.New(MsgLoginUserUnavailable)
}

type summaryResolver struct {
	summary *model.CheckoutSummary
}

func (s *summaryResolver) UserID() string        { return s.summary.UserID }
func (s *summaryResolver) Freight() float64      { return s.summary.Freight }
func (s *summaryResolver) PaymentMethod() string { return s.summary.PaymentMethod }
func (s *summaryResolver) ValorFinal() float64   { return s.summary.ValorFinal }

func (s *summaryResolver) Items() []*itemResolver {
	out := make([]*itemResolver, len(s.summary.Items))
	for i := range s.summary.Items {
		out[i] = &itemResolver{item: s.summary.Items[i]}
	}
	return out
}

type itemResolver struct {
	item model.CheckoutItem
}

func (i *itemResolver) ProductID() int32 { return int32(i.item.ProductID) }
func (i *itemResolver) Quantity() int32  { return int32(i.item.Quantity) }

// graphQLRequest is the POST body of a GraphQL request.
type graphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

// GraphQLHandler executes requests against schema. Results, errors
// included, are always written with status 200; only an undecodable body is
// rejected with 400.
type GraphQLHandler struct {
	schema *graphql.Schema
	logger *zap.Logger
}

// NewGraphQLHandler creates a handler for schema.
func NewGraphQLHandler(schema *graphql.Schema, logger *zap.Logger) *GraphQLHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphQLHandler{schema: schema, logger: logger}
}

func (h *GraphQLHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req graphQLRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]any{
			"errors": []map[string]string{{"message": MsgMalformedJSON}},
		})
		return
	}

	ctx := withBearer(r.Context(), BearerToken(r))
	resp := h.schema.Exec(ctx, req.Query, req.OperationName, req.Variables)

	if len(resp.Errors) > 0 {
		log := observability.RequestLogger(ctx, h.logger)
		for _, qe := range resp.Errors {
			log.Debug("graphql error", zap.String("message", qe.Message), zap.Any("path", qe.Path))
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

package model

import "context"

// Payment methods accepted by checkout.
const (
	PaymentBoleto     = "boleto"
	PaymentCreditCard = "credit_card"
)

// User is a registered account. PasswordHash never leaves the service.
type User struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
}

// PublicUser is the registration response shape.
type PublicUser struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Public strips everything but name and email.
func (u *User) Public() PublicUser {
	return PublicUser{Name: u.Name, Email: u.Email}
}

// RegisterInput is the registration payload.
type RegisterInput struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Credentials is the login payload.
type Credentials struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResult carries the issued token and the account it belongs to.
type LoginResult struct {
	Token string `json:"token"`
	User  *User  `json:"-"`
}

// CheckoutItem is one line of a checkout.
type CheckoutItem struct {
	ProductID int `json:"productId" validate:"required"`
	Quantity  int `json:"quantity" validate:"required,gt=0"`
}

// CardData is required when paying by credit card.
type CardData struct {
	Number string `json:"number" validate:"required"`
	Name   string `json:"name" validate:"required"`
	Expiry string `json:"expiry" validate:"required"`
	CVV    string `json:"cvv" validate:"required"`
}

// CheckoutInput is the checkout payload.
type CheckoutInput struct {
	Items         []CheckoutItem `json:"items" validate:"required,min=1,dive"`
	Freight       float64        `json:"freight" validate:"gte=0"`
	PaymentMethod string         `json:"paymentMethod" validate:"required"`
	CardData      *CardData      `json:"cardData,omitempty"`
}

// CheckoutSummary is returned by a successful checkout.
type CheckoutSummary struct {
	UserID        string         `json:"userId"`
	Items         []CheckoutItem `json:"items"`
	Freight       float64        `json:"freight"`
	PaymentMethod string         `json:"paymentMethod"`
	ValorFinal    float64        `json:"valorFinal"`
}

// UserService is the account capability set the controllers depend on.
type UserService interface {
	Register(ctx context.Context, in RegisterInput) (*User, error)
	Login(ctx context.Context, creds Credentials) (*LoginResult, error)
	// Authenticate resolves a bearer token to its user. Any failure is
	// reported as an auth DomainError.
	Authenticate(ctx context.Context, token string) (*User, error)
}

// CheckoutService prices and records a checkout for a user.
type CheckoutService interface {
	Checkout(ctx context.Context, user *User, in CheckoutInput) (*CheckoutSummary, error)
}

// Services groups the capabilities injected into the controller layer.
type Services struct {
	Users    UserService
	Checkout CheckoutService
}

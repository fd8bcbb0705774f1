package twin

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/checkoutparity/internal/observability"
	"github.com/pitabwire/checkoutparity/model"
)

// MsgInvalidPaymentMethod is returned for a payment method other than
// boleto or credit_card.
const MsgInvalidPaymentMethod = "Método de pagamento inválido"

// CardDiscountPercent is the discount applied to the item subtotal when
// paying by credit card.
const CardDiscountPercent = 5

// DefaultCatalog is the fixed product catalogue: id to unit price.
var DefaultCatalog = map[int]float64{
	1: 100.0,
	2: 200.0,
}

// CheckoutService prices checkouts against a catalogue and records them.
type CheckoutService struct {
	store    Store
	catalog  map[int]float64
	validate *validator.Validate
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// CheckoutOption configures a CheckoutService.
type CheckoutOption func(*CheckoutService)

// WithCatalog replaces the product catalogue.
func WithCatalog(c map[int]float64) CheckoutOption {
	return func(s *CheckoutService) { s.catalog = c }
}

// WithCheckoutMetrics counts checkouts by payment method and status.
func WithCheckoutMetrics(m *observability.Metrics) CheckoutOption {
	return func(s *CheckoutService) { s.metrics = m }
}

// WithCheckoutLogger sets the logger.
func WithCheckoutLogger(l *zap.Logger) CheckoutOption {
	return func(s *CheckoutService) { s.logger = l }
}

// NewCheckoutService creates a CheckoutService that records orders in store.
func NewCheckoutService(store Store, opts ...CheckoutOption) *CheckoutService {
	s := &CheckoutService{
		store:    store,
		catalog:  DefaultCatalog,
		validate: newValidator(),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Checkout prices in for user and records the order.
//
// valorFinal = subtotal - card discount + freight, where the card discount
// is CardDiscountPercent of the subtotal for credit_card and zero for
// boleto. Unknown products are checked before card data.
func (s *CheckoutService) Checkout(ctx context.Context, user *model.User, in model.CheckoutInput) (*model.CheckoutSummary, error) {
	summary, err := s.price(user, in)
	if err != nil {
		s.metrics.RecordCheckout(in.PaymentMethod, "rejected")
		return nil, err
	}

	order := Order{ID: uuid.NewString(), CreatedAt: s.now(), Summary: *summary}
	if err := s.store.SaveOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("save order: %w", err)
	}

	s.metrics.RecordCheckout(in.PaymentMethod, "completed")
	observability.RequestLogger(ctx, s.logger).Info("checkout completed",
		zap.String("order_id", order.ID),
		zap.String("payment_method", in.PaymentMethod),
		zap.Float64("valor_final", summary.ValorFinal),
	)
	return summary, nil
}

func (s *CheckoutService) price(user *model.User, in model.CheckoutInput) (*model.CheckoutSummary, error) {
	if user == nil {
		return nil, model.ErrInvalidToken()
	}
	if err := validate(s.validate, in); err != nil {
		return nil, err
	}
	if in.PaymentMethod != model.PaymentBoleto && in.PaymentMethod != model.PaymentCreditCard {
		return nil, model.NewValidationError(MsgInvalidPaymentMethod)
	}

	var subtotal float64
	for _, item := range in.Items {
		price, ok := s.catalog[item.ProductID]
		if !ok {
			return nil, model.ErrProductNotFound()
		}
		subtotal += price * float64(item.Quantity)
	}

	var discount float64
	if in.PaymentMethod == model.PaymentCreditCard {
		if in.CardData == nil {
			return nil, model.ErrCardDataRequired()
		}
		discount = subtotal * CardDiscountPercent / 100
	}

	return &model.CheckoutSummary{
		UserID:        user.ID,
		Items:         append([]model.CheckoutItem(nil), in.Items...),
		Freight:       in.Freight,
		PaymentMethod: in.PaymentMethod,
		ValorFinal:    roundCents(subtotal - discount + in.Freight),
	}, nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// Orders returns the orders recorded for a user.
func (s *CheckoutService) Orders(ctx context.Context, userID string) ([]Order, error) {
	return s.store.Orders(ctx, userID)
}

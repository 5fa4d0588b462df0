package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	domain "github.com/verdantfield/api/internal/domain"
	"github.com/verdantfield/api/internal/payments"
	"github.com/verdantfield/api/internal/repositories"
)

const defaultCheckoutCurrency = "usd"

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutUserNotFound indicates the authenticated user has no profile record.
	ErrCheckoutUserNotFound = errors.New("checkout: user not found")
	// ErrCheckoutPaymentFailed indicates the gateway could not open a payment intent.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
)

// checkoutPricer abstracts the pricing validator for easier testing.
type checkoutPricer interface {
	PriceCart(ctx context.Context, cmd PriceCartCommand) (PriceCartResult, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Pricer   checkoutPricer
	Users    repositories.UserRepository
	Pendings repositories.PendingOrderRepository
	Gateway  payments.Gateway
	Currency string
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	pricer   checkoutPricer
	users    repositories.UserRepository
	pendings repositories.PendingOrderRepository
	gateway  payments.Gateway
	currency string
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Pricer == nil {
		return nil, errors.New("checkout service: pricer is required")
	}
	if deps.Users == nil {
		return nil, errors.New("checkout service: user repository is required")
	}
	if deps.Pendings == nil {
		return nil, errors.New("checkout service: pending order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("checkout service: payment gateway is required")
	}

	currency := strings.ToLower(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCheckoutCurrency
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		pricer:   deps.Pricer,
		users:    deps.Users,
		pendings: deps.Pendings,
		gateway:  deps.Gateway,
		currency: currency,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// CreatePaymentIntent validates and prices the submitted lines, ensures the
// user has a gateway customer, opens a payment intent for the server-derived
// total, and stages a pending order keyed by the intent id. The order itself
// is only created later, when the success webhook arrives.
func (s *checkoutService) CreatePaymentIntent(ctx context.Context, cmd CreatePaymentIntentCommand) (PaymentIntentResult, error) {
	if s == nil || s.pricer == nil || s.gateway == nil {
		return PaymentIntentResult{}, ErrCheckoutUnavailable
	}

	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return PaymentIntentResult{}, fmt.Errorf("%w: user id is required", ErrCheckoutInvalidInput)
	}
	if err := validateShippingAddress(cmd.ShippingAddress); err != nil {
		return PaymentIntentResult{}, err
	}
	if cmd.DeliveryDate != nil && cmd.DeliveryDate.Before(s.now()) {
		return PaymentIntentResult{}, fmt.Errorf("%w: delivery date must be in the future", ErrCheckoutInvalidInput)
	}

	priced, err := s.pricer.PriceCart(ctx, PriceCartCommand{
		Lines:         cmd.Lines,
		ShippingState: cmd.ShippingAddress.State,
	})
	if err != nil {
		// Per-line pricing errors carry their own detail for the client.
		return PaymentIntentResult{}, err
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return PaymentIntentResult{}, ErrCheckoutUserNotFound
		}
		return PaymentIntentResult{}, ErrCheckoutUnavailable
	}

	customerID, err := s.ensureGatewayCustomer(ctx, user)
	if err != nil {
		return PaymentIntentResult{}, err
	}

	intent, err := s.gateway.CreateIntent(ctx, payments.IntentRequest{
		Amount:       priced.Total,
		Currency:     s.currency,
		CustomerID:   customerID,
		ReceiptEmail: user.Email,
		Metadata: map[string]string{
			"userId":    userID,
			"itemCount": strconv.Itoa(len(priced.Items)),
		},
		IdempotencyKey: s.intentIdempotencyKey(cmd, priced.Total),
	})
	if err != nil {
		s.logger(ctx, "checkout.intent_failed", map[string]any{
			"userId": userID,
			"error":  err.Error(),
		})
		return PaymentIntentResult{}, ErrCheckoutPaymentFailed
	}

	pending := domain.PendingOrder{
		IntentID:        intent.ID,
		UserID:          userID,
		UserEmail:       user.Email,
		Items:           priced.Items,
		Subtotal:        priced.Subtotal,
		Tax:             priced.Tax,
		DeliveryFee:     priced.DeliveryFee,
		Total:           priced.Total,
		ShippingAddress: normaliseAddress(cmd.ShippingAddress),
		DeliveryDate:    cmd.DeliveryDate,
		CreatedAt:       s.now(),
	}
	if err := s.pendings.Create(ctx, pending); err != nil {
		// Without the staged payload the webhook could never materialize an
		// order, so cancel the intent rather than charging for nothing.
		if cancelErr := s.gateway.CancelIntent(ctx, intent.ID); cancelErr != nil {
			s.logger(ctx, "checkout.orphan_intent", map[string]any{
				"intentId": intent.ID,
				"error":    cancelErr.Error(),
			})
		}
		return PaymentIntentResult{}, ErrCheckoutUnavailable
	}

	s.logger(ctx, "checkout.intent_created", map[string]any{
		"userId":   userID,
		"intentId": intent.ID,
		"total":    priced.Total,
	})

	return PaymentIntentResult{
		IntentID:     intent.ID,
		PaymentToken: intent.ClientSecret,
		Subtotal:     priced.Subtotal,
		Tax:          priced.Tax,
		DeliveryFee:  priced.DeliveryFee,
		Total:        priced.Total,
	}, nil
}

// ensureGatewayCustomer returns the user's gateway customer id, creating one
// on first checkout. A failure to persist the new id is logged and tolerated;
// the next checkout simply creates another customer.
func (s *checkoutService) ensureGatewayCustomer(ctx context.Context, user UserProfile) (string, error) {
	if existing := strings.TrimSpace(user.StripeCustomerID); existing != "" {
		return existing, nil
	}

	customerID, err := s.gateway.EnsureCustomer(ctx, payments.CustomerRequest{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.DisplayName,
	})
	if err != nil {
		s.logger(ctx, "checkout.customer_failed", map[string]any{
			"userId": user.ID,
			"error":  err.Error(),
		})
		return "", ErrCheckoutPaymentFailed
	}

	if err := s.users.SetStripeCustomerID(ctx, user.ID, customerID); err != nil {
		s.logger(ctx, "checkout.customer_persist_failed", map[string]any{
			"userId": user.ID,
			"error":  err.Error(),
		})
	}
	return customerID, nil
}

func (s *checkoutService) intentIdempotencyKey(cmd CreatePaymentIntentCommand, total int64) string {
	if key := strings.TrimSpace(cmd.IdempotencyKey); key != "" {
		return key
	}
	var b strings.Builder
	b.WriteString(strings.TrimSpace(cmd.UserID))
	for _, line := range cmd.Lines {
		fmt.Fprintf(&b, "|%s:%s:%d", strings.TrimSpace(line.ProductID), strings.TrimSpace(line.SizeID), line.Quantity)
	}
	fmt.Fprintf(&b, "|%d", total)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func validateShippingAddress(addr Address) error {
	if strings.TrimSpace(addr.Recipient) == "" ||
		strings.TrimSpace(addr.Line1) == "" ||
		strings.TrimSpace(addr.City) == "" ||
		strings.TrimSpace(addr.State) == "" ||
		strings.TrimSpace(addr.PostalCode) == "" {
		return fmt.Errorf("%w: shipping address is incomplete", ErrCheckoutInvalidInput)
	}
	return nil
}

func normaliseAddress(addr Address) Address {
	addr.Recipient = strings.TrimSpace(addr.Recipient)
	addr.Line1 = strings.TrimSpace(addr.Line1)
	if addr.Line2 != nil {
		line2 := strings.TrimSpace(*addr.Line2)
		if line2 == "" {
			addr.Line2 = nil
		} else {
			addr.Line2 = &line2
		}
	}
	addr.City = strings.TrimSpace(addr.City)
	addr.State = strings.ToUpper(strings.TrimSpace(addr.State))
	addr.PostalCode = strings.TrimSpace(addr.PostalCode)
	addr.Country = strings.ToUpper(strings.TrimSpace(addr.Country))
	if addr.Country == "" {
		addr.Country = "US"
	}
	return addr
}

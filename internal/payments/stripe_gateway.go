package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/verdantfield/api/internal/platform/textutil"
)

// StripeLogger defines the logging contract for Stripe gateway operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeCustomerAPI interface {
	New(params *stripe.CustomerParams) (*stripe.Customer, error)
}

type stripeIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeClients struct {
	customers stripeCustomerAPI
	intents   stripeIntentAPI
}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   StripeLogger
	Clock    func() time.Time
	Clients  *stripeClients
}

// StripeGateway implements the Gateway contract against the Stripe API.
type StripeGateway struct {
	api    stripeClients
	clock  func() time.Time
	logger StripeLogger
}

var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway constructs a Stripe gateway using the given configuration.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			customers: sc.Customers,
			intents:   sc.PaymentIntents,
		}
	}

	if clients.customers == nil || clients.intents == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeGateway{
		api: clients,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// EnsureCustomer creates a Stripe customer for the user and returns its id.
// Callers persist the id and skip the call on later checkouts.
func (g *StripeGateway) EnsureCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	if g == nil {
		return "", errors.New("stripe: gateway is nil")
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return "", errors.New("stripe: user id is required")
	}

	params := &stripe.CustomerParams{}
	params.Context = ctx
	if email := strings.TrimSpace(req.Email); email != "" {
		params.Email = stripe.String(email)
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		params.Name = stripe.String(name)
	}
	params.Metadata = map[string]string{"userId": userID}

	customer, err := g.api.customers.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: create customer: %w", err)
	}

	g.logger(ctx, "payments.stripe.customer.created", map[string]any{
		"customerId": customer.ID,
		"userId":     userID,
	})
	return customer.ID, nil
}

// CreateIntent opens a payment intent for the priced checkout.
func (g *StripeGateway) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if g == nil {
		return Intent{}, errors.New("stripe: gateway is nil")
	}
	if req.Amount <= 0 {
		return Intent{}, errors.New("stripe: intent amount must be positive")
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		return Intent{}, errors.New("stripe: currency is required")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if customer := strings.TrimSpace(req.CustomerID); customer != "" {
		params.Customer = stripe.String(customer)
	}
	if email := strings.TrimSpace(req.ReceiptEmail); email != "" {
		params.ReceiptEmail = stripe.String(email)
	}
	if metadata := textutil.NormalizeStringMap(req.Metadata); len(metadata) > 0 {
		params.Metadata = metadata
	}

	intent, err := g.api.intents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	g.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"amount":        intent.Amount,
		"currency":      intent.Currency,
	})

	return Intent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       normalizeIntentStatus(intent),
	}, nil
}

// CancelIntent voids an intent that will never be completed. Cancelling an
// already-cancelled intent is treated as success.
func (g *StripeGateway) CancelIntent(ctx context.Context, intentID string) error {
	if g == nil {
		return errors.New("stripe: gateway is nil")
	}
	id := strings.TrimSpace(intentID)
	if id == "" {
		return errors.New("stripe: intent id is required")
	}

	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := g.api.intents.Cancel(id, params); err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			if stripeErr.HTTPStatusCode == 404 {
				return fmt.Errorf("%w: %s", ErrIntentNotFound, id)
			}
			// Stripe rejects cancellation of intents already in a terminal
			// state; that is the outcome we wanted.
			if stripeErr.Code == stripe.ErrorCodePaymentIntentUnexpectedState {
				return nil
			}
		}
		return fmt.Errorf("stripe: cancel payment intent: %w", err)
	}

	g.logger(ctx, "payments.stripe.intent.canceled", map[string]any{
		"paymentIntent": id,
	})
	return nil
}

// LookupIntent retrieves the gateway state for reconciliation.
func (g *StripeGateway) LookupIntent(ctx context.Context, intentID string) (IntentDetails, error) {
	if g == nil {
		return IntentDetails{}, errors.New("stripe: gateway is nil")
	}
	id := strings.TrimSpace(intentID)
	if id == "" {
		return IntentDetails{}, errors.New("stripe: intent id is required")
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := g.api.intents.Get(id, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
			return IntentDetails{}, fmt.Errorf("%w: %s", ErrIntentNotFound, id)
		}
		return IntentDetails{}, fmt.Errorf("stripe: lookup payment intent: %w", err)
	}

	details := IntentDetails{
		ID:       intent.ID,
		Status:   normalizeIntentStatus(intent),
		Amount:   intent.Amount,
		Currency: strings.ToLower(string(intent.Currency)),
	}
	if intent.Created != 0 {
		details.CreatedAt = time.Unix(intent.Created, 0).UTC()
	}
	if intent.CanceledAt != 0 {
		canceled := time.Unix(intent.CanceledAt, 0).UTC()
		details.CanceledAt = &canceled
	}
	return details, nil
}

func normalizeIntentStatus(intent *stripe.PaymentIntent) IntentStatus {
	if intent == nil {
		return IntentStatusPending
	}
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return IntentStatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return IntentStatusCanceled
	default:
		if intent.LastPaymentError != nil {
			return IntentStatusFailed
		}
		return IntentStatusPending
	}
}

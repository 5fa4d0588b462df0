package payments

import (
	"context"
	"errors"
	"time"
)

// IntentStatus enumerates the normalised payment intent states the pipeline
// cares about. Gateway-specific states collapse into these.
type IntentStatus string

const (
	// IntentStatusPending covers every state where the customer may still
	// complete the payment.
	IntentStatusPending IntentStatus = "pending"
	// IntentStatusSucceeded means the charge was captured.
	IntentStatusSucceeded IntentStatus = "succeeded"
	// IntentStatusCanceled means the intent was cancelled and can never succeed.
	IntentStatusCanceled IntentStatus = "canceled"
	// IntentStatusFailed means the last payment attempt failed.
	IntentStatusFailed IntentStatus = "failed"
)

// ErrIntentNotFound is returned when the gateway has no record of the intent.
var ErrIntentNotFound = errors.New("payments: intent not found")

// CustomerRequest identifies the buyer for gateway customer creation.
type CustomerRequest struct {
	UserID string
	Email  string
	Name   string
}

// IntentRequest captures the payload required to open a payment intent for a
// priced checkout.
type IntentRequest struct {
	Amount         int64
	Currency       string
	CustomerID     string
	ReceiptEmail   string
	Metadata       map[string]string
	IdempotencyKey string
}

// Intent is the gateway handle returned to the client so it can collect the
// payment. ClientSecret is the only field the frontend needs.
type Intent struct {
	ID           string
	ClientSecret string
	Status       IntentStatus
}

// IntentDetails normalises gateway state for reconciliation lookups.
type IntentDetails struct {
	ID         string
	Status     IntentStatus
	Amount     int64
	Currency   string
	CreatedAt  time.Time
	CanceledAt *time.Time
}

// Gateway is the contract the checkout and sweep flows depend on. Refunds are
// deliberately absent: refund money movement happens in the gateway dashboard
// and this service only records the outcome.
type Gateway interface {
	EnsureCustomer(ctx context.Context, req CustomerRequest) (string, error)
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	CancelIntent(ctx context.Context, intentID string) error
	LookupIntent(ctx context.Context, intentID string) (IntentDetails, error)
}

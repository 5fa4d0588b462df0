package services

import (
	"context"
	"time"

	domain "github.com/verdantfield/api/internal/domain"
	"github.com/verdantfield/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Cart               = domain.Cart
	CartLine           = domain.CartLine
	LineItem           = domain.LineItem
	Address            = domain.Address
	PendingOrder       = domain.PendingOrder
	Order              = domain.Order
	OrderStatus        = domain.OrderStatus
	StatusEntry        = domain.StatusEntry
	UserProfile        = domain.UserProfile
	SystemHealthReport = domain.SystemHealthReport
)

// OrderListFilter mirrors the repository filter for list queries.
type OrderListFilter = repositories.OrderListFilter

// CartService persists the per-user cart between sessions. Checkout reads the
// submitted lines, not the stored cart, so these operations are plain CRUD.
type CartService interface {
	GetCart(ctx context.Context, userID string) (Cart, error)
	ReplaceCart(ctx context.Context, cmd ReplaceCartCommand) (Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

// CheckoutService prices a cart against server-side records and opens a
// payment intent backed by a pending order.
type CheckoutService interface {
	CreatePaymentIntent(ctx context.Context, cmd CreatePaymentIntentCommand) (PaymentIntentResult, error)
}

// OrderService owns the durable order lifecycle: webhook-driven
// materialization, status transitions, refund recording, reads, and the
// stale pending-order sweep.
type OrderService interface {
	HandlePaymentSucceeded(ctx context.Context, intentID string) (MaterializeOutcome, error)
	HandlePaymentFailed(ctx context.Context, intentID string) error
	GetOrder(ctx context.Context, query GetOrderQuery) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	SetStatus(ctx context.Context, cmd SetStatusCommand) (Order, error)
	BulkSetStatus(ctx context.Context, cmd BulkSetStatusCommand) (BulkStatusResult, error)
	Refund(ctx context.Context, cmd RefundCommand) (Order, error)
	SweepPendingOrders(ctx context.Context, cmd SweepCommand) (SweepResult, error)
}

// SystemService exposes health and build metadata for probes.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// ReplaceCartCommand swaps the full line set of the user's stored cart.
type ReplaceCartCommand struct {
	UserID string
	Lines  []CartLine
}

// CreatePaymentIntentCommand carries the untrusted checkout submission. Only
// product/size ids and quantities cross the trust boundary; prices are always
// re-derived server-side.
type CreatePaymentIntentCommand struct {
	UserID          string
	Lines           []CartLine
	ShippingAddress Address
	DeliveryDate    *time.Time
	IdempotencyKey  string
}

// PaymentIntentResult returns the client-usable payment token along with the
// server-computed charge breakdown, all in cents.
type PaymentIntentResult struct {
	IntentID     string
	PaymentToken string
	Subtotal     int64
	Tax          int64
	DeliveryFee  int64
	Total        int64
}

// MaterializeOutcome reports what a success webhook produced. Created is
// false for duplicate deliveries and unknown intents.
type MaterializeOutcome struct {
	Order   Order
	Created bool
}

// GetOrderQuery loads one order. When UserID is set the order must belong to
// that user; admins pass an empty UserID.
type GetOrderQuery struct {
	OrderID string
	UserID  string
}

// SetStatusCommand advances one order to a new status.
type SetStatusCommand struct {
	OrderID string
	Status  OrderStatus
	Note    string
}

// BulkSetStatusCommand applies the same transition to many orders. Each
// order's update is independent; one failure never blocks the rest.
type BulkSetStatusCommand struct {
	OrderIDs []string
	Status   OrderStatus
	Note     string
}

// BulkStatusResult counts the orders that were updated.
type BulkStatusResult struct {
	UpdatedCount int
	FailedIDs    []string
}

// RefundCommand records a refund decision against an order. Amount is in
// cents and is validated against the order's original total.
type RefundCommand struct {
	OrderID  string
	Amount   int64
	RefundID string
	Note     string
}

// SweepCommand bounds a stale pending-order sweep.
type SweepCommand struct {
	OlderThan time.Duration
	Limit     int
}

// SweepResult reports what the sweep did with each stale pending order.
type SweepResult struct {
	Scanned      int
	Materialized int
	Deleted      int
	Skipped      int
}

// OrderEventMessage is the payload published to the order events topic after
// a lifecycle change commits.
type OrderEventMessage struct {
	EventType       string    `json:"eventType"`
	OrderID         string    `json:"orderId"`
	OrderNumber     string    `json:"orderNumber"`
	UserID          string    `json:"userId"`
	Status          string    `json:"status"`
	PaymentIntentID string    `json:"paymentIntentId,omitempty"`
	Total           int64     `json:"total"`
	OccurredAt      time.Time `json:"occurredAt"`
}

// OrderEventPublisher publishes order lifecycle events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, message OrderEventMessage) (string, error)
}

// Notification is a push message addressed to one user.
type Notification struct {
	UserID   string
	Title    string
	Body     string
	Metadata map[string]string
}

// NotificationDispatcher delivers notifications best-effort. Callers never
// treat a dispatch failure as their own failure.
type NotificationDispatcher interface {
	Notify(ctx context.Context, notification Notification) error
}

package repositories

import (
	"context"
	"time"

	domain "github.com/verdantfield/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Carts() CartRepository
	PendingOrders() PendingOrderRepository
	Orders() OrderRepository
	Users() UserRepository
	Counters() CounterRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ProductRepository reads catalog products and their size variants. Products
// are authoritative for price and stock; this pipeline never edits anything
// except stock counts, and those only through OrderRepository.Materialize.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
}

// CartRepository owns per-user cart persistence. Carts are keyed by user id.
type CartRepository interface {
	Get(ctx context.Context, userID string) (domain.Cart, error)
	Put(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	Delete(ctx context.Context, userID string) error
}

// PendingOrderRepository stages validated order payloads keyed by payment
// intent id until the gateway confirms or rejects the charge.
type PendingOrderRepository interface {
	Create(ctx context.Context, pending domain.PendingOrder) error
	FindByIntentID(ctx context.Context, intentID string) (domain.PendingOrder, error)
	Delete(ctx context.Context, intentID string) error
	ListStale(ctx context.Context, before time.Time, limit int) ([]domain.PendingOrder, error)
}

// MaterializeRequest drives the atomic conversion of a pending order into a
// durable order document.
type MaterializeRequest struct {
	IntentID    string
	OrderID     string
	OrderNumber string
	Now         time.Time
}

// MaterializeResult reports the created order. Created is false when no
// pending order existed for the intent, which is the duplicate-delivery case.
type MaterializeResult struct {
	Order   domain.Order
	Created bool
}

// StatusAppendRequest appends a status entry to an order's history.
type StatusAppendRequest struct {
	OrderID string
	Status  domain.OrderStatus
	Note    string
	Now     time.Time
}

// RefundRecordRequest records a refund decision against an order.
type RefundRecordRequest struct {
	OrderID  string
	RefundID string
	Amount   int64
	Note     string
	Now      time.Time
}

// OrderRepository persists durable orders. Materialize is the only path that
// creates an order: in one transaction it consumes the pending order,
// decrements stock (floored at zero, recording oversells), writes the order,
// and clears the buyer's cart. AppendStatus and RecordRefund are the only
// mutation paths afterwards, and both append to the status history.
type OrderRepository interface {
	Materialize(ctx context.Context, req MaterializeRequest) (MaterializeResult, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByIntentID(ctx context.Context, intentID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	AppendStatus(ctx context.Context, req StatusAppendRequest) (domain.Order, error)
	RecordRefund(ctx context.Context, req RefundRecordRequest) (domain.Order, error)
}

// UserRepository stores customer profiles, gateway customer references, and
// notification targets.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.UserProfile, error)
	UpdateProfile(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, error)
	SetStripeCustomerID(ctx context.Context, userID string, customerID string) error
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// OrderListFilter narrows order listings for customers and operators.
type OrderListFilter struct {
	UserID     string
	Status     []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}


package domain

import (
	"time"
)

// CartLine is the untrusted client input for a single cart entry. Only these
// three fields cross the trust boundary; prices, names, and images are always
// resolved server-side from the catalog.
type CartLine struct {
	ProductID string `firestore:"productId" json:"productId"`
	SizeID    string `firestore:"sizeId" json:"sizeId"`
	Quantity  int    `firestore:"quantity" json:"quantity"`
}

// Cart aggregates the stored shopping cart for a user. The document id is the
// user id, so each user has at most one cart.
type Cart struct {
	UserID    string
	Lines     []CartLine
	UpdatedAt time.Time
}

// Product is the catalog-owned product record. The reconciliation pipeline
// treats it as authoritative-read; creation and editing live elsewhere.
type Product struct {
	ID        string
	Name      string
	Image     string
	Active    bool
	Sizes     []ProductSize
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProductSize is a purchasable variant of a product. Price is in cents and is
// the only source of truth for pricing; Stock is authoritative
// read-and-decrement for this pipeline.
type ProductSize struct {
	ID    string
	Label string
	Price int64
	Stock int
}

// LineItem is an immutable snapshot of a cart line taken at validation time,
// decoupled from later product edits so historical orders always show the
// price actually charged.
type LineItem struct {
	ProductID    string `firestore:"productId"`
	ProductName  string `firestore:"productName"`
	ProductImage string `firestore:"productImage"`
	SizeID       string `firestore:"sizeId"`
	SizeLabel    string `firestore:"sizeLabel"`
	UnitPrice    int64  `firestore:"unitPrice"`
	Quantity     int    `firestore:"quantity"`
}

// Address represents the shipping address captured at checkout.
type Address struct {
	Recipient  string  `firestore:"recipient"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city"`
	State      string  `firestore:"state"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
	Phone      *string `firestore:"phone,omitempty"`
}

// PendingOrder is the staging record bridging "charge requested" and "charge
// confirmed". It is keyed by the payment intent id, which makes webhook
// processing idempotent: consuming it deletes it, and a second delivery of
// the same event finds nothing to consume.
type PendingOrder struct {
	IntentID        string
	UserID          string
	UserEmail       string
	Items           []LineItem
	Subtotal        int64
	Tax             int64
	DeliveryFee     int64
	Total           int64
	ShippingAddress Address
	DeliveryDate    *time.Time
	CreatedAt       time.Time
}

// OrderStatus enumerates the lifecycle states of a materialized order.
type OrderStatus string

const (
	// OrderStatusConfirmed is the sole initial state, entered when payment is confirmed.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusPreparing indicates the nursery is preparing plants for shipment.
	OrderStatusPreparing OrderStatus = "preparing"
	// OrderStatusInTransit indicates the order has been handed to the carrier.
	OrderStatusInTransit OrderStatus = "in_transit"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled by an operator.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded indicates a refund was recorded against the order.
	OrderStatusRefunded OrderStatus = "refunded"
)

// KnownOrderStatuses lists every status the pipeline recognises.
var KnownOrderStatuses = []OrderStatus{
	OrderStatusConfirmed,
	OrderStatusPreparing,
	OrderStatusInTransit,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

// IsKnownOrderStatus reports whether status is one of the recognised states.
func IsKnownOrderStatus(status OrderStatus) bool {
	for _, s := range KnownOrderStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// StatusEntry is a single immutable entry in an order's status history.
type StatusEntry struct {
	Status    OrderStatus `firestore:"status"`
	Timestamp time.Time   `firestore:"timestamp"`
	Note      string      `firestore:"note"`
}

// OversoldLine records a stock decrement that would have driven stock below
// zero. The order still completes; the shortfall is surfaced to operators.
type OversoldLine struct {
	ProductID string `firestore:"productId"`
	SizeID    string `firestore:"sizeId"`
	Requested int    `firestore:"requested"`
	Available int    `firestore:"available"`
}

// Order is the durable order record, created exactly once by the materializer
// after payment confirmation and mutated only through status transitions and
// the refund handler, both of which append to StatusHistory rather than
// rewriting it.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	UserEmail       string
	Items           []LineItem
	Subtotal        int64
	Tax             int64
	DeliveryFee     int64
	Total           int64
	ShippingAddress Address
	DeliveryDate    *time.Time
	Status          OrderStatus
	StatusHistory   []StatusEntry
	PaymentIntentID string
	RefundID        *string
	RefundAmount    *int64
	Oversold        []OversoldLine
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NotificationPreferences stores per-channel opt-in flags keyed by channel
// name; a missing key means opted in.
type NotificationPreferences map[string]bool

// UserProfile is the projection of an authenticated customer used by the
// pipeline: contact details, the lazily created gateway customer reference,
// and push notification targets.
type UserProfile struct {
	ID                string
	Email             string
	DisplayName       string
	StripeCustomerID  string
	DeviceTokens      []string
	NotificationPrefs NotificationPreferences
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Pagination carries cursor-based paging inputs for list queries.
type Pagination struct {
	PageSize  int
	PageToken string
}

// RangeQuery bounds a list query by an inclusive lower and exclusive upper value.
type RangeQuery[T any] struct {
	From *T
	To   *T
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

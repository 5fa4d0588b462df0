package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/verdantfield/api/internal/domain"
	pfirestore "github.com/verdantfield/api/internal/platform/firestore"
	"github.com/verdantfield/api/internal/platform/pagination"
	"github.com/verdantfield/api/internal/repositories"
)

const (
	ordersCollection        = "orders"
	pendingOrdersCollection = "pendingOrders"
	productSizesCollection  = "sizes"
	defaultOrderPageSize    = 20
	maxOrderPageSize        = 100
)

// OrderRepository persists durable orders in Firestore. Materialize performs
// the pending-to-order conversion in a single transaction so a crash at any
// point leaves either the full order or the untouched pending record, never a
// partial write.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	pendings *pfirestore.BaseRepository[pendingOrderDocument]
	carts    *pfirestore.BaseRepository[cartDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
		pendings: pfirestore.NewBaseRepository[pendingOrderDocument](provider, pendingOrdersCollection, nil, nil),
		carts:    pfirestore.NewBaseRepository[cartDocument](provider, cartsCollection, nil, nil),
	}, nil
}

// Materialize converts the pending order for the given intent into a durable
// order. When no pending order exists the call is a no-op with Created=false;
// this is how duplicate webhook deliveries collapse into a single order.
// Stock decrements are floored at zero and shortfalls are recorded on the
// order rather than failing it: the customer has already been charged.
func (r *OrderRepository) Materialize(ctx context.Context, req repositories.MaterializeRequest) (repositories.MaterializeResult, error) {
	if r == nil || r.provider == nil {
		return repositories.MaterializeResult{}, errors.New("order repository not initialised")
	}
	intentID := strings.TrimSpace(req.IntentID)
	if intentID == "" {
		return repositories.MaterializeResult{}, errors.New("order materialize: intent id is required")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return repositories.MaterializeResult{}, errors.New("order materialize: order id is required")
	}

	now := req.Now.UTC()
	var result repositories.MaterializeResult

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = repositories.MaterializeResult{}

		pendingRef, err := r.pendings.DocumentRef(ctx, intentID)
		if err != nil {
			return err
		}
		pendingSnap, err := tx.Get(pendingRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				// Already consumed or never staged. Nothing to do.
				return nil
			}
			return err
		}
		var pendingDoc pendingOrderDocument
		if err := pendingSnap.DataTo(&pendingDoc); err != nil {
			return fmt.Errorf("decode pending order %s: %w", intentID, err)
		}

		client, err := r.provider.Client(ctx)
		if err != nil {
			return err
		}

		// Firestore requires all transaction reads before any write, so
		// collect every size snapshot first.
		type sizeRead struct {
			ref   *firestore.DocumentRef
			stock int
			found bool
		}
		sizeReads := make(map[string]*sizeRead, len(pendingDoc.Items))
		sizeKey := func(productID, sizeID string) string { return productID + "/" + sizeID }
		for _, item := range pendingDoc.Items {
			key := sizeKey(item.ProductID, item.SizeID)
			if _, ok := sizeReads[key]; ok {
				continue
			}
			ref := client.Collection(productsCollection).Doc(item.ProductID).
				Collection(productSizesCollection).Doc(item.SizeID)
			read := &sizeRead{ref: ref}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) != codes.NotFound {
					return err
				}
			} else {
				var sizeDoc productSizeDocument
				if err := snap.DataTo(&sizeDoc); err != nil {
					return fmt.Errorf("decode product size %s: %w", key, err)
				}
				read.stock = sizeDoc.Stock
				read.found = true
			}
			sizeReads[key] = read
		}

		var oversold []oversoldLineDocument
		for _, item := range pendingDoc.Items {
			read := sizeReads[sizeKey(item.ProductID, item.SizeID)]
			available := 0
			if read.found {
				available = read.stock
			}
			if available < item.Quantity {
				oversold = append(oversold, oversoldLineDocument{
					ProductID: item.ProductID,
					SizeID:    item.SizeID,
					Requested: item.Quantity,
					Available: available,
				})
			}
			remaining := available - item.Quantity
			if remaining < 0 {
				remaining = 0
			}
			read.stock = remaining
		}
		for _, read := range sizeReads {
			if !read.found {
				continue
			}
			if err := tx.Update(read.ref, []firestore.Update{
				{Path: "stock", Value: read.stock},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
		}

		orderDoc := orderDocument{
			OrderNumber:     strings.TrimSpace(req.OrderNumber),
			UserID:          pendingDoc.UserID,
			UserEmail:       pendingDoc.UserEmail,
			Items:           pendingDoc.Items,
			Subtotal:        pendingDoc.Subtotal,
			Tax:             pendingDoc.Tax,
			DeliveryFee:     pendingDoc.DeliveryFee,
			Total:           pendingDoc.Total,
			ShippingAddress: pendingDoc.ShippingAddress,
			DeliveryDate:    pendingDoc.DeliveryDate,
			Status:          string(domain.OrderStatusConfirmed),
			StatusHistory: []statusEntryDocument{{
				Status:    string(domain.OrderStatusConfirmed),
				Timestamp: now,
				Note:      domain.DefaultStatusNote(domain.OrderStatusConfirmed),
			}},
			PaymentIntentID: intentID,
			Oversold:        oversold,
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		if err := tx.Create(orderRef, orderDoc); err != nil {
			return err
		}

		cartRef, err := r.carts.DocumentRef(ctx, pendingDoc.UserID)
		if err != nil {
			return err
		}
		if err := tx.Delete(cartRef); err != nil {
			return err
		}
		if err := tx.Delete(pendingRef); err != nil {
			return err
		}

		result = repositories.MaterializeResult{
			Order:   orderDoc.toDomain(orderID),
			Created: true,
		}
		return nil
	})
	if err != nil {
		return repositories.MaterializeResult{}, pfirestore.WrapError("orders.materialize", err)
	}
	return result, nil
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc, err := r.orders.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByIntentID locates the order materialized from the given payment intent.
func (r *OrderRepository) FindByIntentID(ctx context.Context, intentID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(intentID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: intent id is required")
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("paymentIntentId", "==", id).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError("orders.findByIntent", status.Error(codes.NotFound, fmt.Sprintf("order for intent %s not found", id)))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// List returns orders matching the filter, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = defaultOrderPageSize
	}
	if pageSize > maxOrderPageSize {
		pageSize = maxOrderPageSize
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}

	query := client.Collection(ordersCollection).Query
	if uid := strings.TrimSpace(filter.UserID); uid != "" {
		query = query.Where("userId", "==", uid)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		query = query.Where("status", "in", statuses)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<", filter.DateRange.To.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.OrderID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{OrderID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{
		Items:         orders,
		NextPageToken: nextToken,
	}, nil
}

// AppendStatus appends a status entry and advances the order's current status
// in one transaction. History is strictly append-only.
func (r *OrderRepository) AppendStatus(ctx context.Context, req repositories.StatusAppendRequest) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order append status: order id is required")
	}

	now := req.Now.UTC()
	var updated domain.Order

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}

		doc.Status = string(req.Status)
		doc.StatusHistory = append(doc.StatusHistory, statusEntryDocument{
			Status:    string(req.Status),
			Timestamp: now,
			Note:      req.Note,
		})
		doc.UpdatedAt = now

		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc.toDomain(orderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.appendStatus", err)
	}
	return updated, nil
}

// RecordRefund stores the refund reference and amount, moves the order to
// refunded, and appends the matching history entry. A repeat call overwrites
// the refund fields and appends another entry.
func (r *OrderRepository) RecordRefund(ctx context.Context, req repositories.RefundRecordRequest) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order record refund: order id is required")
	}

	now := req.Now.UTC()
	var updated domain.Order

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}

		refundID := strings.TrimSpace(req.RefundID)
		amount := req.Amount
		doc.RefundID = &refundID
		doc.RefundAmount = &amount
		doc.Status = string(domain.OrderStatusRefunded)
		doc.StatusHistory = append(doc.StatusHistory, statusEntryDocument{
			Status:    string(domain.OrderStatusRefunded),
			Timestamp: now,
			Note:      req.Note,
		})
		doc.UpdatedAt = now

		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc.toDomain(orderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.recordRefund", err)
	}
	return updated, nil
}

// Document structures -------------------------------------------------------

type orderDocument struct {
	OrderNumber     string                 `firestore:"orderNumber"`
	UserID          string                 `firestore:"userId"`
	UserEmail       string                 `firestore:"userEmail"`
	Items           []lineItemDocument     `firestore:"items"`
	Subtotal        int64                  `firestore:"subtotal"`
	Tax             int64                  `firestore:"tax"`
	DeliveryFee     int64                  `firestore:"deliveryFee"`
	Total           int64                  `firestore:"total"`
	ShippingAddress addressDocument        `firestore:"shippingAddress"`
	DeliveryDate    *time.Time             `firestore:"deliveryDate,omitempty"`
	Status          string                 `firestore:"status"`
	StatusHistory   []statusEntryDocument  `firestore:"statusHistory"`
	PaymentIntentID string                 `firestore:"paymentIntentId"`
	RefundID        *string                `firestore:"refundId,omitempty"`
	RefundAmount    *int64                 `firestore:"refundAmount,omitempty"`
	Oversold        []oversoldLineDocument `firestore:"oversold,omitempty"`
	CreatedAt       time.Time              `firestore:"createdAt"`
	UpdatedAt       time.Time              `firestore:"updatedAt"`
}

type statusEntryDocument struct {
	Status    string    `firestore:"status"`
	Timestamp time.Time `firestore:"timestamp"`
	Note      string    `firestore:"note"`
}

type oversoldLineDocument struct {
	ProductID string `firestore:"productId"`
	SizeID    string `firestore:"sizeId"`
	Requested int    `firestore:"requested"`
	Available int    `firestore:"available"`
}

type lineItemDocument struct {
	ProductID    string `firestore:"productId"`
	ProductName  string `firestore:"productName"`
	ProductImage string `firestore:"productImage,omitempty"`
	SizeID       string `firestore:"sizeId"`
	SizeLabel    string `firestore:"sizeLabel"`
	UnitPrice    int64  `firestore:"unitPrice"`
	Quantity     int    `firestore:"quantity"`
}

type addressDocument struct {
	Recipient  string  `firestore:"recipient"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city"`
	State      string  `firestore:"state"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
	Phone      *string `firestore:"phone,omitempty"`
}

func (d orderDocument) toDomain(id string) domain.Order {
	history := make([]domain.StatusEntry, len(d.StatusHistory))
	for i, entry := range d.StatusHistory {
		history[i] = domain.StatusEntry{
			Status:    domain.OrderStatus(entry.Status),
			Timestamp: entry.Timestamp,
			Note:      entry.Note,
		}
	}
	var oversold []domain.OversoldLine
	for _, line := range d.Oversold {
		oversold = append(oversold, domain.OversoldLine{
			ProductID: line.ProductID,
			SizeID:    line.SizeID,
			Requested: line.Requested,
			Available: line.Available,
		})
	}
	return domain.Order{
		ID:              id,
		OrderNumber:     d.OrderNumber,
		UserID:          d.UserID,
		UserEmail:       d.UserEmail,
		Items:           lineItemsToDomain(d.Items),
		Subtotal:        d.Subtotal,
		Tax:             d.Tax,
		DeliveryFee:     d.DeliveryFee,
		Total:           d.Total,
		ShippingAddress: d.ShippingAddress.toDomain(),
		DeliveryDate:    d.DeliveryDate,
		Status:          domain.OrderStatus(d.Status),
		StatusHistory:   history,
		PaymentIntentID: d.PaymentIntentID,
		RefundID:        d.RefundID,
		RefundAmount:    d.RefundAmount,
		Oversold:        oversold,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func lineItemsToDomain(items []lineItemDocument) []domain.LineItem {
	out := make([]domain.LineItem, len(items))
	for i, item := range items {
		out[i] = domain.LineItem{
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			ProductImage: item.ProductImage,
			SizeID:       item.SizeID,
			SizeLabel:    item.SizeLabel,
			UnitPrice:    item.UnitPrice,
			Quantity:     item.Quantity,
		}
	}
	return out
}

func newLineItemDocuments(items []domain.LineItem) []lineItemDocument {
	out := make([]lineItemDocument, len(items))
	for i, item := range items {
		out[i] = lineItemDocument{
			ProductID:    strings.TrimSpace(item.ProductID),
			ProductName:  strings.TrimSpace(item.ProductName),
			ProductImage: strings.TrimSpace(item.ProductImage),
			SizeID:       strings.TrimSpace(item.SizeID),
			SizeLabel:    strings.TrimSpace(item.SizeLabel),
			UnitPrice:    item.UnitPrice,
			Quantity:     item.Quantity,
		}
	}
	return out
}

func newAddressDocument(addr domain.Address) addressDocument {
	return addressDocument{
		Recipient:  strings.TrimSpace(addr.Recipient),
		Line1:      strings.TrimSpace(addr.Line1),
		Line2:      addr.Line2,
		City:       strings.TrimSpace(addr.City),
		State:      strings.TrimSpace(addr.State),
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.TrimSpace(addr.Country),
		Phone:      addr.Phone,
	}
}

func (d addressDocument) toDomain() domain.Address {
	return domain.Address{
		Recipient:  d.Recipient,
		Line1:      d.Line1,
		Line2:      d.Line2,
		City:       d.City,
		State:      d.State,
		PostalCode: d.PostalCode,
		Country:    d.Country,
		Phone:      d.Phone,
	}
}

type orderPageToken struct {
	OrderID   string
	CreatedAt time.Time
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	return pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{token.CreatedAt.UTC().Format(time.RFC3339Nano), token.OrderID},
	})
}

func decodeOrderPageToken(encoded string) (*orderPageToken, error) {
	cursor, err := pagination.DecodeToken(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode order page token: %w", err)
	}
	if len(cursor.StartAfter) != 2 {
		return nil, fmt.Errorf("decode order page token: %w", pagination.ErrInvalidPageToken)
	}
	rawTime, okTime := cursor.StartAfter[0].(string)
	orderID, okID := cursor.StartAfter[1].(string)
	if !okTime || !okID {
		return nil, fmt.Errorf("decode order page token: %w", pagination.ErrInvalidPageToken)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return nil, fmt.Errorf("decode order page token: %w", pagination.ErrInvalidPageToken)
	}
	return &orderPageToken{OrderID: orderID, CreatedAt: createdAt}, nil
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/verdantfield/api/internal/domain"
	pfirestore "github.com/verdantfield/api/internal/platform/firestore"
	"github.com/verdantfield/api/internal/repositories"
)

const defaultStaleListLimit = 100

// PendingOrderRepository stages validated checkouts keyed by payment intent id.
type PendingOrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[pendingOrderDocument]
}

// NewPendingOrderRepository constructs a Firestore-backed pending order repository.
func NewPendingOrderRepository(provider *pfirestore.Provider) (*PendingOrderRepository, error) {
	if provider == nil {
		return nil, errors.New("pending order repository requires firestore provider")
	}
	return &PendingOrderRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[pendingOrderDocument](provider, pendingOrdersCollection, nil, nil),
	}, nil
}

// Create stages a pending order. The intent id is the document id, so a
// duplicate create for the same intent fails with a conflict.
func (r *PendingOrderRepository) Create(ctx context.Context, pending domain.PendingOrder) error {
	if r == nil || r.base == nil {
		return errors.New("pending order repository not initialised")
	}
	intentID := strings.TrimSpace(pending.IntentID)
	if intentID == "" {
		return errors.New("pending order repository: intent id is required")
	}
	if strings.TrimSpace(pending.UserID) == "" {
		return errors.New("pending order repository: user id is required")
	}
	if len(pending.Items) == 0 {
		return errors.New("pending order repository: at least one item is required")
	}

	doc := newPendingOrderDocument(pending)
	_, err := r.base.Create(ctx, intentID, doc)
	return err
}

// FindByIntentID loads the pending order staged for the given intent.
func (r *PendingOrderRepository) FindByIntentID(ctx context.Context, intentID string) (domain.PendingOrder, error) {
	if r == nil || r.base == nil {
		return domain.PendingOrder{}, errors.New("pending order repository not initialised")
	}
	id := strings.TrimSpace(intentID)
	if id == "" {
		return domain.PendingOrder{}, errors.New("pending order repository: intent id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.PendingOrder{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Delete removes the pending order for the given intent. Deleting an absent
// record is not an error.
func (r *PendingOrderRepository) Delete(ctx context.Context, intentID string) error {
	if r == nil || r.base == nil {
		return errors.New("pending order repository not initialised")
	}
	id := strings.TrimSpace(intentID)
	if id == "" {
		return errors.New("pending order repository: intent id is required")
	}
	return r.base.Delete(ctx, id)
}

// ListStale returns pending orders created before the cutoff, oldest first.
func (r *PendingOrderRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]domain.PendingOrder, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("pending order repository not initialised")
	}
	if limit <= 0 {
		limit = defaultStaleListLimit
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("createdAt", "<", before.UTC()).
			OrderBy("createdAt", firestore.Asc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.PendingOrder, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(doc.ID))
	}
	return out, nil
}

type pendingOrderDocument struct {
	UserID          string             `firestore:"userId"`
	UserEmail       string             `firestore:"userEmail"`
	Items           []lineItemDocument `firestore:"items"`
	Subtotal        int64              `firestore:"subtotal"`
	Tax             int64              `firestore:"tax"`
	DeliveryFee     int64              `firestore:"deliveryFee"`
	Total           int64              `firestore:"total"`
	ShippingAddress addressDocument    `firestore:"shippingAddress"`
	DeliveryDate    *time.Time         `firestore:"deliveryDate,omitempty"`
	CreatedAt       time.Time          `firestore:"createdAt"`
}

func newPendingOrderDocument(pending domain.PendingOrder) pendingOrderDocument {
	return pendingOrderDocument{
		UserID:          strings.TrimSpace(pending.UserID),
		UserEmail:       strings.TrimSpace(pending.UserEmail),
		Items:           newLineItemDocuments(pending.Items),
		Subtotal:        pending.Subtotal,
		Tax:             pending.Tax,
		DeliveryFee:     pending.DeliveryFee,
		Total:           pending.Total,
		ShippingAddress: newAddressDocument(pending.ShippingAddress),
		DeliveryDate:    pending.DeliveryDate,
		CreatedAt:       pending.CreatedAt.UTC(),
	}
}

func (d pendingOrderDocument) toDomain(intentID string) domain.PendingOrder {
	return domain.PendingOrder{
		IntentID:        intentID,
		UserID:          d.UserID,
		UserEmail:       d.UserEmail,
		Items:           lineItemsToDomain(d.Items),
		Subtotal:        d.Subtotal,
		Tax:             d.Tax,
		DeliveryFee:     d.DeliveryFee,
		Total:           d.Total,
		ShippingAddress: d.ShippingAddress.toDomain(),
		DeliveryDate:    d.DeliveryDate,
		CreatedAt:       d.CreatedAt,
	}
}

var _ repositories.PendingOrderRepository = (*PendingOrderRepository)(nil)

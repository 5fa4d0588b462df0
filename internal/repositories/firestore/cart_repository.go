package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/verdantfield/api/internal/domain"
	pfirestore "github.com/verdantfield/api/internal/platform/firestore"
	"github.com/verdantfield/api/internal/repositories"
)

const cartsCollection = "carts"

// CartRepository persists per-user carts. The user id doubles as the
// document id, so each user holds exactly one cart.
type CartRepository struct {
	base *pfirestore.BaseRepository[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		base: pfirestore.NewBaseRepository[cartDocument](provider, cartsCollection, nil, nil),
	}, nil
}

// Get loads the cart for the given user.
func (r *CartRepository) Get(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Put replaces the stored cart for the user.
func (r *CartRepository) Put(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(cart.UserID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	updatedAt := cart.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	doc := newCartDocument(cart, updatedAt)
	result, err := r.base.Set(ctx, uid, doc)
	if err != nil {
		return domain.Cart{}, err
	}

	saved := doc.toDomain(uid)
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// Delete removes the cart. Missing carts are treated as already deleted.
func (r *CartRepository) Delete(ctx context.Context, userID string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return errors.New("cart repository: user id is required")
	}
	return r.base.Delete(ctx, uid)
}

type cartDocument struct {
	Lines     []cartLineDocument `firestore:"lines"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartLineDocument struct {
	ProductID string `firestore:"productId"`
	SizeID    string `firestore:"sizeId"`
	Quantity  int    `firestore:"quantity"`
}

func newCartDocument(cart domain.Cart, updatedAt time.Time) cartDocument {
	lines := make([]cartLineDocument, len(cart.Lines))
	for i, line := range cart.Lines {
		lines[i] = cartLineDocument{
			ProductID: strings.TrimSpace(line.ProductID),
			SizeID:    strings.TrimSpace(line.SizeID),
			Quantity:  line.Quantity,
		}
	}
	return cartDocument{
		Lines:     lines,
		UpdatedAt: updatedAt,
	}
}

func (d cartDocument) toDomain(userID string) domain.Cart {
	lines := make([]domain.CartLine, len(d.Lines))
	for i, line := range d.Lines {
		lines[i] = domain.CartLine{
			ProductID: line.ProductID,
			SizeID:    line.SizeID,
			Quantity:  line.Quantity,
		}
	}
	return domain.Cart{
		UserID:    userID,
		Lines:     lines,
		UpdatedAt: d.UpdatedAt,
	}
}

var _ repositories.CartRepository = (*CartRepository)(nil)

package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/verdantfield/api/internal/domain"
	pfirestore "github.com/verdantfield/api/internal/platform/firestore"
	"github.com/verdantfield/api/internal/repositories"
)

const productsCollection = "products"

// ProductRepository reads catalog products and size variants. Sizes live in a
// subcollection under each product document.
type ProductRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil),
	}, nil
}

// FindByID loads a product together with all of its size variants.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Product{}, pfirestore.WrapError("products.sizes", err)
	}

	iter := client.Collection(productsCollection).Doc(id).
		Collection(productSizesCollection).
		OrderBy("price", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var sizes []domain.ProductSize
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.Product{}, pfirestore.WrapError("products.sizes", err)
		}
		var sizeDoc productSizeDocument
		if err := snap.DataTo(&sizeDoc); err != nil {
			return domain.Product{}, fmt.Errorf("decode product size %s/%s: %w", id, snap.Ref.ID, err)
		}
		sizes = append(sizes, sizeDoc.toDomain(snap.Ref.ID))
	}

	product := doc.Data.toDomain(doc.ID)
	product.Sizes = sizes
	return product, nil
}

type productDocument struct {
	Name      string    `firestore:"name"`
	Image     string    `firestore:"image,omitempty"`
	Active    bool      `firestore:"active"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:        id,
		Name:      d.Name,
		Image:     d.Image,
		Active:    d.Active,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

type productSizeDocument struct {
	Label     string    `firestore:"label"`
	Price     int64     `firestore:"price"`
	Stock     int       `firestore:"stock"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d productSizeDocument) toDomain(id string) domain.ProductSize {
	return domain.ProductSize{
		ID:    id,
		Label: d.Label,
		Price: d.Price,
		Stock: d.Stock,
	}
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

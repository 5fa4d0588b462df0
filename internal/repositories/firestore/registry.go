package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	pfirestore "github.com/verdantfield/api/internal/platform/firestore"
	"github.com/verdantfield/api/internal/repositories"
)

// Registry wires every Firestore-backed repository behind the single shared
// provider so the service layer only depends on repository contracts.
type Registry struct {
	provider *pfirestore.Provider

	products *ProductRepository
	carts    *CartRepository
	pending  *PendingOrderRepository
	orders   *OrderRepository
	users    *UserRepository
	counters *CounterRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOption customises registry construction.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	extraChecks []repositories.DependencyCheck
}

// WithDependencyChecks adds readiness probes beyond the built-in Firestore
// check, typically Pub/Sub and the payment gateway.
func WithDependencyChecks(checks ...repositories.DependencyCheck) RegistryOption {
	return func(cfg *registryConfig) {
		cfg.extraChecks = append(cfg.extraChecks, checks...)
	}
}

// NewRegistry assembles the repository set over the shared Firestore provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	cfg := registryConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("registry: products: %w", err)
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("registry: carts: %w", err)
	}
	pending, err := NewPendingOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("registry: pending orders: %w", err)
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("registry: orders: %w", err)
	}
	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("registry: users: %w", err)
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("registry: counters: %w", err)
	}

	checks := append([]repositories.DependencyCheck{firestoreCheck(provider)}, cfg.extraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, fmt.Errorf("registry: health: %w", err)
	}

	return &Registry{
		provider: provider,
		products: products,
		carts:    carts,
		pending:  pending,
		orders:   orders,
		users:    users,
		counters: counters,
		health:   health,
	}, nil
}

func firestoreCheck(provider *pfirestore.Provider) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name:    "firestore",
		Timeout: 2 * time.Second,
		Check: func(ctx context.Context) error {
			_, err := provider.Client(ctx)
			return err
		},
	}
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Products returns the catalog repository.
func (r *Registry) Products() repositories.ProductRepository { return r.products }

// Carts returns the cart repository.
func (r *Registry) Carts() repositories.CartRepository { return r.carts }

// PendingOrders returns the pending order staging repository.
func (r *Registry) PendingOrders() repositories.PendingOrderRepository { return r.pending }

// Orders returns the durable order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Users returns the user profile repository.
func (r *Registry) Users() repositories.UserRepository { return r.users }

// Counters returns the sequence counter repository.
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

// Health returns the dependency health repository.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

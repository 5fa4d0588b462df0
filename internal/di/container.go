package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/verdantfield/api/internal/payments"
	"github.com/verdantfield/api/internal/platform/config"
	"github.com/verdantfield/api/internal/repositories"
	"github.com/verdantfield/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
// Concrete implementations are assembled in NewContainer.
type Services struct {
	Pricing  *services.PricingService
	Cart     services.CartService
	Checkout services.CheckoutService
	Orders   services.OrderService
	System   services.SystemService
}

// Dependencies carries the externally constructed collaborators: the payment
// gateway, the event publisher, and the push dispatcher. Any of them may be
// nil; services degrade to their no-op defaults where the contract allows it.
type Dependencies struct {
	Gateway  payments.Gateway
	Events   services.OrderEventPublisher
	Notifier services.NotificationDispatcher
	Logger   func(ctx context.Context, event string, fields map[string]any)
	Clock    func() time.Time
	Build    services.BuildInfo
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides
// real implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps Dependencies) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(cfg, reg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(cfg config.Config, reg repositories.Registry, deps Dependencies) (Services, error) {
	var svc Services

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	if productsRepo := reg.Products(); productsRepo != nil {
		pricingSvc, err := services.NewPricingService(services.PricingServiceDeps{
			Products:              productsRepo,
			DeliveryFee:           cfg.Checkout.DeliveryFeeCents,
			FreeDeliveryThreshold: cfg.Checkout.FreeDeliveryThreshold,
			Logger:                deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build pricing service: %w", err)
		}
		svc.Pricing = pricingSvc
	}

	if cartsRepo := reg.Carts(); cartsRepo != nil {
		cartSvc, err := services.NewCartService(services.CartServiceDeps{
			Repository: cartsRepo,
			Clock:      clock,
			Logger:     deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build cart service: %w", err)
		}
		svc.Cart = cartSvc
	}

	if svc.Pricing != nil && deps.Gateway != nil {
		checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
			Pricer:   svc.Pricing,
			Users:    reg.Users(),
			Pendings: reg.PendingOrders(),
			Gateway:  deps.Gateway,
			Currency: cfg.Checkout.Currency,
			Clock:    clock,
			Logger:   deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build checkout service: %w", err)
		}
		svc.Checkout = checkoutSvc
	}

	if ordersRepo := reg.Orders(); ordersRepo != nil {
		orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
			Orders:     ordersRepo,
			Pendings:   reg.PendingOrders(),
			Counters:   reg.Counters(),
			Gateway:    deps.Gateway,
			Events:     deps.Events,
			Notifier:   deps.Notifier,
			PendingTTL: cfg.Checkout.PendingOrderTTL,
			Clock:      clock,
			Logger:     deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build order service: %w", err)
		}
		svc.Orders = orderSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            deps.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}

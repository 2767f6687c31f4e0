package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stackmart/api/internal/platform/config"
	"github.com/stackmart/api/internal/platform/idempotency"
	"github.com/stackmart/api/internal/repositories"
	"github.com/stackmart/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Cart      services.CartService
	Orders    services.OrderService
	Inventory services.InventoryService
	Payments  services.PaymentService
	System    services.SystemService
}

// Infrastructure carries collaborators that live outside the repository layer.
// The gateway is mandatory; publishers, dedup store, and archive degrade to
// no-ops inside the services when absent.
type Infrastructure struct {
	Gateway         services.PaymentGateway
	OrderEvents     services.OrderEventPublisher
	InventoryEvents services.InventoryEventPublisher
	Dedup           idempotency.Store
	Archive         services.PayloadArchiver
	Build           services.BuildInfo
	Clock           func() time.Time
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and supporting infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides the
// Firestore-backed registry, while tests can supply in-memory implementations.
func NewContainer(cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("di: repositories registry is required")
	}
	if infra.Gateway == nil {
		return nil, errors.New("di: payment gateway is required")
	}

	svc, err := buildServices(cfg, reg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources held by the repository layer.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(cfg config.Config, reg repositories.Registry, infra Infrastructure) (Services, error) {
	var svc Services

	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Inventory: reg.Inventory(),
		Events:    infra.InventoryEvents,
		Clock:     clock,
		Logger:    infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventorySvc

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Repository:      reg.Carts(),
		Products:        reg.Products(),
		Clock:           clock,
		DefaultCurrency: cfg.Cart.DefaultCurrency,
		DefaultTaxRate:  cfg.Cart.DefaultTaxRate,
		GuestCartTTL:    cfg.Cart.GuestCartTTL,
		Logger:          infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:    reg.Orders(),
		Carts:     reg.Carts(),
		Products:  reg.Products(),
		Inventory: inventorySvc,
		Clock:     clock,
		Events:    infra.OrderEvents,
		Logger:    infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:   reg.Orders(),
		Gateway:  infra.Gateway,
		Dedup:    infra.Dedup,
		Archive:  infra.Archive,
		Events:   infra.OrderEvents,
		Clock:    clock,
		DedupTTL: cfg.Payments.EventDedupTTL,
		Logger:   infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Clock:            clock,
		Build:            infra.Build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}

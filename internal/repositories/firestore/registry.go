package firestore

import (
	"context"
	"errors"

	cloudfirestore "cloud.google.com/go/firestore"

	pfirestore "github.com/stackmart/api/internal/platform/firestore"
	"github.com/stackmart/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the shared
// registry contract. Every repository shares the provider's lazily
// initialised client.
type Registry struct {
	provider  *pfirestore.Provider
	products  *ProductRepository
	carts     *CartRepository
	inventory *InventoryRepository
	orders    *OrderRepository
	health    repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the Firestore repository registry. The health
// repository is injected rather than built here because its probe set spans
// dependencies beyond Firestore.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry: provider is required")
	}
	if health == nil {
		return nil, errors.New("firestore registry: health repository is required")
	}

	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	inventory, err := NewInventoryRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:  provider,
		products:  products,
		carts:     carts,
		inventory: inventory,
		orders:    orders,
		health:    health,
	}, nil
}

func (r *Registry) Products() repositories.ProductRepository    { return r.products }
func (r *Registry) Carts() repositories.CartRepository          { return r.carts }
func (r *Registry) Inventory() repositories.InventoryRepository { return r.inventory }
func (r *Registry) Orders() repositories.OrderRepository        { return r.orders }
func (r *Registry) Health() repositories.HealthRepository       { return r.health }

// RunInTx executes fn inside a Firestore transaction. Repository calls made
// through the registry do not automatically join the transaction; fn is
// responsible for using transactional primitives where atomicity matters.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("firestore registry: not initialised")
	}
	return r.provider.RunTransaction(ctx, func(txCtx context.Context, _ *cloudfirestore.Transaction) error {
		return fn(txCtx)
	})
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

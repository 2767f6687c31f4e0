package repositories

import (
	"context"
	"time"

	domain "github.com/stackmart/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Carts() CartRepository
	Inventory() InventoryRepository
	Orders() OrderRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductRepository reads the denormalized catalog projection used for cart
// and order validation. Writes happen in the catalog service, not here.
type ProductRepository interface {
	FindBySKU(ctx context.Context, tenantID, sku string) (domain.Product, error)
	FindBySKUs(ctx context.Context, tenantID string, skus []string) (map[string]domain.Product, error)
}

// CartRepository owns cart persistence keyed by tenant + owner.
type CartRepository interface {
	UpsertCart(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	GetCart(ctx context.Context, tenantID, ownerID string) (domain.Cart, error)
	DeleteCart(ctx context.Context, tenantID, ownerID string) error
}

// InventoryRepository manages stock levels, the movement ledger, and stock
// alerts with transactional guarantees.
type InventoryRepository interface {
	// ApplyMovements atomically applies every line or none: stock checks,
	// stock writes, and ledger appends happen in a single transaction.
	ApplyMovements(ctx context.Context, req InventoryMovementRequest) (InventoryMovementResult, error)
	GetStock(ctx context.Context, tenantID, sku string) (domain.InventoryStock, error)
	ListMovements(ctx context.Context, filter MovementListFilter) (domain.CursorPage[domain.InventoryMovement], error)
	FindUnresolvedAlert(ctx context.Context, tenantID, sku string, alertType domain.StockAlertType) (domain.StockAlert, error)
	InsertAlert(ctx context.Context, alert domain.StockAlert) error
	ResolveAlert(ctx context.Context, tenantID, alertID, actor string, now time.Time) (domain.StockAlert, error)
	ListAlerts(ctx context.Context, filter AlertListFilter) (domain.CursorPage[domain.StockAlert], error)
}

// InventoryMovementLine is one SKU change inside a movement request.
type InventoryMovementLine struct {
	SKU      string
	Quantity int
	Type     domain.MovementType
	// Enforce requires post-movement stock to stay non-negative without
	// clamping; a shortfall fails the whole request.
	Enforce bool
}

// InventoryMovementRequest encapsulates an atomic multi-line stock change.
type InventoryMovementRequest struct {
	TenantID string
	Lines    []InventoryMovementLine
	OrderRef *string
	Actor    string
	Note     string
	Now      time.Time
	NewID    func() string
}

// InventoryMovementResult returns the ledger entries written and the updated
// stock projections keyed by SKU.
type InventoryMovementResult struct {
	Movements []domain.InventoryMovement
	Stocks    map[string]domain.InventoryStock
}

// OrderRepository persists order aggregates and provides query helpers for users and admins.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, tenantID, orderID string) (domain.Order, error)
	FindByPaymentIntent(ctx context.Context, tenantID, intentID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	TenantID   string
	UserID     string
	Status     []string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type MovementListFilter struct {
	TenantID   string
	SKU        string
	OrderRef   string
	Types      []string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type AlertListFilter struct {
	TenantID   string
	SKU        string
	Unresolved bool
	Pagination domain.Pagination
}

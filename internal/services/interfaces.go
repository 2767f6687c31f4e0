package services

import (
	"context"

	domain "github.com/stackmart/api/internal/domain"
	"github.com/stackmart/api/internal/payments"
	"github.com/stackmart/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination          = domain.Pagination
	SortOrder           = domain.SortOrder
	Product             = domain.Product
	Cart                = domain.Cart
	CartItem            = domain.CartItem
	CartDiscount        = domain.CartDiscount
	CartTotals          = domain.CartTotals
	CheckoutSession     = domain.CheckoutSession
	Order               = domain.Order
	OrderItem           = domain.OrderItem
	OrderTotals         = domain.OrderTotals
	OrderStatus         = domain.OrderStatus
	OrderContact        = domain.OrderContact
	TimelineEntry       = domain.TimelineEntry
	PaymentRecord       = domain.PaymentRecord
	PaymentStatus       = domain.PaymentStatus
	Refund              = domain.Refund
	Address             = domain.Address
	MovementType        = domain.MovementType
	InventoryStock      = domain.InventoryStock
	InventoryMovement   = domain.InventoryMovement
	InventoryStockEvent = domain.InventoryStockEvent
	StockAlert          = domain.StockAlert
	StockAlertType      = domain.StockAlertType
	OrderEvent          = domain.OrderEvent
	SystemHealthReport  = domain.SystemHealthReport
)

// CartService manages mutable cart state, keeping totals consistent on every write.
type CartService interface {
	GetOrCreateCart(ctx context.Context, cmd CartScope) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	ApplyDiscount(ctx context.Context, cmd ApplyCartDiscountCommand) (Cart, error)
	RemoveDiscount(ctx context.Context, cmd CartScope) (Cart, error)
	SetShipping(ctx context.Context, cmd SetCartShippingCommand) (Cart, error)
	ClearCart(ctx context.Context, cmd CartScope) error
}

// InventoryService centralizes stock movements, alerts, and the movement ledger.
type InventoryService interface {
	RecordMovement(ctx context.Context, cmd RecordMovementCommand) ([]InventoryMovement, error)
	GetStock(ctx context.Context, tenantID string, sku string) (InventoryStock, error)
	ListMovements(ctx context.Context, filter MovementListFilter) (domain.CursorPage[InventoryMovement], error)
	ListAlerts(ctx context.Context, filter AlertListFilter) (domain.CursorPage[StockAlert], error)
	ResolveAlert(ctx context.Context, cmd ResolveAlertCommand) error
}

// OrderService encapsulates order lifecycle flows from cart checkout through delivery.
type OrderService interface {
	CreateFromCart(ctx context.Context, cmd CreateOrderFromCartCommand) (Order, error)
	GetOrder(ctx context.Context, tenantID string, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	SetItemTracking(ctx context.Context, cmd SetItemTrackingCommand) (Order, error)
	MarkItemDelivered(ctx context.Context, cmd MarkItemDeliveredCommand) (Order, error)
}

// PaymentService handles gateway checkout initiation and idempotent webhook reconciliation.
type PaymentService interface {
	InitiateCheckout(ctx context.Context, cmd InitiateCheckoutCommand) (CheckoutSession, error)
	ApplyGatewayEvent(ctx context.Context, cmd ApplyGatewayEventCommand) (Order, error)
	RequestRefund(ctx context.Context, cmd RequestRefundCommand) (Order, error)
}

// InventoryEventPublisher accepts inventory stock change notifications for downstream processing.
type InventoryEventPublisher interface {
	PublishInventoryEvent(ctx context.Context, event InventoryStockEvent) error
}

// OrderEventPublisher accepts order lifecycle notifications for downstream processing.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// SystemService aggregates utility endpoints such as dependency health checks.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Command and DTO definitions ------------------------------------------------

// CartScope identifies the single active cart for an owner within a tenant.
type CartScope struct {
	TenantID string
	OwnerID  string
	Guest    bool
	Currency string
}

type AddCartItemCommand struct {
	Scope    CartScope
	SKU      string
	Quantity int
}

type UpdateCartItemCommand struct {
	Scope    CartScope
	ItemID   string
	Quantity int
}

type RemoveCartItemCommand struct {
	Scope  CartScope
	ItemID string
}

type ApplyCartDiscountCommand struct {
	Scope  CartScope
	Code   string
	Amount float64
}

type SetCartShippingCommand struct {
	Scope           CartScope
	ShippingFee     *float64
	TaxRate         *float64
	ShippingAddress *Address
	BillingAddress  *Address
}

type RecordMovementCommand struct {
	TenantID string
	Lines    []MovementLine
	Type     MovementType
	OrderRef *string
	ActorID  string
	Note     string
}

type MovementLine struct {
	SKU      string
	Quantity int
}

type MovementListFilter = repositories.MovementListFilter

type AlertListFilter = repositories.AlertListFilter

type ResolveAlertCommand struct {
	TenantID string
	AlertID  string
	ActorID  string
}

type OrderListFilter = repositories.OrderListFilter

type CreateOrderFromCartCommand struct {
	Scope           CartScope
	Contact         OrderContact
	ShippingAddress *Address
	BillingAddress  *Address
	PaymentProvider string
	Metadata        map[string]any
}

type OrderStatusTransitionCommand struct {
	TenantID     string
	OrderID      string
	TargetStatus OrderStatus
	ActorID      string
	Note         string
}

type CancelOrderCommand struct {
	TenantID string
	OrderID  string
	ActorID  string
	Reason   string
}

type SetItemTrackingCommand struct {
	TenantID       string
	OrderID        string
	SKU            string
	TrackingNumber string
	Carrier        string
	ActorID        string
}

type MarkItemDeliveredCommand struct {
	TenantID string
	OrderID  string
	SKU      string
	ActorID  string
}

type InitiateCheckoutCommand struct {
	TenantID   string
	OrderID    string
	Provider   string
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// ApplyGatewayEventCommand carries a verified payment gateway event into reconciliation.
type ApplyGatewayEventCommand struct {
	TenantID string
	Provider string
	Event    GatewayEvent
}

// GatewayEvent is the provider-neutral shape of a verified payment
// notification, produced by the payments adapters.
type (
	GatewayEvent     = payments.GatewayEvent
	GatewayEventKind = payments.EventKind
)

const (
	GatewayEventCaptured = payments.EventCaptured
	GatewayEventFailed   = payments.EventFailed
	GatewayEventRefunded = payments.EventRefunded
	GatewayEventDisputed = payments.EventDisputed
)

type RequestRefundCommand struct {
	TenantID string
	OrderID  string
	Amount   *float64
	Reason   string
	ActorID  string
}

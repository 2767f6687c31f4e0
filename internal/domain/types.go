package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// Product is the denormalized catalog projection the commerce core reads.
// Catalog management lives in a separate service; this service only checks
// that a SKU is active and snapshots its price into carts and orders.
type Product struct {
	ID        string
	TenantID  string
	SKU       string
	Name      string
	UnitPrice float64
	Currency  string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MovementType enumerates the reasons stock can change.
type MovementType string

const (
	// MovementPurchase records stock received from a supplier.
	MovementPurchase MovementType = "purchase"
	// MovementSale records stock debited for a placed order.
	MovementSale MovementType = "sale"
	// MovementReturn records stock credited back after a cancellation or return.
	MovementReturn MovementType = "return"
	// MovementAdjustment records a signed manual correction.
	MovementAdjustment MovementType = "adjustment"
	// MovementTransfer records a signed transfer between locations.
	MovementTransfer MovementType = "transfer"
	// MovementDamage records stock written off as damaged.
	MovementDamage MovementType = "damage"
	// MovementExpired records stock written off as expired.
	MovementExpired MovementType = "expired"
)

// IsValid reports whether the movement type is one of the known values.
func (t MovementType) IsValid() bool {
	switch t {
	case MovementPurchase, MovementSale, MovementReturn, MovementAdjustment,
		MovementTransfer, MovementDamage, MovementExpired:
		return true
	}
	return false
}

// Apply computes the stock level after a movement of the given quantity.
// Additive types increase stock; subtractive types decrease it, clamped at
// zero. Adjustment and transfer treat quantity as a signed delta.
func (t MovementType) Apply(previous, quantity int) int {
	var next int
	switch t {
	case MovementPurchase, MovementReturn:
		next = previous + quantity
	case MovementSale, MovementDamage, MovementExpired:
		next = previous - quantity
	case MovementAdjustment, MovementTransfer:
		next = previous + quantity
	default:
		next = previous
	}
	if next < 0 {
		return 0
	}
	return next
}

// InventoryStock tracks the current quantity on hand for a SKU.
type InventoryStock struct {
	SKU               string
	ProductRef        string
	TenantID          string
	Quantity          int
	LowStockThreshold int
	UpdatedAt         time.Time
}

// InventoryMovement is one immutable ledger entry. Movements are never
// updated or deleted after being written.
type InventoryMovement struct {
	ID            string
	TenantID      string
	SKU           string
	ProductRef    string
	Type          MovementType
	Quantity      int
	PreviousStock int
	NewStock      int
	OrderRef      *string
	Actor         string
	Note          string
	CreatedAt     time.Time
}

// StockAlertType distinguishes low-stock warnings from stock-outs.
type StockAlertType string

const (
	// StockAlertLow fires when stock drops to or below the SKU threshold.
	StockAlertLow StockAlertType = "low_stock"
	// StockAlertOut fires when stock reaches zero.
	StockAlertOut StockAlertType = "out_of_stock"
)

// StockAlert represents an operator-facing stock warning. At most one
// unresolved alert per SKU and type exists at a time.
type StockAlert struct {
	ID         string
	TenantID   string
	SKU        string
	ProductRef string
	Type       StockAlertType
	Stock      int
	Threshold  int
	Resolved   bool
	ResolvedAt *time.Time
	ResolvedBy *string
	CreatedAt  time.Time
}

// InventoryStockEvent captures stock changes published for downstream
// analytics and alerting consumers.
type InventoryStockEvent struct {
	Type       string
	TenantID   string
	SKU        string
	ProductRef string
	OrderRef   string
	Delta      int
	Stock      int
	Threshold  int
	OccurredAt time.Time
	Metadata   map[string]any
}

// Cart aggregates the mutable shopping cart state for one owner. Owner is a
// user id for signed-in shoppers or a session id for guests; one open cart
// exists per owner per tenant.
type Cart struct {
	ID              string
	TenantID        string
	OwnerID         string
	Guest           bool
	Currency        string
	Items           []CartItem
	Discount        *CartDiscount
	TaxRate         float64
	ShippingFee     float64
	Totals          CartTotals
	ItemCount       int
	ShippingAddress *Address
	BillingAddress  *Address
	Metadata        map[string]any
	LastActivityAt  time.Time
	ExpiresAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CartItem stores a single SKU entry with its price snapshot.
type CartItem struct {
	ID         string
	ProductRef string
	SKU        string
	Name       string
	UnitPrice  float64
	Quantity   int
	AddedAt    time.Time
	UpdatedAt  *time.Time
}

// CartDiscount captures the applied discount snapshot.
type CartDiscount struct {
	Code      string
	Amount    float64
	AppliedAt time.Time
}

// CartTotals summarizes the derived totals recomputed on every cart mutation.
type CartTotals struct {
	Subtotal float64
	Discount float64
	Tax      float64
	Shipping float64
	Total    float64
}

// CheckoutSession represents gateway session metadata returned to clients.
type CheckoutSession struct {
	SessionID    string
	Provider     string
	ClientSecret string
	RedirectURL  string
	ExpiresAt    time.Time
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order is placed and awaits payment.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusConfirmed indicates payment succeeded.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	// OrderStatusProcessing indicates fulfilment has started.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusShipped indicates every item has left the warehouse.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusOutForDelivery indicates the carrier is delivering.
	OrderStatusOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled indicates the order was cancelled pre-fulfilment.
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusRefunded indicates the full amount was returned.
	OrderStatusRefunded OrderStatus = "REFUNDED"
	// OrderStatusReturned indicates the goods came back after delivery.
	OrderStatusReturned OrderStatus = "RETURNED"
	// OrderStatusFailed indicates the order failed terminally.
	OrderStatusFailed OrderStatus = "FAILED"
)

// PaymentStatus enumerates the payment sub-states tracked on an order.
type PaymentStatus string

const (
	// PaymentStatusPending indicates no successful capture yet.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusAuthorized indicates funds are held but not captured.
	PaymentStatusAuthorized PaymentStatus = "authorized"
	// PaymentStatusCaptured indicates funds were captured.
	PaymentStatusCaptured PaymentStatus = "captured"
	// PaymentStatusFailed indicates the last payment attempt failed.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded indicates the full amount was returned.
	PaymentStatusRefunded PaymentStatus = "refunded"
	// PaymentStatusPartiallyRefunded indicates a partial amount was returned.
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

// OrderItemStatus tracks per-item fulfilment progress within an order.
type OrderItemStatus string

const (
	// OrderItemPending indicates the item awaits shipment.
	OrderItemPending OrderItemStatus = "PENDING"
	// OrderItemShipped indicates the item has a tracking number.
	OrderItemShipped OrderItemStatus = "SHIPPED"
	// OrderItemDelivered indicates the item reached the customer.
	OrderItemDelivered OrderItemStatus = "DELIVERED"
)

// Order is the central aggregate: item snapshots, derived totals, the status
// timeline, and the embedded payment record.
type Order struct {
	ID                string
	OrderNumber       string
	TenantID          string
	UserID            string
	CartRef           *string
	Status            OrderStatus
	Currency          string
	Totals            OrderTotals
	Discount          *CartDiscount
	Items             []OrderItem
	ShippingAddress   *Address
	BillingAddress    *Address
	Contact           *OrderContact
	Notes             string
	Timeline          []TimelineEntry
	Payment           PaymentRecord
	EstimatedDelivery *time.Time
	DeliveredAt       *time.Time
	CanceledAt        *time.Time
	CancelReason      *string
	Metadata          map[string]any
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OrderTotals holds the rolled-up monetary fields copied from the cart.
type OrderTotals struct {
	Subtotal float64
	Discount float64
	Tax      float64
	Shipping float64
	Total    float64
}

// OrderItem mirrors a cart item at the time of order creation, plus per-item
// fulfilment tracking.
type OrderItem struct {
	ProductRef     string
	SKU            string
	Name           string
	UnitPrice      float64
	Quantity       int
	Total          float64
	Status         OrderItemStatus
	TrackingNumber *string
	Carrier        *string
	ShippedAt      *time.Time
	DeliveredAt    *time.Time
}

// OrderContact stores the customer contact snapshot for notifications.
type OrderContact struct {
	Email string
	Phone string
}

// TimelineEntry is one append-only status history record. Exactly one entry
// is written per successful transition.
type TimelineEntry struct {
	Status    OrderStatus
	Message   string
	Actor     string
	CreatedAt time.Time
}

// PaymentRecord embeds the order's payment state and gateway references.
type PaymentRecord struct {
	Status        PaymentStatus
	Provider      string
	IntentID      string
	TransactionID string
	Amount        float64
	Currency      string
	CardBrand     string
	CardLast4     string
	FailureReason *string
	PaidAt        *time.Time
	RefundedAt    *time.Time
	RefundedTotal float64
	Refunds       []Refund
}

// Refund is one refund issued against an order's captured payment.
type Refund struct {
	ID        string
	Provider  string
	Reference string
	Amount    float64
	Reason    string
	Actor     string
	CreatedAt time.Time
}

// Address represents postal address structures shared by cart and order layers.
type Address struct {
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      *string
}

// OrderEvent captures order lifecycle changes published for downstream
// consumers (email, analytics).
type OrderEvent struct {
	Type       string
	TenantID   string
	OrderID    string
	UserID     string
	Status     OrderStatus
	Payment    PaymentStatus
	Total      float64
	Currency   string
	OccurredAt time.Time
	Metadata   map[string]any
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

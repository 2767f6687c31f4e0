package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/stackmart/api/internal/domain"
	"github.com/stackmart/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventCancelled     = "order.cancelled"

	orderIDPrefix = "ord_"

	estimatedDeliveryWindow = 7 * 24 * time.Hour
	minCancelReasonLength   = 10
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates a duplicate order id or concurrent modification.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates a backend failure the caller cannot fix.
	ErrOrderUnavailable = errors.New("order: unavailable")
	// ErrOrderEmptyCart indicates checkout was attempted on a missing or empty cart.
	ErrOrderEmptyCart = fmt.Errorf("%w: cart is empty", ErrOrderInvalidInput)
)

// orderStateTransitions is the closed set of legal status moves. Any pair not
// listed here is rejected.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:        {domain.OrderStatusConfirmed, domain.OrderStatusCancelled, domain.OrderStatusFailed},
	domain.OrderStatusConfirmed:      {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing:     {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:        {domain.OrderStatusOutForDelivery, domain.OrderStatusDelivered},
	domain.OrderStatusOutForDelivery: {domain.OrderStatusDelivered},
	domain.OrderStatusDelivered:      {domain.OrderStatusReturned},
	domain.OrderStatusCancelled:      {},
	domain.OrderStatusRefunded:       {},
	domain.OrderStatusReturned:       {domain.OrderStatusRefunded},
	domain.OrderStatusFailed:         {domain.OrderStatusPending},
}

// cancellableStatuses limits the cancel operation; later stages must go
// through returns and refunds instead.
var cancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusConfirmed,
}

func transitionAllowed(from, to domain.OrderStatus) bool {
	for _, target := range orderStateTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Carts       repositories.CartRepository
	Products    repositories.ProductRepository
	Inventory   InventoryService
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	carts     repositories.CartRepository
	products  repositories.ProductRepository
	inventory InventoryService
	clock     func() time.Time
	newID     func() string
	events    OrderEventPublisher
	logger    func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return orderIDPrefix + ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:    deps.Orders,
		carts:     deps.Carts,
		products:  deps.Products,
		inventory: deps.Inventory,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

// CreateFromCart turns the owner's cart into an order. Every line is
// validated against the catalog, then stock for all lines is debited in one
// atomic movement; only after the debit succeeds is the order written and the
// cart cleared. The generated order id doubles as the order number.
func (s *orderService) CreateFromCart(ctx context.Context, cmd CreateOrderFromCartCommand) (Order, error) {
	tenantID := strings.TrimSpace(cmd.Scope.TenantID)
	ownerID := strings.TrimSpace(cmd.Scope.OwnerID)
	if tenantID == "" || ownerID == "" {
		return Order{}, fmt.Errorf("%w: tenant id and owner id are required", ErrOrderInvalidInput)
	}
	if cmd.ShippingAddress == nil {
		return Order{}, fmt.Errorf("%w: shipping address is required", ErrOrderInvalidInput)
	}

	cart, err := s.carts.GetCart(ctx, tenantID, ownerID)
	if err != nil {
		if isRepoNotFound(err) {
			return Order{}, ErrOrderEmptyCart
		}
		return Order{}, s.translateRepoError(err)
	}
	if len(cart.Items) == 0 {
		return Order{}, ErrOrderEmptyCart
	}

	skus := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		skus = append(skus, item.SKU)
	}
	catalog, err := s.products.FindBySKUs(ctx, tenantID, skus)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}
	for _, item := range cart.Items {
		product, ok := catalog[item.SKU]
		if !ok || !product.Active {
			return Order{}, fmt.Errorf("%w: product %s is no longer available", ErrOrderInvalidInput, item.SKU)
		}
	}

	now := s.clock()
	orderID := s.newID()

	lines := make([]MovementLine, 0, len(cart.Items))
	for _, item := range cart.Items {
		lines = append(lines, MovementLine{SKU: item.SKU, Quantity: item.Quantity})
	}
	orderRef := orderID
	if _, err := s.inventory.RecordMovement(ctx, RecordMovementCommand{
		TenantID: tenantID,
		Lines:    lines,
		Type:     domain.MovementSale,
		OrderRef: &orderRef,
		ActorID:  ownerID,
		Note:     "order checkout",
	}); err != nil {
		return Order{}, err
	}

	order := s.buildOrder(orderID, cart, cmd, now)

	if err := s.orders.Insert(ctx, order); err != nil {
		s.compensateStock(ctx, tenantID, lines, orderRef, ownerID)
		return Order{}, s.translateRepoError(err)
	}

	if err := s.carts.DeleteCart(ctx, tenantID, ownerID); err != nil && !isRepoNotFound(err) {
		s.logger(ctx, "order.cart_clear_failed", map[string]any{
			"orderId": orderID,
			"error":   err.Error(),
		})
	}

	s.publish(ctx, orderEventCreated, order, nil)
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, tenantID string, orderID string) (Order, error) {
	tenantID = strings.TrimSpace(tenantID)
	orderID = strings.TrimSpace(orderID)
	if tenantID == "" || orderID == "" {
		return Order{}, fmt.Errorf("%w: tenant id and order id are required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, tenantID, orderID)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	if strings.TrimSpace(filter.TenantID) == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: tenant id is required", ErrOrderInvalidInput)
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.translateRepoError(err)
	}
	return page, nil
}

// TransitionStatus moves the order to the target status when the transition
// table allows it. Transitions into CANCELLED are delegated to Cancel so the
// stock restore and reason rules hold on every path.
func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	tenantID := strings.TrimSpace(cmd.TenantID)
	orderID := strings.TrimSpace(cmd.OrderID)
	if tenantID == "" || orderID == "" {
		return Order{}, fmt.Errorf("%w: tenant id and order id are required", ErrOrderInvalidInput)
	}

	if cmd.TargetStatus == domain.OrderStatusCancelled {
		return s.Cancel(ctx, CancelOrderCommand{
			TenantID: tenantID,
			OrderID:  orderID,
			ActorID:  cmd.ActorID,
			Reason:   cmd.Note,
		})
	}

	order, err := s.orders.FindByID(ctx, tenantID, orderID)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}

	if !transitionAllowed(order.Status, cmd.TargetStatus) {
		return Order{}, fmt.Errorf("%w: from %s to %s", ErrOrderInvalidState, order.Status, cmd.TargetStatus)
	}

	now := s.clock()
	previous := order.Status
	order.Status = cmd.TargetStatus
	order.UpdatedAt = now

	message := strings.TrimSpace(cmd.Note)
	if message == "" {
		message = fmt.Sprintf("Status changed from %s to %s", previous, cmd.TargetStatus)
	}
	order.Timeline = append(order.Timeline, TimelineEntry{
		Status:    cmd.TargetStatus,
		Message:   message,
		Actor:     strings.TrimSpace(cmd.ActorID),
		CreatedAt: now,
	})

	if cmd.TargetStatus == domain.OrderStatusDelivered {
		delivered := now
		order.DeliveredAt = &delivered
	}

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.translateRepoError(err)
	}

	s.publish(ctx, orderEventStatusChanged, order, map[string]any{
		"previousStatus": string(previous),
	})
	return order, nil
}

// Cancel cancels a PENDING or CONFIRMED order, restores stock for every line
// with return movements, and records the reason on the order and timeline.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	tenantID := strings.TrimSpace(cmd.TenantID)
	orderID := strings.TrimSpace(cmd.OrderID)
	if tenantID == "" || orderID == "" {
		return Order{}, fmt.Errorf("%w: tenant id and order id are required", ErrOrderInvalidInput)
	}
	reason := strings.TrimSpace(cmd.Reason)
	if len(reason) < minCancelReasonLength {
		return Order{}, fmt.Errorf("%w: cancellation reason must be at least %d characters", ErrOrderInvalidInput, minCancelReasonLength)
	}

	order, err := s.orders.FindByID(ctx, tenantID, orderID)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}

	cancellable := false
	for _, status := range cancellableStatuses {
		if order.Status == status {
			cancellable = true
			break
		}
	}
	if !cancellable {
		return Order{}, fmt.Errorf("%w: order in status %s cannot be cancelled", ErrOrderInvalidState, order.Status)
	}

	lines := make([]MovementLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, MovementLine{SKU: item.SKU, Quantity: item.Quantity})
	}
	orderRef := order.ID
	if _, err := s.inventory.RecordMovement(ctx, RecordMovementCommand{
		TenantID: tenantID,
		Lines:    lines,
		Type:     domain.MovementReturn,
		OrderRef: &orderRef,
		ActorID:  strings.TrimSpace(cmd.ActorID),
		Note:     "order cancelled",
	}); err != nil {
		return Order{}, err
	}

	now := s.clock()
	previous := order.Status
	order.Status = domain.OrderStatusCancelled
	order.CanceledAt = &now
	order.CancelReason = &reason
	order.UpdatedAt = now
	order.Timeline = append(order.Timeline, TimelineEntry{
		Status:    domain.OrderStatusCancelled,
		Message:   "Order cancelled: " + reason,
		Actor:     strings.TrimSpace(cmd.ActorID),
		CreatedAt: now,
	})

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.translateRepoError(err)
	}

	s.publish(ctx, orderEventCancelled, order, map[string]any{
		"previousStatus": string(previous),
		"reason":         reason,
	})
	return order, nil
}

// SetItemTracking records carrier details for one line, marks it shipped, and
// auto-transitions the order to SHIPPED once every line has left the warehouse.
func (s *orderService) SetItemTracking(ctx context.Context, cmd SetItemTrackingCommand) (Order, error) {
	tenantID := strings.TrimSpace(cmd.TenantID)
	orderID := strings.TrimSpace(cmd.OrderID)
	sku := strings.TrimSpace(cmd.SKU)
	tracking := strings.TrimSpace(cmd.TrackingNumber)
	if tenantID == "" || orderID == "" || sku == "" {
		return Order{}, fmt.Errorf("%w: tenant id, order id and sku are required", ErrOrderInvalidInput)
	}
	if tracking == "" {
		return Order{}, fmt.Errorf("%w: tracking number is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, tenantID, orderID)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}

	now := s.clock()
	idx := orderItemIndex(order.Items, sku)
	if idx < 0 {
		return Order{}, fmt.Errorf("%w: order has no item with sku %s", ErrOrderNotFound, sku)
	}

	carrier := strings.TrimSpace(cmd.Carrier)
	order.Items[idx].TrackingNumber = &tracking
	if carrier != "" {
		order.Items[idx].Carrier = &carrier
	}
	if order.Items[idx].Status == domain.OrderItemPending {
		order.Items[idx].Status = domain.OrderItemShipped
		shipped := now
		order.Items[idx].ShippedAt = &shipped
	}
	order.UpdatedAt = now

	autoShipped := false
	var previous domain.OrderStatus
	if allItemsShipped(order.Items) && transitionAllowed(order.Status, domain.OrderStatusShipped) {
		previous = order.Status
		order.Status = domain.OrderStatusShipped
		order.Timeline = append(order.Timeline, TimelineEntry{
			Status:    domain.OrderStatusShipped,
			Message:   "All items shipped",
			Actor:     strings.TrimSpace(cmd.ActorID),
			CreatedAt: now,
		})
		autoShipped = true
	}

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.translateRepoError(err)
	}

	if autoShipped {
		s.publish(ctx, orderEventStatusChanged, order, map[string]any{
			"previousStatus": string(previous),
		})
	}
	return order, nil
}

// MarkItemDelivered marks one line delivered and auto-transitions the order to
// DELIVERED once every line has arrived.
func (s *orderService) MarkItemDelivered(ctx context.Context, cmd MarkItemDeliveredCommand) (Order, error) {
	tenantID := strings.TrimSpace(cmd.TenantID)
	orderID := strings.TrimSpace(cmd.OrderID)
	sku := strings.TrimSpace(cmd.SKU)
	if tenantID == "" || orderID == "" || sku == "" {
		return Order{}, fmt.Errorf("%w: tenant id, order id and sku are required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, tenantID, orderID)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}

	now := s.clock()
	idx := orderItemIndex(order.Items, sku)
	if idx < 0 {
		return Order{}, fmt.Errorf("%w: order has no item with sku %s", ErrOrderNotFound, sku)
	}

	order.Items[idx].Status = domain.OrderItemDelivered
	delivered := now
	order.Items[idx].DeliveredAt = &delivered
	order.UpdatedAt = now

	autoDelivered := false
	var previous domain.OrderStatus
	if allItemsDelivered(order.Items) && transitionAllowed(order.Status, domain.OrderStatusDelivered) {
		previous = order.Status
		order.Status = domain.OrderStatusDelivered
		order.DeliveredAt = &delivered
		order.Timeline = append(order.Timeline, TimelineEntry{
			Status:    domain.OrderStatusDelivered,
			Message:   "All items delivered",
			Actor:     strings.TrimSpace(cmd.ActorID),
			CreatedAt: now,
		})
		autoDelivered = true
	}

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.translateRepoError(err)
	}

	if autoDelivered {
		s.publish(ctx, orderEventStatusChanged, order, map[string]any{
			"previousStatus": string(previous),
		})
	}
	return order, nil
}

func (s *orderService) buildOrder(orderID string, cart domain.Cart, cmd CreateOrderFromCartCommand, now time.Time) domain.Order {
	items := make([]OrderItem, 0, len(cart.Items))
	for _, line := range cart.Items {
		items = append(items, OrderItem{
			ProductRef: line.ProductRef,
			SKU:        line.SKU,
			Name:       line.Name,
			UnitPrice:  line.UnitPrice,
			Quantity:   line.Quantity,
			Total:      domain.LineTotal(line.UnitPrice, line.Quantity),
			Status:     domain.OrderItemPending,
		})
	}

	discount := 0.0
	var discountCopy *domain.CartDiscount
	if cart.Discount != nil {
		discount = cart.Discount.Amount
		c := *cart.Discount
		discountCopy = &c
	}
	totals := domain.ComputeTotals(cart.Items, discount, cart.TaxRate, cart.ShippingFee)

	shipping := *cmd.ShippingAddress
	billing := shipping
	if cmd.BillingAddress != nil {
		billing = *cmd.BillingAddress
	}

	var contact *OrderContact
	if cmd.Contact != (OrderContact{}) {
		c := cmd.Contact
		contact = &c
	}

	estimated := now.Add(estimatedDeliveryWindow)
	cartRef := cart.OwnerID

	return domain.Order{
		ID:          orderID,
		OrderNumber: orderID,
		TenantID:    cart.TenantID,
		UserID:      cart.OwnerID,
		CartRef:     &cartRef,
		Status:      domain.OrderStatusPending,
		Currency:    cart.Currency,
		Totals: OrderTotals{
			Subtotal: totals.Subtotal,
			Discount: totals.Discount,
			Tax:      totals.Tax,
			Shipping: totals.Shipping,
			Total:    totals.Total,
		},
		Discount:        discountCopy,
		Items:           items,
		ShippingAddress: &shipping,
		BillingAddress:  &billing,
		Contact:         contact,
		Timeline: []TimelineEntry{{
			Status:    domain.OrderStatusPending,
			Message:   "Order placed",
			Actor:     cart.OwnerID,
			CreatedAt: now,
		}},
		Payment: PaymentRecord{
			Status:   domain.PaymentStatusPending,
			Provider: strings.TrimSpace(cmd.PaymentProvider),
			Currency: cart.Currency,
			Amount:   totals.Total,
		},
		EstimatedDelivery: &estimated,
		Metadata:          cloneMetadata(cmd.Metadata),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// compensateStock credits back a debit that preceded a failed order write.
func (s *orderService) compensateStock(ctx context.Context, tenantID string, lines []MovementLine, orderRef, actor string) {
	if _, err := s.inventory.RecordMovement(ctx, RecordMovementCommand{
		TenantID: tenantID,
		Lines:    lines,
		Type:     domain.MovementReturn,
		OrderRef: &orderRef,
		ActorID:  actor,
		Note:     "order creation failed, stock restored",
	}); err != nil {
		s.logger(ctx, "order.stock_compensation_failed", map[string]any{
			"orderRef": orderRef,
			"error":    err.Error(),
		})
	}
}

func (s *orderService) publish(ctx context.Context, eventType string, order domain.Order, metadata map[string]any) {
	if s.events == nil {
		return
	}
	event := OrderEvent{
		Type:       eventType,
		TenantID:   order.TenantID,
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     order.Status,
		Payment:    order.Payment.Status,
		Total:      order.Totals.Total,
		Currency:   order.Currency,
		OccurredAt: s.clock(),
		Metadata:   cloneMetadata(metadata),
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order_event_publish_failed", map[string]any{
			"orderId": order.ID,
			"type":    eventType,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrOrderNotFound
		case repoErr.IsConflict():
			return ErrOrderConflict
		case repoErr.IsUnavailable():
			return ErrOrderUnavailable
		}
		return ErrOrderUnavailable
	}
	return err
}

func orderItemIndex(items []OrderItem, sku string) int {
	for i := range items {
		if items[i].SKU == sku {
			return i
		}
	}
	return -1
}

func allItemsShipped(items []OrderItem) bool {
	for _, item := range items {
		if item.Status != domain.OrderItemShipped && item.Status != domain.OrderItemDelivered {
			return false
		}
	}
	return len(items) > 0
}

func allItemsDelivered(items []OrderItem) bool {
	for _, item := range items {
		if item.Status != domain.OrderItemDelivered {
			return false
		}
	}
	return len(items) > 0
}

func cloneMetadata(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	return maps.Clone(src)
}

package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/stackmart/api/internal/domain"
	pfirestore "github.com/stackmart/api/internal/platform/firestore"
	"github.com/stackmart/api/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository persists order aggregates as single documents. Items,
// timeline, and the payment record are embedded so every read and write of
// an order is atomic at the document level.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil)
	return &OrderRepository{base: base, provider: provider}, nil
}

// Insert creates the order document, failing on id collision.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	ref, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update overwrites the order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	if _, err := r.base.Set(ctx, orderID, newOrderDocument(order)); err != nil {
		return err
	}
	return nil
}

// FindByID loads an order scoped to the tenant. A tenant mismatch reports
// not-found rather than leaking the order's existence.
func (r *OrderRepository) FindByID(ctx context.Context, tenantID, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if tenant := strings.TrimSpace(tenantID); tenant != "" && !strings.EqualFold(doc.Data.TenantID, tenant) {
		return domain.Order{}, notFoundError{orderID: orderID}
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByPaymentIntent resolves the order holding a gateway intent reference.
func (r *OrderRepository) FindByPaymentIntent(ctx context.Context, tenantID, intentID string) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return domain.Order{}, errors.New("order repository: intent id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.findByIntent", err)
	}

	query := client.Collection(orderCollection).Query.Where("payment.intentId", "==", intentID)
	if tenant := strings.TrimSpace(tenantID); tenant != "" {
		query = query.Where("tenantId", "==", tenant)
	}
	iter := query.Limit(1).Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.Order{}, notFoundError{orderID: intentID}
	}
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.findByIntent", err)
	}
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

// List returns tenant-scoped orders with optional user, status, and date
// filters, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}
	tenantID := strings.TrimSpace(filter.TenantID)
	if tenantID == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository: tenant id is required")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}

	query := client.Collection(orderCollection).Query.Where("tenantId", "==", tenantID)
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		query = query.Where("userId", "==", userID)
	}
	if len(filter.Status) > 0 {
		query = query.Where("status", "in", filter.Status)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeLedgerPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeLedgerPageToken(ledgerPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

type notFoundError struct {
	orderID string
}

func (e notFoundError) Error() string       { return fmt.Sprintf("order %s not found", e.orderID) }
func (e notFoundError) IsNotFound() bool    { return true }
func (e notFoundError) IsConflict() bool    { return false }
func (e notFoundError) IsUnavailable() bool { return false }

// Document structures -------------------------------------------------------

type orderDocument struct {
	OrderNumber       string                  `firestore:"orderNumber"`
	TenantID          string                  `firestore:"tenantId"`
	UserID            string                  `firestore:"userId"`
	CartRef           *string                 `firestore:"cartRef,omitempty"`
	Status            string                  `firestore:"status"`
	Currency          string                  `firestore:"currency"`
	Totals            orderTotalsDocument     `firestore:"totals"`
	Discount          *cartDiscountDoc        `firestore:"discount,omitempty"`
	Items             []orderItemDocument     `firestore:"items"`
	ShippingAddress   *addressDocument        `firestore:"shippingAddress,omitempty"`
	BillingAddress    *addressDocument        `firestore:"billingAddress,omitempty"`
	Contact           *orderContactDocument   `firestore:"contact,omitempty"`
	Notes             string                  `firestore:"notes,omitempty"`
	Timeline          []timelineEntryDocument `firestore:"timeline"`
	Payment           paymentRecordDocument   `firestore:"payment"`
	EstimatedDelivery *time.Time              `firestore:"estimatedDelivery,omitempty"`
	DeliveredAt       *time.Time              `firestore:"deliveredAt,omitempty"`
	CanceledAt        *time.Time              `firestore:"canceledAt,omitempty"`
	CancelReason      *string                 `firestore:"cancelReason,omitempty"`
	Metadata          map[string]any          `firestore:"metadata,omitempty"`
	CreatedAt         time.Time               `firestore:"createdAt"`
	UpdatedAt         time.Time               `firestore:"updatedAt"`
}

type orderTotalsDocument struct {
	Subtotal float64 `firestore:"subtotal"`
	Discount float64 `firestore:"discount"`
	Tax      float64 `firestore:"tax"`
	Shipping float64 `firestore:"shipping"`
	Total    float64 `firestore:"total"`
}

type orderItemDocument struct {
	ProductRef     string     `firestore:"productRef"`
	SKU            string     `firestore:"sku"`
	Name           string     `firestore:"name"`
	UnitPrice      float64    `firestore:"unitPrice"`
	Quantity       int        `firestore:"quantity"`
	Total          float64    `firestore:"total"`
	Status         string     `firestore:"status"`
	TrackingNumber *string    `firestore:"trackingNumber,omitempty"`
	Carrier        *string    `firestore:"carrier,omitempty"`
	ShippedAt      *time.Time `firestore:"shippedAt,omitempty"`
	DeliveredAt    *time.Time `firestore:"deliveredAt,omitempty"`
}

type orderContactDocument struct {
	Email string `firestore:"email,omitempty"`
	Phone string `firestore:"phone,omitempty"`
}

type timelineEntryDocument struct {
	Status    string    `firestore:"status"`
	Message   string    `firestore:"message"`
	Actor     string    `firestore:"actor,omitempty"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type paymentRecordDocument struct {
	Status        string           `firestore:"status"`
	Provider      string           `firestore:"provider,omitempty"`
	IntentID      string           `firestore:"intentId,omitempty"`
	TransactionID string           `firestore:"transactionId,omitempty"`
	Amount        float64          `firestore:"amount"`
	Currency      string           `firestore:"currency,omitempty"`
	CardBrand     string           `firestore:"cardBrand,omitempty"`
	CardLast4     string           `firestore:"cardLast4,omitempty"`
	FailureReason *string          `firestore:"failureReason,omitempty"`
	PaidAt        *time.Time       `firestore:"paidAt,omitempty"`
	RefundedAt    *time.Time       `firestore:"refundedAt,omitempty"`
	RefundedTotal float64          `firestore:"refundedTotal"`
	Refunds       []refundDocument `firestore:"refunds,omitempty"`
}

type refundDocument struct {
	ID        string    `firestore:"id"`
	Provider  string    `firestore:"provider,omitempty"`
	Reference string    `firestore:"reference,omitempty"`
	Amount    float64   `firestore:"amount"`
	Reason    string    `firestore:"reason,omitempty"`
	Actor     string    `firestore:"actor,omitempty"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ProductRef:     item.ProductRef,
			SKU:            item.SKU,
			Name:           item.Name,
			UnitPrice:      item.UnitPrice,
			Quantity:       item.Quantity,
			Total:          item.Total,
			Status:         string(item.Status),
			TrackingNumber: item.TrackingNumber,
			Carrier:        item.Carrier,
			ShippedAt:      item.ShippedAt,
			DeliveredAt:    item.DeliveredAt,
		}
	}
	timeline := make([]timelineEntryDocument, len(order.Timeline))
	for i, entry := range order.Timeline {
		timeline[i] = timelineEntryDocument{
			Status:    string(entry.Status),
			Message:   entry.Message,
			Actor:     entry.Actor,
			CreatedAt: entry.CreatedAt.UTC(),
		}
	}
	refunds := make([]refundDocument, len(order.Payment.Refunds))
	for i, refund := range order.Payment.Refunds {
		refunds[i] = refundDocument{
			ID:        refund.ID,
			Provider:  refund.Provider,
			Reference: refund.Reference,
			Amount:    refund.Amount,
			Reason:    refund.Reason,
			Actor:     refund.Actor,
			CreatedAt: refund.CreatedAt.UTC(),
		}
	}

	doc := orderDocument{
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		TenantID:    strings.TrimSpace(order.TenantID),
		UserID:      strings.TrimSpace(order.UserID),
		CartRef:     order.CartRef,
		Status:      string(order.Status),
		Currency:    strings.ToUpper(strings.TrimSpace(order.Currency)),
		Totals:      orderTotalsDocument(order.Totals),
		Items:       items,
		Notes:       order.Notes,
		Timeline:    timeline,
		Payment: paymentRecordDocument{
			Status:        string(order.Payment.Status),
			Provider:      order.Payment.Provider,
			IntentID:      order.Payment.IntentID,
			TransactionID: order.Payment.TransactionID,
			Amount:        order.Payment.Amount,
			Currency:      order.Payment.Currency,
			CardBrand:     order.Payment.CardBrand,
			CardLast4:     order.Payment.CardLast4,
			FailureReason: order.Payment.FailureReason,
			PaidAt:        order.Payment.PaidAt,
			RefundedAt:    order.Payment.RefundedAt,
			RefundedTotal: order.Payment.RefundedTotal,
			Refunds:       refunds,
		},
		EstimatedDelivery: order.EstimatedDelivery,
		DeliveredAt:       order.DeliveredAt,
		CanceledAt:        order.CanceledAt,
		CancelReason:      order.CancelReason,
		Metadata:          cloneAnyMap(order.Metadata),
		CreatedAt:         order.CreatedAt.UTC(),
		UpdatedAt:         order.UpdatedAt.UTC(),
	}
	if order.Discount != nil {
		doc.Discount = &cartDiscountDoc{
			Code:      order.Discount.Code,
			Amount:    order.Discount.Amount,
			AppliedAt: order.Discount.AppliedAt.UTC(),
		}
	}
	if order.Contact != nil {
		doc.Contact = &orderContactDocument{Email: order.Contact.Email, Phone: order.Contact.Phone}
	}
	doc.ShippingAddress = newAddressDocument(order.ShippingAddress)
	doc.BillingAddress = newAddressDocument(order.BillingAddress)
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ProductRef:     item.ProductRef,
			SKU:            item.SKU,
			Name:           item.Name,
			UnitPrice:      item.UnitPrice,
			Quantity:       item.Quantity,
			Total:          item.Total,
			Status:         domain.OrderItemStatus(item.Status),
			TrackingNumber: item.TrackingNumber,
			Carrier:        item.Carrier,
			ShippedAt:      item.ShippedAt,
			DeliveredAt:    item.DeliveredAt,
		}
	}
	timeline := make([]domain.TimelineEntry, len(d.Timeline))
	for i, entry := range d.Timeline {
		timeline[i] = domain.TimelineEntry{
			Status:    domain.OrderStatus(entry.Status),
			Message:   entry.Message,
			Actor:     entry.Actor,
			CreatedAt: entry.CreatedAt,
		}
	}
	refunds := make([]domain.Refund, len(d.Payment.Refunds))
	for i, refund := range d.Payment.Refunds {
		refunds[i] = domain.Refund{
			ID:        refund.ID,
			Provider:  refund.Provider,
			Reference: refund.Reference,
			Amount:    refund.Amount,
			Reason:    refund.Reason,
			Actor:     refund.Actor,
			CreatedAt: refund.CreatedAt,
		}
	}

	order := domain.Order{
		ID:          id,
		OrderNumber: d.OrderNumber,
		TenantID:    d.TenantID,
		UserID:      d.UserID,
		CartRef:     d.CartRef,
		Status:      domain.OrderStatus(d.Status),
		Currency:    strings.ToUpper(strings.TrimSpace(d.Currency)),
		Totals:      domain.OrderTotals(d.Totals),
		Items:       items,
		Notes:       d.Notes,
		Timeline:    timeline,
		Payment: domain.PaymentRecord{
			Status:        domain.PaymentStatus(d.Payment.Status),
			Provider:      d.Payment.Provider,
			IntentID:      d.Payment.IntentID,
			TransactionID: d.Payment.TransactionID,
			Amount:        d.Payment.Amount,
			Currency:      d.Payment.Currency,
			CardBrand:     d.Payment.CardBrand,
			CardLast4:     d.Payment.CardLast4,
			FailureReason: d.Payment.FailureReason,
			PaidAt:        d.Payment.PaidAt,
			RefundedAt:    d.Payment.RefundedAt,
			RefundedTotal: d.Payment.RefundedTotal,
			Refunds:       refunds,
		},
		EstimatedDelivery: d.EstimatedDelivery,
		DeliveredAt:       d.DeliveredAt,
		CanceledAt:        d.CanceledAt,
		CancelReason:      d.CancelReason,
		Metadata:          cloneAnyMap(d.Metadata),
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
	if d.Discount != nil {
		order.Discount = &domain.CartDiscount{
			Code:      d.Discount.Code,
			Amount:    d.Discount.Amount,
			AppliedAt: d.Discount.AppliedAt,
		}
	}
	if d.Contact != nil {
		order.Contact = &domain.OrderContact{Email: d.Contact.Email, Phone: d.Contact.Phone}
	}
	order.ShippingAddress = d.ShippingAddress.toDomain()
	order.BillingAddress = d.BillingAddress.toDomain()
	return order
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

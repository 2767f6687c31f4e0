package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/stackmart/api/internal/domain"
	"github.com/stackmart/api/internal/platform/auth"
	"github.com/stackmart/api/internal/services"
)

const (
	defaultOrderPageSize  = 20
	maxOrderPageSize      = 100
	maxOrderBodySize      = 32 * 1024
	maxCheckoutBodySize   = 8 * 1024
	minCancelReasonLength = 10
)

var validOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusPending:        {},
	domain.OrderStatusConfirmed:      {},
	domain.OrderStatusProcessing:     {},
	domain.OrderStatusShipped:        {},
	domain.OrderStatusOutForDelivery: {},
	domain.OrderStatusDelivered:      {},
	domain.OrderStatusCancelled:      {},
	domain.OrderStatusRefunded:       {},
	domain.OrderStatusReturned:       {},
	domain.OrderStatusFailed:         {},
}

// OrderHandlers exposes order lifecycle endpoints for authenticated users.
type OrderHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	payments services.PaymentService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, payments services.PaymentService) *OrderHandlers {
	return &OrderHandlers{
		authn:    authn,
		orders:   orders,
		payments: payments,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Patch("/{orderID}/status", h.transitionStatus)
	r.Post("/{orderID}/cancel", h.cancelOrder)
	r.Post("/{orderID}/items/{sku}/tracking", h.setItemTracking)
	r.Post("/{orderID}/checkout", h.initiateCheckout)
}

type createOrderRequest struct {
	Contact         *orderContactPayload `json:"contact"`
	ShippingAddress *addressPayload      `json:"shipping_address"`
	BillingAddress  *addressPayload      `json:"billing_address"`
	PaymentProvider string               `json:"payment_provider"`
	Metadata        map[string]any       `json:"metadata"`
}

type orderContactPayload struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		writeUnauthenticated(ctx, w)
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeBadRequest(ctx, w, "invalid JSON payload")
		return
	}
	if req.Contact == nil || strings.TrimSpace(req.Contact.Email) == "" {
		writeBadRequest(ctx, w, "contact email is required")
		return
	}

	cmd := services.CreateOrderFromCartCommand{
		Scope: services.CartScope{
			TenantID: resolveTenant(r, identity),
			OwnerID:  identity.UID,
		},
		Contact: services.OrderContact{
			Email: strings.TrimSpace(req.Contact.Email),
			Phone: strings.TrimSpace(req.Contact.Phone),
		},
		PaymentProvider: strings.ToLower(strings.TrimSpace(req.PaymentProvider)),
		Metadata:        req.Metadata,
	}
	if req.ShippingAddress != nil {
		addr, err := req.ShippingAddress.toDomain()
		if err != nil {
			writeBadRequest(ctx, w, err.Error())
			return
		}
		cmd.ShippingAddress = &addr
	}
	if req.BillingAddress != nil {
		addr, err := req.BillingAddress.toDomain()
		if err != nil {
			writeBadRequest(ctx, w, err.Error())
			return
		}
		cmd.BillingAddress = &addr
	}

	order, err := h.orders.CreateFromCart(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		writeUnauthenticated(ctx, w)
		return
	}

	query := r.URL.Query()

	statuses := parseFilterValues(query["status"])
	for _, status := range statuses {
		if _, known := validOrderStatuses[domain.OrderStatus(status)]; !known {
			writeBadRequest(ctx, w, "unknown order status "+status)
			return
		}
	}

	var dateRange domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			writeBadRequest(ctx, w, "created_after must be a valid RFC3339 timestamp")
			return
		}
		dateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			writeBadRequest(ctx, w, "created_before must be a valid RFC3339 timestamp")
			return
		}
		dateRange.To = &ts
	}

	pageSize, err := parseLimitedPageSize(query.Get("page_size"), defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}

	filter := services.OrderListFilter{
		TenantID:  resolveTenant(r, identity),
		UserID:    identity.UID,
		Status:    statuses,
		DateRange: dateRange,
		Pagination: domain.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}

	// Staff can audit any customer's orders; regular users only see their own.
	if requested := strings.TrimSpace(query.Get("user_id")); requested != "" {
		if !identity.HasAnyRole(auth.RoleAdmin, auth.RoleStaff) {
			writeForbidden(ctx, w, "cannot list another user's orders")
			return
		}
		filter.UserID = requested
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	summaries := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		summaries = append(summaries, buildOrderSummary(order))
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Orders:        summaries,
		NextPageToken: page.NextPageToken,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		writeUnauthenticated(ctx, w)
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		writeBadRequest(ctx, w, "order id is required")
		return
	}

	order, err := h.orders.GetOrder(ctx, resolveTenant(r, identity), orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	if order.UserID != identity.UID && !identity.HasAnyRole(auth.RoleAdmin, auth.RoleStaff) {
		writeForbidden(ctx, w, "order belongs to another user")
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type transitionStatusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

func (h *OrderHandlers) transitionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		writeUnauthenticated(ctx, w)
		return
	}
	if !identity.HasRole(auth.RoleAdmin) {
		writeForbidden(ctx, w, "status transitions require the admin role")
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		writeBadRequest(ctx, w, "order id is required")
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req transitionStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeBadRequest(ctx, w, "invalid JSON payload")
		return
	}

	target := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if _, known := validOrderStatuses[target]; !known {
		writeBadRequest(ctx, w, "unknown order status "+string(target))
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		TenantID:     resolveTenant(r, identity),
		OrderID:      orderID,
		TargetStatus: target,
		ActorID:      identity.UID,
		Note:         sanitizeFreeText(req.Note),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		writeUnauthenticated(ctx, w)
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		writeBadRequest(ctx, w, "order id is required")
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req cancelOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeBadRequest(ctx, w, "invalid JSON payload")
		return
	}

	reason := sanitizeFreeText(req.Reason)
	if len(reason) < minCancelReasonLength {
		writeBadRequest(ctx, w, "cancellation reason must be at least 10 characters")
		return
	}

	tenantID := resolveTenant(r, identity)

	order, err := h.orders.GetOrder(ctx, tenantID, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if order.UserID != identity.UID && !identity.HasRole(auth.RoleAdmin) {
		writeForbidden(ctx, w, "order belongs to another user")
		return
	}

	cancelled, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		TenantID: tenantID,
		OrderID:  orderID,
		ActorID:  identity.UID,
		Reason:   reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(cancelled)})
}

type setTrackingRequest struct {
	TrackingNumber string `json:"tracking_number"`
	Carrier        string `json:"carrier"`
}

func (h *OrderHandlers) setItemTracking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		writeUnauthenticated(ctx, w)
		return
	}
	if !identity.HasRole(auth.RoleAdmin) {
		writeForbidden(ctx, w, "tracking updates require the admin role")
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	sku := strings.TrimSpace(chi.URLParam(r, "sku"))
	if orderID == "" || sku == "" {
		writeBadRequest(ctx, w, "order id and sku are required")
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req setTrackingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeBadRequest(ctx, w, "invalid JSON payload")
		return
	}
	if strings.TrimSpace(req.TrackingNumber) == "" {
		writeBadRequest(ctx, w, "tracking_number is required")
		return
	}

	order, err := h.orders.SetItemTracking(ctx, services.SetItemTrackingCommand{
		TenantID:       resolveTenant(r, identity),
		OrderID:        orderID,
		SKU:            sku,
		TrackingNumber: strings.TrimSpace(req.TrackingNumber),
		Carrier:        strings.TrimSpace(req.Carrier),
		ActorID:        identity.UID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type initiateCheckoutRequest struct {
	Provider   string            `json:"provider"`
	SuccessURL string            `json:"success_url"`
	CancelURL  string            `json:"cancel_url"`
	Metadata   map[string]string `json:"metadata"`
}

func (h *OrderHandlers) initiateCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeServiceUnavailable(ctx, w, "payment")
		return
	}
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		writeUnauthenticated(ctx, w)
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		writeBadRequest(ctx, w, "order id is required")
		return
	}

	// The body is optional; an empty checkout request uses provider routing
	// defaults and no redirect URLs.
	var req initiateCheckoutRequest
	body, err := readLimitedBody(r, maxCheckoutBodySize)
	switch {
	case err == nil:
		if err := json.Unmarshal(body, &req); err != nil {
			writeBadRequest(ctx, w, "invalid JSON payload")
			return
		}
	case errors.Is(err, errEmptyBody):
	default:
		writeBodyError(ctx, w, err)
		return
	}

	tenantID := resolveTenant(r, identity)

	order, err := h.orders.GetOrder(ctx, tenantID, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if order.UserID != identity.UID && !identity.HasRole(auth.RoleAdmin) {
		writeForbidden(ctx, w, "order belongs to another user")
		return
	}

	session, err := h.payments.InitiateCheckout(ctx, services.InitiateCheckoutCommand{
		TenantID:   tenantID,
		OrderID:    orderID,
		Provider:   strings.ToLower(strings.TrimSpace(req.Provider)),
		SuccessURL: strings.TrimSpace(req.SuccessURL),
		CancelURL:  strings.TrimSpace(req.CancelURL),
		Metadata:   req.Metadata,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, checkoutSessionResponse{
		Session: checkoutSessionPayload{
			SessionID:    session.SessionID,
			Provider:     session.Provider,
			ClientSecret: session.ClientSecret,
			RedirectURL:  session.RedirectURL,
			ExpiresAt:    formatTime(session.ExpiresAt),
		},
	})
}

type checkoutSessionResponse struct {
	Session checkoutSessionPayload `json:"session"`
}

type checkoutSessionPayload struct {
	SessionID    string `json:"session_id"`
	Provider     string `json:"provider"`
	ClientSecret string `json:"client_secret,omitempty"`
	RedirectURL  string `json:"redirect_url,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Orders        []orderSummaryPayload `json:"orders"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID            string  `json:"id"`
	OrderNumber   string  `json:"order_number"`
	Status        string  `json:"status"`
	PaymentStatus string  `json:"payment_status"`
	Currency      string  `json:"currency"`
	Total         float64 `json:"total"`
	ItemsCount    int     `json:"items_count"`
	CreatedAt     string  `json:"created_at,omitempty"`
	UpdatedAt     string  `json:"updated_at,omitempty"`
}

type orderPayload struct {
	ID                string                `json:"id"`
	OrderNumber       string                `json:"order_number"`
	UserID            string                `json:"user_id"`
	Status            string                `json:"status"`
	Currency          string                `json:"currency"`
	Totals            orderTotalsPayload    `json:"totals"`
	Discount          *cartDiscountPayload  `json:"discount,omitempty"`
	Items             []orderItemPayload    `json:"items"`
	ShippingAddress   *addressPayload       `json:"shipping_address,omitempty"`
	BillingAddress    *addressPayload       `json:"billing_address,omitempty"`
	Contact           *orderContactPayload  `json:"contact,omitempty"`
	Notes             string                `json:"notes,omitempty"`
	Timeline          []timelinePayload     `json:"timeline"`
	Payment           orderPaymentPayload   `json:"payment"`
	EstimatedDelivery string                `json:"estimated_delivery,omitempty"`
	DeliveredAt       string                `json:"delivered_at,omitempty"`
	CanceledAt        string                `json:"canceled_at,omitempty"`
	CancelReason      *string               `json:"cancel_reason,omitempty"`
	Metadata          map[string]any        `json:"metadata,omitempty"`
	CreatedAt         string                `json:"created_at,omitempty"`
	UpdatedAt         string                `json:"updated_at,omitempty"`
}

type orderTotalsPayload struct {
	Subtotal float64 `json:"subtotal"`
	Discount float64 `json:"discount"`
	Tax      float64 `json:"tax"`
	Shipping float64 `json:"shipping"`
	Total    float64 `json:"total"`
}

type orderItemPayload struct {
	ProductRef     string  `json:"product_ref"`
	SKU            string  `json:"sku"`
	Name           string  `json:"name"`
	UnitPrice      float64 `json:"unit_price"`
	Quantity       int     `json:"quantity"`
	Total          float64 `json:"total"`
	Status         string  `json:"status"`
	TrackingNumber *string `json:"tracking_number,omitempty"`
	Carrier        *string `json:"carrier,omitempty"`
	ShippedAt      string  `json:"shipped_at,omitempty"`
	DeliveredAt    string  `json:"delivered_at,omitempty"`
}

type timelinePayload struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Actor     string `json:"actor,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

type orderPaymentPayload struct {
	Status        string                `json:"status"`
	Provider      string                `json:"provider,omitempty"`
	IntentID      string                `json:"intent_id,omitempty"`
	TransactionID string                `json:"transaction_id,omitempty"`
	Amount        float64               `json:"amount"`
	Currency      string                `json:"currency,omitempty"`
	CardBrand     string                `json:"card_brand,omitempty"`
	CardLast4     string                `json:"card_last4,omitempty"`
	FailureReason *string               `json:"failure_reason,omitempty"`
	PaidAt        string                `json:"paid_at,omitempty"`
	RefundedAt    string                `json:"refunded_at,omitempty"`
	RefundedTotal float64               `json:"refunded_total"`
	Refunds       []orderRefundPayload  `json:"refunds,omitempty"`
}

type orderRefundPayload struct {
	ID        string  `json:"id"`
	Reference string  `json:"reference,omitempty"`
	Amount    float64 `json:"amount"`
	Reason    string  `json:"reason,omitempty"`
	Actor     string  `json:"actor,omitempty"`
	CreatedAt string  `json:"created_at,omitempty"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        string(order.Status),
		PaymentStatus: string(order.Payment.Status),
		Currency:      order.Currency,
		Total:         order.Totals.Total,
		ItemsCount:    len(order.Items),
		CreatedAt:     formatTime(order.CreatedAt),
		UpdatedAt:     formatTime(order.UpdatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      string(order.Status),
		Currency:    order.Currency,
		Totals: orderTotalsPayload{
			Subtotal: order.Totals.Subtotal,
			Discount: order.Totals.Discount,
			Tax:      order.Totals.Tax,
			Shipping: order.Totals.Shipping,
			Total:    order.Totals.Total,
		},
		Items:             buildOrderItemPayloads(order.Items),
		Notes:             order.Notes,
		Timeline:          buildTimelinePayloads(order.Timeline),
		Payment:           buildOrderPaymentPayload(order.Payment),
		EstimatedDelivery: formatTimePointer(order.EstimatedDelivery),
		DeliveredAt:       formatTimePointer(order.DeliveredAt),
		CanceledAt:        formatTimePointer(order.CanceledAt),
		CancelReason:      cloneStringPointer(order.CancelReason),
		Metadata:          cloneMap(order.Metadata),
		CreatedAt:         formatTime(order.CreatedAt),
		UpdatedAt:         formatTime(order.UpdatedAt),
	}

	if order.Discount != nil {
		payload.Discount = &cartDiscountPayload{
			Code:      order.Discount.Code,
			Amount:    order.Discount.Amount,
			AppliedAt: formatTime(order.Discount.AppliedAt),
		}
	}
	if order.ShippingAddress != nil {
		addr := buildAddressPayload(*order.ShippingAddress)
		payload.ShippingAddress = &addr
	}
	if order.BillingAddress != nil {
		addr := buildAddressPayload(*order.BillingAddress)
		payload.BillingAddress = &addr
	}
	if order.Contact != nil {
		payload.Contact = &orderContactPayload{
			Email: order.Contact.Email,
			Phone: order.Contact.Phone,
		}
	}

	return payload
}

func buildOrderItemPayloads(items []services.OrderItem) []orderItemPayload {
	if len(items) == 0 {
		return []orderItemPayload{}
	}
	payload := make([]orderItemPayload, 0, len(items))
	for _, item := range items {
		payload = append(payload, orderItemPayload{
			ProductRef:     item.ProductRef,
			SKU:            item.SKU,
			Name:           item.Name,
			UnitPrice:      item.UnitPrice,
			Quantity:       item.Quantity,
			Total:          item.Total,
			Status:         string(item.Status),
			TrackingNumber: cloneStringPointer(item.TrackingNumber),
			Carrier:        cloneStringPointer(item.Carrier),
			ShippedAt:      formatTimePointer(item.ShippedAt),
			DeliveredAt:    formatTimePointer(item.DeliveredAt),
		})
	}
	return payload
}

func buildTimelinePayloads(entries []services.TimelineEntry) []timelinePayload {
	if len(entries) == 0 {
		return []timelinePayload{}
	}
	payload := make([]timelinePayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, timelinePayload{
			Status:    string(entry.Status),
			Message:   entry.Message,
			Actor:     entry.Actor,
			CreatedAt: formatTime(entry.CreatedAt),
		})
	}
	return payload
}

func buildOrderPaymentPayload(payment services.PaymentRecord) orderPaymentPayload {
	payload := orderPaymentPayload{
		Status:        string(payment.Status),
		Provider:      payment.Provider,
		IntentID:      payment.IntentID,
		TransactionID: payment.TransactionID,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		CardBrand:     payment.CardBrand,
		CardLast4:     payment.CardLast4,
		FailureReason: cloneStringPointer(payment.FailureReason),
		PaidAt:        formatTimePointer(payment.PaidAt),
		RefundedAt:    formatTimePointer(payment.RefundedAt),
		RefundedTotal: payment.RefundedTotal,
	}
	for _, refund := range payment.Refunds {
		payload.Refunds = append(payload.Refunds, orderRefundPayload{
			ID:        refund.ID,
			Reference: refund.Reference,
			Amount:    refund.Amount,
			Reason:    refund.Reason,
			Actor:     refund.Actor,
			CreatedAt: formatTime(refund.CreatedAt),
		})
	}
	return payload
}

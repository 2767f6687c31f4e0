package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/stackmart/api/internal/domain"
	"github.com/stackmart/api/internal/platform/auth"
	"github.com/stackmart/api/internal/services"
)

type stubOrderService struct {
	createFn     func(ctx context.Context, cmd services.CreateOrderFromCartCommand) (services.Order, error)
	getFn        func(ctx context.Context, tenantID, orderID string) (services.Order, error)
	listFn       func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error)
	transitionFn func(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error)
	cancelFn     func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error)
	trackingFn   func(ctx context.Context, cmd services.SetItemTrackingCommand) (services.Order, error)
	deliveredFn  func(ctx context.Context, cmd services.MarkItemDeliveredCommand) (services.Order, error)
}

func (s *stubOrderService) CreateFromCart(ctx context.Context, cmd services.CreateOrderFromCartCommand) (services.Order, error) {
	if s.createFn == nil {
		return services.Order{}, fmt.Errorf("unexpected CreateFromCart call")
	}
	return s.createFn(ctx, cmd)
}

func (s *stubOrderService) GetOrder(ctx context.Context, tenantID, orderID string) (services.Order, error) {
	if s.getFn == nil {
		return services.Order{}, fmt.Errorf("unexpected GetOrder call")
	}
	return s.getFn(ctx, tenantID, orderID)
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn == nil {
		return domain.CursorPage[services.Order]{}, fmt.Errorf("unexpected ListOrders call")
	}
	return s.listFn(ctx, filter)
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	if s.transitionFn == nil {
		return services.Order{}, fmt.Errorf("unexpected TransitionStatus call")
	}
	return s.transitionFn(ctx, cmd)
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn == nil {
		return services.Order{}, fmt.Errorf("unexpected Cancel call")
	}
	return s.cancelFn(ctx, cmd)
}

func (s *stubOrderService) SetItemTracking(ctx context.Context, cmd services.SetItemTrackingCommand) (services.Order, error) {
	if s.trackingFn == nil {
		return services.Order{}, fmt.Errorf("unexpected SetItemTracking call")
	}
	return s.trackingFn(ctx, cmd)
}

func (s *stubOrderService) MarkItemDelivered(ctx context.Context, cmd services.MarkItemDeliveredCommand) (services.Order, error) {
	if s.deliveredFn == nil {
		return services.Order{}, fmt.Errorf("unexpected MarkItemDelivered call")
	}
	return s.deliveredFn(ctx, cmd)
}

type stubPaymentService struct {
	checkoutFn func(ctx context.Context, cmd services.InitiateCheckoutCommand) (services.CheckoutSession, error)
	applyFn    func(ctx context.Context, cmd services.ApplyGatewayEventCommand) (services.Order, error)
	refundFn   func(ctx context.Context, cmd services.RequestRefundCommand) (services.Order, error)
}

func (s *stubPaymentService) InitiateCheckout(ctx context.Context, cmd services.InitiateCheckoutCommand) (services.CheckoutSession, error) {
	if s.checkoutFn == nil {
		return services.CheckoutSession{}, fmt.Errorf("unexpected InitiateCheckout call")
	}
	return s.checkoutFn(ctx, cmd)
}

func (s *stubPaymentService) ApplyGatewayEvent(ctx context.Context, cmd services.ApplyGatewayEventCommand) (services.Order, error) {
	if s.applyFn == nil {
		return services.Order{}, fmt.Errorf("unexpected ApplyGatewayEvent call")
	}
	return s.applyFn(ctx, cmd)
}

func (s *stubPaymentService) RequestRefund(ctx context.Context, cmd services.RequestRefundCommand) (services.Order, error) {
	if s.refundFn == nil {
		return services.Order{}, fmt.Errorf("unexpected RequestRefund call")
	}
	return s.refundFn(ctx, cmd)
}

var (
	_ services.OrderService   = (*stubOrderService)(nil)
	_ services.PaymentService = (*stubPaymentService)(nil)
)

func identityContext(req *http.Request, uid string, roles ...string) *http.Request {
	if len(roles) == 0 {
		roles = []string{auth.RoleUser}
	}
	identity := &auth.Identity{UID: uid, Roles: roles, TenantID: "tenant-1"}
	return req.WithContext(auth.WithIdentity(req.Context(), identity))
}

func newOrderRouter(orders services.OrderService, payments services.PaymentService) chi.Router {
	r := chi.NewRouter()
	NewOrderHandlers(nil, orders, payments).Routes(r)
	return r
}

func sampleOrder(userID string) services.Order {
	created := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	return services.Order{
		ID:          "ord_1",
		OrderNumber: "SO-1001",
		TenantID:    "tenant-1",
		UserID:      userID,
		Status:      domain.OrderStatusPending,
		Currency:    "USD",
		Totals:      domain.OrderTotals{Subtotal: 90, Tax: 4.5, Shipping: 5.5, Total: 100},
		Items: []domain.OrderItem{{
			SKU: "SKU-1", Name: "Widget", UnitPrice: 45, Quantity: 2, Total: 90,
			Status: domain.OrderItemPending,
		}},
		Timeline: []domain.TimelineEntry{{
			Status: domain.OrderStatusPending, Message: "Order placed", Actor: userID, CreatedAt: created,
		}},
		Payment:   domain.PaymentRecord{Status: domain.PaymentStatusPending, Amount: 100, Currency: "USD"},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestCreateOrderReturns201(t *testing.T) {
	orders := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderFromCartCommand) (services.Order, error) {
			if cmd.Scope.TenantID != "tenant-1" {
				t.Fatalf("expected tenant-1, got %q", cmd.Scope.TenantID)
			}
			if cmd.Scope.OwnerID != "user-1" {
				t.Fatalf("expected owner user-1, got %q", cmd.Scope.OwnerID)
			}
			if cmd.Contact.Email != "jo@example.com" {
				t.Fatalf("unexpected contact email %q", cmd.Contact.Email)
			}
			return sampleOrder("user-1"), nil
		},
	}
	router := newOrderRouter(orders, &stubPaymentService{})

	body := `{"contact":{"email":"jo@example.com","phone":"+15550100"},"payment_provider":"stripe"}`
	req := identityContext(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), "user-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.ID != "ord_1" || resp.Order.Status != "PENDING" {
		t.Fatalf("unexpected order payload: %+v", resp.Order)
	}
}

func TestCreateOrderEmptyCartMapsTo400(t *testing.T) {
	orders := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderFromCartCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderEmptyCart
		},
	}
	router := newOrderRouter(orders, &stubPaymentService{})

	body := `{"contact":{"email":"jo@example.com"}}`
	req := identityContext(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), "user-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var body2 map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body2); err != nil {
		t.Fatalf("failed to parse error body: %v", err)
	}
	if body2["code"] != codeBadRequest {
		t.Fatalf("expected code %q, got %v", codeBadRequest, body2["code"])
	}
}

func TestGetOrderOwnershipEnforcement(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(_ context.Context, tenantID, orderID string) (services.Order, error) {
			if orderID != "ord_1" {
				return services.Order{}, services.ErrOrderNotFound
			}
			return sampleOrder("user-1"), nil
		},
	}
	router := newOrderRouter(orders, &stubPaymentService{})

	cases := []struct {
		name   string
		uid    string
		roles  []string
		target string
		want   int
	}{
		{name: "owner can read", uid: "user-1", target: "/ord_1", want: http.StatusOK},
		{name: "stranger is forbidden", uid: "user-2", target: "/ord_1", want: http.StatusForbidden},
		{name: "staff can read", uid: "support-1", roles: []string{auth.RoleStaff}, target: "/ord_1", want: http.StatusOK},
		{name: "admin can read", uid: "admin-1", roles: []string{auth.RoleAdmin}, target: "/ord_1", want: http.StatusOK},
		{name: "missing order is 404", uid: "user-1", target: "/ord_404", want: http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := identityContext(httptest.NewRequest(http.MethodGet, tc.target, nil), tc.uid, tc.roles...)
			rr := httptest.NewRecorder()

			router.ServeHTTP(rr, req)

			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestTransitionStatusRequiresAdmin(t *testing.T) {
	orders := &stubOrderService{
		transitionFn: func(_ context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
			order := sampleOrder("user-1")
			order.Status = cmd.TargetStatus
			return order, nil
		},
	}
	router := newOrderRouter(orders, &stubPaymentService{})

	body := `{"status":"CONFIRMED"}`
	req := identityContext(httptest.NewRequest(http.MethodPatch, "/ord_1/status", strings.NewReader(body)), "user-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rr.Code)
	}

	req = identityContext(httptest.NewRequest(http.MethodPatch, "/ord_1/status", strings.NewReader(body)), "admin-1", auth.RoleAdmin)
	rr = httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestTransitionStatusIllegalMoveMapsTo409(t *testing.T) {
	orders := &stubOrderService{
		transitionFn: func(context.Context, services.OrderStatusTransitionCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: DELIVERED -> PENDING", services.ErrOrderInvalidState)
		},
	}
	router := newOrderRouter(orders, &stubPaymentService{})

	body := `{"status":"PENDING"}`
	req := identityContext(httptest.NewRequest(http.MethodPatch, "/ord_1/status", strings.NewReader(body)), "admin-1", auth.RoleAdmin)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse error body: %v", err)
	}
	if payload["code"] != codeConflict {
		t.Fatalf("expected code %q, got %v", codeConflict, payload["code"])
	}
}

func TestTransitionStatusRejectsUnknownStatus(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, &stubPaymentService{})

	body := `{"status":"TELEPORTED"}`
	req := identityContext(httptest.NewRequest(http.MethodPatch, "/ord_1/status", strings.NewReader(body)), "admin-1", auth.RoleAdmin)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCancelOrderValidatesReasonLength(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, &stubPaymentService{})

	body := `{"reason":"too short"}`
	req := identityContext(httptest.NewRequest(http.MethodPost, "/ord_1/cancel", strings.NewReader(body)), "user-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for short reason, got %d", rr.Code)
	}
}

func TestCancelOrderOwnerSucceeds(t *testing.T) {
	var gotReason string
	orders := &stubOrderService{
		getFn: func(context.Context, string, string) (services.Order, error) {
			return sampleOrder("user-1"), nil
		},
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			gotReason = cmd.Reason
			order := sampleOrder("user-1")
			order.Status = domain.OrderStatusCancelled
			return order, nil
		},
	}
	router := newOrderRouter(orders, &stubPaymentService{})

	body := `{"reason":"ordered the wrong size by mistake"}`
	req := identityContext(httptest.NewRequest(http.MethodPost, "/ord_1/cancel", strings.NewReader(body)), "user-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotReason != "ordered the wrong size by mistake" {
		t.Fatalf("unexpected reason passed to service: %q", gotReason)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.Status != "CANCELLED" {
		t.Fatalf("expected CANCELLED, got %s", resp.Order.Status)
	}
}

func TestCancelOrderStrangerForbidden(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(context.Context, string, string) (services.Order, error) {
			return sampleOrder("user-1"), nil
		},
	}
	router := newOrderRouter(orders, &stubPaymentService{})

	body := `{"reason":"changed my mind about this"}`
	req := identityContext(httptest.NewRequest(http.MethodPost, "/ord_1/cancel", strings.NewReader(body)), "user-2")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestCancelOrderLateStageMapsTo409(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(context.Context, string, string) (services.Order, error) {
			order := sampleOrder("user-1")
			order.Status = domain.OrderStatusShipped
			return order, nil
		},
		cancelFn: func(context.Context, services.CancelOrderCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: order is SHIPPED", services.ErrOrderInvalidState)
		},
	}
	router := newOrderRouter(orders, &stubPaymentService{})

	body := `{"reason":"no longer needed, please stop it"}`
	req := identityContext(httptest.NewRequest(http.MethodPost, "/ord_1/cancel", strings.NewReader(body)), "user-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestSetItemTrackingRequiresAdmin(t *testing.T) {
	orders := &stubOrderService{
		trackingFn: func(_ context.Context, cmd services.SetItemTrackingCommand) (services.Order, error) {
			if cmd.TrackingNumber != "TRACK-99" || cmd.SKU != "SKU-1" {
				t.Fatalf("unexpected tracking command: %+v", cmd)
			}
			order := sampleOrder("user-1")
			order.Status = domain.OrderStatusShipped
			return order, nil
		},
	}
	router := newOrderRouter(orders, &stubPaymentService{})

	body := `{"tracking_number":"TRACK-99","carrier":"dhl"}`

	req := identityContext(httptest.NewRequest(http.MethodPost, "/ord_1/items/SKU-1/tracking", strings.NewReader(body)), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rr.Code)
	}

	req = identityContext(httptest.NewRequest(http.MethodPost, "/ord_1/items/SKU-1/tracking", strings.NewReader(body)), "admin-1", auth.RoleAdmin)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestListOrdersScopesToCaller(t *testing.T) {
	orders := &stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			if filter.UserID != "user-1" {
				t.Fatalf("expected filter scoped to user-1, got %q", filter.UserID)
			}
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{sampleOrder("user-1")},
				NextPageToken: "next",
			}, nil
		},
	}
	router := newOrderRouter(orders, &stubPaymentService{})

	req := identityContext(httptest.NewRequest(http.MethodGet, "/?status=PENDING&page_size=5", nil), "user-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Orders) != 1 || resp.NextPageToken != "next" {
		t.Fatalf("unexpected list response: %+v", resp)
	}
}

func TestListOrdersForeignUserRequiresStaff(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, &stubPaymentService{})

	req := identityContext(httptest.NewRequest(http.MethodGet, "/?user_id=user-9", nil), "user-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestInitiateCheckoutReturnsSession(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(context.Context, string, string) (services.Order, error) {
			return sampleOrder("user-1"), nil
		},
	}
	payments := &stubPaymentService{
		checkoutFn: func(_ context.Context, cmd services.InitiateCheckoutCommand) (services.CheckoutSession, error) {
			if cmd.OrderID != "ord_1" || cmd.TenantID != "tenant-1" {
				t.Fatalf("unexpected checkout command: %+v", cmd)
			}
			return services.CheckoutSession{
				SessionID:   "cs_1",
				Provider:    "stripe",
				RedirectURL: "https://checkout.stripe.com/pay/cs_1",
			}, nil
		},
	}
	router := newOrderRouter(orders, payments)

	body := `{"provider":"stripe","success_url":"https://shop.example.com/ok"}`
	req := identityContext(httptest.NewRequest(http.MethodPost, "/ord_1/checkout", strings.NewReader(body)), "user-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp checkoutSessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Session.SessionID != "cs_1" || resp.Session.RedirectURL == "" {
		t.Fatalf("unexpected session payload: %+v", resp.Session)
	}
}

func TestInitiateCheckoutGatewayFailureMapsTo502(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(context.Context, string, string) (services.Order, error) {
			return sampleOrder("user-1"), nil
		},
	}
	payments := &stubPaymentService{
		checkoutFn: func(context.Context, services.InitiateCheckoutCommand) (services.CheckoutSession, error) {
			return services.CheckoutSession{}, fmt.Errorf("%w: connection reset", services.ErrPaymentGateway)
		},
	}
	router := newOrderRouter(orders, payments)

	req := identityContext(httptest.NewRequest(http.MethodPost, "/ord_1/checkout", strings.NewReader(`{}`)), "user-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse error body: %v", err)
	}
	if payload["code"] != codeExternalService {
		t.Fatalf("expected code %q, got %v", codeExternalService, payload["code"])
	}
}

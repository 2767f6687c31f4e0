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
	"github.com/stackmart/api/internal/services"
)

type stubCartService struct {
	getFn            func(ctx context.Context, scope services.CartScope) (services.Cart, error)
	addFn            func(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error)
	updateFn         func(ctx context.Context, cmd services.UpdateCartItemCommand) (services.Cart, error)
	removeFn         func(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error)
	applyDiscountFn  func(ctx context.Context, cmd services.ApplyCartDiscountCommand) (services.Cart, error)
	removeDiscountFn func(ctx context.Context, scope services.CartScope) (services.Cart, error)
	setShippingFn    func(ctx context.Context, cmd services.SetCartShippingCommand) (services.Cart, error)
	clearFn          func(ctx context.Context, scope services.CartScope) error
}

func (s *stubCartService) GetOrCreateCart(ctx context.Context, scope services.CartScope) (services.Cart, error) {
	if s.getFn == nil {
		return services.Cart{}, fmt.Errorf("unexpected GetOrCreateCart call")
	}
	return s.getFn(ctx, scope)
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
	if s.addFn == nil {
		return services.Cart{}, fmt.Errorf("unexpected AddItem call")
	}
	return s.addFn(ctx, cmd)
}

func (s *stubCartService) UpdateItemQuantity(ctx context.Context, cmd services.UpdateCartItemCommand) (services.Cart, error) {
	if s.updateFn == nil {
		return services.Cart{}, fmt.Errorf("unexpected UpdateItemQuantity call")
	}
	return s.updateFn(ctx, cmd)
}

func (s *stubCartService) RemoveItem(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error) {
	if s.removeFn == nil {
		return services.Cart{}, fmt.Errorf("unexpected RemoveItem call")
	}
	return s.removeFn(ctx, cmd)
}

func (s *stubCartService) ApplyDiscount(ctx context.Context, cmd services.ApplyCartDiscountCommand) (services.Cart, error) {
	if s.applyDiscountFn == nil {
		return services.Cart{}, fmt.Errorf("unexpected ApplyDiscount call")
	}
	return s.applyDiscountFn(ctx, cmd)
}

func (s *stubCartService) RemoveDiscount(ctx context.Context, scope services.CartScope) (services.Cart, error) {
	if s.removeDiscountFn == nil {
		return services.Cart{}, fmt.Errorf("unexpected RemoveDiscount call")
	}
	return s.removeDiscountFn(ctx, scope)
}

func (s *stubCartService) SetShipping(ctx context.Context, cmd services.SetCartShippingCommand) (services.Cart, error) {
	if s.setShippingFn == nil {
		return services.Cart{}, fmt.Errorf("unexpected SetShipping call")
	}
	return s.setShippingFn(ctx, cmd)
}

func (s *stubCartService) ClearCart(ctx context.Context, scope services.CartScope) error {
	if s.clearFn == nil {
		return fmt.Errorf("unexpected ClearCart call")
	}
	return s.clearFn(ctx, scope)
}

var _ services.CartService = (*stubCartService)(nil)

func newCartRouter(carts services.CartService) chi.Router {
	r := chi.NewRouter()
	NewCartHandlers(nil, carts).Routes(r)
	return r
}

func sampleCart(ownerID string) services.Cart {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return services.Cart{
		ID:        "cart_1",
		TenantID:  "tenant-1",
		OwnerID:   ownerID,
		Currency:  "USD",
		ItemCount: 2,
		Items: []domain.CartItem{{
			ID: "ci_1", ProductRef: "products/p1", SKU: "SKU-1", Name: "Widget",
			UnitPrice: 45, Quantity: 2, AddedAt: now,
		}},
		Totals:    domain.CartTotals{Subtotal: 90, Tax: 4.5, Shipping: 5.5, Total: 100},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestGetCartCreatesLazily(t *testing.T) {
	carts := &stubCartService{
		getFn: func(_ context.Context, scope services.CartScope) (services.Cart, error) {
			if scope.TenantID != "tenant-1" || scope.OwnerID != "user-1" {
				t.Fatalf("unexpected scope: %+v", scope)
			}
			return sampleCart("user-1"), nil
		},
	}
	router := newCartRouter(carts)

	req := identityContext(httptest.NewRequest(http.MethodGet, "/", nil), "user-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("expected no-store cache header, got %q", rr.Header().Get("Cache-Control"))
	}
	if rr.Header().Get("ETag") == "" {
		t.Fatalf("expected an ETag header")
	}

	var resp cartResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Cart.ID != "cart_1" || resp.Cart.ItemsCount != 2 {
		t.Fatalf("unexpected cart payload: %+v", resp.Cart)
	}
}

func TestGetCartRejectsUnknownCurrency(t *testing.T) {
	router := newCartRouter(&stubCartService{})

	req := identityContext(httptest.NewRequest(http.MethodGet, "/?currency=ZZZ", nil), "user-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAddCartItemValidation(t *testing.T) {
	carts := &stubCartService{
		addFn: func(_ context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
			if cmd.SKU == "SKU-MISSING" {
				return services.Cart{}, fmt.Errorf("%w: sku SKU-MISSING", services.ErrCartProductNotFound)
			}
			return sampleCart("user-1"), nil
		},
	}
	router := newCartRouter(carts)

	cases := []struct {
		name string
		body string
		want int
	}{
		{name: "valid item", body: `{"sku":"SKU-1","quantity":2}`, want: http.StatusOK},
		{name: "zero quantity", body: `{"sku":"SKU-1","quantity":0}`, want: http.StatusBadRequest},
		{name: "missing sku", body: `{"quantity":1}`, want: http.StatusBadRequest},
		{name: "unknown product", body: `{"sku":"SKU-MISSING","quantity":1}`, want: http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := identityContext(httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(tc.body)), "user-1")
			rr := httptest.NewRecorder()

			router.ServeHTTP(rr, req)

			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestUpdateCartItemStockConflict(t *testing.T) {
	carts := &stubCartService{
		updateFn: func(context.Context, services.UpdateCartItemCommand) (services.Cart, error) {
			return services.Cart{}, fmt.Errorf("%w: cart was modified concurrently", services.ErrCartConflict)
		},
	}
	router := newCartRouter(carts)

	req := identityContext(httptest.NewRequest(http.MethodPatch, "/items/ci_1", strings.NewReader(`{"quantity":5}`)), "user-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestRemoveCartItemNotFound(t *testing.T) {
	carts := &stubCartService{
		removeFn: func(context.Context, services.RemoveCartItemCommand) (services.Cart, error) {
			return services.Cart{}, fmt.Errorf("%w: item ci_9", services.ErrCartNotFound)
		},
	}
	router := newCartRouter(carts)

	req := identityContext(httptest.NewRequest(http.MethodDelete, "/items/ci_9", nil), "user-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestApplyDiscountPassesCodeAndAmount(t *testing.T) {
	carts := &stubCartService{
		applyDiscountFn: func(_ context.Context, cmd services.ApplyCartDiscountCommand) (services.Cart, error) {
			if cmd.Code != "SUMMER10" || cmd.Amount != 10 {
				t.Fatalf("unexpected discount command: %+v", cmd)
			}
			cart := sampleCart("user-1")
			cart.Discount = &domain.CartDiscount{Code: "SUMMER10", Amount: 10}
			return cart, nil
		},
	}
	router := newCartRouter(carts)

	body := `{"code":"SUMMER10","amount":10}`
	req := identityContext(httptest.NewRequest(http.MethodPost, "/discount", strings.NewReader(body)), "user-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp cartResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Cart.Discount == nil || resp.Cart.Discount.Code != "SUMMER10" {
		t.Fatalf("expected discount in payload, got %+v", resp.Cart.Discount)
	}
}

func TestClearCartReturns204(t *testing.T) {
	cleared := false
	carts := &stubCartService{
		clearFn: func(_ context.Context, scope services.CartScope) error {
			cleared = true
			if scope.OwnerID != "user-1" {
				t.Fatalf("unexpected scope owner %q", scope.OwnerID)
			}
			return nil
		},
	}
	router := newCartRouter(carts)

	req := identityContext(httptest.NewRequest(http.MethodDelete, "/", nil), "user-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if !cleared {
		t.Fatalf("expected ClearCart to be invoked")
	}
}

func TestPatchCartRequiresEditableField(t *testing.T) {
	router := newCartRouter(&stubCartService{})

	req := identityContext(httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{}`)), "user-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty patch, got %d", rr.Code)
	}
}

func TestPatchCartSetsShippingFee(t *testing.T) {
	carts := &stubCartService{
		setShippingFn: func(_ context.Context, cmd services.SetCartShippingCommand) (services.Cart, error) {
			if cmd.ShippingFee == nil || *cmd.ShippingFee != 7.5 {
				t.Fatalf("expected shipping fee 7.5, got %+v", cmd.ShippingFee)
			}
			cart := sampleCart("user-1")
			cart.ShippingFee = 7.5
			return cart, nil
		},
	}
	router := newCartRouter(carts)

	req := identityContext(httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"shipping_fee":7.5}`)), "user-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCartBackendOutageMapsTo500(t *testing.T) {
	carts := &stubCartService{
		getFn: func(context.Context, services.CartScope) (services.Cart, error) {
			return services.Cart{}, fmt.Errorf("%w: firestore deadline exceeded", services.ErrCartUnavailable)
		},
	}
	router := newCartRouter(carts)

	req := identityContext(httptest.NewRequest(http.MethodGet, "/", nil), "user-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse error body: %v", err)
	}
	if payload["code"] != codeDatabaseError {
		t.Fatalf("expected code %q, got %v", codeDatabaseError, payload["code"])
	}
}

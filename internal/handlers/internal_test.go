package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/stackmart/api/internal/domain"
	"github.com/stackmart/api/internal/services"
)

func newInternalRouter(orders services.OrderService) chi.Router {
	r := chi.NewRouter()
	NewInternalHandlers(orders).Routes(r)
	return r
}

func TestShippingDeliveredMarksItem(t *testing.T) {
	var gotCmd services.MarkItemDeliveredCommand
	orders := &stubOrderService{
		deliveredFn: func(_ context.Context, cmd services.MarkItemDeliveredCommand) (services.Order, error) {
			gotCmd = cmd
			order := sampleOrder("user-1")
			order.Status = domain.OrderStatusDelivered
			return order, nil
		},
	}
	router := newInternalRouter(orders)

	body := `{"tenant_id":"tenant-1","order_id":"ord_1","sku":"SKU-1","carrier":"DHL"}`
	req := httptest.NewRequest(http.MethodPost, "/shipping/delivered", strings.NewReader(body))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotCmd.TenantID != "tenant-1" || gotCmd.OrderID != "ord_1" || gotCmd.SKU != "SKU-1" {
		t.Fatalf("unexpected command: %+v", gotCmd)
	}
	if gotCmd.ActorID != "carrier:dhl" {
		t.Fatalf("expected actor carrier:dhl, got %q", gotCmd.ActorID)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.Status != "DELIVERED" {
		t.Fatalf("expected DELIVERED, got %s", resp.Order.Status)
	}
}

func TestShippingDeliveredTenantHeaderFallback(t *testing.T) {
	orders := &stubOrderService{
		deliveredFn: func(_ context.Context, cmd services.MarkItemDeliveredCommand) (services.Order, error) {
			if cmd.TenantID != "tenant-9" {
				t.Fatalf("expected tenant from header, got %q", cmd.TenantID)
			}
			return sampleOrder("user-1"), nil
		},
	}
	router := newInternalRouter(orders)

	body := `{"order_id":"ord_1","sku":"SKU-1"}`
	req := httptest.NewRequest(http.MethodPost, "/shipping/delivered", strings.NewReader(body))
	req.Header.Set("X-Tenant-ID", "tenant-9")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestShippingDeliveredValidatesRequiredFields(t *testing.T) {
	router := newInternalRouter(&stubOrderService{})

	cases := []struct {
		name string
		body string
	}{
		{name: "missing order id", body: `{"sku":"SKU-1"}`},
		{name: "missing sku", body: `{"order_id":"ord_1"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/shipping/delivered", strings.NewReader(tc.body))
			rr := httptest.NewRecorder()

			router.ServeHTTP(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
		})
	}
}

func TestShippingDeliveredUnknownSKUMapsTo404(t *testing.T) {
	orders := &stubOrderService{
		deliveredFn: func(context.Context, services.MarkItemDeliveredCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: order has no item with sku SKU-9", services.ErrOrderNotFound)
		},
	}
	router := newInternalRouter(orders)

	body := `{"order_id":"ord_1","sku":"SKU-9"}`
	req := httptest.NewRequest(http.MethodPost, "/shipping/delivered", strings.NewReader(body))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/stackmart/api/internal/domain"
	"github.com/stackmart/api/internal/services"
)

func TestRouterServesHealthEndpoints(t *testing.T) {
	system := &stubSystemService{
		report: domain.SystemHealthReport{Status: domain.HealthStatusOK},
	}
	router := NewRouter(
		WithHealthHandlers(NewHealthHandlers(
			WithHealthSystemService(system),
			WithHealthBuildInfo(services.BuildInfo{Version: "1.0.0", StartedAt: time.Now()}),
		)),
	)

	for _, target := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200 for %s, got %d: %s", target, rr.Code, rr.Body.String())
		}
	}
}

func TestRouterUnconfiguredGroupReturnsNotImplemented(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["code"] != "not_implemented" {
		t.Fatalf("expected not_implemented code, got %v", body["code"])
	}
}

func TestRouterUnknownRouteReturnsJSONError(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["code"] != errorNotFoundCode {
		t.Fatalf("expected %s code, got %v", errorNotFoundCode, body["code"])
	}
}

func TestRouterMountsConfiguredGroups(t *testing.T) {
	orders := &stubOrderService{
		listFn: func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			return domain.CursorPage[services.Order]{}, nil
		},
	}
	orderHandlers := NewOrderHandlers(nil, orders, &stubPaymentService{})

	router := NewRouter(
		WithOrderRoutes(func(r chi.Router) { orderHandlers.Routes(r) }),
	)

	req := identityContext(httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil), "user-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRouterWebhookMiddlewaresApply(t *testing.T) {
	var sawWebhook bool
	marker := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sawWebhook = true
			next.ServeHTTP(w, r)
		})
	}

	router := NewRouter(WithWebhookMiddlewares(marker))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments/stripe", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if !sawWebhook {
		t.Fatalf("expected webhook middleware to run")
	}
}

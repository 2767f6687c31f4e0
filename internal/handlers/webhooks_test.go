package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/stackmart/api/internal/payments"
	"github.com/stackmart/api/internal/services"
)

type stubNotificationParser struct {
	parseFn func(ctx context.Context, provider string, n payments.Notification) (payments.GatewayEvent, error)
}

func (s *stubNotificationParser) ParseNotification(ctx context.Context, provider string, n payments.Notification) (payments.GatewayEvent, error) {
	if s.parseFn == nil {
		return payments.GatewayEvent{}, fmt.Errorf("unexpected ParseNotification call")
	}
	return s.parseFn(ctx, provider, n)
}

func newWebhookRouter(parser NotificationParser, svc services.PaymentService) chi.Router {
	r := chi.NewRouter()
	NewWebhookHandlers(parser, svc, "tenant-1").Routes(r)
	return r
}

func TestStripeWebhookInvalidSignatureIsRejected(t *testing.T) {
	parser := &stubNotificationParser{
		parseFn: func(_ context.Context, _ string, n payments.Notification) (payments.GatewayEvent, error) {
			if n.Signature != "t=1,v1=bad" {
				t.Fatalf("expected signature header forwarded, got %q", n.Signature)
			}
			return payments.GatewayEvent{}, payments.ErrSignatureInvalid
		},
	}
	svc := &stubPaymentService{
		applyFn: func(context.Context, services.ApplyGatewayEventCommand) (services.Order, error) {
			t.Fatalf("ApplyGatewayEvent must not run on signature failure")
			return services.Order{}, nil
		},
	}
	router := newWebhookRouter(parser, svc)

	req := httptest.NewRequest(http.MethodPost, "/payments/stripe", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=bad")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse error body: %v", err)
	}
	if payload["code"] != codeBadRequest {
		t.Fatalf("expected code %q, got %v", codeBadRequest, payload["code"])
	}
}

func TestStripeWebhookIgnoredEventIsAcked(t *testing.T) {
	parser := &stubNotificationParser{
		parseFn: func(context.Context, string, payments.Notification) (payments.GatewayEvent, error) {
			return payments.GatewayEvent{}, fmt.Errorf("%w: customer.created", payments.ErrEventIgnored)
		},
	}
	router := newWebhookRouter(parser, &stubPaymentService{})

	req := httptest.NewRequest(http.MethodPost, "/payments/stripe", strings.NewReader(`{"id":"evt_2"}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var ack webhookAck
	if err := json.Unmarshal(rr.Body.Bytes(), &ack); err != nil {
		t.Fatalf("failed to parse ack: %v", err)
	}
	if !ack.Received {
		t.Fatalf("expected received ack")
	}
}

func TestStripeWebhookCapturedEventIsApplied(t *testing.T) {
	parser := &stubNotificationParser{
		parseFn: func(_ context.Context, provider string, _ payments.Notification) (payments.GatewayEvent, error) {
			if provider != "stripe" {
				t.Fatalf("expected stripe provider, got %q", provider)
			}
			return payments.GatewayEvent{
				EventID:  "evt_3",
				Kind:     payments.EventCaptured,
				IntentID: "pi_123",
				Amount:   100,
				Currency: "USD",
			}, nil
		},
	}

	var gotCmd services.ApplyGatewayEventCommand
	svc := &stubPaymentService{
		applyFn: func(_ context.Context, cmd services.ApplyGatewayEventCommand) (services.Order, error) {
			gotCmd = cmd
			return sampleOrder("user-1"), nil
		},
	}
	router := newWebhookRouter(parser, svc)

	req := httptest.NewRequest(http.MethodPost, "/payments/stripe", strings.NewReader(`{"id":"evt_3"}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotCmd.TenantID != "tenant-1" || gotCmd.Provider != "stripe" {
		t.Fatalf("unexpected apply command: %+v", gotCmd)
	}
	if gotCmd.Event.IntentID != "pi_123" || gotCmd.Event.Kind != payments.EventCaptured {
		t.Fatalf("unexpected event forwarded: %+v", gotCmd.Event)
	}
}

func TestStripeWebhookUnknownOrderIsStillAcked(t *testing.T) {
	parser := &stubNotificationParser{
		parseFn: func(context.Context, string, payments.Notification) (payments.GatewayEvent, error) {
			return payments.GatewayEvent{EventID: "evt_4", Kind: payments.EventCaptured, IntentID: "pi_orphan"}, nil
		},
	}
	svc := &stubPaymentService{
		applyFn: func(context.Context, services.ApplyGatewayEventCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: intent pi_orphan", services.ErrPaymentOrderNotFound)
		},
	}
	router := newWebhookRouter(parser, svc)

	req := httptest.NewRequest(http.MethodPost, "/payments/stripe", strings.NewReader(`{"id":"evt_4"}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 ack for unknown order, got %d", rr.Code)
	}
}

func TestStripeWebhookAmountMismatchMapsTo402(t *testing.T) {
	parser := &stubNotificationParser{
		parseFn: func(context.Context, string, payments.Notification) (payments.GatewayEvent, error) {
			return payments.GatewayEvent{EventID: "evt_5", Kind: payments.EventCaptured, IntentID: "pi_123", Amount: 42}, nil
		},
	}
	svc := &stubPaymentService{
		applyFn: func(context.Context, services.ApplyGatewayEventCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: captured 42.00, expected 100.00", services.ErrPaymentAmountMismatch)
		},
	}
	router := newWebhookRouter(parser, svc)

	req := httptest.NewRequest(http.MethodPost, "/payments/stripe", strings.NewReader(`{"id":"evt_5"}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse error body: %v", err)
	}
	if payload["code"] != codePaymentError {
		t.Fatalf("expected code %q, got %v", codePaymentError, payload["code"])
	}
}

func TestSSLCommerzIPNForwardsFormFields(t *testing.T) {
	parser := &stubNotificationParser{
		parseFn: func(_ context.Context, provider string, n payments.Notification) (payments.GatewayEvent, error) {
			if provider != "sslcommerz" {
				t.Fatalf("expected sslcommerz provider, got %q", provider)
			}
			if n.Form.Get("tran_id") != "SO-1001" {
				t.Fatalf("expected tran_id forwarded, got %q", n.Form.Get("tran_id"))
			}
			return payments.GatewayEvent{EventID: "ipn_1", Kind: payments.EventCaptured, IntentID: "SO-1001"}, nil
		},
	}
	svc := &stubPaymentService{
		applyFn: func(context.Context, services.ApplyGatewayEventCommand) (services.Order, error) {
			return sampleOrder("user-1"), nil
		},
	}
	router := newWebhookRouter(parser, svc)

	form := url.Values{}
	form.Set("tran_id", "SO-1001")
	form.Set("status", "VALID")
	form.Set("verify_sign", "abc123")

	req := httptest.NewRequest(http.MethodPost, "/payments/sslcommerz/ipn", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

package payments

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	lastOp  string
	session CheckoutSession
	payment PaymentDetails
	event   GatewayEvent
	err     error
}

func (f *fakeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	f.lastOp = "create"
	return f.session, f.err
}

func (f *fakeProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	f.lastOp = "refund"
	return f.payment, f.err
}

func (f *fakeProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	f.lastOp = "lookup"
	return f.payment, f.err
}

func (f *fakeProvider) ParseNotification(ctx context.Context, n Notification) (GatewayEvent, error) {
	f.lastOp = "parse"
	return f.event, f.err
}

func TestManagerCreateCheckoutSessionUsesPreferredProvider(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{session: CheckoutSession{ID: "sess_stripe"}}
	sslcommerz := &fakeProvider{session: CheckoutSession{ID: "sess_ssl"}}

	mgr, err := NewManager(map[string]Provider{
		"stripe":     stripe,
		"sslcommerz": sslcommerz,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	session, err := mgr.CreateCheckoutSession(ctx, PaymentContext{PreferredProvider: "sslcommerz"}, CheckoutSessionRequest{Currency: "BDT"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if session.Provider != "sslcommerz" {
		t.Fatalf("expected provider 'sslcommerz', got %q", session.Provider)
	}
	if sslcommerz.lastOp != "create" {
		t.Fatalf("expected sslcommerz provider to handle call")
	}
	if stripe.lastOp != "" {
		t.Fatalf("expected stripe provider to remain unused")
	}
}

func TestManagerRoutesByCurrency(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{session: CheckoutSession{ID: "sess_stripe"}}
	sslcommerz := &fakeProvider{session: CheckoutSession{ID: "sess_ssl"}}

	mgr, err := NewManager(
		map[string]Provider{
			"stripe":     stripe,
			"sslcommerz": sslcommerz,
		},
		WithCurrencyRoutes(map[string]string{"BDT": "sslcommerz"}),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	session, err := mgr.CreateCheckoutSession(ctx, PaymentContext{Currency: "BDT"}, CheckoutSessionRequest{Currency: "BDT"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.Provider != "sslcommerz" {
		t.Fatalf("expected provider 'sslcommerz', got %q", session.Provider)
	}
	if sslcommerz.lastOp != "create" {
		t.Fatalf("expected sslcommerz provider to handle call")
	}
}

func TestManagerFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{payment: PaymentDetails{Provider: "stripe"}}

	mgr, err := NewManager(map[string]Provider{"stripe": stripe})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	details, err := mgr.Refund(ctx, PaymentContext{}, RefundRequest{IntentID: "pi_123"})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if stripe.lastOp != "refund" {
		t.Fatalf("expected refund to invoke default provider")
	}
	if details.Provider != "stripe" {
		t.Fatalf("unexpected provider in details: %q", details.Provider)
	}
}

func TestManagerParseNotificationByName(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{event: GatewayEvent{EventID: "evt_1", Kind: EventCaptured}}
	sslcommerz := &fakeProvider{event: GatewayEvent{EventID: "val_1", Kind: EventCaptured}}

	mgr, err := NewManager(map[string]Provider{
		"stripe":     stripe,
		"sslcommerz": sslcommerz,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	event, err := mgr.ParseNotification(ctx, "Stripe", Notification{Body: []byte("{}")})
	if err != nil {
		t.Fatalf("parse notification: %v", err)
	}
	if event.EventID != "evt_1" {
		t.Fatalf("expected stripe event, got %q", event.EventID)
	}
	if sslcommerz.lastOp != "" {
		t.Fatalf("expected sslcommerz provider to remain unused")
	}

	if _, err := mgr.ParseNotification(ctx, "unknown", Notification{}); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(map[string]Provider{"stripe": &fakeProvider{}, "sslcommerz": &fakeProvider{}}, WithDefaultProvider(""))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	_, err = mgr.CreateCheckoutSession(ctx, PaymentContext{PreferredProvider: "unknown"}, CheckoutSessionRequest{Currency: "USD"})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestNewManagerValidatesProviders(t *testing.T) {
	if _, err := NewManager(map[string]Provider{"bad": nil}); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error when providers empty")
	}
}

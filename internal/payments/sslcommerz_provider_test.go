package payments

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"
)

func newTestSSLCommerzProvider(t *testing.T) *SSLCommerzProvider {
	t.Helper()
	provider, err := NewSSLCommerzProvider(SSLCommerzConfig{
		StoreID:       "teststore",
		StorePassword: "secret-pass",
		Clock:         func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return provider
}

// Digests below are MD5 over the verify_key fields plus
// store_passwd=md5("secret-pass"), sorted and joined with '&'.
func validIPNForm() url.Values {
	return url.Values{
		"status":       {"VALID"},
		"tran_id":      {"ord_01"},
		"val_id":       {"val_9"},
		"bank_tran_id": {"BANK123"},
		"amount":       {"1500.00"},
		"currency":     {"BDT"},
		"card_type":    {"VISA-Dhaka Bank"},
		"card_no":      {"432573XXXXXX3195"},
		"tran_date":    {"2024-05-01 11:58:30"},
		"verify_key":   {"amount,bank_tran_id,currency,status,tran_id,val_id"},
		"verify_sign":  {"98b7fc6f30f4e2acc8e170d437e98a22"},
	}
}

func TestSSLCommerzParseNotificationValidPayment(t *testing.T) {
	provider := newTestSSLCommerzProvider(t)

	event, err := provider.ParseNotification(context.Background(), Notification{Form: validIPNForm()})
	if err != nil {
		t.Fatalf("parse notification: %v", err)
	}

	if event.Kind != EventCaptured {
		t.Fatalf("expected captured event, got %q", event.Kind)
	}
	if event.EventID != "val_9" {
		t.Fatalf("unexpected event id %q", event.EventID)
	}
	if event.IntentID != "ord_01" {
		t.Fatalf("unexpected intent id %q", event.IntentID)
	}
	if event.TransactionID != "BANK123" {
		t.Fatalf("unexpected transaction id %q", event.TransactionID)
	}
	if event.Amount != 1500 {
		t.Fatalf("unexpected amount %v", event.Amount)
	}
	if event.Currency != "BDT" {
		t.Fatalf("unexpected currency %q", event.Currency)
	}
	if event.CardBrand != "visa" || event.CardLast4 != "3195" {
		t.Fatalf("unexpected card details %q %q", event.CardBrand, event.CardLast4)
	}
	want := time.Date(2024, 5, 1, 11, 58, 30, 0, time.UTC)
	if !event.OccurredAt.Equal(want) {
		t.Fatalf("unexpected occurred at %v", event.OccurredAt)
	}
}

func TestSSLCommerzParseNotificationRejectsTamperedAmount(t *testing.T) {
	provider := newTestSSLCommerzProvider(t)

	form := validIPNForm()
	form.Set("amount", "1.00")

	_, err := provider.ParseNotification(context.Background(), Notification{Form: form})
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestSSLCommerzParseNotificationRejectsMissingSignature(t *testing.T) {
	provider := newTestSSLCommerzProvider(t)

	form := validIPNForm()
	form.Del("verify_sign")

	_, err := provider.ParseNotification(context.Background(), Notification{Form: form})
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestSSLCommerzParseNotificationFailedPayment(t *testing.T) {
	provider := newTestSSLCommerzProvider(t)

	form := url.Values{
		"status":       {"FAILED"},
		"tran_id":      {"ord_02"},
		"bank_tran_id": {""},
		"currency":     {"BDT"},
		"error":        {"Insufficient funds"},
		"verify_key":   {"bank_tran_id,currency,status,tran_id"},
		"verify_sign":  {"093d0ba05b9909686179db6dd341278b"},
	}

	event, err := provider.ParseNotification(context.Background(), Notification{Form: form})
	if err != nil {
		t.Fatalf("parse notification: %v", err)
	}
	if event.Kind != EventFailed {
		t.Fatalf("expected failed event, got %q", event.Kind)
	}
	if event.FailureReason != "Insufficient funds" {
		t.Fatalf("unexpected failure reason %q", event.FailureReason)
	}
}

func TestSSLCommerzParseNotificationIgnoresUnknownStatus(t *testing.T) {
	provider := newTestSSLCommerzProvider(t)

	form := validIPNForm()
	form.Set("status", "PROCESSING")
	form.Set("verify_sign", "fe8385d5ab526260c22cddabfacc9f7a")

	_, err := provider.ParseNotification(context.Background(), Notification{Form: form})
	if !errors.Is(err, ErrEventIgnored) {
		t.Fatalf("expected ErrEventIgnored, got %v", err)
	}
}

func TestSSLCommerzCreateCheckoutSessionRequiresOrderRef(t *testing.T) {
	provider := newTestSSLCommerzProvider(t)

	if _, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{Amount: 1000, Currency: "BDT"}); err == nil {
		t.Fatalf("expected error for missing order reference")
	}
}

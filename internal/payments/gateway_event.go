package payments

import (
	"errors"
	"net/url"
	"time"
)

// EventKind classifies a verified gateway notification into the states the
// reconciliation flow understands.
type EventKind string

const (
	// EventCaptured indicates funds were captured for the payment.
	EventCaptured EventKind = "captured"
	// EventFailed indicates the gateway reports a terminal payment failure.
	EventFailed EventKind = "failed"
	// EventRefunded indicates a full or partial refund was processed.
	EventRefunded EventKind = "refunded"
	// EventDisputed indicates the payment is under dispute or chargeback.
	EventDisputed EventKind = "disputed"
)

// ErrSignatureInvalid is returned when a notification fails signature or
// digest verification. Callers must treat this as a hard rejection.
var ErrSignatureInvalid = errors.New("payments: invalid notification signature")

// ErrEventIgnored is returned for event types the reconciliation flow does
// not act on. Webhook handlers acknowledge these without processing.
var ErrEventIgnored = errors.New("payments: event type ignored")

// ErrMalformedNotification is returned when a notification payload cannot be
// decoded after its signature has been verified.
var ErrMalformedNotification = errors.New("payments: malformed notification payload")

// Notification carries the raw inbound gateway callback prior to verification.
// Stripe-style providers read Body and Signature; form-post IPN providers
// read Form. Body is always retained for archival.
type Notification struct {
	Body      []byte
	Signature string
	Form      url.Values
}

// GatewayEvent is the provider-neutral shape of a verified payment
// notification. Amount is expressed in major currency units.
type GatewayEvent struct {
	EventID       string
	Kind          EventKind
	IntentID      string
	TransactionID string
	Amount        float64
	Currency      string
	CardBrand     string
	CardLast4     string
	FailureReason string
	OccurredAt    time.Time
	Raw           []byte
}

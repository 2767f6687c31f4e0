package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/stackmart/api/internal/payments"
	"github.com/stackmart/api/internal/platform/httpx"
	"github.com/stackmart/api/internal/platform/requestctx"
	"github.com/stackmart/api/internal/services"
)

const (
	maxWebhookBodySize = 256 * 1024

	providerStripe     = "stripe"
	providerSSLCommerz = "sslcommerz"
)

// NotificationParser verifies and normalizes raw gateway notifications.
// Implemented by *payments.Manager.
type NotificationParser interface {
	ParseNotification(ctx context.Context, provider string, n payments.Notification) (payments.GatewayEvent, error)
}

// WebhookHandlers terminates payment gateway callbacks. These routes are
// unauthenticated; each provider's signature scheme is the trust boundary.
type WebhookHandlers struct {
	parser   NotificationParser
	payments services.PaymentService
	tenantID string
}

// NewWebhookHandlers constructs the webhook handler group. tenantID scopes
// incoming events when the gateway cannot convey one; deployments serving a
// single tenant leave it at the default.
func NewWebhookHandlers(parser NotificationParser, svc services.PaymentService, tenantID string) *WebhookHandlers {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		tenantID = defaultTenantID
	}
	return &WebhookHandlers{
		parser:   parser,
		payments: svc,
		tenantID: tenantID,
	}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/stripe", h.stripeWebhook)
	r.Post("/payments/sslcommerz/ipn", h.sslcommerzIPN)
}

func (h *WebhookHandlers) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.parser == nil || h.payments == nil {
		writeServiceUnavailable(ctx, w, "payment")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		writeBadRequest(ctx, w, "unable to read request body")
		return
	}

	notification := payments.Notification{
		Body:      body,
		Signature: r.Header.Get("Stripe-Signature"),
	}

	h.process(w, r, providerStripe, notification)
}

func (h *WebhookHandlers) sslcommerzIPN(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.parser == nil || h.payments == nil {
		writeServiceUnavailable(ctx, w, "payment")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	if err := r.ParseForm(); err != nil {
		writeBadRequest(ctx, w, "unable to parse form payload")
		return
	}

	notification := payments.Notification{
		Form: r.PostForm,
	}

	h.process(w, r, providerSSLCommerz, notification)
}

func (h *WebhookHandlers) process(w http.ResponseWriter, r *http.Request, provider string, notification payments.Notification) {
	ctx := r.Context()
	logger := requestctx.Logger(ctx)

	event, err := h.parser.ParseNotification(ctx, provider, notification)
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrSignatureInvalid):
			// A failed signature check is a hard stop: nothing is recorded.
			httpx.WriteError(ctx, w, httpx.NewError(codeBadRequest, "invalid webhook signature", http.StatusBadRequest))
		case errors.Is(err, payments.ErrEventIgnored):
			writeJSONResponse(w, http.StatusOK, webhookAck{Received: true})
		case errors.Is(err, payments.ErrMalformedNotification):
			httpx.WriteError(ctx, w, httpx.NewError(codeBadRequest, "malformed webhook payload", http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError(codeExternalService, "webhook verification failed", http.StatusBadGateway))
		}
		return
	}

	if _, err := h.payments.ApplyGatewayEvent(ctx, services.ApplyGatewayEventCommand{
		TenantID: h.tenantID,
		Provider: provider,
		Event:    event,
	}); err != nil {
		if errors.Is(err, services.ErrPaymentOrderNotFound) {
			// Acknowledge events for unknown intents so the gateway stops
			// retrying; the archived payload keeps them recoverable.
			logger.Warn("webhook event matched no order",
				zap.String("provider", provider),
				zap.String("eventId", event.EventID),
				zap.String("intentId", event.IntentID),
			)
			writeJSONResponse(w, http.StatusOK, webhookAck{Received: true})
			return
		}
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, webhookAck{Received: true})
}

type webhookAck struct {
	Received bool `json:"received"`
}

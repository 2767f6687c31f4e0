package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/stackmart/api/internal/domain"
	"github.com/stackmart/api/internal/payments"
	"github.com/stackmart/api/internal/platform/idempotency"
	"github.com/stackmart/api/internal/platform/textutil"
	"github.com/stackmart/api/internal/repositories"
)

const (
	paymentEventCaptured = "order.payment.captured"
	paymentEventFailed   = "order.payment.failed"
	paymentEventRefunded = "order.refunded"

	gatewayActor = "gateway"

	defaultEventDedupTTL = 72 * time.Hour
)

var (
	// ErrPaymentInvalidInput indicates the supplied payment payload failed validation.
	ErrPaymentInvalidInput = errors.New("payment service: invalid input")
	// ErrPaymentOrderNotFound indicates no order matches the gateway reference.
	ErrPaymentOrderNotFound = errors.New("payment service: order not found")
	// ErrPaymentAmountMismatch indicates the gateway amount disagrees with the order total.
	ErrPaymentAmountMismatch = errors.New("payment service: gateway amount does not match order total")
	// ErrPaymentNotRefundable indicates the payment cannot be refunded in its current state.
	ErrPaymentNotRefundable = errors.New("payment service: payment is not refundable")
	// ErrPaymentInvalidState indicates the order is not in a state that permits the operation.
	ErrPaymentInvalidState = errors.New("payment service: invalid order state")
	// ErrPaymentGateway indicates the upstream payment provider rejected or failed the call.
	ErrPaymentGateway = errors.New("payment service: gateway error")
	// ErrPaymentUnavailable indicates the payment backend could not be reached.
	ErrPaymentUnavailable = errors.New("payment service: backend unavailable")
)

var (
	errPaymentOrdersRequired  = errors.New("payment service: order repository is required")
	errPaymentGatewayRequired = errors.New("payment service: payment gateway is required")
)

// PaymentGateway is the subset of the payments manager the service depends on.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error)
}

// PayloadArchiver persists raw gateway payloads for audit and replay.
type PayloadArchiver interface {
	ArchivePayload(ctx context.Context, provider, eventID string, payload []byte) error
}

// PaymentServiceDeps wires the collaborators required by NewPaymentService.
type PaymentServiceDeps struct {
	Orders   repositories.OrderRepository
	Gateway  PaymentGateway
	Dedup    idempotency.Store
	Archive  PayloadArchiver
	Events   OrderEventPublisher
	Clock    func() time.Time
	DedupTTL time.Duration
	// IDGenerator mints refund identifiers. Defaults to random UUIDs.
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders   repositories.OrderRepository
	gateway  PaymentGateway
	dedup    idempotency.Store
	archive  PayloadArchiver
	events   OrderEventPublisher
	clock    func() time.Time
	dedupTTL time.Duration
	newID    func() string
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewPaymentService constructs the gateway reconciliation service.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errPaymentOrdersRequired
	}
	if deps.Gateway == nil {
		return nil, errPaymentGatewayRequired
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	dedupTTL := deps.DedupTTL
	if dedupTTL <= 0 {
		dedupTTL = defaultEventDedupTTL
	}

	newID := deps.IDGenerator
	if newID == nil {
		newID = uuid.NewString
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentService{
		orders:  deps.Orders,
		gateway: deps.Gateway,
		dedup:   deps.Dedup,
		archive: deps.Archive,
		events:  deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		dedupTTL: dedupTTL,
		newID:    newID,
		logger:   logger,
	}, nil
}

// InitiateCheckout creates a hosted checkout session for a pending order and
// records the returned payment intent reference on the order.
func (s *paymentService) InitiateCheckout(ctx context.Context, cmd InitiateCheckoutCommand) (CheckoutSession, error) {
	tenantID := strings.TrimSpace(cmd.TenantID)
	orderID := strings.TrimSpace(cmd.OrderID)
	if tenantID == "" {
		return CheckoutSession{}, fmt.Errorf("%w: tenant id is required", ErrPaymentInvalidInput)
	}
	if orderID == "" {
		return CheckoutSession{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	if strings.TrimSpace(cmd.SuccessURL) == "" || strings.TrimSpace(cmd.CancelURL) == "" {
		return CheckoutSession{}, fmt.Errorf("%w: success and cancel urls are required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, tenantID, orderID)
	if err != nil {
		return CheckoutSession{}, s.translateRepoError(err)
	}
	if order.Status != domain.OrderStatusPending {
		return CheckoutSession{}, fmt.Errorf("%w: checkout requires a pending order, order is %s", ErrPaymentInvalidState, order.Status)
	}
	if order.Payment.Status == domain.PaymentStatusCaptured {
		return CheckoutSession{}, fmt.Errorf("%w: payment already captured", ErrPaymentInvalidState)
	}

	req := payments.CheckoutSessionRequest{
		Amount:         majorToMinor(order.Totals.Total),
		Currency:       order.Currency,
		OrderRef:       order.ID,
		SuccessURL:     strings.TrimSpace(cmd.SuccessURL),
		CancelURL:      strings.TrimSpace(cmd.CancelURL),
		IdempotencyKey: "checkout-" + order.ID,
		Metadata:       checkoutMetadata(order, cmd.Metadata),
	}
	if order.Contact != nil {
		req.CustomerEmail = order.Contact.Email
	}
	for _, item := range order.Items {
		req.Items = append(req.Items, payments.CheckoutLineItem{
			Name:     item.Name,
			SKU:      item.SKU,
			Quantity: int64(item.Quantity),
			Amount:   majorToMinor(item.UnitPrice),
			Currency: order.Currency,
		})
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, payments.PaymentContext{
		PreferredProvider: cmd.Provider,
		Currency:          order.Currency,
	}, req)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}

	intentID := session.IntentID
	if intentID == "" {
		intentID = session.ID
	}
	order.Payment.Provider = session.Provider
	order.Payment.IntentID = intentID
	order.UpdatedAt = s.clock()
	if err := s.orders.Update(ctx, order); err != nil {
		return CheckoutSession{}, s.translateRepoError(err)
	}

	s.logger(ctx, "payments.checkout.initiated", map[string]any{
		"tenantId": tenantID,
		"orderId":  order.ID,
		"provider": session.Provider,
		"intentId": intentID,
	})

	return CheckoutSession{
		SessionID:    session.ID,
		Provider:     session.Provider,
		ClientSecret: session.ClientSecret,
		RedirectURL:  session.RedirectURL,
		ExpiresAt:    session.ExpiresAt,
	}, nil
}

// ApplyGatewayEvent reconciles a verified gateway notification against the
// referenced order. Redelivered events are absorbed without double-applying.
func (s *paymentService) ApplyGatewayEvent(ctx context.Context, cmd ApplyGatewayEventCommand) (Order, error) {
	tenantID := strings.TrimSpace(cmd.TenantID)
	provider := strings.TrimSpace(strings.ToLower(cmd.Provider))
	if tenantID == "" {
		return Order{}, fmt.Errorf("%w: tenant id is required", ErrPaymentInvalidInput)
	}
	if provider == "" {
		return Order{}, fmt.Errorf("%w: provider is required", ErrPaymentInvalidInput)
	}
	event := cmd.Event
	if event.IntentID == "" {
		return Order{}, fmt.Errorf("%w: event is missing a payment reference", ErrPaymentInvalidInput)
	}

	duplicate := s.reserveEvent(ctx, provider, event)
	s.archivePayload(ctx, provider, event)

	order, err := s.orders.FindByPaymentIntent(ctx, tenantID, event.IntentID)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}

	if duplicate {
		s.logger(ctx, "payments.event.duplicate", map[string]any{
			"tenantId": tenantID,
			"provider": provider,
			"eventId":  event.EventID,
			"orderId":  order.ID,
		})
		return order, nil
	}

	switch event.Kind {
	case GatewayEventCaptured:
		order, err = s.applyCapture(ctx, order, provider, event)
	case GatewayEventFailed:
		order, err = s.applyFailure(ctx, order, provider, event)
	case GatewayEventRefunded:
		order, err = s.applyGatewayRefund(ctx, order, provider, event)
	case GatewayEventDisputed:
		s.logger(ctx, "payments.event.disputed", map[string]any{
			"tenantId":      tenantID,
			"orderId":       order.ID,
			"provider":      provider,
			"eventId":       event.EventID,
			"transactionId": event.TransactionID,
			"amount":        event.Amount,
		})
	default:
		return Order{}, fmt.Errorf("%w: unknown event kind %q", ErrPaymentInvalidInput, event.Kind)
	}
	if err != nil {
		s.releaseEvent(ctx, provider, event)
		return Order{}, err
	}

	s.completeEvent(ctx, provider, event)
	return order, nil
}

func (s *paymentService) applyCapture(ctx context.Context, order domain.Order, provider string, event GatewayEvent) (domain.Order, error) {
	if event.Amount > 0 && !domain.AmountsMatch(event.Amount, order.Totals.Total) {
		s.logger(ctx, "payments.capture.amount_mismatch", map[string]any{
			"tenantId": order.TenantID,
			"orderId":  order.ID,
			"expected": order.Totals.Total,
			"received": event.Amount,
		})
		return domain.Order{}, fmt.Errorf("%w: expected %.2f, gateway reported %.2f", ErrPaymentAmountMismatch, order.Totals.Total, event.Amount)
	}

	if order.Payment.Status == domain.PaymentStatusCaptured && order.Status != domain.OrderStatusPending {
		s.logger(ctx, "payments.capture.replay", map[string]any{
			"tenantId": order.TenantID,
			"orderId":  order.ID,
			"eventId":  event.EventID,
		})
		return order, nil
	}

	now := s.clock()
	order.Payment.Status = domain.PaymentStatusCaptured
	order.Payment.PaidAt = &now
	order.Payment.FailureReason = nil
	if event.TransactionID != "" {
		order.Payment.TransactionID = event.TransactionID
	}
	if event.CardBrand != "" {
		order.Payment.CardBrand = event.CardBrand
	}
	if event.CardLast4 != "" {
		order.Payment.CardLast4 = event.CardLast4
	}

	if order.Status == domain.OrderStatusPending {
		order.Status = domain.OrderStatusConfirmed
		order.Timeline = append(order.Timeline, domain.TimelineEntry{
			Status:    domain.OrderStatusConfirmed,
			Message:   "Payment received, order confirmed",
			Actor:     gatewayActor,
			CreatedAt: now,
		})
	}
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return domain.Order{}, s.translateRepoError(err)
	}

	s.publish(ctx, paymentEventCaptured, order, map[string]any{
		"provider": provider,
		"eventId":  event.EventID,
	})
	return order, nil
}

func (s *paymentService) applyFailure(ctx context.Context, order domain.Order, provider string, event GatewayEvent) (domain.Order, error) {
	reason := strings.TrimSpace(event.FailureReason)
	if reason == "" {
		reason = "payment failed"
	}

	now := s.clock()
	order.Payment.Status = domain.PaymentStatusFailed
	order.Payment.FailureReason = &reason
	order.Timeline = append(order.Timeline, domain.TimelineEntry{
		Status:    order.Status,
		Message:   "Payment failed: " + reason,
		Actor:     gatewayActor,
		CreatedAt: now,
	})
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return domain.Order{}, s.translateRepoError(err)
	}

	s.publish(ctx, paymentEventFailed, order, map[string]any{
		"provider": provider,
		"eventId":  event.EventID,
		"reason":   reason,
	})
	return order, nil
}

// applyGatewayRefund treats the event amount as the cumulative refunded total
// reported by the gateway, so redelivery and refunds initiated through
// RequestRefund never double count.
func (s *paymentService) applyGatewayRefund(ctx context.Context, order domain.Order, provider string, event GatewayEvent) (domain.Order, error) {
	reported := domain.Round2(event.Amount)
	if reported <= 0 {
		reported = order.Totals.Total
	}
	if reported <= order.Payment.RefundedTotal {
		s.logger(ctx, "payments.refund.replay", map[string]any{
			"tenantId": order.TenantID,
			"orderId":  order.ID,
			"eventId":  event.EventID,
		})
		return order, nil
	}

	delta := domain.Round2(reported - order.Payment.RefundedTotal)
	reference := event.TransactionID
	if reference == "" {
		reference = event.EventID
	}
	order = s.recordRefund(order, domain.Refund{
		ID:        s.newID(),
		Provider:  provider,
		Reference: reference,
		Amount:    delta,
		Reason:    "gateway refund",
		Actor:     gatewayActor,
		CreatedAt: s.clock(),
	})

	if err := s.orders.Update(ctx, order); err != nil {
		return domain.Order{}, s.translateRepoError(err)
	}

	s.publish(ctx, paymentEventRefunded, order, map[string]any{
		"provider": provider,
		"eventId":  event.EventID,
		"amount":   delta,
	})
	return order, nil
}

// RequestRefund issues a refund through the order's payment provider and
// applies the resulting state to the order.
func (s *paymentService) RequestRefund(ctx context.Context, cmd RequestRefundCommand) (Order, error) {
	tenantID := strings.TrimSpace(cmd.TenantID)
	orderID := strings.TrimSpace(cmd.OrderID)
	if tenantID == "" {
		return Order{}, fmt.Errorf("%w: tenant id is required", ErrPaymentInvalidInput)
	}
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, tenantID, orderID)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}

	if order.Payment.TransactionID == "" && order.Payment.IntentID == "" {
		return Order{}, fmt.Errorf("%w: order has no settled transaction", ErrPaymentNotRefundable)
	}
	switch order.Payment.Status {
	case domain.PaymentStatusCaptured, domain.PaymentStatusPartiallyRefunded:
	case domain.PaymentStatusRefunded:
		return Order{}, fmt.Errorf("%w: payment already refunded", ErrPaymentNotRefundable)
	default:
		return Order{}, fmt.Errorf("%w: payment is %s", ErrPaymentNotRefundable, order.Payment.Status)
	}

	remaining := domain.Round2(order.Totals.Total - order.Payment.RefundedTotal)
	amount := remaining
	if cmd.Amount != nil {
		amount = domain.Round2(*cmd.Amount)
	}
	if amount <= 0 {
		return Order{}, fmt.Errorf("%w: refund amount must be positive", ErrPaymentInvalidInput)
	}
	if amount > remaining {
		return Order{}, fmt.Errorf("%w: refund amount %.2f exceeds refundable %.2f", ErrPaymentInvalidInput, amount, remaining)
	}

	refundID := s.newID()
	minorAmount := majorToMinor(amount)
	details, err := s.gateway.Refund(ctx, payments.PaymentContext{
		PreferredProvider: order.Payment.Provider,
		Currency:          order.Currency,
	}, payments.RefundRequest{
		IntentID:       order.Payment.IntentID,
		TransactionID:  order.Payment.TransactionID,
		Amount:         &minorAmount,
		Reason:         cmd.Reason,
		IdempotencyKey: "refund-" + refundID,
		Metadata: map[string]string{
			"order_id":  order.ID,
			"tenant_id": order.TenantID,
		},
	})
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}

	reference := details.TransactionID
	if reference == "" {
		reference = order.Payment.TransactionID
	}
	actor := strings.TrimSpace(cmd.ActorID)
	if actor == "" {
		actor = "admin"
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		reason = "merchant refund"
	}
	order = s.recordRefund(order, domain.Refund{
		ID:        refundID,
		Provider:  order.Payment.Provider,
		Reference: reference,
		Amount:    amount,
		Reason:    reason,
		Actor:     actor,
		CreatedAt: s.clock(),
	})

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.translateRepoError(err)
	}

	s.publish(ctx, paymentEventRefunded, order, map[string]any{
		"provider": order.Payment.Provider,
		"refundId": refundID,
		"amount":   amount,
		"actor":    actor,
	})
	return order, nil
}

// recordRefund appends the refund and reclassifies the payment. A cumulative
// refund within a cent of the order total counts as a full refund.
func (s *paymentService) recordRefund(order domain.Order, refund domain.Refund) domain.Order {
	now := s.clock()
	order.Payment.Refunds = append(order.Payment.Refunds, refund)
	order.Payment.RefundedTotal = domain.Round2(order.Payment.RefundedTotal + refund.Amount)

	if domain.AmountsMatch(order.Payment.RefundedTotal, order.Totals.Total) || order.Payment.RefundedTotal > order.Totals.Total {
		order.Payment.Status = domain.PaymentStatusRefunded
		order.Payment.RefundedAt = &now
		order.Status = domain.OrderStatusRefunded
		order.Timeline = append(order.Timeline, domain.TimelineEntry{
			Status:    domain.OrderStatusRefunded,
			Message:   fmt.Sprintf("Refund of %.2f processed, order fully refunded", refund.Amount),
			Actor:     refund.Actor,
			CreatedAt: now,
		})
	} else {
		order.Payment.Status = domain.PaymentStatusPartiallyRefunded
		order.Timeline = append(order.Timeline, domain.TimelineEntry{
			Status:    order.Status,
			Message:   fmt.Sprintf("Partial refund of %.2f processed", refund.Amount),
			Actor:     refund.Actor,
			CreatedAt: now,
		})
	}
	order.UpdatedAt = now
	return order
}

// reserveEvent reports whether the event was already processed. Dedup store
// failures degrade to processing the event; the capture guard keeps replays
// harmless.
func (s *paymentService) reserveEvent(ctx context.Context, provider string, event GatewayEvent) bool {
	if s.dedup == nil || event.EventID == "" {
		return false
	}
	key := provider + ":" + event.EventID
	reservation, err := s.dedup.Reserve(ctx, key, event.EventID, s.clock(), s.dedupTTL)
	if err != nil {
		s.logger(ctx, "payments.dedup.reserve_failed", map[string]any{
			"provider": provider,
			"eventId":  event.EventID,
			"error":    err.Error(),
		})
		return false
	}
	return reservation.State == idempotency.ReservationStateCompleted
}

func (s *paymentService) completeEvent(ctx context.Context, provider string, event GatewayEvent) {
	if s.dedup == nil || event.EventID == "" {
		return
	}
	key := provider + ":" + event.EventID
	err := s.dedup.SaveResponse(ctx, key, event.EventID, idempotency.Response{Status: 200}, s.clock(), s.dedupTTL)
	if err != nil {
		s.logger(ctx, "payments.dedup.save_failed", map[string]any{
			"provider": provider,
			"eventId":  event.EventID,
			"error":    err.Error(),
		})
	}
}

func (s *paymentService) releaseEvent(ctx context.Context, provider string, event GatewayEvent) {
	if s.dedup == nil || event.EventID == "" {
		return
	}
	key := provider + ":" + event.EventID
	if err := s.dedup.Release(ctx, key, event.EventID); err != nil {
		s.logger(ctx, "payments.dedup.release_failed", map[string]any{
			"provider": provider,
			"eventId":  event.EventID,
			"error":    err.Error(),
		})
	}
}

func (s *paymentService) archivePayload(ctx context.Context, provider string, event GatewayEvent) {
	if s.archive == nil || len(event.Raw) == 0 {
		return
	}
	if err := s.archive.ArchivePayload(ctx, provider, event.EventID, event.Raw); err != nil {
		s.logger(ctx, "payments.archive.failed", map[string]any{
			"provider": provider,
			"eventId":  event.EventID,
			"error":    err.Error(),
		})
	}
}

func (s *paymentService) publish(ctx context.Context, eventType string, order domain.Order, metadata map[string]any) {
	if s.events == nil {
		return
	}
	event := domain.OrderEvent{
		Type:       eventType,
		TenantID:   order.TenantID,
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     order.Status,
		Payment:    order.Payment.Status,
		Total:      order.Totals.Total,
		Currency:   order.Currency,
		OccurredAt: s.clock(),
		Metadata:   metadata,
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "payments.event.publish_failed", map[string]any{
			"tenantId": order.TenantID,
			"orderId":  order.ID,
			"type":     eventType,
			"error":    err.Error(),
		})
	}
}

func (s *paymentService) translateRepoError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPaymentOrderNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
}

func checkoutMetadata(order domain.Order, extra map[string]string) map[string]string {
	metadata := map[string]string{
		"order_id":  order.ID,
		"tenant_id": order.TenantID,
	}
	for k, v := range textutil.NormalizeStringMap(extra) {
		metadata[k] = v
	}
	return metadata
}

func majorToMinor(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

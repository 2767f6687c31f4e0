package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/stackmart/api/internal/platform/httpx"
	"github.com/stackmart/api/internal/services"
)

// Error codes shared across the API surface. Every service failure maps onto
// exactly one of these.
const (
	codeBadRequest         = "bad_request"
	codeNotFound           = "not_found"
	codeForbidden          = "forbidden"
	codeConflict           = "conflict"
	codePaymentError       = "payment_error"
	codeExternalService    = "external_service_error"
	codeDatabaseError      = "database_error"
	codeUnauthenticated    = "unauthenticated"
	codePayloadTooLarge    = "payload_too_large"
	codeServiceUnavailable = "service_unavailable"
)

// writeServiceError translates service sentinel errors into the JSON error
// envelope. Unknown errors surface as a 500 without leaking internals.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, services.ErrCartInvalidInput),
		errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrInventoryInvalidInput),
		errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError(codeBadRequest, err.Error(), http.StatusBadRequest))

	case errors.Is(err, services.ErrCartNotFound),
		errors.Is(err, services.ErrCartProductNotFound),
		errors.Is(err, services.ErrOrderNotFound),
		errors.Is(err, services.ErrPaymentOrderNotFound),
		errors.Is(err, services.ErrInventoryStockNotFound),
		errors.Is(err, services.ErrInventoryAlertNotFound):
		httpx.WriteError(ctx, w, httpx.NewError(codeNotFound, err.Error(), http.StatusNotFound))

	case errors.Is(err, services.ErrOrderInvalidState),
		errors.Is(err, services.ErrPaymentInvalidState),
		errors.Is(err, services.ErrPaymentNotRefundable),
		errors.Is(err, services.ErrInventoryInsufficientStock),
		errors.Is(err, services.ErrInventoryAlertResolved),
		errors.Is(err, services.ErrCartConflict),
		errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError(codeConflict, err.Error(), http.StatusConflict))

	case errors.Is(err, services.ErrPaymentAmountMismatch):
		httpx.WriteError(ctx, w, httpx.NewError(codePaymentError, err.Error(), http.StatusPaymentRequired))

	case errors.Is(err, services.ErrPaymentGateway):
		httpx.WriteError(ctx, w, httpx.NewError(codeExternalService, err.Error(), http.StatusBadGateway))

	case errors.Is(err, services.ErrCartUnavailable),
		errors.Is(err, services.ErrOrderUnavailable),
		errors.Is(err, services.ErrPaymentUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError(codeDatabaseError, "backend unavailable", http.StatusInternalServerError))

	default:
		httpx.WriteError(ctx, w, httpx.NewError(codeDatabaseError, "internal error", http.StatusInternalServerError))
	}
}

func writeUnauthenticated(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError(codeUnauthenticated, "authentication required", http.StatusUnauthorized))
}

func writeForbidden(ctx context.Context, w http.ResponseWriter, message string) {
	if message == "" {
		message = "insufficient permissions"
	}
	httpx.WriteError(ctx, w, httpx.NewError(codeForbidden, message, http.StatusForbidden))
}

func writeBadRequest(ctx context.Context, w http.ResponseWriter, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(codeBadRequest, message, http.StatusBadRequest))
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError(codePayloadTooLarge, "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		writeBadRequest(ctx, w, "request body is required")
	default:
		writeBadRequest(ctx, w, err.Error())
	}
}

func writeServiceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(codeServiceUnavailable, name+" service is unavailable", http.StatusServiceUnavailable))
}

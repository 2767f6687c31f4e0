package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/stackmart/api/internal/platform/auth"
	"github.com/stackmart/api/internal/services"
)

const maxInternalBodySize = 8 * 1024

// InternalHandlers serves trusted service-to-service callbacks. Request
// authenticity is enforced by the HMAC middleware mounted on the group.
type InternalHandlers struct {
	orders services.OrderService
}

// NewInternalHandlers constructs the internal handler group.
func NewInternalHandlers(orders services.OrderService) *InternalHandlers {
	return &InternalHandlers{orders: orders}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/shipping/delivered", h.shippingDelivered)
}

type shippingDeliveredRequest struct {
	TenantID string `json:"tenant_id"`
	OrderID  string `json:"order_id"`
	SKU      string `json:"sku"`
	Carrier  string `json:"carrier"`
}

func (h *InternalHandlers) shippingDelivered(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}

	body, err := readLimitedBody(r, maxInternalBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req shippingDeliveredRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeBadRequest(ctx, w, "invalid JSON payload")
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		writeBadRequest(ctx, w, "order_id is required")
		return
	}
	if strings.TrimSpace(req.SKU) == "" {
		writeBadRequest(ctx, w, "sku is required")
		return
	}

	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		tenantID = strings.TrimSpace(r.Header.Get(tenantHeader))
	}
	if tenantID == "" {
		tenantID = defaultTenantID
	}

	actor := "carrier"
	if carrier := strings.TrimSpace(req.Carrier); carrier != "" {
		actor = "carrier:" + strings.ToLower(carrier)
	} else if meta, ok := auth.HMACMetadataFromContext(ctx); ok {
		actor = "carrier:" + meta.SecretName
	}

	order, err := h.orders.MarkItemDelivered(ctx, services.MarkItemDeliveredCommand{
		TenantID: tenantID,
		OrderID:  strings.TrimSpace(req.OrderID),
		SKU:      strings.TrimSpace(req.SKU),
		ActorID:  actor,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

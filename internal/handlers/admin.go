package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/stackmart/api/internal/domain"
	"github.com/stackmart/api/internal/platform/auth"
	"github.com/stackmart/api/internal/services"
)

const (
	defaultMovementPageSize = 50
	maxMovementPageSize     = 200
	defaultAlertPageSize    = 50
	maxAlertPageSize        = 200
	maxAdminBodySize        = 32 * 1024
)

// AdminHandlers groups the staff-facing refund and inventory endpoints.
type AdminHandlers struct {
	authn     *auth.Authenticator
	inventory services.InventoryService
	payments  services.PaymentService
}

// NewAdminHandlers constructs the admin handler group.
func NewAdminHandlers(authn *auth.Authenticator, inventory services.InventoryService, payments services.PaymentService) *AdminHandlers {
	return &AdminHandlers{
		authn:     authn,
		inventory: inventory,
		payments:  payments,
	}
}

// Routes registers the /admin endpoints. The whole group requires an admin or
// staff role; destructive operations additionally require admin.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin, auth.RoleStaff))
	}
	r.Post("/payments/{orderID}/refund", h.requestRefund)
	r.Get("/inventory/movements", h.listMovements)
	r.Get("/inventory/alerts", h.listAlerts)
	r.Post("/inventory/alerts/{alertID}/resolve", h.resolveAlert)
	r.Post("/inventory/adjust", h.adjustStock)
}

type refundRequest struct {
	Amount *float64 `json:"amount"`
	Reason string   `json:"reason"`
}

func (h *AdminHandlers) requestRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeServiceUnavailable(ctx, w, "payment")
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil {
		writeUnauthenticated(ctx, w)
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		writeBadRequest(ctx, w, "order id is required")
		return
	}

	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req refundRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeBadRequest(ctx, w, "invalid JSON payload")
		return
	}
	if req.Amount != nil && *req.Amount <= 0 {
		writeBadRequest(ctx, w, "amount must be greater than zero")
		return
	}

	order, err := h.payments.RequestRefund(ctx, services.RequestRefundCommand{
		TenantID: resolveTenant(r, identity),
		OrderID:  orderID,
		Amount:   req.Amount,
		Reason:   sanitizeFreeText(req.Reason),
		ActorID:  identity.UID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) listMovements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		writeServiceUnavailable(ctx, w, "inventory")
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil {
		writeUnauthenticated(ctx, w)
		return
	}

	query := r.URL.Query()

	pageSize, err := parseLimitedPageSize(query.Get("page_size"), defaultMovementPageSize, maxMovementPageSize)
	if err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}

	var dateRange domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, parseErr := parseTimeParam(raw)
		if parseErr != nil {
			writeBadRequest(ctx, w, "created_after must be a valid RFC3339 timestamp")
			return
		}
		dateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, parseErr := parseTimeParam(raw)
		if parseErr != nil {
			writeBadRequest(ctx, w, "created_before must be a valid RFC3339 timestamp")
			return
		}
		dateRange.To = &ts
	}

	types := parseFilterValues(query["type"])
	for i, value := range types {
		normalized := strings.ToLower(value)
		if !domain.MovementType(normalized).IsValid() {
			writeBadRequest(ctx, w, "unknown movement type "+normalized)
			return
		}
		types[i] = normalized
	}

	page, err := h.inventory.ListMovements(ctx, services.MovementListFilter{
		TenantID:  resolveTenant(r, identity),
		SKU:       strings.TrimSpace(query.Get("sku")),
		OrderRef:  strings.TrimSpace(query.Get("order_ref")),
		Types:     types,
		DateRange: dateRange,
		Pagination: domain.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	movements := make([]movementPayload, 0, len(page.Items))
	for _, movement := range page.Items {
		movements = append(movements, buildMovementPayload(movement))
	}

	writeJSONResponse(w, http.StatusOK, movementListResponse{
		Movements:     movements,
		NextPageToken: page.NextPageToken,
	})
}

func (h *AdminHandlers) listAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		writeServiceUnavailable(ctx, w, "inventory")
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil {
		writeUnauthenticated(ctx, w)
		return
	}

	query := r.URL.Query()

	pageSize, err := parseLimitedPageSize(query.Get("page_size"), defaultAlertPageSize, maxAlertPageSize)
	if err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}

	// Unresolved alerts are the default view; resolved history is opt-in.
	unresolved := true
	if raw := strings.TrimSpace(query.Get("unresolved")); raw != "" {
		switch strings.ToLower(raw) {
		case "true", "1":
			unresolved = true
		case "false", "0":
			unresolved = false
		default:
			writeBadRequest(ctx, w, "unresolved must be a boolean")
			return
		}
	}

	page, err := h.inventory.ListAlerts(ctx, services.AlertListFilter{
		TenantID:   resolveTenant(r, identity),
		SKU:        strings.TrimSpace(query.Get("sku")),
		Unresolved: unresolved,
		Pagination: domain.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	alerts := make([]alertPayload, 0, len(page.Items))
	for _, alert := range page.Items {
		alerts = append(alerts, buildAlertPayload(alert))
	}

	writeJSONResponse(w, http.StatusOK, alertListResponse{
		Alerts:        alerts,
		NextPageToken: page.NextPageToken,
	})
}

func (h *AdminHandlers) resolveAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		writeServiceUnavailable(ctx, w, "inventory")
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil {
		writeUnauthenticated(ctx, w)
		return
	}

	alertID := strings.TrimSpace(chi.URLParam(r, "alertID"))
	if alertID == "" {
		writeBadRequest(ctx, w, "alert id is required")
		return
	}

	if err := h.inventory.ResolveAlert(ctx, services.ResolveAlertCommand{
		TenantID: resolveTenant(r, identity),
		AlertID:  alertID,
		ActorID:  identity.UID,
	}); err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"resolved": true})
}

type adjustStockRequest struct {
	Lines []adjustLinePayload `json:"lines"`
	Type  string              `json:"type"`
	Note  string              `json:"note"`
}

type adjustLinePayload struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

func (h *AdminHandlers) adjustStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		writeServiceUnavailable(ctx, w, "inventory")
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil {
		writeUnauthenticated(ctx, w)
		return
	}
	if !identity.HasRole(auth.RoleAdmin) {
		writeForbidden(ctx, w, "stock adjustments require the admin role")
		return
	}

	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req adjustStockRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeBadRequest(ctx, w, "invalid JSON payload")
		return
	}
	if len(req.Lines) == 0 {
		writeBadRequest(ctx, w, "at least one line is required")
		return
	}

	movementType := domain.MovementAdjustment
	if raw := strings.ToLower(strings.TrimSpace(req.Type)); raw != "" {
		movementType = domain.MovementType(raw)
		if !movementType.IsValid() {
			writeBadRequest(ctx, w, "unknown movement type "+raw)
			return
		}
		if movementType == domain.MovementSale {
			writeBadRequest(ctx, w, "sale movements are reserved for order placement")
			return
		}
	}

	lines := make([]services.MovementLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		if strings.TrimSpace(line.SKU) == "" {
			writeBadRequest(ctx, w, "every line requires a sku")
			return
		}
		lines = append(lines, services.MovementLine{
			SKU:      strings.TrimSpace(line.SKU),
			Quantity: line.Quantity,
		})
	}

	movements, err := h.inventory.RecordMovement(ctx, services.RecordMovementCommand{
		TenantID: resolveTenant(r, identity),
		Lines:    lines,
		Type:     movementType,
		ActorID:  identity.UID,
		Note:     sanitizeFreeText(req.Note),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	payload := make([]movementPayload, 0, len(movements))
	for _, movement := range movements {
		payload = append(payload, buildMovementPayload(movement))
	}

	writeJSONResponse(w, http.StatusOK, movementListResponse{Movements: payload})
}

type movementListResponse struct {
	Movements     []movementPayload `json:"movements"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

type movementPayload struct {
	ID            string  `json:"id"`
	SKU           string  `json:"sku"`
	ProductRef    string  `json:"product_ref,omitempty"`
	Type          string  `json:"type"`
	Quantity      int     `json:"quantity"`
	PreviousStock int     `json:"previous_stock"`
	NewStock      int     `json:"new_stock"`
	OrderRef      *string `json:"order_ref,omitempty"`
	Actor         string  `json:"actor,omitempty"`
	Note          string  `json:"note,omitempty"`
	CreatedAt     string  `json:"created_at,omitempty"`
}

func buildMovementPayload(movement services.InventoryMovement) movementPayload {
	return movementPayload{
		ID:            movement.ID,
		SKU:           movement.SKU,
		ProductRef:    movement.ProductRef,
		Type:          string(movement.Type),
		Quantity:      movement.Quantity,
		PreviousStock: movement.PreviousStock,
		NewStock:      movement.NewStock,
		OrderRef:      cloneStringPointer(movement.OrderRef),
		Actor:         movement.Actor,
		Note:          movement.Note,
		CreatedAt:     formatTime(movement.CreatedAt),
	}
}

type alertListResponse struct {
	Alerts        []alertPayload `json:"alerts"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type alertPayload struct {
	ID         string `json:"id"`
	SKU        string `json:"sku"`
	ProductRef string `json:"product_ref,omitempty"`
	Type       string `json:"type"`
	Stock      int    `json:"stock"`
	Threshold  int    `json:"threshold"`
	Resolved   bool   `json:"resolved"`
	ResolvedAt string `json:"resolved_at,omitempty"`
	ResolvedBy string `json:"resolved_by,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
}

func buildAlertPayload(alert services.StockAlert) alertPayload {
	payload := alertPayload{
		ID:         alert.ID,
		SKU:        alert.SKU,
		ProductRef: alert.ProductRef,
		Type:       string(alert.Type),
		Stock:      alert.Stock,
		Threshold:  alert.Threshold,
		Resolved:   alert.Resolved,
		ResolvedAt: formatTimePointer(alert.ResolvedAt),
		CreatedAt:  formatTime(alert.CreatedAt),
	}
	if alert.ResolvedBy != nil {
		payload.ResolvedBy = *alert.ResolvedBy
	}
	return payload
}

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/stackmart/api/internal/platform/auth"
	"github.com/stackmart/api/internal/services"
)

const maxCartBodySize = 16 * 1024

// CartHandlers exposes authenticated cart endpoints for the current user.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

// NewCartHandlers constructs handlers enforcing Firebase authentication before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Patch("/", h.patchCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{itemID}", h.updateItem)
	r.Delete("/items/{itemID}", h.removeItem)
	r.Post("/discount", h.applyDiscount)
	r.Delete("/discount", h.removeDiscount)
}

func (h *CartHandlers) scope(r *http.Request) (services.CartScope, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		return services.CartScope{}, false
	}
	return services.CartScope{
		TenantID: resolveTenant(r, identity),
		OwnerID:  identity.UID,
	}, true
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeServiceUnavailable(ctx, w, "cart")
		return
	}

	scope, ok := h.scope(r)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}

	if code := strings.TrimSpace(r.URL.Query().Get("currency")); code != "" {
		if !validCurrencyCode(code) {
			writeBadRequest(ctx, w, fmt.Sprintf("currency %q is not a valid ISO 4217 code", code))
			return
		}
		scope.Currency = strings.ToUpper(code)
	}

	cart, err := h.carts.GetOrCreateCart(ctx, scope)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

type addCartItemRequest struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeServiceUnavailable(ctx, w, "cart")
		return
	}

	scope, ok := h.scope(r)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req addCartItemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeBadRequest(ctx, w, "invalid JSON payload")
		return
	}
	if strings.TrimSpace(req.SKU) == "" {
		writeBadRequest(ctx, w, "sku is required")
		return
	}
	if req.Quantity <= 0 {
		writeBadRequest(ctx, w, "quantity must be a positive integer")
		return
	}

	cart, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		Scope:    scope,
		SKU:      strings.TrimSpace(req.SKU),
		Quantity: req.Quantity,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

type updateCartItemRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeServiceUnavailable(ctx, w, "cart")
		return
	}

	scope, ok := h.scope(r)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}

	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	if itemID == "" {
		writeBadRequest(ctx, w, "item id is required")
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req updateCartItemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeBadRequest(ctx, w, "invalid JSON payload")
		return
	}
	if req.Quantity == nil {
		writeBadRequest(ctx, w, "quantity is required")
		return
	}

	cart, err := h.carts.UpdateItemQuantity(ctx, services.UpdateCartItemCommand{
		Scope:    scope,
		ItemID:   itemID,
		Quantity: *req.Quantity,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeServiceUnavailable(ctx, w, "cart")
		return
	}

	scope, ok := h.scope(r)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}

	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	if itemID == "" {
		writeBadRequest(ctx, w, "item id is required")
		return
	}

	cart, err := h.carts.RemoveItem(ctx, services.RemoveCartItemCommand{Scope: scope, ItemID: itemID})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

type applyDiscountRequest struct {
	Code   string  `json:"code"`
	Amount float64 `json:"amount"`
}

func (h *CartHandlers) applyDiscount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeServiceUnavailable(ctx, w, "cart")
		return
	}

	scope, ok := h.scope(r)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req applyDiscountRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeBadRequest(ctx, w, "invalid JSON payload")
		return
	}

	cart, err := h.carts.ApplyDiscount(ctx, services.ApplyCartDiscountCommand{
		Scope:  scope,
		Code:   strings.TrimSpace(req.Code),
		Amount: req.Amount,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) removeDiscount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeServiceUnavailable(ctx, w, "cart")
		return
	}

	scope, ok := h.scope(r)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}

	cart, err := h.carts.RemoveDiscount(ctx, scope)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeServiceUnavailable(ctx, w, "cart")
		return
	}

	scope, ok := h.scope(r)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}

	if err := h.carts.ClearCart(ctx, scope); err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) patchCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeServiceUnavailable(ctx, w, "cart")
		return
	}

	scope, ok := h.scope(r)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cmd, err := parseSetShippingRequest(body)
	if err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}
	cmd.Scope = scope

	cart, err := h.carts.SetShipping(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func parseSetShippingRequest(body []byte) (services.SetCartShippingCommand, error) {
	var cmd services.SetCartShippingCommand

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return cmd, errors.New("invalid JSON payload")
	}

	touched := false
	for key, value := range raw {
		switch key {
		case "shipping_fee":
			var fee float64
			if err := json.Unmarshal(value, &fee); err != nil {
				return cmd, errors.New("shipping_fee must be a number")
			}
			cmd.ShippingFee = &fee
			touched = true
		case "tax_rate":
			var rate float64
			if err := json.Unmarshal(value, &rate); err != nil {
				return cmd, errors.New("tax_rate must be a number")
			}
			cmd.TaxRate = &rate
			touched = true
		case "shipping_address":
			if isJSONNull(value) {
				return cmd, errors.New("shipping_address must be an object")
			}
			var payload addressPayload
			if err := json.Unmarshal(value, &payload); err != nil {
				return cmd, errors.New("shipping_address must be an object")
			}
			addr, err := payload.toDomain()
			if err != nil {
				return cmd, err
			}
			cmd.ShippingAddress = &addr
			touched = true
		case "billing_address":
			if isJSONNull(value) {
				return cmd, errors.New("billing_address must be an object")
			}
			var payload addressPayload
			if err := json.Unmarshal(value, &payload); err != nil {
				return cmd, errors.New("billing_address must be an object")
			}
			addr, err := payload.toDomain()
			if err != nil {
				return cmd, err
			}
			cmd.BillingAddress = &addr
			touched = true
		default:
			return cmd, fmt.Errorf("field %q is not editable", key)
		}
	}

	if !touched {
		return cmd, errNoEditableFields
	}
	return cmd, nil
}

func setCartResponseHeaders(w http.ResponseWriter, cart services.Cart) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	if !cart.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", cart.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	if etag := buildCartETag(cart); etag != "" {
		w.Header().Set("ETag", etag)
	}
}

func buildCartETag(cart services.Cart) string {
	if strings.TrimSpace(cart.ID) == "" || cart.UpdatedAt.IsZero() {
		return ""
	}
	input := fmt.Sprintf("%s:%d", strings.TrimSpace(cart.ID), cart.UpdatedAt.UTC().UnixNano())
	sum := sha256.Sum256([]byte(input))
	token := hex.EncodeToString(sum[:8])
	return fmt.Sprintf(`W/"%s"`, token)
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartPayload struct {
	ID              string               `json:"id"`
	OwnerID         string               `json:"owner_id"`
	Currency        string               `json:"currency"`
	ItemsCount      int                  `json:"items_count"`
	Items           []cartItemPayload    `json:"items"`
	Discount        *cartDiscountPayload `json:"discount,omitempty"`
	Totals          cartTotalsPayload    `json:"totals"`
	TaxRate         float64              `json:"tax_rate"`
	ShippingFee     float64              `json:"shipping_fee"`
	ShippingAddress *addressPayload      `json:"shipping_address,omitempty"`
	BillingAddress  *addressPayload      `json:"billing_address,omitempty"`
	Metadata        map[string]any       `json:"metadata,omitempty"`
	ExpiresAt       string               `json:"expires_at,omitempty"`
	UpdatedAt       string               `json:"updated_at,omitempty"`
}

type cartDiscountPayload struct {
	Code      string  `json:"code"`
	Amount    float64 `json:"amount"`
	AppliedAt string  `json:"applied_at,omitempty"`
}

type cartTotalsPayload struct {
	Subtotal float64 `json:"subtotal"`
	Discount float64 `json:"discount"`
	Tax      float64 `json:"tax"`
	Shipping float64 `json:"shipping"`
	Total    float64 `json:"total"`
}

type cartItemPayload struct {
	ID         string  `json:"id"`
	ProductRef string  `json:"product_ref"`
	SKU        string  `json:"sku"`
	Name       string  `json:"name"`
	UnitPrice  float64 `json:"unit_price"`
	Quantity   int     `json:"quantity"`
	AddedAt    string  `json:"added_at,omitempty"`
	UpdatedAt  string  `json:"updated_at,omitempty"`
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		ID:          strings.TrimSpace(cart.ID),
		OwnerID:     strings.TrimSpace(cart.OwnerID),
		Currency:    strings.ToUpper(strings.TrimSpace(cart.Currency)),
		ItemsCount:  cart.ItemCount,
		Items:       buildCartItems(cart.Items),
		TaxRate:     cart.TaxRate,
		ShippingFee: cart.ShippingFee,
		Totals: cartTotalsPayload{
			Subtotal: cart.Totals.Subtotal,
			Discount: cart.Totals.Discount,
			Tax:      cart.Totals.Tax,
			Shipping: cart.Totals.Shipping,
			Total:    cart.Totals.Total,
		},
		Metadata: cloneMap(cart.Metadata),
	}

	if cart.Discount != nil {
		payload.Discount = &cartDiscountPayload{
			Code:      cart.Discount.Code,
			Amount:    cart.Discount.Amount,
			AppliedAt: formatTime(cart.Discount.AppliedAt),
		}
	}
	if cart.ShippingAddress != nil {
		addr := buildAddressPayload(*cart.ShippingAddress)
		payload.ShippingAddress = &addr
	}
	if cart.BillingAddress != nil {
		addr := buildAddressPayload(*cart.BillingAddress)
		payload.BillingAddress = &addr
	}
	if cart.ExpiresAt != nil {
		payload.ExpiresAt = formatTimePointer(cart.ExpiresAt)
	}
	if !cart.UpdatedAt.IsZero() {
		payload.UpdatedAt = formatTime(cart.UpdatedAt)
	}

	return payload
}

func buildCartItems(items []services.CartItem) []cartItemPayload {
	if len(items) == 0 {
		return []cartItemPayload{}
	}

	payload := make([]cartItemPayload, 0, len(items))
	for _, item := range items {
		entry := cartItemPayload{
			ID:         strings.TrimSpace(item.ID),
			ProductRef: strings.TrimSpace(item.ProductRef),
			SKU:        strings.TrimSpace(item.SKU),
			Name:       item.Name,
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
		}
		if !item.AddedAt.IsZero() {
			entry.AddedAt = formatTime(item.AddedAt)
		}
		if item.UpdatedAt != nil && !item.UpdatedAt.IsZero() {
			entry.UpdatedAt = formatTime(*item.UpdatedAt)
		}
		payload = append(payload, entry)
	}
	return payload
}

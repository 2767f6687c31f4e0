package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/stackmart/api/internal/domain"
	"github.com/stackmart/api/internal/repositories"
)

var (
	errCartRepositoryRequired = errors.New("cart service: repository is required")
	errCartProductsRequired   = errors.New("cart service: product repository is required")
	errCartClockRequired      = errors.New("cart service: clock is required")
)

const (
	maxCartItemQuantity    = 999
	maxCartDiscountCodeLen = 64
	defaultGuestCartTTL    = 7 * 24 * time.Hour
)

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due to missing dependencies or backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartNotFound indicates the requested cart or cart item does not exist.
var ErrCartNotFound = errors.New("cart service: not found")

// ErrCartProductNotFound indicates the referenced product does not exist or is inactive.
var ErrCartProductNotFound = errors.New("cart service: product not found")

// ErrCartConflict indicates the cart could not be updated due to concurrent modifications.
var ErrCartConflict = errors.New("cart service: conflict")

// CartServiceDeps wires the repository and catalog dependencies for cart operations.
type CartServiceDeps struct {
	Repository      repositories.CartRepository
	Products        repositories.ProductRepository
	Clock           func() time.Time
	DefaultCurrency string
	DefaultTaxRate  float64
	GuestCartTTL    time.Duration
	Logger          func(context.Context, string, map[string]any)
	IDGenerator     func() string
}

type cartService struct {
	repo     repositories.CartRepository
	products repositories.ProductRepository
	newID    func() string
	now      func() time.Time
	currency string
	taxRate  float64
	guestTTL time.Duration
	logger   func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Products == nil {
		return nil, errCartProductsRequired
	}
	if deps.Clock == nil {
		return nil, errCartClockRequired
	}

	defaultCurrency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}

	guestTTL := deps.GuestCartTTL
	if guestTTL <= 0 {
		guestTTL = defaultGuestCartTTL
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	service := &cartService{
		repo:     deps.Repository,
		products: deps.Products,
		newID:    idGen,
		now:      func() time.Time { return deps.Clock().UTC() },
		currency: defaultCurrency,
		taxRate:  deps.DefaultTaxRate,
		guestTTL: guestTTL,
		logger:   logger,
	}
	return service, nil
}

// GetOrCreateCart loads the active cart for the owner, creating a new cart when absent.
func (s *cartService) GetOrCreateCart(ctx context.Context, cmd CartScope) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	scope, err := s.normaliseScope(cmd)
	if err != nil {
		return Cart{}, err
	}

	cart, err := s.repo.GetCart(ctx, scope.TenantID, scope.OwnerID)
	if err != nil {
		if !isRepoNotFound(err) {
			return Cart{}, s.translateRepoError(err)
		}
		created := s.newCart(scope)
		if _, err := s.repo.UpsertCart(ctx, created); err != nil {
			return Cart{}, s.translateRepoError(err)
		}
		return created, nil
	}

	if s.cartExpired(cart) {
		replacement := s.newCart(scope)
		if _, err := s.repo.UpsertCart(ctx, replacement); err != nil {
			return Cart{}, s.translateRepoError(err)
		}
		s.logger(ctx, "cart.expired_replaced", map[string]any{
			"tenantID": scope.TenantID,
			"ownerID":  scope.OwnerID,
		})
		return replacement, nil
	}

	return s.recalculate(cart), nil
}

// AddItem adds a product line to the cart, merging quantities when the SKU is already present.
func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	scope, err := s.normaliseScope(cmd.Scope)
	if err != nil {
		return Cart{}, err
	}

	sku := strings.TrimSpace(cmd.SKU)
	if sku == "" {
		return Cart{}, fmt.Errorf("%w: sku is required", ErrCartInvalidInput)
	}
	if cmd.Quantity <= 0 || cmd.Quantity > maxCartItemQuantity {
		return Cart{}, fmt.Errorf("%w: quantity must be between 1 and %d", ErrCartInvalidInput, maxCartItemQuantity)
	}

	product, err := s.products.FindBySKU(ctx, scope.TenantID, sku)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, ErrCartProductNotFound
		}
		return Cart{}, s.translateRepoError(err)
	}
	if !product.Active {
		return Cart{}, fmt.Errorf("%w: product %s is not available", ErrCartProductNotFound, sku)
	}

	cart, err := s.loadOrNewCart(ctx, scope)
	if err != nil {
		return Cart{}, err
	}

	now := s.now()
	merged := false
	for i := range cart.Items {
		if cart.Items[i].SKU != sku {
			continue
		}
		next := cart.Items[i].Quantity + cmd.Quantity
		if next > maxCartItemQuantity {
			return Cart{}, fmt.Errorf("%w: quantity must be between 1 and %d", ErrCartInvalidInput, maxCartItemQuantity)
		}
		cart.Items[i].Quantity = next
		cart.Items[i].UnitPrice = product.UnitPrice
		cart.Items[i].Name = product.Name
		updated := now
		cart.Items[i].UpdatedAt = &updated
		merged = true
		break
	}
	if !merged {
		cart.Items = append(cart.Items, CartItem{
			ID:         s.newID(),
			ProductRef: product.ID,
			SKU:        sku,
			Name:       product.Name,
			UnitPrice:  product.UnitPrice,
			Quantity:   cmd.Quantity,
			AddedAt:    now,
		})
	}

	return s.saveCart(ctx, cart)
}

// UpdateItemQuantity replaces the quantity of an existing line.
func (s *cartService) UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	scope, err := s.normaliseScope(cmd.Scope)
	if err != nil {
		return Cart{}, err
	}
	itemID := strings.TrimSpace(cmd.ItemID)
	if itemID == "" {
		return Cart{}, fmt.Errorf("%w: item id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity < 0 || cmd.Quantity > maxCartItemQuantity {
		return Cart{}, fmt.Errorf("%w: quantity must be between 0 and %d", ErrCartInvalidInput, maxCartItemQuantity)
	}

	cart, err := s.repo.GetCart(ctx, scope.TenantID, scope.OwnerID)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}

	idx := -1
	for i := range cart.Items {
		if cart.Items[i].ID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Cart{}, ErrCartNotFound
	}

	if cmd.Quantity == 0 {
		cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
	} else {
		cart.Items[idx].Quantity = cmd.Quantity
		updated := s.now()
		cart.Items[idx].UpdatedAt = &updated
	}

	return s.saveCart(ctx, cart)
}

// RemoveItem deletes a line from the cart.
func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	scope, err := s.normaliseScope(cmd.Scope)
	if err != nil {
		return Cart{}, err
	}
	itemID := strings.TrimSpace(cmd.ItemID)
	if itemID == "" {
		return Cart{}, fmt.Errorf("%w: item id is required", ErrCartInvalidInput)
	}

	cart, err := s.repo.GetCart(ctx, scope.TenantID, scope.OwnerID)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}

	filtered := cart.Items[:0]
	removed := false
	for _, item := range cart.Items {
		if item.ID == itemID {
			removed = true
			continue
		}
		filtered = append(filtered, item)
	}
	if !removed {
		return Cart{}, ErrCartNotFound
	}
	cart.Items = filtered

	return s.saveCart(ctx, cart)
}

// ApplyDiscount attaches a fixed-amount discount to the cart.
func (s *cartService) ApplyDiscount(ctx context.Context, cmd ApplyCartDiscountCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	scope, err := s.normaliseScope(cmd.Scope)
	if err != nil {
		return Cart{}, err
	}
	code := strings.TrimSpace(cmd.Code)
	if code == "" || len(code) > maxCartDiscountCodeLen {
		return Cart{}, fmt.Errorf("%w: discount code is required", ErrCartInvalidInput)
	}
	if cmd.Amount < 0 {
		return Cart{}, fmt.Errorf("%w: discount amount must not be negative", ErrCartInvalidInput)
	}

	cart, err := s.repo.GetCart(ctx, scope.TenantID, scope.OwnerID)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}

	cart.Discount = &CartDiscount{
		Code:      code,
		Amount:    domain.Round2(cmd.Amount),
		AppliedAt: s.now(),
	}

	return s.saveCart(ctx, cart)
}

// RemoveDiscount clears any discount from the cart.
func (s *cartService) RemoveDiscount(ctx context.Context, cmd CartScope) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	scope, err := s.normaliseScope(cmd)
	if err != nil {
		return Cart{}, err
	}

	cart, err := s.repo.GetCart(ctx, scope.TenantID, scope.OwnerID)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}

	cart.Discount = nil

	return s.saveCart(ctx, cart)
}

// SetShipping updates shipping fee, tax rate, and addresses on the cart.
func (s *cartService) SetShipping(ctx context.Context, cmd SetCartShippingCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	scope, err := s.normaliseScope(cmd.Scope)
	if err != nil {
		return Cart{}, err
	}
	if cmd.ShippingFee == nil && cmd.TaxRate == nil && cmd.ShippingAddress == nil && cmd.BillingAddress == nil {
		return Cart{}, ErrCartInvalidInput
	}
	if cmd.ShippingFee != nil && *cmd.ShippingFee < 0 {
		return Cart{}, fmt.Errorf("%w: shipping fee must not be negative", ErrCartInvalidInput)
	}
	if cmd.TaxRate != nil && (*cmd.TaxRate < 0 || *cmd.TaxRate > 1) {
		return Cart{}, fmt.Errorf("%w: tax rate must be between 0 and 1", ErrCartInvalidInput)
	}

	cart, err := s.repo.GetCart(ctx, scope.TenantID, scope.OwnerID)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}

	if cmd.ShippingFee != nil {
		cart.ShippingFee = domain.Round2(*cmd.ShippingFee)
	}
	if cmd.TaxRate != nil {
		cart.TaxRate = *cmd.TaxRate
	}
	if cmd.ShippingAddress != nil {
		addr := *cmd.ShippingAddress
		cart.ShippingAddress = &addr
	}
	if cmd.BillingAddress != nil {
		addr := *cmd.BillingAddress
		cart.BillingAddress = &addr
	}

	return s.saveCart(ctx, cart)
}

// ClearCart removes the cart entirely. Clearing an absent cart is a no-op.
func (s *cartService) ClearCart(ctx context.Context, cmd CartScope) error {
	if s == nil || s.repo == nil {
		return ErrCartUnavailable
	}

	scope, err := s.normaliseScope(cmd)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteCart(ctx, scope.TenantID, scope.OwnerID); err != nil {
		if isRepoNotFound(err) {
			return nil
		}
		return s.translateRepoError(err)
	}
	return nil
}

func (s *cartService) normaliseScope(scope CartScope) (CartScope, error) {
	scope.TenantID = strings.TrimSpace(scope.TenantID)
	scope.OwnerID = strings.TrimSpace(scope.OwnerID)
	if scope.TenantID == "" {
		return CartScope{}, fmt.Errorf("%w: tenant id is required", ErrCartInvalidInput)
	}
	if scope.OwnerID == "" {
		return CartScope{}, fmt.Errorf("%w: owner id is required", ErrCartInvalidInput)
	}
	scope.Currency = strings.ToUpper(strings.TrimSpace(scope.Currency))
	if scope.Currency == "" {
		scope.Currency = s.currency
	}
	return scope, nil
}

func (s *cartService) newCart(scope CartScope) domain.Cart {
	now := s.now()
	cart := domain.Cart{
		TenantID:       scope.TenantID,
		OwnerID:        scope.OwnerID,
		Guest:          scope.Guest,
		Currency:       scope.Currency,
		Items:          []CartItem{},
		TaxRate:        s.taxRate,
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if scope.Guest {
		expires := now.Add(s.guestTTL)
		cart.ExpiresAt = &expires
	}
	return cart
}

func (s *cartService) loadOrNewCart(ctx context.Context, scope CartScope) (domain.Cart, error) {
	cart, err := s.repo.GetCart(ctx, scope.TenantID, scope.OwnerID)
	if err != nil {
		if isRepoNotFound(err) {
			return s.newCart(scope), nil
		}
		return domain.Cart{}, s.translateRepoError(err)
	}
	if s.cartExpired(cart) {
		return s.newCart(scope), nil
	}
	return cart, nil
}

func (s *cartService) cartExpired(cart domain.Cart) bool {
	return cart.ExpiresAt != nil && !cart.ExpiresAt.After(s.now())
}

func (s *cartService) saveCart(ctx context.Context, cart domain.Cart) (Cart, error) {
	cart = s.recalculate(cart)
	now := s.now()
	cart.LastActivityAt = now
	cart.UpdatedAt = now
	if cart.Guest {
		expires := now.Add(s.guestTTL)
		cart.ExpiresAt = &expires
	}

	if _, err := s.repo.UpsertCart(ctx, cart); err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return cart, nil
}

func (s *cartService) recalculate(cart domain.Cart) domain.Cart {
	discount := 0.0
	if cart.Discount != nil {
		discount = cart.Discount.Amount
	}
	cart.Totals = domain.ComputeTotals(cart.Items, discount, cart.TaxRate, cart.ShippingFee)
	cart.ItemCount = domain.CountItems(cart.Items)
	return cart
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCartNotFound
		case repoErr.IsConflict():
			return ErrCartConflict
		case repoErr.IsUnavailable():
			return ErrCartUnavailable
		}
		return ErrCartUnavailable
	}
	return ErrCartUnavailable
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/stackmart/api/internal/domain"
	pfirestore "github.com/stackmart/api/internal/platform/firestore"
	"github.com/stackmart/api/internal/repositories"
)

const cartCollection = "carts"

// CartRepository persists one cart document per tenant + owner.
type CartRepository struct {
	base     *pfirestore.BaseRepository[cartDocument]
	provider *pfirestore.Provider
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil, nil)
	return &CartRepository{base: base, provider: provider}, nil
}

// UpsertCart writes the full cart document keyed by tenant + owner.
func (r *CartRepository) UpsertCart(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}

	tenantID := strings.TrimSpace(cart.TenantID)
	ownerID := strings.TrimSpace(cart.OwnerID)
	if tenantID == "" || ownerID == "" {
		return domain.Cart{}, errors.New("cart repository: tenant id and owner id are required")
	}

	now := time.Now().UTC()
	if !cart.UpdatedAt.IsZero() {
		now = cart.UpdatedAt.UTC()
	}
	createdAt := cart.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}

	doc := newCartDocument(cart)
	doc.CreatedAt = createdAt
	doc.UpdatedAt = now

	result, err := r.base.Set(ctx, cartDocID(tenantID, ownerID), doc)
	if err != nil {
		return domain.Cart{}, err
	}

	saved := doc.toDomain(cartDocID(tenantID, ownerID))
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// GetCart loads the cart for the given tenant and owner.
func (r *CartRepository) GetCart(ctx context.Context, tenantID, ownerID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	tenantID = strings.TrimSpace(tenantID)
	ownerID = strings.TrimSpace(ownerID)
	if tenantID == "" || ownerID == "" {
		return domain.Cart{}, errors.New("cart repository: tenant id and owner id are required")
	}

	doc, err := r.base.Get(ctx, cartDocID(tenantID, ownerID))
	if err != nil {
		return domain.Cart{}, err
	}

	cart := doc.Data.toDomain(doc.ID)
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = doc.UpdateTime
	}
	return cart, nil
}

// DeleteCart removes the cart document after order creation.
func (r *CartRepository) DeleteCart(ctx context.Context, tenantID, ownerID string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	tenantID = strings.TrimSpace(tenantID)
	ownerID = strings.TrimSpace(ownerID)
	if tenantID == "" || ownerID == "" {
		return errors.New("cart repository: tenant id and owner id are required")
	}

	ref, err := r.base.DocumentRef(ctx, cartDocID(tenantID, ownerID))
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("carts.delete", err)
	}
	return nil
}

func cartDocID(tenantID, ownerID string) string {
	return tenantID + "__" + ownerID
}

type cartDocument struct {
	TenantID        string             `firestore:"tenantId"`
	OwnerID         string             `firestore:"ownerId"`
	Guest           bool               `firestore:"guest"`
	Currency        string             `firestore:"currency"`
	Items           []cartItemDocument `firestore:"items"`
	Discount        *cartDiscountDoc   `firestore:"discount,omitempty"`
	TaxRate         float64            `firestore:"taxRate"`
	ShippingFee     float64            `firestore:"shippingFee"`
	Totals          cartTotalsDocument `firestore:"totals"`
	ItemCount       int                `firestore:"itemCount"`
	ShippingAddress *addressDocument   `firestore:"shippingAddress,omitempty"`
	BillingAddress  *addressDocument   `firestore:"billingAddress,omitempty"`
	Metadata        map[string]any     `firestore:"metadata,omitempty"`
	LastActivityAt  time.Time          `firestore:"lastActivityAt"`
	ExpiresAt       *time.Time         `firestore:"expiresAt,omitempty"`
	CreatedAt       time.Time          `firestore:"createdAt"`
	UpdatedAt       time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ID         string     `firestore:"id"`
	ProductRef string     `firestore:"productRef"`
	SKU        string     `firestore:"sku"`
	Name       string     `firestore:"name"`
	UnitPrice  float64    `firestore:"unitPrice"`
	Quantity   int        `firestore:"quantity"`
	AddedAt    time.Time  `firestore:"addedAt"`
	UpdatedAt  *time.Time `firestore:"updatedAt,omitempty"`
}

type cartDiscountDoc struct {
	Code      string    `firestore:"code"`
	Amount    float64   `firestore:"amount"`
	AppliedAt time.Time `firestore:"appliedAt"`
}

type cartTotalsDocument struct {
	Subtotal float64 `firestore:"subtotal"`
	Discount float64 `firestore:"discount"`
	Tax      float64 `firestore:"tax"`
	Shipping float64 `firestore:"shipping"`
	Total    float64 `firestore:"total"`
}

type addressDocument struct {
	Recipient  string  `firestore:"recipient"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city"`
	State      *string `firestore:"state,omitempty"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
	Phone      *string `firestore:"phone,omitempty"`
}

func newCartDocument(cart domain.Cart) cartDocument {
	items := make([]cartItemDocument, len(cart.Items))
	for i, item := range cart.Items {
		items[i] = cartItemDocument{
			ID:         item.ID,
			ProductRef: item.ProductRef,
			SKU:        item.SKU,
			Name:       item.Name,
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			AddedAt:    item.AddedAt.UTC(),
			UpdatedAt:  item.UpdatedAt,
		}
	}
	doc := cartDocument{
		TenantID:       strings.TrimSpace(cart.TenantID),
		OwnerID:        strings.TrimSpace(cart.OwnerID),
		Guest:          cart.Guest,
		Currency:       strings.ToUpper(strings.TrimSpace(cart.Currency)),
		Items:          items,
		TaxRate:        cart.TaxRate,
		ShippingFee:    cart.ShippingFee,
		Totals:         cartTotalsDocument(cart.Totals),
		ItemCount:      cart.ItemCount,
		Metadata:       cloneAnyMap(cart.Metadata),
		LastActivityAt: cart.LastActivityAt.UTC(),
		ExpiresAt:      cart.ExpiresAt,
	}
	if cart.Discount != nil {
		doc.Discount = &cartDiscountDoc{
			Code:      strings.TrimSpace(cart.Discount.Code),
			Amount:    cart.Discount.Amount,
			AppliedAt: cart.Discount.AppliedAt.UTC(),
		}
	}
	doc.ShippingAddress = newAddressDocument(cart.ShippingAddress)
	doc.BillingAddress = newAddressDocument(cart.BillingAddress)
	return doc
}

func (d cartDocument) toDomain(id string) domain.Cart {
	items := make([]domain.CartItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.CartItem{
			ID:         item.ID,
			ProductRef: item.ProductRef,
			SKU:        item.SKU,
			Name:       item.Name,
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			AddedAt:    item.AddedAt,
			UpdatedAt:  item.UpdatedAt,
		}
	}
	cart := domain.Cart{
		ID:             id,
		TenantID:       d.TenantID,
		OwnerID:        d.OwnerID,
		Guest:          d.Guest,
		Currency:       strings.ToUpper(strings.TrimSpace(d.Currency)),
		Items:          items,
		TaxRate:        d.TaxRate,
		ShippingFee:    d.ShippingFee,
		Totals:         domain.CartTotals(d.Totals),
		ItemCount:      d.ItemCount,
		Metadata:       cloneAnyMap(d.Metadata),
		LastActivityAt: d.LastActivityAt,
		ExpiresAt:      d.ExpiresAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
	if d.Discount != nil {
		cart.Discount = &domain.CartDiscount{
			Code:      d.Discount.Code,
			Amount:    d.Discount.Amount,
			AppliedAt: d.Discount.AppliedAt,
		}
	}
	cart.ShippingAddress = d.ShippingAddress.toDomain()
	cart.BillingAddress = d.BillingAddress.toDomain()
	return cart
}

func newAddressDocument(addr *domain.Address) *addressDocument {
	if addr == nil {
		return nil
	}
	doc := addressDocument(*addr)
	return &doc
}

func (d *addressDocument) toDomain() *domain.Address {
	if d == nil {
		return nil
	}
	addr := domain.Address(*d)
	return &addr
}

func cloneAnyMap(values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

var _ repositories.CartRepository = (*CartRepository)(nil)

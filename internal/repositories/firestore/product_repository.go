package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/stackmart/api/internal/domain"
	pfirestore "github.com/stackmart/api/internal/platform/firestore"
	"github.com/stackmart/api/internal/repositories"
)

const productCollection = "products"

// ProductRepository reads the catalog projection synced by the catalog
// service. Documents are keyed by tenant + SKU.
type ProductRepository struct {
	base     *pfirestore.BaseRepository[productDocument]
	provider *pfirestore.Provider
}

// NewProductRepository constructs a Firestore-backed product reader.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil, nil)
	return &ProductRepository{base: base, provider: provider}, nil
}

// FindBySKU loads one product projection.
func (r *ProductRepository) FindBySKU(ctx context.Context, tenantID, sku string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	tenantID = strings.TrimSpace(tenantID)
	sku = strings.TrimSpace(sku)
	if tenantID == "" || sku == "" {
		return domain.Product{}, errors.New("product repository: tenant id and sku are required")
	}

	doc, err := r.base.Get(ctx, productDocID(tenantID, sku))
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindBySKUs batch-loads product projections, keyed by SKU. Missing SKUs are
// simply absent from the result; callers decide whether that is an error.
func (r *ProductRepository) FindBySKUs(ctx context.Context, tenantID string, skus []string) (map[string]domain.Product, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("product repository not initialised")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, errors.New("product repository: tenant id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, pfirestore.WrapError("products.batchGet", err)
	}

	refs := make([]*firestore.DocumentRef, 0, len(skus))
	for _, sku := range skus {
		trimmed := strings.TrimSpace(sku)
		if trimmed == "" {
			continue
		}
		refs = append(refs, client.Collection(productCollection).Doc(productDocID(tenantID, trimmed)))
	}
	if len(refs) == 0 {
		return map[string]domain.Product{}, nil
	}

	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("products.batchGet", err)
	}

	products := make(map[string]domain.Product, len(snaps))
	for _, snap := range snaps {
		if snap == nil || !snap.Exists() {
			continue
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		product := doc.toDomain(snap.Ref.ID)
		products[product.SKU] = product
	}
	return products, nil
}

func productDocID(tenantID, sku string) string {
	return tenantID + "__" + sku
}

type productDocument struct {
	TenantID  string    `firestore:"tenantId"`
	SKU       string    `firestore:"sku"`
	Name      string    `firestore:"name"`
	UnitPrice float64   `firestore:"unitPrice"`
	Currency  string    `firestore:"currency"`
	Active    bool      `firestore:"active"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:        id,
		TenantID:  d.TenantID,
		SKU:       d.SKU,
		Name:      d.Name,
		UnitPrice: d.UnitPrice,
		Currency:  strings.ToUpper(strings.TrimSpace(d.Currency)),
		Active:    d.Active,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/stackmart/api/internal/domain"
	pfirestore "github.com/stackmart/api/internal/platform/firestore"
	"github.com/stackmart/api/internal/platform/pagination"
	"github.com/stackmart/api/internal/repositories"
)

const (
	stockCollection     = "inventoryStock"
	movementsCollection = "inventoryMovements"
	alertsCollection    = "stockAlerts"
)

type InventoryRepository struct {
	provider  *pfirestore.Provider
	stocks    *pfirestore.BaseRepository[stockDocument]
	movements *pfirestore.BaseRepository[movementDocument]
	alerts    *pfirestore.BaseRepository[alertDocument]
}

func NewInventoryRepository(provider *pfirestore.Provider) (*InventoryRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory repository requires firestore provider")
	}
	return &InventoryRepository{
		provider:  provider,
		stocks:    pfirestore.NewBaseRepository[stockDocument](provider, stockCollection, nil, nil),
		movements: pfirestore.NewBaseRepository[movementDocument](provider, movementsCollection, nil, nil),
		alerts:    pfirestore.NewBaseRepository[alertDocument](provider, alertsCollection, nil, nil),
	}, nil
}

// ApplyMovements changes stock for every line inside a single transaction.
// Lines with Enforce set fail the whole transaction when stock is short, so
// multi-line order debits are all-or-nothing. One ledger document is created
// per line in the same transaction.
func (r *InventoryRepository) ApplyMovements(ctx context.Context, req repositories.InventoryMovementRequest) (repositories.InventoryMovementResult, error) {
	if r == nil || r.provider == nil {
		return repositories.InventoryMovementResult{}, errors.New("inventory repository not initialised")
	}
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return repositories.InventoryMovementResult{}, errors.New("inventory apply: tenant id is required")
	}
	if len(req.Lines) == 0 {
		return repositories.InventoryMovementResult{}, errors.New("inventory apply: at least one line is required")
	}
	if req.NewID == nil {
		return repositories.InventoryMovementResult{}, errors.New("inventory apply: id generator is required")
	}

	now := req.Now.UTC()
	var result repositories.InventoryMovementResult

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// Firestore transactions require all reads before any write.
		type pending struct {
			line repositories.InventoryMovementLine
			ref  *firestore.DocumentRef
			doc  stockDocument
		}
		reads := make([]pending, 0, len(req.Lines))
		for _, line := range req.Lines {
			sku := strings.TrimSpace(line.SKU)
			if sku == "" {
				return repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, "inventory apply: sku is required", nil)
			}
			if !line.Type.IsValid() {
				return repositories.NewInventoryError(repositories.InventoryErrorUnknown, fmt.Sprintf("inventory apply: unknown movement type %q", line.Type), nil)
			}
			stockRef, err := r.stocks.DocumentRef(ctx, stockDocID(tenantID, sku))
			if err != nil {
				return err
			}
			snap, err := tx.Get(stockRef)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return &repositories.InventoryError{
						Code:    repositories.InventoryErrorStockNotFound,
						SKU:     sku,
						Message: fmt.Sprintf("stock %s not found", sku),
						Err:     err,
					}
				}
				return err
			}
			var doc stockDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode inventory stock %s: %w", sku, err)
			}
			line.SKU = sku
			reads = append(reads, pending{line: line, ref: stockRef, doc: doc})
		}

		movements := make([]domain.InventoryMovement, 0, len(reads))
		stocks := make(map[string]domain.InventoryStock, len(reads))
		for _, p := range reads {
			previous := p.doc.Quantity
			if p.line.Enforce && subtracts(p.line.Type) && previous < p.line.Quantity {
				return &repositories.InventoryError{
					Code:    repositories.InventoryErrorInsufficientStock,
					SKU:     p.line.SKU,
					Message: fmt.Sprintf("insufficient stock for %s: requested %d, available %d", p.line.SKU, p.line.Quantity, previous),
				}
			}
			next := p.line.Type.Apply(previous, p.line.Quantity)

			p.doc.Quantity = next
			p.doc.UpdatedAt = now
			if err := tx.Set(p.ref, p.doc); err != nil {
				return err
			}

			movement := domain.InventoryMovement{
				ID:            req.NewID(),
				TenantID:      tenantID,
				SKU:           p.line.SKU,
				ProductRef:    p.doc.ProductRef,
				Type:          p.line.Type,
				Quantity:      p.line.Quantity,
				PreviousStock: previous,
				NewStock:      next,
				OrderRef:      req.OrderRef,
				Actor:         strings.TrimSpace(req.Actor),
				Note:          strings.TrimSpace(req.Note),
				CreatedAt:     now,
			}
			movementRef, err := r.movements.DocumentRef(ctx, movement.ID)
			if err != nil {
				return err
			}
			if err := tx.Create(movementRef, newMovementDocument(movement)); err != nil {
				return err
			}

			movements = append(movements, movement)
			stocks[p.line.SKU] = p.doc.toDomain(tenantID, p.line.SKU)
		}

		result = repositories.InventoryMovementResult{Movements: movements, Stocks: stocks}
		return nil
	})
	if err != nil {
		return repositories.InventoryMovementResult{}, wrapInventoryError("inventory.apply", err)
	}
	return result, nil
}

func (r *InventoryRepository) GetStock(ctx context.Context, tenantID, sku string) (domain.InventoryStock, error) {
	if r == nil || r.stocks == nil {
		return domain.InventoryStock{}, errors.New("inventory repository not initialised")
	}
	tenantID = strings.TrimSpace(tenantID)
	sku = strings.TrimSpace(sku)
	if tenantID == "" || sku == "" {
		return domain.InventoryStock{}, errors.New("inventory get stock: tenant id and sku are required")
	}

	doc, err := r.stocks.Get(ctx, stockDocID(tenantID, sku))
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.InventoryStock{}, &repositories.InventoryError{
				Code:    repositories.InventoryErrorStockNotFound,
				SKU:     sku,
				Message: fmt.Sprintf("stock %s not found", sku),
				Err:     err,
			}
		}
		return domain.InventoryStock{}, wrapInventoryError("inventory.getStock", err)
	}
	return doc.Data.toDomain(tenantID, sku), nil
}

func (r *InventoryRepository) ListMovements(ctx context.Context, filter repositories.MovementListFilter) (domain.CursorPage[domain.InventoryMovement], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.InventoryMovement]{}, errors.New("inventory repository not initialised")
	}
	tenantID := strings.TrimSpace(filter.TenantID)
	if tenantID == "" {
		return domain.CursorPage[domain.InventoryMovement]{}, errors.New("inventory list movements: tenant id is required")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.InventoryMovement]{}, wrapInventoryError("inventory.listMovements", err)
	}

	query := client.Collection(movementsCollection).Query.Where("tenantId", "==", tenantID)
	if sku := strings.TrimSpace(filter.SKU); sku != "" {
		query = query.Where("sku", "==", sku)
	}
	if orderRef := strings.TrimSpace(filter.OrderRef); orderRef != "" {
		query = query.Where("orderRef", "==", orderRef)
	}
	if len(filter.Types) > 0 {
		query = query.Where("type", "in", filter.Types)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeLedgerPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.InventoryMovement]{}, wrapInventoryError("inventory.listMovements", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var movements []domain.InventoryMovement
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.InventoryMovement]{}, wrapInventoryError("inventory.listMovements", err)
		}
		var doc movementDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.InventoryMovement]{}, fmt.Errorf("decode inventory movement %s: %w", snap.Ref.ID, err)
		}
		movements = append(movements, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(movements) > pageSize
	if hasMore {
		movements = movements[:pageSize]
	}
	var nextToken string
	if hasMore && len(movements) > 0 {
		last := movements[len(movements)-1]
		encoded, err := encodeLedgerPageToken(ledgerPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.InventoryMovement]{}, wrapInventoryError("inventory.listMovements", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.InventoryMovement]{Items: movements, NextPageToken: nextToken}, nil
}

func (r *InventoryRepository) FindUnresolvedAlert(ctx context.Context, tenantID, sku string, alertType domain.StockAlertType) (domain.StockAlert, error) {
	if r == nil || r.provider == nil {
		return domain.StockAlert{}, errors.New("inventory repository not initialised")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.StockAlert{}, wrapInventoryError("inventory.findAlert", err)
	}

	query := client.Collection(alertsCollection).Query.
		Where("tenantId", "==", strings.TrimSpace(tenantID)).
		Where("sku", "==", strings.TrimSpace(sku)).
		Where("type", "==", string(alertType)).
		Where("resolved", "==", false).
		Limit(1)

	iter := query.Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.StockAlert{}, &repositories.InventoryError{
			Code:    repositories.InventoryErrorAlertNotFound,
			SKU:     sku,
			Message: fmt.Sprintf("no unresolved %s alert for %s", alertType, sku),
		}
	}
	if err != nil {
		return domain.StockAlert{}, wrapInventoryError("inventory.findAlert", err)
	}
	var doc alertDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.StockAlert{}, fmt.Errorf("decode stock alert %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

func (r *InventoryRepository) InsertAlert(ctx context.Context, alert domain.StockAlert) error {
	if r == nil || r.alerts == nil {
		return errors.New("inventory repository not initialised")
	}
	if strings.TrimSpace(alert.ID) == "" {
		return errors.New("inventory insert alert: id is required")
	}

	ref, err := r.alerts.DocumentRef(ctx, alert.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newAlertDocument(alert)); err != nil {
		return wrapInventoryError("inventory.insertAlert", err)
	}
	return nil
}

func (r *InventoryRepository) ResolveAlert(ctx context.Context, tenantID, alertID, actor string, now time.Time) (domain.StockAlert, error) {
	if r == nil || r.provider == nil {
		return domain.StockAlert{}, errors.New("inventory repository not initialised")
	}
	alertID = strings.TrimSpace(alertID)
	if alertID == "" {
		return domain.StockAlert{}, errors.New("inventory resolve alert: id is required")
	}

	resolvedAt := now.UTC()
	var resolved domain.StockAlert
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.alerts.DocumentRef(ctx, alertID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewInventoryError(repositories.InventoryErrorAlertNotFound, fmt.Sprintf("alert %s not found", alertID), err)
			}
			return err
		}
		var doc alertDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode stock alert %s: %w", alertID, err)
		}
		if !strings.EqualFold(doc.TenantID, strings.TrimSpace(tenantID)) {
			return repositories.NewInventoryError(repositories.InventoryErrorAlertNotFound, fmt.Sprintf("alert %s not found", alertID), nil)
		}
		if doc.Resolved {
			return repositories.NewInventoryError(repositories.InventoryErrorAlertResolved, fmt.Sprintf("alert %s already resolved", alertID), nil)
		}
		doc.Resolved = true
		doc.ResolvedAt = &resolvedAt
		trimmedActor := strings.TrimSpace(actor)
		if trimmedActor != "" {
			doc.ResolvedBy = &trimmedActor
		}
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		resolved = doc.toDomain(alertID)
		return nil
	})
	if err != nil {
		return domain.StockAlert{}, wrapInventoryError("inventory.resolveAlert", err)
	}
	return resolved, nil
}

func (r *InventoryRepository) ListAlerts(ctx context.Context, filter repositories.AlertListFilter) (domain.CursorPage[domain.StockAlert], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.StockAlert]{}, errors.New("inventory repository not initialised")
	}
	tenantID := strings.TrimSpace(filter.TenantID)
	if tenantID == "" {
		return domain.CursorPage[domain.StockAlert]{}, errors.New("inventory list alerts: tenant id is required")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.StockAlert]{}, wrapInventoryError("inventory.listAlerts", err)
	}

	query := client.Collection(alertsCollection).Query.Where("tenantId", "==", tenantID)
	if sku := strings.TrimSpace(filter.SKU); sku != "" {
		query = query.Where("sku", "==", sku)
	}
	if filter.Unresolved {
		query = query.Where("resolved", "==", false)
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeLedgerPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.StockAlert]{}, wrapInventoryError("inventory.listAlerts", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var alerts []domain.StockAlert
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.StockAlert]{}, wrapInventoryError("inventory.listAlerts", err)
		}
		var doc alertDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.StockAlert]{}, fmt.Errorf("decode stock alert %s: %w", snap.Ref.ID, err)
		}
		alerts = append(alerts, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(alerts) > pageSize
	if hasMore {
		alerts = alerts[:pageSize]
	}
	var nextToken string
	if hasMore && len(alerts) > 0 {
		last := alerts[len(alerts)-1]
		encoded, err := encodeLedgerPageToken(ledgerPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.StockAlert]{}, wrapInventoryError("inventory.listAlerts", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.StockAlert]{Items: alerts, NextPageToken: nextToken}, nil
}

// Helper structures ---------------------------------------------------------

func stockDocID(tenantID, sku string) string {
	return tenantID + "__" + sku
}

func subtracts(t domain.MovementType) bool {
	switch t {
	case domain.MovementSale, domain.MovementDamage, domain.MovementExpired:
		return true
	}
	return false
}

type stockDocument struct {
	TenantID          string    `firestore:"tenantId"`
	SKU               string    `firestore:"sku"`
	ProductRef        string    `firestore:"productRef"`
	Quantity          int       `firestore:"quantity"`
	LowStockThreshold int       `firestore:"lowStockThreshold"`
	UpdatedAt         time.Time `firestore:"updatedAt"`
}

func (s stockDocument) toDomain(tenantID, sku string) domain.InventoryStock {
	return domain.InventoryStock{
		SKU:               sku,
		ProductRef:        strings.TrimSpace(s.ProductRef),
		TenantID:          tenantID,
		Quantity:          s.Quantity,
		LowStockThreshold: s.LowStockThreshold,
		UpdatedAt:         s.UpdatedAt,
	}
}

type movementDocument struct {
	TenantID      string    `firestore:"tenantId"`
	SKU           string    `firestore:"sku"`
	ProductRef    string    `firestore:"productRef,omitempty"`
	Type          string    `firestore:"type"`
	Quantity      int       `firestore:"quantity"`
	PreviousStock int       `firestore:"previousStock"`
	NewStock      int       `firestore:"newStock"`
	OrderRef      *string   `firestore:"orderRef,omitempty"`
	Actor         string    `firestore:"actor,omitempty"`
	Note          string    `firestore:"note,omitempty"`
	CreatedAt     time.Time `firestore:"createdAt"`
}

func newMovementDocument(m domain.InventoryMovement) movementDocument {
	return movementDocument{
		TenantID:      m.TenantID,
		SKU:           m.SKU,
		ProductRef:    m.ProductRef,
		Type:          string(m.Type),
		Quantity:      m.Quantity,
		PreviousStock: m.PreviousStock,
		NewStock:      m.NewStock,
		OrderRef:      m.OrderRef,
		Actor:         m.Actor,
		Note:          m.Note,
		CreatedAt:     m.CreatedAt.UTC(),
	}
}

func (d movementDocument) toDomain(id string) domain.InventoryMovement {
	return domain.InventoryMovement{
		ID:            id,
		TenantID:      d.TenantID,
		SKU:           d.SKU,
		ProductRef:    d.ProductRef,
		Type:          domain.MovementType(d.Type),
		Quantity:      d.Quantity,
		PreviousStock: d.PreviousStock,
		NewStock:      d.NewStock,
		OrderRef:      d.OrderRef,
		Actor:         d.Actor,
		Note:          d.Note,
		CreatedAt:     d.CreatedAt,
	}
}

type alertDocument struct {
	TenantID   string     `firestore:"tenantId"`
	SKU        string     `firestore:"sku"`
	ProductRef string     `firestore:"productRef,omitempty"`
	Type       string     `firestore:"type"`
	Stock      int        `firestore:"stock"`
	Threshold  int        `firestore:"threshold"`
	Resolved   bool       `firestore:"resolved"`
	ResolvedAt *time.Time `firestore:"resolvedAt,omitempty"`
	ResolvedBy *string    `firestore:"resolvedBy,omitempty"`
	CreatedAt  time.Time  `firestore:"createdAt"`
}

func newAlertDocument(a domain.StockAlert) alertDocument {
	return alertDocument{
		TenantID:   a.TenantID,
		SKU:        a.SKU,
		ProductRef: a.ProductRef,
		Type:       string(a.Type),
		Stock:      a.Stock,
		Threshold:  a.Threshold,
		Resolved:   a.Resolved,
		ResolvedAt: a.ResolvedAt,
		ResolvedBy: a.ResolvedBy,
		CreatedAt:  a.CreatedAt.UTC(),
	}
}

func (d alertDocument) toDomain(id string) domain.StockAlert {
	return domain.StockAlert{
		ID:         id,
		TenantID:   d.TenantID,
		SKU:        d.SKU,
		ProductRef: d.ProductRef,
		Type:       domain.StockAlertType(d.Type),
		Stock:      d.Stock,
		Threshold:  d.Threshold,
		Resolved:   d.Resolved,
		ResolvedAt: d.ResolvedAt,
		ResolvedBy: d.ResolvedBy,
		CreatedAt:  d.CreatedAt,
	}
}

type ledgerPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeLedgerPageToken(token ledgerPageToken) (string, error) {
	encoded, err := pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{token.CreatedAt.UTC().Format(time.RFC3339Nano), token.ID},
	})
	if err != nil {
		return "", fmt.Errorf("encode ledger page token: %w", err)
	}
	return encoded, nil
}

func decodeLedgerPageToken(encoded string) (*ledgerPageToken, error) {
	cursor, err := pagination.DecodeToken(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode ledger page token: %w", err)
	}
	if len(cursor.StartAfter) != 2 {
		return nil, fmt.Errorf("decode ledger page token: expected 2 cursor values, got %d", len(cursor.StartAfter))
	}
	rawTime, ok := cursor.StartAfter[0].(string)
	if !ok {
		return nil, fmt.Errorf("decode ledger page token: cursor timestamp is not a string")
	}
	createdAt, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return nil, fmt.Errorf("decode ledger page token: parse timestamp: %w", err)
	}
	id, ok := cursor.StartAfter[1].(string)
	if !ok {
		return nil, fmt.Errorf("decode ledger page token: cursor id is not a string")
	}
	return &ledgerPageToken{ID: id, CreatedAt: createdAt}, nil
}

func wrapInventoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	return pfirestore.WrapError(op, err)
}

var _ repositories.InventoryRepository = (*InventoryRepository)(nil)

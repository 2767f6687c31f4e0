package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/stackmart/api/internal/domain"
	"github.com/stackmart/api/internal/repositories"
)

const (
	eventStockDebited  = "inventory.debited"
	eventStockCredited = "inventory.credited"
	eventStockAdjusted = "inventory.adjusted"
)

var (
	// ErrInventoryInvalidInput signals the caller provided invalid arguments.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryInsufficientStock indicates the requested quantity exceeds availability.
	ErrInventoryInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInventoryStockNotFound indicates no stock record exists for the SKU.
	ErrInventoryStockNotFound = errors.New("inventory: stock not found")
	// ErrInventoryAlertNotFound indicates the alert could not be located.
	ErrInventoryAlertNotFound = errors.New("inventory: alert not found")
	// ErrInventoryAlertResolved indicates the alert has already been resolved.
	ErrInventoryAlertResolved = errors.New("inventory: alert already resolved")
)

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Inventory   repositories.InventoryRepository
	Events      InventoryEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	repo   repositories.InventoryRepository
	events InventoryEventPublisher
	clock  func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Inventory == nil {
		return nil, errors.New("inventory service: inventory repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return "mov_" + ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &inventoryService{
		repo:   deps.Inventory,
		events: deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// RecordMovement applies one movement type across the given SKUs atomically
// and appends matching ledger entries. Sale lines enforce availability; other
// subtractive types clamp at zero.
func (s *inventoryService) RecordMovement(ctx context.Context, cmd RecordMovementCommand) ([]InventoryMovement, error) {
	tenantID := strings.TrimSpace(cmd.TenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrInventoryInvalidInput)
	}
	if !cmd.Type.IsValid() {
		return nil, fmt.Errorf("%w: unknown movement type %q", ErrInventoryInvalidInput, cmd.Type)
	}
	lines, err := normaliseMovementLines(cmd.Lines, cmd.Type)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	result, err := s.repo.ApplyMovements(ctx, repositories.InventoryMovementRequest{
		TenantID: tenantID,
		Lines:    lines,
		OrderRef: cmd.OrderRef,
		Actor:    strings.TrimSpace(cmd.ActorID),
		Note:     strings.TrimSpace(cmd.Note),
		Now:      now,
		NewID:    s.newID,
	})
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}

	s.raiseAlerts(ctx, tenantID, result)
	s.publishStockEvents(ctx, cmd, result, now)

	return result.Movements, nil
}

func (s *inventoryService) GetStock(ctx context.Context, tenantID string, sku string) (InventoryStock, error) {
	tenantID = strings.TrimSpace(tenantID)
	sku = strings.TrimSpace(sku)
	if tenantID == "" || sku == "" {
		return InventoryStock{}, fmt.Errorf("%w: tenant id and sku are required", ErrInventoryInvalidInput)
	}

	stock, err := s.repo.GetStock(ctx, tenantID, sku)
	if err != nil {
		return InventoryStock{}, s.mapRepositoryError(err)
	}
	return stock, nil
}

func (s *inventoryService) ListMovements(ctx context.Context, filter MovementListFilter) (domain.CursorPage[InventoryMovement], error) {
	if strings.TrimSpace(filter.TenantID) == "" {
		return domain.CursorPage[InventoryMovement]{}, fmt.Errorf("%w: tenant id is required", ErrInventoryInvalidInput)
	}

	page, err := s.repo.ListMovements(ctx, filter)
	if err != nil {
		return domain.CursorPage[InventoryMovement]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *inventoryService) ListAlerts(ctx context.Context, filter AlertListFilter) (domain.CursorPage[StockAlert], error) {
	if strings.TrimSpace(filter.TenantID) == "" {
		return domain.CursorPage[StockAlert]{}, fmt.Errorf("%w: tenant id is required", ErrInventoryInvalidInput)
	}

	page, err := s.repo.ListAlerts(ctx, filter)
	if err != nil {
		return domain.CursorPage[StockAlert]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *inventoryService) ResolveAlert(ctx context.Context, cmd ResolveAlertCommand) error {
	tenantID := strings.TrimSpace(cmd.TenantID)
	alertID := strings.TrimSpace(cmd.AlertID)
	if tenantID == "" || alertID == "" {
		return fmt.Errorf("%w: tenant id and alert id are required", ErrInventoryInvalidInput)
	}

	_, err := s.repo.ResolveAlert(ctx, tenantID, alertID, strings.TrimSpace(cmd.ActorID), s.clock())
	if err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

// raiseAlerts inserts low-stock and stock-out alerts for the updated SKUs,
// keeping at most one unresolved alert per SKU and type. Alert failures are
// logged, never propagated: the movement has already committed.
func (s *inventoryService) raiseAlerts(ctx context.Context, tenantID string, result repositories.InventoryMovementResult) {
	now := s.clock()
	for sku, stock := range result.Stocks {
		var alertType domain.StockAlertType
		switch {
		case stock.Quantity == 0:
			alertType = domain.StockAlertOut
		case stock.LowStockThreshold > 0 && stock.Quantity <= stock.LowStockThreshold:
			alertType = domain.StockAlertLow
		default:
			continue
		}

		if _, err := s.repo.FindUnresolvedAlert(ctx, tenantID, sku, alertType); err == nil {
			continue
		} else if !isAlertNotFound(err) {
			s.logger(ctx, "inventory.alert_lookup_failed", map[string]any{
				"sku":   sku,
				"error": err.Error(),
			})
			continue
		}

		alert := domain.StockAlert{
			ID:         "alr_" + ulid.Make().String(),
			TenantID:   tenantID,
			SKU:        sku,
			ProductRef: stock.ProductRef,
			Type:       alertType,
			Stock:      stock.Quantity,
			Threshold:  stock.LowStockThreshold,
			CreatedAt:  now,
		}
		if err := s.repo.InsertAlert(ctx, alert); err != nil {
			s.logger(ctx, "inventory.alert_insert_failed", map[string]any{
				"sku":   sku,
				"type":  string(alertType),
				"error": err.Error(),
			})
		}
	}
}

func (s *inventoryService) publishStockEvents(ctx context.Context, cmd RecordMovementCommand, result repositories.InventoryMovementResult, occurredAt time.Time) {
	if s.events == nil {
		return
	}

	eventType := eventStockAdjusted
	switch cmd.Type {
	case domain.MovementSale, domain.MovementDamage, domain.MovementExpired:
		eventType = eventStockDebited
	case domain.MovementPurchase, domain.MovementReturn:
		eventType = eventStockCredited
	}

	orderRef := ""
	if cmd.OrderRef != nil {
		orderRef = *cmd.OrderRef
	}

	for _, movement := range result.Movements {
		stock := result.Stocks[movement.SKU]
		event := InventoryStockEvent{
			Type:       eventType,
			TenantID:   cmd.TenantID,
			SKU:        movement.SKU,
			ProductRef: movement.ProductRef,
			OrderRef:   orderRef,
			Delta:      movement.NewStock - movement.PreviousStock,
			Stock:      stock.Quantity,
			Threshold:  stock.LowStockThreshold,
			OccurredAt: occurredAt,
		}
		if err := s.events.PublishInventoryEvent(ctx, event); err != nil {
			s.logger(ctx, "inventory_event_publish_failed", map[string]any{
				"sku":   movement.SKU,
				"error": err.Error(),
			})
			return
		}
	}
}

func (s *inventoryService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			return fmt.Errorf("%w: %s", ErrInventoryInsufficientStock, invErr.Message)
		case repositories.InventoryErrorStockNotFound:
			return fmt.Errorf("%w: %s", ErrInventoryStockNotFound, invErr.Message)
		case repositories.InventoryErrorAlertNotFound:
			return fmt.Errorf("%w: %s", ErrInventoryAlertNotFound, invErr.Message)
		case repositories.InventoryErrorAlertResolved:
			return fmt.Errorf("%w: %s", ErrInventoryAlertResolved, invErr.Message)
		}
	}

	return err
}

func isAlertNotFound(err error) bool {
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		return invErr.Code == repositories.InventoryErrorAlertNotFound
	}
	return false
}

// normaliseMovementLines aggregates duplicate SKUs, validates quantities, and
// marks sale lines for availability enforcement.
func normaliseMovementLines(lines []MovementLine, movementType domain.MovementType) ([]repositories.InventoryMovementLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrInventoryInvalidInput)
	}

	signed := movementType == domain.MovementAdjustment || movementType == domain.MovementTransfer
	aggregated := make(map[string]*repositories.InventoryMovementLine)
	for _, line := range lines {
		sku := strings.TrimSpace(line.SKU)
		if sku == "" {
			return nil, fmt.Errorf("%w: line sku is required", ErrInventoryInvalidInput)
		}
		if line.Quantity == 0 {
			return nil, fmt.Errorf("%w: quantity for %s must not be zero", ErrInventoryInvalidInput, sku)
		}
		if !signed && line.Quantity < 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", ErrInventoryInvalidInput, sku)
		}

		agg, ok := aggregated[sku]
		if !ok {
			agg = &repositories.InventoryMovementLine{
				SKU:     sku,
				Type:    movementType,
				Enforce: movementType == domain.MovementSale,
			}
			aggregated[sku] = agg
		}
		agg.Quantity += line.Quantity
	}

	result := make([]repositories.InventoryMovementLine, 0, len(aggregated))
	for _, line := range aggregated {
		result = append(result, *line)
	}
	if len(result) > 1 {
		sort.Slice(result, func(i, j int) bool { return result[i].SKU < result[j].SKU })
	}
	return result, nil
}

package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Read operations below never take the gate; a concurrent mutation may make
// results momentarily stale.

// TotalInventoryValue sums quantity times average cost, rounded to currency
// precision. warehouseID 0 covers every warehouse.
func (s *Service) TotalInventoryValue(ctx context.Context, warehouseID int64) (decimal.Decimal, error) {
	value, err := s.repo.InventoryValue(ctx, warehouseID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("inventory: total value: %w", err)
	}
	return RoundMoney(value), nil
}

// LowStockProducts lists records holding stock under their product minimum.
// Records at zero are excluded.
func (s *Service) LowStockProducts(ctx context.Context, warehouseID int64) ([]LowStockItem, error) {
	items, err := s.repo.LowStock(ctx, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("inventory: low stock: %w", err)
	}
	return items, nil
}

// ExpiringStock lists lots expiring within daysThreshold days whose record
// still has stock, nearest expiry first.
func (s *Service) ExpiringStock(ctx context.Context, daysThreshold int, warehouseID int64) ([]ExpiringLot, error) {
	if daysThreshold < 0 {
		return nil, ErrInvalidThreshold
	}
	now := s.now()
	lots, err := s.repo.ExpiringLots(ctx, ExpiringFilter{
		WarehouseID: warehouseID,
		Since:       now,
		Until:       now.AddDate(0, 0, daysThreshold),
		Limit:       s.cfg.ExpiringLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("inventory: expiring stock: %w", err)
	}
	for i := range lots {
		if lots[i].ExpiresAt != nil {
			lots[i].DaysToExpiry = int(lots[i].ExpiresAt.Sub(now) / (24 * time.Hour))
		}
	}
	sort.SliceStable(lots, func(i, j int) bool {
		return lots[i].ExpiresAt.Before(*lots[j].ExpiresAt)
	})
	return lots, nil
}

// StockTransactionHistory pages through the ledger, newest first.
func (s *Service) StockTransactionHistory(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, shared.Pagination, error) {
	if filter.Kind != "" {
		if _, err := ParseMovementKind(string(filter.Kind)); err != nil {
			return nil, shared.Pagination{}, fmt.Errorf("%w: %w", shared.ErrInvalidInput, err)
		}
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, shared.Pagination{}, fmt.Errorf("%w: history range ends before it starts", shared.ErrInvalidInput)
	}
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	entries, total, err := s.repo.ListLedger(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("inventory: history: %w", err)
	}
	return entries, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// Reconcile compares a record with the net effect of its ledger entries.
func (s *Service) Reconcile(ctx context.Context, productID, warehouseID int64) (ReconcileReport, error) {
	rec, err := s.repo.GetRecord(ctx, productID, warehouseID)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return ReconcileReport{}, fmt.Errorf("inventory: reconcile: %w", err)
	}
	net, err := s.repo.LedgerNet(ctx, productID, warehouseID)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("inventory: reconcile: %w", err)
	}
	return ReconcileReport{
		ProductID:      productID,
		WarehouseID:    warehouseID,
		RecordQuantity: rec.Quantity,
		LedgerQuantity: net,
	}, nil
}

package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/inventory"
)

// ErrStockRejected reports lines the ledger refused. The wrapped message
// lists each refused line.
var ErrStockRejected = errors.New("integration: stock rejected")

// StockLedger exposes stock operations required by integrations.
type StockLedger interface {
	DeductStock(ctx context.Context, input inventory.DeductInput) (inventory.MutationResult, error)
	AddStockBatch(ctx context.Context, items []inventory.AddStockInput) (inventory.BatchResult, error)
	FulfillReservation(ctx context.Context, id uuid.UUID) (bool, error)
}

// SaleLine is one shipped product of a completed sale.
type SaleLine struct {
	ProductID int64 `json:"product_id"`
	Qty       int64 `json:"qty"`
}

// SaleCompletedEvent is raised by the sales workflow once goods leave.
type SaleCompletedEvent struct {
	OrderID        int64       `json:"order_id"`
	Number         string      `json:"number"`
	WarehouseID    int64       `json:"warehouse_id"`
	Lines          []SaleLine  `json:"lines"`
	ReservationIDs []uuid.UUID `json:"reservation_ids,omitempty"`
	CompletedAt    time.Time   `json:"completed_at"`
}

// ReceiptLine is one received product of a goods receipt.
type ReceiptLine struct {
	ProductID    int64           `json:"product_id"`
	Qty          int64           `json:"qty"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	LotNumber    string          `json:"lot_number,omitempty"`
	SerialNumber string          `json:"serial_number,omitempty"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`
}

// GoodsReceivedEvent is raised by purchasing when a receipt is posted.
type GoodsReceivedEvent struct {
	ID          int64         `json:"id"`
	Number      string        `json:"number"`
	WarehouseID int64         `json:"warehouse_id"`
	Lines       []ReceiptLine `json:"lines"`
	ReceivedAt  time.Time     `json:"received_at"`
}

// Hooks wires domain events from operational modules into the stock ledger.
type Hooks struct {
	ledger StockLedger
	logger *slog.Logger
}

// NewHooks constructs integration hooks.
func NewHooks(ledger StockLedger, logger *slog.Logger) *Hooks {
	return &Hooks{ledger: ledger, logger: logger}
}

// HandleSaleCompleted deducts every shipped line and fulfils the order's
// reservations. All lines are attempted; refused lines are reported together.
// Lines already deducted by an earlier delivery are skipped.
func (h *Hooks) HandleSaleCompleted(ctx context.Context, evt SaleCompletedEvent) error {
	if h == nil || h.ledger == nil {
		return nil
	}
	if evt.WarehouseID == 0 {
		return errors.New("integration: sale warehouse required")
	}
	var refused []error
	for i, line := range evt.Lines {
		if line.Qty == 0 {
			continue
		}
		res, err := h.ledger.DeductStock(ctx, inventory.DeductInput{
			ProductID:   line.ProductID,
			WarehouseID: evt.WarehouseID,
			Quantity:    line.Qty,
			ReferenceID: lineReference("SO", evt.Number, i),
			Description: fmt.Sprintf("Sale %s", evt.Number),
		})
		if err != nil {
			return fmt.Errorf("integration: deduct sale %s line %d: %w", evt.Number, i, err)
		}
		if res.Failure != nil && res.Failure.Reason != inventory.FailureDuplicate {
			refused = append(refused, fmt.Errorf("line %d product %d: %w", i, line.ProductID, res.Failure))
		}
	}
	for _, id := range evt.ReservationIDs {
		ok, err := h.ledger.FulfillReservation(ctx, id)
		if err != nil {
			return fmt.Errorf("integration: fulfil reservation %s: %w", id, err)
		}
		if !ok && h.logger != nil {
			h.logger.Warn("reservation not fulfilled", slog.String("reservation_id", id.String()), slog.String("order", evt.Number))
		}
	}
	return rejection(evt.Number, refused)
}

// HandleGoodsReceived receives the lines of a goods receipt as one batch.
func (h *Hooks) HandleGoodsReceived(ctx context.Context, evt GoodsReceivedEvent) error {
	if h == nil || h.ledger == nil {
		return nil
	}
	if evt.WarehouseID == 0 {
		return errors.New("integration: receipt warehouse required")
	}
	if len(evt.Lines) == 0 {
		return nil
	}
	items := make([]inventory.AddStockInput, 0, len(evt.Lines))
	for i, line := range evt.Lines {
		items = append(items, inventory.AddStockInput{
			ProductID:    line.ProductID,
			WarehouseID:  evt.WarehouseID,
			Quantity:     line.Qty,
			UnitCost:     line.UnitCost,
			ReferenceID:  lineReference("GRN", evt.Number, i),
			Description:  fmt.Sprintf("GRN %s", evt.Number),
			LotNumber:    line.LotNumber,
			SerialNumber: line.SerialNumber,
			ExpiresAt:    line.ExpiresAt,
		})
	}
	batch, err := h.ledger.AddStockBatch(ctx, items)
	if err != nil {
		return fmt.Errorf("integration: receive %s: %w", evt.Number, err)
	}
	var refused []error
	for _, f := range batch.Failures {
		if f.Err != nil {
			return fmt.Errorf("integration: receive %s line %d: %w", evt.Number, f.Index, f.Err)
		}
		if f.Failure.Reason == inventory.FailureDuplicate {
			continue
		}
		refused = append(refused, fmt.Errorf("line %d product %d: %w", f.Index, f.Input.ProductID, f.Failure))
	}
	return rejection(evt.Number, refused)
}

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
)

// LowStockLister lists products at or below their minimum stock.
type LowStockLister interface {
	LowStockProducts(ctx context.Context, warehouseID int64) ([]inventory.LowStockItem, error)
}

// LowStockScanJob publishes the low-stock count as a gauge and logs each
// product found.
type LowStockScanJob struct {
	Lister  LowStockLister
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLowStockScanJob initialises the scan handler.
func NewLowStockScanJob(lister LowStockLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockScanJob {
	return &LowStockScanJob{Lister: lister, Logger: logger, Metrics: metrics}
}

// Handle executes one scan.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Lister == nil {
		return errors.New("low stock scan: handler not configured")
	}
	var payload LowStockScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.WarehouseID < 0 {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskLowStockScan)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	items, err := j.Lister.LowStockProducts(ctx, payload.WarehouseID)
	if err != nil {
		return err
	}
	j.Metrics.SetLowStock(payload.WarehouseID, len(items))
	log := logger(j.Logger)
	for _, item := range items {
		log.Warn("product below minimum stock",
			slog.Int64("product_id", item.ProductID),
			slog.String("product", item.ProductName),
			slog.Int64("warehouse_id", item.WarehouseID),
			slog.Int64("quantity", item.Quantity),
			slog.Int64("minimum", item.MinimumStock),
		)
	}
	log.Info("low stock scan complete", slog.Int64("warehouse_id", payload.WarehouseID), slog.Int("found", len(items)))
	return nil
}

package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskReservationSweep deactivates reservations past their expiry.
	TaskReservationSweep = "inventory:reservation_sweep"
	// TaskLowStockScan reports products at or below their minimum stock.
	TaskLowStockScan = "inventory:low_stock_scan"
	// TaskIdempotencyCleanup purges receipt idempotency keys past retention.
	TaskIdempotencyCleanup = "inventory:idempotency_cleanup"
)

// ReservationSweepPayload carries scheduling metadata.
type ReservationSweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// LowStockScanPayload scopes the scan. WarehouseID 0 scans every warehouse.
type LowStockScanPayload struct {
	WarehouseID int64 `json:"warehouse_id"`
}

// IdempotencyCleanupPayload sets how long keys are retained.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewReservationSweepTask constructs the sweep task.
func NewReservationSweepTask(at time.Time) (*asynq.Task, error) {
	return newTask(TaskReservationSweep, ReservationSweepPayload{ScheduledFor: at})
}

// NewLowStockScanTask constructs the low-stock scan task.
func NewLowStockScanTask(warehouseID int64) (*asynq.Task, error) {
	if warehouseID < 0 {
		return nil, fmt.Errorf("jobs: warehouse id must be >= 0")
	}
	return newTask(TaskLowStockScan, LowStockScanPayload{WarehouseID: warehouseID})
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("jobs: retention must be positive")
	}
	return newTask(TaskIdempotencyCleanup, IdempotencyCleanupPayload{Retention: retention})
}

func newTask(typ string, payload any) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, body, asynq.Queue(QueueDefault)), nil
}

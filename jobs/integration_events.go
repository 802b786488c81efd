package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/internal/integration"
	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
)

const (
	// TaskSaleCompleted applies a completed sale to the ledger.
	TaskSaleCompleted = "integration:sale_completed"
	// TaskGoodsReceived applies a posted goods receipt to the ledger.
	TaskGoodsReceived = "integration:goods_received"
)

// EventHooks applies upstream module events to the stock ledger.
type EventHooks interface {
	HandleSaleCompleted(ctx context.Context, evt integration.SaleCompletedEvent) error
	HandleGoodsReceived(ctx context.Context, evt integration.GoodsReceivedEvent) error
}

// NewSaleCompletedTask wraps a sale event for the worker.
func NewSaleCompletedTask(evt integration.SaleCompletedEvent) (*asynq.Task, error) {
	if evt.Number == "" {
		return nil, fmt.Errorf("jobs: sale number required")
	}
	return newTask(TaskSaleCompleted, evt)
}

// NewGoodsReceivedTask wraps a goods receipt event for the worker.
func NewGoodsReceivedTask(evt integration.GoodsReceivedEvent) (*asynq.Task, error) {
	if evt.Number == "" {
		return nil, fmt.Errorf("jobs: receipt number required")
	}
	return newTask(TaskGoodsReceived, evt)
}

// IntegrationJob consumes sale and receipt events. Refused lines are
// business outcomes and are not retried.
type IntegrationJob struct {
	Hooks   EventHooks
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIntegrationJob initialises the integration handlers.
func NewIntegrationJob(hooks EventHooks, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrationJob {
	return &IntegrationJob{Hooks: hooks, Logger: logger, Metrics: metrics}
}

// HandleSaleCompleted processes TaskSaleCompleted.
func (j *IntegrationJob) HandleSaleCompleted(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Hooks == nil {
		return errors.New("integration: handler not configured")
	}
	var evt integration.SaleCompletedEvent
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskSaleCompleted)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	return j.settle(TaskSaleCompleted, evt.Number, j.Hooks.HandleSaleCompleted(ctx, evt))
}

// HandleGoodsReceived processes TaskGoodsReceived.
func (j *IntegrationJob) HandleGoodsReceived(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Hooks == nil {
		return errors.New("integration: handler not configured")
	}
	var evt integration.GoodsReceivedEvent
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskGoodsReceived)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	return j.settle(TaskGoodsReceived, evt.Number, j.Hooks.HandleGoodsReceived(ctx, evt))
}

func (j *IntegrationJob) settle(task, number string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, integration.ErrStockRejected) {
		logger(j.Logger).Warn("integration event refused",
			slog.String("task", task),
			slog.String("number", number),
			slog.Any("error", err),
		)
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
)

// ReservationSweeper deactivates expired reservations.
type ReservationSweeper interface {
	SweepExpiredReservations(ctx context.Context) (int64, error)
}

// ReservationSweepJob runs the reservation sweeper on schedule.
type ReservationSweepJob struct {
	Sweeper ReservationSweeper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewReservationSweepJob initialises the sweep handler.
func NewReservationSweepJob(sweeper ReservationSweeper, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReservationSweepJob {
	return &ReservationSweepJob{Sweeper: sweeper, Logger: logger, Metrics: metrics}
}

// Handle executes one sweep.
func (j *ReservationSweepJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Sweeper == nil {
		return errors.New("reservation sweep: handler not configured")
	}
	var payload ReservationSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskReservationSweep)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	swept, err := j.Sweeper.SweepExpiredReservations(ctx)
	if err != nil {
		return err
	}
	j.Metrics.AddItems(TaskReservationSweep, swept)
	logger(j.Logger).Info("reservation sweep complete",
		slog.Int64("swept", swept),
		slog.Time("scheduled_for", payload.ScheduledFor),
	)
	return nil
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

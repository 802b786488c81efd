package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
)

type stubSweeper struct {
	swept int64
	err   error
	calls int
}

func (s *stubSweeper) SweepExpiredReservations(context.Context) (int64, error) {
	s.calls++
	return s.swept, s.err
}

type stubLister struct {
	items     []inventory.LowStockItem
	warehouse int64
}

func (s *stubLister) LowStockProducts(_ context.Context, warehouseID int64) ([]inventory.LowStockItem, error) {
	s.warehouse = warehouseID
	return s.items, nil
}

type stubCleaner struct {
	retention time.Duration
}

func (s *stubCleaner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	s.retention = olderThan
	return 7, nil
}

func TestReservationSweepJob(t *testing.T) {
	sweeper := &stubSweeper{swept: 3}
	job := NewReservationSweepJob(sweeper, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewReservationSweepTask(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, TaskReservationSweep, task.Type())

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 1, sweeper.calls)
}

func TestReservationSweepJobPropagatesFailure(t *testing.T) {
	boom := errors.New("db down")
	job := NewReservationSweepJob(&stubSweeper{err: boom}, nil, nil)
	task, err := NewReservationSweepTask(time.Now())
	require.NoError(t, err)

	assert.ErrorIs(t, job.Handle(context.Background(), task), boom)
}

func TestBadPayloadSkipsRetry(t *testing.T) {
	bad := asynq.NewTask(TaskReservationSweep, []byte("{"))
	err := NewReservationSweepJob(&stubSweeper{}, nil, nil).Handle(context.Background(), bad)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	negative, _ := json.Marshal(LowStockScanPayload{WarehouseID: -1})
	err = NewLowStockScanJob(&stubLister{}, nil, nil).Handle(context.Background(), asynq.NewTask(TaskLowStockScan, negative))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = NewIdempotencyCleanupJob(&stubCleaner{}, nil, nil).Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, []byte(`{}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestLowStockScanJobScopesWarehouse(t *testing.T) {
	lister := &stubLister{items: []inventory.LowStockItem{
		{ProductID: 1, ProductName: "Bolt", WarehouseID: 4, Quantity: 2, MinimumStock: 10},
	}}
	job := NewLowStockScanJob(lister, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewLowStockScanTask(4)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, int64(4), lister.warehouse)

	_, err = NewLowStockScanTask(-1)
	assert.Error(t, err)
}

func TestIdempotencyCleanupJob(t *testing.T) {
	cleaner := &stubCleaner{}
	job := NewIdempotencyCleanupJob(cleaner, nil, nil)

	task, err := NewIdempotencyCleanupTask(48 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 48*time.Hour, cleaner.retention)

	_, err = NewIdempotencyCleanupTask(0)
	assert.Error(t, err)
}

func TestUnconfiguredJobsFail(t *testing.T) {
	var sweep *ReservationSweepJob
	assert.Error(t, sweep.Handle(context.Background(), asynq.NewTask(TaskReservationSweep, nil)))
	assert.Error(t, (&LowStockScanJob{}).Handle(context.Background(), asynq.NewTask(TaskLowStockScan, nil)))
}

func TestNewWorkerValidatesCron(t *testing.T) {
	task, err := NewReservationSweepTask(time.Now())
	require.NoError(t, err)
	handlers := []TaskHandler{{Type: TaskReservationSweep, Handler: NewReservationSweepJob(&stubSweeper{}, nil, nil).Handle}}

	_, err = NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"},
		Handlers:  handlers,
		Cron:      []CronRegistration{{Spec: "not a cron", Task: task}},
	})
	assert.Error(t, err)

	_, err = NewWorker(WorkerConfig{RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"}})
	assert.Error(t, err, "a worker needs handlers")
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestHealthHandler(t *testing.T) {
	serve := func(inspector QueueInspector) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		r.Route("/jobs", NewHandler(inspector, nil).MountRoutes)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
		return rr
	}

	rr := serve(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 2, Retry: 1}})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"queue":"default","pending":2,"active":0,"scheduled":0,"retry":1}`, rr.Body.String())

	rr = serve(stubInspector{err: errors.New("redis down")})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = serve(nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

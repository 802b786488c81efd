package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/internal/app"
	"github.com/odyssey-erp/stockledger/internal/integration"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/platform/cache"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With(slog.String("component", "worker"))

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions())
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	postgresKeys := shared.NewIdempotencyStore(pool)
	var idempotency inventory.IdempotencyPort = postgresKeys
	if cfg.IdempotencyBackend == app.IdempotencyRedis {
		idempotency = shared.NewRedisIdempotencyStore(redisClient, "stockledger:idem", cfg.IdempotencyRetention)
	}

	service := inventory.NewService(inventory.NewRepository(pool), cfg.InventoryConfig(), inventory.Options{
		Audit:       shared.NewAuditLogger(pool),
		Events:      inventory.NewRedisPublisher(redisClient, cfg.StockEventChannel),
		Idempotency: idempotency,
		Logger:      logger,
	})
	defer service.Close()

	metrics := jobmetrics.NewMetrics(nil)
	sweepJob := jobs.NewReservationSweepJob(service, logger, metrics)
	lowStockJob := jobs.NewLowStockScanJob(service, logger, metrics)
	integrationJob := jobs.NewIntegrationJob(integration.NewHooks(service, logger), logger, metrics)

	handlers := []jobs.TaskHandler{
		{Type: jobs.TaskReservationSweep, Handler: sweepJob.Handle},
		{Type: jobs.TaskLowStockScan, Handler: lowStockJob.Handle},
		{Type: jobs.TaskSaleCompleted, Handler: integrationJob.HandleSaleCompleted},
		{Type: jobs.TaskGoodsReceived, Handler: integrationJob.HandleGoodsReceived},
	}

	sweepTask, err := jobs.NewReservationSweepTask(time.Now().UTC())
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	lowStockTask, err := jobs.NewLowStockScanTask(0)
	if err != nil {
		logger.Error("build low stock task", slog.Any("error", err))
		os.Exit(1)
	}
	cron := []jobs.CronRegistration{
		{Spec: cfg.StockReservationSweepCron, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		{Spec: cfg.StockLowStockCron, Task: lowStockTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
	}

	// Redis keys expire on their own; only the table needs purging.
	if cfg.IdempotencyBackend == app.IdempotencyPostgres {
		cleanupJob := jobs.NewIdempotencyCleanupJob(postgresKeys, logger, metrics)
		handlers = append(handlers, jobs.TaskHandler{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle})
		cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
		if err != nil {
			logger.Error("build cleanup task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.IdempotencyCleanCron, Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:    logger,
		Handlers:  handlers,
		Cron:      cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

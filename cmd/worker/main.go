package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/botica-erp/botica-erp/internal/ap"
	"github.com/botica-erp/botica-erp/internal/app"
	"github.com/botica-erp/botica-erp/internal/audit"
	jobmetrics "github.com/botica-erp/botica-erp/internal/jobs"
	"github.com/botica-erp/botica-erp/internal/platform/db"
	"github.com/botica-erp/botica-erp/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := jobmetrics.NewMetrics(nil)
	recorder := audit.NewRecorder(logger)
	apRepo := ap.NewRepository(pool, recorder)

	retentionTask, err := jobs.NewAuditRetentionTask(cfg.AuditRetention)
	if err != nil {
		logger.Error("build audit retention task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAPOverdueSweep, Handler: jobs.HandleAPOverdueSweep(apRepo, metrics, logger)},
			{Type: jobs.TaskAuditRetention, Handler: jobs.HandleAuditRetention(pool, metrics, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "5 0 * * *", Task: jobs.NewAPOverdueSweepTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 3 * * 0", Task: retentionTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
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

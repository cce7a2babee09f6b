package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/botica-erp/botica-erp/internal/ap"
	"github.com/botica-erp/botica-erp/internal/app"
	"github.com/botica-erp/botica-erp/internal/audit"
	"github.com/botica-erp/botica-erp/internal/auth"
	"github.com/botica-erp/botica-erp/internal/authz"
	"github.com/botica-erp/botica-erp/internal/observability"
	"github.com/botica-erp/botica-erp/internal/platform/cache"
	"github.com/botica-erp/botica-erp/internal/platform/db"
	"github.com/botica-erp/botica-erp/internal/treasury"
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

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessions := auth.NewSessionStore(redisClient, cfg.SessionTTL)
	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo, sessions, logger)
	authHandler := auth.NewHandler(logger, authService)

	recorder := audit.NewRecorder(logger)
	auditHandler := audit.NewHandler(logger, pool)

	policy, err := cfg.Policy()
	if err != nil {
		logger.Error("build authorization policy", slog.Any("error", err))
		os.Exit(1)
	}
	limiter := authz.NewRedisLimiter(redisClient, logger, cfg.PINMaxAttempts, cfg.PINCooldown)
	pinValidator := authz.NewValidator(authz.NewRepository(pool), limiter, logger)

	metrics := observability.NewMetrics()

	treasuryRepo := treasury.NewRepository(pool, recorder)
	treasuryService := treasury.NewService(treasuryRepo, pinValidator, policy, logger)
	treasuryHandler := treasury.NewHandler(logger, treasuryService, metrics)

	apRepo := ap.NewRepository(pool, recorder)
	apService := ap.NewService(apRepo, logger)
	apHandler := ap.NewHandler(logger, apService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("build job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Sessions:        sessions,
		AuthHandler:     authHandler,
		TreasuryHandler: treasuryHandler,
		APHandler:       apHandler,
		AuditHandler:    auditHandler,
		JobHandler:      jobHandler,
		Pool:            pool,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/inventra/internal/app"
	"github.com/odyssey-erp/inventra/internal/authz"
	authzcache "github.com/odyssey-erp/inventra/internal/authz/cache"
	"github.com/odyssey-erp/inventra/internal/authz/postgres"
	"github.com/odyssey-erp/inventra/internal/guard"
	jobmetrics "github.com/odyssey-erp/inventra/internal/jobs"
	"github.com/odyssey-erp/inventra/internal/observability"
	"github.com/odyssey-erp/inventra/internal/platform/cache"
	"github.com/odyssey-erp/inventra/internal/platform/db"
	"github.com/odyssey-erp/inventra/jobs"
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

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{ApplicationName: "inventra-worker", MaxConns: 4})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
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

	policy, err := cfg.ConflictPolicy()
	if err != nil {
		logger.Error("conflict policy", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	store := authzcache.New(postgres.NewStore(pool), redisClient, cfg.OverrideCacheTTL, logger)
	resolver := authz.NewResolver(authz.DefaultCatalog(), store, authz.ResolverConfig{Logger: logger, Observer: metrics})
	service := authz.NewService(store, logger, authz.ServiceConfig{ConflictPolicy: policy})
	overrideJobs := jobs.NewOverrideJobs(service, guard.New(resolver, nil, guard.Config{Logger: logger}), logger,
		jobmetrics.NewMetrics(metrics.Registerer()))

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: cache.QueueOptions(cfg.RedisAddr),
		Logger:    logger,
		Handlers:  overrideJobs.Handlers(),
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReaperCron, Task: jobs.NewReapOverridesTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		go func() {
			if err := http.ListenAndServe(cfg.WorkerMetricsAddr, metrics.Handler()); err != nil {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

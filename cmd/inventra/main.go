package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/inventra/cmd/inventra/cli"
	"github.com/odyssey-erp/inventra/internal/app"
	"github.com/odyssey-erp/inventra/internal/audit"
	audithttp "github.com/odyssey-erp/inventra/internal/audit/http"
	"github.com/odyssey-erp/inventra/internal/authz"
	authzcache "github.com/odyssey-erp/inventra/internal/authz/cache"
	authzhttp "github.com/odyssey-erp/inventra/internal/authz/http"
	"github.com/odyssey-erp/inventra/internal/authz/postgres"
	"github.com/odyssey-erp/inventra/internal/guard"
	"github.com/odyssey-erp/inventra/internal/observability"
	"github.com/odyssey-erp/inventra/internal/platform/cache"
	"github.com/odyssey-erp/inventra/internal/platform/db"
	"github.com/odyssey-erp/inventra/internal/shared"
	"github.com/odyssey-erp/inventra/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		if err := runJobsCommand(ctx, cfg, os.Args[2:]); err != nil {
			logger.Error("jobs command", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{ApplicationName: "inventra"})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	if err := postgres.EnsureSchema(ctx, dbpool); err != nil {
		logger.Error("ensure schema", slog.Any("error", err))
		os.Exit(1)
	}

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
	catalog := authz.DefaultCatalog()
	store := authzcache.New(postgres.NewStore(dbpool), redisClient, cfg.OverrideCacheTTL, logger)
	resolver := authz.NewResolver(catalog, store, authz.ResolverConfig{Logger: logger, Observer: metrics})
	overrideService := authz.NewService(store, logger, authz.ServiceConfig{ConflictPolicy: policy})

	sessionManager := shared.NewSessionManager(redisClient, "inventra_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	requestGuard := guard.New(resolver, sessionManager, guard.Config{Logger: logger})
	idempotencyStore := shared.NewIdempotencyStore(redisClient, cfg.IdempotencyTTL)

	queueOpts := cache.QueueOptions(cfg.RedisAddr)
	jobClient, err := jobs.NewClient(queueOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(queueOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	permissionsHandler := authzhttp.NewHandler(logger, resolver, overrideService, idempotencyStore).WithScheduler(jobClient)
	auditHandler := audithttp.NewHandler(logger, audit.NewService(store))
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		Guard:              requestGuard,
		PermissionsHandler: permissionsHandler,
		AuditHandler:       auditHandler,
		JobHandler:         jobHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

// runJobsCommand handles "inventra jobs trigger <name>" and "inventra jobs stats".
func runJobsCommand(ctx context.Context, cfg *app.Config, args []string) error {
	c, err := cli.NewJobsCLI(cache.QueueOptions(cfg.RedisAddr))
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if len(args) == 0 {
		return fmt.Errorf("usage: inventra jobs trigger <reap> | stats")
	}
	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return fmt.Errorf("usage: inventra jobs trigger <reap>")
		}
		info, err := c.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s as %s\n", info.Type, info.ID)
	case "stats":
		stats, err := c.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		scheduled, err := c.ListScheduled(ctx, 10)
		if err != nil {
			return err
		}
		for _, t := range scheduled {
			fmt.Printf("  %s %s at %s\n", t.ID, t.Type, t.NextProcessAt.Format(time.RFC3339))
		}
	default:
		return fmt.Errorf("unknown jobs command %q", args[0])
	}
	return nil
}

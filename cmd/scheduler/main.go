package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ErlanBelekov/alerting-scheduler/config"
	"github.com/ErlanBelekov/alerting-scheduler/internal/clock"
	"github.com/ErlanBelekov/alerting-scheduler/internal/cluster"
	"github.com/ErlanBelekov/alerting-scheduler/internal/document"
	"github.com/ErlanBelekov/alerting-scheduler/internal/health"
	"github.com/ErlanBelekov/alerting-scheduler/internal/infrastructure/postgres"
	ctxlog "github.com/ErlanBelekov/alerting-scheduler/internal/log"
	"github.com/ErlanBelekov/alerting-scheduler/internal/metrics"
	"github.com/ErlanBelekov/alerting-scheduler/internal/runner"
	"github.com/ErlanBelekov/alerting-scheduler/internal/scheduler"
	"github.com/ErlanBelekov/alerting-scheduler/internal/stats"
	"github.com/ErlanBelekov/alerting-scheduler/internal/sweeper"
	httptransport "github.com/ErlanBelekov/alerting-scheduler/internal/transport/http"
	"github.com/ErlanBelekov/alerting-scheduler/internal/transport/http/handler"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel()).With("node_id", cfg.NodeID)

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		stop()
		log.Fatalf("migrate: %v", err)
	}
	logger.Info("db connected")

	settings := cfg.SweeperSettings()
	if cfg.SettingsFile != "" {
		settings, err = config.LoadSettings(cfg.SettingsFile, settings)
		if err != nil {
			stop()
			log.Fatalf("settings: %v", err)
		}
	}

	metrics.Register()

	jobStore := postgres.NewJobStore(pool, cfg.JobIndex, cfg.ShardCount)
	nodeRepo := postgres.NewNodeRepository(pool)
	runRepo := postgres.NewRunRepository(pool)

	// Runs
	monitorRunner, err := runner.New(runRepo, runner.NewHTTPExecutor(), logger, cfg.NodeID, cfg.RunnerConcurrency, cfg.ResultCacheSize)
	if err != nil {
		stop()
		log.Fatalf("runner: %v", err)
	}
	jobScheduler := scheduler.New(monitorRunner,
		scheduler.WithLogger(logger),
		scheduler.WithBaseContext(ctx),
	)

	// Cluster membership
	clusterSvc := cluster.NewService(cfg.NodeID, logger)

	sw, err := sweeper.New(sweeper.Config{
		Index:     cfg.JobIndex,
		Store:     jobStore,
		Cluster:   clusterSvc,
		Scheduler: jobScheduler,
		Parser:    document.NewParser(),
		Settings:  settings,
		Logger:    logger,
	})
	if err != nil {
		stop()
		log.Fatalf("sweeper: %v", err)
	}
	// registers for cluster changes, so it starts before the poller applies any
	sw.Start(ctx)

	poller := cluster.NewPoller(nodeRepo, clusterSvc, cluster.PollerConfig{
		NodeID:      cfg.NodeID,
		Address:     cfg.NodeAddress,
		Index:       cfg.JobIndex,
		Shards:      cfg.ShardCount,
		Replicas:    cfg.ShardReplicas,
		Interval:    cfg.HeartbeatInterval,
		NodeTimeout: cfg.NodeTimeout,
	}, clock.Real(), logger)
	go poller.Start(ctx)

	reaper := cluster.NewReaper(nodeRepo, clock.Real(), logger, cfg.NodeTimeout, cfg.NodeRetention)
	go reaper.Start(ctx)

	listener := postgres.NewEventListener(pool, jobStore, sw, logger)
	go listener.Start(ctx)

	if cfg.SettingsFile != "" {
		watcher, err := config.NewSettingsWatcher(cfg.SettingsFile, cfg.SweeperSettings(), sw.ApplySettings, logger)
		if err != nil {
			logger.Error("settings watcher disabled", "error", err)
		} else {
			go watcher.Start(ctx)
		}
	}

	// HTTP
	checker := health.NewChecker(pool, sw, logger, prometheus.DefaultRegisterer)
	collector := stats.NewCollector(cfg.NodeID, sw, jobScheduler, monitorRunner)

	router := httptransport.NewRouter(logger,
		handler.NewHealthHandler(checker),
		handler.NewStatsHandler(collector, sw, logger),
		handler.NewRunHandler(runRepo, logger),
	)
	srv := http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	sw.Stop()

	logger.Info("scheduler shut down")
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}

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

	"github.com/metadeploy/metadeploy-go/internal/execution/checks"
	"github.com/metadeploy/metadeploy-go/internal/execution/runner"
	"github.com/metadeploy/metadeploy-go/internal/platform/env"
	"github.com/metadeploy/metadeploy-go/internal/platform/httpserver"
	"github.com/metadeploy/metadeploy-go/internal/platform/metrics"
	"github.com/metadeploy/metadeploy-go/internal/platform/postgres"
	"github.com/metadeploy/metadeploy-go/internal/platform/queue"
	pgrepo "github.com/metadeploy/metadeploy-go/internal/repo/postgres"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := env.LoadDotenv(); err != nil {
		logger.Error("invalid env file", "error", err)
		os.Exit(2)
	}

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("WORKER_HTTP_ADDR", ":8083")
	shutdownTimeout, err := env.Duration("WORKER_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	concurrency, err := env.Int("WORKER_CONCURRENCY", 2)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	pollTimeout, err := env.Duration("WORKER_POLL_TIMEOUT", 5*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	preflightLifetime, err := env.Duration("PREFLIGHT_LIFETIME", 10*time.Minute)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	jobStaleAfter, err := env.Duration("JOB_STALE_AFTER", 6*time.Hour)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	schedule := env.String("WORKER_MAINTENANCE_SCHEDULE", "@every 1m")

	runnerCfg, err := runner.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid runner config", "error", err)
		os.Exit(2)
	}
	rules, err := checks.LoadFile(runnerCfg.RulesFile)
	if err != nil {
		logger.Error("invalid preflight rules", "error", err)
		os.Exit(2)
	}
	stepRunner, err := runner.New(runnerCfg)
	if err != nil {
		logger.Error("runner unavailable", "error", err)
		os.Exit(1)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	queueCfg, err := queue.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid queue config", "error", err)
		os.Exit(2)
	}
	tasks, err := queue.Open(queueCfg)
	if err != nil {
		logger.Error("queue unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = tasks.Close() }()

	preflightStore := pgrepo.NewPreflightStore(db)
	jobStore := pgrepo.NewJobStore(db)
	executor, err := runner.NewExecutor(logger, stepRunner, rules, runner.Stores{
		Plans:      pgrepo.NewPlanStore(db),
		Preflights: preflightStore,
		Jobs:       jobStore,
		Users:      pgrepo.NewUserStore(db),
	}, runnerCfg.StepTimeout)
	if err != nil {
		logger.Error("invalid executor config", "error", err)
		os.Exit(2)
	}

	maint := &maintenance{
		logger:            logger,
		preflights:        preflightStore,
		jobs:              jobStore,
		preflightLifetime: preflightLifetime,
		jobStaleAfter:     jobStaleAfter,
		now:               time.Now,
	}
	if _, err := startMaintenance(ctx, maint, schedule); err != nil {
		logger.Error("invalid maintenance schedule", "error", err)
		os.Exit(2)
	}

	c := &consumer{
		logger:      logger,
		source:      tasks,
		executor:    executor,
		pollTimeout: pollTimeout,
		concurrency: concurrency,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.run(ctx)
	}()
	logger.Info("worker started", "runner", stepRunner.Kind(), "concurrency", concurrency, "rules", len(rules.Rules))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("worker"))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			"worker",
			httpserver.ReadinessCheck{
				Name: "postgres",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return db.PingContext(checkCtx)
				},
			},
			httpserver.ReadinessCheck{
				Name: "redis",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return tasks.Ping(checkCtx)
				},
			},
		),
	)
	mux.Handle("/metrics", metrics.Handler())

	cfg := httpserver.Config{
		Service:         "worker",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}
	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "worker", mux)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	<-done
}

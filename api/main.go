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

	"github.com/metadeploy/metadeploy-go/internal/auditexport"
	"github.com/metadeploy/metadeploy-go/internal/platform/auditlog"
	"github.com/metadeploy/metadeploy-go/internal/platform/auth"
	"github.com/metadeploy/metadeploy-go/internal/platform/env"
	"github.com/metadeploy/metadeploy-go/internal/platform/httpserver"
	"github.com/metadeploy/metadeploy-go/internal/platform/metrics"
	"github.com/metadeploy/metadeploy-go/internal/platform/postgres"
	"github.com/metadeploy/metadeploy-go/internal/platform/queue"
	"github.com/metadeploy/metadeploy-go/internal/platform/ratelimit"
	pgrepo "github.com/metadeploy/metadeploy-go/internal/repo/postgres"
	"github.com/metadeploy/metadeploy-go/internal/service/catalog"
	"github.com/metadeploy/metadeploy-go/internal/service/jobs"
	"github.com/metadeploy/metadeploy-go/internal/service/preflights"
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

	addr := env.String("API_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("API_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	ratePerMinute, err := env.Int("API_WRITE_RATE_PER_MINUTE", 30)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	rateBurst, err := env.Int("API_WRITE_RATE_BURST", 5)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	queueCfg, err := queue.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid queue config", "error", err)
		os.Exit(2)
	}
	exportCfg, err := auditexport.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid audit export config", "error", err)
		os.Exit(2)
	}

	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	tasks, err := queue.Open(queueCfg)
	if err != nil {
		logger.Error("queue unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = tasks.Close() }()

	exporter, exportCloser, err := auditexport.Open(exportCfg)
	if err != nil {
		logger.Error("audit export unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = exportCloser.Close() }()

	authenticator, oidcService, err := auth.NewAuthenticator(ctx, authCfg)
	if err != nil {
		logger.Error("auth init failed", "error", err)
		os.Exit(1)
	}

	planStore := pgrepo.NewPlanStore(db)
	preflightStore := pgrepo.NewPreflightStore(db)
	jobStore := pgrepo.NewJobStore(db)
	audit := pgrepo.NewAuditAppender(db, exporter)

	catalogService, err := catalog.New(catalog.Stores{
		Categories:   pgrepo.NewCategoryStore(db),
		AllowedLists: pgrepo.NewAllowedListStore(db),
		Products:     pgrepo.NewProductStore(db),
		Versions:     pgrepo.NewVersionStore(db),
		Templates:    pgrepo.NewPlanTemplateStore(db),
		Plans:        planStore,
		Translations: pgrepo.NewTranslationStore(db),
	})
	if err != nil {
		logger.Error("catalog init failed", "error", err)
		os.Exit(2)
	}
	jobService, err := jobs.New(logger, catalogService, jobStore, preflightStore, tasks, audit)
	if err != nil {
		logger.Error("jobs init failed", "error", err)
		os.Exit(2)
	}
	preflightService, err := preflights.New(logger, catalogService, preflightStore, tasks, audit)
	if err != nil {
		logger.Error("preflights init failed", "error", err)
		os.Exit(2)
	}

	limiter := ratelimit.New(ratePerMinute, rateBurst, func(r *http.Request) string {
		identity, _ := auth.IdentityFromContext(r.Context())
		return identity.Subject
	}, logger)
	go pruneLimiter(ctx, limiter)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("api"))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			"api",
			httpserver.ReadinessCheck{Name: "postgres", Check: auth.WithTimeout(750*time.Millisecond, db.PingContext)},
			httpserver.ReadinessCheck{Name: "redis", Check: auth.WithTimeout(750*time.Millisecond, tasks.Ping)},
		),
	)
	mux.Handle("/metrics", metrics.Handler())

	if oidcService != nil {
		mux.HandleFunc("/api/auth/logout", oidcService.LogoutHandler())
		if err := authCfg.ValidateForLogin(); err == nil {
			login, err := oidcService.LoginHandler()
			if err != nil {
				logger.Error("oidc login handler init failed", "error", err)
				os.Exit(2)
			}
			callback, err := oidcService.CallbackHandler()
			if err != nil {
				logger.Error("oidc callback handler init failed", "error", err)
				os.Exit(2)
			}
			mux.HandleFunc("/api/auth/login", login)
			mux.HandleFunc("/api/auth/callback", callback)
		} else {
			logger.Warn("oidc login not configured", "error", err)
		}
	}

	api := newPublicAPI(logger, catalogService, jobService, preflightService, pgrepo.NewUserStore(db), limiter.Middleware)
	api.register(mux)

	handler := auth.Middleware{
		Logger:         logger,
		Authenticator:  authenticator,
		AllowAnonymous: auth.SafeMethods("/api/products", "/api/versions", "/api/plans", "/api/jobs"),
		Audit: func(ctx context.Context, event auth.DenyEvent) error {
			auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
			defer cancel()
			return auditlog.InsertAuthDeny(auditCtx, db, "api", event)
		},
		SkipPrefixes: []string{"/healthz", "/readyz", "/metrics", "/api/auth/"},
	}.Wrap(mux)

	cfg := httpserver.Config{
		Service:         "api",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}
	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "api", metrics.Instrument("api", handler))); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func pruneLimiter(ctx context.Context, limiter *ratelimit.Limiter) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Prune(30 * time.Minute)
		}
	}
}

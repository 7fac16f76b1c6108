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
	"github.com/metadeploy/metadeploy-go/internal/platform/objectstore"
	"github.com/metadeploy/metadeploy-go/internal/platform/postgres"
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

	addr := env.String("ADMIN_API_HTTP_ADDR", ":8082")
	baseURL := env.String("ADMIN_API_BASE_URL", "")
	shutdownTimeout, err := env.Duration("ADMIN_API_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	trustForwardedFor, err := env.Bool("ADMIN_API_TRUST_FORWARDED_FOR", false)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	writeRole, err := auth.ParseRole(env.String("ADMIN_API_WRITE_ROLE", auth.RoleStaff))
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	subnets, err := auth.ParseSubnets(env.CSV("ADMIN_API_ALLOWED_SUBNETS", "127.0.0.1/32,::1/128"))
	if err != nil {
		logger.Error("invalid admin subnets", "error", err)
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
	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
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

	minioClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store init failed", "error", err)
		os.Exit(1)
	}
	ensureCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = objectstore.EnsureBucket(ensureCtx, minioClient, storeCfg)
	cancel()
	if err != nil {
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}
	images, err := objectstore.NewMinioImageStore(minioClient, storeCfg)
	if err != nil {
		logger.Error("image store init failed", "error", err)
		os.Exit(1)
	}

	exporter, exportCloser, err := auditexport.Open(exportCfg)
	if err != nil {
		logger.Error("audit export unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = exportCloser.Close() }()

	authenticator, _, err := auth.NewAuthenticator(ctx, authCfg)
	if err != nil {
		logger.Error("auth init failed", "error", err)
		os.Exit(1)
	}

	validator, err := newRequestValidator(ctx, logger)
	if err != nil {
		logger.Error("openapi init failed", "error", err)
		os.Exit(2)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("adminapi"))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			"adminapi",
			httpserver.ReadinessCheck{Name: "postgres", Check: auth.WithTimeout(750*time.Millisecond, db.PingContext)},
			httpserver.ReadinessCheck{Name: "objectstore", Check: auth.WithTimeout(2*time.Second, func(ctx context.Context) error {
				return objectstore.CheckBucket(ctx, minioClient, storeCfg)
			})},
		),
	)
	mux.Handle("/metrics", metrics.Handler())

	api := newAdminAPI(logger, stores{
		Categories:   pgrepo.NewCategoryStore(db),
		AllowedLists: pgrepo.NewAllowedListStore(db),
		Products:     pgrepo.NewProductStore(db),
		Versions:     pgrepo.NewVersionStore(db),
		Templates:    pgrepo.NewPlanTemplateStore(db),
		Plans:        pgrepo.NewPlanStore(db),
		Preflights:   pgrepo.NewPreflightStore(db),
		Jobs:         pgrepo.NewJobStore(db),
		Users:        pgrepo.NewUserStore(db),
	}, images, pgrepo.NewAuditAppender(db, exporter), baseURL)
	rest := http.NewServeMux()
	api.register(rest)
	mux.Handle(restPrefix+"/", validator.Wrap(rest))

	auditDeny := func(ctx context.Context, event auth.DenyEvent) error {
		auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
		defer cancel()
		return auditlog.InsertAuthDeny(auditCtx, db, "adminapi", event)
	}
	handler := auth.Middleware{
		Logger:            logger,
		Authenticator:     authenticator,
		Authorize:         auth.AdminAuthorizer(writeRole),
		Audit:             auditDeny,
		SkipPrefixes:      []string{"/healthz", "/readyz", "/metrics"},
		TrustForwardedFor: trustForwardedFor,
	}.Wrap(mux)
	handler = auth.IPRestriction{
		Logger:            logger,
		Prefix:            restPrefix,
		Subnets:           subnets,
		TrustForwardedFor: trustForwardedFor,
		Audit:             auditDeny,
	}.Wrap(handler)

	cfg := httpserver.Config{
		Service:         "adminapi",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
		WriteTimeout:    2 * time.Minute,
	}
	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "adminapi", metrics.Instrument("adminapi", handler))); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/metadeploy/metadeploy-go/internal/platform/migrations"
	"github.com/metadeploy/metadeploy-go/internal/platform/postgres"
	pgrepo "github.com/metadeploy/metadeploy-go/internal/repo/postgres"
)

func main() {
	var (
		envFile = flag.String("env", "", "optional .env file to load before reading config")
		down    = flag.Int("down", 0, "roll back this many migrations instead of applying")
		status  = flag.Bool("status", false, "print the applied schema version and exit")
		seed    = flag.String("seed", "", "YAML file with catalog rows to load after migrating")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			logger.Error("invalid env file", "path", *envFile, "error", err)
			os.Exit(2)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}

	var seedFile *SeedFile
	if *seed != "" {
		seedFile, err = LoadSeedFile(*seed)
		if err != nil {
			logger.Error("invalid seed file", "path", *seed, "error", err)
			os.Exit(2)
		}
	}

	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	switch {
	case *status:
		st, err := migrations.Current(db)
		if err != nil {
			logger.Error("migration status failed", "error", err)
			os.Exit(1)
		}
		names, _ := migrations.Names()
		fmt.Printf("version=%d dirty=%t embedded=%d\n", st.Version, st.Dirty, len(names))
		return
	case *down > 0:
		if err := migrations.Down(db, *down); err != nil {
			logger.Error("migrate down failed", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations rolled back", "steps", *down)
		return
	}

	if _, err := migrations.Up(logger, db); err != nil {
		logger.Error("migrate up failed", "error", err)
		os.Exit(1)
	}

	if seedFile == nil {
		return
	}
	seeder := Seeder{
		Logger:       logger,
		Categories:   pgrepo.NewCategoryStore(db),
		AllowedLists: pgrepo.NewAllowedListStore(db),
		Products:     pgrepo.NewProductStore(db),
		Versions:     pgrepo.NewVersionStore(db),
		Templates:    pgrepo.NewPlanTemplateStore(db),
		Plans:        pgrepo.NewPlanStore(db),
		Translations: pgrepo.NewTranslationStore(db),
	}
	summary, err := seeder.Apply(ctx, *seedFile)
	if err != nil {
		logger.Error("seed failed", "error", err)
		os.Exit(1)
	}
	logger.Info("seed applied", "created", summary.Created, "skipped", summary.Skipped)
}

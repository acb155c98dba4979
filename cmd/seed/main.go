package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/ahecn/referraldesk/internal/adapters/database"
	"github.com/ahecn/referraldesk/internal/adapters/storage"
	"github.com/ahecn/referraldesk/internal/application/services"
	"github.com/ahecn/referraldesk/internal/domain/repositories"
	"github.com/ahecn/referraldesk/internal/infrastructure/clients/postgres"
	"github.com/ahecn/referraldesk/internal/infrastructure/observability"
	"github.com/ahecn/referraldesk/pkg/config"
)

// seed writes a synthetic day of referrals into the configured dataset backend
func main() {
	count := flag.Int("n", 140, "number of referrals to generate")
	seed := flag.Int64("seed", 2025, "random seed; the same seed reproduces the same load")
	dayFlag := flag.String("day", "", "day to generate (YYYY-MM-DD, default today UTC)")
	reset := flag.Bool("reset", os.Getenv("RESET_DATASET") == "true", "replace the stored dataset instead of merging")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	observability.InitLogger("referraldesk-seed", cfg.Server.Environment)

	day := time.Now().UTC()
	if *dayFlag != "" {
		day, err = time.Parse(time.DateOnly, *dayFlag)
		if err != nil {
			log.Fatal().Err(err).Str("day", *dayFlag).Msg("invalid -day")
		}
	}

	ctx := context.Background()

	var repo repositories.DatasetRepository
	switch cfg.Dataset.Backend {
	case "postgres":
		pgClient, err := postgres.NewClient(ctx, &cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to PostgreSQL")
		}
		defer pgClient.Close()

		adapter := database.NewDatasetAdapter(pgClient, cfg.Dataset.Name)
		if err := adapter.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to prepare dataset schema")
		}
		repo = adapter
	default:
		repo = storage.NewOSFileDatasetStore(cfg.Dataset.Path)
	}

	generated := services.GenerateDayLoad(services.SyntheticLoadConfig{
		Day:   day,
		Count: *count,
		Seed:  *seed,
	})

	dataset := generated
	added := len(generated.Referrals)
	if !*reset {
		dataset, err = repo.Load(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load existing dataset")
		}
		added = services.MergeDatasets(dataset, generated)
	} else {
		log.Warn().Str("backend", cfg.Dataset.Backend).Msg("reset requested, replacing stored dataset")
	}

	if err := repo.Save(ctx, dataset); err != nil {
		log.Fatal().Err(err).Msg("failed to save dataset")
	}

	log.Info().
		Str("backend", cfg.Dataset.Backend).
		Str("day", day.Format(time.DateOnly)).
		Int("added", added).
		Int("total", len(dataset.Referrals)).
		Msg("synthetic referrals seeded")
}

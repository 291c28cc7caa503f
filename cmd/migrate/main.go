package main

import (
	"context"
	"flag"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/account-ledger/internal/config"
	"github.com/dvloznov/account-ledger/internal/infra/postgres"
	"github.com/dvloznov/account-ledger/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	var (
		driver        = flag.String("driver", "postgres", "Migration target: postgres or bigquery")
		databaseURL   = flag.String("database-url", cfg.DatabaseURL, "Postgres connection URL (or set DATABASE_URL env)")
		projectID     = flag.String("project", cfg.BigQueryProject, "GCP project ID (or set BIGQUERY_PROJECT env)")
		datasetID     = flag.String("dataset", cfg.BigQueryDataset, "BigQuery dataset ID")
		appliedBy     = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
		migrationsDir = flag.String("migrations", "", "Path to migrations directory (defaults to migrations/<driver>)")
	)
	flag.Parse()

	log := logger.NewFromConfig(cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	dir := *migrationsDir
	if dir == "" {
		dir = "migrations/" + *driver
	}
	dir, err = resolveDir(dir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to locate migrations")
	}

	var (
		t            target
		replacements map[string]string
	)
	switch *driver {
	case "postgres":
		if *databaseURL == "" {
			log.Fatal().Msg("Error: -database-url flag or DATABASE_URL is required")
		}
		pool, err := postgres.Connect(ctx, *databaseURL, postgres.DefaultPoolConfig(), log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Postgres")
		}
		defer pool.Close()
		t = &postgresTarget{pool: pool}

	case "bigquery":
		if *projectID == "" {
			log.Fatal().Msg("Error: -project flag is required. Please specify your GCP project ID.")
		}
		client, err := bigquery.NewClient(ctx, *projectID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create BigQuery client")
		}
		defer client.Close()
		log.Info().Str("project", *projectID).Str("dataset", *datasetID).Msg("Connected to BigQuery")
		t = &bigqueryTarget{client: client, projectID: *projectID, datasetID: *datasetID}
		replacements = map[string]string{"PROJECT_ID": *projectID, "DATASET_ID": *datasetID}

	default:
		log.Fatal().Str("driver", *driver).Msg("Unknown driver, expected postgres or bigquery")
	}

	// Read migration files
	migrations, err := readMigrations(dir, replacements, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read migrations")
	}

	count, err := run(ctx, t, migrations, *appliedBy, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}

	if count == 0 {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
	} else {
		log.Info().Int("count", count).Msg("Successfully applied migrations")
	}
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/account-ledger/internal/config"
	"github.com/dvloznov/account-ledger/internal/events"
	"github.com/dvloznov/account-ledger/internal/events/kafka"
	infraBQ "github.com/dvloznov/account-ledger/internal/infra/bigquery"
	"github.com/dvloznov/account-ledger/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger
	log := logger.NewFromConfig(cfg.LogFormat, cfg.LogLevel)

	if len(cfg.KafkaBrokers) == 0 {
		log.Fatal().Msg("KAFKA_BROKERS is required for the standalone worker")
	}
	if cfg.BigQueryProject == "" {
		log.Fatal().Msg("BIGQUERY_PROJECT is required for the standalone worker")
	}

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	exporter, err := infraBQ.NewExporter(ctx, cfg.BigQueryProject, cfg.BigQueryDataset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery exporter")
	}
	defer exporter.Close()

	consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Kafka consumer")
	}

	log.Info().
		Strs("brokers", cfg.KafkaBrokers).
		Str("topic", cfg.KafkaTopic).
		Str("group_id", cfg.KafkaGroupID).
		Str("dataset", cfg.BigQueryDataset).
		Msg("Starting export worker")

	handler := func(ctx context.Context, e *events.TransactionRecorded) error {
		if err := exporter.HandleTransaction(ctx, e); err != nil {
			log.Error().
				Err(err).
				Str("event_id", e.EventID).
				Str("reference", e.Reference).
				Msg("Export failed")
			return err
		}

		log.Debug().
			Str("event_id", e.EventID).
			Str("reference", e.Reference).
			Str("account_number", e.AccountNumber).
			Msg("Transaction exported")
		return nil
	}

	// Start consuming events
	if err := consumer.Start(ctx, handler); err != nil {
		log.Fatal().Err(err).Msg("Failed to start consumer")
	}

	log.Info().Msg("Worker started, waiting for events...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the consumer and wait for the in-flight event
	if err := consumer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Msg("Worker exited")
}

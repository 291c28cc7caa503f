package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/account-ledger/internal/api/handlers"
	"github.com/dvloznov/account-ledger/internal/api/middleware"
	"github.com/dvloznov/account-ledger/internal/app"
	"github.com/dvloznov/account-ledger/internal/config"
	"github.com/dvloznov/account-ledger/internal/events"
	"github.com/dvloznov/account-ledger/internal/events/inmemory"
	infraBQ "github.com/dvloznov/account-ledger/internal/infra/bigquery"
	"github.com/dvloznov/account-ledger/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Parse command-line flags
	port := flag.String("port", cfg.Port, "HTTP server port")
	flag.Parse()

	// Initialize logger
	log := logger.NewFromConfig(cfg.LogFormat, cfg.LogLevel)
	ctx := logger.WithContext(context.Background(), log)

	// Without Kafka, events go through an in-process queue drained by an
	// embedded exporter.
	var queue *inmemory.Queue
	var opts []app.Option
	if len(cfg.KafkaBrokers) == 0 {
		queue = inmemory.NewQueue(100)
		opts = append(opts, app.WithPublisher(queue))
	}

	ledgerApp, err := app.Build(ctx, cfg, log, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build ledger")
	}
	defer ledgerApp.Close()

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if queue != nil {
		handler, closeHandler := embeddedHandler(ctx, cfg, log)
		defer closeHandler()

		log.Info().Msg("Starting embedded event worker")
		if err := queue.Start(workerCtx, handler); err != nil {
			log.Fatal().Err(err).Msg("Failed to start event worker")
		}
	}

	// Initialize handlers
	accountsHandler := handlers.NewAccountsHandler(ledgerApp.Accounts, ledgerApp.Transactions)
	transactionsHandler := handlers.NewTransactionsHandler(ledgerApp.Transactions)
	mux := handlers.NewRouter(accountsHandler, transactionsHandler)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      middleware.Chain(mux, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", *port).Str("env", cfg.Env).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if queue != nil {
		// Stop the queue and wait for in-flight exports
		if err := queue.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error stopping event queue")
		}
		cancelWorker()
		if err := queue.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close event queue")
		}
	}

	log.Info().Msg("Server exited")
}

// embeddedHandler exports to BigQuery when a project is configured and
// otherwise only logs each event.
func embeddedHandler(ctx context.Context, cfg *config.Config, log zerolog.Logger) (events.Handler, func()) {
	if cfg.BigQueryProject == "" {
		log.Warn().Msg("BIGQUERY_PROJECT not set, transaction events are logged only")
		return func(ctx context.Context, e *events.TransactionRecorded) error {
			log.Info().
				Str("event_id", e.EventID).
				Str("reference", e.Reference).
				Str("account_number", e.AccountNumber).
				Str("kind", string(e.Kind)).
				Str("outcome", string(e.Outcome)).
				Msg("Transaction recorded")
			return nil
		}, func() {}
	}

	exporter, err := infraBQ.NewExporter(ctx, cfg.BigQueryProject, cfg.BigQueryDataset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery exporter")
	}
	return exporter.HandleTransaction, func() {
		if err := exporter.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close BigQuery exporter")
		}
	}
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/account-ledger/internal/app"
	"github.com/dvloznov/account-ledger/internal/config"
	infraBQ "github.com/dvloznov/account-ledger/internal/infra/bigquery"
	"github.com/dvloznov/account-ledger/internal/logger"
	"github.com/dvloznov/account-ledger/internal/statements"
	"github.com/dvloznov/account-ledger/internal/transaction"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewFromConfig(cfg.LogFormat, cfg.LogLevel)

	switch os.Args[1] {
	case "open":
		runOpen(cfg, log)
	case "close":
		runClose(cfg, log)
	case "list":
		runList(cfg, log)
	case "use":
		runUse(cfg, log)
	case "cancel":
		runCancel(cfg, log)
	case "query":
		runQuery(cfg, log)
	case "history":
		runHistory(cfg, log)
	case "statement":
		runStatement(cfg, log)
	case "analytics":
		runAnalytics(cfg, log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Account Ledger CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  open       Open an account for an owner")
	fmt.Println("  close      Close an account")
	fmt.Println("  list       List an owner's accounts")
	fmt.Println("  use        Debit an account")
	fmt.Println("  cancel     Reverse a previous debit")
	fmt.Println("  query      Show one transaction by reference")
	fmt.Println("  history    Show the transactions of an account")
	fmt.Println("  statement  Export an account statement to GCS")
	fmt.Println("  analytics  Query exported transactions in BigQuery")
	fmt.Println("  help       Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// withLedger builds the ledger for one command and releases it afterwards.
func withLedger(cfg *config.Config, log zerolog.Logger, fn func(ctx context.Context, a *app.App)) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build ledger")
	}
	defer a.Close()

	fn(ctx, a)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encoding output: %v\n", err)
	}
}

func runOpen(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("open", flag.ExitOnError)
	userID := fs.Int64("user-id", 0, "Owner ID")
	balance := fs.Int64("balance", 0, "Initial balance in minor units")
	fs.Parse(os.Args[2:])

	if *userID < 1 {
		log.Fatal().Msg("Usage: cli open -user-id ID [-balance N]")
	}

	withLedger(cfg, log, func(ctx context.Context, a *app.App) {
		acc, err := a.Accounts.Open(ctx, *userID, *balance)
		if err != nil {
			log.Fatal().Err(err).Msg("Open failed")
		}
		printJSON(acc)
	})
}

func runClose(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("close", flag.ExitOnError)
	userID := fs.Int64("user-id", 0, "Owner ID")
	number := fs.String("account", "", "Account number")
	fs.Parse(os.Args[2:])

	if *userID < 1 || *number == "" {
		log.Fatal().Msg("Usage: cli close -user-id ID -account NUMBER")
	}

	withLedger(cfg, log, func(ctx context.Context, a *app.App) {
		acc, err := a.Accounts.Close(ctx, *userID, *number)
		if err != nil {
			log.Fatal().Err(err).Msg("Close failed")
		}
		printJSON(acc)
	})
}

func runList(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	userID := fs.Int64("user-id", 0, "Owner ID")
	fs.Parse(os.Args[2:])

	if *userID < 1 {
		log.Fatal().Msg("Usage: cli list -user-id ID")
	}

	withLedger(cfg, log, func(ctx context.Context, a *app.App) {
		accounts, err := a.Accounts.ListByOwner(ctx, *userID)
		if err != nil {
			log.Fatal().Err(err).Msg("List failed")
		}
		printJSON(accounts)
	})
}

func runUse(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("use", flag.ExitOnError)
	userID := fs.Int64("user-id", 0, "Owner ID")
	number := fs.String("account", "", "Account number")
	amount := fs.Int64("amount", 0, "Amount in minor units")
	fs.Parse(os.Args[2:])

	if *userID < 1 || *number == "" || *amount <= 0 {
		log.Fatal().Msg("Usage: cli use -user-id ID -account NUMBER -amount N")
	}

	withLedger(cfg, log, func(ctx context.Context, a *app.App) {
		tx, err := a.Transactions.UseBalance(ctx, *userID, *number, *amount)
		if err != nil {
			if transaction.FailureRecordable(err) {
				if _, recErr := a.Transactions.RecordFailedUse(ctx, *number, *amount); recErr != nil {
					log.Error().Err(recErr).Msg("Failed to record failed use")
				}
			}
			log.Fatal().Err(err).Msg("Use failed")
		}
		printJSON(tx)
	})
}

func runCancel(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	reference := fs.String("reference", "", "Reference of the transaction to cancel")
	number := fs.String("account", "", "Account number")
	amount := fs.Int64("amount", 0, "Amount in minor units")
	fs.Parse(os.Args[2:])

	if *reference == "" || *number == "" || *amount <= 0 {
		log.Fatal().Msg("Usage: cli cancel -reference REF -account NUMBER -amount N")
	}

	withLedger(cfg, log, func(ctx context.Context, a *app.App) {
		tx, err := a.Transactions.CancelBalance(ctx, *reference, *number, *amount)
		if err != nil {
			if transaction.FailureRecordable(err) {
				if _, recErr := a.Transactions.RecordFailedCancel(ctx, *number, *amount); recErr != nil {
					log.Error().Err(recErr).Msg("Failed to record failed cancel")
				}
			}
			log.Fatal().Err(err).Msg("Cancel failed")
		}
		printJSON(tx)
	})
}

func runQuery(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	reference := fs.String("reference", "", "Transaction reference")
	fs.Parse(os.Args[2:])

	if *reference == "" {
		log.Fatal().Msg("Usage: cli query -reference REF")
	}

	withLedger(cfg, log, func(ctx context.Context, a *app.App) {
		tx, err := a.Transactions.QueryTransaction(ctx, *reference)
		if err != nil {
			log.Fatal().Err(err).Msg("Query failed")
		}
		printJSON(tx)
	})
}

func runHistory(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	number := fs.String("account", "", "Account number")
	fs.Parse(os.Args[2:])

	if *number == "" {
		log.Fatal().Msg("Usage: cli history -account NUMBER")
	}

	withLedger(cfg, log, func(ctx context.Context, a *app.App) {
		txs, err := a.Transactions.History(ctx, *number)
		if err != nil {
			log.Fatal().Err(err).Msg("History failed")
		}

		fmt.Printf("\n=== Transactions of %s (%d) ===\n", *number, len(txs))
		for i, tx := range txs {
			fmt.Printf("\n%d. %s %s\n", i+1, tx.Kind, tx.Outcome)
			fmt.Printf("   Reference: %s\n", tx.TransactionID)
			fmt.Printf("   Amount:    %s\n", statements.FormatAmount(tx.Amount))
			fmt.Printf("   Balance:   %s\n", statements.FormatAmount(tx.BalanceAfter))
			fmt.Printf("   At:        %s\n", tx.TransactedAt.Format(time.RFC3339))
		}
		fmt.Println()
	})
}

func runStatement(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("statement", flag.ExitOnError)
	number := fs.String("account", "", "Account number")
	bucket := fs.String("bucket", cfg.StatementBucket, "GCS bucket name (or set STATEMENT_BUCKET env)")
	fs.Parse(os.Args[2:])

	if *number == "" || *bucket == "" {
		log.Fatal().Msg("Usage: cli statement -account NUMBER [-bucket NAME]")
	}

	withLedger(cfg, log, func(ctx context.Context, a *app.App) {
		gcs, err := statements.NewGCSStore(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create GCS client")
		}
		defer gcs.Close()

		exporter, err := statements.NewExporter(a.Transactions, gcs, *bucket)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create statement exporter")
		}

		uri, err := exporter.Export(ctx, *number)
		if err != nil {
			log.Fatal().Err(err).Msg("Statement export failed")
		}
		fmt.Printf("Exported statement of %s to %s\n", *number, uri)
	})
}

func runAnalytics(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("analytics", flag.ExitOnError)
	number := fs.String("account", "", "Account number")
	from := fs.String("from", "", "Start date (YYYY-MM-DD), defaults to 30 days ago")
	to := fs.String("to", "", "End date (YYYY-MM-DD), defaults to today")
	fs.Parse(os.Args[2:])

	if *number == "" {
		log.Fatal().Msg("Usage: cli analytics -account NUMBER [-from DATE] [-to DATE]")
	}
	if cfg.BigQueryProject == "" {
		log.Fatal().Msg("BIGQUERY_PROJECT is required")
	}

	endDate := time.Now().UTC()
	startDate := endDate.AddDate(0, 0, -30)
	var err error
	if *from != "" {
		if startDate, err = time.Parse("2006-01-02", *from); err != nil {
			log.Fatal().Err(err).Msg("Invalid -from date")
		}
	}
	if *to != "" {
		if endDate, err = time.Parse("2006-01-02", *to); err != nil {
			log.Fatal().Err(err).Msg("Invalid -to date")
		}
	}

	ctx := logger.WithContext(context.Background(), log)
	exporter, err := infraBQ.NewExporter(ctx, cfg.BigQueryProject, cfg.BigQueryDataset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer exporter.Close()

	rows, err := exporter.QueryAccountTransactions(ctx, *number, startDate, endDate)
	if err != nil {
		log.Fatal().Err(err).Msg("Analytics query failed")
	}

	fmt.Printf("\n=== Exported transactions of %s (%d) ===\n", *number, len(rows))
	for i, row := range rows {
		fmt.Printf("\n%d. %s %s on %s\n", i+1, row.Kind, row.Outcome, row.TransactedDate)
		fmt.Printf("   Reference: %s\n", row.Reference)
		fmt.Printf("   Amount:    %s\n", statements.FormatAmount(row.Amount))
		fmt.Printf("   Balance:   %s\n", statements.FormatAmount(row.BalanceAfter))
	}
	fmt.Println()
}

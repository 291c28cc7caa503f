// Package app assembles the ledger (store, account lock, event publisher)
// from configuration for the API and the CLI.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dvloznov/account-ledger/internal/config"
	"github.com/dvloznov/account-ledger/internal/events"
	"github.com/dvloznov/account-ledger/internal/events/kafka"
	"github.com/dvloznov/account-ledger/internal/infra/postgres"
	"github.com/dvloznov/account-ledger/internal/ledger"
	"github.com/dvloznov/account-ledger/internal/lock"
	"github.com/dvloznov/account-ledger/internal/store"
	"github.com/dvloznov/account-ledger/internal/store/inmemory"
	"github.com/dvloznov/account-ledger/internal/transaction"
)

// App holds the wired ledger and the resources it owns.
type App struct {
	Accounts     *ledger.Service
	Transactions *transaction.Processor

	// Publisher is what the processor publishes to. Callers that pass
	// WithPublisher keep ownership of it.
	Publisher events.Publisher

	closers []func() error
	log     zerolog.Logger
}

type options struct {
	publisher events.Publisher
}

// Option customises Build.
type Option func(*options)

// WithPublisher makes the processor publish to p instead of the publisher
// chosen from configuration.
func WithPublisher(p events.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// Build connects the store, lock and publisher selected by cfg.
// On error every resource opened so far is released.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts ...Option) (_ *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	uow, err := a.buildStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("Build: %w", err)
	}

	locker, err := a.buildLocker(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("Build: %w", err)
	}

	publisher := o.publisher
	if publisher == nil {
		publisher, err = a.buildPublisher(cfg)
		if err != nil {
			return nil, fmt.Errorf("Build: %w", err)
		}
	}

	a.Accounts = ledger.NewService(uow)
	a.Transactions = transaction.NewProcessor(uow, locker, publisher)
	a.Publisher = publisher
	return a, nil
}

func (a *App) buildStore(ctx context.Context, cfg *config.Config) (store.UnitOfWork, error) {
	if cfg.DatabaseURL == "" {
		a.log.Warn().Msg("DATABASE_URL not set, using in-memory store")
		st := inmemory.NewStore()
		for _, owner := range cfg.SeedOwners {
			st.AddOwner(owner)
		}
		return st, nil
	}

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.DefaultPoolConfig(), a.log)
	if err != nil {
		return nil, fmt.Errorf("buildStore: %w", err)
	}
	a.closers = append(a.closers, func() error { pool.Close(); return nil })

	st := postgres.NewStore(pool)
	for _, owner := range cfg.SeedOwners {
		if err := st.UpsertOwner(ctx, owner); err != nil {
			return nil, fmt.Errorf("buildStore: seeding owner %d: %w", owner.ID, err)
		}
	}
	return st, nil
}

func (a *App) buildLocker(ctx context.Context, cfg *config.Config) (lock.Locker, error) {
	if cfg.RedisAddr == "" {
		a.log.Warn().Msg("REDIS_ADDR not set, account locks are process-local")
		return lock.NewLocalLocker(), nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	a.closers = append(a.closers, client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("buildLocker: pinging redis at %s: %w", cfg.RedisAddr, err)
	}

	locker, err := lock.NewRedisLocker(client, lock.DefaultOptions(), a.log)
	if err != nil {
		return nil, fmt.Errorf("buildLocker: %w", err)
	}
	a.log.Info().Str("addr", cfg.RedisAddr).Msg("Using Redis account locks")
	return locker, nil
}

func (a *App) buildPublisher(cfg *config.Config) (events.Publisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return events.NopPublisher{}, nil
	}

	publisher, err := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		return nil, fmt.Errorf("buildPublisher: %w", err)
	}
	guarded := events.NewBreakerPublisher(publisher, "kafka-"+cfg.KafkaTopic, events.DefaultBreakerSettings(), a.log)
	a.closers = append(a.closers, guarded.Close)
	a.log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("Publishing transaction events to Kafka")
	return guarded, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Error().Err(err).Msg("Failed to release resource")
		}
	}
	a.closers = nil
}

//go:build integration

package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dvloznov/account-ledger/internal/domain"
	"github.com/dvloznov/account-ledger/internal/ledger"
	"github.com/dvloznov/account-ledger/internal/lock"
	"github.com/dvloznov/account-ledger/internal/logger"
	"github.com/dvloznov/account-ledger/internal/store"
	"github.com/dvloznov/account-ledger/internal/transaction"
)

// setupPostgres starts a disposable Postgres container, applies the ledger
// schema and returns a connected pool.
func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("ledger"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(ctx))
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := Connect(ctx, dsn, DefaultPoolConfig(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	files, err := filepath.Glob(filepath.Join("..", "..", "..", "migrations", "postgres", "*.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	sort.Strings(files)
	for _, f := range files {
		sql, err := os.ReadFile(f)
		require.NoError(t, err)
		_, err = pool.Exec(ctx, string(sql))
		require.NoError(t, err, f)
	}
	return pool
}

func TestIntegration_Store_UseAndCancel(t *testing.T) {
	pool := setupPostgres(t)
	st := NewStore(pool)
	ctx := logger.WithContext(context.Background(), zerolog.Nop())

	require.NoError(t, st.UpsertOwner(ctx, domain.Owner{ID: 1, Name: "Pobi"}))
	require.NoError(t, st.UpsertOwner(ctx, domain.Owner{ID: 2, Name: "Harry"}))

	svc := ledger.NewService(st)
	proc := transaction.NewProcessor(st, lock.NewLocalLocker(), nil)

	acc, err := svc.Open(ctx, 1, 10000)
	require.NoError(t, err)
	assert.Equal(t, domain.FirstAccountNumber, acc.AccountNumber)

	used, err := proc.UseBalance(ctx, 1, acc.AccountNumber, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(9000), used.BalanceAfter)

	_, err = proc.UseBalance(ctx, 2, acc.AccountNumber, 1000)
	assert.ErrorIs(t, err, domain.ErrOwnershipMismatch)

	cancelled, err := proc.CancelBalance(ctx, used.TransactionID, acc.AccountNumber, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), cancelled.BalanceAfter)

	got, err := proc.QueryTransaction(ctx, used.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, acc.AccountNumber, got.AccountNumber)
	assert.True(t, used.TransactedAt.Equal(got.TransactedAt))

	history, err := proc.History(ctx, acc.AccountNumber)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.TransactionKindUse, history[0].Kind)
	assert.Equal(t, domain.TransactionKindCancel, history[1].Kind)

	views, err := svc.ListByOwner(ctx, 1)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, int64(10000), views[0].Balance)
}

func TestIntegration_Store_RollsBackOnError(t *testing.T) {
	pool := setupPostgres(t)
	st := NewStore(pool)
	ctx := context.Background()
	require.NoError(t, st.UpsertOwner(ctx, domain.Owner{ID: 1, Name: "Pobi"}))

	boom := errors.New("boom")
	err := st.WithinTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		now := time.Now()
		acc := &domain.Account{OwnerID: 1, Number: "1000000000", Status: domain.AccountStatusActive, OpenedAt: now}
		acc.Touch(now)
		require.NoError(t, repos.Accounts().SaveAccount(ctx, acc))
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, st.WithinTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		_, err := repos.Accounts().FindAccountByNumber(ctx, "1000000000")
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = repos.Owners().FindOwnerByID(ctx, 42)
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	}))
}

func TestIntegration_Store_DuplicateReference(t *testing.T) {
	pool := setupPostgres(t)
	st := NewStore(pool)
	ctx := logger.WithContext(context.Background(), zerolog.Nop())
	require.NoError(t, st.UpsertOwner(ctx, domain.Owner{ID: 1, Name: "Pobi"}))

	acc, err := ledger.NewService(st).Open(ctx, 1, 100)
	require.NoError(t, err)

	proc := transaction.NewProcessor(st, lock.NewLocalLocker(), nil,
		transaction.WithReferenceGenerator(func() string { return "fixed" }))
	_, err = proc.RecordFailedUse(ctx, acc.AccountNumber, 500)
	require.NoError(t, err)

	_, err = proc.RecordFailedUse(ctx, acc.AccountNumber, 500)
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestIntegration_Store_ConcurrentOpensGetDistinctNumbers(t *testing.T) {
	pool := setupPostgres(t)
	st := NewStore(pool)
	ctx := logger.WithContext(context.Background(), zerolog.Nop())
	for id := int64(1); id <= 4; id++ {
		require.NoError(t, st.UpsertOwner(ctx, domain.Owner{ID: id, Name: "owner"}))
	}
	svc := ledger.NewService(st)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = map[string]bool{}
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(ownerID int64) {
			defer wg.Done()
			acc, err := svc.Open(ctx, ownerID, 0)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			numbers[acc.AccountNumber] = true
			mu.Unlock()
		}(int64(i%4) + 1)
	}
	wg.Wait()

	assert.Len(t, numbers, 20)
	assert.True(t, numbers["1000000019"])
}

func TestIntegration_Store_ConcurrentOpensRespectAccountLimit(t *testing.T) {
	pool := setupPostgres(t)
	st := NewStore(pool)
	ctx := logger.WithContext(context.Background(), zerolog.Nop())
	require.NoError(t, st.UpsertOwner(ctx, domain.Owner{ID: 1, Name: "Pobi"}))
	svc := ledger.NewService(st)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		opened   int
		rejected int
	)
	for i := 0; i < 2*domain.MaxAccountsPerOwner; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Open(ctx, 1, 0)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				opened++
			case errors.Is(err, domain.ErrTooManyAccounts):
				rejected++
			default:
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, domain.MaxAccountsPerOwner, opened)
	assert.Equal(t, domain.MaxAccountsPerOwner, rejected)

	views, err := svc.ListByOwner(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, views, domain.MaxAccountsPerOwner)
}

func TestIntegration_Store_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	pool := setupPostgres(t)
	st := NewStore(pool)
	ctx := logger.WithContext(context.Background(), zerolog.Nop())
	require.NoError(t, st.UpsertOwner(ctx, domain.Owner{ID: 1, Name: "Pobi"}))

	acc, err := ledger.NewService(st).Open(ctx, 1, 1000)
	require.NoError(t, err)

	// Row locks alone must serialise the debits: every goroutine gets its own
	// in-process locker.
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			proc := transaction.NewProcessor(st, lock.NewLocalLocker(), nil)
			_, _ = proc.UseBalance(ctx, 1, acc.AccountNumber, 100)
		}()
	}
	wg.Wait()

	views, err := ledger.NewService(st).ListByOwner(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), views[0].Balance)

	history, err := transaction.NewProcessor(st, lock.NewLocalLocker(), nil).History(ctx, acc.AccountNumber)
	require.NoError(t, err)
	assert.Len(t, history, 10)
}

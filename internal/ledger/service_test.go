package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/account-ledger/internal/domain"
	"github.com/dvloznov/account-ledger/internal/logger"
	"github.com/dvloznov/account-ledger/internal/store"
	"github.com/dvloznov/account-ledger/internal/store/inmemory"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, owners ...domain.Owner) (*Service, *inmemory.Store, context.Context) {
	t.Helper()
	st := inmemory.NewStore()
	for _, o := range owners {
		st.AddOwner(o)
	}
	svc := NewService(st, WithClock(func() time.Time { return fixedNow }))
	ctx := logger.WithContext(context.Background(), zerolog.Nop())
	return svc, st, ctx
}

func TestOpen_AssignsSequentialNumbers(t *testing.T) {
	svc, _, ctx := newTestService(t, domain.Owner{ID: 1, Name: "Pobi"}, domain.Owner{ID: 2, Name: "Harry"})

	first, err := svc.Open(ctx, 1, 10000)
	require.NoError(t, err)
	assert.Equal(t, domain.FirstAccountNumber, first.AccountNumber)
	assert.Equal(t, domain.AccountStatusActive, first.Status)
	assert.Equal(t, int64(10000), first.Balance)
	assert.Equal(t, fixedNow, first.OpenedAt)
	assert.Nil(t, first.ClosedAt)

	second, err := svc.Open(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, "1000000001", second.AccountNumber)
	assert.Equal(t, int64(2), second.UserID)
}

func TestOpen_Errors(t *testing.T) {
	svc, _, ctx := newTestService(t, domain.Owner{ID: 1, Name: "Pobi"})

	_, err := svc.Open(ctx, 99, 100)
	assert.ErrorIs(t, err, domain.ErrOwnerNotFound)

	_, err = svc.Open(ctx, 1, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestOpen_TenthSucceedsEleventhFails(t *testing.T) {
	svc, st, ctx := newTestService(t, domain.Owner{ID: 1, Name: "Pobi"})

	for i := 0; i < domain.MaxAccountsPerOwner; i++ {
		_, err := svc.Open(ctx, 1, 0)
		require.NoError(t, err, "account %d", i+1)
	}

	_, err := svc.Open(ctx, 1, 0)
	assert.ErrorIs(t, err, domain.ErrTooManyAccounts)

	// Closed accounts still count against the cap.
	_, err = svc.Close(ctx, 1, domain.FirstAccountNumber)
	require.NoError(t, err)
	_, err = svc.Open(ctx, 1, 0)
	assert.ErrorIs(t, err, domain.ErrTooManyAccounts)

	require.NoError(t, st.WithinTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		n, err := repos.Accounts().CountAccountsByOwner(ctx, 1)
		assert.Equal(t, domain.MaxAccountsPerOwner, n)
		return err
	}))
}

func TestClose(t *testing.T) {
	svc, _, ctx := newTestService(t, domain.Owner{ID: 1, Name: "Pobi"}, domain.Owner{ID: 2, Name: "Harry"})

	empty, err := svc.Open(ctx, 1, 0)
	require.NoError(t, err)
	funded, err := svc.Open(ctx, 1, 500)
	require.NoError(t, err)

	tests := []struct {
		name    string
		ownerID int64
		number  string
		want    error
	}{
		{"unknown owner", 99, empty.AccountNumber, domain.ErrOwnerNotFound},
		{"unknown account", 1, "1999999999", domain.ErrAccountNotFound},
		{"other owner", 2, empty.AccountNumber, domain.ErrOwnershipMismatch},
		{"balance not empty", 1, funded.AccountNumber, domain.ErrBalanceNotEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Close(ctx, tt.ownerID, tt.number)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	closed, err := svc.Close(ctx, 1, empty.AccountNumber)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)
	assert.Equal(t, fixedNow, *closed.ClosedAt)

	_, err = svc.Close(ctx, 1, empty.AccountNumber)
	assert.ErrorIs(t, err, domain.ErrAccountAlreadyClosed)
}

func TestClose_FailureLeavesAccountUntouched(t *testing.T) {
	svc, _, ctx := newTestService(t, domain.Owner{ID: 1, Name: "Pobi"})
	funded, err := svc.Open(ctx, 1, 500)
	require.NoError(t, err)

	_, err = svc.Close(ctx, 1, funded.AccountNumber)
	require.Error(t, err)

	views, err := svc.ListByOwner(ctx, 1)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, domain.AccountStatusActive, views[0].Status)
	assert.Equal(t, int64(500), views[0].Balance)
}

func TestListByOwner(t *testing.T) {
	svc, _, ctx := newTestService(t, domain.Owner{ID: 1, Name: "Pobi"}, domain.Owner{ID: 2, Name: "Harry"})

	_, err := svc.ListByOwner(ctx, 99)
	assert.ErrorIs(t, err, domain.ErrOwnerNotFound)

	_, err = svc.ListByOwner(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	_, err = svc.Open(ctx, 1, 100)
	require.NoError(t, err)
	_, err = svc.Open(ctx, 2, 200)
	require.NoError(t, err)
	_, err = svc.Open(ctx, 1, 300)
	require.NoError(t, err)

	views, err := svc.ListByOwner(ctx, 1)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "1000000000", views[0].AccountNumber)
	assert.Equal(t, "1000000002", views[1].AccountNumber)
	assert.Equal(t, int64(300), views[1].Balance)
}

type failingUnitOfWork struct{ err error }

func (f failingUnitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context, repos store.Repositories) error) error {
	return f.err
}

func TestService_PropagatesStoreFaults(t *testing.T) {
	fault := errors.New("connection refused")
	svc := NewService(failingUnitOfWork{err: fault})
	ctx := logger.WithContext(context.Background(), zerolog.Nop())

	_, err := svc.Open(ctx, 1, 0)
	assert.ErrorIs(t, err, fault)
	assert.False(t, domain.IsDomainError(err))

	_, err = svc.Close(ctx, 1, "1000000000")
	assert.ErrorIs(t, err, fault)

	_, err = svc.ListByOwner(ctx, 1)
	assert.ErrorIs(t, err, fault)
}

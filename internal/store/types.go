package store

import (
	"context"
	"errors"

	"github.com/dvloznov/account-ledger/internal/domain"
)

// ErrNotFound is returned by repository lookups that match no row.
// Services translate it into the matching domain error kind.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique column (account number, reference) collides.
var ErrDuplicate = errors.New("duplicate key")

// OwnerRepository resolves account owners from the user-identity store.
type OwnerRepository interface {
	// FindOwnerByID returns ErrNotFound when no owner has the given ID.
	FindOwnerByID(ctx context.Context, id int64) (*domain.Owner, error)
}

// AccountRepository provides account persistence.
type AccountRepository interface {
	// FindAccountByNumber returns ErrNotFound when no account has the number.
	// Inside a unit of work the account row is locked until the unit ends.
	FindAccountByNumber(ctx context.Context, number string) (*domain.Account, error)

	// FindAccountsByOwner returns the owner's accounts, oldest first.
	FindAccountsByOwner(ctx context.Context, ownerID int64) ([]*domain.Account, error)

	// CountAccountsByOwner counts active and closed accounts alike.
	CountAccountsByOwner(ctx context.Context, ownerID int64) (int, error)

	// FindHighestAccountNumber returns "" when no account exists.
	FindHighestAccountNumber(ctx context.Context) (string, error)

	// SaveAccount inserts the account when its ID is zero and updates it
	// otherwise. The stored ID is written back into acc.
	SaveAccount(ctx context.Context, acc *domain.Account) error
}

// TransactionRepository provides append-only transaction persistence.
type TransactionRepository interface {
	// FindTransactionByReference returns ErrNotFound for an unknown reference.
	FindTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error)

	// FindTransactionsByAccount returns the account's transactions, oldest first.
	FindTransactionsByAccount(ctx context.Context, accountID int64) ([]*domain.Transaction, error)

	// SaveTransaction inserts a new record. The stored ID is written back into tx.
	SaveTransaction(ctx context.Context, tx *domain.Transaction) error
}

// Repositories is the set of repositories bound to one unit of work.
type Repositories interface {
	Owners() OwnerRepository
	Accounts() AccountRepository
	Transactions() TransactionRepository
}

// UnitOfWork runs fn atomically: everything fn writes through repos is
// committed when fn returns nil and discarded when it returns an error.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

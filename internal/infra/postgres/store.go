package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dvloznov/account-ledger/internal/domain"
	"github.com/dvloznov/account-ledger/internal/store"
)

// accountNumberLockKey is the advisory lock that serialises account opening.
// Transactions take it before counting an owner's accounts and before reading
// the current maximum number, and hold it until they end.
const accountNumberLockKey int64 = 0x6c656467 // "ledg"

const uniqueViolation = "23505"

// Store runs units of work as Postgres transactions.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a store over pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithinTx implements store.UnitOfWork. Account rows read through repos are
// locked with SELECT ... FOR UPDATE until the transaction ends.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos store.Repositories) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("WithinTx: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &repos{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("WithinTx: commit: %w", err)
	}
	return nil
}

// UpsertOwner registers or renames an owner. The ledger never writes owners
// itself; commands use this to seed development databases.
func (s *Store) UpsertOwner(ctx context.Context, owner domain.Owner) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO account_owners (id, name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, updated_at = now()`,
		owner.ID, owner.Name)
	if err != nil {
		return fmt.Errorf("UpsertOwner: %w", err)
	}
	return nil
}

type repos struct {
	tx pgx.Tx
}

func (r *repos) Owners() store.OwnerRepository             { return r }
func (r *repos) Accounts() store.AccountRepository         { return r }
func (r *repos) Transactions() store.TransactionRepository { return r }

func (r *repos) FindOwnerByID(ctx context.Context, id int64) (*domain.Owner, error) {
	var o domain.Owner
	err := r.tx.QueryRow(ctx, `
		SELECT id, name, created_at, updated_at
		FROM account_owners WHERE id = $1`, id).
		Scan(&o.ID, &o.Name, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, notFound("FindOwnerByID", err)
	}
	return &o, nil
}

const accountColumns = `id, owner_id, number, status, balance, opened_at, closed_at, created_at, updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.OwnerID, &a.Number, &a.Status, &a.Balance, &a.OpenedAt, &a.ClosedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repos) FindAccountByNumber(ctx context.Context, number string) (*domain.Account, error) {
	acc, err := scanAccount(r.tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE number = $1 FOR UPDATE`, number))
	if err != nil {
		return nil, notFound("FindAccountByNumber", err)
	}
	return acc, nil
}

func (r *repos) FindAccountsByOwner(ctx context.Context, ownerID int64) ([]*domain.Account, error) {
	rows, err := r.tx.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1 ORDER BY id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("FindAccountsByOwner: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("FindAccountsByOwner: scan: %w", err)
		}
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("FindAccountsByOwner: %w", err)
	}
	return accounts, nil
}

// CountAccountsByOwner takes the account-opening advisory lock first, so a
// concurrent open for the same owner is counted once it commits.
func (r *repos) CountAccountsByOwner(ctx context.Context, ownerID int64) (int, error) {
	if err := r.lockAccountOpening(ctx); err != nil {
		return 0, fmt.Errorf("CountAccountsByOwner: %w", err)
	}

	var n int
	if err := r.tx.QueryRow(ctx, `SELECT count(*) FROM accounts WHERE owner_id = $1`, ownerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("CountAccountsByOwner: %w", err)
	}
	return n, nil
}

// FindHighestAccountNumber takes the account-opening advisory lock for the
// rest of the transaction, so concurrent opens read the maximum one at a time.
func (r *repos) FindHighestAccountNumber(ctx context.Context) (string, error) {
	if err := r.lockAccountOpening(ctx); err != nil {
		return "", fmt.Errorf("FindHighestAccountNumber: %w", err)
	}

	var number string
	err := r.tx.QueryRow(ctx, `
		SELECT number FROM accounts
		ORDER BY length(number) DESC, number DESC
		LIMIT 1`).Scan(&number)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("FindHighestAccountNumber: %w", err)
	}
	return number, nil
}

// lockAccountOpening is re-entrant within a transaction.
func (r *repos) lockAccountOpening(ctx context.Context) error {
	if _, err := r.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, accountNumberLockKey); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

func (r *repos) SaveAccount(ctx context.Context, acc *domain.Account) error {
	if acc.ID == 0 {
		err := r.tx.QueryRow(ctx, `
			INSERT INTO accounts (owner_id, number, status, balance, opened_at, closed_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id`,
			acc.OwnerID, acc.Number, acc.Status, acc.Balance, acc.OpenedAt, acc.ClosedAt, acc.CreatedAt, acc.UpdatedAt).
			Scan(&acc.ID)
		if err != nil {
			return duplicate("SaveAccount", err)
		}
		return nil
	}

	tag, err := r.tx.Exec(ctx, `
		UPDATE accounts
		SET status = $2, balance = $3, closed_at = $4, updated_at = $5
		WHERE id = $1`,
		acc.ID, acc.Status, acc.Balance, acc.ClosedAt, acc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("SaveAccount: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("SaveAccount: account %d: %w", acc.ID, store.ErrNotFound)
	}
	return nil
}

const transactionColumns = `t.id, t.reference, t.kind, t.outcome, t.account_id, a.number, t.amount, t.balance_after, t.transacted_at, t.created_at, t.updated_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(&t.ID, &t.Reference, &t.Kind, &t.Outcome, &t.AccountID, &t.AccountNumber,
		&t.Amount, &t.BalanceAfter, &t.TransactedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *repos) FindTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	tx, err := scanTransaction(r.tx.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions t JOIN accounts a ON a.id = t.account_id
		WHERE t.reference = $1`, reference))
	if err != nil {
		return nil, notFound("FindTransactionByReference", err)
	}
	return tx, nil
}

func (r *repos) FindTransactionsByAccount(ctx context.Context, accountID int64) ([]*domain.Transaction, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions t JOIN accounts a ON a.id = t.account_id
		WHERE t.account_id = $1
		ORDER BY t.id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("FindTransactionsByAccount: %w", err)
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("FindTransactionsByAccount: scan: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("FindTransactionsByAccount: %w", err)
	}
	return txs, nil
}

func (r *repos) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.ID != 0 {
		return fmt.Errorf("SaveTransaction: transaction %d is immutable", tx.ID)
	}
	err := r.tx.QueryRow(ctx, `
		INSERT INTO transactions (reference, kind, outcome, account_id, amount, balance_after, transacted_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		tx.Reference, tx.Kind, tx.Outcome, tx.AccountID, tx.Amount, tx.BalanceAfter, tx.TransactedAt, tx.CreatedAt, tx.UpdatedAt).
		Scan(&tx.ID)
	if err != nil {
		return duplicate("SaveTransaction", err)
	}
	return nil
}

func notFound(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func duplicate(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %s: %w", op, pgErr.ConstraintName, store.ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ store.UnitOfWork = (*Store)(nil)

package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/account-ledger/internal/domain"
	"github.com/dvloznov/account-ledger/internal/store"
)

// Store is an in-memory implementation of store.UnitOfWork.
// Units of work are serialised under one lock. Reads see the live data until
// the unit's first write, which stages a copy; the copy replaces the live data
// only when the unit succeeds.
// Data is lost on restart; use the Postgres store for anything durable.
type Store struct {
	mu    sync.Mutex
	state *state
}

type state struct {
	owners        map[int64]domain.Owner
	accounts      map[int64]domain.Account
	accountByNum  map[string]int64
	transactions  map[int64]domain.Transaction
	txByReference map[string]int64
	nextAccountID int64
	nextTxID      int64
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		state: &state{
			owners:        make(map[int64]domain.Owner),
			accounts:      make(map[int64]domain.Account),
			accountByNum:  make(map[string]int64),
			transactions:  make(map[int64]domain.Transaction),
			txByReference: make(map[string]int64),
		},
	}
}

// AddOwner registers an owner. Owners normally come from the identity
// service; this exists for tests and local runs.
func (s *Store) AddOwner(owner domain.Owner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.owners[owner.ID] = owner
}

// WithinTx implements store.UnitOfWork.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos store.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := &repos{live: s.state}
	if err := fn(ctx, r); err != nil {
		return err
	}
	if r.staged != nil {
		s.state = r.staged
	}
	return nil
}

func (st *state) clone() *state {
	c := &state{
		owners:        make(map[int64]domain.Owner, len(st.owners)),
		accounts:      make(map[int64]domain.Account, len(st.accounts)),
		accountByNum:  make(map[string]int64, len(st.accountByNum)),
		transactions:  make(map[int64]domain.Transaction, len(st.transactions)),
		txByReference: make(map[string]int64, len(st.txByReference)),
		nextAccountID: st.nextAccountID,
		nextTxID:      st.nextTxID,
	}
	for k, v := range st.owners {
		c.owners[k] = v
	}
	for k, v := range st.accounts {
		c.accounts[k] = copyAccount(v)
	}
	for k, v := range st.accountByNum {
		c.accountByNum[k] = v
	}
	// Transactions are never updated, so sharing values is safe.
	for k, v := range st.transactions {
		c.transactions[k] = v
	}
	for k, v := range st.txByReference {
		c.txByReference[k] = v
	}
	return c
}

func copyAccount(a domain.Account) domain.Account {
	if a.ClosedAt != nil {
		closedAt := *a.ClosedAt
		a.ClosedAt = &closedAt
	}
	return a
}

// repos binds the repositories to one unit of work.
type repos struct {
	live   *state
	staged *state
}

func (r *repos) read() *state {
	if r.staged != nil {
		return r.staged
	}
	return r.live
}

func (r *repos) write() *state {
	if r.staged == nil {
		r.staged = r.live.clone()
	}
	return r.staged
}

func (r *repos) Owners() store.OwnerRepository             { return r }
func (r *repos) Accounts() store.AccountRepository         { return r }
func (r *repos) Transactions() store.TransactionRepository { return r }

func (r *repos) FindOwnerByID(ctx context.Context, id int64) (*domain.Owner, error) {
	owner, ok := r.read().owners[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &owner, nil
}

func (r *repos) FindAccountByNumber(ctx context.Context, number string) (*domain.Account, error) {
	st := r.read()
	id, ok := st.accountByNum[number]
	if !ok {
		return nil, store.ErrNotFound
	}
	acc := copyAccount(st.accounts[id])
	return &acc, nil
}

func (r *repos) FindAccountsByOwner(ctx context.Context, ownerID int64) ([]*domain.Account, error) {
	var result []*domain.Account
	for _, a := range r.read().accounts {
		if a.OwnerID != ownerID {
			continue
		}
		acc := copyAccount(a)
		result = append(result, &acc)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *repos) CountAccountsByOwner(ctx context.Context, ownerID int64) (int, error) {
	n := 0
	for _, a := range r.read().accounts {
		if a.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

func (r *repos) FindHighestAccountNumber(ctx context.Context) (string, error) {
	var highest string
	for number := range r.read().accountByNum {
		// Numbers share one width, so string order is numeric order.
		if len(number) > len(highest) || (len(number) == len(highest) && number > highest) {
			highest = number
		}
	}
	return highest, nil
}

func (r *repos) SaveAccount(ctx context.Context, acc *domain.Account) error {
	st := r.write()
	if acc.ID == 0 {
		if _, taken := st.accountByNum[acc.Number]; taken {
			return fmt.Errorf("SaveAccount: account number %s: %w", acc.Number, store.ErrDuplicate)
		}
		st.nextAccountID++
		acc.ID = st.nextAccountID
		st.accountByNum[acc.Number] = acc.ID
	} else if _, ok := st.accounts[acc.ID]; !ok {
		return fmt.Errorf("SaveAccount: account %d: %w", acc.ID, store.ErrNotFound)
	}
	st.accounts[acc.ID] = copyAccount(*acc)
	return nil
}

func (r *repos) FindTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	st := r.read()
	id, ok := st.txByReference[reference]
	if !ok {
		return nil, store.ErrNotFound
	}
	tx := st.transactions[id]
	return &tx, nil
}

func (r *repos) FindTransactionsByAccount(ctx context.Context, accountID int64) ([]*domain.Transaction, error) {
	var result []*domain.Transaction
	for _, t := range r.read().transactions {
		if t.AccountID != accountID {
			continue
		}
		tx := t
		result = append(result, &tx)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *repos) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	st := r.write()
	if tx.ID != 0 {
		return fmt.Errorf("SaveTransaction: transaction %d is immutable", tx.ID)
	}
	if _, taken := st.txByReference[tx.Reference]; taken {
		return fmt.Errorf("SaveTransaction: reference %s: %w", tx.Reference, store.ErrDuplicate)
	}
	st.nextTxID++
	tx.ID = st.nextTxID
	st.transactions[tx.ID] = *tx
	st.txByReference[tx.Reference] = tx.ID
	return nil
}

// Ensure Store implements the UnitOfWork interface.
var _ store.UnitOfWork = (*Store)(nil)

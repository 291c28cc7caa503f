package domain

import (
	"fmt"
	"strconv"
	"time"
)

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	// AccountStatusActive accounts accept use and cancel operations.
	AccountStatusActive AccountStatus = "ACTIVE"
	// AccountStatusClosed is terminal; a closed account is never reopened.
	AccountStatusClosed AccountStatus = "CLOSED"
)

const (
	// MaxAccountsPerOwner caps how many accounts (active or closed) one owner may open.
	MaxAccountsPerOwner = 10

	// FirstAccountNumber is assigned when no account exists yet.
	FirstAccountNumber = "1000000000"
)

// Audit holds the bookkeeping timestamps shared by persisted entities.
type Audit struct {
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// Touch stamps the entity as modified at now, setting CreatedAt on first use.
func (a *Audit) Touch(now time.Time) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
}

// Owner is the holder of zero or more accounts. Owners are managed by the
// user-identity service; the ledger only ever reads them.
type Owner struct {
	ID   int64
	Name string
	Audit
}

// Account is a single financial account. Balance is kept in minor currency
// units and never goes below zero.
type Account struct {
	ID       int64
	OwnerID  int64
	Number   string
	Status   AccountStatus
	Balance  int64
	OpenedAt time.Time
	ClosedAt *time.Time // nil while active
	Audit
}

// IsActive reports whether the account still accepts balance operations.
func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// Debit decreases the balance by amount.
// It never persists anything; saving the account is the caller's job.
func (a *Account) Debit(amount int64) error {
	if amount < 0 {
		return &Error{Kind: KindInvalidAmount, AccountNumber: a.Number, Amount: amount, Balance: a.Balance}
	}
	if amount > a.Balance {
		return &Error{Kind: KindAmountExceedsBalance, AccountNumber: a.Number, Amount: amount, Balance: a.Balance}
	}
	a.Balance -= amount
	return nil
}

// Credit increases the balance by amount.
func (a *Account) Credit(amount int64) error {
	if amount < 0 {
		return &Error{Kind: KindInvalidAmount, AccountNumber: a.Number, Amount: amount, Balance: a.Balance}
	}
	a.Balance += amount
	return nil
}

// Close moves the account to CLOSED. Only an active, empty account can be closed.
func (a *Account) Close(now time.Time) error {
	if a.Status == AccountStatusClosed {
		return &Error{Kind: KindAccountAlreadyClosed, OwnerID: a.OwnerID, AccountNumber: a.Number}
	}
	if a.Balance > 0 {
		return &Error{Kind: KindBalanceNotEmpty, OwnerID: a.OwnerID, AccountNumber: a.Number, Balance: a.Balance}
	}
	a.Status = AccountStatusClosed
	closedAt := now
	a.ClosedAt = &closedAt
	a.Touch(now)
	return nil
}

// View returns the caller-facing snapshot of the account.
func (a *Account) View() AccountView {
	v := AccountView{
		UserID:        a.OwnerID,
		AccountNumber: a.Number,
		Status:        a.Status,
		Balance:       a.Balance,
		OpenedAt:      a.OpenedAt,
	}
	if a.ClosedAt != nil {
		closedAt := *a.ClosedAt
		v.ClosedAt = &closedAt
	}
	return v
}

// NextAccountNumber derives the number following highest.
// An empty highest means no account exists yet.
func NextAccountNumber(highest string) (string, error) {
	if highest == "" {
		return FirstAccountNumber, nil
	}
	n, err := strconv.ParseInt(highest, 10, 64)
	if err != nil {
		return "", fmt.Errorf("NextAccountNumber: parsing %q: %w", highest, err)
	}
	return strconv.FormatInt(n+1, 10), nil
}

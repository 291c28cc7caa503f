package domain

import (
	"time"
)

// TransactionKind distinguishes debits from their reversals.
type TransactionKind string

const (
	// TransactionKindUse is a debit attempt against an account.
	TransactionKindUse TransactionKind = "USE"
	// TransactionKindCancel is a full reversal of a prior use.
	TransactionKindCancel TransactionKind = "CANCEL"
)

// TransactionOutcome records whether the balance was actually changed.
type TransactionOutcome string

const (
	TransactionOutcomeSucceeded TransactionOutcome = "SUCCEEDED"
	TransactionOutcomeFailed    TransactionOutcome = "FAILED"
)

// Transaction is an immutable record of one ledger event.
// A cancel refers to the use it reverses only through the reference the
// caller supplied; no back link is stored.
type Transaction struct {
	ID            int64
	Reference     string // external token used for lookup and cancellation
	Kind          TransactionKind
	Outcome       TransactionOutcome
	AccountID     int64
	AccountNumber string
	Amount        int64
	BalanceAfter  int64 // pre-event balance when Outcome is FAILED
	TransactedAt  time.Time
	Audit
}

// NewTransaction builds the record for an event on acc. BalanceAfter is taken
// from acc as it is now, so callers mutate the account first.
func NewTransaction(kind TransactionKind, outcome TransactionOutcome, acc *Account, amount int64, reference string, now time.Time) *Transaction {
	tx := &Transaction{
		Reference:     reference,
		Kind:          kind,
		Outcome:       outcome,
		AccountID:     acc.ID,
		AccountNumber: acc.Number,
		Amount:        amount,
		BalanceAfter:  acc.Balance,
		TransactedAt:  now,
	}
	tx.Touch(now)
	return tx
}

// CancellableAt reports whether the transaction is still inside the
// one-year reversal window at now. A transaction exactly one year old is
// already outside it.
func (t *Transaction) CancellableAt(now time.Time) bool {
	return t.TransactedAt.After(now.AddDate(-1, 0, 0))
}

// View returns the caller-facing snapshot of the transaction.
func (t *Transaction) View() TransactionView {
	return TransactionView{
		AccountNumber: t.AccountNumber,
		Kind:          t.Kind,
		Outcome:       t.Outcome,
		TransactionID: t.Reference,
		Amount:        t.Amount,
		BalanceAfter:  t.BalanceAfter,
		TransactedAt:  t.TransactedAt,
	}
}

// Package transaction processes "use" (debit) and "cancel" (reversal)
// operations against ledger accounts and records every attempt.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/account-ledger/internal/domain"
	"github.com/dvloznov/account-ledger/internal/events"
	"github.com/dvloznov/account-ledger/internal/ledger"
	"github.com/dvloznov/account-ledger/internal/lock"
	"github.com/dvloznov/account-ledger/internal/logger"
	"github.com/dvloznov/account-ledger/internal/store"
)

// Processor validates and applies balance operations. Each operation runs as
// one unit of work while holding the account's lock.
type Processor struct {
	uow       store.UnitOfWork
	locker    lock.Locker
	publisher events.Publisher

	now          func() time.Time
	newReference func() string
	newEventID   func() string
}

// Option configures a Processor.
type Option func(*Processor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithReferenceGenerator replaces the random reference generator.
func WithReferenceGenerator(gen func() string) Option {
	return func(p *Processor) { p.newReference = gen }
}

// NewProcessor creates a processor. A nil publisher discards events.
func NewProcessor(uow store.UnitOfWork, locker lock.Locker, publisher events.Publisher, opts ...Option) *Processor {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	p := &Processor{
		uow:          uow,
		locker:       locker,
		publisher:    publisher,
		now:          time.Now,
		newReference: NewReference,
		newEventID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewReference returns a fresh transaction reference: a random UUID as 32
// lowercase hex characters.
func NewReference() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// UseBalance debits amount from the owner's account. Rules are checked in a
// fixed order and the first failing one is reported: owner, account,
// ownership, account status, then the amount.
func (p *Processor) UseBalance(ctx context.Context, ownerID int64, number string, amount int64) (domain.TransactionView, error) {
	var tx *domain.Transaction
	err := p.withAccountLock(ctx, number, func(ctx context.Context) error {
		return p.uow.WithinTx(ctx, func(ctx context.Context, repos store.Repositories) error {
			acc, err := ledger.FindOwnedAccount(ctx, repos, ownerID, number)
			if err != nil {
				return err
			}
			if !acc.IsActive() {
				return &domain.Error{Kind: domain.KindAccountAlreadyClosed, OwnerID: ownerID, AccountNumber: number}
			}
			if amount <= 0 {
				return &domain.Error{Kind: domain.KindInvalidAmount, OwnerID: ownerID, AccountNumber: number, Amount: amount, Balance: acc.Balance}
			}
			if err := acc.Debit(amount); err != nil {
				return err
			}

			now := p.now()
			acc.Touch(now)
			if err := repos.Accounts().SaveAccount(ctx, acc); err != nil {
				return fmt.Errorf("UseBalance: saving account: %w", err)
			}

			tx = domain.NewTransaction(domain.TransactionKindUse, domain.TransactionOutcomeSucceeded, acc, amount, p.newReference(), now)
			if err := repos.Transactions().SaveTransaction(ctx, tx); err != nil {
				return fmt.Errorf("UseBalance: saving transaction: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return domain.TransactionView{}, err
	}

	p.recorded(ctx, tx)
	return tx.View(), nil
}

// RecordFailedUse leaves an audit record for a use attempt that UseBalance
// rejected after the account was resolved. The balance is not touched and the
// amount is not re-validated.
func (p *Processor) RecordFailedUse(ctx context.Context, number string, amount int64) (domain.TransactionView, error) {
	return p.recordFailure(ctx, domain.TransactionKindUse, number, amount)
}

// RecordFailedCancel is RecordFailedUse for rejected cancel attempts.
func (p *Processor) RecordFailedCancel(ctx context.Context, number string, amount int64) (domain.TransactionView, error) {
	return p.recordFailure(ctx, domain.TransactionKindCancel, number, amount)
}

func (p *Processor) recordFailure(ctx context.Context, kind domain.TransactionKind, number string, amount int64) (domain.TransactionView, error) {
	var tx *domain.Transaction
	err := p.uow.WithinTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		acc, err := ledger.FindAccount(ctx, repos, number)
		if err != nil {
			return err
		}

		tx = domain.NewTransaction(kind, domain.TransactionOutcomeFailed, acc, amount, p.newReference(), p.now())
		if err := repos.Transactions().SaveTransaction(ctx, tx); err != nil {
			return fmt.Errorf("recordFailure: saving transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.TransactionView{}, err
	}

	p.recorded(ctx, tx)
	return tx.View(), nil
}

// CancelBalance reverses the use identified by reference, crediting amount
// back to the account. Rules in order: the original exists, the account
// exists, the original belongs to the account, amount equals the original
// amount, and the original is less than one year old.
//
// The original's kind and outcome are not checked, and neither is whether it
// was already cancelled. Any record on the account can be reversed once per
// call, including a FAILED use whose amount was never debited. Callers that
// need stricter semantics should check QueryTransaction first.
func (p *Processor) CancelBalance(ctx context.Context, reference, number string, amount int64) (domain.TransactionView, error) {
	var tx *domain.Transaction
	err := p.withAccountLock(ctx, number, func(ctx context.Context) error {
		return p.uow.WithinTx(ctx, func(ctx context.Context, repos store.Repositories) error {
			original, err := findTransaction(ctx, repos, reference)
			if err != nil {
				return err
			}
			acc, err := ledger.FindAccount(ctx, repos, number)
			if err != nil {
				return err
			}
			if original.AccountID != acc.ID {
				return &domain.Error{Kind: domain.KindTransactionAccountMismatch, AccountNumber: number, Reference: reference}
			}
			if amount != original.Amount {
				return &domain.Error{Kind: domain.KindCancelMustBeFull, AccountNumber: number, Reference: reference, Amount: amount}
			}

			now := p.now()
			if !original.CancellableAt(now) {
				return &domain.Error{Kind: domain.KindTooOldToCancel, AccountNumber: number, Reference: reference}
			}

			if err := acc.Credit(amount); err != nil {
				return err
			}
			acc.Touch(now)
			if err := repos.Accounts().SaveAccount(ctx, acc); err != nil {
				return fmt.Errorf("CancelBalance: saving account: %w", err)
			}

			tx = domain.NewTransaction(domain.TransactionKindCancel, domain.TransactionOutcomeSucceeded, acc, amount, p.newReference(), now)
			if err := repos.Transactions().SaveTransaction(ctx, tx); err != nil {
				return fmt.Errorf("CancelBalance: saving transaction: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return domain.TransactionView{}, err
	}

	p.recorded(ctx, tx)
	return tx.View(), nil
}

// QueryTransaction returns the transaction with the given reference.
func (p *Processor) QueryTransaction(ctx context.Context, reference string) (domain.TransactionView, error) {
	var view domain.TransactionView
	err := p.uow.WithinTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		tx, err := findTransaction(ctx, repos, reference)
		if err != nil {
			return err
		}
		view = tx.View()
		return nil
	})
	return view, err
}

// History returns every transaction recorded against the account, oldest
// first. An account with no transactions yields an empty slice.
func (p *Processor) History(ctx context.Context, number string) ([]domain.TransactionView, error) {
	var views []domain.TransactionView
	err := p.uow.WithinTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		acc, err := ledger.FindAccount(ctx, repos, number)
		if err != nil {
			return err
		}
		txs, err := repos.Transactions().FindTransactionsByAccount(ctx, acc.ID)
		if err != nil {
			return fmt.Errorf("History: %w", err)
		}
		views = make([]domain.TransactionView, 0, len(txs))
		for _, tx := range txs {
			views = append(views, tx.View())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return views, nil
}

// FailureRecordable reports whether a UseBalance or CancelBalance error
// happened after the account was resolved, so a failure record can be
// attached to that account.
func FailureRecordable(err error) bool {
	switch domain.KindOf(err) {
	case domain.KindOwnershipMismatch,
		domain.KindAccountAlreadyClosed,
		domain.KindAmountExceedsBalance,
		domain.KindTransactionAccountMismatch,
		domain.KindCancelMustBeFull,
		domain.KindTooOldToCancel:
		return true
	}
	return false
}

func (p *Processor) withAccountLock(ctx context.Context, number string, fn func(ctx context.Context) error) error {
	err := p.locker.WithLock(ctx, lock.AccountKey(number), fn)
	if errors.Is(err, lock.ErrNotAcquired) {
		return &domain.Error{Kind: domain.KindAccountLocked, AccountNumber: number}
	}
	return err
}

func findTransaction(ctx context.Context, repos store.Repositories, reference string) (*domain.Transaction, error) {
	tx, err := repos.Transactions().FindTransactionByReference(ctx, reference)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &domain.Error{Kind: domain.KindTransactionNotFound, Reference: reference}
	}
	if err != nil {
		return nil, fmt.Errorf("findTransaction: %w", err)
	}
	return tx, nil
}

// recorded logs a committed record and publishes it. The record is already
// durable, so a publish failure is logged and not returned.
func (p *Processor) recorded(ctx context.Context, tx *domain.Transaction) {
	log := logger.FromContext(ctx)
	log.Info().
		Str("reference", tx.Reference).
		Str("kind", string(tx.Kind)).
		Str("outcome", string(tx.Outcome)).
		Str("account_number", tx.AccountNumber).
		Int64("amount", tx.Amount).
		Int64("balance_after", tx.BalanceAfter).
		Msg("transaction recorded")

	if err := p.publisher.PublishTransaction(ctx, events.FromTransaction(p.newEventID(), tx)); err != nil {
		log.Warn().Err(err).Str("reference", tx.Reference).Msg("publishing transaction event failed")
	}
}

// Package ledger owns the account lifecycle: opening, closing and listing
// accounts. Balance mutation primitives live on domain.Account.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/account-ledger/internal/domain"
	"github.com/dvloznov/account-ledger/internal/logger"
	"github.com/dvloznov/account-ledger/internal/store"
)

// Service runs account lifecycle operations, each as one unit of work.
type Service struct {
	uow store.UnitOfWork
	now func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a ledger service over uow.
func NewService(uow store.UnitOfWork, opts ...Option) *Service {
	s := &Service{uow: uow, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates an active account for ownerID holding initialBalance.
// The number is one greater than the highest existing number, assigned in
// the same unit of work that inserts the account.
func (s *Service) Open(ctx context.Context, ownerID, initialBalance int64) (domain.AccountView, error) {
	if initialBalance < 0 {
		return domain.AccountView{}, &domain.Error{Kind: domain.KindInvalidAmount, OwnerID: ownerID, Amount: initialBalance}
	}

	var acc *domain.Account
	err := s.uow.WithinTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		if _, err := FindOwner(ctx, repos, ownerID); err != nil {
			return err
		}

		count, err := repos.Accounts().CountAccountsByOwner(ctx, ownerID)
		if err != nil {
			return fmt.Errorf("Open: counting accounts: %w", err)
		}
		if count >= domain.MaxAccountsPerOwner {
			return &domain.Error{Kind: domain.KindTooManyAccounts, OwnerID: ownerID}
		}

		highest, err := repos.Accounts().FindHighestAccountNumber(ctx)
		if err != nil {
			return fmt.Errorf("Open: reading highest account number: %w", err)
		}
		number, err := domain.NextAccountNumber(highest)
		if err != nil {
			return fmt.Errorf("Open: %w", err)
		}

		now := s.now()
		acc = &domain.Account{
			OwnerID:  ownerID,
			Number:   number,
			Status:   domain.AccountStatusActive,
			Balance:  initialBalance,
			OpenedAt: now,
		}
		acc.Touch(now)

		if err := repos.Accounts().SaveAccount(ctx, acc); err != nil {
			return fmt.Errorf("Open: saving account: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.AccountView{}, err
	}

	log := logger.FromContext(ctx)
	log.Info().
		Int64("owner_id", ownerID).
		Str("account_number", acc.Number).
		Int64("balance", acc.Balance).
		Msg("account opened")

	return acc.View(), nil
}

// Close moves an empty account owned by ownerID to CLOSED.
func (s *Service) Close(ctx context.Context, ownerID int64, number string) (domain.AccountView, error) {
	var acc *domain.Account
	err := s.uow.WithinTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		var err error
		acc, err = FindOwnedAccount(ctx, repos, ownerID, number)
		if err != nil {
			return err
		}
		if err := acc.Close(s.now()); err != nil {
			return err
		}
		if err := repos.Accounts().SaveAccount(ctx, acc); err != nil {
			return fmt.Errorf("Close: saving account: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.AccountView{}, err
	}

	log := logger.FromContext(ctx)
	log.Info().
		Int64("owner_id", ownerID).
		Str("account_number", number).
		Msg("account closed")

	return acc.View(), nil
}

// ListByOwner returns every account of ownerID, oldest first. An owner with
// no accounts is reported as AccountNotFound rather than an empty list.
func (s *Service) ListByOwner(ctx context.Context, ownerID int64) ([]domain.AccountView, error) {
	var views []domain.AccountView
	err := s.uow.WithinTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		if _, err := FindOwner(ctx, repos, ownerID); err != nil {
			return err
		}

		accounts, err := repos.Accounts().FindAccountsByOwner(ctx, ownerID)
		if err != nil {
			return fmt.Errorf("ListByOwner: %w", err)
		}
		if len(accounts) == 0 {
			return &domain.Error{Kind: domain.KindAccountNotFound, OwnerID: ownerID}
		}

		views = make([]domain.AccountView, 0, len(accounts))
		for _, acc := range accounts {
			views = append(views, acc.View())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return views, nil
}

package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/account-ledger/internal/domain"
	"github.com/dvloznov/account-ledger/internal/store"
)

// FindOwner resolves an owner inside a unit of work, reporting a missing
// owner as OwnerNotFound.
func FindOwner(ctx context.Context, repos store.Repositories, ownerID int64) (*domain.Owner, error) {
	owner, err := repos.Owners().FindOwnerByID(ctx, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &domain.Error{Kind: domain.KindOwnerNotFound, OwnerID: ownerID}
	}
	if err != nil {
		return nil, fmt.Errorf("FindOwner: %w", err)
	}
	return owner, nil
}

// FindAccount resolves an account by number inside a unit of work, reporting
// a missing account as AccountNotFound. The account row stays locked until
// the unit of work ends.
func FindAccount(ctx context.Context, repos store.Repositories, number string) (*domain.Account, error) {
	acc, err := repos.Accounts().FindAccountByNumber(ctx, number)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &domain.Error{Kind: domain.KindAccountNotFound, AccountNumber: number}
	}
	if err != nil {
		return nil, fmt.Errorf("FindAccount: %w", err)
	}
	return acc, nil
}

// FindOwnedAccount resolves the owner, then the account, then checks that
// the account belongs to the owner, reporting the first rule that fails.
func FindOwnedAccount(ctx context.Context, repos store.Repositories, ownerID int64, number string) (*domain.Account, error) {
	if _, err := FindOwner(ctx, repos, ownerID); err != nil {
		return nil, err
	}
	acc, err := FindAccount(ctx, repos, number)
	if err != nil {
		return nil, err
	}
	if acc.OwnerID != ownerID {
		return nil, &domain.Error{Kind: domain.KindOwnershipMismatch, OwnerID: ownerID, AccountNumber: number}
	}
	return acc, nil
}

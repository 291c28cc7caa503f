package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a ledger rule violation. Callers branch on the kind and
// render their own messages.
type Kind string

const (
	KindOwnerNotFound              Kind = "OWNER_NOT_FOUND"
	KindAccountNotFound            Kind = "ACCOUNT_NOT_FOUND"
	KindTransactionNotFound        Kind = "TRANSACTION_NOT_FOUND"
	KindOwnershipMismatch          Kind = "OWNERSHIP_MISMATCH"
	KindAccountAlreadyClosed       Kind = "ACCOUNT_ALREADY_CLOSED"
	KindBalanceNotEmpty            Kind = "BALANCE_NOT_EMPTY"
	KindTooManyAccounts            Kind = "TOO_MANY_ACCOUNTS"
	KindAmountExceedsBalance       Kind = "AMOUNT_EXCEEDS_BALANCE"
	KindInvalidAmount              Kind = "INVALID_AMOUNT"
	KindTransactionAccountMismatch Kind = "TRANSACTION_ACCOUNT_MISMATCH"
	KindCancelMustBeFull           Kind = "CANCEL_MUST_BE_FULL"
	KindTooOldToCancel             Kind = "TOO_OLD_TO_CANCEL"

	// KindAccountLocked means another operation holds the account. It is
	// transient; the request may be retried.
	KindAccountLocked Kind = "ACCOUNT_LOCKED"
)

var kindText = map[Kind]string{
	KindOwnerNotFound:              "owner not found",
	KindAccountNotFound:            "account not found",
	KindTransactionNotFound:        "transaction not found",
	KindOwnershipMismatch:          "account does not belong to owner",
	KindAccountAlreadyClosed:       "account already closed",
	KindBalanceNotEmpty:            "account balance is not empty",
	KindTooManyAccounts:            "owner already holds the maximum number of accounts",
	KindAmountExceedsBalance:       "amount exceeds balance",
	KindInvalidAmount:              "invalid amount",
	KindTransactionAccountMismatch: "transaction does not belong to account",
	KindCancelMustBeFull:           "cancel amount must equal the original amount",
	KindTooOldToCancel:             "transaction is too old to cancel",
	KindAccountLocked:              "account is being used by another operation",
}

// Error is a ledger rule violation together with the identifiers involved.
// Zero-valued context fields were not relevant to the failure.
type Error struct {
	Kind          Kind
	OwnerID       int64
	AccountNumber string
	Reference     string
	Amount        int64
	Balance       int64
}

// Sentinels for errors.Is. Any *Error of the same Kind matches.
var (
	ErrOwnerNotFound              = &Error{Kind: KindOwnerNotFound}
	ErrAccountNotFound            = &Error{Kind: KindAccountNotFound}
	ErrTransactionNotFound        = &Error{Kind: KindTransactionNotFound}
	ErrOwnershipMismatch          = &Error{Kind: KindOwnershipMismatch}
	ErrAccountAlreadyClosed       = &Error{Kind: KindAccountAlreadyClosed}
	ErrBalanceNotEmpty            = &Error{Kind: KindBalanceNotEmpty}
	ErrTooManyAccounts            = &Error{Kind: KindTooManyAccounts}
	ErrAmountExceedsBalance       = &Error{Kind: KindAmountExceedsBalance}
	ErrInvalidAmount              = &Error{Kind: KindInvalidAmount}
	ErrTransactionAccountMismatch = &Error{Kind: KindTransactionAccountMismatch}
	ErrCancelMustBeFull           = &Error{Kind: KindCancelMustBeFull}
	ErrTooOldToCancel             = &Error{Kind: KindTooOldToCancel}
	ErrAccountLocked              = &Error{Kind: KindAccountLocked}
)

func (e *Error) Error() string {
	msg, ok := kindText[e.Kind]
	if !ok {
		msg = strings.ToLower(string(e.Kind))
	}

	var details []string
	if e.OwnerID != 0 {
		details = append(details, fmt.Sprintf("owner_id=%d", e.OwnerID))
	}
	if e.AccountNumber != "" {
		details = append(details, "account_number="+e.AccountNumber)
	}
	if e.Reference != "" {
		details = append(details, "reference="+e.Reference)
	}
	if e.Amount != 0 {
		details = append(details, fmt.Sprintf("amount=%d", e.Amount))
	}
	if e.Balance != 0 {
		details = append(details, fmt.Sprintf("balance=%d", e.Balance))
	}
	if len(details) == 0 {
		return msg
	}
	return msg + " (" + strings.Join(details, ", ") + ")"
}

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind carried by err, or "" when err is not a ledger error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsDomainError reports whether err is a ledger rule violation as opposed to
// an infrastructure fault.
func IsDomainError(err error) bool {
	return KindOf(err) != ""
}

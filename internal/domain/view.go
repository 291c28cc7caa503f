package domain

import "time"

// AccountView is the read model handed to callers of the ledger.
type AccountView struct {
	UserID        int64         `json:"user_id"`
	AccountNumber string        `json:"account_number"`
	Status        AccountStatus `json:"status"`
	Balance       int64         `json:"balance"`
	OpenedAt      time.Time     `json:"opened_at"`
	ClosedAt      *time.Time    `json:"closed_at,omitempty"`
}

// TransactionView is the read model of one transaction record.
// TransactionID carries the external reference, never the internal row ID.
type TransactionView struct {
	AccountNumber string             `json:"account_number"`
	Kind          TransactionKind    `json:"transaction_type"`
	Outcome       TransactionOutcome `json:"transaction_result"`
	TransactionID string             `json:"transaction_id"`
	Amount        int64              `json:"amount"`
	BalanceAfter  int64              `json:"balance_snapshot"`
	TransactedAt  time.Time          `json:"transacted_at"`
}

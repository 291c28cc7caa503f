package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/account-ledger/internal/events"
)

const transactionsTable = "ledger_transactions"

// TransactionRow is one row of ledger_transactions, the analytics copy of a
// committed transaction record.
type TransactionRow struct {
	EventID   string `bigquery:"event_id"`  // REQUIRED, also the streaming insert ID
	Reference string `bigquery:"reference"` // REQUIRED

	Kind    string `bigquery:"kind"`    // REQUIRED: USE | CANCEL
	Outcome string `bigquery:"outcome"` // REQUIRED: SUCCEEDED | FAILED

	AccountNumber string `bigquery:"account_number"` // REQUIRED

	Amount       int64 `bigquery:"amount"`        // REQUIRED, minor units
	BalanceAfter int64 `bigquery:"balance_after"` // REQUIRED, minor units

	TransactedAt   time.Time  `bigquery:"transacted_at"`   // REQUIRED
	TransactedDate civil.Date `bigquery:"transacted_date"` // REQUIRED, partition column

	ExportedAt time.Time `bigquery:"exported_at"` // REQUIRED
}

// RowFromEvent converts a transaction event into its export row. The
// partition date is taken in UTC.
func RowFromEvent(e *events.TransactionRecorded, exportedAt time.Time) *TransactionRow {
	transactedAt := e.TransactedAt.UTC()
	return &TransactionRow{
		EventID:        e.EventID,
		Reference:      e.Reference,
		Kind:           string(e.Kind),
		Outcome:        string(e.Outcome),
		AccountNumber:  e.AccountNumber,
		Amount:         e.Amount,
		BalanceAfter:   e.BalanceAfter,
		TransactedAt:   transactedAt,
		TransactedDate: civil.DateOf(transactedAt),
		ExportedAt:     exportedAt.UTC(),
	}
}

// saver wraps a row so BigQuery can drop retried inserts of the same event.
func (r *TransactionRow) saver() *bigquery.StructSaver {
	return &bigquery.StructSaver{Struct: r, InsertID: r.EventID}
}

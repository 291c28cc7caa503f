package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

const dateFormat = "2006-01-02"

// InsertTransactionsWithClient streams rows into <dataset>.ledger_transactions
// using the provided BigQuery client.
func InsertTransactionsWithClient(ctx context.Context, client *bigquery.Client, datasetID string, rows []*TransactionRow) error {
	return insertTransactions(ctx, client.Dataset(datasetID).Table(transactionsTable).Inserter(), rows)
}

func insertTransactions(ctx context.Context, inserter rowPutter, rows []*TransactionRow) error {
	if len(rows) == 0 {
		return nil
	}

	savers := make([]*bigquery.StructSaver, 0, len(rows))
	for _, r := range rows {
		savers = append(savers, r.saver())
	}
	if err := inserter.Put(ctx, savers); err != nil {
		return fmt.Errorf("InsertTransactions: inserting rows: %w", err)
	}
	return nil
}

// QueryAccountTransactionsWithClient returns the exported records of one
// account transacted between startDate and endDate inclusive, oldest first.
// Retried exports of the same event are collapsed.
func QueryAccountTransactionsWithClient(ctx context.Context, client *bigquery.Client, datasetID, accountNumber string, startDate, endDate time.Time) ([]*TransactionRow, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT
			event_id,
			reference,
			kind,
			outcome,
			account_number,
			amount,
			balance_after,
			transacted_at,
			transacted_date,
			exported_at
		FROM `+"`%s.%s.%s`"+`
		WHERE account_number = @account_number
		  AND transacted_date >= @start_date
		  AND transacted_date <= @end_date
		QUALIFY ROW_NUMBER() OVER (PARTITION BY reference ORDER BY exported_at) = 1
		ORDER BY transacted_at, reference
	`, client.Project(), datasetID, transactionsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_number", Value: accountNumber},
		{Name: "start_date", Value: startDate.Format(dateFormat)},
		{Name: "end_date", Value: endDate.Format(dateFormat)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryAccountTransactions: query read: %w", err)
	}

	var rows []*TransactionRow
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryAccountTransactions: iter next: %w", err)
		}
		rows = append(rows, &r)
	}

	return rows, nil
}

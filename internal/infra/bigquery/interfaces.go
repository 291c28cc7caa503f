// Package bigquery exports ledger transaction records to BigQuery for
// analytics. Postgres stays the system of record.
package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/account-ledger/internal/events"
)

// rowPutter is satisfied by *bigquery.Inserter.
type rowPutter interface {
	Put(ctx context.Context, src interface{}) error
}

// Exporter streams transaction events into ledger_transactions. It holds a
// shared BigQuery client to avoid creating a new connection for each event.
type Exporter struct {
	client    *bigquery.Client
	datasetID string
	inserter  rowPutter
	now       func() time.Time
}

// NewExporter creates an exporter for projectID.datasetID.
func NewExporter(ctx context.Context, projectID, datasetID string) (*Exporter, error) {
	if projectID == "" {
		return nil, fmt.Errorf("NewExporter: project ID is required")
	}
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewExporter: creating client: %w", err)
	}
	return &Exporter{
		client:    client,
		datasetID: datasetID,
		inserter:  client.Dataset(datasetID).Table(transactionsTable).Inserter(),
		now:       time.Now,
	}, nil
}

// Close closes the BigQuery client connection.
func (e *Exporter) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// HandleTransaction exports one event. It matches events.Handler so the
// exporter can be passed straight to a consumer.
func (e *Exporter) HandleTransaction(ctx context.Context, event *events.TransactionRecorded) error {
	return insertTransactions(ctx, e.inserter, []*TransactionRow{RowFromEvent(event, e.now())})
}

// QueryAccountTransactions delegates to QueryAccountTransactionsWithClient with the shared client.
func (e *Exporter) QueryAccountTransactions(ctx context.Context, accountNumber string, startDate, endDate time.Time) ([]*TransactionRow, error) {
	return QueryAccountTransactionsWithClient(ctx, e.client, e.datasetID, accountNumber, startDate, endDate)
}

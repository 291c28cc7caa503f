// Package statements renders account statements and publishes them to
// object storage.
package statements

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/account-ledger/internal/domain"
	"github.com/dvloznov/account-ledger/internal/logger"
)

// minorUnitExp is the exponent of one minor currency unit (cents).
const minorUnitExp = -2

const contentType = "text/csv"

var header = []string{"transacted_at", "transaction_id", "type", "result", "amount", "balance_after"}

// HistorySource supplies an account's transaction history, oldest first.
type HistorySource interface {
	History(ctx context.Context, number string) ([]domain.TransactionView, error)
}

// FormatAmount renders minor units as a fixed two-decimal string.
func FormatAmount(minor int64) string {
	return decimal.New(minor, minorUnitExp).StringFixed(-minorUnitExp)
}

// Render writes txs as CSV. Failed attempts are included; their balance
// column shows the unchanged balance.
func Render(w io.Writer, txs []domain.TransactionView) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("Render: header: %w", err)
	}
	for _, tx := range txs {
		record := []string{
			tx.TransactedAt.UTC().Format(time.RFC3339),
			tx.TransactionID,
			string(tx.Kind),
			string(tx.Outcome),
			FormatAmount(tx.Amount),
			FormatAmount(tx.BalanceAfter),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("Render: row %s: %w", tx.TransactionID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Summary totals the successful activity of a statement.
type Summary struct {
	Used      decimal.Decimal
	Cancelled decimal.Decimal
	Closing   decimal.Decimal
	Failed    int
}

// Summarize computes the totals for txs.
func Summarize(txs []domain.TransactionView) Summary {
	s := Summary{Used: decimal.Zero, Cancelled: decimal.Zero, Closing: decimal.Zero}
	for _, tx := range txs {
		if tx.Outcome == domain.TransactionOutcomeFailed {
			s.Failed++
			continue
		}
		amount := decimal.New(tx.Amount, minorUnitExp)
		switch tx.Kind {
		case domain.TransactionKindUse:
			s.Used = s.Used.Add(amount)
		case domain.TransactionKindCancel:
			s.Cancelled = s.Cancelled.Add(amount)
		}
		s.Closing = decimal.New(tx.BalanceAfter, minorUnitExp)
	}
	return s
}

// Exporter publishes account statements to a bucket.
type Exporter struct {
	history HistorySource
	store   ObjectStore
	bucket  string
	now     func() time.Time
}

// NewExporter creates an exporter writing to bucket.
func NewExporter(history HistorySource, store ObjectStore, bucket string) (*Exporter, error) {
	if bucket == "" {
		return nil, errors.New("NewExporter: bucket is required")
	}
	return &Exporter{history: history, store: store, bucket: bucket, now: time.Now}, nil
}

// Export renders the statement of account number and uploads it under
// statements/<number>/<timestamp>.csv, returning the object's gs:// URI.
func (e *Exporter) Export(ctx context.Context, number string) (string, error) {
	txs, err := e.history.History(ctx, number)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := Render(&buf, txs); err != nil {
		return "", fmt.Errorf("Export: %w", err)
	}

	object := fmt.Sprintf("statements/%s/%s.csv", number, e.now().UTC().Format("20060102T150405Z"))
	if err := e.store.WriteObject(ctx, e.bucket, object, contentType, &buf); err != nil {
		return "", fmt.Errorf("Export: %w", err)
	}

	uri := GCSURI(e.bucket, object)
	summary := Summarize(txs)
	log := logger.FromContext(ctx)
	log.Info().
		Str("account_number", number).
		Str("uri", uri).
		Int("rows", len(txs)).
		Str("used", summary.Used.StringFixed(2)).
		Str("cancelled", summary.Cancelled.StringFixed(2)).
		Msg("statement exported")
	return uri, nil
}

package statements

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/account-ledger/internal/domain"
	"github.com/dvloznov/account-ledger/internal/logger"
)

type fakeHistory struct {
	txs []domain.TransactionView
	err error
}

func (f fakeHistory) History(ctx context.Context, number string) ([]domain.TransactionView, error) {
	return f.txs, f.err
}

type fakeStore struct {
	bucket, object, contentType string
	body                        []byte
	err                         error
}

func (f *fakeStore) WriteObject(ctx context.Context, bucket, object, contentType string, r io.Reader) error {
	if f.err != nil {
		return f.err
	}
	f.bucket, f.object, f.contentType = bucket, object, contentType
	body, err := io.ReadAll(r)
	f.body = body
	return err
}

var at = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleHistory() []domain.TransactionView {
	return []domain.TransactionView{
		{AccountNumber: "1000000000", Kind: domain.TransactionKindUse, Outcome: domain.TransactionOutcomeSucceeded, TransactionID: "a", Amount: 1000, BalanceAfter: 9000, TransactedAt: at},
		{AccountNumber: "1000000000", Kind: domain.TransactionKindUse, Outcome: domain.TransactionOutcomeFailed, TransactionID: "b", Amount: 50000, BalanceAfter: 9000, TransactedAt: at.Add(time.Minute)},
		{AccountNumber: "1000000000", Kind: domain.TransactionKindCancel, Outcome: domain.TransactionOutcomeSucceeded, TransactionID: "c", Amount: 1000, BalanceAfter: 10000, TransactedAt: at.Add(2 * time.Minute)},
	}
}

func TestFormatAmount(t *testing.T) {
	tests := map[int64]string{
		0:         "0.00",
		5:         "0.05",
		1000:      "10.00",
		123456789: "1234567.89",
		-250:      "-2.50",
	}
	for minor, want := range tests {
		assert.Equal(t, want, FormatAmount(minor))
	}
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleHistory()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "transacted_at,transaction_id,type,result,amount,balance_after", lines[0])
	assert.Equal(t, "2024-03-01T12:00:00Z,a,USE,SUCCEEDED,10.00,90.00", lines[1])
	assert.Equal(t, "2024-03-01T12:01:00Z,b,USE,FAILED,500.00,90.00", lines[2])
	assert.Equal(t, "2024-03-01T12:02:00Z,c,CANCEL,SUCCEEDED,10.00,100.00", lines[3])
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleHistory())
	assert.True(t, s.Used.Equal(decimal.RequireFromString("10")))
	assert.True(t, s.Cancelled.Equal(decimal.RequireFromString("10")))
	assert.True(t, s.Closing.Equal(decimal.RequireFromString("100")))
	assert.Equal(t, 1, s.Failed)

	empty := Summarize(nil)
	assert.True(t, empty.Closing.IsZero())
}

func TestExporter_Export(t *testing.T) {
	store := &fakeStore{}
	e, err := NewExporter(fakeHistory{txs: sampleHistory()}, store, "ledger-statements")
	require.NoError(t, err)
	e.now = func() time.Time { return at }

	ctx := logger.WithContext(context.Background(), zerolog.Nop())
	uri, err := e.Export(ctx, "1000000000")
	require.NoError(t, err)

	assert.Equal(t, "gs://ledger-statements/statements/1000000000/20240301T120000Z.csv", uri)
	assert.Equal(t, "ledger-statements", store.bucket)
	assert.Equal(t, "text/csv", store.contentType)
	assert.Contains(t, string(store.body), "c,CANCEL,SUCCEEDED,10.00,100.00")
	assert.Equal(t, "20240301T120000Z.csv", ExtractFilenameFromGCSURI(uri))
}

func TestExporter_Errors(t *testing.T) {
	_, err := NewExporter(fakeHistory{}, &fakeStore{}, "")
	assert.Error(t, err)

	ctx := logger.WithContext(context.Background(), zerolog.Nop())

	e, err := NewExporter(fakeHistory{err: domain.ErrAccountNotFound}, &fakeStore{}, "b")
	require.NoError(t, err)
	_, err = e.Export(ctx, "1999999999")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	upload := errors.New("permission denied")
	e, err = NewExporter(fakeHistory{txs: sampleHistory()}, &fakeStore{err: upload}, "b")
	require.NoError(t, err)
	_, err = e.Export(ctx, "1000000000")
	assert.ErrorIs(t, err, upload)
}

func TestExtractFilenameFromGCSURI(t *testing.T) {
	assert.Equal(t, "file.csv", ExtractFilenameFromGCSURI("gs://bucket/folder/file.csv"))
	assert.Equal(t, "bucket", ExtractFilenameFromGCSURI("gs://bucket"))
}

package events

import (
	"context"
	"time"

	"github.com/dvloznov/account-ledger/internal/domain"
)

// TransactionRecorded is emitted after a transaction record has been committed.
type TransactionRecorded struct {
	// EventID is unique per emission; consumers use it to drop duplicates.
	EventID string `json:"event_id"`

	Reference     string                    `json:"reference"`
	Kind          domain.TransactionKind    `json:"kind"`
	Outcome       domain.TransactionOutcome `json:"outcome"`
	AccountNumber string                    `json:"account_number"`
	Amount        int64                     `json:"amount"`
	BalanceAfter  int64                     `json:"balance_after"`
	TransactedAt  time.Time                 `json:"transacted_at"`

	// Attempts counts failed deliveries to the handler so far.
	Attempts int `json:"attempts,omitempty"`
}

// FromTransaction builds the event for a committed record.
func FromTransaction(eventID string, tx *domain.Transaction) *TransactionRecorded {
	return &TransactionRecorded{
		EventID:       eventID,
		Reference:     tx.Reference,
		Kind:          tx.Kind,
		Outcome:       tx.Outcome,
		AccountNumber: tx.AccountNumber,
		Amount:        tx.Amount,
		BalanceAfter:  tx.BalanceAfter,
		TransactedAt:  tx.TransactedAt,
	}
}

// Publisher defines the interface for publishing transaction events.
// This abstraction allows for different implementations (in-memory, Kafka).
type Publisher interface {
	// PublishTransaction publishes one event.
	PublishTransaction(ctx context.Context, event *TransactionRecorded) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming transaction events.
type Consumer interface {
	// Start begins consuming events; handler is called for each one.
	Start(ctx context.Context, handler Handler) error

	// Stop stops consuming and waits for in-flight events to complete.
	Stop(ctx context.Context) error
}

// Handler processes one event. A returned error asks for redelivery.
type Handler func(ctx context.Context, event *TransactionRecorded) error

// NopPublisher discards every event. Commands that only touch the ledger
// synchronously (the CLI) use it.
type NopPublisher struct{}

// PublishTransaction implements Publisher.
func (NopPublisher) PublishTransaction(ctx context.Context, event *TransactionRecorded) error {
	return nil
}

// Close implements Publisher.
func (NopPublisher) Close() error { return nil }

var _ Publisher = NopPublisher{}

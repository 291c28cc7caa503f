package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// BreakerSettings configures when a BreakerPublisher stops calling its
// broker.
type BreakerSettings struct {
	// ConsecutiveFailures opens the breaker.
	ConsecutiveFailures uint32
	// Timeout is how long the breaker stays open before letting a probe through.
	Timeout time.Duration
}

// DefaultBreakerSettings opens after five failed publishes in a row and
// probes again after thirty seconds.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{ConsecutiveFailures: 5, Timeout: 30 * time.Second}
}

// BreakerPublisher guards a Publisher with a circuit breaker. While the
// breaker is open, publishes fail immediately without reaching the broker.
type BreakerPublisher struct {
	next Publisher
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerPublisher wraps next.
func NewBreakerPublisher(next Publisher, name string, settings BreakerSettings, log zerolog.Logger) *BreakerPublisher {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("publisher circuit breaker changed state")
		},
	})
	return &BreakerPublisher{next: next, cb: cb}
}

// PublishTransaction implements Publisher.
func (b *BreakerPublisher) PublishTransaction(ctx context.Context, event *TransactionRecorded) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.PublishTransaction(ctx, event)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("PublishTransaction: broker unavailable: %w", err)
	}
	return err
}

// Close closes the wrapped publisher.
func (b *BreakerPublisher) Close() error {
	return b.next.Close()
}

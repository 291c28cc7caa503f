package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyPublisher struct {
	err    error
	calls  int
	closed bool
}

func (p *flakyPublisher) PublishTransaction(context.Context, *TransactionRecorded) error {
	p.calls++
	return p.err
}

func (p *flakyPublisher) Close() error {
	p.closed = true
	return nil
}

func TestBreakerPublisher_OpensAfterConsecutiveFailures(t *testing.T) {
	next := &flakyPublisher{err: errors.New("broker down")}
	b := NewBreakerPublisher(next, "kafka", BreakerSettings{ConsecutiveFailures: 3, Timeout: time.Hour}, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := b.PublishTransaction(ctx, &TransactionRecorded{EventID: "e"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broker down")
	}

	err := b.PublishTransaction(ctx, &TransactionRecorded{EventID: "e"})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, next.calls, "open breaker must not reach the broker")
}

func TestBreakerPublisher_PassesThrough(t *testing.T) {
	next := &flakyPublisher{}
	b := NewBreakerPublisher(next, "kafka", DefaultBreakerSettings(), zerolog.Nop())

	require.NoError(t, b.PublishTransaction(context.Background(), &TransactionRecorded{EventID: "e"}))
	assert.Equal(t, 1, next.calls)

	require.NoError(t, b.Close())
	assert.True(t, next.closed)
}

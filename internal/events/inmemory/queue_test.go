package inmemory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/account-ledger/internal/events"
)

func TestQueue_DeliversEvents(t *testing.T) {
	q := NewQueue(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen []string
		wg   sync.WaitGroup
	)
	wg.Add(3)
	require.NoError(t, q.Start(ctx, func(ctx context.Context, e *events.TransactionRecorded) error {
		mu.Lock()
		seen = append(seen, e.Reference)
		mu.Unlock()
		wg.Done()
		return nil
	}))

	for _, ref := range []string{"a", "b", "c"} {
		require.NoError(t, q.PublishTransaction(ctx, &events.TransactionRecorded{Reference: ref}))
	}
	wg.Wait()

	assert.ElementsMatch(t, []string{"a", "b", "c"}, seen)
	require.NoError(t, q.Stop(context.Background()))
}

func TestQueue_RetriesFailedDelivery(t *testing.T) {
	q := NewQueue(10)
	q.backoff = func(int) time.Duration { return time.Millisecond }
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	done := make(chan struct{})
	require.NoError(t, q.Start(ctx, func(ctx context.Context, e *events.TransactionRecorded) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("sink unavailable")
		}
		close(done)
		return nil
	}))

	require.NoError(t, q.PublishTransaction(ctx, &events.TransactionRecorded{Reference: "r"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event was not redelivered")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	require.NoError(t, q.Stop(context.Background()))
}

func TestQueue_GivesUpAfterMaxRetries(t *testing.T) {
	q := NewQueue(10)
	q.maxRetries = 2
	q.backoff = func(int) time.Duration { return time.Millisecond }
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, e *events.TransactionRecorded) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("always failing")
	}))
	require.NoError(t, q.PublishTransaction(ctx, &events.TransactionRecorded{Reference: "r"}))

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 3 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestQueue_PublishAfterStop(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.Stop(context.Background()))
	require.NoError(t, q.Close())

	err := q.PublishTransaction(context.Background(), &events.TransactionRecorded{})
	assert.Error(t, err)
	assert.Error(t, q.Start(context.Background(), func(context.Context, *events.TransactionRecorded) error { return nil }))
}

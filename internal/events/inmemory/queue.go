package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/account-ledger/internal/events"
)

const (
	defaultWorkers    = 5
	defaultMaxRetries = 3
)

// Queue is an in-memory implementation of events.Publisher and events.Consumer.
// It uses Go channels for event distribution and is safe for concurrent use.
// This implementation is suitable for single-instance deployments and testing;
// multi-instance deployments publish to Kafka instead.
type Queue struct {
	eventChan  chan *events.TransactionRecorded
	closeChan  chan struct{}
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
	workers    int
	maxRetries int
	backoff    func(attempt int) time.Duration
}

// NewQueue creates a new in-memory event queue.
// bufferSize determines how many events can be queued before PublishTransaction blocks.
func NewQueue(bufferSize int) *Queue {
	return &Queue{
		eventChan:  make(chan *events.TransactionRecorded, bufferSize),
		closeChan:  make(chan struct{}),
		workers:    defaultWorkers,
		maxRetries: defaultMaxRetries,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt) * time.Second
		},
	}
}

// PublishTransaction implements the Publisher interface.
func (q *Queue) PublishTransaction(ctx context.Context, event *events.TransactionRecorded) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return fmt.Errorf("queue is closed")
	}

	// Enqueue with context cancellation support
	select {
	case q.eventChan <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("queue is closed")
	}
}

// Start implements the Consumer interface.
// The handler is called concurrently, up to the configured number of workers.
func (q *Queue) Start(ctx context.Context, handler events.Handler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return fmt.Errorf("queue is closed")
	}
	q.mu.RUnlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}

	return nil
}

func (q *Queue) worker(ctx context.Context, handler events.Handler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case event := <-q.eventChan:
			if event == nil {
				return
			}

			q.deliver(ctx, event, handler)
		}
	}
}

// deliver hands the event to handler, re-enqueuing it with a linear backoff
// when the handler fails, up to maxRetries redeliveries.
func (q *Queue) deliver(ctx context.Context, event *events.TransactionRecorded, handler events.Handler) {
	if err := handler(ctx, event); err == nil {
		return
	}

	if event.Attempts >= q.maxRetries {
		return
	}
	event.Attempts++

	time.AfterFunc(q.backoff(event.Attempts), func() {
		_ = q.PublishTransaction(ctx, event)
	})
}

// Stop implements the Consumer interface.
// It stops the queue and waits for all in-flight events to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Ensure Queue implements both Publisher and Consumer interfaces.
var _ events.Publisher = (*Queue)(nil)
var _ events.Consumer = (*Queue)(nil)

package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/account-ledger/internal/domain"
	"github.com/dvloznov/account-ledger/internal/events"
)

type fakeWriter struct {
	msgs []kafkago.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	msgs chan kafkago.Message

	mu        sync.Mutex
	committed []int64
	closed    bool
}

func newFakeReader(msgs ...kafkago.Message) *fakeReader {
	r := &fakeReader{msgs: make(chan kafkago.Message, len(msgs))}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafkago.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafkago.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func encode(t *testing.T, offset int64, e events.TransactionRecorded) kafkago.Message {
	t.Helper()
	b, err := json.Marshal(e)
	require.NoError(t, err)
	return kafkago.Message{Offset: offset, Value: b}
}

func TestPublisher_KeysByAccount(t *testing.T) {
	w := &fakeWriter{}
	p := &Publisher{writer: w}

	event := &events.TransactionRecorded{
		EventID:       "evt-1",
		Reference:     "ref-1",
		Kind:          domain.TransactionKindUse,
		Outcome:       domain.TransactionOutcomeSucceeded,
		AccountNumber: "1000000000",
		Amount:        1000,
		BalanceAfter:  9000,
	}
	require.NoError(t, p.PublishTransaction(context.Background(), event))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "1000000000", string(msg.Key))
	assert.Equal(t, "evt-1", string(msg.Headers[0].Value))

	var decoded events.TransactionRecorded
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, *event, decoded)
}

func TestPublisher_WrapsWriteError(t *testing.T) {
	p := &Publisher{writer: &fakeWriter{err: errors.New("broker down")}}
	err := p.PublishTransaction(context.Background(), &events.TransactionRecorded{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestNewPublisher_Validation(t *testing.T) {
	_, err := NewPublisher(nil, "t")
	assert.Error(t, err)
	_, err = NewPublisher([]string{"localhost:9092"}, "")
	assert.Error(t, err)
}

func TestConsumer_HandlesAndCommits(t *testing.T) {
	reader := newFakeReader(
		encode(t, 1, events.TransactionRecorded{Reference: "a"}),
		kafkago.Message{Offset: 2, Value: []byte("not json")},
		encode(t, 3, events.TransactionRecorded{Reference: "b"}),
	)
	c := newConsumer(reader, zerolog.Nop())

	var (
		mu   sync.Mutex
		seen []string
	)
	require.NoError(t, c.Start(context.Background(), func(ctx context.Context, e *events.TransactionRecorded) error {
		mu.Lock()
		seen = append(seen, e.Reference)
		mu.Unlock()
		return nil
	}))

	assert.Eventually(t, func() bool { return len(reader.commits()) == 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))

	assert.Equal(t, []int64{1, 2, 3}, reader.commits())
	mu.Lock()
	assert.Equal(t, []string{"a", "b"}, seen)
	mu.Unlock()
	assert.True(t, reader.closed)
}

func TestConsumer_RetriesThenGivesUp(t *testing.T) {
	reader := newFakeReader(encode(t, 7, events.TransactionRecorded{Reference: "a"}))
	c := newConsumer(reader, zerolog.Nop())
	c.maxRetries = 2
	c.backoff = func(int) time.Duration { return time.Millisecond }

	var (
		mu    sync.Mutex
		calls int
	)
	require.NoError(t, c.Start(context.Background(), func(ctx context.Context, e *events.TransactionRecorded) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("sink unavailable")
	}))

	assert.Eventually(t, func() bool { return len(reader.commits()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))

	mu.Lock()
	assert.Equal(t, 3, calls)
	mu.Unlock()
}

func TestConsumer_StartTwice(t *testing.T) {
	c := newConsumer(newFakeReader(), zerolog.Nop())
	handler := func(context.Context, *events.TransactionRecorded) error { return nil }

	require.NoError(t, c.Start(context.Background(), handler))
	assert.Error(t, c.Start(context.Background(), handler))
	require.NoError(t, c.Stop(context.Background()))
}

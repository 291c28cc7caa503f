// Package kafka streams transaction events through a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/dvloznov/account-ledger/internal/events"
	"github.com/dvloznov/account-ledger/internal/logger"
)

// messageWriter is the subset of *kafkago.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// messageReader is the subset of *kafkago.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher writes events keyed by account number, so every event for one
// account lands on the same partition in commit order.
type Publisher struct {
	writer messageWriter
}

// NewPublisher creates a publisher for topic on brokers.
func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("NewPublisher: no brokers")
	}
	if topic == "" {
		return nil, errors.New("NewPublisher: empty topic")
	}
	return &Publisher{writer: &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}}, nil
}

// PublishTransaction implements events.Publisher.
func (p *Publisher) PublishTransaction(ctx context.Context, event *events.TransactionRecorded) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("PublishTransaction: marshal: %w", err)
	}
	msg := kafkago.Message{
		Key:   []byte(event.AccountNumber),
		Value: value,
		Headers: []kafkago.Header{
			{Key: "event_id", Value: []byte(event.EventID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("PublishTransaction: write: %w", err)
	}
	return nil
}

// Close flushes pending writes.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Consumer reads events as part of a consumer group and commits each message
// once the handler accepts it.
type Consumer struct {
	reader     messageReader
	log        zerolog.Logger
	maxRetries int
	backoff    func(attempt int) time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewConsumer creates a group consumer for topic.
func NewConsumer(brokers []string, topic, groupID string, log zerolog.Logger) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("NewConsumer: no brokers")
	}
	if topic == "" || groupID == "" {
		return nil, errors.New("NewConsumer: topic and group id are required")
	}
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newConsumer(reader, log), nil
}

func newConsumer(reader messageReader, log zerolog.Logger) *Consumer {
	return &Consumer{
		reader:     reader,
		log:        log,
		maxRetries: 3,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt) * time.Second
		},
	}
}

// Start implements events.Consumer. It returns immediately; messages are
// handled on a background goroutine until Stop or ctx cancellation.
func (c *Consumer) Start(ctx context.Context, handler events.Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return errors.New("Start: consumer already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.run(runCtx, handler)
	return nil
}

func (c *Consumer) run(ctx context.Context, handler events.Handler) {
	defer close(c.done)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error().Err(err).Msg("kafka fetch failed")
			if !sleep(ctx, c.backoff(1)) {
				return
			}
			continue
		}

		msgLog := logger.WithFields(c.log, map[string]interface{}{
			"topic":     msg.Topic,
			"partition": msg.Partition,
			"offset":    msg.Offset,
		})

		var event events.TransactionRecorded
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			// A malformed payload never becomes valid; skip it.
			msgLog.Error().Err(err).Msg("dropping undecodable event")
		} else if !c.handle(logger.WithContext(ctx, msgLog), msgLog, handler, &event) {
			return
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			msgLog.Error().Err(err).Msg("kafka commit failed")
		}
	}
}

// handle calls handler with retries. It returns false only when ctx ends
// before the event was handled, leaving the message uncommitted.
func (c *Consumer) handle(ctx context.Context, log zerolog.Logger, handler events.Handler, event *events.TransactionRecorded) bool {
	for {
		err := handler(ctx, event)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		if event.Attempts >= c.maxRetries {
			log.Error().Err(err).
				Str("reference", event.Reference).
				Str("event_id", event.EventID).
				Int("attempts", event.Attempts+1).
				Msg("giving up on event")
			return true
		}
		event.Attempts++
		log.Warn().Err(err).Str("reference", event.Reference).Int("attempt", event.Attempts).Msg("event handler failed, retrying")
		if !sleep(ctx, c.backoff(event.Attempts)) {
			return false
		}
	}
}

// Stop implements events.Consumer.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.reader.Close()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

var (
	_ events.Publisher = (*Publisher)(nil)
	_ events.Consumer  = (*Consumer)(nil)
)

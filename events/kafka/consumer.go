/*
Package kafka feeds employee lifecycle events into the leave engine.

PURPOSE:
  The HR directory publishes employee_created / employee_removed events on
  the lifecycle topic. New employees get their balance proactively instead of
  lazily on first read; removed employees go through the retention policy.

DELIVERY:
  At-least-once. A message that fails with a transient store error is retried
  in place until it succeeds; the consumer never fetches past it, so a later
  commit cannot cover an unprocessed offset. A crash leaves the offset
  uncommitted and the group redelivers it. Both lifecycle operations are
  idempotent, so replays are harmless.

  Malformed messages and unknown event types are logged and committed: they
  will never succeed, and leaving them uncommitted would stall the partition.

MESSAGE FORMAT (JSON):
  {"event_type":"employee_created","employee_id":"emp-42","occurred_at":"2025-01-02T09:00:00Z"}
*/
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/warp/leave-ledger/config"
	"github.com/warp/leave-ledger/leave"
)

const (
	EventEmployeeCreated = "employee_created"
	EventEmployeeRemoved = "employee_removed"
)

// LifecycleEvent is the wire shape of a directory event.
type LifecycleEvent struct {
	EventType  string    `json:"event_type"`
	EmployeeID string    `json:"employee_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// LifecycleHandler is the subset of leave.Lifecycle the consumer drives.
type LifecycleHandler interface {
	EmployeeCreated(ctx context.Context, id leave.EmployeeID) (leave.Balance, error)
	EmployeeRemoved(ctx context.Context, id leave.EmployeeID) error
}

var _ LifecycleHandler = (*leave.Lifecycle)(nil)

// MessageReader is the part of *kafka.Reader the consume loop needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads lifecycle events and applies them.
type Consumer struct {
	reader       MessageReader
	handler      LifecycleHandler
	logger       zerolog.Logger
	retryBackoff time.Duration
}

// NewConsumer builds a group consumer for the lifecycle topic.
func NewConsumer(cfg config.KafkaConfig, handler LifecycleHandler, logger zerolog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.BrokerList(),
		Topic:       cfg.LifecycleTopic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.MaxWait,
		StartOffset: kafka.FirstOffset,
	})
	return NewConsumerWithReader(reader, handler, logger)
}

// NewConsumerWithReader is used by tests to inject a reader.
func NewConsumerWithReader(reader MessageReader, handler LifecycleHandler, logger zerolog.Logger) *Consumer {
	return &Consumer{
		reader:       reader,
		handler:      handler,
		logger:       logger.With().Str("component", "lifecycle_consumer").Logger(),
		retryBackoff: time.Second,
	}
}

// Run consumes until ctx is cancelled. It returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info().Msg("lifecycle consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info().Msg("lifecycle consumer stopped")
				return nil
			}
			c.logger.Error().Err(err).Msg("failed to fetch message")
			if !sleepCtx(ctx, c.retryBackoff) {
				return nil
			}
			continue
		}

		log := c.logger.With().
			Str("topic", msg.Topic).
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Logger()

		if !c.handleUntilDone(ctx, msg, log) {
			c.logger.Info().Msg("lifecycle consumer stopped")
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			log.Error().Err(err).Msg("failed to commit message")
			continue
		}
		log.Debug().Msg("lifecycle event committed")
	}
}

// handleUntilDone retries msg until it is handled. Moving on to the next
// message would let its commit cover this offset. Returns false when ctx ends
// first; the offset stays uncommitted and the group redelivers it.
func (c *Consumer) handleUntilDone(ctx context.Context, msg kafka.Message, log zerolog.Logger) bool {
	for attempt := 1; ; attempt++ {
		err := c.HandleMessage(ctx, msg)
		if err == nil {
			return true
		}
		log.Error().Err(err).Int("attempt", attempt).Msg("failed to process lifecycle event, retrying")
		if !sleepCtx(ctx, c.retryBackoff) {
			return false
		}
	}
}

// HandleMessage decodes one message and dispatches it. A non-nil error means
// the message should be retried.
func (c *Consumer) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var event LifecycleEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.logger.Warn().Err(err).Str("key", string(msg.Key)).Msg("dropping malformed lifecycle event")
		return nil
	}

	id := leave.EmployeeID(event.EmployeeID)
	if id == "" {
		id = leave.EmployeeID(msg.Key)
	}

	var err error
	switch event.EventType {
	case EventEmployeeCreated:
		var b leave.Balance
		b, err = c.handler.EmployeeCreated(ctx, id)
		if err == nil {
			c.logger.Info().
				Str("employee_id", string(id)).
				Int("available", b.Available()).
				Msg("initialized balance for new employee")
		}
	case EventEmployeeRemoved:
		err = c.handler.EmployeeRemoved(ctx, id)
	default:
		c.logger.Warn().Str("event_type", event.EventType).Msg("ignoring unknown lifecycle event")
		return nil
	}

	if errors.Is(err, leave.ErrInvalidEmployeeID) {
		c.logger.Warn().Err(err).Str("event_type", event.EventType).Msg("dropping lifecycle event without employee id")
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", event.EventType, id, err)
	}
	return nil
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

package kafka

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// maxHandlerRetries is the maximum number of times a message handler will be
// attempted before the message is committed and skipped (poison pill protection).
const maxHandlerRetries = 3

// Handler is a function that processes a Kafka event.
type Handler func(ctx context.Context, event *Event) error

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topic    string
	MinBytes int
	MaxBytes int
}

// DefaultConsumerConfig returns sensible defaults for a consumer of the given topic.
func DefaultConsumerConfig(brokers []string, groupID, topic string) ConsumerConfig {
	return ConsumerConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10 << 20,
	}
}

// DeadLetterer parks a message that exhausted its handler retries.
// Satisfied by *DLQProducer.
type DeadLetterer interface {
	Publish(ctx context.Context, originalMsg kafka.Message, lastErr error, consumerGroup string) error
}

// Consumer wraps the kafka-go reader for consuming events.
type Consumer struct {
	reader    *kafka.Reader
	logger    *slog.Logger
	handler   Handler
	dlq       DeadLetterer
	closeOnce sync.Once
}

// NewConsumer creates a new Kafka consumer for a specific topic and group.
func NewConsumer(cfg ConsumerConfig, handler Handler, logger *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
	})

	return &Consumer{
		reader:  r,
		logger:  logger,
		handler: handler,
	}
}

// WithDLQ routes messages that exhaust their handler retries to a dead-letter
// queue instead of dropping them. Returns the consumer for chaining.
func (c *Consumer) WithDLQ(dlq DeadLetterer) *Consumer {
	c.dlq = dlq
	return c
}

// Start begins consuming messages. It blocks until the context is canceled.
// Handler failures are retried with exponential backoff; after
// maxHandlerRetries the message is parked in the DLQ (when configured) and
// committed so one poison pill cannot stall the partition. Without a DLQ the
// message is committed and skipped.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started",
		slog.String("topic", c.reader.Config().Topic),
		slog.String("group", c.reader.Config().GroupID),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping", slog.String("topic", c.reader.Config().Topic))
			return c.Close()
		default:
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Error("failed to fetch message", slog.String("error", err.Error()))
				continue
			}

			event, err := UnmarshalEvent(msg.Value)
			if err != nil {
				c.logger.Error("failed to unmarshal event",
					slog.String("error", err.Error()),
					slog.String("topic", msg.Topic),
				)
				if commitErr := c.reader.CommitMessages(ctx, msg); commitErr != nil {
					c.logger.Error("failed to commit bad message", slog.String("error", commitErr.Error()))
				}
				continue
			}

			var lastErr error
			for attempt := 1; attempt <= maxHandlerRetries; attempt++ {
				if lastErr = c.handler(ctx, event); lastErr == nil {
					break
				}
				if attempt < maxHandlerRetries {
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(time.Duration(1<<uint(attempt-1)) * time.Second):
					}
				}
			}

			if lastErr != nil {
				if c.dlq != nil {
					if dlqErr := c.dlq.Publish(ctx, msg, lastErr, c.reader.Config().GroupID); dlqErr != nil {
						// Neither handled nor parked: leave uncommitted so the
						// message is fetched again rather than lost.
						c.logger.Error("handler and DLQ both failed, message left uncommitted",
							slog.String("topic", msg.Topic),
							slog.String("event_id", event.EventID),
							slog.String("error", dlqErr.Error()),
						)
						continue
					}
					c.logger.Error("handler failed after retries, message parked in DLQ",
						slog.String("topic", msg.Topic),
						slog.String("event_id", event.EventID),
						slog.String("event_type", event.EventType),
						slog.String("error", lastErr.Error()),
					)
				} else {
					c.logger.Error("handler failed after retries, skipping message",
						slog.String("topic", msg.Topic),
						slog.String("event_id", event.EventID),
						slog.String("event_type", event.EventType),
						slog.String("error", lastErr.Error()),
					)
				}
			}

			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				c.logger.Error("failed to commit message", slog.String("error", err.Error()))
			}
		}
	}
}

// Close closes the underlying reader. Safe to call more than once.
func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.reader.Close()
	})
	return err
}

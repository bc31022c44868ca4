// Package kafka provides Kafka producer and consumer clients backed by
// segmentio/kafka-go. The producer serialises events as JSON, while the
// consumer decodes them via a pluggable MessageHandler callback.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/resilience"
)

// MessageHandler is a callback invoked for each Kafka message. Returning an
// error wrapped with resilience.Permanent skips the retry loop.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// fetchBackoff is the pause after a failed fetch so a broker outage does not
// spin the loop.
const fetchBackoff = time.Second

// ConsumerOption customises a Consumer.
type ConsumerOption func(*consumerOptions)

type consumerOptions struct {
	groupID  string
	retry    resilience.RetryConfig
	maxBytes int
}

// WithGroupID overrides the consumer group from config. Services that must
// each see every message use a group of their own.
func WithGroupID(id string) ConsumerOption {
	return func(o *consumerOptions) { o.groupID = id }
}

// WithRetry sets how often a failing message is retried before it is
// skipped.
func WithRetry(cfg resilience.RetryConfig) ConsumerOption {
	return func(o *consumerOptions) { o.retry = cfg }
}

// WithMaxBytes caps the size of a fetched batch.
func WithMaxBytes(n int) ConsumerOption {
	return func(o *consumerOptions) { o.maxBytes = n }
}

// Consumer reads messages from a Kafka topic and dispatches them to a
// MessageHandler. A message whose handler still fails after the retries is
// logged and committed so it cannot stall its partition.
type Consumer struct {
	reader  *kafka.Reader
	logger  *slog.Logger
	handler MessageHandler
	retry   resilience.RetryConfig
	topic   string
}

// NewConsumer creates a Consumer for the given topic and handler. Corpus
// messages carry whole corpora, so MaxBytes defaults to 64MB.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	o := consumerOptions{
		groupID:  cfg.ConsumerGroup,
		maxBytes: 64e6,
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(&o)
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     o.groupID,
		MinBytes:    1,
		MaxBytes:    o.maxBytes,
		MaxWait:     time.Second,
		StartOffset: kafka.LastOffset,
	})

	return &Consumer{
		reader:  r,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic, "group", o.groupID),
		handler: handler,
		retry:   o.retry,
		topic:   topic,
	}
}

// Start enters the consume loop, fetching and processing messages until ctx
// is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			select {
			case <-time.After(fetchBackoff):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		c.logger.Debug("message received",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"value_size", len(msg.Value),
		)
		c.process(ctx, msg)
		if ctx.Err() != nil {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	for _, h := range msg.Headers {
		if h.Key == requestIDHeader {
			ctx = logger.WithRequestID(ctx, string(h.Value))
		}
	}
	op := fmt.Sprintf("%s/%d@%d", c.topic, msg.Partition, msg.Offset)
	err := resilience.Retry(ctx, op, c.retry, func() error {
		return c.handler(ctx, msg.Key, msg.Value)
	})
	if err != nil && ctx.Err() == nil {
		logger.FromContext(ctx).Error("skipping message after failed processing",
			"component", "kafka-consumer",
			"topic", c.topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"error", err,
		)
	}
}

// Close closes the underlying Kafka reader. Start closes it on return, so
// Close is only needed for a consumer that was never started.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON is a generic helper that unmarshals a Kafka message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}

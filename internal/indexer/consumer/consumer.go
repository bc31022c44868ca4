// Package consumer rebuilds the index from corpus updates read off Kafka and
// announces every published generation on the index-complete topic.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/kafka"
)

// CorpusUpdate is the payload of a corpus-update message. It always carries
// the whole corpus; document ids are assigned 1..len(Documents).
type CorpusUpdate struct {
	Documents []string `json:"documents"`
	Source    string   `json:"source,omitempty"`
}

// Builder is the part of *indexer.Engine the consumer drives.
type Builder interface {
	BuildFrom(ctx context.Context, source string, corpus []string) (*indexer.BuildStats, error)
}

// IndexConsumer wraps a Kafka consumer to drive rebuilds.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start begins consuming. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleMessage returns a MessageHandler that rebuilds the index from each
// corpus update. Malformed messages are logged and dropped; a failed build is
// returned so the consumer retries it.
func HandleMessage(b Builder) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		update, err := kafka.DecodeJSON[CorpusUpdate](value)
		if err != nil {
			logger.Error("failed to decode corpus update",
				"error", err,
				"key", string(key),
			)
			return nil
		}
		if update.Documents == nil {
			logger.Error("corpus update has no documents field", "key", string(key))
			return nil
		}
		source := update.Source
		if source == "" {
			source = "kafka"
		}

		logger.Debug("processing corpus update",
			"documents", len(update.Documents),
			"source", source,
		)
		stats, err := b.BuildFrom(ctx, source, update.Documents)
		if err != nil {
			return fmt.Errorf("rebuilding from corpus update: %w", err)
		}
		logger.Info("corpus update indexed",
			"generation", stats.Generation,
			"documents", stats.Documents,
			"terms", stats.Terms,
		)
		return nil
	}
}

// NewBuildEvent converts engine build stats into the event published on the
// index-complete topic.
func NewBuildEvent(stats indexer.BuildStats) analytics.BuildEvent {
	return analytics.BuildEvent{
		Type:       analytics.EventIndexBuild,
		Generation: stats.Generation,
		Namespace:  stats.Namespace,
		Source:     stats.Source,
		Documents:  stats.Documents,
		Terms:      stats.Terms,
		Postings:   stats.Postings,
		DurationMs: stats.Duration.Milliseconds(),
		Timestamp:  stats.BuiltAt,
	}
}

// Announce returns a build listener that publishes a BuildEvent to pub and
// hands it to the analytics sinks. Either may be nil.
func Announce(pub kafka.Publisher, sink analytics.Sink) indexer.BuildListener {
	logger := slog.Default().With("component", "index-announcer")
	return func(ctx context.Context, stats indexer.BuildStats) {
		event := NewBuildEvent(stats)
		if sink != nil {
			sink.Record(event)
		}
		if pub == nil {
			return
		}
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		err := pub.Publish(pubCtx, kafka.Event{
			Key:   fmt.Sprintf("gen-%d", stats.Generation),
			Value: event,
		})
		if err != nil {
			logger.Error("publishing build event failed",
				"generation", stats.Generation,
				"error", err,
			)
		}
	}
}

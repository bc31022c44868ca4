package analytics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/resilience"
)

// Sink receives every tracked event in process, before it is published.
type Sink interface {
	Record(event any)
}

// Collector buffers events and publishes them to Kafka in batches, either
// when a batch fills or on every flush interval. Publishing goes through a
// circuit breaker whose state is exported as a gauge.
type Collector struct {
	publisher     kafka.Publisher
	sinks         []Sink
	eventCh       chan any
	batchSize     int
	flushInterval time.Duration
	breaker       *resilience.CircuitBreaker
	logger        *slog.Logger

	mu      sync.Mutex
	dropped int64
	started atomic.Bool
	done    chan struct{}
}

// NewCollector creates a Collector. publisher may be nil, in which case
// events only reach the sinks.
func NewCollector(publisher kafka.Publisher, bufferSize, batchSize int, flushInterval time.Duration, m *metrics.Metrics, sinks ...Sink) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	const breakerName = "analytics-publisher"
	m.SetBreakerState(breakerName, int(resilience.StateClosed))
	return &Collector{
		publisher:     publisher,
		sinks:         sinks,
		eventCh:       make(chan any, bufferSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		breaker: resilience.NewCircuitBreaker(breakerName, resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, _, to resilience.State) {
				m.SetBreakerState(name, int(to))
			},
		}),
		logger: slog.Default().With("component", "analytics-collector"),
		done:   make(chan struct{}),
	}
}

// Start launches the background batching loop.
func (c *Collector) Start(ctx context.Context) {
	c.started.Store(true)
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()
		batch := make([]kafka.Event, 0, c.batchSize)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					c.flush(context.Background(), batch)
					return
				}
				batch = append(batch, c.toKafka(event))
				if len(batch) >= c.batchSize {
					c.flush(ctx, batch)
					batch = make([]kafka.Event, 0, c.batchSize)
				}
			case <-ticker.C:
				if len(batch) > 0 {
					c.flush(ctx, batch)
					batch = make([]kafka.Event, 0, c.batchSize)
				}
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				c.flush(flushCtx, c.drain(batch))
				cancel()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started",
		"buffer_size", cap(c.eventCh),
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
	)
}

// Track hands event to the sinks and queues it for publishing. It never
// blocks; events are dropped when the buffer is full.
func (c *Collector) Track(event any) {
	for _, s := range c.sinks {
		s.Record(event)
	}
	select {
	case c.eventCh <- event:
	default:
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
		c.logger.Warn("analytics event dropped (buffer full)")
	}
}

// Dropped returns the number of events discarded because the buffer was full.
func (c *Collector) Dropped() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Close flushes what is buffered and waits for the loop to exit. Track must
// not be called after Close.
func (c *Collector) Close() {
	close(c.eventCh)
	if c.started.Load() {
		<-c.done
	}
}

func (c *Collector) drain(batch []kafka.Event) []kafka.Event {
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return batch
			}
			batch = append(batch, c.toKafka(event))
		default:
			return batch
		}
	}
}

func (c *Collector) toKafka(event any) kafka.Event {
	key := "analytics"
	switch e := event.(type) {
	case SearchEvent:
		key = string(e.Type)
	case BuildEvent:
		key = string(e.Type)
	}
	return kafka.Event{Key: key, Value: event}
}

func (c *Collector) flush(ctx context.Context, batch []kafka.Event) {
	if len(batch) == 0 || c.publisher == nil {
		return
	}
	err := c.breaker.Execute(func() error {
		return c.publisher.PublishBatch(ctx, batch)
	})
	if err != nil {
		c.logger.Error("analytics batch publish failed",
			"batch_size", len(batch),
			"error", err,
		)
		return
	}
	c.logger.Debug("analytics batch published", "events", len(batch))
}

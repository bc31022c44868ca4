package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/kafka"
)

type fakeProducer struct {
	mu       sync.Mutex
	events   []kafka.Event
	failures int
}

func (f *fakeProducer) Publish(_ context.Context, e kafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("broker unavailable")
	}
	f.events = append(f.events, e)
	return nil
}

func (f *fakeProducer) PublishBatch(ctx context.Context, events []kafka.Event) error {
	for _, e := range events {
		if err := f.Publish(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeProducer) Close() error { return nil }

func newTestPublisher(f *fakeProducer) *Publisher {
	p := New(f, time.Minute)
	p.retry.InitialDelay = time.Millisecond
	p.retry.MaxDelay = time.Millisecond
	return p
}

func TestIngest_PublishesCorpusUpdate(t *testing.T) {
	f := &fakeProducer{}
	p := newTestPublisher(f)

	resp, err := p.Ingest(context.Background(), &ingestion.CorpusRequest{
		Documents: []string{"Headache and dizziness", "nausea"},
		Source:    "upload",
	})
	require.NoError(t, err)
	assert.Equal(t, ingestion.StatusQueued, resp.Status)
	assert.Equal(t, 2, resp.Documents)
	assert.NotEmpty(t, resp.UpdateID)

	require.Len(t, f.events, 1)
	assert.Equal(t, resp.UpdateID, f.events[0].Key)

	raw, err := json.Marshal(f.events[0].Value)
	require.NoError(t, err)
	update, err := kafka.DecodeJSON[consumer.CorpusUpdate](raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"Headache and dizziness", "nausea"}, update.Documents)
	assert.Equal(t, "upload", update.Source)
}

func TestIngest_Idempotency(t *testing.T) {
	f := &fakeProducer{}
	p := newTestPublisher(f)
	ctx := context.Background()
	req := &ingestion.CorpusRequest{Documents: []string{"a"}, IdempotencyKey: "k1"}

	first, err := p.Ingest(ctx, req)
	require.NoError(t, err)
	second, err := p.Ingest(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.UpdateID, second.UpdateID)
	assert.Len(t, f.events, 1)

	_, err = p.Ingest(ctx, &ingestion.CorpusRequest{Documents: []string{"b"}, IdempotencyKey: "k1"})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Equal(t, http.StatusConflict, apperrors.HTTPStatusCode(err))
}

func TestIngest_RetriesThenFails(t *testing.T) {
	f := &fakeProducer{failures: 1}
	p := newTestPublisher(f)
	_, err := p.Ingest(context.Background(), &ingestion.CorpusRequest{Documents: []string{"a"}})
	require.NoError(t, err, "one failure is retried")

	f.failures = 10
	_, err = p.Ingest(context.Background(), &ingestion.CorpusRequest{Documents: []string{"a"}, IdempotencyKey: "k"})
	assert.ErrorIs(t, err, apperrors.ErrUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, apperrors.HTTPStatusCode(err))

	f.failures = 0
	resp, err := p.Ingest(context.Background(), &ingestion.CorpusRequest{Documents: []string{"a"}, IdempotencyKey: "k"})
	require.NoError(t, err)
	assert.False(t, resp.Duplicate, "failed uploads are not remembered")
}

func TestContentHash(t *testing.T) {
	assert.Equal(t, ContentHash([]string{"a b", "c"}), ContentHash([]string{"a b", "c"}))
	assert.NotEqual(t, ContentHash([]string{"a b", "c"}), ContentHash([]string{"a", "b c"}))
	assert.NotEqual(t, ContentHash([]string{"a", "b"}), ContentHash([]string{"b", "a"}))
	assert.Len(t, ContentHash(nil), 64)
}

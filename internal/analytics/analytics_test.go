package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/metrics"
)

type fakePublisher struct {
	mu      sync.Mutex
	batches [][]kafka.Event
	err     error
}

func (p *fakePublisher) Publish(ctx context.Context, event kafka.Event) error {
	return p.PublishBatch(ctx, []kafka.Event{event})
}

func (p *fakePublisher) PublishBatch(_ context.Context, events []kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.batches = append(p.batches, append([]kafka.Event(nil), events...))
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) events() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.batches {
		n += len(b)
	}
	return n
}

func search(query string, hits int, latency int64, cacheHit bool) SearchEvent {
	return SearchEvent{Type: EventSearch, Query: query, TotalHits: hits, LatencyMs: latency, CacheHit: cacheHit}
}

func TestDecode(t *testing.T) {
	raw, err := json.Marshal(search("effects", 1, 2, false))
	require.NoError(t, err)
	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "effects", got.(SearchEvent).Query)

	raw, err = json.Marshal(BuildEvent{Type: EventIndexBuild, Generation: 4, Documents: 10})
	require.NoError(t, err)
	got, err = Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), got.(BuildEvent).Generation)

	_, err = Decode([]byte(`{"type":"mystery"}`))
	assert.Error(t, err)
	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestAggregator_Stats(t *testing.T) {
	agg := NewAggregator()
	agg.Record(search("Nausea and dizziness", 4, 10, false))
	agg.Record(search("nausea AND dizziness", 4, 20, true))
	agg.Record(search("xyz", 0, 30, false))
	agg.Record(SearchEvent{Type: EventSearchError, Query: "boom"})
	agg.Record(&BuildEvent{Type: EventIndexBuild, Generation: 2, Documents: 4})
	agg.Record(BuildEvent{Type: EventIndexBuild, Generation: 1, Documents: 3})
	agg.Record("ignored")

	stats := agg.Stats()
	assert.Equal(t, int64(4), stats.TotalSearches)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(2), stats.CacheMisses)
	assert.Equal(t, int64(1), stats.ZeroResultCount)
	assert.Equal(t, int64(1), stats.ErrorCount)
	assert.InDelta(t, 20.0, stats.AvgLatencyMs, 0.001)
	assert.Equal(t, int64(20), stats.P50LatencyMs)
	assert.Equal(t, int64(30), stats.P99LatencyMs)
	assert.Equal(t, []QueryCount{{"nausea and dizziness", 2}, {"xyz", 1}}, stats.TopQueries)
	assert.Equal(t, []QueryCount{{"xyz", 1}}, stats.ZeroResultQueries)
	assert.Equal(t, int64(2), stats.Builds)
	require.NotNil(t, stats.LastBuild)
	assert.Equal(t, uint64(2), stats.LastBuild.Generation)
}

func TestAggregator_LatencySamplesAreBounded(t *testing.T) {
	agg := NewAggregator()
	for i := 0; i < maxLatencySamples+50; i++ {
		agg.Record(search("q", 1, int64(i), false))
	}
	agg.mu.RLock()
	defer agg.mu.RUnlock()
	assert.Len(t, agg.latencies, maxLatencySamples)
}

func TestHandleEvent(t *testing.T) {
	agg := NewAggregator()
	handle := HandleEvent(agg)
	raw, _ := json.Marshal(search("effects", 1, 1, false))

	require.NoError(t, handle(context.Background(), []byte("search"), raw))
	require.NoError(t, handle(context.Background(), nil, []byte("garbage")))
	assert.Equal(t, int64(1), agg.Stats().TotalSearches)
}

func TestCollector_FlushesOnBatchSizeAndClose(t *testing.T) {
	pub := &fakePublisher{}
	agg := NewAggregator()
	c := NewCollector(pub, 100, 2, time.Hour, nil, agg)
	c.Start(context.Background())

	c.Track(search("a", 1, 1, false))
	c.Track(search("b", 1, 1, false))
	assert.Eventually(t, func() bool { return pub.events() == 2 }, time.Second, 5*time.Millisecond)

	c.Track(BuildEvent{Type: EventIndexBuild, Generation: 1})
	c.Close()
	assert.Equal(t, 3, pub.events())
	assert.Equal(t, "index_build", pub.batches[len(pub.batches)-1][0].Key)
	assert.Equal(t, int64(2), agg.Stats().TotalSearches, "sinks see events synchronously")
}

func TestCollector_FlushesOnInterval(t *testing.T) {
	pub := &fakePublisher{}
	c := NewCollector(pub, 100, 50, 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	c.Track(search("a", 1, 1, false))
	assert.Eventually(t, func() bool { return pub.events() == 1 }, time.Second, 5*time.Millisecond)
}

func TestCollector_DropsWhenFull(t *testing.T) {
	c := NewCollector(nil, 1, 10, time.Hour, nil)
	c.Track(search("a", 1, 1, false))
	c.Track(search("b", 1, 1, false))
	assert.Equal(t, int64(1), c.Dropped())
	c.Close()
}

func TestCollector_BreakerOpensOnPublishFailures(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	c := NewCollector(pub, 100, 1, time.Hour, m)
	c.Start(context.Background())
	for i := 0; i < 6; i++ {
		c.Track(search("a", 1, 1, false))
	}
	c.Close()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("analytics-publisher")))
}

type fakeHistory struct {
	snapshots []AggregatedStats
	err       error
	limit     int
}

func (f *fakeHistory) ListSnapshots(_ context.Context, limit int) ([]AggregatedStats, error) {
	f.limit = limit
	return f.snapshots, f.err
}

func TestHandler(t *testing.T) {
	agg := NewAggregator()
	agg.Record(search("effects", 1, 3, false))
	history := &fakeHistory{snapshots: []AggregatedStats{{TotalSearches: 7}}}
	h := NewHandler(agg, history)

	rec := httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var stats AggregatedStats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, int64(1), stats.TotalSearches)

	rec = httptest.NewRecorder()
	h.History(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics/history?limit=3", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, history.limit)
	assert.Contains(t, rec.Body.String(), `"total_searches":7`)

	rec = httptest.NewRecorder()
	h.History(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics/history?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	history.err = errors.New("db down")
	rec = httptest.NewRecorder()
	h.History(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics/history", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	NewHandler(agg, nil).History(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics/history", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

package aggregator

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/config"
)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewStore(context.Background(), db, "sqlite")
	require.NoError(t, err)
	return s
}

func TestNewStore_UnknownDriver(t *testing.T) {
	_, err := NewStore(context.Background(), nil, "mysql")
	assert.Error(t, err)
}

func TestStore_SaveAndList(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	latest, err := s.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, s.SaveSnapshot(ctx, analytics.AggregatedStats{TotalSearches: i}))
	}

	latest, err = s.LatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(3), latest.TotalSearches)

	list, err := s.ListSnapshots(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(3), list[0].TotalSearches)
	assert.Equal(t, int64(2), list[1].TotalSearches)
}

func TestStore_ListSkipsCorruptRows(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	require.NoError(t, s.SaveSnapshot(ctx, analytics.AggregatedStats{TotalSearches: 1}))
	_, err := s.db.ExecContext(ctx, `INSERT INTO ngs_analytics_snapshots (data, captured_at) VALUES (?, ?)`, "{broken", time.Now())
	require.NoError(t, err)

	list, err := s.ListSnapshots(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(1), list[0].TotalSearches)
}

func TestStore_PeriodicSaveWritesFinalSnapshot(t *testing.T) {
	s := newSQLiteStore(t)
	agg := analytics.NewAggregator()
	agg.Record(analytics.SearchEvent{Type: analytics.EventSearch, Query: "effects", TotalHits: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := s.StartPeriodicSave(ctx, agg, time.Hour)
	cancel()
	<-done

	latest, err := s.LatestSnapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(1), latest.TotalSearches)
	assert.Equal(t, []analytics.QueryCount{{Query: "effects", Count: 1}}, latest.TopQueries)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	cfg := config.Default()
	cfg.Storage.Backend = config.BackendMemory
	s, closeFn, err := Open(ctx, cfg)
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.NoError(t, closeFn())

	cfg.Storage.Backend = config.BackendSQLite
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "analytics.db")
	s, closeFn, err = Open(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, s)
	defer closeFn()
	require.NoError(t, s.SaveSnapshot(ctx, analytics.AggregatedStats{Builds: 2}))
	latest, err := s.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest.Builds)
}

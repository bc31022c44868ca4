package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/metrics"
)

var symptoms = []string{
	"headache and nausea",
	"nausea and dizziness",
	"headache and dizziness",
}

type failingTerms struct {
	store.TermStore
}

func (failingTerms) Put(context.Context, index.TermEntry) error {
	return errors.New("disk full")
}

// flakyProvider fails every term write while fail is set.
type flakyProvider struct {
	*store.MemoryProvider
	fail atomic.Bool
}

func (p *flakyProvider) Open(ctx context.Context, namespace string) (*store.Stores, error) {
	s, err := p.MemoryProvider.Open(ctx, namespace)
	if err != nil || !p.fail.Load() {
		return s, err
	}
	return &store.Stores{Documents: s.Documents, Terms: failingTerms{s.Terms}}, nil
}

func TestEngine_ViewBeforeBuild(t *testing.T) {
	e := NewEngine(store.NewMemoryProvider(), config.IndexerConfig{})
	err := e.View(func(*Generation) error { return nil })
	assert.ErrorIs(t, err, apperrors.ErrNotReady)
	assert.False(t, e.Ready())
	_, ok := e.Stats()
	assert.False(t, ok)
}

func TestEngine_Build(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(store.NewMemoryProvider(), config.IndexerConfig{})

	stats, err := e.Build(ctx, symptoms)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Generation)
	assert.Equal(t, 3, stats.Documents)
	assert.Equal(t, 18, stats.Tokens)
	assert.Equal(t, "build", stats.Source)

	err = e.View(func(g *Generation) error {
		assert.Equal(t, stats.Terms, g.Index.TermCount())
		for id, want := range symptoms {
			got, err := g.Stores.Documents.Get(ctx, id+1)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
		entry, err := g.Stores.Terms.Get(ctx, "nausea and")
		require.NoError(t, err)
		assert.Equal(t, index.PostingList{{DocID: 2, Frequency: 1}}, entry.Postings)
		pos, ok := g.Index.Vocabulary().Position("nausea and")
		require.True(t, ok)
		assert.Equal(t, pos, entry.Position)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, e.Ready())
}

func TestEngine_EmptyCorpus(t *testing.T) {
	e := NewEngine(store.NewMemoryProvider(), config.IndexerConfig{})
	stats, err := e.Build(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, stats.Documents)
	assert.Zero(t, stats.Terms)
	assert.True(t, e.Ready())
}

func TestEngine_RebuildDropsPreviousGeneration(t *testing.T) {
	ctx := context.Background()
	p := store.NewMemoryProvider()
	e := NewEngine(p, config.IndexerConfig{})

	first, err := e.Build(ctx, symptoms)
	require.NoError(t, err)
	var old *store.Stores
	require.NoError(t, e.View(func(g *Generation) error {
		old = g.Stores
		return nil
	}))

	second, err := e.Build(ctx, []string{"fever"})
	require.NoError(t, err)
	assert.Greater(t, second.Generation, first.Generation)
	assert.Equal(t, 1, p.Namespaces())

	_, err = old.Documents.Get(ctx, 1)
	assert.True(t, store.IsNotFound(err))

	require.NoError(t, e.View(func(g *Generation) error {
		assert.Equal(t, 1, g.Index.DocCount())
		_, known := g.Index.Vocabulary().Position("nausea")
		assert.False(t, known)
		return nil
	}))
}

func TestEngine_FailedBuildKeepsPreviousGeneration(t *testing.T) {
	ctx := context.Background()
	p := &flakyProvider{MemoryProvider: store.NewMemoryProvider()}
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegisterer(reg)
	e := NewEngine(p, config.IndexerConfig{}, WithMetrics(m))

	good, err := e.Build(ctx, symptoms)
	require.NoError(t, err)

	p.fail.Store(true)
	_, err = e.Build(ctx, []string{"fever and chills"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrBuildFailed)
	assert.ErrorContains(t, err, "disk full")

	stats, ok := e.Stats()
	require.True(t, ok)
	assert.Equal(t, good.Generation, stats.Generation)
	assert.Equal(t, 1, p.Namespaces(), "partial generation should be dropped")

	require.NoError(t, e.View(func(g *Generation) error {
		got, err := g.Stores.Documents.Get(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, "nausea and dizziness", got)
		return nil
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexBuildsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexBuildsTotal.WithLabelValues("failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.IndexDocuments))
}

func TestEngine_NamespacesScopedByInstance(t *testing.T) {
	ctx := context.Background()
	p := store.NewMemoryProvider()
	a := NewEngine(p, config.IndexerConfig{InstanceID: "a"})
	b := NewEngine(p, config.IndexerConfig{}, WithInstanceID("b"))

	sa, err := a.Build(ctx, symptoms)
	require.NoError(t, err)
	sb, err := b.Build(ctx, symptoms)
	require.NoError(t, err)
	assert.Equal(t, "a-gen-1", sa.Namespace)
	assert.Equal(t, "b-gen-1", sb.Namespace)

	_, err = a.Build(ctx, []string{"fever"})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Namespaces())

	require.NoError(t, b.View(func(g *Generation) error {
		entry, err := g.Stores.Terms.Get(ctx, "nausea")
		require.NoError(t, err)
		assert.Equal(t, 2, entry.DocFreq())
		got, err := g.Stores.Documents.Get(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, "nausea and dizziness", got)
		return nil
	}))
}

func TestEngine_DefaultInstanceIDsDiffer(t *testing.T) {
	a := NewEngine(store.NewMemoryProvider(), config.IndexerConfig{})
	b := NewEngine(store.NewMemoryProvider(), config.IndexerConfig{})
	assert.NotEmpty(t, a.InstanceID())
	assert.NotEqual(t, a.InstanceID(), b.InstanceID())
}

func TestEngine_FirstPublishReclaimsOrphans(t *testing.T) {
	ctx := context.Background()
	p := store.NewMemoryProvider()

	// a previous run of instance "x" died with two generations stored
	for _, ns := range []string{"x-gen-1", "x-gen-2"} {
		s, err := p.Open(ctx, ns)
		require.NoError(t, err)
		require.NoError(t, s.Documents.Put(ctx, 1, "stale"))
	}
	other, err := p.Open(ctx, "y-gen-1")
	require.NoError(t, err)
	require.NoError(t, other.Documents.Put(ctx, 1, "live elsewhere"))

	e := NewEngine(p, config.IndexerConfig{InstanceID: "x"})
	stats, err := e.Build(ctx, symptoms)
	require.NoError(t, err)
	assert.Equal(t, "x-gen-1", stats.Namespace)

	names, ok, err := store.ListNamespaces(ctx, p)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"x-gen-1", "y-gen-1"}, names)

	got, err := other.Documents.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "live elsewhere", got)
	require.NoError(t, e.View(func(g *Generation) error {
		got, err := g.Stores.Documents.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "headache and nausea", got)
		return nil
	}))
}

func TestEngine_OnBuild(t *testing.T) {
	e := NewEngine(store.NewMemoryProvider(), config.IndexerConfig{})
	var got []uint64
	e.OnBuild(func(_ context.Context, stats BuildStats) {
		got = append(got, stats.Generation)
	})
	for i := 0; i < 3; i++ {
		_, err := e.Build(context.Background(), symptoms)
		require.NoError(t, err)
	}
	assert.Equal(t, []uint64{1, 2, 3}, got)
}

func TestEngine_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := config.IndexerConfig{DataDir: dir, KeepSnapshots: 2}

	src := NewEngine(store.NewMemoryProvider(), cfg)
	_, err := src.Build(ctx, symptoms)
	require.NoError(t, err)
	path, err := src.SaveSnapshot(ctx)
	require.NoError(t, err)
	assert.FileExists(t, path)

	dst := NewEngine(store.NewMemoryProvider(), cfg)
	stats, found, err := dst.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "snapshot", stats.Source)
	assert.Equal(t, 3, stats.Documents)

	var want, got []index.TermEntry
	require.NoError(t, src.View(func(g *Generation) error {
		want = g.Index.Entries()
		return nil
	}))
	require.NoError(t, dst.View(func(g *Generation) error {
		got = g.Index.Entries()
		content, err := g.Stores.Documents.Get(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, "headache and dizziness", content)
		return nil
	}))
	assert.Equal(t, want, got)
}

func TestEngine_LoadSnapshotMissing(t *testing.T) {
	e := NewEngine(store.NewMemoryProvider(), config.IndexerConfig{DataDir: t.TempDir()})
	_, found, err := e.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, e.Ready())
}

func TestEngine_LoadSnapshotCorrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "snap_1.spdx"), []byte("garbage"), 0644))
	e := NewEngine(store.NewMemoryProvider(), config.IndexerConfig{DataDir: dir})
	_, _, err := e.LoadSnapshot(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrBuildFailed)
}

func TestEngine_SnapshotOnBuildPrunes(t *testing.T) {
	dir := t.TempDir()
	e := NewEngine(store.NewMemoryProvider(), config.IndexerConfig{
		DataDir:         dir,
		SnapshotOnBuild: true,
		KeepSnapshots:   2,
	})
	for i := 0; i < 4; i++ {
		_, err := e.Build(context.Background(), []string{fmt.Sprintf("document %d", i)})
		require.NoError(t, err)
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.spdx"))
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestEngine_SaveSnapshotWithoutDataDir(t *testing.T) {
	e := NewEngine(store.NewMemoryProvider(), config.IndexerConfig{})
	_, err := e.Build(context.Background(), symptoms)
	require.NoError(t, err)
	_, err = e.SaveSnapshot(context.Background())
	assert.Error(t, err)
}

func TestEngine_ConcurrentQueriesDuringRebuild(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(store.WithDocumentCache(store.NewMemoryProvider(), 8), config.IndexerConfig{})
	_, err := e.Build(ctx, symptoms)
	require.NoError(t, err)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan error, 16)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				err := e.View(func(g *Generation) error {
					entry, ok := g.Index.Lookup("and")
					if !ok {
						return fmt.Errorf("generation %d lost term", g.Stats.Generation)
					}
					for _, p := range entry.Postings {
						if _, err := g.Stores.Documents.Get(ctx, p.DocID); err != nil {
							return err
						}
					}
					return nil
				})
				if err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	for i := 0; i < 20; i++ {
		_, err := e.Build(ctx, symptoms)
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

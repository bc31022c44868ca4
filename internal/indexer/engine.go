// Package indexer builds the n-gram index from a corpus and publishes it as
// an immutable generation that queries read from.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/metrics"
)

// BuildStats describes a published generation.
type BuildStats struct {
	Generation uint64        `json:"generation"`
	Namespace  string        `json:"namespace"`
	Documents  int           `json:"documents"`
	Terms      int           `json:"terms"`
	Postings   int           `json:"postings"`
	Tokens     int           `json:"tokens"`
	Source     string        `json:"source"`
	Duration   time.Duration `json:"duration_ns"`
	BuiltAt    time.Time     `json:"built_at"`
}

// Generation is one published index: the in-memory vocabulary and postings
// plus the stores they were persisted into.
type Generation struct {
	Index  *index.Index
	Stores *store.Stores
	Stats  BuildStats
}

// BuildListener is notified after every successful publish.
type BuildListener func(ctx context.Context, stats BuildStats)

type Option func(*Engine)

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithInstanceID overrides cfg.InstanceID. Engines sharing a store backend
// must use distinct ids.
func WithInstanceID(id string) Option {
	return func(e *Engine) { e.instance = id }
}

// Engine owns the published generation. Builds are serialised; queries run
// under a read lock via View so a generation is never dropped underneath
// them.
type Engine struct {
	provider store.Provider
	cfg      config.IndexerConfig
	writer   *segment.Writer
	metrics  *metrics.Metrics
	logger   *slog.Logger
	// instance scopes this engine's namespaces to "<instance>-gen-<n>".
	instance string

	buildMu   sync.Mutex
	lastGen   uint64
	reclaimed bool

	mu        sync.RWMutex
	current   *Generation
	listeners []BuildListener
}

func NewEngine(provider store.Provider, cfg config.IndexerConfig, opts ...Option) *Engine {
	e := &Engine{
		provider: provider,
		cfg:      cfg,
		logger:   slog.Default().With("component", "indexer"),
		instance: cfg.InstanceID,
	}
	if cfg.DataDir != "" {
		e.writer = segment.NewWriter(cfg.DataDir)
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.instance == "" {
		e.instance = uuid.NewString()[:8]
	}
	return e
}

// InstanceID returns the id that prefixes this engine's namespaces.
func (e *Engine) InstanceID() string {
	return e.instance
}

func (e *Engine) namespace(gen uint64) string {
	return fmt.Sprintf("%s-gen-%d", e.instance, gen)
}

// OnBuild registers fn to run after each successful publish.
func (e *Engine) OnBuild(fn BuildListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// Build indexes corpus with document ids 1..len(corpus) and publishes it.
// On failure the previously published generation stays live and the error
// wraps apperrors.ErrBuildFailed.
func (e *Engine) Build(ctx context.Context, corpus []string) (*BuildStats, error) {
	return e.BuildFrom(ctx, "build", corpus)
}

// BuildFrom is Build with source recorded in the published BuildStats, e.g.
// "http", "kafka" or a corpus file path.
func (e *Engine) BuildFrom(ctx context.Context, source string, corpus []string) (*BuildStats, error) {
	e.buildMu.Lock()
	defer e.buildMu.Unlock()

	start := time.Now()
	b := index.NewBuilder()
	docs := make([]segment.Document, 0, len(corpus))
	tokens := 0
	for i, text := range corpus {
		n, err := b.AddDocument(i+1, text)
		if err != nil {
			return nil, e.failed(fmt.Errorf("%w: %w", apperrors.ErrBuildFailed, err))
		}
		tokens += n
		docs = append(docs, segment.Document{ID: i + 1, Content: text})
	}
	idx := b.Build()
	e.logger.Debug("corpus tokenized",
		"documents", len(docs),
		"tokens", tokens,
		"terms", idx.TermCount(),
	)

	stats, err := e.publish(ctx, idx, docs, source, start)
	if err != nil {
		return nil, e.failed(err)
	}
	stats.Tokens = tokens

	if e.cfg.SnapshotOnBuild && e.writer != nil {
		if _, err := e.writeSnapshot(ctx, idx, docs); err != nil {
			e.logger.Error("snapshot after build failed", "generation", stats.Generation, "error", err)
		}
	}
	return stats, nil
}

func (e *Engine) failed(err error) error {
	e.metrics.ObserveBuild("failed", 0, 0, 0, 0)
	e.logger.Error("index build failed", "error", err)
	return err
}

// publish persists idx and docs into a fresh namespace and swaps it in.
func (e *Engine) publish(ctx context.Context, idx *index.Index, docs []segment.Document, source string, start time.Time) (*BuildStats, error) {
	e.lastGen++
	gen := e.lastGen
	ns := e.namespace(gen)

	stores, err := e.populate(ctx, ns, idx, docs)
	if err != nil {
		dropCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if dropErr := store.Drop(dropCtx, e.provider, ns); dropErr != nil {
			e.logger.Warn("dropping partial generation failed", "namespace", ns, "error", dropErr)
		}
		return nil, fmt.Errorf("%w: generation %d: %w", apperrors.ErrBuildFailed, gen, err)
	}

	stats := BuildStats{
		Generation: gen,
		Namespace:  ns,
		Documents:  len(docs),
		Terms:      idx.TermCount(),
		Postings:   idx.PostingCount(),
		Source:     source,
		Duration:   time.Since(start),
		BuiltAt:    time.Now().UTC(),
	}
	next := &Generation{Index: idx, Stores: stores, Stats: stats}

	e.mu.Lock()
	prev := e.current
	e.current = next
	listeners := append([]BuildListener(nil), e.listeners...)
	e.mu.Unlock()

	if prev != nil {
		if err := store.Drop(ctx, e.provider, prev.Stats.Namespace); err != nil {
			e.logger.Warn("dropping previous generation failed",
				"namespace", prev.Stats.Namespace,
				"error", err,
			)
		}
	}
	if !e.reclaimed {
		e.reclaimed = true
		e.reclaimOrphans(ctx, ns)
	}

	e.metrics.ObserveBuild("success", stats.Duration, stats.Documents, stats.Terms, gen)
	e.logger.Info("index generation published",
		"generation", gen,
		"source", source,
		"documents", stats.Documents,
		"terms", stats.Terms,
		"postings", stats.Postings,
		"duration", stats.Duration,
	)
	for _, fn := range listeners {
		fn(ctx, stats)
	}
	out := stats
	return &out, nil
}

// reclaimOrphans drops namespaces a previous run of this instance left
// behind, keeping live. Other instances' namespaces are never touched.
func (e *Engine) reclaimOrphans(ctx context.Context, live string) {
	names, ok, err := store.ListNamespaces(ctx, e.provider)
	if err != nil {
		e.logger.Warn("listing namespaces for reclaim failed", "error", err)
		return
	}
	if !ok {
		return
	}
	prefix := e.instance + "-gen-"
	for _, ns := range names {
		if ns == live || !strings.HasPrefix(ns, prefix) {
			continue
		}
		if err := store.Drop(ctx, e.provider, ns); err != nil {
			e.logger.Warn("dropping orphaned generation failed", "namespace", ns, "error", err)
			continue
		}
		e.logger.Info("orphaned generation dropped", "namespace", ns)
	}
}

func (e *Engine) populate(ctx context.Context, ns string, idx *index.Index, docs []segment.Document) (*store.Stores, error) {
	stores, err := e.provider.Open(ctx, ns)
	if err != nil {
		return nil, fmt.Errorf("opening namespace %s: %w", ns, err)
	}
	if err := stores.Clear(ctx); err != nil {
		return nil, err
	}
	for _, doc := range docs {
		if err := stores.Documents.Put(ctx, doc.ID, doc.Content); err != nil {
			return nil, fmt.Errorf("storing document %d: %w", doc.ID, err)
		}
	}
	if err := store.PutTerms(ctx, stores.Terms, idx.Entries(), e.cfg.BatchSize); err != nil {
		return nil, fmt.Errorf("storing terms: %w", err)
	}
	return stores, nil
}

// View runs fn against the published generation while holding the read
// lock. It returns apperrors.ErrNotReady before the first publish.
func (e *Engine) View(fn func(g *Generation) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current == nil {
		return apperrors.ErrNotReady
	}
	return fn(e.current)
}

// Stats returns the published generation's stats, or false before the first
// publish.
func (e *Engine) Stats() (BuildStats, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current == nil {
		return BuildStats{}, false
	}
	return e.current.Stats, true
}

// Generation returns the published generation number, zero before the first
// publish.
func (e *Engine) Generation() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current == nil {
		return 0
	}
	return e.current.Stats.Generation
}

func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current != nil
}

// SaveSnapshot writes the published generation to a new .spdx file in the
// data directory and returns its path. Document contents are read back from
// the document store.
func (e *Engine) SaveSnapshot(ctx context.Context) (string, error) {
	if e.writer == nil {
		return "", fmt.Errorf("snapshots disabled: no data directory configured")
	}
	var (
		idx  *index.Index
		docs []segment.Document
	)
	err := e.View(func(g *Generation) error {
		idx = g.Index
		docs = make([]segment.Document, 0, g.Index.DocCount())
		for id := 1; id <= g.Index.DocCount(); id++ {
			content, err := g.Stores.Documents.Get(ctx, id)
			if err != nil {
				return fmt.Errorf("reading document %d for snapshot: %w", id, err)
			}
			docs = append(docs, segment.Document{ID: id, Content: content})
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return e.writeSnapshot(ctx, idx, docs)
}

func (e *Engine) writeSnapshot(_ context.Context, idx *index.Index, docs []segment.Document) (string, error) {
	name, err := e.writer.Write(idx, docs)
	e.metrics.ObserveSnapshot("save", err)
	if err != nil {
		return "", fmt.Errorf("writing snapshot: %w", err)
	}
	path := filepath.Join(e.cfg.DataDir, name)
	e.logger.Info("snapshot written", "path", path, "terms", idx.TermCount(), "docs", len(docs))
	if e.cfg.KeepSnapshots > 0 {
		if removed, err := segment.Prune(e.cfg.DataDir, e.cfg.KeepSnapshots); err != nil {
			e.logger.Warn("pruning snapshots failed", "error", err)
		} else if removed > 0 {
			e.logger.Debug("old snapshots pruned", "removed", removed)
		}
	}
	return path, nil
}

// LoadSnapshot publishes the newest snapshot in the data directory. It
// returns false when there is none.
func (e *Engine) LoadSnapshot(ctx context.Context) (*BuildStats, bool, error) {
	if e.cfg.DataDir == "" {
		return nil, false, nil
	}
	path, err := segment.Latest(e.cfg.DataDir)
	if err != nil || path == "" {
		return nil, false, err
	}
	stats, err := e.LoadSnapshotFile(ctx, path)
	if err != nil {
		return nil, false, err
	}
	return stats, true, nil
}

// LoadSnapshotFile publishes the snapshot at path as a new generation.
func (e *Engine) LoadSnapshotFile(ctx context.Context, path string) (*BuildStats, error) {
	e.buildMu.Lock()
	defer e.buildMu.Unlock()

	start := time.Now()
	idx, docs, err := readSnapshot(path)
	e.metrics.ObserveSnapshot("load", err)
	if err != nil {
		return nil, e.failed(fmt.Errorf("%w: %w", apperrors.ErrBuildFailed, err))
	}
	stats, err := e.publish(ctx, idx, docs, "snapshot", start)
	if err != nil {
		return nil, e.failed(err)
	}
	e.logger.Info("snapshot loaded", "path", path, "generation", stats.Generation)
	return stats, nil
}

func readSnapshot(path string) (*index.Index, []segment.Document, error) {
	r, err := segment.OpenReader(path)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()
	idx, err := r.Index()
	if err != nil {
		return nil, nil, err
	}
	docs, err := r.Documents()
	if err != nil {
		return nil, nil, err
	}
	for i, doc := range docs {
		if doc.ID != i+1 {
			return nil, nil, fmt.Errorf("snapshot %s: document ids are not contiguous at %d", filepath.Base(path), doc.ID)
		}
	}
	if len(docs) != idx.DocCount() {
		return nil, nil, fmt.Errorf("snapshot %s: %d documents stored, index expects %d", filepath.Base(path), len(docs), idx.DocCount())
	}
	return idx, docs, nil
}

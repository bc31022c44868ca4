package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/tracing"
)

// Result is one ranked document with its content.
type Result struct {
	DocID   int     `json:"doc_id"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

type SearchResult struct {
	Query      string         `json:"query"`
	Generation uint64         `json:"generation"`
	TotalHits  int            `json:"total_hits"`
	Results    []Result       `json:"results"`
	TermStats  map[string]int `json:"term_stats"`
}

type Executor struct {
	engine  *indexer.Engine
	cfg     config.SearchConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(engine *indexer.Engine, cfg config.SearchConfig, m *metrics.Metrics) *Executor {
	return &Executor{
		engine:  engine,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "query-executor"),
	}
}

// Limit resolves a requested result limit against the configured default
// and maximum. Zero means unlimited.
func (e *Executor) Limit(requested int) int {
	limit := requested
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}
	if e.cfg.MaxResults > 0 && (limit <= 0 || limit > e.cfg.MaxResults) {
		limit = e.cfg.MaxResults
	}
	return limit
}

// Execute tokenizes query, ranks the published generation against it and
// returns the top results with their content. An empty or unmatched query
// yields an empty result. A ranked document missing from the document store
// fails the query with apperrors.ErrStoreIntegrity.
func (e *Executor) Execute(ctx context.Context, query string, limit int) (*SearchResult, error) {
	start := time.Now()
	limit = e.Limit(limit)

	var result *SearchResult
	err := resilience.WithTimeout(ctx, e.cfg.QueryTimeout, "search", func(ctx context.Context) error {
		var err error
		result, err = e.execute(ctx, query, limit)
		return err
	})
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", apperrors.ErrTimeout, err)
	}
	if err != nil {
		e.metrics.ObserveSearch("error", "computed", time.Since(start), 0)
		return nil, err
	}

	resultType := "match"
	if len(result.Results) == 0 {
		resultType = "zero_result"
	}
	e.metrics.ObserveSearch(resultType, "computed", time.Since(start), len(result.Results))
	e.logger.Debug("query executed",
		"query", query,
		"generation", result.Generation,
		"candidates", result.TotalHits,
		"results", len(result.Results),
		"elapsed", time.Since(start),
	)
	return result, nil
}

func (e *Executor) execute(ctx context.Context, query string, limit int) (*SearchResult, error) {
	var result *SearchResult
	err := e.engine.View(func(g *indexer.Generation) error {
		tokens := tokenizer.Tokenize(query)
		termStats := make(map[string]int)
		lookup := e.termLookup(g, termStats)

		_, rankSpan := tracing.Start(ctx, "rank")
		ranked, err := ranker.Rank(ctx, tokens, g.Index.Vocabulary(), lookup, 0)
		rankSpan.SetAttr("tokens", len(tokens))
		rankSpan.SetAttr("candidates", len(ranked))
		rankSpan.End()
		if err != nil {
			return err
		}
		total := len(ranked)
		if limit > 0 && len(ranked) > limit {
			ranked = ranked[:limit]
		}

		_, fetchSpan := tracing.Start(ctx, "fetch")
		defer fetchSpan.End()
		results := make([]Result, 0, len(ranked))
		for _, doc := range ranked {
			content, err := g.Stores.Documents.Get(ctx, doc.DocID)
			if err != nil {
				if errors.Is(err, apperrors.ErrDocumentNotFound) {
					e.logger.Error("ranked document missing from store",
						"doc_id", doc.DocID,
						"generation", g.Stats.Generation,
					)
					return apperrors.Integrity(doc.DocID)
				}
				return fmt.Errorf("fetching document %d: %w", doc.DocID, err)
			}
			results = append(results, Result{DocID: doc.DocID, Content: content, Score: doc.Score})
		}
		result = &SearchResult{
			Query:      query,
			Generation: g.Stats.Generation,
			TotalHits:  total,
			Results:    results,
			TermStats:  termStats,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// termLookup reads postings from the generation's term store and records the
// document frequency of every matched term in stats.
func (e *Executor) termLookup(g *indexer.Generation, stats map[string]int) ranker.TermLookup {
	return func(ctx context.Context, term string) (index.TermEntry, bool, error) {
		if err := ctx.Err(); err != nil {
			return index.TermEntry{}, false, err
		}
		entry, err := g.Stores.Terms.Get(ctx, term)
		if err != nil {
			if store.IsNotFound(err) {
				e.logger.Error("vocabulary term missing from term store",
					"term", term,
					"generation", g.Stats.Generation,
				)
				return index.TermEntry{}, false, apperrors.TermIntegrity(term)
			}
			return index.TermEntry{}, false, err
		}
		stats[term] = entry.DocFreq()
		return entry, true, nil
	}
}

// ExecuteBatch runs queries concurrently, bounded by MaxConcurrentQueries,
// and returns results in input order. The first failure cancels the rest.
func (e *Executor) ExecuteBatch(ctx context.Context, queries []string, limit int) ([]*SearchResult, error) {
	results := make([]*SearchResult, len(queries))
	g, ctx := errgroup.WithContext(ctx)
	if e.cfg.MaxConcurrentQueries > 0 {
		g.SetLimit(e.cfg.MaxConcurrentQueries)
	}
	for i, q := range queries {
		g.Go(func() error {
			res, err := e.Execute(ctx, q, limit)
			if err != nil {
				return fmt.Errorf("query %d %q: %w", i+1, q, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/searcher/executor"
	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/tracing"
)

const maxBodyBytes = 32 << 20

// CacheHeader reports whether a search was answered from the query cache.
const CacheHeader = "X-Cache"

type SearchExecutor interface {
	Execute(ctx context.Context, query string, limit int) (*executor.SearchResult, error)
	ExecuteBatch(ctx context.Context, queries []string, limit int) ([]*executor.SearchResult, error)
	Limit(requested int) int
}

// IndexEngine is the part of *indexer.Engine the HTTP surface needs.
type IndexEngine interface {
	BuildFrom(ctx context.Context, source string, corpus []string) (*indexer.BuildStats, error)
	Stats() (indexer.BuildStats, bool)
}

// Tracker receives analytics events; *analytics.Collector implements it.
type Tracker interface {
	Track(event any)
}

type Handler struct {
	executor SearchExecutor
	engine   IndexEngine
	cache    *cache.QueryCache
	tracker  Tracker
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New wires the search HTTP handlers. queryCache, tracker and m may be nil.
func New(exec SearchExecutor, engine IndexEngine, queryCache *cache.QueryCache, tracker Tracker, m *metrics.Metrics) *Handler {
	return &Handler{
		executor: exec,
		engine:   engine,
		cache:    queryCache,
		tracker:  tracker,
		metrics:  m,
		logger:   slog.Default().With("component", "search-handler"),
	}
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("POST /api/v1/search/batch", h.SearchBatch)
	mux.HandleFunc("POST /api/v1/index", h.Rebuild)
	mux.HandleFunc("GET /api/v1/index/stats", h.IndexStats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

// Search handles GET /api/v1/search?q=&limit=. A missing or empty q yields
// an empty result set.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := tracing.Start(r.Context(), "search")
	defer span.End()
	log := logger.FromContext(ctx)

	query := r.URL.Query().Get("q")
	span.SetAttr("query", query)
	requested, ok := h.parseLimit(w, r.URL.Query().Get("limit"))
	if !ok {
		return
	}
	limit := h.executor.Limit(requested)

	var (
		result   *executor.SearchResult
		err      error
		cacheHit bool
	)
	if h.cache != nil {
		result, cacheHit, err = h.cache.GetOrCompute(ctx, query, limit, func() (*executor.SearchResult, error) {
			return h.executor.Execute(ctx, query, limit)
		})
	} else {
		result, err = h.executor.Execute(ctx, query, limit)
	}
	latency := time.Since(start)

	if err != nil {
		log.Error("search execution failed", "query", query, "error", err)
		h.track(ctx, analytics.SearchEvent{Type: analytics.EventSearchError, Query: query}, latency)
		h.writeAppError(w, err, "search failed")
		return
	}
	span.SetAttr("cache_hit", cacheHit)
	if cacheHit {
		resultType := "match"
		if len(result.Results) == 0 {
			resultType = "zero_result"
		}
		h.metrics.ObserveSearch(resultType, "hit", latency, len(result.Results))
	}

	log.Info("search completed",
		"query", query,
		"total_hits", result.TotalHits,
		"returned", len(result.Results),
		"cache_hit", cacheHit,
		"generation", result.Generation,
		"latency_ms", latency.Milliseconds(),
	)

	eventType := analytics.EventCacheMiss
	switch {
	case result.TotalHits == 0:
		eventType = analytics.EventZeroResult
	case cacheHit:
		eventType = analytics.EventCacheHit
	}
	h.track(ctx, analytics.SearchEvent{
		Type:       eventType,
		Query:      query,
		Tokens:     len(tokenizer.Tokenize(query)),
		TotalHits:  result.TotalHits,
		Returned:   len(result.Results),
		CacheHit:   cacheHit,
		Generation: result.Generation,
	}, latency)

	if h.cache != nil {
		w.Header().Set(CacheHeader, cacheStatus(cacheHit))
	}
	h.writeJSON(w, http.StatusOK, result)
}

func cacheStatus(hit bool) string {
	if hit {
		return "HIT"
	}
	return "MISS"
}

type batchRequest struct {
	Queries []string `json:"queries"`
	Limit   int      `json:"limit"`
}

// SearchBatch handles POST /api/v1/search/batch. Results come back in the
// order the queries were given.
func (h *Handler) SearchBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Limit < 0 {
		h.writeError(w, http.StatusBadRequest, "limit must not be negative")
		return
	}
	results, err := h.executor.ExecuteBatch(r.Context(), req.Queries, req.Limit)
	if err != nil {
		logger.FromContext(r.Context()).Error("batch search failed", "queries", len(req.Queries), "error", err)
		h.writeAppError(w, err, "batch search failed")
		return
	}
	if results == nil {
		results = []*executor.SearchResult{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type rebuildRequest struct {
	Documents []string `json:"documents"`
}

// Rebuild handles POST /api/v1/index by replacing the whole corpus.
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	var req rebuildRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Documents == nil {
		h.writeError(w, http.StatusBadRequest, "documents is required")
		return
	}
	stats, err := h.engine.BuildFrom(r.Context(), "http", req.Documents)
	if err != nil {
		logger.FromContext(r.Context()).Error("rebuild failed", "documents", len(req.Documents), "error", err)
		h.writeAppError(w, err, "index build failed")
		return
	}
	h.writeJSON(w, http.StatusCreated, stats)
}

// IndexStats handles GET /api/v1/index/stats.
func (h *Handler) IndexStats(w http.ResponseWriter, r *http.Request) {
	stats, ok := h.engine.Stats()
	if !ok {
		h.writeAppError(w, apperrors.ErrNotReady, "")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"backend":  h.cache.Backend(),
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}

	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) parseLimit(w http.ResponseWriter, raw string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return n, true
}

func (h *Handler) track(ctx context.Context, event analytics.SearchEvent, latency time.Duration) {
	if h.tracker == nil {
		return
	}
	event.LatencyMs = latency.Milliseconds()
	event.Timestamp = time.Now().UTC()
	event.RequestID = middleware.GetRequestID(ctx)
	h.tracker.Track(event)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeAppError maps err to its HTTP status. Client and availability errors
// are reported verbatim; other server errors are replaced by fallback.
func (h *Handler) writeAppError(w http.ResponseWriter, err error, fallback string) {
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		message = fallback
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			message = appErr.Message
		}
	}
	h.writeError(w, status, message)
}

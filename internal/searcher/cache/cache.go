package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/redis"
)

const keyPrefix = "search:"

// Backend stores serialized search results.
type Backend interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
	Name() string
}

type redisBackend struct {
	client *pkgredis.Client
}

// NewRedisBackend shares cached results across service replicas.
func NewRedisBackend(client *pkgredis.Client) Backend {
	return &redisBackend{client: client}
}

func (b *redisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := b.client.Get(ctx, key)
	if err != nil {
		if pkgredis.IsNilError(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return []byte(data), true, nil
}

func (b *redisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl)
}

func (b *redisBackend) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	return b.client.FlushByPattern(ctx, prefix+"*")
}

func (b *redisBackend) Name() string { return "redis" }

type localBackend struct {
	lru *expirable.LRU[string, []byte]
}

// NewLocalBackend keeps up to size results in process, each expiring after
// ttl. It is used when Redis is not configured.
func NewLocalBackend(size int, ttl time.Duration) Backend {
	return &localBackend{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (b *localBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := b.lru.Get(key)
	return v, ok, nil
}

// Set ignores ttl; entries expire after the TTL the backend was built with.
func (b *localBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	b.lru.Add(key, value)
	return nil
}

func (b *localBackend) DeletePrefix(_ context.Context, prefix string) (int64, error) {
	var deleted int64
	for _, key := range b.lru.Keys() {
		if strings.HasPrefix(key, prefix) && b.lru.Remove(key) {
			deleted++
		}
	}
	return deleted, nil
}

func (b *localBackend) Name() string { return "local" }

// QueryCache caches search results keyed by the normalized query, the limit
// and the index generation they were computed on. Concurrent misses for the
// same key are collapsed into one computation.
type QueryCache struct {
	backend    Backend
	ttl        time.Duration
	generation func() uint64
	group      singleflight.Group
	metrics    *metrics.Metrics
	logger     *slog.Logger
	hits       atomic.Int64
	misses     atomic.Int64
}

type Option func(*QueryCache)

// WithGeneration reports the live index generation. Lookups only match
// results computed on it, and results from older generations are not
// stored.
func WithGeneration(fn func() uint64) Option {
	return func(c *QueryCache) { c.generation = fn }
}

func New(backend Backend, ttl time.Duration, m *metrics.Metrics, opts ...Option) *QueryCache {
	c := &QueryCache{
		backend: backend,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache", "backend", backend.Name()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *QueryCache) currentGeneration() uint64 {
	if c.generation == nil {
		return 0
	}
	return c.generation()
}

// Get returns the cached result for query on the live generation. The
// returned Query is always the caller's, even when another spelling of the
// same words filled the entry.
func (c *QueryCache) Get(ctx context.Context, query string, limit int) (*executor.SearchResult, bool) {
	key := c.buildKey(query, limit, c.currentGeneration())
	data, found, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logger.Error("cache get failed", "key", key, "error", err)
	}
	if err != nil || !found {
		c.miss()
		return nil, false
	}
	var result executor.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	result.Query = query
	c.hits.Add(1)
	c.metrics.ObserveCache(true)
	c.logger.Debug("cache hit", "query", query, "key", key)
	return &result, true
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	c.metrics.ObserveCache(false)
}

// Set stores result under the generation it was computed on. Results older
// than the live generation are dropped.
func (c *QueryCache) Set(ctx context.Context, query string, limit int, result *executor.SearchResult) {
	if c.generation != nil {
		if live := c.generation(); result.Generation < live {
			c.logger.Debug("stale result not cached",
				"query", query,
				"generation", result.Generation,
				"live_generation", live,
			)
			return
		}
	}
	key := c.buildKey(query, limit, result.Generation)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for query, or runs computeFn once
// for all concurrent callers and caches its result. Errors are not cached.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	query string,
	limit int,
	computeFn func() (*executor.SearchResult, error),
) (*executor.SearchResult, bool, error) {
	if result, ok := c.Get(ctx, query, limit); ok {
		return result, true, nil
	}
	key := c.buildKey(query, limit, c.currentGeneration())
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if result, ok := c.Get(ctx, query, limit); ok {
			return result, nil
		}
		result, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, query, limit, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	out := *val.(*executor.SearchResult)
	out.Query = query
	return &out, false, nil
}

// Invalidate drops every cached result. It runs after each rebuild because
// cached scores belong to the previous generation.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.backend.DeletePrefix(ctx, keyPrefix)
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) Backend() string {
	return c.backend.Name()
}

func (c *QueryCache) buildKey(query string, limit int, generation uint64) string {
	if c.generation == nil {
		generation = 0
	}
	raw := fmt.Sprintf("%s:limit=%d:gen=%d", normalizeQuery(query), limit, generation)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

// normalizeQuery reduces query to the word sequence the tokenizer sees.
// Word order and repetition are kept because both change the score.
func normalizeQuery(query string) string {
	return strings.Join(tokenizer.Words(query), " ")
}

// Package ratelimit implements per-key token buckets. Buckets live in a
// bounded LRU so idle keys are evicted without a cleanup goroutine.
package ratelimit

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/config"
)

const defaultMaxKeys = 10000

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// Limiter allows limit requests per key within window, refilled
// continuously at limit/window tokens per second.
type Limiter struct {
	mu      sync.Mutex
	buckets *lru.Cache[string, *bucket]
	limit   int
	window  time.Duration
	now     func() time.Time
}

// New creates a Limiter tracking at most maxKeys keys; zero selects a
// default. An evicted key starts again with a full bucket.
func New(limit int, window time.Duration, maxKeys int) *Limiter {
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}
	buckets, _ := lru.New[string, *bucket](maxKeys)
	return &Limiter{
		buckets: buckets,
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// FromConfig returns the limiter cfg describes, or nil when rate limiting
// is disabled.
func FromConfig(cfg config.ServerConfig) *Limiter {
	if cfg.RateLimit <= 0 {
		return nil
	}
	return New(cfg.RateLimit, cfg.RateWindow, 0)
}

// Allow consumes one token for key and reports whether one was available.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets.Get(key)
	if !ok {
		l.buckets.Add(key, &bucket{tokens: float64(l.limit - 1), lastCheck: now})
		return l.limit > 0
	}

	rate := float64(l.limit) / l.window.Seconds()
	b.tokens += now.Sub(b.lastCheck).Seconds() * rate
	if b.tokens > float64(l.limit) {
		b.tokens = float64(l.limit)
	}
	b.lastCheck = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RetryAfter is how long a drained bucket takes to refill one token.
func (l *Limiter) RetryAfter() time.Duration {
	if l.limit <= 0 {
		return l.window
	}
	return l.window / time.Duration(l.limit)
}

// Reset forgets key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets.Remove(key)
}

// Len returns the number of keys being tracked.
func (l *Limiter) Len() int {
	return l.buckets.Len()
}

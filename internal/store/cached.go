package store

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultDocumentCacheSize bounds the per-namespace document cache.
const DefaultDocumentCacheSize = 1024

type cachedProvider struct {
	Provider
	size int

	mu     sync.Mutex
	caches map[string]*lru.Cache[int, string]
}

// WithDocumentCache wraps every document store opened through p in an LRU
// cache of document contents. Stores opened for the same namespace share one
// cache, so clearing any of them purges it. Term stores are passed through
// untouched.
func WithDocumentCache(p Provider, size int) Provider {
	if size <= 0 {
		size = DefaultDocumentCacheSize
	}
	return &cachedProvider{
		Provider: p,
		size:     size,
		caches:   make(map[string]*lru.Cache[int, string]),
	}
}

func (c *cachedProvider) Open(ctx context.Context, namespace string) (*Stores, error) {
	inner, err := c.Provider.Open(ctx, namespace)
	if err != nil {
		return nil, err
	}
	cache, err := c.cacheFor(namespace)
	if err != nil {
		return nil, err
	}
	return &Stores{
		Documents: &CachedDocuments{inner: inner.Documents, cache: cache},
		Terms:     inner.Terms,
	}, nil
}

func (c *cachedProvider) cacheFor(namespace string) (*lru.Cache[int, string], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cache, ok := c.caches[namespace]; ok {
		return cache, nil
	}
	cache, err := lru.New[int, string](c.size)
	if err != nil {
		return nil, err
	}
	c.caches[namespace] = cache
	return cache, nil
}

func (c *cachedProvider) forget(ctx context.Context, namespace string) error {
	c.mu.Lock()
	delete(c.caches, namespace)
	c.mu.Unlock()
	if f, ok := c.Provider.(forgetter); ok {
		return f.forget(ctx, namespace)
	}
	return nil
}

func (c *cachedProvider) ListNamespaces(ctx context.Context) ([]string, error) {
	l, ok := c.Provider.(NamespaceLister)
	if !ok {
		return nil, fmt.Errorf("%s backend cannot list namespaces", c.Provider.Name())
	}
	return l.ListNamespaces(ctx)
}

// CachedDocuments serves repeated document reads from memory. Only hits are
// cached, so a missing document is always re-checked against the backend.
type CachedDocuments struct {
	inner DocumentStore
	cache *lru.Cache[int, string]
}

func (c *CachedDocuments) Put(ctx context.Context, id int, content string) error {
	if err := c.inner.Put(ctx, id, content); err != nil {
		c.cache.Remove(id)
		return err
	}
	c.cache.Add(id, content)
	return nil
}

func (c *CachedDocuments) Get(ctx context.Context, id int) (string, error) {
	if content, ok := c.cache.Get(id); ok {
		return content, nil
	}
	content, err := c.inner.Get(ctx, id)
	if err != nil {
		return "", err
	}
	c.cache.Add(id, content)
	return content, nil
}

func (c *CachedDocuments) Clear(ctx context.Context) error {
	c.cache.Purge()
	return c.inner.Clear(ctx)
}

func (c *CachedDocuments) Len() int {
	return c.cache.Len()
}

// Package store defines the document and term stores the index is persisted
// into, and the backends that implement them (memory, Redis, PostgreSQL,
// SQLite). Every backend partitions its data by namespace so a new index
// generation can be written next to the live one and swapped in.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/redis"
)

// DocumentStore holds raw document text keyed by document id.
type DocumentStore interface {
	Put(ctx context.Context, id int, content string) error
	// Get returns apperrors.ErrDocumentNotFound when id is absent.
	Get(ctx context.Context, id int) (string, error)
	Clear(ctx context.Context) error
}

// TermStore holds each term's vocabulary position and posting list.
type TermStore interface {
	Put(ctx context.Context, entry index.TermEntry) error
	// Get returns apperrors.ErrTermNotFound when term is absent.
	Get(ctx context.Context, term string) (index.TermEntry, error)
	Clear(ctx context.Context) error
}

// Stores is the document/term store pair for one namespace.
type Stores struct {
	Documents DocumentStore
	Terms     TermStore
}

// Clear empties both stores.
func (s *Stores) Clear(ctx context.Context) error {
	if err := s.Documents.Clear(ctx); err != nil {
		return fmt.Errorf("clearing documents: %w", err)
	}
	if err := s.Terms.Clear(ctx); err != nil {
		return fmt.Errorf("clearing terms: %w", err)
	}
	return nil
}

// Provider opens store pairs by namespace.
type Provider interface {
	Open(ctx context.Context, namespace string) (*Stores, error)
	Name() string
	Ping(ctx context.Context) error
	Close() error
}

// forgetter is implemented by providers that keep per-namespace state and
// can release it once the namespace is dropped.
type forgetter interface {
	forget(ctx context.Context, namespace string) error
}

// NamespaceLister is implemented by providers that can enumerate the
// namespaces they hold, including ones left behind by other processes.
type NamespaceLister interface {
	ListNamespaces(ctx context.Context) ([]string, error)
}

// Drop clears everything stored under namespace.
func Drop(ctx context.Context, p Provider, namespace string) error {
	stores, err := p.Open(ctx, namespace)
	if err != nil {
		return fmt.Errorf("opening namespace %s: %w", namespace, err)
	}
	if err := stores.Clear(ctx); err != nil {
		return err
	}
	if f, ok := p.(forgetter); ok {
		if err := f.forget(ctx, namespace); err != nil {
			return fmt.Errorf("forgetting namespace %s: %w", namespace, err)
		}
	}
	return nil
}

// ListNamespaces returns the namespaces p holds, sorted. It returns false
// when the backend cannot enumerate them.
func ListNamespaces(ctx context.Context, p Provider) ([]string, bool, error) {
	l, ok := p.(NamespaceLister)
	if !ok {
		return nil, false, nil
	}
	names, err := l.ListNamespaces(ctx)
	if err != nil {
		return nil, true, fmt.Errorf("listing %s namespaces: %w", p.Name(), err)
	}
	sort.Strings(names)
	return names, true, nil
}

// NewProvider builds the backend selected by cfg.Storage.Backend. When
// cfg.Search.DocCacheSize is positive, remote document stores are wrapped in
// an LRU cache.
func NewProvider(ctx context.Context, cfg *config.Config) (Provider, error) {
	var (
		p   Provider
		err error
	)
	switch cfg.Storage.Backend {
	case config.BackendMemory, "":
		return NewMemoryProvider(), nil
	case config.BackendRedis:
		var client *pkgredis.Client
		client, err = pkgredis.NewClient(cfg.Redis)
		if err == nil {
			p = NewRedisProvider(client, cfg.Storage.Namespace)
		}
	case config.BackendPostgres:
		var client *postgres.Client
		client, err = postgres.New(ctx, cfg.Postgres)
		if err == nil {
			p, err = NewPostgresProvider(ctx, client, cfg.Storage.Namespace)
		}
	case config.BackendSQLite:
		p, err = NewSQLiteProvider(ctx, cfg.SQLite.Path, cfg.Storage.Namespace)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s backend: %w", cfg.Storage.Backend, err)
	}
	if cfg.Search.DocCacheSize > 0 {
		p = WithDocumentCache(p, cfg.Search.DocCacheSize)
	}
	return p, nil
}

func documentNotFound(id int) error {
	return fmt.Errorf("document %d: %w", id, apperrors.ErrDocumentNotFound)
}

func termNotFound(term string) error {
	return fmt.Errorf("term %q: %w", term, apperrors.ErrTermNotFound)
}

// IsNotFound reports whether err is a missing document or term.
func IsNotFound(err error) bool {
	return errors.Is(err, apperrors.ErrDocumentNotFound) || errors.Is(err, apperrors.ErrTermNotFound)
}

// BatchTermStore is implemented by term stores that can persist many
// entries in one round trip.
type BatchTermStore interface {
	PutMany(ctx context.Context, entries []index.TermEntry) error
}

// PutTerms writes entries in chunks of batchSize when ts supports batching,
// one by one otherwise.
func PutTerms(ctx context.Context, ts TermStore, entries []index.TermEntry, batchSize int) error {
	batcher, ok := ts.(BatchTermStore)
	if !ok || batchSize <= 1 {
		for _, entry := range entries {
			if err := ts.Put(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	}
	for start := 0; start < len(entries); start += batchSize {
		end := min(start+batchSize, len(entries))
		if err := batcher.PutMany(ctx, entries[start:end]); err != nil {
			return err
		}
	}
	return nil
}

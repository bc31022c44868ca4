package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer/index"
	pkgredis "github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/redis"
)

// RedisProvider stores documents and terms as plain keys:
//
//	<prefix>:<namespace>:doc:<id>    -> raw text
//	<prefix>:<namespace>:term:<term> -> {"term","pos","docs":[{"doc_id","tf"}]}
//	<prefix>:namespaces              -> set of opened namespaces
type RedisProvider struct {
	client *pkgredis.Client
	prefix string
}

var _ Provider = (*RedisProvider)(nil)

func NewRedisProvider(client *pkgredis.Client, prefix string) *RedisProvider {
	if prefix == "" {
		prefix = "ngs"
	}
	return &RedisProvider{client: client, prefix: prefix}
}

func (p *RedisProvider) registry() string { return p.prefix + ":namespaces" }

func (p *RedisProvider) Open(ctx context.Context, namespace string) (*Stores, error) {
	if err := p.client.AddMember(ctx, p.registry(), namespace); err != nil {
		return nil, fmt.Errorf("registering namespace %s: %w", namespace, err)
	}
	base := p.prefix + ":" + namespace
	return &Stores{
		Documents: &redisDocuments{client: p.client, base: base + ":doc:"},
		Terms:     &redisTerms{client: p.client, base: base + ":term:"},
	}, nil
}

func (p *RedisProvider) forget(ctx context.Context, namespace string) error {
	return p.client.RemoveMember(ctx, p.registry(), namespace)
}

func (p *RedisProvider) ListNamespaces(ctx context.Context) ([]string, error) {
	return p.client.Members(ctx, p.registry())
}

func (p *RedisProvider) Name() string { return "redis" }

func (p *RedisProvider) Ping(ctx context.Context) error { return p.client.Ping(ctx) }

func (p *RedisProvider) Close() error { return p.client.Close() }

type redisDocuments struct {
	client *pkgredis.Client
	base   string
}

func (d *redisDocuments) Put(ctx context.Context, id int, content string) error {
	if err := d.client.Set(ctx, d.base+strconv.Itoa(id), content, 0); err != nil {
		return fmt.Errorf("storing document %d: %w", id, err)
	}
	return nil
}

func (d *redisDocuments) Get(ctx context.Context, id int) (string, error) {
	content, err := d.client.Get(ctx, d.base+strconv.Itoa(id))
	if err != nil {
		if pkgredis.IsNilError(err) {
			return "", documentNotFound(id)
		}
		return "", fmt.Errorf("loading document %d: %w", id, err)
	}
	return content, nil
}

func (d *redisDocuments) Clear(ctx context.Context) error {
	_, err := d.client.FlushByPattern(ctx, d.base+"*")
	return err
}

type redisTerms struct {
	client *pkgredis.Client
	base   string
}

func (t *redisTerms) Put(ctx context.Context, entry index.TermEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling term %q: %w", entry.Term, err)
	}
	if err := t.client.Set(ctx, t.base+entry.Term, data, 0); err != nil {
		return fmt.Errorf("storing term %q: %w", entry.Term, err)
	}
	return nil
}

// PutMany writes a batch of entries in one pipeline.
func (t *redisTerms) PutMany(ctx context.Context, entries []index.TermEntry) error {
	pairs := make(map[string][]byte, len(entries))
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshaling term %q: %w", entry.Term, err)
		}
		pairs[t.base+entry.Term] = data
	}
	return t.client.SetMany(ctx, pairs)
}

func (t *redisTerms) Get(ctx context.Context, term string) (index.TermEntry, error) {
	raw, err := t.client.Get(ctx, t.base+term)
	if err != nil {
		if pkgredis.IsNilError(err) {
			return index.TermEntry{}, termNotFound(term)
		}
		return index.TermEntry{}, fmt.Errorf("loading term %q: %w", term, err)
	}
	var entry index.TermEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return index.TermEntry{}, fmt.Errorf("decoding term %q: %w", term, err)
	}
	return entry, nil
}

func (t *redisTerms) Clear(ctx context.Context) error {
	_, err := t.client.FlushByPattern(ctx, t.base+"*")
	return err
}

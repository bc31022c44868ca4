package store

import (
	"context"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer/index"
)

// MemoryProvider keeps every namespace in process memory.
type MemoryProvider struct {
	mu         sync.Mutex
	namespaces map[string]*Stores
}

var _ Provider = (*MemoryProvider)(nil)

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{namespaces: make(map[string]*Stores)}
}

func (p *MemoryProvider) Open(_ context.Context, namespace string) (*Stores, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.namespaces[namespace]; ok {
		return s, nil
	}
	s := &Stores{
		Documents: NewMemoryDocuments(),
		Terms:     NewMemoryTerms(),
	}
	p.namespaces[namespace] = s
	return s, nil
}

func (p *MemoryProvider) forget(_ context.Context, namespace string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.namespaces, namespace)
	return nil
}

func (p *MemoryProvider) ListNamespaces(context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.namespaces))
	for ns := range p.namespaces {
		names = append(names, ns)
	}
	return names, nil
}

// Namespaces returns the number of namespaces currently held.
func (p *MemoryProvider) Namespaces() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.namespaces)
}

func (p *MemoryProvider) Name() string { return "memory" }

func (p *MemoryProvider) Ping(context.Context) error { return nil }

func (p *MemoryProvider) Close() error { return nil }

type MemoryDocuments struct {
	mu   sync.RWMutex
	docs map[int]string
}

func NewMemoryDocuments() *MemoryDocuments {
	return &MemoryDocuments{docs: make(map[int]string)}
}

func (m *MemoryDocuments) Put(_ context.Context, id int, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[id] = content
	return nil
}

func (m *MemoryDocuments) Get(_ context.Context, id int) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	content, ok := m.docs[id]
	if !ok {
		return "", documentNotFound(id)
	}
	return content, nil
}

func (m *MemoryDocuments) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = make(map[int]string)
	return nil
}

func (m *MemoryDocuments) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

type MemoryTerms struct {
	mu    sync.RWMutex
	terms map[string]index.TermEntry
}

func NewMemoryTerms() *MemoryTerms {
	return &MemoryTerms{terms: make(map[string]index.TermEntry)}
}

func (m *MemoryTerms) Put(_ context.Context, entry index.TermEntry) error {
	postings := make(index.PostingList, len(entry.Postings))
	copy(postings, entry.Postings)
	entry.Postings = postings

	m.mu.Lock()
	defer m.mu.Unlock()
	m.terms[entry.Term] = entry
	return nil
}

func (m *MemoryTerms) Get(_ context.Context, term string) (index.TermEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.terms[term]
	if !ok {
		return index.TermEntry{}, termNotFound(term)
	}
	return entry, nil
}

func (m *MemoryTerms) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terms = make(map[string]index.TermEntry)
	return nil
}

func (m *MemoryTerms) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.terms)
}

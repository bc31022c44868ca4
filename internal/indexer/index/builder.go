package index

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer/tokenizer"
)

// Builder accumulates postings for a corpus and freezes them into an Index.
// It is not safe for concurrent use.
type Builder struct {
	lookup   map[string]int
	entries  []TermEntry
	seenDocs map[int]struct{}
	size     int64
}

func NewBuilder() *Builder {
	return &Builder{
		lookup:   make(map[string]int),
		seenDocs: make(map[int]struct{}),
	}
}

// AddDocument tokenizes text and appends one posting per distinct term. It
// returns the number of tokens produced. Adding the same docID twice is an
// error because it would break posting uniqueness.
func (b *Builder) AddDocument(docID int, text string) (int, error) {
	if docID < 1 {
		return 0, fmt.Errorf("document id %d must be >= 1", docID)
	}
	if _, dup := b.seenDocs[docID]; dup {
		return 0, fmt.Errorf("document %d already added", docID)
	}
	b.seenDocs[docID] = struct{}{}

	tokens := tokenizer.Tokenize(text)
	counts, order := tokenizer.CountTerms(tokens)
	for _, term := range order {
		idx, exists := b.lookup[term]
		if !exists {
			idx = len(b.entries)
			b.lookup[term] = idx
			b.entries = append(b.entries, TermEntry{Term: term, Position: idx})
			b.size += int64(len(term) + 64)
		}
		b.entries[idx].Postings = append(b.entries[idx].Postings, Posting{
			DocID:     docID,
			Frequency: counts[term],
		})
		b.size += 16
	}
	return len(tokens), nil
}

// Size is a rough estimate of the builder's memory footprint in bytes.
func (b *Builder) Size() int64 {
	return b.size
}

func (b *Builder) DocCount() int {
	return len(b.seenDocs)
}

// Build assigns vocabulary positions in first-insertion order and returns the
// frozen Index. The builder is reset afterwards.
func (b *Builder) Build() *Index {
	vocab := newVocabulary(len(b.entries))
	for i := range b.entries {
		b.entries[i].Position = vocab.add(b.entries[i].Term)
	}
	idx := &Index{
		entries:  b.entries,
		lookup:   b.lookup,
		vocab:    vocab,
		docCount: len(b.seenDocs),
	}
	b.Reset()
	return idx
}

func (b *Builder) Reset() {
	b.lookup = make(map[string]int)
	b.entries = nil
	b.seenDocs = make(map[int]struct{})
	b.size = 0
}

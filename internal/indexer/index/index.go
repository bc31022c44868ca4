package index

import (
	"fmt"
)

// Index is an immutable inverted index: term -> (position, postings).
// All methods are safe for concurrent use. Entries handed in or out are
// copied, so callers cannot mutate the index through them.
type Index struct {
	entries  []TermEntry
	lookup   map[string]int
	vocab    *Vocabulary
	docCount int
}

// FromEntries rebuilds an Index from persisted entries. Positions must form
// a permutation of [0, len(entries)) and each posting list must hold at most
// one posting per document.
func FromEntries(entries []TermEntry, docCount int) (*Index, error) {
	ordered := make([]TermEntry, len(entries))
	filled := make([]bool, len(entries))
	for _, e := range entries {
		if e.Position < 0 || e.Position >= len(entries) {
			return nil, fmt.Errorf("term %q: position %d out of range [0, %d)", e.Term, e.Position, len(entries))
		}
		if filled[e.Position] {
			return nil, fmt.Errorf("term %q: duplicate position %d", e.Term, e.Position)
		}
		seen := make(map[int]struct{}, len(e.Postings))
		for _, p := range e.Postings {
			if _, dup := seen[p.DocID]; dup {
				return nil, fmt.Errorf("term %q: duplicate posting for document %d", e.Term, p.DocID)
			}
			seen[p.DocID] = struct{}{}
		}
		ordered[e.Position] = e.Clone()
		filled[e.Position] = true
	}
	lookup := make(map[string]int, len(ordered))
	vocab := newVocabulary(len(ordered))
	for i, e := range ordered {
		if _, dup := lookup[e.Term]; dup {
			return nil, fmt.Errorf("term %q appears twice", e.Term)
		}
		lookup[e.Term] = i
		vocab.add(e.Term)
	}
	return &Index{
		entries:  ordered,
		lookup:   lookup,
		vocab:    vocab,
		docCount: docCount,
	}, nil
}

// Lookup returns the entry for term. Unknown terms are not an error.
func (x *Index) Lookup(term string) (TermEntry, bool) {
	idx, ok := x.lookup[term]
	if !ok {
		return TermEntry{}, false
	}
	return x.entries[idx].Clone(), true
}

// Entries returns a copy of all term entries ordered by position.
func (x *Index) Entries() []TermEntry {
	out := make([]TermEntry, len(x.entries))
	for i, e := range x.entries {
		out[i] = e.Clone()
	}
	return out
}

func (x *Index) Vocabulary() *Vocabulary {
	return x.vocab
}

func (x *Index) TermCount() int {
	return len(x.entries)
}

func (x *Index) DocCount() int {
	return x.docCount
}

// PostingCount returns the total number of postings across all terms.
func (x *Index) PostingCount() int {
	total := 0
	for _, e := range x.entries {
		total += len(e.Postings)
	}
	return total
}

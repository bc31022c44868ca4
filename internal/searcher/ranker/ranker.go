// Package ranker scores documents against a tokenized query. The score is
// the dot product of a binary query-presence vector with raw term
// frequencies: no length normalisation and no IDF.
package ranker

import (
	"context"
	"fmt"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer/index"
)

type ScoredDoc struct {
	DocID int     `json:"doc_id"`
	Score float64 `json:"score"`
}

// Vocabulary resolves a term to its vector coordinate.
type Vocabulary interface {
	Position(term string) (int, bool)
}

// TermLookup fetches a term's posting list. found is false for terms that
// are not indexed.
type TermLookup func(ctx context.Context, term string) (entry index.TermEntry, found bool, err error)

// QueryVector maps vocabulary positions to indicator weights.
type QueryVector map[int]float64

// BuildQueryVector sets weight 1 for every distinct token present in vocab.
// Unknown tokens are ignored.
func BuildQueryVector(tokens []string, vocab Vocabulary) QueryVector {
	vec := make(QueryVector, len(tokens))
	for _, token := range tokens {
		if pos, ok := vocab.Position(token); ok {
			vec[pos] = 1
		}
	}
	return vec
}

// Weight returns the weight at pos, or 0.
func (v QueryVector) Weight(pos int) float64 {
	return v[pos]
}

// accumulator keeps per-document scores plus the order in which documents
// were first touched, which is the tie-break order.
type accumulator struct {
	scores map[int]float64
	order  []int
}

func newAccumulator() *accumulator {
	return &accumulator{scores: make(map[int]float64)}
}

func (a *accumulator) add(docID int, delta float64) {
	if _, seen := a.scores[docID]; !seen {
		a.order = append(a.order, docID)
	}
	a.scores[docID] += delta
}

// Rank scores every document reachable from tokens and returns them by
// descending score. Each occurrence of a token in the query revisits its
// postings, so a term repeated k times contributes k*tf. Documents with equal
// scores keep the order in which they were first touched. A limit <= 0 means
// no limit.
func Rank(ctx context.Context, tokens []string, vocab Vocabulary, lookup TermLookup, limit int) ([]ScoredDoc, error) {
	if len(tokens) == 0 {
		return []ScoredDoc{}, nil
	}
	vec := BuildQueryVector(tokens, vocab)
	if len(vec) == 0 {
		return []ScoredDoc{}, nil
	}

	fetched := make(map[string]index.TermEntry, len(vec))
	acc := newAccumulator()
	for _, token := range tokens {
		if _, known := vocab.Position(token); !known {
			continue
		}
		entry, ok := fetched[token]
		if !ok {
			var (
				found bool
				err   error
			)
			entry, found, err = lookup(ctx, token)
			if err != nil {
				return nil, fmt.Errorf("fetching postings for %q: %w", token, err)
			}
			if !found {
				continue
			}
			fetched[token] = entry
		}
		weight := vec.Weight(entry.Position)
		for _, p := range entry.Postings {
			acc.add(p.DocID, weight*float64(p.Frequency))
		}
	}

	result := make([]ScoredDoc, 0, len(acc.order))
	for _, docID := range acc.order {
		if score := acc.scores[docID]; score > 0 {
			result = append(result, ScoredDoc{DocID: docID, Score: score})
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Score > result[j].Score
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// IndexLookup adapts an in-memory index to TermLookup.
func IndexLookup(idx *index.Index) TermLookup {
	return func(_ context.Context, term string) (index.TermEntry, bool, error) {
		entry, ok := idx.Lookup(term)
		return entry, ok, nil
	}
}

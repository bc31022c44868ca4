package ranker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer/tokenizer"
)

func buildIndex(t *testing.T, docs ...string) *index.Index {
	t.Helper()
	b := index.NewBuilder()
	for i, doc := range docs {
		_, err := b.AddDocument(i+1, doc)
		require.NoError(t, err)
	}
	return b.Build()
}

func rank(t *testing.T, idx *index.Index, query string) []ScoredDoc {
	t.Helper()
	got, err := Rank(context.Background(), tokenizer.Tokenize(query), idx.Vocabulary(), IndexLookup(idx), 0)
	require.NoError(t, err)
	return got
}

var symptoms = []string{
	"headache and nausea",
	"nausea and dizziness",
	"headache and dizziness",
}

func TestRank_ExactMatchFirst(t *testing.T) {
	idx := buildIndex(t, symptoms...)

	got := rank(t, idx, "nausea and dizziness")

	// doc 2 matches every unigram, bigram and the trigram; doc 3 shares
	// "and", "dizziness" and "and dizziness"; doc 1 shares "nausea" and "and".
	assert.Equal(t, []ScoredDoc{
		{DocID: 2, Score: 6},
		{DocID: 3, Score: 3},
		{DocID: 1, Score: 2},
	}, got)
}

func TestRank_TiesKeepFirstTouchOrder(t *testing.T) {
	idx := buildIndex(t, symptoms...)

	assert.Equal(t, []ScoredDoc{
		{DocID: 1, Score: 1},
		{DocID: 2, Score: 1},
		{DocID: 3, Score: 1},
	}, rank(t, idx, "and"))

	// "dizziness" touches docs 2 and 3 before "headache" touches doc 1, so the
	// tie between 2 and 1 resolves to 2 first even though 1 < 2.
	assert.Equal(t, []ScoredDoc{
		{DocID: 3, Score: 2},
		{DocID: 2, Score: 1},
		{DocID: 1, Score: 1},
	}, rank(t, idx, "dizziness headache"))
}

func TestRank_RepeatedQueryTermsInflateLinearly(t *testing.T) {
	idx := buildIndex(t, "nausea nausea and headache", "nausea")

	once := rank(t, idx, "nausea")
	assert.Equal(t, []ScoredDoc{{DocID: 1, Score: 2}, {DocID: 2, Score: 1}}, once)

	// "nausea nausea" also matches the bigram in doc 1.
	twice := rank(t, idx, "nausea nausea")
	assert.Equal(t, []ScoredDoc{{DocID: 1, Score: 5}, {DocID: 2, Score: 2}}, twice)

	for i, doc := range once {
		assert.GreaterOrEqual(t, twice[i].Score, doc.Score)
	}
}

func TestRank_EmptyAndNoMatch(t *testing.T) {
	idx := buildIndex(t, symptoms...)

	for _, q := range []string{"", "   ", "?!", "xyz", "zzz yyy"} {
		got := rank(t, idx, q)
		assert.NotNil(t, got, q)
		assert.Empty(t, got, q)
	}
}

func TestRank_UnknownTermsIgnored(t *testing.T) {
	idx := buildIndex(t, symptoms...)
	assert.Equal(t, rank(t, idx, "nausea"), rank(t, idx, "xyz nausea"[4:]))
	got := rank(t, idx, "nausea xyz")
	assert.Equal(t, []ScoredDoc{{DocID: 1, Score: 1}, {DocID: 2, Score: 1}}, got)
}

func TestRank_Limit(t *testing.T) {
	idx := buildIndex(t, symptoms...)
	got, err := Rank(context.Background(), tokenizer.Tokenize("and"), idx.Vocabulary(), IndexLookup(idx), 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRank_ScoresNonNegative(t *testing.T) {
	idx := buildIndex(t,
		"After the medication, headache and nausea were reported by the patient.",
		"The patient reported nausea and dizziness caused by the medication.",
		"Headache and dizziness are common effects of this medication.",
		"The medication caused a headache and nausea, but no dizziness was reported.",
	)
	for _, q := range []string{"nausea and dizziness", "effects", "nausea was reported", "dizziness", "the medication"} {
		for _, doc := range rank(t, idx, q) {
			assert.Positive(t, doc.Score, q)
		}
	}
}

func TestRank_LookupErrorPropagates(t *testing.T) {
	idx := buildIndex(t, symptoms...)
	boom := errors.New("store down")
	lookup := func(context.Context, string) (index.TermEntry, bool, error) {
		return index.TermEntry{}, false, boom
	}
	_, err := Rank(context.Background(), tokenizer.Tokenize("nausea"), idx.Vocabulary(), lookup, 0)
	assert.ErrorIs(t, err, boom)
}

func TestRank_FetchesEachTermOnce(t *testing.T) {
	idx := buildIndex(t, symptoms...)
	calls := make(map[string]int)
	lookup := func(ctx context.Context, term string) (index.TermEntry, bool, error) {
		calls[term]++
		return IndexLookup(idx)(ctx, term)
	}
	_, err := Rank(context.Background(), []string{"nausea", "nausea", "and"}, idx.Vocabulary(), lookup, 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"nausea": 1, "and": 1}, calls)
}

func TestBuildQueryVector(t *testing.T) {
	idx := buildIndex(t, symptoms...)
	vec := BuildQueryVector([]string{"nausea", "nausea", "xyz", "dizziness"}, idx.Vocabulary())

	nausea, _ := idx.Vocabulary().Position("nausea")
	dizziness, _ := idx.Vocabulary().Position("dizziness")
	assert.Equal(t, QueryVector{nausea: 1, dizziness: 1}, vec)
	assert.Zero(t, vec.Weight(999))
}

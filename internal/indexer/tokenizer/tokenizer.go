// Package tokenizer provides text tokenisation for the search engine.
// It strips punctuation, lower-cases input, splits on whitespace and expands
// the resulting words into unigrams, bigrams and trigrams.
package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxN is the longest n-gram emitted by Tokenize.
const MaxN = 3

// Tokenize breaks text into a flat slice of terms: all unigrams, then all
// bigrams, then all trigrams. Repeated terms are kept.
func Tokenize(text string) []string {
	words := Words(text)
	terms := make([]string, 0, expandedLen(len(words)))
	for n := 1; n <= MaxN; n++ {
		terms = append(terms, NGrams(words, n)...)
	}
	return terms
}

// Words normalises text and splits it on whitespace.
func Words(text string) []string {
	return strings.Fields(strings.ToLower(strip(text)))
}

// NGrams joins every run of n adjacent words with a single space. It returns
// an empty slice when there are fewer than n words.
func NGrams(words []string, n int) []string {
	if n <= 0 || len(words) < n {
		return []string{}
	}
	if n == 1 {
		out := make([]string, len(words))
		copy(out, words)
		return out
	}
	out := make([]string, 0, len(words)-n+1)
	for i := 0; i+n <= len(words); i++ {
		out = append(out, strings.Join(words[i:i+n], " "))
	}
	return out
}

// CountTerms returns the frequency of every distinct term along with the
// order in which each term was first seen.
func CountTerms(terms []string) (map[string]int, []string) {
	counts := make(map[string]int, len(terms))
	order := make([]string, 0, len(terms))
	for _, term := range terms {
		if _, seen := counts[term]; !seen {
			order = append(order, term)
		}
		counts[term]++
	}
	return counts, order
}

// strip drops every rune that is not a letter, digit, underscore or
// whitespace. Invalid UTF-8 decodes to utf8.RuneError and is dropped too.
func strip(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == utf8.RuneError {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func expandedLen(n int) int {
	total := 0
	for k := 1; k <= MaxN; k++ {
		if n >= k {
			total += n - k + 1
		}
	}
	return total
}

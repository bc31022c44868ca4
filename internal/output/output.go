// Package output renders query results as plain text, one block per query.
package output

import (
	"bufio"
	"fmt"
	"io"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/searcher/executor"
)

// WriteQuery writes a block headed "Query n: <query>" followed by one
// "<content>, <score>" line per result with the score to two decimals, and a
// trailing blank line.
func WriteQuery(w io.Writer, n int, query string, results []executor.Result) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "Query %d: %s\n", n, query)
	for _, r := range results {
		fmt.Fprintf(bw, "%s, %.2f\n", r.Content, r.Score)
	}
	bw.WriteString("\n")
	return bw.Flush()
}

// WriteAll writes one block per result set, numbering queries from 1.
func WriteAll(w io.Writer, results []*executor.SearchResult) error {
	for i, res := range results {
		if err := WriteQuery(w, i+1, res.Query, res.Results); err != nil {
			return fmt.Errorf("writing results for query %d: %w", i+1, err)
		}
	}
	return nil
}

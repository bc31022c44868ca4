package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/config"
)

// BenchmarkRank measures scoring against the in-memory index alone, for
// growing corpora.
func BenchmarkRank(b *testing.B) {
	ctx := context.Background()
	for _, n := range []int{100, 1000, 10000} {
		builder := index.NewBuilder()
		for id, doc := range syntheticCorpus(n) {
			if _, err := builder.AddDocument(id+1, doc); err != nil {
				b.Fatal(err)
			}
		}
		idx := builder.Build()
		lookup := ranker.IndexLookup(idx)

		b.Run(fmt.Sprintf("docs_%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				tokens := tokenizer.Tokenize(benchQueries[i%len(benchQueries)])
				if _, err := ranker.Rank(ctx, tokens, idx.Vocabulary(), lookup, 10); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func newBenchExecutor(b *testing.B, n int) *executor.Executor {
	b.Helper()
	engine := indexer.NewEngine(store.NewMemoryProvider(), config.IndexerConfig{})
	if _, err := engine.Build(context.Background(), syntheticCorpus(n)); err != nil {
		b.Fatal(err)
	}
	cfg := config.Default().Search
	return executor.New(engine, cfg, nil)
}

// BenchmarkExecute measures the full query path: tokenize, rank against the
// term store and fetch content from the document store.
func BenchmarkExecute(b *testing.B) {
	exec := newBenchExecutor(b, 5000)
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := exec.Execute(ctx, benchQueries[i%len(benchQueries)], 10); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkExecuteParallel(b *testing.B) {
	exec := newBenchExecutor(b, 5000)
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if _, err := exec.Execute(ctx, benchQueries[i%len(benchQueries)], 10); err != nil {
				b.Error(err)
				return
			}
			i++
		}
	})
}

func BenchmarkExecuteBatch(b *testing.B) {
	exec := newBenchExecutor(b, 5000)
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := exec.ExecuteBatch(ctx, benchQueries, 10); err != nil {
			b.Fatal(err)
		}
	}
}

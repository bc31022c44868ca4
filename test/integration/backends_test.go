// Package integration runs the indexing and query path against every storage
// backend and the full HTTP middleware stack. SQLite and memory always run;
// PostgreSQL and Redis run when reachable and are skipped otherwise.
//
// Run with:
//
//	go test -v ./test/integration/...
package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/redis"
)

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// testNamespace keeps concurrent runs against a shared server apart.
func testNamespace() string {
	return fmt.Sprintf("it%d", time.Now().UnixNano())
}

func postgresProvider(t *testing.T) store.Provider {
	t.Helper()
	client, err := postgres.New(context.Background(), config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "ngramsearch_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "ngramsearch"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		t.Skipf("skipping: postgres unavailable: %v", err)
	}
	p, err := store.NewPostgresProvider(context.Background(), client, testNamespace())
	if err != nil {
		client.Close()
		t.Skipf("skipping: postgres unavailable: %v", err)
	}
	return p
}

func redisProvider(t *testing.T) store.Provider {
	t.Helper()
	client, err := pkgredis.NewClient(config.RedisConfig{
		Addr:     envOrDefault("TEST_REDIS_ADDR", "localhost:6379"),
		PoolSize: 4,
	})
	if err != nil {
		t.Skipf("skipping: redis unavailable: %v", err)
	}
	return store.NewRedisProvider(client, testNamespace())
}

func sqliteProvider(t *testing.T) store.Provider {
	t.Helper()
	p, err := store.NewSQLiteProvider(context.Background(), filepath.Join(t.TempDir(), "ngs.db"), "it")
	require.NoError(t, err)
	return p
}

type rankedDoc struct {
	id    int
	score float64
}

var sampleExpectations = map[string][]rankedDoc{
	"nausea and dizziness": {{2, 6}, {4, 3}, {3, 3}, {1, 2}},
	"effects":              {{3, 1}},
	"dizziness":            {{2, 1}, {3, 1}, {4, 1}},
	"the medication":       {{1, 4}, {2, 4}, {4, 3}, {3, 1}},
}

func TestBackends_SampleQueries(t *testing.T) {
	backends := map[string]func(*testing.T) store.Provider{
		"memory":   func(*testing.T) store.Provider { return store.NewMemoryProvider() },
		"sqlite":   sqliteProvider,
		"postgres": postgresProvider,
		"redis":    redisProvider,
	}
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			provider := open(t)
			t.Cleanup(func() { provider.Close() })
			ctx := context.Background()

			engine := indexer.NewEngine(provider, config.IndexerConfig{})
			_, err := engine.Build(ctx, corpus.Sample())
			require.NoError(t, err)
			exec := executor.New(engine, config.Default().Search, nil)

			for query, want := range sampleExpectations {
				res, err := exec.Execute(ctx, query, 0)
				require.NoError(t, err, query)
				require.Len(t, res.Results, len(want), query)
				for i, w := range want {
					assert.Equal(t, w.id, res.Results[i].DocID, "%s rank %d", query, i+1)
					assert.Equal(t, w.score, res.Results[i].Score, "%s rank %d", query, i+1)
				}
			}

			stats, err := engine.Build(ctx, []string{"a new corpus about headache"})
			require.NoError(t, err)
			assert.Equal(t, uint64(2), stats.Generation)
			res, err := exec.Execute(ctx, "dizziness", 0)
			require.NoError(t, err)
			assert.Empty(t, res.Results, "the previous generation is gone")

			res, err = exec.Execute(ctx, "headache", 0)
			require.NoError(t, err)
			require.Len(t, res.Results, 1)
			assert.Equal(t, "a new corpus about headache", res.Results[0].Content)
		})
	}
}

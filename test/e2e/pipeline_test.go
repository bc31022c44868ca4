// Package e2e drives a running deployment: a corpus posted to the ingestion
// service travels over Kafka to the search service, which rebuilds and serves
// it. Tests skip when the services are not reachable.
//
// Run with:
//
//	E2E_INGESTION_URL=http://localhost:8081 E2E_SEARCHER_URL=http://localhost:8080 \
//	  go test -v ./test/e2e/...
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/searcher/executor"
)

var client = &http.Client{Timeout: 10 * time.Second}

func serviceURL(t *testing.T, env, fallback string) string {
	t.Helper()
	base := os.Getenv(env)
	if base == "" {
		base = fallback
	}
	resp, err := client.Get(base + "/health/live")
	if err != nil {
		t.Skipf("skipping: %s not reachable at %s: %v", env, base, err)
	}
	resp.Body.Close()
	return base
}

func postCorpus(t *testing.T, base string, req ingestion.CorpusRequest) (int, ingestion.CorpusResponse) {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	resp, err := client.Post(base+"/api/v1/corpus", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out ingestion.CorpusResponse
	if resp.StatusCode == http.StatusAccepted {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

// search returns the zero result while the service has no index yet.
func search(t *testing.T, base, q string) executor.SearchResult {
	t.Helper()
	resp, err := client.Get(base + "/api/v1/search?q=" + url.QueryEscape(q))
	require.NoError(t, err)
	defer resp.Body.Close()
	var res executor.SearchResult
	if resp.StatusCode == http.StatusServiceUnavailable {
		return res
	}
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	return res
}

func TestPipeline_IngestThenSearch(t *testing.T) {
	ingest := serviceURL(t, "E2E_INGESTION_URL", "http://localhost:8081")
	searcher := serviceURL(t, "E2E_SEARCHER_URL", "http://localhost:8080")

	before := search(t, searcher, "effects").Generation

	key := uuid.NewString()
	req := ingestion.CorpusRequest{Documents: corpus.Sample(), Source: "e2e", IdempotencyKey: key}
	status, queued := postCorpus(t, ingest, req)
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, ingestion.StatusQueued, queued.Status)
	assert.Equal(t, len(corpus.Sample()), queued.Documents)

	var res executor.SearchResult
	require.Eventually(t, func() bool {
		res = search(t, searcher, "nausea and dizziness")
		return res.Generation > before
	}, 30*time.Second, 250*time.Millisecond, "search service never picked up the corpus update")

	require.Len(t, res.Results, 4)
	ids := make([]int, len(res.Results))
	for i, r := range res.Results {
		ids[i] = r.DocID
	}
	assert.Equal(t, []int{2, 4, 3, 1}, ids)
	assert.Equal(t, 6.0, res.Results[0].Score)

	status, again := postCorpus(t, ingest, req)
	require.Equal(t, http.StatusAccepted, status)
	assert.True(t, again.Duplicate)
	assert.Equal(t, queued.UpdateID, again.UpdateID)

	req.Documents = append(req.Documents, "one more document")
	status, _ = postCorpus(t, ingest, req)
	assert.Equal(t, http.StatusConflict, status, fmt.Sprintf("key %s reused with different content", key))
}

// Package ingestion accepts whole-corpus uploads over HTTP and queues them on
// the corpus-update topic, where every search service rebuilds from them.
package ingestion

// CorpusRequest is the JSON body accepted by POST /api/v1/corpus.
type CorpusRequest struct {
	Documents      []string `json:"documents"`
	Source         string   `json:"source,omitempty"`
	IdempotencyKey string   `json:"idempotency_key,omitempty"`
}

// CorpusResponse is returned once the corpus is queued.
type CorpusResponse struct {
	UpdateID    string `json:"update_id"`
	Status      string `json:"status"`
	Documents   int    `json:"documents"`
	ContentHash string `json:"content_hash"`
	Duplicate   bool   `json:"duplicate,omitempty"`
}

const StatusQueued = "QUEUED"

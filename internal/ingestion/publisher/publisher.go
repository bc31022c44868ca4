// Package publisher queues validated corpus uploads on the corpus-update
// topic. Uploads carrying an idempotency key are remembered for a while so
// retries are answered without publishing twice.
package publisher

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/resilience"
)

const maxRemembered = 1024

// Publisher turns corpus uploads into corpus-update messages.
type Publisher struct {
	producer kafka.Publisher
	retry    resilience.RetryConfig
	logger   *slog.Logger

	mu   sync.Mutex
	seen *expirable.LRU[string, ingestion.CorpusResponse]
}

// New creates a Publisher. Idempotency keys are remembered for keyTTL.
func New(producer kafka.Publisher, keyTTL time.Duration) *Publisher {
	return &Publisher{
		producer: producer,
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
		},
		logger: slog.Default().With("component", "corpus-publisher"),
		seen:   expirable.NewLRU[string, ingestion.CorpusResponse](maxRemembered, nil, keyTTL),
	}
}

// Ingest publishes req as one corpus update. A repeated idempotency key with
// the same content returns the first response marked Duplicate; with
// different content it fails with apperrors.ErrConflict. Publish failures
// are retried and then reported as apperrors.ErrUnavailable.
func (p *Publisher) Ingest(ctx context.Context, req *ingestion.CorpusRequest) (*ingestion.CorpusResponse, error) {
	hash := ContentHash(req.Documents)

	if req.IdempotencyKey != "" {
		p.mu.Lock()
		defer p.mu.Unlock()
		if prior, ok := p.seen.Get(req.IdempotencyKey); ok {
			if prior.ContentHash != hash {
				return nil, apperrors.New(apperrors.ErrConflict, http.StatusConflict,
					"idempotency key already used for a different corpus")
			}
			p.logger.Info("duplicate corpus upload",
				"idempotency_key", req.IdempotencyKey,
				"update_id", prior.UpdateID,
			)
			prior.Duplicate = true
			return &prior, nil
		}
	}

	resp := ingestion.CorpusResponse{
		UpdateID:    uuid.NewString(),
		Status:      ingestion.StatusQueued,
		Documents:   len(req.Documents),
		ContentHash: hash,
	}
	event := kafka.Event{
		Key:   resp.UpdateID,
		Value: consumer.CorpusUpdate{Documents: req.Documents, Source: req.Source},
	}
	err := resilience.Retry(ctx, "publish corpus update", p.retry, func() error {
		return p.producer.Publish(ctx, event)
	})
	if err != nil {
		p.logger.Error("corpus update not queued",
			"update_id", resp.UpdateID,
			"documents", resp.Documents,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w",
			apperrors.New(apperrors.ErrUnavailable, http.StatusServiceUnavailable, "corpus update could not be queued"), err)
	}

	if req.IdempotencyKey != "" {
		p.seen.Add(req.IdempotencyKey, resp)
	}
	return &resp, nil
}

// ContentHash identifies a corpus by its documents in order. Each document
// is length-prefixed so boundaries are part of the hash.
func ContentHash(docs []string) string {
	h := sha256.New()
	var n [8]byte
	for _, doc := range docs {
		binary.LittleEndian.PutUint64(n[:], uint64(len(doc)))
		h.Write(n[:])
		h.Write([]byte(doc))
	}
	return hex.EncodeToString(h.Sum(nil))
}

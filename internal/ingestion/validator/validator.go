// Package validator checks corpus uploads before they are queued and
// reports failures per field.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/ingestion"
)

const (
	maxDocuments      = 100000
	maxDocumentBytes  = 1 << 20
	maxCorpusBytes    = 48 << 20
	maxSourceLength   = 255
	maxIdempotencyKey = 255
	maxReported       = 5
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return strings.Join(parts, "; ")
}

// ValidateCorpusRequest rejects uploads without a documents field, with too
// many or oversized documents, or whose total size would not fit in one
// Kafka message. An empty documents array is valid and clears the index.
func ValidateCorpusRequest(req *ingestion.CorpusRequest) error {
	errs := make(map[string]string)

	switch {
	case req.Documents == nil:
		errs["documents"] = "documents is required"
	case len(req.Documents) > maxDocuments:
		errs["documents"] = fmt.Sprintf("at most %d documents are allowed", maxDocuments)
	default:
		total := 0
		for i, doc := range req.Documents {
			total += len(doc)
			if len(doc) > maxDocumentBytes && len(errs) < maxReported {
				errs[fmt.Sprintf("documents[%d]", i)] = fmt.Sprintf("document must be at most %d bytes", maxDocumentBytes)
			}
		}
		if total > maxCorpusBytes {
			errs["documents"] = fmt.Sprintf("corpus must be at most %d bytes in total", maxCorpusBytes)
		}
	}
	if len(req.Source) > maxSourceLength {
		errs["source"] = fmt.Sprintf("source must be at most %d characters", maxSourceLength)
	}
	if len(req.IdempotencyKey) > maxIdempotencyKey {
		errs["idempotency_key"] = fmt.Sprintf("idempotency key must be at most %d characters", maxIdempotencyKey)
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

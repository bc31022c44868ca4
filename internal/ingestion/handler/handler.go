package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/logger"
)

const maxBodyBytes = 64 << 20

// Ingester is implemented by *publisher.Publisher.
type Ingester interface {
	Ingest(ctx context.Context, req *ingestion.CorpusRequest) (*ingestion.CorpusResponse, error)
}

type Handler struct {
	publisher Ingester
	logger    *slog.Logger
}

func New(pub Ingester) *Handler {
	return &Handler{
		publisher: pub,
		logger:    slog.Default().With("component", "ingestion-handler"),
	}
}

// Ingest handles POST /api/v1/corpus.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req ingestion.CorpusRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = key
	}
	if err := validator.ValidateCorpusRequest(&req); err != nil {
		var validationErr *validator.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.publisher.Ingest(ctx, &req)
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		log.Error("corpus ingestion failed", "error", err, "status_code", status)
		message := "corpus ingestion failed"
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			message = appErr.Message
		}
		h.writeError(w, status, message)
		return
	}
	log.Info("corpus queued",
		"update_id", resp.UpdateID,
		"documents", resp.Documents,
		"duplicate", resp.Duplicate,
	)
	h.writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

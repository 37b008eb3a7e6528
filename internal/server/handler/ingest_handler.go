package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	ingestModel "github.com/Avi18971911/Haruspex/internal/ingest/model"
	ingestService "github.com/Avi18971911/Haruspex/internal/ingest/service"
	"go.uber.org/zap"
)

// IngestHandler creates a handler for ingesting a batch of raw agent events.
// @Summary Ingest a batch of raw events as a JSON array or newline-delimited JSON.
// @Tags ingest
// @Accept json
// @Produce json
// @Success 200 {object} ingestModel.IngestResult "Count of ingested events and per-index rejections"
// @Failure 400 {object} ErrorMessage "Malformed batch envelope"
// @Failure 413 {object} ErrorMessage "Batch exceeds the body size or event count ceiling"
// @Failure 500 {object} ErrorMessage "Internal server error"
// @Router /ingest [post]
func IngestHandler(
	ctx context.Context,
	normalizer *ingestService.EventNormalizer,
	coordinator *ingestService.IngestCoordinator,
	logger *zap.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func(Body io.ReadCloser) {
			err := Body.Close()
			if err != nil {
				logger.Error("Error encountered when closing request body", zap.Error(err))
			}
		}(r.Body)

		// Cap the body before decoding so an oversized payload never reaches
		// the JSON decoder in full.
		r.Body = http.MaxBytesReader(w, r.Body, normalizer.MaxBodyBytes())

		records, err := normalizer.DecodeBatch(r.Body)
		if err != nil {
			if errors.Is(err, ingestModel.ErrBatchTooLarge) || errors.Is(err, ingestModel.ErrBodyTooLarge) {
				HttpError(w, err.Error(), http.StatusRequestEntityTooLarge, logger)
				return
			}
			logger.Error("Error encountered when decoding batch", zap.Error(err))
			HttpError(w, "Invalid request payload", http.StatusBadRequest, logger)
			return
		}

		result, err := coordinator.IngestBatch(ctx, records)
		if err != nil {
			logger.Error("Error encountered when ingesting batch", zap.Error(err))
			HttpError(w, "Internal server error", http.StatusInternalServerError, logger)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(result); err != nil {
			logger.Error("Error encountered when encoding response", zap.Error(err))
			HttpError(w, "Internal server error", http.StatusInternalServerError, logger)
			return
		}
	}
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	traceService "github.com/Avi18971911/Haruspex/internal/trace/service"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// TraceHandler creates a handler for getting one reconstructed trace.
// @Summary Get the reconstructed trace for a trace id, with attempt grouping and per-span signals.
// @Tags trace
// @Produce json
// @Param traceId path string true "The trace id"
// @Success 200 {object} TraceResponseDTO "The reconstructed trace"
// @Failure 404 {object} ErrorMessage "No events known for this trace id"
// @Failure 500 {object} ErrorMessage "Internal server error"
// @Router /trace/{traceId} [get]
func TraceHandler(
	ctx context.Context,
	tqs traceService.TraceQueryService,
	logger *zap.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		traceID := mux.Vars(r)["traceId"]
		if traceID == "" {
			HttpError(w, "Trace id is required", http.StatusBadRequest, logger)
			return
		}

		trace, err := tqs.GetTrace(ctx, traceID)
		if err != nil {
			if errors.Is(err, traceService.ErrNoEventsForTrace) {
				HttpError(w, "Trace not found", http.StatusNotFound, logger)
				return
			}
			logger.Error("Error encountered when reconstructing trace", zap.Error(err))
			HttpError(w, "Internal server error", http.StatusInternalServerError, logger)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(toTraceResponseDTO(trace)); err != nil {
			logger.Error("Error encountered when encoding response", zap.Error(err))
			HttpError(w, "Internal server error", http.StatusInternalServerError, logger)
			return
		}
	}
}

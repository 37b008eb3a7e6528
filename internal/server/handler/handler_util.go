package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// ErrorMessage is the body returned with every non-2xx response.
// @swagger:model ErrorMessage
type ErrorMessage struct {
	Message string `json:"message"`
}

func HttpError(w http.ResponseWriter, message string, code int, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(ErrorMessage{Message: message}); err != nil {
		logger.Error("Error encountered when encoding error response", zap.Error(err))
	}
}

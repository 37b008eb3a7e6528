package helper

import (
	"encoding/json"
	"fmt"

	ingestModel "github.com/Avi18971911/Haruspex/internal/ingest/model"
	signalModel "github.com/Avi18971911/Haruspex/internal/signal/model"
)

// ConvertToEvents decodes event index hits back into canonical events. The
// tagged union round-trips through JSON, so unknown fields in old documents
// are ignored rather than fatal.
func ConvertToEvents(res []map[string]interface{}) ([]ingestModel.CanonicalEvent, error) {
	events := make([]ingestModel.CanonicalEvent, len(res))
	for i, hit := range res {
		raw, err := json.Marshal(hit)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event document: %w", err)
		}
		if err := json.Unmarshal(raw, &events[i]); err != nil {
			return nil, fmt.Errorf("failed to convert document to canonical event: %w", err)
		}
		if id, ok := hit["_id"].(string); ok {
			events[i].Id = id
		}
	}
	return events, nil
}

func ConvertToSignals(res []map[string]interface{}) ([]signalModel.Signal, error) {
	signals := make([]signalModel.Signal, len(res))
	for i, hit := range res {
		raw, err := json.Marshal(hit)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal signal document: %w", err)
		}
		if err := json.Unmarshal(raw, &signals[i]); err != nil {
			return nil, fmt.Errorf("failed to convert document to signal: %w", err)
		}
		if id, ok := hit["_id"].(string); ok {
			signals[i].Id = id
		}
	}
	return signals, nil
}

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Avi18971911/Haruspex/internal/escalation/model"
)

// Scorer is the external scoring collaborator. Implementations run the
// expensive LLM-based judgment layers; this system only transports results.
type Scorer interface {
	Score(ctx context.Context, traceID string, layers []model.AnalysisLayer) (string, error)
}

type HTTPScorer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPScorer(baseURL string, client *http.Client) *HTTPScorer {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPScorer{
		baseURL: baseURL,
		client:  client,
	}
}

func (hs *HTTPScorer) Score(
	ctx context.Context,
	traceID string,
	layers []model.AnalysisLayer,
) (string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"trace_id": traceID,
		"layers":   layers,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal scoring request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, hs.baseURL+"/score", bytes.NewReader(payload),
	)
	if err != nil {
		return "", fmt.Errorf("failed to build scoring request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := hs.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("scoring request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("scoring request returned status %d", res.StatusCode)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read scoring response: %w", err)
	}
	return string(body), nil
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/Avi18971911/Haruspex/internal/db/elasticsearch/bootstrapper"
	"github.com/Avi18971911/Haruspex/internal/db/elasticsearch/client"
	"github.com/Avi18971911/Haruspex/internal/ingest/model"
	"github.com/Avi18971911/Haruspex/internal/metrics"
	signalModel "github.com/Avi18971911/Haruspex/internal/signal/model"
	signalService "github.com/Avi18971911/Haruspex/internal/signal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestIngestBatch(t *testing.T) {
	t.Run("A clean batch persists events and reports the count", func(t *testing.T) {
		hc := &fakeHaruspexClient{}
		coordinator, _, _ := newTestCoordinator(hc)

		result, err := coordinator.IngestBatch(context.Background(), []json.RawMessage{
			rawEvent(`"event_type": "trace_start", "trace_start": {}`),
			rawEvent(`"event_type": "trace_end", "trace_end": {}`),
		})
		assert.Nil(t, err)
		assert.Equal(t, 2, result.IngestedCount)
		assert.Empty(t, result.Rejected)
		assert.Equal(t, 2, len(hc.indexed[bootstrapper.EventIndexName]))
	})

	t.Run("Partial success ingests the good events and reports the bad", func(t *testing.T) {
		hc := &fakeHaruspexClient{}
		coordinator, _, _ := newTestCoordinator(hc)

		result, err := coordinator.IngestBatch(context.Background(), []json.RawMessage{
			rawEvent(`"event_type": "trace_start", "trace_start": {}`),
			json.RawMessage(`{"event_type": "llm_call"}`),
		})
		assert.Nil(t, err)
		assert.Equal(t, 1, result.IngestedCount)
		assert.Equal(t, 1, len(result.Rejected))
		assert.Equal(t, 1, result.Rejected[0].Index)
	})

	t.Run("An anomalous event writes signals and escalates its trace", func(t *testing.T) {
		hc := &fakeHaruspexClient{}
		coordinator, scheduler, _ := newTestCoordinator(hc)

		result, err := coordinator.IngestBatch(context.Background(), []json.RawMessage{
			rawEvent(`"event_type": "tool_call",
				"tool_call": {"tool_name": "search", "result_status": "error"}`),
		})
		assert.Nil(t, err)
		assert.Equal(t, 1, result.IngestedCount)
		assert.Equal(t, 1, len(hc.indexed[bootstrapper.SignalIndexName]))
		assert.Equal(t, []string{"trace-1"}, scheduler.escalatedTraces())
	})

	t.Run("An event store outage fails the whole batch", func(t *testing.T) {
		hc := &fakeHaruspexClient{eventIndexErr: errors.New("cluster red")}
		coordinator, _, _ := newTestCoordinator(hc)

		_, err := coordinator.IngestBatch(context.Background(), []json.RawMessage{
			rawEvent(`"event_type": "trace_start", "trace_start": {}`),
		})
		assert.NotNil(t, err)
	})

	t.Run("A signal store outage never fails ingestion", func(t *testing.T) {
		hc := &fakeHaruspexClient{signalIndexErr: errors.New("cluster red")}
		coordinator, scheduler, _ := newTestCoordinator(hc)

		result, err := coordinator.IngestBatch(context.Background(), []json.RawMessage{
			rawEvent(`"event_type": "tool_call",
				"tool_call": {"tool_name": "search", "result_status": "error"}`),
		})
		assert.Nil(t, err)
		assert.Equal(t, 1, result.IngestedCount)
		// The in-memory signals still reach the scheduler.
		assert.Equal(t, []string{"trace-1"}, scheduler.escalatedTraces())
	})

	t.Run("A trace index outage never fails ingestion", func(t *testing.T) {
		hc := &fakeHaruspexClient{}
		coordinator, _, traceIndex := newTestCoordinator(hc)
		traceIndex.err = errors.New("connection refused")

		result, err := coordinator.IngestBatch(context.Background(), []json.RawMessage{
			rawEvent(`"event_type": "trace_start", "trace_start": {}`),
		})
		assert.Nil(t, err)
		assert.Equal(t, 1, result.IngestedCount)
	})

	t.Run("Redelivering a batch reuses the same document ids", func(t *testing.T) {
		hc := &fakeHaruspexClient{}
		coordinator, _, _ := newTestCoordinator(hc)

		records := []json.RawMessage{rawEvent(`"event_type": "trace_start", "trace_start": {}`)}
		_, err := coordinator.IngestBatch(context.Background(), records)
		assert.Nil(t, err)
		_, err = coordinator.IngestBatch(context.Background(), records)
		assert.Nil(t, err)

		metaInfo := hc.metaFor(bootstrapper.EventIndexName)
		assert.Equal(t, 2, len(metaInfo))
		first := metaInfo[0]["index"].(map[string]interface{})
		second := metaInfo[1]["index"].(map[string]interface{})
		assert.NotEmpty(t, first["_id"])
		assert.Equal(t, first["_id"], second["_id"])
	})

	t.Run("An empty record list reports zero without touching the store", func(t *testing.T) {
		hc := &fakeHaruspexClient{}
		coordinator, _, _ := newTestCoordinator(hc)

		result, err := coordinator.IngestBatch(context.Background(), nil)
		assert.Nil(t, err)
		assert.Equal(t, 0, result.IngestedCount)
		assert.Empty(t, hc.indexed)
	})
}

func newTestCoordinator(
	hc *fakeHaruspexClient,
) (*IngestCoordinator, *fakeScheduler, *fakeTraceIndexStore) {
	scheduler := &fakeScheduler{}
	traceIndex := &fakeTraceIndexStore{}
	coordinator := NewIngestCoordinator(
		NewEventNormalizer(NewSecretScrubber(), DefaultNormalizerConfig()),
		signalService.NewSignalEngine(),
		signalService.DefaultThresholds(),
		hc,
		traceIndex,
		scheduler,
		metrics.NewIngestMetrics(prometheus.NewRegistry()),
		zap.NewNop(),
	)
	return coordinator, scheduler, traceIndex
}

type fakeHaruspexClient struct {
	mu             sync.Mutex
	indexed        map[string][]client.DocumentMap
	meta           map[string][]client.MetaMap
	eventIndexErr  error
	signalIndexErr error
}

func (fc *fakeHaruspexClient) BulkIndex(
	ctx context.Context,
	data []client.DocumentMap,
	metaInfo []client.MetaMap,
	index string,
) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if index == bootstrapper.EventIndexName && fc.eventIndexErr != nil {
		return fc.eventIndexErr
	}
	if index == bootstrapper.SignalIndexName && fc.signalIndexErr != nil {
		return fc.signalIndexErr
	}
	if fc.indexed == nil {
		fc.indexed = make(map[string][]client.DocumentMap)
		fc.meta = make(map[string][]client.MetaMap)
	}
	fc.indexed[index] = append(fc.indexed[index], data...)
	fc.meta[index] = append(fc.meta[index], metaInfo...)
	return nil
}

func (fc *fakeHaruspexClient) Index(
	ctx context.Context,
	data client.DocumentMap,
	metaInfo client.MetaMap,
	index string,
) error {
	return fc.BulkIndex(ctx, []client.DocumentMap{data}, []client.MetaMap{metaInfo}, index)
}

func (fc *fakeHaruspexClient) Search(
	ctx context.Context,
	query string,
	indices []string,
	queryResultSize *int,
) ([]map[string]interface{}, error) {
	return nil, nil
}

func (fc *fakeHaruspexClient) Count(
	ctx context.Context,
	query string,
	indices []string,
) (int64, error) {
	return 0, nil
}

func (fc *fakeHaruspexClient) metaFor(index string) []client.MetaMap {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.meta[index]
}

type fakeScheduler struct {
	mu       sync.Mutex
	escalate []string
}

func (fs *fakeScheduler) MaybeEscalate(
	ctx context.Context,
	traceID string,
	signals []signalModel.Signal,
) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.escalate = append(fs.escalate, traceID)
	return true
}

func (fs *fakeScheduler) escalatedTraces() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.escalate
}

type fakeTraceIndexStore struct {
	err    error
	events []model.CanonicalEvent
}

func (fs *fakeTraceIndexStore) UpsertFromEvents(
	ctx context.Context,
	events []model.CanonicalEvent,
) error {
	if fs.err != nil {
		return fs.err
	}
	fs.events = append(fs.events, events...)
	return nil
}

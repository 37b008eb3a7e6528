package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Avi18971911/Haruspex/internal/db/elasticsearch/bootstrapper"
	"github.com/Avi18971911/Haruspex/internal/db/elasticsearch/client"
	"github.com/Avi18971911/Haruspex/internal/db/postgres"
	escalationService "github.com/Avi18971911/Haruspex/internal/escalation/service"
	"github.com/Avi18971911/Haruspex/internal/ingest/model"
	"github.com/Avi18971911/Haruspex/internal/metrics"
	signalModel "github.com/Avi18971911/Haruspex/internal/signal/model"
	signalService "github.com/Avi18971911/Haruspex/internal/signal/service"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var signalKeyNamespace = uuid.MustParse("9f2a7c3e-11db-4a6b-8d34-6f1f40a6be77")

// IngestCoordinator drives one batch through the pipeline:
// normalize -> signal evaluation -> dual persist -> identifier indexing ->
// escalation. Everything past the event-store write is contained: a broken
// control-plane or queue degrades analysis, never ingestion.
type IngestCoordinator struct {
	normalizer      *EventNormalizer
	signalEngine    *signalService.SignalEngine
	thresholds      signalService.Thresholds
	hc              client.HaruspexClient
	traceIndexStore postgres.TraceIndexStore
	scheduler       escalationService.EscalationScheduler
	ingestMetrics   *metrics.IngestMetrics
	logger          *zap.Logger

	sequence atomic.Int64
}

func NewIngestCoordinator(
	normalizer *EventNormalizer,
	signalEngine *signalService.SignalEngine,
	thresholds signalService.Thresholds,
	hc client.HaruspexClient,
	traceIndexStore postgres.TraceIndexStore,
	scheduler escalationService.EscalationScheduler,
	ingestMetrics *metrics.IngestMetrics,
	logger *zap.Logger,
) *IngestCoordinator {
	coordinator := &IngestCoordinator{
		normalizer:      normalizer,
		signalEngine:    signalEngine,
		thresholds:      thresholds,
		hc:              hc,
		traceIndexStore: traceIndexStore,
		scheduler:       scheduler,
		ingestMetrics:   ingestMetrics,
		logger:          logger,
	}
	// Seed the tie-breaking sequence from the clock so restarts keep later
	// ingests ordered after earlier ones.
	coordinator.sequence.Store(time.Now().UnixNano())
	return coordinator
}

// IngestBatch reports partial success: one malformed event never discards the
// rest of the batch. The event-store write must succeed before success is
// reported; its failure is the only fatal outcome.
func (ic *IngestCoordinator) IngestBatch(
	ctx context.Context,
	records []json.RawMessage,
) (*model.IngestResult, error) {
	startSequence := ic.sequence.Add(int64(len(records))) - int64(len(records))
	normalized := ic.normalizer.NormalizeBatch(records, startSequence)

	signalsByTrace := make(map[string][]signalModel.Signal)
	var traceOrder []string
	var allSignals []signalModel.Signal
	for i := range normalized.Events {
		event := &normalized.Events[i]
		signals := ic.signalEngine.Evaluate(event, ic.thresholds)
		for _, signal := range signals {
			signal.Id = signalKey(event.Id, signal.SignalName)
			if _, seen := signalsByTrace[signal.TraceID]; !seen {
				traceOrder = append(traceOrder, signal.TraceID)
			}
			signalsByTrace[signal.TraceID] = append(signalsByTrace[signal.TraceID], signal)
			allSignals = append(allSignals, signal)
		}
	}

	if len(normalized.Events) > 0 {
		if err := ic.persistEvents(ctx, normalized.Events); err != nil {
			return nil, fmt.Errorf("failed to persist event batch: %w", err)
		}
		ic.persistSignals(ctx, allSignals)
		if err := ic.traceIndexStore.UpsertFromEvents(ctx, normalized.Events); err != nil {
			ic.logger.Error("Failed to index trace identifiers, continuing", zap.Error(err))
		}
	}

	for _, traceID := range traceOrder {
		if ic.scheduler.MaybeEscalate(ctx, traceID, signalsByTrace[traceID]) {
			ic.ingestMetrics.JobsEnqueued.Inc()
		}
	}

	ic.ingestMetrics.EventsIngested.Add(float64(len(normalized.Events)))
	ic.ingestMetrics.EventsRejected.Add(float64(len(normalized.Rejections)))
	ic.ingestMetrics.SignalsEmitted.Add(float64(len(allSignals)))

	rejected := normalized.Rejections
	if rejected == nil {
		rejected = []model.Rejection{}
	}
	return &model.IngestResult{
		IngestedCount: len(normalized.Events),
		Rejected:      rejected,
	}, nil
}

func (ic *IngestCoordinator) persistEvents(ctx context.Context, events []model.CanonicalEvent) error {
	metaInfo, documentInfo, err := client.ToMetaAndDataMap(events)
	if err != nil {
		return fmt.Errorf("failed to convert events for bulk index: %w", err)
	}
	return ic.hc.BulkIndex(ctx, documentInfo, metaInfo, bootstrapper.EventIndexName)
}

// persistSignals is best effort: the in-memory signals keep flowing to the
// scheduler even when the signal index write fails.
func (ic *IngestCoordinator) persistSignals(ctx context.Context, signals []signalModel.Signal) {
	if len(signals) == 0 {
		return
	}
	metaInfo, documentInfo, err := client.ToMetaAndDataMap(signals)
	if err != nil {
		ic.logger.Error("Failed to convert signals for bulk index", zap.Error(err))
		return
	}
	if err := ic.hc.BulkIndex(ctx, documentInfo, metaInfo, bootstrapper.SignalIndexName); err != nil {
		ic.logger.Error("Failed to persist signals, continuing", zap.Error(err))
	}
}

func signalKey(eventID string, signalName string) string {
	return uuid.NewSHA1(signalKeyNamespace, []byte(eventID+"|"+signalName)).String()
}

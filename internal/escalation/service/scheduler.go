package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/Avi18971911/Haruspex/internal/db/postgres"
	"github.com/Avi18971911/Haruspex/internal/escalation/model"
	"github.com/Avi18971911/Haruspex/internal/event_bus"
	signalModel "github.com/Avi18971911/Haruspex/internal/signal/model"
	signalService "github.com/Avi18971911/Haruspex/internal/signal/service"
	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrEscalationUnavailable wraps queue or store outages. Callers log it and
// move on: deeper analysis is additive value, never an ingestion dependency.
var ErrEscalationUnavailable = errors.New("escalation backend unavailable")

const enqueueTimeout = 2 * time.Second

// dedupeTTL bounds how long the fast-path cache may shadow the job store.
// Entries must expire: a completed job ends the durable uniqueness guard, and
// fresh high-severity signals after that point have to escalate again.
const dedupeTTL = 5 * time.Minute

type EscalationScheduler interface {
	// MaybeEscalate enqueues one analysis job when the trace's fresh signals
	// include a high severity, reporting whether a new job was created. It
	// never returns an error: failures are logged and ingestion proceeds.
	MaybeEscalate(ctx context.Context, traceID string, signals []signalModel.Signal) bool
}

type EscalationSchedulerImpl struct {
	jobStore  postgres.JobStore
	bus       event_bus.AnalysisJobBus
	dedupe    *ristretto.Cache
	dedupeTTL time.Duration
	layers    []model.AnalysisLayer
	logger    *zap.Logger
}

func NewEscalationScheduler(
	jobStore postgres.JobStore,
	bus event_bus.AnalysisJobBus,
	dedupe *ristretto.Cache,
	layers []model.AnalysisLayer,
	logger *zap.Logger,
) *EscalationSchedulerImpl {
	return &EscalationSchedulerImpl{
		jobStore:  jobStore,
		bus:       bus,
		dedupe:    dedupe,
		dedupeTTL: dedupeTTL,
		layers:    layers,
		logger:    logger,
	}
}

func (es *EscalationSchedulerImpl) MaybeEscalate(
	ctx context.Context,
	traceID string,
	signals []signalModel.Signal,
) bool {
	if signalService.HighestSeverity(signals) != signalModel.SeverityHigh {
		return false
	}

	key := dedupeKey(traceID, es.layers)
	if _, found := es.dedupe.Get(key); found {
		return false
	}

	enqueueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()

	job := model.AnalysisJob{
		Id:        uuid.NewString(),
		TraceID:   traceID,
		Layers:    es.layers,
		Status:    model.JobQueued,
		CreatedAt: time.Now().UTC(),
	}
	created, err := es.jobStore.EnqueueJob(enqueueCtx, job)
	if err != nil {
		es.logger.Warn("Escalation unavailable, continuing ingestion without deeper analysis",
			zap.String("trace_id", traceID),
			zap.Error(errors.Join(ErrEscalationUnavailable, err)),
		)
		return false
	}
	// Either we created the job or a queued/active one already exists; both
	// outcomes make this key safe to skip for a while. The entry expires so
	// that signals arriving after the job finishes can escalate again; the
	// partial unique index in the store stays the durable guard in between.
	es.dedupe.SetWithTTL(key, true, 1, es.dedupeTTL)
	if !created {
		return false
	}

	err = es.bus.PublishJobRequest(model.JobRequest{
		JobID:   job.Id,
		TraceID: job.TraceID,
		Layers:  job.Layers,
	})
	if err != nil {
		// The job row is already durable; the stale-requeue sweep will
		// republish it.
		es.logger.Warn("Failed to publish analysis job request",
			zap.String("trace_id", traceID),
			zap.String("job_id", job.Id),
			zap.Error(err),
		)
	}
	return true
}

func dedupeKey(traceID string, layers []model.AnalysisLayer) string {
	names := make([]string, len(layers))
	for i, layer := range layers {
		names[i] = string(layer)
	}
	sort.Strings(names)
	return traceID + "|" + strings.Join(names, ",")
}

package service

import (
	"context"
	"time"

	"github.com/Avi18971911/Haruspex/internal/db/postgres"
	"github.com/Avi18971911/Haruspex/internal/escalation/model"
	"github.com/Avi18971911/Haruspex/internal/event_bus"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// WorkerPoolConfig bounds the load the analysis pipeline may place on the
// downstream scoring collaborator.
type WorkerPoolConfig struct {
	PoolSize     int           `env:"ANALYSIS_POOL_SIZE,default=4"`
	JobTimeout   time.Duration `env:"ANALYSIS_JOB_TIMEOUT,default=60s"`
	MaxAttempts  int           `env:"ANALYSIS_MAX_ATTEMPTS,default=5"`
	Retention    time.Duration `env:"ANALYSIS_JOB_RETENTION,default=168h"`
	SweepEvery   time.Duration `env:"ANALYSIS_SWEEP_INTERVAL,default=60s"`
	QueueBacklog int           `env:"ANALYSIS_QUEUE_BACKLOG,default=256"`
}

// AnalysisWorkerPool consumes job requests from the analysis topic with a
// fixed number of workers. Claiming through the job store guarantees at most
// one active worker per job; each attempt runs under the job timeout and
// failed attempts return the job to queued until the attempt ceiling is hit.
type AnalysisWorkerPool struct {
	jobStore postgres.JobStore
	scorer   Scorer
	bus      event_bus.AnalysisJobBus
	config   WorkerPoolConfig
	logger   *zap.Logger

	requests chan model.JobRequest
	done     chan struct{}
}

func NewAnalysisWorkerPool(
	jobStore postgres.JobStore,
	scorer Scorer,
	bus event_bus.AnalysisJobBus,
	config WorkerPoolConfig,
	logger *zap.Logger,
) *AnalysisWorkerPool {
	return &AnalysisWorkerPool{
		jobStore: jobStore,
		scorer:   scorer,
		bus:      bus,
		config:   config,
		logger:   logger,
		requests: make(chan model.JobRequest, config.QueueBacklog),
		done:     make(chan struct{}),
	}
}

// Start subscribes the pool to the analysis topic and launches the workers
// and the maintenance sweep. The returned function stops the pool.
func (wp *AnalysisWorkerPool) Start() (func(), error) {
	err := wp.bus.SubscribeJobRequests(func(request model.JobRequest) error {
		select {
		case wp.requests <- request:
		case <-wp.done:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := 0; i < wp.config.PoolSize; i++ {
		go wp.worker()
	}

	ticker := time.NewTicker(wp.config.SweepEvery)
	go func() {
		for {
			select {
			case <-ticker.C:
				wp.sweep()
			case <-wp.done:
				return
			}
		}
	}()

	return func() {
		ticker.Stop()
		close(wp.done)
	}, nil
}

func (wp *AnalysisWorkerPool) worker() {
	for {
		select {
		case request := <-wp.requests:
			wp.process(request)
		case <-wp.done:
			return
		}
	}
}

func (wp *AnalysisWorkerPool) process(request model.JobRequest) {
	ctx := context.Background()
	policy := backoff.NewExponentialBackOff()

	for {
		claimed, err := wp.jobStore.ClaimJob(ctx, request.JobID)
		if err != nil {
			wp.logger.Error("Failed to claim analysis job", zap.String("job_id", request.JobID), zap.Error(err))
			return
		}
		if !claimed {
			// Another worker holds the job, or it already finished.
			return
		}

		scoreCtx, cancel := context.WithTimeout(ctx, wp.config.JobTimeout)
		result, scoreErr := wp.scorer.Score(scoreCtx, request.TraceID, request.Layers)
		cancel()

		if scoreErr == nil {
			if err := wp.jobStore.CompleteJob(ctx, request.JobID, result); err != nil {
				wp.logger.Error("Failed to record analysis job completion",
					zap.String("job_id", request.JobID), zap.Error(err))
			}
			return
		}

		job, err := wp.jobStore.GetJob(ctx, request.JobID)
		if err != nil {
			wp.logger.Error("Failed to load analysis job after failure",
				zap.String("job_id", request.JobID), zap.Error(err))
			return
		}
		permanent := job.AttemptsMade >= wp.config.MaxAttempts
		if err := wp.jobStore.FailJob(ctx, request.JobID, scoreErr.Error(), permanent); err != nil {
			wp.logger.Error("Failed to record analysis job failure",
				zap.String("job_id", request.JobID), zap.Error(err))
			return
		}
		if permanent {
			wp.logger.Warn("Analysis job failed permanently",
				zap.String("job_id", request.JobID),
				zap.String("trace_id", request.TraceID),
				zap.Int("attempts_made", job.AttemptsMade),
				zap.Error(scoreErr),
			)
			return
		}

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			wait = policy.MaxInterval
		}
		select {
		case <-time.After(wait):
		case <-wp.done:
			return
		}
	}
}

// sweep republishes jobs stranded by crashed workers and enforces the
// retention window on finished ones.
func (wp *AnalysisWorkerPool) sweep() {
	ctx := context.Background()
	requeued, err := wp.jobStore.RequeueStale(ctx, wp.config.JobTimeout)
	if err != nil {
		wp.logger.Error("Failed to requeue stale analysis jobs", zap.Error(err))
	}
	for _, request := range requeued {
		if err := wp.bus.PublishJobRequest(request); err != nil {
			wp.logger.Error("Failed to republish requeued analysis job",
				zap.String("job_id", request.JobID), zap.Error(err))
		}
	}

	deleted, err := wp.jobStore.DeleteFinishedBefore(ctx, time.Now().UTC().Add(-wp.config.Retention))
	if err != nil {
		wp.logger.Error("Failed to delete finished analysis jobs", zap.Error(err))
	} else if deleted > 0 {
		wp.logger.Info("Deleted finished analysis jobs past retention", zap.Int64("deleted", deleted))
	}
}

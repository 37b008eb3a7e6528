package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Avi18971911/Haruspex/internal/escalation/model"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestProcessJob(t *testing.T) {
	t.Run("A successful score completes the job with its result", func(t *testing.T) {
		store := newFakeJobStore()
		scorer := &fakeScorer{result: `{"verdict": "degraded"}`}
		pool := newTestPool(store, scorer, &capturingBus{}, 5)

		request := enqueueTestJob(t, store, "job-1", "trace-1")
		pool.process(request)

		job, err := store.GetJob(context.Background(), "job-1")
		assert.Nil(t, err)
		assert.Equal(t, model.JobCompleted, job.Status)
		assert.Equal(t, `{"verdict": "degraded"}`, job.Result)
		assert.Equal(t, 1, job.AttemptsMade)
	})

	t.Run("A job already claimed elsewhere is left alone", func(t *testing.T) {
		store := newFakeJobStore()
		scorer := &fakeScorer{result: "unused"}
		pool := newTestPool(store, scorer, &capturingBus{}, 5)

		request := enqueueTestJob(t, store, "job-1", "trace-1")
		claimed, err := store.ClaimJob(context.Background(), "job-1")
		assert.Nil(t, err)
		assert.True(t, claimed)

		pool.process(request)
		assert.Equal(t, 0, scorer.callCount())
		assert.Equal(t, model.JobActive, store.jobStatus("job-1"))
	})

	t.Run("A transient failure retries until the scorer recovers", func(t *testing.T) {
		store := newFakeJobStore()
		scorer := &fakeScorer{result: "ok", failuresBeforeSuccess: 2}
		pool := newTestPool(store, scorer, &capturingBus{}, 5)

		request := enqueueTestJob(t, store, "job-1", "trace-1")
		pool.process(request)

		job, err := store.GetJob(context.Background(), "job-1")
		assert.Nil(t, err)
		assert.Equal(t, model.JobCompleted, job.Status)
		assert.Equal(t, 3, job.AttemptsMade)
		assert.Equal(t, 3, scorer.callCount())
	})

	t.Run("The attempt ceiling fails the job permanently", func(t *testing.T) {
		store := newFakeJobStore()
		scorer := &fakeScorer{failuresBeforeSuccess: 100}
		pool := newTestPool(store, scorer, &capturingBus{}, 2)

		request := enqueueTestJob(t, store, "job-1", "trace-1")
		pool.process(request)

		job, err := store.GetJob(context.Background(), "job-1")
		assert.Nil(t, err)
		assert.Equal(t, model.JobFailed, job.Status)
		assert.Equal(t, 2, job.AttemptsMade)
		assert.Contains(t, job.LastError, "scoring failed")
	})

	t.Run("A slow scorer is cut off by the job timeout", func(t *testing.T) {
		store := newFakeJobStore()
		scorer := &fakeScorer{result: "never delivered", delay: time.Second}
		pool := newTestPool(store, scorer, &capturingBus{}, 1)
		pool.config.JobTimeout = 20 * time.Millisecond

		request := enqueueTestJob(t, store, "job-1", "trace-1")
		pool.process(request)

		assert.Equal(t, model.JobFailed, store.jobStatus("job-1"))
	})
}

func TestSweep(t *testing.T) {
	t.Run("Stale active jobs are requeued and republished", func(t *testing.T) {
		store := newFakeJobStore()
		bus := &capturingBus{}
		pool := newTestPool(store, &fakeScorer{}, bus, 5)

		enqueueTestJob(t, store, "job-1", "trace-1")
		claimed, err := store.ClaimJob(context.Background(), "job-1")
		assert.Nil(t, err)
		assert.True(t, claimed)
		store.ageJob("job-1", 2*time.Hour)

		pool.sweep()
		assert.Equal(t, model.JobQueued, store.jobStatus("job-1"))
		assert.Equal(t, 1, len(bus.requests()))
		assert.Equal(t, "job-1", bus.requests()[0].JobID)
	})

	t.Run("Finished jobs past retention are deleted", func(t *testing.T) {
		store := newFakeJobStore()
		pool := newTestPool(store, &fakeScorer{}, &capturingBus{}, 5)
		pool.config.Retention = time.Hour

		enqueueTestJob(t, store, "job-1", "trace-1")
		assert.Nil(t, store.CompleteJob(context.Background(), "job-1", "done"))
		store.ageJob("job-1", 2*time.Hour)
		enqueueTestJob(t, store, "job-2", "trace-2")

		pool.sweep()
		assert.Equal(t, 1, store.jobCount())
		assert.Equal(t, model.JobQueued, store.jobStatus("job-2"))
	})
}

func TestWorkerPoolLifecycle(t *testing.T) {
	t.Run("A published request flows through a worker to completion", func(t *testing.T) {
		store := newFakeJobStore()
		scorer := &fakeScorer{result: "scored"}
		bus := &capturingBus{}
		pool := newTestPool(store, scorer, bus, 5)

		stop, err := pool.Start()
		assert.Nil(t, err)
		defer stop()

		request := enqueueTestJob(t, store, "job-1", "trace-1")
		bus.mu.Lock()
		handler := bus.handler
		bus.mu.Unlock()
		assert.NotNil(t, handler)
		assert.Nil(t, handler(request))

		assert.Eventually(t, func() bool {
			return store.jobStatus("job-1") == model.JobCompleted
		}, 2*time.Second, 10*time.Millisecond)
	})
}

func newTestPool(
	store *fakeJobStore,
	scorer *fakeScorer,
	bus *capturingBus,
	maxAttempts int,
) *AnalysisWorkerPool {
	return NewAnalysisWorkerPool(store, scorer, bus, WorkerPoolConfig{
		PoolSize:     2,
		JobTimeout:   time.Second,
		MaxAttempts:  maxAttempts,
		Retention:    time.Hour,
		SweepEvery:   time.Hour,
		QueueBacklog: 16,
	}, zap.NewNop())
}

func enqueueTestJob(t *testing.T, store *fakeJobStore, jobID string, traceID string) model.JobRequest {
	created, err := store.EnqueueJob(context.Background(), model.AnalysisJob{
		Id:        jobID,
		TraceID:   traceID,
		Layers:    testLayers,
		Status:    model.JobQueued,
		CreatedAt: time.Now().UTC(),
	})
	assert.Nil(t, err)
	assert.True(t, created)
	return model.JobRequest{JobID: jobID, TraceID: traceID, Layers: testLayers}
}

type fakeScorer struct {
	mu                    sync.Mutex
	result                string
	failuresBeforeSuccess int
	delay                 time.Duration
	calls                 int
}

func (fs *fakeScorer) Score(
	ctx context.Context,
	traceID string,
	layers []model.AnalysisLayer,
) (string, error) {
	fs.mu.Lock()
	fs.calls++
	call := fs.calls
	delay := fs.delay
	fs.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if call <= fs.failuresBeforeSuccess {
		return "", errors.New("scoring failed")
	}
	return fs.result, nil
}

func (fs *fakeScorer) callCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.calls
}

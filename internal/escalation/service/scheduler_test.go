package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Avi18971911/Haruspex/internal/escalation/model"
	signalModel "github.com/Avi18971911/Haruspex/internal/signal/model"
	"github.com/dgraph-io/ristretto"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var testLayers = []model.AnalysisLayer{model.LayerJudgment, model.LayerRootCause}

func TestMaybeEscalate(t *testing.T) {
	t.Run("A high severity signal creates a job and publishes a request", func(t *testing.T) {
		store := newFakeJobStore()
		bus := &capturingBus{}
		scheduler := NewEscalationScheduler(store, bus, newDedupeCache(t), testLayers, zap.NewNop())

		created := scheduler.MaybeEscalate(context.Background(), "trace-1", highSignals("trace-1"))
		assert.True(t, created)
		assert.Equal(t, 1, store.jobCount())
		assert.Equal(t, 1, len(bus.requests()))
		assert.Equal(t, "trace-1", bus.requests()[0].TraceID)
		assert.Equal(t, testLayers, bus.requests()[0].Layers)
	})

	t.Run("A second escalation for the same trace is suppressed", func(t *testing.T) {
		store := newFakeJobStore()
		bus := &capturingBus{}
		scheduler := NewEscalationScheduler(store, bus, newDedupeCache(t), testLayers, zap.NewNop())

		assert.True(t, scheduler.MaybeEscalate(context.Background(), "trace-1", highSignals("trace-1")))
		assert.False(t, scheduler.MaybeEscalate(context.Background(), "trace-1", highSignals("trace-1")))
		assert.Equal(t, 1, store.jobCount())
		assert.Equal(t, 1, len(bus.requests()))
	})

	t.Run("Different traces escalate independently", func(t *testing.T) {
		store := newFakeJobStore()
		bus := &capturingBus{}
		scheduler := NewEscalationScheduler(store, bus, newDedupeCache(t), testLayers, zap.NewNop())

		assert.True(t, scheduler.MaybeEscalate(context.Background(), "trace-1", highSignals("trace-1")))
		assert.True(t, scheduler.MaybeEscalate(context.Background(), "trace-2", highSignals("trace-2")))
		assert.Equal(t, 2, store.jobCount())
	})

	t.Run("Medium severity signals never escalate", func(t *testing.T) {
		store := newFakeJobStore()
		bus := &capturingBus{}
		scheduler := NewEscalationScheduler(store, bus, newDedupeCache(t), testLayers, zap.NewNop())

		signals := []signalModel.Signal{
			{SignalName: signalModel.MediumLatency, Severity: signalModel.SeverityMedium, TraceID: "trace-1"},
		}
		assert.False(t, scheduler.MaybeEscalate(context.Background(), "trace-1", signals))
		assert.Equal(t, 0, store.jobCount())
	})

	t.Run("No signals never escalate", func(t *testing.T) {
		store := newFakeJobStore()
		bus := &capturingBus{}
		scheduler := NewEscalationScheduler(store, bus, newDedupeCache(t), testLayers, zap.NewNop())

		assert.False(t, scheduler.MaybeEscalate(context.Background(), "trace-1", nil))
		assert.Equal(t, 0, store.jobCount())
	})

	t.Run("A store outage is absorbed without failing the caller", func(t *testing.T) {
		store := newFakeJobStore()
		store.enqueueErr = errors.New("connection refused")
		bus := &capturingBus{}
		scheduler := NewEscalationScheduler(store, bus, newDedupeCache(t), testLayers, zap.NewNop())

		assert.False(t, scheduler.MaybeEscalate(context.Background(), "trace-1", highSignals("trace-1")))
		assert.Equal(t, 0, len(bus.requests()))
	})

	t.Run("A publish failure still reports the job as created", func(t *testing.T) {
		store := newFakeJobStore()
		bus := &capturingBus{publishErr: errors.New("bus down")}
		scheduler := NewEscalationScheduler(store, bus, newDedupeCache(t), testLayers, zap.NewNop())

		assert.True(t, scheduler.MaybeEscalate(context.Background(), "trace-1", highSignals("trace-1")))
		assert.Equal(t, 1, store.jobCount())
	})

	t.Run("New signals after a completed job escalate again once the cache entry expires", func(t *testing.T) {
		store := newFakeJobStore()
		bus := &capturingBus{}
		cache := newDedupeCache(t)
		scheduler := NewEscalationScheduler(store, bus, cache, testLayers, zap.NewNop())
		scheduler.dedupeTTL = 50 * time.Millisecond

		assert.True(t, scheduler.MaybeEscalate(context.Background(), "trace-1", highSignals("trace-1")))
		cache.Wait()
		assert.Nil(t, store.CompleteJob(context.Background(), bus.requests()[0].JobID, "verdict"))

		// Inside the window the cache still shadows the finished job.
		assert.False(t, scheduler.MaybeEscalate(context.Background(), "trace-1", highSignals("trace-1")))

		assert.Eventually(t, func() bool {
			return scheduler.MaybeEscalate(context.Background(), "trace-1", highSignals("trace-1"))
		}, 2*time.Second, 20*time.Millisecond)
		assert.Equal(t, 2, store.jobCount())
	})
}

func highSignals(traceID string) []signalModel.Signal {
	return []signalModel.Signal{
		{
			SignalName:   signalModel.ToolError,
			Severity:     signalModel.SeverityHigh,
			TraceID:      traceID,
			TargetSpanID: "span-1",
			Timestamp:    time.Now().UTC(),
		},
	}
}

func newDedupeCache(t *testing.T) *ristretto.Cache {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1000,
		MaxCost:     100,
		BufferItems: 64,
	})
	assert.Nil(t, err)
	return cache
}

// capturingBus records published requests and hands the subscription handler
// back to the test so message delivery is synchronous and deterministic.
type capturingBus struct {
	mu         sync.Mutex
	published  []model.JobRequest
	publishErr error
	handler    func(model.JobRequest) error
}

func (cb *capturingBus) SubscribeJobRequests(handler func(request model.JobRequest) error) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.handler = handler
	return nil
}

func (cb *capturingBus) PublishJobRequest(request model.JobRequest) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.publishErr != nil {
		return cb.publishErr
	}
	cb.published = append(cb.published, request)
	return nil
}

func (cb *capturingBus) requests() []model.JobRequest {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	requests := make([]model.JobRequest, len(cb.published))
	copy(requests, cb.published)
	return requests
}

// fakeJobStore mirrors the control-plane semantics in memory, including the
// queued-or-active uniqueness guard on (trace_id, layers).
type fakeJobStore struct {
	mu         sync.Mutex
	jobs       map[string]*model.AnalysisJob
	enqueueErr error
	claimErr   error
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]*model.AnalysisJob)}
}

func (fs *fakeJobStore) EnqueueJob(ctx context.Context, job model.AnalysisJob) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.enqueueErr != nil {
		return false, fs.enqueueErr
	}
	key := job.TraceID + "|" + layerKey(job.Layers)
	for _, existing := range fs.jobs {
		if existing.TraceID+"|"+layerKey(existing.Layers) == key &&
			(existing.Status == model.JobQueued || existing.Status == model.JobActive) {
			return false, nil
		}
	}
	stored := job
	stored.Status = model.JobQueued
	stored.UpdatedAt = time.Now().UTC()
	fs.jobs[job.Id] = &stored
	return true, nil
}

func (fs *fakeJobStore) ClaimJob(ctx context.Context, jobID string) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.claimErr != nil {
		return false, fs.claimErr
	}
	job, ok := fs.jobs[jobID]
	if !ok || job.Status != model.JobQueued {
		return false, nil
	}
	job.Status = model.JobActive
	job.AttemptsMade++
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (fs *fakeJobStore) CompleteJob(ctx context.Context, jobID string, result string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if job, ok := fs.jobs[jobID]; ok {
		job.Status = model.JobCompleted
		job.Result = result
		job.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (fs *fakeJobStore) FailJob(ctx context.Context, jobID string, lastError string, permanent bool) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if job, ok := fs.jobs[jobID]; ok {
		job.Status = model.JobQueued
		if permanent {
			job.Status = model.JobFailed
		}
		job.LastError = lastError
		job.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (fs *fakeJobStore) RequeueStale(
	ctx context.Context,
	timeout time.Duration,
) ([]model.JobRequest, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	cutoff := time.Now().UTC().Add(-timeout)
	var requests []model.JobRequest
	for _, job := range fs.jobs {
		if job.Status == model.JobActive && job.UpdatedAt.Before(cutoff) {
			job.Status = model.JobQueued
			job.UpdatedAt = time.Now().UTC()
			requests = append(requests, model.JobRequest{
				JobID:   job.Id,
				TraceID: job.TraceID,
				Layers:  job.Layers,
			})
		}
	}
	return requests, nil
}

func (fs *fakeJobStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var deleted int64
	for id, job := range fs.jobs {
		if (job.Status == model.JobCompleted || job.Status == model.JobFailed) &&
			job.UpdatedAt.Before(cutoff) {
			delete(fs.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

func (fs *fakeJobStore) GetJob(ctx context.Context, jobID string) (*model.AnalysisJob, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	job, ok := fs.jobs[jobID]
	if !ok {
		return nil, errors.New("job not found")
	}
	copied := *job
	return &copied, nil
}

func (fs *fakeJobStore) jobCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.jobs)
}

func (fs *fakeJobStore) ageJob(jobID string, age time.Duration) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if job, ok := fs.jobs[jobID]; ok {
		job.UpdatedAt = job.UpdatedAt.Add(-age)
	}
}

func (fs *fakeJobStore) jobStatus(jobID string) model.JobStatus {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if job, ok := fs.jobs[jobID]; ok {
		return job.Status
	}
	return ""
}

func layerKey(layers []model.AnalysisLayer) string {
	names := make([]string, len(layers))
	for i, layer := range layers {
		names[i] = string(layer)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

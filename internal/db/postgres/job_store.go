package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Avi18971911/Haruspex/internal/escalation/model"
)

// JobStore is the control-plane bookkeeping for analysis jobs.
type JobStore interface {
	// EnqueueJob inserts a queued job unless a queued-or-active job already
	// exists for the same (trace_id, layers). Returns false when the insert
	// was suppressed by the uniqueness guard.
	EnqueueJob(ctx context.Context, job model.AnalysisJob) (bool, error)
	// ClaimJob flips a queued job to active. Returns false when another
	// worker already holds it.
	ClaimJob(ctx context.Context, jobID string) (bool, error)
	CompleteJob(ctx context.Context, jobID string, result string) error
	// FailJob records a failed attempt. A permanent failure ends the job;
	// otherwise it returns to queued for the retry policy to pick up.
	FailJob(ctx context.Context, jobID string, lastError string, permanent bool) error
	// RequeueStale returns active jobs older than timeout to queued so a
	// crashed worker cannot strand them, and reports which jobs it touched
	// so they can be republished.
	RequeueStale(ctx context.Context, timeout time.Duration) ([]model.JobRequest, error)
	// DeleteFinishedBefore enforces the retention window on completed and
	// permanently failed jobs.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	GetJob(ctx context.Context, jobID string) (*model.AnalysisJob, error)
}

type JobStoreImpl struct {
	db *sql.DB
}

func NewJobStore(db *sql.DB) *JobStoreImpl {
	return &JobStoreImpl{db: db}
}

func (js *JobStoreImpl) EnqueueJob(ctx context.Context, job model.AnalysisJob) (bool, error) {
	res, err := js.db.ExecContext(ctx, `
		INSERT INTO analysis_jobs (id, trace_id, layers, status, attempts_made, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $5)
		ON CONFLICT (trace_id, layers) WHERE status IN ('queued', 'active') DO NOTHING`,
		job.Id, job.TraceID, encodeLayers(job.Layers), string(model.JobQueued), job.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue analysis job: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read enqueue result: %w", err)
	}
	return rows == 1, nil
}

func (js *JobStoreImpl) ClaimJob(ctx context.Context, jobID string) (bool, error) {
	res, err := js.db.ExecContext(ctx, `
		UPDATE analysis_jobs
		SET status = $2, attempts_made = attempts_made + 1, updated_at = $3
		WHERE id = $1 AND status = $4`,
		jobID, string(model.JobActive), time.Now().UTC(), string(model.JobQueued),
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim analysis job: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}
	return rows == 1, nil
}

func (js *JobStoreImpl) CompleteJob(ctx context.Context, jobID string, result string) error {
	_, err := js.db.ExecContext(ctx, `
		UPDATE analysis_jobs
		SET status = $2, result = $3, updated_at = $4
		WHERE id = $1`,
		jobID, string(model.JobCompleted), result, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to complete analysis job: %w", err)
	}
	return nil
}

func (js *JobStoreImpl) FailJob(ctx context.Context, jobID string, lastError string, permanent bool) error {
	status := model.JobQueued
	if permanent {
		status = model.JobFailed
	}
	_, err := js.db.ExecContext(ctx, `
		UPDATE analysis_jobs
		SET status = $2, last_error = $3, updated_at = $4
		WHERE id = $1`,
		jobID, string(status), lastError, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record analysis job failure: %w", err)
	}
	return nil
}

func (js *JobStoreImpl) RequeueStale(
	ctx context.Context,
	timeout time.Duration,
) ([]model.JobRequest, error) {
	rows, err := js.db.QueryContext(ctx, `
		UPDATE analysis_jobs
		SET status = $1, updated_at = $2
		WHERE status = $3 AND updated_at < $4
		RETURNING id, trace_id, layers`,
		string(model.JobQueued), time.Now().UTC(), string(model.JobActive),
		time.Now().UTC().Add(-timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to requeue stale analysis jobs: %w", err)
	}
	defer rows.Close()

	var requests []model.JobRequest
	for rows.Next() {
		var request model.JobRequest
		var layers string
		if err := rows.Scan(&request.JobID, &request.TraceID, &layers); err != nil {
			return nil, fmt.Errorf("failed to scan requeued analysis job: %w", err)
		}
		request.Layers = decodeLayers(layers)
		requests = append(requests, request)
	}
	return requests, rows.Err()
}

func (js *JobStoreImpl) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := js.db.ExecContext(ctx, `
		DELETE FROM analysis_jobs
		WHERE status IN ($1, $2) AND updated_at < $3`,
		string(model.JobCompleted), string(model.JobFailed), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete finished analysis jobs: %w", err)
	}
	return res.RowsAffected()
}

func (js *JobStoreImpl) GetJob(ctx context.Context, jobID string) (*model.AnalysisJob, error) {
	row := js.db.QueryRowContext(ctx, `
		SELECT id, trace_id, layers, status, attempts_made, created_at, updated_at,
			COALESCE(result, ''), COALESCE(last_error, '')
		FROM analysis_jobs WHERE id = $1`,
		jobID,
	)
	var job model.AnalysisJob
	var layers string
	var status string
	err := row.Scan(
		&job.Id, &job.TraceID, &layers, &status, &job.AttemptsMade,
		&job.CreatedAt, &job.UpdatedAt, &job.Result, &job.LastError,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis job: %w", err)
	}
	job.Layers = decodeLayers(layers)
	job.Status = model.JobStatus(status)
	return &job, nil
}

// encodeLayers renders the layer set canonically so (trace_id, layers)
// uniqueness does not depend on request ordering. Layer sets are small and
// fixed, so a sorted comma join is the whole requirement.
func encodeLayers(layers []model.AnalysisLayer) string {
	names := make([]string, len(layers))
	for i, layer := range layers {
		names[i] = string(layer)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func decodeLayers(encoded string) []model.AnalysisLayer {
	if encoded == "" {
		return nil
	}
	parts := strings.Split(encoded, ",")
	layers := make([]model.AnalysisLayer, len(parts))
	for i, part := range parts {
		layers[i] = model.AnalysisLayer(part)
	}
	return layers
}

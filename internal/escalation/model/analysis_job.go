package model

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// AnalysisLayer names one tier of the deeper-analysis pipeline that a job
// asks the external scoring collaborator to run.
type AnalysisLayer string

const (
	LayerJudgment  AnalysisLayer = "judgment"
	LayerRootCause AnalysisLayer = "root_cause"
)

// AnalysisJob tracks one escalation through its lifecycle:
// queued -> active -> completed | failed. Escalation is additive value on top
// of ingestion, so jobs are bookkeeping for operators, never a correctness
// dependency of the write path.
type AnalysisJob struct {
	Id           string          `json:"id"`
	TraceID      string          `json:"trace_id"`
	Layers       []AnalysisLayer `json:"layers"`
	Status       JobStatus       `json:"status"`
	AttemptsMade int             `json:"attempts_made"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Result       string          `json:"result,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
}

// JobRequest is the message published to the analysis job topic.
type JobRequest struct {
	JobID   string          `json:"job_id"`
	TraceID string          `json:"trace_id"`
	Layers  []AnalysisLayer `json:"layers"`
}

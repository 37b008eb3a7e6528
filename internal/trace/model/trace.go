package model

import (
	"time"

	ingestModel "github.com/Avi18971911/Haruspex/internal/ingest/model"
	signalModel "github.com/Avi18971911/Haruspex/internal/signal/model"
)

// Span is a transient node synthesized at query time from every event sharing
// one span id. It is never persisted.
type Span struct {
	SpanID       string                 `json:"span_id"`
	ParentSpanID string                 `json:"parent_span_id,omitempty"`
	Name         string                 `json:"name,omitempty"`
	EventType    ingestModel.EventType  `json:"event_type"`
	StartTime    time.Time              `json:"start_time"`
	EndTime      time.Time              `json:"end_time"`
	Status       ingestModel.CallStatus `json:"status,omitempty"`
	Input        string                 `json:"input,omitempty"`
	// Output is nulled when it duplicates the trace-level output, so the
	// final answer never renders twice.
	Output   *string              `json:"output,omitempty"`
	Signals  []signalModel.Signal `json:"signals,omitempty"`
	Children []*Span              `json:"children,omitempty"`

	Events []ingestModel.CanonicalEvent `json:"-"`
}

// Attempt is the set of spans reachable from one root span: one try of the
// underlying workflow, original or retried.
type Attempt struct {
	Root      *Span     `json:"root"`
	StartTime time.Time `json:"start_time"`
	Failed    bool      `json:"failed"`
	Status    string    `json:"status"`
}

// Trace is the reconstructed record for one end-user request. It is built on
// demand from the immutable event log and never mutated in place.
type Trace struct {
	TraceID      string    `json:"trace_id"`
	Attempts     []Attempt `json:"attempts"`
	Input        string    `json:"input,omitempty"`
	Output       string    `json:"output,omitempty"`
	AttemptCount int       `json:"attempt_count"`
	FailureCount int       `json:"failure_count"`
	DurationMs   float64   `json:"duration_ms"`
	TotalCost    float64   `json:"total_cost"`
	TotalTokens  int64     `json:"total_tokens"`
	Models       []string  `json:"models,omitempty"`
}

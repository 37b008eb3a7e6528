package handler

import (
	"time"

	signalModel "github.com/Avi18971911/Haruspex/internal/signal/model"
	traceModel "github.com/Avi18971911/Haruspex/internal/trace/model"
)

// TraceResponseDTO represents one reconstructed trace
// @swagger:model TraceResponseDTO
type TraceResponseDTO struct {
	TraceID      string       `json:"trace_id"`
	Attempts     []AttemptDTO `json:"attempts"`
	Input        string       `json:"input,omitempty"`
	Output       string       `json:"output"`
	AttemptCount int          `json:"attempt_count"`
	FailureCount int          `json:"failure_count"`
	DurationMs   float64      `json:"duration_ms"`
	TotalCost    float64      `json:"total_cost"`
	TotalTokens  int64        `json:"total_tokens"`
	Models       []string     `json:"models,omitempty"`
}

// AttemptDTO represents one try of the underlying workflow
// @swagger:model AttemptDTO
type AttemptDTO struct {
	Root      SpanDTO   `json:"root"`
	StartTime time.Time `json:"start_time"`
	Status    string    `json:"status"`
	Failed    bool      `json:"failed"`
}

// SpanDTO represents one reconstructed execution step
// @swagger:model SpanDTO
type SpanDTO struct {
	SpanID       string      `json:"span_id"`
	ParentSpanID string      `json:"parent_span_id,omitempty"`
	Name         string      `json:"name,omitempty"`
	EventType    string      `json:"event_type"`
	StartTime    time.Time   `json:"start_time"`
	EndTime      time.Time   `json:"end_time"`
	Status       string      `json:"status,omitempty"`
	Input        string      `json:"input,omitempty"`
	// Output is null when this span's output is the trace-level output.
	Output   *string     `json:"output"`
	Signals  []SignalDTO `json:"signals,omitempty"`
	Children []SpanDTO   `json:"children,omitempty"`
}

// SignalDTO represents one anomaly signal attached to a span
// @swagger:model SignalDTO
type SignalDTO struct {
	SignalName string            `json:"signal_name"`
	Severity   string            `json:"severity"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func toTraceResponseDTO(trace *traceModel.Trace) TraceResponseDTO {
	attempts := make([]AttemptDTO, len(trace.Attempts))
	for i, attempt := range trace.Attempts {
		attempts[i] = AttemptDTO{
			Root:      toSpanDTO(attempt.Root),
			StartTime: attempt.StartTime,
			Status:    attempt.Status,
			Failed:    attempt.Failed,
		}
	}
	return TraceResponseDTO{
		TraceID:      trace.TraceID,
		Attempts:     attempts,
		Input:        trace.Input,
		Output:       trace.Output,
		AttemptCount: trace.AttemptCount,
		FailureCount: trace.FailureCount,
		DurationMs:   trace.DurationMs,
		TotalCost:    trace.TotalCost,
		TotalTokens:  trace.TotalTokens,
		Models:       trace.Models,
	}
}

func toSpanDTO(span *traceModel.Span) SpanDTO {
	children := make([]SpanDTO, len(span.Children))
	for i, child := range span.Children {
		children[i] = toSpanDTO(child)
	}
	return SpanDTO{
		SpanID:       span.SpanID,
		ParentSpanID: span.ParentSpanID,
		Name:         span.Name,
		EventType:    string(span.EventType),
		StartTime:    span.StartTime,
		EndTime:      span.EndTime,
		Status:       string(span.Status),
		Input:        span.Input,
		Output:       span.Output,
		Signals:      toSignalDTOs(span.Signals),
		Children:     children,
	}
}

func toSignalDTOs(signals []signalModel.Signal) []SignalDTO {
	if len(signals) == 0 {
		return nil
	}
	dtos := make([]SignalDTO, len(signals))
	for i, signal := range signals {
		dtos[i] = SignalDTO{
			SignalName: signal.SignalName,
			Severity:   string(signal.Severity),
			Metadata:   signal.Metadata,
		}
	}
	return dtos
}

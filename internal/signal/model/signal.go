package model

import "time"

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

const (
	HighLatency   = "high_latency"
	MediumLatency = "medium_latency"
	ToolError     = "tool_error"
	ToolTimeout   = "tool_timeout"
	ToolLatency   = "tool_latency"
	CostSpike     = "cost_spike"
	TokenSpike    = "token_spike"
	ErrorEvent    = "error_event"
)

// Signal is a deterministically derived anomaly fact. TargetSpanID is always
// the span whose behavior the signal describes, never the span or parent of
// whatever event happened to carry it.
type Signal struct {
	Id           string            `json:"_id,omitempty"`
	SignalName   string            `json:"signal_name"`
	Severity     Severity          `json:"severity"`
	TraceID      string            `json:"trace_id"`
	TargetSpanID string            `json:"target_span_id"`
	Timestamp    time.Time         `json:"timestamp"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// thresholdOnly lists the signal names that describe a threshold crossing
// rather than a failure. They badge their span but never fail an attempt.
var thresholdOnly = map[string]bool{
	HighLatency:   true,
	MediumLatency: true,
	ToolLatency:   true,
	CostSpike:     true,
	TokenSpike:    true,
}

func IsThresholdOnly(signalName string) bool {
	return thresholdOnly[signalName]
}

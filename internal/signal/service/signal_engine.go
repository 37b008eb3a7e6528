package service

import (
	"fmt"

	ingestModel "github.com/Avi18971911/Haruspex/internal/ingest/model"
	"github.com/Avi18971911/Haruspex/internal/signal/model"
)

// Thresholds are passed explicitly into every evaluation so that tenants and
// environments can override them independently.
type Thresholds struct {
	LLMHighLatencyMs   float64 `env:"LLM_HIGH_LATENCY_MS,default=5000"`
	LLMMediumLatencyMs float64 `env:"LLM_MEDIUM_LATENCY_MS,default=2000"`
	ToolLatencyMs      float64 `env:"TOOL_LATENCY_MS,default=5000"`
	CostCeiling        float64 `env:"COST_CEILING,default=10"`
	TokenCeiling       int64   `env:"TOKEN_CEILING,default=100000"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		LLMHighLatencyMs:   5000,
		LLMMediumLatencyMs: 2000,
		ToolLatencyMs:      5000,
		CostCeiling:        10,
		TokenCeiling:       100000,
	}
}

type SignalEngine struct {
}

func NewSignalEngine() *SignalEngine {
	return &SignalEngine{}
}

// Evaluate maps one canonical event to zero or more signals. It is pure and
// stateless: the same event and thresholds always yield the same signals, and
// the source event is never mutated.
func (se *SignalEngine) Evaluate(
	event *ingestModel.CanonicalEvent,
	thresholds Thresholds,
) []model.Signal {
	switch event.EventType {
	case ingestModel.LLMCall:
		return se.evaluateLLMCall(event, thresholds)
	case ingestModel.ToolCall:
		return se.evaluateToolCall(event, thresholds)
	case ingestModel.Error:
		return se.evaluateError(event)
	default:
		return nil
	}
}

func (se *SignalEngine) evaluateLLMCall(
	event *ingestModel.CanonicalEvent,
	thresholds Thresholds,
) []model.Signal {
	attrs := event.LLMCall
	if attrs == nil {
		return nil
	}
	var signals []model.Signal
	if attrs.LatencyMs > thresholds.LLMHighLatencyMs {
		signals = append(signals, newSignal(
			model.HighLatency,
			model.SeverityHigh,
			event,
			event.SpanID,
			map[string]string{"latency_ms": fmt.Sprintf("%.0f", attrs.LatencyMs)},
		))
	} else if attrs.LatencyMs > thresholds.LLMMediumLatencyMs {
		signals = append(signals, newSignal(
			model.MediumLatency,
			model.SeverityMedium,
			event,
			event.SpanID,
			map[string]string{"latency_ms": fmt.Sprintf("%.0f", attrs.LatencyMs)},
		))
	}
	if attrs.Cost > thresholds.CostCeiling {
		signals = append(signals, newSignal(
			model.CostSpike,
			model.SeverityHigh,
			event,
			event.SpanID,
			map[string]string{"cost": fmt.Sprintf("%.4f", attrs.Cost)},
		))
	}
	if attrs.TotalTokens > thresholds.TokenCeiling {
		signals = append(signals, newSignal(
			model.TokenSpike,
			model.SeverityHigh,
			event,
			event.SpanID,
			map[string]string{"total_tokens": fmt.Sprintf("%d", attrs.TotalTokens)},
		))
	}
	return signals
}

func (se *SignalEngine) evaluateToolCall(
	event *ingestModel.CanonicalEvent,
	thresholds Thresholds,
) []model.Signal {
	attrs := event.ToolCall
	if attrs == nil {
		return nil
	}
	var signals []model.Signal
	switch attrs.ResultStatus {
	case ingestModel.StatusError:
		signals = append(signals, newSignal(
			model.ToolError,
			model.SeverityHigh,
			event,
			event.SpanID,
			map[string]string{"tool_name": attrs.ToolName, "error_message": attrs.ErrorMessage},
		))
	case ingestModel.StatusTimeout:
		signals = append(signals, newSignal(
			model.ToolTimeout,
			model.SeverityHigh,
			event,
			event.SpanID,
			map[string]string{"tool_name": attrs.ToolName},
		))
	}
	if attrs.LatencyMs > thresholds.ToolLatencyMs {
		signals = append(signals, newSignal(
			model.ToolLatency,
			model.SeverityMedium,
			event,
			event.SpanID,
			map[string]string{"tool_name": attrs.ToolName, "latency_ms": fmt.Sprintf("%.0f", attrs.LatencyMs)},
		))
	}
	return signals
}

// evaluateError resolves the target span for error events. A carried signal
// keeps its own name, severity and target; a plain error event becomes an
// error_event signal on its own span. The carrying event's parent_span_id is
// never consulted, otherwise the carried signal would later be mistaken for a
// new attempt root.
func (se *SignalEngine) evaluateError(event *ingestModel.CanonicalEvent) []model.Signal {
	attrs := event.Error
	if attrs == nil {
		return []model.Signal{newSignal(
			model.ErrorEvent, model.SeverityHigh, event, event.SpanID, nil,
		)}
	}
	if attrs.CarriedSignal != "" {
		target := attrs.TargetSpanID
		if target == "" {
			target = event.SpanID
		}
		return []model.Signal{newSignal(
			attrs.CarriedSignal,
			carriedSeverity(attrs),
			event,
			target,
			attrs.Metadata,
		)}
	}
	return []model.Signal{newSignal(
		model.ErrorEvent,
		model.SeverityHigh,
		event,
		event.SpanID,
		map[string]string{"message": attrs.Message},
	)}
}

func carriedSeverity(attrs *ingestModel.ErrorAttributes) model.Severity {
	switch model.Severity(attrs.Severity) {
	case model.SeverityLow, model.SeverityMedium, model.SeverityHigh:
		return model.Severity(attrs.Severity)
	}
	if model.IsThresholdOnly(attrs.CarriedSignal) && attrs.CarriedSignal == model.MediumLatency {
		return model.SeverityMedium
	}
	return model.SeverityHigh
}

func newSignal(
	name string,
	severity model.Severity,
	event *ingestModel.CanonicalEvent,
	targetSpanID string,
	metadata map[string]string,
) model.Signal {
	return model.Signal{
		SignalName:   name,
		Severity:     severity,
		TraceID:      event.TraceID,
		TargetSpanID: targetSpanID,
		Timestamp:    event.Timestamp,
		Metadata:     metadata,
	}
}

// HighestSeverity returns the most severe level present in signals, or an
// empty severity when there are none.
func HighestSeverity(signals []model.Signal) model.Severity {
	var highest model.Severity
	for _, s := range signals {
		switch s.Severity {
		case model.SeverityHigh:
			return model.SeverityHigh
		case model.SeverityMedium:
			highest = model.SeverityMedium
		case model.SeverityLow:
			if highest != model.SeverityMedium {
				highest = model.SeverityLow
			}
		}
	}
	return highest
}

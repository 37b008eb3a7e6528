package service

import (
	"sort"
	"strings"

	ingestModel "github.com/Avi18971911/Haruspex/internal/ingest/model"
	signalModel "github.com/Avi18971911/Haruspex/internal/signal/model"
	"github.com/Avi18971911/Haruspex/internal/trace/model"
	"go.uber.org/zap"
)

const synthesizedOutput = "No output recorded"

// TraceReconstructorService rebuilds a hierarchical trace from the flat,
// partially ordered event log of one trace id. It runs at query time and is
// safe to invoke concurrently: it holds no mutable state.
type TraceReconstructorService struct {
	logger *zap.Logger
}

func NewTraceReconstructorService(logger *zap.Logger) *TraceReconstructorService {
	return &TraceReconstructorService{
		logger: logger,
	}
}

// BuildTrace reconstructs a Trace from all known events and signals of one
// trace id. The result is best-effort: unresolvable parents are reattached,
// never dropped, and partial event sets (missing trace_end, orphaned spans)
// still produce a renderable trace. Rebuilding from the same event set is
// deterministic.
func (trs *TraceReconstructorService) BuildTrace(
	traceID string,
	events []ingestModel.CanonicalEvent,
	signals []signalModel.Signal,
) (*model.Trace, error) {
	if len(events) == 0 {
		return nil, ErrNoEventsForTrace
	}

	ordered := orderEvents(events)
	spans, spanOrder := groupIntoSpans(ordered)
	roots := detectAttemptRoots(spans, spanOrder)
	if len(roots) == 0 {
		// Malformed trace with no parentless structural event. Promote the
		// earliest span so the trace still renders.
		roots = []*model.Span{spans[spanOrder[0]]}
		trs.logger.Warn("No attempt root found, promoting earliest span",
			zap.String("trace_id", traceID),
			zap.String("span_id", roots[0].SpanID),
		)
	}

	attemptOf := assignAttempts(spans, spanOrder, roots)
	resolveParents(spans, spanOrder, roots, attemptOf)
	attachSignals(spans, roots, signals)

	trace := &model.Trace{
		TraceID:      traceID,
		AttemptCount: len(roots),
	}
	for _, root := range roots {
		failed := attemptFailed(root)
		status := "success"
		if failed {
			status = "error"
			trace.FailureCount++
		}
		trace.Attempts = append(trace.Attempts, model.Attempt{
			Root:      root,
			StartTime: root.StartTime,
			Failed:    failed,
			Status:    status,
		})
	}

	attributeInputAndOutput(trace, ordered, spans, spanOrder, attemptOf)
	aggregate(trace, ordered)
	return trace, nil
}

// orderEvents sorts by timestamp, ties broken by ingestion sequence, so that
// rebuilds over the same immutable set are identical.
func orderEvents(events []ingestModel.CanonicalEvent) []ingestModel.CanonicalEvent {
	ordered := make([]ingestModel.CanonicalEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].Timestamp.Before(ordered[j].Timestamp)
		}
		return ordered[i].IngestSequence < ordered[j].IngestSequence
	})
	return ordered
}

// groupIntoSpans partitions structural events by span id and synthesizes one
// Span per group. Signal-carrying events are skipped entirely: they describe
// behavior of some other span and contribute nothing to structure.
func groupIntoSpans(
	ordered []ingestModel.CanonicalEvent,
) (map[string]*model.Span, []string) {
	spans := make(map[string]*model.Span)
	var spanOrder []string
	for _, event := range ordered {
		if event.CarriesSignal() {
			continue
		}
		span, ok := spans[event.SpanID]
		if !ok {
			span = &model.Span{
				SpanID:    event.SpanID,
				StartTime: event.Timestamp,
				EndTime:   event.Timestamp,
			}
			spans[event.SpanID] = span
			spanOrder = append(spanOrder, event.SpanID)
		}
		if event.Timestamp.Before(span.StartTime) {
			span.StartTime = event.Timestamp
		}
		if event.Timestamp.After(span.EndTime) {
			span.EndTime = event.Timestamp
		}
		span.Events = append(span.Events, event)
		mergeEventIntoSpan(span, event)
	}
	return spans, spanOrder
}

// mergeEventIntoSpan folds one event's payload into the synthesized span.
// Substantive kinds (llm_call, tool_call, ...) win over trace boundaries when
// both land on the same span id.
func mergeEventIntoSpan(span *model.Span, event ingestModel.CanonicalEvent) {
	if event.ParentSpanID != "" && span.ParentSpanID == "" {
		span.ParentSpanID = event.ParentSpanID
	}
	switch event.EventType {
	case ingestModel.LLMCall:
		span.EventType = event.EventType
		if attrs := event.LLMCall; attrs != nil {
			span.Name = attrs.Model
			span.Input = attrs.Input
			if attrs.Output != "" {
				output := attrs.Output
				span.Output = &output
			}
			if attrs.Status != "" {
				span.Status = attrs.Status
			}
		}
	case ingestModel.ToolCall:
		span.EventType = event.EventType
		if attrs := event.ToolCall; attrs != nil {
			span.Name = attrs.ToolName
			span.Input = attrs.Input
			if attrs.Output != "" {
				output := attrs.Output
				span.Output = &output
			}
			if attrs.ResultStatus != "" {
				span.Status = attrs.ResultStatus
			}
		}
	case ingestModel.Retrieval:
		span.EventType = event.EventType
		if attrs := event.Retrieval; attrs != nil {
			span.Name = attrs.Source
			span.Input = attrs.Query
		}
	case ingestModel.Embedding, ingestModel.VectorDBOperation,
		ingestModel.CacheOperation, ingestModel.AgentCreate,
		ingestModel.Output, ingestModel.Feedback:
		span.EventType = event.EventType
		if event.EventType == ingestModel.VectorDBOperation && event.VectorDBOperation != nil {
			span.Name = event.VectorDBOperation.Collection
		}
		if event.EventType == ingestModel.Output && event.Output != nil {
			output := event.Output.Content
			span.Output = &output
		}
	case ingestModel.Error:
		if span.EventType == "" {
			span.EventType = event.EventType
		}
		span.Status = ingestModel.StatusError
	case ingestModel.TraceStart, ingestModel.TraceEnd:
		if span.EventType == "" {
			span.EventType = event.EventType
		}
		if span.Name == "" && event.TraceStart != nil {
			span.Name = event.TraceStart.Name
		}
	}
}

// detectAttemptRoots finds the spans that begin an attempt: those carrying at
// least one structural event with no parent reference. Signal-carrying events
// were excluded during grouping, so a detached anomaly carrier can never
// manufacture a root. Roots are ordered by start time.
func detectAttemptRoots(spans map[string]*model.Span, spanOrder []string) []*model.Span {
	var roots []*model.Span
	for _, spanID := range spanOrder {
		span := spans[spanID]
		for _, event := range span.Events {
			if event.ParentSpanID == "" {
				roots = append(roots, span)
				break
			}
		}
	}
	sort.SliceStable(roots, func(i, j int) bool {
		return roots[i].StartTime.Before(roots[j].StartTime)
	})
	return roots
}

// assignAttempts maps every span to the attempt whose root started at or
// before it; spans preceding the first root belong to the first attempt.
func assignAttempts(
	spans map[string]*model.Span,
	spanOrder []string,
	roots []*model.Span,
) map[string]int {
	attemptOf := make(map[string]int, len(spanOrder))
	for _, spanID := range spanOrder {
		span := spans[spanID]
		attempt := 0
		for i, root := range roots {
			if !root.StartTime.After(span.StartTime) {
				attempt = i
			}
		}
		attemptOf[spanID] = attempt
	}
	for i, root := range roots {
		attemptOf[root.SpanID] = i
	}
	return attemptOf
}

// resolveParents wires every non-root span to a parent. An explicit parent
// reference wins when it names a known span; otherwise the orphan is attached
// under the most recent preceding llm_call of the same attempt whose recorded
// output shows it invoked the orphan's capability, and failing that, under the
// attempt root. Spans are never dropped. Cycles are broken by reattaching the
// offending span to its attempt root.
func resolveParents(
	spans map[string]*model.Span,
	spanOrder []string,
	roots []*model.Span,
	attemptOf map[string]int,
) {
	rootSet := make(map[string]bool, len(roots))
	for _, root := range roots {
		rootSet[root.SpanID] = true
	}

	parentOf := make(map[string]*model.Span, len(spanOrder))
	for _, spanID := range spanOrder {
		span := spans[spanID]
		if rootSet[spanID] {
			continue
		}
		attemptRoot := roots[attemptOf[spanID]]
		if parent, ok := spans[span.ParentSpanID]; ok && span.ParentSpanID != spanID {
			parentOf[spanID] = parent
			continue
		}
		if parent := nearestInvokingLLMCall(span, spans, spanOrder, attemptOf); parent != nil {
			parentOf[spanID] = parent
			continue
		}
		parentOf[spanID] = attemptRoot
	}

	// A span whose parent chain never reaches its attempt root (cycle or
	// cross-link into a dangling reference) is reattached at the root.
	for _, spanID := range spanOrder {
		if rootSet[spanID] {
			continue
		}
		visited := map[string]bool{spanID: true}
		current := parentOf[spanID]
		reachedRoot := false
		for current != nil {
			if rootSet[current.SpanID] {
				reachedRoot = true
				break
			}
			if visited[current.SpanID] {
				break
			}
			visited[current.SpanID] = true
			current = parentOf[current.SpanID]
		}
		if !reachedRoot {
			parentOf[spanID] = roots[attemptOf[spanID]]
		}
	}

	for _, spanID := range spanOrder {
		if parent, ok := parentOf[spanID]; ok {
			span := spans[spanID]
			span.ParentSpanID = parent.SpanID
			parent.Children = append(parent.Children, span)
		}
	}
	for _, spanID := range spanOrder {
		children := spans[spanID].Children
		sort.SliceStable(children, func(i, j int) bool {
			if !children[i].StartTime.Equal(children[j].StartTime) {
				return children[i].StartTime.Before(children[j].StartTime)
			}
			return children[i].SpanID < children[j].SpanID
		})
	}
}

// nearestInvokingLLMCall scans backwards through the orphan's attempt for the
// latest llm_call that started no later than the orphan and whose recorded
// output (or invoked tool list) names the capability the orphan represents.
func nearestInvokingLLMCall(
	orphan *model.Span,
	spans map[string]*model.Span,
	spanOrder []string,
	attemptOf map[string]int,
) *model.Span {
	capability := orphanCapability(orphan)
	if capability == "" {
		return nil
	}
	var best *model.Span
	for _, spanID := range spanOrder {
		candidate := spans[spanID]
		if candidate == orphan || candidate.EventType != ingestModel.LLMCall {
			continue
		}
		if attemptOf[candidate.SpanID] != attemptOf[orphan.SpanID] {
			continue
		}
		if candidate.StartTime.After(orphan.StartTime) {
			continue
		}
		if !llmCallInvokes(candidate, capability) {
			continue
		}
		if best == nil || candidate.StartTime.After(best.StartTime) {
			best = candidate
		}
	}
	return best
}

func orphanCapability(orphan *model.Span) string {
	for _, event := range orphan.Events {
		switch event.EventType {
		case ingestModel.ToolCall:
			if event.ToolCall != nil {
				return event.ToolCall.ToolName
			}
		case ingestModel.Retrieval:
			if event.Retrieval != nil {
				return event.Retrieval.Source
			}
		case ingestModel.VectorDBOperation:
			if event.VectorDBOperation != nil {
				return event.VectorDBOperation.Collection
			}
		}
	}
	return ""
}

func llmCallInvokes(candidate *model.Span, capability string) bool {
	for _, event := range candidate.Events {
		if event.LLMCall == nil {
			continue
		}
		for _, tool := range event.LLMCall.InvokedTools {
			if tool == capability {
				return true
			}
		}
		if event.LLMCall.Output != "" && strings.Contains(event.LLMCall.Output, capability) {
			return true
		}
	}
	return false
}

// attachSignals places every signal on the span it targets. Signals whose
// target span is unknown land on the first attempt root so they still render.
func attachSignals(
	spans map[string]*model.Span,
	roots []*model.Span,
	signals []signalModel.Signal,
) {
	ordered := make([]signalModel.Signal, len(signals))
	copy(ordered, signals)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].Timestamp.Before(ordered[j].Timestamp)
		}
		return ordered[i].SignalName < ordered[j].SignalName
	})
	for _, signal := range ordered {
		if target, ok := spans[signal.TargetSpanID]; ok {
			target.Signals = append(target.Signals, signal)
		} else if len(roots) > 0 {
			roots[0].Signals = append(roots[0].Signals, signal)
		}
	}
}

// attemptFailed walks one attempt's spans. Threshold-only signals are
// informational badges and never fail an attempt on their own.
func attemptFailed(root *model.Span) bool {
	failed := false
	walkSpan(root, func(span *model.Span) {
		for _, event := range span.Events {
			if eventIndicatesFailure(event) {
				failed = true
			}
		}
		for _, signal := range span.Signals {
			if !signalModel.IsThresholdOnly(signal.SignalName) {
				failed = true
			}
		}
	})
	return failed
}

func eventIndicatesFailure(event ingestModel.CanonicalEvent) bool {
	switch event.EventType {
	case ingestModel.TraceStart:
		return boundaryIndicatesFailure(event.TraceStart)
	case ingestModel.TraceEnd:
		return boundaryIndicatesFailure(event.TraceEnd)
	case ingestModel.Error:
		if event.Error != nil && event.Error.CarriedSignal != "" {
			return !signalModel.IsThresholdOnly(event.Error.CarriedSignal)
		}
		return true
	case ingestModel.ToolCall:
		if event.ToolCall != nil && event.ToolCall.ResultStatus != "" {
			return event.ToolCall.ResultStatus != ingestModel.StatusSuccess
		}
	case ingestModel.LLMCall:
		if event.LLMCall == nil {
			return false
		}
		if event.LLMCall.Status == ingestModel.StatusError ||
			event.LLMCall.Status == ingestModel.StatusTimeout {
			return true
		}
		return event.LLMCall.FinishReason == "error"
	}
	return false
}

func boundaryIndicatesFailure(attrs *ingestModel.TraceBoundaryAttributes) bool {
	if attrs == nil {
		return false
	}
	return attrs.Status == string(ingestModel.StatusError) ||
		attrs.Status == string(ingestModel.StatusTimeout)
}

func walkSpan(span *model.Span, visit func(*model.Span)) {
	visit(span)
	for _, child := range span.Children {
		walkSpan(child, visit)
	}
}

// attributeInputAndOutput applies the trace-vs-observation rule: the trace
// input is the first llm_call's input of the first attempt; the trace output
// is the explicit output event if present, else the last llm_call's output of
// the last attempt, else a synthesized placeholder. A span whose own output
// equals the trace output has it nulled so the answer renders exactly once.
func attributeInputAndOutput(
	trace *model.Trace,
	ordered []ingestModel.CanonicalEvent,
	spans map[string]*model.Span,
	spanOrder []string,
	attemptOf map[string]int,
) {
	lastAttempt := trace.AttemptCount - 1
	for _, event := range ordered {
		if event.EventType != ingestModel.LLMCall || event.LLMCall == nil {
			continue
		}
		span, ok := spans[event.SpanID]
		if !ok {
			continue
		}
		if trace.Input == "" && attemptOf[span.SpanID] == 0 && event.LLMCall.Input != "" {
			trace.Input = event.LLMCall.Input
		}
		if attemptOf[span.SpanID] == lastAttempt && event.LLMCall.Output != "" {
			trace.Output = event.LLMCall.Output
		}
	}
	for _, event := range ordered {
		if event.EventType == ingestModel.Output && event.Output != nil {
			trace.Output = event.Output.Content
		}
	}
	if trace.Output == "" {
		trace.Output = synthesizedOutput
	}
	for _, spanID := range spanOrder {
		span := spans[spanID]
		if span.Output != nil && *span.Output == trace.Output {
			span.Output = nil
		}
	}
}

func aggregate(trace *model.Trace, ordered []ingestModel.CanonicalEvent) {
	first := ordered[0].Timestamp
	last := ordered[len(ordered)-1].Timestamp
	trace.DurationMs = float64(last.Sub(first).Milliseconds())

	modelSet := make(map[string]bool)
	for _, event := range ordered {
		switch {
		case event.EventType == ingestModel.LLMCall && event.LLMCall != nil:
			trace.TotalCost += event.LLMCall.Cost
			trace.TotalTokens += event.LLMCall.TotalTokens
			if event.LLMCall.Model != "" {
				modelSet[event.LLMCall.Model] = true
			}
		case event.EventType == ingestModel.Embedding && event.Embedding != nil:
			trace.TotalTokens += event.Embedding.TotalTokens
		}
	}
	for name := range modelSet {
		trace.Models = append(trace.Models, name)
	}
	sort.Strings(trace.Models)
}

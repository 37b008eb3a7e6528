package model

import "time"

type EventType string

const (
	TraceStart        EventType = "trace_start"
	TraceEnd          EventType = "trace_end"
	LLMCall           EventType = "llm_call"
	ToolCall          EventType = "tool_call"
	Retrieval         EventType = "retrieval"
	Embedding         EventType = "embedding"
	VectorDBOperation EventType = "vector_db_operation"
	CacheOperation    EventType = "cache_operation"
	AgentCreate       EventType = "agent_create"
	Output            EventType = "output"
	Error             EventType = "error"
	Feedback          EventType = "feedback"
)

var eventTypeSet = map[EventType]bool{
	TraceStart:        true,
	TraceEnd:          true,
	LLMCall:           true,
	ToolCall:          true,
	Retrieval:         true,
	Embedding:         true,
	VectorDBOperation: true,
	CacheOperation:    true,
	AgentCreate:       true,
	Output:            true,
	Error:             true,
	Feedback:          true,
}

func IsValidEventType(eventType EventType) bool {
	return eventTypeSet[eventType]
}

type CallStatus string

const (
	StatusSuccess CallStatus = "success"
	StatusError   CallStatus = "error"
	StatusTimeout CallStatus = "timeout"
)

// CanonicalEvent is the validated unit of telemetry stored in the event index.
// Exactly one of the type-specific attribute pointers is non-nil, matching
// EventType. Events are immutable once indexed; ordering within a trace is by
// Timestamp with ties broken by IngestSequence.
type CanonicalEvent struct {
	Id             string    `json:"_id,omitempty"`
	Tenant         string    `json:"tenant"`
	Project        string    `json:"project"`
	Environment    string    `json:"environment"`
	TraceID        string    `json:"trace_id"`
	SpanID         string    `json:"span_id"`
	ParentSpanID   string    `json:"parent_span_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	IngestSequence int64     `json:"ingest_sequence"`
	EventType      EventType `json:"event_type"`
	ConversationID string    `json:"conversation_id,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	UserID         string    `json:"user_id,omitempty"`

	TraceStart        *TraceBoundaryAttributes `json:"trace_start,omitempty"`
	TraceEnd          *TraceBoundaryAttributes `json:"trace_end,omitempty"`
	LLMCall           *LLMCallAttributes       `json:"llm_call,omitempty"`
	ToolCall          *ToolCallAttributes      `json:"tool_call,omitempty"`
	Retrieval         *RetrievalAttributes     `json:"retrieval,omitempty"`
	Embedding         *EmbeddingAttributes     `json:"embedding,omitempty"`
	VectorDBOperation *VectorDBAttributes      `json:"vector_db_operation,omitempty"`
	CacheOperation    *CacheAttributes         `json:"cache_operation,omitempty"`
	AgentCreate       *AgentCreateAttributes   `json:"agent_create,omitempty"`
	Output            *OutputAttributes        `json:"output,omitempty"`
	Error             *ErrorAttributes         `json:"error,omitempty"`
	Feedback          *FeedbackAttributes      `json:"feedback,omitempty"`
}

type TraceBoundaryAttributes struct {
	Name   string `json:"name,omitempty"`
	Status string `json:"status,omitempty"`
}

type LLMCallAttributes struct {
	Model            string     `json:"model"`
	Input            string     `json:"input,omitempty"`
	Output           string     `json:"output,omitempty"`
	LatencyMs        float64    `json:"latency_ms,omitempty"`
	Cost             float64    `json:"cost,omitempty"`
	PromptTokens     int64      `json:"prompt_tokens,omitempty"`
	CompletionTokens int64      `json:"completion_tokens,omitempty"`
	TotalTokens      int64      `json:"total_tokens,omitempty"`
	FinishReason     string     `json:"finish_reason,omitempty"`
	Status           CallStatus `json:"status,omitempty"`
	InvokedTools     []string   `json:"invoked_tools,omitempty"`
}

type ToolCallAttributes struct {
	ToolName     string     `json:"tool_name"`
	Input        string     `json:"input,omitempty"`
	Output       string     `json:"output,omitempty"`
	ResultStatus CallStatus `json:"result_status"`
	LatencyMs    float64    `json:"latency_ms,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

type RetrievalAttributes struct {
	Query         string  `json:"query,omitempty"`
	Source        string  `json:"source,omitempty"`
	DocumentCount int     `json:"document_count,omitempty"`
	LatencyMs     float64 `json:"latency_ms,omitempty"`
}

type EmbeddingAttributes struct {
	Model       string  `json:"model,omitempty"`
	InputCount  int     `json:"input_count,omitempty"`
	TotalTokens int64   `json:"total_tokens,omitempty"`
	LatencyMs   float64 `json:"latency_ms,omitempty"`
}

type VectorDBAttributes struct {
	Operation   string  `json:"operation"`
	Collection  string  `json:"collection,omitempty"`
	ResultCount int     `json:"result_count,omitempty"`
	LatencyMs   float64 `json:"latency_ms,omitempty"`
}

type CacheAttributes struct {
	Operation string `json:"operation"`
	Hit       bool   `json:"hit"`
	KeyHash   string `json:"key_hash,omitempty"`
}

type AgentCreateAttributes struct {
	AgentName string `json:"agent_name"`
	Model     string `json:"model,omitempty"`
}

type OutputAttributes struct {
	Content string `json:"content"`
}

// ErrorAttributes describes an error event. When the event exists only to
// carry an anomaly signal computed after the fact, CarriedSignal is set and
// TargetSpanID points at the span whose behavior the signal describes. Such
// events must never influence parent/root structure.
type ErrorAttributes struct {
	Message       string            `json:"message,omitempty"`
	CarriedSignal string            `json:"carried_signal,omitempty"`
	Severity      string            `json:"severity,omitempty"`
	TargetSpanID  string            `json:"target_span_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type FeedbackAttributes struct {
	Score   float64 `json:"score"`
	Comment string  `json:"comment,omitempty"`
}

// CarriesSignal reports whether the event's only role is transporting a
// Signal. These events are excluded from attempt-root detection.
func (e *CanonicalEvent) CarriesSignal() bool {
	return e.EventType == Error && e.Error != nil && e.Error.CarriedSignal != ""
}

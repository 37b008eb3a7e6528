package service

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Avi18971911/Haruspex/internal/ingest/model"
	"github.com/google/uuid"
)

type NormalizerConfig struct {
	MaxEventBytes  int   `env:"MAX_EVENT_BYTES,default=1048576"`
	MaxBatchEvents int   `env:"MAX_BATCH_EVENTS,default=1000"`
	MaxBodyBytes   int64 `env:"MAX_BODY_BYTES,default=33554432"`
}

func DefaultNormalizerConfig() NormalizerConfig {
	return NormalizerConfig{
		MaxEventBytes:  1 << 20,
		MaxBatchEvents: 1000,
		MaxBodyBytes:   32 << 20,
	}
}

// eventKeyNamespace derives deterministic document ids, so at-least-once
// redelivery overwrites rather than duplicates.
var eventKeyNamespace = uuid.MustParse("7b9c41d6-52fd-4f4e-ae1c-90bfc53a22a1")

// EventNormalizer validates and sanitizes raw batches into canonical events.
// It is a pure transform: one bad event rejects that event with a reason and
// the batch continues.
type EventNormalizer struct {
	scrubber *SecretScrubber
	config   NormalizerConfig
}

func NewEventNormalizer(scrubber *SecretScrubber, config NormalizerConfig) *EventNormalizer {
	return &EventNormalizer{
		scrubber: scrubber,
		config:   config,
	}
}

// MaxBodyBytes reports the request-body ceiling, so the transport layer can
// cap reads before any decoding happens.
func (en *EventNormalizer) MaxBodyBytes() int64 {
	return en.config.MaxBodyBytes
}

// DecodeBatch splits a request body into raw event records. A body starting
// with '[' is a JSON array; anything else is treated as newline-delimited
// JSON objects.
func (en *EventNormalizer) DecodeBatch(body io.Reader) ([]json.RawMessage, error) {
	reader := bufio.NewReader(body)
	first, err := peekFirstByte(reader)
	if err != nil {
		return nil, decodeFailure(err)
	}

	if first == '[' {
		var records []json.RawMessage
		if err := json.NewDecoder(reader).Decode(&records); err != nil {
			return nil, decodeFailure(err)
		}
		if len(records) > en.config.MaxBatchEvents {
			return nil, model.ErrBatchTooLarge
		}
		return records, nil
	}

	var records []json.RawMessage
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), en.config.MaxEventBytes+1)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		record := make(json.RawMessage, len(line))
		copy(record, line)
		records = append(records, record)
		if len(records) > en.config.MaxBatchEvents {
			return nil, model.ErrBatchTooLarge
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, decodeFailure(err)
	}
	if len(records) == 0 {
		return nil, model.ErrMalformedBatch
	}
	return records, nil
}

// decodeFailure distinguishes a body cut off by http.MaxBytesReader from a
// plainly malformed payload.
func decodeFailure(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return model.ErrBodyTooLarge
	}
	return model.ErrMalformedBatch
}

// NormalizeBatch turns raw records into canonical events. startSequence seeds
// the per-event ingestion sequence used for timestamp tie-breaking.
func (en *EventNormalizer) NormalizeBatch(
	records []json.RawMessage,
	startSequence int64,
) model.NormalizationResult {
	var result model.NormalizationResult
	for i, record := range records {
		event, err := en.normalizeEvent(record, startSequence+int64(i))
		if err != nil {
			result.Rejections = append(result.Rejections, model.Rejection{
				Index:  i,
				Reason: err.Error(),
			})
			continue
		}
		result.Events = append(result.Events, *event)
	}
	return result
}

func (en *EventNormalizer) normalizeEvent(
	record json.RawMessage,
	sequence int64,
) (*model.CanonicalEvent, error) {
	if len(record) > en.config.MaxEventBytes {
		return nil, fmt.Errorf("event of %d bytes exceeds the %d byte ceiling",
			len(record), en.config.MaxEventBytes)
	}

	var event model.CanonicalEvent
	if err := json.Unmarshal(record, &event); err != nil {
		return nil, fmt.Errorf("malformed event: %s", decodeFailureReason(err))
	}

	if err := validateEvent(&event); err != nil {
		return nil, err
	}

	clearMismatchedVariants(&event)
	dropNullAttributes(&event)
	en.scrubber.ScrubEvent(&event)

	event.IngestSequence = sequence
	event.Id = eventKey(&event)
	return &event, nil
}

func validateEvent(event *model.CanonicalEvent) error {
	var missing []string
	if event.Tenant == "" {
		missing = append(missing, "tenant")
	}
	if event.Project == "" {
		missing = append(missing, "project")
	}
	if event.TraceID == "" {
		missing = append(missing, "trace_id")
	}
	if event.SpanID == "" {
		missing = append(missing, "span_id")
	}
	if event.Timestamp.IsZero() {
		missing = append(missing, "timestamp")
	}
	if event.EventType == "" {
		missing = append(missing, "event_type")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}

	if !model.IsValidEventType(event.EventType) {
		return fmt.Errorf("unknown event_type %q", event.EventType)
	}

	switch event.EventType {
	case model.LLMCall:
		if event.LLMCall == nil {
			return fmt.Errorf("event_type llm_call requires llm_call attributes")
		}
		if event.LLMCall.Status != "" && !isValidCallStatus(event.LLMCall.Status) {
			return fmt.Errorf("unknown llm_call status %q", event.LLMCall.Status)
		}
	case model.ToolCall:
		if event.ToolCall == nil {
			return fmt.Errorf("event_type tool_call requires tool_call attributes")
		}
		if !isValidCallStatus(event.ToolCall.ResultStatus) {
			return fmt.Errorf("unknown tool_call result_status %q", event.ToolCall.ResultStatus)
		}
	case model.Output:
		if event.Output == nil {
			return fmt.Errorf("event_type output requires output attributes")
		}
	}
	return nil
}

func isValidCallStatus(status model.CallStatus) bool {
	switch status {
	case model.StatusSuccess, model.StatusError, model.StatusTimeout:
		return true
	}
	return false
}

// clearMismatchedVariants enforces the tagged union: only the attribute
// variant named by event_type survives normalization.
func clearMismatchedVariants(event *model.CanonicalEvent) {
	if event.EventType != model.TraceStart {
		event.TraceStart = nil
	}
	if event.EventType != model.TraceEnd {
		event.TraceEnd = nil
	}
	if event.EventType != model.LLMCall {
		event.LLMCall = nil
	}
	if event.EventType != model.ToolCall {
		event.ToolCall = nil
	}
	if event.EventType != model.Retrieval {
		event.Retrieval = nil
	}
	if event.EventType != model.Embedding {
		event.Embedding = nil
	}
	if event.EventType != model.VectorDBOperation {
		event.VectorDBOperation = nil
	}
	if event.EventType != model.CacheOperation {
		event.CacheOperation = nil
	}
	if event.EventType != model.AgentCreate {
		event.AgentCreate = nil
	}
	if event.EventType != model.Output {
		event.Output = nil
	}
	if event.EventType != model.Error {
		event.Error = nil
	}
	if event.EventType != model.Feedback {
		event.Feedback = nil
	}
}

// dropNullAttributes removes empty-valued entries from free-form maps.
// Pointer variants already decode JSON null to absent, so "null" and
// "missing" are indistinguishable downstream.
func dropNullAttributes(event *model.CanonicalEvent) {
	if event.Error != nil {
		for key, value := range event.Error.Metadata {
			if value == "" {
				delete(event.Error.Metadata, key)
			}
		}
		if len(event.Error.Metadata) == 0 {
			event.Error.Metadata = nil
		}
	}
}

func eventKey(event *model.CanonicalEvent) string {
	key := fmt.Sprintf("%s|%s|%s|%s|%d",
		event.Tenant,
		event.TraceID,
		event.SpanID,
		event.EventType,
		event.Timestamp.UnixNano(),
	)
	return uuid.NewSHA1(eventKeyNamespace, []byte(key)).String()
}

func peekFirstByte(reader *bufio.Reader) (byte, error) {
	for {
		b, err := reader.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			if err := reader.UnreadByte(); err != nil {
				return 0, err
			}
			return b, nil
		}
	}
}

func decodeFailureReason(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Sprintf("field %q has the wrong type", typeErr.Field)
	}
	return "invalid JSON"
}

package service

import (
	"regexp"

	"github.com/Avi18971911/Haruspex/internal/ingest/model"
)

// Credential and PII patterns (compiled once at package init). Replacement
// happens in place: bytes outside a match are never touched, so redacted text
// stays diffable against the original.
var (
	apiKeyPattern     = regexp.MustCompile(`\b(?:sk|pk|rk)-[A-Za-z0-9_-]{16,}\b`)
	awsKeyPattern     = regexp.MustCompile(`\b(?:AKIA|ASIA)[A-Z0-9]{16}\b`)
	gcpKeyPattern     = regexp.MustCompile(`\bAIza[A-Za-z0-9_-]{35}\b`)
	bearerPattern     = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/-]{16,}=*`)
	emailPattern      = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	creditCardPattern = regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`)
)

type SecretScrubber struct {
}

func NewSecretScrubber() *SecretScrubber {
	return &SecretScrubber{}
}

// ScrubString replaces every recognized credential or PII match with a kind
// marker, leaving surrounding text byte-identical.
func (ss *SecretScrubber) ScrubString(value string) string {
	value = apiKeyPattern.ReplaceAllString(value, "[REDACTED:api_key]")
	value = awsKeyPattern.ReplaceAllString(value, "[REDACTED:aws_key]")
	value = gcpKeyPattern.ReplaceAllString(value, "[REDACTED:gcp_key]")
	value = bearerPattern.ReplaceAllString(value, "[REDACTED:bearer_token]")
	value = emailPattern.ReplaceAllString(value, "[REDACTED:email]")
	value = creditCardPattern.ReplaceAllString(value, "[REDACTED:card]")
	return value
}

// ScrubEvent runs the scrubber over every string attribute of the event.
func (ss *SecretScrubber) ScrubEvent(event *model.CanonicalEvent) {
	if attrs := event.LLMCall; attrs != nil {
		attrs.Input = ss.ScrubString(attrs.Input)
		attrs.Output = ss.ScrubString(attrs.Output)
	}
	if attrs := event.ToolCall; attrs != nil {
		attrs.Input = ss.ScrubString(attrs.Input)
		attrs.Output = ss.ScrubString(attrs.Output)
		attrs.ErrorMessage = ss.ScrubString(attrs.ErrorMessage)
	}
	if attrs := event.Retrieval; attrs != nil {
		attrs.Query = ss.ScrubString(attrs.Query)
	}
	if attrs := event.Output; attrs != nil {
		attrs.Content = ss.ScrubString(attrs.Content)
	}
	if attrs := event.Error; attrs != nil {
		attrs.Message = ss.ScrubString(attrs.Message)
		for key, value := range attrs.Metadata {
			attrs.Metadata[key] = ss.ScrubString(value)
		}
	}
	if attrs := event.Feedback; attrs != nil {
		attrs.Comment = ss.ScrubString(attrs.Comment)
	}
}

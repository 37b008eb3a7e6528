package model

import "errors"

var (
	// ErrBatchTooLarge fails the whole request, not individual events.
	ErrBatchTooLarge = errors.New("batch exceeds the maximum event count")
	// ErrBodyTooLarge fails the whole request when the raw body exceeds the
	// byte ceiling, before any record is decoded.
	ErrBodyTooLarge = errors.New("request body exceeds the maximum size")
	// ErrMalformedBatch fails the whole request when the payload is neither a
	// JSON array nor newline-delimited JSON objects.
	ErrMalformedBatch = errors.New("batch is neither a JSON array nor newline-delimited JSON")
)

package model

// Rejection records why one event of a batch was refused. The rest of the
// batch is unaffected.
type Rejection struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// NormalizationResult is the output of running a raw batch through the
// normalizer: the events that survived, and per-index reasons for those that
// did not.
type NormalizationResult struct {
	Events     []CanonicalEvent
	Rejections []Rejection
}

// IngestResult is what the ingestion endpoint reports back to the caller.
type IngestResult struct {
	IngestedCount int         `json:"ingested_count"`
	Rejected      []Rejection `json:"rejected"`
}

// Package financial defines the records that move through the pipeline: the
// submission request, the queued Envelope, the extraction Candidate and the
// persisted StructuredRecord.
package financial

import (
	"maps"
	"time"
)

// Metadata keys written by the pipeline.
const (
	MetaRequestID         = "request_id"
	MetaOriginalValueRaw  = "original_value_raw"
	MetaValueParseWarning = "value_parse_warning"
)

// SubmitRequest is the JSON body accepted by the submission endpoint.
type SubmitRequest struct {
	RawText  string         `json:"raw_text" validate:"required,notblank,max=1048576"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SubmitResponse is returned once the submission has been queued.
type SubmitResponse struct {
	RequestID string         `json:"request_id"`
	Status    string         `json:"status"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Envelope is the message body published to the broker. RequestID is set once
// by the producer and never changed downstream.
type Envelope struct {
	RequestID string         `json:"request_id"`
	RawText   string         `json:"raw_text"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at,omitzero"`
}

// Candidate holds the fields proposed by the extraction service before any
// validation or normalization.
type Candidate struct {
	Company     string
	Metric      string
	ValueRaw    string
	CurrencyRaw string
	PeriodRaw   string
}

// StructuredRecord is the canonical, persisted output. It is built once per
// successful attempt and not modified afterwards.
type StructuredRecord struct {
	Company  string         `json:"company"`
	Metric   string         `json:"metric"`
	Value    float64        `json:"value"`
	Currency string         `json:"currency"`
	Period   string         `json:"period"`
	RawText  string         `json:"raw_text"`
	Metadata map[string]any `json:"metadata"`
}

// WithMetadata returns a copy of r whose metadata is extended with extra.
// Existing keys in r win, so pipeline-owned keys cannot be overwritten by
// submission metadata.
func (r StructuredRecord) WithMetadata(extra map[string]any) StructuredRecord {
	merged := make(map[string]any, len(r.Metadata)+len(extra))
	maps.Copy(merged, extra)
	maps.Copy(merged, r.Metadata)
	r.Metadata = merged
	return r
}

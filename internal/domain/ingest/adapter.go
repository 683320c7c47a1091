package ingest

import "github.com/riskibarqy/statharvest/internal/domain/record"

// FormatTag names one concrete payload shape served by a provider.
type FormatTag string

// Adapter turns raw provider payloads into canonical records.
//
// DetectFormat must decide on top-level key presence only. Parse returns an
// empty slice, not an error, when the payload legitimately carries no data
// of a record kind.
type Adapter interface {
	SourceID() string
	Formats() []FormatTag
	DetectFormat(raw RawPayload) (FormatTag, error)
	Parse(raw RawPayload, tag FormatTag) ([]record.Record, error)
}

// Package courtside adapts the Courtside scores API. Two shapes are live at
// the same time: the per-game summary document (header + boxscore) and the
// older daily scoreboard list (events).
package courtside

import (
	"fmt"

	"github.com/riskibarqy/statharvest/external/providers/payload"
	"github.com/riskibarqy/statharvest/internal/domain/ingest"
	"github.com/riskibarqy/statharvest/internal/domain/record"
)

const SourceID = "courtside"

const (
	FormatSummary    ingest.FormatTag = "courtside_summary"
	FormatScoreboard ingest.FormatTag = "courtside_scoreboard"
)

type parser func(raw ingest.RawPayload, doc map[string]any) ([]record.Record, error)

type Adapter struct {
	sourceID string
	parsers  map[ingest.FormatTag]parser
}

func NewAdapter() *Adapter {
	return NewAdapterForSource(SourceID)
}

// NewAdapterForSource serves a Courtside-compatible feed under another
// source id, e.g. a mirror with its own rate limits.
func NewAdapterForSource(sourceID string) *Adapter {
	a := &Adapter{sourceID: sourceID}
	a.parsers = map[ingest.FormatTag]parser{
		FormatSummary:    a.parseSummary,
		FormatScoreboard: a.parseScoreboard,
	}
	return a
}

func (a *Adapter) SourceID() string { return a.sourceID }

func (a *Adapter) Formats() []ingest.FormatTag {
	return []ingest.FormatTag{FormatSummary, FormatScoreboard}
}

func (a *Adapter) DetectFormat(raw ingest.RawPayload) (ingest.FormatTag, error) {
	doc, err := payload.Decode(raw.Body)
	if err != nil {
		return "", a.payloadError(raw, "", "", "body is not a JSON object", err)
	}
	switch {
	case payload.HasKeys(doc, "header", "boxscore"):
		return FormatSummary, nil
	case payload.HasKeys(doc, "events"):
		return FormatScoreboard, nil
	default:
		return "", a.payloadError(raw, "", "", "no known top-level keys", ingest.ErrUnknownFormat)
	}
}

func (a *Adapter) Parse(raw ingest.RawPayload, tag ingest.FormatTag) ([]record.Record, error) {
	parse, ok := a.parsers[tag]
	if !ok {
		return nil, a.payloadError(raw, tag, "", fmt.Sprintf("unsupported format %q", tag), ingest.ErrUnknownFormat)
	}
	doc, err := payload.Decode(raw.Body)
	if err != nil {
		return nil, a.payloadError(raw, tag, "", "body is not a JSON object", err)
	}
	return parse(raw, doc)
}

func (a *Adapter) provenance(raw ingest.RawPayload, tag ingest.FormatTag) record.Provenance {
	return record.Provenance{
		SourceID:          a.sourceID,
		SourceResourceKey: raw.ResourceKey,
		Format:            string(tag),
	}
}

func (a *Adapter) payloadError(raw ingest.RawPayload, tag ingest.FormatTag, field, reason string, err error) *ingest.PayloadError {
	return &ingest.PayloadError{
		SourceID:    a.sourceID,
		ResourceKey: raw.ResourceKey,
		Format:      tag,
		Field:       field,
		Reason:      reason,
		Err:         err,
	}
}

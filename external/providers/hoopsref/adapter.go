// Package hoopsref adapts HoopsRef, which serves scraped box score pages,
// a JSON game API and award listings that carry no game data.
package hoopsref

import (
	"fmt"

	"github.com/riskibarqy/statharvest/external/providers/payload"
	"github.com/riskibarqy/statharvest/internal/domain/ingest"
	"github.com/riskibarqy/statharvest/internal/domain/record"
)

const SourceID = "hoopsref"

const (
	FormatPage   ingest.FormatTag = "hoopsref_page"
	FormatAPI    ingest.FormatTag = "hoopsref_api"
	FormatAwards ingest.FormatTag = "hoopsref_awards"
)

type Adapter struct {
	sourceID string
}

func NewAdapter() *Adapter {
	return &Adapter{sourceID: SourceID}
}

func (a *Adapter) SourceID() string { return a.sourceID }

func (a *Adapter) Formats() []ingest.FormatTag {
	return []ingest.FormatTag{FormatPage, FormatAPI, FormatAwards}
}

func (a *Adapter) DetectFormat(raw ingest.RawPayload) (ingest.FormatTag, error) {
	doc, err := payload.Decode(raw.Body)
	if err != nil {
		return "", a.payloadError(raw, "", "", "body is not a JSON object", err)
	}
	switch {
	case payload.HasKeys(doc, "page", "tables"):
		return FormatPage, nil
	case payload.HasKeys(doc, "game"):
		return FormatAPI, nil
	case payload.HasKeys(doc, "awards"):
		return FormatAwards, nil
	default:
		return "", a.payloadError(raw, "", "", "no known top-level keys", ingest.ErrUnknownFormat)
	}
}

func (a *Adapter) Parse(raw ingest.RawPayload, tag ingest.FormatTag) ([]record.Record, error) {
	var parse func(ingest.RawPayload, map[string]any) ([]record.Record, error)
	switch tag {
	case FormatPage:
		parse = a.parsePage
	case FormatAPI:
		parse = a.parseAPI
	case FormatAwards:
		// Awards pages are recognised so they are not flagged as unknown, but
		// they never contribute game records.
		return []record.Record{}, nil
	default:
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

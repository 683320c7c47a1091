package courtside

import (
	"github.com/riskibarqy/statharvest/external/providers/payload"
	"github.com/riskibarqy/statharvest/internal/domain/ingest"
	"github.com/riskibarqy/statharvest/internal/domain/record"
)

// parseScoreboard only yields GAME records; the list shape carries no box
// scores.
func (a *Adapter) parseScoreboard(raw ingest.RawPayload, doc map[string]any) ([]record.Record, error) {
	events := payload.Maps(doc, "events")
	records := make([]record.Record, 0, len(events))
	if len(events) == 0 {
		return records, nil
	}

	prov := a.provenance(raw, FormatScoreboard)
	missingIDs := 0
	for _, event := range events {
		gameID := payload.String(event, "id")
		if gameID == "" {
			missingIDs++
			continue
		}

		var competition map[string]any
		if competitions := payload.Maps(event, "competitions"); len(competitions) > 0 {
			competition = competitions[0]
		}
		game := buildGame(gameID, competition, payload.Maps(competition, "competitors"))
		if game.Date == nil {
			game.Date = payload.Time(event, "date")
		}
		game.Season = payload.String(payload.Map(event, "season"), "year")
		if game.Periods == nil {
			game.Periods = payload.Int(payload.Map(event, "status"), "period")
		}

		records = append(records, record.NewGame(prov, game))
	}

	if len(records) == 0 && missingIDs > 0 {
		return nil, a.payloadError(raw, FormatScoreboard, "events[].id", "no event carries an id", ingest.ErrMissingPrimaryKey)
	}
	return records, nil
}

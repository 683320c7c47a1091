package hoopsref

import (
	"github.com/riskibarqy/statharvest/external/providers/payload"
	"github.com/riskibarqy/statharvest/internal/domain/ingest"
	"github.com/riskibarqy/statharvest/internal/domain/record"
)

func (a *Adapter) parseAPI(raw ingest.RawPayload, doc map[string]any) ([]record.Record, error) {
	g := payload.Map(doc, "game")
	gameID := payload.String(g, "id")
	if gameID == "" {
		return nil, a.payloadError(raw, FormatAPI, "game.id", "game id missing", ingest.ErrMissingPrimaryKey)
	}
	prov := a.provenance(raw, FormatAPI)

	home := payload.Map(g, "home")
	away := payload.Map(g, "away")
	game := record.Game{
		GameID:       gameID,
		Season:       payload.String(g, "season"),
		Date:         payload.Time(g, "date"),
		FinalizedAt:  payload.Time(g, "finalized_at"),
		HomeTeamID:   payload.String(home, "id"),
		HomeTeamName: payload.String(home, "name"),
		HomeScore:    payload.Int(home, "score"),
		AwayTeamID:   payload.String(away, "id"),
		AwayTeamName: payload.String(away, "name"),
		AwayScore:    payload.Int(away, "score"),
		Periods:      payload.Int(g, "periods"),
		Venue:        payload.String(g, "venue"),
	}
	records := []record.Record{record.NewGame(prov, game)}

	for _, team := range payload.Maps(doc, "teams") {
		teamID := payload.String(team, "team_id")
		if teamID == "" {
			continue
		}
		stats := record.TeamStats{
			GameID:   gameID,
			TeamID:   teamID,
			TeamName: payload.String(team, "name"),
			IsHome:   payload.Bool(team, "is_home"),
			StatLine: apiStatLine(payload.Map(team, "totals")),
		}
		if stats.IsHome == nil {
			switch teamID {
			case game.HomeTeamID:
				stats.IsHome = record.Bool(true)
			case game.AwayTeamID:
				stats.IsHome = record.Bool(false)
			}
		}
		records = append(records, record.NewTeamStats(prov, stats))
	}

	for _, player := range payload.Maps(doc, "players") {
		playerID := payload.String(player, "player_id")
		if playerID == "" {
			continue
		}
		records = append(records, record.NewPlayerStats(prov, record.PlayerStats{
			GameID:     gameID,
			PlayerID:   playerID,
			TeamID:     payload.String(player, "team_id"),
			PlayerName: payload.String(player, "name"),
			Starter:    payload.Bool(player, "starter"),
			Minutes:    payload.Float(player, "minutes"),
			StatLine:   apiStatLine(payload.Map(player, "stats")),
		}))
	}

	return records, nil
}

func apiStatLine(src map[string]any) record.StatLine {
	return record.StatLine{
		FieldGoalsMade:         payload.Int(src, "fgm"),
		FieldGoalsAttempted:    payload.Int(src, "fga"),
		ThreePointersMade:      payload.Int(src, "fg3m"),
		ThreePointersAttempted: payload.Int(src, "fg3a"),
		FreeThrowsMade:         payload.Int(src, "ftm"),
		FreeThrowsAttempted:    payload.Int(src, "fta"),
		OffensiveRebounds:      payload.Int(src, "oreb"),
		DefensiveRebounds:      payload.Int(src, "dreb"),
		TotalRebounds:          payload.Int(src, "reb"),
		Assists:                payload.Int(src, "ast"),
		Steals:                 payload.Int(src, "stl"),
		Blocks:                 payload.Int(src, "blk"),
		Turnovers:              payload.Int(src, "tov"),
		PersonalFouls:          payload.Int(src, "pf"),
		Points:                 payload.Int(src, "pts"),
	}
}

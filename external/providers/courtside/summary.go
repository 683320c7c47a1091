package courtside

import (
	"strings"

	"github.com/riskibarqy/statharvest/external/providers/payload"
	"github.com/riskibarqy/statharvest/internal/domain/ingest"
	"github.com/riskibarqy/statharvest/internal/domain/record"
)

func (a *Adapter) parseSummary(raw ingest.RawPayload, doc map[string]any) ([]record.Record, error) {
	header := payload.Map(doc, "header")
	gameID := payload.String(header, "id")
	if gameID == "" {
		return nil, a.payloadError(raw, FormatSummary, "header.id", "game id missing", ingest.ErrMissingPrimaryKey)
	}
	prov := a.provenance(raw, FormatSummary)

	var competition map[string]any
	if competitions := payload.Maps(header, "competitions"); len(competitions) > 0 {
		competition = competitions[0]
	}
	competitors := payload.Maps(competition, "competitors")
	game := buildGame(gameID, competition, competitors)
	game.Season = payload.String(payload.Map(header, "season"), "year")

	records := []record.Record{record.NewGame(prov, game)}

	scores := make(map[string]*int, len(competitors))
	for _, c := range competitors {
		if id := teamID(c); id != "" {
			scores[id] = payload.Int(c, "score")
		}
	}

	box := payload.Map(doc, "boxscore")
	for _, team := range payload.Maps(box, "teams") {
		id := teamID(team)
		if id == "" {
			continue
		}
		line := record.StatLine{}
		for _, stat := range payload.Maps(team, "statistics") {
			applyStat(&line, nil, payload.String(stat, "name"), payload.String(stat, "displayValue"))
		}
		line.Points = scores[id]

		records = append(records, record.NewTeamStats(prov, record.TeamStats{
			GameID:   gameID,
			TeamID:   id,
			TeamName: payload.String(payload.Map(team, "team"), "displayName"),
			IsHome:   homeAway(team),
			StatLine: line,
		}))
	}

	for _, group := range payload.Maps(box, "players") {
		id := teamID(group)
		for _, block := range payload.Maps(group, "statistics") {
			keys := stringValues(payload.Slice(block, "keys"))
			for _, entry := range payload.Maps(block, "athletes") {
				if dnp := payload.Bool(entry, "didNotPlay"); dnp != nil && *dnp {
					continue
				}
				athlete := payload.Map(entry, "athlete")
				playerID := payload.String(athlete, "id")
				if playerID == "" {
					continue
				}

				stats := record.PlayerStats{
					GameID:     gameID,
					PlayerID:   playerID,
					TeamID:     id,
					PlayerName: payload.FirstNonEmpty(payload.String(athlete, "displayName"), payload.String(athlete, "shortName")),
					Starter:    payload.Bool(entry, "starter"),
				}
				values := stringValues(payload.Slice(entry, "stats"))
				for i, key := range keys {
					if i >= len(values) {
						break
					}
					applyStat(&stats.StatLine, &stats.Minutes, key, values[i])
				}
				records = append(records, record.NewPlayerStats(prov, stats))
			}
		}
	}

	return records, nil
}

func buildGame(gameID string, competition map[string]any, competitors []map[string]any) record.Game {
	game := record.Game{
		GameID: gameID,
		Date:   payload.Time(competition, "date"),
		Venue:  payload.String(payload.Map(competition, "venue"), "fullName"),
	}
	if status := payload.Map(competition, "status"); status != nil {
		game.Periods = payload.Int(status, "period")
	}

	for _, c := range competitors {
		team := payload.Map(c, "team")
		name := payload.FirstNonEmpty(payload.String(team, "displayName"), payload.String(team, "abbreviation"))
		switch strings.ToLower(payload.String(c, "homeAway")) {
		case "home":
			game.HomeTeamID = teamID(c)
			game.HomeTeamName = name
			game.HomeScore = payload.Int(c, "score")
		case "away":
			game.AwayTeamID = teamID(c)
			game.AwayTeamName = name
			game.AwayScore = payload.Int(c, "score")
		}
	}
	return game
}

// applyStat maps one Courtside stat key onto the line. minutes is nil for
// team rows.
func applyStat(line *record.StatLine, minutes **float64, key, value string) {
	switch key {
	case "minutes":
		if minutes != nil {
			*minutes = payload.Minutes(value)
		}
	case "fieldGoalsMade-fieldGoalsAttempted":
		line.FieldGoalsMade, line.FieldGoalsAttempted = payload.MadeAttempted(value)
	case "threePointFieldGoalsMade-threePointFieldGoalsAttempted":
		line.ThreePointersMade, line.ThreePointersAttempted = payload.MadeAttempted(value)
	case "freeThrowsMade-freeThrowsAttempted":
		line.FreeThrowsMade, line.FreeThrowsAttempted = payload.MadeAttempted(value)
	case "offensiveRebounds":
		line.OffensiveRebounds = payload.ParseInt(value)
	case "defensiveRebounds":
		line.DefensiveRebounds = payload.ParseInt(value)
	case "rebounds", "totalRebounds":
		line.TotalRebounds = payload.ParseInt(value)
	case "assists":
		line.Assists = payload.ParseInt(value)
	case "steals":
		line.Steals = payload.ParseInt(value)
	case "blocks":
		line.Blocks = payload.ParseInt(value)
	case "turnovers", "totalTurnovers":
		line.Turnovers = payload.ParseInt(value)
	case "fouls":
		line.PersonalFouls = payload.ParseInt(value)
	case "points":
		line.Points = payload.ParseInt(value)
	}
}

func teamID(src map[string]any) string {
	return payload.FirstNonEmpty(payload.String(payload.Map(src, "team"), "id"), payload.String(src, "id"))
}

func homeAway(src map[string]any) *bool {
	switch strings.ToLower(payload.String(src, "homeAway")) {
	case "home":
		return record.Bool(true)
	case "away":
		return record.Bool(false)
	default:
		return nil
	}
}

func stringValues(items []any) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, _ := item.(string)
		out = append(out, strings.TrimSpace(s))
	}
	return out
}

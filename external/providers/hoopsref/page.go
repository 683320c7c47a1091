package hoopsref

import (
	"strings"

	"github.com/riskibarqy/statharvest/external/providers/payload"
	"github.com/riskibarqy/statharvest/internal/domain/ingest"
	"github.com/riskibarqy/statharvest/internal/domain/record"
)

const teamTotalsRow = "team totals"

// parsePage reads the scraped page layout: a line score table listing the
// away team first, and a box score table with one row per player plus a
// totals row per team. Every cell is a string.
func (a *Adapter) parsePage(raw ingest.RawPayload, doc map[string]any) ([]record.Record, error) {
	page := payload.Map(doc, "page")
	gameID := payload.String(page, "game_id")
	if gameID == "" {
		return nil, a.payloadError(raw, FormatPage, "page.game_id", "game id missing", ingest.ErrMissingPrimaryKey)
	}
	prov := a.provenance(raw, FormatPage)
	tables := payload.Map(doc, "tables")

	game := record.Game{
		GameID: gameID,
		Season: payload.String(page, "season"),
		Date:   payload.Time(page, "game_date"),
		Venue:  payload.String(page, "arena"),
	}

	lineRows := payload.Maps(payload.Map(tables, "line_score"), "rows")
	scores := make(map[string]*int, len(lineRows))
	names := make(map[string]string, len(lineRows))
	homeOf := make(map[string]bool, len(lineRows))
	for i, row := range lineRows {
		code := payload.String(row, "team")
		if code == "" {
			continue
		}
		scores[code] = payload.Int(row, "T")
		names[code] = payload.String(row, "team_name")
		switch i {
		case 0:
			game.AwayTeamID, game.AwayTeamName, game.AwayScore = code, names[code], scores[code]
			homeOf[code] = false
		case 1:
			game.HomeTeamID, game.HomeTeamName, game.HomeScore = code, names[code], scores[code]
			homeOf[code] = true
		}
		if periods := countPeriods(row); periods > 0 {
			game.Periods = record.Int(periods)
		}
	}

	records := []record.Record{record.NewGame(prov, game)}

	for _, row := range payload.Maps(payload.Map(tables, "box_score"), "rows") {
		team := payload.String(row, "team")
		name := payload.String(row, "player")

		if strings.EqualFold(name, teamTotalsRow) {
			if team == "" {
				continue
			}
			stats := record.TeamStats{
				GameID:   gameID,
				TeamID:   team,
				TeamName: names[team],
				StatLine: pageStatLine(row),
			}
			if home, ok := homeOf[team]; ok {
				stats.IsHome = record.Bool(home)
			}
			if stats.Points == nil {
				stats.Points = scores[team]
			}
			records = append(records, record.NewTeamStats(prov, stats))
			continue
		}

		playerID := payload.String(row, "player_id")
		if playerID == "" {
			continue
		}
		// Inactive players carry a reason such as "Did Not Play" in mp.
		if mp := payload.String(row, "mp"); mp != "" && payload.Minutes(mp) == nil {
			continue
		}
		records = append(records, record.NewPlayerStats(prov, record.PlayerStats{
			GameID:     gameID,
			PlayerID:   playerID,
			TeamID:     team,
			PlayerName: name,
			Starter:    payload.Bool(row, "gs"),
			Minutes:    payload.Minutes(payload.String(row, "mp")),
			StatLine:   pageStatLine(row),
		}))
	}

	return records, nil
}

func pageStatLine(row map[string]any) record.StatLine {
	return record.StatLine{
		FieldGoalsMade:         payload.Int(row, "fg"),
		FieldGoalsAttempted:    payload.Int(row, "fga"),
		ThreePointersMade:      payload.Int(row, "fg3"),
		ThreePointersAttempted: payload.Int(row, "fg3a"),
		FreeThrowsMade:         payload.Int(row, "ft"),
		FreeThrowsAttempted:    payload.Int(row, "fta"),
		OffensiveRebounds:      payload.Int(row, "orb"),
		DefensiveRebounds:      payload.Int(row, "drb"),
		TotalRebounds:          payload.Int(row, "trb"),
		Assists:                payload.Int(row, "ast"),
		Steals:                 payload.Int(row, "stl"),
		Blocks:                 payload.Int(row, "blk"),
		Turnovers:              payload.Int(row, "tov"),
		PersonalFouls:          payload.Int(row, "pf"),
		Points:                 payload.Int(row, "pts"),
	}
}

// countPeriods counts the numbered period columns ("1", "2", "OT1"...) of a
// line score row.
func countPeriods(row map[string]any) int {
	n := 0
	for key := range row {
		if payload.ParseInt(key) != nil || strings.HasPrefix(strings.ToUpper(key), "OT") {
			n++
		}
	}
	return n
}

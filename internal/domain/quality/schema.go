package quality

import "github.com/riskibarqy/statharvest/internal/domain/record"

// Schema classifies the fields of one record kind. Required fields decide
// validity. Required and expected fields make up completeness. Optional
// fields never count against it.
type Schema struct {
	Kind     record.Kind
	Required []string
	Expected []string
	Optional []string
}

var schemas = map[record.Kind]Schema{
	record.KindGame: {
		Kind:     record.KindGame,
		Required: []string{"game_id", "date", "home_team_id", "away_team_id"},
		Expected: []string{"home_score", "away_score"},
		Optional: []string{"season", "finalized_at", "home_team_name", "away_team_name", "periods", "venue"},
	},
	record.KindTeamStats: {
		Kind:     record.KindTeamStats,
		Required: []string{"game_id", "team_id"},
		Expected: []string{"fgm", "fga", "fg3m", "fg3a", "ftm", "fta", "reb", "ast", "pts"},
		Optional: []string{"team_name", "is_home", "oreb", "dreb", "stl", "blk", "tov", "pf"},
	},
	record.KindPlayerStats: {
		Kind:     record.KindPlayerStats,
		Required: []string{"game_id", "player_id"},
		Expected: []string{"team_id", "minutes", "fgm", "fga", "fg3m", "fg3a", "ftm", "fta", "reb", "ast", "pts"},
		Optional: []string{"player_name", "starter", "oreb", "dreb", "stl", "blk", "tov", "pf"},
	},
}

func SchemaFor(kind record.Kind) (Schema, bool) {
	s, ok := schemas[kind]
	return s, ok
}

// fieldPresence reports, per schema field name, whether the record carries
// a value.
func fieldPresence(rec record.Record) map[string]bool {
	switch rec.Kind {
	case record.KindGame:
		g := rec.Game
		if g == nil {
			return nil
		}
		return map[string]bool{
			"game_id":        g.GameID != "",
			"date":           g.Date != nil && !g.Date.IsZero(),
			"home_team_id":   g.HomeTeamID != "",
			"away_team_id":   g.AwayTeamID != "",
			"home_score":     g.HomeScore != nil,
			"away_score":     g.AwayScore != nil,
			"season":         g.Season != "",
			"finalized_at":   g.FinalizedAt != nil,
			"home_team_name": g.HomeTeamName != "",
			"away_team_name": g.AwayTeamName != "",
			"periods":        g.Periods != nil,
			"venue":          g.Venue != "",
		}
	case record.KindTeamStats:
		s := rec.TeamStats
		if s == nil {
			return nil
		}
		out := statLinePresence(s.StatLine)
		out["game_id"] = s.GameID != ""
		out["team_id"] = s.TeamID != ""
		out["team_name"] = s.TeamName != ""
		out["is_home"] = s.IsHome != nil
		return out
	case record.KindPlayerStats:
		s := rec.PlayerStats
		if s == nil {
			return nil
		}
		out := statLinePresence(s.StatLine)
		out["game_id"] = s.GameID != ""
		out["player_id"] = s.PlayerID != ""
		out["team_id"] = s.TeamID != ""
		out["player_name"] = s.PlayerName != ""
		out["starter"] = s.Starter != nil
		out["minutes"] = s.Minutes != nil
		return out
	}
	return nil
}

func statLinePresence(s record.StatLine) map[string]bool {
	out := make(map[string]bool, 24)
	for _, f := range statFields(s) {
		out[f.name] = f.value != nil
	}
	return out
}

type statField struct {
	name  string
	value *int
}

func statFields(s record.StatLine) []statField {
	return []statField{
		{"fgm", s.FieldGoalsMade},
		{"fga", s.FieldGoalsAttempted},
		{"fg3m", s.ThreePointersMade},
		{"fg3a", s.ThreePointersAttempted},
		{"ftm", s.FreeThrowsMade},
		{"fta", s.FreeThrowsAttempted},
		{"oreb", s.OffensiveRebounds},
		{"dreb", s.DefensiveRebounds},
		{"reb", s.TotalRebounds},
		{"ast", s.Assists},
		{"stl", s.Steals},
		{"blk", s.Blocks},
		{"tov", s.Turnovers},
		{"pf", s.PersonalFouls},
		{"pts", s.Points},
	}
}

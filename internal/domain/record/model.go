package record

import "time"

type Kind string

const (
	KindGame        Kind = "GAME"
	KindTeamStats   Kind = "TEAM_STATS"
	KindPlayerStats Kind = "PLAYER_STATS"
)

func (k Kind) Valid() bool {
	switch k {
	case KindGame, KindTeamStats, KindPlayerStats:
		return true
	default:
		return false
	}
}

// Provenance ties a record back to the upstream resource it came from.
type Provenance struct {
	SourceID          string `json:"source_id"`
	SourceResourceKey string `json:"source_resource_key"`
	Format            string `json:"format"`
}

type Game struct {
	GameID       string     `json:"game_id"`
	Season       string     `json:"season,omitempty"`
	Date         *time.Time `json:"date,omitempty"`
	FinalizedAt  *time.Time `json:"finalized_at,omitempty"`
	HomeTeamID   string     `json:"home_team_id,omitempty"`
	AwayTeamID   string     `json:"away_team_id,omitempty"`
	HomeTeamName string     `json:"home_team_name,omitempty"`
	AwayTeamName string     `json:"away_team_name,omitempty"`
	HomeScore    *int       `json:"home_score,omitempty"`
	AwayScore    *int       `json:"away_score,omitempty"`
	Periods      *int       `json:"periods,omitempty"`
	Venue        string     `json:"venue,omitempty"`
}

// StatLine is the box score shared by team and player rows. Nil means the
// provider did not report the value.
type StatLine struct {
	FieldGoalsMade         *int `json:"fgm,omitempty"`
	FieldGoalsAttempted    *int `json:"fga,omitempty"`
	ThreePointersMade      *int `json:"fg3m,omitempty"`
	ThreePointersAttempted *int `json:"fg3a,omitempty"`
	FreeThrowsMade         *int `json:"ftm,omitempty"`
	FreeThrowsAttempted    *int `json:"fta,omitempty"`
	OffensiveRebounds      *int `json:"oreb,omitempty"`
	DefensiveRebounds      *int `json:"dreb,omitempty"`
	TotalRebounds          *int `json:"reb,omitempty"`
	Assists                *int `json:"ast,omitempty"`
	Steals                 *int `json:"stl,omitempty"`
	Blocks                 *int `json:"blk,omitempty"`
	Turnovers              *int `json:"tov,omitempty"`
	PersonalFouls          *int `json:"pf,omitempty"`
	Points                 *int `json:"pts,omitempty"`
}

type TeamStats struct {
	GameID   string `json:"game_id"`
	TeamID   string `json:"team_id"`
	TeamName string `json:"team_name,omitempty"`
	IsHome   *bool  `json:"is_home,omitempty"`
	StatLine
}

type PlayerStats struct {
	GameID     string   `json:"game_id"`
	PlayerID   string   `json:"player_id"`
	TeamID     string   `json:"team_id,omitempty"`
	PlayerName string   `json:"player_name,omitempty"`
	Starter    *bool    `json:"starter,omitempty"`
	Minutes    *float64 `json:"minutes,omitempty"`
	StatLine
}

// Record is a canonical row. Exactly one of Game, TeamStats or PlayerStats
// is set, matching Kind.
type Record struct {
	Kind        Kind         `json:"kind"`
	Provenance  Provenance   `json:"provenance"`
	Game        *Game        `json:"game,omitempty"`
	TeamStats   *TeamStats   `json:"team_stats,omitempty"`
	PlayerStats *PlayerStats `json:"player_stats,omitempty"`
}

func NewGame(p Provenance, g Game) Record {
	return Record{Kind: KindGame, Provenance: p, Game: &g}
}

func NewTeamStats(p Provenance, s TeamStats) Record {
	return Record{Kind: KindTeamStats, Provenance: p, TeamStats: &s}
}

func NewPlayerStats(p Provenance, s PlayerStats) Record {
	return Record{Kind: KindPlayerStats, Provenance: p, PlayerStats: &s}
}

// Key is the natural key of the record inside its source.
func (r Record) Key() string {
	switch r.Kind {
	case KindGame:
		if r.Game != nil {
			return r.Game.GameID
		}
	case KindTeamStats:
		if r.TeamStats != nil {
			return r.TeamStats.GameID + ":" + r.TeamStats.TeamID
		}
	case KindPlayerStats:
		if r.PlayerStats != nil {
			return r.PlayerStats.GameID + ":" + r.PlayerStats.PlayerID
		}
	}
	return ""
}

func Int(v int) *int { return &v }

func Float(v float64) *float64 { return &v }

func Bool(v bool) *bool { return &v }

func Time(v time.Time) *time.Time { return &v }

package quality

import (
	"fmt"
	"math"
	"time"

	"github.com/riskibarqy/statharvest/internal/domain/record"
)

const (
	CheckRequired           = "required"
	CheckUnknownKind        = "unknown_kind"
	CheckMadeWithinAttempts = "made_within_attempts"
	CheckThreesWithinTotal  = "threes_within_field_goals"
	CheckReboundSum         = "rebound_sum"
	CheckPointsIdentity     = "points_identity"
	CheckNonNegativeScore   = "non_negative_score"
	CheckDistinctTeams      = "distinct_teams"
	CheckTimestampOrder     = "timestamp_order"
	CheckMinutesRange       = "minutes_range"
	CheckStatRange          = "stat_range"
	CheckPointsRange        = "points_range"
	CheckDateRange          = "date_range"
)

const (
	weightCompleteness = 0.4
	weightConsistency  = 0.3
	weightAccuracy     = 0.3
)

// Rules holds the bounds used by accuracy checks and the set of checks
// that invalidate a record instead of only lowering its score.
type Rules struct {
	RegulationMinutes   float64
	OvertimeMinutes     float64
	MaxOvertimes        int
	MaxTeamPoints       int
	MaxPlayerPoints     int
	MaxTeamCountingStat int
	MaxPlayerStat       int
	EarliestGameDate    time.Time
	LatestGameDate      time.Time
	HardConstraints     map[string]bool
}

// Contest formats name the game length a source's records are bounded by.
const (
	FormatCollege = "college"
	FormatFIBA    = "fiba"
	FormatNBA     = "nba"
)

// DefaultRules bounds a college game: two 20-minute halves plus up to six
// 5-minute overtimes. Sources publishing professional games pick their
// format with RulesForFormat.
func DefaultRules() Rules {
	return Rules{
		RegulationMinutes:   40,
		OvertimeMinutes:     5,
		MaxOvertimes:        6,
		MaxTeamPoints:       250,
		MaxPlayerPoints:     120,
		MaxTeamCountingStat: 200,
		MaxPlayerStat:       100,
		EarliestGameDate:    time.Date(1891, time.December, 21, 0, 0, 0, 0, time.UTC),
		LatestGameDate:      time.Date(2100, time.January, 1, 0, 0, 0, 0, time.UTC),
		HardConstraints:     map[string]bool{CheckDistinctTeams: true},
	}
}

// RulesForFormat returns DefaultRules with the game length of format. An
// empty format is FormatCollege.
func RulesForFormat(format string) (Rules, error) {
	rules := DefaultRules()
	switch format {
	case "", FormatCollege, FormatFIBA:
		// FIBA plays four 10-minute quarters, the same 40 minutes.
	case FormatNBA:
		rules.RegulationMinutes = 48
	default:
		return Rules{}, fmt.Errorf("unknown contest format %q: valid values are %s, %s, %s", format, FormatCollege, FormatFIBA, FormatNBA)
	}
	return rules, nil
}

// MaxContestMinutes is the longest possible game for a player.
func (r Rules) MaxContestMinutes() float64 {
	return r.RegulationMinutes + r.OvertimeMinutes*float64(r.MaxOvertimes)
}

// Scorer validates records. It is deterministic: no clock, no randomness.
type Scorer struct {
	rules Rules
}

func NewScorer(rules Rules) *Scorer {
	defaults := DefaultRules()
	if rules.RegulationMinutes <= 0 {
		rules.RegulationMinutes = defaults.RegulationMinutes
	}
	if rules.OvertimeMinutes <= 0 {
		rules.OvertimeMinutes = defaults.OvertimeMinutes
	}
	if rules.MaxOvertimes < 0 {
		rules.MaxOvertimes = defaults.MaxOvertimes
	}
	if rules.MaxTeamPoints <= 0 {
		rules.MaxTeamPoints = defaults.MaxTeamPoints
	}
	if rules.MaxPlayerPoints <= 0 {
		rules.MaxPlayerPoints = defaults.MaxPlayerPoints
	}
	if rules.MaxTeamCountingStat <= 0 {
		rules.MaxTeamCountingStat = defaults.MaxTeamCountingStat
	}
	if rules.MaxPlayerStat <= 0 {
		rules.MaxPlayerStat = defaults.MaxPlayerStat
	}
	if rules.EarliestGameDate.IsZero() {
		rules.EarliestGameDate = defaults.EarliestGameDate
	}
	if rules.LatestGameDate.IsZero() {
		rules.LatestGameDate = defaults.LatestGameDate
	}
	if rules.HardConstraints == nil {
		rules.HardConstraints = map[string]bool{}
	}
	return &Scorer{rules: rules}
}

func (s *Scorer) Rules() Rules { return s.rules }

func (s *Scorer) Validate(rec record.Record) Result {
	result := Result{Record: rec, Errors: []Issue{}, Warnings: []Issue{}}

	schema, ok := SchemaFor(rec.Kind)
	presence := fieldPresence(rec)
	if !ok || presence == nil {
		result.Errors = append(result.Errors, Issue{
			Field:  "kind",
			Check:  CheckUnknownKind,
			Reason: fmt.Sprintf("record kind %q has no payload or schema", rec.Kind),
		})
		return result
	}

	for _, field := range schema.Required {
		if !presence[field] {
			result.Errors = append(result.Errors, Issue{Field: field, Check: CheckRequired, Reason: "required field is missing"})
		}
	}
	result.CompletenessScore = completeness(schema, presence)

	consistency := &checkSet{}
	accuracy := &checkSet{}
	switch rec.Kind {
	case record.KindGame:
		s.checkGame(*rec.Game, consistency, accuracy)
	case record.KindTeamStats:
		checkStatLine(rec.TeamStats.StatLine, consistency)
		s.checkTeamRanges(*rec.TeamStats, accuracy)
	case record.KindPlayerStats:
		checkStatLine(rec.PlayerStats.StatLine, consistency)
		s.checkPlayerRanges(*rec.PlayerStats, accuracy)
	}

	result.ConsistencyScore = consistency.score()
	result.AccuracyScore = accuracy.score()
	for _, issue := range append(consistency.failed, accuracy.failed...) {
		if s.rules.HardConstraints[issue.Check] {
			result.Errors = append(result.Errors, issue)
			continue
		}
		result.Warnings = append(result.Warnings, issue)
	}

	result.QualityScore = round2(weightCompleteness*result.CompletenessScore +
		weightConsistency*result.ConsistencyScore +
		weightAccuracy*result.AccuracyScore)
	result.IsValid = len(result.Errors) == 0
	return result
}

func completeness(schema Schema, presence map[string]bool) float64 {
	total := len(schema.Required) + len(schema.Expected)
	if total == 0 {
		return 100
	}
	present := 0
	for _, field := range schema.Required {
		if presence[field] {
			present++
		}
	}
	for _, field := range schema.Expected {
		if presence[field] {
			present++
		}
	}
	return round2(100 * float64(present) / float64(total))
}

// checkSet counts only applicable checks; a check whose inputs are absent
// is skipped rather than passed or failed.
type checkSet struct {
	applicable int
	failed     []Issue
}

func (c *checkSet) add(check, field string, passed bool, reason string) {
	c.applicable++
	if !passed {
		c.failed = append(c.failed, Issue{Field: field, Check: check, Reason: reason})
	}
}

func (c *checkSet) score() float64 {
	if c.applicable == 0 {
		return 100
	}
	return round2(100 * float64(c.applicable-len(c.failed)) / float64(c.applicable))
}

func (s *Scorer) checkGame(g record.Game, consistency, accuracy *checkSet) {
	if g.HomeTeamID != "" && g.AwayTeamID != "" {
		consistency.add(CheckDistinctTeams, "away_team_id", g.HomeTeamID != g.AwayTeamID, "home and away team are the same")
	}
	if g.HomeScore != nil {
		consistency.add(CheckNonNegativeScore, "home_score", *g.HomeScore >= 0, fmt.Sprintf("negative score %d", *g.HomeScore))
		accuracy.add(CheckPointsRange, "home_score", *g.HomeScore <= s.rules.MaxTeamPoints, fmt.Sprintf("score %d above %d", *g.HomeScore, s.rules.MaxTeamPoints))
	}
	if g.AwayScore != nil {
		consistency.add(CheckNonNegativeScore, "away_score", *g.AwayScore >= 0, fmt.Sprintf("negative score %d", *g.AwayScore))
		accuracy.add(CheckPointsRange, "away_score", *g.AwayScore <= s.rules.MaxTeamPoints, fmt.Sprintf("score %d above %d", *g.AwayScore, s.rules.MaxTeamPoints))
	}
	if g.Date != nil && g.FinalizedAt != nil {
		consistency.add(CheckTimestampOrder, "finalized_at", !g.FinalizedAt.Before(*g.Date), "finalized before the game date")
	}
	if g.Date != nil && !g.Date.IsZero() {
		inRange := !g.Date.Before(s.rules.EarliestGameDate) && g.Date.Before(s.rules.LatestGameDate)
		accuracy.add(CheckDateRange, "date", inRange, fmt.Sprintf("date %s outside plausible range", g.Date.Format(time.DateOnly)))
	}
	if g.Periods != nil {
		maxPeriods := 2 + s.rules.MaxOvertimes
		accuracy.add(CheckStatRange, "periods", *g.Periods >= 1 && *g.Periods <= maxPeriods, fmt.Sprintf("periods %d outside 1..%d", *g.Periods, maxPeriods))
	}
}

func checkStatLine(s record.StatLine, consistency *checkSet) {
	pairs := []struct {
		made, attempted       *int
		madeName, attemptName string
	}{
		{s.FieldGoalsMade, s.FieldGoalsAttempted, "fgm", "fga"},
		{s.ThreePointersMade, s.ThreePointersAttempted, "fg3m", "fg3a"},
		{s.FreeThrowsMade, s.FreeThrowsAttempted, "ftm", "fta"},
	}
	for _, p := range pairs {
		if p.made == nil || p.attempted == nil {
			continue
		}
		consistency.add(CheckMadeWithinAttempts, p.madeName, *p.made <= *p.attempted,
			fmt.Sprintf("%s %d exceeds %s %d", p.madeName, *p.made, p.attemptName, *p.attempted))
	}

	if s.ThreePointersMade != nil && s.FieldGoalsMade != nil {
		consistency.add(CheckThreesWithinTotal, "fg3m", *s.ThreePointersMade <= *s.FieldGoalsMade,
			fmt.Sprintf("fg3m %d exceeds fgm %d", *s.ThreePointersMade, *s.FieldGoalsMade))
	}
	if s.ThreePointersAttempted != nil && s.FieldGoalsAttempted != nil {
		consistency.add(CheckThreesWithinTotal, "fg3a", *s.ThreePointersAttempted <= *s.FieldGoalsAttempted,
			fmt.Sprintf("fg3a %d exceeds fga %d", *s.ThreePointersAttempted, *s.FieldGoalsAttempted))
	}
	if s.OffensiveRebounds != nil && s.DefensiveRebounds != nil && s.TotalRebounds != nil {
		sum := *s.OffensiveRebounds + *s.DefensiveRebounds
		consistency.add(CheckReboundSum, "reb", sum == *s.TotalRebounds,
			fmt.Sprintf("oreb+dreb %d does not match reb %d", sum, *s.TotalRebounds))
	}
	if s.FieldGoalsMade != nil && s.ThreePointersMade != nil && s.FreeThrowsMade != nil && s.Points != nil {
		expected := 2*(*s.FieldGoalsMade) + *s.ThreePointersMade + *s.FreeThrowsMade
		consistency.add(CheckPointsIdentity, "pts", expected == *s.Points,
			fmt.Sprintf("pts %d does not match shooting total %d", *s.Points, expected))
	}
}

func (s *Scorer) checkTeamRanges(t record.TeamStats, accuracy *checkSet) {
	checkCountingRanges(t.StatLine, s.rules.MaxTeamCountingStat, accuracy)
	if t.Points != nil {
		accuracy.add(CheckPointsRange, "pts", *t.Points <= s.rules.MaxTeamPoints,
			fmt.Sprintf("pts %d above %d", *t.Points, s.rules.MaxTeamPoints))
	}
}

func (s *Scorer) checkPlayerRanges(p record.PlayerStats, accuracy *checkSet) {
	checkCountingRanges(p.StatLine, s.rules.MaxPlayerStat, accuracy)
	if p.Points != nil {
		accuracy.add(CheckPointsRange, "pts", *p.Points <= s.rules.MaxPlayerPoints,
			fmt.Sprintf("pts %d above %d", *p.Points, s.rules.MaxPlayerPoints))
	}
	if p.Minutes != nil {
		maxMinutes := s.rules.MaxContestMinutes()
		accuracy.add(CheckMinutesRange, "minutes", *p.Minutes >= 0 && *p.Minutes <= maxMinutes,
			fmt.Sprintf("minutes %.1f outside 0..%.0f", *p.Minutes, maxMinutes))
	}
}

func checkCountingRanges(line record.StatLine, limit int, accuracy *checkSet) {
	for _, f := range statFields(line) {
		if f.value == nil || f.name == "pts" {
			continue
		}
		accuracy.add(CheckStatRange, f.name, *f.value >= 0 && *f.value <= limit,
			fmt.Sprintf("%s %d outside 0..%d", f.name, *f.value, limit))
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

package ics

import (
	"fmt"
	"strings"
	"time"

	"fixturecal/internal/model"
)

// separators between the two team names in a fixture SUMMARY, tried in
// order.
var separators = []string{" vs. ", " vs ", " v ", " - "}

// Fixture is a candidate game read from one feed occurrence.
type Fixture struct {
	Competition string
	Location    model.Location
	Opponents   string
	Season      int
	Kickoff     time.Time
	Broadcaster string
}

// Game converts f to an unsaved game.
func (f Fixture) Game() model.Game {
	return model.Game{
		Competition: f.Competition,
		Location:    f.Location,
		Opponents:   f.Opponents,
		Season:      f.Season,
		DatePlayed:  f.Kickoff,
		Broadcaster: f.Broadcaster,
	}
}

// SplitTeams splits "Home v Away" style summaries. Scores or other text
// following the away side are not stripped.
func SplitTeams(summary string) (home, away string, ok bool) {
	lower := strings.ToLower(summary)
	for _, sep := range separators {
		if i := strings.Index(lower, sep); i > 0 {
			home = strings.TrimSpace(summary[:i])
			away = strings.TrimSpace(summary[i+len(sep):])
			if home != "" && away != "" {
				return home, away, true
			}
		}
	}
	return "", "", false
}

// ParseFixture derives location and opponents by matching club against
// the two sides of the summary, case-insensitively.
func ParseFixture(summary, club string) (model.Location, string, error) {
	home, away, ok := SplitTeams(summary)
	if !ok {
		return "", "", fmt.Errorf("summary %q: no team separator", summary)
	}
	switch {
	case strings.EqualFold(home, club):
		return model.Home, away, nil
	case strings.EqualFold(away, club):
		return model.Away, home, nil
	default:
		return "", "", fmt.Errorf("summary %q: club %q plays neither side", summary, club)
	}
}

// SeasonOf returns the season a kick-off belongs to, seasons starting in
// July.
func SeasonOf(t time.Time) int {
	if t.Month() >= time.July {
		return t.Year()
	}
	return t.Year() - 1
}

// FixtureSpec carries the per-feed settings used to turn occurrences
// into fixtures.
type FixtureSpec struct {
	Club        string
	Competition string
	// Season pins every fixture to one season; zero derives it from the
	// kick-off date.
	Season int
}

// ToFixture reads one occurrence. The first CATEGORIES value overrides
// the feed's competition.
func ToFixture(occ Occurrence, spec FixtureSpec) (Fixture, error) {
	loc, opp, err := ParseFixture(occ.Event.Summary, spec.Club)
	if err != nil {
		return Fixture{}, err
	}
	f := Fixture{
		Competition: spec.Competition,
		Location:    loc,
		Opponents:   opp,
		Season:      spec.Season,
		Kickoff:     occ.Start.UTC().Truncate(time.Second),
		Broadcaster: occ.Event.Broadcaster,
	}
	if len(occ.Event.Categories) > 0 {
		f.Competition = occ.Event.Categories[0]
	}
	if f.Season == 0 {
		f.Season = SeasonOf(occ.Start)
	}
	return f, nil
}

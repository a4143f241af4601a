package ics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fixturecal/internal/model"
)

func TestSplitTeams(t *testing.T) {
	cases := []struct {
		in         string
		home, away string
		ok         bool
	}{
		{"Arsenal v Spurs", "Arsenal", "Spurs", true},
		{"Arsenal VS Spurs", "Arsenal", "Spurs", true},
		{"Arsenal vs. Spurs", "Arsenal", "Spurs", true},
		{"Leeds United - Arsenal", "Leeds United", "Arsenal", true},
		{"Wolverhampton Wanderers v Arsenal", "Wolverhampton Wanderers", "Arsenal", true},
		{"International break", "", "", false},
		{" v Spurs", "", "", false},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			home, away, ok := SplitTeams(c.in)
			assert.Equal(t, c.ok, ok)
			assert.Equal(t, c.home, home)
			assert.Equal(t, c.away, away)
		})
	}
}

func TestParseFixture(t *testing.T) {
	loc, opp, err := ParseFixture("Arsenal v Spurs", "arsenal")
	require.NoError(t, err)
	assert.Equal(t, model.Home, loc)
	assert.Equal(t, "Spurs", opp)

	loc, opp, err = ParseFixture("Leeds United vs Arsenal", "Arsenal")
	require.NoError(t, err)
	assert.Equal(t, model.Away, loc)
	assert.Equal(t, "Leeds United", opp)

	_, _, err = ParseFixture("Chelsea v Spurs", "Arsenal")
	assert.Error(t, err)
}

func TestSeasonOf(t *testing.T) {
	assert.Equal(t, 2025, SeasonOf(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 2025, SeasonOf(time.Date(2026, 5, 24, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 2024, SeasonOf(time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)))
}

func TestToFixture(t *testing.T) {
	kick := time.Date(2025, 8, 16, 14, 0, 0, 500, time.UTC)
	occ := Occurrence{
		Event: ParsedEvent{Summary: "Arsenal v Spurs", Categories: []string{"FA Cup"}, Broadcaster: "BBC One"},
		Start: kick,
	}
	f, err := ToFixture(occ, FixtureSpec{Club: "Arsenal", Competition: "League"})
	require.NoError(t, err)
	assert.Equal(t, Fixture{
		Competition: "FA Cup",
		Location:    model.Home,
		Opponents:   "Spurs",
		Season:      2025,
		Kickoff:     kick.Truncate(time.Second),
		Broadcaster: "BBC One",
	}, f)

	occ.Event.Categories = nil
	f, err = ToFixture(occ, FixtureSpec{Club: "Arsenal", Competition: "League", Season: 2030})
	require.NoError(t, err)
	assert.Equal(t, "League", f.Competition)
	assert.Equal(t, 2030, f.Season)
	assert.Equal(t, model.BusinessKey{Competition: "League", Location: model.Home, Opponents: "Spurs", Season: 2030}, f.Game().Key())
}

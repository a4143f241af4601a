package view

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fixturecal/internal/config"
	"fixturecal/internal/model"
	"fixturecal/internal/remote"
)

func mustPolicy(t *testing.T, vc config.ViewConfig) Policy {
	t.Helper()
	p, err := FromConfig(vc)
	require.NoError(t, err)
	return p
}

func TestFromConfig(t *testing.T) {
	p := mustPolicy(t, config.ViewConfig{ID: "home", Select: "home", Project: "date_played", Duration: "2h", Transparency: "transparent"})
	assert.Equal(t, "home", p.CalendarID)
	assert.Equal(t, 2*time.Hour, p.Duration)
	assert.Equal(t, remote.Transparent, p.Transparency)

	p = mustPolicy(t, config.ViewConfig{ID: "x", Select: "all", Project: "date_played", Duration: "90m"})
	assert.Equal(t, remote.Opaque, p.Transparency)

	for _, vc := range []config.ViewConfig{
		{ID: "a", Select: "nope", Project: "date_played", Duration: "2h"},
		{ID: "b", Select: "all", Project: "nope", Duration: "2h"},
		{ID: "c", Select: "all", Project: "date_played", Duration: "-1h"},
		{ID: "d", Select: "all", Project: "date_played", Duration: "2h", Transparency: "grey"},
	} {
		_, err := FromConfig(vc)
		assert.Error(t, err, vc.ID)
	}
}

func TestFromConfigs_DefaultViews(t *testing.T) {
	ps, err := FromConfigs(config.DefaultConfig().Views)
	require.NoError(t, err)
	require.Len(t, ps, 5)
	assert.Equal(t, ProjectTicketsOnSale, ps[4].Projection)
}

func TestBelongs(t *testing.T) {
	sale := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	home := model.Game{Location: model.Home, Attended: true}
	away := model.Game{Location: model.Away, TicketsOnSale: &sale}

	cases := []struct {
		sel        Selector
		home, away bool
	}{
		{SelectAll, true, true},
		{SelectHome, true, false},
		{SelectAway, false, true},
		{SelectAttended, true, false},
		{SelectUnattended, false, true},
		{SelectTickets, false, true},
	}
	for _, tc := range cases {
		p := Policy{Selector: tc.sel}
		assert.Equal(t, tc.home, p.Belongs(home), "%s home", tc.sel)
		assert.Equal(t, tc.away, p.Belongs(away), "%s away", tc.sel)
	}
}

func TestProject(t *testing.T) {
	loc, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)
	played := time.Date(2025, 8, 16, 15, 0, 0, 999_000_000, loc)
	g := model.Game{ID: 3, DatePlayed: played}

	p := Policy{Projection: ProjectDatePlayed, Duration: 2 * time.Hour}
	start, end, err := p.Project(g)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 8, 16, 14, 0, 0, 0, time.UTC), start)
	assert.Equal(t, start.Add(2*time.Hour), end)

	p.Projection = ProjectTicketsOnSale
	_, _, err = p.Project(g)
	assert.True(t, errors.Is(err, ErrNoProjection))

	sale := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	g.TicketsOnSale = &sale
	start, _, err = p.Project(g)
	require.NoError(t, err)
	assert.Equal(t, sale, start)
}

func TestRenderTitle(t *testing.T) {
	g := model.Game{Opponents: "Leeds United", Location: model.Away, Competition: "FA Cup"}
	assert.Equal(t, "Leeds United (A) FA Cup", Policy{}.RenderTitle(g))

	g.Broadcaster = "BBC One"
	assert.Equal(t, "Tickets: Leeds United (A) FA Cup - BBC One", Policy{TitlePrefix: "Tickets:"}.RenderTitle(g))
}

func TestRenderDescription(t *testing.T) {
	assert.Empty(t, Policy{}.RenderDescription(model.Game{}))

	sale := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	g := model.Game{Result: "2-1", Attendance: 60123, MatchReport: "https://example.com/r/1", TicketsOnSale: &sale}
	assert.Equal(t,
		"Result: 2-1\nAttendance: 60123\nMatch report: https://example.com/r/1\nTickets on sale: 2025-07-01T09:00:00Z",
		Policy{}.RenderDescription(g))

	// The sale date is the entry's own start on a tickets view.
	assert.Equal(t, "Result: 2-1\nAttendance: 60123\nMatch report: https://example.com/r/1",
		Policy{Projection: ProjectTicketsOnSale}.RenderDescription(g))
}

func TestDesired(t *testing.T) {
	played := time.Date(2025, 8, 16, 14, 0, 0, 0, time.UTC)
	p := Policy{Projection: ProjectDatePlayed, Duration: time.Hour, Transparency: remote.Transparent}
	ev, err := p.Desired(model.Game{ID: 7, Opponents: "Spurs", Location: model.Home, Competition: "League", DatePlayed: played})
	require.NoError(t, err)

	assert.Equal(t, remote.Event{
		GameID:       7,
		Title:        "Spurs (H) League",
		Start:        played,
		End:          played.Add(time.Hour),
		Transparency: remote.Transparent,
	}, ev)
}

func TestTextEqual(t *testing.T) {
	assert.True(t, TextEqual("", "  "))
	assert.True(t, TextEqual("Caf\u00e9 ", "Cafe\u0301"))
	assert.False(t, TextEqual("a", "b"))
}

func TestSameSecond(t *testing.T) {
	a := time.Date(2025, 1, 1, 12, 0, 0, 100, time.UTC)
	assert.True(t, SameSecond(a, a.Truncate(time.Second)))
	assert.True(t, SameSecond(a.In(time.FixedZone("x", 3600)), a))
	assert.False(t, SameSecond(a, a.Add(time.Second)))
}

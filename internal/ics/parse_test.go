package ics

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appLog "fixturecal/internal/log"
)

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile("testdata/" + name)
	require.NoError(t, err)
	return b
}

func TestParse_ClubFeed(t *testing.T) {
	feed := Feed{ID: "club", URL: "https://example.com/club.ics"}
	events, err := Parse(feed, readFixture(t, "club.ics"), appLog.Discard())
	require.NoError(t, err)
	require.Len(t, events, 4)

	m1 := events[0]
	assert.Equal(t, "m1@fixtures", m1.UID)
	assert.Equal(t, "Arsenal v Spurs", m1.Summary)
	assert.Equal(t, []string{"Premier League"}, m1.Categories)
	assert.Equal(t, "Sky Sports", m1.Broadcaster)
	assert.Equal(t, time.Date(2025, 8, 16, 14, 0, 0, 0, time.UTC), m1.Start)
	assert.Equal(t, time.Date(2025, 8, 16, 16, 0, 0, 0, time.UTC), m1.End)
	assert.False(t, m1.Cancelled)
	assert.False(t, m1.AllDay)
	assert.Equal(t, feed, m1.Feed)

	assert.Equal(t, events[1].Start, events[1].End, "missing DTEND collapses to DTSTART")
	assert.True(t, events[2].Cancelled)
}

func TestParse_RecurrenceAndSkips(t *testing.T) {
	events, err := Parse(Feed{ID: "u21"}, readFixture(t, "recurring.ics"), appLog.Discard())
	require.NoError(t, err)
	require.Len(t, events, 3, "the VEVENT without UID is skipped")

	base := events[0]
	assert.Equal(t, []string{"Premier League 2", "Youth"}, base.Categories)
	assert.Contains(t, base.RawRRule, "FREQ=WEEKLY")
	assert.Equal(t, []time.Time{time.Date(2025, 8, 23, 14, 0, 0, 0, time.UTC)}, base.ExDates)
	assert.False(t, base.IsOverride())

	override := events[1]
	require.True(t, override.IsOverride())
	assert.Equal(t, time.Date(2025, 8, 30, 14, 0, 0, 0, time.UTC), *override.Recurrence)

	assert.True(t, events[2].AllDay)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse(Feed{ID: "x"}, nil, appLog.Discard())
	assert.Error(t, err)
	_, err = Parse(Feed{ID: "x"}, []byte("not a calendar"), appLog.Discard())
	assert.Error(t, err)
}

func TestParseICSTime(t *testing.T) {
	tm, err := parseICSTime("20250816T140000Z", nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 8, 16, 14, 0, 0, 0, time.UTC), tm)

	tm, err = parseICSTime("20250816", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 8, 16, 0, 0, 0, 0, time.UTC), tm)

	_, err = parseICSTime(" ", time.UTC)
	assert.Error(t, err)
}

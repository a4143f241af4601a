package ics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appLog "fixturecal/internal/log"
)

func starts(occs []Occurrence) []time.Time {
	out := make([]time.Time, len(occs))
	for i, o := range occs {
		out[i] = o.Start.UTC()
	}
	return out
}

func season2025() ExpandConfig {
	return ExpandConfig{
		RangeStart: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC),
	}
}

func TestExpand_RecurringWithExdateAndOverride(t *testing.T) {
	events, err := Parse(Feed{ID: "u21"}, readFixture(t, "recurring.ics"), appLog.Discard())
	require.NoError(t, err)

	occs, err := Expand(events[:2], season2025(), appLog.Discard())
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		time.Date(2025, 8, 16, 14, 0, 0, 0, time.UTC),
		time.Date(2025, 8, 30, 19, 30, 0, 0, time.UTC),
		time.Date(2025, 9, 6, 14, 0, 0, 0, time.UTC),
	}, starts(occs))
	assert.Equal(t, 2*time.Hour, occs[2].End.Sub(occs[2].Start))
	assert.True(t, occs[1].Event.IsOverride())
}

func TestExpand_CancelledOverrideDropsInstance(t *testing.T) {
	kick := time.Date(2025, 8, 16, 14, 0, 0, 0, time.UTC)
	rid := kick.Add(7 * 24 * time.Hour)
	events := []ParsedEvent{
		{UID: "r", Start: kick, End: kick.Add(time.Hour), RawRRule: "FREQ=WEEKLY;COUNT=2;BYDAY=SA;BYHOUR=14;BYMINUTE=0;BYSECOND=0"},
		{UID: "r", Start: rid, End: rid.Add(time.Hour), Recurrence: &rid, Cancelled: true},
	}
	occs, err := Expand(events, season2025(), appLog.Discard())
	require.NoError(t, err)
	assert.Equal(t, []time.Time{kick}, starts(occs))
}

func TestExpand_SingleEventsRangeAndOrder(t *testing.T) {
	cfg := season2025()
	a := time.Date(2025, 9, 1, 15, 0, 0, 0, time.UTC)
	b := time.Date(2025, 8, 1, 15, 0, 0, 0, time.UTC)
	events := []ParsedEvent{
		{UID: "a", Start: a, End: a},
		{UID: "b", Start: b, End: b},
		{UID: "old", Start: cfg.RangeStart.Add(-time.Hour)},
		{UID: "gone", Start: a, Cancelled: true},
		{UID: "bad", Start: a, RawRRule: "FREQ=NOPE"},
	}
	occs, err := Expand(events, cfg, appLog.Discard())
	require.NoError(t, err)
	assert.Equal(t, []time.Time{b, a}, starts(occs))
}

func TestExpand_CapAndBadRange(t *testing.T) {
	kick := time.Date(2025, 8, 16, 14, 0, 0, 0, time.UTC)
	events := []ParsedEvent{{UID: "d", Start: kick, End: kick, RawRRule: "FREQ=DAILY"}}
	cfg := season2025()
	cfg.MaxOccurrencesPerEvent = 5
	occs, err := Expand(events, cfg, appLog.Discard())
	require.NoError(t, err)
	assert.Len(t, occs, 5)

	_, err = Expand(events, ExpandConfig{RangeStart: kick, RangeEnd: kick.Add(-time.Hour)}, appLog.Discard())
	assert.Error(t, err)
}

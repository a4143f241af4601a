package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "fixturecal/internal/log"
)

const defaultMaxOccurrencesPerEvent = 500

// Occurrence is one concrete fixture instant.
type Occurrence struct {
	Event ParsedEvent
	Start time.Time
	End   time.Time
}

// ExpandConfig bounds recurrence expansion.
type ExpandConfig struct {
	// RangeStart and RangeEnd are inclusive.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps runaway rules. Zero means the default.
	MaxOccurrencesPerEvent int
}

// Expand turns parsed events into occurrences within the configured
// range, applying RRULE, EXDATE and RECURRENCE-ID overrides. Cancelled
// events and cancelled overrides produce nothing. The result is ordered
// by start time, then UID.
func Expand(events []ParsedEvent, cfg ExpandConfig, log *appLog.Logger) ([]Occurrence, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	base := make(map[string][]ParsedEvent)
	overrides := make(map[string][]ParsedEvent)
	var uids []string
	for _, ev := range events {
		if ev.IsOverride() {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		if _, seen := base[ev.UID]; !seen {
			uids = append(uids, ev.UID)
		}
		base[ev.UID] = append(base[ev.UID], ev)
	}

	var out []Occurrence
	for _, uid := range uids {
		for _, ev := range base[uid] {
			if ev.Cancelled {
				continue
			}
			occ, truncated := expandEvent(ev, overrides[uid], cfg, log)
			if truncated {
				log.Warn("expand: occurrences truncated", "uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
			}
			out = append(out, occ...)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].Event.UID < out[j].Event.UID
	})
	return out, nil
}

func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig, log *appLog.Logger) ([]Occurrence, bool) {
	if ev.RawRRule == "" {
		if !inRange(ev.Start, cfg) {
			return nil, false
		}
		return occurrence(ev, ev.Start, ev.End, overrides), false
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		log.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	starts := set.Between(cfg.RangeStart.In(ev.Start.Location()), cfg.RangeEnd.In(ev.Start.Location()), true)
	truncated := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		truncated = true
	}

	dur := ev.End.Sub(ev.Start)
	var out []Occurrence
	for _, s := range starts {
		out = append(out, occurrence(ev, s, s.Add(dur), overrides)...)
	}
	return out, truncated
}

// occurrence applies a matching override, if any. A cancelled override
// drops the instance.
func occurrence(ev ParsedEvent, start, end time.Time, overrides []ParsedEvent) []Occurrence {
	for _, ov := range overrides {
		if ov.Recurrence.Equal(start) {
			if ov.Cancelled {
				return nil
			}
			return []Occurrence{{Event: ov, Start: ov.Start, End: ov.End}}
		}
	}
	return []Occurrence{{Event: ev, Start: start, End: end}}
}

func inRange(t time.Time, cfg ExpandConfig) bool {
	return !t.Before(cfg.RangeStart) && !t.After(cfg.RangeEnd)
}

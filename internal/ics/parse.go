package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "fixturecal/internal/log"
)

// PropBroadcaster names the TV channel showing a fixture, when a feed
// provides it.
const PropBroadcaster ical.ComponentProperty = "X-BROADCASTER"

// ParsedEvent is one VEVENT from a fixture feed. Recurrence is recorded
// but not expanded here.
type ParsedEvent struct {
	Feed Feed

	UID         string
	Summary     string
	Description string
	Location    string
	Categories  []string
	Broadcaster string
	Cancelled   bool

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time
}

// IsOverride reports whether the event replaces one instance of a
// recurring event.
func (e ParsedEvent) IsOverride() bool { return e.Recurrence != nil }

// Parse decodes a feed body. Individual VEVENTs that cannot be read are
// logged and skipped.
func Parse(feed Feed, body []byte, log *appLog.Logger) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feed.ID, err)
	}

	events := make([]ParsedEvent, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(feed, ve)
		if err != nil {
			log.Warn("feed event skipped", "feed", feed.ID, "reason", err.Error())
			continue
		}
		events = append(events, ev)
	}
	log.Debug("feed parsed", "feed", feed.ID, "events", len(events))
	return events, nil
}

func parseVEvent(feed Feed, ve *ical.VEvent) (ParsedEvent, error) {
	out := ParsedEvent{Feed: feed}

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = strings.TrimSpace(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}
	if p := ve.GetProperty(PropBroadcaster); p != nil {
		out.Broadcaster = strings.TrimSpace(p.Value)
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyCategories) {
		for _, c := range strings.Split(p.Value, ",") {
			if c = strings.TrimSpace(c); c != "" {
				out.Categories = append(out.Categories, c)
			}
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		out.Cancelled = strings.EqualFold(p.Value, string(ical.ObjectStatusCancelled))
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, fmt.Errorf("uid %s: DTSTART: %w", out.UID, err)
	}
	out.Start = start
	if end, err := ve.GetEndAt(); err == nil {
		out.End = end
	} else {
		out.End = start
	}

	if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil {
		if vs := p.ICalParameters["VALUE"]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			out.AllDay = true
		}
		if !strings.Contains(p.Value, "T") {
			out.AllDay = true
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, start.Location()); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertyRecurrenceId); p != nil {
		if t, err := parseICSTime(p.Value, start.Location()); err == nil {
			out.Recurrence = &t
		}
	}
	return out, nil
}

// parseICSTime reads the UTC, floating and date-only forms used by
// EXDATE and RECURRENCE-ID. Floating values are read in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if loc == nil {
		loc = time.UTC
	}
	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

// Package view turns the game set into per-calendar projections. A Policy
// decides which games belong on a calendar, which instant each entry is
// anchored on and how its title and description read.
package view

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"fixturecal/internal/config"
	"fixturecal/internal/model"
	"fixturecal/internal/remote"
)

// ErrNoProjection is returned by Project when the game lacks the instant
// the view is anchored on (e.g. no ticket sale date yet).
var ErrNoProjection = errors.New("game has no instant for this view")

// Selector is a membership rule.
type Selector string

const (
	SelectAll        Selector = "all"
	SelectAttended   Selector = "attended"
	SelectUnattended Selector = "unattended"
	SelectHome       Selector = "home"
	SelectAway       Selector = "away"
	SelectTickets    Selector = "tickets"
)

// Projection picks the game field a calendar entry starts at.
type Projection string

const (
	ProjectDatePlayed    Projection = "date_played"
	ProjectTicketsOnSale Projection = "tickets_on_sale"
)

// Policy is one calendar view. It is immutable once built.
type Policy struct {
	ID          string
	CalendarID  string
	Title       string
	Description string

	Selector     Selector
	Projection   Projection
	Duration     time.Duration
	Transparency remote.Transparency
	TitlePrefix  string
}

// FromConfig builds a Policy from a normalized view config.
func FromConfig(vc config.ViewConfig) (Policy, error) {
	d, err := time.ParseDuration(vc.Duration)
	if err != nil {
		return Policy{}, fmt.Errorf("view %q: duration: %w", vc.ID, err)
	}
	if d <= 0 {
		return Policy{}, fmt.Errorf("view %q: duration must be positive", vc.ID)
	}

	p := Policy{
		ID:           vc.ID,
		CalendarID:   vc.CalendarID,
		Title:        vc.Title,
		Description:  vc.Description,
		Selector:     Selector(vc.Select),
		Projection:   Projection(vc.Project),
		Duration:     d,
		Transparency: remote.Transparency(vc.Transparency).Normalize(),
		TitlePrefix:  vc.TitlePrefix,
	}
	if p.CalendarID == "" {
		p.CalendarID = p.ID
	}
	switch p.Selector {
	case SelectAll, SelectAttended, SelectUnattended, SelectHome, SelectAway, SelectTickets:
	default:
		return Policy{}, fmt.Errorf("view %q: unknown select %q", vc.ID, vc.Select)
	}
	switch p.Projection {
	case ProjectDatePlayed, ProjectTicketsOnSale:
	default:
		return Policy{}, fmt.Errorf("view %q: unknown project %q", vc.ID, vc.Project)
	}
	switch p.Transparency {
	case remote.Opaque, remote.Transparent:
	default:
		return Policy{}, fmt.Errorf("view %q: unknown transparency %q", vc.ID, vc.Transparency)
	}
	return p, nil
}

// FromConfigs builds every view in order.
func FromConfigs(vcs []config.ViewConfig) ([]Policy, error) {
	out := make([]Policy, 0, len(vcs))
	for _, vc := range vcs {
		p, err := FromConfig(vc)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Belongs reports whether g should appear on the view's calendar.
func (p Policy) Belongs(g model.Game) bool {
	switch p.Selector {
	case SelectAll:
		return true
	case SelectAttended:
		return g.Attended
	case SelectUnattended:
		return !g.Attended
	case SelectHome:
		return g.Location == model.Home
	case SelectAway:
		return g.Location == model.Away
	case SelectTickets:
		return g.TicketsOnSale != nil
	}
	return false
}

// Project returns the interval g occupies on this view, truncated to
// whole seconds and expressed in UTC.
func (p Policy) Project(g model.Game) (time.Time, time.Time, error) {
	var start time.Time
	switch p.Projection {
	case ProjectTicketsOnSale:
		if g.TicketsOnSale == nil {
			return time.Time{}, time.Time{}, fmt.Errorf("game %d: %w", g.ID, ErrNoProjection)
		}
		start = *g.TicketsOnSale
	default:
		start = g.DatePlayed
	}
	if start.IsZero() {
		return time.Time{}, time.Time{}, fmt.Errorf("game %d: %w", g.ID, ErrNoProjection)
	}
	start = start.UTC().Truncate(time.Second)
	return start, start.Add(p.Duration), nil
}

// RenderTitle builds "[prefix ]Opponents (H|A) Competition[ - Broadcaster]".
func (p Policy) RenderTitle(g model.Game) string {
	var b strings.Builder
	if p.TitlePrefix != "" {
		b.WriteString(p.TitlePrefix)
		b.WriteByte(' ')
	}
	b.WriteString(g.Opponents)
	b.WriteString(" (")
	b.WriteString(g.Location.Short())
	b.WriteByte(')')
	if g.Competition != "" {
		b.WriteByte(' ')
		b.WriteString(g.Competition)
	}
	if g.Broadcaster != "" {
		b.WriteString(" - ")
		b.WriteString(g.Broadcaster)
	}
	return b.String()
}

// RenderDescription lists the game's known details one per line. Empty
// fields are omitted, so an unplayed game with no extras renders as "".
func (p Policy) RenderDescription(g model.Game) string {
	var lines []string
	if g.Result != "" {
		lines = append(lines, "Result: "+g.Result)
	}
	if g.Attendance > 0 {
		lines = append(lines, "Attendance: "+strconv.Itoa(g.Attendance))
	}
	if g.MatchReport != "" {
		lines = append(lines, "Match report: "+g.MatchReport)
	}
	if g.Broadcaster != "" {
		lines = append(lines, "Broadcaster: "+g.Broadcaster)
	}
	if g.TicketsOnSale != nil && p.Projection != ProjectTicketsOnSale {
		lines = append(lines, "Tickets on sale: "+g.TicketsOnSale.UTC().Format(time.RFC3339))
	}
	return strings.Join(lines, "\n")
}

// Desired assembles the entry g should have on this view's calendar.
func (p Policy) Desired(g model.Game) (remote.Event, error) {
	start, end, err := p.Project(g)
	if err != nil {
		return remote.Event{}, err
	}
	return remote.Event{
		GameID:       g.ID,
		Title:        p.RenderTitle(g),
		Description:  p.RenderDescription(g),
		Start:        start,
		End:          end,
		Transparency: p.Transparency,
	}, nil
}

// TextEqual compares two text fields after NFC normalization and
// trimming, so an absent field equals an empty one.
func TextEqual(a, b string) bool {
	return norm.NFC.String(strings.TrimSpace(a)) == norm.NFC.String(strings.TrimSpace(b))
}

// SameSecond reports whether a and b fall in the same whole second.
func SameSecond(a, b time.Time) bool {
	return a.Unix() == b.Unix()
}

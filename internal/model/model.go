package model

import (
	"fmt"
	"strings"
	"time"
)

// Location says where a game is played from the club's point of view.
type Location string

const (
	Home Location = "HOME"
	Away Location = "AWAY"
)

// Short returns the single-letter marker used in rendered titles.
func (l Location) Short() string {
	if l == Home {
		return "H"
	}
	return "A"
}

// ParseLocation accepts HOME/AWAY and the H/A shorthand, case-insensitive.
func ParseLocation(s string) (Location, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HOME", "H":
		return Home, nil
	case "AWAY", "A":
		return Away, nil
	default:
		return "", fmt.Errorf("unknown location %q", s)
	}
}

// BusinessKey identifies a game before it has been assigned an ID, e.g.
// a freshly imported fixture. It is unique across all games.
type BusinessKey struct {
	Competition string
	Location    Location
	Opponents   string
	Season      int
}

func (k BusinessKey) String() string {
	return fmt.Sprintf("%d/%s/%s/%s", k.Season, k.Competition, k.Location, k.Opponents)
}

// Game is the locally authoritative record that drives what should exist
// on every external calendar. ID is assigned once by the repository and
// never reused; zero means "not persisted yet".
type Game struct {
	ID int64

	Competition string
	Location    Location
	Opponents   string
	Season      int

	// DatePlayed is the scheduled kick-off instant.
	DatePlayed time.Time
	// TicketsOnSale is when general sale opens, if known.
	TicketsOnSale *time.Time

	Result      string
	Attendance  int
	MatchReport string
	Broadcaster string
	Attended    bool
}

// Key returns the game's business key.
func (g Game) Key() BusinessKey {
	return BusinessKey{
		Competition: g.Competition,
		Location:    g.Location,
		Opponents:   g.Opponents,
		Season:      g.Season,
	}
}

// Played reports whether a result has been recorded.
func (g Game) Played() bool {
	return g.Result != ""
}

// Clone returns a deep copy of g.
func (g Game) Clone() Game {
	if g.TicketsOnSale != nil {
		t := *g.TicketsOnSale
		g.TicketsOnSale = &t
	}
	return g
}

// Package changelog records what a reconciliation pass changed. Entries
// are totally ordered by (calendar, game id, kind) so that identical runs
// serialize identically.
package changelog

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
)

// Kind is the closed set of change variants. The numeric value is the
// tie-break rank within one (calendar, game).
type Kind int

const (
	KindAdded Kind = iota + 1
	KindUpdated
	KindRemoved
)

func (k Kind) String() string {
	switch k {
	case KindAdded:
		return "added"
	case KindUpdated:
		return "updated"
	case KindRemoved:
		return "removed"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	switch k {
	case KindAdded, KindUpdated, KindRemoved:
		return []byte(k.String()), nil
	}
	return nil, fmt.Errorf("changelog: invalid kind %d", int(k))
}

func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "added":
		*k = KindAdded
	case "updated":
		*k = KindUpdated
	case "removed":
		*k = KindRemoved
	default:
		return fmt.Errorf("changelog: unknown kind %q", b)
	}
	return nil
}

// Entry is one change made to one calendar.
type Entry struct {
	Kind       Kind   `json:"kind"`
	CalendarID string `json:"calendar"`
	GameID     int64  `json:"game_id"`
	// Title is the rendered title for Added/Updated, empty for Removed.
	Title string `json:"title,omitempty"`
}

func Added(calendarID string, gameID int64, title string) Entry {
	return Entry{Kind: KindAdded, CalendarID: calendarID, GameID: gameID, Title: title}
}

func Updated(calendarID string, gameID int64, title string) Entry {
	return Entry{Kind: KindUpdated, CalendarID: calendarID, GameID: gameID, Title: title}
}

func Removed(calendarID string, gameID int64) Entry {
	return Entry{Kind: KindRemoved, CalendarID: calendarID, GameID: gameID}
}

// Compare orders entries by calendar, then game id, then kind.
func Compare(a, b Entry) int {
	if c := strings.Compare(a.CalendarID, b.CalendarID); c != 0 {
		return c
	}
	if c := cmp.Compare(a.GameID, b.GameID); c != 0 {
		return c
	}
	return cmp.Compare(a.Kind, b.Kind)
}

// String renders kind, calendar, game id and title separated by tabs.
func (e Entry) String() string {
	s := e.Kind.String() + "\t" + e.CalendarID + "\t" + strconv.FormatInt(e.GameID, 10)
	if e.Title != "" {
		s += "\t" + e.Title
	}
	return s
}

// Set is a sorted, deduplicated collection of entries. Two entries with
// the same (calendar, game, kind) are the same change; the first one
// added wins. The zero value is ready to use. A Set is not safe for
// concurrent mutation.
type Set struct {
	entries []Entry
}

// New returns a Set holding entries.
func New(entries ...Entry) *Set {
	s := &Set{}
	for _, e := range entries {
		s.Add(e)
	}
	return s
}

// Add inserts e in order and reports whether it was new.
func (s *Set) Add(e Entry) bool {
	i, found := slices.BinarySearchFunc(s.entries, e, Compare)
	if found {
		return false
	}
	s.entries = slices.Insert(s.entries, i, e)
	return true
}

// Merge adds every entry of other.
func (s *Set) Merge(other *Set) {
	if other == nil {
		return
	}
	for _, e := range other.entries {
		s.Add(e)
	}
}

// Entries returns a copy of the entries in order.
func (s *Set) Entries() []Entry {
	if s == nil {
		return nil
	}
	return slices.Clone(s.entries)
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

func (s *Set) Empty() bool { return s.Len() == 0 }

// Count returns how many entries are of kind k.
func (s *Set) Count(k Kind) int {
	if s == nil {
		return 0
	}
	n := 0
	for _, e := range s.entries {
		if e.Kind == k {
			n++
		}
	}
	return n
}

// Calendar returns the entries for one calendar.
func (s *Set) Calendar(calendarID string) []Entry {
	var out []Entry
	for _, e := range s.Entries() {
		if e.CalendarID == calendarID {
			out = append(out, e)
		}
	}
	return out
}

// WriteTo writes one entry per line.
func (s *Set) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, e := range s.Entries() {
		n, err := io.WriteString(w, e.String()+"\n")
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// MarshalJSON encodes the set as an ordered array; an empty set is [].
func (s *Set) MarshalJSON() ([]byte, error) {
	entries := s.Entries()
	if entries == nil {
		entries = []Entry{}
	}
	return json.Marshal(entries)
}

func (s *Set) UnmarshalJSON(b []byte) error {
	var entries []Entry
	if err := json.Unmarshal(b, &entries); err != nil {
		return err
	}
	s.entries = nil
	for _, e := range entries {
		s.Add(e)
	}
	return nil
}

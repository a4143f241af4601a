// Package remote defines the narrow capability interface the sync engine
// uses to reach an external calendar, plus the value types that cross it.
// Concrete bindings live in subpackages.
package remote

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrNotFound is returned by Get, Update and Delete for an unknown or
// cancelled remote id.
var ErrNotFound = errors.New("remote event not found")

// Transparency controls whether an entry renders as busy or free.
type Transparency string

const (
	Opaque      Transparency = "opaque"
	Transparent Transparency = "transparent"
)

// Normalize maps the empty value to Opaque, the calendar default.
func (t Transparency) Normalize() Transparency {
	if t == "" {
		return Opaque
	}
	return t
}

// Event is the remote-side projection of one game.
type Event struct {
	// ID is assigned by the store and stable across updates.
	ID string
	// GameID is the domain id persisted on the remote entry. It is the
	// only way to recover the game-to-entry mapping without an index.
	GameID int64

	Title        string
	Description  string
	Start        time.Time
	End          time.Time
	Transparency Transparency

	// Cancelled entries are invisible to listing, lookup and search.
	Cancelled bool
}

// Tag pairs a game id with the remote entry that carries it.
type Tag struct {
	GameID   int64
	RemoteID string
}

// Patch carries only the fields an update should change. Nil means
// "leave as is".
type Patch struct {
	Title        *string
	Description  *string
	Start        *time.Time
	End          *time.Time
	Transparency *Transparency
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Start == nil && p.End == nil && p.Transparency == nil
}

// Fields lists the names of the fields the patch sets, in a fixed order.
func (p Patch) Fields() []string {
	var out []string
	if p.Title != nil {
		out = append(out, "title")
	}
	if p.Description != nil {
		out = append(out, "description")
	}
	if p.Start != nil {
		out = append(out, "start")
	}
	if p.End != nil {
		out = append(out, "end")
	}
	if p.Transparency != nil {
		out = append(out, "transparency")
	}
	return out
}

// Apply returns ev with the patch merged in.
func (p Patch) Apply(ev Event) Event {
	if p.Title != nil {
		ev.Title = *p.Title
	}
	if p.Description != nil {
		ev.Description = *p.Description
	}
	if p.Start != nil {
		ev.Start = *p.Start
	}
	if p.End != nil {
		ev.End = *p.End
	}
	if p.Transparency != nil {
		ev.Transparency = *p.Transparency
	}
	return ev
}

// Window is a closed time range for QueryWindow. The zero Window is
// unbounded.
type Window struct {
	Start time.Time
	End   time.Time
}

// Unbounded reports whether w places no constraint on start times.
func (w Window) Unbounded() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// Contains reports whether t lies within the closed window.
func (w Window) Contains(t time.Time) bool {
	if w.Unbounded() {
		return true
	}
	return !t.Before(w.Start) && !t.After(w.End)
}

// Store is one external calendar service. Every operation is scoped to a
// calendar id. Implementations own transport concerns (auth, retries,
// timeouts); failures surface as plain errors.
type Store interface {
	// ListTagged returns every non-cancelled entry carrying a game id.
	ListTagged(ctx context.Context, calendarID string) ([]Tag, error)
	Get(ctx context.Context, calendarID, remoteID string) (Event, error)
	// Create stores ev (ev.ID is ignored) and returns the new remote id.
	Create(ctx context.Context, calendarID string, ev Event) (string, error)
	Update(ctx context.Context, calendarID, remoteID string, patch Patch) error
	Delete(ctx context.Context, calendarID, remoteID string) error
	// QueryWindow finds the non-cancelled entry tagged with gameID whose
	// start lies within w.
	QueryWindow(ctx context.Context, calendarID string, gameID int64, w Window) (remoteID string, found bool, err error)
}

// SortTags orders tags by game id, then remote id.
func SortTags(tags []Tag) {
	sort.Slice(tags, func(i, j int) bool {
		if tags[i].GameID != tags[j].GameID {
			return tags[i].GameID < tags[j].GameID
		}
		return tags[i].RemoteID < tags[j].RemoteID
	})
}

// Package memstore is an in-memory remote.Store. It backs the "memory"
// remote driver and the engine tests: it counts calls per operation and
// can be told to fail specific calls.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"fixturecal/internal/remote"
)

// Op names a Store operation for counting and fault injection.
type Op string

const (
	OpList   Op = "list"
	OpGet    Op = "get"
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpQuery  Op = "query"
)

// AnyGame matches every game id in FailNext.
const AnyGame int64 = -1

type fault struct {
	op       Op
	calendar string
	gameID   int64
	err      error
}

// Store keeps calendars as maps of remote id to event.
type Store struct {
	mu        sync.Mutex
	calendars map[string]map[string]remote.Event
	seq       int
	calls     map[Op]int
	patches   []remote.Patch
	queries   []remote.Window
	faults    []fault
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		calendars: make(map[string]map[string]remote.Event),
		calls:     make(map[Op]int),
	}
}

// FailNext makes the next op on calendarID touching gameID (or any game
// for AnyGame) return err. An empty calendarID matches every calendar.
func (s *Store) FailNext(op Op, calendarID string, gameID int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, fault{op: op, calendar: calendarID, gameID: gameID, err: err})
}

// Calls returns how many times op was invoked.
func (s *Store) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Mutations returns the number of create, update and delete calls.
func (s *Store) Mutations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[OpCreate] + s.calls[OpUpdate] + s.calls[OpDelete]
}

// ResetCalls zeroes counters and recorded patches/queries.
func (s *Store) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = make(map[Op]int)
	s.patches = nil
	s.queries = nil
}

// Patches returns every patch passed to Update, in call order.
func (s *Store) Patches() []remote.Patch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]remote.Patch(nil), s.patches...)
}

// Queries returns every window passed to QueryWindow, in call order.
func (s *Store) Queries() []remote.Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]remote.Window(nil), s.queries...)
}

// Put seeds an event directly, bypassing counters. An empty ev.ID gets a
// generated one, which is returned.
func (s *Store) Put(calendarID string, ev remote.Event) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID == "" {
		ev.ID = s.nextID(calendarID)
	}
	s.calendar(calendarID)[ev.ID] = ev
	return ev.ID
}

// Events returns every event in calendarID, cancelled included, ordered
// by game id then remote id.
func (s *Store) Events(calendarID string) []remote.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]remote.Event, 0, len(s.calendars[calendarID]))
	for _, ev := range s.calendars[calendarID] {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GameID != out[j].GameID {
			return out[i].GameID < out[j].GameID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Calendars returns the ids of calendars that hold at least one event.
func (s *Store) Calendars() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.calendars))
	for id, evs := range s.calendars {
		if len(evs) > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Store) ListTagged(ctx context.Context, calendarID string) ([]remote.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[OpList]++
	if err := s.takeFault(OpList, calendarID, AnyGame); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var tags []remote.Tag
	for id, ev := range s.calendars[calendarID] {
		if ev.Cancelled || ev.GameID == 0 {
			continue
		}
		tags = append(tags, remote.Tag{GameID: ev.GameID, RemoteID: id})
	}
	remote.SortTags(tags)
	return tags, nil
}

func (s *Store) Get(ctx context.Context, calendarID, remoteID string) (remote.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[OpGet]++
	ev, ok := s.calendars[calendarID][remoteID]
	if err := s.takeFault(OpGet, calendarID, ev.GameID); err != nil {
		return remote.Event{}, err
	}
	if !ok || ev.Cancelled {
		return remote.Event{}, fmt.Errorf("get %s/%s: %w", calendarID, remoteID, remote.ErrNotFound)
	}
	return ev, nil
}

func (s *Store) Create(ctx context.Context, calendarID string, ev remote.Event) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[OpCreate]++
	if err := s.takeFault(OpCreate, calendarID, ev.GameID); err != nil {
		return "", err
	}
	ev.ID = s.nextID(calendarID)
	ev.Cancelled = false
	s.calendar(calendarID)[ev.ID] = ev
	return ev.ID, nil
}

func (s *Store) Update(ctx context.Context, calendarID, remoteID string, patch remote.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[OpUpdate]++
	ev, ok := s.calendars[calendarID][remoteID]
	if err := s.takeFault(OpUpdate, calendarID, ev.GameID); err != nil {
		return err
	}
	if !ok || ev.Cancelled {
		return fmt.Errorf("update %s/%s: %w", calendarID, remoteID, remote.ErrNotFound)
	}
	s.patches = append(s.patches, patch)
	s.calendars[calendarID][remoteID] = patch.Apply(ev)
	return nil
}

func (s *Store) Delete(ctx context.Context, calendarID, remoteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[OpDelete]++
	ev, ok := s.calendars[calendarID][remoteID]
	if err := s.takeFault(OpDelete, calendarID, ev.GameID); err != nil {
		return err
	}
	if !ok || ev.Cancelled {
		return fmt.Errorf("delete %s/%s: %w", calendarID, remoteID, remote.ErrNotFound)
	}
	delete(s.calendars[calendarID], remoteID)
	return nil
}

func (s *Store) QueryWindow(ctx context.Context, calendarID string, gameID int64, w remote.Window) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[OpQuery]++
	s.queries = append(s.queries, w)
	if err := s.takeFault(OpQuery, calendarID, gameID); err != nil {
		return "", false, err
	}

	ids := make([]string, 0)
	for id, ev := range s.calendars[calendarID] {
		if ev.Cancelled || ev.GameID != gameID || !w.Contains(ev.Start) {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return "", false, nil
	}
	sort.Strings(ids)
	return ids[0], true, nil
}

func (s *Store) calendar(id string) map[string]remote.Event {
	c, ok := s.calendars[id]
	if !ok {
		c = make(map[string]remote.Event)
		s.calendars[id] = c
	}
	return c
}

func (s *Store) nextID(calendarID string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", calendarID, s.seq)
}

// takeFault must be called with s.mu held.
func (s *Store) takeFault(op Op, calendarID string, gameID int64) error {
	for i, f := range s.faults {
		if f.op != op {
			continue
		}
		if f.calendar != "" && f.calendar != calendarID {
			continue
		}
		if f.gameID != AnyGame && f.gameID != gameID {
			continue
		}
		s.faults = append(s.faults[:i], s.faults[i+1:]...)
		return f.err
	}
	return nil
}

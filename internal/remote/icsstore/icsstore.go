// Package icsstore implements remote.Store on top of plain iCalendar files:
// each calendar is one <calendar>.ics file in a directory, which can be
// served as a subscription feed. Entries carry their game id in an
// X-FIXTURECAL-GAME-ID property.
package icsstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"fixturecal/internal/fsutil"
	appLog "fixturecal/internal/log"
	"fixturecal/internal/remote"
)

// PropGameID tags an entry with the game it projects.
const PropGameID ical.ComponentProperty = "X-FIXTURECAL-GAME-ID"

const productID = "fixturecal"

// Store keeps one ICS file per calendar under dir. All operations are
// serialized by a single mutex; each call reads, mutates and atomically
// rewrites the file it touches.
type Store struct {
	dir string
	log *appLog.Logger
	now func() time.Time

	mu    sync.Mutex
	names map[string]string
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger sets the logger used for parse/write diagnostics.
func WithLogger(l *appLog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithClock overrides the DTSTAMP/LAST-MODIFIED source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates the directory if needed and returns a Store rooted there.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("icsstore: directory is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("icsstore: create %s: %w", dir, err)
	}
	s := &Store{
		dir:   dir,
		log:   appLog.Discard(),
		now:   time.Now,
		names: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetCalendarName sets the X-WR-CALNAME written for calendarID.
func (s *Store) SetCalendarName(calendarID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[calendarID] = name
}

// Feed returns the serialized calendar, or an empty calendar if nothing
// has been written yet.
func (s *Store) Feed(calendarID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cal, err := s.load(calendarID)
	if err != nil {
		return nil, err
	}
	return []byte(cal.Serialize()), nil
}

func (s *Store) ListTagged(ctx context.Context, calendarID string) ([]remote.Tag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cal, err := s.load(calendarID)
	if err != nil {
		return nil, err
	}
	var tags []remote.Tag
	for _, ve := range cal.Events() {
		ev, ok := decode(ve)
		if !ok || ev.Cancelled {
			continue
		}
		tags = append(tags, remote.Tag{GameID: ev.GameID, RemoteID: ev.ID})
	}
	remote.SortTags(tags)
	return tags, nil
}

func (s *Store) Get(ctx context.Context, calendarID, remoteID string) (remote.Event, error) {
	if err := ctx.Err(); err != nil {
		return remote.Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cal, err := s.load(calendarID)
	if err != nil {
		return remote.Event{}, err
	}
	ve := find(cal, remoteID)
	if ve == nil {
		return remote.Event{}, fmt.Errorf("get %s/%s: %w", calendarID, remoteID, remote.ErrNotFound)
	}
	ev, _ := decode(ve)
	if ev.Cancelled {
		return remote.Event{}, fmt.Errorf("get %s/%s: %w", calendarID, remoteID, remote.ErrNotFound)
	}
	return ev, nil
}

func (s *Store) Create(ctx context.Context, calendarID string, ev remote.Event) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cal, err := s.load(calendarID)
	if err != nil {
		return "", err
	}

	id := uuid.NewString() + "@" + productID
	ve := cal.AddEvent(id)
	now := s.now()
	ve.SetDtStampTime(now)
	ve.SetCreatedTime(now)
	ve.SetSequence(0)
	ve.SetProperty(PropGameID, strconv.FormatInt(ev.GameID, 10))
	setText(ve, ical.ComponentPropertySummary, ev.Title)
	setText(ve, ical.ComponentPropertyDescription, ev.Description)
	ve.SetStartAt(ev.Start)
	ve.SetEndAt(ev.End)
	ve.SetTimeTransparency(transp(ev.Transparency))

	if err := s.save(calendarID, cal); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Update(ctx context.Context, calendarID, remoteID string, patch remote.Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cal, err := s.load(calendarID)
	if err != nil {
		return err
	}
	ve := find(cal, remoteID)
	if ve == nil || cancelled(ve) {
		return fmt.Errorf("update %s/%s: %w", calendarID, remoteID, remote.ErrNotFound)
	}

	if patch.Title != nil {
		setText(ve, ical.ComponentPropertySummary, *patch.Title)
	}
	if patch.Description != nil {
		setText(ve, ical.ComponentPropertyDescription, *patch.Description)
	}
	if patch.Start != nil {
		ve.SetStartAt(*patch.Start)
	}
	if patch.End != nil {
		ve.SetEndAt(*patch.End)
	}
	if patch.Transparency != nil {
		ve.SetTimeTransparency(transp(*patch.Transparency))
	}
	ve.SetDtStampTime(s.now())
	ve.SetModifiedAt(s.now())
	ve.SetSequence(sequence(ve) + 1)

	return s.save(calendarID, cal)
}

func (s *Store) Delete(ctx context.Context, calendarID, remoteID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cal, err := s.load(calendarID)
	if err != nil {
		return err
	}
	ve := find(cal, remoteID)
	if ve == nil || cancelled(ve) {
		return fmt.Errorf("delete %s/%s: %w", calendarID, remoteID, remote.ErrNotFound)
	}
	cal.RemoveEvent(remoteID)
	return s.save(calendarID, cal)
}

func (s *Store) QueryWindow(ctx context.Context, calendarID string, gameID int64, w remote.Window) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cal, err := s.load(calendarID)
	if err != nil {
		return "", false, err
	}
	for _, ve := range cal.Events() {
		ev, ok := decode(ve)
		if !ok || ev.Cancelled || ev.GameID != gameID {
			continue
		}
		if w.Contains(ev.Start) {
			return ev.ID, true, nil
		}
	}
	return "", false, nil
}

func (s *Store) path(calendarID string) string {
	return filepath.Join(s.dir, fileName(calendarID)+".ics")
}

// load must be called with s.mu held.
func (s *Store) load(calendarID string) (*ical.Calendar, error) {
	data, err := os.ReadFile(s.path(calendarID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s.newCalendar(calendarID), nil
		}
		return nil, fmt.Errorf("icsstore: read %s: %w", calendarID, err)
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(data))
	if err != nil {
		s.log.Error("icsstore: parse failed", err, "calendar", calendarID)
		return nil, fmt.Errorf("icsstore: parse %s: %w", calendarID, err)
	}
	return cal, nil
}

// save must be called with s.mu held.
func (s *Store) save(calendarID string, cal *ical.Calendar) error {
	if err := fsutil.WriteFileAtomic(s.path(calendarID), []byte(cal.Serialize()), ".fixturecal-cal-*.tmp"); err != nil {
		return fmt.Errorf("icsstore: write %s: %w", calendarID, err)
	}
	return nil
}

func (s *Store) newCalendar(calendarID string) *ical.Calendar {
	cal := ical.NewCalendarFor(productID)
	cal.SetMethod(ical.MethodPublish)
	name := s.names[calendarID]
	if name == "" {
		name = calendarID
	}
	cal.SetXWRCalName(name)
	return cal
}

func find(cal *ical.Calendar, remoteID string) *ical.VEvent {
	for _, ve := range cal.Events() {
		if ve.Id() == remoteID {
			return ve
		}
	}
	return nil
}

// decode maps a VEVENT to a remote.Event. ok is false when the entry has
// no game tag, i.e. it was not written by this application.
func decode(ve *ical.VEvent) (remote.Event, bool) {
	ev := remote.Event{ID: ve.Id(), Cancelled: cancelled(ve)}

	p := ve.GetProperty(PropGameID)
	if p == nil {
		return ev, false
	}
	gameID, err := strconv.ParseInt(strings.TrimSpace(p.Value), 10, 64)
	if err != nil || gameID <= 0 {
		return ev, false
	}
	ev.GameID = gameID

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.Title = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		ev.Description = p.Value
	}
	ev.Start, _ = ve.GetStartAt()
	ev.End, _ = ve.GetEndAt()

	ev.Transparency = remote.Opaque
	if p := ve.GetProperty(ical.ComponentPropertyTransp); p != nil && strings.EqualFold(p.Value, string(ical.TransparencyTransparent)) {
		ev.Transparency = remote.Transparent
	}
	return ev, true
}

func cancelled(ve *ical.VEvent) bool {
	p := ve.GetProperty(ical.ComponentPropertyStatus)
	return p != nil && strings.EqualFold(p.Value, string(ical.ObjectStatusCancelled))
}

func sequence(ve *ical.VEvent) int {
	p := ve.GetProperty(ical.ComponentPropertySequence)
	if p == nil {
		return 0
	}
	n, _ := strconv.Atoi(strings.TrimSpace(p.Value))
	return n
}

// setText writes a TEXT property, dropping it entirely for an empty value
// so that "cleared" and "never set" look the same on the wire.
func setText(ve *ical.VEvent, prop ical.ComponentProperty, value string) {
	if value == "" {
		ve.RemoveProperty(prop)
		return
	}
	ve.SetProperty(prop, value)
}

func transp(t remote.Transparency) ical.TimeTransparency {
	if t.Normalize() == remote.Transparent {
		return ical.TransparencyTransparent
	}
	return ical.TransparencyOpaque
}

// fileName keeps [A-Za-z0-9._-] and replaces everything else with '_'.
func fileName(calendarID string) string {
	var b strings.Builder
	for _, r := range calendarID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

// Package search recovers a lost game-to-entry mapping by querying the
// remote store with symmetric windows of increasing size around an
// anchor time, ending with an unbounded query.
package search

import (
	"context"
	"fmt"
	"time"

	appLog "fixturecal/internal/log"
	"fixturecal/internal/metrics"
	"fixturecal/internal/remote"
)

// Window is a half-width around the anchor. Span zero means unbounded.
type Window struct {
	Name string
	Span time.Duration
}

// Unbounded reports whether w places no time constraint.
func (w Window) Unbounded() bool { return w.Span <= 0 }

// Range returns the closed remote window [anchor-Span, anchor+Span].
func (w Window) Range(anchor time.Time) remote.Window {
	if w.Unbounded() {
		return remote.Window{}
	}
	return remote.Window{Start: anchor.Add(-w.Span), End: anchor.Add(w.Span)}
}

// DefaultWindows is hour, day, week, month, year, then no bound.
var DefaultWindows = []Window{
	{Name: "hour", Span: time.Hour},
	{Name: "day", Span: 24 * time.Hour},
	{Name: "week", Span: 7 * 24 * time.Hour},
	{Name: "month", Span: 31 * 24 * time.Hour},
	{Name: "year", Span: 366 * 24 * time.Hour},
	{Name: "unbounded"},
}

// Result is the outcome of Locate. Found is false when no window matched.
type Result struct {
	RemoteID string
	Window   Window
	Found    bool
}

// Locator runs the widened search against one store.
type Locator struct {
	store   remote.Store
	windows []Window
	log     *appLog.Logger
	metrics *metrics.Metrics
}

// Option configures a Locator.
type Option func(*Locator)

// WithLogger sets the logger that traces every attempted window.
func WithLogger(l *appLog.Logger) Option { return func(s *Locator) { s.log = l } }

// WithMetrics counts which window produced each hit.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Locator) { s.metrics = m } }

// WithWindows replaces DefaultWindows. The list is used as given; callers
// should end it with an unbounded window to guarantee discovery.
func WithWindows(ws ...Window) Option {
	return func(s *Locator) { s.windows = append([]Window(nil), ws...) }
}

// New returns a Locator over store using DefaultWindows.
func New(store remote.Store, opts ...Option) *Locator {
	l := &Locator{store: store, windows: DefaultWindows, log: appLog.Discard()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Locate returns the first entry tagged with gameID found in the
// smallest window around anchor. A store error aborts the search.
func (l *Locator) Locate(ctx context.Context, calendarID string, gameID int64, anchor time.Time) (Result, error) {
	for _, w := range l.windows {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		id, found, err := l.store.QueryWindow(ctx, calendarID, gameID, w.Range(anchor))
		if err != nil {
			return Result{}, fmt.Errorf("search %s for game %d (%s window): %w", calendarID, gameID, w.Name, err)
		}
		l.log.Debug("search window tried", "calendar", calendarID, "game_id", gameID, "window", w.Name, "found", found)
		if found {
			l.metrics.SearchHit(w.Name)
			return Result{RemoteID: id, Window: w, Found: true}, nil
		}
	}
	l.metrics.SearchHit("none")
	return Result{}, nil
}

// Package reconcile converges one remote calendar onto the game set. A
// pass lists the calendar's tagged entries once, creates or patches an
// entry for every game the view selects, and deletes whatever is left.
// Running a pass twice on unchanged input issues no mutating calls.
package reconcile

import (
	"context"
	"fmt"
	"sort"

	"fixturecal/internal/changelog"
	appLog "fixturecal/internal/log"
	"fixturecal/internal/metrics"
	"fixturecal/internal/model"
	"fixturecal/internal/remote"
	"fixturecal/internal/view"
)

// Engine drives a remote.Store. It holds no state between calls, so one
// Engine may run passes for different calendars concurrently.
type Engine struct {
	store   remote.Store
	log     *appLog.Logger
	metrics *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for per-event failures and pass summaries.
func WithLogger(l *appLog.Logger) Option { return func(e *Engine) { e.log = l } }

// WithMetrics counts changes and failures on m.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// New returns an Engine writing to store.
func New(store remote.Store, opts ...Option) *Engine {
	e := &Engine{store: store, log: appLog.Discard()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the store the engine writes to.
func (e *Engine) Store() remote.Store { return e.store }

// Reconcile runs one pass for policy against calendarID. Only a failure
// to list the calendar is returned; failures on single entries are
// logged, counted and left out of the change set.
func (e *Engine) Reconcile(ctx context.Context, policy view.Policy, calendarID string, games []model.Game) (*changelog.Set, error) {
	tags, err := e.store.ListTagged(ctx, calendarID)
	if err != nil {
		e.metrics.PassFailure(calendarID)
		return nil, fmt.Errorf("list %s: %w", calendarID, err)
	}

	index := make(map[int64]string, len(tags))
	for _, t := range tags {
		if prev, dup := index[t.GameID]; dup {
			e.log.Warn("duplicate remote entries for game", "calendar", calendarID, "game_id", t.GameID, "kept", prev, "ignored", t.RemoteID)
			continue
		}
		index[t.GameID] = t.RemoteID
	}

	changes := changelog.New()
	visited := make(map[int64]bool, len(games))
	for _, g := range games {
		if !policy.Belongs(g) {
			continue
		}
		if g.ID <= 0 {
			e.log.Warn("skipping unsaved game", "calendar", calendarID, "game", g.Key().String())
			continue
		}
		if visited[g.ID] {
			continue
		}
		visited[g.ID] = true

		remoteID := index[g.ID]
		delete(index, g.ID)

		entry, changed, err := e.Apply(ctx, policy, calendarID, g, remoteID)
		if err != nil {
			continue
		}
		if changed {
			changes.Add(entry)
		}
	}

	stale := make([]int64, 0, len(index))
	for id := range index {
		stale = append(stale, id)
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i] < stale[j] })
	for _, id := range stale {
		entry, err := e.Remove(ctx, calendarID, id, index[id])
		if err != nil {
			continue
		}
		changes.Add(entry)
	}

	e.log.Info("calendar reconciled", "calendar", calendarID, "view", policy.ID,
		"added", changes.Count(changelog.KindAdded),
		"updated", changes.Count(changelog.KindUpdated),
		"removed", changes.Count(changelog.KindRemoved))
	return changes, nil
}

// Apply brings one game's entry up to date. An empty remoteID creates
// the entry; otherwise the current entry is fetched and only the fields
// that differ are sent. changed is false when nothing needed doing.
// Failures are logged and counted before being returned.
func (e *Engine) Apply(ctx context.Context, policy view.Policy, calendarID string, g model.Game, remoteID string) (changelog.Entry, bool, error) {
	desired, err := policy.Desired(g)
	if err != nil {
		return changelog.Entry{}, false, e.fail(calendarID, g.ID, "project", err)
	}

	if remoteID == "" {
		id, err := e.store.Create(ctx, calendarID, desired)
		if err != nil {
			return changelog.Entry{}, false, e.fail(calendarID, g.ID, "create", err)
		}
		e.log.Debug("entry created", "calendar", calendarID, "game_id", g.ID, "remote_id", id)
		e.metrics.Change(calendarID, changelog.KindAdded.String())
		return changelog.Added(calendarID, g.ID, desired.Title), true, nil
	}

	current, err := e.store.Get(ctx, calendarID, remoteID)
	if err != nil {
		return changelog.Entry{}, false, e.fail(calendarID, g.ID, "get", err)
	}
	patch := Diff(current, desired)
	if patch.IsEmpty() {
		return changelog.Entry{}, false, nil
	}
	if err := e.store.Update(ctx, calendarID, remoteID, patch); err != nil {
		return changelog.Entry{}, false, e.fail(calendarID, g.ID, "update", err)
	}
	e.log.Debug("entry updated", "calendar", calendarID, "game_id", g.ID, "remote_id", remoteID, "fields", patch.Fields())
	e.metrics.Change(calendarID, changelog.KindUpdated.String())
	return changelog.Updated(calendarID, g.ID, desired.Title), true, nil
}

// Remove deletes one entry.
func (e *Engine) Remove(ctx context.Context, calendarID string, gameID int64, remoteID string) (changelog.Entry, error) {
	if err := e.store.Delete(ctx, calendarID, remoteID); err != nil {
		return changelog.Entry{}, e.fail(calendarID, gameID, "delete", err)
	}
	e.log.Debug("entry deleted", "calendar", calendarID, "game_id", gameID, "remote_id", remoteID)
	e.metrics.Change(calendarID, changelog.KindRemoved.String())
	return changelog.Removed(calendarID, gameID), nil
}

func (e *Engine) fail(calendarID string, gameID int64, op string, err error) error {
	e.log.Error("calendar entry failed", err, "calendar", calendarID, "game_id", gameID, "op", op)
	e.metrics.EventFailure(calendarID, op)
	return fmt.Errorf("%s game %d on %s: %w", op, gameID, calendarID, err)
}

// Diff returns the patch that turns current into desired. Times compare
// at whole seconds; text compares after normalization with empty equal
// to absent.
func Diff(current, desired remote.Event) remote.Patch {
	var p remote.Patch
	if !view.TextEqual(current.Title, desired.Title) {
		p.Title = &desired.Title
	}
	if !view.TextEqual(current.Description, desired.Description) {
		p.Description = &desired.Description
	}
	if !view.SameSecond(current.Start, desired.Start) {
		p.Start = &desired.Start
	}
	if !view.SameSecond(current.End, desired.End) {
		p.End = &desired.End
	}
	if current.Transparency.Normalize() != desired.Transparency.Normalize() {
		t := desired.Transparency.Normalize()
		p.Transparency = &t
	}
	return p
}

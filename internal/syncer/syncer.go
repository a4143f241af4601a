// Package syncer runs reconciliation passes for every configured view and
// performs single-game moves between views.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fixturecal/internal/changelog"
	"fixturecal/internal/games"
	appLog "fixturecal/internal/log"
	"fixturecal/internal/metrics"
	"fixturecal/internal/model"
	"fixturecal/internal/reconcile"
	"fixturecal/internal/search"
	"fixturecal/internal/view"
)

var (
	// ErrUnknownView is returned for a view id that is not configured.
	ErrUnknownView = errors.New("unknown view")
	// ErrNotMember is returned when a game is moved to a view it does not
	// belong to.
	ErrNotMember = errors.New("game does not belong to view")
)

// PassError reports a calendar pass that did not run to completion,
// either because its index could not be listed or because the sync was
// cancelled before the pass started.
type PassError struct {
	ViewID     string
	CalendarID string
	Err        error
}

func (e *PassError) Error() string {
	return fmt.Sprintf("view %s (calendar %s): %v", e.ViewID, e.CalendarID, e.Err)
}

func (e *PassError) Unwrap() error { return e.Err }

// FailedPasses extracts every PassError joined into err.
func FailedPasses(err error) []*PassError {
	if err == nil {
		return nil
	}
	var out []*PassError
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			out = append(out, FailedPasses(e)...)
		}
		return out
	}
	var pe *PassError
	if errors.As(err, &pe) {
		out = append(out, pe)
	}
	return out
}

// Driver owns the view list and fans passes out over a worker pool.
type Driver struct {
	engine  *reconcile.Engine
	locator *search.Locator
	views   []view.Policy
	byID    map[string]view.Policy
	source  games.Source

	workers int
	log     *appLog.Logger
	metrics *metrics.Metrics
}

// Option configures a Driver.
type Option func(*Driver)

// WithWorkers bounds how many calendars are reconciled at once.
func WithWorkers(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithLogger sets the logger; the default discards everything.
func WithLogger(l *appLog.Logger) Option { return func(d *Driver) { d.log = l } }

// WithMetrics records sync durations on m.
func WithMetrics(m *metrics.Metrics) Option { return func(d *Driver) { d.metrics = m } }

// New returns a Driver that reconciles views in order, one worker at a
// time unless WithWorkers says otherwise.
func New(engine *reconcile.Engine, locator *search.Locator, views []view.Policy, source games.Source, opts ...Option) *Driver {
	d := &Driver{
		engine:  engine,
		locator: locator,
		views:   append([]view.Policy(nil), views...),
		byID:    make(map[string]view.Policy, len(views)),
		source:  source,
		workers: 1,
		log:     appLog.Discard(),
	}
	for _, v := range views {
		d.byID[v.ID] = v
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Views returns the configured views in order.
func (d *Driver) Views() []view.Policy {
	return append([]view.Policy(nil), d.views...)
}

// View looks a view up by id.
func (d *Driver) View(id string) (view.Policy, error) {
	v, ok := d.byID[id]
	if !ok {
		return view.Policy{}, fmt.Errorf("%q: %w", id, ErrUnknownView)
	}
	return v, nil
}

// SyncSource takes one snapshot from the source and syncs every view.
func (d *Driver) SyncSource(ctx context.Context) (*changelog.Set, error) {
	all, err := d.source.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load games: %w", err)
	}
	return d.SyncAll(ctx, all)
}

// SyncAll reconciles every view against the same snapshot of gs. It
// returns the union of every completed pass; failed or skipped passes are
// joined into the error as *PassError values. Cancelling ctx prevents
// passes that have not started yet; running passes finish.
func (d *Driver) SyncAll(ctx context.Context, gs []model.Game) (*changelog.Set, error) {
	snapshot := make([]model.Game, len(gs))
	for i, g := range gs {
		snapshot[i] = g.Clone()
	}

	start := time.Now()
	var (
		mu      sync.Mutex
		changes = changelog.New()
		errs    []error
	)

	var g errgroup.Group
	g.SetLimit(d.workers)
	for _, p := range d.views {
		p := p
		g.Go(func() error {
			set, err := d.pass(ctx, p, snapshot)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			changes.Merge(set)
			return nil
		})
	}
	_ = g.Wait()

	d.metrics.SyncDuration(time.Since(start))
	d.log.Info("sync finished", "views", len(d.views), "changes", changes.Len(), "failed", len(errs), "took", time.Since(start).Round(time.Millisecond).String())
	return changes, errors.Join(errs...)
}

func (d *Driver) pass(ctx context.Context, p view.Policy, snapshot []model.Game) (*changelog.Set, error) {
	if err := ctx.Err(); err != nil {
		d.log.Warn("pass skipped", "view", p.ID, "calendar", p.CalendarID, "reason", err.Error())
		return nil, &PassError{ViewID: p.ID, CalendarID: p.CalendarID, Err: err}
	}
	set, err := d.engine.Reconcile(context.WithoutCancel(ctx), p, p.CalendarID, snapshot)
	if err != nil {
		d.log.Error("pass failed", err, "view", p.ID, "calendar", p.CalendarID)
		return nil, &PassError{ViewID: p.ID, CalendarID: p.CalendarID, Err: err}
	}
	return set, nil
}

// MoveEvent takes one game off fromView's calendar and puts it on
// toView's. The source entry is located with a widened search around the
// game's projected start; not finding one is not an error. The game must
// belong to toView. When both views share a calendar the entry is only
// updated, never deleted and recreated.
func (d *Driver) MoveEvent(ctx context.Context, gameID int64, fromView, toView string) (*changelog.Set, error) {
	from, err := d.View(fromView)
	if err != nil {
		return nil, err
	}
	to, err := d.View(toView)
	if err != nil {
		return nil, err
	}
	g, err := d.source.ByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return d.move(ctx, g, from, to)
}

func (d *Driver) move(ctx context.Context, g model.Game, from, to view.Policy) (*changelog.Set, error) {
	if !to.Belongs(g) {
		return nil, fmt.Errorf("game %d, view %q: %w", g.ID, to.ID, ErrNotMember)
	}
	changes := changelog.New()

	// Same calendar on both sides: bring the entry up to date in place.
	if from.CalendarID == to.CalendarID {
		res, err := d.locator.Locate(ctx, to.CalendarID, g.ID, anchor(to, g))
		if err != nil {
			return nil, err
		}
		entry, changed, err := d.engine.Apply(ctx, to, to.CalendarID, g, res.RemoteID)
		if err != nil {
			return nil, err
		}
		if changed {
			changes.Add(entry)
		}
		return changes, nil
	}

	fromRes, err := d.locator.Locate(ctx, from.CalendarID, g.ID, anchor(from, g))
	if err != nil {
		return nil, err
	}
	if fromRes.Found {
		entry, err := d.engine.Remove(ctx, from.CalendarID, g.ID, fromRes.RemoteID)
		if err != nil {
			return nil, err
		}
		changes.Add(entry)
	} else {
		d.log.Info("nothing to remove", "game_id", g.ID, "view", from.ID)
	}

	toRes, err := d.locator.Locate(ctx, to.CalendarID, g.ID, anchor(to, g))
	if err != nil {
		return changes, err
	}
	entry, changed, err := d.engine.Apply(ctx, to, to.CalendarID, g, toRes.RemoteID)
	if err != nil {
		return changes, err
	}
	if changed {
		changes.Add(entry)
	}
	d.log.Info("game moved", "game_id", g.ID, "from", from.ID, "to", to.ID, "changes", changes.Len())
	return changes, nil
}

// SetAttended records the attended flag, saves the game and moves it
// between the two attendance views.
func (d *Driver) SetAttended(ctx context.Context, repo games.Repository, gameID int64, attended bool, attendedView, unattendedView string) (*changelog.Set, error) {
	from, to := unattendedView, attendedView
	if !attended {
		from, to = attendedView, unattendedView
	}
	fromPolicy, err := d.View(from)
	if err != nil {
		return nil, err
	}
	toPolicy, err := d.View(to)
	if err != nil {
		return nil, err
	}

	g, err := repo.ByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if g.Attended != attended {
		g.Attended = attended
		if err := repo.Save(ctx, &g); err != nil {
			return nil, fmt.Errorf("save game %d: %w", gameID, err)
		}
	}
	return d.move(ctx, g, fromPolicy, toPolicy)
}

// anchor is where a view's entry for g is expected to start. Games with
// no projection on the view search from their kick-off.
func anchor(p view.Policy, g model.Game) time.Time {
	start, _, err := p.Project(g)
	if err != nil {
		return g.DatePlayed
	}
	return start
}

// Package schedule triggers full syncs from cron and from callers such as
// the HTTP API. At most one sync runs per process at a time.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"fixturecal/internal/changelog"
	appLog "fixturecal/internal/log"
	"fixturecal/internal/metrics"
	"fixturecal/internal/notify"
	"fixturecal/internal/syncer"
)

// ErrSyncInProgress is returned by RunOnce while another run holds the lock.
var ErrSyncInProgress = errors.New("sync already in progress")

// Syncer is the driver operation a run invokes.
type Syncer interface {
	SyncSource(ctx context.Context) (*changelog.Set, error)
}

// Report summarizes one run.
type Report struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Changes    *changelog.Set `json:"changes"`
	// Failed lists the calendars whose pass did not complete.
	Failed []string `json:"failed,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// Message converts the report for publication.
func (r Report) Message() notify.Message {
	return notify.Message{
		RunID:      r.RunID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Failed:     r.Failed,
		Changes:    r.Changes.Entries(),
	}
}

type Runner struct {
	syncer   Syncer
	notifier notify.Notifier
	log      *appLog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	running sync.Mutex

	mu   sync.RWMutex
	last *Report
	cron *cron.Cron
}

// Option configures a Runner.
type Option func(*Runner)

// WithNotifier hands every report to n. The default is notify.Nop.
func WithNotifier(n notify.Notifier) Option { return func(r *Runner) { r.notifier = n } }

func WithLogger(l *appLog.Logger) Option { return func(r *Runner) { r.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(r *Runner) { r.metrics = m } }

// WithClock replaces time.Now for report timestamps.
func WithClock(now func() time.Time) Option { return func(r *Runner) { r.now = now } }

// New returns a Runner around s. Nothing is scheduled until Start.
func New(s Syncer, opts ...Option) *Runner {
	r := &Runner{syncer: s, notifier: notify.Nop{}, log: appLog.Discard(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunOnce performs one sync unless another is in flight. A run where only
// some calendars failed still returns its report alongside the error.
func (r *Runner) RunOnce(ctx context.Context) (Report, error) {
	if !r.running.TryLock() {
		r.metrics.SyncSkipped()
		r.log.Warn("sync skipped, previous run still in progress")
		return Report{}, ErrSyncInProgress
	}
	defer r.running.Unlock()

	rep := Report{RunID: uuid.NewString(), StartedAt: r.now()}
	r.log.Info("sync started", "run_id", rep.RunID)

	changes, err := r.syncer.SyncSource(ctx)
	rep.FinishedAt = r.now()
	if changes == nil {
		changes = changelog.New()
	}
	rep.Changes = changes
	for _, pe := range syncer.FailedPasses(err) {
		rep.Failed = append(rep.Failed, pe.CalendarID)
	}
	if err != nil {
		rep.Error = err.Error()
	}

	r.mu.Lock()
	r.last = &rep
	r.mu.Unlock()

	if nerr := r.notifier.Notify(ctx, rep.Message()); nerr != nil {
		r.log.Error("notify failed", nerr, "run_id", rep.RunID)
	}

	if err != nil {
		r.log.Error("sync finished with errors", err, "run_id", rep.RunID, "changes", changes.Len(), "failed", len(rep.Failed))
		return rep, fmt.Errorf("run %s: %w", rep.RunID, err)
	}
	r.log.Info("sync finished", "run_id", rep.RunID, "changes", changes.Len())
	return rep, nil
}

// Last returns the most recent report, if any.
func (r *Runner) Last() (Report, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return Report{}, false
	}
	return *r.last, true
}

// Start schedules RunOnce on spec (standard five-field cron syntax) in loc.
// Overlapping triggers are skipped.
func (r *Runner) Start(spec string, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	logger := cronLogger{r.log}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(spec, func() {
		_, _ = r.RunOnce(context.Background())
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}

	r.mu.Lock()
	if r.cron != nil {
		r.mu.Unlock()
		return errors.New("scheduler already started")
	}
	r.cron = c
	r.mu.Unlock()

	c.Start()
	r.log.Info("scheduler started", "spec", spec, "timezone", loc.String())
	return nil
}

// Stop halts the scheduler and waits for a running job, or for ctx.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts the app logger to cron.Logger.
type cronLogger struct {
	l *appLog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, err, keysAndValues...)
}

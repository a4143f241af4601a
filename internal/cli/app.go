package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fixturecal/internal/config"
	"fixturecal/internal/games"
	appLog "fixturecal/internal/log"
	"fixturecal/internal/metrics"
	"fixturecal/internal/notify"
	"fixturecal/internal/reconcile"
	"fixturecal/internal/remote"
	"fixturecal/internal/remote/icsstore"
	"fixturecal/internal/remote/memstore"
	"fixturecal/internal/schedule"
	"fixturecal/internal/search"
	"fixturecal/internal/syncer"
	"fixturecal/internal/view"

	// Game repository backends.
	_ "fixturecal/internal/games/pgstore"
	_ "fixturecal/internal/games/sqlitestore"
)

const natsConnectTimeout = 10 * time.Second

// app is everything a command needs, built from one config file.
type app struct {
	cfg     *config.Config
	log     *appLog.Logger
	metrics *metrics.Metrics

	repo   games.Repository
	store  remote.Store
	feeds  *icsstore.Store
	views  []view.Policy
	driver *syncer.Driver
	runner *schedule.Runner

	nats *notify.Conn
}

type appOptions struct {
	// withNotifier connects to NATS when a URL is configured.
	withNotifier bool
}

func openApp(ctx context.Context, opts *RootOptions, ao appOptions) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config "+opts.ConfigPath, err)
	}

	level := appLog.ParseLevel(cfg.Log.Level)
	if opts.Verbose {
		level = appLog.LevelDebug
	}
	log := appLog.Configure(level, cfg.Log.Format)

	a := &app{cfg: cfg, log: log, metrics: metrics.New()}

	a.views, err = view.FromConfigs(cfg.Views)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid views", err)
	}

	a.repo, err = games.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open game database", err)
	}

	switch cfg.Remote.Driver {
	case "memory":
		a.store = memstore.New()
	default:
		st, err := icsstore.New(cfg.Remote.Dir, icsstore.WithLogger(log.With("component", "icsstore")))
		if err != nil {
			a.Close()
			return nil, WrapExitError(ExitCommandError, "failed to open calendar directory", err)
		}
		for _, p := range a.views {
			if p.Title != "" {
				st.SetCalendarName(p.CalendarID, p.Title)
			}
		}
		a.store, a.feeds = st, st
	}

	engine := reconcile.New(a.store, reconcile.WithLogger(log.With("component", "reconcile")), reconcile.WithMetrics(a.metrics))
	locator := search.New(a.store, search.WithLogger(log.With("component", "search")), search.WithMetrics(a.metrics))
	a.driver = syncer.New(engine, locator, a.views, a.repo,
		syncer.WithWorkers(cfg.Sync.Workers),
		syncer.WithLogger(log.With("component", "syncer")),
		syncer.WithMetrics(a.metrics),
	)

	var notifier notify.Notifier = notify.Nop{}
	if ao.withNotifier && cfg.NATS.URL != "" {
		a.nats, err = notify.ConnectWithRetry(cfg.NATS.URL, natsConnectTimeout)
		if err != nil {
			a.Close()
			return nil, WrapExitError(ExitCommandError, "failed to connect to NATS", err)
		}
		notifier = &notify.NATS{Pub: a.nats, Subject: cfg.NATS.Subject, SkipEmpty: true}
		log.Info("publishing sync reports", "subject", cfg.NATS.Subject)
	}
	a.runner = schedule.New(a.driver,
		schedule.WithNotifier(notifier),
		schedule.WithLogger(log.With("component", "schedule")),
		schedule.WithMetrics(a.metrics),
	)
	return a, nil
}

// attendanceViews returns the configured attended and unattended views.
func (a *app) attendanceViews() (string, string, error) {
	att := a.cfg.Attendance
	if att.AttendedView == "" || att.UnattendedView == "" {
		return "", "", NewExitError(ExitCommandError, "attendance views are not configured")
	}
	return att.AttendedView, att.UnattendedView, nil
}

func (a *app) Close() {
	a.nats.Close()
	if a.repo != nil {
		if err := a.repo.Close(); err != nil {
			a.log.Error("failed to close game database", err)
		}
	}
}

// failedPassesError turns a partial sync failure into ExitFailure.
func failedPassesError(err error) error {
	if err == nil {
		return nil
	}
	if failed := syncer.FailedPasses(err); len(failed) > 0 {
		ids := make([]string, len(failed))
		for i, pe := range failed {
			ids[i] = pe.CalendarID
		}
		return WrapExitError(ExitFailure, fmt.Sprintf("%d calendar(s) failed %v", len(failed), ids), err)
	}
	if errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "interrupted", err)
	}
	return WrapExitError(ExitCommandError, "sync failed", err)
}

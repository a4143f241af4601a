package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fixturecal/internal/ics"
	"fixturecal/internal/web"
)

// signalContext is cancelled on SIGINT/SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var listen string
	var syncOnStart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the periodic sync",
		Long: `Start the HTTP API and run a full sync on the configured cron schedule
until interrupted.

Example:
  fixturecal serve --config ./config.yaml
  fixturecal serve --listen :9090 --sync-on-start`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			a, err := openApp(ctx, rootOpts, appOptions{withNotifier: true})
			if err != nil {
				return err
			}
			defer a.Close()
			if listen != "" {
				a.cfg.Listen = listen
			}

			a.log.Info("effective config",
				"listen", a.cfg.Listen,
				"timezone", a.cfg.Timezone,
				"refresh", a.cfg.RefreshCron,
				"database", a.cfg.Database.Driver,
				"remote", a.cfg.Remote.Driver,
				"views", len(a.views),
				"feeds", len(a.cfg.Feeds),
			)

			if syncOnStart {
				go func() { _, _ = a.runner.RunOnce(ctx) }()
			}
			if err := a.runner.Start(a.cfg.RefreshCron, a.cfg.Location()); err != nil {
				return WrapExitError(ExitCommandError, "failed to start scheduler", err)
			}
			defer func() {
				stopCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
				defer stop()
				if err := a.runner.Stop(stopCtx); err != nil {
					a.log.Error("scheduler stop timed out", err)
				}
			}()

			opts := []web.Option{web.WithMetrics(a.metrics), web.WithLogger(a.log.With("component", "web"))}
			if a.feeds != nil {
				opts = append(opts, web.WithFeeds(a.feeds))
			}
			srv := web.NewServer(a.cfg, a.driver, a.runner, a.repo, opts...)
			if err := srv.ListenAndServe(ctx); err != nil {
				return WrapExitError(ExitCommandError, "HTTP server failed", err)
			}
			a.log.Info("fixturecal exiting")
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	cmd.Flags().BoolVar(&syncOnStart, "sync-on-start", false, "run a full sync immediately")
	return cmd
}

// NewSyncCommand creates the one-shot sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reconcile every calendar once and print the change log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			a, err := openApp(ctx, rootOpts, appOptions{withNotifier: true})
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.runner.RunOnce(ctx)
			if rep.Changes != nil {
				if werr := writeChanges(cmd.OutOrStdout(), rootOpts.Format, rep.Changes); werr != nil {
					return werr
				}
			}
			return failedPassesError(err)
		},
	}
}

// NewMoveCommand creates the move command.
func NewMoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "move <game-id> <from-view> <to-view>",
		Short: "Move one game's entry between two views",
		Example: `  fixturecal move 42 unattended attended`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseGameID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd)
			defer cancel()

			a, err := openApp(ctx, rootOpts, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			changes, err := a.driver.MoveEvent(ctx, id, args[1], args[2])
			if err != nil {
				return WrapExitError(ExitFailure, "move failed", err)
			}
			return writeChanges(cmd.OutOrStdout(), rootOpts.Format, changes)
		},
	}
}

// NewAttendCommand creates the attend command.
func NewAttendCommand(rootOpts *RootOptions) *cobra.Command {
	var unattend bool

	cmd := &cobra.Command{
		Use:   "attend <game-id>",
		Short: "Mark a game attended and move it to the attended calendar",
		Example: `  fixturecal attend 42
  fixturecal attend 42 --unattend`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseGameID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd)
			defer cancel()

			a, err := openApp(ctx, rootOpts, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			attended, unattended, err := a.attendanceViews()
			if err != nil {
				return err
			}
			changes, err := a.driver.SetAttended(ctx, a.repo, id, !unattend, attended, unattended)
			if err != nil {
				return WrapExitError(ExitFailure, "attend failed", err)
			}
			return writeChanges(cmd.OutOrStdout(), rootOpts.Format, changes)
		},
	}

	cmd.Flags().BoolVar(&unattend, "unattend", false, "mark the game as not attended")
	return cmd
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	var thenSync bool

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import fixtures from the configured ICS feeds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			a, err := openApp(ctx, rootOpts, appOptions{withNotifier: thenSync})
			if err != nil {
				return err
			}
			defer a.Close()

			fetcher := ics.NewFetcher(a.cfg.CacheDir, ics.WithFetchLogger(a.log.With("component", "fetch")))
			imp := ics.NewImporter(fetcher, a.repo, ics.WithImportLogger(a.log.With("component", "import")))
			res, err := imp.Import(ctx, a.cfg.Feeds)
			if err != nil {
				return WrapExitError(ExitCommandError, "import failed", err)
			}

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				if err := writeJSON(out, res); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "inserted %d, updated %d, unchanged %d, skipped %d\n", res.Inserted, res.Updated, res.Unchanged, res.Skipped)
				for _, id := range res.Failed {
					fmt.Fprintf(out, "feed %s failed\n", id)
				}
			}

			if thenSync {
				rep, err := a.runner.RunOnce(ctx)
				if rep.Changes != nil && rootOpts.Format == "text" {
					_ = writeChanges(out, rootOpts.Format, rep.Changes)
				}
				if err != nil {
					return failedPassesError(err)
				}
			}
			if len(res.Failed) > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d feed(s) failed", len(res.Failed)))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&thenSync, "sync", false, "run a full sync after importing")
	return cmd
}

// NewViewsCommand creates the views command.
func NewViewsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "views",
		Short: "List the configured calendar views",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return writeJSON(out, a.cfg.Views)
			}
			tw := newTable(out)
			fmt.Fprintln(tw, "ID\tCALENDAR\tSELECT\tPROJECT\tDURATION\tTRANSPARENCY")
			for _, p := range a.views {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", p.ID, p.CalendarID, p.Selector, p.Projection, p.Duration, p.Transparency.Normalize())
			}
			return tw.Flush()
		},
	}
}

func parseGameID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid game id %q", s))
	}
	return id, nil
}

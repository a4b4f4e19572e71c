package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/listsync/internal/config"
	"github.com/tonimelisma/listsync/internal/filewatch"
	"github.com/tonimelisma/listsync/internal/sync"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync repeatedly on an interval and when the source file changes",
		Long: `Run sync passes until interrupted: one immediately, then every
poll_interval. For file sources a pass also starts shortly after the export
file changes. SIGHUP (or 'listsync reload') re-reads the config file.

Items that keep failing are suppressed for a while so one bad row does not
spam every pass. Only one watch may run per state directory.`,
		RunE: runWatch,
	}

	addWriteFlags(cmd)

	return cmd
}

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask a running watch to re-read its config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := signalWatch(cc.Cfg.PIDFilePath(), syscall.SIGHUP); err != nil {
				return err
			}

			cc.Statusf("Reload signal sent\n")

			return nil
		},
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	lock, err := acquireWatchLock(cc.Cfg.PIDFilePath())
	if err != nil {
		return err
	}
	defer lock.Release()

	ctx := shutdownContext(cmd.Context(), logger)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	holder := config.NewHolder(cc.Cfg.Config, cc.Cfg.Path)
	overrides := cc.Overrides

	w := &watchLoop{
		holder:  holder,
		tracker: sync.NewFailureTracker(logger),
		logger:  logger,
		hup:     hup,
		reload: func() (*config.Config, error) {
			r, err := resolveConfig(overrides)
			if err != nil {
				return nil, err
			}

			return r.Config, nil
		},
		runPass: func(ctx context.Context, cfg *config.Config, tracker *sync.FailureTracker) (*sync.Report, error) {
			return runPass(ctx, cfg, tracker, logger)
		},
		report: func(r *sync.Report) {
			if err := printReport(os.Stdout, r, cc.Flags.JSON); err != nil {
				logger.Warn("printing report", slog.String("error", err.Error()))
			}
		},
		after: time.After,
	}

	if cfg := holder.Config(); cfg.Source.Kind == config.SourceFile {
		fw := &filewatch.Watcher{Path: cfg.Source.Path, Logger: logger}

		changes, err := fw.Watch(ctx)
		if err != nil {
			logger.Warn("source file watch unavailable, polling only", slog.String("error", err.Error()))
		} else {
			w.fileChanges = changes
		}
	}

	return w.run(ctx)
}

// watchLoop drives repeated passes. Each pass sees the config snapshot
// current at its start; a reload only affects the next pass.
type watchLoop struct {
	holder      *config.Holder
	tracker     *sync.FailureTracker
	logger      *slog.Logger
	hup         <-chan os.Signal
	fileChanges <-chan struct{}

	reload  func() (*config.Config, error)
	runPass func(ctx context.Context, cfg *config.Config, tracker *sync.FailureTracker) (*sync.Report, error)
	report  func(*sync.Report)
	after   func(time.Duration) <-chan time.Time
}

// run loops until ctx is canceled. A pass in flight when ctx is canceled
// gets shutdown_timeout to finish before it is canceled too.
func (w *watchLoop) run(ctx context.Context) error {
	for {
		cfg := w.holder.Config()

		w.pass(ctx, cfg)

		if ctx.Err() != nil {
			w.logger.Info("watch stopped")
			return nil
		}

		interval := config.Duration(cfg.Sync.PollInterval)
		next := w.after(interval)

		w.logger.Info("next pass scheduled", slog.Duration("in", interval))

		if !w.wait(ctx, next) {
			w.logger.Info("watch stopped")
			return nil
		}
	}
}

// wait blocks until the next pass is due. Returns false on shutdown.
func (w *watchLoop) wait(ctx context.Context, next <-chan time.Time) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-next:
			return true
		case _, ok := <-w.fileChanges:
			if !ok {
				w.fileChanges = nil
				continue
			}

			w.logger.Info("source file changed")

			return true
		case <-w.hup:
			w.reloadConfig()
		}
	}
}

func (w *watchLoop) reloadConfig() {
	if err := w.holder.Reload(w.reload); err != nil {
		w.logger.Error("config reload failed, keeping current config", slog.String("error", err.Error()))
		return
	}

	w.logger.Info("config reloaded",
		slog.String("path", w.holder.Path()),
		slog.Int("generation", w.holder.Generation()),
	)
}

// pass runs one sync pass. Errors are logged and the loop goes on: the
// next pass may well succeed (expired credentials replaced, list restored).
func (w *watchLoop) pass(ctx context.Context, cfg *config.Config) {
	passCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	stop := context.AfterFunc(ctx, func() {
		grace := config.Duration(cfg.Sync.ShutdownTimeout)
		w.logger.Info("waiting for the current pass to finish", slog.Duration("timeout", grace))

		select {
		case <-w.after(grace):
			cancel()
		case <-passCtx.Done():
		}
	})
	defer stop()

	report, err := w.runPass(passCtx, cfg, w.tracker)
	if report != nil && w.report != nil {
		w.report(report)
	}

	switch {
	case err != nil && errors.Is(err, context.Canceled):
		w.logger.Warn("pass canceled by shutdown")
	case err != nil:
		w.logger.Error("sync pass failed", slog.String("error", err.Error()))
	case !report.OK():
		w.logger.Warn("sync pass finished with failures", slog.Int("failed", report.Failed()))
	}
}

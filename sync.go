package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/listsync/internal/config"
	"github.com/tonimelisma/listsync/internal/runlog"
	"github.com/tonimelisma/listsync/internal/sync"
)

// errRunFailed is returned when a pass finished but some items failed.
// main maps it to exitItemFailures; the report has already been printed.
var errRunFailed = errors.New("sync finished with failures")

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass from the source into the destination list",
		Long: `Run one sync pass: read the destination schema, snapshot both sides,
diff them, and submit inserts, updates and closes. Use --dry-run to print
the plan without writing anything.`,
		RunE: runSync,
	}

	addWriteFlags(cmd)

	return cmd
}

// addWriteFlags registers the flags that override [sync] settings. They are
// read by cliOverrides only when set.
func addWriteFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("dry-run", false, "compute the plan without writing")
	cmd.Flags().String("mode", "", "write mode: batch or single")
	cmd.Flags().Int("batch-size", 0, "operations per $batch request")
}

func runSync(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := shutdownContext(cmd.Context(), cc.Logger)

	report, err := runPass(ctx, cc.Cfg.Config, nil, cc.Logger)
	if report != nil {
		if perr := printReport(os.Stdout, report, cc.Flags.JSON); perr != nil {
			return perr
		}
	}

	if err != nil {
		return err
	}

	if !report.OK() {
		return errRunFailed
	}

	return nil
}

// runPass builds a session, engine and ledger for cfg and runs one pass.
// The ledger is optional: if it cannot be opened the pass still runs.
func runPass(ctx context.Context, cfg *config.Config, tracker *sync.FailureTracker, logger *slog.Logger) (*sync.Report, error) {
	sess, err := NewSession(cfg, logger)
	if err != nil {
		return nil, err
	}

	var recorder sync.Recorder

	store, err := runlog.Open(ctx, cfg.RunLogPath(), logger)
	if err != nil {
		logger.Warn("run ledger unavailable, this run will not be recorded",
			slog.String("path", cfg.RunLogPath()),
			slog.String("error", err.Error()),
		)
	} else {
		defer store.Close()

		recorder = store
	}

	engine, err := newSyncEngine(sess, cfg, tracker, recorder, logger)
	if err != nil {
		return nil, err
	}

	report, err := engine.Run(ctx, sync.RunOpts{DryRun: cfg.Sync.DryRun})

	if store != nil && cfg.State.HistoryKeep > 0 {
		if n, perr := store.Prune(context.WithoutCancel(ctx), cfg.State.HistoryKeep); perr != nil {
			logger.Warn("pruning run ledger", slog.String("error", perr.Error()))
		} else if n > 0 {
			logger.Debug("pruned run ledger", slog.Int64("removed", n))
		}
	}

	return report, err
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/listsync/internal/runlog"
)

const defaultHistoryLimit = 20

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sync runs",
		RunE:  runHistory,
	}

	cmd.Flags().IntP("limit", "n", defaultHistoryLimit, "number of runs to show")

	return cmd
}

func newFailuresCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "failures <run-id>",
		Short: "List the item failures of one run",
		Args:  cobra.ExactArgs(1),
		RunE:  runFailures,
	}
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	store, err := runlog.Open(cmd.Context(), cc.Cfg.RunLogPath(), cc.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.Recent(cmd.Context(), limit)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return writeJSON(os.Stdout, runs)
	}

	if len(runs) == 0 {
		cc.Statusf("No runs recorded yet.\n")
		return nil
	}

	printRuns(os.Stdout, runs, time.Now())

	return nil
}

func printRuns(w io.Writer, runs []runlog.Run, now time.Time) {
	rows := make([][]string, 0, len(runs))

	for i := range runs {
		r := &runs[i]

		result := "ok"

		switch {
		case r.Error != "":
			result = "aborted: " + r.Error
		case r.Failed > 0:
			result = strconv.Itoa(r.Failed) + " failed"
		case r.DryRun:
			result = "dry run"
		}

		rows = append(rows, []string{
			r.ID,
			formatTime(r.StartedAt, now),
			formatDuration(r.Duration),
			fmt.Sprintf("%d/%d", r.Inserted, r.PlannedInserts),
			fmt.Sprintf("%d/%d", r.Updated, r.PlannedUpdates),
			fmt.Sprintf("%d/%d", r.Closed, r.PlannedCloses),
			result,
		})
	}

	printTable(w, []string{"RUN", "STARTED", "TOOK", "INSERTED", "UPDATED", "CLOSED", "RESULT"}, rows)
}

func runFailures(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	store, err := runlog.Open(cmd.Context(), cc.Cfg.RunLogPath(), cc.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	failures, err := store.Failures(cmd.Context(), args[0])
	if err != nil {
		if errors.Is(err, runlog.ErrRunNotFound) {
			return fmt.Errorf("no run with ID %q (see 'listsync history')", args[0])
		}

		return err
	}

	if cc.Flags.JSON {
		return writeJSON(os.Stdout, failures)
	}

	if len(failures) == 0 {
		cc.Statusf("Run %s had no item failures.\n", args[0])
		return nil
	}

	rows := make([][]string, 0, len(failures))
	for _, f := range failures {
		rows = append(rows, []string{f.Key, f.Operation, f.Error})
	}

	printTable(os.Stdout, []string{"KEY", "OPERATION", "ERROR"}, rows)

	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

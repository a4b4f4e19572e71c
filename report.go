package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/tonimelisma/listsync/internal/sync"
)

// reportJSON is the --json shape of a finished pass.
type reportJSON struct {
	RunID       string        `json:"run_id"`
	Source      string        `json:"source"`
	Destination string        `json:"destination"`
	Mode        string        `json:"mode"`
	DryRun      bool          `json:"dry_run"`
	StartedAt   time.Time     `json:"started_at"`
	DurationMS  int64         `json:"duration_ms"`
	Planned     countsJSON    `json:"planned"`
	Applied     countsJSON    `json:"applied"`
	Suppressed  int           `json:"suppressed"`
	Attachments attachJSON    `json:"attachments"`
	Failures    []failureJSON `json:"failures"`
	Error       string        `json:"error,omitempty"`
}

type countsJSON struct {
	Inserts int `json:"inserts"`
	Updates int `json:"updates"`
	Closes  int `json:"closes"`
}

type attachJSON struct {
	Pairs      int `json:"pairs"`
	Downloaded int `json:"downloaded"`
	Uploaded   int `json:"uploaded"`
	Deleted    int `json:"deleted"`
}

type failureJSON struct {
	Key       string `json:"key"`
	Operation string `json:"operation"`
	Error     string `json:"error"`
}

func toReportJSON(r *sync.Report) reportJSON {
	out := reportJSON{
		RunID:       r.RunID,
		Source:      r.Source,
		Destination: r.Destination,
		Mode:        string(r.Mode),
		DryRun:      r.DryRun,
		StartedAt:   r.StartedAt,
		DurationMS:  r.Duration.Milliseconds(),
		Planned:     countsJSON{r.PlannedInserts, r.PlannedUpdates, r.PlannedCloses},
		Applied:     countsJSON{r.Inserted, r.Updated, r.Closed},
		Suppressed:  r.Suppressed,
		Attachments: attachJSON{
			Pairs:      r.Attachments.Pairs,
			Downloaded: r.Attachments.Downloaded,
			Uploaded:   r.Attachments.Uploaded,
			Deleted:    r.Attachments.Deleted,
		},
		Failures: make([]failureJSON, 0, len(r.Failures)),
	}

	for _, f := range r.Failures {
		out.Failures = append(out.Failures, failureJSON{Key: f.Key, Operation: f.Operation, Error: f.Err.Error()})
	}

	if r.Err != nil {
		out.Error = r.Err.Error()
	}

	return out
}

// printReport writes the summary of a pass as text or JSON.
func printReport(w io.Writer, r *sync.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(toReportJSON(r))
	}

	ew := &errWriter{w: w}

	if r.DryRun {
		ew.printf("Dry run %s -> %s (%s)\n", r.Source, r.Destination, formatDuration(r.Duration))
		ew.printf("  would insert %d, update %d, close %d\n", r.PlannedInserts, r.PlannedUpdates, r.PlannedCloses)
		printPlan(ew, r.Plan)

		return ew.err
	}

	ew.printf("Sync %s -> %s (%s, %s mode)\n", r.Source, r.Destination, formatDuration(r.Duration), r.Mode)
	ew.printf("  inserted %d/%d, updated %d/%d, closed %d/%d",
		r.Inserted, r.PlannedInserts, r.Updated, r.PlannedUpdates, r.Closed, r.PlannedCloses)

	if r.Suppressed > 0 {
		ew.printf(", suppressed %d", r.Suppressed)
	}

	ew.printf(", failed %d\n", r.Failed())

	if a := r.Attachments; a.Pairs > 0 {
		ew.printf("  attachments: %d items, %d uploaded, %d deleted\n", a.Pairs, a.Uploaded, a.Deleted)
	}

	for _, f := range r.Failures {
		ew.printf("  FAILED %s %s: %v\n", f.Operation, f.Key, f.Err)
	}

	if r.Err != nil {
		ew.printf("  aborted: %v\n", r.Err)
	}

	return ew.err
}

// printPlan lists the keys a dry run would touch.
func printPlan(ew *errWriter, plan sync.DiffResult) {
	for _, c := range plan.ToUpdate {
		ew.printf("  update %s (item %d)\n", c.Key, c.DestinationID)
	}

	for _, c := range plan.ToClose {
		ew.printf("  close  %s (item %d)\n", c.Key, c.DestinationID)
	}
}

// errWriter wraps an io.Writer and captures the first write error, so
// callers can chain printf calls without checking each one.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

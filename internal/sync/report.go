package sync

import (
	"time"
)

// WriteMode selects how the engine submits writes.
type WriteMode string

const (
	// ModeBatch groups writes into $batch requests.
	ModeBatch WriteMode = "batch"
	// ModeSingle writes one item per request with pacing between writes.
	ModeSingle WriteMode = "single"
)

// Operation names used in failures and the run ledger.
const (
	OpNameInsert     = "insert"
	OpNameUpdate     = "update"
	OpNameClose      = "close"
	OpNameAttachment = "attachments"
)

// Failure is one item-scoped error with enough context to retry by hand.
type Failure struct {
	Key       string
	Operation string
	Err       error
}

// Report summarizes one sync pass.
type Report struct {
	RunID       string
	Source      string
	Destination string
	Mode        WriteMode
	DryRun      bool
	StartedAt   time.Time
	Duration    time.Duration

	// Plan, always populated.
	Plan           DiffResult
	PlannedInserts int
	PlannedUpdates int
	PlannedCloses  int

	// Execution results, zero for dry runs.
	Inserted    int
	Updated     int
	Closed      int
	Suppressed  int
	Attachments ReconcileStats
	Failures    []Failure

	// Err is the fatal error that ended the run early, if any.
	Err error
}

// Failed returns the number of item-scoped failures.
func (r *Report) Failed() int {
	return len(r.Failures)
}

// OK reports whether the run finished without fatal or item errors.
func (r *Report) OK() bool {
	return r.Err == nil && len(r.Failures) == 0
}

func (r *Report) addFailure(key, op string, err error) {
	r.Failures = append(r.Failures, Failure{Key: key, Operation: op, Err: err})
}

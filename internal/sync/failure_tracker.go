package sync

import (
	"log/slog"
	"sync"
	"time"
)

// Failure suppression for watch mode.
const (
	failureThreshold = 3                // skip after this many failures
	failureCooldown  = 30 * time.Minute // forget failures older than this
)

type failureRecord struct {
	count   int
	lastErr string
	lastAt  time.Time
}

// FailureTracker suppresses primary keys whose writes fail repeatedly
// across watch cycles, so one poisoned row does not cost a full retry on
// every pass. Keys failing failureThreshold times within failureCooldown
// are skipped; a success clears the record. Safe for concurrent use.
type FailureTracker struct {
	mu      sync.Mutex
	records map[string]*failureRecord
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewFailureTracker creates an empty tracker.
func NewFailureTracker(logger *slog.Logger) *FailureTracker {
	if logger == nil {
		logger = slog.Default()
	}

	return &FailureTracker{
		records: make(map[string]*failureRecord),
		logger:  logger,
		nowFunc: time.Now,
	}
}

// ShouldSkip reports whether key is currently suppressed. A nil tracker
// never skips.
func (ft *FailureTracker) ShouldSkip(key string) bool {
	if ft == nil {
		return false
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()

	rec, ok := ft.records[key]
	if !ok {
		return false
	}

	if ft.nowFunc().Sub(rec.lastAt) > failureCooldown {
		delete(ft.records, key)
		return false
	}

	return rec.count >= failureThreshold
}

// RecordFailure counts one failure for key.
func (ft *FailureTracker) RecordFailure(key, errMsg string) {
	if ft == nil {
		return
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()

	rec, ok := ft.records[key]
	if !ok {
		rec = &failureRecord{}
		ft.records[key] = rec
	}

	if ft.nowFunc().Sub(rec.lastAt) > failureCooldown {
		rec.count = 0
	}

	rec.count++
	rec.lastErr = errMsg
	rec.lastAt = ft.nowFunc()

	if rec.count == failureThreshold {
		ft.logger.Warn("key suppressed after repeated failures",
			slog.String("key", key),
			slog.Int("failures", rec.count),
			slog.String("last_error", errMsg),
			slog.Duration("cooldown", failureCooldown),
		)
	}
}

// RecordSuccess clears the record for key.
func (ft *FailureTracker) RecordSuccess(key string) {
	if ft == nil {
		return
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()

	delete(ft.records, key)
}

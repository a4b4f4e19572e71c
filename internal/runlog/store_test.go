package runlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/listsync/internal/sync"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(p), "\n"))

	return len(p), nil
}

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "runs.db"), testLogger(t))
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	return s
}

func report(id string, started time.Time) *sync.Report {
	return &sync.Report{
		RunID:          id,
		Source:         "export.json",
		Destination:    "Requests",
		Mode:           sync.ModeBatch,
		StartedAt:      started,
		Duration:       1500 * time.Millisecond,
		PlannedInserts: 2,
		PlannedUpdates: 1,
		Inserted:       1,
		Updated:        1,
		Attachments:    sync.ReconcileStats{Uploaded: 3, Deleted: 1},
	}
}

func TestRecordRun_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r := report("run-1", started)
	r.Failures = []sync.Failure{
		{Key: "A1", Operation: sync.OpNameInsert, Err: errors.New("HTTP 400: invalid value")},
		{Key: "B2", Operation: sync.OpNameAttachment, Err: errors.New("upload refused")},
	}

	require.NoError(t, s.RecordRun(ctx, r))

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, Run{
		ID:             "run-1",
		StartedAt:      started,
		Duration:       1500 * time.Millisecond,
		Source:         "export.json",
		Destination:    "Requests",
		Mode:           "batch",
		PlannedInserts: 2,
		PlannedUpdates: 1,
		Inserted:       1,
		Updated:        1,
		Failed:         2,
		AttUploaded:    3,
		AttDeleted:     1,
	}, got)

	failures, err := s.Failures(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []Failure{
		{Key: "A1", Operation: "insert", Error: "HTTP 400: invalid value"},
		{Key: "B2", Operation: "attachments", Error: "upload refused"},
	}, failures)
}

func TestRecordRun_AbortedRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r := report("run-x", time.Now())
	r.Err = errors.New("list not found")

	require.NoError(t, s.RecordRun(ctx, r))

	got, err := s.Get(ctx, "run-x")
	require.NoError(t, err)
	assert.Equal(t, "list not found", got.Error)
}

func TestRecordRun_DuplicateIDFails(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordRun(ctx, report("dup", time.Now())))
	assert.Error(t, s.RecordRun(ctx, report("dup", time.Now())))
}

func TestRecent_NewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := range 5 {
		require.NoError(t, s.RecordRun(ctx, report(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Hour))))
	}

	runs, err := s.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-4", runs[0].ID)
	assert.Equal(t, "run-3", runs[1].ID)
	assert.Equal(t, "run-2", runs[2].ID)
}

func TestGetAndFailures_UnknownRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = s.Failures(ctx, "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestPrune_KeepsNewestAndCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := range 4 {
		r := report(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Hour))
		r.Failures = []sync.Failure{{Key: "K", Operation: sync.OpNameUpdate, Err: errors.New("x")}}
		require.NoError(t, s.RecordRun(ctx, r))
	}

	n, err := s.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	runs, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	var orphans int
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM run_failures WHERE run_id IN ('run-0', 'run-1')`).Scan(&orphans))
	assert.Zero(t, orphans)

	n, err = s.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpen_IsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()

	s1, err := Open(ctx, path, testLogger(t))
	require.NoError(t, err)
	require.NoError(t, s1.RecordRun(ctx, report("keep", time.Now())))
	require.NoError(t, s1.Close())

	s2, err := Open(ctx, path, testLogger(t))
	require.NoError(t, err)
	defer s2.Close()

	_, err = s2.Get(ctx, "keep")
	assert.NoError(t, err)
}

var _ sync.Recorder = (*Store)(nil)

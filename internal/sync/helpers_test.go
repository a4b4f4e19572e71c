package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/tonimelisma/listsync/internal/sharepoint"
)

// testLogger returns a debug-level logger that writes to t.Log so output
// is only shown on failure or with -v.
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

func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

var (
	t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
)

func item(id int, modified time.Time, fields sharepoint.Fields) sharepoint.Item {
	return sharepoint.Item{ID: id, Modified: modified, Fields: fields}
}

// testSchema is the destination schema used across engine tests.
func testSchema() sharepoint.Schema {
	cols := []sharepoint.ColumnDescriptor{
		{DisplayName: "Request ID", InternalName: "RequestID", DataType: sharepoint.TypeText},
		{DisplayName: "Title", InternalName: "Title", DataType: sharepoint.TypeText},
		{DisplayName: "Amount", InternalName: "Amount", DataType: sharepoint.TypeNumber},
		{DisplayName: "Current Status", InternalName: "CurrentStatus", DataType: sharepoint.TypeChoice},
		{DisplayName: "Update Flag", InternalName: "UpdateFlag", DataType: sharepoint.TypeOther},
	}

	s := make(sharepoint.Schema, len(cols))
	for _, c := range cols {
		s[c.DisplayName] = c
	}

	return s
}

// fakeWriter records writes and answers them from a script.
type fakeWriter struct {
	mu gosync.Mutex

	digests int
	applied []sharepoint.Operation
	batches []*sharepoint.BatchRequest
	nextID  int

	// applyErr returns the error for an operation, nil for success.
	applyErr func(op sharepoint.Operation) error
	// batchErr fails the whole envelope of the n-th batch (1-based).
	batchErr func(n int) error
	// opErr fails one operation inside a batch.
	opErr func(op sharepoint.Operation) error
	// digestErr fails digest refreshes.
	digestErr error
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{nextID: 100}
}

func (f *fakeWriter) RefreshDigest(_ context.Context) (sharepoint.Digest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.digestErr != nil {
		return sharepoint.Digest{}, f.digestErr
	}

	f.digests++

	return sharepoint.Digest{Value: fmt.Sprintf("digest-%d", f.digests), ExpiresAt: time.Now().Add(time.Minute)}, nil
}

func (f *fakeWriter) Apply(_ context.Context, _, _ string, op sharepoint.Operation, _ sharepoint.Digest) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.applied = append(f.applied, op)

	if f.applyErr != nil {
		if err := f.applyErr(op); err != nil {
			return 0, err
		}
	}

	if op.Kind() == sharepoint.OpInsert {
		f.nextID++
		return f.nextID, nil
	}

	return op.ItemID(), nil
}

func (f *fakeWriter) PostBatch(
	_ context.Context, req *sharepoint.BatchRequest, _ sharepoint.Digest,
) ([]sharepoint.OperationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.batches = append(f.batches, req)

	if f.batchErr != nil {
		if err := f.batchErr(len(f.batches)); err != nil {
			return nil, err
		}
	}

	results := make([]sharepoint.OperationResult, len(req.Operations))

	for i, op := range req.Operations {
		f.applied = append(f.applied, op)
		results[i] = sharepoint.OperationResult{Index: i, StatusCode: 204}

		if f.opErr != nil {
			if err := f.opErr(op); err != nil {
				results[i].StatusCode = 400
				results[i].Err = err

				continue
			}
		}

		if op.Kind() == sharepoint.OpInsert {
			f.nextID++
			results[i].StatusCode = 201
			results[i].ItemID = f.nextID
		}
	}

	return results, nil
}

func (f *fakeWriter) appliedOps() []sharepoint.Operation {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]sharepoint.Operation(nil), f.applied...)
}

// fakeAttachments is an in-memory attachment store serving as both the
// source and the sink.
type fakeAttachments struct {
	mu gosync.Mutex

	files   map[int]map[string]string // item ID -> name -> content
	added   []string
	deleted []string

	failDownload string
	failUpload   string
}

func newFakeAttachments() *fakeAttachments {
	return &fakeAttachments{files: make(map[int]map[string]string)}
}

func (f *fakeAttachments) put(id int, name, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.files[id] == nil {
		f.files[id] = make(map[string]string)
	}

	f.files[id][name] = content
}

func (f *fakeAttachments) get(id int, name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.files[id][name]

	return v, ok
}

func (f *fakeAttachments) DownloadAttachment(_ context.Context, _ string, id int, name string, w io.Writer) (int64, error) {
	if name == f.failDownload {
		return 0, errors.New("download refused")
	}

	content, ok := f.get(id, name)
	if !ok {
		return 0, sharepoint.ErrNotFound
	}

	n, err := io.WriteString(w, content)

	return int64(n), err
}

func (f *fakeAttachments) RefreshDigest(_ context.Context) (sharepoint.Digest, error) {
	return sharepoint.Digest{Value: "d"}, nil
}

func (f *fakeAttachments) AddAttachment(
	_ context.Context, _ string, id int, name string, content io.Reader, _ sharepoint.Digest,
) error {
	if name == f.failUpload {
		return errors.New("upload refused")
	}

	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}

	f.put(id, name, string(data))

	f.mu.Lock()
	f.added = append(f.added, fmt.Sprintf("%d/%s", id, name))
	f.mu.Unlock()

	return nil
}

func (f *fakeAttachments) DeleteAttachment(_ context.Context, _ string, id int, name string, _ sharepoint.Digest) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.files[id], name)
	f.deleted = append(f.deleted, fmt.Sprintf("%d/%s", id, name))

	return nil
}

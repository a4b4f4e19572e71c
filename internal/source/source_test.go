package source

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/listsync/internal/sharepoint"
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

func writeExport(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestFile_Snapshot(t *testing.T) {
	path := writeExport(t, `[
		{"Request ID": "A1", "Status": "Open", "Amount": 12.5, "Modified": "2024-01-02"},
		{"Request ID": "A2", "Status": "Done", "Modified": "2024-01-03T10:30:00Z"},
		{"Request ID": "A3", "Modified": "last tuesday"},
		{"Request ID": "A4"}
	]`)

	f := &File{Path: path, Logger: testLogger(t)}

	items, err := f.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 4)

	assert.Equal(t, 1, items[0].ID)
	assert.Equal(t, 4, items[3].ID)

	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), items[0].Modified)
	assert.Equal(t, time.Date(2024, 1, 3, 10, 30, 0, 0, time.UTC), items[1].Modified)
	assert.True(t, items[2].Modified.IsZero())
	assert.True(t, items[3].Modified.IsZero())

	assert.Equal(t, json.Number("12.5"), items[0].Fields["Amount"])
	assert.NotContains(t, items[0].Fields, "Modified")
	assert.Empty(t, items[0].Attachments)
}

func TestFile_CustomModifiedFieldAndMapping(t *testing.T) {
	path := writeExport(t, `[{"Req": "A1", "Customer Name": "Contoso", "Last Change": "2024-05-01"}]`)

	f := &File{
		Path:          path,
		ModifiedField: "Last Change",
		Mapping:       Mapping{"Req": "Request ID", "Customer Name": "Customer"},
		Logger:        testLogger(t),
	}

	items, err := f.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)

	assert.Equal(t, sharepoint.Fields{"Request ID": "A1", "Customer": "Contoso"}, items[0].Fields)
	assert.Equal(t, 2024, items[0].Modified.Year())
}

func TestFile_Errors(t *testing.T) {
	_, err := (&File{Path: filepath.Join(t.TempDir(), "missing.json")}).Snapshot(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = (&File{Path: writeExport(t, `{"not": "an array"}`)}).Snapshot(context.Background())
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = (&File{Path: writeExport(t, `[]`)}).Snapshot(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMapping_Apply(t *testing.T) {
	m := Mapping{"Req": "Request ID", "Title": "Summary"}

	got := m.Apply(sharepoint.Fields{"Req": "A1", "Title": "x", "Summary": "shadowed", "Other": 1})
	assert.Equal(t, sharepoint.Fields{"Request ID": "A1", "Summary": "x", "Other": 1}, got)
}

func TestMapping_Validate(t *testing.T) {
	assert.NoError(t, Mapping{"a": "A", "b": "B"}.Validate())
	assert.Error(t, Mapping{"a": "X", "b": "X"}.Validate())
	assert.Error(t, Mapping{"a": ""}.Validate())
}

type fakeList struct {
	schema   sharepoint.Schema
	items    []sharepoint.Item
	err      error
	lastOpts sharepoint.ReadOptions
}

func (f *fakeList) Columns(_ context.Context, _ string) (sharepoint.Schema, error) {
	return f.schema, f.err
}

func (f *fakeList) ReadAll(
	_ context.Context, _ string, _ sharepoint.Schema, opts sharepoint.ReadOptions,
) ([]sharepoint.Item, error) {
	f.lastOpts = opts
	return f.items, nil
}

func TestList_Snapshot(t *testing.T) {
	fake := &fakeList{
		schema: sharepoint.Schema{"Req": {DisplayName: "Req", InternalName: "Req"}},
		items: []sharepoint.Item{
			{ID: 3, Fields: sharepoint.Fields{"Req": "A1"}, Attachments: []string{"a.pdf"}},
		},
	}

	l := &List{
		Name:        "Intake",
		Schemas:     fake,
		Reader:      fake,
		ReadOptions: sharepoint.ReadOptions{Filter: "Year eq 2024"},
		Mapping:     Mapping{"Req": "Request ID"},
		Logger:      testLogger(t),
	}

	items, err := l.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)

	assert.Equal(t, sharepoint.Fields{"Request ID": "A1"}, items[0].Fields)
	assert.Equal(t, []string{"a.pdf"}, items[0].Attachments)
	assert.True(t, fake.lastOpts.ExpandAttachments)
	assert.Equal(t, "Year eq 2024", fake.lastOpts.Filter)
}

func TestList_SchemaError(t *testing.T) {
	fake := &fakeList{err: errors.New("denied")}

	_, err := (&List{Name: "Intake", Schemas: fake, Reader: fake}).Snapshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Intake")
}

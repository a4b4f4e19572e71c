package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/tonimelisma/listsync/internal/sharepoint"
)

// DefaultModifiedField is the export column holding the last-change time.
const DefaultModifiedField = "Modified"

// dateLayouts are tried in order when parsing the modified column.
var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// File snapshots a JSON export: an array of flat objects keyed by column
// name. Row n (1-based) becomes item n. Exports carry no attachments.
type File struct {
	Path          string
	ModifiedField string // "" means DefaultModifiedField
	Mapping       Mapping
	Logger        *slog.Logger
}

// Snapshot reads and decodes the export. The file is read on every call so
// edits between watch cycles are picked up.
func (f *File) Snapshot(ctx context.Context) ([]sharepoint.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("source: reading %s: %w", f.Path, err)
	}

	items, err := decodeRows(data, f.modifiedField(), f.logger())
	if err != nil {
		return nil, fmt.Errorf("source: decoding %s: %w", f.Path, err)
	}

	f.Mapping.applyAll(items)

	f.logger().Info("source file read",
		slog.String("path", f.Path),
		slog.Int("items", len(items)),
	)

	return items, nil
}

func (f *File) modifiedField() string {
	if f.ModifiedField == "" {
		return DefaultModifiedField
	}

	return f.ModifiedField
}

func (f *File) logger() *slog.Logger {
	if f.Logger == nil {
		return slog.Default()
	}

	return f.Logger
}

func decodeRows(data []byte, modifiedField string, logger *slog.Logger) ([]sharepoint.Item, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var rows []map[string]any
	if err := dec.Decode(&rows); err != nil {
		return nil, err
	}

	items := make([]sharepoint.Item, 0, len(rows))

	for i, row := range rows {
		it := sharepoint.Item{ID: i + 1, Fields: make(sharepoint.Fields, len(row))}

		for k, v := range row {
			if k == modifiedField {
				continue
			}

			it.Fields[k] = v
		}

		if raw, ok := row[modifiedField]; ok && raw != nil {
			ts, ok := parseModified(raw)
			if !ok {
				logger.Warn("unparseable modified time, treating as oldest",
					slog.Int("row", i+1),
					slog.Any("value", raw),
				)
			}

			it.Modified = ts
		}

		items = append(items, it)
	}

	return items, nil
}

func parseModified(raw any) (time.Time, bool) {
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, false
	}

	s = strings.TrimSpace(s)

	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}

	return time.Time{}, false
}

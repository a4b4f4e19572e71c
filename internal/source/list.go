package source

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/listsync/internal/sharepoint"
)

// SchemaSource resolves list columns. Satisfied by *sharepoint.Registry.
type SchemaSource interface {
	Columns(ctx context.Context, list string) (sharepoint.Schema, error)
}

// ListReader reads a whole list. Satisfied by *sharepoint.Client.
type ListReader interface {
	ReadAll(ctx context.Context, list string, schema sharepoint.Schema, opts sharepoint.ReadOptions) ([]sharepoint.Item, error)
}

// List snapshots a SharePoint list, possibly on another site than the
// destination.
type List struct {
	Name        string
	Schemas     SchemaSource
	Reader      ListReader
	ReadOptions sharepoint.ReadOptions
	Mapping     Mapping
	Logger      *slog.Logger
}

// Snapshot reads every item of the list with its attachment names and
// applies the column mapping.
func (l *List) Snapshot(ctx context.Context) ([]sharepoint.Item, error) {
	schema, err := l.Schemas.Columns(ctx, l.Name)
	if err != nil {
		return nil, fmt.Errorf("source: schema of %q: %w", l.Name, err)
	}

	opts := l.ReadOptions
	opts.ExpandAttachments = true

	items, err := l.Reader.ReadAll(ctx, l.Name, schema, opts)
	if err != nil {
		return nil, err
	}

	l.Mapping.applyAll(items)

	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("source list read",
		slog.String("list", l.Name),
		slog.Int("items", len(items)),
	)

	return items, nil
}

package sync

import (
	"encoding/json"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/tonimelisma/listsync/internal/sharepoint"
)

// Change is a mutation of an existing destination item.
type Change struct {
	DestinationID int
	Key           string
	Fields        sharepoint.Fields
}

// DiffResult partitions the work of one sync pass. A primary key appears in
// at most one partition.
type DiffResult struct {
	ToInsert []sharepoint.Fields
	ToUpdate []Change
	ToClose  []Change
}

// Empty reports whether there is nothing to do.
func (d DiffResult) Empty() bool {
	return len(d.ToInsert) == 0 && len(d.ToUpdate) == 0 && len(d.ToClose) == 0
}

// DiffOptions configures Diff.
type DiffOptions struct {
	// PrimaryKey is the display name of the column joining the snapshots.
	PrimaryKey string
	// FlagField marks destination items that take part in updates. Inserts
	// set it to true and updates only touch items where it is truthy.
	// Closes ignore it.
	FlagField string
	// StatusField and ClosedValue describe the tombstone update.
	StatusField string
	ClosedValue string
	// Compare limits the field comparison to these display names. Empty
	// compares every source field.
	Compare []string
	// Eligible decides whether a source item takes part in sync at all.
	// Nil accepts every item.
	Eligible func(sharepoint.Item) bool
	Logger   *slog.Logger
}

// Diff computes inserts, updates and closes that bring destination in line
// with source. Neither snapshot is modified.
//
// Updates require the source item to be strictly newer than its destination
// counterpart and at least one compared field to differ. A field missing on
// one side and present on the other counts as different. Every destination
// item whose key vanished from the source is closed rather than deleted,
// whatever its flag, unless it already carries the closed value.
func Diff(source, destination []sharepoint.Item, opts DiffOptions) DiffResult {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dest := make(map[string]*sharepoint.Item, len(destination))

	for i := range destination {
		d := &destination[i]

		key := KeyString(d.Fields[opts.PrimaryKey])
		if key == "" {
			continue
		}

		if _, dup := dest[key]; dup {
			logger.Warn("duplicate key in destination, keeping first",
				slog.String("key", key),
				slog.Int("id", d.ID),
			)

			continue
		}

		dest[key] = d
	}

	var result DiffResult

	seen := make(map[string]bool, len(source))

	for i := range source {
		s := &source[i]

		key := KeyString(s.Fields[opts.PrimaryKey])
		if key == "" {
			logger.Debug("source item has no key, skipping", slog.Int("id", s.ID))
			continue
		}

		if seen[key] {
			logger.Warn("duplicate key in source, keeping first", slog.String("key", key))
			continue
		}

		seen[key] = true

		if opts.Eligible != nil && !opts.Eligible(*s) {
			continue
		}

		d, exists := dest[key]
		if !exists {
			fields := s.Fields.Clone()
			if opts.FlagField != "" {
				fields[opts.FlagField] = true
			}

			result.ToInsert = append(result.ToInsert, fields)

			continue
		}

		if !participates(d, opts.FlagField) {
			continue
		}

		// Equal timestamps never update: the source wins only when newer.
		if !s.Modified.After(d.Modified) {
			continue
		}

		if !fieldsDiffer(s.Fields, d.Fields, opts) {
			continue
		}

		result.ToUpdate = append(result.ToUpdate, Change{
			DestinationID: d.ID,
			Key:           key,
			Fields:        s.Fields.Clone(),
		})
	}

	if opts.StatusField == "" {
		return result
	}

	for i := range destination {
		d := &destination[i]

		key := KeyString(d.Fields[opts.PrimaryKey])
		if key == "" || seen[key] || dest[key] != d {
			continue
		}

		if KeyString(d.Fields[opts.StatusField]) == opts.ClosedValue {
			continue
		}

		result.ToClose = append(result.ToClose, Change{
			DestinationID: d.ID,
			Key:           key,
			Fields:        sharepoint.Fields{opts.StatusField: opts.ClosedValue},
		})
	}

	return result
}

// participates reports whether a destination item's flag is truthy. With
// no flag configured every item participates.
func participates(d *sharepoint.Item, flag string) bool {
	if flag == "" {
		return true
	}

	return Truthy(d.Fields[flag])
}

// fieldsDiffer compares source fields against the destination, skipping the
// primary key, Modified and the flag column.
func fieldsDiffer(src, dst sharepoint.Fields, opts DiffOptions) bool {
	names := opts.Compare
	if len(names) == 0 {
		names = make([]string, 0, len(src))
		for name := range src {
			names = append(names, name)
		}
	}

	for _, name := range names {
		if name == opts.PrimaryKey || name == opts.FlagField || reservedColumns[name] {
			continue
		}

		sv, sok := src[name]
		if !sok && len(opts.Compare) > 0 {
			// Column not supplied by this source.
			continue
		}

		dv, dok := dst[name]
		if sok != dok {
			return true
		}

		if !valuesEqual(sv, dv) {
			return true
		}
	}

	return false
}

// valuesEqual compares two field values across the representations the
// readers produce: json.Number vs float64, numeric strings vs numbers.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if ai, ok := integral(a); ok {
		if bi, ok := integral(b); ok {
			return ai == bi
		}
	}

	af, aNum := numeric(a)
	bf, bNum := numeric(b)

	if aNum && bNum {
		return af == bf || math.Abs(af-bf) < 1e-9
	}

	return KeyString(a) == KeyString(b)
}

// integral reports the exact value of integer-typed fields, so keys and
// counters beyond float64 precision compare correctly.
func integral(v any) (int64, bool) {
	switch v.(type) {
	case json.Number, int, int64:
		return toInteger(v)
	default:
		return 0, false
	}
}

func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case json.Number, float64, float32, int, int64:
		return toFloat(x)
	default:
		return 0, false
	}
}

// KeyString renders a key or comparison value as a trimmed string.
func KeyString(v any) string {
	if v == nil {
		return ""
	}

	return strings.TrimSpace(stringify(v))
}

// Truthy interprets flag values as SharePoint and spreadsheets store them:
// booleans, "true"/"yes"/"1" strings, and non-zero numbers.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "yes", "y", "1":
			return true
		}

		return false
	default:
		if f, ok := numeric(v); ok {
			return f != 0
		}

		b, err := strconv.ParseBool(KeyString(v))

		return err == nil && b
	}
}

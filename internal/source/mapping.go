// Package source produces the source snapshot of a sync pass, either from a
// SharePoint list or from a JSON export file.
package source

import (
	"fmt"
	"sort"

	"github.com/tonimelisma/listsync/internal/sharepoint"
)

// Mapping renames source columns to destination display names. Columns
// without an entry keep their name.
type Mapping map[string]string

// Validate rejects mappings that would fold two source columns into one
// destination column.
func (m Mapping) Validate() error {
	targets := make(map[string]string, len(m))

	from := make([]string, 0, len(m))
	for k := range m {
		from = append(from, k)
	}

	sort.Strings(from)

	for _, src := range from {
		dst := m[src]
		if dst == "" {
			return fmt.Errorf("source: mapping for %q has an empty target", src)
		}

		if prev, ok := targets[dst]; ok {
			return fmt.Errorf("source: columns %q and %q both map to %q", prev, src, dst)
		}

		targets[dst] = src
	}

	return nil
}

// Apply returns fields with mapped names. When a renamed column collides
// with an unmapped column of the same name, the renamed value wins.
func (m Mapping) Apply(fields sharepoint.Fields) sharepoint.Fields {
	if len(m) == 0 {
		return fields
	}

	out := make(sharepoint.Fields, len(fields))

	for name, v := range fields {
		if _, renamed := m[name]; renamed {
			continue
		}

		out[name] = v
	}

	for name, v := range fields {
		if target, ok := m[name]; ok {
			out[target] = v
		}
	}

	return out
}

// applyAll renames the fields of every item in place. Items own their
// Fields maps, so nothing is shared with the caller's data.
func (m Mapping) applyAll(items []sharepoint.Item) {
	if len(m) == 0 {
		return
	}

	for i := range items {
		items[i].Fields = m.Apply(items[i].Fields)
	}
}

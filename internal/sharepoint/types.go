package sharepoint

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DataType is the declared type of a list column, reduced to the kinds the
// sync engine treats differently.
type DataType int

const (
	TypeOther DataType = iota
	TypeText
	TypeNumber
	TypeDateTime
	TypeChoice
	TypeAttachments
	TypeLookup
)

func (t DataType) String() string {
	switch t {
	case TypeText:
		return "Text"
	case TypeNumber:
		return "Number"
	case TypeDateTime:
		return "DateTime"
	case TypeChoice:
		return "Choice"
	case TypeAttachments:
		return "Attachments"
	case TypeLookup:
		return "Lookup"
	default:
		return "Other"
	}
}

// ColumnDescriptor describes one writable column of a list.
type ColumnDescriptor struct {
	DisplayName  string
	InternalName string   // name used in write payloads (Id-suffixed for lookups)
	DataType     DataType
	TypeName     string // raw TypeAsString from the server
	IsIDLike     bool   // lookup/user column addressed by its Id
}

// Schema maps column display names to their descriptors.
type Schema map[string]ColumnDescriptor

// ByInternalName returns the column whose internal name matches.
func (s Schema) ByInternalName(name string) (ColumnDescriptor, bool) {
	for _, col := range s {
		if col.InternalName == name {
			return col, true
		}
	}

	return ColumnDescriptor{}, false
}

// Fields holds item values keyed by column display name.
type Fields map[string]any

// Clone returns a shallow copy.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}

	return out
}

// Item is one list row as seen by the sync engine. Items are produced fresh
// on every read and never mutated afterwards.
type Item struct {
	ID          int
	Fields      Fields
	Modified    time.Time
	Attachments []string // file names, server order
}

// listPath returns the API path of a list addressed by title. Single quotes
// are doubled per OData string literal rules.
func listPath(title string) string {
	escaped := strings.ReplaceAll(title, "'", "''")
	return "/_api/web/lists/getbytitle('" + url.PathEscape(escaped) + "')"
}

// itemsPath returns the item collection path of a list.
func itemsPath(title string) string {
	return listPath(title) + "/items"
}

// itemPath returns the path of one item.
func itemPath(title string, id int) string {
	return fmt.Sprintf("%s/items(%d)", listPath(title), id)
}

// attachmentPath returns the path of one attachment file of an item.
func attachmentPath(title string, id int, name string) string {
	escaped := strings.ReplaceAll(name, "'", "''")
	return fmt.Sprintf("%s/AttachmentFiles('%s')", itemPath(title, id), url.PathEscape(escaped))
}

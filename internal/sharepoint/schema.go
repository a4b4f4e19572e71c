package sharepoint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// FieldTypeKind values whose columns are written through their Id property.
// Writes to the bare name of these kinds are silently ignored by the server.
const (
	fieldKindLookup = 7
	fieldKindUser   = 20
)

// contentTypeColumn is the internal name of the per-item content type
// selector. It is writable but never synchronized.
const contentTypeColumn = "ContentType"

// writableFieldsFilter selects the columns that can be written.
const writableFieldsFilter = "Hidden eq false and ReadOnlyField eq false"

// entityTypeProperty is the list property holding the item entity type.
const entityTypeProperty = "ListItemEntityTypeFullName"

// fieldResponse mirrors one SP.Field entry of the fields collection.
type fieldResponse struct {
	Title              string `json:"Title"`
	InternalName       string `json:"InternalName"`
	EntityPropertyName string `json:"EntityPropertyName"`
	TypeAsString       string `json:"TypeAsString"`
	FieldTypeKind      int    `json:"FieldTypeKind"`
}

type fieldsResponse struct {
	D struct {
		Results []fieldResponse `json:"results"`
	} `json:"d"`
}

type listPropertiesResponse struct {
	D map[string]json.RawMessage `json:"d"`
}

// odataQuery encodes OData system query options. Spaces become %20 rather
// than "+", which some SharePoint versions reject inside $filter.
func odataQuery(params ...[2]string) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		if p[1] == "" {
			continue
		}

		parts = append(parts, p[0]+"="+strings.ReplaceAll(url.QueryEscape(p[1]), "+", "%20"))
	}

	if len(parts) == 0 {
		return ""
	}

	return "?" + strings.Join(parts, "&")
}

// toDataType maps TypeAsString to the engine's DataType.
func toDataType(typeName string) DataType {
	switch typeName {
	case "Text", "Note":
		return TypeText
	case "Number", "Currency", "Integer", "Counter":
		return TypeNumber
	case "DateTime":
		return TypeDateTime
	case "Choice", "MultiChoice":
		return TypeChoice
	case "Attachments":
		return TypeAttachments
	case "Lookup", "LookupMulti", "User", "UserMulti":
		return TypeLookup
	default:
		return TypeOther
	}
}

// Columns reads the writable columns of a list. Hidden and read-only fields
// and the content type column are excluded. Lookup and user columns get the
// Id suffix on their internal name.
func (c *Client) Columns(ctx context.Context, list string) (Schema, error) {
	c.logger.Info("fetching list columns", slog.String("list", list))

	path := listPath(list) + "/fields" + odataQuery([2]string{"$filter", writableFieldsFilter})

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, asListError(list, err)
	}
	defer resp.Body.Close()

	var fr fieldsResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return nil, fmt.Errorf("sharepoint: decoding fields response: %w", err)
	}

	schema := make(Schema, len(fr.D.Results))
	seenInternal := make(map[string]bool, len(fr.D.Results))

	for i := range fr.D.Results {
		f := &fr.D.Results[i]

		internal := f.EntityPropertyName
		if internal == "" {
			internal = f.InternalName
		}

		if internal == contentTypeColumn {
			continue
		}

		idLike := f.FieldTypeKind == fieldKindLookup || f.FieldTypeKind == fieldKindUser
		if idLike {
			internal += "Id"
		}

		if seenInternal[internal] {
			c.logger.Warn("duplicate internal column name, keeping first",
				slog.String("list", list),
				slog.String("internal_name", internal),
			)

			continue
		}

		if _, dup := schema[f.Title]; dup {
			c.logger.Warn("duplicate column display name, keeping first",
				slog.String("list", list),
				slog.String("display_name", f.Title),
			)

			continue
		}

		seenInternal[internal] = true
		schema[f.Title] = ColumnDescriptor{
			DisplayName:  f.Title,
			InternalName: internal,
			DataType:     toDataType(f.TypeAsString),
			TypeName:     f.TypeAsString,
			IsIDLike:     idLike,
		}
	}

	c.logger.Debug("fetched list columns",
		slog.String("list", list),
		slog.Int("columns", len(schema)),
	)

	return schema, nil
}

// EntityType reads the list's item entity type name (e.g.
// "SP.Data.TasksListItem"), used to tag __metadata in write payloads.
func (c *Client) EntityType(ctx context.Context, list string) (string, error) {
	c.logger.Info("fetching list entity type", slog.String("list", list))

	path := listPath(list) + odataQuery([2]string{"$select", entityTypeProperty})

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", asListError(list, err)
	}
	defer resp.Body.Close()

	var lp listPropertiesResponse
	if err := json.NewDecoder(resp.Body).Decode(&lp); err != nil {
		return "", fmt.Errorf("sharepoint: decoding list properties: %w", err)
	}

	raw, ok := lp.D[entityTypeProperty]
	if !ok {
		return "", fmt.Errorf("sharepoint: list properties missing %s", entityTypeProperty)
	}

	var token string
	if err := json.Unmarshal(raw, &token); err != nil || token == "" {
		return "", fmt.Errorf("sharepoint: invalid %s value %s", entityTypeProperty, string(raw))
	}

	return token, nil
}

// Registry caches list schemas and entity type tokens for the lifetime of a
// sync run. The list schema is assumed stable for that long. Safe for
// concurrent use.
type Registry struct {
	client *Client

	mu       sync.Mutex
	columns  map[string]Schema
	entities map[string]string
}

// NewRegistry creates an empty registry backed by client.
func NewRegistry(client *Client) *Registry {
	return &Registry{
		client:   client,
		columns:  make(map[string]Schema),
		entities: make(map[string]string),
	}
}

// Columns returns the cached schema of list, fetching it on first use.
// Failures are returned as *SchemaFetchError.
func (r *Registry) Columns(ctx context.Context, list string) (Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.columns[list]; ok {
		return s, nil
	}

	s, err := r.client.Columns(ctx, list)
	if err != nil {
		return nil, &SchemaFetchError{List: list, Err: err}
	}

	r.columns[list] = s

	return s, nil
}

// EntityType returns the cached entity type token of list, fetching it on
// first use. Failures are returned as *SchemaFetchError.
func (r *Registry) EntityType(ctx context.Context, list string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tok, ok := r.entities[list]; ok {
		return tok, nil
	}

	tok, err := r.client.EntityType(ctx, list)
	if err != nil {
		return "", &SchemaFetchError{List: list, Err: err}
	}

	r.entities[list] = tok

	return tok, nil
}

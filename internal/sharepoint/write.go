package sharepoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// OpKind identifies the mutation an Operation performs.
type OpKind int

const (
	OpInsert OpKind = iota + 1
	OpUpdate
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Operation is one item mutation. Build it with Insert, Update or Delete;
// the zero value is invalid. Fields are keyed by internal column name and
// hold already-coerced wire values.
type Operation struct {
	kind   OpKind
	itemID int
	fields map[string]any
}

// Insert creates an item with fields.
func Insert(fields map[string]any) Operation {
	return Operation{kind: OpInsert, fields: fields}
}

// Update merges fields into item id.
func Update(id int, fields map[string]any) Operation {
	return Operation{kind: OpUpdate, itemID: id, fields: fields}
}

// Delete removes item id.
func Delete(id int) Operation {
	return Operation{kind: OpDelete, itemID: id}
}

// Kind returns the operation kind.
func (o Operation) Kind() OpKind { return o.kind }

// ItemID returns the target item ID (0 for inserts).
func (o Operation) ItemID() int { return o.itemID }

// Fields returns the wire payload fields (nil for deletes).
func (o Operation) Fields() map[string]any { return o.fields }

// encodeItemBody renders a write payload tagged with the list entity type.
func encodeItemBody(entityType string, fields map[string]any) ([]byte, error) {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}

	body["__metadata"] = map[string]string{"type": entityType}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("sharepoint: encoding item payload: %w", err)
	}

	return data, nil
}

type createItemResponse struct {
	D struct {
		ID int `json:"Id"`
	} `json:"d"`
}

// Apply performs one single-item write authorized by digest. For inserts it
// returns the ID of the created item; for other kinds it returns
// op.ItemID().
func (c *Client) Apply(ctx context.Context, list, entityType string, op Operation, digest Digest) (int, error) {
	switch op.kind {
	case OpInsert:
		return c.CreateItem(ctx, list, entityType, op.fields, digest)
	case OpUpdate:
		return op.itemID, c.UpdateItem(ctx, list, entityType, op.itemID, op.fields, digest)
	case OpDelete:
		return op.itemID, c.DeleteItem(ctx, list, op.itemID, digest)
	default:
		return 0, fmt.Errorf("sharepoint: invalid operation kind %d", op.kind)
	}
}

// CreateItem adds an item and returns its server-assigned ID. The request
// is sent once: a replayed insert could create a duplicate row.
func (c *Client) CreateItem(ctx context.Context, list, entityType string, fields map[string]any, digest Digest) (int, error) {
	body, err := encodeItemBody(entityType, fields)
	if err != nil {
		return 0, err
	}

	resp, err := c.doRaw(ctx, http.MethodPost, itemsPath(list), bytes.NewReader(body), digest.header())
	if err != nil {
		return 0, asListError(list, err)
	}
	defer resp.Body.Close()

	var cr createItemResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return 0, fmt.Errorf("sharepoint: decoding created item: %w", err)
	}

	c.logger.Debug("created item",
		slog.String("list", list),
		slog.Int("id", cr.D.ID),
	)

	return cr.D.ID, nil
}

// UpdateItem merges fields into an existing item, ignoring its ETag.
func (c *Client) UpdateItem(
	ctx context.Context, list, entityType string, id int, fields map[string]any, digest Digest,
) error {
	body, err := encodeItemBody(entityType, fields)
	if err != nil {
		return err
	}

	hdr := digest.header()
	hdr.Set("X-HTTP-Method", "MERGE")
	hdr.Set("IF-MATCH", "*")

	resp, err := c.DoWithHeaders(ctx, http.MethodPost, itemPath(list, id), bytes.NewReader(body), hdr)
	if err != nil {
		return err
	}

	drainAndClose(resp)

	c.logger.Debug("updated item",
		slog.String("list", list),
		slog.Int("id", id),
	)

	return nil
}

// DeleteItem removes an item, ignoring its ETag.
func (c *Client) DeleteItem(ctx context.Context, list string, id int, digest Digest) error {
	hdr := digest.header()
	hdr.Set("X-HTTP-Method", "DELETE")
	hdr.Set("IF-MATCH", "*")

	resp, err := c.DoWithHeaders(ctx, http.MethodPost, itemPath(list, id), nil, hdr)
	if err != nil {
		return err
	}

	drainAndClose(resp)

	c.logger.Debug("deleted item",
		slog.String("list", list),
		slog.Int("id", id),
	)

	return nil
}

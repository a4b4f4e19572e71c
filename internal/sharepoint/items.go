package sharepoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultPageDelay is the pause between consecutive page reads.
const DefaultPageDelay = 2 * time.Second

// attachmentFilesProperty is the navigation property expanded to list the
// attachment file names of every item in a page.
const attachmentFilesProperty = "AttachmentFiles"

// PageErrorPolicy decides what a read does when a page fails with anything
// other than 404 after the client's retry budget is spent.
type PageErrorPolicy string

const (
	// PageErrorFail stops the read and returns the error.
	PageErrorFail PageErrorPolicy = "fail"
	// PageErrorSkip logs a warning and ends the read as if the failed page
	// were the last one.
	PageErrorSkip PageErrorPolicy = "skip"
)

// ReadOptions tunes a paginated item read. The zero value reads every item
// with all columns, no delay, and fails on page errors.
type ReadOptions struct {
	Filter            string   // OData $filter expression
	Select            []string // internal names; Id and Modified are always added
	Top               int      // page size hint ($top); 0 lets the server decide
	ExpandAttachments bool
	PageDelay         time.Duration
	OnPageError       PageErrorPolicy
}

// query renders the options as an OData query string.
func (o ReadOptions) query() string {
	var sel string
	if len(o.Select) > 0 {
		cols := append([]string{"Id", "Modified"}, o.Select...)
		if o.ExpandAttachments {
			cols = append(cols, attachmentFilesProperty)
		}

		sel = strings.Join(cols, ",")
	}

	var expand, top string
	if o.ExpandAttachments {
		expand = attachmentFilesProperty
	}

	if o.Top > 0 {
		top = strconv.Itoa(o.Top)
	}

	return odataQuery(
		[2]string{"$select", sel},
		[2]string{"$filter", o.Filter},
		[2]string{"$expand", expand},
		[2]string{"$top", top},
	)
}

type itemsResponse struct {
	D struct {
		Results []map[string]any `json:"results"`
		Next    string           `json:"__next"`
	} `json:"d"`
}

// Items returns a lazy, single-pass sequence over every item of list, in
// server order, following __next continuation links. Column values are
// keyed by the display names in schema; columns absent from schema are not
// surfaced. The context is checked between pages.
//
// A 404 yields a *ListNotFoundError. Other page failures follow
// opts.OnPageError. After an error is yielded the sequence ends.
func (c *Client) Items(ctx context.Context, list string, schema Schema, opts ReadOptions) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		path := itemsPath(list) + opts.query()

		for page := 1; path != ""; page++ {
			if page > 1 && opts.PageDelay > 0 {
				if err := c.sleepFunc(ctx, opts.PageDelay); err != nil {
					yield(Item{}, fmt.Errorf("sharepoint: reading %q canceled: %w", list, err))
					return
				}
			}

			if err := ctx.Err(); err != nil {
				yield(Item{}, fmt.Errorf("sharepoint: reading %q canceled: %w", list, err))
				return
			}

			items, next, err := c.itemsPage(ctx, list, schema, path, page)
			if err != nil {
				var nf *ListNotFoundError
				if errors.As(err, &nf) || ctx.Err() != nil || opts.OnPageError != PageErrorSkip {
					yield(Item{}, err)
					return
				}

				c.logger.Warn("page read failed, treating remaining pages as empty",
					slog.String("list", list),
					slog.Int("page", page),
					slog.String("error", err.Error()),
				)

				return
			}

			for i := range items {
				if !yield(items[i], nil) {
					return
				}
			}

			path = next
		}
	}
}

// ReadAll materializes Items into a slice. Items repeating an ID already
// seen are dropped with a warning so IDs stay unique within the snapshot.
func (c *Client) ReadAll(ctx context.Context, list string, schema Schema, opts ReadOptions) ([]Item, error) {
	c.logger.Info("reading list items", slog.String("list", list))

	var items []Item

	seen := make(map[int]bool)

	for item, err := range c.Items(ctx, list, schema, opts) {
		if err != nil {
			return nil, err
		}

		if seen[item.ID] {
			c.logger.Warn("duplicate item id in snapshot, skipping",
				slog.String("list", list),
				slog.Int("id", item.ID),
			)

			continue
		}

		seen[item.ID] = true
		items = append(items, item)
	}

	c.logger.Info("read list items complete",
		slog.String("list", list),
		slog.Int("total_items", len(items)),
	)

	return items, nil
}

// itemsPage fetches one page and returns its items and the next page path
// (empty if no more pages).
func (c *Client) itemsPage(ctx context.Context, list string, schema Schema, path string, page int) ([]Item, string, error) {
	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, "", asListError(list, err)
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()

	var ir itemsResponse
	if err := dec.Decode(&ir); err != nil {
		return nil, "", fmt.Errorf("sharepoint: decoding items response: %w", err)
	}

	items := make([]Item, 0, len(ir.D.Results))

	for _, raw := range ir.D.Results {
		item, err := toItem(raw, schema, c.logger)
		if err != nil {
			c.logger.Warn("skipping undecodable item",
				slog.String("list", list),
				slog.Int("page", page),
				slog.String("error", err.Error()),
			)

			continue
		}

		items = append(items, item)
	}

	c.logger.Debug("fetched items page",
		slog.String("list", list),
		slog.Int("page", page),
		slog.Int("count", len(items)),
	)

	var nextPath string
	if ir.D.Next != "" {
		nextPath, err = c.stripSiteURL(ir.D.Next)
		if err != nil {
			return nil, "", err
		}
	}

	return items, nextPath, nil
}

// toItem normalizes one raw item entry.
func toItem(raw map[string]any, schema Schema, logger *slog.Logger) (Item, error) {
	id, err := itemID(raw)
	if err != nil {
		return Item{}, err
	}

	item := Item{
		ID:     id,
		Fields: make(Fields, len(schema)),
	}

	if s, ok := raw["Modified"].(string); ok && s != "" {
		t, perr := time.Parse(time.RFC3339, s)
		if perr != nil {
			logger.Warn("invalid Modified timestamp, treating as unset",
				slog.Int("id", id),
				slog.String("raw", s),
			)
		} else {
			item.Modified = t
		}
	}

	for display, col := range schema {
		if v, ok := raw[col.InternalName]; ok {
			item.Fields[display] = v
		}
	}

	item.Attachments = attachmentNames(raw[attachmentFilesProperty])

	return item, nil
}

// itemID reads the numeric item ID, which the server reports as both "Id"
// and "ID".
func itemID(raw map[string]any) (int, error) {
	v, ok := raw["Id"]
	if !ok {
		v, ok = raw["ID"]
	}

	if !ok {
		return 0, errors.New("sharepoint: item has no Id")
	}

	switch n := v.(type) {
	case json.Number:
		id, err := strconv.Atoi(n.String())
		if err != nil {
			return 0, fmt.Errorf("sharepoint: invalid item Id %q: %w", n, err)
		}

		return id, nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("sharepoint: invalid item Id %v", v)
	}
}

// attachmentNames extracts FileName values from an expanded AttachmentFiles
// property ({"results": [{"FileName": ...}, ...]}).
func attachmentNames(v any) []string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}

	results, ok := m["results"].([]any)
	if !ok {
		return nil
	}

	names := make([]string, 0, len(results))

	for _, r := range results {
		entry, ok := r.(map[string]any)
		if !ok {
			continue
		}

		if name, ok := entry["FileName"].(string); ok && name != "" {
			names = append(names, name)
		}
	}

	return names
}

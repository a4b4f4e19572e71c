package sharepoint

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// DownloadAttachment streams the content of one attachment into w and
// returns the number of bytes written.
func (c *Client) DownloadAttachment(ctx context.Context, list string, id int, name string, w io.Writer) (int64, error) {
	c.logger.Debug("downloading attachment",
		slog.String("list", list),
		slog.Int("id", id),
		slog.String("name", name),
	)

	resp, err := c.DoWithHeaders(ctx, http.MethodGet, attachmentPath(list, id, name)+"/$value", nil,
		http.Header{"Accept": {"*/*"}})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("sharepoint: downloading attachment %q: %w", name, err)
	}

	return n, nil
}

// AddAttachment uploads content as a new attachment of an item. The request
// is sent once.
func (c *Client) AddAttachment(
	ctx context.Context, list string, id int, name string, content io.Reader, digest Digest,
) error {
	c.logger.Debug("uploading attachment",
		slog.String("list", list),
		slog.Int("id", id),
		slog.String("name", name),
	)

	escaped := url.PathEscape(strings.ReplaceAll(name, "'", "''"))
	path := fmt.Sprintf("%s/%s/add(FileName='%s')", itemPath(list, id), attachmentFilesProperty, escaped)

	hdr := digest.header()
	hdr.Set("Content-Type", "application/octet-stream")

	resp, err := c.doRaw(ctx, http.MethodPost, path, content, hdr)
	if err != nil {
		return fmt.Errorf("sharepoint: uploading attachment %q: %w", name, err)
	}

	drainAndClose(resp)

	return nil
}

// DeleteAttachment removes one attachment of an item.
func (c *Client) DeleteAttachment(ctx context.Context, list string, id int, name string, digest Digest) error {
	c.logger.Debug("deleting attachment",
		slog.String("list", list),
		slog.Int("id", id),
		slog.String("name", name),
	)

	hdr := digest.header()
	hdr.Set("X-HTTP-Method", "DELETE")

	resp, err := c.DoWithHeaders(ctx, http.MethodPost, attachmentPath(list, id, name), nil, hdr)
	if err != nil {
		return fmt.Errorf("sharepoint: deleting attachment %q: %w", name, err)
	}

	drainAndClose(resp)

	return nil
}

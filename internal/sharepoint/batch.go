package sharepoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"

	"github.com/google/uuid"
)

// DefaultBatchSize is the maximum number of operations per $batch request
// when no limit is configured.
const DefaultBatchSize = 100

// batchPath is the site-relative $batch endpoint.
const batchPath = "/_api/$batch"

var (
	// ErrBatchTooLarge is returned by Build when more operations are passed
	// than the builder's limit. Split first with SplitOperations.
	ErrBatchTooLarge = errors.New("sharepoint: batch exceeds size limit")
	// ErrEmptyBatch is returned by Build when no operations are passed.
	ErrEmptyBatch = errors.New("sharepoint: batch has no operations")
)

// BatchRequest is an encoded $batch payload ready for submission.
type BatchRequest struct {
	Body        []byte
	ContentType string // multipart/mixed; boundary=batch_<uuid>
	Operations  []Operation
}

// BatchBuilder encodes operations into the multipart $batch wire format.
// All operations of one Build call share a single changeset, so the server
// applies them in order.
type BatchBuilder struct {
	SiteURL string // absolute site URL, used in each part's request line
	Limit   int    // max operations per batch; <= 0 means DefaultBatchSize
}

func (b BatchBuilder) limit() int {
	if b.Limit <= 0 {
		return DefaultBatchSize
	}

	return b.Limit
}

// Build encodes ops for list. Boundaries are fresh random UUIDs on every
// call. Build never splits: more than Limit operations is ErrBatchTooLarge.
func (b BatchBuilder) Build(list, entityType string, ops []Operation) (*BatchRequest, error) {
	if len(ops) == 0 {
		return nil, ErrEmptyBatch
	}

	if len(ops) > b.limit() {
		return nil, fmt.Errorf("%w: %d operations, limit %d", ErrBatchTooLarge, len(ops), b.limit())
	}

	var changeset bytes.Buffer

	inner := multipart.NewWriter(&changeset)
	if err := inner.SetBoundary("changeset_" + uuid.NewString()); err != nil {
		return nil, fmt.Errorf("sharepoint: setting changeset boundary: %w", err)
	}

	for i, op := range ops {
		if err := b.writeOperation(inner, list, entityType, op); err != nil {
			return nil, fmt.Errorf("sharepoint: encoding operation %d: %w", i, err)
		}
	}

	if err := inner.Close(); err != nil {
		return nil, fmt.Errorf("sharepoint: closing changeset: %w", err)
	}

	var body bytes.Buffer

	outer := multipart.NewWriter(&body)
	if err := outer.SetBoundary("batch_" + uuid.NewString()); err != nil {
		return nil, fmt.Errorf("sharepoint: setting batch boundary: %w", err)
	}

	pw, err := outer.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"multipart/mixed; boundary=" + inner.Boundary()},
	})
	if err != nil {
		return nil, fmt.Errorf("sharepoint: creating changeset part: %w", err)
	}

	if _, err := pw.Write(changeset.Bytes()); err != nil {
		return nil, fmt.Errorf("sharepoint: writing changeset part: %w", err)
	}

	if err := outer.Close(); err != nil {
		return nil, fmt.Errorf("sharepoint: closing batch: %w", err)
	}

	return &BatchRequest{
		Body:        body.Bytes(),
		ContentType: "multipart/mixed; boundary=" + outer.Boundary(),
		Operations:  ops,
	}, nil
}

// writeOperation writes one application/http part: request line, headers,
// blank line, then the JSON body for inserts and updates.
func (b BatchBuilder) writeOperation(w *multipart.Writer, list, entityType string, op Operation) error {
	var (
		method string
		target string
		header = http.Header{}
	)

	switch op.kind {
	case OpInsert:
		method = http.MethodPost
		target = b.SiteURL + itemsPath(list)
	case OpUpdate:
		method = http.MethodPatch
		target = b.SiteURL + itemPath(list, op.itemID)
		header.Set("X-HTTP-Method", "MERGE")
		header.Set("IF-MATCH", "*")
	case OpDelete:
		method = http.MethodDelete
		target = b.SiteURL + itemPath(list, op.itemID)
		header.Set("IF-MATCH", "*")
	default:
		return fmt.Errorf("invalid operation kind %d", op.kind)
	}

	var payload []byte

	if op.kind != OpDelete {
		var err error

		payload, err = encodeItemBody(entityType, op.fields)
		if err != nil {
			return err
		}

		header.Set("Content-Type", odataVerbose)
		header.Set("Content-Length", strconv.Itoa(len(payload)))
	}

	header.Set("Accept", odataVerbose)

	pw, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"application/http"},
		"Content-Transfer-Encoding": {"binary"},
	})
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(pw, "%s %s HTTP/1.1\r\n", method, target); err != nil {
		return err
	}

	if err := header.Write(pw); err != nil {
		return err
	}

	if _, err := io.WriteString(pw, "\r\n"); err != nil {
		return err
	}

	if payload != nil {
		if _, err := pw.Write(payload); err != nil {
			return err
		}
	}

	return nil
}

// SplitOperations cuts ops into consecutive chunks of at most size
// operations, preserving order. size <= 0 means DefaultBatchSize.
func SplitOperations(ops []Operation, size int) [][]Operation {
	if size <= 0 {
		size = DefaultBatchSize
	}

	chunks := make([][]Operation, 0, (len(ops)+size-1)/size)
	for start := 0; start < len(ops); start += size {
		end := min(start+size, len(ops))
		chunks = append(chunks, ops[start:end])
	}

	return chunks
}

// PostBatch submits req to the $batch endpoint once, authorized by digest,
// and returns one result per operation. It never retries: the server may
// already have applied part of the changeset. A non-2xx envelope status is
// returned as an error covering the whole batch.
func (c *Client) PostBatch(ctx context.Context, req *BatchRequest, digest Digest) ([]OperationResult, error) {
	hdr := digest.header()
	hdr.Set("Content-Type", req.ContentType)

	resp, err := c.doRaw(ctx, http.MethodPost, batchPath, bytes.NewReader(req.Body), hdr)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	results, err := ParseBatchResponse(resp.Header.Get("Content-Type"), resp.Body)
	if err != nil {
		return nil, err
	}

	expanded := ExpandResults(results, len(req.Operations))

	c.logger.Debug("batch submitted",
		slog.Int("operations", len(req.Operations)),
		slog.Int("responses", len(results)),
	)

	return expanded, nil
}

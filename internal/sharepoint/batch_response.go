package sharepoint

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
)

// ErrNoResponse marks an operation the batch response said nothing about.
var ErrNoResponse = errors.New("sharepoint: no response for operation")

// OperationResult is the server's verdict on one operation of a batch.
type OperationResult struct {
	Index      int // position in the submitted batch
	StatusCode int
	ItemID     int   // ID of the created or updated item, when reported
	Err        error // nil on 2xx; *APIError otherwise
}

// OK reports whether the operation succeeded.
func (r OperationResult) OK() bool { return r.Err == nil }

// ParseBatchResponse decodes a $batch response envelope. It walks top-level
// parts and nested changeset parts in order and parses each application/http
// part as an HTTP response. Results carry sequential indexes; a changeset
// that failed as a whole contributes a single error result (see
// ExpandResults).
func ParseBatchResponse(contentType string, body io.Reader) ([]OperationResult, error) {
	var results []OperationResult

	if err := walkMultipart(contentType, body, &results); err != nil {
		return nil, err
	}

	return results, nil
}

func walkMultipart(contentType string, body io.Reader, results *[]OperationResult) error {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fmt.Errorf("sharepoint: parsing batch content type %q: %w", contentType, err)
	}

	if !strings.HasPrefix(mediaType, "multipart/") {
		return fmt.Errorf("sharepoint: unexpected batch response type %q", mediaType)
	}

	mr := multipart.NewReader(body, params["boundary"])

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("sharepoint: reading batch part: %w", err)
		}

		partType := part.Header.Get("Content-Type")
		if strings.HasPrefix(partType, "multipart/") {
			if err := walkMultipart(partType, part, results); err != nil {
				return err
			}

			continue
		}

		res, err := parseOperationResponse(part)
		if err != nil {
			return err
		}

		res.Index = len(*results)
		*results = append(*results, res)
	}
}

// parseOperationResponse reads one embedded HTTP response.
func parseOperationResponse(r io.Reader) (OperationResult, error) {
	resp, err := http.ReadResponse(bufio.NewReader(r), nil)
	if err != nil {
		return OperationResult{}, fmt.Errorf("sharepoint: parsing batch operation response: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return OperationResult{}, fmt.Errorf("sharepoint: reading batch operation body: %w", err)
	}

	res := OperationResult{StatusCode: resp.StatusCode}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		res.Err = &APIError{
			StatusCode:    resp.StatusCode,
			CorrelationID: resp.Header.Get(correlationHeader),
			Message:       strings.TrimSpace(string(body)),
			Err:           classifyStatus(resp.StatusCode),
		}

		return res, nil
	}

	if len(body) > 0 {
		var cr createItemResponse
		if json.Unmarshal(body, &cr) == nil {
			res.ItemID = cr.D.ID
		}
	}

	return res, nil
}

// ExpandResults aligns parsed results with the n submitted operations.
// When the server rejected the changeset as a unit it answers with fewer
// responses than operations, one of which failed; that failure then applies
// to every operation. Any other shortfall marks the unanswered operations
// with ErrNoResponse.
func ExpandResults(results []OperationResult, n int) []OperationResult {
	if len(results) == n {
		return results
	}

	if len(results) < n {
		for _, r := range results {
			if r.Err != nil {
				out := make([]OperationResult, n)
				for i := range out {
					out[i] = OperationResult{Index: i, StatusCode: r.StatusCode, Err: r.Err}
				}

				return out
			}
		}
	}

	out := make([]OperationResult, n)
	for i := range out {
		if i < len(results) {
			out[i] = results[i]
			out[i].Index = i

			continue
		}

		out[i] = OperationResult{Index: i, Err: ErrNoResponse}
	}

	return out
}

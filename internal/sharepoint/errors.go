// Package sharepoint provides an HTTP client for the SharePoint list REST API
// (odata=verbose) with automatic retry, continuation-link pagination, schema
// introspection, and the multipart $batch wire format.
package sharepoint

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, sharepoint.ErrNotFound) to check.
var (
	ErrBadRequest         = errors.New("sharepoint: bad request")
	ErrUnauthorized       = errors.New("sharepoint: unauthorized")
	ErrForbidden          = errors.New("sharepoint: forbidden")
	ErrNotFound           = errors.New("sharepoint: not found")
	ErrConflict           = errors.New("sharepoint: conflict")
	ErrPreconditionFailed = errors.New("sharepoint: precondition failed")
	ErrThrottled          = errors.New("sharepoint: throttled")
	ErrLocked             = errors.New("sharepoint: resource locked")
	ErrServerError        = errors.New("sharepoint: server error")
)

// APIError wraps a sentinel error with HTTP status code, the SharePoint
// correlation ID, and the API error message body for debugging.
type APIError struct {
	StatusCode    int
	CorrelationID string
	Message       string
	Err           error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.CorrelationID != "" {
		return fmt.Sprintf("sharepoint: HTTP %d (correlation-id: %s): %s", e.StatusCode, e.CorrelationID, e.Message)
	}

	return fmt.Sprintf("sharepoint: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// SchemaFetchError is returned when list metadata (columns or the entity type
// token) cannot be read. No write payload can be built without it, so it is
// never retried silently.
type SchemaFetchError struct {
	List string
	Err  error
}

func (e *SchemaFetchError) Error() string {
	return fmt.Sprintf("sharepoint: fetching schema for list %q: %v", e.List, e.Err)
}

func (e *SchemaFetchError) Unwrap() error {
	return e.Err
}

// ListNotFoundError is returned when a list endpoint answers 404.
type ListNotFoundError struct {
	List string
	Err  error
}

func (e *ListNotFoundError) Error() string {
	return fmt.Sprintf("sharepoint: list %q not found", e.List)
}

func (e *ListNotFoundError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusPreconditionFailed:
		return ErrPreconditionFailed
	case http.StatusTooManyRequests:
		return ErrThrottled
	case http.StatusLocked:
		return ErrLocked
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		// 509 Bandwidth Limit Exceeded (SharePoint Online).
		const statusBandwidthExceeded = 509
		return code == statusBandwidthExceeded
	}
}

// asListError converts a 404 from a list endpoint into a ListNotFoundError,
// leaving every other error untouched.
func asListError(list string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return &ListNotFoundError{List: list, Err: err}
	}

	return err
}

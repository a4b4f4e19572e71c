package sharepoint

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Retry and backoff constants.
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
)

// OData verbose media type used for every JSON request and response.
const odataVerbose = "application/json;odata=verbose"

// correlationHeader carries the server-side request GUID used by SharePoint
// support to trace a failed request.
const correlationHeader = "SPRequestGuid"

// Client is an HTTP client for the REST API of a single SharePoint site.
// It handles request construction, authentication, retry with
// exponential backoff, and error classification.
type Client struct {
	siteURL    string
	httpClient *http.Client
	creds      *Credentials
	logger     *slog.Logger
	userAgent  string

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a SharePoint REST client for the site at siteURL
// (e.g. "https://contoso.sharepoint.com/sites/ops"). A trailing slash is
// trimmed. creds must not be nil.
func NewClient(siteURL string, httpClient *http.Client, creds *Credentials, logger *slog.Logger, userAgent string) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		siteURL:    strings.TrimRight(siteURL, "/"),
		httpClient: httpClient,
		creds:      creds,
		logger:     logger,
		userAgent:  userAgent,
		sleepFunc:  timeSleep,
	}
}

// SiteURL returns the normalized site URL (no trailing slash).
func (c *Client) SiteURL() string {
	return c.siteURL
}

// Do executes an HTTP request against the site. The path is appended to the
// site URL and must start with "/". For non-nil bodies, Content-Type is set
// to the OData verbose JSON media type. The caller is responsible for
// closing the response body on success.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	return c.DoWithHeaders(ctx, method, path, body, nil)
}

// DoWithHeaders is Do with extra request headers. Headers in extra override
// the defaults (including Content-Type).
func (c *Client) DoWithHeaders(
	ctx context.Context, method, path string, body io.Reader, extra http.Header,
) (*http.Response, error) {
	url := c.siteURL + path

	// Retries need to replay the body, so anything that is not already
	// seekable is buffered once up front.
	var rs io.ReadSeeker
	if body != nil {
		if seeker, ok := body.(io.ReadSeeker); ok {
			rs = seeker
		} else {
			buf, err := io.ReadAll(body)
			if err != nil {
				return nil, fmt.Errorf("sharepoint: buffering request body: %w", err)
			}

			rs = bytes.NewReader(buf)
		}
	}

	var attempt int
	for {
		if attempt > 0 && rs != nil {
			if err := rewindBody(rs); err != nil {
				return nil, err
			}
		}

		resp, err := c.doOnce(ctx, method, url, rs, extra)
		if err != nil {
			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("sharepoint: request canceled: %w", ctx.Err())
			}

			// Network errors are retryable.
			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("sharepoint: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("sharepoint: %s %s failed after %d retries: %w", method, path, maxRetries, err)
		}

		// 2xx: success.
		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			drainAndClose(resp)

			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("sharepoint: request canceled: %w", err)
			}

			attempt++

			continue
		}

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return nil, newAPIError(resp)
	}
}

// doRaw sends a single authenticated request without retry. Used for
// $batch submissions and attachment uploads, where replaying a request the
// server may already have applied is not safe.
func (c *Client) doRaw(
	ctx context.Context, method, path string, body io.Reader, extra http.Header,
) (*http.Response, error) {
	c.logger.Debug("preparing raw request",
		slog.String("method", method),
		slog.String("path", path),
	)

	resp, err := c.doOnce(ctx, method, c.siteURL+path, body, extra)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("sharepoint: request canceled: %w", ctx.Err())
		}

		c.logger.Error("raw request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return nil, fmt.Errorf("sharepoint: %s %s: %w", method, path, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, newAPIError(resp)
	}

	return resp, nil
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(
	ctx context.Context, method, url string, body io.Reader, extra http.Header,
) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if err := c.creds.apply(req); err != nil {
		return nil, err
	}

	req.Header.Set("Accept", odataVerbose)

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	if body != nil {
		req.Header.Set("Content-Type", odataVerbose)
	}

	for k, vals := range extra {
		req.Header.Del(k)

		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	return c.httpClient.Do(req)
}

// newAPIError reads and closes an error response and wraps it with the
// matching sentinel.
func newAPIError(resp *http.Response) *APIError {
	errBody, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()

	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	return &APIError{
		StatusCode:    resp.StatusCode,
		CorrelationID: resp.Header.Get(correlationHeader),
		Message:       string(errBody),
		Err:           classifyStatus(resp.StatusCode),
	}
}

// drainAndClose discards the remaining body so the connection can be reused.
func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // best-effort drain
	resp.Body.Close()
}

// rewindBody seeks a request body back to the start before a retry.
func rewindBody(rs io.ReadSeeker) error {
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("sharepoint: rewinding request body for retry: %w", err)
	}

	return nil
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 and 503 responses with a Retry-After header, that value is used.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// stripSiteURL removes the client's site URL prefix from a full URL,
// returning the path + query string for use with Do().
// Returns an error if the URL doesn't start with the expected site.
func (c *Client) stripSiteURL(fullURL string) (string, error) {
	if !strings.HasPrefix(fullURL, c.siteURL) {
		return "", fmt.Errorf("sharepoint: continuation URL %q does not match site URL %q", fullURL, c.siteURL)
	}

	return fullURL[len(c.siteURL):], nil
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

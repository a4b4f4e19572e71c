package sharepoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// ErrNoCredentials is returned when neither a bearer token nor session
// cookies were supplied.
var ErrNoCredentials = errors.New("sharepoint: no credentials configured")

// Credentials carries the session material handed over by whatever performed
// the interactive login. Either field may be empty, but not both. The value
// is shared read-only by every client of a sync run.
type Credentials struct {
	// Tokens yields bearer tokens. Wrap with oauth2.ReuseTokenSource to
	// cache until expiry.
	Tokens oauth2.TokenSource
	// Cookies are attached verbatim to every request (FedAuth, rtFa, ...).
	Cookies []*http.Cookie
}

// apply attaches the credentials to an outgoing request.
func (c *Credentials) apply(req *http.Request) error {
	if c == nil || (c.Tokens == nil && len(c.Cookies) == 0) {
		return ErrNoCredentials
	}

	if c.Tokens != nil {
		tok, err := c.Tokens.Token()
		if err != nil {
			return fmt.Errorf("obtaining token: %w", err)
		}

		tok.SetAuthHeader(req)
	}

	for _, ck := range c.Cookies {
		req.AddCookie(ck)
	}

	return nil
}

// Digest is a short-lived anti-forgery token (X-RequestDigest) required on
// every state-changing request. It is a plain value: callers fetch a fresh
// one with RefreshDigest immediately before each write and never share it
// across submissions.
type Digest struct {
	Value     string
	ExpiresAt time.Time
}

// header returns the digest as request headers.
func (d Digest) header() http.Header {
	return http.Header{"X-RequestDigest": {d.Value}}
}

type contextInfoResponse struct {
	D struct {
		GetContextWebInformation struct {
			FormDigestValue          string `json:"FormDigestValue"`
			FormDigestTimeoutSeconds int    `json:"FormDigestTimeoutSeconds"`
		} `json:"GetContextWebInformation"`
	} `json:"d"`
}

// RefreshDigest performs one POST to /_api/contextinfo and returns a new
// digest. It never caches.
func (c *Client) RefreshDigest(ctx context.Context) (Digest, error) {
	resp, err := c.Do(ctx, http.MethodPost, "/_api/contextinfo", nil)
	if err != nil {
		return Digest{}, fmt.Errorf("sharepoint: fetching request digest: %w", err)
	}
	defer resp.Body.Close()

	var ci contextInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&ci); err != nil {
		return Digest{}, fmt.Errorf("sharepoint: decoding context info: %w", err)
	}

	info := ci.D.GetContextWebInformation
	if info.FormDigestValue == "" {
		return Digest{}, errors.New("sharepoint: context info has no form digest")
	}

	c.logger.Debug("request digest refreshed",
		slog.Int("timeout_seconds", info.FormDigestTimeoutSeconds),
	)

	return Digest{
		Value:     info.FormDigestValue,
		ExpiresAt: time.Now().Add(time.Duration(info.FormDigestTimeoutSeconds) * time.Second),
	}, nil
}

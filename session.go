package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tonimelisma/listsync/internal/config"
	"github.com/tonimelisma/listsync/internal/sharepoint"
	"github.com/tonimelisma/listsync/internal/tokenfile"
)

// Session holds the authenticated clients for one sync pass. Metadata
// clients carry an overall request timeout; transfer clients do not, so a
// large attachment is bounded only by the data timeout between reads.
type Session struct {
	Dest           *sharepoint.Client
	DestTransfer   *sharepoint.Client
	DestRegistry   *sharepoint.Registry
	Source         *sharepoint.Client // nil for file sources
	SourceTransfer *sharepoint.Client
	SourceRegistry *sharepoint.Registry
}

// NewSession loads credentials and builds clients for the destination site
// and, for list sources, the source site. The same site gets one set of
// clients.
func NewSession(cfg *config.Config, logger *slog.Logger) (*Session, error) {
	creds, err := loadCredentials(cfg.TokenFilePath())
	if err != nil {
		return nil, err
	}

	meta := newHTTPClient(&cfg.Network, true)
	transfer := newHTTPClient(&cfg.Network, false)
	ua := userAgent(&cfg.Network)

	s := &Session{
		Dest:         sharepoint.NewClient(cfg.Destination.SiteURL, meta, creds, logger, ua),
		DestTransfer: sharepoint.NewClient(cfg.Destination.SiteURL, transfer, creds, logger, ua),
	}
	s.DestRegistry = sharepoint.NewRegistry(s.Dest)

	if cfg.Source.Kind != config.SourceList {
		return s, nil
	}

	if cfg.SourceSiteURL() == s.Dest.SiteURL() {
		s.Source, s.SourceTransfer, s.SourceRegistry = s.Dest, s.DestTransfer, s.DestRegistry

		return s, nil
	}

	s.Source = sharepoint.NewClient(cfg.SourceSiteURL(), meta, creds, logger, ua)
	s.SourceTransfer = sharepoint.NewClient(cfg.SourceSiteURL(), transfer, creds, logger, ua)
	s.SourceRegistry = sharepoint.NewRegistry(s.Source)

	return s, nil
}

// errNotLoggedIn means no token file exists at the configured path.
var errNotLoggedIn = errors.New("no credentials found")

// loadCredentials reads the token file handed over by the login tool.
func loadCredentials(path string) (*sharepoint.Credentials, error) {
	tf, err := tokenfile.Load(path)
	if err != nil {
		return nil, err
	}

	if tf == nil {
		return nil, fmt.Errorf("%w at %s: run 'listsync auth import' first", errNotLoggedIn, path)
	}

	return &sharepoint.Credentials{
		Tokens:  tf.TokenSource(),
		Cookies: tf.HTTPCookies(),
	}, nil
}

// newHTTPClient builds the shared transport. Metadata clients get an overall
// timeout of data_timeout; transfer clients rely on the header timeout only.
func newHTTPClient(n *config.NetworkConfig, metadata bool) *http.Client {
	dataTimeout := config.Duration(n.DataTimeout)

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{
		Timeout:   config.Duration(n.ConnectTimeout),
		KeepAlive: 30 * time.Second,
	}).DialContext
	tr.TLSHandshakeTimeout = config.Duration(n.ConnectTimeout)
	tr.ResponseHeaderTimeout = dataTimeout

	if n.ForceHTTP11 {
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	}

	c := &http.Client{Transport: tr}
	if metadata {
		c.Timeout = dataTimeout
	}

	return c
}

func userAgent(n *config.NetworkConfig) string {
	if n.UserAgent != "" {
		return n.UserAgent
	}

	return "listsync/" + version
}

// Package tokenfile reads and writes the credential hand-off file. Whatever
// performs the interactive login (browser, MFA, device code) writes an
// OAuth2 token and/or the SharePoint session cookies here; listsync only
// ever reads it, plus an import helper used by "listsync auth import".
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/oauth2"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the token directory.
const DirPerms = 0o700

// ErrEmpty is returned when a token file carries neither a token nor cookies.
var ErrEmpty = errors.New("tokenfile: no token or cookies present")

// File is the on-disk format. Cookies maps cookie name to value (FedAuth,
// rtFa, ...). Meta holds free-form details about the login, such as the
// account it was made with.
type File struct {
	Token   *oauth2.Token     `json:"token,omitempty"`
	Cookies map[string]string `json:"cookies,omitempty"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// Load reads a saved token file from disk. Returns (nil, nil) if the file
// does not exist.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	return Decode(data, path)
}

// Decode parses token file contents. name is only used in errors.
func Decode(data []byte, name string) (*File, error) {
	var tf File
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding %s: %w", name, err)
	}

	if tf.Token == nil && len(tf.Cookies) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrEmpty, name)
	}

	return &tf, nil
}

// HTTPCookies returns the cookies as request cookies, sorted by name.
func (f *File) HTTPCookies() []*http.Cookie {
	if len(f.Cookies) == 0 {
		return nil
	}

	names := make([]string, 0, len(f.Cookies))
	for name := range f.Cookies {
		names = append(names, name)
	}

	sort.Strings(names)

	out := make([]*http.Cookie, 0, len(names))
	for _, name := range names {
		out = append(out, &http.Cookie{Name: name, Value: f.Cookies[name]})
	}

	return out
}

// TokenSource returns a source that yields the saved token until it expires,
// or nil when the file has no token. The token cannot be refreshed here:
// refreshing is the login tool's job.
func (f *File) TokenSource() oauth2.TokenSource {
	if f.Token == nil {
		return nil
	}

	return oauth2.ReuseTokenSource(f.Token, oauth2.StaticTokenSource(f.Token))
}

// Save writes a token file to disk atomically (write-to-temp + rename)
// with 0600 permissions. Never logs token values.
func Save(path string, tf *File) error {
	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, mkErr)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	success = true

	return nil
}

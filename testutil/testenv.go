// Package testutil provides shared test environment helpers for E2E tests.
// It depends only on stdlib so that E2E tests (which cannot import
// internal/) can use it.
package testutil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AllowlistEnv names the comma-separated list of site URLs live tests may
// write to.
const AllowlistEnv = "LISTSYNC_ALLOWED_TEST_SITES"

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// Missing file is not an error (CI sets env vars directly).
// Existing env vars take precedence over .env values.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// SiteAllowed reports whether the site named by siteEnvVar is set and
// listed in AllowlistEnv. Live tests skip rather than write to a site
// nobody allowed.
func SiteAllowed(siteEnvVar string) (string, error) {
	site := strings.TrimRight(os.Getenv(siteEnvVar), "/")
	if site == "" {
		return "", fmt.Errorf("%s not set", siteEnvVar)
	}

	allowlist := os.Getenv(AllowlistEnv)
	if allowlist == "" {
		return "", fmt.Errorf("%s not set", AllowlistEnv)
	}

	for _, a := range strings.Split(allowlist, ",") {
		if strings.TrimRight(strings.TrimSpace(a), "/") == site {
			return site, nil
		}
	}

	return "", fmt.Errorf("%s=%q is not in %s=%q", siteEnvVar, site, AllowlistEnv, allowlist)
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// CopyFile copies a file from src to dst with the given permissions.
func CopyFile(src, dst string, perm os.FileMode) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}

	if err := os.WriteFile(dst, data, perm); err != nil {
		return fmt.Errorf("writing %s: %w", dst, err)
	}

	return nil
}

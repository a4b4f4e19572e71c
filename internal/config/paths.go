package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "listsync"

// Config file name.
const configFileName = "config.toml"

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/listsync).
// On macOS, uses ~/Library/Application Support/listsync per Apple guidelines.
// Other platforms fall back to ~/.config/listsync.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxConfigDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// linuxConfigDir returns the XDG-compliant config directory for Linux.
func linuxConfigDir(home string) string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".config", appName)
}

// DefaultDataDir returns the platform-specific directory for application data
// (run ledger, PID file, tokens).
// On Linux, respects XDG_DATA_HOME (defaults to ~/.local/share/listsync).
// On macOS, uses ~/Library/Application Support/listsync (macOS convention
// collapses config and data into one directory).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxDataDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

// linuxDataDir returns the XDG-compliant data directory for Linux.
func linuxDataDir(home string) string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".local", "share", appName)
}

// DefaultConfigPath returns the full path to the default config file.
// This is used as the fallback when neither LISTSYNC_CONFIG nor
// --config is specified.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// File names inside the state directory.
const (
	runLogFileName = "runs.db"
	pidFileName    = "listsync.pid"
)

// StateDir returns the configured state directory, or the platform data
// directory when unset.
func (c *Config) StateDir() string {
	if c.State.Dir != "" {
		return c.State.Dir
	}

	return DefaultDataDir()
}

// RunLogPath returns the path of the run ledger database.
func (c *Config) RunLogPath() string {
	return filepath.Join(c.StateDir(), runLogFileName)
}

// PIDFilePath returns the path of the watch-mode PID file.
func (c *Config) PIDFilePath() string {
	return filepath.Join(c.StateDir(), pidFileName)
}

// TokenFilePath returns the configured token file, or the default one in
// the data directory.
func (c *Config) TokenFilePath() string {
	if c.Auth.TokenFile != "" {
		return c.Auth.TokenFile
	}

	return filepath.Join(DefaultDataDir(), tokenFileName)
}

const tokenFileName = "token.json"

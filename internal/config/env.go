package config

import (
	"os"
	"strconv"
)

// Environment variable names for overrides.
const (
	EnvConfig    = "LISTSYNC_CONFIG"
	EnvTokenFile = "LISTSYNC_TOKEN_FILE"
	EnvDryRun    = "LISTSYNC_DRY_RUN"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // LISTSYNC_CONFIG: override config file path
	TokenFile  string // LISTSYNC_TOKEN_FILE: override auth.token_file
	DryRun     *bool  // LISTSYNC_DRY_RUN: nil when unset or unparseable
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. This does not modify a Config.
func ReadEnvOverrides() EnvOverrides {
	env := EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		TokenFile:  os.Getenv(EnvTokenFile),
	}

	if v, ok := os.LookupEnv(EnvDryRun); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			env.DryRun = &b
		}
	}

	return env
}

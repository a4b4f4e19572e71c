package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// ErrNoConfig is returned by Resolve when no config file exists. listsync
// has no sensible zero-config behavior: the lists must be named.
var ErrNoConfig = errors.New("config: no config file found")

// Load reads and parses a TOML config file and validates it. Unknown keys
// are fatal, with "did you mean?" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Resolved is a fully layered configuration together with the file it was
// read from.
type Resolved struct {
	*Config
	Path string
}

// Resolve loads configuration and applies the override chain: defaults ->
// config file -> environment variables -> CLI flags. The result is
// validated again after overrides.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w at %s", ErrNoConfig, cfgPath)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		return nil, err
	}

	if env.TokenFile != "" {
		cfg.Auth.TokenFile = env.TokenFile
	}

	if env.DryRun != nil {
		cfg.Sync.DryRun = *env.DryRun
	}

	if cli.DryRun != nil {
		cfg.Sync.DryRun = *cli.DryRun
	}

	if cli.Mode != nil {
		cfg.Sync.Mode = *cli.Mode
	}

	if cli.BatchSize != nil {
		cfg.Sync.BatchSize = *cli.BatchSize
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &Resolved{Config: cfg, Path: cfgPath}, nil
}

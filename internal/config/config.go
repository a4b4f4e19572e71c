// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for listsync. Values are layered as
// defaults -> config file -> environment -> CLI flags.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Source      SourceConfig      `toml:"source"`
	Destination DestinationConfig `toml:"destination"`
	Sync        SyncConfig        `toml:"sync"`
	Attachments AttachmentsConfig `toml:"attachments"`
	Pacing      PacingConfig      `toml:"pacing"`
	Mapping     map[string]string `toml:"mapping"`
	Auth        AuthConfig        `toml:"auth"`
	Logging     LoggingConfig     `toml:"logging"`
	Network     NetworkConfig     `toml:"network"`
	State       StateConfig       `toml:"state"`
}

// Source kinds.
const (
	SourceList = "list"
	SourceFile = "file"
)

// SourceConfig selects where the source snapshot comes from. A list source
// on another site sets site_url; otherwise the destination site is used.
type SourceConfig struct {
	Kind          string `toml:"kind"`
	SiteURL       string `toml:"site_url"`
	List          string `toml:"list"`
	Filter        string `toml:"filter"`
	Path          string `toml:"path"`
	ModifiedField string `toml:"modified_field"`
}

// DestinationConfig names the list that receives writes.
type DestinationConfig struct {
	SiteURL string `toml:"site_url"`
	List    string `toml:"list"`
}

// SyncConfig controls diffing and write submission.
type SyncConfig struct {
	PrimaryKey       string `toml:"primary_key"`
	FlagField        string `toml:"flag_field"`
	StatusField      string `toml:"status_field"`
	ClosedValue      string `toml:"closed_value"`
	EligibleField    string `toml:"eligible_field"`
	EligibleContains string `toml:"eligible_contains"`
	Mode             string `toml:"mode"`
	BatchSize        int    `toml:"batch_size"`
	OnPageError      string `toml:"on_page_error"`
	DryRun           bool   `toml:"dry_run"`
	PollInterval     string `toml:"poll_interval"`
	ShutdownTimeout  string `toml:"shutdown_timeout"`
}

// AttachmentsConfig controls attachment reconciliation. Only list sources
// carry attachments.
type AttachmentsConfig struct {
	Enabled        bool   `toml:"enabled"`
	Mode           string `toml:"mode"`
	Workers        int    `toml:"workers"`
	BandwidthLimit string `toml:"bandwidth_limit"`
	TempDir        string `toml:"temp_dir"`
}

// PacingConfig spaces requests to stay under upstream throttling.
type PacingConfig struct {
	PageDelay     string `toml:"page_delay"`
	ItemDelay     string `toml:"item_delay"`
	Cooldown      string `toml:"cooldown"`
	CooldownEvery int    `toml:"cooldown_every"`
}

// AuthConfig points at the saved credentials.
type AuthConfig struct {
	TokenFile string `toml:"token_file"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior. force_http_11 is useful
// behind corporate proxies that mishandle HTTP/2.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
	ForceHTTP11    bool   `toml:"force_http_11"`
}

// StateConfig locates the run ledger and PID file.
type StateConfig struct {
	Dir         string `toml:"dir"`
	HistoryKeep int    `toml:"history_keep"`
}

// CLIOverrides holds values from CLI flags. Pointer fields distinguish
// "not specified" (nil) from "explicitly set to the zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	DryRun     *bool   // --dry-run flag
	Mode       *string // --mode flag
	BatchSize  *int    // --batch-size flag
}

// CooldownEvery returns the number of writes between cool-downs. Unset
// (zero) follows sync.batch_size, so a cool-down lands between batches.
func (c *Config) CooldownEvery() int {
	if c.Pacing.CooldownEvery > 0 {
		return c.Pacing.CooldownEvery
	}

	return c.Sync.BatchSize
}

// SourceSiteURL returns the site a list source lives on.
func (c *Config) SourceSiteURL() string {
	if c.Source.SiteURL != "" {
		return c.Source.SiteURL
	}

	return c.Destination.SiteURL
}

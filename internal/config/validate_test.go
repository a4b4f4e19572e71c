package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Destination = DestinationConfig{SiteURL: "https://contoso.sharepoint.com/sites/ops", List: "Requests"}
	cfg.Source.List = "Intake"
	cfg.Sync.PrimaryKey = "Request ID"

	return cfg
}

func TestValidate_Valid(t *testing.T) {
	assert.NoError(t, Validate(validConfig()))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing site", func(c *Config) { c.Destination.SiteURL = "" }, "destination.site_url"},
		{"http site", func(c *Config) { c.Destination.SiteURL = "http://contoso/sites/ops" }, "https"},
		{"missing list", func(c *Config) { c.Destination.List = " " }, "destination.list"},
		{"missing source list", func(c *Config) { c.Source.List = "" }, "source.list"},
		{"file without path", func(c *Config) { c.Source.Kind = SourceFile }, "source.path"},
		{"bad kind", func(c *Config) { c.Source.Kind = "csv" }, "source.kind"},
		{"no primary key", func(c *Config) { c.Sync.PrimaryKey = "" }, "primary_key"},
		{"half eligibility", func(c *Config) { c.Sync.EligibleField = "Customer" }, "eligible_field"},
		{"bad mode", func(c *Config) { c.Sync.Mode = "bulk" }, "mode"},
		{"batch too big", func(c *Config) { c.Sync.BatchSize = 1001 }, "batch_size"},
		{"batch zero", func(c *Config) { c.Sync.BatchSize = 0 }, "batch_size"},
		{"bad page policy", func(c *Config) { c.Sync.OnPageError = "ignore" }, "on_page_error"},
		{"short poll", func(c *Config) { c.Sync.PollInterval = "10s" }, "poll_interval"},
		{"no closed value", func(c *Config) { c.Sync.ClosedValue = "" }, "closed_value"},
		{"attachments from file", func(c *Config) {
			c.Source = SourceConfig{Kind: SourceFile, Path: "x.json"}
			c.Attachments.Enabled = true
		}, "attachments.enabled"},
		{"bad attachment mode", func(c *Config) { c.Attachments.Mode = "sync" }, "attachments.mode"},
		{"too many workers", func(c *Config) { c.Attachments.Workers = 100 }, "attachments.workers"},
		{"negative bandwidth", func(c *Config) { c.Attachments.BandwidthLimit = "-1MB/s" }, "bandwidth_limit"},
		{"bad delay", func(c *Config) { c.Pacing.ItemDelay = "soon" }, "item_delay"},
		{"negative cooldown every", func(c *Config) { c.Pacing.CooldownEvery = -1 }, "cooldown_every"},
		{"mapping collision", func(c *Config) { c.Mapping = map[string]string{"a": "X", "b": "X"} }, "both map to"},
		{"empty mapping target", func(c *Config) { c.Mapping = map[string]string{"a": ""} }, "empty target"},
		{"bad log level", func(c *Config) { c.Logging.LogLevel = "trace" }, "log_level"},
		{"bad log format", func(c *Config) { c.Logging.LogFormat = "xml" }, "log_format"},
		{"short timeout", func(c *Config) { c.Network.ConnectTimeout = "1ms" }, "connect_timeout"},
		{"negative history", func(c *Config) { c.State.HistoryKeep = -1 }, "history_keep"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidate_ReportsEveryError(t *testing.T) {
	cfg := validConfig()
	cfg.Sync.Mode = "bulk"
	cfg.Logging.LogLevel = "trace"
	cfg.Destination.List = ""

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mode")
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "destination.list")
}

func TestValidate_BandwidthAcceptsRateSuffix(t *testing.T) {
	cfg := validConfig()
	cfg.Attachments.BandwidthLimit = "5MB/s"
	assert.NoError(t, Validate(cfg))
}

package config

import (
	"fmt"
	"io"
	"sort"
)

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config show" command: the values
// shown are those left after defaults, file, env, and CLI flags are applied.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration from %s\n\n", r.Path)

	renderSourceSection(ew, r.Config)
	renderDestinationSection(ew, &r.Destination)
	renderSyncSection(ew, &r.Sync)
	renderAttachmentsSection(ew, &r.Attachments)
	renderPacingSection(ew, &r.Pacing, r.CooldownEvery())
	renderMappingSection(ew, r.Mapping)
	renderLoggingSection(ew, &r.Logging)
	renderNetworkSection(ew, &r.Network)
	renderStateSection(ew, r.Config)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderSourceSection(ew *errWriter, c *Config) {
	s := &c.Source

	ew.printf("[source]\n")
	ew.printf("  kind           = %q\n", s.Kind)

	switch s.Kind {
	case SourceFile:
		ew.printf("  path           = %q\n", s.Path)
		ew.printf("  modified_field = %q\n", s.ModifiedField)
	default:
		ew.printf("  site_url       = %q\n", c.SourceSiteURL())
		ew.printf("  list           = %q\n", s.List)

		if s.Filter != "" {
			ew.printf("  filter         = %q\n", s.Filter)
		}
	}

	ew.printf("\n")
}

func renderDestinationSection(ew *errWriter, d *DestinationConfig) {
	ew.printf("[destination]\n")
	ew.printf("  site_url = %q\n", d.SiteURL)
	ew.printf("  list     = %q\n", d.List)
	ew.printf("\n")
}

func renderSyncSection(ew *errWriter, s *SyncConfig) {
	ew.printf("[sync]\n")
	ew.printf("  primary_key      = %q\n", s.PrimaryKey)
	ew.printf("  flag_field       = %q\n", s.FlagField)
	ew.printf("  status_field     = %q\n", s.StatusField)
	ew.printf("  closed_value     = %q\n", s.ClosedValue)

	if s.EligibleField != "" {
		ew.printf("  eligible_field   = %q\n", s.EligibleField)
		ew.printf("  eligible_contains = %q\n", s.EligibleContains)
	}

	ew.printf("  mode             = %q\n", s.Mode)
	ew.printf("  batch_size       = %d\n", s.BatchSize)
	ew.printf("  on_page_error    = %q\n", s.OnPageError)
	ew.printf("  dry_run          = %t\n", s.DryRun)
	ew.printf("  poll_interval    = %q\n", s.PollInterval)
	ew.printf("  shutdown_timeout = %q\n", s.ShutdownTimeout)
	ew.printf("\n")
}

func renderAttachmentsSection(ew *errWriter, a *AttachmentsConfig) {
	ew.printf("[attachments]\n")
	ew.printf("  enabled         = %t\n", a.Enabled)
	ew.printf("  mode            = %q\n", a.Mode)
	ew.printf("  workers         = %d\n", a.Workers)
	ew.printf("  bandwidth_limit = %q\n", a.BandwidthLimit)

	if a.TempDir != "" {
		ew.printf("  temp_dir        = %q\n", a.TempDir)
	}

	ew.printf("\n")
}

func renderPacingSection(ew *errWriter, p *PacingConfig, cooldownEvery int) {
	ew.printf("[pacing]\n")
	ew.printf("  page_delay     = %q\n", p.PageDelay)
	ew.printf("  item_delay     = %q\n", p.ItemDelay)
	ew.printf("  cooldown       = %q\n", p.Cooldown)
	ew.printf("  cooldown_every = %d\n", cooldownEvery)
	ew.printf("\n")
}

func renderMappingSection(ew *errWriter, m map[string]string) {
	if len(m) == 0 {
		return
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	ew.printf("[mapping]\n")

	for _, k := range keys {
		ew.printf("  %q = %q\n", k, m[k])
	}

	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", l.LogLevel)

	if l.LogFile != "" {
		ew.printf("  log_file   = %q\n", l.LogFile)
	}

	ew.printf("  log_format = %q\n", l.LogFormat)
	ew.printf("\n")
}

func renderNetworkSection(ew *errWriter, n *NetworkConfig) {
	ew.printf("[network]\n")
	ew.printf("  connect_timeout = %q\n", n.ConnectTimeout)
	ew.printf("  data_timeout    = %q\n", n.DataTimeout)

	if n.UserAgent != "" {
		ew.printf("  user_agent      = %q\n", n.UserAgent)
	}

	ew.printf("  force_http_11   = %t\n", n.ForceHTTP11)
	ew.printf("\n")
}

func renderStateSection(ew *errWriter, c *Config) {
	ew.printf("[state]\n")
	ew.printf("  dir          = %q\n", c.StateDir())
	ew.printf("  history_keep = %d\n", c.State.HistoryKeep)
	ew.printf("  token_file   = %q\n", c.TokenFilePath())
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Validation range constants.
const (
	minBatchSize       = 1
	maxBatchSize       = 1000 // server-side $batch limit
	minAttWorkers      = 1
	maxAttWorkers      = 32
	minPollInterval    = 1 * time.Minute
	minShutdownTimeout = 5 * time.Second
	minConnectTimeout  = 1 * time.Second
	minDataTimeout     = 5 * time.Second
)

// Validate checks all configuration values and returns all errors found,
// so users can fix every issue in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateDestination(&cfg.Destination)...)
	errs = append(errs, validateSource(&cfg.Source)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateAttachments(&cfg.Attachments, &cfg.Source)...)
	errs = append(errs, validatePacing(&cfg.Pacing)...)
	errs = append(errs, validateMapping(cfg.Mapping)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	if cfg.State.HistoryKeep < 0 {
		errs = append(errs, fmt.Errorf("history_keep: must be >= 0, got %d", cfg.State.HistoryKeep))
	}

	return errors.Join(errs...)
}

func validateDestination(d *DestinationConfig) []error {
	var errs []error

	if err := validateSiteURL("destination.site_url", d.SiteURL); err != nil {
		errs = append(errs, err)
	}

	if strings.TrimSpace(d.List) == "" {
		errs = append(errs, errors.New("destination.list: must not be empty"))
	}

	return errs
}

func validateSiteURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s: must not be empty", field)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}

	if u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%s: must be an absolute https URL, got %q", field, raw)
	}

	return nil
}

func validateSource(s *SourceConfig) []error {
	var errs []error

	switch s.Kind {
	case SourceList:
		if strings.TrimSpace(s.List) == "" {
			errs = append(errs, errors.New("source.list: required when kind is \"list\""))
		}

		if s.SiteURL != "" {
			if err := validateSiteURL("source.site_url", s.SiteURL); err != nil {
				errs = append(errs, err)
			}
		}
	case SourceFile:
		if s.Path == "" {
			errs = append(errs, errors.New("source.path: required when kind is \"file\""))
		}
	default:
		errs = append(errs, fmt.Errorf("source.kind: must be one of list, file; got %q", s.Kind))
	}

	return errs
}

var (
	validModes       = map[string]bool{"batch": true, "single": true}
	validPageErrors  = map[string]bool{"fail": true, "skip": true}
	validAttachModes = map[string]bool{"replace": true, "merge": true}
	validLogLevels   = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats  = map[string]bool{"auto": true, "text": true, "json": true}
)

func validateSync(s *SyncConfig) []error {
	var errs []error

	if strings.TrimSpace(s.PrimaryKey) == "" {
		errs = append(errs, errors.New("primary_key: must not be empty"))
	}

	if s.StatusField != "" && s.ClosedValue == "" {
		errs = append(errs, errors.New("closed_value: required when status_field is set"))
	}

	if (s.EligibleField == "") != (s.EligibleContains == "") {
		errs = append(errs, errors.New("eligible_field and eligible_contains: set both or neither"))
	}

	if !validModes[s.Mode] {
		errs = append(errs, fmt.Errorf("mode: must be one of batch, single; got %q", s.Mode))
	}

	if s.BatchSize < minBatchSize || s.BatchSize > maxBatchSize {
		errs = append(errs, fmt.Errorf("batch_size: must be between %d and %d, got %d",
			minBatchSize, maxBatchSize, s.BatchSize))
	}

	if !validPageErrors[s.OnPageError] {
		errs = append(errs, fmt.Errorf("on_page_error: must be one of fail, skip; got %q", s.OnPageError))
	}

	errs = append(errs, validateDurationMin("poll_interval", s.PollInterval, minPollInterval)...)
	errs = append(errs, validateDurationMin("shutdown_timeout", s.ShutdownTimeout, minShutdownTimeout)...)

	return errs
}

func validateAttachments(a *AttachmentsConfig, src *SourceConfig) []error {
	var errs []error

	if a.Enabled && src.Kind != SourceList {
		errs = append(errs, errors.New("attachments.enabled: only list sources carry attachments"))
	}

	if !validAttachModes[a.Mode] {
		errs = append(errs, fmt.Errorf("attachments.mode: must be one of replace, merge; got %q", a.Mode))
	}

	if a.Workers < minAttWorkers || a.Workers > maxAttWorkers {
		errs = append(errs, fmt.Errorf("attachments.workers: must be between %d and %d, got %d",
			minAttWorkers, maxAttWorkers, a.Workers))
	}

	if _, err := ParseRate(a.BandwidthLimit); err != nil {
		errs = append(errs, fmt.Errorf("bandwidth_limit: %w", err))
	}

	return errs
}

func validatePacing(p *PacingConfig) []error {
	var errs []error

	errs = append(errs, validateDurationNonNeg("page_delay", p.PageDelay)...)
	errs = append(errs, validateDurationNonNeg("item_delay", p.ItemDelay)...)
	errs = append(errs, validateDurationNonNeg("cooldown", p.Cooldown)...)

	if p.CooldownEvery < 0 {
		errs = append(errs, fmt.Errorf("cooldown_every: must be >= 0, got %d", p.CooldownEvery))
	}

	return errs
}

func validateMapping(m map[string]string) []error {
	var errs []error

	from := make([]string, 0, len(m))
	for k := range m {
		from = append(from, k)
	}

	sort.Strings(from)

	targets := make(map[string]string, len(m))

	for _, src := range from {
		dst := m[src]
		if strings.TrimSpace(dst) == "" {
			errs = append(errs, fmt.Errorf("mapping: %q has an empty target", src))
			continue
		}

		if prev, ok := targets[dst]; ok {
			errs = append(errs, fmt.Errorf("mapping: %q and %q both map to %q", prev, src, dst))
			continue
		}

		targets[dst] = src
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("data_timeout", n.DataTimeout, minDataTimeout)...)

	return errs
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}

func validateDurationNonNeg(field, value string) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < 0 {
		return []error{fmt.Errorf("%s: must be >= 0, got %s", field, d)}
	}

	return nil
}

// Duration parses a duration that Validate already accepted. Invalid input
// yields zero.
func Duration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}

	return d
}

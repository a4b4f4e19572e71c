package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of every section. The mapping section
// takes arbitrary column names and has no entry.
var knownKeys = map[string][]string{
	"source":      {"kind", "site_url", "list", "filter", "path", "modified_field"},
	"destination": {"site_url", "list"},
	"sync": {
		"primary_key", "flag_field", "status_field", "closed_value", "eligible_field",
		"eligible_contains", "mode", "batch_size", "on_page_error", "dry_run",
		"poll_interval", "shutdown_timeout",
	},
	"attachments": {"enabled", "mode", "workers", "bandwidth_limit", "temp_dir"},
	"pacing":      {"page_delay", "item_delay", "cooldown", "cooldown_every"},
	"auth":        {"token_file"},
	"logging":     {"log_level", "log_file", "log_format"},
	"network":     {"connect_timeout", "data_timeout", "user_agent", "force_http_11"},
	"state":       {"dir", "history_keep"},
}

// knownSections is the sorted list of section names, mapping included.
// Sorted for deterministic suggestions when two candidates tie.
var knownSections = func() []string {
	names := make([]string, 0, len(knownKeys)+1)
	for k := range knownKeys {
		names = append(names, k)
	}

	names = append(names, "mapping")
	sort.Strings(names)

	return names
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns an
// error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	seen := make(map[string]bool)

	for _, key := range undecoded {
		err := unknownKeyError(key)
		if err == nil || seen[err.Error()] {
			continue
		}

		seen[err.Error()] = true
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// unknownKeyError describes one undecoded key. Keys at the top level or in
// an unknown table are reported as unknown sections.
func unknownKeyError(key toml.Key) error {
	if len(key) == 0 {
		return nil
	}

	section := key[0]

	keys, ok := knownKeys[section]
	if !ok || len(key) == 1 {
		if suggestion := closestMatch(section, knownSections); suggestion != "" && suggestion != section {
			return fmt.Errorf("unknown config section %q, did you mean [%s]?", section, suggestion)
		}

		return fmt.Errorf("unknown config section %q", section)
	}

	field := key[1]

	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	if suggestion := closestMatch(field, sorted); suggestion != "" {
		return fmt.Errorf("unknown config key %q in [%s], did you mean %q?", field, section, suggestion)
	}

	return fmt.Errorf("unknown config key %q in [%s] (valid keys: %s)", field, section, strings.Join(sorted, ", "))
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

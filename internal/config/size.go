package config

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// sizeUnits maps an upper-cased unit to its byte multiplier. Both SI (KB)
// and IEC (KiB) spellings are accepted; a missing unit means bytes.
var sizeUnits = map[string]int64{
	"":    1,
	"B":   1,
	"KB":  1_000,
	"MB":  1_000_000,
	"GB":  1_000_000_000,
	"TB":  1_000_000_000_000,
	"KIB": 1 << 10,
	"MIB": 1 << 20,
	"GIB": 1 << 30,
	"TIB": 1 << 40,
}

// ParseSize converts a size such as "10MB", "1.5GiB" or "4096" to bytes.
// Empty input is zero.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	split := strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsDigit(r) && r != '.' && r != '-' && r != '+'
	})

	num, unit := s, ""
	if split >= 0 {
		num, unit = strings.TrimSpace(s[:split]), strings.TrimSpace(s[split:])
	}

	mult, ok := sizeUnits[strings.ToUpper(unit)]
	if !ok {
		return 0, fmt.Errorf("invalid size %q: unknown unit %q", s, unit)
	}

	if num == "" {
		return 0, fmt.Errorf("invalid size %q: missing number", s)
	}

	if unit == "" || mult == 1 {
		n, err := strconv.ParseInt(num, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size %q: %w", s, err)
		}

		if n < 0 {
			return 0, fmt.Errorf("invalid size %q: must be non-negative", s)
		}

		return n, nil
	}

	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	if f < 0 {
		return 0, fmt.Errorf("invalid size %q: must be non-negative", s)
	}

	return int64(f * float64(mult)), nil
}

// ParseRate parses a throughput such as "5MB/s" into bytes per second. The
// "/s" suffix is optional; "0" and "" mean unlimited and return zero.
func ParseRate(s string) (int64, error) {
	s = strings.TrimSpace(s)

	if lower := strings.ToLower(s); strings.HasSuffix(lower, "/s") {
		s = strings.TrimSpace(s[:len(s)-len("/s")])
		if s == "" {
			return 0, fmt.Errorf("invalid rate %q: missing size", s+"/s")
		}
	}

	return ParseSize(s)
}

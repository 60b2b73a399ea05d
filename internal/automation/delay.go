package automation

import (
	"strconv"
	"strings"
	"time"
)

// DefaultReEntryDelay is applied when a re_entry_delay string fails to
// parse.
const DefaultReEntryDelay = time.Hour

// ParseDelay parses re_entry_delay strings of the form <integer><unit>,
// where unit is m/min, h/hr, d/day, or w/wk, case-insensitive with an
// optional trailing "s" ("30m", "24h", "2 days", "1wk"). Unparseable input
// falls back to one hour.
func ParseDelay(s string) time.Duration {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultReEntryDelay
	}

	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return DefaultReEntryDelay
	}

	n, err := strconv.Atoi(s[:i])
	if err != nil || n < 0 {
		return DefaultReEntryDelay
	}

	unit := strings.TrimSpace(s[i:])
	unit = strings.TrimSuffix(unit, "s")

	switch unit {
	case "m", "min":
		return time.Duration(n) * time.Minute
	case "h", "hr":
		return time.Duration(n) * time.Hour
	case "d", "day":
		return time.Duration(n) * 24 * time.Hour
	case "w", "wk":
		return time.Duration(n) * 7 * 24 * time.Hour
	default:
		return DefaultReEntryDelay
	}
}

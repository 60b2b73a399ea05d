package automation

import (
	"testing"
	"time"
)

func TestParseDelay(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"30m", 30 * time.Minute},
		{"45 min", 45 * time.Minute},
		{"24h", 24 * time.Hour},
		{"2hrs", 2 * time.Hour},
		{"7d", 7 * 24 * time.Hour},
		{"2 days", 2 * 24 * time.Hour},
		{"1w", 7 * 24 * time.Hour},
		{"2wks", 14 * 24 * time.Hour},
		{"30D", 30 * 24 * time.Hour},
		{"", DefaultReEntryDelay},
		{"soon", DefaultReEntryDelay},
		{"h", DefaultReEntryDelay},
		{"10 fortnights", DefaultReEntryDelay},
	}

	for _, tc := range tests {
		if got := ParseDelay(tc.in); got != tc.want {
			t.Errorf("ParseDelay(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

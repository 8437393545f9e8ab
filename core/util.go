package core

import (
	"math"
	"strings"
	"time"
)

// NowFunc is mockable.
var NowFunc = time.Now

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// Truncate shortens s to at most n runes, appending "…" when cut.
func Truncate(s string, n int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= n {
		return string(runes)
	}
	return strings.TrimSpace(string(runes[:n])) + "…"
}

// Percent returns part/total as a whole percentage in [0, 100].
func Percent(part, total int) float64 {
	if total <= 0 || part <= 0 {
		return 0
	}
	if part >= total {
		return 100
	}
	return math.Round(float64(part) * 100 / float64(total))
}

// UTCNow returns NowFunc() in UTC, truncated to microseconds (postgres precision).
func UTCNow() time.Time {
	return NowFunc().UTC().Truncate(time.Microsecond)
}

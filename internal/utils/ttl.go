package utils

import (
	"regexp"
	"strconv"
	"time"
)

// DefaultTTL is used whenever a TTL string cannot be parsed.
const DefaultTTL = 15 * time.Minute

var ttlPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

var ttlUnits = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
}

// ParseTTL converts strings such as "30s", "15m", "12h" or "30d" into a
// duration.  Anything else falls back to DefaultTTL instead of failing.
func ParseTTL(s string) time.Duration {
	m := ttlPattern.FindStringSubmatch(s)
	if m == nil {
		return DefaultTTL
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || n > int64(1<<62)/int64(ttlUnits[m[2]]) {
		return DefaultTTL
	}
	return time.Duration(n) * ttlUnits[m[2]]
}

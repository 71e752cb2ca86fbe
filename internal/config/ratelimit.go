package config

import "time"

// RateLimitConfig sizes the per-client token bucket in front of login and
// refresh.  A client may spend Burst attempts at once and earns one back
// every RefillEvery.
type RateLimitConfig struct {
	Enabled     bool
	Burst       int
	RefillEvery time.Duration
	TTL         time.Duration // idle buckets expire after this
	PerRoute    bool          // separate buckets for login and refresh
	Prefix      string
}

// LoadRateLimitConfig reads RATE_LIMIT_ENABLED, RATE_LIMIT_BURST,
// RATE_LIMIT_REFILL_EVERY, RATE_LIMIT_TTL, RATE_LIMIT_PER_ROUTE and
// RATE_LIMIT_PREFIX.  Out of range values are pulled back to something
// usable instead of failing.
func LoadRateLimitConfig() RateLimitConfig {
	cfg := RateLimitConfig{
		Enabled:     envBool("RATE_LIMIT_ENABLED", true),
		Burst:       envInt("RATE_LIMIT_BURST", 10),
		RefillEvery: envDur("RATE_LIMIT_REFILL_EVERY", 6*time.Second),
		TTL:         envDur("RATE_LIMIT_TTL", 10*time.Minute),
		PerRoute:    envBool("RATE_LIMIT_PER_ROUTE", true),
		Prefix:      envStr("RATE_LIMIT_PREFIX", "rl:auth"),
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	switch {
	case cfg.RefillEvery <= 0:
		cfg.RefillEvery = time.Second
	case cfg.RefillEvery < time.Millisecond:
		// the bucket counts in milliseconds
		cfg.RefillEvery = time.Millisecond
	}
	// a bucket must outlive a full refill or it resets early
	if full := time.Duration(cfg.Burst) * cfg.RefillEvery; cfg.TTL < full {
		cfg.TTL = full
	}
	return cfg
}

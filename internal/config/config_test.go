package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	require.ErrorIs(t, err, ErrConfig)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("APP_ENV", "development")
	t.Setenv("JWT_ACCESS_EXPIRES_IN", "")
	t.Setenv("JWT_REFRESH_EXPIRES_IN", "")
	t.Setenv("BCRYPT_ROUNDS", "")
	t.Setenv("DB_DRIVER", "")
	t.Setenv("CLEANUP_ENABLED", "")
	t.Setenv("CLEANUP_INTERVAL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "15m", cfg.AccessTTLRaw)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.RefreshTTL)
	assert.Equal(t, 12, cfg.BcryptCost)
	assert.Equal(t, "mysql", cfg.DBDriver)
	assert.True(t, cfg.CleanupEnabled)
	assert.Equal(t, time.Hour, cfg.CleanupInterval)
}

func TestLoadLenientTTLAndTestEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("APP_ENV", "test")
	t.Setenv("JWT_ACCESS_EXPIRES_IN", "bogus")
	t.Setenv("JWT_REFRESH_EXPIRES_IN", "20s")
	t.Setenv("CLEANUP_ENABLED", "true")
	t.Setenv("DB_DRIVER", "SQLite")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 20*time.Second, cfg.RefreshTTL)
	assert.False(t, cfg.CleanupEnabled)
	assert.Equal(t, "sqlite", cfg.DBDriver)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DB_DRIVER", "oracle")
	_, err := Load()
	require.ErrorIs(t, err, ErrConfig)
}

func TestRateLimitConfigSanitises(t *testing.T) {
	t.Setenv("RATE_LIMIT_BURST", "0")
	t.Setenv("RATE_LIMIT_REFILL_EVERY", "-1s")
	t.Setenv("RATE_LIMIT_TTL", "10ms")
	t.Setenv("RATE_LIMIT_PER_ROUTE", "off")
	cfg := LoadRateLimitConfig()
	assert.Equal(t, 1, cfg.Burst)
	assert.Equal(t, time.Second, cfg.RefillEvery)
	assert.Equal(t, time.Second, cfg.TTL)
	assert.False(t, cfg.PerRoute)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "rl:auth", cfg.Prefix)
}

func TestRateLimitRefillHasMillisecondFloor(t *testing.T) {
	t.Setenv("RATE_LIMIT_BURST", "3")
	t.Setenv("RATE_LIMIT_REFILL_EVERY", "500us")
	t.Setenv("RATE_LIMIT_TTL", "")
	cfg := LoadRateLimitConfig()
	assert.Equal(t, time.Millisecond, cfg.RefillEvery)
	assert.Equal(t, int64(1), cfg.RefillEvery.Milliseconds())
	assert.Equal(t, 10*time.Minute, cfg.TTL)
}

func TestRateLimitConfigDefaults(t *testing.T) {
	for _, k := range []string{"RATE_LIMIT_ENABLED", "RATE_LIMIT_BURST", "RATE_LIMIT_REFILL_EVERY", "RATE_LIMIT_TTL", "RATE_LIMIT_PER_ROUTE"} {
		t.Setenv(k, "")
	}
	cfg := LoadRateLimitConfig()
	assert.Equal(t, 10, cfg.Burst)
	assert.Equal(t, 6*time.Second, cfg.RefillEvery)
	assert.Equal(t, 10*time.Minute, cfg.TTL)
	assert.True(t, cfg.PerRoute)
}

func TestLoadRedisConfig(t *testing.T) {
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("REDIS_HOST", "")
	t.Setenv("REDIS_PORT", "")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REDIS_TLS", "1")
	t.Setenv("REDIS_PASSWORD", "")
	cfg := LoadRedisConfig()
	assert.Equal(t, RedisConfig{Addr: "cache:6380", DB: 3, TLS: true}, cfg)
}

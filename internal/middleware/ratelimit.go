package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dimonss/AccountingForRepairsBackend/internal/config"
	"github.com/dimonss/AccountingForRepairsBackend/internal/metrics"
)

// bucketScript takes one token from the bucket at KEYS[1], refilling it
// first by whole intervals elapsed.  It returns {allowed, remaining,
// retry_after_ms}.
var bucketScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local every_ms = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(state[1]) or burst
local ts = tonumber(state[2]) or now_ms

local earned = math.floor(math.max(0, now_ms - ts) / every_ms)
if earned > 0 then
  tokens = math.min(burst, tokens + earned)
  ts = ts + earned * every_ms
end

local allowed, wait = 0, 0
if tokens > 0 then
  allowed = 1
  tokens = tokens - 1
else
  wait = math.max(0, every_ms - (now_ms - ts))
end

redis.call('HSET', key, 'tokens', tokens, 'ts', ts)
redis.call('PEXPIRE', key, ttl_ms)
return {allowed, tokens, wait}
`)

// Throttle limits credential attempts per client IP with a token bucket
// kept in Redis, so that every instance behind a balancer shares it.
type Throttle struct {
	cfg config.RateLimitConfig
	rdb *redis.Client
	log *zap.Logger
	now func() time.Time
}

// Decision is the result of taking one token.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

func NewThrottle(cfg config.RateLimitConfig, rdb *redis.Client, log *zap.Logger) *Throttle {
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.RefillEvery < time.Millisecond {
		cfg.RefillEvery = time.Millisecond
	}
	if cfg.TTL < cfg.RefillEvery {
		cfg.TTL = time.Duration(cfg.Burst) * cfg.RefillEvery
	}
	return &Throttle{cfg: cfg, rdb: rdb, log: log.Named("ratelimit"), now: time.Now}
}

// Take spends one token from the bucket named key.
func (t *Throttle) Take(ctx context.Context, key string) (Decision, error) {
	vals, err := bucketScript.Run(ctx, t.rdb, []string{key},
		t.now().UnixMilli(),
		t.cfg.Burst,
		t.cfg.RefillEvery.Milliseconds(),
		t.cfg.TTL.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(vals) != 3 {
		return Decision{}, errors.New("ratelimit: unexpected script reply")
	}
	return Decision{
		Allowed:    vals[0] == 1,
		Remaining:  vals[1],
		RetryAfter: time.Duration(vals[2]) * time.Millisecond,
	}, nil
}

// Middleware answers 429 once a client's bucket is empty.  Redis failures
// let the request through.
func (t *Throttle) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := bucketKey(t.cfg, c)
			d, err := t.Take(c.Request().Context(), key)
			if err != nil {
				t.log.Warn("redis error, letting request through", zap.String("key", key), zap.Error(err))
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(t.cfg.Burst))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
			if d.Allowed {
				return next(c)
			}

			secs := int((d.RetryAfter + time.Second - 1) / time.Second)
			h.Set("Retry-After", strconv.Itoa(secs))
			metrics.Throttled.WithLabelValues(c.Path()).Inc()
			t.log.Debug("throttled", zap.String("key", key), zap.Duration("retry_after", d.RetryAfter))
			return c.JSON(http.StatusTooManyRequests, echo.Map{
				"success":     false,
				"error":       "Too many requests, please try again later",
				"code":        "RATE_LIMITED",
				"retry_after": secs,
			})
		}
	}
}

// NewTokenBucket returns the throttling middleware, or a pass-through when
// limiting is disabled or there is no Redis.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, log *zap.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return NewThrottle(cfg, rdb, log).Middleware()
}

func bucketKey(cfg config.RateLimitConfig, c echo.Context) string {
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	parts := []string{cfg.Prefix, "ip", ip}
	if cfg.PerRoute {
		parts = append(parts, "route", strings.TrimPrefix(c.Path(), "/"))
	}
	return strings.Join(parts, ":")
}

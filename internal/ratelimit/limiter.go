// Package ratelimit implements the per-key sliding-window limiter backed by
// an atomic cache-side script, guarded by a circuit breaker that fails open
// when the cache is unhealthy.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clearproof/preflight/internal/cache"
)

const window = 60 * time.Second

// slidingWindow is evaluated atomically on the cache server. It prunes
// entries older than the window, counts what remains, and either denies
// (reset derived from the oldest surviving entry) or records the request.
//
// KEYS[1]  window sorted set
// ARGV[1]  now, unix milliseconds
// ARGV[2]  window, milliseconds
// ARGV[3]  limit
// ARGV[4]  unique member for this request
const slidingWindow = `
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit  = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)

if count >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local reset = window
    if oldest[2] then
        reset = math.ceil(tonumber(oldest[2]) + window - now)
    end
    if reset < 0 then reset = 0 end
    return {0, limit, 0, reset}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window + 1000)
return {1, limit, limit - count - 1, 0}
`

// Result is the limiter verdict for one request.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAfter time.Duration
}

// Limiter applies sliding-window limits keyed by API-key id or client IP.
type Limiter struct {
	cache   *cache.Client
	script  *cache.Script
	breaker *Breaker
	logger  *slog.Logger
}

// NewLimiter builds a limiter over the shared cache.
func NewLimiter(c *cache.Client, breaker *Breaker, logger *slog.Logger) *Limiter {
	return &Limiter{
		cache:   c,
		script:  cache.NewScript(slidingWindow),
		breaker: breaker,
		logger:  logger,
	}
}

// Check evaluates the request against the key's limit. When the breaker is
// open, or the cache errors, the request is allowed through: losing rate
// limiting briefly is cheaper than refusing all traffic.
func (l *Limiter) Check(ctx context.Context, key string, limit int) Result {
	failOpen := Result{Allowed: true, Limit: limit, Remaining: limit}

	if !l.breaker.Allow() {
		return failOpen
	}

	now := time.Now()
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())
	raw, err := l.cache.Run(ctx, l.script, []string{"ratelimit:" + key},
		now.UnixMilli(), window.Milliseconds(), limit, member)
	if err != nil {
		l.breaker.RecordFailure()
		l.logger.Warn("rate limit check failed, allowing request", "key", key, "error", err)
		return failOpen
	}
	l.breaker.RecordSuccess()

	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 4 {
		l.logger.Error("rate limit script returned unexpected shape", "key", key)
		return failOpen
	}
	return Result{
		Allowed:    asInt(vals[0]) == 1,
		Limit:      int(asInt(vals[1])),
		Remaining:  int(asInt(vals[2])),
		ResetAfter: time.Duration(asInt(vals[3])) * time.Millisecond,
	}
}

func asInt(v interface{}) int64 {
	n, _ := v.(int64)
	return n
}

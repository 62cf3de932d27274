package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redisx "github.com/kirinyoku/clubtix/internal/redis"
	"github.com/redis/go-redis/v9"
)

// Hits live in a sorted set scored by time. A refused hit is not recorded,
// so a client that keeps retrying is admitted again once its window drains.
//
// KEYS[1] = key
// ARGV = now_ms, window_ms, limit, member
const slidingWindowScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, now - window)
local count = redis.call('ZCARD', KEYS[1])

if count >= limit then
  local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
  local wait = window
  if oldest[2] then wait = window - (now - tonumber(oldest[2])) end
  if wait < 0 then wait = 0 end
  return {0, count, wait}
end

redis.call('ZADD', KEYS[1], now, ARGV[4])
redis.call('PEXPIRE', KEYS[1], window)
return {1, count + 1, 0}
`

// Decision is the outcome of one rate-limited hit.
type Decision struct {
	Allowed bool
	// Count is the number of admitted hits in the current window.
	Count      int64
	RetryAfter time.Duration
}

// SlidingWindowLimiter admits at most limit hits per client within any
// window. Each limiter owns a scope so that separate routes do not share
// a budget.
type SlidingWindowLimiter struct {
	rdb    *redis.Client
	scope  string
	limit  int
	window time.Duration
	script *redis.Script
	now    func() time.Time
}

func NewSlidingWindowLimiter(rdb *redis.Client, scope string, limit int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		rdb:    rdb,
		scope:  scope,
		limit:  limit,
		window: window,
		script: redis.NewScript(slidingWindowScript),
		now:    time.Now,
	}
}

// Allow records a hit for client unless its budget is spent.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, client string) (Decision, error) {
	const op = "redis.SlidingWindowLimiter.Allow"

	res, err := l.script.Run(ctx, l.rdb,
		[]string{redisx.KeyRateLimit(l.scope, client)},
		l.now().UnixMilli(), l.window.Milliseconds(), l.limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%s:%w", op, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("%s: unexpected script result %v", op, res)
	}

	return Decision{
		Allowed:    res[0] == 1,
		Count:      res[1],
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}

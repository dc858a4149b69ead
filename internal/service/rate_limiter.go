package service

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
)

// rateLimitScript is a Lua script for sliding window rate limiting
var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local windowStart = now - window

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)

local count = redis.call('ZCARD', key)

if count >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local resetAt = 0
    if #oldest >= 2 then
        resetAt = tonumber(oldest[2]) + window
    else
        resetAt = now + window
    end
    return {0, resetAt}
end

redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('EXPIRE', key, window + 10)

local resetAt = now + window
return {1, resetAt}
`)

// RateLimiter is a Redis sliding window shared by every replica.
type RateLimiter struct {
	client redis.Scripter
	clock  clock.Clock
}

func NewRateLimiter(client redis.Scripter, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.New()
	}
	return &RateLimiter{client: client, clock: clk}
}

// CheckLimit records one hit against key and reports whether it fits inside
// limit hits per window. On a Redis failure the error is returned and the
// caller decides whether to admit the request.
func (rl *RateLimiter) CheckLimit(
	ctx context.Context,
	key string,
	limit int,
	window time.Duration,
) (allowed bool, resetAt time.Time, err error) {
	now := rl.clock.Now()

	result, err := rateLimitScript.Run(
		ctx,
		rl.client,
		[]string{key},
		now.Unix(),
		int64(window.Seconds()),
		limit,
	).Int64Slice()
	if err != nil {
		return false, now.Add(window), fmt.Errorf("run rate limit script: %w", err)
	}

	if len(result) != 2 {
		return false, now.Add(window), fmt.Errorf("unexpected rate limit result length %d", len(result))
	}

	return result[0] == 1, time.Unix(result[1], 0), nil
}

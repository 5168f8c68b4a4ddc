// Package ratelimit throttles task submission with a Redis token bucket.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucket refills tokens lazily on every call and takes one if available.
//
//	KEYS[1]: Rate limit key
//	ARGV[1]: Rate (tokens/sec)
//	ARGV[2]: Burst (capacity)
//	ARGV[3]: Current timestamp (seconds)
//	ARGV[4]: Tokens to consume
var tokenBucket = redis.NewScript(`
	local key = KEYS[1]
	local rate = tonumber(ARGV[1])
	local burst = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local requested = tonumber(ARGV[4])

	local tokens = tonumber(redis.call('HGET', key, 'tokens'))
	local last_refill = tonumber(redis.call('HGET', key, 'last_refill'))

	if not tokens then
		tokens = burst
		last_refill = now
	end

	local delta = math.max(0, now - last_refill)
	local new_tokens = math.min(burst, tokens + (delta * rate))

	local allowed = 0
	if new_tokens >= requested then
		new_tokens = new_tokens - requested
		allowed = 1
	end
	redis.call('HSET', key, 'tokens', new_tokens, 'last_refill', now)
	return allowed
`)

// Limiter applies one token bucket per key.
type Limiter struct {
	rdb   *redis.Client
	rate  int
	burst int
	now   func() time.Time
}

// New creates a limiter adding rate tokens per second to buckets holding at
// most burst tokens.
func New(addr string, rate, burst int) *Limiter {
	return &Limiter{
		rdb:   redis.NewClient(&redis.Options{Addr: addr}),
		rate:  rate,
		burst: burst,
		now:   time.Now,
	}
}

// Close releases the Redis connection.
func (l *Limiter) Close() error {
	return l.rdb.Close()
}

// Allow reports whether one more task of the given type may be submitted.
// A limiter configured with a non-positive rate allows everything.
func (l *Limiter) Allow(ctx context.Context, taskType string) (bool, error) {
	if l.rate <= 0 {
		return true, nil
	}

	result, err := tokenBucket.Run(ctx, l.rdb,
		[]string{fmt.Sprintf("ratelimit:%s", taskType)},
		l.rate,
		l.burst,
		l.now().Unix(),
		1,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit %s: %w", taskType, err)
	}

	return result == 1, nil
}

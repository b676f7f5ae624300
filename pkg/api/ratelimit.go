package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter bounds decision submissions per user.
type Limiter interface {
	// Allow reports whether userID may submit another decision now.
	Allow(ctx context.Context, userID string) (bool, error)
}

// redisTokenBucketScript handles the token bucket algorithm atomically in Redis.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity (max tokens)
// ARGV[3] = current unix timestamp (seconds, microsecond precision)
var redisTokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return allowed
`)

// RedisLimiter is a token bucket limiter shared across replicas.
type RedisLimiter struct {
	client   *redis.Client
	ratePerS float64
	burst    int
}

// NewRedisLimiter connects to Redis at addr.
func NewRedisLimiter(addr string, requestsPerMinute, burst int) *RedisLimiter {
	return &RedisLimiter{
		client:   redis.NewClient(&redis.Options{Addr: addr}),
		ratePerS: float64(requestsPerMinute) / 60.0,
		burst:    burst,
	}
}

// Allow executes the Lua script to check and update the token bucket.
func (l *RedisLimiter) Allow(ctx context.Context, userID string) (bool, error) {
	key := fmt.Sprintf("limiter:decisions:%s", userID)
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := redisTokenBucketScript.Run(ctx, l.client, []string{key}, l.ratePerS, l.burst, now).Int64()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}
	return res == 1, nil
}

// LocalLimiter is the in-process fallback used when no Redis address is
// configured. Buckets are per user and never expire; acceptable for the
// single-replica lite mode.
type LocalLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	ratePerS rate.Limit
	burst    int
}

// NewLocalLimiter creates a per-user in-memory limiter.
func NewLocalLimiter(requestsPerMinute, burst int) *LocalLimiter {
	return &LocalLimiter{
		buckets:  make(map[string]*rate.Limiter),
		ratePerS: rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    burst,
	}
}

// Allow consumes one token from the user's bucket.
func (l *LocalLimiter) Allow(_ context.Context, userID string) (bool, error) {
	l.mu.Lock()
	bucket, ok := l.buckets[userID]
	if !ok {
		bucket = rate.NewLimiter(l.ratePerS, l.burst)
		l.buckets[userID] = bucket
	}
	l.mu.Unlock()
	return bucket.Allow(), nil
}

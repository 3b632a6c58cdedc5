package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces limiter keys on shared Redis instances.
const keyPrefix = "ratelimit:"

// fixedWindowScript atomically increments the window counter and stamps the
// expiry on first use, returning the current count and remaining TTL.
var fixedWindowScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then redis.call('PEXPIRE', KEYS[1], ARGV[1]) end
local ttl = redis.call('PTTL', KEYS[1])
return {current, ttl}
`)

// Redis is a Limiter backed by a shared Redis instance, suitable for
// multi-replica deployments.
type Redis struct {
	client redis.UniversalClient
}

var _ Limiter = (*Redis)(nil)

// NewRedis creates a Redis-backed limiter.
// The client should be obtained from pkg/redis.Open.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// Allow implements Limiter using an atomic INCR/PEXPIRE fixed window.
func (r *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	if limit <= 0 || window <= 0 {
		return Result{}, ErrInvalidLimit
	}

	res, err := fixedWindowScript.Run(ctx, r.client, []string{keyPrefix + key}, window.Milliseconds()).Result()
	if err != nil {
		return Result{}, err
	}

	arr, ok := res.([]any)
	if !ok || len(arr) != 2 {
		return Result{}, fmt.Errorf("ratelimit: unexpected script result %v", res)
	}
	current := toInt64(arr[0])
	ttlMillis := toInt64(arr[1])

	if current <= int64(limit) {
		return Result{Allowed: true, Remaining: limit - int(current)}, nil
	}
	return Result{RetryAfter: time.Duration(max(ttlMillis, 0)) * time.Millisecond}, nil
}

// AllowRolling implements Limiter with a sorted set of request timestamps.
// Entries older than the window are trimmed, then the request is admitted only
// if fewer than limit remain.
func (r *Redis) AllowRolling(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	if limit <= 0 || window <= 0 {
		return Result{}, ErrInvalidLimit
	}

	k := keyPrefix + key
	now := time.Now()
	cutoff := now.Add(-window)

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, k, "0", fmt.Sprintf("%d", cutoff.UnixNano()))
	countCmd := pipe.ZCard(ctx, k)
	oldestCmd := pipe.ZRangeWithScores(ctx, k, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, err
	}

	count := countCmd.Val()
	if count >= int64(limit) {
		retryAfter := window
		if oldest := oldestCmd.Val(); len(oldest) > 0 {
			oldestAt := time.Unix(0, int64(oldest[0].Score))
			retryAfter = oldestAt.Add(window).Sub(now)
		}
		return Result{RetryAfter: max(retryAfter, 0)}, nil
	}

	// Member must be unique per request so concurrent sends in the same
	// nanosecond are counted separately.
	add := r.client.TxPipeline()
	add.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()})
	add.PExpire(ctx, k, window)
	if _, err := add.Exec(ctx); err != nil {
		return Result{}, err
	}

	return Result{Allowed: true, Remaining: limit - int(count) - 1}, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case uint64:
		return int64(n)
	default:
		return 0
	}
}

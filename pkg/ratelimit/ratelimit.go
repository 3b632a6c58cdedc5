// Package ratelimit provides shared counters for enforcing per-service send
// quotas, with Redis-backed and in-memory implementations.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidLimit is returned when limit or window are not positive.
var ErrInvalidLimit = errors.New("ratelimit: limit and window must be positive")

// Result reports the outcome of a limiter check.
type Result struct {
	// Allowed is true when the request fits within the quota.
	Allowed bool
	// Remaining is the number of requests left in the current window.
	Remaining int
	// RetryAfter is how long until the quota frees up. Zero when allowed.
	RetryAfter time.Duration
}

// Limiter abstracts a shared counter store for send quotas.
// Fixed windows reset entirely when the window elapses; rolling windows track
// individual request timestamps.
type Limiter interface {
	// Allow consumes one unit from a fixed window quota for key.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)

	// AllowRolling consumes one unit from a rolling window quota for key.
	AllowRolling(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local Limiter for tests and single-instance deployments.
// Multi-replica deployments should use the Redis limiter so all replicas share
// one quota.
type Memory struct {
	mu      sync.Mutex
	now     func() time.Time
	fixed   map[string]*fixedBucket
	rolling map[string][]time.Time
}

type fixedBucket struct {
	start time.Time
	count int
}

var _ Limiter = (*Memory)(nil)

// NewMemory creates an in-memory limiter.
func NewMemory() *Memory {
	return &Memory{
		now:     time.Now,
		fixed:   make(map[string]*fixedBucket),
		rolling: make(map[string][]time.Time),
	}
}

// Allow implements Limiter with a per-key fixed window counter.
func (m *Memory) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	if limit <= 0 || window <= 0 {
		return Result{}, ErrInvalidLimit
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b, ok := m.fixed[key]
	if !ok || now.Sub(b.start) >= window {
		m.fixed[key] = &fixedBucket{start: now, count: 1}
		return Result{Allowed: true, Remaining: limit - 1}, nil
	}

	if b.count < limit {
		b.count++
		return Result{Allowed: true, Remaining: limit - b.count}, nil
	}

	return Result{RetryAfter: window - now.Sub(b.start)}, nil
}

// AllowRolling implements Limiter by tracking request timestamps per key.
func (m *Memory) AllowRolling(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	if limit <= 0 || window <= 0 {
		return Result{}, ErrInvalidLimit
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-window)

	kept := m.rolling[key][:0]
	for _, ts := range m.rolling[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= limit {
		m.rolling[key] = kept
		return Result{RetryAfter: kept[0].Add(window).Sub(now)}, nil
	}

	m.rolling[key] = append(kept, now)
	return Result{Allowed: true, Remaining: limit - len(kept) - 1}, nil
}

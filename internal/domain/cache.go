package domain

import (
	"context"
	"time"
)

// PropertyCache is a hot read cache for property records, fronting the
// postgres mirror for high-traffic listing pages.
type PropertyCache interface {
	Get(ctx context.Context, address string) (Property, error)
	Set(ctx context.Context, p Property) error
	Invalidate(ctx context.Context, address string) error
}

// LockManager provides distributed locks so background jobs (archive runs,
// mirror rebuilds) execute on at most one node at a time.
type LockManager interface {
	// Acquire obtains the lock for key with the given TTL and returns an
	// unlock function, or ErrLockHeld when another holder owns it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter throttles requests per key. The API middleware uses it to cap
// request rates per client IP.
type RateLimiter interface {
	// Allow reports whether one more request under key fits inside the
	// sliding window; an allowed request is counted.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

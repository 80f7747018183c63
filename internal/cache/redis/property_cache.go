package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deedmarket/deedmarketd/internal/domain"
)

// defaultPropertyTTL bounds staleness if an invalidation is ever missed.
const defaultPropertyTTL = 10 * time.Minute

// PropertyCache implements domain.PropertyCache using Redis. Property records
// are stored as JSON under a per-address key and invalidated whenever the
// mirror applies a committed event for that property.
type PropertyCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPropertyCache creates a PropertyCache backed by the given Client. A
// non-positive ttl falls back to the default.
func NewPropertyCache(c *Client, ttl time.Duration) *PropertyCache {
	if ttl <= 0 {
		ttl = defaultPropertyTTL
	}
	return &PropertyCache{rdb: c.Underlying(), ttl: ttl}
}

func propertyKey(address string) string {
	return "property:" + address
}

// Get returns the cached property or domain.ErrNotFound on a miss.
func (pc *PropertyCache) Get(ctx context.Context, address string) (domain.Property, error) {
	data, err := pc.rdb.Get(ctx, propertyKey(address)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return domain.Property{}, domain.ErrNotFound
		}
		return domain.Property{}, fmt.Errorf("redis: get property %s: %w", address, err)
	}

	var p domain.Property
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Property{}, fmt.Errorf("redis: decode property %s: %w", address, err)
	}
	return p, nil
}

// Set stores the property record with the cache TTL.
func (pc *PropertyCache) Set(ctx context.Context, p domain.Property) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redis: encode property %s: %w", p.Address, err)
	}
	if err := pc.rdb.Set(ctx, propertyKey(p.Address), data, pc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set property %s: %w", p.Address, err)
	}
	return nil
}

// Invalidate drops the cached record for an address.
func (pc *PropertyCache) Invalidate(ctx context.Context, address string) error {
	if err := pc.rdb.Del(ctx, propertyKey(address)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate property %s: %w", address, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PropertyCache = (*PropertyCache)(nil)

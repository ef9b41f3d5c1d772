// Package cache provides the shared key-value cache used for classifier
// results, search responses, hydrated merchant URLs, FX rates and UI payloads,
// together with short-TTL leases that bound duplicate external calls.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// Cache is a string key-value store with TTLs and leases. Reads never block
// writers; a lease only de-duplicates work and carries no isolation guarantee.
type Cache interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// AcquireLease takes a mutual-exclusion lease on key for at most ttl. It
	// returns the holder token, or ok=false when someone else holds it.
	AcquireLease(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	// ReleaseLease drops the lease if token still holds it.
	ReleaseLease(ctx context.Context, key, token string) error
}

// GetJSON decodes a cached JSON value into dst. It reports false on a miss.
func GetJSON(ctx context.Context, c Cache, key string, dst any) (bool, error) {
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, eris.Wrapf(err, "cache: decode %s", key)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "cache: encode %s", key)
	}
	return c.Set(ctx, key, string(raw), ttl)
}

// LeaseKey is the lease key guarding work on key.
func LeaseKey(key string) string {
	return "lock:" + key
}

// Nop is a cache that stores nothing and grants every lease.
type Nop struct{}

func (Nop) Get(context.Context, string) (string, bool, error) { return "", false, nil }
func (Nop) Set(context.Context, string, string, time.Duration) error { return nil }
func (Nop) Delete(context.Context, ...string) error { return nil }
func (Nop) ReleaseLease(context.Context, string, string) error { return nil }
func (Nop) AcquireLease(context.Context, string, time.Duration) (string, bool, error) {
	return "nop", true, nil
}

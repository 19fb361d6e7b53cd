// Package cache defines the cache contract of the orchestration layer and
// the key scheme used for query pages.
//
// Values are opaque bytes copied in and out of the backend. A backend
// treats TTL as authoritative: an expired entry is never returned. Backend
// failures wrap storemesh.ErrCacheUnavailable so the read path can degrade
// to a direct store read.
package cache

import (
	"context"
	"time"
)

// Cache is a key/value cache with per-entry TTL.
type Cache interface {
	// Get returns the value under key. found is false on miss or expiry.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores value under key for ttl. The last write wins.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Invalidate removes key. Removing a missing key is not an error.
	Invalidate(ctx context.Context, key string) error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}

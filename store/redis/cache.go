package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pricetrack/storemesh"
	"github.com/pricetrack/storemesh/cache"
)

var _ cache.Cache = (*Cache)(nil)

// Option configures a Cache or Queue.
type Option func(*options)

type options struct {
	logger       *slog.Logger
	visibility   time.Duration
	pollInterval time.Duration
	completedTTL time.Duration
}

func defaultOptions() options {
	return options{
		logger:       slog.Default(),
		visibility:   30 * time.Second,
		pollInterval: 50 * time.Millisecond,
		completedTTL: 24 * time.Hour,
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Cache implements cache.Cache on Redis strings.
type Cache struct {
	client goredis.Cmdable
	logger *slog.Logger
}

// NewCache creates a Redis-backed cache. The caller owns the client.
func NewCache(client goredis.Cmdable, opts ...Option) *Cache {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache{client: client, logger: o.logger}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("storemesh/redis: %s: %w: %w", op, storemesh.ErrCacheUnavailable, err)
}

// Get returns the value under key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("cache get", err)
	}
	return v, true, nil
}

// Set stores value under key for ttl. A non-positive ttl deletes the key.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return c.Invalidate(ctx, key)
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("cache set", err)
	}
	return nil
}

// Invalidate deletes key. Deleting a missing key succeeds.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return unavailable("cache invalidate", err)
	}
	return nil
}

// Ping verifies the Redis connection is alive.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

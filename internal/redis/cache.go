package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	sentinal_errors "sentinal-client/pkg/errors"
)

// CacheConfig contains configuration for caching
type CacheConfig struct {
	Prefix string        // namespace prepended to every key
	TTL    time.Duration // expiry of every record, 0 keeps it forever
}

// DefaultCacheConfig returns sensible defaults
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Prefix: "sentinal:",
		TTL:    7 * 24 * time.Hour,
	}
}

// CacheStore is a byte-level key/value store in Redis. Keys are written as
// {prefix}{key}, e.g. sentinal:timeline:{conv_id}.
type CacheStore struct {
	client *goredis.Client
	config CacheConfig
}

// NewCacheStore creates a new cache store
func NewCacheStore(client *goredis.Client, config CacheConfig) *CacheStore {
	return &CacheStore{
		client: client,
		config: config,
	}
}

func (c *CacheStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, c.config.Prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, sentinal_errors.ErrNotFound // Cache miss
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *CacheStore) Put(ctx context.Context, key string, value []byte) error {
	return c.client.Set(ctx, c.config.Prefix+key, value, c.config.TTL).Err()
}

func (c *CacheStore) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.config.Prefix+key).Err()
}

func (c *CacheStore) Close() error {
	return c.client.Close()
}

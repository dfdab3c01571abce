package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sentinal_errors "sentinal-client/pkg/errors"
)

// Runs only against a live server: REDIS_TEST_HOST=localhost go test ./internal/redis
func TestCacheStore(t *testing.T) {
	host := os.Getenv("REDIS_TEST_HOST")
	if host == "" {
		t.Skip("REDIS_TEST_HOST not set")
	}
	port := os.Getenv("REDIS_TEST_PORT")
	if port == "" {
		port = "6379"
	}
	ctx := context.Background()
	client := NewClient(Config{Host: host, Port: port})
	require.NoError(t, Ping(ctx, client, 2*time.Second))

	store := NewCacheStore(client, CacheConfig{Prefix: "sentinal-test:", TTL: time.Minute})
	defer store.Close()

	require.NoError(t, store.Delete(ctx, "k"))
	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, sentinal_errors.ErrNotFound)

	require.NoError(t, store.Put(ctx, "k", []byte{0, 1, 2}))
	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, got)

	ttl, err := client.TTL(ctx, "sentinal-test:k").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	require.NoError(t, store.Delete(ctx, "k"))
}

func TestConfigAddr(t *testing.T) {
	assert.Equal(t, "localhost:6379", Config{Host: "localhost", Port: "6379"}.Addr())
	assert.Equal(t, "sentinal:", DefaultCacheConfig().Prefix)
}

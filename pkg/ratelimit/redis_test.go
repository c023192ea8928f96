package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedis connects to REDIS_URL and skips when it is unset or unreachable.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set, skipping redis limiter test")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	return client
}

func TestRedisFixedWindowSubMillisecondWindow(t *testing.T) {
	l := NewRedisFixedWindow(nil, "test:rate", 1, 500*time.Microsecond, nil)
	l.now = func() time.Time { return time.UnixMilli(1_700_000_000_123) }

	assert.Equal(t, time.Millisecond, l.window)
	assert.NotPanics(t, func() { _ = l.key() })
	assert.Equal(t, "test:rate:1700000000123", l.key())
}

func TestRedisFixedWindowKeyPerSlot(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewRedisFixedWindow(nil, "test:rate", 1, time.Minute, nil)
	l.now = func() time.Time { return now }

	first := l.key()
	now = now.Add(59 * time.Second)
	assert.Equal(t, first, l.key())
	now = now.Add(time.Second)
	assert.NotEqual(t, first, l.key())
}

func TestRedisFixedWindowCapacity(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()
	prefix := "test:rate:" + uuid.NewString()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewRedisFixedWindow(client, prefix, 2, time.Minute, nil)
	l.now = func() time.Time { return now }
	firstKey := l.key()
	t.Cleanup(func() { client.Del(context.Background(), firstKey) })

	assert.True(t, l.TryAcquire(ctx))
	assert.True(t, l.TryAcquire(ctx))
	for i := 0; i < 5; i++ {
		assert.False(t, l.TryAcquire(ctx))
	}

	// Denials leave the counter at capacity
	count, err := client.Get(ctx, l.key()).Int()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	ttl, err := client.PTTL(ctx, l.key()).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)

	// A second limiter shares the same quota
	other := NewRedisFixedWindow(client, prefix, 2, time.Minute, nil)
	other.now = l.now
	assert.False(t, other.TryAcquire(ctx))

	// The next window starts fresh
	now = now.Add(time.Minute)
	nextKey := l.key()
	t.Cleanup(func() { client.Del(context.Background(), nextKey) })
	assert.True(t, other.TryAcquire(ctx))
}

func TestRedisFixedWindowDeniesWhenUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	l := NewRedisFixedWindow(client, "test:rate", 10, time.Minute, nil)
	assert.False(t, l.TryAcquire(context.Background()))
}

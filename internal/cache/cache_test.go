package cache_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/filepreview/internal/cache"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis spins up a Redis container and returns a RedisCounter on it.
func setupRedis(t *testing.T) *cache.RedisCounter {
	t.Helper()
	return setupRedisImage(t, "redis:7-alpine")
}

func setupRedisImage(t *testing.T, image string) *cache.RedisCounter {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        image,
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	opts, err := redis.ParseURL("redis://" + host + ":" + port.Port())
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })

	return cache.NewRedisCounter(client, "test")
}

// --- Redis ---

func TestRedisCounter_Ping(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	assert.NoError(t, rc.Ping(context.Background()))
}

func TestRedisCounter_IncrWithExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := "ratelimit:test:" + uuid.NewString()[:8]

	for want := int64(1); want <= 3; want++ {
		val, err := rc.IncrWithExpiry(ctx, key, 10*time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, val)
	}
}

func TestRedisCounter_WorksOnRedis6(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedisImage(t, "redis:6.2-alpine")
	ctx := context.Background()
	key := "ratelimit:redis6:" + uuid.NewString()[:8]

	for want := int64(1); want <= 3; want++ {
		val, err := rc.IncrWithExpiry(ctx, key, 200*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, want, val)
	}

	time.Sleep(400 * time.Millisecond)
	val, err := rc.IncrWithExpiry(ctx, key, 200*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)
}

func TestRedisCounter_Expires(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := "ratelimit:expiry:" + uuid.NewString()[:8]

	_, err := rc.IncrWithExpiry(ctx, key, 1*time.Second)
	require.NoError(t, err)

	time.Sleep(1500 * time.Millisecond)

	// After expiry, should start from 1 again
	val, err := rc.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)
}

func TestRedisCounter_LaterHitsDoNotExtendWindow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := "ratelimit:window:" + uuid.NewString()[:8]

	_, err := rc.IncrWithExpiry(ctx, key, time.Second)
	require.NoError(t, err)
	time.Sleep(600 * time.Millisecond)
	_, err = rc.IncrWithExpiry(ctx, key, time.Second)
	require.NoError(t, err)
	time.Sleep(600 * time.Millisecond)

	val, err := rc.IncrWithExpiry(ctx, key, time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)
}

// --- Memory ---

func TestMemoryCounter_Increments(t *testing.T) {
	mc := cache.NewMemoryCounter()
	ctx := context.Background()

	v1, _ := mc.IncrWithExpiry(ctx, "a", time.Minute)
	v2, _ := mc.IncrWithExpiry(ctx, "a", time.Minute)
	other, _ := mc.IncrWithExpiry(ctx, "b", time.Minute)

	assert.Equal(t, int64(1), v1)
	assert.Equal(t, int64(2), v2)
	assert.Equal(t, int64(1), other)
	assert.NoError(t, mc.Ping(ctx))
}

func TestMemoryCounter_Expires(t *testing.T) {
	mc := cache.NewMemoryCounter()
	ctx := context.Background()

	_, err := mc.IncrWithExpiry(ctx, "k", 20*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(40 * time.Millisecond)

	val, err := mc.IncrWithExpiry(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)
}

func TestMemoryCounter_Concurrent(t *testing.T) {
	mc := cache.NewMemoryCounter()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mc.IncrWithExpiry(ctx, "shared", time.Minute)
		}()
	}
	wg.Wait()

	val, _ := mc.IncrWithExpiry(ctx, "shared", time.Minute)
	assert.Equal(t, int64(51), val)
}

// --- Key builder ---

func TestRateLimitKey(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 30, 45, 0, time.UTC)
	key := cache.RateLimitKey("alice", at, time.Minute)
	assert.Equal(t, "ratelimit:alice:1714559400", key)
}

func TestRateLimitKey_SameWindow(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	assert.Equal(t,
		cache.RateLimitKey("alice", start.Add(5*time.Second), time.Minute),
		cache.RateLimitKey("alice", start.Add(55*time.Second), time.Minute))
	assert.NotEqual(t,
		cache.RateLimitKey("alice", start, time.Minute),
		cache.RateLimitKey("alice", start.Add(time.Minute), time.Minute))
	assert.NotEqual(t,
		cache.RateLimitKey("alice", start, time.Minute),
		cache.RateLimitKey("bob", start, time.Minute))
}

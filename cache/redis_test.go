package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Helper function to start a Redis container for integration tests
func startTestRedisContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := redisContainer.Host(ctx)
	require.NoError(t, err)

	port, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return redisContainer, fmt.Sprintf("%s:%s", host, port.Port())
}

func TestRedisBackendRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	redisContainer, addr := startTestRedisContainer(ctx, t)
	defer func() { _ = redisContainer.Terminate(ctx) }()

	cfg := DefaultConfig()
	cfg.Redis.Addr = addr

	c, err := New[string](ctx, cfg)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	require.NoError(t, c.Clear(ctx))

	// Miss before set
	_, exists := c.Get(ctx, "key1")
	assert.False(t, exists)

	require.NoError(t, c.Set(ctx, "key1", "value1"))
	value, exists := c.Get(ctx, "key1")
	assert.True(t, exists)
	assert.Equal(t, "value1", value)

	deleted, err := c.Delete(ctx, "key1")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, exists = c.Get(ctx, "key1")
	assert.False(t, exists)
}

func TestRedisBackendTTL(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	redisContainer, addr := startTestRedisContainer(ctx, t)
	defer func() { _ = redisContainer.Terminate(ctx) }()

	cfg := DefaultConfig()
	cfg.Redis.Addr = addr

	c, err := New[string](ctx, cfg)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	require.NoError(t, c.Clear(ctx))
	require.NoError(t, c.SetWithTTL(ctx, "short-lived", "v", time.Second))

	value, exists := c.Get(ctx, "short-lived")
	assert.True(t, exists)
	assert.Equal(t, "v", value)

	assert.Eventually(t, func() bool {
		_, exists := c.Get(ctx, "short-lived")
		return !exists
	}, 5*time.Second, 200*time.Millisecond, "entry should expire via native TTL")
}

func TestRedisBackendFailOpen(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	redisContainer, addr := startTestRedisContainer(ctx, t)

	cfg := DefaultConfig()
	cfg.Redis.Addr = addr

	c, err := New[string](ctx, cfg)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	require.NoError(t, c.Set(ctx, "key", "value"))

	// Kill the backend: reads degrade to misses, writes to logged no-ops
	require.NoError(t, redisContainer.Terminate(ctx))

	_, exists := c.Get(ctx, "key")
	assert.False(t, exists)
	assert.NoError(t, c.Set(ctx, "key2", "value2"))
}

func TestSelectorFallsBackWhenUnreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Redis.Addr = "127.0.0.1:1" // nothing listens here
	cfg.Redis.DialTimeout = 100 * time.Millisecond

	c, err := New[string](context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	// Local fallback still serves
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "key", "value"))
	value, exists := c.Get(ctx, "key")
	assert.True(t, exists)
	assert.Equal(t, "value", value)
}

package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/techday-registration/internal/logging"
	"github.com/Shivanand-hulikatti/techday-registration/internal/model"
)

func sampleState() model.AdmissionState {
	return model.AdmissionState{
		AdmissionConfig:    model.AdmissionConfig{MaxUsers: 10, ManualLock: false},
		RegisteredInternal: 4,
	}
}

func TestMemory_SetGetInvalidate(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute, logging.Discard())

	_, ok := c.Get(ctx)
	assert.False(t, ok)

	c.Set(ctx, sampleState())
	got, ok := c.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, sampleState(), got)

	c.Invalidate(ctx)
	_, ok = c.Get(ctx)
	assert.False(t, ok)
}

func TestMemory_Expires(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(20*time.Millisecond, logging.Discard())

	c.Set(ctx, sampleState())
	require.Eventually(t, func() bool {
		_, ok := c.Get(ctx)
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestNop(t *testing.T) {
	var c StatusCache = Nop{}
	c.Set(context.Background(), sampleState())
	_, ok := c.Get(context.Background())
	assert.False(t, ok)
}

// TestRedis_RoundTrip runs against a real server when TECHDAY_TEST_REDIS_ADDR is set.
func TestRedis_RoundTrip(t *testing.T) {
	addr := os.Getenv("TECHDAY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TECHDAY_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	c := NewRedis(client, "techday-test", time.Minute, logging.Discard())
	c.Invalidate(ctx)

	c.Set(ctx, sampleState())
	got, ok := c.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, sampleState(), got)

	c.Invalidate(ctx)
	_, ok = c.Get(ctx)
	assert.False(t, ok)
}

func TestRedis_UnreachableIsMiss(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	c := NewRedis(client, "", time.Minute, logging.Discard())
	c.Set(context.Background(), sampleState())
	_, ok := c.Get(context.Background())
	assert.False(t, ok)
}

package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gmflicense/internal/config"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	c, err := New(config.RedisConfig{
		URL:     "redis://" + mr.Addr(),
		Timeout: time.Second,
		Breaker: config.BreakerConfig{
			MaxRequests:         1,
			Interval:            time.Minute,
			Timeout:             time.Minute,
			ConsecutiveFailures: 2,
		},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return c, mr
}

func TestNewInvalidURL(t *testing.T) {
	_, err := New(config.RedisConfig{URL: "://bad"}, nil)
	assert.Error(t, err)
}

func TestCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	_, found, err := c.Get(ctx, "license:K:m1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "license:K:m1", []byte(`{"isValid":true}`), 5*time.Minute))

	val, found, err := c.Get(ctx, "license:K:m1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"isValid":true}`, string(val))
	assert.Equal(t, 5*time.Minute, mr.TTL("license:K:m1"))

	mr.FastForward(5 * time.Minute)

	_, found, err = c.Get(ctx, "license:K:m1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_DeletePrefix(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	for i := range 250 {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("license:GMF-2026-PRO-0000000A:m%d", i), []byte("x"), time.Minute))
	}
	require.NoError(t, c.Set(ctx, "license_info:GMF-2026-PRO-0000000A:m1", []byte("x"), time.Minute))
	require.NoError(t, c.Set(ctx, "license:GMF-2026-PRO-0000000B:m1", []byte("x"), time.Minute))

	removed, err := c.DeletePrefix(ctx, "license:GMF-2026-PRO-0000000A:")
	require.NoError(t, err)
	assert.Equal(t, 250, removed)

	assert.True(t, mr.Exists("license_info:GMF-2026-PRO-0000000A:m1"))
	assert.True(t, mr.Exists("license:GMF-2026-PRO-0000000B:m1"))

	removed, err = c.DeletePrefix(ctx, "license:GMF-2026-PRO-0000000C:")
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestCache_BreakerOpensOnFailures(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	require.NoError(t, c.Ping(ctx))
	mr.Close()

	for range 2 {
		_, _, err := c.Get(ctx, "k")
		require.Error(t, err)
	}
	assert.Equal(t, "open", c.State())

	_, _, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Error(t, c.Ping(ctx))
}

func TestCache_NewWithClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	c := NewWithClient(client, config.BreakerConfig{}, nil)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Set(context.Background(), "a", []byte("b"), time.Minute))
	assert.Equal(t, "closed", c.State())
}

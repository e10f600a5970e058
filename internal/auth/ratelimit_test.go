package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func setupMiniRedis(t *testing.T) *redis.Client {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestLocalLimiter_AllowsBurstThenBlocks(t *testing.T) {
	lim := NewLocalLimiter(1, 2)
	ctx := context.Background()

	allowed1, err := lim.Allow(ctx, "key-1")
	require.NoError(t, err)
	require.True(t, allowed1)

	allowed2, err := lim.Allow(ctx, "key-1")
	require.NoError(t, err)
	require.True(t, allowed2)

	allowed3, err := lim.Allow(ctx, "key-1")
	require.NoError(t, err)
	require.False(t, allowed3, "burst of 2 exhausted")
}

func TestLocalLimiter_SeparatesIdentifiers(t *testing.T) {
	lim := NewLocalLimiter(1, 1)
	ctx := context.Background()

	allowed, _ := lim.Allow(ctx, "key-a")
	require.True(t, allowed)

	allowed, _ = lim.Allow(ctx, "key-b")
	require.True(t, allowed, "a different identifier gets its own bucket")
}

func TestGlobalLimiter_CapsWithinWindow(t *testing.T) {
	client := setupMiniRedis(t)
	ctx := context.Background()
	lim := NewGlobalLimiter(client, "cortex-test", 2, time.Minute)

	allowed1, err := lim.Allow(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, allowed1)

	allowed2, err := lim.Allow(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, allowed2)

	allowed3, err := lim.Allow(ctx, "user-1")
	require.NoError(t, err)
	require.False(t, allowed3, "third request within the window exceeds the cap of 2")
}

func TestGlobalLimiter_WindowExpiryReleasesCapacity(t *testing.T) {
	client := setupMiniRedis(t)
	ctx := context.Background()
	lim := NewGlobalLimiter(client, "cortex-test", 1, 50*time.Millisecond)

	allowed1, _ := lim.Allow(ctx, "user-2")
	require.True(t, allowed1)

	allowed2, _ := lim.Allow(ctx, "user-2")
	require.False(t, allowed2)

	time.Sleep(60 * time.Millisecond)

	allowed3, err := lim.Allow(ctx, "user-2")
	require.NoError(t, err)
	require.True(t, allowed3, "window has rolled forward")
}

package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLimiterBlocksAfterLimitWithinWindow(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	defer mini.Close()

	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	limiter := NewLimiter(client, "test", zerolog.Nop())
	rule := Rule{Key: "msg:", Limit: 2, Window: 10 * time.Second}
	ctx := context.Background()

	require.True(t, limiter.Allow(ctx, "u1", rule))
	require.True(t, limiter.Allow(ctx, "u1", rule))
	require.False(t, limiter.Allow(ctx, "u1", rule))
	require.True(t, limiter.Allow(ctx, "u2", rule))
	count, err := mini.Get("test:rl:msg:u1")
	require.NoError(t, err)
	require.Equal(t, "3", count)
	require.Equal(t, 10*time.Second, mini.TTL("test:rl:msg:u1"))

	mini.FastForward(11 * time.Second)
	require.True(t, limiter.Allow(ctx, "u1", rule))
	count, err = mini.Get("test:rl:msg:u1")
	require.NoError(t, err)
	require.Equal(t, "1", count)
}

func TestLimiterFailsOpen(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mini.Addr(), MaxRetries: -1})
	limiter := NewLimiter(client, "", zerolog.Nop())
	mini.Close()

	require.True(t, limiter.Allow(context.Background(), "u1", Rule{Key: "msg:", Limit: 1, Window: time.Second}))
}

func TestNilLimiterAllows(t *testing.T) {
	var limiter *Limiter
	require.True(t, limiter.Allow(context.Background(), "u1", Rule{Key: "msg:", Limit: 1, Window: time.Second}))

	limiter = NewLimiter(nil, "", zerolog.Nop())
	require.True(t, limiter.Allow(context.Background(), "u1", Rule{Key: "msg:", Limit: 1, Window: time.Second}))
}

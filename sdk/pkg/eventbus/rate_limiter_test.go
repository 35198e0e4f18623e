package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRateLimiter_Disabled 速率 <= 0 时不限速
func TestRateLimiter_Disabled(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{})
	assert.False(t, limiter.Enabled())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	for i := 0; i < 100; i++ {
		require.NoError(t, limiter.Wait(ctx))
	}
}

func TestRateLimiter_Burst(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{RatePerSecond: 1, BurstSize: 2})
	require.True(t, limiter.Enabled())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, limiter.Wait(ctx))
	assert.NoError(t, limiter.Wait(ctx))
	assert.Error(t, limiter.Wait(ctx), "burst exhausted")
}

// TestRateLimiter_Wait 第一个令牌立即可用，下一个令牌赶不上截止时间时立即返回错误
func TestRateLimiter_Wait(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{RatePerSecond: 1})

	start := time.Now()
	require.NoError(t, limiter.Wait(context.Background()))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, limiter.Wait(ctx))
}

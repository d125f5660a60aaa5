package util

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(time.Hour, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, rl.Wait(ctx))
	}

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := rl.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRateLimiterCancelled(t *testing.T) {
	rl := NewRateLimiter(time.Millisecond, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, rl.Wait(ctx), context.Canceled)
}

func TestRateLimiterBackoff(t *testing.T) {
	rl := NewRateLimiter(100*time.Millisecond, 1)

	first := rl.OnRateLimit(0)
	assert.Equal(t, 120*time.Millisecond, first)

	second := rl.OnRateLimit(0)
	assert.Equal(t, 180*time.Millisecond, second, "repeated throttling backs off harder")

	assert.Equal(t, 10*time.Second, rl.OnRateLimit(10*time.Second))

	for i := 0; i < 20; i++ {
		rl.OnRateLimit(0)
	}
	assert.Equal(t, maxBackoff, rl.Rate())

	rl.ResetRate()
	assert.Equal(t, 100*time.Millisecond, rl.Rate())
}

func TestPerSecond(t *testing.T) {
	assert.Equal(t, 200*time.Millisecond, PerSecond(5))
	assert.Equal(t, DefaultRate, PerSecond(0))
}

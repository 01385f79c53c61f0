package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_AllowRefills(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New()
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("klines", 2, 1))
	assert.True(t, l.Allow("klines", 2, 1))
	assert.False(t, l.Allow("klines", 2, 1))
	assert.True(t, l.Allow("other", 2, 1), "keys have separate buckets")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("klines", 2, 1))
	assert.False(t, l.Allow("klines", 2, 1))

	now = now.Add(time.Hour)
	assert.True(t, l.Allow("klines", 2, 1))
	assert.True(t, l.Allow("klines", 2, 1))
	assert.False(t, l.Allow("klines", 2, 1), "refill is capped at capacity")
}

func TestLimiter_WaitHonoursContext(t *testing.T) {
	l := New()
	assert.NoError(t, l.Wait(context.Background(), "k", 1, 0.01))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx, "k", 1, 0.01), context.DeadlineExceeded)
}

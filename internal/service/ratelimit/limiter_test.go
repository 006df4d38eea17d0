package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowRefills(t *testing.T) {
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	l := NewWithClock(func() time.Time { return now })

	assert.True(t, l.Allow("orders", 2, 1))
	assert.True(t, l.Allow("orders", 2, 1))
	assert.False(t, l.Allow("orders", 2, 1))
	assert.True(t, l.Allow("other", 2, 1), "buckets are per key")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("orders", 2, 1))
	assert.False(t, l.Allow("orders", 2, 1))
}

func TestWaitHonorsContext(t *testing.T) {
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	l := NewWithClock(func() time.Time { return now })
	ctx := context.Background()

	assert.NoError(t, l.Wait(ctx, "k", 1, 0.001))

	ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx, "k", 1, 0.001), context.DeadlineExceeded)
}

package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestCache(opts ...MemoryOption) (*MemoryCache, *manualClock) {
	clk := &manualClock{t: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)}
	opts = append([]MemoryOption{WithMemoryClock(clk.Now), WithMemoryCleanup(0)}, opts...)
	return NewMemoryCache(opts...), clk
}

func TestMemoryCacheRoundTripsJSON(t *testing.T) {
	ctx := context.Background()
	mc, _ := newTestCache()
	defer mc.Close()

	type status struct {
		Halted bool   `json:"halted"`
		Reason string `json:"reason"`
	}
	require.NoError(t, mc.Set(ctx, "status", status{Halted: true, Reason: "manual"}, 0))

	var got status
	require.NoError(t, mc.Get(ctx, "status", &got))
	assert.Equal(t, status{Halted: true, Reason: "manual"}, got)

	require.NoError(t, mc.Set(ctx, "plain", "text", 0))
	var s string
	require.NoError(t, mc.Get(ctx, "plain", &s))
	assert.Equal(t, "text", s)

	assert.ErrorIs(t, mc.Get(ctx, "missing", &s), ErrCacheMiss)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	mc, clk := newTestCache()
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "k", "v", time.Minute))
	ok, err := mc.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	clk.Advance(time.Minute)
	ok, err = mc.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mc.Set(ctx, "k", "v", time.Minute))
	extended, err := mc.Expire(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.True(t, extended)
	clk.Advance(30 * time.Minute)
	var v string
	assert.NoError(t, mc.Get(ctx, "k", &v))
}

func TestMemoryCacheLockOwnership(t *testing.T) {
	ctx := context.Background()
	mc, clk := newTestCache()
	defer mc.Close()

	ok, err := mc.TryLock(ctx, "lock", "a", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = mc.TryLock(ctx, "lock", "b", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	// owner refresh extends the ttl
	clk.Advance(20 * time.Second)
	ok, err = mc.TryLock(ctx, "lock", "a", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	clk.Advance(20 * time.Second)
	ok, _ = mc.TryLock(ctx, "lock", "b", 30*time.Second)
	assert.False(t, ok)

	assert.ErrorIs(t, mc.Unlock(ctx, "lock", "b"), ErrNotLockOwner)
	require.NoError(t, mc.Unlock(ctx, "lock", "a"))

	ok, _ = mc.TryLock(ctx, "lock", "b", 30*time.Second)
	assert.True(t, ok)

	// an expired lock can be taken over
	clk.Advance(time.Minute)
	ok, _ = mc.TryLock(ctx, "lock", "c", 30*time.Second)
	assert.True(t, ok)
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	mc, clk := newTestCache(WithMemoryMaxSize(2))
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "a", "1", 0))
	clk.Advance(time.Second)
	require.NoError(t, mc.Set(ctx, "b", "2", 0))
	clk.Advance(time.Second)
	var v string
	require.NoError(t, mc.Get(ctx, "a", &v))
	clk.Advance(time.Second)
	require.NoError(t, mc.Set(ctx, "c", "3", 0))

	ok, _ := mc.Exists(ctx, "b")
	assert.False(t, ok)
	ok, _ = mc.Exists(ctx, "a", "c")
	assert.True(t, ok)
}

func TestGenerateKey(t *testing.T) {
	assert.Equal(t, "stockpulse", GenerateKey("stockpulse"))
	assert.Equal(t, "stockpulse:job:42", GenerateKey("stockpulse", "job", "42"))
}

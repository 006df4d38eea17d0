package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCacheExpiry(t *testing.T) {
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	c := NewTTLCacheWithClock(func() time.Time { return now })

	c.Set("short", 1, time.Second)
	c.Set("forever", 2, 0)

	v, ok := c.Get("short")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(2 * time.Second)
	_, ok = c.Get("short")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len(), "expired entry removed on read")

	v, ok = c.Get("forever")
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

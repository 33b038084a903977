package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache(t *testing.T) {
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		c := New(Config{DefaultTTL: time.Minute, CleanupInterval: time.Minute, MaxItems: 10})
		defer c.Close()

		c.Set(ctx, "key", "value")
		got, ok := c.Get(ctx, "key")
		assert.True(t, ok)
		assert.Equal(t, "value", got)
	})

	t.Run("ExpiredItemIsMissing", func(t *testing.T) {
		c := New(Config{DefaultTTL: time.Minute, CleanupInterval: time.Minute, MaxItems: 10})
		defer c.Close()

		c.SetWithTTL(ctx, "key", "value", time.Nanosecond)
		time.Sleep(time.Millisecond)
		_, ok := c.Get(ctx, "key")
		assert.False(t, ok)
	})

	t.Run("DeleteRemovesItem", func(t *testing.T) {
		c := New(Config{DefaultTTL: time.Minute, CleanupInterval: time.Minute, MaxItems: 10})
		defer c.Close()

		c.Set(ctx, "key", "value")
		c.Delete(ctx, "key")
		_, ok := c.Get(ctx, "key")
		assert.False(t, ok)
	})

	t.Run("CapacityBounded", func(t *testing.T) {
		c := New(Config{DefaultTTL: time.Minute, CleanupInterval: time.Minute, MaxItems: 2})
		defer c.Close()

		c.Set(ctx, "a", 1)
		c.Set(ctx, "b", 2)
		c.Set(ctx, "c", 3)

		found := 0
		for _, key := range []string{"a", "b", "c"} {
			if _, ok := c.Get(ctx, key); ok {
				found++
			}
		}
		assert.Equal(t, 2, found)
	})

	t.Run("CloseIsIdempotent", func(t *testing.T) {
		c := New(Config{})
		c.Close()
		c.Close()
	})
}

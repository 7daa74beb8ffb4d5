package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCache_SetGet(t *testing.T) {
	c := New(16, time.Minute)

	c.Set("recall:ws1:q", []string{"mem_1"})
	got, ok := c.Get("recall:ws1:q")
	assert.True(t, ok)
	assert.Equal(t, []string{"mem_1"}, got)

	_, ok = c.Get("recall:ws2:q")
	assert.False(t, ok)
}

func TestTTLCache_ClearPrefix(t *testing.T) {
	c := New(16, time.Minute)

	c.Set("recall:ws1:a", 1)
	c.Set("recall:ws1:b", 2)
	c.Set("recall:ws2:a", 3)

	removed := c.ClearPrefix("recall:ws1:")
	assert.Equal(t, 2, removed)

	_, ok := c.Get("recall:ws1:a")
	assert.False(t, ok)
	_, ok = c.Get("recall:ws2:a")
	assert.True(t, ok)
}

func TestTTLCache_Expiry(t *testing.T) {
	c := New(16, 20*time.Millisecond)

	c.Set("k", "v")
	time.Sleep(50 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestTTLCache_Purge(t *testing.T) {
	c := New(16, time.Minute)
	c.Set("a", 1)
	c.Purge()

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.ClearPrefix(""))
}

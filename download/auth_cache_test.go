package download

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAuthCacheGetSet(t *testing.T) {
	t.Parallel()

	c := NewAuthCache(time.Minute)
	c.Set("example.com", "Bearer abc")

	v, ok := c.Get("example.com")
	require.True(t, ok)
	require.Equal(t, "Bearer abc", v)
}

func TestAuthCacheExpiry(t *testing.T) {
	t.Parallel()

	c := NewAuthCache(10 * time.Millisecond)
	c.Set("example.com", "Bearer abc")
	time.Sleep(30 * time.Millisecond)

	_, ok := c.Get("example.com")
	require.False(t, ok)
}

func TestAuthCacheLRUEviction(t *testing.T) {
	t.Parallel()

	c := NewAuthCacheWithSize(time.Minute, 2)
	c.Set("a.com", "1")
	c.Set("b.com", "2")
	c.Get("a.com") // promote a
	c.Set("c.com", "3")

	_, aOK := c.Get("a.com")
	_, bOK := c.Get("b.com")
	require.True(t, aOK)
	require.False(t, bOK, "least recently used entry should be evicted")
}

func TestAuthCacheInvalidate(t *testing.T) {
	t.Parallel()

	c := NewAuthCache(time.Minute)
	c.Set("example.com", "Bearer abc")
	c.Invalidate("example.com")

	_, ok := c.Get("example.com")
	require.False(t, ok)
}

package disk

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCacheWriteRead(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, c.Write("a", []byte("hello")))

	got, ok := c.Read("a")
	require.True(t, ok)
	require.Equal(t, []byte("hello"), got)

	require.FileExists(t, filepath.Join(dir, "a"))
}

func TestCacheWriteAtomicNoPartialFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, c.Write("k", []byte("content")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp file should remain after a successful write")
	require.Equal(t, "k", entries[0].Name())
}

func TestCacheReadMiss(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)

	_, ok := c.Read("missing")
	require.False(t, ok)
}

func TestCacheDeleteIdempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, c.Write("a", []byte("x")))
	require.NoError(t, c.Delete("a"))
	require.NoError(t, c.Delete("a")) // deleting twice is not an error

	_, ok := c.Read("a")
	require.False(t, ok)
}

func TestCacheOverlaySearchOrder(t *testing.T) {
	t.Parallel()

	primary := t.TempDir()
	overlay1 := t.TempDir()
	overlay2 := t.TempDir()

	c, err := New(primary)
	require.NoError(t, err)
	c.AddReadOnlyPath(overlay1)
	c.AddReadOnlyPath(overlay2)

	require.NoError(t, os.WriteFile(filepath.Join(overlay2, "shared"), []byte("from overlay2"), 0o600))

	data, ok := c.ReadWithOverlay("shared")
	require.True(t, ok)
	require.Equal(t, []byte("from overlay2"), data)

	// Primary still wins when present in both.
	require.NoError(t, os.WriteFile(filepath.Join(overlay1, "shared"), []byte("from overlay1"), 0o600))
	require.NoError(t, c.Write("shared", []byte("from primary")))

	data, ok = c.ReadWithOverlay("shared")
	require.True(t, ok)
	require.Equal(t, []byte("from primary"), data)
}

func TestCacheOverlayNeverWritten(t *testing.T) {
	t.Parallel()

	primary := t.TempDir()
	overlay := t.TempDir()

	c, err := New(primary)
	require.NoError(t, err)
	c.AddReadOnlyPath(overlay)

	require.NoError(t, c.Write("only-overlay-has-this", []byte("x")))
	entries, err := os.ReadDir(overlay)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestCacheClearAllPreservesOverlay(t *testing.T) {
	t.Parallel()

	primary := t.TempDir()
	overlay := t.TempDir()

	c, err := New(primary)
	require.NoError(t, err)
	c.AddReadOnlyPath(overlay)

	require.NoError(t, os.WriteFile(filepath.Join(overlay, "keep"), []byte("x"), 0o600))
	require.NoError(t, c.Write("gone", []byte("y")))

	require.NoError(t, c.ClearAll())

	_, ok := c.Read("gone")
	require.False(t, ok)
	_, ok = c.ReadWithOverlay("keep")
	require.True(t, ok)
}

func TestCleanAgeWindowPurge(t *testing.T) {
	// An older file is purged, a fresh one survives a maxAge window.
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, c.Write("old", []byte("x")))
	require.NoError(t, c.Write("fresh", []byte("y")))

	oldPath := filepath.Join(dir, "old")
	past := time.Now().Add(-2 * time.Second)
	require.NoError(t, os.Chtimes(oldPath, past, past))

	stats, err := c.Clean(time.Second, 0)
	require.NoError(t, err)
	require.Equal(t, 1, stats.AgeEvicted)

	_, ok := c.Read("old")
	require.False(t, ok)
	_, ok = c.Read("fresh")
	require.True(t, ok)
}

func TestCleanMaxAgeZeroMeansNow(t *testing.T) {
	// S5: max_cache_age = 0 is treated as a cutoff of "now", so every
	// existing file (whose mtime necessarily precedes the Clean call) is
	// evicted, not skipped.
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, c.Write("a", []byte("x")))
	require.NoError(t, c.Write("b", []byte("y")))

	stats, err := c.Clean(0, 0)
	require.NoError(t, err)
	require.Equal(t, 2, stats.AgeEvicted)

	_, ok := c.Read("a")
	require.False(t, ok)
	_, ok = c.Read("b")
	require.False(t, ok)
}

func TestCleanSizePurgeHysteresis(t *testing.T) {
	// Invariant 9: after Clean with maxSize = S > 0, total size <= S. The purge
	// algorithm itself drives down to S/2 to amortize future passes.
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)

	payload := make([]byte, 100)
	for i := 0; i < 5; i++ {
		name := string(rune('a' + i))
		require.NoError(t, c.Write(name, payload))
		// Ensure strictly increasing mtimes so ascending-mtime order is deterministic.
		path := filepath.Join(dir, name)
		mt := time.Now().Add(time.Duration(i) * time.Second)
		require.NoError(t, os.Chtimes(path, mt, mt))
	}

	stats, err := c.Clean(-1, 250)
	require.NoError(t, err)
	require.LessOrEqual(t, stats.BytesLeft, int64(250))

	size, err := c.Size()
	require.NoError(t, err)
	require.LessOrEqual(t, size, int64(250))

	// The oldest entries ("a", "b", ...) must be the ones evicted.
	_, ok := c.Read("a")
	require.False(t, ok)
}

func TestNewEmptyDir(t *testing.T) {
	t.Parallel()

	_, err := New("")
	require.Error(t, err)
}

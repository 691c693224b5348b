package cache

import (
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testEncoder/testDecoder implement a trivial, lossless raw-RGBA wire
// format so round-trip tests can compare images pixel-for-pixel.
func testEncoder(img image.Image) ([]byte, error) {
	b := img.Bounds()
	rgba := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			rgba.Set(x, y, img.At(x, y))
		}
	}
	out := make([]byte, 8+len(rgba.Pix))
	binary.BigEndian.PutUint32(out[0:4], uint32(b.Dx())) //nolint:gosec // test fixture, dims are tiny
	binary.BigEndian.PutUint32(out[4:8], uint32(b.Dy())) //nolint:gosec
	copy(out[8:], rgba.Pix)
	return out, nil
}

func testDecoder(data []byte) (image.Image, error) {
	w := int(binary.BigEndian.Uint32(data[0:4]))
	h := int(binary.BigEndian.Uint32(data[4:8]))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	copy(img.Pix, data[8:])
	return img, nil
}

func redPixel() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	return img
}

func imagesEqual(t *testing.T, a, b image.Image) {
	t.Helper()
	require.Equal(t, a.Bounds(), b.Bounds())
	bd := a.Bounds()
	for y := bd.Min.Y; y < bd.Max.Y; y++ {
		for x := bd.Min.X; x < bd.Max.X; x++ {
			require.Equal(t, a.At(x, y), b.At(x, y))
		}
	}
}

func newTestCache(t *testing.T, namespace string, opts ...Option) *ImageCache {
	t.Helper()
	base := []Option{
		WithDiskDir(t.TempDir()),
		WithDecoder(testDecoder),
		WithEncoder(testEncoder),
	}
	c, err := New(namespace, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func queryAndWait(t *testing.T, c *ImageCache, key Key) (image.Image, Source) {
	t.Helper()
	type result struct {
		img    image.Image
		source Source
	}
	results := make(chan result, 1)
	c.Query(context.Background(), key, func(img image.Image, source Source) {
		results <- result{img, source}
	})
	select {
	case r := <-results:
		return r.img, r.source
	case <-time.After(2 * time.Second):
		t.Fatal("query did not complete in time")
		return nil, SourceNone
	}
}

func TestStoreQueryRoundTripMemory(t *testing.T) {
	// S2/invariant 2: round-trip through memory.
	t.Parallel()

	c := newTestCache(t, "t")
	img := redPixel()
	require.NoError(t, c.Store("a", img, nil, false, false))

	got, source := queryAndWait(t, c, "a")
	require.Equal(t, SourceMemory, source)
	imagesEqual(t, img, got)
}

func TestStoreQueryRoundTripDisk(t *testing.T) {
	// Invariant 3: disk round-trip after clearing memory.
	t.Parallel()

	c := newTestCache(t, "t")
	img := redPixel()
	require.NoError(t, c.Store("a", img, nil, true, false))

	// Give the disk write a moment to land; Store is fire-and-forget.
	c.ioQueue.Submit(func() {})
	time.Sleep(50 * time.Millisecond)

	c.ClearMemory()

	got, source := queryAndWait(t, c, "a")
	require.Equal(t, SourceDisk, source)
	imagesEqual(t, img, got)
}

func TestStorePreservesRawDataVerbatim(t *testing.T) {
	// §9 ambiguity resolution: data present, recalculate=false -> persist verbatim.
	t.Parallel()

	c := newTestCache(t, "t")
	img := redPixel()
	raw := []byte("original-bytes-not-reencoded")
	require.NoError(t, c.Store("a", img, raw, true, false))

	c.ioQueue.Submit(func() {})
	time.Sleep(50 * time.Millisecond)

	data, ok := c.disk.ReadWithOverlay(Key("a").Digest().Encoded())
	require.True(t, ok)
	require.Equal(t, raw, data)
}

func TestNamespaceIsolation(t *testing.T) {
	// Invariant 4.
	t.Parallel()

	img := redPixel()
	a := newTestCache(t, "ns-a")
	b := newTestCache(t, "ns-b")

	require.NoError(t, a.Store("shared-key", img, nil, false, false))

	_, ok := b.ImageInMemory("shared-key")
	require.False(t, ok)
}

func TestCacheBoundsHoldAfterStores(t *testing.T) {
	// S1: max_memory_cost = 1, two 1x1 images stored; at most one survives
	// memory (under the default cost of 4 per 1x1 image, neither fits),
	// both exist on disk.
	t.Parallel()

	c := newTestCache(t, "t", WithMemoryLimits(1, 0))
	img := redPixel()

	require.NoError(t, c.Store("a", img, nil, true, false))
	require.NoError(t, c.Store("b", img, nil, true, false))
	c.ioQueue.Submit(func() {})
	time.Sleep(50 * time.Millisecond)

	_, aInMem := c.ImageInMemory("a")
	_, bInMem := c.ImageInMemory("b")
	require.True(t, aInMem != bInMem || (!aInMem && !bInMem), "at most one of the two should remain in memory")

	require.True(t, c.ExistsOnDisk("a"))
	require.True(t, c.ExistsOnDisk("b"))
}

func TestQueryCancelPreventsDelivery(t *testing.T) {
	// Invariant 12: no callback after cancel.
	t.Parallel()

	c := newTestCache(t, "t")
	require.NoError(t, c.Store("a", redPixel(), nil, true, false))
	c.ClearMemory()

	delivered := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	token := c.Query(ctx, "a", func(img image.Image, source Source) {
		delivered <- struct{}{}
	})
	_ = token
	cancel()

	select {
	case <-delivered:
		t.Fatal("callback fired after cancellation")
	case <-time.After(100 * time.Millisecond):
		// expected: nothing delivered
	}
}

func TestRemoveFromDisk(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, "t")
	require.NoError(t, c.Store("a", redPixel(), nil, true, false))
	c.ioQueue.Submit(func() {})
	time.Sleep(50 * time.Millisecond)
	require.True(t, c.ExistsOnDisk("a"))

	done := make(chan error, 1)
	c.Remove("a", true, func(err error) { done <- err })
	require.NoError(t, <-done)

	require.False(t, c.ExistsOnDisk("a"))
	_, inMem := c.ImageInMemory("a")
	require.False(t, inMem)
}

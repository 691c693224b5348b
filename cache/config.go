package cache

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
)

// Decoder materializes bytes downloaded or read from disk into an image.
// It is the injected codec port spec.md §1 describes.
type Decoder func(data []byte) (image.Image, error)

// Encoder re-encodes an image for disk storage when no raw bytes are
// available (or the caller asked to recalculate from the image).
type Encoder func(img image.Image) ([]byte, error)

// Config groups ImageCache construction parameters into one named struct,
// mirroring the original SDImageCacheConfig header (original_source/
// SDImageCache.h) rather than a long constructor parameter list.
type Config struct {
	// DiskDir overrides the derived on-disk directory. If empty, one is
	// derived as <platform caches dir>/com.hackemist.SDWebImageCache.<namespace>.
	DiskDir string

	// MaxMemoryCost bounds total in-memory cost (0 = unbounded).
	MaxMemoryCost int64
	// MaxMemoryCount bounds the number of in-memory entries (0 = unbounded).
	MaxMemoryCount int
	// MemoryDisabled skips the memory tier entirely; every Store/Query
	// goes straight to disk.
	MemoryDisabled bool
	// WeakMemoryCache, when true, keeps a one-shot shadow of recently
	// evicted memory entries so a request arriving immediately after
	// eviction can still be served without a disk round-trip. This is a
	// best-effort approximation of the header's shouldUseWeakMemoryCache;
	// Go has no weak-reference-to-arbitrary-object primitive pre-1.24
	// usable here.
	WeakMemoryCache bool

	// ShouldDecompressImages forces decoded images through a full blit
	// before they are cached in memory, so first on-screen paint is fast.
	ShouldDecompressImages bool

	Decoder  Decoder
	Encoder  Encoder
	CostFunc CostFunc

	Logger *slog.Logger
}

// Option configures an ImageCache at construction time.
type Option func(*Config)

// WithDiskDir overrides the derived on-disk cache directory.
func WithDiskDir(dir string) Option { return func(c *Config) { c.DiskDir = dir } }

// WithMemoryLimits sets the memory tier's cost and count bounds.
func WithMemoryLimits(maxCost int64, maxCount int) Option {
	return func(c *Config) {
		c.MaxMemoryCost = maxCost
		c.MaxMemoryCount = maxCount
	}
}

// WithMemoryDisabled skips the memory tier entirely.
func WithMemoryDisabled() Option { return func(c *Config) { c.MemoryDisabled = true } }

// WithWeakMemoryCache enables the one-shot recently-evicted shadow map.
func WithWeakMemoryCache() Option { return func(c *Config) { c.WeakMemoryCache = true } }

// WithShouldDecompressImages forces a full blit before memory caching.
func WithShouldDecompressImages(v bool) Option {
	return func(c *Config) { c.ShouldDecompressImages = v }
}

// WithDecoder sets the image decode port.
func WithDecoder(d Decoder) Option { return func(c *Config) { c.Decoder = d } }

// WithEncoder sets the image re-encode port, used when raw bytes are
// unavailable or recalculation from the image was requested.
func WithEncoder(e Encoder) Option { return func(c *Config) { c.Encoder = e } }

// WithCostFunc overrides the default cost function (pixel count times 4
// bytes/pixel).
func WithCostFunc(f CostFunc) Option { return func(c *Config) { c.CostFunc = f } }

// WithLogger sets the logger used for non-fatal warnings (disk full,
// decode failures during background purge, etc).
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

func defaultDiskDir(namespace string) (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("cache: resolve platform caches dir: %w", err)
	}
	return filepath.Join(base, "com.hackemist.SDWebImageCache."+namespace), nil
}

var errEmptyNamespace = errors.New("cache: namespace is empty")

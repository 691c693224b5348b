package cache

import (
	"context"
	"image"
	"image/draw"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/meigma/imagefetch/cache/disk"
	"github.com/meigma/imagefetch/internal/executor"
)

// ImageCache is the two-tier image cache described in spec.md §4.A: an
// in-memory, cost-bounded map in front of an on-disk, age/size-bounded
// directory. Disk reads and writes run on a dedicated serial queue so
// callers never block on disk.
type ImageCache struct {
	namespace string
	cfg       Config

	memory *memoryCache
	weak   *weakCache
	disk   *disk.Cache

	ioQueue       *executor.Serial
	deliveryQueue *executor.Serial
}

// New constructs an ImageCache for namespace. Creation is idempotent:
// calling New twice with the same namespace and disk dir just reopens the
// same directory.
func New(namespace string, opts ...Option) (*ImageCache, error) {
	if namespace == "" {
		return nil, errEmptyNamespace
	}

	cfg := Config{
		Logger:   slog.Default(),
		CostFunc: DefaultCostFunc,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	dir := cfg.DiskDir
	if dir == "" {
		d, err := defaultDiskDir(namespace)
		if err != nil {
			return nil, err
		}
		dir = d
	}

	diskCache, err := disk.New(dir, disk.WithLogger(cfg.Logger))
	if err != nil {
		return nil, err
	}

	c := &ImageCache{
		namespace:     namespace,
		cfg:           cfg,
		disk:          diskCache,
		ioQueue:       executor.NewSerial(64),
		deliveryQueue: executor.NewSerial(64),
	}
	if !cfg.MemoryDisabled {
		c.memory = newMemoryCache(cfg.MaxMemoryCost, cfg.MaxMemoryCount)
	}
	if cfg.WeakMemoryCache {
		c.weak = newWeakCache()
	}
	return c, nil
}

// Namespace returns the cache's namespace.
func (c *ImageCache) Namespace() string { return c.namespace }

// DefaultCachePathForKey returns the on-disk path an entry for key would
// use, without touching the filesystem.
func (c *ImageCache) DefaultCachePathForKey(key Key) string {
	return filepath.Join(c.disk.Dir(), key.Digest().Encoded())
}

// AddReadOnlyPath registers dir as an additional, never-written,
// never-purged directory searched on disk misses.
func (c *ImageCache) AddReadOnlyPath(dir string) {
	c.disk.AddReadOnlyPath(dir)
}

// cost computes the cost to charge img, honoring a CostFunc override.
func (c *ImageCache) cost(img image.Image) int64 {
	if c.cfg.CostFunc != nil {
		return c.cfg.CostFunc(img)
	}
	return DefaultCostFunc(img)
}

// decompress forces pixel materialization via a full-image blit so the
// first on-screen render is fast. It runs on the I/O queue for Query's
// disk path and on the calling goroutine for Store; the cache never
// runs it on the delivery queue.
func (c *ImageCache) decompress(img image.Image) image.Image {
	if !c.cfg.ShouldDecompressImages || img == nil {
		return img
	}
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)
	return dst
}

// Store inserts img into memory (unless the memory tier is disabled) and,
// if alsoToDisk, schedules a disk write on the I/O queue. Store never
// blocks on disk.
//
// When data is non-nil and recalculate is false, data is persisted
// verbatim, preserving the original encoding and saving CPU. When data is
// nil, or recalculate is true, the image is re-encoded via Config.Encoder.
func (c *ImageCache) Store(key Key, img image.Image, data []byte, alsoToDisk, recalculate bool) error {
	if img == nil {
		return nil
	}
	materialized := c.decompress(img)

	if c.memory != nil {
		c.memory.set(key, materialized, c.cost(materialized))
	}
	if c.weak != nil {
		c.weak.shadow(key, materialized)
	}

	if !alsoToDisk {
		return nil
	}

	payload := data
	if payload == nil || recalculate {
		if c.cfg.Encoder == nil {
			c.cfg.Logger.Warn("cache: no encoder configured, skipping disk write", "key", string(key))
			return nil
		}
		encoded, err := c.cfg.Encoder(img)
		if err != nil {
			c.cfg.Logger.Warn("cache: encode for disk store failed", "key", string(key), "error", err)
			return nil
		}
		payload = encoded
	}

	name := key.Digest().Encoded()
	c.ioQueue.Submit(func() {
		if err := c.disk.Write(name, payload); err != nil {
			c.cfg.Logger.Warn("cache: disk write failed", "key", string(key), "bytes", humanize.Bytes(uint64(len(payload))), "error", err)
		}
	})
	return nil
}

// Query looks up key, checking memory synchronously and falling back to
// an asynchronous disk read. cb is invoked on the delivery queue exactly
// once, unless the returned token is cancelled before delivery.
func (c *ImageCache) Query(ctx context.Context, key Key, cb QueryFunc) *QueryToken {
	qctx, cancel := context.WithCancel(ctx)
	token := &QueryToken{cancel: cancel}

	if c.memory != nil {
		if img, ok := c.memory.get(key); ok {
			c.deliverIfLive(qctx, func() { cb(img, SourceMemory) })
			return token
		}
	}
	if c.weak != nil {
		if img, ok := c.weak.take(key); ok {
			if c.memory != nil {
				c.memory.set(key, img, c.cost(img))
			}
			c.deliverIfLive(qctx, func() { cb(img, SourceMemory) })
			return token
		}
	}

	name := key.Digest().Encoded()
	c.ioQueue.Submit(func() {
		if qctx.Err() != nil {
			return
		}
		data, ok := c.disk.ReadWithOverlay(name)
		if !ok {
			c.deliverIfLive(qctx, func() { cb(nil, SourceNone) })
			return
		}
		if qctx.Err() != nil {
			return
		}
		if c.cfg.Decoder == nil {
			c.deliverIfLive(qctx, func() { cb(nil, SourceNone) })
			return
		}
		img, err := c.cfg.Decoder(data)
		if err != nil {
			c.cfg.Logger.Debug("cache: disk entry failed to decode", "key", string(key), "error", err)
			c.deliverIfLive(qctx, func() { cb(nil, SourceNone) })
			return
		}
		img = c.decompress(img)
		if c.memory != nil {
			c.memory.set(key, img, c.cost(img))
		}
		c.deliverIfLive(qctx, func() { cb(img, SourceDisk) })
	})
	return token
}

// deliverIfLive schedules fn on the delivery queue, skipping it if ctx
// was cancelled first. The check happens both at submission and again
// immediately before invocation, since cancellation can race the queue.
func (c *ImageCache) deliverIfLive(ctx context.Context, fn func()) {
	if ctx.Err() != nil {
		return
	}
	c.deliveryQueue.Submit(func() {
		if ctx.Err() != nil {
			return
		}
		fn()
	})
}

// ImageInMemory returns the memory-tier image for key, if any. Synchronous.
func (c *ImageCache) ImageInMemory(key Key) (image.Image, bool) {
	if c.memory == nil {
		return nil, false
	}
	return c.memory.get(key)
}

// ImageOnDisk synchronously searches the primary directory then the
// read-only overlays, for callers willing to block.
func (c *ImageCache) ImageOnDisk(key Key) (image.Image, bool) {
	data, ok := c.disk.ReadWithOverlay(key.Digest().Encoded())
	if !ok || c.cfg.Decoder == nil {
		return nil, false
	}
	img, err := c.cfg.Decoder(data)
	if err != nil {
		return nil, false
	}
	return img, true
}

// Remove drops key from memory immediately; if fromDisk, the disk entry
// is removed on the I/O queue and onDone (if non-nil) is invoked with the
// result once that completes.
func (c *ImageCache) Remove(key Key, fromDisk bool, onDone func(error)) {
	if c.memory != nil {
		c.memory.remove(key)
	}
	if c.weak != nil {
		c.weak.take(key)
	}
	if !fromDisk {
		if onDone != nil {
			c.deliveryQueue.Submit(func() { onDone(nil) })
		}
		return
	}
	name := key.Digest().Encoded()
	c.ioQueue.Submit(func() {
		err := c.disk.Delete(name)
		if onDone != nil {
			c.deliveryQueue.Submit(func() { onDone(err) })
		}
	})
}

// ClearMemory drops every in-memory (and weak-shadow) entry.
func (c *ImageCache) ClearMemory() {
	if c.memory != nil {
		c.memory.clear()
	}
	if c.weak != nil {
		c.weak.sweep()
	}
}

// OnMemoryWarning responds to a platform memory-pressure signal by
// clearing the entire memory map, per spec.md §3.
func (c *ImageCache) OnMemoryWarning() {
	c.ClearMemory()
}

// ClearDisk removes and recreates the primary disk directory. Overlay
// paths are untouched. Runs on the I/O queue; returns immediately.
func (c *ImageCache) ClearDisk(onDone func(error)) {
	c.ioQueue.Submit(func() {
		err := c.disk.ClearAll()
		if onDone != nil {
			c.deliveryQueue.Submit(func() { onDone(err) })
		}
	})
}

// CleanDisk runs the two-pass age/size purge from spec.md §4.A. Runs on
// the I/O queue; returns immediately.
func (c *ImageCache) CleanDisk(maxAge time.Duration, maxSize int64, onDone func(disk.CleanStats, error)) {
	c.ioQueue.Submit(func() {
		stats, err := c.disk.Clean(maxAge, maxSize)
		if err != nil {
			c.cfg.Logger.Warn("cache: clean disk failed", "error", err)
		} else if stats.AgeEvicted > 0 || stats.SizeEvicted > 0 {
			c.cfg.Logger.Info("cache: disk cleaned",
				"namespace", c.namespace,
				"age_evicted", stats.AgeEvicted,
				"size_evicted", stats.SizeEvicted,
				"bytes_freed", humanize.Bytes(uint64(stats.BytesFreed)),
				"bytes_left", humanize.Bytes(uint64(stats.BytesLeft)),
			)
		}
		if onDone != nil {
			c.deliveryQueue.Submit(func() { onDone(stats, err) })
		}
	})
}

// Size returns the current on-disk size in bytes. It walks the primary
// directory on the calling goroutine and does not wait for disk writes
// still queued on the I/O queue. For the non-blocking form, see
// CalculateSize.
func (c *ImageCache) Size() (int64, error) {
	return c.disk.Size()
}

// Count returns the current number of on-disk entries.
func (c *ImageCache) Count() (int, error) {
	return c.disk.Count()
}

// CalculateSize computes size and count asynchronously on the I/O queue
// and delivers the result on the delivery queue. The two directory
// walks are independent, so they run concurrently via errgroup rather
// than one after the other.
func (c *ImageCache) CalculateSize(cb func(count int, size int64)) {
	c.ioQueue.Submit(func() {
		var size int64
		var count int
		var g errgroup.Group
		g.Go(func() error {
			s, err := c.disk.Size()
			size = s
			return err
		})
		g.Go(func() error {
			n, err := c.disk.Count()
			count = n
			return err
		})
		if err := g.Wait(); err != nil {
			c.cfg.Logger.Debug("cache: calculate size failed", "error", err)
		}
		if cb != nil {
			c.deliveryQueue.Submit(func() { cb(count, size) })
		}
	})
}

// ExistsOnDisk synchronously checks whether key has a disk entry, in the
// primary directory or an overlay.
func (c *ImageCache) ExistsOnDisk(key Key) bool {
	return c.disk.Exists(key.Digest().Encoded())
}

// ExistsOnDiskAsync is the non-blocking form of ExistsOnDisk.
func (c *ImageCache) ExistsOnDiskAsync(key Key, cb func(bool)) {
	c.ioQueue.Submit(func() {
		exists := c.disk.Exists(key.Digest().Encoded())
		if cb != nil {
			c.deliveryQueue.Submit(func() { cb(exists) })
		}
	})
}

// Close stops the cache's background queues, waiting for queued work to
// drain. An ImageCache is not usable after Close.
func (c *ImageCache) Close() {
	c.ioQueue.Close()
	c.deliveryQueue.Close()
}

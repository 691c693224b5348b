// Package disk provides the on-disk tier of the image cache: a flat
// directory of content files named by digest, written atomically
// (temp file + rename) and aged by file mtime.
package disk

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

const defaultDirPerm = 0o750

// Cache is a directory-backed store keyed by an already-hashed name.
// It owns exactly one directory ("primary"); read-only paths may be added
// for fallback lookups but are never written to or purged.
type Cache struct {
	dir     string
	dirPerm os.FileMode
	logger  *slog.Logger

	overlays []string
}

// Option configures a Cache.
type Option func(*Cache)

// WithDirPerm sets the permission bits used when creating the cache
// directory. Defaults to 0750.
func WithDirPerm(mode os.FileMode) Option {
	return func(c *Cache) { c.dirPerm = mode }
}

// WithLogger sets the logger used for non-fatal disk I/O warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a disk cache rooted at dir, creating it if missing.
// Creation is idempotent.
func New(dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("disk: cache dir is empty")
	}
	c := &Cache{
		dir:     dir,
		dirPerm: defaultDirPerm,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := os.MkdirAll(c.dir, c.dirPerm); err != nil {
		return nil, fmt.Errorf("disk: create cache dir: %w", err)
	}
	return c, nil
}

// Dir returns the primary (writable) cache directory.
func (c *Cache) Dir() string { return c.dir }

// AddReadOnlyPath registers an additional directory searched on misses.
// It is never written to or purged.
func (c *Cache) AddReadOnlyPath(dir string) {
	if dir == "" {
		return
	}
	c.overlays = append(c.overlays, dir)
}

// Read returns the content for name from the primary directory only, and
// touches its mtime (the last-access timestamp that drives age-based
// purge). Use ReadWithOverlay to also search read-only overlays.
func (c *Cache) Read(name string) ([]byte, bool) {
	return c.readFrom(c.dir, name, true)
}

// ReadWithOverlay searches the primary directory, then each overlay in
// registration order. Overlay hits are never mtime-touched: overlays are
// never purged, so there is nothing for the touch to drive.
func (c *Cache) ReadWithOverlay(name string) ([]byte, bool) {
	if data, ok := c.readFrom(c.dir, name, true); ok {
		return data, true
	}
	for _, dir := range c.overlays {
		if data, ok := c.readFrom(dir, name, false); ok {
			return data, true
		}
	}
	return nil, false
}

func (c *Cache) readFrom(dir, name string, touch bool) ([]byte, bool) {
	path := pathFor(dir, name)
	data, err := os.ReadFile(path) //nolint:gosec // name is a content digest, not user input
	if err != nil {
		return nil, false
	}
	if touch {
		now := time.Now()
		if err := os.Chtimes(path, now, now); err != nil {
			c.logger.Debug("disk: failed to touch mtime on read", "path", path, "error", err)
		}
	}
	return data, true
}

// Write stores data under name atomically (temp file + rename): a write
// never leaves a partial file visible under the final name.
func (c *Cache) Write(name string, data []byte) error {
	path := pathFor(c.dir, name)
	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("disk: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("disk: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("disk: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("disk: rename into place: %w", err)
	}
	return nil
}

// Delete removes name from the primary directory. Deleting an absent
// entry is not an error.
func (c *Cache) Delete(name string) error {
	path := pathFor(c.dir, name)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("disk: delete: %w", err)
	}
	return nil
}

// Exists reports whether name is present in the primary directory or any
// overlay, without reading its content.
func (c *Cache) Exists(name string) bool {
	if _, err := os.Stat(pathFor(c.dir, name)); err == nil {
		return true
	}
	for _, dir := range c.overlays {
		if _, err := os.Stat(pathFor(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// ClearAll removes the primary directory and recreates it empty. Overlay
// paths are untouched.
func (c *Cache) ClearAll() error {
	if err := os.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("disk: clear: %w", err)
	}
	if err := os.MkdirAll(c.dir, c.dirPerm); err != nil {
		return fmt.Errorf("disk: recreate cache dir: %w", err)
	}
	return nil
}

// Size returns the total size in bytes of the primary directory's content.
func (c *Cache) Size() (int64, error) {
	return dirSize(c.dir)
}

// Count returns the number of entries in the primary directory.
func (c *Cache) Count() (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}
	return n, nil
}

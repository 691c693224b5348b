package cache

import (
	"image"
	"sync"
)

// weakCache is a best-effort, single-shot shadow of recently evicted
// memory entries. Unlike memoryCache it enforces no bound of its own:
// every entry is consumed (read once, then dropped) or cleared wholesale
// on the next sweep, approximating a weak reference that the garbage
// collector may reclaim at any time. See Config.WeakMemoryCache.
type weakCache struct {
	mu      sync.Mutex
	entries map[Key]image.Image
}

func newWeakCache() *weakCache {
	return &weakCache{entries: make(map[Key]image.Image)}
}

// shadow records img as a one-more-chance fallback for key.
func (w *weakCache) shadow(key Key, img image.Image) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries[key] = img
}

// take returns and consumes the shadowed image for key, if any. A second
// call for the same key returns false, matching "serve it once more" weak
// reference semantics.
func (w *weakCache) take(key Key) (image.Image, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	img, ok := w.entries[key]
	if ok {
		delete(w.entries, key)
	}
	return img, ok
}

// sweep drops every shadow entry, simulating the GC reclaiming weakly
// referenced images between sweeps.
func (w *weakCache) sweep() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = make(map[Key]image.Image)
}

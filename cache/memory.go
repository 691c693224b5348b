package cache

import (
	"container/list"
	"image"
	"sync"
)

// CostFunc computes the resource cost of caching img. The default is
// pixel count times 4 bytes/pixel; callers may override it per cache
// via WithCostFunc.
type CostFunc func(img image.Image) int64

// DefaultCostFunc is used when no CostFunc override is supplied.
func DefaultCostFunc(img image.Image) int64 {
	if img == nil {
		return 0
	}
	b := img.Bounds()
	return int64(b.Dx()) * int64(b.Dy()) * 4
}

// memoryEntry is one in-memory cache slot.
type memoryEntry struct {
	key   Key
	image image.Image
	cost  int64
}

// memoryCache is a cost-and-count-bounded, approximate-LRU map. It is
// structured like the teacher's registry/oras auth header cache
// (container/list ordering + a map of elements guarded by one mutex),
// generalized from TTL expiry to dual cost/count bounds and from a
// single string value to an (image, cost) pair.
type memoryCache struct {
	mu sync.Mutex

	maxCost  int64
	maxCount int

	totalCost int64
	entries   map[Key]*list.Element
	order     *list.List // front = most recently used
}

func newMemoryCache(maxCost int64, maxCount int) *memoryCache {
	return &memoryCache{
		maxCost:  maxCost,
		maxCount: maxCount,
		entries:  make(map[Key]*list.Element),
		order:    list.New(),
	}
}

// get returns the cached image for key, promoting it to most-recently-used.
func (m *memoryCache) get(key Key) (image.Image, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	m.order.MoveToFront(elem)
	return elem.Value.(*memoryEntry).image, true //nolint:errcheck // type is guaranteed by set
}

// set inserts or replaces key, then evicts approximate-LRU entries until
// both the cost and count bounds hold. Eviction is O(1) amortized.
func (m *memoryCache) set(key Key, img image.Image, cost int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.entries[key]; ok {
		old := elem.Value.(*memoryEntry) //nolint:errcheck // type is guaranteed
		m.totalCost += cost - old.cost
		old.image = img
		old.cost = cost
		m.order.MoveToFront(elem)
	} else {
		entry := &memoryEntry{key: key, image: img, cost: cost}
		elem := m.order.PushFront(entry)
		m.entries[key] = elem
		m.totalCost += cost
	}

	m.evictLocked()
}

// remove drops key if present.
func (m *memoryCache) remove(key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.entries[key]; ok {
		m.removeElemLocked(elem)
	}
}

// clear drops every entry, used both for explicit ClearMemory and for
// platform memory-pressure notifications.
func (m *memoryCache) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[Key]*list.Element)
	m.order.Init()
	m.totalCost = 0
}

func (m *memoryCache) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

func (m *memoryCache) cost() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalCost
}

// evictLocked removes least-recently-used entries until both bounds hold.
// Caller must hold m.mu. Invariant: bounds hold after every insert/remove;
// transient overshoot during this single call is never externally visible
// because callers only observe state after set/remove returns.
func (m *memoryCache) evictLocked() {
	for (m.maxCost > 0 && m.totalCost > m.maxCost) || (m.maxCount > 0 && m.order.Len() > m.maxCount) {
		oldest := m.order.Back()
		if oldest == nil {
			break
		}
		m.removeElemLocked(oldest)
	}
}

func (m *memoryCache) removeElemLocked(elem *list.Element) {
	entry := elem.Value.(*memoryEntry) //nolint:errcheck // type is guaranteed
	m.order.Remove(elem)
	delete(m.entries, entry.key)
	m.totalCost -= entry.cost
}

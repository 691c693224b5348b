package imagefetch

import (
	"sync"
	"time"
)

const defaultBlacklistThreshold = 1

// blacklist tracks consecutive-failure counts per URL so repeatedly
// broken URLs stop generating network traffic. The original SDWebImage
// manager tracks this as a permanent "failed URLs" set with no
// expiration or threshold; this enrichment adds both a threshold (how
// many recorded failures it takes before a URL is refused, 1 by
// default) and a TTL (so a URL gets retried eventually without an
// explicit RetryFailed call).
type blacklist struct {
	mu        sync.Mutex
	threshold int
	ttl       time.Duration
	entries   map[string]*blacklistEntry
}

type blacklistEntry struct {
	failures int
	until    time.Time // zero once failures < threshold
}

func newBlacklist(threshold int) *blacklist {
	if threshold <= 0 {
		threshold = defaultBlacklistThreshold
	}
	return &blacklist{
		threshold: threshold,
		ttl:       10 * time.Minute,
		entries:   make(map[string]*blacklistEntry),
	}
}

// isBlacklisted reports whether url should be refused without a
// network attempt right now.
func (b *blacklist) isBlacklisted(url string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[url]
	if !ok {
		return false
	}
	if e.failures < b.threshold {
		return false
	}
	if time.Now().After(e.until) {
		delete(b.entries, url)
		return false
	}
	return true
}

// recordFailure increments url's failure count, starting a TTL once
// the threshold is reached.
func (b *blacklist) recordFailure(url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[url]
	if !ok {
		e = &blacklistEntry{}
		b.entries[url] = e
	}
	e.failures++
	if e.failures >= b.threshold {
		e.until = time.Now().Add(b.ttl)
	}
}

// recordSuccess clears any failure history for url.
func (b *blacklist) recordSuccess(url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, url)
}

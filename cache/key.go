package cache

import (
	"net/url"

	digest "github.com/opencontainers/go-digest"
)

// Key is a stable, opaque identifier for a cached entry. Two URLs that
// produce the same Key are indistinguishable to the cache.
type Key string

// KeyFilter derives a cache Key from a URL. When nil, KeyForURL uses the
// URL's absolute string.
type KeyFilter func(u *url.URL) string

// KeyForURL derives the cache Key for u, applying filter if non-nil.
func KeyForURL(u *url.URL, filter KeyFilter) Key {
	if filter != nil {
		return Key(filter(u))
	}
	return Key(u.String())
}

// Digest returns the SHA-256 digest of k, used as the on-disk file name.
// Collisions are treated as impossible, matching spec.md's key->path model.
func (k Key) Digest() digest.Digest {
	return digest.FromString(string(k))
}

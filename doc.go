// Package imagefetch composes a two-tier image cache (package cache)
// and a coalescing, bounded-concurrency downloader (package download)
// behind a single Manager: ask for an image by URL, and Manager checks
// cache, falls back to the network, and stores the result back into
// cache for next time.
package imagefetch

// Package cache implements the two-tier image cache: an in-memory,
// cost-bounded store backed by an on-disk, age/size-bounded store.
//
// Keys are opaque, stable byte strings derived from a URL (see KeyForURL).
// A Query first checks memory synchronously, then falls back to disk
// asynchronously; a Store updates memory (unless the memory tier is
// disabled) and optionally schedules
// a disk write on a dedicated, serial I/O queue so callers never block on
// disk.
package cache

// Package download implements a bounded-concurrency, coalescing image
// downloader: concurrent requests for the same URL share one in-flight
// fetch, callers can be individually cancelled without aborting the
// others, and pending work is scheduled by priority then by a
// configurable FIFO/LIFO discharge order.
package download

package download

import (
	"image"
	"log/slog"
	"time"
)

// Options is a bitset of per-request download behaviors, set on each
// call to Downloader.Download.
type Options uint32

const (
	// LowPriority schedules the request behind all normal-priority work.
	LowPriority Options = 1 << iota
	// HighPriority schedules the request ahead of normal-priority work.
	HighPriority
	// ProgressiveDownload delivers partially-decoded images as bytes
	// arrive, instead of only once the response is complete.
	ProgressiveDownload
	// UseHTTPCache marks a request that may be answered from an HTTP
	// cache. The Fetcher receives only the URL and headers, never
	// Options, and HTTPFetcher keeps no HTTP cache, so the flag does not
	// change the transfer.
	UseHTTPCache
	// IgnoreCachedResponse marks a request that must not be answered
	// from an HTTP cache. It is not passed to the Fetcher; it only keeps
	// the request from coalescing with an in-flight download whose
	// setting of this flag differs.
	IgnoreCachedResponse
	// ContinueInBackground marks a request that should keep running
	// across a process suspend. The Downloader does not consult
	// BackgroundContinuer, so the flag does not change the transfer.
	ContinueInBackground
	// HandleCookies marks a request that may send and store cookies. It
	// is not passed to the Fetcher, so cookie handling is whatever the
	// Fetcher's client does for every request; the flag only keeps the
	// request from coalescing with an in-flight download whose setting
	// of this flag differs.
	HandleCookies
	// AllowInvalidSSLCertificates marks a request that may skip TLS
	// certificate verification. It is not passed to the Fetcher, so
	// HTTPFetcher verifies certificates as its Client does; the flag
	// only keeps the request from coalescing with an in-flight download
	// whose setting of this flag differs.
	AllowInvalidSSLCertificates
)

// Priority is the three-level scheduling class derived from Options.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// Priority derives the scheduling class implied by o. HighPriority wins
// over LowPriority if, unusually, both bits are set.
func (o Options) Priority() Priority {
	switch {
	case o&HighPriority != 0:
		return PriorityHigh
	case o&LowPriority != 0:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

func (o Options) has(flag Options) bool { return o&flag != 0 }

// Order controls how same-priority jobs are discharged from the queue.
type Order int

const (
	// FIFO discharges jobs in submission order (default).
	FIFO Order = iota
	// LIFO discharges the most recently submitted job first, useful for
	// UIs where the most recently visible item matters most (e.g. fast
	// scrolling through a list of thumbnails).
	LIFO
)

// ProgressFunc reports incremental bytes received during a download.
// expectedBytes is -1 when the response carried no Content-Length.
type ProgressFunc func(receivedBytes, expectedBytes int64)

// Decoder turns downloaded bytes into an image. Mirrors cache.Decoder's
// shape; kept as a distinct type so this package has no import-time
// dependency on cache.
type Decoder func(data []byte) (image.Image, error)

// CompletedFunc receives the outcome of a download. finished is false
// for an intermediate progressive-decode delivery and true for the
// final delivery (successful or not). img is nil on error, or when no
// Decoder is configured. A non-final progressive delivery is made only
// when a partial payload decodes, so its img is never nil.
type CompletedFunc func(img image.Image, data []byte, err error, finished bool)

// Config configures a Downloader for its lifetime.
type Config struct {
	// MaxConcurrentDownloads bounds how many requests run at once.
	// Defaults to 6, mirroring typical per-host browser connection
	// limits.
	MaxConcurrentDownloads int
	// Order is the discharge order for same-priority jobs.
	Order Order
	// Timeout bounds a single request's total duration. Zero means no
	// timeout beyond ctx.
	Timeout time.Duration
	// Headers are sent with every request, overridable per-call via
	// HeadersFilter.
	Headers map[string]string
	// HeadersFilter, if set, is consulted per-request and may add,
	// remove, or rewrite headers before the request is sent.
	HeadersFilter func(url string, headers map[string]string) map[string]string
	// Fetcher performs the actual network transfer. Defaults to
	// NewHTTPFetcher(http.DefaultClient).
	Fetcher Fetcher
	// Decoder decodes a completed response body into an image. Required
	// for CompletedFunc to receive a non-nil image.
	Decoder Decoder
	// AuthCache supplies per-origin credentials attached to outgoing
	// requests, grounded on the auth-header caching pattern in
	// auth_cache.go. Optional.
	AuthCache *AuthCache
	// Metrics, if set, is updated with request/coalesce/failure/byte
	// counters as downloads run.
	Metrics *Metrics
	// Logger receives diagnostic output. Defaults to slog.Default().
	Logger *slog.Logger
}

// ConfigOption configures a Downloader at construction time.
type ConfigOption func(*Config)

// WithMaxConcurrentDownloads overrides the default concurrency bound.
func WithMaxConcurrentDownloads(n int) ConfigOption {
	return func(c *Config) { c.MaxConcurrentDownloads = n }
}

// WithOrder sets the initial discharge order.
func WithOrder(o Order) ConfigOption {
	return func(c *Config) { c.Order = o }
}

// WithTimeout bounds each individual download's duration.
func WithTimeout(d time.Duration) ConfigOption {
	return func(c *Config) { c.Timeout = d }
}

// WithHeaders sets headers sent with every request.
func WithHeaders(h map[string]string) ConfigOption {
	return func(c *Config) { c.Headers = h }
}

// WithHeadersFilter installs a per-request header rewrite hook.
func WithHeadersFilter(f func(url string, headers map[string]string) map[string]string) ConfigOption {
	return func(c *Config) { c.HeadersFilter = f }
}

// WithFetcher overrides the default HTTPFetcher, e.g. for tests.
func WithFetcher(f Fetcher) ConfigOption {
	return func(c *Config) { c.Fetcher = f }
}

// WithDecoder installs the byte-to-image decoder.
func WithDecoder(d Decoder) ConfigOption {
	return func(c *Config) { c.Decoder = d }
}

// WithAuthCache attaches a shared AuthCache.
func WithAuthCache(a *AuthCache) ConfigOption {
	return func(c *Config) { c.AuthCache = a }
}

// WithMetrics attaches Prometheus instrumentation. The caller is
// responsible for registering m.Collectors() with a registerer.
func WithMetrics(m *Metrics) ConfigOption {
	return func(c *Config) { c.Metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) ConfigOption {
	return func(c *Config) { c.Logger = l }
}

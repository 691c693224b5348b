package imagefetch

import (
	"image"
	"log/slog"

	"github.com/meigma/imagefetch/cache"
	"github.com/meigma/imagefetch/download"
)

// Options is a bitset of per-request behaviors for DownloadImage,
// mirroring the flags of download.Options plus cache-policy and
// UI-layer flags.
type Options uint32

const (
	// RetryFailed bypasses the blacklist for this one request, giving a
	// previously-failed URL another chance.
	RetryFailed Options = 1 << iota
	// LowPriority schedules behind normal-priority downloads.
	LowPriority
	// CacheMemoryOnly skips the disk write: the fetched result is cached
	// in memory only. The cache lookup before the fetch still consults
	// the disk tier.
	CacheMemoryOnly
	// ProgressiveDownload delivers partially-decoded images as bytes
	// arrive.
	ProgressiveDownload
	// RefreshCached re-fetches from the network even if a cached copy
	// exists, replacing it if the two differ.
	RefreshCached
	// ContinueInBackground is passed on as download.ContinueInBackground,
	// which does not change how the transfer runs.
	ContinueInBackground
	// HandleCookies is passed on as download.HandleCookies; the Fetcher
	// does not see it.
	HandleCookies
	// AllowInvalidSSLCertificates is passed on as
	// download.AllowInvalidSSLCertificates; the Fetcher does not see it,
	// so TLS verification is not changed.
	AllowInvalidSSLCertificates
	// HighPriority schedules ahead of normal-priority downloads.
	HighPriority
	// DelayPlaceholder is accepted and ignored: it governs how a caller's
	// UI layer sequences showing a placeholder image, which is out of
	// scope for this package. Kept so callers porting an existing option
	// bitmask don't hit a compile error for a flag this package cannot
	// act on.
	DelayPlaceholder
	// TransformAnimatedImage permits a configured Config.Transformer to
	// run on animated (multi-frame) images; by default transformers only
	// apply to static images.
	TransformAnimatedImage
	// AvoidAutoSetImage is accepted and ignored, for the same reason as
	// DelayPlaceholder: it is a UI-binding concern.
	AvoidAutoSetImage
)

func (o Options) has(flag Options) bool { return o&flag != 0 }

func (o Options) toDownloadOptions() download.Options {
	var d download.Options
	if o.has(LowPriority) {
		d |= download.LowPriority
	}
	if o.has(HighPriority) {
		d |= download.HighPriority
	}
	if o.has(ProgressiveDownload) {
		d |= download.ProgressiveDownload
	}
	if !o.has(RefreshCached) {
		d |= download.UseHTTPCache
	} else {
		d |= download.IgnoreCachedResponse
	}
	if o.has(ContinueInBackground) {
		d |= download.ContinueInBackground
	}
	if o.has(HandleCookies) {
		d |= download.HandleCookies
	}
	if o.has(AllowInvalidSSLCertificates) {
		d |= download.AllowInvalidSSLCertificates
	}
	return d
}

// Transformer post-processes a decoded image before it is stored and
// delivered, e.g. resizing or format conversion.
type Transformer func(img image.Image) (image.Image, error)

// KeyFilter derives a cache key from a URL, e.g. to strip query
// parameters that don't affect the fetched content.
type KeyFilter = cache.KeyFilter

// Config configures a Manager for its lifetime.
type Config struct {
	Cache      *cache.ImageCache
	Downloader *download.Downloader
	KeyFilter  KeyFilter
	Transformer Transformer
	// BlacklistThreshold is how many consecutive failures a URL tolerates
	// before DownloadImage short-circuits with KindBlacklisted. Zero or a
	// negative value falls back to the default of 1.
	BlacklistThreshold int
	Logger             *slog.Logger
}

// Option configures a Manager at construction time.
type Option func(*Config) error

// WithCache injects a pre-built ImageCache, e.g. one shared across
// Managers or pre-populated in tests.
func WithCache(c *cache.ImageCache) Option {
	return func(cfg *Config) error { cfg.Cache = c; return nil }
}

// WithDownloader injects a pre-built Downloader.
func WithDownloader(d *download.Downloader) Option {
	return func(cfg *Config) error { cfg.Downloader = d; return nil }
}

// WithKeyFilter overrides how cache keys are derived from URLs.
func WithKeyFilter(f KeyFilter) Option {
	return func(cfg *Config) error { cfg.KeyFilter = f; return nil }
}

// WithTransformer installs a post-decode image transformer.
func WithTransformer(t Transformer) Option {
	return func(cfg *Config) error { cfg.Transformer = t; return nil }
}

// WithBlacklistThreshold overrides the default blacklist threshold.
func WithBlacklistThreshold(n int) Option {
	return func(cfg *Config) error { cfg.BlacklistThreshold = n; return nil }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *Config) error { cfg.Logger = l; return nil }
}

package imagefetch

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/meigma/imagefetch/cache"
	"github.com/meigma/imagefetch/download"
)

// ProgressFunc reports incremental bytes received during a network
// fetch. Never called for a request satisfied entirely from cache.
type ProgressFunc func(receivedBytes, expectedBytes int64)

// CompletedFunc receives the outcome of a DownloadImage call. finished
// is false only for an intermediate progressive-decode delivery. A
// request that is not cancelled ends with one finished=true call, or
// two with RefreshCached on a cache hit whose refresh succeeds (see
// DownloadImage). A request cancelled through its Handle or its context
// receives no further calls. A context.Canceled reported by the
// downloader to a still-attached waiter is passed through unwrapped; any
// other failure is a *FetchError.
type CompletedFunc func(img image.Image, err error, finished bool)

// AnimatedImage is an optional interface a cache.Decoder's result may
// implement to mark itself as a multi-frame image. Manager consults it
// to decide whether Config.Transformer should run, honoring
// TransformAnimatedImage.
type AnimatedImage interface {
	image.Image
	Animated() bool
}

func isAnimated(img image.Image) bool {
	a, ok := img.(AnimatedImage)
	return ok && a.Animated()
}

// Manager composes an ImageCache and a Downloader: DownloadImage checks
// cache first, falls through to the network on a miss, and stores
// whatever it fetches back into cache for next time.
type Manager struct {
	cache      *cache.ImageCache
	downloader *download.Downloader
	keyFilter  cache.KeyFilter
	transform  Transformer
	blacklist  *blacklist
	logger     *slog.Logger

	running int64
}

// NewManager builds a Manager. If Config.Cache or Config.Downloader are
// not supplied via WithCache/WithDownloader, defaults are constructed:
// a cache namespaced "imagefetch" under the OS user cache directory,
// and a Downloader over http.DefaultClient.
func NewManager(opts ...Option) (*Manager, error) {
	cfg := Config{BlacklistThreshold: defaultBlacklistThreshold, Logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if cfg.Cache == nil {
		c, err := cache.New("imagefetch", cache.WithLogger(cfg.Logger))
		if err != nil {
			return nil, err
		}
		cfg.Cache = c
	}
	if cfg.Downloader == nil {
		cfg.Downloader = download.New(download.WithLogger(cfg.Logger))
	}

	return &Manager{
		cache:      cfg.Cache,
		downloader: cfg.Downloader,
		keyFilter:  cfg.KeyFilter,
		transform:  cfg.Transformer,
		blacklist:  newBlacklist(cfg.BlacklistThreshold),
		logger:     cfg.Logger,
	}, nil
}

// CacheKeyForURL returns the cache key rawURL resolves to, honoring any
// configured KeyFilter.
func (m *Manager) CacheKeyForURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return string(cache.KeyForURL(u, m.keyFilter))
}

// IsRunning reports whether any DownloadImage call is currently
// in flight.
func (m *Manager) IsRunning() bool {
	return atomic.LoadInt64(&m.running) > 0
}

// CancelAll is a best-effort pause-and-resume of the downloader's
// queue: it does not abort already-running transfers, since doing so
// would orphan any other caller coalesced onto the same URL. Callers
// that need guaranteed per-request cancellation should retain the
// Handle returned by DownloadImage.
func (m *Manager) CancelAll() {
	m.downloader.SetSuspended(true)
	m.downloader.SetSuspended(false)
}

// CachedImageExists synchronously reports whether rawURL has a cached
// entry in memory or on disk.
func (m *Manager) CachedImageExists(rawURL string) bool {
	key := cache.Key(m.CacheKeyForURL(rawURL))
	if _, ok := m.cache.ImageInMemory(key); ok {
		return true
	}
	return m.cache.ExistsOnDisk(key)
}

// CachedImageExistsAsync is the non-blocking form of CachedImageExists.
func (m *Manager) CachedImageExistsAsync(rawURL string, cb func(bool)) {
	key := cache.Key(m.CacheKeyForURL(rawURL))
	if _, ok := m.cache.ImageInMemory(key); ok {
		if cb != nil {
			cb(true)
		}
		return
	}
	m.cache.ExistsOnDiskAsync(key, cb)
}

// DiskImageExists synchronously reports whether rawURL has a disk
// cache entry.
func (m *Manager) DiskImageExists(rawURL string) bool {
	return m.cache.ExistsOnDisk(cache.Key(m.CacheKeyForURL(rawURL)))
}

// DiskImageExistsAsync is the non-blocking form of DiskImageExists.
func (m *Manager) DiskImageExistsAsync(rawURL string, cb func(bool)) {
	m.cache.ExistsOnDiskAsync(cache.Key(m.CacheKeyForURL(rawURL)), cb)
}

// SaveImageToCache stores img under key directly, bypassing the
// network entirely. Useful for seeding the cache with an image the
// caller already has (e.g. a freshly captured photo).
func (m *Manager) SaveImageToCache(key string, img image.Image) error {
	return m.cache.Store(cache.Key(key), img, nil, true, true)
}

// DownloadImage resolves rawURL to an image: a cache hit delivers
// synchronously-ish (still on the cache's delivery queue) from whichever
// tier held it; a miss falls through to the Downloader, and the result
// is stored back into cache before delivery. The returned Handle
// cancels whichever stage — cache query or network download — is
// presently in flight.
//
// RefreshCached delivers twice on a cache hit: first the cached image
// (finished=true, since it is a complete, displayable result), then the
// outcome of a network refresh. If the refresh fails after a cached
// image was already delivered, the failure is swallowed — the caller
// already has a valid image — rather than surfaced as a second,
// contradicting completion.
func (m *Manager) DownloadImage(ctx context.Context, rawURL string, opts Options, progress ProgressFunc, completed CompletedFunc) *Handle {
	handle := &Handle{}
	atomic.AddInt64(&m.running, 1)
	var done sync.Once
	decRunning := func() { done.Do(func() { atomic.AddInt64(&m.running, -1) }) }

	deliver := func(img image.Image, err error, finished bool) {
		if completed != nil {
			completed(img, err, finished)
		}
		if finished {
			decRunning()
		}
	}

	if ctx.Err() != nil {
		// A request made with an already-cancelled context never
		// delivers (matching a request cancelled mid-flight, which the
		// cache/download layers also deliver nothing for): just release
		// the in-flight count immediately rather than leaking it.
		decRunning()
		return handle
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		deliver(nil, newFetchError(KindInvalidURL, rawURL, err), true)
		return handle
	}
	key := cache.KeyForURL(u, m.keyFilter)

	if !opts.has(RetryFailed) && m.blacklist.isBlacklisted(rawURL) {
		deliver(nil, newFetchError(KindBlacklisted, rawURL, ErrBlacklisted), true)
		return handle
	}

	if opts.has(RefreshCached) {
		qtoken := m.cache.Query(ctx, key, func(img image.Image, source cache.Source) {
			hadCached := img != nil
			if hadCached {
				deliver(img, nil, true)
			}
			m.fetchAndStore(ctx, handle, rawURL, key, opts, progress, deliver, decRunning, hadCached)
		})
		handle.setQueryToken(qtoken)
		return handle
	}

	qtoken := m.cache.Query(ctx, key, func(img image.Image, source cache.Source) {
		if img != nil {
			deliver(img, nil, true)
			return
		}
		m.fetchAndStore(ctx, handle, rawURL, key, opts, progress, deliver, decRunning, false)
	})
	handle.setQueryToken(qtoken)
	return handle
}

// fetchAndStore runs the network fetch and stores its result back into
// cache. suppressErrors is set when a cached image was already
// delivered for this request (the RefreshCached path): a failed refresh
// then decrements the running count silently, without a second
// completed call, rather than contradicting the cached delivery with an
// error.
func (m *Manager) fetchAndStore(ctx context.Context, handle *Handle, rawURL string, key cache.Key, opts Options, progress ProgressFunc, deliver func(image.Image, error, bool), decRunning func(), suppressErrors bool) {
	var dprogress download.ProgressFunc
	if progress != nil {
		dprogress = download.ProgressFunc(progress)
	}

	fail := func(err error) {
		if suppressErrors {
			decRunning()
			return
		}
		deliver(nil, err, true)
	}

	dtoken, err := m.downloader.Download(ctx, rawURL, opts.toDownloadOptions(), dprogress,
		func(img image.Image, data []byte, derr error, finished bool) {
			if !finished {
				deliver(img, nil, false)
				return
			}
			if derr != nil {
				if errors.Is(derr, context.Canceled) {
					fail(derr)
					return
				}
				if shouldBlacklist(derr) {
					m.blacklist.recordFailure(rawURL)
				}
				fail(classifyDownloadError(rawURL, derr))
				return
			}
			m.blacklist.recordSuccess(rawURL)

			final := img
			recalc := false
			if m.transform != nil && (!isAnimated(img) || opts.has(TransformAnimatedImage)) {
				if t, terr := m.transform(img); terr == nil {
					final = t
					recalc = true
				} else {
					m.logger.Debug("imagefetch: transform failed, storing untransformed image", "url", rawURL, "error", terr)
				}
			}

			alsoToDisk := !opts.has(CacheMemoryOnly)
			if err := m.cache.Store(key, final, data, alsoToDisk, recalc); err != nil {
				m.logger.Warn("imagefetch: cache store failed", "url", rawURL, "error", err)
			}
			deliver(final, nil, true)
		})
	if err != nil {
		fail(newFetchError(KindInvalidURL, rawURL, err))
		return
	}
	handle.setDownloadToken(dtoken)
}

// shouldBlacklist reports whether err is the kind of failure that
// indicates the URL itself is broken, as opposed to a transient
// condition (timeout, connection reset, DNS hiccup) that may well
// succeed on the very next attempt. Only a 4xx HTTP status (the
// resource doesn't exist, or never will for us) or a response the
// configured Decoder can't make sense of count; everything else is
// treated as transient and left off the blacklist.
func shouldBlacklist(err error) bool {
	var statusErr *download.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 400 && statusErr.StatusCode < 500
	}
	var decodeErr *download.DecodeError
	return errors.As(err, &decodeErr)
}

func classifyDownloadError(rawURL string, err error) *FetchError {
	var statusErr *download.StatusError
	if errors.As(err, &statusErr) {
		return newFetchError(KindHTTPStatus, rawURL, err)
	}
	var decodeErr *download.DecodeError
	if errors.As(err, &decodeErr) {
		return newFetchError(KindDecode, rawURL, err)
	}
	return newFetchError(KindNetwork, rawURL, err)
}

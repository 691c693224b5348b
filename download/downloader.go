package download

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/url"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Downloader runs bounded-concurrency, coalescing image downloads. A
// single Downloader should be shared by every caller wanting requests
// for the same URL to share one network fetch; Manager holds exactly
// one.
type Downloader struct {
	mu   sync.Mutex
	jobs map[string]*Job

	cfg      Config
	queue    *queue
	notifier *Notifier
	logger   *slog.Logger

	// sf deduplicates the raw network fetch itself, as a defensive
	// second layer beneath the jobs map: if a job is being torn down
	// (its last waiter just cancelled) at the exact moment a new
	// request for the same URL arrives and creates a fresh Job, sf
	// still prevents two concurrent GETs to the same URL.
	sf singleflight.Group
}

// New builds a Downloader. Unset Config fields take documented
// defaults: MaxConcurrentDownloads 6, FIFO order, an HTTPFetcher over
// http.DefaultClient.
func New(opts ...ConfigOption) *Downloader {
	cfg := Config{
		MaxConcurrentDownloads: 6,
		Order:                  FIFO,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = NewHTTPFetcher(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Downloader{
		jobs:     make(map[string]*Job),
		cfg:      cfg,
		queue:    newQueue(cfg.MaxConcurrentDownloads, cfg.Order),
		notifier: NewNotifier(),
		logger:   cfg.Logger,
	}
}

// Notifier returns the downloader's event publisher.
func (d *Downloader) Notifier() *Notifier { return d.notifier }

// SetValueForHeaderField sets a header sent with every subsequent
// request, e.g. SetValueForHeaderField("MyApp/1.0", "User-Agent").
func (d *Downloader) SetValueForHeaderField(value, field string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cfg.Headers == nil {
		d.cfg.Headers = make(map[string]string)
	}
	d.cfg.Headers[field] = value
}

// ValueForHeaderField returns the currently configured value for field,
// if any.
func (d *Downloader) ValueForHeaderField(field string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.Headers[field]
}

// SetSuspended pauses or resumes dispatch of queued (not yet started)
// downloads.
func (d *Downloader) SetSuspended(v bool) { d.queue.setSuspended(v) }

// SetOrder changes the discharge order applied to future downloads.
func (d *Downloader) SetOrder(o Order) { d.queue.setOrder(o) }

// CurrentDownloadCount returns how many downloads are actively
// in-flight right now (queued downloads are not counted).
func (d *Downloader) CurrentDownloadCount() int { return d.queue.currentCount() }

// Download requests rawURL. If a compatible download for the same URL
// is already in flight, the caller is coalesced onto it: both
// progress and completed will be invoked for every coalesced waiter.
// The returned Token cancels only this caller's interest; the
// underlying fetch keeps running for any other waiter still attached.
func (d *Downloader) Download(ctx context.Context, rawURL string, opts Options, progress ProgressFunc, completed CompletedFunc) (*Token, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, fmt.Errorf("download: invalid url %q: %w", rawURL, err)
	}

	d.mu.Lock()
	job, coalesced := d.jobs[rawURL]
	if !coalesced || !job.compatible(opts) {
		job = newJob(rawURL, opts)
		d.jobs[rawURL] = job
		coalesced = false
	}
	token := job.addWaiter(progress, completed)
	d.mu.Unlock()

	d.notifier.publish(Event{Kind: EventDownloadStart, URL: rawURL})
	d.attachCancellation(ctx, token, job)

	if d.cfg.Metrics != nil {
		d.cfg.Metrics.RequestsTotal.Inc()
		if coalesced {
			d.cfg.Metrics.CoalescedTotal.Inc()
		}
	}

	if coalesced {
		return token, nil
	}
	if d.cfg.Metrics != nil {
		d.cfg.Metrics.InFlightJobs.Inc()
	}
	d.queue.schedule(job.priority, func() { d.run(job) })
	return token, nil
}

// attachCancellation cancels token when ctx is done, so an individual
// caller's context governs only its own waiter.
func (d *Downloader) attachCancellation(ctx context.Context, token *Token, job *Job) {
	if ctx == nil || ctx.Done() == nil {
		return
	}
	go func() {
		select {
		case <-ctx.Done():
			token.Cancel()
		case <-job.ctx.Done():
		}
	}()
}

// run performs the actual fetch for job and fans the result out to
// every waiter attached at each stage. Invoked on a queue worker
// goroutine.
func (d *Downloader) run(job *Job) {
	job.setState(StateRunning)
	defer func() {
		d.mu.Lock()
		if d.jobs[job.url] == job {
			delete(d.jobs, job.url)
		}
		d.mu.Unlock()
	}()

	if job.ctx.Err() != nil {
		job.setState(StateCancelled)
		return
	}

	fetchCtx := job.ctx
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(job.ctx, d.cfg.Timeout)
		defer cancel()
	}

	headers := d.buildHeaders(job)
	v, err, _ := d.sf.Do(job.url, func() (interface{}, error) {
		return d.fetch(fetchCtx, job, headers)
	})

	job.setState(StateFinishing)
	if d.cfg.Metrics != nil {
		d.cfg.Metrics.InFlightJobs.Dec()
	}
	if err != nil {
		if d.cfg.Metrics != nil {
			d.cfg.Metrics.FailuresTotal.WithLabelValues(failureCause(err)).Inc()
		}
		d.logger.Debug("download: fetch failed", "url", job.url, "error", err)
		d.notifier.publish(Event{Kind: EventDownloadStop, URL: job.url, Err: err})
		job.reportCompleted(nil, nil, err, true)
		d.notifier.publish(Event{Kind: EventDownloadFinish, URL: job.url, Err: err})
		job.setState(StateDone)
		return
	}

	data := v.([]byte)
	if d.cfg.Metrics != nil {
		d.cfg.Metrics.BytesReceived.Add(float64(len(data)))
	}
	var img image.Image
	if d.cfg.Decoder != nil {
		img, err = d.cfg.Decoder(data)
		if err != nil {
			if d.cfg.Metrics != nil {
				d.cfg.Metrics.FailuresTotal.WithLabelValues("decode").Inc()
			}
			err = &DecodeError{URL: job.url, Err: err}
		}
	}
	job.reportCompleted(img, data, err, true)
	d.notifier.publish(Event{Kind: EventDownloadFinish, URL: job.url})
	job.setState(StateDone)
}

func failureCause(err error) string {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return "http_status"
	}
	return "network"
}

func (d *Downloader) buildHeaders(job *Job) map[string]string {
	d.mu.Lock()
	headers := make(map[string]string, len(d.cfg.Headers))
	for k, v := range d.cfg.Headers {
		headers[k] = v
	}
	d.mu.Unlock()
	if d.cfg.HeadersFilter != nil {
		headers = d.cfg.HeadersFilter(job.url, headers)
	}
	if d.cfg.AuthCache != nil {
		if u, err := url.Parse(job.url); err == nil {
			if h, ok := d.cfg.AuthCache.Get(u.Host); ok {
				headers["Authorization"] = h
			}
		}
	}
	return headers
}

// fetch runs the Fetcher, reports progress to job's waiters as bytes
// arrive (when job.opts requests progressive delivery), and returns the
// full response body.
func (d *Downloader) fetch(ctx context.Context, job *Job, headers map[string]string) ([]byte, error) {
	resp, err := d.cfg.Fetcher.Fetch(ctx, job.url, headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	d.notifier.publish(Event{Kind: EventDownloadReceiveResponse, URL: job.url, StatusCode: resp.StatusCode})
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{URL: job.url, StatusCode: resp.StatusCode}
	}

	var body io.Reader = resp.Body
	if job.opts.has(ProgressiveDownload) {
		pr := &progressiveReader{
			r: resp.Body,
			onRead: func(n int64) {
				job.reportProgress(n, resp.ContentLength)
			},
		}
		if d.cfg.Decoder != nil {
			pr.onChunk = func(prefix []byte) {
				if img, derr := d.cfg.Decoder(prefix); derr == nil && img != nil {
					job.reportCompleted(img, nil, nil, false)
				}
			}
		}
		body = pr
	}
	return io.ReadAll(body)
}

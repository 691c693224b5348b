package download

import (
	"bytes"
	"context"
	"image"
	"io"
	"sync"
)

// State is a Job's position in its lifecycle.
type State int

const (
	StateQueued State = iota
	StateRunning
	StateFinishing
	StateDone
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateFinishing:
		return "finishing"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

type waiter struct {
	id        int
	progress  ProgressFunc
	completed CompletedFunc
}

// Job tracks every waiter coalesced onto a single URL fetch. Only one
// Job exists per URL at a time in a Downloader; Job itself does not
// know about the Downloader's map, so it can be unit-tested standalone.
type Job struct {
	mu sync.Mutex

	url      string
	opts     Options
	priority Priority

	state   State
	waiters map[int]*waiter
	nextID  int

	receivedBytes int64
	expectedBytes int64

	ctx    context.Context
	cancel context.CancelFunc
}

// newJob creates a job with its own independent lifetime: a job is not
// tied to any one caller's context, since other callers may still be
// waiting on it after the first caller's context is done. Per-caller
// cancellation is wired by Downloader.Download via Token.Cancel.
func newJob(url string, opts Options) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	return &Job{
		url:           url,
		opts:          opts,
		priority:      opts.Priority(),
		state:         StateQueued,
		waiters:       make(map[int]*waiter),
		expectedBytes: -1,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// compatible reports whether a new request for the same URL can be
// coalesced onto this job rather than starting a fresh one. Priority is
// allowed to differ freely (the queue only ever cares about the job's
// original priority for scheduling); behavioral flags that would change
// what gets fetched or how must match.
func (j *Job) compatible(opts Options) bool {
	const behavioral = IgnoreCachedResponse | AllowInvalidSSLCertificates | HandleCookies
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == StateDone || j.state == StateCancelled {
		return false
	}
	return j.opts&behavioral == opts&behavioral
}

// addWaiter registers progress/completed callbacks and returns a Token
// that, when cancelled, removes just this waiter.
func (j *Job) addWaiter(progress ProgressFunc, completed CompletedFunc) *Token {
	j.mu.Lock()
	defer j.mu.Unlock()
	id := j.nextID
	j.nextID++
	j.waiters[id] = &waiter{id: id, progress: progress, completed: completed}
	return &Token{job: j, waiterID: id}
}

// removeWaiter drops a waiter and reports whether the job is now
// waiterless and should be aborted.
func (j *Job) removeWaiter(id int) (empty bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.waiters, id)
	empty = len(j.waiters) == 0
	if empty && (j.state == StateQueued || j.state == StateRunning) {
		j.cancel()
	}
	return empty
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

// State returns the job's current lifecycle state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job) snapshotWaiters() []*waiter {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*waiter, 0, len(j.waiters))
	for _, w := range j.waiters {
		out = append(out, w)
	}
	return out
}

// reportProgress fans out a progress update to every waiter. Called off
// the queue dispatcher goroutine for this job.
func (j *Job) reportProgress(received, expected int64) {
	j.mu.Lock()
	j.receivedBytes = received
	j.expectedBytes = expected
	j.mu.Unlock()
	for _, w := range j.snapshotWaiters() {
		if w.progress != nil {
			w.progress(received, expected)
		}
	}
}

// reportCompleted fans out a terminal (or progressive, non-final)
// delivery to every waiter still attached.
func (j *Job) reportCompleted(img image.Image, data []byte, err error, finished bool) {
	for _, w := range j.snapshotWaiters() {
		if w.completed != nil {
			w.completed(img, data, err, finished)
		}
	}
}

// Token cancels one waiter's interest in a Job without affecting any
// other waiter coalesced onto the same download.
type Token struct {
	job      *Job
	waiterID int
}

// Cancel detaches this waiter. If it was the job's last waiter, the
// underlying fetch is aborted.
func (t *Token) Cancel() {
	if t == nil || t.job == nil {
		return
	}
	t.job.removeWaiter(t.waiterID)
}

// progressiveChunkThreshold is how many newly received bytes accumulate
// before progressiveReader offers the buffered prefix to onChunk again.
// Small enough to notice a usable prefix promptly, large enough that a
// Decoder that can't make sense of a partial payload isn't invoked on
// every single Read.
const progressiveChunkThreshold = 32 * 1024

// progressiveReader wraps a response body, reporting cumulative byte
// progress via onRead and, if onChunk is set, handing it a growing
// snapshot of everything received so far at a throttled cadence. A
// Decoder able to make sense of an incomplete payload (e.g. a
// progressive JPEG's successive scans) can return a displayable image
// from such a prefix; onChunk is expected to ignore a decode failure,
// which is the normal case for most of the transfer.
type progressiveReader struct {
	r       io.Reader
	onRead  func(n int64)
	onChunk func(prefix []byte)

	buf         bytes.Buffer
	n           int64
	lastChunkAt int64
}

func (p *progressiveReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.n += int64(n)
		p.buf.Write(b[:n])
		if p.onRead != nil {
			p.onRead(p.n)
		}
		if p.onChunk != nil && p.n-p.lastChunkAt >= progressiveChunkThreshold {
			p.lastChunkAt = p.n
			snapshot := append([]byte(nil), p.buf.Bytes()...)
			p.onChunk(snapshot)
		}
	}
	return n, err
}

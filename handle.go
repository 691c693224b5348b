package imagefetch

import (
	"sync"

	"github.com/meigma/imagefetch/cache"
	"github.com/meigma/imagefetch/download"
)

// Handle cancels an in-flight DownloadImage call. It composes whichever
// of a cache query token or a download token is currently backing the
// request — DownloadImage may transition from one to the other (cache
// miss falling through to network) after the Handle has already been
// returned to the caller, so Cancel must affect whichever is live at
// the time it's called.
type Handle struct {
	mu          sync.Mutex
	cancelled   bool
	queryToken  *cache.QueryToken
	downloadTok *download.Token
}

func (h *Handle) setQueryToken(t *cache.QueryToken) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled {
		t.Cancel()
		return
	}
	h.queryToken = t
}

func (h *Handle) setDownloadToken(t *download.Token) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled {
		t.Cancel()
		return
	}
	h.downloadTok = t
}

// Cancel aborts the request. Safe to call more than once and safe to
// call before the request has settled on a cache or network path.
func (h *Handle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelled = true
	if h.queryToken != nil {
		h.queryToken.Cancel()
	}
	if h.downloadTok != nil {
		h.downloadTok.Cancel()
	}
}

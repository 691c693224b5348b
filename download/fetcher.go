package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Response is a fetched body plus the response metadata a Downloader
// needs to report progress and honor caching.
type Response struct {
	StatusCode    int
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64 // -1 if unknown
}

// Fetcher performs the network half of a download. HTTPFetcher is the
// default implementation; tests substitute a fake.
type Fetcher interface {
	Fetch(ctx context.Context, url string, headers map[string]string) (*Response, error)
}

// BackgroundContinuer is implemented by a Fetcher that can keep a
// transfer running after ContinueInBackground is requested and the
// caller's context would otherwise be torn down (e.g. app suspend on
// mobile platforms). The default HTTPFetcher does not implement this,
// and the Downloader never calls it, so ContinueInBackground has no
// effect on a transfer.
type BackgroundContinuer interface {
	ContinueInBackground(url string) bool
}

// HTTPFetcher is the default Fetcher, backed by an *http.Client.
type HTTPFetcher struct {
	Client *http.Client
	// InsecureClient is not used by Fetch, which always sends through
	// Client (or http.DefaultClient when Client is nil); NewHTTPFetcher
	// leaves it nil. Fetch receives no Options, so
	// AllowInvalidSSLCertificates does not select a different client.
	InsecureClient *http.Client
}

// NewHTTPFetcher builds an HTTPFetcher around client, defaulting to
// http.DefaultClient if client is nil.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{Client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("download: build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: fetch %s: %w", url, err)
	}
	return &Response{
		StatusCode:    resp.StatusCode,
		Header:        resp.Header,
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
	}, nil
}

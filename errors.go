package imagefetch

import (
	"errors"
	"fmt"
)

// FetchErrorKind classifies why DownloadImage failed, independent of
// the wrapped cause, so callers can branch on kind without inspecting
// error strings.
type FetchErrorKind int

const (
	KindInvalidURL FetchErrorKind = iota
	KindNetwork
	KindHTTPStatus
	KindDecode
	KindDiskIO
	KindBlacklisted
)

func (k FetchErrorKind) String() string {
	switch k {
	case KindInvalidURL:
		return "invalid_url"
	case KindNetwork:
		return "network"
	case KindHTTPStatus:
		return "http_status"
	case KindDecode:
		return "decode"
	case KindDiskIO:
		return "disk_io"
	case KindBlacklisted:
		return "blacklisted"
	default:
		return "unknown"
	}
}

// FetchError is the error type delivered to a DownloadImage completed
// callback for any failure that is not a plain cancellation (a request
// cancelled through its Handle or context receives no callback, and a
// context.Canceled from the downloader is passed through directly,
// never wrapped in FetchError).
type FetchError struct {
	Kind FetchErrorKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("imagefetch: %s: %s: %v", e.Kind, e.URL, e.Err)
	}
	return fmt.Sprintf("imagefetch: %s: %s", e.Kind, e.URL)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ErrBlacklisted is wrapped by a FetchError of KindBlacklisted when a
// URL has failed enough times to be given up on. See Manager's
// blacklist.
var ErrBlacklisted = errors.New("imagefetch: url is blacklisted after repeated failures")

func newFetchError(kind FetchErrorKind, url string, err error) *FetchError {
	return &FetchError{Kind: kind, URL: url, Err: err}
}

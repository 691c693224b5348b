package cache

import (
	"context"
	"image"
)

// Source identifies which tier satisfied a Query.
type Source int

const (
	// SourceNone means the image was not found in either tier.
	SourceNone Source = iota
	// SourceMemory means the image was found in the in-memory tier.
	SourceMemory
	// SourceDisk means the image was found in the on-disk tier.
	SourceDisk
)

func (s Source) String() string {
	switch s {
	case SourceMemory:
		return "memory"
	case SourceDisk:
		return "disk"
	default:
		return "none"
	}
}

// QueryFunc receives the result of a Query: the decoded image (nil on a
// miss) and the tier that produced it. A cancelled query is not
// delivered at all.
type QueryFunc func(img image.Image, source Source)

// QueryToken cancels an in-flight Query. Cancellation prevents delivery
// and, if the disk read/decode has not yet started, aborts it before it
// starts. Cancellation is idempotent.
type QueryToken struct {
	cancel context.CancelFunc
}

// Cancel cancels the query. Safe to call more than once.
func (t *QueryToken) Cancel() {
	if t != nil && t.cancel != nil {
		t.cancel()
	}
}

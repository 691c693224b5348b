package imagefetch

import "sync"

var (
	sharedOnce sync.Once
	shared     *Manager
	sharedErr  error
)

// Shared returns a process-wide Manager, built on first use with
// default options. It is a caller-side convenience, not a requirement:
// nothing else in this package depends on it, and constructing your own
// Manager via NewManager works identically.
func Shared() (*Manager, error) {
	sharedOnce.Do(func() {
		shared, sharedErr = NewManager()
	})
	return shared, sharedErr
}

package disk

import "path/filepath"

// pathFor returns the on-disk path for a digest-name within root.
//
// Callers pass an already-hashed, filesystem-safe name (the cache package
// derives it from a Key via a content digest); disk itself performs no
// hashing so it stays agnostic of the key encoding scheme.
func pathFor(root, name string) string {
	return filepath.Join(root, name)
}

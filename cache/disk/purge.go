package disk

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// fileEntry describes one regular file discovered during a purge scan.
type fileEntry struct {
	path    string
	size    int64
	modTime time.Time
}

// CleanStats summarizes a Clean pass.
type CleanStats struct {
	AgeEvicted  int
	SizeEvicted int
	BytesFreed  int64
	BytesLeft   int64
}

// Clean runs the two-pass purge described in spec.md §4.A:
//
//  1. Age purge: every file with mtime older than now-maxAge is deleted.
//     maxAge == 0 means a cutoff of now: every file is evicted.
//  2. Size purge: if maxSize > 0 and the survivors still exceed maxSize,
//     delete survivors in ascending mtime order until total size is at
//     most maxSize/2 (half-target hysteresis, to amortize future work).
//
// maxAge < 0 disables the age pass; maxSize <= 0 disables the size pass.
func (c *Cache) Clean(maxAge time.Duration, maxSize int64) (CleanStats, error) {
	var stats CleanStats

	entries, err := scanEntries(c.dir)
	if err != nil {
		return stats, err
	}

	survivors := entries[:0:0]
	var totalSize int64
	if maxAge >= 0 {
		cutoff := time.Now().Add(-maxAge)
		for _, e := range entries {
			if e.modTime.Before(cutoff) {
				if err := os.Remove(e.path); err != nil && !errors.Is(err, os.ErrNotExist) {
					return stats, err
				}
				stats.AgeEvicted++
				stats.BytesFreed += e.size
				continue
			}
			survivors = append(survivors, e)
			totalSize += e.size
		}
	} else {
		survivors = entries
		for _, e := range entries {
			totalSize += e.size
		}
	}

	if maxSize > 0 && totalSize > maxSize {
		sort.Slice(survivors, func(i, j int) bool {
			if survivors[i].modTime.Equal(survivors[j].modTime) {
				return survivors[i].path < survivors[j].path
			}
			return survivors[i].modTime.Before(survivors[j].modTime)
		})
		target := maxSize / 2
		kept := survivors[:0:0]
		for _, e := range survivors {
			if totalSize <= target {
				kept = append(kept, e)
				continue
			}
			if err := os.Remove(e.path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return stats, err
			}
			stats.SizeEvicted++
			stats.BytesFreed += e.size
			totalSize -= e.size
		}
		survivors = kept
	}

	stats.BytesLeft = totalSize
	return stats, nil
}

func scanEntries(root string) ([]fileEntry, error) {
	var entries []fileEntry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, fileEntry{path: path, size: info.Size(), modTime: info.ModTime()})
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return entries, err
}

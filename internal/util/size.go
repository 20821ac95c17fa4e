package util

import (
	"io/fs"
	"path/filepath"
)

// DirSize returns the total size in bytes of all regular files under root.
// Unreadable entries are skipped.
func DirSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, statErr := d.Info()
		if statErr != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total
}

// BytesToMB converts a byte count to whole megabytes.
func BytesToMB(b int64) int64 {
	return b / (1024 * 1024)
}

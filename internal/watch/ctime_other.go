//go:build !windows && !linux

package watch

import (
	"io/fs"
	"time"
)

// CreationTime approximates the file's creation time.
func CreationTime(path string, fi fs.FileInfo) time.Time {
	return fallbackCreationTime(path, fi)
}

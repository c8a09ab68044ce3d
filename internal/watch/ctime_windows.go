//go:build windows

package watch

import (
	"io/fs"
	"syscall"
	"time"
)

// CreationTime returns the file's creation time.
func CreationTime(path string, fi fs.FileInfo) time.Time {
	if d, ok := fi.Sys().(*syscall.Win32FileAttributeData); ok {
		return time.Unix(0, d.CreationTime.Nanoseconds())
	}
	return fallbackCreationTime(path, fi)
}

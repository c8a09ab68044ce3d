//go:build windows

// Package singleinstance ensures only one lifelog process writes the database.
package singleinstance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"
)

// AcquireLock takes an exclusive byte-range lock on lockPath.
// ok is false when another process already holds it.
func AcquireLock(lockPath string) (release func(), ok bool, err error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0700); err != nil {
		return nil, false, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, false, fmt.Errorf("open lock file: %w", err)
	}

	h := windows.Handle(f.Fd())
	ol := new(windows.Overlapped)
	const flags = windows.LOCKFILE_EXCLUSIVE_LOCK | windows.LOCKFILE_FAIL_IMMEDIATELY
	if err := windows.LockFileEx(h, flags, 0, 1, 0, ol); err != nil {
		f.Close()
		if errors.Is(err, windows.ERROR_LOCK_VIOLATION) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("lock %s: %w", lockPath, err)
	}

	return func() {
		windows.UnlockFileEx(h, 0, 1, 0, ol)
		f.Close()
	}, true, nil
}

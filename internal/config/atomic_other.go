//go:build !windows

package config

import (
	"os"
	"path/filepath"
)

// replaceFile renames src over dst and syncs the directory so the rename
// survives a crash.
func replaceFile(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		return err
	}
	d, err := os.Open(filepath.Dir(dst))
	if err != nil {
		return nil
	}
	defer d.Close()
	d.Sync()
	return nil
}

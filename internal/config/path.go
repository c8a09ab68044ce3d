// Package config provides configuration management for VRClog Lifelog.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/graaaaa/vrclog-lifelog/internal/appinfo"
)

// steamVRChatPrefix is the Proton prefix of VRChat (Steam app 438100).
const steamVRChatPrefix = ".steam/steam/steamapps/compatdata/438100/pfx/drive_c/users/steamuser"

// DataDir returns the application data directory path.
// On Windows: %LOCALAPPDATA%/vrclog-lifelog/
// On other platforms: ~/.config/vrclog-lifelog/ or equivalent
func DataDir() (string, error) {
	var base string

	if runtime.GOOS == "windows" {
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			base = localAppData
		} else {
			dir, err := os.UserConfigDir()
			if err != nil {
				return "", fmt.Errorf("get user config dir: %w", err)
			}
			base = dir
		}
	} else {
		dir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("get user config dir: %w", err)
		}
		base = dir
	}

	return filepath.Join(base, appinfo.DirName), nil
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create data dir %q: %w", dir, err)
	}

	return dir, nil
}

// DefaultLogDir returns the directory VRChat writes its output logs to.
// On Windows: %LOCALAPPDATA%/../LocalLow/VRChat/VRChat
// Elsewhere: the same path inside the Steam Proton prefix.
func DefaultLogDir() (string, error) {
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			return "", fmt.Errorf("LOCALAPPDATA is not set")
		}
		return filepath.Join(filepath.Dir(localAppData), "LocalLow", "VRChat", "VRChat"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, filepath.FromSlash(steamVRChatPrefix), "AppData", "LocalLow", "VRChat", "VRChat"), nil
}

// ResolveLogDir returns cfg.LogDir, or DefaultLogDir when it is empty.
func ResolveLogDir(cfg Config) (string, error) {
	if cfg.LogDir != "" {
		return cfg.LogDir, nil
	}
	return DefaultLogDir()
}

// dataPath returns the full path for a file in the data directory.
func dataPath(filename string) (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filename), nil
}

// ConfigPath returns the path to config.json.
func ConfigPath() (string, error) {
	return dataPath(appinfo.ConfigFileName)
}

// SecretsPath returns the path to secrets.json.
func SecretsPath() (string, error) {
	return dataPath(appinfo.SecretsFileName)
}

// LockFilePath returns the path to the lock file for single instance control.
func LockFilePath() (string, error) {
	return dataPath(appinfo.LockFileName)
}

// DatabasePath returns the path to the SQLite database.
func DatabasePath() (string, error) {
	return dataPath(appinfo.DatabaseFileName)
}

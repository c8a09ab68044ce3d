// Package appinfo provides application identity constants.
package appinfo

const (
	// AppName is the display name of the application.
	AppName = "VRClog Lifelog"

	// DirName is the directory name used for storing application data.
	// Location: %LOCALAPPDATA%/vrclog-lifelog/ (Windows) or ~/.config/vrclog-lifelog/ (other)
	DirName = "vrclog-lifelog"

	// LockFileName is the lock file name for single instance control.
	LockFileName = "lifelog.lock"

	// ConfigFileName is the configuration file name.
	ConfigFileName = "config.json"

	// SecretsFileName is the secrets file name.
	SecretsFileName = "secrets.json"

	// DatabaseFileName is the SQLite database file name.
	DatabaseFileName = "lifelog.sqlite"

	// AuthRealm is the HTTP Basic Auth realm shown by browsers.
	AuthRealm = "VRClog Lifelog"
)

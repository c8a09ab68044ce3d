package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// CurrentSchemaVersion is the current config schema version.
const CurrentSchemaVersion = 1

// Environment variable names for config overrides.
// Priority: Environment > Config File > Default
const (
	EnvPort             = "VRCLOG_LIFELOG_PORT"
	EnvLanEnabled       = "VRCLOG_LIFELOG_LAN_ENABLED"
	EnvLogDir           = "VRCLOG_LIFELOG_LOG_DIR"
	EnvLogLevel         = "VRCLOG_LIFELOG_LOG_LEVEL"
	EnvProducerProcess  = "VRCLOG_LIFELOG_PRODUCER_PROCESS"
	EnvPollIntervalMs   = "VRCLOG_LIFELOG_POLL_INTERVAL_MS"
	EnvOpenRetryCount   = "VRCLOG_LIFELOG_OPEN_RETRY_COUNT"
	EnvOpenRetryDelayMs = "VRCLOG_LIFELOG_OPEN_RETRY_DELAY_MS"
)

// Config holds non-sensitive application configuration.
type Config struct {
	SchemaVersion    int    `json:"schema_version"`
	Port             int    `json:"port"`
	LanEnabled       bool   `json:"lan_enabled"`
	LogDir           string `json:"log_dir"`
	LogLevel         string `json:"log_level"`
	ProducerProcess  string `json:"producer_process"`
	PollIntervalMs   int    `json:"poll_interval_ms"`
	OpenRetryCount   int    `json:"open_retry_count"`
	OpenRetryDelayMs int    `json:"open_retry_delay_ms"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SchemaVersion:    CurrentSchemaVersion,
		Port:             8080,
		LanEnabled:       false,
		LogDir:           "", // auto-detect
		LogLevel:         "info",
		ProducerProcess:  "VRChat",
		PollIntervalMs:   1000,
		OpenRetryCount:   5,
		OpenRetryDelayMs: 500,
	}
}

// PollInterval returns the growth poll interval of a tailed log file.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// OpenRetryDelay returns the wait between attempts to open a new log file.
func (c Config) OpenRetryDelay() time.Duration {
	return time.Duration(c.OpenRetryDelayMs) * time.Millisecond
}

// SlogLevel returns the configured log level, defaulting to Info.
func (c Config) SlogLevel() slog.Level {
	lvl, ok := parseLevel(c.LogLevel)
	if !ok {
		return slog.LevelInfo
	}
	return lvl
}

// LoadConfig reads config from disk. If the file doesn't exist or is corrupt,
// it returns DefaultConfig with a warning logged (non-fatal).
func LoadConfig() (Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultConfig(), err
	}

	return LoadConfigFrom(path)
}

// LoadConfigFrom reads config from the specified path.
func LoadConfigFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		log.Printf("Warning: failed to read config file: %v, using defaults", err)
		return cfg, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&cfg); err != nil {
		log.Printf("Warning: config file is corrupt: %v, using defaults", err)
		return DefaultConfig(), nil
	}

	if cfg.SchemaVersion != CurrentSchemaVersion {
		log.Printf("Warning: config schema version mismatch (got %d, expected %d), using defaults",
			cfg.SchemaVersion, CurrentSchemaVersion)
		return DefaultConfig(), nil
	}

	return normalizeConfig(cfg), nil
}

// normalizeConfig replaces out-of-range values with their defaults.
func normalizeConfig(cfg Config) Config {
	defaults := DefaultConfig()

	cfg.SchemaVersion = CurrentSchemaVersion

	if cfg.Port <= 0 || cfg.Port > 65535 {
		cfg.Port = defaults.Port
	}
	if _, ok := parseLevel(cfg.LogLevel); !ok {
		cfg.LogLevel = defaults.LogLevel
	}
	if strings.TrimSpace(cfg.ProducerProcess) == "" {
		cfg.ProducerProcess = defaults.ProducerProcess
	}
	if cfg.PollIntervalMs <= 0 {
		cfg.PollIntervalMs = defaults.PollIntervalMs
	}
	if cfg.OpenRetryCount <= 0 {
		cfg.OpenRetryCount = defaults.OpenRetryCount
	}
	if cfg.OpenRetryDelayMs <= 0 {
		cfg.OpenRetryDelayMs = defaults.OpenRetryDelayMs
	}

	return cfg
}

// SaveConfig writes config to disk atomically.
func SaveConfig(cfg Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	return SaveConfigTo(cfg, path)
}

// SaveConfigTo writes config to the specified path atomically.
func SaveConfigTo(cfg Config, path string) error {
	cfg.SchemaVersion = CurrentSchemaVersion

	return writeJSONAtomic(path, cfg)
}

// ApplyEnvOverrides applies environment variable overrides to the config.
// Invalid values are ignored.
func ApplyEnvOverrides(cfg Config) Config {
	if v := os.Getenv(EnvPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port <= 65535 {
			cfg.Port = port
		}
	}

	if v := os.Getenv(EnvLanEnabled); v != "" {
		cfg.LanEnabled = parseBool(v)
	}

	if v := os.Getenv(EnvLogDir); v != "" {
		cfg.LogDir = v
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		if _, ok := parseLevel(v); ok {
			cfg.LogLevel = v
		}
	}

	if v := os.Getenv(EnvProducerProcess); strings.TrimSpace(v) != "" {
		cfg.ProducerProcess = v
	}

	cfg.PollIntervalMs = envPositiveInt(EnvPollIntervalMs, cfg.PollIntervalMs)
	cfg.OpenRetryCount = envPositiveInt(EnvOpenRetryCount, cfg.OpenRetryCount)
	cfg.OpenRetryDelayMs = envPositiveInt(EnvOpenRetryDelayMs, cfg.OpenRetryDelayMs)

	return cfg
}

func envPositiveInt(name string, current int) int {
	v := os.Getenv(name)
	if v == "" {
		return current
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return current
	}
	return n
}

// parseBool parses a boolean from various string representations.
// Accepts: "true", "1", "yes", "on" (case-insensitive) as true.
// All other values are treated as false.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// parseLevel accepts slog level names such as "debug", "info", "warn" or "error".
func parseLevel(s string) (slog.Level, bool) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, false
	}
	return lvl, true
}

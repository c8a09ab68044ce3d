package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/graaaaa/vrclog-lifelog/internal/config"
)

// ErrInvalidConfig is returned when an update carries an invalid value.
var ErrInvalidConfig = errors.New("invalid config")

// ConfigUsecase defines the configuration management use case.
type ConfigUsecase interface {
	// GetConfig returns the current configuration.
	GetConfig(ctx context.Context) ConfigResponse

	// UpdateConfig updates the configuration with the given changes.
	// Returns the result indicating success and whether restart is required.
	UpdateConfig(ctx context.Context, req ConfigUpdateRequest) (ConfigUpdateResponse, error)
}

// ConfigResponse represents the current configuration (excludes secret values).
type ConfigResponse struct {
	Port                int    `json:"port"`
	LanEnabled          bool   `json:"lan_enabled"`
	LogDir              string `json:"log_dir"`
	LogLevel            string `json:"log_level"`
	ProducerProcess     string `json:"producer_process"`
	PollIntervalMs      int    `json:"poll_interval_ms"`
	OpenRetryCount      int    `json:"open_retry_count"`
	OpenRetryDelayMs    int    `json:"open_retry_delay_ms"`
	BasicAuthConfigured bool   `json:"basic_auth_configured"`
}

// ConfigUpdateRequest contains optional fields for updating configuration.
type ConfigUpdateRequest struct {
	Port             *int    `json:"port,omitempty"`
	LanEnabled       *bool   `json:"lan_enabled,omitempty"`
	LogDir           *string `json:"log_dir,omitempty"`
	LogLevel         *string `json:"log_level,omitempty"`
	ProducerProcess  *string `json:"producer_process,omitempty"`
	PollIntervalMs   *int    `json:"poll_interval_ms,omitempty"`
	OpenRetryCount   *int    `json:"open_retry_count,omitempty"`
	OpenRetryDelayMs *int    `json:"open_retry_delay_ms,omitempty"`
}

// ConfigUpdateResponse indicates the result of a configuration update.
type ConfigUpdateResponse struct {
	Success         bool `json:"success"`
	RestartRequired bool `json:"restart_required"`
	NewPort         int  `json:"new_port,omitempty"`
}

// ConfigService implements ConfigUsecase.
type ConfigService struct {
	ConfigPath  string
	SecretsPath string
}

// GetConfig returns the current configuration.
func (s ConfigService) GetConfig(ctx context.Context) ConfigResponse {
	cfg, _ := config.LoadConfigFrom(s.ConfigPath)
	sec, _, _ := config.LoadSecretsFrom(s.SecretsPath)

	return ConfigResponse{
		Port:                cfg.Port,
		LanEnabled:          cfg.LanEnabled,
		LogDir:              cfg.LogDir,
		LogLevel:            cfg.LogLevel,
		ProducerProcess:     cfg.ProducerProcess,
		PollIntervalMs:      cfg.PollIntervalMs,
		OpenRetryCount:      cfg.OpenRetryCount,
		OpenRetryDelayMs:    cfg.OpenRetryDelayMs,
		BasicAuthConfigured: sec.BasicAuthUsername != "" && !sec.BasicAuthPassword.IsEmpty(),
	}
}

// UpdateConfig validates and persists the requested changes.
// Every change takes effect on the next start.
func (s ConfigService) UpdateConfig(ctx context.Context, req ConfigUpdateRequest) (ConfigUpdateResponse, error) {
	cfg, err := config.LoadConfigFrom(s.ConfigPath)
	if err != nil {
		return ConfigUpdateResponse{}, fmt.Errorf("load config: %w", err)
	}
	originalPort := cfg.Port
	changed := false

	if req.Port != nil {
		if *req.Port < 1 || *req.Port > 65535 {
			return ConfigUpdateResponse{}, fmt.Errorf("%w: port must be between 1 and 65535", ErrInvalidConfig)
		}
		cfg.Port = *req.Port
		changed = true
	}
	if req.LanEnabled != nil {
		cfg.LanEnabled = *req.LanEnabled
		changed = true
	}
	if req.LogDir != nil {
		cfg.LogDir = strings.TrimSpace(*req.LogDir)
		changed = true
	}
	if req.LogLevel != nil {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(*req.LogLevel)); err != nil {
			return ConfigUpdateResponse{}, fmt.Errorf("%w: unknown log_level %q", ErrInvalidConfig, *req.LogLevel)
		}
		cfg.LogLevel = strings.ToLower(*req.LogLevel)
		changed = true
	}
	if req.ProducerProcess != nil {
		if strings.TrimSpace(*req.ProducerProcess) == "" {
			return ConfigUpdateResponse{}, fmt.Errorf("%w: producer_process must not be empty", ErrInvalidConfig)
		}
		cfg.ProducerProcess = *req.ProducerProcess
		changed = true
	}
	for _, f := range []struct {
		name string
		in   *int
		dst  *int
	}{
		{"poll_interval_ms", req.PollIntervalMs, &cfg.PollIntervalMs},
		{"open_retry_count", req.OpenRetryCount, &cfg.OpenRetryCount},
		{"open_retry_delay_ms", req.OpenRetryDelayMs, &cfg.OpenRetryDelayMs},
	} {
		if f.in == nil {
			continue
		}
		if *f.in <= 0 {
			return ConfigUpdateResponse{}, fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, f.name)
		}
		*f.dst = *f.in
		changed = true
	}

	if changed {
		if err := config.SaveConfigTo(cfg, s.ConfigPath); err != nil {
			return ConfigUpdateResponse{}, fmt.Errorf("save config: %w", err)
		}
	}

	resp := ConfigUpdateResponse{
		Success:         true,
		RestartRequired: changed,
	}
	if cfg.Port != originalPort {
		resp.NewPort = cfg.Port
	}
	return resp, nil
}

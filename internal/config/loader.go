// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	ConsumedEnvKeys map[string]struct{} // Mechanical tracking of consumed keys
}

// NewLoader creates a new configuration loader. An empty path loads
// defaults and environment only.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath:      configPath,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path returns the config file path, empty for ENV-only configuration.
func (l *Loader) Path() string { return l.configPath }

// Wrapper methods for mechanical connection tracking

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

// Load loads configuration with precedence: ENV > File > Defaults
// It enforces Strict Validated Order: Parse File (Strict) -> Apply Env -> Validate
func (l *Loader) Load() (Config, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes the YAML file at path over cfg with STRICT parsing.
// Unknown fields will cause a fatal error to prevent misconfiguration.
func (l *Loader) loadFile(path string, cfg *Config) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // Reject unknown fields

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("strict config parse error: %w: %w", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	// Strict: Ensure no multiple documents or trailing content
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

// mergeEnv applies XPLAY_* and LOG_LEVEL overrides.
func (l *Loader) mergeEnv(cfg *Config) {
	cfg.StuckBufferingTimeout = l.envDuration("XPLAY_STUCK_BUFFERING_TIMEOUT", cfg.StuckBufferingTimeout)
	cfg.MaxBufferAheadPeriods = l.envInt("XPLAY_MAX_BUFFER_AHEAD_PERIODS", cfg.MaxBufferAheadPeriods)
	cfg.BufferingMaxInterval = l.envDuration("XPLAY_BUFFERING_MAX_INTERVAL", cfg.BufferingMaxInterval)
	cfg.ReadyMaxInterval = l.envDuration("XPLAY_READY_MAX_INTERVAL", cfg.ReadyMaxInterval)
	cfg.ReleaseTimeout = l.envDuration("XPLAY_RELEASE_TIMEOUT", cfg.ReleaseTimeout)
	cfg.ForegroundTimeout = l.envDuration("XPLAY_FOREGROUND_TIMEOUT", cfg.ForegroundTimeout)
	cfg.Preload.TargetPreloadDuration = l.envDuration("XPLAY_PRELOAD_DURATION", cfg.Preload.TargetPreloadDuration)
	cfg.DynamicScheduling = l.envBool("XPLAY_DYNAMIC_SCHEDULING", cfg.DynamicScheduling)
	cfg.Prewarming = l.envBool("XPLAY_PREWARMING", cfg.Prewarming)

	lc := &cfg.LoadControl
	lc.MinBuffer = l.envDuration("XPLAY_LC_MIN_BUFFER", lc.MinBuffer)
	lc.MaxBuffer = l.envDuration("XPLAY_LC_MAX_BUFFER", lc.MaxBuffer)
	lc.BufferForPlayback = l.envDuration("XPLAY_LC_BUFFER_FOR_PLAYBACK", lc.BufferForPlayback)
	lc.BufferForPlaybackAfterRebuffer = l.envDuration("XPLAY_LC_BUFFER_FOR_PLAYBACK_AFTER_REBUFFER", lc.BufferForPlaybackAfterRebuffer)
	lc.BackBuffer = l.envDuration("XPLAY_LC_BACK_BUFFER", lc.BackBuffer)
	lc.RetainBackBufferFromKeyframe = l.envBool("XPLAY_LC_RETAIN_BACK_BUFFER_FROM_KEYFRAME", lc.RetainBackBufferFromKeyframe)

	tc := &cfg.Telemetry
	tc.Enabled = l.envBool("XPLAY_OTEL_ENABLED", tc.Enabled)
	tc.ServiceName = l.envString("XPLAY_OTEL_SERVICE_NAME", tc.ServiceName)
	tc.Environment = l.envString("XPLAY_OTEL_ENVIRONMENT", tc.Environment)
	tc.ExporterType = l.envString("XPLAY_OTEL_EXPORTER", tc.ExporterType)
	tc.Endpoint = l.envString("XPLAY_OTEL_ENDPOINT", tc.Endpoint)
	tc.SamplingRate = l.envFloat("XPLAY_OTEL_SAMPLING_RATE", tc.SamplingRate)

	cfg.Log.Level = l.envString("LOG_LEVEL", cfg.Log.Level)
}

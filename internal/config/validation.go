// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Validate checks cfg and joins every problem found into one error that
// wraps ErrInvalid.
func Validate(cfg Config) error {
	var errs []error
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%w: %s must be positive, got %s", ErrInvalid, name, d))
		}
	}
	positive("stuckBufferingTimeout", cfg.StuckBufferingTimeout)
	positive("bufferingMaxInterval", cfg.BufferingMaxInterval)
	positive("readyMaxInterval", cfg.ReadyMaxInterval)
	positive("releaseTimeout", cfg.ReleaseTimeout)
	positive("foregroundTimeout", cfg.ForegroundTimeout)

	if cfg.MaxBufferAheadPeriods <= 0 {
		errs = append(errs, fmt.Errorf("%w: maxBufferAheadPeriods must be positive, got %d", ErrInvalid, cfg.MaxBufferAheadPeriods))
	}
	if cfg.Preload.TargetPreloadDuration < 0 {
		errs = append(errs, fmt.Errorf("%w: preload.targetPreloadDuration must not be negative", ErrInvalid))
	}
	if err := cfg.LoadControl.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: loadControl: %w", ErrInvalid, err))
	}

	tc := cfg.Telemetry
	if tc.Enabled {
		if tc.ExporterType != "grpc" && tc.ExporterType != "http" {
			errs = append(errs, fmt.Errorf("%w: telemetry.exporter must be grpc or http, got %q", ErrInvalid, tc.ExporterType))
		}
		if tc.Endpoint == "" {
			errs = append(errs, fmt.Errorf("%w: telemetry.endpoint is required", ErrInvalid))
		}
		if tc.SamplingRate < 0 || tc.SamplingRate > 1 {
			errs = append(errs, fmt.Errorf("%w: telemetry.samplingRate must be within [0, 1]", ErrInvalid))
		}
	}

	if cfg.Log.Level != "" {
		if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil {
			errs = append(errs, fmt.Errorf("%w: log.level: %w", ErrInvalid, err))
		}
	}
	return errors.Join(errs...)
}

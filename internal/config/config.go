// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the engine configuration. Values are resolved with
// the precedence ENV > file > defaults and validated before use.
package config

import (
	"time"

	"github.com/ManuGH/xplay/internal/playback/loadcontrol"
	"github.com/ManuGH/xplay/internal/telemetry"
)

// Config is the complete configuration of a playback session.
type Config struct {
	StuckBufferingTimeout time.Duration `yaml:"stuckBufferingTimeout"`
	MaxBufferAheadPeriods int           `yaml:"maxBufferAheadPeriods"`
	BufferingMaxInterval  time.Duration `yaml:"bufferingMaxInterval"`
	ReadyMaxInterval      time.Duration `yaml:"readyMaxInterval"`
	ReleaseTimeout        time.Duration `yaml:"releaseTimeout"`
	ForegroundTimeout     time.Duration `yaml:"foregroundTimeout"`
	DynamicScheduling     bool          `yaml:"dynamicScheduling"`
	Prewarming            bool          `yaml:"prewarming"`

	Preload     PreloadConfig      `yaml:"preload"`
	LoadControl loadcontrol.Config `yaml:"loadControl"`
	Telemetry   telemetry.Config   `yaml:"telemetry"`
	Log         LogConfig          `yaml:"log"`
}

// PreloadConfig controls speculative loading of upcoming windows. A zero
// duration disables it.
type PreloadConfig struct {
	TargetPreloadDuration time.Duration `yaml:"targetPreloadDuration"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// Defaults returns the stock configuration.
func Defaults() Config {
	return Config{
		StuckBufferingTimeout: 4 * time.Second,
		MaxBufferAheadPeriods: 100,
		BufferingMaxInterval:  10 * time.Millisecond,
		ReadyMaxInterval:      time.Second,
		ReleaseTimeout:        500 * time.Millisecond,
		ForegroundTimeout:     500 * time.Millisecond,
		Prewarming:            true,
		LoadControl:           loadcontrol.DefaultConfig(),
		Telemetry: telemetry.Config{
			ServiceName:  "xplay",
			ExporterType: "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1,
		},
		Log: LogConfig{Level: "info"},
	}
}

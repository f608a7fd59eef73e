// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/xplay/internal/log"
)

// envValue looks key up and logs where the value came from. It reports
// false for unset and empty variables.
func envValue(logger zerolog.Logger, key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	switch {
	case !ok:
		return "", false
	case v == "":
		logger.Debug().Str("key", key).Str("source", "default").
			Msg("using default value (environment variable is empty)")
		return "", false
	}
	return v, true
}

func envLogger() zerolog.Logger { return log.WithComponent("config") }

// ParseString reads a string from environment variable or returns default value.
func ParseString(key, defaultValue string) string {
	logger := envLogger()
	v, ok := envValue(logger, key)
	if !ok {
		return defaultValue
	}
	logger.Debug().Str("key", key).Str("value", v).Str("source", "environment").Msg("using environment variable")
	return v
}

// ParseInt reads an integer from environment variable or returns default value.
// It falls back to default on parse errors.
func ParseInt(key string, defaultValue int) int {
	logger := envLogger()
	v, ok := envValue(logger, key)
	if !ok {
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Int("default", defaultValue).
			Msg("invalid integer in environment variable, using default")
		return defaultValue
	}
	logger.Debug().Str("key", key).Int("value", i).Str("source", "environment").Msg("using environment variable")
	return i
}

// ParseDuration reads a duration from environment variable in Go duration format (e.g. "5s").
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := envLogger()
	v, ok := envValue(logger, key)
	if !ok {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Dur("default", defaultValue).
			Msg("invalid duration in environment variable, using default")
		return defaultValue
	}
	logger.Debug().Str("key", key).Dur("value", d).Str("source", "environment").Msg("using environment variable")
	return d
}

// ParseBool reads a boolean from environment variable or returns default value.
// It accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	logger := envLogger()
	v, ok := envValue(logger, key)
	if !ok {
		return defaultValue
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	logger.Warn().
		Str("key", key).
		Str("value", v).
		Bool("default", defaultValue).
		Msg("invalid boolean in environment variable, using default")
	return defaultValue
}

// ParseFloat reads a float64 from environment variable or returns default value.
func ParseFloat(key string, defaultValue float64) float64 {
	logger := envLogger()
	v, ok := envValue(logger, key)
	if !ok {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Float64("default", defaultValue).
			Msg("invalid float in environment variable, using default")
		return defaultValue
	}
	return f
}

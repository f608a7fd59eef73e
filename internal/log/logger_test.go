// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogger(t *testing.T, cfg Config) *bytes.Buffer {
	t.Helper()
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(prevLevel)
		Replace(Config{})
	})

	var buf bytes.Buffer
	cfg.Output = &buf
	Replace(cfg)
	return &buf
}

func TestReplace_WritesServiceAndComponent(t *testing.T) {
	buf := captureLogger(t, Config{Level: "debug", Service: "playctl"})

	logger := WithComponent("engine")
	logger.Debug().Str(FieldNewState, "ready").Msg("state changed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "playctl", entry["service"])
	assert.Equal(t, "engine", entry[FieldComponent])
	assert.Equal(t, "ready", entry[FieldNewState])
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "state changed", entry["message"])
}

func TestReplace_LevelFiltersEvents(t *testing.T) {
	buf := captureLogger(t, Config{Level: "warn"})

	logger := Base()
	logger.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn().Msg("kept")
	assert.Contains(t, buf.String(), `"message":"kept"`)
}

func TestReplace_InvalidLevelFallsBackToInfo(t *testing.T) {
	t.Setenv("XPLAY_LOG_LEVEL", "")
	buf := captureLogger(t, Config{Level: "loud"})

	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
	logger := Base()
	logger.Debug().Msg("dropped")
	assert.Zero(t, buf.Len())
}

func TestReplace_DefaultServiceFromEnv(t *testing.T) {
	t.Setenv("XPLAY_LOG_SERVICE", "xplay-test")
	buf := captureLogger(t, Config{})

	logger := Base()
	logger.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "xplay-test", entry["service"])
}

func TestReplace_ConsoleOutputIsNotJSON(t *testing.T) {
	buf := captureLogger(t, Config{Console: true})

	logger := Base()
	logger.Info().Msg("human readable")
	assert.Contains(t, buf.String(), "human readable")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package loadcontrol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/xplay/internal/playback/media"
)

func params(bufferedUs int64) Parameters {
	return Parameters{
		PlaybackSpeed:          1,
		BufferedDurationUs:     bufferedUs,
		TargetLiveOffsetUs:     media.TimeUnset,
		LastRebufferRealtimeMs: media.TimeUnset,
	}
}

func TestDefault_LoadingHysteresis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinBuffer = 10 * time.Second
	cfg.MaxBuffer = 20 * time.Second
	d, err := NewDefault(cfg)
	require.NoError(t, err)

	assert.True(t, d.ShouldContinueLoading(params(5_000_000)))
	assert.True(t, d.ShouldContinueLoading(params(15_000_000)), "keeps loading between min and max")
	assert.False(t, d.ShouldContinueLoading(params(20_000_000)))
	assert.False(t, d.ShouldContinueLoading(params(15_000_000)), "stays idle until below min")
	assert.True(t, d.ShouldContinueLoading(params(9_000_000)))
}

func TestDefault_ShouldStartPlayback(t *testing.T) {
	d, err := NewDefault(DefaultConfig())
	require.NoError(t, err)

	assert.False(t, d.ShouldStartPlayback(params(2_000_000)))
	assert.True(t, d.ShouldStartPlayback(params(2_500_000)))

	p := params(3_000_000)
	p.Rebuffering = true
	assert.False(t, d.ShouldStartPlayback(p))

	p.TargetLiveOffsetUs = 4_000_000
	assert.True(t, d.ShouldStartPlayback(p), "live caps the requirement at half the target offset")
}

func TestDefault_PreloadOnlyWhileIdle(t *testing.T) {
	d, err := NewDefault(DefaultConfig())
	require.NoError(t, err)
	assert.True(t, d.ShouldContinuePreloading(nil, media.NoPeriod, 0))
	d.ShouldContinueLoading(params(0))
	assert.False(t, d.ShouldContinuePreloading(nil, media.NoPeriod, 0))
	d.OnStopped()
	assert.True(t, d.ShouldContinuePreloading(nil, media.NoPeriod, 0))
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.MaxBuffer = time.Second
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.MinBuffer = time.Second
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

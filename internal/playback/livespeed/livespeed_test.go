// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package livespeed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ManuGH/xplay/internal/playback/clock"
	"github.com/ManuGH/xplay/internal/playback/media"
	"github.com/ManuGH/xplay/internal/playback/timeline"
)

func liveConfig() timeline.LiveConfiguration {
	return timeline.LiveConfiguration{
		TargetOffsetMs: 5_000,
		MinOffsetMs:    media.TimeUnset,
		MaxOffsetMs:    20_000,
	}
}

func TestDefault_UnitSpeedWithoutConfiguration(t *testing.T) {
	d := NewDefault(DefaultConfig(), clock.NewFake(time.Unix(0, 0)))
	assert.Equal(t, float32(1), d.AdjustedPlaybackSpeed(30_000_000, 10_000_000))
	assert.Equal(t, media.TimeUnset, d.TargetLiveOffsetUs())
}

func TestDefault_SpeedsUpWhenBehindTarget(t *testing.T) {
	c := clock.NewFake(time.Unix(1000, 0))
	d := NewDefault(DefaultConfig(), c)
	d.SetLiveConfiguration(liveConfig())
	assert.Equal(t, int64(5_000_000), d.TargetLiveOffsetUs())

	speed := d.AdjustedPlaybackSpeed(15_000_000, 10_000_000)
	assert.Greater(t, speed, float32(1))
	assert.LessOrEqual(t, speed, float32(1.03))

	// Inside the update interval the previous speed is kept.
	assert.Equal(t, speed, d.AdjustedPlaybackSpeed(5_000_000, 10_000_000))
}

func TestDefault_SlowsDownWhenAheadOfTarget(t *testing.T) {
	c := clock.NewFake(time.Unix(1000, 0))
	d := NewDefault(DefaultConfig(), c)
	d.SetLiveConfiguration(liveConfig())
	speed := d.AdjustedPlaybackSpeed(2_000_000, 1_000_000)
	assert.Less(t, speed, float32(1))
	assert.GreaterOrEqual(t, speed, float32(0.97))
}

func TestDefault_RebufferRaisesTargetUpToMax(t *testing.T) {
	d := NewDefault(DefaultConfig(), clock.NewFake(time.Unix(0, 0)))
	cfg := liveConfig()
	cfg.MaxOffsetMs = 5_700
	d.SetLiveConfiguration(cfg)
	d.NotifyRebuffer()
	assert.Equal(t, int64(5_500_000), d.TargetLiveOffsetUs())
	d.NotifyRebuffer()
	assert.Equal(t, int64(5_700_000), d.TargetLiveOffsetUs())
}

func TestDefault_OverrideAndFixedSpeed(t *testing.T) {
	d := NewDefault(DefaultConfig(), clock.NewFake(time.Unix(0, 0)))
	d.SetLiveConfiguration(liveConfig())
	d.SetTargetLiveOffsetOverrideUs(8_000_000)
	assert.Equal(t, int64(8_000_000), d.TargetLiveOffsetUs())

	fixed := liveConfig()
	fixed.MinPlaybackSpeed = 1
	fixed.MaxPlaybackSpeed = 1
	d.SetLiveConfiguration(fixed)
	assert.Equal(t, float32(1), d.AdjustedPlaybackSpeed(30_000_000, 0))
}

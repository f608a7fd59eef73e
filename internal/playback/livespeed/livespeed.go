// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package livespeed adjusts the playback speed of live streams so that the
// distance to the live edge converges on a target offset.
package livespeed

import (
	"github.com/ManuGH/xplay/internal/playback/clock"
	"github.com/ManuGH/xplay/internal/playback/media"
	"github.com/ManuGH/xplay/internal/playback/timeline"
)

// Control is consulted every tick during live playback.
type Control interface {
	SetLiveConfiguration(c timeline.LiveConfiguration)
	// SetTargetLiveOffsetOverrideUs overrides the media target, media.TimeUnset
	// to clear the override.
	SetTargetLiveOffsetOverrideUs(us int64)
	NotifyRebuffer()
	AdjustedPlaybackSpeed(liveOffsetUs, bufferedDurationUs int64) float32
	// TargetLiveOffsetUs returns media.TimeUnset when no target is known.
	TargetLiveOffsetUs() int64
}

// Config tunes the default controller.
type Config struct {
	FallbackMinSpeed    float32
	FallbackMaxSpeed    float32
	MinUpdateIntervalMs int64
	// ProportionalFactor is the speed change per second of offset error.
	ProportionalFactor           float32
	RebufferTargetIncrementMs    int64
	MinOffsetSmoothingFactor     float32
	MaxOffsetErrorForUnitSpeedMs int64
}

// DefaultConfig returns the stock controller tuning.
func DefaultConfig() Config {
	return Config{
		FallbackMinSpeed:             0.97,
		FallbackMaxSpeed:             1.03,
		MinUpdateIntervalMs:          1000,
		ProportionalFactor:           0.1,
		RebufferTargetIncrementMs:    500,
		MinOffsetSmoothingFactor:     0.999,
		MaxOffsetErrorForUnitSpeedMs: 20,
	}
}

// Default is a proportional controller on the live offset error. The
// target offset grows after rebuffers and shrinks back toward the media
// target while buffering allows it.
type Default struct {
	cfg   Config
	clock clock.Clock

	mediaTargetUs    int64
	overrideTargetUs int64
	minTargetUs      int64
	maxTargetUs      int64
	minSpeed         float32
	maxSpeed         float32

	idealTargetUs   int64
	currentTargetUs int64
	smoothedMinUs   int64
	smoothedDevUs   int64
	lastUpdateMs    int64
	speed           float32
}

// NewDefault returns a controller without live configuration; it reports
// unit speed until SetLiveConfiguration is called.
func NewDefault(cfg Config, c clock.Clock) *Default {
	return &Default{
		cfg:              cfg,
		clock:            c,
		mediaTargetUs:    media.TimeUnset,
		overrideTargetUs: media.TimeUnset,
		minTargetUs:      media.TimeUnset,
		maxTargetUs:      media.TimeUnset,
		minSpeed:         cfg.FallbackMinSpeed,
		maxSpeed:         cfg.FallbackMaxSpeed,
		idealTargetUs:    media.TimeUnset,
		currentTargetUs:  media.TimeUnset,
		smoothedMinUs:    media.TimeUnset,
		smoothedDevUs:    media.TimeUnset,
		lastUpdateMs:     media.TimeUnset,
		speed:            1,
	}
}

func (d *Default) SetLiveConfiguration(c timeline.LiveConfiguration) {
	d.mediaTargetUs = media.MsToUs(c.TargetOffsetMs)
	d.minTargetUs = media.MsToUs(c.MinOffsetMs)
	d.maxTargetUs = media.MsToUs(c.MaxOffsetMs)
	d.minSpeed = d.cfg.FallbackMinSpeed
	if c.MinPlaybackSpeed > 0 {
		d.minSpeed = c.MinPlaybackSpeed
	}
	d.maxSpeed = d.cfg.FallbackMaxSpeed
	if c.MaxPlaybackSpeed > 0 {
		d.maxSpeed = c.MaxPlaybackSpeed
	}
	if d.minSpeed == 1 && d.maxSpeed == 1 {
		// Speed adjustment disabled.
		d.mediaTargetUs = media.TimeUnset
	}
	d.resetTarget()
}

func (d *Default) SetTargetLiveOffsetOverrideUs(us int64) {
	d.overrideTargetUs = us
	d.resetTarget()
}

func (d *Default) NotifyRebuffer() {
	if d.currentTargetUs == media.TimeUnset {
		return
	}
	d.currentTargetUs += media.MsToUs(d.cfg.RebufferTargetIncrementMs)
	if d.maxTargetUs != media.TimeUnset && d.currentTargetUs > d.maxTargetUs {
		d.currentTargetUs = d.maxTargetUs
	}
	d.lastUpdateMs = media.TimeUnset
}

func (d *Default) TargetLiveOffsetUs() int64 { return d.currentTargetUs }

func (d *Default) resetTarget() {
	ideal := d.mediaTargetUs
	if ideal != media.TimeUnset {
		if d.overrideTargetUs != media.TimeUnset {
			ideal = d.overrideTargetUs
		}
		if d.minTargetUs != media.TimeUnset && ideal < d.minTargetUs {
			ideal = d.minTargetUs
		}
		if d.maxTargetUs != media.TimeUnset && ideal > d.maxTargetUs {
			ideal = d.maxTargetUs
		}
	}
	if d.idealTargetUs == ideal {
		return
	}
	d.idealTargetUs = ideal
	d.currentTargetUs = ideal
	d.smoothedMinUs = media.TimeUnset
	d.smoothedDevUs = media.TimeUnset
	d.lastUpdateMs = media.TimeUnset
}

func (d *Default) AdjustedPlaybackSpeed(liveOffsetUs, bufferedDurationUs int64) float32 {
	if d.mediaTargetUs == media.TimeUnset {
		return 1
	}
	d.updateSmoothedMin(liveOffsetUs, bufferedDurationUs)
	now := d.clock.Now().UnixMilli()
	if d.lastUpdateMs != media.TimeUnset && now-d.lastUpdateMs < d.cfg.MinUpdateIntervalMs {
		return d.speed
	}
	d.lastUpdateMs = now
	d.adjustTarget(liveOffsetUs)
	errUs := liveOffsetUs - d.currentTargetUs
	if abs(errUs) < media.MsToUs(d.cfg.MaxOffsetErrorForUnitSpeedMs) {
		d.speed = 1
	} else {
		calc := 1 + d.factorPerUs()*float32(errUs)
		d.speed = min(max(calc, d.minSpeed), d.maxSpeed)
	}
	return d.speed
}

func (d *Default) factorPerUs() float32 { return d.cfg.ProportionalFactor / 1e6 }

func (d *Default) updateSmoothedMin(liveOffsetUs, bufferedDurationUs int64) {
	minPossible := liveOffsetUs - bufferedDurationUs
	if d.smoothedMinUs == media.TimeUnset {
		d.smoothedMinUs = minPossible
		d.smoothedDevUs = 0
		return
	}
	f := d.cfg.MinOffsetSmoothingFactor
	d.smoothedMinUs = max(minPossible, smooth(d.smoothedMinUs, minPossible, f))
	d.smoothedDevUs = smooth(d.smoothedDevUs, abs(minPossible-d.smoothedMinUs), f)
}

func (d *Default) adjustTarget(liveOffsetUs int64) {
	safe := d.smoothedMinUs + 3*d.smoothedDevUs
	if d.currentTargetUs > safe {
		intervalUs := media.MsToUs(d.cfg.MinUpdateIntervalMs)
		dec := int64((d.speed-1)*float32(intervalUs)) + int64((d.maxSpeed-1)*float32(intervalUs))
		d.currentTargetUs = max(safe, d.idealTargetUs, d.currentTargetUs-dec)
		return
	}
	slowing := liveOffsetUs - int64(max(0, d.speed-1)/d.factorPerUs())
	d.currentTargetUs = min(max(slowing, d.currentTargetUs), safe)
	if d.maxTargetUs != media.TimeUnset && d.currentTargetUs > d.maxTargetUs {
		d.currentTargetUs = d.maxTargetUs
	}
}

func smooth(prev, next int64, f float32) int64 {
	return int64(float64(prev)*float64(f) + (1-float64(f))*float64(next))
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

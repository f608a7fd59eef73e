// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package loadcontrol holds the buffering policy consulted by the engine:
// whether to keep loading, when playback may start and whether the next
// item may be preloaded.
package loadcontrol

import (
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/xplay/internal/playback/media"
	"github.com/ManuGH/xplay/internal/playback/timeline"
)

var ErrInvalidConfig = errors.New("invalid load control config")

// Parameters describe the playback situation a decision is made for.
type Parameters struct {
	Timeline           *timeline.Timeline
	PeriodID           media.PeriodID
	PlaybackPositionUs int64
	BufferedDurationUs int64
	PlaybackSpeed      float32
	PlayWhenReady      bool
	Rebuffering        bool
	// TargetLiveOffsetUs is media.TimeUnset outside live playback.
	TargetLiveOffsetUs int64
	// LastRebufferRealtimeMs is media.TimeUnset if playback never rebuffered.
	LastRebufferRealtimeMs int64
}

// Policy decides about loading and playback start. Calls come from the
// engine goroutine only.
type Policy interface {
	OnPrepared()
	OnTracksSelected(p Parameters, groups media.TrackGroups, selections []media.TrackSelection)
	OnStopped()
	OnReleased()
	// BackBufferDurationUs is how much played media is kept behind the
	// playback position.
	BackBufferDurationUs() int64
	RetainBackBufferFromKeyframe() bool
	ShouldContinueLoading(p Parameters) bool
	ShouldStartPlayback(p Parameters) bool
	ShouldContinuePreloading(tl *timeline.Timeline, id media.PeriodID, bufferedDurationUs int64) bool
}

// Config parameterizes the default policy.
type Config struct {
	MinBuffer                      time.Duration `yaml:"minBuffer"`
	MaxBuffer                      time.Duration `yaml:"maxBuffer"`
	BufferForPlayback              time.Duration `yaml:"bufferForPlayback"`
	BufferForPlaybackAfterRebuffer time.Duration `yaml:"bufferForPlaybackAfterRebuffer"`
	BackBuffer                     time.Duration `yaml:"backBuffer"`
	RetainBackBufferFromKeyframe   bool          `yaml:"retainBackBufferFromKeyframe"`
}

// DefaultConfig returns the stock buffer thresholds.
func DefaultConfig() Config {
	return Config{
		MinBuffer:                      50 * time.Second,
		MaxBuffer:                      50 * time.Second,
		BufferForPlayback:              2500 * time.Millisecond,
		BufferForPlaybackAfterRebuffer: 5 * time.Second,
	}
}

// Validate checks the relations between thresholds.
func (c Config) Validate() error {
	switch {
	case c.BufferForPlayback < 0, c.BufferForPlaybackAfterRebuffer < 0, c.BackBuffer < 0:
		return fmt.Errorf("%w: negative duration", ErrInvalidConfig)
	case c.MinBuffer < c.BufferForPlayback:
		return fmt.Errorf("%w: minBuffer %s below bufferForPlayback %s", ErrInvalidConfig, c.MinBuffer, c.BufferForPlayback)
	case c.MinBuffer < c.BufferForPlaybackAfterRebuffer:
		return fmt.Errorf("%w: minBuffer %s below bufferForPlaybackAfterRebuffer %s", ErrInvalidConfig, c.MinBuffer, c.BufferForPlaybackAfterRebuffer)
	case c.MaxBuffer < c.MinBuffer:
		return fmt.Errorf("%w: maxBuffer %s below minBuffer %s", ErrInvalidConfig, c.MaxBuffer, c.MinBuffer)
	}
	return nil
}

// minBufferFloorUs keeps loading going at high speeds.
const minBufferFloorUs = 500_000

// Default loads until MaxBuffer is buffered and resumes below MinBuffer.
type Default struct {
	minUs, maxUs           int64
	playUs, playRebufferUs int64
	backUs                 int64
	retainFromKeyframe     bool
	loading                bool
}

// NewDefault returns the default policy for cfg.
func NewDefault(cfg Config) (*Default, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Default{
		minUs:              cfg.MinBuffer.Microseconds(),
		maxUs:              cfg.MaxBuffer.Microseconds(),
		playUs:             cfg.BufferForPlayback.Microseconds(),
		playRebufferUs:     cfg.BufferForPlaybackAfterRebuffer.Microseconds(),
		backUs:             cfg.BackBuffer.Microseconds(),
		retainFromKeyframe: cfg.RetainBackBufferFromKeyframe,
	}, nil
}

func (d *Default) OnPrepared() { d.loading = false }

func (d *Default) OnTracksSelected(Parameters, media.TrackGroups, []media.TrackSelection) {}

func (d *Default) OnStopped() { d.loading = false }

func (d *Default) OnReleased() { d.loading = false }

func (d *Default) BackBufferDurationUs() int64 { return d.backUs }

func (d *Default) RetainBackBufferFromKeyframe() bool { return d.retainFromKeyframe }

// ShouldContinueLoading applies hysteresis between the min and max buffer:
// loading starts below min and stops at max.
func (d *Default) ShouldContinueLoading(p Parameters) bool {
	minUs := d.minUs
	if p.PlaybackSpeed > 1 {
		minUs = min(media.MediaDurationForPlayoutDuration(minUs, p.PlaybackSpeed), d.maxUs)
	}
	minUs = max(minUs, minBufferFloorUs)
	switch {
	case p.BufferedDurationUs < minUs:
		d.loading = true
	case p.BufferedDurationUs >= d.maxUs:
		d.loading = false
	}
	return d.loading
}

// ShouldStartPlayback requires the playback buffer, or the larger one after
// a rebuffer. Live playback never waits for more than half the target offset.
func (d *Default) ShouldStartPlayback(p Parameters) bool {
	buffered := media.PlayoutDurationForMediaDuration(p.BufferedDurationUs, p.PlaybackSpeed)
	need := d.playUs
	if p.Rebuffering {
		need = d.playRebufferUs
	}
	if p.TargetLiveOffsetUs != media.TimeUnset {
		need = min(p.TargetLiveOffsetUs/2, need)
	}
	return need <= 0 || buffered >= need
}

// ShouldContinuePreloading allows preloading while the main queue is not loading.
func (d *Default) ShouldContinuePreloading(*timeline.Timeline, media.PeriodID, int64) bool {
	return !d.loading
}

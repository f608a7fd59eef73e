// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package media

import (
	"fmt"
	"math"
)

// PlaybackParameters are the user-requested speed and pitch.
type PlaybackParameters struct {
	Speed float32
	Pitch float32
}

// DefaultPlaybackParameters plays at normal speed and pitch.
var DefaultPlaybackParameters = PlaybackParameters{Speed: 1, Pitch: 1}

// Validate rejects non-positive speed or pitch.
func (p PlaybackParameters) Validate() error {
	if p.Speed <= 0 || p.Pitch <= 0 {
		return fmt.Errorf("invalid playback parameters: speed=%v pitch=%v", p.Speed, p.Pitch)
	}
	return nil
}

// WithSpeed returns a copy with the speed replaced.
func (p PlaybackParameters) WithSpeed(speed float32) PlaybackParameters {
	p.Speed = speed
	return p
}

// SeekParameters bound how far a seek may be snapped to a sync sample.
type SeekParameters struct {
	ToleranceBeforeUs int64
	ToleranceAfterUs  int64
}

var (
	SeekExact        = SeekParameters{}
	SeekClosestSync  = SeekParameters{ToleranceBeforeUs: math.MaxInt64, ToleranceAfterUs: math.MaxInt64}
	SeekPreviousSync = SeekParameters{ToleranceBeforeUs: math.MaxInt64}
	SeekNextSync     = SeekParameters{ToleranceAfterUs: math.MaxInt64}
	SeekDefault      = SeekExact
)

// ResolveSeekPositionUs picks the sync point closest to positionUs that lies
// within the tolerance window, falling back to the lower window bound.
func (sp SeekParameters) ResolveSeekPositionUs(positionUs, firstSyncUs, secondSyncUs int64) int64 {
	if sp.ToleranceBeforeUs == 0 && sp.ToleranceAfterUs == 0 {
		return positionUs
	}
	minPos := subtractClamped(positionUs, sp.ToleranceBeforeUs)
	maxPos := addClamped(positionUs, sp.ToleranceAfterUs)
	firstOK := minPos <= firstSyncUs && firstSyncUs <= maxPos
	secondOK := minPos <= secondSyncUs && secondSyncUs <= maxPos
	switch {
	case firstOK && secondOK:
		if abs64(firstSyncUs-positionUs) <= abs64(secondSyncUs-positionUs) {
			return firstSyncUs
		}
		return secondSyncUs
	case firstOK:
		return firstSyncUs
	case secondOK:
		return secondSyncUs
	}
	return minPos
}

func subtractClamped(a, b int64) int64 {
	r := a - b
	if (a^b) < 0 && (a^r) < 0 {
		return math.MinInt64
	}
	return r
}

func addClamped(a, b int64) int64 {
	r := a + b
	if (a^r)&(b^r) < 0 {
		return math.MaxInt64
	}
	return r
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

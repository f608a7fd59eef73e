// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package renderer defines the renderer contract consumed by the engine and
// the Slot that pairs a primary with an optional secondary instance so the
// next item can be pre-warmed while the current one is still playing.
package renderer

import (
	"errors"

	"github.com/ManuGH/xplay/internal/playback/clock"
	"github.com/ManuGH/xplay/internal/playback/media"
	"github.com/ManuGH/xplay/internal/playback/source"
	"github.com/ManuGH/xplay/internal/playback/timeline"
)

// State is the lifecycle state of a renderer instance.
type State string

const (
	StateDisabled State = "disabled"
	StateEnabled  State = "enabled"
	StateStarted  State = "started"
)

// MessageKind identifies an out-of-band renderer message.
type MessageKind int

const (
	MsgVideoOutput       MessageKind = 1
	MsgVolume            MessageKind = 2
	MsgAudioAttributes   MessageKind = 3
	MsgScalingMode       MessageKind = 4
	MsgWakeupListener    MessageKind = 11
	MsgTransferResources MessageKind = 17
	// MsgCustomBase is the first kind available to application messages.
	MsgCustomBase MessageKind = 10000
)

// WakeupListener is installed with MsgWakeupListener. Renderers using
// power-aware output call OnSleep when the engine may stop ticking and
// OnWakeup when it must resume.
type WakeupListener interface {
	OnSleep()
	OnWakeup()
}

// Listener receives renderer notifications. Implementations must be safe to
// call from any goroutine.
type Listener interface {
	OnCapabilitiesChanged(r Renderer)
}

// Renderer consumes one sample stream at a time. It moves through
// disabled → enabled → started and back; Reset releases transient resources
// of a disabled renderer and Release frees everything.
type Renderer interface {
	Name() string
	TrackType() media.TrackType
	SupportsFormat(f media.Format) bool
	Init(index int, l Listener)
	State() State

	Enable(formats []media.Format, stream source.Stream, positionUs int64, joining, mayRenderStartOfStream bool, startPositionUs, offsetUs int64, id media.PeriodID) error
	Start() error
	ReplaceStream(formats []media.Format, stream source.Stream, startPositionUs, offsetUs int64, id media.PeriodID) error
	Stream() source.Stream
	HasReadStreamToEnd() bool
	// ReadingPositionUs is the renderer time read up to, or
	// media.TimeEndOfSource once the stream was read to its end.
	ReadingPositionUs() int64
	SetCurrentStreamFinal()
	IsCurrentStreamFinal() bool
	MaybeThrowStreamError() error
	ResetPosition(positionUs int64) error
	SetPlaybackSpeed(current, target float32) error
	EnableMayRenderStartOfStream()
	SetTimeline(tl *timeline.Timeline)
	Render(positionUs, elapsedRealtimeUs int64) error
	IsReady() bool
	IsEnded() bool
	// DurationToProgressUs is how long until rendering can make progress
	// again, or media.TimeUnset if unknown.
	DurationToProgressUs(positionUs, elapsedRealtimeUs int64) int64
	Stop()
	Disable()
	Reset()
	Release()

	HandleMessage(kind MessageKind, payload any) error
	// MediaClock returns the clock this renderer drives, or nil.
	MediaClock() clock.MediaClock
}

// ClockBinder tracks which enabled renderer drives the media clock.
type ClockBinder interface {
	OnRendererEnabled(r clock.ClockSource) error
	OnRendererDisabled(r clock.ClockSource)
}

type recoverableError struct{ err error }

func (e *recoverableError) Error() string { return e.err.Error() }
func (e *recoverableError) Unwrap() error { return e.err }

// Recoverable marks a renderer failure the engine may retry from.
func Recoverable(err error) error {
	if err == nil {
		return nil
	}
	return &recoverableError{err: err}
}

// IsRecoverable reports whether err was marked with Recoverable.
func IsRecoverable(err error) bool {
	var re *recoverableError
	return errors.As(err, &re)
}

// Formats lists the formats of a selection, nil for a disabled renderer.
func Formats(sel media.TrackSelection) []media.Format {
	if sel == nil {
		return nil
	}
	out := make([]media.Format, sel.Length())
	for i := range out {
		out[i] = sel.Format(i)
	}
	return out
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package source defines the contracts of the media source collaborators: a
// Source publishes a Timeline and creates loadable Periods for it.
package source

import (
	"github.com/ManuGH/xplay/internal/playback/media"
	"github.com/ManuGH/xplay/internal/playback/timeline"
)

// Stream is a per-track stream of samples produced by a Period and
// consumed by a renderer. The engine only inspects its readiness and errors.
type Stream interface {
	IsReady() bool
	MaybeThrowError() error
}

// LoadingInfo is passed to Period.ContinueLoading.
type LoadingInfo struct {
	PlaybackPositionUs   int64
	PlaybackSpeed        float32
	LastRebufferRealtime int64 // ms, media.TimeUnset if never rebuffered
}

// PeriodCallback receives asynchronous period events. Implementations must
// be safe to call from any goroutine.
type PeriodCallback interface {
	OnPrepared(p Period)
	OnContinueLoadingRequested(p Period)
}

// Period is a loadable media span created by a Source for one PeriodID.
type Period interface {
	Prepare(cb PeriodCallback, positionUs int64)
	MaybeThrowPrepareError() error
	TrackGroups() media.TrackGroups
	// SelectTracks applies selections. streams and streamResetFlags are
	// updated in place; the returned value is the actual start position.
	SelectTracks(selections []media.TrackSelection, mayRetainStreamFlags []bool, streams []Stream, streamResetFlags []bool, positionUs int64) int64
	DiscardBuffer(positionUs int64, toKeyframe bool)
	// ReadDiscontinuity returns media.TimeUnset unless a discontinuity must be reported.
	ReadDiscontinuity() int64
	SeekToUs(positionUs int64) int64
	AdjustedSeekPositionUs(positionUs int64, sp media.SeekParameters) int64
	// BufferedPositionUs returns media.TimeEndOfSource once fully buffered.
	BufferedPositionUs() int64
	// NextLoadPositionUs returns media.TimeEndOfSource once loading has finished.
	NextLoadPositionUs() int64
	ContinueLoading(info LoadingInfo) bool
	IsLoading() bool
	ReevaluateBuffer(positionUs int64)
}

// Caller receives timeline updates from a Source. Implementations must
// be safe to call from any goroutine.
type Caller interface {
	OnSourceInfoRefreshed(src Source, tl *timeline.Timeline)
}

// Source produces a Timeline and creates Periods for it.
type Source interface {
	Prepare(caller Caller)
	MaybeThrowSourceInfoRefreshError() error
	CreatePeriod(id media.PeriodID, startPositionUs int64) Period
	ReleasePeriod(p Period)
	Release(caller Caller)
}

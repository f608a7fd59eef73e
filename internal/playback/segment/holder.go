// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package segment

import (
	"fmt"

	"github.com/ManuGH/xplay/internal/playback/media"
	"github.com/ManuGH/xplay/internal/playback/selection"
	"github.com/ManuGH/xplay/internal/playback/source"
	"github.com/ManuGH/xplay/internal/playback/timeline"
)

// Handle addresses a Holder inside a queue. The zero Handle addresses nothing.
type Handle uint64

// PeriodFactory creates and releases the periods backing holders.
type PeriodFactory interface {
	CreatePeriod(id media.PeriodID, startPositionUs int64) (source.Period, error)
	ReleasePeriod(p source.Period)
}

// Holder is a mutable queue node wrapping one loaded or loading span.
type Holder struct {
	handle   Handle
	period   source.Period
	factory  PeriodFactory
	selector selection.Selector
	caps     []selection.Capabilities

	// Info is refreshed in place when the timeline changes.
	Info Info

	streams         []source.Stream
	mayRetain       []bool
	result          *selection.Result
	trackGroups     media.TrackGroups
	offsetUs        int64
	prepared        bool
	prepareCalled   bool
	hasEnabled      bool
	preloadTargetUs int64

	// AllRenderersInCorrectState is cleared when streams changed and the
	// renderers still have to be updated to match.
	AllRenderersInCorrectState bool
}

// NewHolder creates the period for info and wraps it.
func NewHolder(handle Handle, caps []selection.Capabilities, rendererOffsetUs int64, selector selection.Selector, factory PeriodFactory, info Info, preloadTargetUs int64) (*Holder, error) {
	p, err := factory.CreatePeriod(info.ID, info.StartPositionUs)
	if err != nil {
		return nil, fmt.Errorf("create period %s: %w", info.ID, err)
	}
	if media.IsSet(info.EndPositionUs) {
		p = clip(p, info.EndPositionUs)
	}
	n := len(caps)
	return &Holder{
		handle:          handle,
		period:          p,
		factory:         factory,
		selector:        selector,
		caps:            caps,
		Info:            info,
		streams:         make([]source.Stream, n),
		mayRetain:       make([]bool, n),
		offsetUs:        rendererOffsetUs,
		preloadTargetUs: preloadTargetUs,
		result:          &selection.Result{Configs: make([]*selection.RendererConfiguration, n), Selections: make([]media.TrackSelection, n)},
	}, nil
}

func (h *Holder) Handle() Handle                 { return h.handle }
func (h *Holder) Period() source.Period          { return h.period }
func (h *Holder) IsPrepared() bool               { return h.prepared }
func (h *Holder) PrepareCalled() bool            { return h.prepareCalled }
func (h *Holder) HasEnabledTracks() bool         { return h.hasEnabled }
func (h *Holder) TrackGroups() media.TrackGroups { return h.trackGroups }
func (h *Holder) Result() *selection.Result      { return h.result }
func (h *Holder) Stream(i int) source.Stream     { return h.streams[i] }
func (h *Holder) PreloadTargetUs() int64         { return h.preloadTargetUs }

// Owns reports whether p is the period of this holder, wrapped or not.
func (h *Holder) Owns(p source.Period) bool {
	return p != nil && (p == h.period || p == unwrap(h.period))
}

// RendererOffsetUs is added to period time to obtain renderer time.
func (h *Holder) RendererOffsetUs() int64 { return h.offsetUs }

// SetRendererOffsetUs moves the holder on the renderer time axis.
func (h *Holder) SetRendererOffsetUs(us int64) { h.offsetUs = us }

func (h *Holder) ToRendererTime(periodUs int64) int64 { return periodUs + h.offsetUs }
func (h *Holder) ToPeriodTime(rendererUs int64) int64 { return rendererUs - h.offsetUs }

// StartPositionRendererTime is the span start on the renderer time axis.
func (h *Holder) StartPositionRendererTime() int64 {
	return h.Info.StartPositionUs + h.offsetUs
}

// Prepare starts preparing the period.
func (h *Holder) Prepare(cb source.PeriodCallback, positionUs int64) {
	h.prepareCalled = true
	h.period.Prepare(cb, positionUs)
}

// IsFullyBuffered reports whether every enabled track has loaded to the end.
func (h *Holder) IsFullyBuffered() bool {
	return h.prepared && (!h.hasEnabled || h.period.BufferedPositionUs() == media.TimeEndOfSource)
}

// IsFullyPreloaded reports whether a pooled holder buffered its preload target.
func (h *Holder) IsFullyPreloaded() bool {
	if !h.prepared {
		return false
	}
	if h.IsFullyBuffered() {
		return true
	}
	return h.preloadTargetUs != media.TimeUnset &&
		h.period.BufferedPositionUs()-h.Info.StartPositionUs >= h.preloadTargetUs
}

// BufferedPositionUs is the buffered period position, clamped to the
// duration once fully buffered.
func (h *Holder) BufferedPositionUs() int64 {
	if !h.prepared {
		return h.Info.StartPositionUs
	}
	buffered := media.TimeEndOfSource
	if h.hasEnabled {
		buffered = h.period.BufferedPositionUs()
	}
	if buffered == media.TimeEndOfSource {
		return h.Info.DurationUs
	}
	return buffered
}

// NextLoadPositionUs returns the period position of the next load.
func (h *Holder) NextLoadPositionUs() int64 {
	if !h.prepared {
		return 0
	}
	return h.period.NextLoadPositionUs()
}

// HandlePrepared selects tracks once the period is prepared and moves the
// start position to where the period actually starts.
func (h *Holder) HandlePrepared(speed float32, tl *timeline.Timeline, playWhenReady bool) error {
	h.prepared = true
	h.trackGroups = h.period.TrackGroups()
	res, err := h.SelectTracks(speed, tl, playWhenReady)
	if err != nil {
		return err
	}
	requested := h.Info.StartPositionUs
	if h.Info.DurationUs != media.TimeUnset && requested >= h.Info.DurationUs {
		requested = max(0, h.Info.DurationUs-1)
	}
	start := h.ApplyTrackSelection(res, requested, false, make([]bool, len(h.caps)))
	h.offsetUs += h.Info.StartPositionUs - start
	h.Info = h.Info.WithStartPositionUs(start)
	return nil
}

// ContinueLoading asks the period to load more. rendererPositionUs is on
// the renderer time axis.
func (h *Holder) ContinueLoading(info source.LoadingInfo) bool {
	info.PlaybackPositionUs = h.ToPeriodTime(info.PlaybackPositionUs)
	return h.period.ContinueLoading(info)
}

// ReevaluateBuffer lets the period discard buffered data it no longer needs.
func (h *Holder) ReevaluateBuffer(rendererPositionUs int64) {
	if h.prepared {
		h.period.ReevaluateBuffer(h.ToPeriodTime(rendererPositionUs))
	}
}

// SelectTracks runs the selector for this holder without applying the result.
func (h *Holder) SelectTracks(speed float32, tl *timeline.Timeline, playWhenReady bool) (*selection.Result, error) {
	res, err := h.selector.SelectTracks(h.caps, h.trackGroups, h.Info.ID, tl)
	if err != nil {
		return nil, fmt.Errorf("select tracks for %s: %w", h.Info.ID, err)
	}
	for _, s := range res.Selections {
		if s != nil {
			s.OnPlaybackSpeed(speed)
			s.OnPlayWhenReadyChanged(playWhenReady)
		}
	}
	return res, nil
}

// ApplyTrackSelection installs res and rebuilds the streams. Streams of
// renderers whose selection is unchanged are retained unless forceRecreate
// is set. The returned value is the actual start position in period time.
func (h *Holder) ApplyTrackSelection(res *selection.Result, positionUs int64, forceRecreate bool, streamResetFlags []bool) int64 {
	for i := range h.caps {
		h.mayRetain[i] = !forceRecreate && res.IsEquivalentAt(h.result, i)
	}
	h.setSelectionsEnabled(false)
	h.result = res
	h.setSelectionsEnabled(true)
	positionUs = h.period.SelectTracks(res.Selections, h.mayRetain, h.streams, streamResetFlags, positionUs)
	h.hasEnabled = false
	for i, s := range h.streams {
		if s != nil && h.caps[i].TrackType() != media.TrackTypeNone {
			h.hasEnabled = true
		}
	}
	return positionUs
}

// UpdateClipping applies a changed end position to the clipped period.
func (h *Holder) UpdateClipping() {
	if c, ok := h.period.(*clippedPeriod); ok {
		end := h.Info.EndPositionUs
		if end == media.TimeUnset {
			end = media.TimeEndOfSource
		}
		c.updateEnd(end)
	}
}

// CanBeUsedFor reports whether the holder can serve info without reloading.
func (h *Holder) CanBeUsedFor(info Info) bool {
	return DurationsCompatible(h.Info.DurationUs, info.DurationUs) &&
		h.Info.StartPositionUs == info.StartPositionUs &&
		h.Info.ID == info.ID
}

// Release disables selections and returns the period to its source.
func (h *Holder) Release() {
	h.setSelectionsEnabled(false)
	h.factory.ReleasePeriod(unwrap(h.period))
}

func (h *Holder) setSelectionsEnabled(enabled bool) {
	if h.result == nil {
		return
	}
	for _, s := range h.result.Selections {
		if s == nil {
			continue
		}
		if enabled {
			s.Enable()
		} else {
			s.Disable()
		}
	}
}

func (h *Holder) String() string {
	return fmt.Sprintf("holder#%d %s", h.handle, h.Info)
}

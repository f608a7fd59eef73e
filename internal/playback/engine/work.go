// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"errors"
	"math"
	"time"

	"github.com/ManuGH/xplay/internal/log"
	"github.com/ManuGH/xplay/internal/metrics"
	"github.com/ManuGH/xplay/internal/playback/fault"
	"github.com/ManuGH/xplay/internal/playback/loadcontrol"
	"github.com/ManuGH/xplay/internal/playback/media"
	"github.com/ManuGH/xplay/internal/playback/playlist"
	"github.com/ManuGH/xplay/internal/playback/queue"
	"github.com/ManuGH/xplay/internal/playback/renderer"
	"github.com/ManuGH/xplay/internal/playback/segment"
	"github.com/ManuGH/xplay/internal/playback/source"
	"github.com/ManuGH/xplay/internal/playback/timeline"
)

// doSomeWork is one tick of the playback loop: advance the queue, render,
// update the state machine and schedule the next tick.
func (e *Engine) doSomeWork() error {
	start := e.deps.Clock.Now()
	e.cancelTick()
	if e.info.State == StateIdle || e.info.State == StateEnded {
		return nil
	}
	if err := e.updatePeriods(); err != nil {
		return err
	}
	playing := e.queue.Playing()
	if playing == nil {
		e.scheduleNextWork(start)
		return nil
	}
	if err := e.updatePlaybackPositions(); err != nil {
		return err
	}

	renderersEnded, renderersAllowPlayback := true, true
	if playing.IsPrepared() {
		e.rendererElapsedRealtimeUs = start.UnixMicro()
		playing.Period().DiscardBuffer(e.info.PositionUs-e.deps.LoadControl.BackBufferDurationUs(),
			e.deps.LoadControl.RetainBackBufferFromKeyframe())
		for i, s := range e.slots {
			if s.EnabledRendererCount() == 0 {
				e.readyChanged(i, false)
				continue
			}
			if err := s.Render(e.rendererPositionUs, e.rendererElapsedRealtimeUs); err != nil {
				return e.rendererFault(i, err)
			}
			renderersEnded = renderersEnded && s.IsEnded()
			allows := s.AllowsPlayback(playing)
			e.readyChanged(i, allows)
			renderersAllowPlayback = renderersAllowPlayback && allows
			if !allows {
				if err := e.maybeThrowRendererStreamError(i); err != nil {
					return err
				}
			}
		}
	} else if err := playing.Period().MaybeThrowPrepareError(); err != nil {
		return fault.NewSource(err)
	}

	durationUs := playing.Info.DurationUs
	finishedRendering := renderersEnded && playing.IsPrepared() &&
		(durationUs == media.TimeUnset || durationUs <= e.info.PositionUs)
	if finishedRendering && e.pendingPauseAtEnd {
		e.pendingPauseAtEnd = false
		if err := e.setPlayWhenReadyInternal(false, e.info.Suppression, ReasonEndOfMediaItem); err != nil {
			return err
		}
	}
	switch {
	case finishedRendering && playing.Info.IsFinal:
		e.setState(StateEnded)
		e.stopRenderers()
	case e.info.State == StateBuffering && e.shouldTransitionToReady(renderersAllowPlayback):
		e.setState(StateReady)
		e.pendingRecoverable = nil
		if e.shouldPlayWhenReady() {
			e.updateRebufferingState(false, false)
			e.mediaClock.Start()
			if err := e.startRenderers(); err != nil {
				return err
			}
		}
	case e.info.State == StateReady && !e.canKeepPlaying(renderersAllowPlayback):
		e.updateRebufferingState(e.shouldPlayWhenReady(), false)
		e.setState(StateBuffering)
		if e.isRebuffering {
			metrics.IncRebuffer()
			e.forEachSelection(media.TrackSelection.OnRebuffer)
			e.deps.LiveSpeed.NotifyRebuffer()
		}
		e.stopRenderers()
	}

	if err := e.checkStuckBuffering(playing); err != nil {
		return err
	}

	isPlaying := e.shouldPlayWhenReady() && e.info.State == StateReady
	sleeping := e.offloadEnabled && e.requestRendererSleep && isPlaying
	e.info.SleepingForOffload = sleeping
	e.requestRendererSleep = false
	if sleeping || e.info.State == StateEnded {
		return nil
	}
	if isPlaying || e.info.State == StateBuffering ||
		(e.info.State == StateReady && e.enabledRendererCount() != 0) {
		e.scheduleNextWork(start)
	}
	return nil
}

func (e *Engine) canKeepPlaying(renderersAllowPlayback bool) bool {
	if e.enabledRendererCount() == 0 {
		return e.isTimelineReady()
	}
	return renderersAllowPlayback
}

// checkStuckBuffering fails playback once it buffered for the stuck timeout
// with nothing loading and almost nothing buffered.
func (e *Engine) checkStuckBuffering(playing *segment.Holder) error {
	maybeStuck := false
	if e.info.State == StateBuffering {
		for i, s := range e.slots {
			if s.IsReadingFrom(playing) {
				if err := e.maybeThrowRendererStreamError(i); err != nil {
					return err
				}
			}
		}
		maybeStuck = !e.info.IsLoading &&
			e.info.TotalBufferedDurationUs < bufferEmptyThresholdUs &&
			e.isLoadingPossible(e.queue.Loading()) &&
			e.shouldPlayWhenReady()
	}
	now := e.deps.Clock.Now()
	switch {
	case !maybeStuck:
		e.stuckSince = time.Time{}
	case e.stuckSince.IsZero():
		e.stuckSince = now
	case now.Sub(e.stuckSince) >= e.stuckTimeout:
		metrics.IncStuckBuffering()
		e.log.Warn().Dur("timeout", e.stuckTimeout).Msg("playback stuck buffering")
		return fault.NewStuck()
	}
	return nil
}

func (e *Engine) scheduleNextWork(start time.Time) {
	interval := e.cfg.BufferingMaxInterval
	if e.info.State == StateReady && (e.cfg.DynamicScheduling || !e.shouldPlayWhenReady()) {
		interval = e.cfg.ReadyMaxInterval
	}
	if e.cfg.DynamicScheduling && e.shouldPlayWhenReady() {
		for _, s := range e.slots {
			us := s.MinDurationToProgressUs(e.rendererPositionUs, e.rendererElapsedRealtimeUs)
			if us == math.MaxInt64 {
				continue
			}
			interval = min(interval, time.Duration(media.UsToMs(max(us, 0)))*time.Millisecond)
		}
		if playing := e.queue.Playing(); playing != nil {
			next := e.queue.Next(playing)
			ahead := int64(float32(interval.Microseconds()) * e.info.PlaybackParameters.Speed)
			if next != nil && e.rendererPositionUs+ahead >= next.StartPositionRendererTime() {
				interval = min(interval, e.cfg.BufferingMaxInterval)
			}
		}
	}
	e.scheduleTickAfter(start.Add(interval).Sub(e.deps.Clock.Now()))
}

func (e *Engine) shouldTransitionToReady(renderersAllowPlayback bool) bool {
	if e.enabledRendererCount() == 0 {
		return e.isTimelineReady()
	}
	if !renderersAllowPlayback {
		return false
	}
	if !e.info.IsLoading {
		return true
	}
	playing := e.queue.Playing()
	loading := e.queue.Loading()
	if loading.IsFullyBuffered() && loading.Info.IsFinal {
		return true
	}
	if loading.Info.ID.IsAd() && !loading.IsPrepared() {
		return true
	}
	return e.deps.LoadControl.ShouldStartPlayback(e.loadParameters(playing.Info.ID,
		playing.ToPeriodTime(e.rendererPositionUs), e.totalBufferedDurationUs(e.info.BufferedPositionUs)))
}

func (e *Engine) isTimelineReady() bool {
	playing := e.queue.Playing()
	durationUs := playing.Info.DurationUs
	return playing.IsPrepared() &&
		(durationUs == media.TimeUnset || e.info.PositionUs < durationUs || !e.shouldPlayWhenReady())
}

func (e *Engine) shouldPlayWhenReady() bool {
	return e.info.PlayWhenReady && e.info.Suppression == SuppressionNone
}

func (e *Engine) enabledRendererCount() int {
	n := 0
	for _, s := range e.slots {
		n += s.EnabledRendererCount()
	}
	return n
}

func (e *Engine) loadParameters(id media.PeriodID, positionUs, bufferedUs int64) loadcontrol.Parameters {
	target := media.TimeUnset
	if e.shouldUseLivePlaybackSpeedControl(e.info.Timeline, id) {
		target = e.deps.LiveSpeed.TargetLiveOffsetUs()
	}
	return loadcontrol.Parameters{
		Timeline:               e.info.Timeline,
		PeriodID:               id,
		PlaybackPositionUs:     positionUs,
		BufferedDurationUs:     bufferedUs,
		PlaybackSpeed:          e.mediaClock.PlaybackParameters().Speed,
		PlayWhenReady:          e.info.PlayWhenReady,
		Rebuffering:            e.isRebuffering,
		TargetLiveOffsetUs:     target,
		LastRebufferRealtimeMs: e.lastRebufferMs,
	}
}

// Queue maintenance.

func (e *Engine) updatePeriods() error {
	if e.info.Timeline.IsEmpty() || !e.playlist.IsPrepared() {
		return nil
	}
	loadingChanged, err := e.maybeUpdateLoadingPeriod()
	if err != nil {
		return err
	}
	if err := e.maybeUpdatePrewarmingPeriod(); err != nil {
		return err
	}
	if err := e.maybeUpdateReadingPeriod(); err != nil {
		return err
	}
	if err := e.maybeUpdateReadingRenderers(); err != nil {
		return err
	}
	if err := e.maybeUpdatePlayingPeriod(); err != nil {
		return err
	}
	e.maybeUpdatePreloadPeriods(loadingChanged)
	return nil
}

func (e *Engine) maybeUpdateLoadingPeriod() (bool, error) {
	changed := false
	e.queue.ReevaluateBuffer(e.rendererPositionUs)
	if e.queue.ShouldLoadNext() {
		info, ok := e.queue.NextInfo(e.info.Timeline, e.rendererPositionUs, queue.Position{
			ID:                         e.info.PeriodID,
			PositionUs:                 e.info.PositionUs,
			RequestedContentPositionUs: e.info.RequestedContentPositionUs,
		})
		switch {
		case !ok:
			if err := e.playlist.MaybeThrowSourceInfoRefreshError(); err != nil {
				return false, fault.NewSource(err)
			}
		case e.isPlaceholderPeriod(info.ID.PeriodUID):
			// The child source has not published its timeline yet.
		default:
			h, err := e.queue.Enqueue(info)
			if errors.Is(err, playlist.ErrNotPrepared) {
				break
			}
			if err != nil {
				return false, fault.NewSource(err)
			}
			if !h.PrepareCalled() {
				h.Prepare(e.cb, info.StartPositionUs)
			} else if h.IsPrepared() {
				e.post(cmdPeriodPrepared{period: h.Period()})
			}
			if e.queue.Playing() == h {
				if err := e.resetRendererPosition(info.StartPositionUs); err != nil {
					return false, err
				}
			}
			e.handleLoadingPeriodChanged(false)
			changed = true
		}
	}
	if e.shouldKeepLoading {
		e.shouldKeepLoading = e.isLoadingPossible(e.queue.Loading())
		e.updateIsLoading()
	} else {
		e.maybeContinueLoading()
	}
	return changed, nil
}

func (e *Engine) isPlaceholderPeriod(uid string) bool {
	p, _, ok := e.info.Timeline.PeriodByUID(uid)
	return ok && p.IsPlaceholder
}

func (e *Engine) maybeUpdatePrewarmingPeriod() error {
	if e.pendingPauseAtEnd || !e.hasSecondary || e.prewarmingDisabled || e.areRenderersPrewarming() {
		return nil
	}
	ph := e.queue.Prewarming()
	if ph == nil || ph != e.queue.Reading() {
		return nil
	}
	next := e.queue.Next(ph)
	if next == nil || !next.IsPrepared() {
		return nil
	}
	e.queue.AdvancePrewarming()
	return e.maybePrewarmRenderers()
}

func (e *Engine) maybePrewarmRenderers() error {
	ph := e.queue.Prewarming()
	if ph == nil {
		return nil
	}
	res := ph.Result()
	for i, s := range e.slots {
		if !res.IsRendererEnabled(i) || !s.HasSecondary() || s.IsPrewarming() {
			continue
		}
		if err := s.StartPrewarming(); err != nil {
			return e.rendererFault(i, err)
		}
		if err := e.enableRenderer(ph, i, false, ph.StartPositionRendererTime()); err != nil {
			return err
		}
		e.log.Debug().Str(log.FieldRenderer, s.Name()).Str(log.FieldPeriodID, ph.Info.ID.String()).Msg("pre-warming renderer")
	}
	if e.areRenderersPrewarming() {
		e.prewarmDiscontinuity = ph.Period().ReadDiscontinuity()
		if e.prewarmDiscontinuity != media.TimeUnset && !ph.IsFullyBuffered() {
			e.queue.RemoveAfter(ph)
			e.handleLoadingPeriodChanged(false)
			e.maybeContinueLoading()
		}
	}
	return nil
}

func (e *Engine) areRenderersPrewarming() bool {
	if !e.hasSecondary {
		return false
	}
	for _, s := range e.slots {
		if s.IsPrewarming() {
			return true
		}
	}
	return false
}

func (e *Engine) maybeUpdateReadingPeriod() error {
	reading := e.queue.Reading()
	if reading == nil {
		return nil
	}
	next := e.queue.Next(reading)
	if next == nil || e.pendingPauseAtEnd {
		if reading.Info.IsFinal || e.pendingPauseAtEnd {
			for _, s := range e.slots {
				if !s.IsReadingFrom(reading) || !s.HasReadPeriodToEnd(reading) {
					continue
				}
				endUs := media.TimeUnset
				if d := reading.Info.DurationUs; d != media.TimeUnset && d != media.TimeEndOfSource {
					endUs = reading.RendererOffsetUs() + d
				}
				s.SetCurrentStreamFinal(reading, endUs)
			}
		}
		return nil
	}
	if !e.hasReadingPeriodFinishedReading(reading, next) {
		return nil
	}
	if e.areRenderersPrewarming() && e.queue.Prewarming() == reading {
		return nil
	}
	if !next.IsPrepared() && e.rendererPositionUs < next.StartPositionRendererTime() {
		return nil
	}

	oldResult := reading.Result()
	oldID := reading.Info.ID
	reading = e.queue.AdvanceReading()
	newResult := reading.Result()
	if err := e.updatePlaybackSpeedSettingsForNewPeriod(e.info.Timeline, reading.Info.ID,
		e.info.Timeline, oldID, media.TimeUnset, false); err != nil {
		return err
	}

	if reading.IsPrepared() &&
		((e.hasSecondary && e.prewarmDiscontinuity != media.TimeUnset) || reading.Period().ReadDiscontinuity() != media.TimeUnset) {
		e.prewarmDiscontinuity = media.TimeUnset
		handled := e.hasSecondary && !e.prewarmingDisabled
		if handled {
			for i, s := range e.slots {
				if newResult.IsRendererEnabled(i) && !s.IsPrewarming() {
					handled = false
					break
				}
			}
		}
		if !handled {
			for _, s := range e.slots {
				s.SetAllNonPrewarmingStreamsFinal(reading.StartPositionRendererTime())
			}
			if !reading.IsFullyBuffered() {
				e.queue.RemoveAfter(reading)
				e.handleLoadingPeriodChanged(false)
				e.maybeContinueLoading()
			}
			return nil
		}
	}
	for _, s := range e.slots {
		s.MaybeSetOldStreamToFinal(oldResult, newResult, reading.StartPositionRendererTime())
	}
	return nil
}

func (e *Engine) hasReadingPeriodFinishedReading(reading, next *segment.Holder) bool {
	if !reading.IsPrepared() {
		return false
	}
	for _, s := range e.slots {
		if !s.HasFinishedReadingFrom(reading, next) {
			return false
		}
	}
	return true
}

func (e *Engine) maybeUpdateReadingRenderers() error {
	reading := e.queue.Reading()
	if reading == nil || reading == e.queue.Playing() || reading.AllRenderersInCorrectState {
		return nil
	}
	ok, err := e.updateRenderersForTransition()
	if err != nil {
		return err
	}
	if ok {
		reading.AllRenderersInCorrectState = true
	}
	return nil
}

// updateRenderersForTransition hands each slot the streams of the new
// reading holder and reports whether every slot finished the hand-over.
func (e *Engine) updateRenderersForTransition() (bool, error) {
	reading := e.queue.Reading()
	res := reading.Result()
	allUpdated := true
	for i, s := range e.slots {
		before := s.EnabledRendererCount()
		t, err := s.ReplaceStreamsOrDisableForTransition(reading, res, e.mediaClock)
		if err != nil {
			return false, e.rendererFault(i, err)
		}
		if t&renderer.TransitionDisableOffload != 0 && e.offloadEnabled {
			e.offloadEnabled = false
		}
		if s.EnabledRendererCount() < before {
			e.readyChanged(i, false)
		}
		allUpdated = allUpdated && t&renderer.TransitionCompleted != 0
	}
	if !allUpdated {
		return false, nil
	}
	for i, s := range e.slots {
		if res.IsRendererEnabled(i) && !s.IsReadingFrom(reading) {
			if err := e.enableRenderer(reading, i, false, reading.StartPositionRendererTime()); err != nil {
				return false, err
			}
		}
	}
	return true, nil
}

func (e *Engine) maybeUpdatePlayingPeriod() error {
	advanced := false
	for e.shouldAdvancePlayingPeriod() {
		if advanced {
			e.publish()
		}
		e.prewarmingDisabled = false
		prev := e.info.PeriodID
		h := e.queue.AdvancePlaying()
		id := h.Info.ID
		cancelledAdTransition := prev.PeriodUID == id.PeriodUID && !prev.IsAd() && !id.IsAd() &&
			prev.NextAdGroupIndex != id.NextAdGroupIndex
		e.handlePositionDiscontinuity(id, h.Info.StartPositionUs, h.Info.RequestedContentPositionUs,
			h.Info.StartPositionUs, !cancelledAdTransition, DiscontinuityAutoTransition)
		e.resetPendingPauseAtEnd()
		if err := e.updatePlaybackPositions(); err != nil {
			return err
		}
		if e.areRenderersPrewarming() && h == e.queue.Prewarming() {
			for i, s := range e.slots {
				wasPrewarming := s.IsPrewarming()
				if err := s.MaybeHandlePrewarmingTransition(); err != nil {
					return e.rendererFault(i, err)
				}
				if wasPrewarming && !s.IsPrewarming() {
					metrics.IncPrewarmTransition(string(s.TrackType()))
				}
			}
		}
		if e.info.State == StateReady {
			if err := e.startRenderers(); err != nil {
				return err
			}
		}
		e.allowRenderersToRenderStartOfStreams()
		advanced = true
	}
	return nil
}

func (e *Engine) shouldAdvancePlayingPeriod() bool {
	if !e.shouldPlayWhenReady() || e.pendingPauseAtEnd {
		return false
	}
	playing := e.queue.Playing()
	if playing == nil {
		return false
	}
	next := e.queue.Next(playing)
	return next != nil && e.rendererPositionUs >= next.StartPositionRendererTime() && next.AllRenderersInCorrectState
}

func (e *Engine) allowRenderersToRenderStartOfStreams() {
	res := e.queue.Playing().Result()
	if res == nil {
		return
	}
	for i, s := range e.slots {
		if res.IsRendererEnabled(i) {
			s.EnableMayRenderStartOfStream()
		}
	}
}

func (e *Engine) maybeUpdatePreloadPeriods(loadingChanged bool) {
	if e.preload.TargetPreloadDurationUs == media.TimeUnset {
		return
	}
	if loadingChanged || e.info.Timeline != e.lastPreloadTimeline {
		e.lastPreloadTimeline = e.info.Timeline
		e.queue.InvalidatePreloadPool(e.info.Timeline)
	}
	e.maybeContinuePreloading()
}

func (e *Engine) maybeContinuePreloading() {
	e.queue.UpdatePreloading()
	h := e.queue.Preloading()
	if h == nil || (h.PrepareCalled() && !h.IsPrepared()) || h.Period().IsLoading() {
		return
	}
	buffered := int64(0)
	if h.IsPrepared() {
		buffered = h.BufferedPositionUs()
	}
	if !e.deps.LoadControl.ShouldContinuePreloading(e.info.Timeline, h.Info.ID, buffered) {
		return
	}
	if !h.PrepareCalled() {
		h.Prepare(e.cb, h.Info.StartPositionUs)
		return
	}
	h.ContinueLoading(e.loadingInfo())
}

// Loading.

func (e *Engine) handlePeriodPrepared(p source.Period) error {
	if e.queue.IsLoading(p) {
		return e.handleLoadingPeriodPrepared(e.queue.Loading())
	}
	h := e.queue.PreloadHolderFor(p)
	if h == nil || h.IsPrepared() {
		return nil
	}
	if err := h.HandlePrepared(e.mediaClock.PlaybackParameters().Speed, e.info.Timeline, e.info.PlayWhenReady); err != nil {
		return fault.From(err)
	}
	if e.queue.IsPreloading(p) {
		e.maybeContinuePreloading()
	}
	return nil
}

func (e *Engine) handleLoadingPeriodPrepared(h *segment.Holder) error {
	if !h.IsPrepared() {
		if err := h.HandlePrepared(e.mediaClock.PlaybackParameters().Speed, e.info.Timeline, e.info.PlayWhenReady); err != nil {
			return fault.From(err)
		}
	}
	e.updateLoadControlTrackSelection(h)
	if h == e.queue.Playing() {
		if err := e.resetRendererPosition(h.Info.StartPositionUs); err != nil {
			return err
		}
		if err := e.enableRenderers(); err != nil {
			return err
		}
		h.AllRenderersInCorrectState = true
		e.handlePositionDiscontinuity(e.info.PeriodID, h.Info.StartPositionUs, e.info.RequestedContentPositionUs,
			h.Info.StartPositionUs, false, DiscontinuityInternal)
	}
	e.maybeContinueLoading()
	return nil
}

func (e *Engine) handleContinueLoadingRequested(p source.Period) {
	switch {
	case e.queue.IsLoading(p):
		e.queue.ReevaluateBuffer(e.rendererPositionUs)
		e.maybeContinueLoading()
	case e.queue.IsPreloading(p):
		e.maybeContinuePreloading()
	}
}

func (e *Engine) maybeContinueLoading() {
	e.shouldKeepLoading = e.shouldContinueLoading()
	if e.shouldKeepLoading {
		e.queue.Loading().ContinueLoading(e.loadingInfo())
	}
	e.updateIsLoading()
}

func (e *Engine) loadingInfo() source.LoadingInfo {
	return source.LoadingInfo{
		PlaybackPositionUs:   e.rendererPositionUs,
		PlaybackSpeed:        e.mediaClock.PlaybackParameters().Speed,
		LastRebufferRealtime: e.lastRebufferMs,
	}
}

func (e *Engine) shouldContinueLoading() bool {
	loading := e.queue.Loading()
	if !e.isLoadingPossible(loading) {
		return false
	}
	bufferedUs := e.totalBufferedDurationUs(loading.NextLoadPositionUs())
	positionUs := loading.ToPeriodTime(e.rendererPositionUs)
	if loading != e.queue.Playing() {
		positionUs -= loading.Info.StartPositionUs
	}
	params := e.loadParameters(loading.Info.ID, positionUs, bufferedUs)
	lc := e.deps.LoadControl
	if lc.ShouldContinueLoading(params) {
		return true
	}
	playing := e.queue.Playing()
	if playing.IsPrepared() && bufferedUs < bufferEmptyThresholdUs &&
		(lc.BackBufferDurationUs() > 0 || lc.RetainBackBufferFromKeyframe()) {
		playing.Period().DiscardBuffer(e.info.PositionUs, false)
		return lc.ShouldContinueLoading(params)
	}
	return false
}

func (e *Engine) isLoadingPossible(h *segment.Holder) bool {
	return h != nil && h.NextLoadPositionUs() != media.TimeEndOfSource
}

func (e *Engine) updateIsLoading() {
	loading := e.queue.Loading()
	e.info.IsLoading = e.shouldKeepLoading || (loading != nil && loading.Period().IsLoading())
}

func (e *Engine) handleLoadingPeriodChanged(selectionChanged bool) {
	loading := e.queue.Loading()
	id := e.info.PeriodID
	if loading != nil {
		id = loading.Info.ID
	}
	changed := e.info.LoadingPeriodID != id
	e.info.LoadingPeriodID = id
	if loading == nil {
		e.info.BufferedPositionUs = e.info.PositionUs
	} else {
		e.info.BufferedPositionUs = loading.BufferedPositionUs()
	}
	e.info.TotalBufferedDurationUs = e.totalBufferedDurationUs(e.info.BufferedPositionUs)
	if (changed || selectionChanged) && loading != nil && loading.IsPrepared() {
		e.updateLoadControlTrackSelection(loading)
	}
}

func (e *Engine) updateLoadControlTrackSelection(h *segment.Holder) {
	res := h.Result()
	if res == nil {
		return
	}
	params := e.loadParameters(h.Info.ID, h.ToPeriodTime(e.rendererPositionUs), e.info.TotalBufferedDurationUs)
	e.deps.LoadControl.OnTracksSelected(params, h.TrackGroups(), res.Selections)
}

// totalBufferedDurationUs is how far the loading holder buffered beyond the
// current renderer position.
func (e *Engine) totalBufferedDurationUs(bufferedInLoadingUs int64) int64 {
	loading := e.queue.Loading()
	if loading == nil {
		return 0
	}
	return max(0, bufferedInLoadingUs-loading.ToPeriodTime(e.rendererPositionUs))
}

// Positions.

func (e *Engine) updatePlaybackPositions() error {
	playing := e.queue.Playing()
	if playing == nil {
		return nil
	}
	discontinuityUs := media.TimeUnset
	if playing.IsPrepared() {
		discontinuityUs = playing.Period().ReadDiscontinuity()
	}
	if discontinuityUs != media.TimeUnset {
		if !playing.IsFullyBuffered() {
			e.queue.RemoveAfter(playing)
			e.handleLoadingPeriodChanged(false)
			e.maybeContinueLoading()
		}
		if err := e.resetRendererPosition(discontinuityUs); err != nil {
			return err
		}
		if discontinuityUs != e.info.PositionUs {
			e.handlePositionDiscontinuity(e.info.PeriodID, discontinuityUs, e.info.RequestedContentPositionUs,
				discontinuityUs, true, DiscontinuityInternal)
		}
	} else {
		e.rendererPositionUs = e.mediaClock.SyncAndGetPositionUs(playing != e.queue.Reading())
		periodUs := playing.ToPeriodTime(e.rendererPositionUs)
		if err := e.maybeTriggerPendingMessages(e.info.PositionUs, periodUs); err != nil {
			return err
		}
		if periodUs != e.info.PositionUs {
			e.info.PositionUpdateTime = e.deps.Clock.Now()
		}
		e.info.PositionUs = periodUs
	}

	e.info.BufferedPositionUs = e.queue.Loading().BufferedPositionUs()
	e.info.TotalBufferedDurationUs = e.totalBufferedDurationUs(e.info.BufferedPositionUs)

	if e.info.PlayWhenReady && e.info.State == StateReady &&
		e.shouldUseLivePlaybackSpeedControl(e.info.Timeline, e.info.PeriodID) &&
		e.info.PlaybackParameters.Speed == 1 {
		adjusted := e.deps.LiveSpeed.AdjustedPlaybackSpeed(e.currentLiveOffsetUs(), e.info.TotalBufferedDurationUs)
		if e.mediaClock.PlaybackParameters().Speed != adjusted {
			e.mediaClock.SetPlaybackParameters(e.info.PlaybackParameters.WithSpeed(adjusted))
			return e.handlePlaybackParameters(e.info.PlaybackParameters, e.mediaClock.PlaybackParameters().Speed, false)
		}
	}
	return nil
}

// currentLiveOffsetUs is the distance from the playback position to the
// live edge of the current window, media.TimeUnset outside live windows.
func (e *Engine) currentLiveOffsetUs() int64 {
	tl := e.info.Timeline
	p, _, ok := tl.PeriodByUID(e.info.PeriodID.PeriodUID)
	if !ok {
		return media.TimeUnset
	}
	w := tl.Window(p.WindowIndex)
	if !w.IsLive() || !w.IsDynamic || w.DurationUs == media.TimeUnset {
		return media.TimeUnset
	}
	return w.DurationUs - (e.info.PositionUs + p.PositionInWindowUs)
}

func (e *Engine) shouldUseLivePlaybackSpeedControl(tl *timeline.Timeline, id media.PeriodID) bool {
	if id.IsAd() || tl.IsEmpty() {
		return false
	}
	w, _, ok := tl.WindowOfPeriod(id.PeriodUID)
	return ok && w.IsLive() && w.IsDynamic
}

// handlePositionDiscontinuity moves the published position and refreshes
// the track information of the playing holder.
func (e *Engine) handlePositionDiscontinuity(id media.PeriodID, positionUs, requestedContentPositionUs, discontinuityStartUs int64, report bool, reason DiscontinuityReason) {
	e.deliverAtStartPos = e.deliverAtStartPos || e.info.PositionUs != positionUs || e.info.PeriodID != id
	e.resetPendingPauseAtEnd()
	if e.playlist.IsPrepared() {
		e.info.TrackGroups, e.info.Selection, e.info.StaticMetadata = nil, nil, nil
		if playing := e.queue.Playing(); playing != nil {
			e.info.TrackGroups = playing.TrackGroups()
			if res := playing.Result(); res != nil {
				e.info.Selection = res
				e.info.StaticMetadata = res.StaticMetadata()
			}
			if playing.Info.RequestedContentPositionUs != requestedContentPositionUs {
				playing.Info = playing.Info.WithRequestedContentPositionUs(requestedContentPositionUs)
			}
			if playing == e.queue.Reading() {
				e.offloadEnabled = e.offloadRequested
			}
		}
	} else if id != e.info.PeriodID {
		e.info.TrackGroups, e.info.Selection, e.info.StaticMetadata = nil, nil, nil
	}
	if report {
		e.update.setDiscontinuity(reason)
	}
	e.info.PeriodID = id
	e.info.PositionUs = positionUs
	e.info.PositionUpdateTime = e.deps.Clock.Now()
	e.info.RequestedContentPositionUs = requestedContentPositionUs
	e.info.DiscontinuityStartPositionUs = discontinuityStartUs
	e.info.TotalBufferedDurationUs = e.totalBufferedDurationUs(e.info.BufferedPositionUs)
}

func (e *Engine) resetRendererPosition(periodPositionUs int64) error {
	playing := e.queue.Playing()
	if playing == nil {
		e.rendererPositionUs = queue.InitialRendererOffsetUs + periodPositionUs
	} else {
		e.rendererPositionUs = playing.ToRendererTime(periodPositionUs)
	}
	e.mediaClock.ResetPosition(e.rendererPositionUs)
	for i, s := range e.slots {
		if err := s.ResetPosition(playing, e.rendererPositionUs); err != nil {
			return e.rendererFault(i, err)
		}
	}
	e.forEachSelection(media.TrackSelection.OnDiscontinuity)
	return nil
}

func (e *Engine) resetPendingPauseAtEnd() {
	playing := e.queue.Playing()
	e.pendingPauseAtEnd = playing != nil && playing.Info.IsLastInTimelineWindow && e.pauseAtEndOfWindow
}

// forEachSelection calls f on every selection of every queued holder.
func (e *Engine) forEachSelection(f func(media.TrackSelection)) {
	for _, h := range e.queue.Holders() {
		res := h.Result()
		if res == nil {
			continue
		}
		for _, s := range res.Selections {
			if s != nil {
				f(s)
			}
		}
	}
}

// Renderers.

func (e *Engine) enableRenderers() error {
	reading := e.queue.Reading()
	return e.enableRenderersFrom(make([]bool, len(e.slots)), reading.StartPositionRendererTime())
}

func (e *Engine) enableRenderersFrom(wasEnabled []bool, startPositionUs int64) error {
	reading := e.queue.Reading()
	res := reading.Result()
	for i, s := range e.slots {
		if !res.IsRendererEnabled(i) {
			s.Reset()
		}
	}
	for i, s := range e.slots {
		if res.IsRendererEnabled(i) && !s.IsReadingFrom(reading) {
			if err := e.enableRenderer(reading, i, wasEnabled[i], startPositionUs); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) enableRenderer(h *segment.Holder, i int, wasEnabled bool, startPositionUs int64) error {
	s := e.slots[i]
	if s.IsEnabled() {
		return nil
	}
	samePeriod := h == e.queue.Playing()
	playing := e.shouldPlayWhenReady() && e.info.State == StateReady
	joining := !wasEnabled && playing && samePeriod
	if err := s.Enable(renderer.Formats(h.Result().Selections[i]), h.Stream(i), e.rendererPositionUs,
		joining, samePeriod, startPositionUs, h.RendererOffsetUs(), h.Info.ID, e.mediaClock); err != nil {
		return e.rendererFault(i, err)
	}
	if playing && samePeriod {
		if err := s.Start(); err != nil {
			return e.rendererFault(i, err)
		}
	}
	return nil
}

func (e *Engine) disableRenderer(i int) error {
	if err := e.slots[i].Disable(e.mediaClock); err != nil {
		return e.rendererFault(i, err)
	}
	e.readyChanged(i, false)
	return nil
}

func (e *Engine) disableRenderers() error {
	var errs []error
	for i := range e.slots {
		if err := e.disableRenderer(i); err != nil {
			errs = append(errs, err)
		}
	}
	e.prewarmDiscontinuity = media.TimeUnset
	return errors.Join(errs...)
}

func (e *Engine) disableAndResetPrewarmingRenderers() error {
	if !e.areRenderersPrewarming() {
		return nil
	}
	for i, s := range e.slots {
		if err := s.DisablePrewarming(e.mediaClock); err != nil {
			return e.rendererFault(i, err)
		}
	}
	e.prewarmDiscontinuity = media.TimeUnset
	return nil
}

func (e *Engine) startRenderers() error {
	playing := e.queue.Playing()
	if playing == nil || playing.Result() == nil {
		return nil
	}
	res := playing.Result()
	for i, s := range e.slots {
		if !res.IsRendererEnabled(i) {
			continue
		}
		if err := s.Start(); err != nil {
			return e.rendererFault(i, err)
		}
	}
	return nil
}

func (e *Engine) stopRenderers() {
	e.mediaClock.Stop()
	for _, s := range e.slots {
		s.Stop()
	}
}

// maybeThrowRendererStreamError surfaces a stream failure of slot i. Text
// and metadata failures only disable the slot.
func (e *Engine) maybeThrowRendererStreamError(i int) error {
	s := e.slots[i]
	playing := e.queue.Playing()
	err := s.MaybeThrowStreamError(playing)
	if err == nil {
		return nil
	}
	if s.TrackType().IsEssential() {
		return fault.NewSource(err)
	}
	e.sometimes.Event(e.log.Warn()).Err(err).Str(log.FieldRenderer, s.Name()).Msg("disabling track after stream error")
	res := playing.Result().WithRendererDisabled(i)
	if err := e.disableRenderer(i); err != nil {
		return err
	}
	playing.ApplyTrackSelection(res, e.info.PositionUs, false, make([]bool, len(e.slots)))
	return nil
}

func (e *Engine) rendererFault(i int, err error) *fault.Error {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return fe
	}
	s := e.slots[i]
	return fault.NewRenderer(err, i, s.Name(), s.TrackType(), renderer.IsRecoverable(err))
}

func (e *Engine) readyChanged(i int, ready bool) {
	if e.rendererReady[i] == ready {
		return
	}
	e.rendererReady[i] = ready
	e.deps.Sink.OnRendererReadyChanged(i, e.slots[i].TrackType(), ready)
}

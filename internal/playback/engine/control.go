// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"time"

	"github.com/ManuGH/xplay/internal/log"
	"github.com/ManuGH/xplay/internal/playback/fault"
	"github.com/ManuGH/xplay/internal/playback/media"
	"github.com/ManuGH/xplay/internal/playback/queue"
	"github.com/ManuGH/xplay/internal/playback/renderer"
	"github.com/ManuGH/xplay/internal/playback/timeline"
)

// Lifecycle.

func (e *Engine) prepareInternal() error {
	e.resetInternal(false, false, false, true)
	e.deps.LoadControl.OnPrepared()
	if e.info.Timeline.IsEmpty() {
		e.setState(StateEnded)
	} else {
		e.setState(StateBuffering)
	}
	e.playlist.Prepare()
	e.scheduleTickNow()
	return nil
}

func (e *Engine) stopInternal(force bool) {
	e.resetInternal(force || !e.foreground, false, true, false)
	e.deps.LoadControl.OnStopped()
	e.setState(StateIdle)
}

func (e *Engine) releaseInternal() {
	if e.released.Load() {
		return
	}
	e.resetInternal(true, false, true, false)
	for _, s := range e.slots {
		s.Release()
	}
	e.deps.LoadControl.OnReleased()
	e.deps.Selector.Release()
	e.setState(StateIdle)
	e.released.Store(true)
}

// resetInternal tears down the loading and rendering state. The position is
// kept unless resetPosition is set; the last error is kept unless
// resetError is set.
func (e *Engine) resetInternal(resetRenderers, resetPosition, releasePlaylist, resetError bool) {
	e.cancelTick()
	e.pendingRecoverable = nil
	e.updateRebufferingState(false, true)
	e.mediaClock.Stop()
	e.rendererPositionUs = queue.InitialRendererOffsetUs
	if err := e.disableRenderers(); err != nil {
		e.log.Error().Err(err).Msg("disable renderers during reset")
	}
	if resetRenderers {
		for _, s := range e.slots {
			s.Reset()
		}
	}

	id := e.info.PeriodID
	positionUs := e.info.PositionUs
	requestedUs := positionUs
	if id.IsAd() || e.isPlaceholderPeriod(id.PeriodUID) {
		requestedUs = e.info.RequestedContentPositionUs
	}
	clearTracks := false
	if resetPosition {
		e.pendingInitialSeek = nil
		newID, newPos := e.placeholderFirstPosition(e.info.Timeline)
		clearTracks = newID != id
		id, positionUs, requestedUs = newID, newPos, media.TimeUnset
	}

	e.queue.Clear()
	e.shouldKeepLoading = false

	e.info.PeriodID = id
	e.info.LoadingPeriodID = id
	e.info.RequestedContentPositionUs = requestedUs
	e.info.PositionUs = positionUs
	e.info.PositionUpdateTime = e.deps.Clock.Now()
	e.info.DiscontinuityStartPositionUs = positionUs
	e.info.BufferedPositionUs = positionUs
	e.info.TotalBufferedDurationUs = 0
	e.info.IsLoading = false
	e.info.SleepingForOffload = false
	if resetError {
		e.info.Error = nil
	}
	if clearTracks {
		e.info.TrackGroups, e.info.Selection, e.info.StaticMetadata = nil, nil, nil
	}

	if releasePlaylist {
		e.queue.ReleasePreloadPool()
		if err := e.playlist.Release(); err != nil {
			e.log.Error().Err(err).Msg("release playlist")
		}
	}
}

func (e *Engine) setState(s State) {
	if s != StateBuffering {
		e.stuckSince = time.Time{}
	}
	if e.info.State == s {
		return
	}
	from := e.info.State
	e.info.State = s
	e.deps.Sink.OnStateChanged(from, s)
}

func (e *Engine) setPlayWhenReadyInternal(play bool, suppression SuppressionReason, reason PlayWhenReadyReason) error {
	e.info.PlayWhenReady = play
	e.info.Suppression = suppression
	e.info.PlayWhenReadyReason = reason
	e.updateRebufferingState(false, false)
	e.forEachSelection(func(s media.TrackSelection) { s.OnPlayWhenReadyChanged(play) })
	if !e.shouldPlayWhenReady() {
		e.stopRenderers()
		if err := e.updatePlaybackPositions(); err != nil {
			return err
		}
		e.queue.ReevaluateBuffer(e.rendererPositionUs)
		return nil
	}
	switch e.info.State {
	case StateReady:
		e.mediaClock.Start()
		if err := e.startRenderers(); err != nil {
			return err
		}
		e.scheduleTickNow()
	case StateBuffering:
		e.scheduleTickNow()
	}
	return nil
}

func (e *Engine) updateRebufferingState(rebuffering, resetLastRebuffer bool) {
	e.isRebuffering = rebuffering
	if rebuffering && !resetLastRebuffer {
		e.lastRebufferMs = e.deps.Clock.Now().UnixMilli()
	} else {
		e.lastRebufferMs = media.TimeUnset
	}
}

// Settings.

func (e *Engine) setRepeatModeInternal(m timeline.RepeatMode) error {
	return e.handlePlaybackModeChange(e.queue.SetRepeatMode(e.info.Timeline, m))
}

func (e *Engine) setShuffleModeEnabledInternal(enabled bool) error {
	return e.handlePlaybackModeChange(e.queue.SetShuffleModeEnabled(e.info.Timeline, enabled))
}

func (e *Engine) handlePlaybackModeChange(altered queue.Altered) error {
	switch {
	case altered.Reading():
		if err := e.seekToCurrentPosition(true); err != nil {
			return err
		}
	case altered.Prewarming():
		if err := e.disableAndResetPrewarmingRenderers(); err != nil {
			return err
		}
	}
	e.handleLoadingPeriodChanged(false)
	return nil
}

func (e *Engine) setPauseAtEndOfWindowInternal(pause bool) error {
	e.pauseAtEndOfWindow = pause
	e.resetPendingPauseAtEnd()
	if e.pendingPauseAtEnd && e.queue.Reading() != e.queue.Playing() {
		// The playing streams must end at the window boundary; renderers
		// already reading ahead are flushed.
		if err := e.seekToCurrentPosition(true); err != nil {
			return err
		}
		e.handleLoadingPeriodChanged(false)
	}
	return nil
}

func (e *Engine) setForegroundModeInternal(foreground bool) {
	if e.foreground == foreground {
		return
	}
	e.foreground = foreground
	if !foreground {
		for _, s := range e.slots {
			s.Reset()
		}
	}
}

func (e *Engine) setVideoOutputInternal(output any) error {
	for i, s := range e.slots {
		if err := s.SetVideoOutput(output); err != nil {
			return e.rendererFault(i, err)
		}
	}
	if e.info.State == StateReady || e.info.State == StateBuffering {
		e.scheduleTickNow()
	}
	return nil
}

func (e *Engine) setVolumeInternal(v float32) error {
	e.volume = v
	for i, s := range e.slots {
		if err := s.SetVolume(v); err != nil {
			return e.rendererFault(i, err)
		}
	}
	return nil
}

func (e *Engine) setOffloadSchedulingEnabledInternal(enabled bool) {
	if e.offloadRequested == enabled {
		return
	}
	e.offloadRequested = enabled
	e.offloadEnabled = enabled
	if !enabled && e.info.SleepingForOffload {
		e.scheduleTickNow()
	}
}

// Playback speed.

func (e *Engine) setPlaybackParametersInternal(p media.PlaybackParameters) error {
	e.mediaClock.SetPlaybackParameters(p)
	params := e.mediaClock.PlaybackParameters()
	return e.handlePlaybackParameters(params, params.Speed, true)
}

// handlePlaybackParameters propagates new parameters. currentSpeed may
// differ from params.Speed while live speed adjustment is active.
func (e *Engine) handlePlaybackParameters(params media.PlaybackParameters, currentSpeed float32, updateInfo bool) error {
	if updateInfo {
		e.info.PlaybackParameters = params
	}
	e.forEachSelection(func(s media.TrackSelection) { s.OnPlaybackSpeed(params.Speed) })
	for i, s := range e.slots {
		if err := s.SetPlaybackSpeed(currentSpeed, params.Speed); err != nil {
			return e.rendererFault(i, err)
		}
	}
	return nil
}

// updatePlaybackSpeedSettingsForNewPeriod configures live speed control
// for the period now being read or played, or restores the user speed when
// leaving a live window.
func (e *Engine) updatePlaybackSpeedSettingsForNewPeriod(newTl *timeline.Timeline, newID media.PeriodID, oldTl *timeline.Timeline, oldID media.PeriodID, positionForTargetOffsetUs int64, forceSetTargetOffsetOverride bool) error {
	if !e.shouldUseLivePlaybackSpeedControl(newTl, newID) {
		target := e.info.PlaybackParameters
		if newID.IsAd() {
			target = media.DefaultPlaybackParameters
		}
		if e.mediaClock.PlaybackParameters() != target {
			e.mediaClock.SetPlaybackParameters(target)
			return e.handlePlaybackParameters(e.info.PlaybackParameters, target.Speed, false)
		}
		return nil
	}
	w, windowIndex, _ := newTl.WindowOfPeriod(newID.PeriodUID)
	e.deps.LiveSpeed.SetLiveConfiguration(*w.Live)
	switch {
	case positionForTargetOffsetUs != media.TimeUnset:
		e.deps.LiveSpeed.SetTargetLiveOffsetOverrideUs(e.liveOffsetUs(newTl, newID.PeriodUID, positionForTargetOffsetUs))
	default:
		changed := true
		if !oldTl.IsEmpty() {
			if ow, _, ok := oldTl.WindowOfPeriod(oldID.PeriodUID); ok {
				changed = ow.UID != newTl.Window(windowIndex).UID
			}
		}
		if changed || forceSetTargetOffsetOverride {
			e.deps.LiveSpeed.SetTargetLiveOffsetOverrideUs(media.TimeUnset)
		}
	}
	return nil
}

// liveOffsetUs is the distance from a period position to the live edge.
func (e *Engine) liveOffsetUs(tl *timeline.Timeline, periodUID string, periodPositionUs int64) int64 {
	p, _, ok := tl.PeriodByUID(periodUID)
	if !ok {
		return media.TimeUnset
	}
	w := tl.Window(p.WindowIndex)
	if !w.IsLive() || !w.IsDynamic || w.DurationUs == media.TimeUnset {
		return media.TimeUnset
	}
	return w.DurationUs - (periodPositionUs + p.PositionInWindowUs)
}

// Errors.

// handleError classifies a failure from a command and applies the matching
// recovery: retry, drop pre-warming, or stop playback.
func (e *Engine) handleError(err error) *fault.Error {
	fe := fault.From(err)
	switch fe.Kind {
	case fault.KindRenderer:
		if reading := e.queue.Reading(); reading != nil {
			fe = fe.WithPeriodID(reading.Info.ID)
		}
		switch {
		case fe.Recoverable && e.pendingRecoverable == nil:
			e.log.Warn().Err(fe).Int(log.FieldRendererIdx, fe.RendererIndex).Msg("recoverable renderer error, retrying")
			e.pendingRecoverable = fe
			e.mbox.postFront(cmdAttemptRecovery{})
			return fe
		case fe.Recoverable:
			e.pendingRecoverable.AddSuppressed(fe)
			e.log.Warn().Err(fe).Msg("renderer error while recovering")
			return fe
		case renderer.FailedWhilePrewarming(fe):
			e.log.Warn().Err(fe).Str(log.FieldRenderer, fe.RendererName).Msg("pre-warming failed, disabling until next transition")
			e.recoverFromPrewarmingFailure()
			return fe
		}
		if e.pendingRecoverable != nil {
			e.pendingRecoverable.AddSuppressed(fe)
			fe = e.pendingRecoverable
			e.pendingRecoverable = nil
		}
		e.catchUpPlayingToReading()
	case fault.KindSource:
		if playing := e.queue.Playing(); playing != nil {
			fe = fe.WithPeriodID(playing.Info.ID)
		}
		e.stopWithError(fe, false)
		return fe
	}
	e.stopWithError(fe, true)
	return fe
}

func (e *Engine) stopWithError(fe *fault.Error, force bool) {
	e.stopInternal(force)
	e.info.Error = fe
	e.deps.Sink.OnPlayerError(fe)
}

// catchUpPlayingToReading advances the playing holder to the reading one so
// the failure is reported against the media that was being rendered.
func (e *Engine) catchUpPlayingToReading() {
	reading := e.queue.Reading()
	if reading == nil || e.queue.Playing() == reading {
		return
	}
	for e.queue.Playing() != reading {
		e.queue.AdvancePlaying()
	}
	e.publish()
	e.handlePositionDiscontinuity(reading.Info.ID, reading.Info.StartPositionUs, reading.Info.RequestedContentPositionUs,
		reading.Info.StartPositionUs, true, DiscontinuityAutoTransition)
}

func (e *Engine) recoverFromPrewarmingFailure() {
	e.prewarmingDisabled = true
	if err := e.disableAndResetPrewarmingRenderers(); err != nil {
		e.log.Error().Err(err).Msg("disable pre-warming renderers")
	}
	ph := e.queue.Prewarming()
	keep := e.queue.Playing()
	if ph != nil && ph != keep {
		for h := keep; h != nil; h = e.queue.Next(h) {
			if e.queue.Next(h) == ph {
				keep = h
				break
			}
		}
	}
	if keep != nil {
		e.queue.RemoveAfter(keep)
	}
	if e.info.State != StateEnded {
		e.maybeContinueLoading()
		e.scheduleTickNow()
	}
}

func (e *Engine) attemptRecovery() error {
	if err := e.reselectTracks(); err != nil {
		return err
	}
	return e.seekToCurrentPosition(true)
}

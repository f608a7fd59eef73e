// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"errors"

	"github.com/ManuGH/xplay/internal/log"
	"github.com/ManuGH/xplay/internal/playback/fault"
	"github.com/ManuGH/xplay/internal/playback/media"
	"github.com/ManuGH/xplay/internal/playback/playlist"
	"github.com/ManuGH/xplay/internal/playback/queue"
	"github.com/ManuGH/xplay/internal/playback/segment"
	"github.com/ManuGH/xplay/internal/playback/timeline"
)

// seekPosition is a window position expressed against the timeline the
// caller saw. tl may be nil for the current timeline.
type seekPosition struct {
	tl               *timeline.Timeline
	windowIndex      int
	windowPositionUs int64
}

// Seeking.

func (e *Engine) seekToInternal(sp seekPosition) error {
	tl := e.info.Timeline
	var (
		id          media.PeriodID
		positionUs  int64
		requestedUs int64
		adjusted    bool
	)
	uid, resolvedUs, resolved := e.resolveSeekPosition(tl, sp, true)
	if !resolved {
		id, positionUs = e.placeholderFirstPosition(tl)
		requestedUs = media.TimeUnset
		adjusted = !tl.IsEmpty()
	} else {
		requestedUs = resolvedUs
		if sp.windowPositionUs == media.TimeUnset {
			requestedUs = media.TimeUnset
		}
		id = e.queue.ResolvePeriodIDForAdsAfterPositionChange(tl, uid, resolvedUs)
		if id.IsAd() {
			p, _, _ := tl.PeriodByUID(id.PeriodUID)
			positionUs = 0
			if p.FirstAdIndexToPlay(id.AdGroupIndex) == id.AdIndexInAdGroup {
				positionUs = p.Ads.AdResumePositionUs
			}
			adjusted = true
		} else {
			positionUs = resolvedUs
			adjusted = sp.windowPositionUs == media.TimeUnset
		}
	}

	switch {
	case tl.IsEmpty():
		// Applied once a source publishes its timeline.
		e.pendingInitialSeek = &sp
	case !resolved:
		e.log.Warn().Int(log.FieldWindowIndex, sp.windowIndex).Int64(log.FieldPositionUs, sp.windowPositionUs).
			Msg("seek position not found in timeline, ending playback")
		if e.info.State != StateIdle {
			e.setState(StateEnded)
		}
		e.resetInternal(false, true, false, true)
	default:
		newPositionUs := positionUs
		if id == e.info.PeriodID {
			if playing := e.queue.Playing(); playing != nil && playing.IsPrepared() && newPositionUs != 0 {
				newPositionUs = playing.Period().AdjustedSeekPositionUs(newPositionUs, e.seekParams)
			}
			if media.UsToMs(newPositionUs) == media.UsToMs(e.info.PositionUs) &&
				(e.info.State == StateBuffering || e.info.State == StateReady) {
				// Already there.
				e.handlePositionDiscontinuity(id, e.info.PositionUs, requestedUs, e.info.PositionUs, false, DiscontinuityNone)
				return nil
			}
		}
		var err error
		newPositionUs, err = e.seekToPeriodPosition(id, newPositionUs, false, e.info.State == StateEnded)
		if err != nil {
			return err
		}
		adjusted = adjusted || positionUs != newPositionUs
		positionUs = newPositionUs
		if err := e.updatePlaybackSpeedSettingsForNewPeriod(tl, id, tl, e.info.PeriodID, requestedUs, true); err != nil {
			return err
		}
	}

	reason := DiscontinuitySeek
	if adjusted {
		reason = DiscontinuitySeekAdjustment
	}
	e.handlePositionDiscontinuity(id, positionUs, requestedUs, positionUs, true, reason)
	return nil
}

// seekToPeriodPosition moves playback to positionUs in period id, keeping
// the queued holder for id if there is one. It returns the position the
// period actually seeked to.
func (e *Engine) seekToPeriodPosition(id media.PeriodID, positionUs int64, forceDisableRenderers, forceBuffering bool) (int64, error) {
	e.stopRenderers()
	e.updateRebufferingState(false, true)
	if forceBuffering || e.info.State == StateReady {
		e.setState(StateBuffering)
	}

	oldPlaying := e.queue.Playing()
	var target *segment.Holder
	for h := oldPlaying; h != nil; h = e.queue.Next(h) {
		if h.Info.ID == id {
			target = h
			break
		}
	}

	if forceDisableRenderers || oldPlaying != target || (target != nil && target.ToRendererTime(positionUs) < 0) {
		if err := e.disableRenderers(); err != nil {
			return positionUs, err
		}
		if target != nil {
			for e.queue.Playing() != target {
				e.queue.AdvancePlaying()
			}
			e.queue.RemoveAfter(target)
			target.SetRendererOffsetUs(queue.InitialRendererOffsetUs)
			if target.IsPrepared() {
				if err := e.enableRenderers(); err != nil {
					return positionUs, err
				}
			}
			target.AllRenderersInCorrectState = true
		}
	}
	if err := e.disableAndResetPrewarmingRenderers(); err != nil {
		return positionUs, err
	}

	if target != nil {
		e.queue.RemoveAfter(target)
		switch {
		case !target.IsPrepared():
			target.Info = target.Info.WithStartPositionUs(positionUs)
		case target.HasEnabledTracks():
			positionUs = target.Period().SeekToUs(positionUs)
			target.Period().DiscardBuffer(positionUs-e.deps.LoadControl.BackBufferDurationUs(),
				e.deps.LoadControl.RetainBackBufferFromKeyframe())
		}
		if err := e.resetRendererPosition(positionUs); err != nil {
			return positionUs, err
		}
		e.maybeContinueLoading()
	} else {
		e.queue.Clear()
		if err := e.resetRendererPosition(positionUs); err != nil {
			return positionUs, err
		}
	}
	e.handleLoadingPeriodChanged(false)
	e.scheduleTickNow()
	return positionUs, nil
}

// seekToCurrentPosition flushes renderers that may have read from removed
// holders by seeking the playing holder to the current position.
func (e *Engine) seekToCurrentPosition(sendDiscontinuity bool) error {
	playing := e.queue.Playing()
	if playing == nil {
		return nil
	}
	id := playing.Info.ID
	positionUs, err := e.seekToPeriodPosition(id, e.info.PositionUs, true, false)
	if err != nil {
		return err
	}
	if positionUs != e.info.PositionUs {
		e.handlePositionDiscontinuity(id, positionUs, e.info.RequestedContentPositionUs, e.info.DiscontinuityStartPositionUs,
			sendDiscontinuity, DiscontinuityInternal)
	}
	return nil
}

// Position resolution.

// resolveSeekPosition maps sp onto tl. When the period sp points at is
// gone and trySubsequent is set, playback resumes at the default position
// of the first later window that still exists.
func (e *Engine) resolveSeekPosition(tl *timeline.Timeline, sp seekPosition, trySubsequent bool) (string, int64, bool) {
	if tl.IsEmpty() {
		return "", 0, false
	}
	seekTl := sp.tl
	if seekTl == nil || seekTl.IsEmpty() {
		seekTl = tl
	}
	uid, positionUs, ok := seekTl.PeriodPosition(sp.windowIndex, sp.windowPositionUs)
	if !ok {
		return "", 0, false
	}
	if seekTl == tl {
		return uid, positionUs, true
	}
	if tl.IndexOfPeriod(uid) != media.IndexUnset {
		p, pi, _ := seekTl.PeriodByUID(uid)
		if p.IsPlaceholder && seekTl.Window(p.WindowIndex).FirstPeriodIndex == pi {
			// The placeholder period might have been replaced by a period
			// with a different window offset.
			_, wi, _ := tl.WindowOfPeriod(uid)
			windowPositionUs := positionUs + p.PositionInWindowUs
			return tl.PeriodPosition(wi, windowPositionUs)
		}
		return uid, positionUs, true
	}
	if mapped, ok := playlist.ResolvePlaceholder(tl, uid); ok {
		_, wi, _ := tl.WindowOfPeriod(mapped)
		return tl.PeriodPosition(wi, sp.windowPositionUs)
	}
	if !trySubsequent {
		return "", 0, false
	}
	next, ok := e.resolveSubsequentPeriod(seekTl, tl, uid)
	if !ok {
		return "", 0, false
	}
	_, wi, _ := tl.WindowOfPeriod(next)
	return tl.PeriodPosition(wi, media.TimeUnset)
}

// resolveSubsequentPeriod finds the uid of the first period of newTl that
// follows oldUID in oldTl, or the first period of the same window if the
// window survived.
func (e *Engine) resolveSubsequentPeriod(oldTl, newTl *timeline.Timeline, oldUID string) (string, bool) {
	oldWindow, _, ok := oldTl.WindowOfPeriod(oldUID)
	if !ok {
		return "", false
	}
	if wi := newTl.IndexOfWindow(oldWindow.UID); wi != media.IndexUnset {
		return newTl.Period(newTl.Window(wi).FirstPeriodIndex).UID, true
	}
	oldIndex := oldTl.IndexOfPeriod(oldUID)
	repeat := e.queue.RepeatMode()
	shuffled := e.queue.ShuffleModeEnabled()
	for i := 0; i < oldTl.PeriodCount(); i++ {
		oldIndex = oldTl.NextPeriodIndex(oldIndex, repeat, shuffled)
		if oldIndex == media.IndexUnset {
			break
		}
		uid := oldTl.Period(oldIndex).UID
		if newTl.IndexOfPeriod(uid) != media.IndexUnset {
			return uid, true
		}
	}
	return "", false
}

// placeholderFirstPosition is where playback starts in tl before any seek:
// the default position of the first window.
func (e *Engine) placeholderFirstPosition(tl *timeline.Timeline) (media.PeriodID, int64) {
	if tl.IsEmpty() {
		return media.NoPeriod, 0
	}
	uid, positionUs, ok := tl.PeriodPosition(tl.FirstWindowIndex(e.queue.ShuffleModeEnabled()), media.TimeUnset)
	if !ok {
		uid, positionUs = tl.Period(0).UID, 0
	}
	id := e.queue.ResolvePeriodIDForAdsAfterPositionChange(tl, uid, 0)
	if id.IsAd() {
		p, _, _ := tl.PeriodByUID(uid)
		positionUs = 0
		if p.FirstAdIndexToPlay(id.AdGroupIndex) == id.AdIndexInAdGroup {
			positionUs = p.Ads.AdResumePositionUs
		}
	}
	return id, positionUs
}

// positionUpdate is where playback continues after a timeline change.
type positionUpdate struct {
	id                  media.PeriodID
	positionUs          int64
	requestedUs         int64
	forceBuffering      bool
	endPlayback         bool
	setTargetLiveOffset bool
}

// resolvePositionForPlaylistChange keeps the current period if it survived
// the change, re-resolves positions requested against placeholders, and
// otherwise falls back to the next surviving window.
func (e *Engine) resolvePositionForPlaylistChange(tl *timeline.Timeline) positionUpdate {
	if tl.IsEmpty() {
		return positionUpdate{id: media.NoPeriod, requestedUs: media.TimeUnset, endPlayback: true}
	}
	oldTl := e.info.Timeline
	oldID := e.info.PeriodID
	uid := oldID.PeriodUID
	shuffled := e.queue.ShuffleModeEnabled()

	usingPlaceholder := oldTl.IsEmpty() || e.isPlaceholderPeriod(uid)
	oldContentUs := e.info.PositionUs
	if oldID.IsAd() || usingPlaceholder {
		oldContentUs = e.info.RequestedContentPositionUs
	}
	newContentUs := oldContentUs
	defaultWindow := media.IndexUnset
	var u positionUpdate

	switch {
	case e.pendingInitialSeek != nil:
		ruid, rpos, ok := e.resolveSeekPosition(tl, *e.pendingInitialSeek, true)
		switch {
		case !ok:
			u.endPlayback = true
			defaultWindow = tl.FirstWindowIndex(shuffled)
		case e.pendingInitialSeek.windowPositionUs == media.TimeUnset:
			p, _, _ := tl.PeriodByUID(ruid)
			defaultWindow = p.WindowIndex
		default:
			uid, newContentUs = ruid, rpos
			u.setTargetLiveOffset = true
		}
		u.forceBuffering = ok && e.info.State == StateEnded
	case oldTl.IsEmpty():
		defaultWindow = tl.FirstWindowIndex(shuffled)
	default:
		if usingPlaceholder && tl.IndexOfPeriod(uid) == media.IndexUnset {
			if mapped, ok := playlist.ResolvePlaceholder(tl, uid); ok {
				uid = mapped
			}
		}
		switch {
		case tl.IndexOfPeriod(uid) == media.IndexUnset:
			next, ok := e.resolveSubsequentPeriod(oldTl, tl, uid)
			if !ok {
				u.endPlayback = true
				defaultWindow = tl.FirstWindowIndex(shuffled)
			} else {
				p, _, _ := tl.PeriodByUID(next)
				defaultWindow = p.WindowIndex
			}
		case oldContentUs == media.TimeUnset:
			p, _, _ := tl.PeriodByUID(uid)
			defaultWindow = p.WindowIndex
		case usingPlaceholder:
			old, oldIndex, _ := oldTl.PeriodByUID(oldID.PeriodUID)
			if oldTl.Window(old.WindowIndex).FirstPeriodIndex == oldIndex {
				p, _, _ := tl.PeriodByUID(uid)
				if ruid, rpos, ok := tl.PeriodPosition(p.WindowIndex, oldContentUs+old.PositionInWindowUs); ok {
					uid, newContentUs = ruid, rpos
				}
			}
			u.setTargetLiveOffset = true
		}
	}

	adResolutionUs := newContentUs
	if defaultWindow != media.IndexUnset {
		duid, dpos, ok := tl.PeriodPosition(defaultWindow, media.TimeUnset)
		if !ok {
			duid, dpos = tl.Period(tl.Window(defaultWindow).FirstPeriodIndex).UID, 0
		}
		uid, adResolutionUs = duid, dpos
		newContentUs = media.TimeUnset
	}

	withAds := e.queue.ResolvePeriodIDForAdsAfterPositionChange(tl, uid, adResolutionUs)
	cuePointUnchangedOrLater := withAds.NextAdGroupIndex == media.IndexUnset ||
		(oldID.NextAdGroupIndex != media.IndexUnset && withAds.NextAdGroupIndex >= oldID.NextAdGroupIndex)
	// Keep the old id while only the next ad group moved later in the same
	// content, so the discontinuity happens at the former cue point.
	onlyNextAdGroupIncreased := oldID.PeriodUID == uid && !oldID.IsAd() && !withAds.IsAd() && cuePointUnchangedOrLater
	u.id = withAds
	if onlyNextAdGroupIncreased {
		u.id = oldID
	}

	u.positionUs = adResolutionUs
	if u.id.IsAd() {
		if u.id == oldID {
			u.positionUs = e.info.PositionUs
		} else {
			p, _, _ := tl.PeriodByUID(u.id.PeriodUID)
			u.positionUs = 0
			if p.FirstAdIndexToPlay(u.id.AdGroupIndex) == u.id.AdIndexInAdGroup {
				u.positionUs = p.Ads.AdResumePositionUs
			}
		}
	}
	u.requestedUs = newContentUs
	return u
}

// Playlist changes.

func (e *Engine) setMediaSourcesInternal(c cmdSetMediaSources) error {
	tl := e.playlist.Set(c.sources, c.shuffle)
	if c.windowIndex != media.IndexUnset {
		e.pendingInitialSeek = &seekPosition{tl: tl, windowIndex: c.windowIndex, windowPositionUs: c.positionUs}
	}
	return e.handlePlaylistChanged(tl, false)
}

// applyPlaylistEdit runs one playlist edit. Out-of-range edits are ignored.
func (e *Engine) applyPlaylistEdit(name string, edit func() (*timeline.Timeline, error)) error {
	tl, err := edit()
	if errors.Is(err, playlist.ErrIndexOutOfRange) {
		e.log.Warn().Err(err).Str(log.FieldCommand, name).Msg("ignoring playlist edit")
		return nil
	}
	if err != nil {
		return fault.NewRuntime(err)
	}
	return e.handlePlaylistChanged(tl, false)
}

func (e *Engine) handlePlaylistRefreshed(item *playlist.Item, tl *timeline.Timeline) error {
	merged, ok := e.playlist.ApplyRefresh(item, tl)
	if !ok {
		e.log.Debug().Str("item", item.UID()).Msg("dropping refresh of removed item")
		return nil
	}
	return e.handlePlaylistChanged(merged, true)
}

// handlePlaylistChanged moves playback onto the new timeline tl.
func (e *Engine) handlePlaylistChanged(tl *timeline.Timeline, isSourceRefresh bool) error {
	u := e.resolvePositionForPlaylistChange(tl)
	positionUs := u.positionUs
	positionChanged := e.info.PeriodID != u.id || positionUs != e.info.PositionUs

	err := e.applyPlaylistChange(tl, u, positionChanged, &positionUs)

	oldTl := e.info.Timeline
	targetUs := media.TimeUnset
	if u.setTargetLiveOffset {
		targetUs = positionUs
	}
	if serr := e.updatePlaybackSpeedSettingsForNewPeriod(tl, u.id, oldTl, e.info.PeriodID, targetUs, false); err == nil {
		err = serr
	}
	if positionChanged || u.requestedUs != e.info.RequestedContentPositionUs {
		oldUID := e.info.PeriodID.PeriodUID
		old, _, found := oldTl.PeriodByUID(oldUID)
		report := positionChanged && !oldTl.IsEmpty() && found && !old.IsPlaceholder
		reason := DiscontinuitySkip
		if tl.IndexOfPeriod(oldUID) == media.IndexUnset {
			reason = DiscontinuityRemove
		}
		e.handlePositionDiscontinuity(u.id, positionUs, u.requestedUs, e.info.DiscontinuityStartPositionUs, report, reason)
	}
	e.resetPendingPauseAtEnd()
	e.resolvePendingMessages(tl, oldTl)
	e.info.Timeline = tl
	if !tl.IsEmpty() {
		e.pendingInitialSeek = nil
	}
	e.handleLoadingPeriodChanged(false)
	e.scheduleTickNow()
	if isSourceRefresh {
		e.log.Debug().Int("windows", tl.WindowCount()).Int("periods", tl.PeriodCount()).Msg("source timeline refreshed")
	}
	return err
}

func (e *Engine) applyPlaylistChange(tl *timeline.Timeline, u positionUpdate, positionChanged bool, positionUs *int64) error {
	if u.endPlayback {
		if e.info.State != StateIdle {
			e.setState(StateEnded)
		}
		e.resetInternal(false, false, false, true)
	}
	for _, s := range e.slots {
		s.SetTimeline(tl)
	}
	switch {
	case !positionChanged:
		// The playing holder survives; reconcile the ones after it.
		maxReadUs, maxPrewarmUs := int64(0), int64(0)
		if reading := e.queue.Reading(); reading != nil {
			maxReadUs = e.maxRendererReadPositionUs(reading)
		}
		if ph := e.queue.Prewarming(); ph != nil && e.areRenderersPrewarming() {
			maxPrewarmUs = e.maxRendererReadPositionUs(ph)
		}
		altered := e.queue.UpdateQueuedPeriods(tl, e.rendererPositionUs, maxReadUs, maxPrewarmUs)
		switch {
		case altered.Reading():
			return e.seekToCurrentPosition(false)
		case altered.Prewarming():
			return e.disableAndResetPrewarmingRenderers()
		}
	case !tl.IsEmpty():
		for _, h := range e.queue.Holders() {
			if h.Info.ID == u.id {
				h.Info = e.queue.UpdatedInfo(tl, h.Info)
				h.UpdateClipping()
			}
		}
		pos, err := e.seekToPeriodPosition(u.id, *positionUs, false, u.forceBuffering)
		*positionUs = pos
		return err
	}
	return nil
}

// maxRendererReadPositionUs is the furthest renderer read position inside
// h, media.TimeEndOfSource once a renderer read it to the end.
func (e *Engine) maxRendererReadPositionUs(h *segment.Holder) int64 {
	maxUs := h.RendererOffsetUs()
	if !h.IsPrepared() {
		return maxUs
	}
	for _, s := range e.slots {
		if !s.IsReadingFrom(h) {
			continue
		}
		us := s.ReadingPositionUs(h)
		if us == media.TimeEndOfSource {
			return media.TimeEndOfSource
		}
		maxUs = max(maxUs, us)
	}
	return maxUs
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"github.com/ManuGH/xplay/internal/log"
	"github.com/ManuGH/xplay/internal/playback/fault"
	"github.com/ManuGH/xplay/internal/playback/selection"
)

// reselectTracks runs the selector again for every prepared holder, from
// the playing one on, until a selection changes. Holders after the changed
// one are dropped and reloaded; if the change reaches what renderers
// already read, the playing holder is re-selected in place.
func (e *Engine) reselectTracks() error {
	speed := e.mediaClock.PlaybackParameters().Speed
	playing := e.queue.Playing()
	reading := e.queue.Reading()
	changedForRead := true

	var (
		h          = playing
		res        *selection.Result
		playingRes *selection.Result
	)
	for {
		if h == nil || !h.IsPrepared() {
			return nil
		}
		var err error
		res, err = h.SelectTracks(speed, e.info.Timeline, e.info.PlayWhenReady)
		if err != nil {
			return fault.NewRuntime(err)
		}
		if h == playing {
			playingRes = res
		}
		if !res.IsEquivalent(h.Result()) {
			break
		}
		if h == reading {
			changedForRead = false
		}
		h = e.queue.Next(h)
	}
	e.log.Debug().Str(log.FieldPeriodID, h.Info.ID.String()).Bool("reading", changedForRead).Msg("track selection changed")

	if changedForRead {
		recreate := e.queue.RemoveAfter(playing).Reading()
		resetFlags := make([]bool, len(e.slots))
		positionUs := playing.ApplyTrackSelection(playingRes, e.info.PositionUs, recreate, resetFlags)
		hasDiscontinuity := e.info.State != StateEnded && positionUs != e.info.PositionUs
		e.handlePositionDiscontinuity(e.info.PeriodID, positionUs, e.info.RequestedContentPositionUs,
			e.info.DiscontinuityStartPositionUs, hasDiscontinuity, DiscontinuityInternal)
		if hasDiscontinuity {
			if err := e.resetRendererPosition(positionUs); err != nil {
				return err
			}
		}
		if err := e.disableAndResetPrewarmingRenderers(); err != nil {
			return err
		}
		wasEnabled := make([]bool, len(e.slots))
		for i, s := range e.slots {
			before := s.EnabledRendererCount()
			wasEnabled[i] = s.IsEnabled()
			if err := s.MaybeDisableOrResetPosition(playing.Stream(i), e.mediaClock, e.rendererPositionUs, resetFlags[i]); err != nil {
				return e.rendererFault(i, err)
			}
			if s.EnabledRendererCount() < before {
				e.readyChanged(i, false)
			}
		}
		if err := e.enableRenderersFrom(wasEnabled, e.rendererPositionUs); err != nil {
			return err
		}
		playing.AllRenderersInCorrectState = true
	} else {
		e.queue.RemoveAfter(h)
		if h.IsPrepared() {
			loadingUs := max(h.Info.StartPositionUs, h.ToPeriodTime(e.rendererPositionUs))
			if e.areRenderersPrewarming() && e.queue.Prewarming() == h {
				if err := e.disableAndResetPrewarmingRenderers(); err != nil {
					return err
				}
			}
			h.ApplyTrackSelection(res, loadingUs, false, make([]bool, len(e.slots)))
		}
	}

	e.handleLoadingPeriodChanged(true)
	if e.info.State != StateEnded {
		e.maybeContinueLoading()
		if err := e.updatePlaybackPositions(); err != nil {
			return err
		}
		e.scheduleTickNow()
	}
	return nil
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import (
	"github.com/ManuGH/xplay/internal/playback/media"
	"github.com/ManuGH/xplay/internal/playback/segment"
	"github.com/ManuGH/xplay/internal/playback/timeline"
)

// ResolvePeriodIDForAds resolves a period position to the id that must play
// there: an ad id if an unplayed ad group precedes the position, a content id
// otherwise.
func (q *Queue) ResolvePeriodIDForAds(tl *timeline.Timeline, periodUID string, positionUs int64) media.PeriodID {
	seq := q.resolveWindowSequenceNumber(tl, periodUID)
	return resolveForAds(tl, periodUID, positionUs, seq)
}

// ResolvePeriodIDForAdsAfterPositionChange is ResolvePeriodIDForAds for
// seeks and timeline changes. It rolls back to a preceding unplayed ad
// period without content in the same window.
func (q *Queue) ResolvePeriodIDForAdsAfterPositionChange(tl *timeline.Timeline, periodUID string, positionUs int64) media.PeriodID {
	seq := q.resolveWindowSequenceNumber(tl, periodUID)
	w, _, _ := tl.WindowOfPeriod(periodUID)
	toPlay := periodUID
	seenAd := false
	for i := tl.IndexOfPeriod(periodUID); i >= w.FirstPeriodIndex; i-- {
		p := tl.Period(i)
		isAd := p.AdGroupCount() > 0
		seenAd = seenAd || isAd
		if p.AdGroupIndexForPositionUs(p.DurationUs) != media.IndexUnset {
			toPlay = p.UID
		}
		if seenAd && (!isAd || p.DurationUs != 0) {
			break
		}
	}
	return resolveForAds(tl, toPlay, positionUs, seq)
}

func resolveForAds(tl *timeline.Timeline, periodUID string, positionUs int64, seq int64) media.PeriodID {
	p, idx, _ := tl.PeriodByUID(periodUID)
	w := tl.Window(p.WindowIndex)
	for isSkippableAdPeriod(p) && idx < w.LastPeriodIndex {
		idx++
		p = tl.Period(idx)
	}
	if g := p.AdGroupIndexForPositionUs(positionUs); g != media.IndexUnset {
		return media.NewAdID(p.UID, g, p.FirstAdIndexToPlay(g), seq)
	}
	return media.NewContentID(p.UID, seq, p.AdGroupIndexAfterPositionUs(positionUs))
}

// isSkippableAdPeriod reports whether p only holds server-side ads that are
// already consumed and no content of its own.
func isSkippableAdPeriod(p timeline.Period) bool {
	n := p.AdGroupCount()
	if n == 0 ||
		(n == 1 && p.IsLivePostrollPlaceholder(0)) ||
		p.Ads.RemovedAdGroupCount >= n ||
		!p.IsServerSideInsertedAdGroup(p.Ads.RemovedAdGroupCount) ||
		p.AdGroupIndexForPositionUs(0) != media.IndexUnset {
		return false
	}
	if p.DurationUs == 0 {
		return true
	}
	last := n - 1
	if p.IsLivePostrollPlaceholder(n - 1) {
		last = n - 2
	}
	var resume int64
	for i := 0; i <= last; i++ {
		resume += p.ContentResumeOffsetUs(i)
	}
	return p.DurationUs <= resume
}

// resolveWindowSequenceNumber reuses the sequence number of a matching
// holder, or allocates a new one.
func (q *Queue) resolveWindowSequenceNumber(tl *timeline.Timeline, periodUID string) int64 {
	_, windowIndex, _ := tl.WindowOfPeriod(periodUID)
	if q.oldFrontUID != "" {
		if _, oldWindow, ok := tl.WindowOfPeriod(q.oldFrontUID); ok && oldWindow == windowIndex {
			return q.oldFrontSeq
		}
	}
	for _, h := range q.chain {
		if h.Info.ID.PeriodUID == periodUID {
			return h.Info.ID.WindowSequenceNumber
		}
	}
	for _, h := range q.chain {
		if _, w, ok := tl.WindowOfPeriod(h.Info.ID.PeriodUID); ok && w == windowIndex {
			return h.Info.ID.WindowSequenceNumber
		}
	}
	if seq, ok := q.pooledWindowSequenceNumber(periodUID); ok {
		return seq
	}
	seq := q.nextWindowSequenceNumber
	q.nextWindowSequenceNumber++
	if len(q.chain) == 0 {
		q.oldFrontUID = periodUID
		q.oldFrontSeq = seq
	}
	return seq
}

func (q *Queue) pooledWindowSequenceNumber(periodUID string) (int64, bool) {
	for _, h := range q.pool {
		if h.Info.ID.PeriodUID == periodUID {
			return h.Info.ID.WindowSequenceNumber, true
		}
	}
	return 0, false
}

func (q *Queue) allocWindowSequenceNumber() int64 {
	seq := q.nextWindowSequenceNumber
	q.nextWindowSequenceNumber++
	return seq
}

// following returns the info of the span after h, or false if it cannot be
// determined yet.
func (q *Queue) following(tl *timeline.Timeline, h *segment.Holder, rendererPositionUs int64) (segment.Info, bool) {
	if _, _, ok := tl.PeriodByUID(h.Info.ID.PeriodUID); !ok {
		return segment.Info{}, false
	}
	bufferedUs := h.RendererOffsetUs() + h.Info.DurationUs - rendererPositionUs
	if h.Info.IsLastInTimelinePeriod {
		return q.firstOfNextPeriod(tl, h, bufferedUs)
	}
	return q.followingInPeriod(tl, h, bufferedUs)
}

func (q *Queue) firstOfNextPeriod(tl *timeline.Timeline, h *segment.Holder, _ int64) (segment.Info, bool) {
	info := h.Info
	current := tl.IndexOfPeriod(info.ID.PeriodUID)
	nextIdx := tl.NextPeriodIndex(current, q.repeat, q.shuffled)
	if nextIdx == media.IndexUnset {
		return segment.Info{}, false
	}
	var start int64
	contentPos := int64(0)
	next := tl.Period(nextIdx)
	nextUID := next.UID
	seq := info.ID.WindowSequenceNumber
	if tl.Window(next.WindowIndex).FirstPeriodIndex == nextIdx {
		// New window: start at its default position.
		contentPos = media.TimeUnset
		uid, pos, ok := tl.PeriodPosition(next.WindowIndex, media.TimeUnset)
		if !ok {
			return segment.Info{}, false
		}
		nextUID, start = uid, pos
		if n := q.Next(h); n != nil && n.Info.ID.PeriodUID == nextUID {
			seq = n.Info.ID.WindowSequenceNumber
		} else if pooled, ok := q.pooledWindowSequenceNumber(nextUID); ok {
			seq = pooled
		} else {
			seq = q.allocWindowSequenceNumber()
		}
	}

	id := resolveForAds(tl, nextUID, start, seq)
	if contentPos != media.TimeUnset && info.RequestedContentPositionUs != media.TimeUnset {
		precedingSSAI := hasServerSideInsertedAds(tl, info.ID.PeriodUID)
		switch {
		case id.IsAd() && precedingSSAI:
			contentPos = info.RequestedContentPositionUs
		case precedingSSAI:
			start = info.RequestedContentPositionUs
		}
	}
	return q.infoFor(tl, id, contentPos, start), true
}

func (q *Queue) followingInPeriod(tl *timeline.Timeline, h *segment.Holder, bufferedUs int64) (segment.Info, bool) {
	info := h.Info
	id := info.ID
	p, _, _ := tl.PeriodByUID(id.PeriodUID)
	preceded := info.IsFollowedByTransitionToSameStream

	if id.IsAd() {
		g := id.AdGroupIndex
		count := p.AdCountInGroup(g)
		if count == media.LengthUnset {
			return segment.Info{}, false
		}
		if next := p.NextAdIndexToPlay(g, id.AdIndexInAdGroup); next < count {
			return q.adInfo(tl, id.PeriodUID, g, next, info.RequestedContentPositionUs, id.WindowSequenceNumber, preceded), true
		}
		start := info.RequestedContentPositionUs
		if start == media.TimeUnset {
			_, pos, ok := tl.PeriodPosition(p.WindowIndex, media.TimeUnset)
			if !ok {
				return segment.Info{}, false
			}
			start = pos
		}
		minStart := minStartAfterAdGroup(p, g)
		return q.contentInfo(tl, id.PeriodUID, max(minStart, start), info.RequestedContentPositionUs, id.WindowSequenceNumber, preceded), true
	}

	if id.NextAdGroupIndex != media.IndexUnset && p.IsLivePostrollPlaceholder(id.NextAdGroupIndex) {
		return q.firstOfNextPeriod(tl, h, bufferedUs)
	}

	g := id.NextAdGroupIndex
	adIndex := p.FirstAdIndexToPlay(g)
	group := p.Ads.AdGroup(g)
	playedSSAI := group.IsServerSideInserted && adIndex < len(group.States) && group.States[adIndex] == timeline.AdPlayed
	if adIndex == p.AdCountInGroup(g) || playedSSAI {
		return q.contentInfo(tl, id.PeriodUID, minStartAfterAdGroup(p, g), info.DurationUs, id.WindowSequenceNumber, false), true
	}
	return q.adInfo(tl, id.PeriodUID, g, adIndex, info.DurationUs, id.WindowSequenceNumber, preceded), true
}

func hasServerSideInsertedAds(tl *timeline.Timeline, periodUID string) bool {
	p, _, ok := tl.PeriodByUID(periodUID)
	if !ok {
		return false
	}
	n := p.AdGroupCount()
	first := p.Ads.RemovedAdGroupCount
	return n > 0 && first < n &&
		p.IsServerSideInsertedAdGroup(first) &&
		(n > 1 || p.AdGroupTimeUs(first) != media.TimeEndOfSource)
}

func (q *Queue) infoFor(tl *timeline.Timeline, id media.PeriodID, requestedContentPositionUs, startPositionUs int64) segment.Info {
	if id.IsAd() {
		return q.adInfo(tl, id.PeriodUID, id.AdGroupIndex, id.AdIndexInAdGroup, requestedContentPositionUs, id.WindowSequenceNumber, false)
	}
	return q.contentInfo(tl, id.PeriodUID, startPositionUs, requestedContentPositionUs, id.WindowSequenceNumber, false)
}

func (q *Queue) adInfo(tl *timeline.Timeline, periodUID string, group, ad int, contentPositionUs, seq int64, preceded bool) segment.Info {
	p, _, _ := tl.PeriodByUID(periodUID)
	dur := p.AdDurationUs(group, ad)
	var start int64
	if ad == p.FirstAdIndexToPlay(group) {
		start = p.Ads.AdResumePositionUs
	}
	if dur != media.TimeUnset && start >= dur {
		start = max(0, dur-1)
	}
	return segment.Info{
		ID:                                   media.NewAdID(periodUID, group, ad, seq),
		StartPositionUs:                      start,
		RequestedContentPositionUs:           contentPositionUs,
		EndPositionUs:                        media.TimeUnset,
		DurationUs:                           dur,
		IsPrecededByTransitionFromSameStream: preceded,
		IsFollowedByTransitionToSameStream:   p.IsServerSideInsertedAdGroup(group),
	}
}

func (q *Queue) contentInfo(tl *timeline.Timeline, periodUID string, startUs, requestedContentPositionUs, seq int64, preceded bool) segment.Info {
	p, _, _ := tl.PeriodByUID(periodUID)
	next := p.AdGroupIndexAfterPositionUs(startUs)
	postrollPlaceholder := next != media.IndexUnset && p.IsLivePostrollPlaceholder(next)
	clipAtContentDuration := false
	if next == media.IndexUnset {
		// Server-side streams are clipped at the end of the period.
		n := p.AdGroupCount()
		clipAtContentDuration = n > 0 && p.Ads.RemovedAdGroupCount < n && p.IsServerSideInsertedAdGroup(p.Ads.RemovedAdGroupCount)
	} else if p.IsServerSideInsertedAdGroup(next) && p.AdGroupTimeUs(next) == p.DurationUs && p.HasPlayedAdGroup(next) {
		// Played server-side post-roll.
		next = media.IndexUnset
		clipAtContentDuration = true
	}

	id := media.NewContentID(periodUID, seq, next)
	lastInPeriod := isLastInPeriod(id)
	lastInWindow := isLastInWindow(tl, id)
	lastInTimeline := q.isLastInTimeline(tl, id, lastInPeriod)
	followed := next != media.IndexUnset && p.IsServerSideInsertedAdGroup(next) && !postrollPlaceholder

	end := media.TimeUnset
	switch {
	case next != media.IndexUnset && !postrollPlaceholder:
		end = p.AdGroupTimeUs(next)
	case clipAtContentDuration:
		end = p.DurationUs
	}
	dur := p.DurationUs
	if end != media.TimeUnset && end != media.TimeEndOfSource {
		dur = end
	}
	if dur != media.TimeUnset && startUs >= dur {
		var back int64
		if lastInTimeline || !clipAtContentDuration {
			back = 1
		}
		startUs = max(0, dur-back)
	}
	return segment.Info{
		ID:                                   id,
		StartPositionUs:                      startUs,
		RequestedContentPositionUs:           requestedContentPositionUs,
		EndPositionUs:                        end,
		DurationUs:                           dur,
		IsPrecededByTransitionFromSameStream: preceded,
		IsFollowedByTransitionToSameStream:   followed,
		IsLastInTimelinePeriod:               lastInPeriod,
		IsLastInTimelineWindow:               lastInWindow,
		IsFinal:                              lastInTimeline,
	}
}

func isLastInPeriod(id media.PeriodID) bool {
	return !id.IsAd() && id.NextAdGroupIndex == media.IndexUnset
}

func isLastInWindow(tl *timeline.Timeline, id media.PeriodID) bool {
	if !isLastInPeriod(id) {
		return false
	}
	w, _, ok := tl.WindowOfPeriod(id.PeriodUID)
	return ok && w.LastPeriodIndex == tl.IndexOfPeriod(id.PeriodUID)
}

func (q *Queue) isLastInTimeline(tl *timeline.Timeline, id media.PeriodID, lastInPeriod bool) bool {
	idx := tl.IndexOfPeriod(id.PeriodUID)
	if idx == media.IndexUnset {
		return false
	}
	w := tl.Window(tl.Period(idx).WindowIndex)
	return !w.IsDynamic && tl.IsLastPeriod(idx, q.repeat, q.shuffled) && lastInPeriod
}

func minStartAfterAdGroup(p timeline.Period, group int) int64 {
	t := p.AdGroupTimeUs(group)
	if t == media.TimeEndOfSource {
		return p.DurationUs
	}
	return t + p.ContentResumeOffsetUs(group)
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import (
	"slices"

	"github.com/samber/lo"

	"github.com/ManuGH/xplay/internal/log"
	"github.com/ManuGH/xplay/internal/playback/media"
	"github.com/ManuGH/xplay/internal/playback/segment"
	"github.com/ManuGH/xplay/internal/playback/timeline"
)

// SetPreloadTarget changes how much of the next window is preloaded and
// rebuilds the pool. media.TimeUnset disables preloading.
func (q *Queue) SetPreloadTarget(tl *timeline.Timeline, targetUs int64) {
	q.preloadTargetUs = targetUs
	q.InvalidatePreloadPool(tl)
}

// PreloadTargetUs returns the configured preload duration.
func (q *Queue) PreloadTargetUs() int64 { return q.preloadTargetUs }

// PreloadPool returns the pooled holders in priority order.
func (q *Queue) PreloadPool() []*segment.Holder {
	return slices.Clone(q.pool)
}

// InvalidatePreloadPool rebuilds the pool so it holds the default start of
// the window after the loading holder. Live windows are never preloaded.
// Holders that still match are kept; all others are released.
func (q *Queue) InvalidatePreloadPool(tl *timeline.Timeline) {
	l := q.Loading()
	if q.preloadTargetUs == media.TimeUnset || l == nil || tl.IsEmpty() {
		q.ReleasePreloadPool()
		return
	}
	var next []*segment.Holder
	if h := q.nextWindowHolder(tl, l); h != nil {
		next = append(next, h)
	}
	q.resetPool(next)
}

func (q *Queue) nextWindowHolder(tl *timeline.Timeline, l *segment.Holder) *segment.Holder {
	_, wi, ok := tl.WindowOfPeriod(l.Info.ID.PeriodUID)
	if !ok {
		return nil
	}
	nextWindow := tl.NextWindowIndex(wi, q.repeat, q.shuffled)
	if nextWindow == media.IndexUnset || tl.Window(nextWindow).IsLive() {
		return nil
	}
	uid, pos, ok := tl.PeriodPosition(nextWindow, media.TimeUnset)
	if !ok {
		return nil
	}
	seq, ok := q.pooledWindowSequenceNumber(uid)
	if !ok {
		seq = q.allocWindowSequenceNumber()
	}
	id := resolveForAds(tl, uid, pos, seq)
	info := q.infoFor(tl, id, media.TimeUnset, pos)
	if h := q.takePooled(info); h != nil {
		return h
	}
	offset := l.RendererOffsetUs() + l.Info.DurationUs - info.StartPositionUs
	q.lastHandle++
	h, err := segment.NewHolder(q.lastHandle, q.cfg.Capabilities, offset, q.cfg.Selector, q.cfg.Factory, info, q.preloadTargetUs)
	if err != nil {
		q.log.Warn().Err(err).Str(log.FieldPeriodID, id.String()).Msg("preload holder not created")
		return nil
	}
	return h
}

// ReleasePreloadPool releases every pooled holder.
func (q *Queue) ReleasePreloadPool() {
	if len(q.pool) > 0 {
		q.resetPool(nil)
	}
}

// takePooled removes and returns the pooled holder usable for info.
func (q *Queue) takePooled(info segment.Info) *segment.Holder {
	_, i, ok := lo.FindIndexOf(q.pool, func(h *segment.Holder) bool { return h.CanBeUsedFor(info) })
	if !ok {
		return nil
	}
	h := q.pool[i]
	q.pool = slices.Delete(q.pool, i, i+1)
	if q.preloading == h {
		q.preloading = nil
	}
	return h
}

func (q *Queue) resetPool(next []*segment.Holder) {
	for _, h := range q.pool {
		h.Release()
	}
	q.pool = next
	q.preloading = nil
	q.UpdatePreloading()
}

// UpdatePreloading picks the first pooled holder that is not yet fully
// preloaded, keeping the current one while it is still loading.
func (q *Queue) UpdatePreloading() {
	if q.preloading != nil && !q.preloading.IsFullyPreloaded() {
		return
	}
	q.preloading = nil
	if h, ok := lo.Find(q.pool, func(h *segment.Holder) bool { return !h.IsFullyPreloaded() }); ok {
		q.preloading = h
	}
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package queue holds the ordered chain of segment holders the engine plays,
// reads, pre-warms and loads, plus a side pool of pre-loaded successors.
//
// Holders live in an arena addressed by segment.Handle. The chain is kept in
// playback order; chain[0] is the playing holder and the last element is the
// loading holder. The reading and pre-warming cursors hold handles and always
// satisfy playing <= reading <= pre-warming <= loading.
package queue

import (
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/ManuGH/xplay/internal/log"
	"github.com/ManuGH/xplay/internal/playback/media"
	"github.com/ManuGH/xplay/internal/playback/segment"
	"github.com/ManuGH/xplay/internal/playback/selection"
	"github.com/ManuGH/xplay/internal/playback/source"
	"github.com/ManuGH/xplay/internal/playback/timeline"
)

// InitialRendererOffsetUs is the renderer offset of the first enqueued
// holder. It keeps renderer time positive even after seeking backwards in a
// period with a negative start.
const InitialRendererOffsetUs int64 = 1_000_000_000_000

// DefaultMaxBufferAheadPeriods bounds how many holders may be queued.
const DefaultMaxBufferAheadPeriods = 100

// Altered is a bit set reporting which cursors a queue mutation invalidated.
type Altered int

const (
	// AlteredReading means renderers may have read from a removed holder and
	// playback must seek to the current position.
	AlteredReading Altered = 1 << iota
	// AlteredPrewarming means pre-warming renderers must be reset.
	AlteredPrewarming
)

func (a Altered) Reading() bool    { return a&AlteredReading != 0 }
func (a Altered) Prewarming() bool { return a&AlteredPrewarming != 0 }

// Position is the playback position the first holder is created for.
type Position struct {
	ID                         media.PeriodID
	PositionUs                 int64
	RequestedContentPositionUs int64
}

// Observer is notified with the queued ids after every mutation. reading is
// media.NoPeriod for an empty queue.
type Observer func(ids []media.PeriodID, reading media.PeriodID)

// Config holds the static queue dependencies.
type Config struct {
	Factory               segment.PeriodFactory
	Selector              selection.Selector
	Capabilities          []selection.Capabilities
	MaxBufferAheadPeriods int
	Observer              Observer
}

// Queue is not safe for concurrent use; it is owned by the engine goroutine.
type Queue struct {
	cfg Config
	log zerolog.Logger

	chain      []*segment.Holder
	reading    segment.Handle
	prewarming segment.Handle
	lastHandle segment.Handle

	repeat   timeline.RepeatMode
	shuffled bool

	nextWindowSequenceNumber int64
	oldFrontUID              string
	oldFrontSeq              int64

	preloadTargetUs int64
	pool            []*segment.Holder
	preloading      *segment.Holder
}

// New returns an empty queue.
func New(cfg Config) *Queue {
	if cfg.MaxBufferAheadPeriods <= 0 {
		cfg.MaxBufferAheadPeriods = DefaultMaxBufferAheadPeriods
	}
	return &Queue{
		cfg:             cfg,
		log:             log.WithComponent("queue"),
		repeat:          timeline.RepeatOff,
		preloadTargetUs: media.TimeUnset,
	}
}

// Len returns the number of queued holders.
func (q *Queue) Len() int { return len(q.chain) }

// Holders returns the queued holders in playback order. The slice is a copy.
func (q *Queue) Holders() []*segment.Holder {
	return append([]*segment.Holder(nil), q.chain...)
}

// Playing returns the holder at the front of the queue, or nil.
func (q *Queue) Playing() *segment.Holder {
	if len(q.chain) == 0 {
		return nil
	}
	return q.chain[0]
}

// Loading returns the holder at the tail of the queue, or nil.
func (q *Queue) Loading() *segment.Holder {
	if len(q.chain) == 0 {
		return nil
	}
	return q.chain[len(q.chain)-1]
}

// Reading returns the holder renderers are reading from, or nil.
func (q *Queue) Reading() *segment.Holder { return q.get(q.reading) }

// Prewarming returns the holder pre-warming renderers are reading from, or nil.
func (q *Queue) Prewarming() *segment.Holder { return q.get(q.prewarming) }

// Preloading returns the pooled holder currently being preloaded, or nil.
func (q *Queue) Preloading() *segment.Holder { return q.preloading }

// Next returns the holder after h in the queue, or nil.
func (q *Queue) Next(h *segment.Holder) *segment.Holder {
	i := q.indexOf(h.Handle())
	if i < 0 || i+1 >= len(q.chain) {
		return nil
	}
	return q.chain[i+1]
}

// Get returns the queued holder with handle, or nil.
func (q *Queue) Get(handle segment.Handle) *segment.Holder { return q.get(handle) }

func (q *Queue) get(handle segment.Handle) *segment.Holder {
	if i := q.indexOf(handle); i >= 0 {
		return q.chain[i]
	}
	return nil
}

func (q *Queue) indexOf(handle segment.Handle) int {
	if handle == 0 {
		return -1
	}
	_, i, ok := lo.FindIndexOf(q.chain, func(h *segment.Holder) bool { return h.Handle() == handle })
	if !ok {
		return -1
	}
	return i
}

// IsLoading reports whether p belongs to the loading holder.
func (q *Queue) IsLoading(p source.Period) bool {
	l := q.Loading()
	return l != nil && l.Owns(p)
}

// IsPreloading reports whether p belongs to the preloading holder.
func (q *Queue) IsPreloading(p source.Period) bool {
	return q.preloading != nil && q.preloading.Owns(p)
}

// HolderFor returns the queued holder owning p, or nil.
func (q *Queue) HolderFor(p source.Period) *segment.Holder {
	h, ok := lo.Find(q.chain, func(h *segment.Holder) bool { return h.Owns(p) })
	if !ok {
		return nil
	}
	return h
}

// PreloadHolderFor returns the pooled holder owning p, or nil.
func (q *Queue) PreloadHolderFor(p source.Period) *segment.Holder {
	h, ok := lo.Find(q.pool, func(h *segment.Holder) bool { return h.Owns(p) })
	if !ok {
		return nil
	}
	return h
}

// ReevaluateBuffer lets the loading holder trim its buffer.
func (q *Queue) ReevaluateBuffer(rendererPositionUs int64) {
	if l := q.Loading(); l != nil {
		l.ReevaluateBuffer(rendererPositionUs)
	}
}

// ShouldLoadNext reports whether a new loading holder should be enqueued.
func (q *Queue) ShouldLoadNext() bool {
	l := q.Loading()
	return l == nil ||
		(!l.Info.IsFinal &&
			l.IsFullyBuffered() &&
			l.Info.DurationUs != media.TimeUnset &&
			len(q.chain) < q.cfg.MaxBufferAheadPeriods)
}

// NextInfo returns the info of the holder to enqueue next, or false if it is
// not yet known.
func (q *Queue) NextInfo(tl *timeline.Timeline, rendererPositionUs int64, pos Position) (segment.Info, bool) {
	l := q.Loading()
	if l == nil {
		return q.infoFor(tl, pos.ID, pos.RequestedContentPositionUs, pos.PositionUs), true
	}
	return q.following(tl, l, rendererPositionUs)
}

// Enqueue appends a holder for info, reusing a pooled one when possible.
func (q *Queue) Enqueue(info segment.Info) (*segment.Holder, error) {
	offset := InitialRendererOffsetUs
	if l := q.Loading(); l != nil {
		offset = l.RendererOffsetUs() + l.Info.DurationUs - info.StartPositionUs
	}
	h := q.takePooled(info)
	if h == nil {
		q.lastHandle++
		var err error
		h, err = segment.NewHolder(q.lastHandle, q.cfg.Capabilities, offset, q.cfg.Selector, q.cfg.Factory, info, media.TimeUnset)
		if err != nil {
			return nil, err
		}
	} else {
		h.Info = info
		h.SetRendererOffsetUs(offset)
	}
	if len(q.chain) == 0 {
		q.reading = h.Handle()
		q.prewarming = h.Handle()
	}
	q.chain = append(q.chain, h)
	q.oldFrontUID = ""
	q.log.Debug().Str(log.FieldPeriodID, info.ID.String()).Int(log.FieldQueueLength, len(q.chain)).Msg("enqueued")
	q.notify()
	return h, nil
}

// AdvanceReading moves the reading cursor to the next holder. The pre-warming
// cursor is carried along when it was equal to reading.
func (q *Queue) AdvanceReading() *segment.Holder {
	i := q.indexOf(q.reading)
	next := q.chain[i+1].Handle()
	if q.prewarming == q.reading {
		q.prewarming = next
	}
	q.reading = next
	q.notify()
	return q.chain[i+1]
}

// AdvancePrewarming moves the pre-warming cursor to the next holder.
func (q *Queue) AdvancePrewarming() *segment.Holder {
	i := q.indexOf(q.prewarming)
	q.prewarming = q.chain[i+1].Handle()
	q.notify()
	return q.chain[i+1]
}

// AdvancePlaying releases the front holder and returns the new front, or nil
// if the queue became empty.
func (q *Queue) AdvancePlaying() *segment.Holder {
	if len(q.chain) == 0 {
		return nil
	}
	front := q.chain[0]
	var next segment.Handle
	if len(q.chain) > 1 {
		next = q.chain[1].Handle()
	}
	if q.reading == front.Handle() {
		q.reading = next
	}
	if q.prewarming == front.Handle() {
		q.prewarming = next
	}
	front.Release()
	q.chain[0] = nil
	q.chain = q.chain[1:]
	if len(q.chain) == 0 {
		q.oldFrontUID = front.Info.ID.PeriodUID
		q.oldFrontSeq = front.Info.ID.WindowSequenceNumber
	}
	q.notify()
	return q.Playing()
}

// RemoveAfter releases every holder after h, making h the loading holder.
// If the reading holder is removed both cursors move back to playing. If only
// the pre-warming holder is removed it moves back to reading.
func (q *Queue) RemoveAfter(h *segment.Holder) Altered {
	i := q.indexOf(h.Handle())
	if i < 0 || i == len(q.chain)-1 {
		return 0
	}
	var altered Altered
	for _, removed := range q.chain[i+1:] {
		if removed.Handle() == q.reading {
			q.reading = q.chain[0].Handle()
			q.prewarming = q.reading
			altered |= AlteredReading | AlteredPrewarming
		}
		if removed.Handle() == q.prewarming {
			q.prewarming = q.reading
			altered |= AlteredPrewarming
		}
		removed.Release()
	}
	clear(q.chain[i+1:])
	q.chain = q.chain[:i+1]
	q.notify()
	return altered
}

// Clear releases every queued holder. The front period is remembered so its
// window sequence number can be reused by the next enqueue.
func (q *Queue) Clear() {
	if len(q.chain) == 0 {
		return
	}
	front := q.chain[0]
	q.oldFrontUID = front.Info.ID.PeriodUID
	q.oldFrontSeq = front.Info.ID.WindowSequenceNumber
	for _, h := range q.chain {
		h.Release()
	}
	q.chain = nil
	q.reading = 0
	q.prewarming = 0
	q.notify()
}

// Release clears the queue and the preload pool.
func (q *Queue) Release() {
	q.Clear()
	q.ReleasePreloadPool()
}

// SetRepeatMode changes the repeat mode and drops holders that no longer
// follow the playback order.
func (q *Queue) SetRepeatMode(tl *timeline.Timeline, mode timeline.RepeatMode) Altered {
	q.repeat = mode
	return q.updateForPlaybackModeChange(tl)
}

// SetShuffleModeEnabled changes shuffle mode and drops holders that no longer
// follow the playback order.
func (q *Queue) SetShuffleModeEnabled(tl *timeline.Timeline, enabled bool) Altered {
	q.shuffled = enabled
	return q.updateForPlaybackModeChange(tl)
}

func (q *Queue) RepeatMode() timeline.RepeatMode { return q.repeat }
func (q *Queue) ShuffleModeEnabled() bool        { return q.shuffled }

func (q *Queue) updateForPlaybackModeChange(tl *timeline.Timeline) Altered {
	if len(q.chain) == 0 {
		return 0
	}
	last := 0
	current := tl.IndexOfPeriod(q.chain[0].Info.ID.PeriodUID)
	for {
		next := media.IndexUnset
		if current != media.IndexUnset {
			next = tl.NextPeriodIndex(current, q.repeat, q.shuffled)
		}
		for last+1 < len(q.chain) && !q.chain[last].Info.IsLastInTimelinePeriod {
			last++
		}
		if next == media.IndexUnset || last+1 >= len(q.chain) {
			break
		}
		if tl.IndexOfPeriod(q.chain[last+1].Info.ID.PeriodUID) != next {
			break
		}
		last++
		current = next
	}
	h := q.chain[last]
	altered := q.RemoveAfter(h)
	h.Info = q.updatedInfo(tl, h.Info)
	return altered
}

// UpdateQueuedPeriods reconciles every holder with a refreshed timeline. The
// playing holder is assumed to still be valid. maxReadUs and
// maxPrewarmReadUs are the renderer positions read so far from the reading
// and pre-warming holders, media.TimeEndOfSource if read to the end.
func (q *Queue) UpdateQueuedPeriods(tl *timeline.Timeline, rendererPositionUs, maxReadUs, maxPrewarmReadUs int64) Altered {
	for i, h := range q.chain {
		old := h.Info
		var info segment.Info
		if i == 0 {
			info = q.updatedInfo(tl, old)
		} else {
			prev := q.chain[i-1]
			next, ok := q.following(tl, prev, rendererPositionUs)
			if !ok || !canKeep(old, next) {
				return q.RemoveAfter(prev)
			}
			info = next
		}
		h.Info = info.WithRequestedContentPositionUs(old.RequestedContentPositionUs)

		if segment.DurationsCompatible(old.DurationUs, info.DurationUs) {
			continue
		}
		h.UpdateClipping()
		endRenderer := int64(1<<63 - 1)
		if info.DurationUs != media.TimeUnset {
			endRenderer = h.ToRendererTime(info.DurationUs)
		}
		readBeyond := h.Handle() == q.reading &&
			!h.Info.IsFollowedByTransitionToSameStream &&
			(maxReadUs == media.TimeEndOfSource || maxReadUs >= endRenderer)
		prewarmBeyond := h.Handle() == q.prewarming &&
			(maxPrewarmReadUs == media.TimeEndOfSource || maxPrewarmReadUs >= endRenderer)
		if altered := q.RemoveAfter(h); altered != 0 {
			return altered
		}
		var altered Altered
		if readBeyond {
			altered |= AlteredReading
		}
		if prewarmBeyond {
			altered |= AlteredPrewarming
		}
		return altered
	}
	return 0
}

func canKeep(old, next segment.Info) bool {
	return old.StartPositionUs == next.StartPositionUs && old.ID == next.ID
}

// UpdatedInfo refreshes info against tl without changing its id or start.
func (q *Queue) UpdatedInfo(tl *timeline.Timeline, info segment.Info) segment.Info {
	return q.updatedInfo(tl, info)
}

func (q *Queue) updatedInfo(tl *timeline.Timeline, info segment.Info) segment.Info {
	id := info.ID
	lastInPeriod := isLastInPeriod(id)
	lastInWindow := isLastInWindow(tl, id)
	lastInTimeline := q.isLastInTimeline(tl, id, lastInPeriod)
	p, _, _ := tl.PeriodByUID(id.PeriodUID)

	end := media.TimeUnset
	if !id.IsAd() && id.NextAdGroupIndex != media.IndexUnset {
		end = p.AdGroupTimeUs(id.NextAdGroupIndex)
	}
	var dur int64
	switch {
	case id.IsAd():
		dur = p.AdDurationUs(id.AdGroupIndex, id.AdIndexInAdGroup)
	case end == media.TimeUnset || end == media.TimeEndOfSource:
		dur = p.DurationUs
	default:
		dur = end
	}
	followed := false
	if id.IsAd() {
		followed = p.IsServerSideInsertedAdGroup(id.AdGroupIndex)
	} else if id.NextAdGroupIndex != media.IndexUnset {
		followed = p.IsServerSideInsertedAdGroup(id.NextAdGroupIndex)
	}
	return segment.Info{
		ID:                                   id,
		StartPositionUs:                      info.StartPositionUs,
		RequestedContentPositionUs:           info.RequestedContentPositionUs,
		EndPositionUs:                        end,
		DurationUs:                           dur,
		IsPrecededByTransitionFromSameStream: info.IsPrecededByTransitionFromSameStream,
		IsFollowedByTransitionToSameStream:   followed,
		IsLastInTimelinePeriod:               lastInPeriod,
		IsLastInTimelineWindow:               lastInWindow,
		IsFinal:                              lastInTimeline,
	}
}

func (q *Queue) notify() {
	if q.cfg.Observer == nil {
		return
	}
	ids := lo.Map(q.chain, func(h *segment.Holder, _ int) media.PeriodID { return h.Info.ID })
	reading := media.NoPeriod
	if r := q.Reading(); r != nil {
		reading = r.Info.ID
	}
	q.cfg.Observer(ids, reading)
}

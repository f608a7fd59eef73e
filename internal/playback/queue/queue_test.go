// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/xplay/internal/playback/media"
	"github.com/ManuGH/xplay/internal/playback/segment"
	"github.com/ManuGH/xplay/internal/playback/selection"
	"github.com/ManuGH/xplay/internal/playback/sim"
	"github.com/ManuGH/xplay/internal/playback/source"
	"github.com/ManuGH/xplay/internal/playback/timeline"
)

const tenSeconds = 10_000_000

type nopCallback struct{}

func (nopCallback) OnPrepared(source.Period)                 {}
func (nopCallback) OnContinueLoadingRequested(source.Period) {}

type harness struct {
	t     *testing.T
	tl    *timeline.Timeline
	src   *sim.Source
	q     *Queue
	ids   []media.PeriodID
	read  media.PeriodID
	calls int
}

func newHarness(t *testing.T, tl *timeline.Timeline, maxAhead int) *harness {
	t.Helper()
	h := &harness{t: t, tl: tl, src: sim.NewSource(tl, sim.PeriodConfig{})}
	h.q = New(Config{
		Factory:               sim.Factory{Source: h.src},
		Selector:              selection.NewDefaultSelector(selection.Parameters{}),
		Capabilities:          []selection.Capabilities{sim.NewRenderer("audio", media.TrackTypeAudio)},
		MaxBufferAheadPeriods: maxAhead,
		Observer: func(ids []media.PeriodID, reading media.PeriodID) {
			h.ids, h.read = ids, reading
			h.calls++
		},
	})
	return h
}

func windows(uids ...string) *timeline.Timeline {
	b := timeline.NewBuilder()
	for _, uid := range uids {
		b.Add(timeline.WindowSpec{UID: "w-" + uid, DurationUs: tenSeconds, Periods: []timeline.PeriodSpec{{UID: uid, DurationUs: tenSeconds}}})
	}
	return b.MustBuild()
}

// enqueue adds the next holder, prepares it and loads it completely.
func (h *harness) enqueue(startUID string, startUs int64) *segment.Holder {
	h.t.Helper()
	require.True(h.t, h.q.ShouldLoadNext())
	var pos Position
	if h.q.Len() == 0 {
		pos = Position{
			ID:                         h.q.ResolvePeriodIDForAds(h.tl, startUID, startUs),
			PositionUs:                 startUs,
			RequestedContentPositionUs: media.TimeUnset,
		}
	}
	info, ok := h.q.NextInfo(h.tl, InitialRendererOffsetUs, pos)
	require.True(h.t, ok)
	holder, err := h.q.Enqueue(info)
	require.NoError(h.t, err)
	prepareAndLoad(h.t, holder, h.tl)
	return holder
}

func prepareAndLoad(t *testing.T, h *segment.Holder, tl *timeline.Timeline) {
	t.Helper()
	if !h.IsPrepared() {
		h.Prepare(nopCallback{}, h.Info.StartPositionUs)
		require.NoError(t, h.HandlePrepared(1, tl, false))
	}
	for h.ContinueLoading(source.LoadingInfo{PlaybackSpeed: 1}) {
	}
}

func (h *harness) assertOrdered() {
	h.t.Helper()
	idx := func(x *segment.Holder) int {
		if x == nil {
			return -1
		}
		return h.q.indexOf(x.Handle())
	}
	p, r, w, l := idx(h.q.Playing()), idx(h.q.Reading()), idx(h.q.Prewarming()), idx(h.q.Loading())
	assert.True(h.t, p <= r && r <= w && w <= l, "cursor order playing=%d reading=%d prewarming=%d loading=%d", p, r, w, l)
	if h.q.Len() > 0 {
		assert.Equal(h.t, 0, p)
		assert.GreaterOrEqual(h.t, r, 0, "reading must point into the queue")
		assert.GreaterOrEqual(h.t, w, 0, "pre-warming must point into the queue")
	}
}

func periodOf(h *segment.Holder) *sim.Period {
	return h.Period().(*sim.Period)
}

func TestQueue_CursorsAdvanceInOrder(t *testing.T) {
	h := newHarness(t, windows("a", "b", "c"), 0)
	first := h.enqueue("a", 0)
	second := h.enqueue("", 0)
	third := h.enqueue("", 0)
	h.assertOrdered()
	assert.Same(t, first, h.q.Playing())
	assert.Same(t, first, h.q.Reading())
	assert.Same(t, third, h.q.Loading())

	assert.Same(t, second, h.q.AdvanceReading())
	assert.Same(t, second, h.q.Prewarming(), "pre-warming follows reading while equal")
	h.assertOrdered()

	assert.Same(t, third, h.q.AdvancePrewarming())
	h.assertOrdered()

	assert.Same(t, second, h.q.AdvancePlaying())
	assert.True(t, periodOf(first).Released())
	h.assertOrdered()
	assert.Equal(t, []media.PeriodID{second.Info.ID, third.Info.ID}, h.ids)
	assert.Equal(t, second.Info.ID, h.read)

	assert.Same(t, third, h.q.AdvanceReading())
	assert.Same(t, third, h.q.AdvancePlaying())
	assert.Nil(t, h.q.AdvancePlaying())
	assert.Zero(t, h.q.Len())
	h.assertOrdered()
}

func TestQueue_RemoveAfterResetsRemovedCursors(t *testing.T) {
	h := newHarness(t, windows("a", "b", "c"), 0)
	first := h.enqueue("a", 0)
	second := h.enqueue("", 0)
	third := h.enqueue("", 0)
	h.q.AdvanceReading()
	h.q.AdvanceReading()
	require.Same(t, third, h.q.Reading())

	altered := h.q.RemoveAfter(first)
	assert.True(t, altered.Reading())
	assert.True(t, altered.Prewarming())
	assert.Same(t, first, h.q.Reading())
	assert.Same(t, first, h.q.Prewarming())
	assert.Same(t, first, h.q.Loading())
	assert.True(t, periodOf(second).Released())
	assert.True(t, periodOf(third).Released())
	assert.False(t, periodOf(first).Released())
	h.assertOrdered()
}

func TestQueue_RemoveAfterPrewarmingOnly(t *testing.T) {
	h := newHarness(t, windows("a", "b", "c"), 0)
	h.enqueue("a", 0)
	second := h.enqueue("", 0)
	h.enqueue("", 0)
	h.q.AdvanceReading()
	h.q.AdvancePrewarming()

	altered := h.q.RemoveAfter(second)
	assert.False(t, altered.Reading())
	assert.True(t, altered.Prewarming())
	assert.Same(t, second, h.q.Reading())
	assert.Same(t, second, h.q.Prewarming())
	h.assertOrdered()

	assert.Equal(t, Altered(0), h.q.RemoveAfter(second), "nothing after the tail")
}

func TestQueue_ShouldLoadNext(t *testing.T) {
	h := newHarness(t, windows("a", "b", "c"), 2)
	assert.True(t, h.q.ShouldLoadNext(), "empty queue")

	info, ok := h.q.NextInfo(h.tl, 0, Position{ID: h.q.ResolvePeriodIDForAds(h.tl, "a", 0), RequestedContentPositionUs: media.TimeUnset})
	require.True(t, ok)
	first, err := h.q.Enqueue(info)
	require.NoError(t, err)
	assert.False(t, h.q.ShouldLoadNext(), "loading holder not prepared")

	prepareAndLoad(t, first, h.tl)
	assert.True(t, h.q.ShouldLoadNext())

	h.enqueue("", 0)
	assert.False(t, h.q.ShouldLoadNext(), "queue depth reached")
}

func TestQueue_FinalHolderStopsLoading(t *testing.T) {
	h := newHarness(t, windows("a", "b"), 0)
	h.enqueue("a", 0)
	last := h.enqueue("", 0)
	assert.True(t, last.Info.IsFinal)
	assert.True(t, last.Info.IsLastInTimelineWindow)
	assert.False(t, h.q.ShouldLoadNext())

	// Repeating makes the same period non-final again.
	h.q.SetRepeatMode(h.tl, timeline.RepeatAll)
	assert.False(t, h.q.Loading().Info.IsFinal)
}

func TestQueue_WindowSequenceNumbersSurviveRefresh(t *testing.T) {
	tl := timeline.NewBuilder().
		Add(timeline.WindowSpec{UID: "w0", Periods: []timeline.PeriodSpec{{UID: "a1", DurationUs: tenSeconds}, {UID: "a2", DurationUs: tenSeconds}}}).
		Add(timeline.WindowSpec{UID: "w1", Periods: []timeline.PeriodSpec{{UID: "b", DurationUs: tenSeconds}}}).
		MustBuild()
	h := newHarness(t, tl, 0)
	first := h.enqueue("a1", 0)
	seqA := first.Info.ID.WindowSequenceNumber

	assert.Equal(t, seqA, h.q.ResolvePeriodIDForAds(tl, "a2", 0).WindowSequenceNumber, "same window")
	h.enqueue("", 0)
	b := h.enqueue("", 0)
	seqB := b.Info.ID.WindowSequenceNumber
	assert.NotEqual(t, seqA, seqB)

	refreshed := timeline.NewBuilder().
		Add(timeline.WindowSpec{UID: "new", Periods: []timeline.PeriodSpec{{UID: "c", DurationUs: tenSeconds}}}).
		Add(timeline.WindowSpec{UID: "w0", Periods: []timeline.PeriodSpec{{UID: "a1", DurationUs: tenSeconds}, {UID: "a2", DurationUs: tenSeconds}}}).
		Add(timeline.WindowSpec{UID: "w1", Periods: []timeline.PeriodSpec{{UID: "b", DurationUs: tenSeconds}}}).
		MustBuild()
	assert.Equal(t, seqB, h.q.ResolvePeriodIDForAds(refreshed, "b", 0).WindowSequenceNumber)
	assert.Equal(t, seqA, h.q.ResolvePeriodIDForAds(refreshed, "a2", 0).WindowSequenceNumber)

	h.q.Clear()
	assert.Equal(t, seqA, h.q.ResolvePeriodIDForAds(refreshed, "a1", 0).WindowSequenceNumber, "old front window keeps its number")
	fresh := h.q.ResolvePeriodIDForAds(refreshed, "c", 0).WindowSequenceNumber
	assert.Greater(t, fresh, seqB)
}

func adTimeline(ads timeline.AdPlaybackState) *timeline.Timeline {
	return timeline.NewBuilder().
		Add(timeline.WindowSpec{UID: "w", Periods: []timeline.PeriodSpec{{UID: "p", DurationUs: 60_000_000, Ads: ads}}}).
		MustBuild()
}

func TestQueue_MidrollResolvesToAdUntilPlayed(t *testing.T) {
	ads := timeline.NewAdPlaybackState(timeline.NewAdGroup(tenSeconds, 5_000_000))
	tl := adTimeline(ads)
	h := newHarness(t, tl, 0)

	id := h.q.ResolvePeriodIDForAds(tl, "p", 12_000_000)
	require.True(t, id.IsAd())
	assert.Equal(t, 0, id.AdGroupIndex)
	assert.Equal(t, 0, id.AdIndexInAdGroup)

	before := h.q.ResolvePeriodIDForAds(tl, "p", 5_000_000)
	assert.False(t, before.IsAd())
	assert.Equal(t, 0, before.NextAdGroupIndex)

	played := adTimeline(ads.WithPlayedAd(0, 0))
	after := h.q.ResolvePeriodIDForAds(played, "p", 12_000_000)
	assert.False(t, after.IsAd())
	assert.Equal(t, media.IndexUnset, after.NextAdGroupIndex)
	assert.Equal(t, id.WindowSequenceNumber, after.WindowSequenceNumber)
}

func TestQueue_ContentAdContentChain(t *testing.T) {
	ads := timeline.NewAdPlaybackState(timeline.NewAdGroup(tenSeconds, 5_000_000))
	tl := adTimeline(ads)
	h := newHarness(t, tl, 0)

	content := h.enqueue("p", 0)
	assert.Equal(t, int64(tenSeconds), content.Info.EndPositionUs)
	assert.Equal(t, int64(tenSeconds), content.Info.DurationUs)
	assert.False(t, content.Info.IsLastInTimelinePeriod)

	ad := h.enqueue("", 0)
	require.True(t, ad.Info.ID.IsAd())
	assert.Equal(t, int64(5_000_000), ad.Info.DurationUs)
	assert.Equal(t, int64(tenSeconds), ad.Info.RequestedContentPositionUs)
	assert.Equal(t, content.RendererOffsetUs()+tenSeconds, ad.RendererOffsetUs())

	rest := h.enqueue("", 0)
	assert.False(t, rest.Info.ID.IsAd())
	assert.Equal(t, int64(tenSeconds), rest.Info.StartPositionUs)
	assert.True(t, rest.Info.IsFinal)
	h.assertOrdered()
}

func TestQueue_UpdateQueuedPeriodsDetectsShortenedReadingPeriod(t *testing.T) {
	h := newHarness(t, windows("a", "b", "c"), 0)
	h.enqueue("a", 0)
	second := h.enqueue("", 0)
	h.enqueue("", 0)
	h.q.AdvanceReading()

	shorter := timeline.NewBuilder().
		Add(timeline.WindowSpec{UID: "w-a", DurationUs: tenSeconds, Periods: []timeline.PeriodSpec{{UID: "a", DurationUs: tenSeconds}}}).
		Add(timeline.WindowSpec{UID: "w-b", DurationUs: 5_000_000, Periods: []timeline.PeriodSpec{{UID: "b", DurationUs: 5_000_000}}}).
		Add(timeline.WindowSpec{UID: "w-c", DurationUs: tenSeconds, Periods: []timeline.PeriodSpec{{UID: "c", DurationUs: tenSeconds}}}).
		MustBuild()
	altered := h.q.UpdateQueuedPeriods(shorter, InitialRendererOffsetUs, media.TimeEndOfSource, media.TimeEndOfSource)
	assert.True(t, altered.Reading())
	assert.Equal(t, 2, h.q.Len())
	assert.Same(t, second, h.q.Loading())
	assert.Equal(t, int64(5_000_000), second.Info.DurationUs)
}

func TestQueue_UpdateQueuedPeriodsKeepsUnchangedQueue(t *testing.T) {
	h := newHarness(t, windows("a", "b"), 0)
	h.enqueue("a", 0)
	h.enqueue("", 0)
	before := h.ids

	altered := h.q.UpdateQueuedPeriods(h.tl, InitialRendererOffsetUs, InitialRendererOffsetUs, InitialRendererOffsetUs)
	assert.Equal(t, Altered(0), altered)
	assert.Equal(t, 2, h.q.Len())
	if diff := cmp.Diff(before, h.ids); diff != "" {
		t.Errorf("queued ids changed (-want +got):\n%s", diff)
	}
}

func TestQueue_PreloadedHolderIsReused(t *testing.T) {
	h := newHarness(t, windows("a", "b"), 0)
	h.enqueue("a", 0)
	h.q.SetPreloadTarget(h.tl, 2_000_000)

	pool := h.q.PreloadPool()
	require.Len(t, pool, 1)
	pooled := pool[0]
	assert.Same(t, pooled, h.q.Preloading())
	assert.Equal(t, "b", pooled.Info.ID.PeriodUID)

	prepareAndLoad(t, pooled, h.tl)
	assert.True(t, pooled.IsFullyPreloaded())

	next := h.enqueue("", 0)
	assert.Same(t, pooled, next)
	assert.Empty(t, h.q.PreloadPool())
	assert.Nil(t, h.q.Preloading())
	assert.Len(t, h.src.Created(), 2, "no second period for the preloaded window")
}

func TestQueue_PreloadDisabledReleasesPool(t *testing.T) {
	h := newHarness(t, windows("a", "b"), 0)
	h.enqueue("a", 0)
	h.q.SetPreloadTarget(h.tl, 2_000_000)
	pooled := h.q.PreloadPool()[0]

	h.q.SetPreloadTarget(h.tl, media.TimeUnset)
	assert.Empty(t, h.q.PreloadPool())
	assert.True(t, periodOf(pooled).Released())
}

func TestQueue_PreloadSkipsLiveWindows(t *testing.T) {
	tl := timeline.NewBuilder().
		Add(timeline.WindowSpec{UID: "w-a", DurationUs: tenSeconds, Periods: []timeline.PeriodSpec{{UID: "a", DurationUs: tenSeconds}}}).
		Add(timeline.WindowSpec{UID: "w-live", DurationUs: media.TimeUnset, IsDynamic: true, Live: &timeline.LiveConfiguration{TargetOffsetMs: 5000}, Periods: []timeline.PeriodSpec{{UID: "live", DurationUs: media.TimeUnset}}}).
		MustBuild()
	h := newHarness(t, tl, 0)
	h.enqueue("a", 0)
	h.q.SetPreloadTarget(tl, 2_000_000)
	assert.Empty(t, h.q.PreloadPool())
}

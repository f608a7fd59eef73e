// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package renderer_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/xplay/internal/playback/clock"
	"github.com/ManuGH/xplay/internal/playback/media"
	"github.com/ManuGH/xplay/internal/playback/renderer"
	"github.com/ManuGH/xplay/internal/playback/segment"
	"github.com/ManuGH/xplay/internal/playback/selection"
	"github.com/ManuGH/xplay/internal/playback/sim"
	"github.com/ManuGH/xplay/internal/playback/source"
	"github.com/ManuGH/xplay/internal/playback/timeline"
)

const (
	periodUs = 10_000_000
	baseUs   = 1_000_000_000_000
)

type nopCallback struct{}

func (nopCallback) OnPrepared(source.Period)                 {}
func (nopCallback) OnContinueLoadingRequested(source.Period) {}

type fixture struct {
	tl        *timeline.Timeline
	src       *sim.Source
	primary   *sim.Renderer
	secondary *sim.Renderer
	slot      *renderer.Slot
	mc        *clock.Media
	first     *segment.Holder
	second    *segment.Holder
}

func newFixture(t *testing.T, withSecondary bool) *fixture {
	t.Helper()
	tl := timeline.NewBuilder().
		Add(timeline.WindowSpec{UID: "w0", DurationUs: periodUs, Periods: []timeline.PeriodSpec{{UID: "a", DurationUs: periodUs}}}).
		Add(timeline.WindowSpec{UID: "w1", DurationUs: periodUs, Periods: []timeline.PeriodSpec{{UID: "b", DurationUs: periodUs}}}).
		MustBuild()
	f := &fixture{
		tl:      tl,
		src:     sim.NewSource(tl, sim.PeriodConfig{}),
		primary: sim.NewRenderer("video0", media.TrackTypeVideo),
		mc:      clock.NewMedia(clock.NewFake(time.Unix(0, 0)), nil),
	}
	var secondary renderer.Renderer
	if withSecondary {
		f.secondary = sim.NewRenderer("video1", media.TrackTypeVideo)
		secondary = f.secondary
	}
	f.slot = renderer.NewSlot(0, f.primary, secondary)
	f.first = f.holder(t, 1, "a", 0, baseUs)
	f.second = f.holder(t, 2, "b", 1, baseUs+periodUs)
	return f
}

func (f *fixture) holder(t *testing.T, handle segment.Handle, uid string, seq int64, offsetUs int64) *segment.Holder {
	t.Helper()
	info := segment.Info{
		ID:                         media.NewContentID(uid, seq, media.IndexUnset),
		RequestedContentPositionUs: media.TimeUnset,
		EndPositionUs:              media.TimeUnset,
		DurationUs:                 periodUs,
	}
	sel := selection.NewDefaultSelector(selection.Parameters{})
	h, err := segment.NewHolder(handle, []selection.Capabilities{f.slot}, offsetUs, sel, sim.Factory{Source: f.src}, info, media.TimeUnset)
	require.NoError(t, err)
	h.Prepare(nopCallback{}, 0)
	require.NoError(t, h.HandlePrepared(1, f.tl, true))
	require.NotNil(t, h.Stream(0))
	return h
}

func (f *fixture) enable(t *testing.T, h *segment.Holder) {
	t.Helper()
	formats := renderer.Formats(h.Result().Selections[0])
	err := f.slot.Enable(formats, h.Stream(0), h.StartPositionRendererTime(), false, true, h.StartPositionRendererTime(), h.RendererOffsetUs(), h.Info.ID, f.mc)
	require.NoError(t, err)
}

func loadFully(h *segment.Holder) {
	for h.ContinueLoading(source.LoadingInfo{PlaybackSpeed: 1}) {
	}
}

func TestSlot_PrewarmTransitionMovesResourcesToSecondary(t *testing.T) {
	f := newFixture(t, true)
	f.enable(t, f.first)
	require.NoError(t, f.slot.Start())
	assert.Equal(t, renderer.UsingPrimary, f.slot.State())

	require.NoError(t, f.slot.StartPrewarming())
	assert.Equal(t, renderer.TransitioningToSecondary, f.slot.State())
	assert.True(t, f.slot.IsRendererPrewarming(1))
	assert.False(t, f.slot.IsRendererPrewarming(0))

	f.enable(t, f.second)
	require.NoError(t, f.slot.Start())
	assert.Equal(t, renderer.StateStarted, f.primary.State())
	assert.Equal(t, renderer.StateEnabled, f.secondary.State(), "pre-warming instance must not start")
	assert.Equal(t, 2, f.slot.EnabledRendererCount())
	assert.True(t, f.slot.IsReadingFrom(f.second))

	assert.False(t, f.slot.HasFinishedReadingFrom(f.first, f.second))
	loadFully(f.first)
	assert.True(t, f.slot.HasFinishedReadingFrom(f.first, f.second))

	require.NoError(t, f.slot.MaybeHandlePrewarmingTransition())
	assert.Equal(t, renderer.UsingSecondary, f.slot.State())
	assert.Equal(t, []any{f.secondary}, f.primary.MessagesOf(renderer.MsgTransferResources))

	require.NoError(t, f.slot.SetVideoOutput("surface"))
	assert.Equal(t, []any{"surface"}, f.secondary.MessagesOf(renderer.MsgVideoOutput))
	assert.Empty(t, f.primary.MessagesOf(renderer.MsgVideoOutput))
}

func TestSlot_DisablePrewarmingKeepsActiveInstance(t *testing.T) {
	f := newFixture(t, true)
	f.enable(t, f.first)
	require.NoError(t, f.slot.StartPrewarming())
	f.enable(t, f.second)

	require.NoError(t, f.slot.DisablePrewarming(f.mc))
	assert.Equal(t, renderer.UsingPrimary, f.slot.State())
	assert.False(t, f.slot.IsPrewarming())
	assert.Equal(t, renderer.StateDisabled, f.secondary.State())
	assert.Equal(t, 1, f.secondary.Resets())
	assert.Equal(t, renderer.StateEnabled, f.primary.State())
	assert.True(t, f.slot.IsReadingFrom(f.first))
}

func TestSlot_DisableFromSecondaryReturnsResourcesToPrimary(t *testing.T) {
	f := newFixture(t, true)
	f.enable(t, f.first)
	require.NoError(t, f.slot.StartPrewarming())
	f.enable(t, f.second)
	require.NoError(t, f.slot.MaybeHandlePrewarmingTransition())

	require.NoError(t, f.slot.Disable(f.mc))
	assert.Equal(t, renderer.UsingPrimary, f.slot.State())
	assert.Equal(t, []any{f.primary}, f.secondary.MessagesOf(renderer.MsgTransferResources))
	assert.Equal(t, 0, f.slot.EnabledRendererCount())
}

func TestSlot_PrewarmBehindActiveSecondary(t *testing.T) {
	f := newFixture(t, true)
	f.enable(t, f.first)
	require.NoError(t, f.slot.StartPrewarming())
	f.enable(t, f.second)
	require.NoError(t, f.slot.MaybeHandlePrewarmingTransition())
	f.primary.Disable()

	require.NoError(t, f.slot.StartPrewarming())
	assert.Equal(t, renderer.TransitioningToPrimary, f.slot.State())
	assert.ErrorIs(t, f.slot.StartPrewarming(), renderer.ErrAlreadyPrewarming)
}

func TestSlot_StartRunsOneInstance(t *testing.T) {
	f := newFixture(t, true)
	f.enable(t, f.first)
	require.NoError(t, f.slot.StartPrewarming())
	f.enable(t, f.second)
	require.NoError(t, f.slot.MaybeHandlePrewarmingTransition())
	require.Equal(t, renderer.UsingSecondary, f.slot.State())
	require.Equal(t, renderer.StateEnabled, f.primary.State())
	require.Equal(t, renderer.StateEnabled, f.secondary.State())

	require.NoError(t, f.slot.Start())
	assert.Equal(t, renderer.StateStarted, f.primary.State())
	assert.Equal(t, renderer.StateEnabled, f.secondary.State())
}

func TestSlot_PrewarmWithoutSecondary(t *testing.T) {
	f := newFixture(t, false)
	f.enable(t, f.first)
	assert.ErrorIs(t, f.slot.StartPrewarming(), renderer.ErrNoSecondary)
	assert.Equal(t, renderer.UsingPrimary, f.slot.State())

	require.NoError(t, f.slot.Disable(f.mc))
	require.NoError(t, f.slot.StartPrewarming())
	assert.Equal(t, renderer.PrewarmingPrimary, f.slot.State())
	require.NoError(t, f.slot.MaybeHandlePrewarmingTransition())
	assert.Equal(t, renderer.UsingPrimary, f.slot.State())
}

func TestSlot_ReplaceStreamsForTransition(t *testing.T) {
	f := newFixture(t, false)
	f.enable(t, f.first)

	got, err := f.slot.ReplaceStreamsOrDisableForTransition(f.second, f.second.Result(), f.mc)
	require.NoError(t, err)
	assert.Equal(t, renderer.TransitionCompleted|renderer.TransitionDisableOffload, got)
	assert.True(t, f.slot.IsReadingFrom(f.second))

	got, err = f.slot.ReplaceStreamsOrDisableForTransition(f.second, f.second.Result(), f.mc)
	require.NoError(t, err)
	assert.Equal(t, renderer.TransitionCompleted, got, "already reading the new stream")
}

func TestSlot_FinalStreamWaitsForEndBeforeDisabling(t *testing.T) {
	f := newFixture(t, false)
	f.enable(t, f.first)
	f.slot.SetCurrentStreamFinal(f.first, periodUs)

	got, err := f.slot.ReplaceStreamsOrDisableForTransition(f.second, f.second.Result(), f.mc)
	require.NoError(t, err)
	assert.Equal(t, renderer.Transition(0), got)

	loadFully(f.first)
	require.NoError(t, f.slot.Render(baseUs+periodUs, 0))
	require.True(t, f.slot.IsEnded())
	got, err = f.slot.ReplaceStreamsOrDisableForTransition(f.second, f.second.Result(), f.mc)
	require.NoError(t, err)
	assert.Equal(t, renderer.TransitionCompleted, got)
	assert.Equal(t, renderer.StateDisabled, f.primary.State())
}

func TestSlot_AllowsPlaybackFollowsReadiness(t *testing.T) {
	f := newFixture(t, false)
	f.enable(t, f.first)
	assert.False(t, f.slot.AllowsPlayback(f.first))

	f.first.ContinueLoading(source.LoadingInfo{PlaybackSpeed: 1})
	assert.True(t, f.slot.AllowsPlayback(f.first))
	assert.True(t, f.slot.IsReady(f.first))

	// Not reading the second period at all.
	assert.True(t, f.slot.AllowsPlayback(f.second))
}

func TestSlot_VolumeOnlyForAudio(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.slot.SetVolume(0.5))
	assert.Empty(t, f.primary.MessagesOf(renderer.MsgVolume))

	a0 := sim.NewRenderer("audio0", media.TrackTypeAudio)
	a1 := sim.NewRenderer("audio1", media.TrackTypeAudio)
	audio := renderer.NewSlot(1, a0, a1)
	require.NoError(t, audio.SetVolume(0.5))
	assert.Equal(t, []any{float32(0.5)}, a0.MessagesOf(renderer.MsgVolume))
	assert.Equal(t, []any{float32(0.5)}, a1.MessagesOf(renderer.MsgVolume))
}

func TestRecoverable(t *testing.T) {
	assert.Nil(t, renderer.Recoverable(nil))
	err := renderer.Recoverable(assert.AnError)
	assert.True(t, renderer.IsRecoverable(err))
	assert.ErrorIs(t, err, assert.AnError)
	assert.False(t, renderer.IsRecoverable(assert.AnError))
}

func TestSlot_RenderErrorNamesPrewarmingInstance(t *testing.T) {
	f := newFixture(t, true)
	f.enable(t, f.first)
	require.NoError(t, f.slot.StartPrewarming())
	f.enable(t, f.second)

	f.secondary.FailRender(assert.AnError, true)
	err := f.slot.Render(baseUs, 0)
	require.ErrorIs(t, err, assert.AnError)
	assert.True(t, renderer.FailedWhilePrewarming(err))

	f.primary.FailRender(renderer.Recoverable(assert.AnError), true)
	err = f.slot.Render(baseUs, 0)
	require.Error(t, err)
	assert.False(t, renderer.FailedWhilePrewarming(err))
	assert.True(t, renderer.IsRecoverable(err))
}

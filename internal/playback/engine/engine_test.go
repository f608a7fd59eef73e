// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"

	"github.com/ManuGH/xplay/internal/playback/clock"
	"github.com/ManuGH/xplay/internal/playback/engine"
	"github.com/ManuGH/xplay/internal/playback/fault"
	"github.com/ManuGH/xplay/internal/playback/loadcontrol"
	"github.com/ManuGH/xplay/internal/playback/media"
	"github.com/ManuGH/xplay/internal/playback/renderer"
	"github.com/ManuGH/xplay/internal/playback/selection"
	"github.com/ManuGH/xplay/internal/playback/sim"
	"github.com/ManuGH/xplay/internal/playback/source"
	"github.com/ManuGH/xplay/internal/playback/timeline"
	"github.com/ManuGH/xplay/internal/telemetry"
)

const syncTimeout = 5 * time.Second

type harness struct {
	t         *testing.T
	clk       *clock.Fake
	eng       *engine.Engine
	src       *sim.Source
	renderers []*sim.Renderer
}

type option func(*engine.Config, *engine.Deps)

func withLoadControl(p loadcontrol.Policy) option {
	return func(_ *engine.Config, d *engine.Deps) { d.LoadControl = p }
}

func withConfig(f func(*engine.Config)) option {
	return func(c *engine.Config, _ *engine.Deps) { f(c) }
}

func withSink(s engine.AnalyticsSink) option {
	return func(_ *engine.Config, d *engine.Deps) { d.Sink = s }
}

func withSelector(sel selection.Selector) option {
	return func(_ *engine.Config, d *engine.Deps) { d.Selector = sel }
}

// withVideoSecondary gives the video slot of the default renderers a
// pre-warming instance.
func withVideoSecondary(r *sim.Renderer) option {
	return func(_ *engine.Config, d *engine.Deps) {
		d.Secondaries = []renderer.Renderer{nil, r, nil}
	}
}

func singleWindow(uid string, durationUs int64) *timeline.Timeline {
	return timeline.NewBuilder().
		Add(timeline.WindowSpec{UID: uid, DurationUs: durationUs, Periods: []timeline.PeriodSpec{{UID: uid + "-p0", DurationUs: durationUs}}}).
		MustBuild()
}

func newHarness(t *testing.T, tl *timeline.Timeline, opts ...option) *harness {
	t.Helper()
	leaks := goleak.IgnoreCurrent()
	t.Cleanup(func() { goleak.VerifyNone(t, leaks) })

	h := &harness{
		t:         t,
		clk:       clock.NewFake(time.Unix(0, 0)),
		src:       sim.NewSource(tl, sim.PeriodConfig{}),
		renderers: sim.NewRenderers(media.TrackTypeAudio, media.TrackTypeVideo, media.TrackTypeText),
	}
	cfg := engine.DefaultConfig()
	cfg.SessionID = "test-session"
	deps := engine.Deps{Clock: h.clk}
	for _, r := range h.renderers {
		deps.Renderers = append(deps.Renderers, r)
	}
	for _, o := range opts {
		o(&cfg, &deps)
	}
	eng, err := engine.New(cfg, deps)
	require.NoError(t, err)
	h.eng = eng

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = eng.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-eng.Done()
	})
	return h
}

func (h *harness) audio() *sim.Renderer { return h.renderers[0] }
func (h *harness) text() *sim.Renderer  { return h.renderers[2] }

func (h *harness) sync() {
	h.t.Helper()
	require.True(h.t, h.eng.Sync(syncTimeout), "engine did not settle")
}

// step advances the fake clock by d, which fires at most the pending tick,
// and waits for the engine to settle.
func (h *harness) step(d time.Duration) {
	h.t.Helper()
	h.clk.Advance(d)
	h.sync()
}

func (h *harness) stepUntil(d time.Duration, maxSteps int, cond func(engine.Snapshot) bool) engine.Snapshot {
	h.t.Helper()
	h.sync()
	for range maxSteps {
		if s := h.eng.Snapshot(); cond(s) {
			return s
		}
		h.step(d)
	}
	s := h.eng.Snapshot()
	require.Truef(h.t, cond(s), "condition not reached: state=%s position=%d", s.State, s.PositionUs)
	return s
}

func stateIs(want engine.State) func(engine.Snapshot) bool {
	return func(s engine.Snapshot) bool { return s.State == want }
}

// start prepares the harness source and waits until playback is ready.
func (h *harness) start(play bool) engine.Snapshot {
	h.t.Helper()
	return h.startSources(play, h.src)
}

func (h *harness) startSources(play bool, srcs ...source.Source) engine.Snapshot {
	h.t.Helper()
	h.eng.SetMediaSources(srcs, 0, 0, nil)
	h.eng.Prepare()
	h.eng.SetPlayWhenReady(play, "")
	return h.stepUntil(10*time.Millisecond, 200, stateIs(engine.StateReady))
}

// holdPolicy never loads and never starts playback.
type holdPolicy struct{ *loadcontrol.Default }

func (holdPolicy) ShouldContinueLoading(loadcontrol.Parameters) bool { return false }
func (holdPolicy) ShouldStartPlayback(loadcontrol.Parameters) bool   { return false }

type recordingTarget struct {
	mu       sync.Mutex
	received []any
}

func (r *recordingTarget) HandleMessage(_ renderer.MessageKind, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, payload)
	return nil
}

func (r *recordingTarget) payloads() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.received...)
}

func TestNew_Validation(t *testing.T) {
	_, err := engine.New(engine.DefaultConfig(), engine.Deps{})
	require.ErrorIs(t, err, engine.ErrNoRenderers)

	r := sim.NewRenderers(media.TrackTypeAudio, media.TrackTypeVideo)
	_, err = engine.New(engine.DefaultConfig(), engine.Deps{
		Renderers:   []renderer.Renderer{r[0], r[1]},
		Secondaries: []renderer.Renderer{sim.NewRenderer("audio1", media.TrackTypeAudio)},
	})
	require.Error(t, err)
}

func TestEngine_InitialSnapshot(t *testing.T) {
	h := newHarness(t, singleWindow("w0", 10_000_000))
	h.sync()

	s := h.eng.Snapshot()
	assert.Equal(t, engine.StateIdle, s.State)
	assert.True(t, s.Timeline.IsEmpty())
	assert.Equal(t, media.TimeUnset, s.RequestedContentPositionUs)
	assert.Equal(t, media.DefaultPlaybackParameters, s.PlaybackParameters)
	assert.Nil(t, s.Error)
}

func TestEngine_RunTwice(t *testing.T) {
	h := newHarness(t, singleWindow("w0", 10_000_000))
	h.sync()
	assert.ErrorIs(t, h.eng.Run(context.Background()), engine.ErrAlreadyRunning)
}

func TestEngine_PrepareEmptyPlaylistEnds(t *testing.T) {
	h := newHarness(t, singleWindow("w0", 10_000_000))
	h.eng.Prepare()
	h.sync()
	assert.Equal(t, engine.StateEnded, h.eng.Snapshot().State)
}

func TestEngine_PlaysAndAdvancesPosition(t *testing.T) {
	h := newHarness(t, singleWindow("w0", 10_000_000))
	s := h.start(true)

	require.Equal(t, 1, s.Timeline.WindowCount())
	assert.True(t, s.IsPlaying())
	assert.Greater(t, s.BufferedPositionUs, s.PositionUs)
	assert.Equal(t, 1, h.audio().Enables())

	before := s.PositionUs
	for range 10 {
		h.step(100 * time.Millisecond)
	}
	after := h.eng.Snapshot()
	assert.Equal(t, engine.StateReady, after.State)
	assert.GreaterOrEqual(t, after.PositionUs-before, int64(900_000))
}

func TestEngine_PausedPositionDoesNotAdvance(t *testing.T) {
	h := newHarness(t, singleWindow("w0", 10_000_000))
	s := h.start(false)
	require.False(t, s.IsPlaying())

	for range 5 {
		h.step(time.Second)
	}
	assert.Equal(t, s.PositionUs, h.eng.Snapshot().PositionUs)
}

func TestEngine_PlaysToEnd(t *testing.T) {
	h := newHarness(t, singleWindow("w0", 2_000_000))
	h.start(true)

	s := h.stepUntil(100*time.Millisecond, 100, stateIs(engine.StateEnded))
	assert.GreaterOrEqual(t, s.PositionUs, int64(2_000_000))
	assert.Nil(t, s.Error)
}

func TestEngine_StuckBufferingFails(t *testing.T) {
	lc, err := loadcontrol.NewDefault(loadcontrol.DefaultConfig())
	require.NoError(t, err)
	h := newHarness(t, singleWindow("w0", 10_000_000), withLoadControl(holdPolicy{lc}))

	h.eng.SetMediaSources([]source.Source{h.src}, 0, 0, nil)
	h.eng.Prepare()
	h.eng.SetPlayWhenReady(true, "")
	h.sync()
	require.Equal(t, engine.StateBuffering, h.eng.Snapshot().State)

	const step = 10 * time.Millisecond
	timeout := engine.DefaultConfig().StuckBufferingTimeout
	var elapsed time.Duration
	for elapsed < timeout-step {
		h.step(step)
		elapsed += step
		require.Nilf(t, h.eng.Snapshot().Error, "failed after %s", elapsed)
	}

	s := h.stepUntil(step, 5, func(s engine.Snapshot) bool { return s.Error != nil })
	assert.Equal(t, fault.KindStuck, s.Error.Kind)
	assert.ErrorIs(t, s.Error, fault.ErrStuckBuffering)
	assert.Equal(t, engine.StateIdle, s.State)
	assert.GreaterOrEqual(t, h.clk.Now().Sub(time.Unix(0, 0)), timeout)
}

func TestEngine_StuckTimeoutIgnoredWhilePaused(t *testing.T) {
	lc, err := loadcontrol.NewDefault(loadcontrol.DefaultConfig())
	require.NoError(t, err)
	h := newHarness(t, singleWindow("w0", 10_000_000), withLoadControl(holdPolicy{lc}))

	h.eng.SetMediaSources([]source.Source{h.src}, 0, 0, nil)
	h.eng.Prepare()
	h.sync()
	for range 60 {
		h.step(100 * time.Millisecond)
	}
	s := h.eng.Snapshot()
	assert.Nil(t, s.Error)
	assert.Equal(t, engine.StateBuffering, s.State)
}

func TestEngine_TextStreamErrorDisablesTrack(t *testing.T) {
	h := newHarness(t, singleWindow("w0", 10_000_000))
	h.start(true)

	periods := h.src.Created()
	require.NotEmpty(t, periods)
	st := periods[0].StreamOf(media.TrackTypeText)
	require.NotNil(t, st)
	st.Fail(errors.New("bad cue"))

	h.step(10 * time.Millisecond)
	s := h.stepUntil(10*time.Millisecond, 50, stateIs(engine.StateReady))
	assert.Nil(t, s.Error)
	assert.Equal(t, renderer.StateDisabled, h.text().State())
	assert.Equal(t, renderer.StateStarted, h.audio().State())
}

func TestEngine_AudioStreamErrorIsFatal(t *testing.T) {
	h := newHarness(t, singleWindow("w0", 10_000_000))
	h.start(true)

	st := h.src.Created()[0].StreamOf(media.TrackTypeAudio)
	require.NotNil(t, st)
	st.Fail(errors.New("decode failed"))

	s := h.stepUntil(10*time.Millisecond, 50, func(s engine.Snapshot) bool { return s.Error != nil })
	assert.Equal(t, fault.KindSource, s.Error.Kind)
	assert.Equal(t, engine.StateIdle, s.State)
	require.NotNil(t, s.Error.PeriodID)
}

func TestEngine_SeekToCurrentPositionIsNoop(t *testing.T) {
	h := newHarness(t, singleWindow("w0", 10_000_000))
	s := h.start(false)
	sub, err := h.eng.Subscribe(context.Background())
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	enables := h.audio().Enables()
	h.eng.SeekTo(nil, 0, s.PositionUs)
	h.sync()

	assert.Equal(t, enables, h.audio().Enables())
	for _, u := range drain(sub.C()) {
		assert.False(t, u.PositionDiscontinuity)
	}
}

func TestEngine_SeekReportsDiscontinuity(t *testing.T) {
	h := newHarness(t, singleWindow("w0", 10_000_000))
	h.start(false)
	sub, err := h.eng.Subscribe(context.Background())
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	h.eng.SeekTo(nil, 0, 5_000_000)
	h.sync()

	var reasons []engine.DiscontinuityReason
	for _, u := range drain(sub.C()) {
		if u.PositionDiscontinuity {
			reasons = append(reasons, u.DiscontinuityReason)
		}
	}
	assert.Contains(t, reasons, engine.DiscontinuitySeek)
	assert.Equal(t, int64(5_000_000), h.eng.Snapshot().PositionUs)

	s := h.stepUntil(10*time.Millisecond, 200, stateIs(engine.StateReady))
	assert.Equal(t, int64(5_000_000), s.PositionUs)
}

func TestEngine_SeekOutsideTimelineEnds(t *testing.T) {
	h := newHarness(t, singleWindow("w0", 10_000_000))
	h.start(false)

	h.eng.SeekTo(nil, 3, 0)
	h.sync()
	assert.Equal(t, engine.StateEnded, h.eng.Snapshot().State)
}

func TestEngine_UpdatesAcknowledgeCommands(t *testing.T) {
	h := newHarness(t, singleWindow("w0", 10_000_000))
	sub, err := h.eng.Subscribe(context.Background())
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	h.eng.SetRepeatMode(timeline.RepeatAll)
	h.eng.SetVolume(0.5)
	h.sync()

	acks := 0
	for _, u := range drain(sub.C()) {
		acks += u.OperationAcks
	}
	assert.Equal(t, 2, acks)
}

func TestEngine_AddMediaSourcesExtendsTimeline(t *testing.T) {
	h := newHarness(t, singleWindow("w0", 10_000_000))
	h.start(true)

	second := sim.NewSource(singleWindow("w1", 10_000_000), sim.PeriodConfig{})
	h.eng.AddMediaSources(1, []source.Source{second}, nil)
	h.sync()

	s := h.eng.Snapshot()
	assert.Equal(t, 2, s.Timeline.WindowCount())
	assert.Equal(t, engine.StateReady, s.State)
}

func TestEngine_MessageDeliveredAtPosition(t *testing.T) {
	h := newHarness(t, singleWindow("w0", 10_000_000))
	h.start(true)

	target := &recordingTarget{}
	msg := engine.NewMessage(target, renderer.MsgCustomBase, "cue")
	msg.PositionUs = 2_000_000
	msg.WindowIndex = 0
	h.eng.SendMessage(msg)
	h.sync()
	assert.Empty(t, target.payloads())

	h.stepUntil(100*time.Millisecond, 50, func(s engine.Snapshot) bool { return s.PositionUs > 2_000_000 })
	assert.Equal(t, []any{"cue"}, target.payloads())

	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()
	delivered, err := msg.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, delivered)
}

func TestEngine_ImmediateMessage(t *testing.T) {
	h := newHarness(t, singleWindow("w0", 10_000_000))
	target := &recordingTarget{}
	msg := engine.NewMessage(target, renderer.MsgCustomBase, 7)
	h.eng.SendMessage(msg)
	h.sync()
	assert.Equal(t, []any{7}, target.payloads())
}

func TestEngine_CanceledMessageIsNotDelivered(t *testing.T) {
	h := newHarness(t, singleWindow("w0", 10_000_000))
	h.start(true)

	target := &recordingTarget{}
	msg := engine.NewMessage(target, renderer.MsgCustomBase, "late")
	msg.PositionUs = 1_000_000
	h.eng.SendMessage(msg)
	h.sync()
	msg.Cancel()

	h.stepUntil(100*time.Millisecond, 50, func(s engine.Snapshot) bool { return s.PositionUs > 1_500_000 })
	assert.Empty(t, target.payloads())

	delivered, err := msg.Wait(context.Background())
	require.NoError(t, err)
	assert.False(t, delivered)
}

func TestEngine_OffloadSleepAndWakeup(t *testing.T) {
	h := newHarness(t, singleWindow("w0", 10_000_000))
	h.eng.SetOffloadSchedulingEnabled(true)
	h.start(true)

	h.audio().Sleep()
	h.step(10 * time.Millisecond)
	s := h.eng.Snapshot()
	require.True(t, s.SleepingForOffload)
	assert.Zero(t, h.clk.Pending())

	h.audio().Wakeup()
	h.sync()
	assert.False(t, h.eng.Snapshot().SleepingForOffload)
	assert.Equal(t, 1, h.clk.Pending())
}

func TestEngine_RecoverableRendererErrorRetries(t *testing.T) {
	h := newHarness(t, singleWindow("w0", 10_000_000))
	h.start(true)

	h.audio().FailRender(renderer.Recoverable(errors.New("decoder reset")), true)
	h.step(10 * time.Millisecond)
	s := h.stepUntil(10*time.Millisecond, 200, stateIs(engine.StateReady))
	assert.Nil(t, s.Error)
}

func TestEngine_FatalRendererErrorThenRelease(t *testing.T) {
	h := newHarness(t, singleWindow("w0", 10_000_000))
	h.start(true)

	h.audio().FailRender(errors.New("boom"), false)
	s := h.stepUntil(10*time.Millisecond, 20, func(s engine.Snapshot) bool { return s.Error != nil })
	assert.Equal(t, fault.KindRenderer, s.Error.Kind)
	assert.Equal(t, media.TrackTypeAudio, s.Error.TrackType)
	assert.Equal(t, engine.StateIdle, s.State)

	require.True(t, h.eng.Release())
	<-h.eng.Done()
	for _, r := range h.renderers {
		assert.True(t, r.Released(), r.Name())
	}
	assert.True(t, h.src.Released())

	msg := engine.NewMessage(&recordingTarget{}, renderer.MsgCustomBase, nil)
	h.eng.SendMessage(msg)
	delivered, err := msg.Wait(context.Background())
	require.NoError(t, err)
	assert.False(t, delivered)
	assert.False(t, h.eng.Sync(time.Second))
}

func TestEngine_ContextCancelReleases(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	clk := clock.NewFake(time.Unix(0, 0))
	r := sim.NewRenderer("audio", media.TrackTypeAudio)
	eng, err := engine.New(engine.Config{}, engine.Deps{Renderers: []renderer.Renderer{r}, Clock: clk})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()
	require.True(t, eng.Sync(syncTimeout))
	updates := eng.Updates()

	cancel()
	require.NoError(t, <-done)
	assert.True(t, r.Released())
	for range updates {
	}
}

func drain(ch <-chan engine.Update) []engine.Update {
	var out []engine.Update
	for {
		select {
		case u, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, u)
		default:
			return out
		}
	}
}

func TestEngine_VolumeAndVideoOutputRouting(t *testing.T) {
	h := newHarness(t, singleWindow("w0", 5_000_000))
	h.start(false)

	h.eng.SetVolume(0.5)
	require.True(t, h.eng.SetVideoOutput("surface-1", syncTimeout))
	h.sync()

	assert.Equal(t, []any{float32(0.5)}, h.audio().MessagesOf(renderer.MsgVolume))
	assert.Equal(t, []any{"surface-1"}, h.renderers[1].MessagesOf(renderer.MsgVideoOutput))
	assert.Empty(t, h.text().MessagesOf(renderer.MsgVolume))
	assert.Empty(t, h.audio().MessagesOf(renderer.MsgVideoOutput))
}

func TestEngine_LeavingForegroundResetsRenderers(t *testing.T) {
	h := newHarness(t, singleWindow("w0", 5_000_000))
	h.start(true)

	h.eng.Stop()
	h.sync()
	require.Equal(t, engine.StateIdle, h.eng.Snapshot().State)
	// Foreground mode keeps stopped renderers allocated.
	for _, r := range h.renderers {
		require.Zero(t, r.Resets(), r.Name())
	}

	require.True(t, h.eng.SetForegroundMode(false))
	for _, r := range h.renderers {
		assert.GreaterOrEqual(t, r.Resets(), 1, r.Name())
	}
}

// queueRecorder keeps the last queue reported to the analytics sink.
type queueRecorder struct {
	mu  sync.Mutex
	ids []media.PeriodID
}

func (r *queueRecorder) OnQueueChanged(ids []media.PeriodID, _ media.PeriodID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = slices.Clone(ids)
}

func (*queueRecorder) OnRendererReadyChanged(int, media.TrackType, bool) {}
func (*queueRecorder) OnStateChanged(engine.State, engine.State)         {}
func (*queueRecorder) OnPlayerError(*fault.Error)                        {}

func (r *queueRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

func innerPeriodUID(id media.PeriodID) string {
	if _, inner, ok := timeline.SplitUID(id.PeriodUID); ok {
		return inner
	}
	return id.PeriodUID
}

func TestEngine_SlowSubscriberKeepsEveryAck(t *testing.T) {
	h := newHarness(t, singleWindow("w0", 10_000_000), withConfig(func(c *engine.Config) { c.UpdateBuffer = 1 }))
	sub, err := h.eng.Subscribe(context.Background())
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	const commands = 20
	for i := range commands {
		h.eng.SetVolume(float32(i) / commands)
	}
	h.sync()

	acks := 0
	var last engine.Update
	timeout := time.After(syncTimeout)
	for acks < commands {
		select {
		case u := <-sub.C():
			acks += u.OperationAcks
			last = u
		case <-timeout:
			t.Fatalf("received %d of %d acks", acks, commands)
		}
	}
	assert.Equal(t, commands, acks)
	assert.Equal(t, h.eng.Snapshot().State, last.Snapshot.State)
}

func TestEngine_PrewarmsSecondaryBeforeAdvancing(t *testing.T) {
	secondary := sim.NewRenderer("video-secondary", media.TrackTypeVideo)
	h := newHarness(t, singleWindow("w0", 2_000_000), withVideoSecondary(secondary))
	next := sim.NewSource(singleWindow("w1", 2_000_000), sim.PeriodConfig{})
	h.startSources(true, h.src, next)

	var enabledDuring string
	s := h.stepUntil(10*time.Millisecond, 600, func(s engine.Snapshot) bool {
		if enabledDuring == "" && secondary.Enables() > 0 {
			enabledDuring = innerPeriodUID(s.PeriodID)
		}
		return s.State == engine.StateEnded
	})
	assert.Equal(t, "w0-p0", enabledDuring, "secondary must be enabled while the first window plays")
	assert.Equal(t, "w1-p0", innerPeriodUID(s.PeriodID))
	assert.Nil(t, s.Error)
	assert.Len(t, h.renderers[1].MessagesOf(renderer.MsgTransferResources), 1)
}

func TestEngine_QueueAdjustments(t *testing.T) {
	twoWindows := timeline.NewBuilder().
		Add(timeline.WindowSpec{UID: "w0", DurationUs: 2_000_000, Periods: []timeline.PeriodSpec{{UID: "w0-p0", DurationUs: 2_000_000}}}).
		Add(timeline.WindowSpec{UID: "w1", DurationUs: 2_000_000, Periods: []timeline.PeriodSpec{{UID: "w1-p0", DurationUs: 2_000_000}}}).
		MustBuild()

	tests := []struct {
		name string
		tl   *timeline.Timeline
		run  func(t *testing.T, h *harness, rec *queueRecorder, sel *selection.DefaultSelector)
	}{
		{
			name: "repeat off drops looped period",
			tl:   singleWindow("w0", 2_000_000),
			run: func(t *testing.T, h *harness, rec *queueRecorder, _ *selection.DefaultSelector) {
				h.eng.SetRepeatMode(timeline.RepeatAll)
				h.start(true)
				h.stepUntil(10*time.Millisecond, 150, func(engine.Snapshot) bool { return rec.len() >= 2 })

				h.eng.SetRepeatMode(timeline.RepeatOff)
				h.sync()
				assert.Equal(t, 1, rec.len())

				s := h.stepUntil(100*time.Millisecond, 100, stateIs(engine.StateEnded))
				assert.Nil(t, s.Error)
			},
		},
		{
			name: "pause at end of window",
			tl:   singleWindow("w0", 2_000_000),
			run: func(t *testing.T, h *harness, _ *queueRecorder, _ *selection.DefaultSelector) {
				h.eng.SetPauseAtEndOfWindow(true)
				next := sim.NewSource(singleWindow("w1", 2_000_000), sim.PeriodConfig{})
				h.startSources(true, h.src, next)

				s := h.stepUntil(100*time.Millisecond, 100, func(s engine.Snapshot) bool { return !s.PlayWhenReady })
				assert.Equal(t, engine.ReasonEndOfMediaItem, s.PlayWhenReadyReason)
				assert.Equal(t, "w0-p0", innerPeriodUID(s.PeriodID))
				assert.GreaterOrEqual(t, s.PositionUs, int64(2_000_000))
				assert.NotEqual(t, engine.StateEnded, s.State)

				h.eng.SetPlayWhenReady(true, "")
				s = h.stepUntil(100*time.Millisecond, 100, stateIs(engine.StateEnded))
				assert.Equal(t, "w1-p0", innerPeriodUID(s.PeriodID))
			},
		},
		{
			name: "reselection for the reading period",
			tl:   singleWindow("w0", 2_000_000),
			run: func(t *testing.T, h *harness, _ *queueRecorder, sel *selection.DefaultSelector) {
				h.start(true)
				require.NotEqual(t, renderer.StateDisabled, h.text().State())

				sel.SetParameters(selection.Parameters{DisabledTypes: map[media.TrackType]bool{media.TrackTypeText: true}})
				h.sync()
				assert.Equal(t, renderer.StateDisabled, h.text().State())
				assert.Equal(t, renderer.StateStarted, h.audio().State())

				s := h.stepUntil(100*time.Millisecond, 100, stateIs(engine.StateEnded))
				assert.Nil(t, s.Error)
			},
		},
		{
			name: "refresh drops removed window",
			tl:   twoWindows,
			run: func(t *testing.T, h *harness, rec *queueRecorder, _ *selection.DefaultSelector) {
				h.start(true)
				h.stepUntil(10*time.Millisecond, 150, func(engine.Snapshot) bool { return rec.len() >= 2 })

				h.src.UpdateTimeline(singleWindow("w0", 2_000_000))
				h.sync()
				assert.Equal(t, 1, rec.len())
				assert.Equal(t, 1, h.eng.Snapshot().Timeline.WindowCount())

				s := h.stepUntil(100*time.Millisecond, 100, stateIs(engine.StateEnded))
				assert.Equal(t, "w0-p0", innerPeriodUID(s.PeriodID))
				assert.Nil(t, s.Error)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &queueRecorder{}
			sel := selection.NewDefaultSelector(selection.Parameters{})
			h := newHarness(t, tt.tl, withSink(rec), withSelector(sel))
			tt.run(t, h, rec, sel)
		})
	}
}

func TestEngine_CommandSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	p, err := telemetry.NewProvider(context.Background(), telemetry.Config{
		Enabled:      true,
		ServiceName:  "xplay-test",
		SamplingRate: 1,
	}, telemetry.WithExporter(exp))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, p.Shutdown(context.Background()))
		_, _ = telemetry.NewProvider(context.Background(), telemetry.Config{})
	})

	h := newHarness(t, singleWindow("w0", 10_000_000))
	h.eng.SetVolume(0.5)
	h.sync()

	var volume *tracetest.SpanStub
	for _, s := range exp.GetSpans() {
		assert.NotEqual(t, "engine.tick", s.Name)
		if s.Name == "engine.set_volume" {
			volume = &s
		}
	}
	require.NotNil(t, volume, "no span for set_volume")
	var session string
	for _, kv := range volume.Attributes {
		if kv.Key == telemetry.EngineSessionKey {
			session = kv.Value.AsString()
		}
	}
	assert.Equal(t, "test-session", session)
}

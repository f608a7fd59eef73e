// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package engine implements the playback engine: a single goroutine that
// owns the playlist, the segment queue and the renderer slots, processes
// commands from a mailbox, and publishes immutable snapshots.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/xplay/internal/bus"
	"github.com/ManuGH/xplay/internal/log"
	"github.com/ManuGH/xplay/internal/metrics"
	"github.com/ManuGH/xplay/internal/playback/clock"
	"github.com/ManuGH/xplay/internal/playback/fault"
	"github.com/ManuGH/xplay/internal/playback/livespeed"
	"github.com/ManuGH/xplay/internal/playback/loadcontrol"
	"github.com/ManuGH/xplay/internal/playback/media"
	"github.com/ManuGH/xplay/internal/playback/playlist"
	"github.com/ManuGH/xplay/internal/playback/queue"
	"github.com/ManuGH/xplay/internal/playback/renderer"
	"github.com/ManuGH/xplay/internal/playback/selection"
	"github.com/ManuGH/xplay/internal/playback/source"
	"github.com/ManuGH/xplay/internal/playback/timeline"
	"github.com/ManuGH/xplay/internal/telemetry"
)

var (
	ErrReleased       = errors.New("engine released")
	ErrTimeout        = errors.New("engine did not respond in time")
	ErrAlreadyRunning = errors.New("engine already running")
	ErrNoRenderers    = errors.New("engine needs at least one renderer")
)

const updatesTopic = "updates"

// updateRetryInterval is how often an idle engine retries handing a merged
// update to a subscriber whose channel was full.
const updateRetryInterval = 10 * time.Millisecond

// bufferEmptyThresholdUs is the buffered duration below which playback may
// be stuck when nothing loads.
const bufferEmptyThresholdUs = 500_000

// PreloadConfiguration controls speculative loading of upcoming windows.
type PreloadConfiguration struct {
	// TargetPreloadDurationUs is how much of each upcoming window to buffer,
	// media.TimeUnset to disable preloading.
	TargetPreloadDurationUs int64
}

// Config tunes the engine. Zero values are replaced by DefaultConfig.
type Config struct {
	StuckBufferingTimeout time.Duration
	MaxBufferAheadPeriods int
	BufferingMaxInterval  time.Duration
	ReadyMaxInterval      time.Duration
	ReleaseTimeout        time.Duration
	ForegroundTimeout     time.Duration
	Preload               PreloadConfiguration
	// DynamicScheduling lets renderers shorten or stretch the tick interval.
	DynamicScheduling bool
	// Prewarming enables the secondary renderer instances, if any.
	Prewarming bool
	// UpdateBuffer is the capacity of each Updates subscription.
	UpdateBuffer int
	SessionID    string
}

// DefaultConfig returns the stock engine tuning.
func DefaultConfig() Config {
	return Config{
		StuckBufferingTimeout: 4 * time.Second,
		MaxBufferAheadPeriods: queue.DefaultMaxBufferAheadPeriods,
		BufferingMaxInterval:  10 * time.Millisecond,
		ReadyMaxInterval:      time.Second,
		ReleaseTimeout:        500 * time.Millisecond,
		ForegroundTimeout:     500 * time.Millisecond,
		Preload:               PreloadConfiguration{TargetPreloadDurationUs: media.TimeUnset},
		Prewarming:            true,
		UpdateBuffer:          256,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StuckBufferingTimeout <= 0 {
		c.StuckBufferingTimeout = d.StuckBufferingTimeout
	}
	if c.MaxBufferAheadPeriods <= 0 {
		c.MaxBufferAheadPeriods = d.MaxBufferAheadPeriods
	}
	if c.BufferingMaxInterval <= 0 {
		c.BufferingMaxInterval = d.BufferingMaxInterval
	}
	if c.ReadyMaxInterval <= 0 {
		c.ReadyMaxInterval = d.ReadyMaxInterval
	}
	if c.ReleaseTimeout <= 0 {
		c.ReleaseTimeout = d.ReleaseTimeout
	}
	if c.ForegroundTimeout <= 0 {
		c.ForegroundTimeout = d.ForegroundTimeout
	}
	if c.Preload.TargetPreloadDurationUs <= 0 {
		c.Preload.TargetPreloadDurationUs = media.TimeUnset
	}
	if c.UpdateBuffer <= 0 {
		c.UpdateBuffer = d.UpdateBuffer
	}
	if c.SessionID == "" {
		c.SessionID = uuid.NewString()
	}
	return c
}

// Deps are the collaborators of the engine. Only Renderers is required.
type Deps struct {
	Renderers []renderer.Renderer
	// Secondaries holds an optional second instance per renderer, used for
	// pre-warming. It is either nil or as long as Renderers.
	Secondaries []renderer.Renderer
	Selector    selection.Selector
	LoadControl loadcontrol.Policy
	LiveSpeed   livespeed.Control
	Clock       clock.Clock
	Sink        AnalyticsSink
}

// Engine is the playback engine. All methods are safe for concurrent use.
type Engine struct {
	cfg       Config
	deps      Deps
	log       zerolog.Logger
	sometimes *log.Sometimes
	tracer    trace.Tracer

	mbox        *mailbox
	updates     *bus.MemoryBus[Update]
	snap        atomic.Pointer[Snapshot]
	running     atomic.Bool
	released    atomic.Bool
	stopped     chan struct{}
	updatesOnce sync.Once
	updatesCh   <-chan Update

	// Everything below is owned by the engine goroutine.
	cb            callbacks
	slots         []*renderer.Slot
	hasSecondary  bool
	playlist      *playlist.Playlist
	queue         *queue.Queue
	mediaClock    *clock.Media
	info          Snapshot
	update        pendingUpdate
	rendererReady []bool

	tickGen   uint64
	tickTimer clock.Timer

	rendererPositionUs        int64
	rendererElapsedRealtimeUs int64
	seekParams                media.SeekParameters
	preload                   PreloadConfiguration
	stuckTimeout              time.Duration
	stuckSince                time.Time
	lastPreloadTimeline       *timeline.Timeline

	pendingInitialSeek   *seekPosition
	pendingMessages      []*pendingMessage
	messageSeq           uint64
	deliverAtStartPos    bool
	pendingRecoverable   *fault.Error
	shouldKeepLoading    bool
	isRebuffering        bool
	lastRebufferMs       int64
	pauseAtEndOfWindow   bool
	pendingPauseAtEnd    bool
	foreground           bool
	offloadRequested     bool
	offloadEnabled       bool
	requestRendererSleep bool
	prewarmingDisabled   bool
	prewarmDiscontinuity int64
	volume               float32

	// published is the snapshot last handed out, used to detect changes.
	published Snapshot
}

// New wires the engine. Run must be called to start processing commands.
func New(cfg Config, deps Deps) (*Engine, error) {
	if len(deps.Renderers) == 0 {
		return nil, ErrNoRenderers
	}
	if deps.Secondaries != nil && len(deps.Secondaries) != len(deps.Renderers) {
		return nil, fmt.Errorf("engine: %d secondary renderers for %d renderers", len(deps.Secondaries), len(deps.Renderers))
	}
	cfg = cfg.withDefaults()
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Selector == nil {
		deps.Selector = selection.NewDefaultSelector(selection.Parameters{})
	}
	if deps.LoadControl == nil {
		lc, err := loadcontrol.NewDefault(loadcontrol.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("engine: load control: %w", err)
		}
		deps.LoadControl = lc
	}
	if deps.LiveSpeed == nil {
		deps.LiveSpeed = livespeed.NewDefault(livespeed.DefaultConfig(), deps.Clock)
	}
	if deps.Sink == nil {
		deps.Sink = NewDefaultSink()
	}

	e := &Engine{
		cfg:       cfg,
		deps:      deps,
		sometimes: log.NewSometimes(time.Second),
		tracer:    telemetry.Tracer(telemetry.EngineTracerName),
		mbox:      newMailbox(),
		updates:   bus.NewCoalescingBus[Update](cfg.UpdateBuffer, mergeUpdates),
		stopped:   make(chan struct{}),

		info:                 initialSnapshot(),
		rendererReady:        make([]bool, len(deps.Renderers)),
		rendererPositionUs:   queue.InitialRendererOffsetUs,
		preload:              cfg.Preload,
		stuckTimeout:         cfg.StuckBufferingTimeout,
		lastRebufferMs:       media.TimeUnset,
		foreground:           true,
		prewarmDiscontinuity: media.TimeUnset,
		volume:               1,
	}
	e.log = log.Derive(func(c *zerolog.Context) {
		*c = c.Str(log.FieldComponent, "engine").Str(log.FieldSessionID, cfg.SessionID)
	})

	cb := callbacks{mbox: e.mbox}
	e.cb = cb
	caps := make([]selection.Capabilities, len(deps.Renderers))
	e.slots = make([]*renderer.Slot, len(deps.Renderers))
	for i, r := range deps.Renderers {
		r.Init(i, cb)
		var sec renderer.Renderer
		if deps.Secondaries != nil && deps.Secondaries[i] != nil {
			sec = deps.Secondaries[i]
			sec.Init(i, cb)
			e.hasSecondary = cfg.Prewarming
		}
		e.slots[i] = renderer.NewSlot(i, r, sec)
		caps[i] = e.slots[i]
		if err := e.slots[i].HandleMessage(renderer.MsgWakeupListener, cb); err != nil {
			return nil, fmt.Errorf("engine: install wakeup listener on %s: %w", r.Name(), err)
		}
	}
	deps.Selector.Init(cb)
	e.playlist = playlist.New(cb)
	e.queue = queue.New(queue.Config{
		Factory:               e.playlist,
		Selector:              deps.Selector,
		Capabilities:          caps,
		MaxBufferAheadPeriods: cfg.MaxBufferAheadPeriods,
		Observer:              deps.Sink.OnQueueChanged,
	})
	e.queue.SetPreloadTarget(e.info.Timeline, e.preload.TargetPreloadDurationUs)
	e.mediaClock = clock.NewMedia(deps.Clock, func(p media.PlaybackParameters) {
		e.mbox.post(cmdClockParameters{params: p})
	})

	snap := e.info
	e.snap.Store(&snap)
	e.published = snap
	return e, nil
}

// Run processes commands until Release or ctx cancellation. Cancelling ctx
// releases the engine.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(e.stopped)
	defer e.closeUpdates()
	ctx = log.ContextWithSessionID(ctx, e.cfg.SessionID)
	e.log.Info().Int("renderers", len(e.slots)).Bool("prewarming", e.hasSecondary).Msg("engine started")

	for {
		for {
			c, ok := e.mbox.pop()
			if !ok {
				break
			}
			e.dispatch(ctx, c)
			if e.released.Load() {
				e.drain()
				e.log.Info().Msg("engine released")
				return nil
			}
		}
		var retry *time.Timer
		var retryC <-chan time.Time
		if !e.updates.TryFlush(updatesTopic) {
			retry = time.NewTimer(updateRetryInterval)
			retryC = retry.C
		}
		select {
		case <-ctx.Done():
			e.releaseInternal()
			e.publish()
			e.drain()
			e.log.Info().Msg("engine stopped by context")
			return nil
		case <-e.mbox.signal:
		case <-retryC:
		}
		if retry != nil {
			retry.Stop()
		}
	}
}

// closeUpdates gives slow subscribers up to ReleaseTimeout to take their
// last merged update, then closes every subscription.
func (e *Engine) closeUpdates() {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ReleaseTimeout)
	defer cancel()
	if err := e.updates.Flush(ctx, updatesTopic); err != nil {
		e.log.Warn().Err(err).Msg("final update not delivered")
	}
	e.updates.Close()
}

// Done is closed once Run has returned.
func (e *Engine) Done() <-chan struct{} { return e.stopped }

func (e *Engine) drain() {
	for _, c := range e.mbox.close() {
		if m, ok := c.(cmdSendMessage); ok {
			m.msg.markProcessed(false)
		}
		signal(c)
	}
	if n := len(e.pendingMessages); n > 0 {
		e.log.Debug().Int("messages", n).Msg("dropping pending messages")
	}
	for _, pm := range e.pendingMessages {
		pm.msg.markProcessed(false)
	}
	e.pendingMessages = nil
	e.cancelTick()
}

func (e *Engine) dispatch(ctx context.Context, c command) {
	name := c.commandName()
	_, isTick := c.(cmdTick)
	start := time.Now()

	var span trace.Span
	if !isTick {
		span = telemetry.StartCommand(ctx, e.tracer, name, e.cfg.SessionID, string(e.info.State))
	}
	if _, ok := c.(acknowledged); ok {
		e.update.ack(1)
	}

	var spanErr error
	kind, code := "", 0
	if err := e.safeHandle(c); err != nil {
		if fe := e.handleError(err); fe != nil {
			spanErr, kind, code = fe, string(fe.Kind), int(fe.Code)
		}
	}

	if span != nil {
		telemetry.EndCommand(span, spanErr, kind, code, telemetry.PlaybackAttributes(e.info.PeriodID.String(), e.info.PositionUs,
			e.info.TotalBufferedDurationUs, e.queue.Len(), e.info.PlaybackParameters.Speed, e.info.PlayWhenReady))
		metrics.IncCommand(name, time.Since(start).Seconds())
	} else {
		metrics.IncTick()
	}
	e.publish()
	signal(c)
}

func (e *Engine) safeHandle(c command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fault.NewRuntime(fmt.Errorf("panic handling %s: %v", c.commandName(), r))
		}
	}()
	return e.handle(c)
}

func (e *Engine) handle(c command) error {
	switch c := c.(type) {
	case cmdTick:
		if c.gen != e.tickGen {
			return nil
		}
		return e.doSomeWork()
	case cmdPrepare:
		return e.prepareInternal()
	case cmdStop:
		e.stopInternal(false)
	case cmdRelease:
		e.releaseInternal()
	case cmdSetPlayWhenReady:
		return e.setPlayWhenReadyInternal(c.play, c.suppression, ReasonUserRequest)
	case cmdSeek:
		return e.seekToInternal(seekPosition{tl: c.tl, windowIndex: c.windowIndex, windowPositionUs: c.positionUs})
	case cmdSetPlaybackParameters:
		return e.setPlaybackParametersInternal(c.params)
	case cmdSetSeekParameters:
		e.seekParams = c.params
	case cmdSetRepeatMode:
		return e.setRepeatModeInternal(c.mode)
	case cmdSetShuffleModeEnabled:
		return e.setShuffleModeEnabledInternal(c.enabled)
	case cmdSetShuffleOrder:
		return e.applyPlaylistEdit("set shuffle order", func() (*timeline.Timeline, error) {
			return e.playlist.SetShuffleOrder(c.order)
		})
	case cmdSetMediaSources:
		return e.setMediaSourcesInternal(c)
	case cmdAddMediaSources:
		return e.applyPlaylistEdit("add media sources", func() (*timeline.Timeline, error) {
			return e.playlist.Add(c.index, c.sources, c.shuffle)
		})
	case cmdRemoveMediaSources:
		return e.applyPlaylistEdit("remove media sources", func() (*timeline.Timeline, error) {
			return e.playlist.Remove(c.from, c.to, c.shuffle)
		})
	case cmdMoveMediaSources:
		return e.applyPlaylistEdit("move media sources", func() (*timeline.Timeline, error) {
			return e.playlist.Move(c.from, c.to, c.newFrom, c.shuffle)
		})
	case cmdSetPauseAtEndOfWindow:
		return e.setPauseAtEndOfWindowInternal(c.pause)
	case cmdSetPreloadConfiguration:
		e.preload = c.cfg
		e.queue.SetPreloadTarget(e.info.Timeline, c.cfg.TargetPreloadDurationUs)
	case cmdSetStuckBufferingTimeout:
		e.stuckTimeout = c.timeout
	case cmdSetForegroundMode:
		e.setForegroundModeInternal(c.foreground)
	case cmdSetVideoOutput:
		return e.setVideoOutputInternal(c.output)
	case cmdSetVolume:
		return e.setVolumeInternal(c.volume)
	case cmdSetOffloadSchedulingEnabled:
		e.setOffloadSchedulingEnabledInternal(c.enabled)
	case cmdSendMessage:
		return e.sendMessageInternal(c.msg)
	case cmdPeriodPrepared:
		return e.handlePeriodPrepared(c.period)
	case cmdContinueLoadingRequested:
		e.handleContinueLoadingRequested(c.period)
	case cmdPlaylistRefreshed:
		return e.handlePlaylistRefreshed(c.item, c.tl)
	case cmdTrackSelectionsInvalidated, cmdRendererCapabilitiesChanged:
		return e.reselectTracks()
	case cmdRendererSleep:
		e.requestRendererSleep = true
	case cmdRendererWakeup:
		if e.info.State == StateReady || e.info.State == StateBuffering {
			e.scheduleTickNow()
		}
	case cmdClockParameters:
		return e.handlePlaybackParameters(c.params, c.params.Speed, true)
	case cmdAttemptRecovery:
		return e.attemptRecovery()
	case cmdSync:
		if c.queued != nil {
			*c.queued = e.mbox.len()
		}
	default:
		return fault.NewRuntime(fmt.Errorf("unknown command %T", c))
	}
	return nil
}

// publish stores the current snapshot and emits an Update if anything
// visible changed.
func (e *Engine) publish() {
	snap := e.info
	e.snap.Store(&snap)
	if snap.changedFrom(e.published) {
		e.update.dirty = true
	}
	e.published = snap
	if !e.update.pending() {
		return
	}
	u := Update{
		Snapshot:              snap,
		OperationAcks:         e.update.acks,
		PositionDiscontinuity: e.update.discontinuity,
		DiscontinuityReason:   e.update.reason,
	}
	e.update = pendingUpdate{}
	e.updates.TryPublish(updatesTopic, u)
}

func (e *Engine) post(c command) {
	if !e.mbox.post(c) {
		e.log.Debug().Str(log.FieldCommand, c.commandName()).Msg("command dropped after release")
	}
}

// await blocks until done closes or timeout passes.
func (e *Engine) await(done chan struct{}, timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

// Tick scheduling. A generation counter invalidates ticks that were posted
// before the schedule changed.

func (e *Engine) cancelTick() {
	e.tickGen++
	if e.tickTimer != nil {
		e.tickTimer.Stop()
		e.tickTimer = nil
	}
}

func (e *Engine) scheduleTickNow() {
	e.cancelTick()
	e.mbox.post(cmdTick{gen: e.tickGen})
}

func (e *Engine) scheduleTickAfter(d time.Duration) {
	e.cancelTick()
	if d <= 0 {
		e.mbox.post(cmdTick{gen: e.tickGen})
		return
	}
	gen := e.tickGen
	e.tickTimer = e.deps.Clock.AfterFunc(d, func() {
		e.mbox.post(cmdTick{gen: gen})
	})
}

// Public API.

func (e *Engine) Prepare() { e.post(cmdPrepare{}) }

func (e *Engine) Stop() { e.post(cmdStop{}) }

// Release releases the engine and every collaborator. It reports false if
// the engine goroutine did not finish within Config.ReleaseTimeout.
func (e *Engine) Release() bool {
	if e.released.Load() {
		return true
	}
	done := make(chan struct{})
	if !e.mbox.post(cmdRelease{done: done}) {
		return true
	}
	return e.await(done, e.cfg.ReleaseTimeout)
}

func (e *Engine) SetPlayWhenReady(play bool, suppression SuppressionReason) {
	if suppression == "" {
		suppression = SuppressionNone
	}
	e.post(cmdSetPlayWhenReady{play: play, suppression: suppression})
}

// SeekTo seeks to positionUs in window windowIndex of tl. A nil tl means the
// current timeline; positionUs may be media.TimeUnset for the default
// position of the window.
func (e *Engine) SeekTo(tl *timeline.Timeline, windowIndex int, positionUs int64) {
	if tl == nil {
		tl = e.Snapshot().Timeline
	}
	e.post(cmdSeek{tl: tl, windowIndex: windowIndex, positionUs: positionUs})
}

func (e *Engine) SetPlaybackParameters(p media.PlaybackParameters) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.post(cmdSetPlaybackParameters{params: p})
	return nil
}

func (e *Engine) SetSeekParameters(p media.SeekParameters) { e.post(cmdSetSeekParameters{params: p}) }

func (e *Engine) SetRepeatMode(m timeline.RepeatMode) { e.post(cmdSetRepeatMode{mode: m}) }

func (e *Engine) SetShuffleModeEnabled(enabled bool) {
	e.post(cmdSetShuffleModeEnabled{enabled: enabled})
}

func (e *Engine) SetShuffleOrder(order timeline.ShuffleOrder) {
	e.post(cmdSetShuffleOrder{order: order})
}

// SetMediaSources replaces the playlist. startWindow may be
// media.IndexUnset to keep the current position.
func (e *Engine) SetMediaSources(sources []source.Source, startWindow int, startPositionUs int64, shuffle timeline.ShuffleOrder) {
	e.post(cmdSetMediaSources{sources: sources, windowIndex: startWindow, positionUs: startPositionUs, shuffle: shuffle})
}

func (e *Engine) AddMediaSources(index int, sources []source.Source, shuffle timeline.ShuffleOrder) {
	e.post(cmdAddMediaSources{index: index, sources: sources, shuffle: shuffle})
}

func (e *Engine) RemoveMediaSources(from, to int, shuffle timeline.ShuffleOrder) {
	e.post(cmdRemoveMediaSources{from: from, to: to, shuffle: shuffle})
}

func (e *Engine) MoveMediaSources(from, to, newFrom int, shuffle timeline.ShuffleOrder) {
	e.post(cmdMoveMediaSources{from: from, to: to, newFrom: newFrom, shuffle: shuffle})
}

func (e *Engine) SetPauseAtEndOfWindow(pause bool) { e.post(cmdSetPauseAtEndOfWindow{pause: pause}) }

func (e *Engine) SetPreloadConfiguration(cfg PreloadConfiguration) {
	if cfg.TargetPreloadDurationUs <= 0 {
		cfg.TargetPreloadDurationUs = media.TimeUnset
	}
	e.post(cmdSetPreloadConfiguration{cfg: cfg})
}

func (e *Engine) SetStuckBufferingTimeout(d time.Duration) {
	if d <= 0 {
		d = e.cfg.StuckBufferingTimeout
	}
	e.post(cmdSetStuckBufferingTimeout{timeout: d})
}

// SetForegroundMode keeps renderers allocated across Stop while enabled.
// Turning it off waits until disabled renderers were reset and reports
// false on timeout.
func (e *Engine) SetForegroundMode(foreground bool) bool {
	if e.released.Load() {
		return true
	}
	if foreground {
		e.post(cmdSetForegroundMode{foreground: true})
		return true
	}
	done := make(chan struct{})
	if !e.mbox.post(cmdSetForegroundMode{done: done}) {
		return true
	}
	return e.await(done, e.cfg.ForegroundTimeout)
}

// SetVideoOutput routes output to the video renderers. With a negative
// timeout it returns immediately; otherwise it reports whether the output
// was applied in time.
func (e *Engine) SetVideoOutput(output any, timeout time.Duration) bool {
	if e.released.Load() {
		return true
	}
	if timeout < 0 {
		e.post(cmdSetVideoOutput{output: output})
		return true
	}
	done := make(chan struct{})
	if !e.mbox.post(cmdSetVideoOutput{output: output, done: done}) {
		return true
	}
	return e.await(done, timeout)
}

func (e *Engine) SetVolume(v float32) { e.post(cmdSetVolume{volume: v}) }

func (e *Engine) SetOffloadSchedulingEnabled(enabled bool) {
	e.post(cmdSetOffloadSchedulingEnabled{enabled: enabled})
}

// SendMessage schedules m. Messages sent after release are marked processed
// without delivery.
func (e *Engine) SendMessage(m *Message) {
	if !e.mbox.post(cmdSendMessage{msg: m}) {
		m.markProcessed(false)
	}
}

// Sync blocks until the engine processed every command posted before the
// call and everything those commands posted in turn. Timer driven ticks
// are not waited for. It reports false on timeout or after release.
func (e *Engine) Sync(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		var queued int
		done := make(chan struct{})
		if !e.mbox.post(cmdSync{done: done, queued: &queued}) {
			return false
		}
		left := time.Until(deadline)
		if left <= 0 || !e.await(done, left) {
			return false
		}
		if queued == 0 {
			return !e.released.Load()
		}
	}
}

// Snapshot returns the last published snapshot.
func (e *Engine) Snapshot() Snapshot { return *e.snap.Load() }

// Updates returns a shared subscription to snapshot updates. The channel
// closes when the engine stops.
func (e *Engine) Updates() <-chan Update {
	e.updatesOnce.Do(func() {
		sub, err := e.updates.Subscribe(context.Background(), updatesTopic)
		if err != nil {
			ch := make(chan Update)
			close(ch)
			e.updatesCh = ch
			return
		}
		e.updatesCh = sub.C()
	})
	return e.updatesCh
}

// Subscribe returns an independent subscription to snapshot updates.
func (e *Engine) Subscribe(ctx context.Context) (bus.Subscriber[Update], error) {
	return e.updates.Subscribe(ctx, updatesTopic)
}

// callbacks adapts collaborator notifications to mailbox commands. It is
// safe to call from any goroutine.
type callbacks struct{ mbox *mailbox }

func (c callbacks) OnCapabilitiesChanged(renderer.Renderer) {
	c.mbox.post(cmdRendererCapabilitiesChanged{})
}

func (c callbacks) OnSleep()  { c.mbox.post(cmdRendererSleep{}) }
func (c callbacks) OnWakeup() { c.mbox.post(cmdRendererWakeup{}) }

func (c callbacks) OnTrackSelectionsInvalidated() { c.mbox.post(cmdTrackSelectionsInvalidated{}) }

func (c callbacks) OnChildRefreshed(item *playlist.Item, tl *timeline.Timeline) {
	c.mbox.post(cmdPlaylistRefreshed{item: item, tl: tl})
}

func (c callbacks) OnPrepared(p source.Period) { c.mbox.post(cmdPeriodPrepared{period: p}) }

func (c callbacks) OnContinueLoadingRequested(p source.Period) {
	c.mbox.post(cmdContinueLoadingRequested{period: p})
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sim

import (
	"fmt"
	"sync"

	"github.com/ManuGH/xplay/internal/playback/clock"
	"github.com/ManuGH/xplay/internal/playback/media"
	"github.com/ManuGH/xplay/internal/playback/renderer"
	"github.com/ManuGH/xplay/internal/playback/source"
	"github.com/ManuGH/xplay/internal/playback/timeline"
)

// Message is a renderer message recorded by a Renderer.
type Message struct {
	Kind    renderer.MessageKind
	Payload any
}

// Renderer consumes Streams of simulated periods. It is ready while data is
// buffered past the render position and ends once a final stream has been
// played to its end.
type Renderer struct {
	name      string
	trackType media.TrackType

	mu          sync.Mutex
	index       int
	listener    renderer.Listener
	state       renderer.State
	stream      source.Stream
	offsetUs    int64
	startUs     int64
	positionUs  int64
	final       bool
	finalEndUs  int64
	speed       float32
	enables     int
	resets      int
	released    bool
	renderErr   error
	renderOnce  bool
	progressUs  int64
	messages    []Message
	wakeup      renderer.WakeupListener
	unsupported map[string]bool
}

// NewRenderer returns a disabled renderer for one track type.
func NewRenderer(name string, t media.TrackType) *Renderer {
	return &Renderer{name: name, trackType: t, state: renderer.StateDisabled, speed: 1, progressUs: media.TimeUnset}
}

// NewRenderers returns one renderer per type, named after the type.
func NewRenderers(types ...media.TrackType) []*Renderer {
	out := make([]*Renderer, len(types))
	for i, t := range types {
		out[i] = NewRenderer(string(t), t)
	}
	return out
}

func (r *Renderer) Name() string               { return r.name }
func (r *Renderer) TrackType() media.TrackType { return r.trackType }

func (r *Renderer) SupportsFormat(f media.Format) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.unsupported[f.ID]
}

// Unsupport stops advertising support for a format and notifies the
// capabilities listener.
func (r *Renderer) Unsupport(formatID string) {
	r.mu.Lock()
	if r.unsupported == nil {
		r.unsupported = map[string]bool{}
	}
	r.unsupported[formatID] = true
	l := r.listener
	r.mu.Unlock()
	if l != nil {
		l.OnCapabilitiesChanged(r)
	}
}

func (r *Renderer) Init(index int, l renderer.Listener) {
	r.mu.Lock()
	r.index = index
	r.listener = l
	r.mu.Unlock()
}

func (r *Renderer) State() renderer.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Renderer) Enable(_ []media.Format, stream source.Stream, positionUs int64, _, _ bool, startPositionUs, offsetUs int64, _ media.PeriodID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != renderer.StateDisabled {
		return fmt.Errorf("sim renderer %s: enable in state %s", r.name, r.state)
	}
	r.state = renderer.StateEnabled
	r.stream = stream
	r.startUs = startPositionUs
	r.offsetUs = offsetUs
	r.positionUs = positionUs
	r.final = false
	r.enables++
	return nil
}

func (r *Renderer) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != renderer.StateEnabled {
		return fmt.Errorf("sim renderer %s: start in state %s", r.name, r.state)
	}
	r.state = renderer.StateStarted
	return nil
}

func (r *Renderer) ReplaceStream(_ []media.Format, stream source.Stream, startPositionUs, offsetUs int64, _ media.PeriodID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.final {
		return fmt.Errorf("sim renderer %s: replace after final stream", r.name)
	}
	r.stream = stream
	r.startUs = startPositionUs
	r.offsetUs = offsetUs
	return nil
}

func (r *Renderer) Stream() source.Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stream
}

// bufferedLocked returns the buffered renderer time of the stream and
// whether it was loaded to its end.
func (r *Renderer) bufferedLocked() (int64, bool) {
	st, ok := r.stream.(*Stream)
	if !ok {
		return media.TimeEndOfSource, true
	}
	us, done := st.period.buffered()
	return us + r.offsetUs, done
}

func (r *Renderer) HasReadStreamToEnd() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream == nil {
		return false
	}
	_, done := r.bufferedLocked()
	return done
}

func (r *Renderer) ReadingPositionUs() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream == nil {
		return media.TimeUnset
	}
	us, done := r.bufferedLocked()
	if done {
		return media.TimeEndOfSource
	}
	return us
}

func (r *Renderer) SetCurrentStreamFinal() {
	r.mu.Lock()
	r.final = true
	r.mu.Unlock()
}

// SetFinalStreamEndPositionUs records the end of the final stream.
func (r *Renderer) SetFinalStreamEndPositionUs(us int64) {
	r.mu.Lock()
	r.finalEndUs = us
	r.mu.Unlock()
}

func (r *Renderer) IsCurrentStreamFinal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.final
}

func (r *Renderer) MaybeThrowStreamError() error {
	r.mu.Lock()
	st := r.stream
	r.mu.Unlock()
	if st == nil {
		return nil
	}
	return st.MaybeThrowError()
}

func (r *Renderer) ResetPosition(positionUs int64) error {
	r.mu.Lock()
	r.positionUs = positionUs
	r.final = false
	r.mu.Unlock()
	return nil
}

func (r *Renderer) SetPlaybackSpeed(current, _ float32) error {
	r.mu.Lock()
	r.speed = current
	r.mu.Unlock()
	return nil
}

// Speed returns the last playback speed set.
func (r *Renderer) Speed() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.speed
}

func (r *Renderer) EnableMayRenderStartOfStream() {}

func (r *Renderer) SetTimeline(*timeline.Timeline) {}

// FailRender makes Render return err. With once set the failure is
// reported a single time.
func (r *Renderer) FailRender(err error, once bool) {
	r.mu.Lock()
	r.renderErr = err
	r.renderOnce = once
	r.mu.Unlock()
}

func (r *Renderer) Render(positionUs, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.renderErr; err != nil {
		if r.renderOnce {
			r.renderErr = nil
		}
		return err
	}
	r.positionUs = positionUs
	return nil
}

func (r *Renderer) IsReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream == nil || !r.stream.IsReady() {
		return false
	}
	us, done := r.bufferedLocked()
	return done || us > r.positionUs
}

func (r *Renderer) IsEnded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream == nil || !r.final {
		return false
	}
	us, done := r.bufferedLocked()
	return done && r.positionUs >= us
}

// SetDurationToProgressUs sets the progress hint, media.TimeUnset for none.
func (r *Renderer) SetDurationToProgressUs(us int64) {
	r.mu.Lock()
	r.progressUs = us
	r.mu.Unlock()
}

func (r *Renderer) DurationToProgressUs(int64, int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progressUs
}

func (r *Renderer) Stop() {
	r.mu.Lock()
	if r.state == renderer.StateStarted {
		r.state = renderer.StateEnabled
	}
	r.mu.Unlock()
}

func (r *Renderer) Disable() {
	r.mu.Lock()
	r.state = renderer.StateDisabled
	r.stream = nil
	r.final = false
	r.mu.Unlock()
}

func (r *Renderer) Reset() {
	r.mu.Lock()
	r.resets++
	r.mu.Unlock()
}

func (r *Renderer) Release() {
	r.mu.Lock()
	r.released = true
	r.mu.Unlock()
}

func (r *Renderer) HandleMessage(kind renderer.MessageKind, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Kind: kind, Payload: payload})
	if kind == renderer.MsgWakeupListener {
		r.wakeup, _ = payload.(renderer.WakeupListener)
	}
	return nil
}

func (r *Renderer) MediaClock() clock.MediaClock { return nil }

// Sleep asks the engine to stop ticking, as power-aware output would.
func (r *Renderer) Sleep() {
	r.mu.Lock()
	l := r.wakeup
	r.mu.Unlock()
	if l != nil {
		l.OnSleep()
	}
}

// Wakeup asks the engine to resume ticking.
func (r *Renderer) Wakeup() {
	r.mu.Lock()
	l := r.wakeup
	r.mu.Unlock()
	if l != nil {
		l.OnWakeup()
	}
}

// Messages returns the messages received so far.
func (r *Renderer) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// MessagesOf returns the payloads received for one kind.
func (r *Renderer) MessagesOf(kind renderer.MessageKind) []any {
	var out []any
	for _, m := range r.Messages() {
		if m.Kind == kind {
			out = append(out, m.Payload)
		}
	}
	return out
}

// Enables counts Enable calls.
func (r *Renderer) Enables() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enables
}

// Resets counts Reset calls.
func (r *Renderer) Resets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resets
}

// PositionUs is the last rendered position.
func (r *Renderer) PositionUs() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.positionUs
}

// Released reports whether Release was called.
func (r *Renderer) Released() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

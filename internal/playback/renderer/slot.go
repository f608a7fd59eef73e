// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package renderer

import (
	"errors"
	"fmt"
	"math"

	"github.com/ManuGH/xplay/internal/fsm"
	"github.com/ManuGH/xplay/internal/playback/media"
	"github.com/ManuGH/xplay/internal/playback/segment"
	"github.com/ManuGH/xplay/internal/playback/selection"
	"github.com/ManuGH/xplay/internal/playback/source"
	"github.com/ManuGH/xplay/internal/playback/timeline"
)

// SlotState tells which instance is active and which one, if any, is being
// pre-warmed.
type SlotState string

const (
	UsingPrimary             SlotState = "using_primary"
	UsingSecondary           SlotState = "using_secondary"
	PrewarmingPrimary        SlotState = "prewarming_primary"
	TransitioningToPrimary   SlotState = "transitioning_to_primary"
	TransitioningToSecondary SlotState = "transitioning_to_secondary"
)

type slotEvent string

const (
	evPrewarmSecondary slotEvent = "prewarm_secondary"
	evPrewarmPrimary   slotEvent = "prewarm_primary"
	evPrewarmBehind    slotEvent = "prewarm_primary_behind_secondary"
	evTransitionDone   slotEvent = "transition_done"
	evCancelPrewarm    slotEvent = "cancel_prewarm"
)

// Transition is the result of ReplaceStreamsOrDisableForTransition.
type Transition int

const (
	// TransitionCompleted means the slot no longer reads the old stream.
	TransitionCompleted Transition = 1 << iota
	// TransitionDisableOffload means an active stream was hot-swapped and
	// power-aware scheduling must be paused.
	TransitionDisableOffload
)

var (
	ErrAlreadyPrewarming = errors.New("renderer slot already pre-warming")
	ErrNoSecondary       = errors.New("renderer slot has no secondary instance")
)

// Slot is one logical renderer made of a primary and an optional secondary
// instance. Only the active instance produces output; the other one may be
// enabled early on the next stream.
type Slot struct {
	index     int
	primary   Renderer
	secondary Renderer
	machine   *fsm.Machine[SlotState, slotEvent]

	primaryRequiresReset   bool
	secondaryRequiresReset bool
}

// NewSlot pairs primary with secondary, which may be nil.
func NewSlot(index int, primary, secondary Renderer) *Slot {
	s := &Slot{index: index, primary: primary, secondary: secondary}
	s.machine = fsm.MustNew(UsingPrimary, s.transitions())
	return s
}

func (s *Slot) transitions() []fsm.Transition[SlotState, slotEvent] {
	needSecondary := func(SlotState, slotEvent) error {
		if s.secondary == nil {
			return ErrNoSecondary
		}
		return nil
	}
	toPrimary := func(SlotState, SlotState, slotEvent) error { return s.transferResources(true) }
	toSecondary := func(SlotState, SlotState, slotEvent) error { return s.transferResources(false) }
	return []fsm.Transition[SlotState, slotEvent]{
		{From: UsingPrimary, Event: evPrewarmSecondary, To: TransitioningToSecondary, Guard: needSecondary},
		{From: UsingSecondary, Event: evPrewarmBehind, To: TransitioningToPrimary},
		{From: UsingPrimary, Event: evPrewarmPrimary, To: PrewarmingPrimary},
		{From: UsingSecondary, Event: evPrewarmPrimary, To: PrewarmingPrimary},

		{From: TransitioningToSecondary, Event: evTransitionDone, To: UsingSecondary, Action: toSecondary},
		{From: TransitioningToPrimary, Event: evTransitionDone, To: UsingPrimary, Action: toPrimary},
		{From: PrewarmingPrimary, Event: evTransitionDone, To: UsingPrimary},

		{From: TransitioningToSecondary, Event: evCancelPrewarm, To: UsingPrimary},
		{From: TransitioningToPrimary, Event: evCancelPrewarm, To: UsingSecondary},
		{From: PrewarmingPrimary, Event: evCancelPrewarm, To: UsingPrimary},
	}
}

func (s *Slot) Index() int                 { return s.index }
func (s *Slot) Primary() Renderer          { return s.primary }
func (s *Slot) Secondary() Renderer        { return s.secondary }
func (s *Slot) HasSecondary() bool         { return s.secondary != nil }
func (s *Slot) TrackType() media.TrackType { return s.primary.TrackType() }
func (s *Slot) Name() string               { return s.primary.Name() }
func (s *Slot) State() SlotState           { return s.machine.State() }

// SupportsFormat lets a Slot stand in for its renderers during track selection.
func (s *Slot) SupportsFormat(f media.Format) bool { return s.primary.SupportsFormat(f) }

func (s *Slot) String() string {
	return fmt.Sprintf("slot#%d(%s %s)", s.index, s.primary.Name(), s.machine.State())
}

func enabled(r Renderer) bool { return r != nil && r.State() != StateDisabled }

func (s *Slot) primaryPrewarming() bool {
	st := s.machine.State()
	return st == PrewarmingPrimary || st == TransitioningToPrimary
}

func (s *Slot) secondaryPrewarming() bool {
	return s.machine.State() == TransitioningToSecondary
}

// StartPrewarming marks the inactive instance as the one the next Enable
// targets: the secondary when the primary is enabled, the primary when the
// secondary is, and otherwise the primary on its own.
func (s *Slot) StartPrewarming() error {
	if s.IsPrewarming() {
		return ErrAlreadyPrewarming
	}
	ev := evPrewarmPrimary
	switch {
	case enabled(s.primary):
		ev = evPrewarmSecondary
	case enabled(s.secondary):
		ev = evPrewarmBehind
	}
	_, err := s.machine.Fire(ev)
	return err
}

// IsPrewarming reports whether one instance is enabled ahead of the
// playing item.
func (s *Slot) IsPrewarming() bool {
	return s.primaryPrewarming() || s.secondaryPrewarming()
}

// IsRendererPrewarming reports whether instance id (0 primary, 1 secondary)
// is the pre-warming one.
func (s *Slot) IsRendererPrewarming(id int) bool {
	if id == 0 {
		return s.primaryPrewarming()
	}
	return s.secondaryPrewarming()
}

// EnabledRendererCount counts enabled instances.
func (s *Slot) EnabledRendererCount() int {
	n := 0
	if enabled(s.primary) {
		n++
	}
	if enabled(s.secondary) {
		n++
	}
	return n
}

// IsEnabled reports whether the instance the slot currently targets is enabled.
func (s *Slot) IsEnabled() bool {
	switch s.machine.State() {
	case UsingPrimary, PrewarmingPrimary, TransitioningToPrimary:
		return enabled(s.primary)
	}
	return enabled(s.secondary)
}

// readingFrom returns the instance consuming the stream of h, or nil.
func (s *Slot) readingFrom(h *segment.Holder) Renderer {
	if h == nil {
		return nil
	}
	st := h.Stream(s.index)
	if st == nil {
		return nil
	}
	if s.primary.Stream() == st {
		return s.primary
	}
	if s.secondary != nil && s.secondary.Stream() == st {
		return s.secondary
	}
	return nil
}

// IsReadingFrom reports whether an instance consumes the stream of h.
func (s *Slot) IsReadingFrom(h *segment.Holder) bool { return s.readingFrom(h) != nil }

// ReadingPositionUs returns how far the instance reading h has read.
func (s *Slot) ReadingPositionUs(h *segment.Holder) int64 {
	if r := s.readingFrom(h); r != nil {
		return r.ReadingPositionUs()
	}
	return media.TimeUnset
}

// HasReadPeriodToEnd reports whether the stream of h was read to its end.
func (s *Slot) HasReadPeriodToEnd(h *segment.Holder) bool {
	r := s.readingFrom(h)
	return r != nil && r.HasReadStreamToEnd()
}

// SetCurrentStreamFinal marks the stream of h as the last one.
func (s *Slot) SetCurrentStreamFinal(h *segment.Holder, endUs int64) {
	if r := s.readingFrom(h); r != nil {
		setStreamFinal(r, endUs)
	}
}

// StreamEndSetter is implemented by renderers that need the end of a final
// stream, such as subtitle renderers that keep cues alive until then.
type StreamEndSetter interface {
	SetFinalStreamEndPositionUs(us int64)
}

func setStreamFinal(r Renderer, endUs int64) {
	r.SetCurrentStreamFinal()
	if es, ok := r.(StreamEndSetter); ok {
		es.SetFinalStreamEndPositionUs(endUs)
	}
}

// MaybeSetOldStreamToFinal marks the current stream final when the next
// item cannot continue on the same renderer configuration.
func (s *Slot) MaybeSetOldStreamToFinal(old, next *selection.Result, endUs int64) {
	st := s.machine.State()
	usePrimary := s.secondary == nil || st == TransitioningToSecondary ||
		(st == UsingPrimary && enabled(s.primary))
	r := s.primary
	if !usePrimary {
		r = s.secondary
	}
	if !old.IsRendererEnabled(s.index) || r.IsCurrentStreamFinal() {
		return
	}
	oldCfg, newCfg := old.Configs[s.index], next.Configs[s.index]
	sameCfg := newCfg != nil && *oldCfg == *newCfg
	if !next.IsRendererEnabled(s.index) || !sameCfg || s.TrackType() == media.TrackTypeNone || s.IsPrewarming() {
		setStreamFinal(r, endUs)
	}
}

// SetAllNonPrewarmingStreamsFinal marks the streams of active instances final.
func (s *Slot) SetAllNonPrewarmingStreamsFinal(endUs int64) {
	if enabled(s.primary) && !s.primaryPrewarming() && !s.primary.IsCurrentStreamFinal() {
		setStreamFinal(s.primary, endUs)
	}
	if enabled(s.secondary) && !s.secondaryPrewarming() && !s.secondary.IsCurrentStreamFinal() {
		setStreamFinal(s.secondary, endUs)
	}
}

// MinDurationToProgressUs is the smallest progress hint of the enabled
// instances, math.MaxInt64 if none gave one.
func (s *Slot) MinDurationToProgressUs(positionUs, elapsedRealtimeUs int64) int64 {
	out := int64(math.MaxInt64)
	for _, r := range []Renderer{s.primary, s.secondary} {
		if !enabled(r) {
			continue
		}
		if d := r.DurationToProgressUs(positionUs, elapsedRealtimeUs); d != media.TimeUnset {
			out = min(out, d)
		}
	}
	return out
}

// SetPlaybackSpeed forwards the speed to both instances.
func (s *Slot) SetPlaybackSpeed(current, target float32) error {
	if err := s.primary.SetPlaybackSpeed(current, target); err != nil {
		return err
	}
	if s.secondary != nil {
		return s.secondary.SetPlaybackSpeed(current, target)
	}
	return nil
}

// SetTimeline forwards the timeline to both instances.
func (s *Slot) SetTimeline(tl *timeline.Timeline) {
	s.primary.SetTimeline(tl)
	if s.secondary != nil {
		s.secondary.SetTimeline(tl)
	}
}

// IsEnded reports whether every enabled instance has ended.
func (s *Slot) IsEnded() bool {
	ended := true
	if enabled(s.primary) {
		ended = s.primary.IsEnded()
	}
	if enabled(s.secondary) {
		ended = ended && s.secondary.IsEnded()
	}
	return ended
}

// HasFinishedReadingFrom reports whether no instance still needs the
// stream of reading. next is the holder after reading, or nil.
func (s *Slot) HasFinishedReadingFrom(reading, next *segment.Holder) bool {
	return s.finishedReading(s.primary, reading, next) && s.finishedReading(s.secondary, reading, next)
}

func (s *Slot) finishedReading(r Renderer, reading, next *segment.Holder) bool {
	if r == nil || r.Stream() == nil {
		return true
	}
	st := reading.Stream(s.index)
	if r.Stream() != st || (st != nil && !r.HasReadStreamToEnd() && !s.reachedSameStreamTransition(r, reading, next)) {
		// An instance enabled early on the next stream is not reading this one.
		return next != nil && next.Stream(s.index) == r.Stream()
	}
	return true
}

// reachedSameStreamTransition reports whether r already read past the start
// of a following span that shares its underlying stream.
func (s *Slot) reachedSameStreamTransition(r Renderer, reading, next *segment.Holder) bool {
	if !reading.Info.IsFollowedByTransitionToSameStream || next == nil || !next.IsPrepared() {
		return false
	}
	switch r.TrackType() {
	case media.TrackTypeText, media.TrackTypeMetadata:
		return true
	}
	return r.ReadingPositionUs() >= next.StartPositionRendererTime()
}

// InstanceError is returned by Render and tells which instance failed.
type InstanceError struct {
	// Prewarming is set when the failing instance was enabled ahead of the
	// playing item.
	Prewarming bool
	Err        error
}

func (e *InstanceError) Error() string { return e.Err.Error() }
func (e *InstanceError) Unwrap() error { return e.Err }

// FailedWhilePrewarming reports whether err came from the pre-warming
// instance of a slot.
func FailedWhilePrewarming(err error) bool {
	var ie *InstanceError
	return errors.As(err, &ie) && ie.Prewarming
}

// Render renders every enabled instance.
func (s *Slot) Render(positionUs, elapsedRealtimeUs int64) error {
	for _, r := range []Renderer{s.primary, s.secondary} {
		if enabled(r) {
			if err := r.Render(positionUs, elapsedRealtimeUs); err != nil {
				pre := (r == s.primary && s.primaryPrewarming()) || (r == s.secondary && s.secondaryPrewarming())
				return &InstanceError{Prewarming: pre, Err: err}
			}
		}
	}
	return nil
}

// AllowsPlayback reports whether the instance reading playing lets
// playback continue: ready, ended or read to the end of its stream.
func (s *Slot) AllowsPlayback(playing *segment.Holder) bool {
	r := s.readingFrom(playing)
	return r == nil || r.HasReadStreamToEnd() || r.IsReady() || r.IsEnded()
}

// IsReady reports whether the instance reading h is ready.
func (s *Slot) IsReady(h *segment.Holder) bool {
	r := s.readingFrom(h)
	return r != nil && r.IsReady()
}

// MaybeThrowStreamError surfaces a stream error of the instance reading h.
func (s *Slot) MaybeThrowStreamError(h *segment.Holder) error {
	if r := s.readingFrom(h); r != nil {
		return r.MaybeThrowStreamError()
	}
	return nil
}

// Start starts one enabled instance that is not pre-warming behind the
// active one, preferring the primary.
func (s *Slot) Start() error {
	st := s.machine.State()
	switch {
	case s.primary.State() == StateEnabled && st != TransitioningToPrimary:
		return s.primary.Start()
	case s.secondary != nil && s.secondary.State() == StateEnabled && st != TransitioningToSecondary:
		return s.secondary.Start()
	default:
		return nil
	}
}

// Stop stops started instances.
func (s *Slot) Stop() {
	ensureStopped(s.primary)
	ensureStopped(s.secondary)
}

func ensureStopped(r Renderer) {
	if r != nil && r.State() == StateStarted {
		r.Stop()
	}
}

// Enable enables the targeted instance on stream: the pre-warming one if
// any, else the active one.
func (s *Slot) Enable(formats []media.Format, stream source.Stream, positionUs int64, joining, mayRenderStartOfStream bool, startPositionUs, offsetUs int64, id media.PeriodID, mc ClockBinder) error {
	r := s.secondary
	switch s.machine.State() {
	case UsingPrimary, PrewarmingPrimary, TransitioningToPrimary:
		r = s.primary
	}
	if r == nil {
		return ErrNoSecondary
	}
	if r == s.primary {
		s.primaryRequiresReset = true
	} else {
		s.secondaryRequiresReset = true
	}
	if err := r.Enable(formats, stream, positionUs, joining, mayRenderStartOfStream, startPositionUs, offsetUs, id); err != nil {
		return err
	}
	return mc.OnRendererEnabled(r)
}

// Disable disables both instances and returns to the primary. Resources
// held by an active secondary move back to the primary.
func (s *Slot) Disable(mc ClockBinder) error {
	disableRenderer(s.primary, mc)
	if s.secondary != nil {
		transfer := enabled(s.secondary) && s.machine.State() != TransitioningToSecondary
		disableRenderer(s.secondary, mc)
		s.maybeReset(false)
		if transfer {
			if err := s.transferResources(true); err != nil {
				s.machine.Reset()
				return err
			}
		}
	}
	s.machine.Reset()
	return nil
}

func disableRenderer(r Renderer, mc ClockBinder) {
	if !enabled(r) {
		return
	}
	mc.OnRendererDisabled(r)
	ensureStopped(r)
	r.Disable()
}

func (s *Slot) transferResources(toPrimary bool) error {
	if s.secondary == nil {
		return nil
	}
	if toPrimary {
		return s.secondary.HandleMessage(MsgTransferResources, s.primary)
	}
	return s.primary.HandleMessage(MsgTransferResources, s.secondary)
}

// MaybeHandlePrewarmingTransition makes the pre-warmed instance the active
// one, moving renderer resources to it.
func (s *Slot) MaybeHandlePrewarmingTransition() error {
	if !s.IsPrewarming() {
		return nil
	}
	_, err := s.machine.Fire(evTransitionDone)
	return err
}

// DisablePrewarming disables and resets the pre-warming instance.
func (s *Slot) DisablePrewarming(mc ClockBinder) error {
	if !s.IsPrewarming() {
		return nil
	}
	primary := s.primaryPrewarming()
	if primary {
		disableRenderer(s.primary, mc)
	} else {
		disableRenderer(s.secondary, mc)
	}
	s.maybeReset(primary)
	_, err := s.machine.Fire(evCancelPrewarm)
	return err
}

// MaybeDisableOrResetPosition disables instances that no longer read
// stream and resets the position of those that do when streamReset is set.
func (s *Slot) MaybeDisableOrResetPosition(stream source.Stream, mc ClockBinder, positionUs int64, streamReset bool) error {
	for _, r := range []Renderer{s.primary, s.secondary} {
		if !enabled(r) {
			continue
		}
		if r.Stream() != stream {
			disableRenderer(r, mc)
		} else if streamReset {
			if err := r.ResetPosition(positionUs); err != nil {
				return err
			}
		}
	}
	return nil
}

// ResetPosition resets the instance reading h.
func (s *Slot) ResetPosition(h *segment.Holder, positionUs int64) error {
	if r := s.readingFrom(h); r != nil {
		return r.ResetPosition(positionUs)
	}
	return nil
}

// Reset resets disabled instances that were enabled since the last reset.
func (s *Slot) Reset() {
	if !enabled(s.primary) {
		s.maybeReset(true)
	}
	if s.secondary != nil && !enabled(s.secondary) {
		s.maybeReset(false)
	}
}

func (s *Slot) maybeReset(primary bool) {
	if primary {
		if s.primaryRequiresReset {
			s.primary.Reset()
			s.primaryRequiresReset = false
		}
		return
	}
	if s.secondaryRequiresReset {
		s.secondary.Reset()
		s.secondaryRequiresReset = false
	}
}

// ReplaceStreamsOrDisableForTransition moves the active instances off the
// stream of reading, which playback is about to leave: a non-final stream is
// replaced in place with the stream of next, an ended one is disabled.
func (s *Slot) ReplaceStreamsOrDisableForTransition(reading *segment.Holder, res *selection.Result, mc ClockBinder) (Transition, error) {
	p, err := s.replaceOrDisable(s.primary, reading, res, mc)
	if err != nil {
		return 0, err
	}
	sec, err := s.replaceOrDisable(s.secondary, reading, res, mc)
	if err != nil {
		return 0, err
	}
	if p == TransitionCompleted {
		return sec, nil
	}
	return p, nil
}

func (s *Slot) replaceOrDisable(r Renderer, reading *segment.Holder, res *selection.Result, mc ClockBinder) (Transition, error) {
	if !enabled(r) || (r == s.primary && s.primaryPrewarming()) || (r == s.secondary && s.secondaryPrewarming()) {
		return TransitionCompleted, nil
	}
	stream := reading.Stream(s.index)
	shouldBeEnabled := res.IsRendererEnabled(s.index)
	if shouldBeEnabled && r.Stream() == stream {
		return TransitionCompleted, nil
	}
	if !r.IsCurrentStreamFinal() && stream != nil {
		err := r.ReplaceStream(Formats(res.Selections[s.index]), stream, reading.StartPositionRendererTime(), reading.RendererOffsetUs(), reading.Info.ID)
		if err != nil {
			return 0, err
		}
		return TransitionCompleted | TransitionDisableOffload, nil
	}
	if r.IsEnded() {
		disableRenderer(r, mc)
		if !shouldBeEnabled || s.IsPrewarming() {
			s.maybeReset(r == s.primary)
		}
		return TransitionCompleted, nil
	}
	return 0, nil
}

// Release frees both instances.
func (s *Slot) Release() {
	s.primary.Release()
	s.primaryRequiresReset = false
	if s.secondary != nil {
		s.secondary.Release()
		s.secondaryRequiresReset = false
	}
}

// SetVideoOutput routes the output surface to the instance that is or
// will become active. Non-video slots ignore it.
func (s *Slot) SetVideoOutput(output any) error {
	if s.TrackType() != media.TrackTypeVideo {
		return nil
	}
	switch s.machine.State() {
	case TransitioningToPrimary, UsingSecondary:
		return s.secondary.HandleMessage(MsgVideoOutput, output)
	}
	return s.primary.HandleMessage(MsgVideoOutput, output)
}

// SetVolume forwards the volume to both instances of an audio slot.
func (s *Slot) SetVolume(volume float32) error {
	if s.TrackType() != media.TrackTypeAudio {
		return nil
	}
	return s.HandleMessage(MsgVolume, volume)
}

// HandleMessage delivers a message to both instances.
func (s *Slot) HandleMessage(kind MessageKind, payload any) error {
	if kind == MsgVideoOutput {
		return s.SetVideoOutput(payload)
	}
	if err := s.primary.HandleMessage(kind, payload); err != nil {
		return err
	}
	if s.secondary != nil {
		return s.secondary.HandleMessage(kind, payload)
	}
	return nil
}

// EnableMayRenderStartOfStream applies to the first enabled instance.
func (s *Slot) EnableMayRenderStartOfStream() {
	if enabled(s.primary) {
		s.primary.EnableMayRenderStartOfStream()
	} else if enabled(s.secondary) {
		s.secondary.EnableMayRenderStartOfStream()
	}
}

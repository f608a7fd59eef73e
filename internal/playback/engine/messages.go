// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"cmp"
	"context"
	"math"
	"slices"
	"sync"

	"github.com/ManuGH/xplay/internal/playback/fault"
	"github.com/ManuGH/xplay/internal/playback/media"
	"github.com/ManuGH/xplay/internal/playback/playlist"
	"github.com/ManuGH/xplay/internal/playback/renderer"
	"github.com/ManuGH/xplay/internal/playback/timeline"
)

// MessageTarget receives scheduled messages. Renderers satisfy it.
type MessageTarget interface {
	HandleMessage(kind renderer.MessageKind, payload any) error
}

// Message is delivered to Target once playback reaches a position, or
// right away when PositionUs is media.TimeUnset.
type Message struct {
	Target  MessageTarget
	Kind    renderer.MessageKind
	Payload any
	// Timeline is the timeline WindowIndex refers to, nil for the one the
	// engine plays when the message arrives.
	Timeline    *timeline.Timeline
	WindowIndex int
	// PositionUs is a window position. media.TimeEndOfSource delivers at
	// the end of the window.
	PositionUs          int64
	DeleteAfterDelivery bool
	// Executor runs the delivery. Nil delivers on the engine goroutine.
	Executor func(func())

	mu        sync.Mutex
	done      chan struct{}
	delivered bool
	canceled  bool
	processed bool
}

// NewMessage returns an immediate message that is dropped after delivery.
func NewMessage(target MessageTarget, kind renderer.MessageKind, payload any) *Message {
	return &Message{
		Target:              target,
		Kind:                kind,
		Payload:             payload,
		PositionUs:          media.TimeUnset,
		DeleteAfterDelivery: true,
	}
}

// Cancel stops future deliveries and releases waiters.
func (m *Message) Cancel() {
	m.mu.Lock()
	m.canceled = true
	m.mu.Unlock()
	m.markProcessed(false)
}

func (m *Message) IsCanceled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canceled
}

func (m *Message) doneChan() chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done == nil {
		m.done = make(chan struct{})
	}
	return m.done
}

// Wait blocks until the message was processed and reports whether it was
// delivered.
func (m *Message) Wait(ctx context.Context) (bool, error) {
	select {
	case <-m.doneChan():
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.delivered, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (m *Message) markProcessed(delivered bool) {
	done := m.doneChan()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered = m.delivered || delivered
	if !m.processed {
		m.processed = true
		close(done)
	}
}

// pendingMessage is a message waiting for its position. resolvedUID is
// empty until the position could be mapped onto a timeline.
type pendingMessage struct {
	msg            *Message
	resolvedIndex  int
	resolvedTimeUs int64
	resolvedUID    string
	seq            uint64
}

func (p *pendingMessage) setResolved(index int, timeUs int64, uid string) {
	p.resolvedIndex = index
	p.resolvedTimeUs = timeUs
	p.resolvedUID = uid
}

func comparePending(a, b *pendingMessage) int {
	if (a.resolvedUID == "") != (b.resolvedUID == "") {
		if a.resolvedUID != "" {
			return -1
		}
		return 1
	}
	if a.resolvedUID == "" {
		return cmp.Compare(a.seq, b.seq)
	}
	return cmp.Or(
		cmp.Compare(a.resolvedIndex, b.resolvedIndex),
		cmp.Compare(a.resolvedTimeUs, b.resolvedTimeUs),
		cmp.Compare(a.seq, b.seq),
	)
}

func (e *Engine) sendMessageInternal(m *Message) error {
	if m.PositionUs == media.TimeUnset {
		return e.sendMessageToTarget(m)
	}
	e.messageSeq++
	pm := &pendingMessage{msg: m, resolvedIndex: media.IndexUnset, seq: e.messageSeq}
	if e.info.Timeline.IsEmpty() {
		e.pendingMessages = append(e.pendingMessages, pm)
		return nil
	}
	if !e.resolvePendingMessage(pm, e.info.Timeline, e.info.Timeline) {
		m.markProcessed(false)
		return nil
	}
	e.pendingMessages = append(e.pendingMessages, pm)
	slices.SortStableFunc(e.pendingMessages, comparePending)
	return nil
}

// resolvePendingMessages maps every pending message onto newTl and drops
// the ones whose window is gone.
func (e *Engine) resolvePendingMessages(newTl, oldTl *timeline.Timeline) {
	if newTl.IsEmpty() && oldTl.IsEmpty() {
		return
	}
	kept := e.pendingMessages[:0]
	for _, pm := range e.pendingMessages {
		if e.resolvePendingMessage(pm, newTl, oldTl) {
			kept = append(kept, pm)
			continue
		}
		pm.msg.markProcessed(false)
	}
	clear(e.pendingMessages[len(kept):])
	e.pendingMessages = kept
	slices.SortStableFunc(e.pendingMessages, comparePending)
}

func (e *Engine) resolvePendingMessage(pm *pendingMessage, newTl, oldTl *timeline.Timeline) bool {
	m := pm.msg
	if pm.resolvedUID == "" {
		requestUs := m.PositionUs
		if requestUs == media.TimeEndOfSource {
			requestUs = media.TimeUnset
		}
		uid, posUs, ok := e.resolveSeekPosition(newTl, seekPosition{tl: m.Timeline, windowIndex: m.WindowIndex, windowPositionUs: requestUs}, false)
		if !ok {
			return false
		}
		pm.setResolved(newTl.IndexOfPeriod(uid), posUs, uid)
		if m.PositionUs == media.TimeEndOfSource {
			resolveEndOfWindow(newTl, pm)
		}
		return true
	}

	index := newTl.IndexOfPeriod(pm.resolvedUID)
	if index == media.IndexUnset {
		mapped, ok := playlist.ResolvePlaceholder(newTl, pm.resolvedUID)
		if !ok {
			return false
		}
		p, _, _ := newTl.PeriodByUID(mapped)
		uid, posUs, ok := newTl.PeriodPosition(p.WindowIndex, pm.resolvedTimeUs)
		if !ok {
			return false
		}
		pm.setResolved(newTl.IndexOfPeriod(uid), posUs, uid)
		if m.PositionUs == media.TimeEndOfSource {
			resolveEndOfWindow(newTl, pm)
		}
		return true
	}
	if m.PositionUs == media.TimeEndOfSource {
		// The duration may have changed.
		resolveEndOfWindow(newTl, pm)
		return true
	}
	pm.resolvedIndex = index
	if old, oldIndex, ok := oldTl.PeriodByUID(pm.resolvedUID); ok && old.IsPlaceholder &&
		oldTl.Window(old.WindowIndex).FirstPeriodIndex == oldIndex {
		p, _, _ := newTl.PeriodByUID(pm.resolvedUID)
		if uid, posUs, ok := newTl.PeriodPosition(p.WindowIndex, pm.resolvedTimeUs+old.PositionInWindowUs); ok {
			pm.setResolved(newTl.IndexOfPeriod(uid), posUs, uid)
		}
	}
	return true
}

// resolveEndOfWindow moves pm to just before the end of the last period of
// its window.
func resolveEndOfWindow(tl *timeline.Timeline, pm *pendingMessage) {
	p, _, _ := tl.PeriodByUID(pm.resolvedUID)
	last := tl.Window(p.WindowIndex).LastPeriodIndex
	lp := tl.Period(last)
	posUs := int64(math.MaxInt64)
	if lp.DurationUs != media.TimeUnset {
		posUs = lp.DurationUs - 1
	}
	pm.setResolved(last, posUs, lp.UID)
}

// maybeTriggerPendingMessages delivers the messages of the current period
// positioned in (oldUs, newUs].
func (e *Engine) maybeTriggerPendingMessages(oldUs, newUs int64) error {
	if len(e.pendingMessages) == 0 || e.info.PeriodID.IsAd() {
		return nil
	}
	if e.deliverAtStartPos {
		// Include the start position once after a position reset.
		oldUs--
		e.deliverAtStartPos = false
	}
	current := e.info.Timeline.IndexOfPeriod(e.info.PeriodID.PeriodUID)
	for i := 0; i < len(e.pendingMessages); {
		pm := e.pendingMessages[i]
		if pm.resolvedUID == "" || pm.resolvedIndex != current ||
			pm.resolvedTimeUs <= oldUs || pm.resolvedTimeUs > newUs {
			i++
			continue
		}
		err := e.sendMessageToTarget(pm.msg)
		if pm.msg.DeleteAfterDelivery || pm.msg.IsCanceled() {
			e.pendingMessages = slices.Delete(e.pendingMessages, i, i+1)
		} else {
			i++
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) sendMessageToTarget(m *Message) error {
	if m.Executor == nil {
		err := deliverMessage(m)
		if e.info.State == StateReady || e.info.State == StateBuffering {
			e.scheduleTickNow()
		}
		if err != nil {
			return fault.From(err)
		}
		return nil
	}
	m.Executor(func() {
		if err := deliverMessage(m); err != nil {
			e.log.Error().Err(err).Int("kind", int(m.Kind)).Msg("message delivery failed")
		}
	})
	return nil
}

func deliverMessage(m *Message) error {
	if m.IsCanceled() {
		return nil
	}
	defer m.markProcessed(true)
	if m.Target == nil {
		return nil
	}
	return m.Target.HandleMessage(m.Kind, m.Payload)
}

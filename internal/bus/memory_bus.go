// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ManuGH/xplay/internal/log"
	"github.com/ManuGH/xplay/internal/metrics"
)

// DefaultBuffer is the channel capacity of each subscription.
const DefaultBuffer = 64

// MergeFunc folds newer into a message a subscriber has not received yet.
type MergeFunc[T any] func(older, newer T) T

// MemoryBus is an in-memory pub/sub. It is not durable and provides
// in-process delivery only.
//
// Without a MergeFunc a subscriber with a full channel misses messages.
// With one, the bus parks a single merged message per subscriber and hands
// it over on the next TryPublish or TryFlush, so nothing is lost as long as
// the subscriber keeps reading.
type MemoryBus[T any] struct {
	mu     sync.Mutex
	subs   map[string][]*memSub[T]
	buffer int
	merge  MergeFunc[T]
	closed bool
}

const dropLogEvery = 100

var dropCount atomic.Uint64

func NewMemoryBus[T any]() *MemoryBus[T] {
	return NewMemoryBusWithBuffer[T](DefaultBuffer)
}

// NewMemoryBusWithBuffer uses buffer as the per-subscriber channel capacity.
func NewMemoryBusWithBuffer[T any](buffer int) *MemoryBus[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &MemoryBus[T]{subs: make(map[string][]*memSub[T]), buffer: buffer}
}

// NewCoalescingBus is a MemoryBus that merges undeliverable messages with
// merge instead of dropping them.
func NewCoalescingBus[T any](buffer int, merge MergeFunc[T]) *MemoryBus[T] {
	b := NewMemoryBusWithBuffer[T](buffer)
	b.merge = merge
	return b
}

func flushDropReason(err error) string {
	if errors.Is(err, context.Canceled) {
		return metrics.UpdateDroppedCanceled
	}
	return metrics.UpdateDroppedTimeout
}

// TryPublish never blocks. It reports whether every subscriber has received
// msg, either directly or merged into an earlier parked message.
func (b *MemoryBus[T]) TryPublish(topic string, msg T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	delivered := true
	for _, s := range b.subs[topic] {
		if !s.offer(msg, b.merge) {
			delivered = false
			if b.merge == nil {
				b.recordDrop(topic, metrics.UpdateDroppedFull)
			} else {
				metrics.IncUpdateDelivery(metrics.UpdateCoalesced)
			}
			continue
		}
		metrics.IncUpdateDelivery(metrics.UpdateDelivered)
	}
	return delivered
}

// TryFlush hands parked messages to subscribers with room and reports
// whether none remain parked.
func (b *MemoryBus[T]) TryFlush(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	empty := true
	for _, s := range b.subs[topic] {
		if s.parked && !s.sendParked() {
			empty = false
		}
	}
	return empty
}

// Flush blocks until every parked message of topic is delivered or ctx is
// done. Subscribers that close meanwhile wait for Flush to return.
func (b *MemoryBus[T]) Flush(ctx context.Context, topic string) error {
	if ctx == nil {
		return fmt.Errorf("flush context is nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs[topic] {
		if !s.parked {
			continue
		}
		select {
		case s.ch <- s.pending:
			s.clearParked()
		case <-ctx.Done():
			b.recordDrop(topic, flushDropReason(ctx.Err()))
			return fmt.Errorf("flush topic %q: %w", topic, ctx.Err())
		}
	}
	return nil
}

func (b *MemoryBus[T]) recordDrop(topic, reason string) {
	metrics.IncUpdateDelivery(reason)
	count := dropCount.Add(1)
	if count%dropLogEvery == 1 {
		l := log.WithComponent("bus")
		l.Warn().
			Str("topic", topic).
			Str("reason", reason).
			Uint64("dropped", count).
			Msg("memory bus dropped a message")
	}
}

func (b *MemoryBus[T]) Subscribe(_ context.Context, topic string) (Subscriber[T], error) {
	s := &memSub[T]{b: b, topic: topic, ch: make(chan T, b.buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		s.done = true
		return s, nil
	}
	b.subs[topic] = append(b.subs[topic], s)
	return s, nil
}

// Close closes every subscription channel. Parked messages that still do
// not fit are dropped. Later subscriptions receive an already closed channel.
func (b *MemoryBus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, subs := range b.subs {
		for _, s := range subs {
			if s.parked && !s.sendParked() {
				b.recordDrop(topic, metrics.UpdateDroppedFull)
			}
			s.done = true
			close(s.ch)
		}
		delete(b.subs, topic)
	}
}

// memSub is one subscription. Fields other than ch are guarded by b.mu.
type memSub[T any] struct {
	b       *MemoryBus[T]
	topic   string
	ch      chan T
	done    bool
	parked  bool
	pending T
}

// offer delivers msg behind any parked message. It reports false when msg
// could not be sent and was parked or dropped.
func (s *memSub[T]) offer(msg T, merge MergeFunc[T]) bool {
	if s.parked {
		s.pending = merge(s.pending, msg)
		return s.sendParked()
	}
	select {
	case s.ch <- msg:
		return true
	default:
	}
	if merge != nil {
		s.pending = msg
		s.parked = true
	}
	return false
}

func (s *memSub[T]) sendParked() bool {
	select {
	case s.ch <- s.pending:
		s.clearParked()
		return true
	default:
		return false
	}
}

func (s *memSub[T]) clearParked() {
	var zero T
	s.pending = zero
	s.parked = false
}

func (s *memSub[T]) C() <-chan T {
	return s.ch
}

func (s *memSub[T]) Close() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true

	lst := s.b.subs[s.topic]
	out := lst[:0]
	for _, c := range lst {
		if c != s {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		delete(s.b.subs, s.topic)
	} else {
		s.b.subs[s.topic] = out
	}
	close(s.ch) // Signal subscriber to stop
	return nil
}

// Ensure compliance
var _ Bus[int] = (*MemoryBus[int])(nil)

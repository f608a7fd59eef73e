// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bus is an in-process pub/sub used to hand playback updates from the
// engine goroutine to application consumers.
package bus

import "context"

// Bus publishes typed messages to topic subscribers.
type Bus[T any] interface {
	TryPublish(topic string, msg T) bool
	TryFlush(topic string) bool
	Flush(ctx context.Context, topic string) error
	Subscribe(ctx context.Context, topic string) (Subscriber[T], error)
}

// Subscriber receives messages of one topic until closed.
type Subscriber[T any] interface {
	C() <-chan T
	Close() error
}

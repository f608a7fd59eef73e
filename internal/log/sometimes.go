// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Sometimes gates a log statement that may fire on every work tick.
type Sometimes struct {
	limiter *rate.Limiter
}

// NewSometimes allows one event per interval with a burst of one.
func NewSometimes(interval time.Duration) *Sometimes {
	return &Sometimes{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Event returns e when the limiter allows it and a disabled event otherwise.
// zerolog treats a nil event as a no-op.
func (s *Sometimes) Event(e *zerolog.Event) *zerolog.Event {
	if s == nil || s.limiter.Allow() {
		return e
	}
	e.Discard()
	return nil
}

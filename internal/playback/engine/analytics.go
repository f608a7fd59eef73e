// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/ManuGH/xplay/internal/log"
	"github.com/ManuGH/xplay/internal/metrics"
	"github.com/ManuGH/xplay/internal/playback/fault"
	"github.com/ManuGH/xplay/internal/playback/media"
)

// AnalyticsSink observes the engine. Methods run on the engine goroutine and
// must not block or call back into the engine synchronously.
type AnalyticsSink interface {
	// OnQueueChanged receives the queued period ids in playback order and the
	// id renderers read from, media.NoPeriod when the queue is empty.
	OnQueueChanged(ids []media.PeriodID, reading media.PeriodID)
	OnRendererReadyChanged(index int, trackType media.TrackType, ready bool)
	OnStateChanged(from, to State)
	OnPlayerError(err *fault.Error)
}

// DefaultSink records to Prometheus and logs through zerolog.
type DefaultSink struct {
	log zerolog.Logger
}

// NewDefaultSink returns the sink used when Deps.Sink is nil.
func NewDefaultSink() *DefaultSink {
	return &DefaultSink{log: log.WithComponent("analytics")}
}

func (s *DefaultSink) OnQueueChanged(ids []media.PeriodID, reading media.PeriodID) {
	metrics.SetQueueLength(len(ids))
	if e := s.log.Debug(); e.Enabled() {
		e.Strs("periods", lo.Map(ids, func(id media.PeriodID, _ int) string { return id.String() })).
			Str("reading", reading.String()).
			Int(log.FieldQueueLength, len(ids)).
			Msg("queue changed")
	}
}

func (s *DefaultSink) OnRendererReadyChanged(index int, trackType media.TrackType, ready bool) {
	s.log.Debug().
		Int(log.FieldRendererIdx, index).
		Str(log.FieldTrackType, string(trackType)).
		Bool("ready", ready).
		Msg("renderer readiness changed")
}

func (s *DefaultSink) OnStateChanged(from, to State) {
	metrics.IncStateTransition(string(from), string(to))
	s.log.Info().
		Str(log.FieldOldState, string(from)).
		Str(log.FieldNewState, string(to)).
		Msg("playback state changed")
}

func (s *DefaultSink) OnPlayerError(err *fault.Error) {
	metrics.IncPlaybackError(string(err.Kind), err.Recoverable)
	ev := s.log.Error().
		Err(err).
		Str("kind", string(err.Kind)).
		Int(log.FieldErrorCode, int(err.Code)).
		Bool(log.FieldRecoverable, err.Recoverable)
	if err.Kind == fault.KindRenderer {
		ev = ev.Int(log.FieldRendererIdx, err.RendererIndex).Str(log.FieldRenderer, err.RendererName)
	}
	ev.Msg("playback error")
}

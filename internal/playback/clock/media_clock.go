// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package clock

import (
	"errors"

	"github.com/ManuGH/xplay/internal/playback/media"
)

// ErrMultipleRendererClocks is returned when a second renderer exposing its
// own media clock is enabled.
var ErrMultipleRendererClocks = errors.New("multiple renderer media clocks enabled")

// MediaClock reports the current media position.
type MediaClock interface {
	PositionUs() int64
	SetPlaybackParameters(p media.PlaybackParameters)
	PlaybackParameters() media.PlaybackParameters
}

// ClockSource is a renderer that may drive the media clock.
type ClockSource interface {
	MediaClock() MediaClock
	IsEnded() bool
	IsReady() bool
	HasReadStreamToEnd() bool
}

// Standalone advances with wall time while started.
type Standalone struct {
	clock    Clock
	started  bool
	baseUs   int64
	baseWall int64 // wall µs at baseUs
	params   media.PlaybackParameters
}

// NewStandalone returns a stopped clock at position zero.
func NewStandalone(c Clock) *Standalone {
	return &Standalone{clock: c, params: media.DefaultPlaybackParameters}
}

func (s *Standalone) wallUs() int64 { return s.clock.Now().UnixMicro() }

// Start resumes advancing from the current position.
func (s *Standalone) Start() {
	if !s.started {
		s.baseWall = s.wallUs()
		s.started = true
	}
}

// Stop freezes the position.
func (s *Standalone) Stop() {
	if s.started {
		s.ResetPosition(s.PositionUs())
		s.started = false
	}
}

// ResetPosition sets the position.
func (s *Standalone) ResetPosition(positionUs int64) {
	s.baseUs = positionUs
	if s.started {
		s.baseWall = s.wallUs()
	}
}

func (s *Standalone) PositionUs() int64 {
	pos := s.baseUs
	if s.started {
		elapsed := s.wallUs() - s.baseWall
		if s.params.Speed == 1 {
			pos += elapsed
		} else {
			pos += media.MediaDurationForPlayoutDuration(elapsed, s.params.Speed)
		}
	}
	return pos
}

func (s *Standalone) SetPlaybackParameters(p media.PlaybackParameters) {
	if s.started {
		s.ResetPosition(s.PositionUs())
	}
	s.params = p
}

func (s *Standalone) PlaybackParameters() media.PlaybackParameters { return s.params }

// Media follows the clock of an enabled renderer when one is usable and the
// standalone clock otherwise.
type Media struct {
	standalone      *Standalone
	source          ClockSource
	rendererClock   MediaClock
	usingStandalone bool
	started         bool
	onParams        func(media.PlaybackParameters)
}

// NewMedia returns a media clock. onParams is called when the renderer clock
// reports playback parameters that differ from the standalone clock.
func NewMedia(c Clock, onParams func(media.PlaybackParameters)) *Media {
	return &Media{standalone: NewStandalone(c), usingStandalone: true, onParams: onParams}
}

func (m *Media) Start() {
	m.started = true
	m.standalone.Start()
}

func (m *Media) Stop() {
	m.started = false
	m.standalone.Stop()
}

// ResetPosition moves the standalone clock.
func (m *Media) ResetPosition(positionUs int64) {
	m.standalone.ResetPosition(positionUs)
}

// OnRendererEnabled adopts the renderer clock, if the renderer has one.
func (m *Media) OnRendererEnabled(r ClockSource) error {
	rc := r.MediaClock()
	if rc == nil || rc == m.rendererClock {
		return nil
	}
	if m.rendererClock != nil {
		return ErrMultipleRendererClocks
	}
	m.source = r
	m.rendererClock = rc
	rc.SetPlaybackParameters(m.standalone.PlaybackParameters())
	return nil
}

// OnRendererDisabled drops the renderer clock if r owns it.
func (m *Media) OnRendererDisabled(r ClockSource) {
	if m.source != nil && r == m.source {
		m.source = nil
		m.rendererClock = nil
		m.usingStandalone = true
	}
}

// SyncAndGetPositionUs picks the clock to follow and returns its position.
// readingAhead is true when the renderer clock source is already reading the
// next period.
func (m *Media) SyncAndGetPositionUs(readingAhead bool) int64 {
	m.sync(readingAhead)
	return m.PositionUs()
}

func (m *Media) sync(readingAhead bool) {
	if m.shouldUseStandalone(readingAhead) {
		m.usingStandalone = true
		if m.started {
			m.standalone.Start()
		}
		return
	}
	pos := m.rendererClock.PositionUs()
	if m.usingStandalone {
		// Switch only once the renderer clock caught up.
		if pos < m.standalone.PositionUs() {
			m.standalone.Stop()
			return
		}
		m.usingStandalone = false
		if m.started {
			m.standalone.Start()
		}
	}
	m.standalone.ResetPosition(pos)
	p := m.rendererClock.PlaybackParameters()
	if p != m.standalone.PlaybackParameters() {
		m.standalone.SetPlaybackParameters(p)
		if m.onParams != nil {
			m.onParams(p)
		}
	}
}

func (m *Media) shouldUseStandalone(readingAhead bool) bool {
	return m.source == nil || m.source.IsEnded() ||
		(readingAhead && m.source.MediaClock() != nil && !m.source.IsReady()) ||
		(!m.source.IsReady() && (readingAhead || m.source.HasReadStreamToEnd()))
}

func (m *Media) PositionUs() int64 {
	if m.usingStandalone || m.rendererClock == nil {
		return m.standalone.PositionUs()
	}
	return m.rendererClock.PositionUs()
}

func (m *Media) SetPlaybackParameters(p media.PlaybackParameters) {
	if m.rendererClock != nil {
		m.rendererClock.SetPlaybackParameters(p)
		p = m.rendererClock.PlaybackParameters()
	}
	m.standalone.SetPlaybackParameters(p)
}

func (m *Media) PlaybackParameters() media.PlaybackParameters {
	if m.rendererClock != nil {
		return m.rendererClock.PlaybackParameters()
	}
	return m.standalone.PlaybackParameters()
}

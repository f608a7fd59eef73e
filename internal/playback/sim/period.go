// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package sim provides deterministic in-memory collaborators for the
// engine: a source whose periods load in fixed chunks and renderers that
// consume them, with hooks to inject failures.
package sim

import (
	"sync"

	"github.com/ManuGH/xplay/internal/playback/media"
	"github.com/ManuGH/xplay/internal/playback/source"
)

// DefaultChunkUs is how much a period buffers per ContinueLoading call.
const DefaultChunkUs int64 = 1_000_000

// PeriodConfig shapes the periods a Source creates.
type PeriodConfig struct {
	TrackGroups media.TrackGroups
	ChunkUs     int64
	// HoldPrepare keeps periods unprepared until CompletePrepare is called.
	HoldPrepare bool
}

// DefaultTrackGroups has one audio, one video and one text group.
func DefaultTrackGroups() media.TrackGroups {
	return media.TrackGroups{
		{ID: "audio", Type: media.TrackTypeAudio, Formats: []media.Format{{ID: "a0", MimeType: "audio/mp4a-latm", Bitrate: 128_000, Channels: 2, SampleRate: 48_000}}},
		{ID: "video", Type: media.TrackTypeVideo, Formats: []media.Format{{ID: "v0", MimeType: "video/avc", Bitrate: 2_000_000, Width: 1280, Height: 720}}},
		{ID: "text", Type: media.TrackTypeText, Formats: []media.Format{{ID: "t0", MimeType: "text/vtt", Language: "en"}}},
	}
}

// Period is a simulated media period. Data becomes available one chunk per
// ContinueLoading call.
type Period struct {
	mu         sync.Mutex
	id         media.PeriodID
	cfg        PeriodConfig
	endUs      int64 // period time where data ends, media.TimeUnset if open
	bufferedUs int64
	prepared   bool
	prepareErr error
	cb         source.PeriodCallback
	streams    []*Stream
	released   bool
}

func newPeriod(id media.PeriodID, startUs, endUs int64, cfg PeriodConfig) *Period {
	if cfg.ChunkUs <= 0 {
		cfg.ChunkUs = DefaultChunkUs
	}
	if cfg.TrackGroups == nil {
		cfg.TrackGroups = DefaultTrackGroups()
	}
	return &Period{id: id, cfg: cfg, endUs: endUs, bufferedUs: max(startUs, 0)}
}

// ID returns the period id the period was created for.
func (p *Period) ID() media.PeriodID { return p.id }

// EndUs is the period time at which the data ends.
func (p *Period) EndUs() int64 { return p.endUs }

func (p *Period) Prepare(cb source.PeriodCallback, _ int64) {
	p.mu.Lock()
	p.cb = cb
	hold := p.cfg.HoldPrepare || p.prepareErr != nil
	p.mu.Unlock()
	if !hold {
		p.CompletePrepare()
	}
}

// CompletePrepare finishes a held preparation.
func (p *Period) CompletePrepare() {
	p.mu.Lock()
	if p.prepared || p.cb == nil {
		p.mu.Unlock()
		return
	}
	p.prepared = true
	cb := p.cb
	p.mu.Unlock()
	cb.OnPrepared(p)
}

// FailPrepare makes MaybeThrowPrepareError report err.
func (p *Period) FailPrepare(err error) {
	p.mu.Lock()
	p.prepareErr = err
	p.mu.Unlock()
}

func (p *Period) MaybeThrowPrepareError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prepareErr
}

func (p *Period) IsPrepared() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prepared
}

func (p *Period) TrackGroups() media.TrackGroups { return p.cfg.TrackGroups }

func (p *Period) SelectTracks(selections []media.TrackSelection, mayRetain []bool, streams []source.Stream, resetFlags []bool, positionUs int64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, sel := range selections {
		if sel == nil {
			streams[i] = nil
			continue
		}
		if streams[i] == nil || !mayRetain[i] {
			st := &Stream{period: p, trackType: sel.Group().Type}
			p.streams = append(p.streams, st)
			streams[i] = st
			resetFlags[i] = true
		}
	}
	return positionUs
}

// Streams returns every stream the period handed out.
func (p *Period) Streams() []*Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Stream(nil), p.streams...)
}

// StreamOf returns the most recent stream of a track type, or nil.
func (p *Period) StreamOf(t media.TrackType) *Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.streams) - 1; i >= 0; i-- {
		if p.streams[i].trackType == t {
			return p.streams[i]
		}
	}
	return nil
}

func (p *Period) DiscardBuffer(int64, bool) {}

func (p *Period) ReadDiscontinuity() int64 { return media.TimeUnset }

func (p *Period) SeekToUs(positionUs int64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if positionUs > p.bufferedUs {
		p.bufferedUs = positionUs
	}
	return positionUs
}

func (p *Period) AdjustedSeekPositionUs(positionUs int64, sp media.SeekParameters) int64 {
	// Sync samples every chunk.
	first := positionUs - positionUs%p.cfg.ChunkUs
	return sp.ResolveSeekPositionUs(positionUs, first, first+p.cfg.ChunkUs)
}

func (p *Period) loadedLocked() bool {
	return p.endUs != media.TimeUnset && p.bufferedUs >= p.endUs
}

func (p *Period) BufferedPositionUs() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadedLocked() {
		return media.TimeEndOfSource
	}
	return p.bufferedUs
}

func (p *Period) NextLoadPositionUs() int64 { return p.BufferedPositionUs() }

// buffered returns the buffered period time and whether loading finished.
func (p *Period) buffered() (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadedLocked() {
		return p.endUs, true
	}
	return p.bufferedUs, false
}

// ContinueLoading loads one chunk and then asks the callback for the next
// load, as a network-backed period does once a chunk request completes.
func (p *Period) ContinueLoading(source.LoadingInfo) bool {
	p.mu.Lock()
	if !p.prepared || p.released || p.loadedLocked() {
		p.mu.Unlock()
		return false
	}
	p.bufferedUs += p.cfg.ChunkUs
	if p.endUs != media.TimeUnset {
		p.bufferedUs = min(p.bufferedUs, p.endUs)
	}
	cb := p.cb
	p.mu.Unlock()
	if cb != nil {
		cb.OnContinueLoadingRequested(p)
	}
	return true
}

// IsLoading is always false: chunks load synchronously inside
// ContinueLoading, so no load is ever in flight.
func (p *Period) IsLoading() bool { return false }

func (p *Period) ReevaluateBuffer(int64) {}

// Released reports whether the source released the period.
func (p *Period) Released() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

// Stream is the per-track output of a Period.
type Stream struct {
	period    *Period
	trackType media.TrackType

	mu  sync.Mutex
	err error
}

// Period returns the period that produced the stream.
func (s *Stream) Period() *Period { return s.period }

// Fail makes the stream report err until Heal is called.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Heal clears an injected failure.
func (s *Stream) Heal() { s.Fail(nil) }

func (s *Stream) IsReady() bool {
	s.mu.Lock()
	failed := s.err != nil
	s.mu.Unlock()
	return !failed && s.period.IsPrepared()
}

func (s *Stream) MaybeThrowError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

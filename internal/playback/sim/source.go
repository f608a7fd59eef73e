// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sim

import (
	"slices"
	"sync"

	"github.com/ManuGH/xplay/internal/playback/media"
	"github.com/ManuGH/xplay/internal/playback/source"
	"github.com/ManuGH/xplay/internal/playback/timeline"
)

// Source publishes a fixed timeline and creates simulated periods for it.
type Source struct {
	mu         sync.Mutex
	tl         *timeline.Timeline
	cfg        PeriodConfig
	caller     source.Caller
	refreshErr error
	created    []*Period
	live       []*Period
	released   bool
}

// NewSource returns a source for tl.
func NewSource(tl *timeline.Timeline, cfg PeriodConfig) *Source {
	return &Source{tl: tl, cfg: cfg}
}

// Timeline returns the current timeline.
func (s *Source) Timeline() *timeline.Timeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tl
}

func (s *Source) Prepare(caller source.Caller) {
	s.mu.Lock()
	s.caller = caller
	s.released = false
	tl := s.tl
	s.mu.Unlock()
	caller.OnSourceInfoRefreshed(s, tl)
}

// UpdateTimeline publishes a refreshed timeline to the prepared caller.
func (s *Source) UpdateTimeline(tl *timeline.Timeline) {
	s.mu.Lock()
	s.tl = tl
	caller := s.caller
	s.mu.Unlock()
	if caller != nil {
		caller.OnSourceInfoRefreshed(s, tl)
	}
}

// FailRefresh makes MaybeThrowSourceInfoRefreshError report err.
func (s *Source) FailRefresh(err error) {
	s.mu.Lock()
	s.refreshErr = err
	s.mu.Unlock()
}

func (s *Source) MaybeThrowSourceInfoRefreshError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshErr
}

func (s *Source) CreatePeriod(id media.PeriodID, startPositionUs int64) source.Period {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := newPeriod(id, startPositionUs, s.endOf(id), s.cfg)
	s.created = append(s.created, p)
	s.live = append(s.live, p)
	return p
}

// endOf returns where the data of id ends in period time.
func (s *Source) endOf(id media.PeriodID) int64 {
	tp, _, ok := s.tl.PeriodByUID(id.PeriodUID)
	if !ok {
		return media.TimeUnset
	}
	if id.IsAd() {
		return tp.AdDurationUs(id.AdGroupIndex, id.AdIndexInAdGroup)
	}
	if g := id.NextAdGroupIndex; g != media.IndexUnset {
		if t := tp.AdGroupTimeUs(g); t != media.TimeEndOfSource {
			return t
		}
	}
	return tp.DurationUs
}

func (s *Source) ReleasePeriod(p source.Period) {
	sp, ok := p.(*Period)
	if !ok {
		return
	}
	sp.mu.Lock()
	sp.released = true
	sp.mu.Unlock()
	s.mu.Lock()
	s.live = slices.DeleteFunc(s.live, func(o *Period) bool { return o == sp })
	s.mu.Unlock()
}

func (s *Source) Release(source.Caller) {
	s.mu.Lock()
	s.caller = nil
	s.released = true
	s.mu.Unlock()
}

// Released reports whether Release was called after the last Prepare.
func (s *Source) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// Created returns every period created so far, in creation order.
func (s *Source) Created() []*Period {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.created)
}

// Live returns the periods created and not yet released.
func (s *Source) Live() []*Period {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.live)
}

// Factory adapts a Source to the period factory used by segment holders.
type Factory struct {
	Source source.Source
}

func (f Factory) CreatePeriod(id media.PeriodID, startPositionUs int64) (source.Period, error) {
	return f.Source.CreatePeriod(id, startPositionUs), nil
}

func (f Factory) ReleasePeriod(p source.Period) { f.Source.ReleasePeriod(p) }

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package selection

import (
	"sync"

	"github.com/ManuGH/xplay/internal/playback/media"
	"github.com/ManuGH/xplay/internal/playback/timeline"
)

// Parameters constrain the DefaultSelector.
type Parameters struct {
	DisabledTypes     map[media.TrackType]bool
	PreferredLanguage string
	MaxVideoBitrate   int
}

// DefaultSelector gives each renderer the first unused group of its type,
// picking the best supported format within the constraints.
type DefaultSelector struct {
	mu       sync.Mutex
	params   Parameters
	listener InvalidationListener
}

func NewDefaultSelector(params Parameters) *DefaultSelector {
	return &DefaultSelector{params: params}
}

func (s *DefaultSelector) Init(listener InvalidationListener) {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
}

// SetParameters replaces the constraints and invalidates earlier results.
func (s *DefaultSelector) SetParameters(p Parameters) {
	s.mu.Lock()
	s.params = p
	l := s.listener
	s.mu.Unlock()
	if l != nil {
		l.OnTrackSelectionsInvalidated()
	}
}

func (s *DefaultSelector) Parameters() Parameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

func (s *DefaultSelector) SelectTracks(caps []Capabilities, groups media.TrackGroups, _ media.PeriodID, _ *timeline.Timeline) (*Result, error) {
	p := s.Parameters()
	res := &Result{
		Configs:    make([]*RendererConfiguration, len(caps)),
		Selections: make([]media.TrackSelection, len(caps)),
	}
	used := make([]bool, len(groups))
	var selected, rest media.TrackGroups
	for ri, c := range caps {
		if c.TrackType() == media.TrackTypeNone || p.DisabledTypes[c.TrackType()] {
			continue
		}
		for gi, g := range groups {
			if used[gi] || g.Type != c.TrackType() {
				continue
			}
			fi := bestFormat(c, g, p)
			if fi == media.IndexUnset {
				continue
			}
			used[gi] = true
			res.Configs[ri] = &RendererConfiguration{}
			res.Selections[ri] = media.NewFixedSelection(g, fi)
			selected = append(selected, g)
			break
		}
	}
	for gi, g := range groups {
		if !used[gi] {
			rest = append(rest, g)
		}
	}
	res.Tracks = append(selected, rest...)
	return res, nil
}

func bestFormat(c Capabilities, g media.TrackGroup, p Parameters) int {
	best := media.IndexUnset
	for i, f := range g.Formats {
		if !c.SupportsFormat(f) {
			continue
		}
		if p.MaxVideoBitrate > 0 && g.Type == media.TrackTypeVideo && f.Bitrate > p.MaxVideoBitrate {
			continue
		}
		if best == media.IndexUnset {
			best = i
			continue
		}
		cur := g.Formats[best]
		if p.PreferredLanguage != "" && f.Language == p.PreferredLanguage && cur.Language != p.PreferredLanguage {
			best = i
			continue
		}
		if f.Bitrate > cur.Bitrate && (p.PreferredLanguage == "" || f.Language == cur.Language) {
			best = i
		}
	}
	return best
}

func (s *DefaultSelector) OnSelectionActivated(any) {}

func (s *DefaultSelector) Release() {
	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()
}

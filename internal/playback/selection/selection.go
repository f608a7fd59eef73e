// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package selection defines the track selector contract and its result.
package selection

import (
	"github.com/ManuGH/xplay/internal/playback/media"
	"github.com/ManuGH/xplay/internal/playback/timeline"
)

// Capabilities describes what one renderer can play.
type Capabilities interface {
	TrackType() media.TrackType
	SupportsFormat(f media.Format) bool
}

// InvalidationListener is notified when previous selections are stale.
// Implementations must be safe to call from any goroutine.
type InvalidationListener interface {
	OnTrackSelectionsInvalidated()
}

// Selector chooses which track each renderer plays for one period.
type Selector interface {
	Init(listener InvalidationListener)
	SelectTracks(caps []Capabilities, groups media.TrackGroups, id media.PeriodID, tl *timeline.Timeline) (*Result, error)
	// OnSelectionActivated is called when a result starts playing.
	OnSelectionActivated(info any)
	Release()
}

// RendererConfiguration is the per-renderer configuration of an enabled
// renderer. A nil configuration means the renderer is disabled.
type RendererConfiguration struct {
	Tunneling bool
	Offload   bool
}

// Result is the output of one SelectTracks call, indexed by renderer.
type Result struct {
	Configs    []*RendererConfiguration
	Selections []media.TrackSelection
	// Tracks lists the groups of the period with the selected ones first.
	Tracks media.TrackGroups
	Info   any
}

// Len returns the renderer count the result was built for.
func (r *Result) Len() int { return len(r.Configs) }

// IsRendererEnabled reports whether renderer i has a configuration.
func (r *Result) IsRendererEnabled(i int) bool { return r.Configs[i] != nil }

// IsEquivalent reports whether other selects the same thing for every renderer.
func (r *Result) IsEquivalent(other *Result) bool {
	if other == nil || other.Len() != r.Len() {
		return false
	}
	for i := range r.Configs {
		if !r.IsEquivalentAt(other, i) {
			return false
		}
	}
	return true
}

// IsEquivalentAt reports whether other selects the same thing for renderer i.
func (r *Result) IsEquivalentAt(other *Result, i int) bool {
	if other == nil {
		return false
	}
	a, b := r.Configs[i], other.Configs[i]
	if (a == nil) != (b == nil) || (a != nil && *a != *b) {
		return false
	}
	return media.SameSelection(r.Selections[i], other.Selections[i])
}

// WithRendererDisabled returns a copy with renderer i disabled.
func (r *Result) WithRendererDisabled(i int) *Result {
	out := &Result{
		Configs:    append([]*RendererConfiguration(nil), r.Configs...),
		Selections: append([]media.TrackSelection(nil), r.Selections...),
		Tracks:     r.Tracks,
		Info:       r.Info,
	}
	out.Configs[i] = nil
	out.Selections[i] = nil
	return out
}

// StaticMetadata collects the metadata of every selected format.
func (r *Result) StaticMetadata() []media.Metadata {
	var out []media.Metadata
	for _, s := range r.Selections {
		if s == nil {
			continue
		}
		for j := 0; j < s.Length(); j++ {
			if md := s.Format(j).Metadata; len(md) > 0 {
				out = append(out, md)
			}
		}
	}
	return out
}

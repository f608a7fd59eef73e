// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package media

// TrackSelection is a selected subset of one TrackGroup, handed to a Period
// to produce a SampleStream.
type TrackSelection interface {
	Group() TrackGroup
	Length() int
	Format(i int) Format
	IndexInTrackGroup(i int) int
	SelectedFormat() Format
	Enable()
	Disable()
	OnPlaybackSpeed(speed float32)
	OnPlayWhenReadyChanged(playWhenReady bool)
	OnDiscontinuity()
	OnRebuffer()
}

// FixedSelection selects exactly one format of a group.
type FixedSelection struct {
	group   TrackGroup
	index   int
	enabled bool
	speed   float32
}

// NewFixedSelection selects group.Formats[index].
func NewFixedSelection(group TrackGroup, index int) *FixedSelection {
	return &FixedSelection{group: group, index: index, speed: 1}
}

func (s *FixedSelection) Group() TrackGroup { return s.group }
func (s *FixedSelection) Length() int { return 1 }
func (s *FixedSelection) Format(int) Format { return s.group.Formats[s.index] }
func (s *FixedSelection) IndexInTrackGroup(int) int { return s.index }
func (s *FixedSelection) SelectedFormat() Format { return s.group.Formats[s.index] }
func (s *FixedSelection) Enable() { s.enabled = true }
func (s *FixedSelection) Disable() { s.enabled = false }
func (s *FixedSelection) Enabled() bool { return s.enabled }
func (s *FixedSelection) OnPlaybackSpeed(sp float32) { s.speed = sp }
func (s *FixedSelection) Speed() float32 { return s.speed }
func (s *FixedSelection) OnPlayWhenReadyChanged(bool) {}
func (s *FixedSelection) OnDiscontinuity() {}
func (s *FixedSelection) OnRebuffer() {}

// SameSelection reports whether two selections pick the same formats of the
// same group.
func SameSelection(a, b TrackSelection) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Group().ID != b.Group().ID || a.Length() != b.Length() {
		return false
	}
	for i := 0; i < a.Length(); i++ {
		if a.IndexInTrackGroup(i) != b.IndexInTrackGroup(i) {
			return false
		}
	}
	return true
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package timeline

import "github.com/ManuGH/xplay/internal/playback/media"

// AdState is the playback state of one ad.
type AdState string

const (
	AdUnavailable AdState = "unavailable"
	AdAvailable   AdState = "available"
	AdSkipped     AdState = "skipped"
	AdPlayed      AdState = "played"
	AdError       AdState = "error"
)

// AdGroup is a set of ads played back-to-back at one content position.
type AdGroup struct {
	// TimeUs is the content position of the group, media.TimeEndOfSource
	// for a post-roll.
	TimeUs int64
	// Count is the number of ads, media.LengthUnset if not yet known.
	Count                 int
	States                []AdState
	DurationsUs           []int64
	ContentResumeOffsetUs int64
	IsServerSideInserted  bool
}

// NewAdGroup returns a group of available ads with the given durations.
func NewAdGroup(timeUs int64, durationsUs ...int64) AdGroup {
	states := make([]AdState, len(durationsUs))
	for i := range states {
		states[i] = AdAvailable
	}
	return AdGroup{
		TimeUs:      timeUs,
		Count:       len(durationsUs),
		States:      states,
		DurationsUs: append([]int64(nil), durationsUs...),
	}
}

// FirstAdIndexToPlay returns the index of the first ad still to be played.
func (g AdGroup) FirstAdIndexToPlay() int {
	return g.NextAdIndexToPlay(-1)
}

// NextAdIndexToPlay returns the first playable ad after lastPlayedAdIndex. The
// result equals len(States) when no ad is left.
func (g AdGroup) NextAdIndexToPlay(lastPlayedAdIndex int) int {
	next := lastPlayedAdIndex + 1
	for next < len(g.States) {
		if g.IsServerSideInserted || g.States[next] == AdAvailable || g.States[next] == AdUnavailable {
			break
		}
		next++
	}
	return next
}

// HasUnplayedAds reports whether at least one ad is still to be played.
func (g AdGroup) HasUnplayedAds() bool {
	return g.Count == media.LengthUnset || g.FirstAdIndexToPlay() < g.Count
}

// ShouldPlayAdGroup reports whether playback must enter the group.
func (g AdGroup) ShouldPlayAdGroup() bool {
	return g.HasUnplayedAds()
}

// IsLivePostrollPlaceholder reports whether the group is the open-ended
// post-roll placeholder of a live stream.
func (g AdGroup) IsLivePostrollPlaceholder() bool {
	return g.IsServerSideInserted && g.TimeUs == media.TimeEndOfSource && g.Count == media.LengthUnset
}

// DurationUs returns the duration of the ad at index, or media.TimeUnset.
func (g AdGroup) DurationUs(index int) int64 {
	if index < 0 || index >= len(g.DurationsUs) {
		return media.TimeUnset
	}
	return g.DurationsUs[index]
}

func (g AdGroup) clone() AdGroup {
	g.States = append([]AdState(nil), g.States...)
	g.DurationsUs = append([]int64(nil), g.DurationsUs...)
	return g
}

// AdPlaybackState describes the ad groups of one period. Values are treated as
// immutable; the With* methods return modified copies.
type AdPlaybackState struct {
	Groups              []AdGroup
	RemovedAdGroupCount int
	AdResumePositionUs  int64
	ContentDurationUs   int64
}

// NoAds is the state of a period without ads.
var NoAds = AdPlaybackState{ContentDurationUs: media.TimeUnset}

// NewAdPlaybackState returns a state with the given groups.
func NewAdPlaybackState(groups ...AdGroup) AdPlaybackState {
	return AdPlaybackState{Groups: groups, ContentDurationUs: media.TimeUnset}
}

// AdGroupCount returns the number of groups, including removed ones.
func (s AdPlaybackState) AdGroupCount() int { return len(s.Groups) }

// AdGroup returns the group at index.
func (s AdPlaybackState) AdGroup(index int) AdGroup { return s.Groups[index] }

// AdGroupIndexForPositionUs returns the index of the group that must play at
// or before positionUs, or IndexUnset if it has no unplayed ads.
func (s AdPlaybackState) AdGroupIndexForPositionUs(positionUs, periodDurationUs int64) int {
	index := len(s.Groups) - 1
	if index >= 0 && s.Groups[index].IsLivePostrollPlaceholder() {
		index--
	}
	for index >= 0 && s.isPositionBeforeAdGroup(positionUs, periodDurationUs, index) {
		index--
	}
	if index >= 0 && s.Groups[index].HasUnplayedAds() {
		return index
	}
	return media.IndexUnset
}

// AdGroupIndexAfterPositionUs returns the index of the next group to play
// after positionUs, or IndexUnset.
func (s AdPlaybackState) AdGroupIndexAfterPositionUs(positionUs, periodDurationUs int64) int {
	if positionUs == media.TimeEndOfSource || (periodDurationUs != media.TimeUnset && positionUs >= periodDurationUs) {
		return media.IndexUnset
	}
	index := s.RemovedAdGroupCount
	for index < len(s.Groups) {
		g := s.Groups[index]
		if (g.TimeUs != media.TimeEndOfSource && g.TimeUs <= positionUs) || !g.ShouldPlayAdGroup() {
			index++
			continue
		}
		break
	}
	if index < len(s.Groups) {
		return index
	}
	return media.IndexUnset
}

func (s AdPlaybackState) isPositionBeforeAdGroup(positionUs, periodDurationUs int64, index int) bool {
	if positionUs == media.TimeEndOfSource {
		return false
	}
	g := s.Groups[index]
	if g.TimeUs == media.TimeEndOfSource {
		return periodDurationUs == media.TimeUnset ||
			(g.IsServerSideInserted && g.Count == media.LengthUnset) ||
			positionUs < periodDurationUs
	}
	return positionUs < g.TimeUs
}

// WithAdState returns a copy with the state of one ad replaced.
func (s AdPlaybackState) WithAdState(groupIndex, adIndex int, state AdState) AdPlaybackState {
	out := s.clone()
	g := out.Groups[groupIndex]
	for len(g.States) <= adIndex {
		g.States = append(g.States, AdUnavailable)
	}
	g.States[adIndex] = state
	out.Groups[groupIndex] = g
	return out
}

// WithPlayedAd marks one ad as played.
func (s AdPlaybackState) WithPlayedAd(groupIndex, adIndex int) AdPlaybackState {
	return s.WithAdState(groupIndex, adIndex, AdPlayed)
}

// WithSkippedAdGroup marks every unplayed ad of a group as skipped.
func (s AdPlaybackState) WithSkippedAdGroup(groupIndex int) AdPlaybackState {
	out := s.clone()
	g := out.Groups[groupIndex]
	for i, st := range g.States {
		if st == AdAvailable || st == AdUnavailable {
			g.States[i] = AdSkipped
		}
	}
	out.Groups[groupIndex] = g
	return out
}

func (s AdPlaybackState) clone() AdPlaybackState {
	groups := make([]AdGroup, len(s.Groups))
	for i, g := range s.Groups {
		groups[i] = g.clone()
	}
	s.Groups = groups
	return s
}

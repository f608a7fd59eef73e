// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package timeline models the immutable structure of a playlist: windows
// (logical playable items) split into periods, with ad metadata per period
// and next/previous navigation under repeat and shuffle modes.
package timeline

import (
	"errors"
	"fmt"

	"github.com/ManuGH/xplay/internal/playback/media"
)

var (
	ErrInvalidTimeline = errors.New("invalid timeline")
)

// LiveConfiguration carries the live offset targets of a live window.
type LiveConfiguration struct {
	TargetOffsetMs   int64
	MinOffsetMs      int64
	MaxOffsetMs      int64
	MinPlaybackSpeed float32
	MaxPlaybackSpeed float32
}

// Window is one logical playable item.
type Window struct {
	UID               string
	MediaItemID       string
	IsSeekable        bool
	IsDynamic         bool
	Live              *LiveConfiguration
	IsPlaceholder     bool
	DefaultPositionUs int64
	DurationUs        int64
	FirstPeriodIndex  int
	LastPeriodIndex   int
	// PositionInFirstPeriodUs is the window start relative to its first period.
	PositionInFirstPeriodUs int64
}

// IsLive reports whether the window carries a live configuration.
func (w Window) IsLive() bool { return w.Live != nil }

// Period is one span of a window, optionally interrupted by ad groups.
type Period struct {
	UID                string
	WindowIndex        int
	DurationUs         int64
	PositionInWindowUs int64
	Ads                AdPlaybackState
	IsPlaceholder      bool
}

// AdGroupCount returns the number of ad groups of the period.
func (p Period) AdGroupCount() int { return p.Ads.AdGroupCount() }

// AdGroupTimeUs returns the content position of a group.
func (p Period) AdGroupTimeUs(group int) int64 { return p.Ads.Groups[group].TimeUs }

// AdCountInGroup returns the ad count of a group, media.LengthUnset if unknown.
func (p Period) AdCountInGroup(group int) int { return p.Ads.Groups[group].Count }

// AdDurationUs returns the duration of one ad.
func (p Period) AdDurationUs(group, ad int) int64 { return p.Ads.Groups[group].DurationUs(ad) }

// FirstAdIndexToPlay returns the first ad of a group still to be played.
func (p Period) FirstAdIndexToPlay(group int) int { return p.Ads.Groups[group].FirstAdIndexToPlay() }

// NextAdIndexToPlay returns the ad after last that is still to be played.
func (p Period) NextAdIndexToPlay(group, last int) int {
	return p.Ads.Groups[group].NextAdIndexToPlay(last)
}

// IsServerSideInsertedAdGroup reports whether a group is stitched into the
// content stream.
func (p Period) IsServerSideInsertedAdGroup(group int) bool {
	return p.Ads.Groups[group].IsServerSideInserted
}

// ContentResumeOffsetUs returns the content offset applied after a group.
func (p Period) ContentResumeOffsetUs(group int) int64 {
	return p.Ads.Groups[group].ContentResumeOffsetUs
}

// AdGroupIndexForPositionUs returns the group to play at or before positionUs.
func (p Period) AdGroupIndexForPositionUs(positionUs int64) int {
	return p.Ads.AdGroupIndexForPositionUs(positionUs, p.DurationUs)
}

// AdGroupIndexAfterPositionUs returns the next group after positionUs.
func (p Period) AdGroupIndexAfterPositionUs(positionUs int64) int {
	return p.Ads.AdGroupIndexAfterPositionUs(positionUs, p.DurationUs)
}

// IsLivePostrollPlaceholder reports whether a group is a live post-roll placeholder.
func (p Period) IsLivePostrollPlaceholder(group int) bool {
	return p.Ads.Groups[group].IsLivePostrollPlaceholder()
}

// HasPlayedAdGroup reports whether every ad in the group was consumed.
func (p Period) HasPlayedAdGroup(group int) bool {
	return !p.Ads.Groups[group].HasUnplayedAds()
}

// Timeline is an immutable list of windows and periods.
type Timeline struct {
	windows []Window
	periods []Period
	shuffle ShuffleOrder
	byUID   map[string]int
}

// Empty is the timeline without windows.
var Empty = &Timeline{shuffle: UnshuffledOrder{}}

// New validates and returns a timeline. A nil shuffle order means unshuffled.
func New(windows []Window, periods []Period, shuffle ShuffleOrder) (*Timeline, error) {
	if shuffle == nil || shuffle.Len() != len(windows) {
		shuffle = NewUnshuffledOrder(len(windows))
	}
	byUID := make(map[string]int, len(periods))
	for i, p := range periods {
		if _, dup := byUID[p.UID]; dup {
			return nil, fmt.Errorf("%w: duplicate period uid %q", ErrInvalidTimeline, p.UID)
		}
		if p.WindowIndex < 0 || p.WindowIndex >= len(windows) {
			return nil, fmt.Errorf("%w: period %q window index %d out of range", ErrInvalidTimeline, p.UID, p.WindowIndex)
		}
		byUID[p.UID] = i
	}
	for i, w := range windows {
		if w.FirstPeriodIndex < 0 || w.LastPeriodIndex < w.FirstPeriodIndex || w.LastPeriodIndex >= len(periods) {
			return nil, fmt.Errorf("%w: window %d period range [%d,%d]", ErrInvalidTimeline, i, w.FirstPeriodIndex, w.LastPeriodIndex)
		}
	}
	return &Timeline{
		windows: append([]Window(nil), windows...),
		periods: append([]Period(nil), periods...),
		shuffle: shuffle,
		byUID:   byUID,
	}, nil
}

func (t *Timeline) IsEmpty() bool { return len(t.windows) == 0 }
func (t *Timeline) WindowCount() int { return len(t.windows) }
func (t *Timeline) PeriodCount() int { return len(t.periods) }
func (t *Timeline) Window(i int) Window { return t.windows[i] }
func (t *Timeline) Period(i int) Period { return t.periods[i] }

// ShuffleOrder returns the order used while shuffle mode is enabled.
func (t *Timeline) ShuffleOrder() ShuffleOrder { return t.shuffle }

// IndexOfPeriod returns the index of the period with uid, or media.IndexUnset.
func (t *Timeline) IndexOfPeriod(uid string) int {
	if i, ok := t.byUID[uid]; ok {
		return i
	}
	return media.IndexUnset
}

// PeriodByUID returns the period with uid and its index.
func (t *Timeline) PeriodByUID(uid string) (Period, int, bool) {
	i, ok := t.byUID[uid]
	if !ok {
		return Period{}, media.IndexUnset, false
	}
	return t.periods[i], i, true
}

// WindowOfPeriod returns the window containing the period with uid.
func (t *Timeline) WindowOfPeriod(uid string) (Window, int, bool) {
	p, _, ok := t.PeriodByUID(uid)
	if !ok {
		return Window{}, media.IndexUnset, false
	}
	return t.windows[p.WindowIndex], p.WindowIndex, true
}

// IndexOfWindow returns the index of the window with uid, or media.IndexUnset.
func (t *Timeline) IndexOfWindow(uid string) int {
	for i, w := range t.windows {
		if w.UID == uid {
			return i
		}
	}
	return media.IndexUnset
}

// FirstWindowIndex returns the first window in playback order.
func (t *Timeline) FirstWindowIndex(shuffled bool) int {
	if t.IsEmpty() {
		return media.IndexUnset
	}
	if shuffled {
		return t.shuffle.First()
	}
	return 0
}

// LastWindowIndex returns the last window in playback order.
func (t *Timeline) LastWindowIndex(shuffled bool) int {
	if t.IsEmpty() {
		return media.IndexUnset
	}
	if shuffled {
		return t.shuffle.Last()
	}
	return len(t.windows) - 1
}

// NextWindowIndex returns the window after w under the given modes, or
// media.IndexUnset at the end of playback.
func (t *Timeline) NextWindowIndex(w int, repeat RepeatMode, shuffled bool) int {
	switch repeat {
	case RepeatOne:
		return w
	case RepeatAll:
		if w == t.LastWindowIndex(shuffled) {
			return t.FirstWindowIndex(shuffled)
		}
	default:
		if w == t.LastWindowIndex(shuffled) {
			return media.IndexUnset
		}
	}
	if shuffled {
		return t.shuffle.Next(w)
	}
	return w + 1
}

// PreviousWindowIndex returns the window before w under the given modes.
func (t *Timeline) PreviousWindowIndex(w int, repeat RepeatMode, shuffled bool) int {
	switch repeat {
	case RepeatOne:
		return w
	case RepeatAll:
		if w == t.FirstWindowIndex(shuffled) {
			return t.LastWindowIndex(shuffled)
		}
	default:
		if w == t.FirstWindowIndex(shuffled) {
			return media.IndexUnset
		}
	}
	if shuffled {
		return t.shuffle.Previous(w)
	}
	return w - 1
}

// NextPeriodIndex returns the period after p under the given modes.
func (t *Timeline) NextPeriodIndex(p int, repeat RepeatMode, shuffled bool) int {
	wi := t.periods[p].WindowIndex
	if t.windows[wi].LastPeriodIndex != p {
		return p + 1
	}
	next := t.NextWindowIndex(wi, repeat, shuffled)
	if next == media.IndexUnset {
		return media.IndexUnset
	}
	return t.windows[next].FirstPeriodIndex
}

// IsLastPeriod reports whether p is the final period in playback order.
func (t *Timeline) IsLastPeriod(p int, repeat RepeatMode, shuffled bool) bool {
	return t.NextPeriodIndex(p, repeat, shuffled) == media.IndexUnset
}

// PeriodPosition maps a window position to a period uid and a position in
// that period. windowPositionUs may be media.TimeUnset for the window's
// default position; ok is false if that default is unknown.
func (t *Timeline) PeriodPosition(windowIndex int, windowPositionUs int64) (uid string, periodPositionUs int64, ok bool) {
	if windowIndex < 0 || windowIndex >= len(t.windows) {
		return "", 0, false
	}
	w := t.windows[windowIndex]
	if windowPositionUs == media.TimeUnset {
		windowPositionUs = w.DefaultPositionUs
		if windowPositionUs == media.TimeUnset {
			return "", 0, false
		}
	}
	pi := w.FirstPeriodIndex
	pos := w.PositionInFirstPeriodUs + windowPositionUs
	dur := t.periods[pi].DurationUs
	for dur != media.TimeUnset && pos >= dur && pi < w.LastPeriodIndex {
		pos -= dur
		pi++
		dur = t.periods[pi].DurationUs
	}
	return t.periods[pi].UID, pos, true
}

// WithAdPlaybackState returns a copy with the ads of one period replaced.
func (t *Timeline) WithAdPlaybackState(periodIndex int, ads AdPlaybackState) *Timeline {
	out := t.clone()
	out.periods[periodIndex].Ads = ads
	return out
}

// WithShuffleOrder returns a copy using order while shuffled.
func (t *Timeline) WithShuffleOrder(order ShuffleOrder) *Timeline {
	out := t.clone()
	if order != nil && order.Len() == len(out.windows) {
		out.shuffle = order
	}
	return out
}

func (t *Timeline) clone() *Timeline {
	return &Timeline{
		windows: append([]Window(nil), t.windows...),
		periods: append([]Period(nil), t.periods...),
		shuffle: t.shuffle,
		byUID:   t.byUID,
	}
}

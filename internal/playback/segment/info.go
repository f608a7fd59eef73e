// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package segment describes playable spans of a timeline (Info) and the
// mutable queue nodes (Holder) that load them.
package segment

import (
	"fmt"

	"github.com/ManuGH/xplay/internal/playback/media"
)

// Info is the immutable description of one playable span.
type Info struct {
	ID media.PeriodID
	// StartPositionUs is the start of the span in period time.
	StartPositionUs int64
	// RequestedContentPositionUs is the content position requested when
	// entering an ad, or media.TimeUnset.
	RequestedContentPositionUs int64
	// EndPositionUs is where the span ends in period time: the next ad group
	// time, media.TimeEndOfSource for a post-roll boundary, or media.TimeUnset.
	EndPositionUs int64
	// DurationUs is the span duration, media.TimeUnset if unknown.
	DurationUs int64

	IsPrecededByTransitionFromSameStream bool
	IsFollowedByTransitionToSameStream   bool
	IsLastInTimelinePeriod               bool
	IsLastInTimelineWindow               bool
	IsFinal                              bool
}

// WithStartPositionUs returns a copy with the start position replaced.
func (i Info) WithStartPositionUs(us int64) Info {
	i.StartPositionUs = us
	return i
}

// WithRequestedContentPositionUs returns a copy with the requested content
// position replaced.
func (i Info) WithRequestedContentPositionUs(us int64) Info {
	i.RequestedContentPositionUs = us
	return i
}

func (i Info) String() string {
	return fmt.Sprintf("%s[start=%d end=%d dur=%d final=%t]", i.ID, i.StartPositionUs, i.EndPositionUs, i.DurationUs, i.IsFinal)
}

// DurationsCompatible reports whether a refreshed duration is compatible with
// the one a holder was created for: equal, or previously unknown.
func DurationsCompatible(previousUs, newUs int64) bool {
	return previousUs == media.TimeUnset || previousUs == newUs
}

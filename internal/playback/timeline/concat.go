// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package timeline

import "strings"

const uidSeparator = "|"

// ChildUID joins a child id and a uid local to that child.
func ChildUID(child, inner string) string {
	return child + uidSeparator + inner
}

// SplitUID is the inverse of ChildUID. ok is false for uids without a child.
func SplitUID(uid string) (child, inner string, ok bool) {
	return strings.Cut(uid, uidSeparator)
}

// Child is one member of a concatenated timeline.
type Child struct {
	UID      string
	Timeline *Timeline
}

// Concat joins child timelines in order. Window and period uids are
// prefixed with the child uid so that identical child timelines stay
// distinguishable.
func Concat(children []Child, shuffle ShuffleOrder) *Timeline {
	var windows []Window
	var periods []Period
	for _, c := range children {
		wOffset := len(windows)
		pOffset := len(periods)
		for i := 0; i < c.Timeline.WindowCount(); i++ {
			w := c.Timeline.Window(i)
			w.UID = ChildUID(c.UID, w.UID)
			w.FirstPeriodIndex += pOffset
			w.LastPeriodIndex += pOffset
			windows = append(windows, w)
		}
		for i := 0; i < c.Timeline.PeriodCount(); i++ {
			p := c.Timeline.Period(i)
			p.UID = ChildUID(c.UID, p.UID)
			p.WindowIndex += wOffset
			periods = append(periods, p)
		}
	}
	if len(windows) == 0 {
		return Empty
	}
	t, err := New(windows, periods, shuffle)
	if err != nil {
		// Children are valid timelines and prefixes keep uids unique.
		panic(err)
	}
	return t
}

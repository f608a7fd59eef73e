// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package media

import "fmt"

// PeriodID identifies one playable span of a timeline: a content span of a
// period or a single ad inside one of its ad groups. PeriodIDs are values and
// compare with ==.
type PeriodID struct {
	PeriodUID            string
	AdGroupIndex         int
	AdIndexInAdGroup     int
	WindowSequenceNumber int64
	// NextAdGroupIndex is the ad group following a content span, or IndexUnset.
	NextAdGroupIndex int
}

// NoPeriod is the id used while the timeline is empty.
var NoPeriod = PeriodID{
	AdGroupIndex:         IndexUnset,
	AdIndexInAdGroup:     IndexUnset,
	WindowSequenceNumber: -1,
	NextAdGroupIndex:     IndexUnset,
}

// NewContentID returns the id of a content span.
func NewContentID(periodUID string, windowSequenceNumber int64, nextAdGroupIndex int) PeriodID {
	return PeriodID{
		PeriodUID:            periodUID,
		AdGroupIndex:         IndexUnset,
		AdIndexInAdGroup:     IndexUnset,
		WindowSequenceNumber: windowSequenceNumber,
		NextAdGroupIndex:     nextAdGroupIndex,
	}
}

// NewAdID returns the id of one ad.
func NewAdID(periodUID string, adGroupIndex, adIndexInAdGroup int, windowSequenceNumber int64) PeriodID {
	return PeriodID{
		PeriodUID:            periodUID,
		AdGroupIndex:         adGroupIndex,
		AdIndexInAdGroup:     adIndexInAdGroup,
		WindowSequenceNumber: windowSequenceNumber,
		NextAdGroupIndex:     IndexUnset,
	}
}

// IsAd reports whether the id refers to an ad.
func (id PeriodID) IsAd() bool { return id.AdGroupIndex != IndexUnset }

// IsNone reports whether the id is NoPeriod.
func (id PeriodID) IsNone() bool { return id == NoPeriod }

// WithPeriodUID returns a copy with the period uid replaced.
func (id PeriodID) WithPeriodUID(uid string) PeriodID {
	id.PeriodUID = uid
	return id
}

// WithWindowSequenceNumber returns a copy with the sequence number replaced.
func (id PeriodID) WithWindowSequenceNumber(n int64) PeriodID {
	id.WindowSequenceNumber = n
	return id
}

func (id PeriodID) String() string {
	if id.IsNone() {
		return "none"
	}
	if id.IsAd() {
		return fmt.Sprintf("%s#%d[ad %d/%d]", id.PeriodUID, id.WindowSequenceNumber, id.AdGroupIndex, id.AdIndexInAdGroup)
	}
	return fmt.Sprintf("%s#%d", id.PeriodUID, id.WindowSequenceNumber)
}

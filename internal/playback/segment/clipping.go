// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package segment

import (
	"github.com/ManuGH/xplay/internal/playback/media"
	"github.com/ManuGH/xplay/internal/playback/source"
)

// clippedPeriod reports a content span as fully buffered once the wrapped
// period has buffered up to the end of the span.
type clippedPeriod struct {
	source.Period
	endUs int64
}

func clip(p source.Period, endUs int64) *clippedPeriod {
	return &clippedPeriod{Period: p, endUs: endUs}
}

func (c *clippedPeriod) updateEnd(endUs int64) { c.endUs = endUs }

func (c *clippedPeriod) clamp(us int64) int64 {
	if us == media.TimeEndOfSource || (c.endUs != media.TimeEndOfSource && us >= c.endUs) {
		return media.TimeEndOfSource
	}
	return us
}

func (c *clippedPeriod) BufferedPositionUs() int64 {
	return c.clamp(c.Period.BufferedPositionUs())
}

func (c *clippedPeriod) NextLoadPositionUs() int64 {
	return c.clamp(c.Period.NextLoadPositionUs())
}

func (c *clippedPeriod) SeekToUs(positionUs int64) int64 {
	if c.endUs != media.TimeEndOfSource && positionUs > c.endUs {
		positionUs = c.endUs
	}
	return c.Period.SeekToUs(positionUs)
}

func unwrap(p source.Period) source.Period {
	if c, ok := p.(*clippedPeriod); ok {
		return c.Period
	}
	return p
}

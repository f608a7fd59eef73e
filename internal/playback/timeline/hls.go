// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package timeline

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/grafov/m3u8"
)

var ErrNotMediaPlaylist = errors.New("expected media playlist")

// liveEdgeTargetDurations is how far behind the live edge playback starts,
// in target durations.
const liveEdgeTargetDurations = 3

// DecodeMediaPlaylist parses an HLS media playlist into a single-window timeline.
func DecodeMediaPlaylist(r io.Reader, uid string) (*Timeline, error) {
	playlist, listType, err := m3u8.DecodeFrom(r, true)
	if err != nil {
		return nil, fmt.Errorf("parse playlist: %w", err)
	}
	if listType != m3u8.MEDIA {
		return nil, ErrNotMediaPlaylist
	}
	mp, ok := playlist.(*m3u8.MediaPlaylist)
	if !ok {
		return nil, ErrNotMediaPlaylist
	}
	return FromMediaPlaylist(mp, uid)
}

// FromMediaPlaylist converts a media playlist. An open (no ENDLIST) playlist
// becomes a dynamic live window whose default position sits a few target
// durations behind the live edge.
func FromMediaPlaylist(p *m3u8.MediaPlaylist, uid string) (*Timeline, error) {
	var total float64
	count := 0
	for _, seg := range p.Segments {
		if seg == nil {
			break
		}
		total += seg.Duration
		count++
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: playlist contains no segments", ErrInvalidTimeline)
	}
	durationUs := int64(math.Round(total * 1e6))
	spec := WindowSpec{
		UID:        uid,
		DurationUs: durationUs,
		IsSeekable: true,
		Periods:    []PeriodSpec{{UID: uid, DurationUs: durationUs}},
	}
	if !p.Closed {
		target := p.TargetDuration
		if target <= 0 {
			target = total / float64(count)
		}
		offsetUs := int64(math.Round(target * liveEdgeTargetDurations * 1e6))
		spec.IsDynamic = true
		spec.DefaultPositionUs = max(durationUs-offsetUs, 0)
		spec.Live = &LiveConfiguration{
			TargetOffsetMs:   offsetUs / 1000,
			MinOffsetMs:      offsetUs / 2000,
			MaxOffsetMs:      offsetUs * 2 / 1000,
			MinPlaybackSpeed: 0.97,
			MaxPlaybackSpeed: 1.03,
		}
	}
	return NewBuilder().Add(spec).Build()
}

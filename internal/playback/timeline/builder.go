// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package timeline

import (
	"github.com/google/uuid"

	"github.com/ManuGH/xplay/internal/playback/media"
)

// PeriodSpec describes one period for the Builder.
type PeriodSpec struct {
	UID        string // minted if empty
	DurationUs int64
	Ads        AdPlaybackState
}

// WindowSpec describes one window for the Builder. A window without
// periods gets a single period spanning DurationUs.
type WindowSpec struct {
	UID               string // minted if empty
	MediaItemID       string
	DurationUs        int64
	DefaultPositionUs int64
	IsSeekable        bool
	IsDynamic         bool
	Live              *LiveConfiguration
	IsPlaceholder     bool
	Periods           []PeriodSpec
}

// Builder assembles timelines window by window.
type Builder struct {
	windows []Window
	periods []Period
	shuffle ShuffleOrder
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends a window and its periods.
func (b *Builder) Add(spec WindowSpec) *Builder {
	uid := spec.UID
	if uid == "" {
		uid = uuid.NewString()
	}
	specs := spec.Periods
	if len(specs) == 0 {
		specs = []PeriodSpec{{DurationUs: spec.DurationUs, Ads: NoAds}}
	}
	first := len(b.periods)
	var offset int64
	for _, ps := range specs {
		puid := ps.UID
		if puid == "" {
			puid = uuid.NewString()
		}
		ads := ps.Ads
		if ads.Groups == nil && ads.ContentDurationUs == 0 {
			ads = NoAds
		}
		b.periods = append(b.periods, Period{
			UID:                puid,
			WindowIndex:        len(b.windows),
			DurationUs:         ps.DurationUs,
			PositionInWindowUs: offset,
			Ads:                ads,
			IsPlaceholder:      spec.IsPlaceholder,
		})
		if offset != media.TimeUnset && ps.DurationUs != media.TimeUnset {
			offset += ps.DurationUs
		} else {
			offset = media.TimeUnset
		}
	}
	duration := spec.DurationUs
	if duration == 0 && len(spec.Periods) > 0 {
		duration = offset
	}
	b.windows = append(b.windows, Window{
		UID:               uid,
		MediaItemID:       spec.MediaItemID,
		IsSeekable:        spec.IsSeekable,
		IsDynamic:         spec.IsDynamic,
		Live:              spec.Live,
		IsPlaceholder:     spec.IsPlaceholder,
		DefaultPositionUs: spec.DefaultPositionUs,
		DurationUs:        duration,
		FirstPeriodIndex:  first,
		LastPeriodIndex:   len(b.periods) - 1,
	})
	return b
}

// Shuffle sets the shuffle order of the built timeline.
func (b *Builder) Shuffle(order ShuffleOrder) *Builder {
	b.shuffle = order
	return b
}

// Build validates and returns the timeline.
func (b *Builder) Build() (*Timeline, error) {
	return New(b.windows, b.periods, b.shuffle)
}

// MustBuild is Build for static fixtures; it panics on invalid input.
func (b *Builder) MustBuild() *Timeline {
	t, err := b.Build()
	if err != nil {
		panic(err)
	}
	return t
}

// Placeholder returns a single-window timeline standing in for a source
// whose real timeline is not known yet.
func Placeholder(uid string) *Timeline {
	return NewBuilder().Add(WindowSpec{
		UID:           uid,
		DurationUs:    media.TimeUnset,
		IsDynamic:     true,
		IsPlaceholder: true,
		Periods:       []PeriodSpec{{UID: uid, DurationUs: media.TimeUnset}},
	}).MustBuild()
}

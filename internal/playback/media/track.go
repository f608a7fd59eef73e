// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package media

// TrackType identifies the kind of content a track or renderer carries.
type TrackType string

const (
	TrackTypeNone     TrackType = "none"
	TrackTypeUnknown  TrackType = "unknown"
	TrackTypeAudio    TrackType = "audio"
	TrackTypeVideo    TrackType = "video"
	TrackTypeText     TrackType = "text"
	TrackTypeMetadata TrackType = "metadata"
	TrackTypeImage    TrackType = "image"
	TrackTypeCamera   TrackType = "camera_motion"
)

// IsEssential reports whether losing the track type is a playback failure.
// Text and metadata tracks can be dropped without stopping playback.
func (t TrackType) IsEssential() bool {
	switch t {
	case TrackTypeText, TrackTypeMetadata:
		return false
	}
	return true
}

// Metadata is a set of static key/value tags attached to a format.
type Metadata map[string]string

// Format describes one encoding of a track.
type Format struct {
	ID         string
	MimeType   string
	Codecs     string
	Bitrate    int
	Width      int
	Height     int
	FrameRate  float32
	Channels   int
	SampleRate int
	Language   string
	Metadata   Metadata
}

// TrackGroup is a set of formats that carry the same content.
type TrackGroup struct {
	ID      string
	Type    TrackType
	Formats []Format
}

// Len returns the number of formats in the group.
func (g TrackGroup) Len() int { return len(g.Formats) }

// IndexOf returns the index of the format with the given id, or IndexUnset.
func (g TrackGroup) IndexOf(formatID string) int {
	for i, f := range g.Formats {
		if f.ID == formatID {
			return i
		}
	}
	return IndexUnset
}

// TrackGroups is the ordered set of groups exposed by a prepared period.
type TrackGroups []TrackGroup

// IndexOf returns the index of the group with the given id, or IndexUnset.
func (gs TrackGroups) IndexOf(id string) int {
	for i, g := range gs {
		if g.ID == id {
			return i
		}
	}
	return IndexUnset
}

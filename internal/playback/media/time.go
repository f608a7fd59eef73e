// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package media holds the value types and collaborator contracts shared by
// the playback packages: time sentinels, tracks, period ids and the
// source/period/stream interfaces.
package media

import "math"

const (
	// TimeUnset marks an unknown or unset microsecond time.
	TimeUnset int64 = math.MinInt64 + 1
	// TimeEndOfSource marks a position at the end of the loaded media.
	TimeEndOfSource int64 = math.MinInt64

	// IndexUnset marks an unset index (window, period, ad group, ...).
	IndexUnset = -1
	// LengthUnset marks an unknown count.
	LengthUnset = -1
)

// UsToMs converts microseconds to milliseconds, keeping sentinels intact.
func UsToMs(us int64) int64 {
	if us == TimeUnset || us == TimeEndOfSource {
		return us
	}
	return us / 1000
}

// MsToUs converts milliseconds to microseconds, keeping sentinels intact.
func MsToUs(ms int64) int64 {
	if ms == TimeUnset || ms == TimeEndOfSource {
		return ms
	}
	return ms * 1000
}

// IsSet reports whether t is neither TimeUnset nor TimeEndOfSource.
func IsSet(t int64) bool {
	return t != TimeUnset && t != TimeEndOfSource
}

// MediaDurationForPlayoutDuration scales a wall-clock playout duration to
// media time at the given speed.
func MediaDurationForPlayoutDuration(playoutUs int64, speed float32) int64 {
	if speed == 1 {
		return playoutUs
	}
	return int64(math.Round(float64(playoutUs) * float64(speed)))
}

// PlayoutDurationForMediaDuration is the inverse of MediaDurationForPlayoutDuration.
func PlayoutDurationForMediaDuration(mediaUs int64, speed float32) int64 {
	if speed == 1 {
		return mediaUs
	}
	return int64(math.Round(float64(mediaUs) / float64(speed)))
}

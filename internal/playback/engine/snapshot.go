// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"time"

	"github.com/ManuGH/xplay/internal/playback/fault"
	"github.com/ManuGH/xplay/internal/playback/media"
	"github.com/ManuGH/xplay/internal/playback/selection"
	"github.com/ManuGH/xplay/internal/playback/timeline"
)

// State is the externally visible playback state.
type State string

const (
	StateIdle      State = "idle"
	StateBuffering State = "buffering"
	StateReady     State = "ready"
	StateEnded     State = "ended"
)

// PlayWhenReadyReason tells why the play intent last changed.
type PlayWhenReadyReason string

const (
	ReasonUserRequest    PlayWhenReadyReason = "user_request"
	ReasonEndOfMediaItem PlayWhenReadyReason = "end_of_media_item"
)

// SuppressionReason keeps a ready engine with play intent from playing.
type SuppressionReason string

const (
	SuppressionNone                  SuppressionReason = "none"
	SuppressionTransientFocusLoss    SuppressionReason = "transient_audio_focus_loss"
	SuppressionUnsuitableAudioOutput SuppressionReason = "unsuitable_audio_output"
)

// DiscontinuityReason explains a jump of the playback position.
type DiscontinuityReason string

const (
	DiscontinuityNone           DiscontinuityReason = ""
	DiscontinuityAutoTransition DiscontinuityReason = "auto_transition"
	DiscontinuitySeek           DiscontinuityReason = "seek"
	DiscontinuitySeekAdjustment DiscontinuityReason = "seek_adjustment"
	DiscontinuitySkip           DiscontinuityReason = "skip"
	DiscontinuityRemove         DiscontinuityReason = "remove"
	DiscontinuityInternal       DiscontinuityReason = "internal"
)

// Snapshot is the complete playback state at one instant. Snapshots are
// values; the engine never mutates one after publishing it.
type Snapshot struct {
	Timeline *timeline.Timeline `json:"-"`
	PeriodID media.PeriodID     `json:"periodId"`
	// RequestedContentPositionUs is the content position asked for when
	// the position was set, media.TimeUnset for the default position.
	RequestedContentPositionUs   int64 `json:"requestedContentPositionUs"`
	DiscontinuityStartPositionUs int64 `json:"discontinuityStartPositionUs"`

	State               State               `json:"state"`
	PlayWhenReady       bool                `json:"playWhenReady"`
	PlayWhenReadyReason PlayWhenReadyReason `json:"playWhenReadyReason"`
	Suppression         SuppressionReason   `json:"suppression"`
	Error               *fault.Error        `json:"error,omitempty"`

	IsLoading       bool           `json:"isLoading"`
	LoadingPeriodID media.PeriodID `json:"loadingPeriodId"`

	TrackGroups    media.TrackGroups `json:"trackGroups,omitempty"`
	Selection      *selection.Result `json:"-"`
	StaticMetadata []media.Metadata  `json:"staticMetadata,omitempty"`

	PlaybackParameters media.PlaybackParameters `json:"playbackParameters"`
	SleepingForOffload bool                     `json:"sleepingForOffload"`

	BufferedPositionUs      int64     `json:"bufferedPositionUs"`
	TotalBufferedDurationUs int64     `json:"totalBufferedDurationUs"`
	PositionUs              int64     `json:"positionUs"`
	PositionUpdateTime      time.Time `json:"positionUpdateTime"`
}

// IsPlaying reports whether the media clock is advancing.
func (s Snapshot) IsPlaying() bool {
	return s.State == StateReady && s.PlayWhenReady && s.Suppression == SuppressionNone
}

// changedFrom reports whether s differs from o in anything but the
// continuously advancing playback position.
func (s Snapshot) changedFrom(o Snapshot) bool {
	return s.Timeline != o.Timeline ||
		s.PeriodID != o.PeriodID ||
		s.RequestedContentPositionUs != o.RequestedContentPositionUs ||
		s.DiscontinuityStartPositionUs != o.DiscontinuityStartPositionUs ||
		s.State != o.State ||
		s.PlayWhenReady != o.PlayWhenReady ||
		s.PlayWhenReadyReason != o.PlayWhenReadyReason ||
		s.Suppression != o.Suppression ||
		s.Error != o.Error ||
		s.IsLoading != o.IsLoading ||
		s.LoadingPeriodID != o.LoadingPeriodID ||
		s.Selection != o.Selection ||
		len(s.TrackGroups) != len(o.TrackGroups) ||
		len(s.StaticMetadata) != len(o.StaticMetadata) ||
		s.PlaybackParameters != o.PlaybackParameters ||
		s.SleepingForOffload != o.SleepingForOffload ||
		s.BufferedPositionUs != o.BufferedPositionUs ||
		s.TotalBufferedDurationUs != o.TotalBufferedDurationUs
}

func initialSnapshot() Snapshot {
	return Snapshot{
		Timeline:                     timeline.Empty,
		PeriodID:                     media.NoPeriod,
		RequestedContentPositionUs:   media.TimeUnset,
		DiscontinuityStartPositionUs: 0,
		State:                        StateIdle,
		PlayWhenReadyReason:          ReasonUserRequest,
		Suppression:                  SuppressionNone,
		LoadingPeriodID:              media.NoPeriod,
		PlaybackParameters:           media.DefaultPlaybackParameters,
	}
}

// Update is delivered to the application after each command or tick that
// changed something visible.
type Update struct {
	Snapshot Snapshot
	// OperationAcks counts the user commands fully applied since the
	// previous update.
	OperationAcks         int
	PositionDiscontinuity bool
	DiscontinuityReason   DiscontinuityReason
}

// pendingUpdate accumulates what the next Update reports.
type pendingUpdate struct {
	dirty         bool
	acks          int
	discontinuity bool
	reason        DiscontinuityReason
}

func (u *pendingUpdate) ack(n int) {
	u.acks += n
	if n > 0 {
		u.dirty = true
	}
}

// setDiscontinuity records a position jump. An internal reason never
// overrides a more specific one already recorded in the same batch.
func (u *pendingUpdate) setDiscontinuity(reason DiscontinuityReason) {
	if u.discontinuity && reason == DiscontinuityInternal {
		return
	}
	u.discontinuity = true
	u.reason = reason
	u.dirty = true
}

func (u *pendingUpdate) pending() bool {
	return u.dirty || u.acks > 0 || u.discontinuity
}

// mergeUpdates folds newer into an update a slow subscriber has not taken
// yet. Acks add up and the discontinuity follows setDiscontinuity.
func mergeUpdates(older, newer Update) Update {
	merged := Update{
		Snapshot:              newer.Snapshot,
		OperationAcks:         older.OperationAcks + newer.OperationAcks,
		PositionDiscontinuity: older.PositionDiscontinuity,
		DiscontinuityReason:   older.DiscontinuityReason,
	}
	if newer.PositionDiscontinuity &&
		!(older.PositionDiscontinuity && newer.DiscontinuityReason == DiscontinuityInternal) {
		merged.PositionDiscontinuity = true
		merged.DiscontinuityReason = newer.DiscontinuityReason
	}
	return merged
}

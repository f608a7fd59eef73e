// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"time"

	"github.com/ManuGH/xplay/internal/playback/media"
	"github.com/ManuGH/xplay/internal/playback/playlist"
	"github.com/ManuGH/xplay/internal/playback/source"
	"github.com/ManuGH/xplay/internal/playback/timeline"
)

// command is one unit of work for the engine goroutine.
type command interface {
	commandName() string
}

// userCommand marks commands posted through the public API. Each one is
// acknowledged in the next Update.
type userCommand struct{}

func (userCommand) acknowledged() {}

type acknowledged interface{ acknowledged() }

// waiter is implemented by commands whose poster blocks until done closes.
type waiter interface {
	doneChan() chan struct{}
}

type cmdPrepare struct{ userCommand }

type cmdStop struct{ userCommand }

type cmdRelease struct {
	userCommand
	done chan struct{}
}

type cmdSetPlayWhenReady struct {
	userCommand
	play        bool
	suppression SuppressionReason
}

type cmdSeek struct {
	userCommand
	tl          *timeline.Timeline
	windowIndex int
	positionUs  int64
}

type cmdSetPlaybackParameters struct {
	userCommand
	params media.PlaybackParameters
}

type cmdSetSeekParameters struct {
	userCommand
	params media.SeekParameters
}

type cmdSetRepeatMode struct {
	userCommand
	mode timeline.RepeatMode
}

type cmdSetShuffleModeEnabled struct {
	userCommand
	enabled bool
}

type cmdSetShuffleOrder struct {
	userCommand
	order timeline.ShuffleOrder
}

type cmdSetMediaSources struct {
	userCommand
	sources     []source.Source
	windowIndex int
	positionUs  int64
	shuffle     timeline.ShuffleOrder
}

type cmdAddMediaSources struct {
	userCommand
	index   int
	sources []source.Source
	shuffle timeline.ShuffleOrder
}

type cmdRemoveMediaSources struct {
	userCommand
	from, to int
	shuffle  timeline.ShuffleOrder
}

type cmdMoveMediaSources struct {
	userCommand
	from, to, newFrom int
	shuffle           timeline.ShuffleOrder
}

type cmdSetPauseAtEndOfWindow struct {
	userCommand
	pause bool
}

type cmdSetPreloadConfiguration struct {
	userCommand
	cfg PreloadConfiguration
}

type cmdSetStuckBufferingTimeout struct {
	userCommand
	timeout time.Duration
}

type cmdSetForegroundMode struct {
	userCommand
	foreground bool
	done       chan struct{}
}

type cmdSetVideoOutput struct {
	userCommand
	output any
	done   chan struct{}
}

type cmdSetVolume struct {
	userCommand
	volume float32
}

type cmdSetOffloadSchedulingEnabled struct {
	userCommand
	enabled bool
}

type cmdSendMessage struct {
	msg *Message
}

// Collaborator callbacks.

type cmdTick struct{ gen uint64 }

type cmdPeriodPrepared struct{ period source.Period }

type cmdContinueLoadingRequested struct{ period source.Period }

type cmdPlaylistRefreshed struct {
	item *playlist.Item
	tl   *timeline.Timeline
}

type cmdTrackSelectionsInvalidated struct{}

type cmdRendererCapabilitiesChanged struct{}

type cmdRendererSleep struct{}

type cmdRendererWakeup struct{}

type cmdClockParameters struct{ params media.PlaybackParameters }

type cmdAttemptRecovery struct{}

// cmdSync is a barrier. queued receives how many commands were waiting
// behind it.
type cmdSync struct {
	done   chan struct{}
	queued *int
}

func (cmdPrepare) commandName() string                     { return "prepare" }
func (cmdStop) commandName() string                        { return "stop" }
func (cmdRelease) commandName() string                     { return "release" }
func (cmdSetPlayWhenReady) commandName() string            { return "set_play_when_ready" }
func (cmdSeek) commandName() string                        { return "seek_to" }
func (cmdSetPlaybackParameters) commandName() string       { return "set_playback_parameters" }
func (cmdSetSeekParameters) commandName() string           { return "set_seek_parameters" }
func (cmdSetRepeatMode) commandName() string               { return "set_repeat_mode" }
func (cmdSetShuffleModeEnabled) commandName() string       { return "set_shuffle_enabled" }
func (cmdSetShuffleOrder) commandName() string             { return "set_shuffle_order" }
func (cmdSetMediaSources) commandName() string             { return "set_media_sources" }
func (cmdAddMediaSources) commandName() string             { return "add_media_sources" }
func (cmdRemoveMediaSources) commandName() string          { return "remove_media_sources" }
func (cmdMoveMediaSources) commandName() string            { return "move_media_sources" }
func (cmdSetPauseAtEndOfWindow) commandName() string       { return "set_pause_at_end_of_window" }
func (cmdSetPreloadConfiguration) commandName() string     { return "set_preload_configuration" }
func (cmdSetStuckBufferingTimeout) commandName() string    { return "set_stuck_buffering_timeout" }
func (cmdSetForegroundMode) commandName() string           { return "set_foreground_mode" }
func (cmdSetVideoOutput) commandName() string              { return "set_video_output" }
func (cmdSetVolume) commandName() string                   { return "set_volume" }
func (cmdSetOffloadSchedulingEnabled) commandName() string { return "set_offload_scheduling" }
func (cmdSendMessage) commandName() string                 { return "send_message" }
func (cmdTick) commandName() string                        { return "tick" }
func (cmdPeriodPrepared) commandName() string              { return "period_prepared" }
func (cmdContinueLoadingRequested) commandName() string    { return "continue_loading_requested" }
func (cmdPlaylistRefreshed) commandName() string           { return "playlist_refreshed" }
func (cmdTrackSelectionsInvalidated) commandName() string  { return "track_selections_invalidated" }
func (cmdRendererCapabilitiesChanged) commandName() string { return "renderer_capabilities_changed" }
func (cmdRendererSleep) commandName() string               { return "renderer_sleep" }
func (cmdRendererWakeup) commandName() string              { return "renderer_wakeup" }
func (cmdClockParameters) commandName() string             { return "clock_parameters" }
func (cmdAttemptRecovery) commandName() string             { return "attempt_recovery" }
func (cmdSync) commandName() string                        { return "sync" }

func (c cmdRelease) doneChan() chan struct{}           { return c.done }
func (c cmdSetForegroundMode) doneChan() chan struct{} { return c.done }
func (c cmdSetVideoOutput) doneChan() chan struct{}    { return c.done }
func (c cmdSync) doneChan() chan struct{}              { return c.done }

// signal closes the done channel of c, if it has one.
func signal(c command) {
	if w, ok := c.(waiter); ok && w.doneChan() != nil {
		close(w.doneChan())
	}
}

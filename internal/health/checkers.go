// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"os"

	"github.com/ManuGH/xplay/internal/playback/engine"
)

// Snapshotter is the read side of a playback engine.
type Snapshotter interface {
	Snapshot() engine.Snapshot
}

// PlaybackChecker reports the engine state. A playback error is unhealthy
// and an idle or buffering engine is degraded.
type PlaybackChecker struct {
	src Snapshotter
}

func NewPlaybackChecker(src Snapshotter) *PlaybackChecker {
	return &PlaybackChecker{src: src}
}

func (c *PlaybackChecker) Name() string { return "playback" }

func (c *PlaybackChecker) Check(context.Context) CheckResult {
	snap := c.src.Snapshot()
	if snap.Error != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   snap.Error.Error(),
			Message: fmt.Sprintf("playback failed (%s)", snap.Error.Kind),
		}
	}
	switch snap.State {
	case engine.StateIdle:
		return CheckResult{Status: StatusDegraded, Message: "idle"}
	case engine.StateBuffering:
		return CheckResult{Status: StatusDegraded, Message: "buffering"}
	default:
		return CheckResult{Status: StatusHealthy, Message: string(snap.State)}
	}
}

// FileChecker checks that an optional file exists and is readable.
type FileChecker struct {
	name string
	path string
}

// NewFileChecker creates a checker for file existence
func NewFileChecker(name, path string) *FileChecker {
	return &FileChecker{
		name: name,
		path: path,
	}
}

func (c *FileChecker) Name() string {
	return c.name
}

func (c *FileChecker) Check(context.Context) CheckResult {
	if c.path == "" {
		return CheckResult{
			Status:  StatusHealthy,
			Message: "not configured (optional)",
		}
	}

	info, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusUnhealthy,
				Error:   "file not found",
				Message: c.path,
			}
		}
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  err.Error(),
		}
	}

	if info.IsDir() {
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  "expected file, got directory",
		}
	}

	if info.Size() == 0 {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "file is empty",
		}
	}

	return CheckResult{
		Status:  StatusHealthy,
		Message: "file exists and readable",
	}
}

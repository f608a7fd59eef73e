// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/ManuGH/xplay/internal/config"
	xplaylog "github.com/ManuGH/xplay/internal/log"
	"github.com/ManuGH/xplay/internal/playback/clock"
	"github.com/ManuGH/xplay/internal/playback/engine"
	"github.com/ManuGH/xplay/internal/playback/loadcontrol"
	"github.com/ManuGH/xplay/internal/playback/media"
	"github.com/ManuGH/xplay/internal/playback/renderer"
	"github.com/ManuGH/xplay/internal/playback/sim"
	"github.com/ManuGH/xplay/internal/playback/source"
	"github.com/ManuGH/xplay/internal/playback/timeline"
)

const syncTimeout = 5 * time.Second

var errPlaybackFailed = errors.New("playback failed")

// session is one engine wired to simulated renderers and playlist sources.
type session struct {
	eng     *engine.Engine
	fake    *clock.Fake
	sources []*sim.Source
	log     zerolog.Logger
}

// engineConfig maps the file/env configuration onto the engine.
func engineConfig(cfg config.Config) engine.Config {
	ec := engine.DefaultConfig()
	ec.StuckBufferingTimeout = cfg.StuckBufferingTimeout
	ec.MaxBufferAheadPeriods = cfg.MaxBufferAheadPeriods
	ec.BufferingMaxInterval = cfg.BufferingMaxInterval
	ec.ReadyMaxInterval = cfg.ReadyMaxInterval
	ec.ReleaseTimeout = cfg.ReleaseTimeout
	ec.ForegroundTimeout = cfg.ForegroundTimeout
	ec.DynamicScheduling = cfg.DynamicScheduling
	ec.Prewarming = cfg.Prewarming
	ec.Preload = preloadConfig(cfg)
	return ec
}

func preloadConfig(cfg config.Config) engine.PreloadConfiguration {
	if cfg.Preload.TargetPreloadDuration <= 0 {
		return engine.PreloadConfiguration{TargetPreloadDurationUs: media.TimeUnset}
	}
	return engine.PreloadConfiguration{TargetPreloadDurationUs: cfg.Preload.TargetPreloadDuration.Microseconds()}
}

// loadPlaylists decodes each HLS media playlist into a simulated source.
// The window uid is the file name without extension.
func loadPlaylists(paths []string) ([]*sim.Source, error) {
	sources := make([]*sim.Source, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("open playlist: %w", err)
		}
		uid := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		tl, err := timeline.DecodeMediaPlaylist(f, uid)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		sources = append(sources, sim.NewSource(tl, sim.PeriodConfig{}))
	}
	return sources, nil
}

// newSession builds the engine. With realtime false it runs on a fake
// clock that play advances in steps.
func newSession(cfg config.Config, sources []*sim.Source, realtime bool) (*session, error) {
	s := &session{sources: sources, log: xplaylog.WithComponent("session")}

	types := []media.TrackType{media.TrackTypeAudio, media.TrackTypeVideo, media.TrackTypeText}
	deps := engine.Deps{
		Renderers: lo.Map(sim.NewRenderers(types...), func(r *sim.Renderer, _ int) renderer.Renderer { return r }),
	}
	if cfg.Prewarming {
		deps.Secondaries = lo.Map(types, func(t media.TrackType, _ int) renderer.Renderer {
			if t != media.TrackTypeVideo {
				return nil
			}
			return sim.NewRenderer(string(t)+"-secondary", t)
		})
	}

	lc, err := loadcontrol.NewDefault(cfg.LoadControl)
	if err != nil {
		return nil, fmt.Errorf("load control: %w", err)
	}
	deps.LoadControl = lc

	if !realtime {
		s.fake = clock.NewFake(time.Now())
		deps.Clock = s.fake
	}

	eng, err := engine.New(engineConfig(cfg), deps)
	if err != nil {
		return nil, err
	}
	s.eng = eng
	return s, nil
}

// start hands the sources to the engine and begins playback.
func (s *session) start(repeat timeline.RepeatMode) {
	s.eng.SetMediaSources(lo.Map(s.sources, func(src *sim.Source, _ int) source.Source { return src }), 0, media.TimeUnset, nil)
	if repeat != "" {
		s.eng.SetRepeatMode(repeat)
	}
	s.eng.Prepare()
	s.eng.SetPlayWhenReady(true, engine.SuppressionNone)
}

// play starts playback and blocks until it ends, fails, ctx is done or
// maxMediaTime of clock time has passed. It returns the last snapshot.
func (s *session) play(ctx context.Context, step, maxMediaTime time.Duration) (engine.Snapshot, error) {
	s.start("")
	if s.fake != nil {
		return s.stepFake(ctx, step, maxMediaTime)
	}
	return s.pollReal(ctx, step, maxMediaTime)
}

func (s *session) stepFake(ctx context.Context, step, maxMediaTime time.Duration) (engine.Snapshot, error) {
	var elapsed time.Duration
	for {
		if err := ctx.Err(); err != nil {
			return s.eng.Snapshot(), err
		}
		if !s.eng.Sync(syncTimeout) {
			if err := ctx.Err(); err != nil {
				return s.eng.Snapshot(), err
			}
			return s.eng.Snapshot(), fmt.Errorf("engine did not settle within %s", syncTimeout)
		}
		snap := s.eng.Snapshot()
		if done, err := finished(snap); done {
			return snap, err
		}
		if maxMediaTime > 0 && elapsed >= maxMediaTime {
			s.log.Info().Dur("elapsed", elapsed).Msg("stopping after maximum media time")
			return snap, nil
		}
		s.fake.Advance(step)
		elapsed += step
	}
}

func (s *session) pollReal(ctx context.Context, interval, maxMediaTime time.Duration) (engine.Snapshot, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var deadline <-chan time.Time
	if maxMediaTime > 0 {
		t := time.NewTimer(maxMediaTime)
		defer t.Stop()
		deadline = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return s.eng.Snapshot(), ctx.Err()
		case <-deadline:
			return s.eng.Snapshot(), nil
		case <-ticker.C:
			snap := s.eng.Snapshot()
			if done, err := finished(snap); done {
				return snap, err
			}
		}
	}
}

func finished(snap engine.Snapshot) (bool, error) {
	switch {
	case snap.Error != nil:
		return true, fmt.Errorf("%w: %w", errPlaybackFailed, snap.Error)
	case snap.State == engine.StateEnded:
		return true, nil
	default:
		return false, nil
	}
}

// logUpdates logs every update until the channel closes.
func (s *session) logUpdates(updates <-chan engine.Update) {
	for u := range updates {
		ev := s.log.Debug()
		if u.PositionDiscontinuity {
			ev = s.log.Info().Str("discontinuity", string(u.DiscontinuityReason))
		}
		ev.Str(xplaylog.FieldNewState, string(u.Snapshot.State)).
			Int64(xplaylog.FieldPositionUs, u.Snapshot.PositionUs).
			Int64(xplaylog.FieldBufferedUs, u.Snapshot.BufferedPositionUs).
			Int("acks", u.OperationAcks).
			Msg("playback update")
	}
}

// writeSnapshot atomically writes snap as indented JSON.
func writeSnapshot(path string, snap engine.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	pendingFile, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() { _ = pendingFile.Cleanup() }()

	if _, err := pendingFile.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace snapshot file: %w", err)
	}
	return nil
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/xplay/internal/config"
	xplaylog "github.com/ManuGH/xplay/internal/log"
	"github.com/ManuGH/xplay/internal/playback/engine"
	"github.com/ManuGH/xplay/internal/playback/timeline"
	"github.com/ManuGH/xplay/internal/telemetry"
)

// runOptions configure one playback session.
type runOptions struct {
	step         time.Duration
	maxMediaTime time.Duration
	realtime     bool
	dumpPath     string
	listenAddr   string
	watch        bool
}

func newRunCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <playlist.m3u8>...",
		Short: "Play HLS media playlists to the end",
		Long: `Run plays the given HLS media playlists back to back on simulated
renderers. By default the engine runs on a simulated clock that advances in
fixed steps, so a session finishes as fast as the engine can process it.
With --realtime the wall clock drives playback.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := runOptions{
				step:         lo.Must(cmd.Flags().GetDuration("step")),
				maxMediaTime: lo.Must(cmd.Flags().GetDuration("max-media-time")),
				realtime:     lo.Must(cmd.Flags().GetBool("realtime")),
				dumpPath:     lo.Must(cmd.Flags().GetString("dump")),
				listenAddr:   lo.Must(cmd.Flags().GetString("listen")),
				watch:        lo.Must(cmd.Flags().GetBool("watch")),
			}
			if opts.step <= 0 {
				return fmt.Errorf("--step must be positive, got %s", opts.step)
			}
			return runSession(cmd.Context(), g, opts, args, false)
		},
	}
	cmd.Flags().Duration("step", 10*time.Millisecond, "simulated clock step (poll interval with --realtime)")
	cmd.Flags().Duration("max-media-time", 10*time.Minute, "stop after this much clock time, 0 for no limit")
	cmd.Flags().Bool("realtime", false, "drive playback from the wall clock")
	cmd.Flags().String("dump", "", "write the final snapshot as JSON to this file")
	cmd.Flags().String("listen", "", "serve /snapshot, /metrics, /healthz and /readyz on this address")
	cmd.Flags().Bool("watch", false, "reload the config file on change")
	return cmd
}

// runSession wires config, telemetry, the engine and the optional HTTP
// surface into one errgroup. With loop set playback repeats until ctx is
// done; otherwise it returns once playback ends.
func runSession(ctx context.Context, g *globalOptions, opts runOptions, paths []string, loop bool) error {
	logger := xplaylog.WithComponent("playctl")
	cfg := g.cfg

	sources, err := loadPlaylists(paths)
	if err != nil {
		return err
	}

	tp, err := telemetry.NewProvider(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	s, err := newSession(cfg, sources, opts.realtime)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	logger.Info().
		Int("playlists", len(sources)).
		Bool("realtime", opts.realtime).
		Bool("prewarming", cfg.Prewarming).
		Msg("starting playback session")

	holder := config.NewHolder(cfg, g.loader)
	reloads := make(chan config.Config, 1)
	holder.RegisterListener(reloads)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, egCtx := errgroup.WithContext(runCtx)

	updates := s.eng.Updates()
	eg.Go(func() error { return s.eng.Run(egCtx) })
	eg.Go(func() error {
		s.logUpdates(updates)
		return nil
	})
	if opts.listenAddr != "" {
		eg.Go(func() error { return serveHTTP(egCtx, opts.listenAddr, newRouter(s.eng, g.configPath, snapshotRequestLimit)) })
	}
	if opts.watch {
		eg.Go(func() error { return holder.Watch(egCtx) })
		eg.Go(func() error {
			applyReloads(egCtx, s.eng, reloads)
			return nil
		})
	}

	var (
		final   engine.Snapshot
		playErr error
	)
	eg.Go(func() error {
		defer cancel()
		if loop {
			s.start(timeline.RepeatAll)
			<-egCtx.Done()
			final = s.eng.Snapshot()
			return nil
		}
		final, playErr = s.play(egCtx, opts.step, opts.maxMediaTime)
		return nil
	})

	if err := eg.Wait(); err != nil {
		return err
	}

	if opts.dumpPath != "" {
		if err := writeSnapshot(opts.dumpPath, final); err != nil {
			return err
		}
		logger.Info().Str(xplaylog.FieldPath, opts.dumpPath).Msg("wrote final snapshot")
	}

	switch {
	case playErr == nil:
		logger.Info().
			Str(xplaylog.FieldNewState, string(final.State)).
			Int64(xplaylog.FieldPositionUs, final.PositionUs).
			Msg("playback session finished")
		return nil
	case errors.Is(playErr, context.Canceled) && ctx.Err() != nil:
		logger.Info().Msg("playback interrupted")
		return nil
	default:
		logger.Error().Err(playErr).Msg("playback session failed")
		return playErr
	}
}

// applyReloads forwards the settings a running engine accepts.
func applyReloads(ctx context.Context, eng *engine.Engine, reloads <-chan config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg := <-reloads:
			eng.SetStuckBufferingTimeout(cfg.StuckBufferingTimeout)
			eng.SetPreloadConfiguration(preloadConfig(cfg))
		}
	}
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/xplay/internal/config"
	"github.com/ManuGH/xplay/internal/playback/engine"
	"github.com/ManuGH/xplay/internal/playback/media"
	"github.com/ManuGH/xplay/internal/playback/timeline"
)

// writePlaylist writes an HLS media playlist of n two second segments.
func writePlaylist(t *testing.T, dir, name string, n int, endList bool) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:2\n#EXT-X-MEDIA-SEQUENCE:0\n")
	for i := range n {
		fmt.Fprintf(&b, "#EXTINF:2.000,\nseg%d.ts\n", i)
	}
	if endList {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

func testOptions(cfg config.Config) *globalOptions {
	return &globalOptions{cfg: cfg, loader: config.NewLoader("")}
}

func TestLoadPlaylists(t *testing.T) {
	dir := t.TempDir()
	path := writePlaylist(t, dir, "intro.m3u8", 3, true)

	sources, err := loadPlaylists([]string{path})
	require.NoError(t, err)
	require.Len(t, sources, 1)

	tl := sources[0].Timeline()
	require.Equal(t, 1, tl.WindowCount())
	w := tl.Window(0)
	assert.Equal(t, "intro", w.UID)
	assert.Equal(t, int64(6_000_000), w.DurationUs)
}

func TestLoadPlaylists_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := loadPlaylists([]string{filepath.Join(dir, "missing.m3u8")})
	require.ErrorIs(t, err, os.ErrNotExist)

	master := filepath.Join(dir, "master.m3u8")
	require.NoError(t, os.WriteFile(master, []byte("#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1280000\nlow.m3u8\n"), 0o600))
	_, err = loadPlaylists([]string{master})
	require.Error(t, err)
}

func TestEngineConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.StuckBufferingTimeout = 9 * time.Second
	cfg.Prewarming = false

	ec := engineConfig(cfg)
	assert.Equal(t, 9*time.Second, ec.StuckBufferingTimeout)
	assert.False(t, ec.Prewarming)
	assert.Equal(t, media.TimeUnset, ec.Preload.TargetPreloadDurationUs)

	cfg.Preload.TargetPreloadDuration = 1500 * time.Millisecond
	assert.Equal(t, int64(1_500_000), engineConfig(cfg).Preload.TargetPreloadDurationUs)
}

func TestRunSession_PlaysToEndAndDumps(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	path := writePlaylist(t, dir, "vod.m3u8", 2, true)
	dump := filepath.Join(dir, "final.json")

	err := runSession(context.Background(), testOptions(config.Defaults()), runOptions{
		step:         10 * time.Millisecond,
		maxMediaTime: time.Minute,
		dumpPath:     dump,
	}, []string{path}, false)
	require.NoError(t, err)

	data, err := os.ReadFile(dump)
	require.NoError(t, err)
	var got struct {
		State      engine.State `json:"state"`
		PositionUs int64        `json:"positionUs"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, engine.StateEnded, got.State)
	assert.GreaterOrEqual(t, got.PositionUs, int64(4_000_000))
}

func TestRunSession_PlaysPlaylistsBackToBack(t *testing.T) {
	dir := t.TempDir()
	first := writePlaylist(t, dir, "a.m3u8", 1, true)
	second := writePlaylist(t, dir, "b.m3u8", 1, true)

	cfg := config.Defaults()
	cfg.Prewarming = false
	sources, err := loadPlaylists([]string{first, second})
	require.NoError(t, err)
	s, err := newSession(cfg, sources, false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.eng.Run(ctx) }()

	final, err := s.play(ctx, 10*time.Millisecond, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, engine.StateEnded, final.State)
	_, inner, ok := timeline.SplitUID(final.PeriodID.PeriodUID)
	require.True(t, ok)
	assert.Equal(t, "b", inner)

	cancel()
	<-s.eng.Done()
	for _, src := range sources {
		assert.True(t, src.Released())
	}
}

func TestRunSession_MaxMediaTimeStopsLivePlayback(t *testing.T) {
	dir := t.TempDir()
	live := writePlaylist(t, dir, "live.m3u8", 5, false)

	sources, err := loadPlaylists([]string{live})
	require.NoError(t, err)
	s, err := newSession(config.Defaults(), sources, false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		<-s.eng.Done()
	}()
	go func() { _ = s.eng.Run(ctx) }()

	final, err := s.play(ctx, 50*time.Millisecond, 3*time.Second)
	require.NoError(t, err)
	assert.NotEqual(t, engine.StateEnded, final.State)
	assert.Nil(t, final.Error)
}

func TestWriteSnapshot_ReplacesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.json")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o600))

	require.NoError(t, writeSnapshot(path, engine.Snapshot{State: engine.StateReady, PositionUs: 42}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state": "ready"`)
	assert.Contains(t, string(data), `"positionUs": 42`)
}

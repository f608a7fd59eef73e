// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestHolder_ReloadKeepsOldConfigOnError(t *testing.T) {
	path := writeConfig(t, "xplay.yaml", "stuckBufferingTimeout: 6s\n")
	l := NewLoader(path)
	initial, err := l.Load()
	require.NoError(t, err)
	h := NewHolder(initial, l)

	require.NoError(t, os.WriteFile(path, []byte("stuckBufferingTimeout: 0s\n"), 0o600))
	err = h.Reload(context.Background())
	require.ErrorIs(t, err, ErrInvalid)
	assert.Equal(t, 6*time.Second, h.Get().StuckBufferingTimeout)
}

func TestHolder_ReloadNotifiesListeners(t *testing.T) {
	path := writeConfig(t, "xplay.yaml", "stuckBufferingTimeout: 6s\n")
	l := NewLoader(path)
	initial, err := l.Load()
	require.NoError(t, err)
	h := NewHolder(initial, l)

	ch := make(chan Config, 1)
	h.RegisterListener(ch)
	full := make(chan Config)
	h.RegisterListener(full)

	require.NoError(t, os.WriteFile(path, []byte("stuckBufferingTimeout: 7s\n"), 0o600))
	require.NoError(t, h.Reload(context.Background()))

	got := <-ch
	assert.Equal(t, 7*time.Second, got.StuckBufferingTimeout)
	assert.Equal(t, 7*time.Second, h.Get().StuckBufferingTimeout)
}

func TestHolder_WatchWithoutFile(t *testing.T) {
	h := NewHolder(Defaults(), NewLoader(""))
	require.NoError(t, h.Watch(context.Background()))
}

func TestHolder_WatchReloadsOnWrite(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	path := writeConfig(t, "xplay.yaml", "preload:\n  targetPreloadDuration: 1s\n")
	l := NewLoader(path)
	initial, err := l.Load()
	require.NoError(t, err)
	h := NewHolder(initial, l)
	h.SetDebounce(20 * time.Millisecond)

	ch := make(chan Config, 4)
	h.RegisterListener(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Watch(ctx) }()

	// The watcher registers asynchronously; keep rewriting until it fires.
	var got Config
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("preload:\n  targetPreloadDuration: 3s\n"), 0o600)
		select {
		case got = <-ch:
			return true
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3*time.Second, got.Preload.TargetPreloadDuration)

	cancel()
	require.NoError(t, <-done)
}

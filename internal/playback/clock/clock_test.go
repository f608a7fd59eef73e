// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/xplay/internal/playback/media"
)

func TestFake_FiresInDeadlineOrder(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	var got []int
	c.AfterFunc(30*time.Millisecond, func() { got = append(got, 3) })
	c.AfterFunc(10*time.Millisecond, func() { got = append(got, 1) })
	stopped := c.AfterFunc(20*time.Millisecond, func() { got = append(got, 2) })
	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())

	c.Advance(25 * time.Millisecond)
	assert.Equal(t, []int{1}, got)
	c.Advance(5 * time.Millisecond)
	assert.Equal(t, []int{1, 3}, got)
	assert.Equal(t, 0, c.Pending())
}

func TestFake_TimerScheduledFromCallbackFiresInSameAdvance(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	n := 0
	var tick func()
	tick = func() {
		n++
		c.AfterFunc(10*time.Millisecond, tick)
	}
	c.AfterFunc(10*time.Millisecond, tick)
	c.Advance(100 * time.Millisecond)
	assert.Equal(t, 10, n)
}

func TestStandalone_AdvancesOnlyWhileStarted(t *testing.T) {
	c := NewFake(time.Unix(100, 0))
	s := NewStandalone(c)
	s.ResetPosition(1_000)
	c.Advance(time.Second)
	assert.Equal(t, int64(1_000), s.PositionUs())

	s.Start()
	c.Advance(500 * time.Millisecond)
	assert.Equal(t, int64(501_000), s.PositionUs())

	s.SetPlaybackParameters(media.PlaybackParameters{Speed: 2, Pitch: 1})
	c.Advance(500 * time.Millisecond)
	assert.Equal(t, int64(1_501_000), s.PositionUs())

	s.Stop()
	c.Advance(time.Second)
	assert.Equal(t, int64(1_501_000), s.PositionUs())
}

type fakeRendererClock struct {
	pos    int64
	params media.PlaybackParameters
}

func (f *fakeRendererClock) PositionUs() int64                              { return f.pos }
func (f *fakeRendererClock) SetPlaybackParameters(p media.PlaybackParameters) { f.params = p }
func (f *fakeRendererClock) PlaybackParameters() media.PlaybackParameters     { return f.params }

type fakeSource struct {
	clock *fakeRendererClock
	ready bool
	ended bool
}

func (s *fakeSource) MediaClock() MediaClock {
	if s.clock == nil {
		return nil
	}
	return s.clock
}
func (s *fakeSource) IsEnded() bool            { return s.ended }
func (s *fakeSource) IsReady() bool            { return s.ready }
func (s *fakeSource) HasReadStreamToEnd() bool { return false }

func TestMedia_FollowsReadyRendererClock(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	m := NewMedia(c, nil)
	src := &fakeSource{clock: &fakeRendererClock{pos: 5_000, params: media.DefaultPlaybackParameters}, ready: true}
	require.NoError(t, m.OnRendererEnabled(src))
	assert.Equal(t, int64(5_000), m.SyncAndGetPositionUs(false))

	src.ready = false
	src.ended = true
	m.Start()
	c.Advance(time.Millisecond)
	assert.Equal(t, int64(6_000), m.SyncAndGetPositionUs(false))

	m.OnRendererDisabled(src)
	require.NoError(t, m.OnRendererEnabled(&fakeSource{clock: &fakeRendererClock{}}))
	err := m.OnRendererEnabled(&fakeSource{clock: &fakeRendererClock{}})
	assert.ErrorIs(t, err, ErrMultipleRendererClocks)
}

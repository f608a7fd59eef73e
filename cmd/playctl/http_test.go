// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/xplay/internal/playback/engine"
	"github.com/ManuGH/xplay/internal/playback/fault"
)

type staticSnapshot engine.Snapshot

func (s staticSnapshot) Snapshot() engine.Snapshot { return engine.Snapshot(s) }

func TestRouter_Snapshot(t *testing.T) {
	h := newRouter(staticSnapshot{State: engine.StateReady, PlayWhenReady: true, Suppression: engine.SuppressionNone, PositionUs: 1_500_000}, "", 10)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/snapshot", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["state"])
	assert.Equal(t, true, body["isPlaying"])
	assert.EqualValues(t, 1_500_000, body["positionUs"])
	assert.NotContains(t, body, "Timeline")
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	h := newRouter(staticSnapshot{State: engine.StateReady}, "", 10)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "xplay_")
}

func TestRouter_ReadyzFailsOnPlaybackError(t *testing.T) {
	h := newRouter(staticSnapshot{State: engine.StateIdle, Error: fault.NewStuck()}, "", 10)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "stuck_buffering")
}

func TestRouter_SnapshotRateLimited(t *testing.T) {
	h := newRouter(staticSnapshot{}, "", 2)

	codes := make([]int, 0, 3)
	for range 3 {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/snapshot", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			assert.Equal(t, "60", rec.Header().Get("Retry-After"))
			assert.Contains(t, rec.Body.String(), "rate_limit_exceeded")
		}
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestServeHTTP_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveHTTP(ctx, "127.0.0.1:0", newRouter(staticSnapshot{}, "", 10)) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

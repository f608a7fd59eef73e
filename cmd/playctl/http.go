// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/xplay/internal/health"
	xplaylog "github.com/ManuGH/xplay/internal/log"
	"github.com/ManuGH/xplay/internal/playback/engine"
	"github.com/ManuGH/xplay/internal/version"
)

// snapshotRequestLimit caps /snapshot polling per client IP and minute.
const snapshotRequestLimit = 600

// rateLimit limits requests per IP and answers 429 with a JSON body.
func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded","detail":"Too many requests. Please try again later."}`))
		}),
	)
}

// newRouter serves the engine snapshot, Prometheus metrics and the
// liveness and readiness checks.
func newRouter(src health.Snapshotter, configPath string, limit int) http.Handler {
	hm := health.NewManager(version.Version)
	hm.RegisterChecker(health.NewPlaybackChecker(src))
	hm.RegisterChecker(health.NewFileChecker("config", configPath))

	r := chi.NewRouter()
	r.Get("/healthz", hm.ServeHealth)
	r.Get("/readyz", hm.ServeReady)
	r.Handle("/metrics", promhttp.Handler())
	r.With(rateLimit(limit, time.Minute)).Get("/snapshot", func(w http.ResponseWriter, _ *http.Request) {
		snap := src.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(struct {
			engine.Snapshot
			IsPlaying bool `json:"isPlaying"`
		}{snap, snap.IsPlaying()}); err != nil {
			logger := xplaylog.WithComponent("http")
			logger.Warn().Err(err).Msg("failed to encode snapshot")
		}
	})
	return r
}

// serveHTTP serves h on addr until ctx is done.
func serveHTTP(ctx context.Context, addr string, h http.Handler) error {
	logger := xplaylog.WithComponent("http")
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-errCh
}

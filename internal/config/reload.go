// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	xplaylog "github.com/ManuGH/xplay/internal/log"
)

// DefaultDebounce is how long the watcher waits after the last file event
// before reloading.
const DefaultDebounce = 500 * time.Millisecond

// Holder holds configuration with atomic reloading capability.
// It provides thread-safe access to configuration and supports hot reloading
// from file or manual trigger.
type Holder struct {
	mu       sync.RWMutex
	current  Config
	loader   *Loader
	logger   zerolog.Logger
	debounce time.Duration

	// Reload notifications
	reloadMu        sync.RWMutex
	reloadListeners []chan<- Config
}

// NewHolder creates a new configuration holder with initial config.
func NewHolder(initial Config, loader *Loader) *Holder {
	return &Holder{
		current:  initial,
		loader:   loader,
		logger:   xplaylog.WithComponent("config"),
		debounce: DefaultDebounce,
	}
}

// SetDebounce overrides DefaultDebounce. It must be called before Watch.
func (h *Holder) SetDebounce(d time.Duration) { h.debounce = d }

// Get returns the current configuration (thread-safe read).
func (h *Holder) Get() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload reloads configuration from file and validates it.
// If loading or validation fails, the old configuration is kept and an error is returned.
func (h *Holder) Reload(_ context.Context) error {
	h.logger.Info().Str("event", "config.reload_start").Msg("reloading configuration")

	newCfg, err := h.loader.Load()
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("event", "config.reload_failed").
			Msg("failed to load new configuration")
		return fmt.Errorf("load config: %w", err)
	}

	h.mu.Lock()
	oldCfg := h.current
	h.current = newCfg
	h.mu.Unlock()

	h.notifyListeners(newCfg)
	h.logChanges(oldCfg, newCfg)

	h.logger.Info().
		Str("event", "config.reload_success").
		Msg("configuration reloaded successfully")
	return nil
}

// Watch watches the config file until ctx is done, reloading after writes.
// The directory is watched rather than the file so that editors replacing
// the file by rename are picked up. With no config file Watch returns nil
// immediately.
func (h *Holder) Watch(ctx context.Context) error {
	path := h.loader.Path()
	if path == "" {
		h.logger.Info().
			Str("event", "config.watcher_disabled").
			Msg("config file watcher disabled (using ENV-only configuration)")
		return nil
	}
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}

	h.logger.Info().
		Str("event", "config.watcher_started").
		Str("path", path).
		Msg("watching config file for changes")

	// Debounce timer to avoid multiple reloads for rapid file changes
	debounce := time.NewTimer(h.debounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str("event", "config.watcher_stopped").Msg("config watcher stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				h.logger.Debug().
					Str("event", "config.file_changed").
					Str("op", event.Op.String()).
					Msg("config file changed")
				debounce.Reset(h.debounce)
			}

		case <-debounce.C:
			if err := h.Reload(ctx); err != nil {
				h.logger.Error().
					Err(err).
					Str("event", "config.auto_reload_failed").
					Msg("automatic config reload failed")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			h.logger.Error().
				Err(err).
				Str("event", "config.watcher_error").
				Msg("config watcher error")
		}
	}
}

// RegisterListener registers a channel to receive config reload notifications.
// The channel will receive the new config whenever a reload succeeds.
// The caller is responsible for closing the channel.
func (h *Holder) RegisterListener(ch chan<- Config) {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()
	h.reloadListeners = append(h.reloadListeners, ch)
}

// notifyListeners sends the new config to all registered listeners (non-blocking).
func (h *Holder) notifyListeners(newCfg Config) {
	h.reloadMu.RLock()
	defer h.reloadMu.RUnlock()

	for _, ch := range h.reloadListeners {
		select {
		case ch <- newCfg:
		default:
			h.logger.Warn().
				Str("event", "config.listener_skip").
				Msg("skipped notifying listener (channel full)")
		}
	}
}

// logChanges logs the settings a running engine picks up on reload.
func (h *Holder) logChanges(old, newCfg Config) {
	if old.StuckBufferingTimeout != newCfg.StuckBufferingTimeout {
		h.logger.Info().
			Dur("old", old.StuckBufferingTimeout).
			Dur("new", newCfg.StuckBufferingTimeout).
			Msg("config changed: stuckBufferingTimeout")
	}
	if old.Preload != newCfg.Preload {
		h.logger.Info().
			Dur("old", old.Preload.TargetPreloadDuration).
			Dur("new", newCfg.Preload.TargetPreloadDuration).
			Msg("config changed: preload.targetPreloadDuration")
	}
	if old.Log.Level != newCfg.Log.Level {
		h.logger.Info().
			Str("old", old.Log.Level).
			Str("new", newCfg.Log.Level).
			Msg("config changed: log.level")
	}
}

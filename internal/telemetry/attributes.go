// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the engine.
const (
	// Engine attributes
	EngineCommandKey = "engine.command"
	EngineStateKey   = "engine.state"
	EngineSessionKey = "engine.session_id"

	// Playback attributes
	PlaybackPeriodKey     = "playback.period_id"
	PlaybackPositionKey   = "playback.position_us"
	PlaybackBufferedKey   = "playback.buffered_us"
	PlaybackQueueKey      = "playback.queue_length"
	PlaybackSpeedKey      = "playback.speed"
	PlaybackWindowKey     = "playback.window_index"
	PlaybackPlayIntentKey = "playback.play_when_ready"

	// Renderer attributes
	RendererIndexKey = "renderer.index"
	RendererNameKey  = "renderer.name"
	RendererTypeKey  = "renderer.track_type"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
	ErrorCodeKey = "error.code"
)

// CommandAttributes creates the attributes every engine command span carries.
func CommandAttributes(command, sessionID, state string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	attrs = append(attrs, attribute.String(EngineCommandKey, command))
	if sessionID != "" {
		attrs = append(attrs, attribute.String(EngineSessionKey, sessionID))
	}
	if state != "" {
		attrs = append(attrs, attribute.String(EngineStateKey, state))
	}
	return attrs
}

// PlaybackAttributes describes the playback position after a command.
func PlaybackAttributes(periodID string, positionUs, bufferedUs int64, queueLength int, speed float32, playWhenReady bool) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int64(PlaybackPositionKey, positionUs),
		attribute.Int64(PlaybackBufferedKey, bufferedUs),
		attribute.Int(PlaybackQueueKey, queueLength),
		attribute.Float64(PlaybackSpeedKey, float64(speed)),
		attribute.Bool(PlaybackPlayIntentKey, playWhenReady),
	}
	if periodID != "" {
		attrs = append(attrs, attribute.String(PlaybackPeriodKey, periodID))
	}
	return attrs
}

// RendererAttributes identifies a renderer slot.
func RendererAttributes(index int, name, trackType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(RendererIndexKey, index),
		attribute.String(RendererNameKey, name),
		attribute.String(RendererTypeKey, trackType),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(errorType string, code int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
		attribute.Int(ErrorCodeKey, code),
	}
}

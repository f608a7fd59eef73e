// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestCommandAttributes(t *testing.T) {
	tests := []struct {
		name      string
		command   string
		sessionID string
		state     string
		wantLen   int
	}{
		{name: "all fields", command: "seek_to", sessionID: "s-1", state: "ready", wantLen: 3},
		{name: "only command", command: "tick", wantLen: 1},
		{name: "no session", command: "prepare", state: "idle", wantLen: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs := CommandAttributes(tt.command, tt.sessionID, tt.state)

			if len(attrs) != tt.wantLen {
				t.Errorf("Expected %d attributes, got %d", tt.wantLen, len(attrs))
			}
			verifyAttribute(t, attrs, EngineCommandKey, tt.command)
			if tt.sessionID != "" {
				verifyAttribute(t, attrs, EngineSessionKey, tt.sessionID)
			}
			if tt.state != "" {
				verifyAttribute(t, attrs, EngineStateKey, tt.state)
			}
		})
	}
}

func TestPlaybackAttributes(t *testing.T) {
	attrs := PlaybackAttributes("w0:0/0", 1_500_000, 2_000_000, 3, 1.5, true)

	if len(attrs) != 6 {
		t.Fatalf("Expected 6 attributes, got %d", len(attrs))
	}

	verifyAttribute(t, attrs, PlaybackPeriodKey, "w0:0/0")
	verifyInt64Attribute(t, attrs, PlaybackPositionKey, 1_500_000)
	verifyInt64Attribute(t, attrs, PlaybackBufferedKey, 2_000_000)
	verifyIntAttribute(t, attrs, PlaybackQueueKey, 3)
	verifyBoolAttribute(t, attrs, PlaybackPlayIntentKey, true)

	if got := PlaybackAttributes("", 0, 0, 0, 1, false); len(got) != 5 {
		t.Errorf("Expected period id to be omitted, got %d attributes", len(got))
	}
}

func TestRendererAttributes(t *testing.T) {
	attrs := RendererAttributes(1, "video-0", "video")

	if len(attrs) != 3 {
		t.Fatalf("Expected 3 attributes, got %d", len(attrs))
	}
	verifyIntAttribute(t, attrs, RendererIndexKey, 1)
	verifyAttribute(t, attrs, RendererNameKey, "video-0")
	verifyAttribute(t, attrs, RendererTypeKey, "video")
}

func TestErrorAttributes(t *testing.T) {
	attrs := ErrorAttributes("renderer", 4003)

	if len(attrs) != 3 {
		t.Fatalf("Expected 3 attributes, got %d", len(attrs))
	}

	verifyBoolAttribute(t, attrs, ErrorKey, true)
	verifyAttribute(t, attrs, ErrorTypeKey, "renderer")
	verifyIntAttribute(t, attrs, ErrorCodeKey, 4003)
}

// Helper functions for attribute verification

func verifyAttribute(t *testing.T, attrs []attribute.KeyValue, key, expectedValue string) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsString() != expectedValue {
				t.Errorf("Expected %s=%s, got %s", key, expectedValue, attr.Value.AsString())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}

func verifyIntAttribute(t *testing.T, attrs []attribute.KeyValue, key string, expectedValue int) {
	t.Helper()
	verifyInt64Attribute(t, attrs, key, int64(expectedValue))
}

func verifyInt64Attribute(t *testing.T, attrs []attribute.KeyValue, key string, expectedValue int64) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsInt64() != expectedValue {
				t.Errorf("Expected %s=%d, got %d", key, expectedValue, attr.Value.AsInt64())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}

func verifyBoolAttribute(t *testing.T, attrs []attribute.KeyValue, key string, expectedValue bool) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsBool() != expectedValue {
				t.Errorf("Expected %s=%t, got %t", key, expectedValue, attr.Value.AsBool())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}

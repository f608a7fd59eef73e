// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldTraceID   = "trace_id"
	FieldSpanID    = "span_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldCommand   = "command"
	FieldHandle    = "handle"

	// Playback fields
	FieldPeriodID     = "period_id"
	FieldPositionUs   = "position_us"
	FieldBufferedUs   = "buffered_us"
	FieldRenderer     = "renderer"
	FieldRendererIdx  = "renderer_index"
	FieldTrackType    = "track_type"
	FieldWindowIndex  = "window_index"
	FieldErrorCode    = "error_code"
	FieldRecoverable  = "recoverable"
	FieldQueueLength  = "queue_length"
	FieldPlaybackRate = "speed"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path / URL fields
	FieldPath = "path"
)

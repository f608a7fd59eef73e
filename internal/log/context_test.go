// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestContextWithSessionID(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		id   string
		want string
	}{
		{name: "nil context", ctx: nil, id: "sess-1", want: "sess-1"},
		{name: "background context", ctx: context.Background(), id: "sess-2", want: "sess-2"},
		{name: "empty id", ctx: context.Background(), id: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithSessionID(tt.ctx, tt.id)
			assert.Equal(t, tt.want, SessionIDFromContext(ctx))
		})
	}
	assert.Empty(t, SessionIDFromContext(nil))
}

func TestWithContext_AddsSessionAndTrace(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(ContextWithSessionID(context.Background(), "sess-9"), sc)

	var buf bytes.Buffer
	l := WithContext(ctx, zerolog.New(&buf))
	l.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "sess-9", entry[FieldSessionID])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry[FieldTraceID])
	assert.Equal(t, "00f067aa0ba902b7", entry[FieldSpanID])
}

func TestWithContext_NoFieldsKeepsLogger(t *testing.T) {
	var buf bytes.Buffer
	l := WithContext(context.Background(), zerolog.New(&buf))
	l.Info().Msg("plain")
	assert.NotContains(t, buf.String(), FieldSessionID)
}

func TestDerive(t *testing.T) {
	Replace(Config{Level: "debug", Output: &bytes.Buffer{}})
	l := Derive(func(ctx *zerolog.Context) {
		ctx.Str("custom_field", "test_value")
	})
	assert.LessOrEqual(t, l.GetLevel(), zerolog.PanicLevel)
	assert.LessOrEqual(t, Derive(nil).GetLevel(), zerolog.PanicLevel)
}

func TestSometimes_DropsBurst(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf)
	s := NewSometimes(time.Hour)
	for i := 0; i < 5; i++ {
		s.Event(l.Warn()).Int("i", i).Msg("tick")
	}
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("\n")))
}

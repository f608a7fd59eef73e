// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	engineCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xplay_engine_commands_total",
		Help: "Engine commands processed by command name",
	}, []string{"command"})

	engineCommandSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xplay_engine_command_duration_seconds",
		Help:    "Time spent handling one engine command",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5},
	}, []string{"command"})

	engineTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xplay_engine_ticks_total",
		Help: "Work ticks executed by the playback engine",
	})

	engineStateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xplay_engine_state_transitions_total",
		Help: "Playback state transitions by from/to state",
	}, []string{"from", "to"})

	engineQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xplay_engine_queue_length",
		Help: "Number of segment holders currently queued",
	})

	engineErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xplay_engine_errors_total",
		Help: "Playback errors by kind and recoverability",
	}, []string{"kind", "recoverable"})

	engineStuckBufferingTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xplay_engine_stuck_buffering_total",
		Help: "Times the stuck-buffering watchdog escalated to a fatal error",
	})

	enginePrewarmTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xplay_engine_prewarm_transitions_total",
		Help: "Completed renderer pre-warm transitions by track type",
	}, []string{"track_type"})

	engineRebufferTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xplay_engine_rebuffer_total",
		Help: "Transitions from ready back to buffering while playing",
	})

	engineUpdateDeliveryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xplay_engine_update_delivery_total",
		Help: "Snapshot updates handed to subscribers by outcome",
	}, []string{"outcome"})
)

// Update delivery outcomes. A coalesced update is merged into the next one a
// slow subscriber receives; the dropped outcomes lose it.
const (
	UpdateDelivered       = "delivered"
	UpdateCoalesced       = "coalesced"
	UpdateDroppedFull     = "dropped_full"
	UpdateDroppedTimeout  = "dropped_timeout"
	UpdateDroppedCanceled = "dropped_canceled"
)

var knownStates = map[string]struct{}{
	"idle": {}, "buffering": {}, "ready": {}, "ended": {},
}

var knownKinds = map[string]struct{}{
	"renderer": {}, "source": {}, "runtime": {}, "stuck_buffering": {},
}

var knownOutcomes = map[string]struct{}{
	UpdateDelivered: {}, UpdateCoalesced: {}, UpdateDroppedFull: {}, UpdateDroppedTimeout: {}, UpdateDroppedCanceled: {},
}

var knownTrackTypes = map[string]struct{}{
	"audio": {}, "video": {}, "text": {}, "metadata": {}, "image": {}, "camera_motion": {}, "none": {},
}

// IncCommand counts one processed command and records its duration.
func IncCommand(command string, seconds float64) {
	command = normalizeCommandLabel(command)
	engineCommandsTotal.WithLabelValues(command).Inc()
	engineCommandSeconds.WithLabelValues(command).Observe(seconds)
}

// IncTick counts one work tick.
func IncTick() {
	engineTicksTotal.Inc()
}

// IncStateTransition records a playback state change.
func IncStateTransition(from, to string) {
	engineStateTransitionsTotal.WithLabelValues(normalizeLabel(from, knownStates), normalizeLabel(to, knownStates)).Inc()
}

// SetQueueLength publishes the current queue depth.
func SetQueueLength(n int) {
	engineQueueLength.Set(float64(n))
}

// IncPlaybackError records a playback error.
func IncPlaybackError(kind string, recoverable bool) {
	r := "false"
	if recoverable {
		r = "true"
	}
	engineErrorsTotal.WithLabelValues(normalizeLabel(kind, knownKinds), r).Inc()
}

// IncStuckBuffering records a watchdog trip.
func IncStuckBuffering() {
	engineStuckBufferingTotal.Inc()
}

// IncPrewarmTransition records a completed renderer hand-over.
func IncPrewarmTransition(trackType string) {
	enginePrewarmTransitionsTotal.WithLabelValues(normalizeLabel(trackType, knownTrackTypes)).Inc()
}

// IncRebuffer records a rebuffering event.
func IncRebuffer() {
	engineRebufferTotal.Inc()
}

// IncUpdateDelivery records how one snapshot update reached a subscriber.
func IncUpdateDelivery(outcome string) {
	engineUpdateDeliveryTotal.WithLabelValues(normalizeLabel(outcome, knownOutcomes)).Inc()
}

func normalizeLabel(v string, allowed map[string]struct{}) string {
	clean := strings.ToLower(strings.TrimSpace(v))
	if _, ok := allowed[clean]; ok {
		return clean
	}
	return "unknown"
}

func normalizeCommandLabel(command string) string {
	clean := strings.ToLower(strings.TrimSpace(command))
	if clean == "" || len(clean) > 48 || strings.ContainsAny(clean, " \t\n{}") {
		return "unknown"
	}
	return clean
}

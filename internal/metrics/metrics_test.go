// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getCounterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, counter.Write(metric))
	return metric.GetCounter().GetValue()
}

func getCounterVecValue(t *testing.T, counterVec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	return getCounterValue(t, counterVec.WithLabelValues(labels...))
}

func getHistogramCount(t *testing.T, obs prometheus.Observer) uint64 {
	t.Helper()
	h, ok := obs.(prometheus.Histogram)
	require.True(t, ok, "observer is not a prometheus.Histogram")
	metric := &dto.Metric{}
	require.NoError(t, h.Write(metric))
	return metric.GetHistogram().GetSampleCount()
}

func TestIncCommand_CountsAndObserves(t *testing.T) {
	before := getCounterVecValue(t, engineCommandsTotal, "seek_to")
	histBefore := getHistogramCount(t, engineCommandSeconds.WithLabelValues("seek_to"))
	IncCommand("Seek_To", 0.002)
	assert.Equal(t, before+1, getCounterVecValue(t, engineCommandsTotal, "seek_to"))
	assert.Equal(t, histBefore+1, getHistogramCount(t, engineCommandSeconds.WithLabelValues("seek_to")))
}

func TestLabelNormalization(t *testing.T) {
	before := getCounterVecValue(t, engineStateTransitionsTotal, "unknown", "ready")
	IncStateTransition("warming", "READY")
	assert.Equal(t, before+1, getCounterVecValue(t, engineStateTransitionsTotal, "unknown", "ready"))

	errBefore := getCounterVecValue(t, engineErrorsTotal, "renderer", "true")
	IncPlaybackError("renderer", true)
	assert.Equal(t, errBefore+1, getCounterVecValue(t, engineErrorsTotal, "renderer", "true"))

	assert.Equal(t, "unknown", normalizeCommandLabel("with space"))
	assert.Equal(t, "unknown", normalizeCommandLabel(""))
}

func TestIncUpdateDelivery_NormalizesOutcome(t *testing.T) {
	coalesced := getCounterVecValue(t, engineUpdateDeliveryTotal, UpdateCoalesced)
	IncUpdateDelivery(" Coalesced ")
	assert.Equal(t, coalesced+1, getCounterVecValue(t, engineUpdateDeliveryTotal, UpdateCoalesced))

	unknown := getCounterVecValue(t, engineUpdateDeliveryTotal, "unknown")
	IncUpdateDelivery("")
	assert.Equal(t, unknown+1, getCounterVecValue(t, engineUpdateDeliveryTotal, "unknown"))
}

func TestStuckAndPrewarmCounters(t *testing.T) {
	stuck := getCounterValue(t, engineStuckBufferingTotal)
	IncStuckBuffering()
	assert.Equal(t, stuck+1, getCounterValue(t, engineStuckBufferingTotal))

	pw := getCounterVecValue(t, enginePrewarmTransitionsTotal, "video")
	IncPrewarmTransition("video")
	assert.Equal(t, pw+1, getCounterVecValue(t, enginePrewarmTransitionsTotal, "video"))
}

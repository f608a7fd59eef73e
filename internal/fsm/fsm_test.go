// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fsm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type state string
type event string

func TestMachine_FireRunsActionAndMoves(t *testing.T) {
	var seen []string
	m, err := New[state, event]("idle", []Transition[state, event]{
		{From: "idle", Event: "go", To: "busy", Action: func(from, to state, _ event) error {
			seen = append(seen, string(from)+"->"+string(to))
			return nil
		}},
		{From: "busy", Event: "stop", To: "idle"},
	})
	require.NoError(t, err)

	to, err := m.Fire("go")
	require.NoError(t, err)
	assert.Equal(t, state("busy"), to)
	assert.Equal(t, []string{"idle->busy"}, seen)
	assert.True(t, m.Can("stop"))
	assert.False(t, m.Can("go"))
}

func TestMachine_UnknownEventIsError(t *testing.T) {
	m := MustNew[state, event]("idle", nil)
	_, err := m.Fire("go")
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, state("idle"), m.State())
}

func TestMachine_GuardAndActionErrorsKeepState(t *testing.T) {
	boom := errors.New("boom")
	m := MustNew[state, event]("a", []Transition[state, event]{
		{From: "a", Event: "guarded", To: "b", Guard: func(state, event) error { return boom }},
		{From: "a", Event: "failing", To: "b", Action: func(state, state, event) error { return boom }},
	})
	_, err := m.Fire("guarded")
	require.ErrorIs(t, err, boom)
	_, err = m.Fire("failing")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, state("a"), m.State())
}

func TestNew_RejectsDuplicateEdges(t *testing.T) {
	_, err := New[state, event]("a", []Transition[state, event]{
		{From: "a", Event: "x", To: "b"},
		{From: "a", Event: "x", To: "c"},
	})
	require.Error(t, err)
}

func TestMachine_Reset(t *testing.T) {
	m := MustNew[state, event]("a", []Transition[state, event]{{From: "a", Event: "x", To: "b"}})
	_, err := m.Fire("x")
	require.NoError(t, err)
	m.Reset()
	assert.Equal(t, state("a"), m.State())
}

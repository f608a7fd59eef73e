// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fsm is a small table-driven state machine.
package fsm

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned by Fire for an event the current state
// has no edge for.
var ErrInvalidTransition = errors.New("invalid transition")

// Transition describes a single edge in the FSM.
// Guard may reject the transition; Action performs side-effects.
type Transition[S ~string, E ~string] struct {
	From   S
	Event  E
	To     S
	Guard  func(from S, event E) error
	Action func(from S, to S, event E) error
}

// Machine is a small, test-friendly FSM runner.
// It is intentionally strict: unknown transitions are errors.
// A Machine is owned by one goroutine.
type Machine[S ~string, E ~string] struct {
	state   S
	initial S
	index   map[string]Transition[S, E]
}

func New[S ~string, E ~string](initial S, transitions []Transition[S, E]) (*Machine[S, E], error) {
	idx := make(map[string]Transition[S, E], len(transitions))
	for _, t := range transitions {
		k := key(t.From, t.Event)
		if _, exists := idx[k]; exists {
			return nil, fmt.Errorf("duplicate transition: %s -> %s", t.From, t.Event)
		}
		idx[k] = t
	}
	return &Machine[S, E]{state: initial, initial: initial, index: idx}, nil
}

// MustNew is New for static transition tables.
func MustNew[S ~string, E ~string](initial S, transitions []Transition[S, E]) *Machine[S, E] {
	m, err := New(initial, transitions)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Machine[S, E]) State() S {
	return m.state
}

// Can reports whether event has an edge from the current state.
func (m *Machine[S, E]) Can(event E) bool {
	_, ok := m.index[key(m.state, event)]
	return ok
}

// Fire applies an event. Guard and Action run before the state changes; an
// error from either leaves the state untouched.
func (m *Machine[S, E]) Fire(event E) (S, error) {
	from := m.state
	t, ok := m.index[key(from, event)]
	if !ok {
		return from, fmt.Errorf("%w: state=%s event=%s", ErrInvalidTransition, from, event)
	}
	if t.Guard != nil {
		if err := t.Guard(from, event); err != nil {
			return from, err
		}
	}
	if t.Action != nil {
		if err := t.Action(from, t.To, event); err != nil {
			return from, err
		}
	}
	m.state = t.To
	return t.To, nil
}

// Reset returns the machine to its initial state without running actions.
func (m *Machine[S, E]) Reset() {
	m.state = m.initial
}

func key[S ~string, E ~string](from S, event E) string {
	return string(from) + "|" + string(event)
}

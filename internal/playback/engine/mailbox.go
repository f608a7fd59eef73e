// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import "sync"

// mailbox is the unbounded multi-producer queue feeding the engine
// goroutine. Posting never blocks, so collaborator callbacks may post from
// inside engine calls.
type mailbox struct {
	mu     sync.Mutex
	items  []command
	closed bool
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

// post appends c. It returns false once the mailbox is closed.
func (m *mailbox) post(c command) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, c)
	m.mu.Unlock()
	m.wake()
	return true
}

// postFront puts c ahead of everything already queued.
func (m *mailbox) postFront(c command) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append([]command{c}, m.items...)
	m.mu.Unlock()
	m.wake()
	return true
}

func (m *mailbox) wake() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// pop removes the oldest command, if any.
func (m *mailbox) pop() (command, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) == 0 {
		return nil, false
	}
	c := m.items[0]
	m.items[0] = nil
	m.items = m.items[1:]
	return c, true
}

// close rejects further posts and returns what was still queued.
func (m *mailbox) close() []command {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	rest := m.items
	m.items = nil
	return rest
}

// len returns the number of queued commands.
func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package dispatch provides a single goroutine that runs submitted functions
// one at a time in submission order.
package dispatch

import (
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog/log"
)

// Loop is an unbounded FIFO executor. Dispatch never blocks the caller.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	notify  chan struct{}
	stopCh  chan struct{}
	stopped bool
	done    chan struct{}
}

// New starts a Loop.
func New() *Loop {
	l := &Loop{
		notify: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}

	go l.run()

	return l
}

// Dispatch queues fn. Work submitted after Stop is dropped.
func (l *Loop) Dispatch(fn func()) {
	if fn == nil {
		return
	}

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued functions not yet started.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Stop runs everything queued before it was called, then shuts the loop
// down. It waits for the loop to exit, so it must not be called from a
// dispatched function; use StopAsync there.
func (l *Loop) Stop() {
	l.StopAsync()
	<-l.done
}

// StopAsync is Stop without the wait. Watch Done to learn when the queue has
// drained.
func (l *Loop) StopAsync() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	l.mu.Unlock()

	close(l.stopCh)
}

// Done is closed after Stop has drained the queue.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) run() {
	defer close(l.done)

	for {
		select {
		case <-l.notify:
			l.drain()
		case <-l.stopCh:
			l.drain()
			return
		}
	}
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.queue = nil
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.exec(fn)
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("recover_info", r).
				Bytes("debug_stack", debug.Stack()).
				Msg("panic in dispatched function")
		}
	}()

	fn()
}

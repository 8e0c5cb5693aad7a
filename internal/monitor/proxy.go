// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package monitor

import (
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"
)

// Proxy is one consumer's view of the shared Manager. Handlers registered on
// a Proxy are invoked in the order the Manager received events, either on the
// delivering goroutine or through the Proxy's Dispatcher.
type Proxy struct {
	state   *proxyState
	cleanup runtime.Cleanup
}

// proxyState must never reference its Proxy, otherwise the cleanup that
// releases a forgotten Proxy would keep it reachable forever.
type proxyState struct {
	manager    *Manager
	release    func()
	dispatcher Dispatcher

	mu         sync.Mutex
	disposed   bool
	nextID     HandlerID
	handlers   [streamCount]listenerSet
	forwarders [streamCount]HandlerID
}

func newProxy(manager *Manager, release func(), dispatcher Dispatcher) *Proxy {
	state := &proxyState{
		manager:    manager,
		release:    release,
		dispatcher: dispatcher,
	}

	p := &Proxy{state: state}
	p.cleanup = runtime.AddCleanup(p, func(s *proxyState) {
		if s.dispose() {
			log.Warn().Msg("job monitor proxy was garbage collected without Close")
		}
	}, state)

	return p
}

// Subscribe adds h to the Proxy's handlers for stream. The first handler of
// a stream attaches this Proxy to the Manager.
func (p *Proxy) Subscribe(stream Stream, h Handler) (HandlerID, error) {
	if !stream.valid() {
		return 0, ErrInvalidStream
	}
	if h == nil {
		return 0, ErrNilHandler
	}

	s := p.state
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return 0, ErrDisposed
	}

	if s.forwarders[stream] == 0 {
		fid, err := s.manager.AddListener(stream, s.forward)
		if err != nil {
			return 0, err
		}
		s.forwarders[stream] = fid
	}

	s.nextID++
	id := s.nextID
	if s.handlers[stream] == nil {
		s.handlers[stream] = make(listenerSet)
	}
	s.handlers[stream][id] = h

	return id, nil
}

// Unsubscribe removes a handler. Removing the last handler of a stream
// detaches this Proxy from the Manager for that stream.
func (p *Proxy) Unsubscribe(stream Stream, id HandlerID) error {
	if !stream.valid() {
		return ErrInvalidStream
	}

	s := p.state
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return ErrDisposed
	}

	set := s.handlers[stream]
	if _, ok := set[id]; !ok {
		return nil
	}
	delete(set, id)

	if len(set) == 0 && s.forwarders[stream] != 0 {
		s.manager.RemoveListener(stream, s.forwarders[stream])
		s.forwarders[stream] = 0
	}

	return nil
}

// IsConnected is false once the Proxy is closed.
func (p *Proxy) IsConnected() bool {
	s := p.state
	s.mu.Lock()
	disposed := s.disposed
	s.mu.Unlock()

	return !disposed && s.manager.IsConnected()
}

func (p *Proxy) Refresh() error {
	s := p.state
	s.mu.Lock()
	disposed := s.disposed
	s.mu.Unlock()

	if disposed {
		return ErrDisposed
	}
	return s.manager.Refresh()
}

// Close detaches the Proxy and releases its reference. It never waits for
// the Manager to shut down and is safe to call from a handler.
func (p *Proxy) Close() error {
	p.cleanup.Stop()
	p.state.dispose()
	return nil
}

func (s *proxyState) forward(ev Event) {
	if s.dispatcher == nil {
		s.deliver(ev)
		return
	}
	s.dispatcher.Dispatch(func() { s.deliver(ev) })
}

func (s *proxyState) deliver(ev Event) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	handlers := s.handlers[ev.Stream].ordered()
	s.mu.Unlock()

	for _, h := range handlers {
		invokeHandler(s.manager.stats, ev, h)
	}
}

func (s *proxyState) dispose() bool {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return false
	}
	s.disposed = true
	forwarders := s.forwarders
	s.forwarders = [streamCount]HandlerID{}
	s.handlers = [streamCount]listenerSet{}
	s.mu.Unlock()

	for stream, fid := range forwarders {
		if fid != 0 {
			s.manager.RemoveListener(Stream(stream), fid)
		}
	}
	s.release()

	return true
}

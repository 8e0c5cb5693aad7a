// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tmaxmax/go-sse"

	"github.com/autobrr/jobwatch/internal/remote"
	"github.com/autobrr/jobwatch/internal/remote/wire"
)

// eventStream serves the SSE side of the hub. Every stream is its own topic,
// named after the session id the client picked.
type eventStream struct {
	hub      *Hub
	provider *sessionProvider
	server   *sse.Server
}

func newEventStream(h *Hub) *eventStream {
	e := &eventStream{
		hub:      h,
		provider: newSessionProvider(),
	}
	e.server = &sse.Server{
		Provider:  e.provider,
		OnSession: e.onSession,
	}
	return e
}

func (e *eventStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if e.hub.closing.Load() {
		http.Error(w, "hub shutting down", http.StatusServiceUnavailable)
		return
	}

	id := r.URL.Query().Get(wire.SessionQuery)
	if _, err := uuid.Parse(id); err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	s := &session{id: id, transport: "sse", sink: &sseSink{id: id, provider: e.provider}}
	if err := e.hub.register(s); err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, ErrDuplicateSess) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	defer e.hub.unregister(id)

	e.server.ServeHTTP(w, r)
}

func (e *eventStream) onSession(w http.ResponseWriter, r *http.Request) ([]string, bool) {
	if e.hub.closing.Load() {
		http.Error(w, "hub shutting down", http.StatusServiceUnavailable)
		return nil, false
	}
	return []string{r.URL.Query().Get(wire.SessionQuery)}, true
}

func (e *eventStream) shutdown(ctx context.Context) error {
	if err := e.server.Shutdown(ctx); err != nil && !errors.Is(err, sse.ErrProviderClosed) {
		return err
	}
	return nil
}

type sseSink struct {
	id       string
	provider *sessionProvider
}

func (s *sseSink) sendItems(kind remote.ChangeKind, items []remote.Item) error {
	if items == nil {
		items = []remote.Item{}
	}
	data, err := json.Marshal(wire.ItemsPayload{Kind: kind, Items: items})
	if err != nil {
		return errors.Wrap(err, "encode items event")
	}

	msg := &sse.Message{Type: sse.Type(wire.EventItems)}
	msg.AppendData(string(data))
	return s.provider.Publish(msg, []string{s.id})
}

func (s *sseSink) sendCleared() error {
	msg := &sse.Message{Type: sse.Type(wire.EventCleared)}
	msg.AppendData("{}")
	return s.provider.Publish(msg, []string{s.id})
}

// sessionProvider is a go-sse Provider with one subscriber per topic. It
// writes the ready event while registering the subscriber so that the client
// never sees anything before it.
type sessionProvider struct {
	mu     sync.Mutex
	subs   map[string]*subscriber
	closed bool
	done   chan struct{}
}

var errSubscriberGone = errors.New("event stream closed")

type subscriber struct {
	mu     sync.Mutex
	client sse.MessageWriter
	failed chan struct{}
	err    error
}

func newSessionProvider() *sessionProvider {
	return &sessionProvider{
		subs: make(map[string]*subscriber),
		done: make(chan struct{}),
	}
}

func (p *sessionProvider) Subscribe(ctx context.Context, sub sse.Subscription) error {
	if len(sub.Topics) != 1 || sub.Topics[0] == "" {
		return sse.ErrNoTopic
	}
	topic := sub.Topics[0]

	s := &subscriber{client: sub.Client, failed: make(chan struct{})}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return sse.ErrProviderClosed
	}
	p.subs[topic] = s
	s.mu.Lock()
	p.mu.Unlock()

	ready := &sse.Message{Type: sse.Type(wire.EventReady)}
	ready.AppendData(topic)
	err := s.writeLocked(ready)
	s.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.subs[topic] == s {
			delete(p.subs, topic)
		}
		p.mu.Unlock()

		// The response writer is invalid once Subscribe returns.
		s.mu.Lock()
		s.failLocked(errSubscriberGone)
		s.mu.Unlock()
	}()

	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-p.done:
	case <-s.failed:
	}
	return nil
}

func (p *sessionProvider) Publish(msg *sse.Message, topics []string) error {
	if len(topics) == 0 {
		return sse.ErrNoTopic
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return sse.ErrProviderClosed
	}
	targets := make([]*subscriber, 0, len(topics))
	for _, topic := range topics {
		if s, ok := p.subs[topic]; ok {
			targets = append(targets, s)
		}
	}
	p.mu.Unlock()

	var firstErr error
	for _, s := range targets {
		s.mu.Lock()
		err := s.writeLocked(msg)
		s.mu.Unlock()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *sessionProvider) Shutdown(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return sse.ErrProviderClosed
	}
	p.closed = true
	close(p.done)
	return nil
}

// writeLocked must be called with s.mu held.
func (s *subscriber) writeLocked(msg *sse.Message) error {
	if s.err != nil {
		return s.err
	}

	err := s.client.Send(msg)
	if err == nil {
		err = s.client.Flush()
	}
	if err != nil {
		s.failLocked(err)
	}
	return err
}

func (s *subscriber) failLocked(err error) {
	if s.err != nil {
		return
	}
	s.err = err
	close(s.failed)
}

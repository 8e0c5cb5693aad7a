// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package hub is a small in-memory job service. Producers publish item
// changes, and monitors connect over SSE or a websocket to receive them. The
// hub keeps the latest copy of each item so a refresh can be answered with a
// snapshot, but it does not persist anything.
package hub

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/autobrr/jobwatch/internal/remote"
)

var (
	ErrShuttingDown   = errors.New("hub shutting down")
	ErrUnknownSession = errors.New("unknown session")
	ErrDuplicateSess  = errors.New("session already connected")
	ErrInvalidItem    = errors.New("item id is required")
)

// sink pushes notifications to one connected monitor.
type sink interface {
	sendItems(kind remote.ChangeKind, items []remote.Item) error
	sendCleared() error
}

type session struct {
	id         string
	transport  string
	sink       sink
	subscribed atomic.Bool
}

type Hub struct {
	closing atomic.Bool

	mu       sync.RWMutex
	items    map[string]remote.Item
	sessions map[string]*session

	// pushMu keeps notifications in the same order for every session.
	pushMu    sync.Mutex
	snapshots singleflight.Group

	events  *eventStream
	sockets *socketServer
}

func New() *Hub {
	h := &Hub{
		items:    make(map[string]remote.Item),
		sessions: make(map[string]*session),
	}
	h.events = newEventStream(h)
	h.sockets = newSocketServer(h)
	return h
}

// Publish stores item and pushes it to every subscribed session.
func (h *Hub) Publish(item remote.Item) error {
	if h.closing.Load() {
		return ErrShuttingDown
	}
	if item.ID == "" {
		return ErrInvalidItem
	}

	h.pushMu.Lock()
	defer h.pushMu.Unlock()

	h.mu.Lock()
	h.items[item.ID] = item
	targets := h.subscribedLocked()
	h.mu.Unlock()

	for _, s := range targets {
		if err := s.sink.sendItems(remote.ChangeUpdate, []remote.Item{item}); err != nil {
			log.Debug().Err(err).Str("session", s.id).Msg("failed to push item update")
		}
	}

	log.Trace().Str("item", item.ID).Int("sessions", len(targets)).Msg("published item")
	return nil
}

// Clear drops all items and tells subscribed sessions.
func (h *Hub) Clear() error {
	if h.closing.Load() {
		return ErrShuttingDown
	}

	h.pushMu.Lock()
	defer h.pushMu.Unlock()

	h.mu.Lock()
	cleared := len(h.items)
	h.items = make(map[string]remote.Item)
	targets := h.subscribedLocked()
	h.mu.Unlock()

	for _, s := range targets {
		if err := s.sink.sendCleared(); err != nil {
			log.Debug().Err(err).Str("session", s.id).Msg("failed to push clear")
		}
	}

	log.Info().Int("items", cleared).Int("sessions", len(targets)).Msg("cleared items")
	return nil
}

// Items returns the current items ordered by id. Concurrent callers share
// one snapshot, so the result may miss a publish that is still in flight.
func (h *Hub) Items() []remote.Item {
	v, _, _ := h.snapshots.Do("items", func() (any, error) {
		return h.sortedItems(), nil
	})

	shared := v.([]remote.Item)
	return append([]remote.Item(nil), shared...)
}

func (h *Hub) sortedItems() []remote.Item {
	h.mu.RLock()
	items := make([]remote.Item, 0, len(h.items))
	for _, item := range h.items {
		items = append(items, item)
	}
	h.mu.RUnlock()

	slices.SortFunc(items, func(a, b remote.Item) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return items
}

// Refresh sends the full snapshot to one session, subscribed or not. The
// snapshot is taken under pushMu so it includes every update already pushed.
func (h *Hub) Refresh(sessionID string) error {
	s, err := h.session(sessionID)
	if err != nil {
		return err
	}

	h.pushMu.Lock()
	defer h.pushMu.Unlock()

	return s.sink.sendItems(remote.ChangeRefresh, h.sortedItems())
}

// SetSubscribed turns pushes for a session on or off.
func (h *Hub) SetSubscribed(sessionID string, subscribed bool) error {
	s, err := h.session(sessionID)
	if err != nil {
		return err
	}

	if s.subscribed.Swap(subscribed) != subscribed {
		log.Debug().Str("session", s.id).Bool("subscribed", subscribed).Msg("session subscription changed")
	}
	return nil
}

// Sessions returns the number of connected sessions.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// ItemCount returns the number of stored items.
func (h *Hub) ItemCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items)
}

// Subscribers returns the number of sessions receiving pushes.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribedLocked())
}

// Shutdown disconnects every session. It is safe to call more than once.
func (h *Hub) Shutdown(ctx context.Context) error {
	if !h.closing.CompareAndSwap(false, true) {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	h.sockets.shutdown()

	if err := h.events.shutdown(ctx); err != nil {
		return errors.Wrap(err, "shutdown event stream")
	}

	log.Info().Msg("hub stopped")
	return nil
}

func (h *Hub) register(s *session) error {
	if h.closing.Load() {
		return ErrShuttingDown
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.sessions[s.id]; exists {
		return ErrDuplicateSess
	}
	h.sessions[s.id] = s

	log.Debug().Str("session", s.id).Str("transport", s.transport).Msg("session connected")
	return nil
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	_, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()

	if ok {
		log.Debug().Str("session", id).Msg("session disconnected")
	}
}

func (h *Hub) session(id string) (*session, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.sessions[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownSession, "session %q", id)
	}
	return s, nil
}

func (h *Hub) subscribedLocked() []*session {
	out := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		if s.subscribed.Load() {
			out = append(out, s)
		}
	}
	return out
}

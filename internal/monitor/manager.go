// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/jobwatch/internal/remote"
)

// Manager owns the single connection to the job service. A supervisor
// goroutine opens the channel, retries while the service is away and keeps
// the server-side subscription in line with local items-changed demand.
type Manager struct {
	dialer        remote.Dialer
	retryInterval time.Duration
	stats         *Stats

	mu         sync.Mutex
	channel    remote.Channel
	conn       *connection
	subscribed bool
	listeners  [streamCount]listenerSet
	nextID     HandlerID

	wake    chan struct{}
	closing atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager starts a supervisor for dialer. A non-positive retryInterval
// selects DefaultRetryInterval.
func NewManager(dialer remote.Dialer, retryInterval time.Duration) *Manager {
	return newManager(dialer, retryInterval, &Stats{})
}

func newManager(dialer remote.Dialer, retryInterval time.Duration, stats *Stats) *Manager {
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		dialer:        dialer,
		retryInterval: retryInterval,
		stats:         stats,
		wake:          make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}

	stats.managersCreated.Add(1)
	go m.run()

	return m
}

// connection adapts channel callbacks to the manager. Callbacks from a
// channel that is not yet installed, or already replaced, are dropped.
type connection struct {
	manager *Manager
	active  atomic.Bool
}

func (c *connection) HandleItemsChanged(kind remote.ChangeKind, items []remote.Item) {
	if !c.active.Load() {
		return
	}
	c.manager.stats.eventsReceived.Add(1)
	c.manager.dispatch(Event{Stream: StreamItemsChanged, Kind: kind, Items: items})
}

func (c *connection) HandleAllCleared() {
	if !c.active.Load() {
		return
	}
	c.manager.stats.eventsReceived.Add(1)
	c.manager.dispatch(Event{Stream: StreamAllCleared})
}

func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channel != nil
}

func (m *Manager) State() State {
	if m.IsConnected() {
		return StateConnected
	}
	return StateDisconnected
}

// IsSubscribed reports whether the service currently pushes item changes.
func (m *Manager) IsSubscribed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribed
}

// AddListener registers h for stream.
func (m *Manager) AddListener(stream Stream, h Handler) (HandlerID, error) {
	if !stream.valid() {
		return 0, ErrInvalidStream
	}
	if h == nil {
		return 0, ErrNilHandler
	}

	m.mu.Lock()
	if m.closing.Load() {
		m.mu.Unlock()
		return 0, ErrDisposed
	}

	m.nextID++
	id := m.nextID
	if m.listeners[stream] == nil {
		m.listeners[stream] = make(listenerSet)
	}
	m.listeners[stream][id] = h
	first := len(m.listeners[stream]) == 1
	m.mu.Unlock()

	if first && stream == StreamItemsChanged {
		m.signal()
	}

	return id, nil
}

// RemoveListener unregisters a handler and reports whether it was present.
func (m *Manager) RemoveListener(stream Stream, id HandlerID) bool {
	if !stream.valid() {
		return false
	}

	m.mu.Lock()
	set := m.listeners[stream]
	if _, ok := set[id]; !ok {
		m.mu.Unlock()
		return false
	}
	delete(set, id)
	last := len(set) == 0
	m.mu.Unlock()

	if last && stream == StreamItemsChanged {
		m.signal()
	}

	return true
}

// Refresh asks the service to resend its current items. The request is
// sent in the background; only a missing connection is reported.
func (m *Manager) Refresh() error {
	if m.closing.Load() {
		return ErrDisposed
	}

	m.mu.Lock()
	ch := m.channel
	m.mu.Unlock()

	if ch == nil {
		return ErrNotConnected
	}

	go func() {
		if err := ch.Refresh(m.ctx); err != nil && m.ctx.Err() == nil {
			log.Warn().Err(err).Msg("job service refresh failed")
		}
	}()

	return nil
}

// Close stops the supervisor and closes the channel. Listeners are dropped
// without further callbacks. Close blocks until the supervisor has exited
// and must not be called from a listener.
func (m *Manager) Close() error {
	if !m.closing.CompareAndSwap(false, true) {
		<-m.done
		return nil
	}

	m.cancel()
	<-m.done
	m.stats.managersDisposed.Add(1)

	return nil
}

// Done is closed once the supervisor has exited.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) run() {
	defer close(m.done)
	defer m.teardown()

	timer := time.NewTimer(m.retryInterval)
	defer timer.Stop()

	// After a dropped connection the next attempt waits for the timer or a
	// wake, like any other failed attempt.
	dial := true

	for {
		if m.ctx.Err() != nil {
			return
		}

		if dial {
			m.ensureConnected()
		}
		dial = true
		m.reconcile()

		var channelDone <-chan struct{}
		m.mu.Lock()
		if m.channel != nil {
			channelDone = m.channel.Done()
		}
		m.mu.Unlock()

		timer.Reset(m.retryInterval)

		select {
		case <-m.ctx.Done():
			return
		case <-m.wake:
		case <-timer.C:
		case <-channelDone:
			m.disconnect()
			dial = false
		}
	}
}

func (m *Manager) ensureConnected() {
	m.mu.Lock()
	connected := m.channel != nil
	m.mu.Unlock()

	if connected {
		return
	}

	conn := &connection{manager: m}
	ch, err := m.dialer.Open(m.ctx, conn)
	if err != nil {
		if m.ctx.Err() != nil {
			return
		}
		if remote.IsUnavailable(err) {
			log.Debug().Err(err).Dur("retryIn", m.retryInterval).Msg("job service not reachable")
		} else {
			log.Warn().Err(err).Dur("retryIn", m.retryInterval).Msg("failed to connect to job service")
		}
		return
	}

	if m.ctx.Err() != nil {
		_ = ch.Close()
		return
	}

	m.mu.Lock()
	m.channel = ch
	m.conn = conn
	m.subscribed = false
	m.mu.Unlock()

	conn.active.Store(true)
	log.Info().Msg("connected to job service")

	m.dispatch(Event{Stream: StreamConnectivity, Connected: true})
}

func (m *Manager) disconnect() {
	m.mu.Lock()
	ch, conn := m.channel, m.conn
	m.channel, m.conn, m.subscribed = nil, nil, false
	m.mu.Unlock()

	if ch == nil {
		return
	}

	conn.active.Store(false)
	cause := ch.Err()
	_ = ch.Close()

	log.Info().Err(cause).Msg("disconnected from job service")

	m.dispatch(Event{Stream: StreamConnectivity, Connected: false})
}

// reconcile subscribes or unsubscribes so the server-side state matches
// whether anyone listens for item changes. Requests run without the lock.
func (m *Manager) reconcile() {
	m.mu.Lock()
	ch := m.channel
	want := ch != nil && len(m.listeners[StreamItemsChanged]) > 0
	have := m.subscribed
	m.mu.Unlock()

	if ch == nil || want == have {
		return
	}

	if want {
		m.stats.subscribeCalls.Add(1)
		if err := ch.Subscribe(m.ctx); err != nil {
			if m.ctx.Err() == nil {
				log.Warn().Err(err).Msg("failed to subscribe to job service")
			}
			m.setSubscribed(ch, false)
			return
		}
		m.setSubscribed(ch, true)
		log.Debug().Msg("subscribed to job service")
		return
	}

	m.stats.unsubscribeCalls.Add(1)
	if err := ch.Unsubscribe(m.ctx); err != nil && m.ctx.Err() == nil {
		log.Warn().Err(err).Msg("failed to unsubscribe from job service")
	}
	m.setSubscribed(ch, false)
	log.Debug().Msg("unsubscribed from job service")
}

func (m *Manager) setSubscribed(ch remote.Channel, subscribed bool) {
	m.mu.Lock()
	if m.channel == ch {
		m.subscribed = subscribed
	}
	m.mu.Unlock()
}

func (m *Manager) teardown() {
	m.mu.Lock()
	ch, conn := m.channel, m.conn
	m.channel, m.conn, m.subscribed = nil, nil, false
	for i := range m.listeners {
		m.listeners[i] = nil
	}
	m.mu.Unlock()

	if conn != nil {
		conn.active.Store(false)
	}
	if ch != nil {
		_ = ch.Close()
		log.Debug().Msg("closed job service connection")
	}
}

// dispatch delivers ev to a snapshot of the stream's listeners.
func (m *Manager) dispatch(ev Event) {
	m.mu.Lock()
	handlers := m.listeners[ev.Stream].ordered()
	m.mu.Unlock()

	for _, h := range handlers {
		invokeHandler(m.stats, ev, h)
	}
}

// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package monitor

import "sync/atomic"

// Stats holds counters shared by a Registry and the managers it creates.
type Stats struct {
	managersCreated  atomic.Uint64
	managersDisposed atomic.Uint64
	subscribeCalls   atomic.Uint64
	unsubscribeCalls atomic.Uint64
	eventsReceived   atomic.Uint64
	listenerPanics   atomic.Uint64
}

type StatsSnapshot struct {
	Connected        bool
	Proxies          int
	ManagersCreated  uint64
	ManagersDisposed uint64
	SubscribeCalls   uint64
	UnsubscribeCalls uint64
	EventsReceived   uint64
	ListenerPanics   uint64
}

func (s *Stats) snapshot() StatsSnapshot {
	return StatsSnapshot{
		ManagersCreated:  s.managersCreated.Load(),
		ManagersDisposed: s.managersDisposed.Load(),
		SubscribeCalls:   s.subscribeCalls.Load(),
		UnsubscribeCalls: s.unsubscribeCalls.Load(),
		EventsReceived:   s.eventsReceived.Load(),
		ListenerPanics:   s.listenerPanics.Load(),
	}
}

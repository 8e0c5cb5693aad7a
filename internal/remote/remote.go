// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package remote describes the job service as seen by the monitor: a duplex
// channel carrying subscribe, unsubscribe, refresh and publish requests one way
// and item change notifications the other way.
package remote

import (
	"context"
	"encoding/json"
)

// Item is a single work item reported by the job service. Its payload is
// opaque here; consumers decode Data themselves.
type Item struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ChangeKind tells an incremental update apart from a snapshot sent in reply
// to a refresh request.
type ChangeKind string

const (
	ChangeUpdate  ChangeKind = "update"
	ChangeRefresh ChangeKind = "refresh"
)

func (k ChangeKind) Valid() bool {
	return k == ChangeUpdate || k == ChangeRefresh
}

// Callbacks receives notifications pushed by the job service. Calls for one
// channel arrive sequentially on a goroutine owned by the transport, so
// implementations must return quickly.
type Callbacks interface {
	HandleItemsChanged(kind ChangeKind, items []Item)
	HandleAllCleared()
}

// Channel is one open connection to the job service.
type Channel interface {
	// Subscribe asks the service to start pushing change notifications.
	Subscribe(ctx context.Context) error
	// Unsubscribe stops change notifications without closing the channel.
	Unsubscribe(ctx context.Context) error
	// Refresh requests a snapshot of all items. The reply arrives as a
	// ChangeRefresh notification; no response is awaited.
	Refresh(ctx context.Context) error
	// Publish reports a changed item. Used by producers.
	Publish(ctx context.Context, item Item) error

	// Done is closed once the channel is closed or faulted.
	Done() <-chan struct{}
	// Err reports why Done was closed.
	Err() error
	// Close closes the channel. It is safe to call more than once.
	Close() error
}

// Dialer opens channels to the job service.
type Dialer interface {
	Open(ctx context.Context, callbacks Callbacks) (Channel, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, callbacks Callbacks) (Channel, error)

func (f DialerFunc) Open(ctx context.Context, callbacks Callbacks) (Channel, error) {
	return f(ctx, callbacks)
}

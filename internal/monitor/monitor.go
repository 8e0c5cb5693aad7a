// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package monitor shares a single connection to the job service among any
// number of in-process consumers.
//
// A Registry lazily creates one Manager when the first Proxy is acquired and
// tears it down in the background once the last Proxy is closed. The Manager
// keeps the connection alive, subscribes with the service only while someone
// listens for item changes, and fans notifications out to every Proxy.
package monitor

import (
	"time"

	"github.com/pkg/errors"

	"github.com/autobrr/jobwatch/internal/remote"
)

// DefaultRetryInterval is how long the supervisor waits between connection
// attempts while the job service is unreachable.
const DefaultRetryInterval = 5 * time.Second

var (
	ErrDisposed      = errors.New("monitor: already disposed")
	ErrNoDispatcher  = errors.New("monitor: dispatcher requested but none in context")
	ErrNotSupported  = errors.New("monitor: job service not supported")
	ErrNotConnected  = errors.New("monitor: not connected")
	ErrInvalidStream = errors.New("monitor: invalid stream")
	ErrNilHandler    = errors.New("monitor: nil handler")
)

// Stream selects one of the local event streams.
type Stream int

const (
	StreamConnectivity Stream = iota
	StreamItemsChanged
	StreamAllCleared

	streamCount
)

func (s Stream) String() string {
	switch s {
	case StreamConnectivity:
		return "connectivity"
	case StreamItemsChanged:
		return "items-changed"
	case StreamAllCleared:
		return "all-cleared"
	default:
		return "unknown"
	}
}

func (s Stream) valid() bool {
	return s >= 0 && s < streamCount
}

// Event is delivered to handlers. Connected is set for StreamConnectivity,
// Kind and Items for StreamItemsChanged.
type Event struct {
	Stream    Stream
	Connected bool
	Kind      remote.ChangeKind
	Items     []remote.Item
}

type Handler func(Event)

// HandlerID identifies a registered handler. Zero is never issued.
type HandlerID uint64

type State int

const (
	StateDisconnected State = iota
	StateConnected
)

func (s State) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "disconnected"
}

// Options configures a Registry.
type Options struct {
	// Transport names a transport registered with the remote package.
	Transport string
	Endpoint  remote.Endpoint
	// RetryInterval defaults to DefaultRetryInterval.
	RetryInterval time.Duration
}

// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package remote

import (
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// DefaultRequestTimeout bounds a single request sent over a channel.
const DefaultRequestTimeout = 10 * time.Second

// Endpoint locates the job service for a transport.
type Endpoint struct {
	URL            string
	RequestTimeout time.Duration
}

// Timeout returns the request timeout, falling back to DefaultRequestTimeout.
func (e Endpoint) Timeout() time.Duration {
	if e.RequestTimeout <= 0 {
		return DefaultRequestTimeout
	}
	return e.RequestTimeout
}

// Factory builds a Dialer for an endpoint. It must not contact the service.
type Factory func(endpoint Endpoint) (Dialer, error)

var (
	transportsMu sync.RWMutex
	transports   = make(map[string]Factory)
)

// Register makes a transport available by name. Transports register from
// init functions; registering the same name twice panics.
func Register(name string, factory Factory) {
	transportsMu.Lock()
	defer transportsMu.Unlock()

	if factory == nil {
		panic("remote: Register factory is nil")
	}
	if _, dup := transports[name]; dup {
		panic("remote: Register called twice for transport " + name)
	}
	transports[name] = factory
}

// Unregister removes a transport. Meant for tests.
func Unregister(name string) {
	transportsMu.Lock()
	delete(transports, name)
	transportsMu.Unlock()
}

// Transports returns the sorted names of the registered transports.
func Transports() []string {
	transportsMu.RLock()
	defer transportsMu.RUnlock()

	names := make([]string, 0, len(transports))
	for name := range transports {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Resolve looks up a transport and builds its Dialer. A name nobody registered
// yields ErrUnknownTransport.
func Resolve(name string, endpoint Endpoint) (Dialer, error) {
	transportsMu.RLock()
	factory, ok := transports[name]
	transportsMu.RUnlock()

	if !ok {
		return nil, errors.Wrapf(ErrUnknownTransport, "transport %q", name)
	}

	dialer, err := factory(endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "configure transport %q", name)
	}
	return dialer, nil
}

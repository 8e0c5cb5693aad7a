// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package monitor

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/jobwatch/internal/remote"
)

// Registry creates the shared Manager on the first Acquire and disposes it
// in the background after the last Proxy is closed.
type Registry struct {
	opts      Options
	dialer    remote.Dialer
	supported bool
	stats     Stats

	mu         sync.Mutex
	instance   *Manager
	proxyCount int

	teardown sync.WaitGroup
}

// NewRegistry resolves the configured transport once. An unknown transport
// or an endpoint the transport rejects marks the registry unsupported for
// its whole lifetime; an unreachable service does not.
func NewRegistry(opts Options) *Registry {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}

	r := &Registry{opts: opts}

	dialer, err := remote.Resolve(opts.Transport, opts.Endpoint)
	switch {
	case errors.Is(err, remote.ErrUnknownTransport):
		log.Warn().Str("transport", opts.Transport).Msg("job service transport not available, monitoring disabled")
	case err != nil:
		log.Error().Err(err).Str("transport", opts.Transport).Msg("invalid job service endpoint, monitoring disabled")
	default:
		r.dialer = dialer
		r.supported = true
	}

	return r
}

func (r *Registry) IsSupported() bool {
	return r.supported
}

// Acquire returns a new Proxy bound to the shared Manager. With
// useDispatcher set, events are delivered through the Dispatcher carried by
// ctx, and ErrNoDispatcher is returned when there is none.
func (r *Registry) Acquire(ctx context.Context, useDispatcher bool) (*Proxy, error) {
	var dispatcher Dispatcher
	if useDispatcher {
		dispatcher = DispatcherFromContext(ctx)
		if dispatcher == nil {
			return nil, ErrNoDispatcher
		}
	}

	if !r.supported {
		return nil, errors.Wrapf(ErrNotSupported, "transport %q", r.opts.Transport)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.instance == nil {
		r.instance = newManager(r.dialer, r.opts.RetryInterval, &r.stats)
		log.Debug().Str("transport", r.opts.Transport).Msg("job monitor started")
	}
	r.proxyCount++

	return newProxy(r.instance, r.release, dispatcher), nil
}

func (r *Registry) release() {
	r.mu.Lock()
	r.proxyCount--
	if r.proxyCount > 0 {
		r.mu.Unlock()
		return
	}

	m := r.instance
	r.instance = nil
	r.teardown.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.teardown.Done()
		_ = m.Close()
		log.Debug().Msg("job monitor stopped")
	}()
}

// Wait blocks until every scheduled Manager teardown has finished.
func (r *Registry) Wait() {
	r.teardown.Wait()
}

func (r *Registry) ProxyCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.proxyCount
}

func (r *Registry) Stats() StatsSnapshot {
	snap := r.stats.snapshot()

	r.mu.Lock()
	snap.Proxies = r.proxyCount
	m := r.instance
	r.mu.Unlock()

	if m != nil {
		snap.Connected = m.IsConnected()
	}
	return snap
}

// Transport returns the configured transport name.
func (r *Registry) Transport() string {
	return r.opts.Transport
}

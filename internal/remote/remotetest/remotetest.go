// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package remotetest provides an in-memory job service for tests. A Dialer
// counts every request it sees and lets tests toggle availability, inject
// faults and push notifications as if they came from the service.
package remotetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/autobrr/jobwatch/internal/remote"
)

var transportSeq atomic.Uint64

// Dialer is a fake remote.Dialer.
type Dialer struct {
	mu             sync.Mutex
	available      bool
	openErr        error
	subscribeErr   error
	unsubscribeErr error

	opens        int
	failedOpens  int
	subscribes   int
	unsubscribes int
	refreshes    int
	published    []remote.Item

	current  *Channel
	channels []*Channel
}

// NewDialer returns an available fake service.
func NewDialer() *Dialer {
	return &Dialer{available: true}
}

// Register exposes the dialer as a uniquely named transport for the duration
// of the test and returns that name.
func (d *Dialer) Register(tb testing.TB) string {
	tb.Helper()

	name := fmt.Sprintf("remotetest-%d", transportSeq.Add(1))
	remote.Register(name, func(remote.Endpoint) (remote.Dialer, error) {
		return d, nil
	})
	tb.Cleanup(func() { remote.Unregister(name) })
	return name
}

// Open implements remote.Dialer.
func (d *Dialer) Open(ctx context.Context, callbacks remote.Callbacks) (remote.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.available {
		d.failedOpens++
		if d.openErr != nil {
			return nil, d.openErr
		}
		return nil, remote.ErrUnavailable
	}

	d.opens++
	ch := &Channel{
		dialer:    d,
		callbacks: callbacks,
		done:      make(chan struct{}),
	}
	d.current = ch
	d.channels = append(d.channels, ch)
	return ch, nil
}

// SetAvailable toggles whether Open succeeds.
func (d *Dialer) SetAvailable(available bool) {
	d.mu.Lock()
	d.available = available
	d.mu.Unlock()
}

// FailOpen makes Open fail with err while the service is unavailable.
// A nil err restores the default remote.ErrUnavailable.
func (d *Dialer) FailOpen(err error) {
	d.mu.Lock()
	d.openErr = err
	d.mu.Unlock()
}

// FailSubscribe makes Subscribe return err until called again with nil.
func (d *Dialer) FailSubscribe(err error) {
	d.mu.Lock()
	d.subscribeErr = err
	d.mu.Unlock()
}

// FailUnsubscribe makes Unsubscribe return err until called again with nil.
func (d *Dialer) FailUnsubscribe(err error) {
	d.mu.Lock()
	d.unsubscribeErr = err
	d.mu.Unlock()
}

func (d *Dialer) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

func (d *Dialer) FailedOpens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failedOpens
}

func (d *Dialer) Subscribes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.subscribes
}

func (d *Dialer) Unsubscribes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unsubscribes
}

func (d *Dialer) Refreshes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.refreshes
}

// Published returns a copy of every item published through the service.
func (d *Dialer) Published() []remote.Item {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]remote.Item(nil), d.published...)
}

// Current returns the most recently opened channel, or nil.
func (d *Dialer) Current() *Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Channels returns every channel opened so far.
func (d *Dialer) Channels() []*Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Channel(nil), d.channels...)
}

// Channel is a fake remote.Channel.
type Channel struct {
	dialer    *Dialer
	callbacks remote.Callbacks

	mu         sync.Mutex
	subscribed bool
	closed     bool
	err        error
	done       chan struct{}
}

func (c *Channel) Subscribe(ctx context.Context) error {
	if err := c.check(ctx); err != nil {
		return err
	}

	c.dialer.mu.Lock()
	c.dialer.subscribes++
	err := c.dialer.subscribeErr
	c.dialer.mu.Unlock()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.subscribed = true
	c.mu.Unlock()
	return nil
}

func (c *Channel) Unsubscribe(ctx context.Context) error {
	if err := c.check(ctx); err != nil {
		return err
	}

	c.dialer.mu.Lock()
	c.dialer.unsubscribes++
	err := c.dialer.unsubscribeErr
	c.dialer.mu.Unlock()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.subscribed = false
	c.mu.Unlock()
	return nil
}

func (c *Channel) Refresh(ctx context.Context) error {
	if err := c.check(ctx); err != nil {
		return err
	}

	c.dialer.mu.Lock()
	c.dialer.refreshes++
	c.dialer.mu.Unlock()
	return nil
}

func (c *Channel) Publish(ctx context.Context, item remote.Item) error {
	if err := c.check(ctx); err != nil {
		return err
	}

	c.dialer.mu.Lock()
	c.dialer.published = append(c.dialer.published, item)
	c.dialer.mu.Unlock()
	return nil
}

func (c *Channel) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return remote.ErrClosed
	}
	return nil
}

// Subscribed reports whether the service currently pushes to this channel.
func (c *Channel) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed && !c.closed
}

// EmitItems pushes an items-changed notification on the calling goroutine.
func (c *Channel) EmitItems(kind remote.ChangeKind, items ...remote.Item) {
	c.callbacks.HandleItemsChanged(kind, items)
}

// EmitCleared pushes an all-cleared notification on the calling goroutine.
func (c *Channel) EmitCleared() {
	c.callbacks.HandleAllCleared()
}

// Fault closes the channel from the service side, as a crash or restart would.
func (c *Channel) Fault(err error) {
	c.finish(err)
}

func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Channel) Close() error {
	c.finish(remote.ErrClosed)
	return nil
}

// Closed reports whether the channel was closed or faulted.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) finish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.subscribed = false
	c.err = err
	close(c.done)
}

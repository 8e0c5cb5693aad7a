// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package monitor

import "context"

// Dispatcher runs fn on an execution context chosen by the consumer, such as
// a UI loop. Implementations must run submitted functions in order.
type Dispatcher interface {
	Dispatch(fn func())
}

type DispatcherFunc func(fn func())

func (f DispatcherFunc) Dispatch(fn func()) {
	f(fn)
}

type contextKey string

const dispatcherKey contextKey = "jobwatch_dispatcher"

// WithDispatcher makes d the ambient dispatcher for Registry.Acquire calls
// made with the returned context.
func WithDispatcher(ctx context.Context, d Dispatcher) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, dispatcherKey, d)
}

// DispatcherFromContext returns the ambient dispatcher, or nil.
func DispatcherFromContext(ctx context.Context) Dispatcher {
	if ctx == nil {
		return nil
	}
	d, _ := ctx.Value(dispatcherKey).(Dispatcher)
	return d
}

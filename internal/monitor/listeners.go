// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package monitor

import (
	"maps"
	"runtime/debug"
	"slices"

	"github.com/rs/zerolog/log"
)

type listenerSet map[HandlerID]Handler

// ordered returns the handlers in registration order.
func (s listenerSet) ordered() []Handler {
	if len(s) == 0 {
		return nil
	}

	ids := slices.Sorted(maps.Keys(s))
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, s[id])
	}
	return handlers
}

// invokeHandler runs h and contains any panic so the remaining handlers and
// the caller's goroutine are unaffected.
func invokeHandler(stats *Stats, ev Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			stats.listenerPanics.Add(1)
			log.Error().
				Str("stream", ev.Stream.String()).
				Interface("recover_info", r).
				Bytes("debug_stack", debug.Stack()).
				Msg("panic in job monitor listener")
		}
	}()

	h(ev)
}

// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package wire holds the message shapes shared by the hub and the client
// transports.
package wire

import (
	"github.com/autobrr/jobwatch/internal/remote"
)

// Server-sent event types.
const (
	EventReady   = "ready"
	EventItems   = "items"
	EventCleared = "cleared"
)

// HTTP routes, relative to the service base URL.
const (
	PathEvents    = "/api/events"
	PathSocket    = "/api/ws"
	PathItems     = "/api/items"
	PathSessions  = "/api/sessions"
	SessionQuery  = "session"
	ActionSub     = "subscribe"
	ActionUnsub   = "unsubscribe"
	ActionRefresh = "refresh"
)

// SessionPath returns the command route for a session, e.g.
// /api/sessions/<id>/subscribe.
func SessionPath(session, action string) string {
	return PathSessions + "/" + session + "/" + action
}

// ItemsPayload is the data of an EventItems event.
type ItemsPayload struct {
	Kind  remote.ChangeKind `json:"kind"`
	Items []remote.Item     `json:"items"`
}

// Websocket commands.
const (
	CmdSubscribe   = "subscribe"
	CmdUnsubscribe = "unsubscribe"
	CmdRefresh     = "refresh"
	CmdPublish     = "publish"
)

// Command is sent by clients over the websocket. An ID of zero means no
// response is expected.
type Command struct {
	ID   int64        `json:"id,omitempty"`
	Cmd  string       `json:"cmd"`
	Item *remote.Item `json:"item,omitempty"`
}

// Websocket frame types.
const (
	FrameResponse = "response"
	FrameItems    = "items"
	FrameCleared  = "cleared"
)

// Frame is sent by the hub over the websocket: either a command response or a
// pushed notification.
type Frame struct {
	Type  string            `json:"type"`
	ID    int64             `json:"id,omitempty"`
	Error string            `json:"error,omitempty"`
	Kind  remote.ChangeKind `json:"kind,omitempty"`
	Items []remote.Item     `json:"items,omitempty"`
}

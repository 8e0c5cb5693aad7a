// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package hub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/jobwatch/internal/remote"
	"github.com/autobrr/jobwatch/internal/remote/wire"
)

const socketWriteTimeout = 10 * time.Second

// socketServer serves the websocket side of the hub.
type socketServer struct {
	hub      *Hub
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*socketSink]struct{}
}

func newSocketServer(h *Hub) *socketServer {
	return &socketServer{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[*socketSink]struct{}),
	}
}

func (ss *socketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if ss.hub.closing.Load() {
		http.Error(w, "hub shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := ss.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	sink := &socketSink{conn: conn}
	s := &session{id: uuid.NewString(), transport: "ws", sink: sink}

	ss.mu.Lock()
	ss.conns[sink] = struct{}{}
	ss.mu.Unlock()

	defer func() {
		ss.mu.Lock()
		delete(ss.conns, sink)
		ss.mu.Unlock()
		_ = conn.Close()
	}()

	if err := ss.hub.register(s); err != nil {
		sink.close(websocket.CloseTryAgainLater, err.Error())
		return
	}
	defer ss.hub.unregister(s.id)

	ss.serve(s, sink)
}

func (ss *socketServer) serve(s *session, sink *socketSink) {
	for {
		_, data, err := sink.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("session", s.id).Msg("websocket read failed")
			}
			return
		}

		var cmd wire.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Debug().Err(err).Str("session", s.id).Msg("discarding malformed command")
			continue
		}

		err = ss.handle(s, cmd)
		if cmd.ID == 0 {
			if err != nil {
				log.Debug().Err(err).Str("session", s.id).Str("cmd", cmd.Cmd).Msg("command failed")
			}
			continue
		}

		frame := wire.Frame{Type: wire.FrameResponse, ID: cmd.ID}
		if err != nil {
			frame.Error = err.Error()
		}
		if err := sink.write(frame); err != nil {
			return
		}
	}
}

func (ss *socketServer) handle(s *session, cmd wire.Command) error {
	switch cmd.Cmd {
	case wire.CmdSubscribe:
		return ss.hub.SetSubscribed(s.id, true)
	case wire.CmdUnsubscribe:
		return ss.hub.SetSubscribed(s.id, false)
	case wire.CmdRefresh:
		return ss.hub.Refresh(s.id)
	case wire.CmdPublish:
		if cmd.Item == nil {
			return ErrInvalidItem
		}
		return ss.hub.Publish(*cmd.Item)
	default:
		return errors.Errorf("unknown command %q", cmd.Cmd)
	}
}

func (ss *socketServer) shutdown() {
	ss.mu.Lock()
	sinks := make([]*socketSink, 0, len(ss.conns))
	for sink := range ss.conns {
		sinks = append(sinks, sink)
	}
	ss.mu.Unlock()

	for _, sink := range sinks {
		sink.close(websocket.CloseGoingAway, "hub shutting down")
	}
}

type socketSink struct {
	writeMu sync.Mutex
	conn    *websocket.Conn
}

func (s *socketSink) sendItems(kind remote.ChangeKind, items []remote.Item) error {
	if items == nil {
		items = []remote.Item{}
	}
	return s.write(wire.Frame{Type: wire.FrameItems, Kind: kind, Items: items})
}

func (s *socketSink) sendCleared() error {
	return s.write(wire.Frame{Type: wire.FrameCleared})
}

func (s *socketSink) write(frame wire.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
	return s.conn.WriteJSON(frame)
}

func (s *socketSink) close(code int, reason string) {
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)
	_ = s.conn.Close()
}
